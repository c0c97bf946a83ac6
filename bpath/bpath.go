// Package bpath canonicalizes VFS paths: collapsing "." and ".."
// components and duplicate slashes into the absolute, normal form the
// dentry-cache path-resolution walk expects (spec §4.7). The teacher's
// own bpath package was never populated beyond its go.mod in the
// retrieval pack, so this is authored fresh against ustr.Ustr's path
// helpers (Extend, IsAbsolute, Isdot, Isdotdot) rather than adapted.
package bpath

import "rvkernel/ustr"

// Canonicalize rewrites p into an absolute path with no "." components,
// no ".." components left unresolved, and no repeated or trailing
// slashes (other than the root itself). p must already be absolute.
func Canonicalize(p ustr.Ustr) ustr.Ustr {
	if !p.IsAbsolute() {
		panic("bpath.Canonicalize requires an absolute path")
	}
	var stack []ustr.Ustr
	for _, comp := range Split(p) {
		switch {
		case len(comp) == 0:
			continue
		case ustr.Ustr(comp).Isdot():
			continue
		case ustr.Ustr(comp).Isdotdot():
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, ustr.Ustr(comp))
		}
	}
	out := ustr.MkUstrRoot()
	for i, comp := range stack {
		if i == 0 {
			out = append(ustr.Ustr{}, comp...)
			out = append(ustr.Ustr{'/'}, out...)
		} else {
			out = out.Extend(comp)
		}
	}
	if len(stack) == 0 {
		return ustr.MkUstrRoot()
	}
	return out
}

// Split breaks p into its '/'-delimited components, dropping empty
// components produced by leading/repeated/trailing slashes.
func Split(p ustr.Ustr) []ustr.Ustr {
	var comps []ustr.Ustr
	start := 0
	for i := 0; i <= len(p); i++ {
		if i == len(p) || p[i] == '/' {
			if i > start {
				comps = append(comps, p[start:i])
			}
			start = i + 1
		}
	}
	return comps
}

// Dirname returns the parent directory path of p ("/" if p names a
// top-level entry), and Basename returns the final component.
func Dirname(p ustr.Ustr) ustr.Ustr {
	comps := Split(Canonicalize(p))
	if len(comps) <= 1 {
		return ustr.MkUstrRoot()
	}
	out := ustr.MkUstrRoot()
	for i, c := range comps[:len(comps)-1] {
		if i == 0 {
			out = append(ustr.Ustr{'/'}, c...)
		} else {
			out = out.Extend(c)
		}
	}
	return out
}

// Basename returns the last path component of p.
func Basename(p ustr.Ustr) ustr.Ustr {
	comps := Split(Canonicalize(p))
	if len(comps) == 0 {
		return ustr.MkUstrRoot()
	}
	return comps[len(comps)-1]
}
