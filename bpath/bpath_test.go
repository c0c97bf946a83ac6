package bpath

import (
	"testing"

	"rvkernel/ustr"
)

func TestCanonicalizeCollapsesDotAndDotDot(t *testing.T) {
	cases := map[string]string{
		"/a/b/c":       "/a/b/c",
		"/a/./b":       "/a/b",
		"/a/b/../c":    "/a/c",
		"/a//b///c":    "/a/b/c",
		"/../a":        "/a",
		"/a/b/..":      "/a",
		"/":            "/",
		"/./":          "/",
		"/a/../../b":   "/b",
	}
	for in, want := range cases {
		got := Canonicalize(ustr.Ustr(in)).String()
		if got != want {
			t.Errorf("Canonicalize(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDirnameBasename(t *testing.T) {
	p := ustr.Ustr("/a/b/c.txt")
	if got := Dirname(p).String(); got != "/a/b" {
		t.Errorf("Dirname = %q, want /a/b", got)
	}
	if got := Basename(p).String(); got != "c.txt" {
		t.Errorf("Basename = %q, want c.txt", got)
	}
}

func TestCanonicalizePanicsOnRelative(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on relative path")
		}
	}()
	Canonicalize(ustr.Ustr("a/b"))
}
