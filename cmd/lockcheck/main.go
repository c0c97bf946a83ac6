// Command lockcheck is a go/analysis pass over this module's own
// source: it flags a function that locks a mutex via the
// "mu.Lock(); defer mu.Unlock()" idiom and also calls
// executor.Yielder.YieldNow or executor.Sleep somewhere in its body.
// Holding a lock across a suspension point lets another task observe
// kernel state while the lock's owner has parked mid-poll, which the
// cooperative scheduler's single-hart-at-a-time assumption depends on
// never happening.
package main

import (
	"go/ast"

	"golang.org/x/tools/go/analysis"
	"golang.org/x/tools/go/analysis/passes/inspect"
	"golang.org/x/tools/go/analysis/singlechecker"
	"golang.org/x/tools/go/ast/inspector"
)

var Analyzer = &analysis.Analyzer{
	Name:     "lockcheck",
	Doc:      "flags a mutex held via defer Unlock across a call to executor.Yielder.YieldNow or executor.Sleep",
	Requires: []*analysis.Analyzer{inspect.Analyzer},
	Run:      run,
}

func main() {
	singlechecker.Main(Analyzer)
}

// exprString renders the small subset of expressions lockcheck needs to
// compare a Lock receiver against the matching Unlock receiver: plain
// identifiers and selector chains (mu, t.mu, p.lk.mu). Anything else
// returns "" and is treated as non-matchable rather than misattributed.
func exprString(e ast.Expr) string {
	switch v := e.(type) {
	case *ast.Ident:
		return v.Name
	case *ast.SelectorExpr:
		base := exprString(v.X)
		if base == "" {
			return ""
		}
		return base + "." + v.Sel.Name
	case *ast.StarExpr:
		return exprString(v.X)
	case *ast.ParenExpr:
		return exprString(v.X)
	default:
		return ""
	}
}

// calledMethod reports the receiver expression and method name of a
// "recv.Method(...)" call, or ("", "", false) for anything else.
func calledMethod(call *ast.CallExpr) (recv, method string, ok bool) {
	sel, isSel := call.Fun.(*ast.SelectorExpr)
	if !isSel {
		return "", "", false
	}
	recv = exprString(sel.X)
	if recv == "" {
		return "", "", false
	}
	return recv, sel.Sel.Name, true
}

// isYieldOrSleep reports whether call suspends the calling task: either
// a "y.YieldNow()" method call on any receiver, or a direct
// "executor.Sleep(...)" package-level call.
func isYieldOrSleep(call *ast.CallExpr) bool {
	if _, method, ok := calledMethod(call); ok && method == "YieldNow" {
		return true
	}
	if sel, isSel := call.Fun.(*ast.SelectorExpr); isSel {
		if pkg, isIdent := sel.X.(*ast.Ident); isIdent && pkg.Name == "executor" && sel.Sel.Name == "Sleep" {
			return true
		}
	}
	return false
}

func run(pass *analysis.Pass) (any, error) {
	insp := pass.ResultOf[inspect.Analyzer].(*inspector.Inspector)
	nodeFilter := []ast.Node{(*ast.FuncDecl)(nil), (*ast.FuncLit)(nil)}
	insp.Preorder(nodeFilter, func(n ast.Node) {
		var body *ast.BlockStmt
		switch f := n.(type) {
		case *ast.FuncDecl:
			body = f.Body
		case *ast.FuncLit:
			body = f.Body
		}
		if body == nil {
			return
		}
		checkBody(pass, body)
	})
	return nil, nil
}

// checkBody looks for a top-level "defer recv.Unlock()" in body, then
// scans the rest of body's statements (not descending into nested
// FuncLits, which get their own top-level check) for a suspension call.
func checkBody(pass *analysis.Pass, body *ast.BlockStmt) {
	locked := map[string]ast.Node{}
	for _, stmt := range body.List {
		def, ok := stmt.(*ast.DeferStmt)
		if !ok {
			continue
		}
		recv, method, ok := calledMethod(def.Call)
		if ok && method == "Unlock" {
			locked[recv] = def
		}
	}
	if len(locked) == 0 {
		return
	}

	ast.Inspect(body, func(n ast.Node) bool {
		if _, isLit := n.(*ast.FuncLit); isLit {
			return false
		}
		call, ok := n.(*ast.CallExpr)
		if !ok {
			return true
		}
		if isYieldOrSleep(call) {
			for recv, lockNode := range locked {
				pass.Reportf(call.Pos(), "suspension point while %s is held (locked via defer at %s)",
					recv, pass.Fset.Position(lockNode.Pos()))
			}
		}
		return true
	})
}
