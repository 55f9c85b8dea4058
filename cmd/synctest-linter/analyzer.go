package main

import (
	"go/ast"
	"go/token"
	"path"
	"strconv"
	"strings"

	"golang.org/x/tools/go/analysis"
)

const synctestPath = "testing/synctest"

// Analyzer reports time.Sleep calls in tests that run on the real clock.
var Analyzer = &analysis.Analyzer{
	Name: "synctest",
	Doc: "reports time.Sleep in _test.go files outside a synctest.Test or synctest.Run bubble; " +
		"real sleeps make janitor, breaker and backoff tests slow and flaky",
	Run: run,
}

func run(pass *analysis.Pass) (any, error) {
	for _, file := range pass.Files {
		if !strings.HasSuffix(pass.Fset.Position(file.Pos()).Filename, "_test.go") {
			continue
		}
		for _, call := range unsyncedSleeps(file) {
			pass.Report(analysis.Diagnostic{
				Pos:      call.Pos(),
				Category: "synctest",
				Message:  "time.Sleep outside a synctest bubble; wrap the test body in synctest.Test",
			})
		}
	}
	return nil, nil
}

// unsyncedSleeps returns the time.Sleep calls in file that are not lexically
// inside a function literal passed to synctest.Test or synctest.Run.
func unsyncedSleeps(file *ast.File) []*ast.CallExpr {
	timeName := localName(file, "time")
	if timeName == "" {
		return nil
	}
	syncName := localName(file, synctestPath)

	var bubbles [][2]token.Pos
	if syncName != "" {
		ast.Inspect(file, func(n ast.Node) bool {
			call, ok := n.(*ast.CallExpr)
			if !ok || !isSelector(call.Fun, syncName, "Test", "Run") {
				return true
			}
			for _, arg := range call.Args {
				if lit, ok := arg.(*ast.FuncLit); ok {
					bubbles = append(bubbles, [2]token.Pos{lit.Pos(), lit.End()})
				}
			}
			return true
		})
	}

	var found []*ast.CallExpr
	ast.Inspect(file, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok || !isSelector(call.Fun, timeName, "Sleep") {
			return true
		}
		for _, b := range bubbles {
			if call.Pos() >= b[0] && call.End() <= b[1] {
				return true
			}
		}
		found = append(found, call)
		return true
	})
	return found
}

// localName is the identifier file uses for the package at importPath, or
// "" when the file does not import it.
func localName(file *ast.File, importPath string) string {
	for _, imp := range file.Imports {
		p, err := strconv.Unquote(imp.Path.Value)
		if err != nil || p != importPath {
			continue
		}
		if imp.Name != nil {
			if imp.Name.Name == "_" || imp.Name.Name == "." {
				return ""
			}
			return imp.Name.Name
		}
		return path.Base(p)
	}
	return ""
}

func isSelector(expr ast.Expr, pkg string, names ...string) bool {
	sel, ok := expr.(*ast.SelectorExpr)
	if !ok {
		return false
	}
	ident, ok := sel.X.(*ast.Ident)
	if !ok || ident.Name != pkg {
		return false
	}
	for _, name := range names {
		if sel.Sel.Name == name {
			return true
		}
	}
	return false
}
