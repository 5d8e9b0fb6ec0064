package telemetry

import (
	"go/ast"
	"go/parser"
	"go/token"
	"strings"
	"testing"
)

// Exported API of the shared support packages stays documented.
func TestExportedAPIDocumented(t *testing.T) {
	for _, dir := range []string{".", "../fabric", "../fabric/fabrictest", "../blobstore", "../../pkg/api"} {
		pkgs, err := parser.ParseDir(token.NewFileSet(), dir, nil, parser.ParseComments)
		if err != nil {
			t.Fatalf("parse %s: %v", dir, err)
		}
		for name, pkg := range pkgs {
			if strings.HasSuffix(name, "_test") {
				continue
			}
			hasPkgDoc := false
			for fname, f := range pkg.Files {
				if strings.HasSuffix(fname, "_test.go") {
					continue
				}
				if f.Doc != nil {
					hasPkgDoc = true
				}
				for _, decl := range f.Decls {
					switch d := decl.(type) {
					case *ast.FuncDecl:
						if d.Name.IsExported() && d.Doc == nil && exportedRecv(d) {
							t.Errorf("%s: %s has no doc comment", dir, d.Name.Name)
						}
					case *ast.GenDecl:
						if d.Tok != token.TYPE {
							continue
						}
						for _, spec := range d.Specs {
							ts := spec.(*ast.TypeSpec)
							if ts.Name.IsExported() && d.Doc == nil && ts.Doc == nil {
								t.Errorf("%s: type %s has no doc comment", dir, ts.Name.Name)
							}
						}
					}
				}
			}
			if !hasPkgDoc {
				t.Errorf("%s: package %s has no package comment", dir, name)
			}
		}
	}
}

// exportedRecv reports whether d is a plain function or a method on an
// exported type.
func exportedRecv(d *ast.FuncDecl) bool {
	if d.Recv == nil || len(d.Recv.List) == 0 {
		return true
	}
	typ := d.Recv.List[0].Type
	if star, ok := typ.(*ast.StarExpr); ok {
		typ = star.X
	}
	id, ok := typ.(*ast.Ident)
	return ok && id.IsExported()
}
