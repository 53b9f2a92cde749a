package security

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"strings"

	"vizguard/internal/mangle"
)

// astFactEmitter lowers a parsed snippet into policy facts and remembers
// where each construct first appears.
type astFactEmitter struct {
	fset    *token.FileSet
	aliases map[string]string // local import name -> import path
	facts   []mangle.Fact
	seen    map[string]bool
	lines   map[string]int // construct -> first line
}

// extractFacts parses source and emits its structural facts.
func extractFacts(source string) (*astFactEmitter, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "snippet.go", source, parser.ParseComments)
	if err != nil {
		return nil, err
	}

	e := &astFactEmitter{
		fset:    fset,
		aliases: make(map[string]string),
		seen:    make(map[string]bool),
		lines:   make(map[string]int),
	}
	e.emit("ast_package", file.Name.Pos(), file.Name.Name)
	e.emitImports(file)
	e.emitDirectives(file)
	e.emitDecls(file)
	ast.Walk(&astFactVisitor{emitter: e}, file)
	return e, nil
}

func (e *astFactEmitter) emit(pred string, pos token.Pos, args ...string) {
	key := pred + "\x00" + strings.Join(args, "\x00")
	if e.seen[key] {
		return
	}
	e.seen[key] = true

	vals := make([]interface{}, len(args))
	for i, a := range args {
		vals[i] = a
	}
	e.facts = append(e.facts, mangle.Fact{Predicate: pred, Args: vals})

	construct := args[0]
	if _, ok := e.lines[construct]; !ok && pos.IsValid() {
		e.lines[construct] = e.fset.Position(pos).Line
	}
}

func (e *astFactEmitter) emitImports(file *ast.File) {
	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		e.emit("ast_import", imp.Pos(), path)

		root := path
		if i := strings.IndexByte(path, '/'); i != -1 {
			root = path[:i]
		}
		e.emit("ast_import_root", imp.Pos(), path, root)
		if strings.Contains(root, ".") {
			e.emit("ast_import_external", imp.Pos(), path)
		}

		local := path[strings.LastIndexByte(path, '/')+1:]
		if imp.Name != nil {
			local = imp.Name.Name
		}
		e.aliases[local] = path
	}
}

// emitDirectives reports compiler directives and cgo preambles.
func (e *astFactEmitter) emitDirectives(file *ast.File) {
	for _, group := range file.Comments {
		for _, c := range group.List {
			text := strings.TrimSpace(c.Text)
			if strings.HasPrefix(text, "//go:") || strings.HasPrefix(text, "//export ") || strings.Contains(text, "#cgo") {
				// Leading slashes would read as a name constant.
				body := strings.TrimSuffix(strings.TrimLeft(text, "/*"), "*/")
				e.emit("ast_directive", c.Pos(), strings.TrimSpace(body))
			}
		}
	}
}

// emitDecls records top-level functions and checks the Render entrypoint.
func (e *astFactEmitter) emitDecls(file *ast.File) {
	var render *ast.FuncDecl
	for _, decl := range file.Decls {
		fn, ok := decl.(*ast.FuncDecl)
		if !ok || fn.Recv != nil {
			continue
		}
		e.emit("ast_func", fn.Pos(), fn.Name.Name)
		if fn.Name.Name == "Render" {
			render = fn
		}
	}

	if render == nil {
		e.emit("ast_missing_entrypoint", file.Package, EntrypointSignature)
		return
	}
	params := render.Type.Params.NumFields()
	results := 0
	if render.Type.Results != nil {
		results = render.Type.Results.NumFields()
	}
	if params != 1 || results != 2 {
		e.emit("ast_bad_entrypoint", render.Pos(),
			fmt.Sprintf("Render has %d parameters and %d results; want %s", params, results, EntrypointSignature))
	}
}

// callee resolves a call target to "importpath.Name" for package-qualified
// calls, or the bare identifier otherwise.
func (e *astFactEmitter) callee(fun ast.Expr) (qualified, name string) {
	switch f := fun.(type) {
	case *ast.Ident:
		return f.Name, f.Name
	case *ast.SelectorExpr:
		if x, ok := f.X.(*ast.Ident); ok {
			if path, imported := e.aliases[x.Name]; imported {
				return path + "." + f.Sel.Name, f.Sel.Name
			}
		}
		return "", f.Sel.Name
	case *ast.IndexExpr:
		return e.callee(f.X)
	}
	return "", ""
}

type astFactVisitor struct {
	emitter *astFactEmitter
}

func (v *astFactVisitor) Visit(node ast.Node) ast.Visitor {
	if node == nil {
		return nil
	}
	switch n := node.(type) {
	case *ast.CallExpr:
		qualified, name := v.emitter.callee(n.Fun)
		if qualified != "" {
			v.emitter.emit("ast_call", n.Pos(), qualified)
		}
		if name != "" {
			v.emitter.emit("ast_call_name", n.Pos(), name)
		}
	case *ast.GoStmt:
		pos := v.emitter.fset.Position(n.Go)
		v.emitter.emit("ast_goroutine", n.Go, fmt.Sprintf("go statement at %d:%d", pos.Line, pos.Column))
	}
	return v
}
