package proposal

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strconv"
	"strings"

	"vizguard/internal/types"
)

// frameAccessors are the chart.Frame methods that take a column name.
var frameAccessors = map[string]bool{
	"Numbers": true,
	"Strings": true,
	"Column":  true,
}

// ValidateSnippet is the referential check for code candidates: every
// string literal passed to a Frame column accessor must name a column in the
// catalogue. Shape and capability checks belong to the security filter.
func (v *Validator) ValidateSnippet(c *types.Candidate, cat Catalogue) []types.ValidationError {
	var col collector
	if c == nil || c.Kind != types.CandidateCode {
		col.add("", types.KindTypeMismatch, "expected a Go code candidate")
		return col.errs
	}

	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "snippet.go", c.Source, 0)
	if err != nil {
		col.add("", types.KindUnparseable, "Go snippet does not parse: %v", err)
		return col.errs
	}

	ast.Inspect(file, func(n ast.Node) bool {
		call, ok := n.(*ast.CallExpr)
		if !ok || len(call.Args) == 0 {
			return true
		}
		sel, ok := call.Fun.(*ast.SelectorExpr)
		if !ok || !frameAccessors[sel.Sel.Name] {
			return true
		}
		lit, ok := call.Args[0].(*ast.BasicLit)
		if !ok || lit.Kind != token.STRING {
			return true
		}
		name, err := strconv.Unquote(lit.Value)
		if err != nil {
			return true
		}
		if _, found := cat.Column(name); !found {
			pos := fset.Position(lit.Pos())
			col.add(fmt.Sprintf("snippet:%d:%d", pos.Line, pos.Column), types.KindUnknownColumn,
				"%s(%q): column does not exist; available columns: %s",
				sel.Sel.Name, name, strings.Join(cat.ColumnNames(), ", "))
		}
		return true
	})

	types.SortValidationErrors(col.errs)
	return col.errs
}
