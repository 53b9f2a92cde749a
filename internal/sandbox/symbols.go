package sandbox

import (
	"path"
	"reflect"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"

	"vizguard/internal/chart"
	"vizguard/internal/security"
)

// Symbols returns the symbol table loaded into each interpreter.
func Symbols() interp.Exports {
	out := interp.Exports{}
	for _, pkg := range security.AllowedStdlib {
		key := pkg + "/" + path.Base(pkg)
		if syms, ok := stdlib.Symbols[key]; ok {
			out[key] = syms
		}
	}
	out[security.ChartImportPath+"/chart"] = map[string]reflect.Value{
		"Figure":    reflect.ValueOf((*chart.Figure)(nil)),
		"Frame":     reflect.ValueOf((*chart.Frame)(nil)),
		"Series":    reflect.ValueOf((*chart.Series)(nil)),
		"NewFigure": reflect.ValueOf(chart.NewFigure),
		"GroupBy":   reflect.ValueOf(chart.GroupBy),
		"Sum":       reflect.ValueOf(chart.Sum),
		"Mean":      reflect.ValueOf(chart.Mean),
		"Median":    reflect.ValueOf(chart.Median),
		"SortKeys":  reflect.ValueOf(chart.SortKeys),
	}
	return out
}
