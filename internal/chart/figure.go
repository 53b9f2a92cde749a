// Package chart is the figure model and the API chart snippets program
// against. The sandbox worker exposes Frame, Figure and the helpers below to
// interpreted code under the import path vizguard/chart, and uses Build to
// interpret declarative proposals into the same Figure model.
package chart

import (
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// Series is one named sequence of points. X and Y always have equal length.
type Series struct {
	Name string    `json:"name"`
	X    []string  `json:"x"`
	Y    []float64 `json:"y"`
}

// Figure is the artifact a successful execution produces.
type Figure struct {
	ID     string   `json:"id"`
	Kind   string   `json:"kind"`
	Title  string   `json:"title,omitempty"`
	XLabel string   `json:"x_label,omitempty"`
	YLabel string   `json:"y_label,omitempty"`
	Series []Series `json:"series"`
}

// NewFigure returns an empty figure with a fresh artifact ID.
func NewFigure(kind, title string) *Figure {
	return &Figure{ID: uuid.NewString(), Kind: kind, Title: title}
}

// AddSeries appends a series. x and y must have the same length.
func (f *Figure) AddSeries(name string, x []string, y []float64) error {
	if len(x) != len(y) {
		return errors.Newf("series %q: %d x values but %d y values", name, len(x), len(y))
	}
	f.Series = append(f.Series, Series{
		Name: name,
		X:    append([]string(nil), x...),
		Y:    append([]float64(nil), y...),
	})
	return nil
}

// SetLabels sets both axis labels.
func (f *Figure) SetLabels(x, y string) {
	f.XLabel, f.YLabel = x, y
}

// Points counts the points across all series.
func (f *Figure) Points() int {
	n := 0
	for _, s := range f.Series {
		n += len(s.X)
	}
	return n
}

// Check reports structural defects in a figure returned by untrusted code.
func (f *Figure) Check() error {
	if f == nil {
		return errors.New("Render returned a nil figure")
	}
	if f.Kind == "" {
		return errors.New("figure has no kind")
	}
	for i, s := range f.Series {
		if len(s.X) != len(s.Y) {
			return errors.Newf("series %d (%q): %d x values but %d y values", i, s.Name, len(s.X), len(s.Y))
		}
	}
	return nil
}
