package chart

import (
	"fmt"

	"vizguard/internal/dataset"
)

// Frame is the read-only view of the dataset handed to Render.
type Frame struct {
	ds *dataset.Dataset
}

// NewFrame wraps a dataset.
func NewFrame(ds *dataset.Dataset) *Frame {
	return &Frame{ds: ds}
}

// Len returns the row count.
func (f *Frame) Len() int { return f.ds.RowCount() }

// Columns returns the column names in dataset order.
func (f *Frame) Columns() []string {
	cols := f.ds.Columns()
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = c.Name
	}
	return out
}

// Type returns a column's declared type, or "" for unknown columns.
func (f *Frame) Type(name string) string {
	c, ok := f.ds.Column(name)
	if !ok {
		return ""
	}
	return string(c.Type)
}

// Column returns a copy of a column's raw values.
func (f *Frame) Column(name string) ([]string, error) {
	return f.ds.Strings(name)
}

// Strings is Column for snippets that cannot handle the error. It panics on
// an unknown column; the sandbox reports that as a runtime error.
func (f *Frame) Strings(name string) []string {
	v, err := f.ds.Strings(name)
	if err != nil {
		panic(fmt.Sprintf("chart: %v", err))
	}
	return v
}

// Numbers returns a numeric column with missing cells as NaN. It panics on
// unknown or non-numeric columns.
func (f *Frame) Numbers(name string) []float64 {
	v, err := f.ds.Numbers(name)
	if err != nil {
		panic(fmt.Sprintf("chart: %v", err))
	}
	return v
}
