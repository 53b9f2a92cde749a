package dataset

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

const (
	maxSummaryColumns = 60
	maxExampleLen     = 60
)

// Summary renders the catalogue as compact prompt context, one line per
// column: "- name: type (n distinct) e.g. value".
func (d *Dataset) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Dataset %q: %d rows, %d columns\n", d.name, d.rows, len(d.columns))

	for i, c := range d.columns {
		if i == maxSummaryColumns {
			fmt.Fprintf(&sb, "- ... %d more columns\n", len(d.columns)-maxSummaryColumns)
			break
		}
		example := ""
		for _, v := range d.cells[i] {
			if !isMissing(v) {
				example = v
				break
			}
		}
		if len(example) > maxExampleLen {
			example = example[:maxExampleLen]
		}
		fmt.Fprintf(&sb, "- %s: %s (%d distinct", c.Name, c.Type, c.Cardinality)
		if c.Missing > 0 {
			fmt.Fprintf(&sb, ", %d missing", c.Missing)
		}
		sb.WriteString(")")
		if example != "" {
			fmt.Fprintf(&sb, " e.g. %q", example)
		}
		if c.Type == Numeric {
			if lo, hi, mean, ok := d.numericRange(i); ok {
				fmt.Fprintf(&sb, " range [%g, %g] mean %.4g", lo, hi, mean)
			}
		}
		sb.WriteString("\n")
	}
	return sb.String()
}

func (d *Dataset) numericRange(i int) (lo, hi, mean float64, ok bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	n := 0
	for _, v := range d.numbers[i] {
		if math.IsNaN(v) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
		mean += v
		n++
	}
	if n == 0 {
		return 0, 0, 0, false
	}
	return lo, hi, mean / float64(n), true
}

// ColumnNames returns the column names sorted alphabetically.
func (d *Dataset) ColumnNames() []string {
	names := make([]string, 0, len(d.columns))
	for _, c := range d.columns {
		names = append(names, c.Name)
	}
	sort.Strings(names)
	return names
}

// Payload is the serialisable form handed to sandbox workers.
type Payload struct {
	Name    string     `json:"name"`
	Columns []Column   `json:"columns"`
	Cells   [][]string `json:"cells"`
}

// Payload returns a serialisable copy of the dataset.
func (d *Dataset) Payload() Payload {
	cells := make([][]string, len(d.cells))
	for i := range d.cells {
		cells[i] = append([]string(nil), d.cells[i]...)
	}
	return Payload{Name: d.name, Columns: d.Columns(), Cells: cells}
}

// FromPayload rebuilds a dataset, keeping the declared column types.
func FromPayload(p Payload) (*Dataset, error) {
	return FromColumns(p.Name, p.Columns, p.Cells)
}
