// Package dataset holds the immutable in-memory table a pipeline run works
// against. A Dataset is never mutated after construction, so one value can be
// shared by pointer across any number of concurrent runs.
package dataset

import (
	"encoding/csv"
	"io"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// ColumnType is the declared type of a column.
type ColumnType string

const (
	Numeric     ColumnType = "numeric"
	Categorical ColumnType = "categorical"
	Datetime    ColumnType = "datetime"
	Text        ColumnType = "text"
)

// LowCardinalityLimit is the distinct-value ceiling under which a column of
// any type is treated as groupable.
const LowCardinalityLimit = 50

// Column describes one column of the catalogue.
type Column struct {
	Name        string     `json:"name"`
	Type        ColumnType `json:"type"`
	Cardinality int        `json:"cardinality"`
	Missing     int        `json:"missing"`
}

// IsLowCardinality reports whether the column is categorical or has few
// distinct values.
func (c Column) IsLowCardinality() bool {
	return c.Type == Categorical || c.Cardinality <= LowCardinalityLimit
}

// ErrUnknownColumn is returned by accessors for names outside the catalogue.
var ErrUnknownColumn = errors.New("unknown column")

// Dataset is an immutable column-major table.
type Dataset struct {
	name    string
	columns []Column
	index   map[string]int
	cells   [][]string  // cells[col][row]
	numbers [][]float64 // parsed values for numeric columns, NaN when missing
	rows    int
}

var dateLayouts = []string{
	"2006-01-02",
	time.RFC3339,
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	"01/02/2006",
	"2006/01/02",
}

// New builds a dataset from a header and row-major records, inferring
// column types.
func New(name string, header []string, records [][]string) (*Dataset, error) {
	if len(header) == 0 {
		return nil, errors.New("dataset has no columns")
	}
	seen := make(map[string]bool, len(header))
	for _, h := range header {
		if h == "" {
			return nil, errors.New("dataset has an empty column name")
		}
		if seen[h] {
			return nil, errors.Newf("duplicate column %q", h)
		}
		seen[h] = true
	}

	cells := make([][]string, len(header))
	for c := range cells {
		cells[c] = make([]string, len(records))
	}
	for r, rec := range records {
		if len(rec) != len(header) {
			return nil, errors.Newf("row %d has %d fields, want %d", r+1, len(rec), len(header))
		}
		for c, v := range rec {
			cells[c][r] = strings.TrimSpace(v)
		}
	}

	columns := make([]Column, len(header))
	for c, h := range header {
		columns[c] = profile(h, cells[c])
	}
	return build(name, columns, cells)
}

// FromColumns builds a dataset with declared column types. Cells are
// column-major. Types are trusted; cardinality is recomputed.
func FromColumns(name string, columns []Column, cells [][]string) (*Dataset, error) {
	if len(columns) != len(cells) {
		return nil, errors.Newf("%d columns but %d cell vectors", len(columns), len(cells))
	}
	cols := make([]Column, len(columns))
	for i, c := range columns {
		p := profile(c.Name, cells[i])
		p.Type = c.Type
		cols[i] = p
	}
	return build(name, cols, cells)
}

func build(name string, columns []Column, cells [][]string) (*Dataset, error) {
	d := &Dataset{
		name:    name,
		columns: columns,
		index:   make(map[string]int, len(columns)),
		cells:   cells,
		numbers: make([][]float64, len(columns)),
	}
	for i, c := range columns {
		if _, dup := d.index[c.Name]; dup {
			return nil, errors.Newf("duplicate column %q", c.Name)
		}
		d.index[c.Name] = i
		if i == 0 {
			d.rows = len(cells[i])
		} else if len(cells[i]) != d.rows {
			return nil, errors.Newf("column %q has %d rows, want %d", c.Name, len(cells[i]), d.rows)
		}
		if c.Type == Numeric {
			nums := make([]float64, d.rows)
			for r, v := range cells[i] {
				f, err := parseNumber(v)
				if err != nil {
					nums[r] = math.NaN()
					continue
				}
				nums[r] = f
			}
			d.numbers[i] = nums
		}
	}
	return d, nil
}

// LoadCSV reads a CSV file with a header row.
func LoadCSV(path string) (*Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open dataset")
	}
	defer f.Close()
	return ReadCSV(strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)), f)
}

// ReadCSV reads CSV with a header row from r.
func ReadCSV(name string, r io.Reader) (*Dataset, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if err != nil {
		if err == io.EOF {
			return nil, errors.New("dataset is empty")
		}
		return nil, errors.Wrap(err, "failed to read header")
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}

	records, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read rows")
	}
	return New(name, header, records)
}

// profile infers the type and counts for one column.
func profile(name string, values []string) Column {
	col := Column{Name: name}
	distinct := make(map[string]struct{})
	numeric, dated := true, true
	present := 0

	for _, v := range values {
		if isMissing(v) {
			col.Missing++
			continue
		}
		present++
		distinct[v] = struct{}{}
		if numeric {
			if _, err := parseNumber(v); err != nil {
				numeric = false
			}
		}
		if dated {
			if _, ok := parseTime(v); !ok {
				dated = false
			}
		}
	}
	col.Cardinality = len(distinct)

	switch {
	case present == 0:
		col.Type = Text
	case numeric:
		col.Type = Numeric
	case dated:
		col.Type = Datetime
	case float64(col.Cardinality)/float64(present) < 0.05 || col.Cardinality < 20:
		col.Type = Categorical
	default:
		col.Type = Text
	}
	return col
}

func isMissing(v string) bool {
	switch strings.ToLower(v) {
	case "", "na", "n/a", "nan", "null", "none":
		return true
	}
	return false
}

func parseNumber(v string) (float64, error) {
	if isMissing(v) {
		return 0, errors.New("missing")
	}
	return strconv.ParseFloat(strings.ReplaceAll(v, ",", ""), 64)
}

func parseTime(v string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, v); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// =============================================================================
// ACCESSORS
// =============================================================================

// Name returns the dataset name.
func (d *Dataset) Name() string { return d.name }

// RowCount returns the number of rows.
func (d *Dataset) RowCount() int { return d.rows }

// Columns returns a copy of the column catalogue in header order.
func (d *Dataset) Columns() []Column {
	out := make([]Column, len(d.columns))
	copy(out, d.columns)
	return out
}

// Column looks up a column by exact, case-sensitive name.
func (d *Dataset) Column(name string) (Column, bool) {
	i, ok := d.index[name]
	if !ok {
		return Column{}, false
	}
	return d.columns[i], true
}

// Catalogue returns the name to type mapping.
func (d *Dataset) Catalogue() map[string]ColumnType {
	out := make(map[string]ColumnType, len(d.columns))
	for _, c := range d.columns {
		out[c.Name] = c.Type
	}
	return out
}

// Strings returns a copy of a column's raw values.
func (d *Dataset) Strings(name string) ([]string, error) {
	i, ok := d.index[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownColumn, "%q", name)
	}
	out := make([]string, d.rows)
	copy(out, d.cells[i])
	return out, nil
}

// Numbers returns a copy of a numeric column's values. Missing cells are NaN.
func (d *Dataset) Numbers(name string) ([]float64, error) {
	i, ok := d.index[name]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownColumn, "%q", name)
	}
	if d.numbers[i] == nil {
		return nil, errors.Newf("column %q is %s, not numeric", name, d.columns[i].Type)
	}
	out := make([]float64, d.rows)
	copy(out, d.numbers[i])
	return out, nil
}

// Value returns one raw cell.
func (d *Dataset) Value(name string, row int) (string, error) {
	i, ok := d.index[name]
	if !ok {
		return "", errors.Wrapf(ErrUnknownColumn, "%q", name)
	}
	if row < 0 || row >= d.rows {
		return "", errors.Newf("row %d out of range [0,%d)", row, d.rows)
	}
	return d.cells[i][row], nil
}
