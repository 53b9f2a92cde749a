// Package proposal defines the declarative visualization contract and the
// validator that turns an extracted candidate into a ProposalSpec set.
package proposal

import (
	"encoding/json"

	"vizguard/internal/types"
)

// ChartKind is the fixed chart enumeration.
type ChartKind string

const (
	Bar       ChartKind = "bar"
	Line      ChartKind = "line"
	Scatter   ChartKind = "scatter"
	Box       ChartKind = "box"
	Histogram ChartKind = "histogram"
	Heatmap   ChartKind = "heatmap"
)

// ChartKinds lists every accepted chart kind.
var ChartKinds = []ChartKind{Bar, Line, Scatter, Box, Histogram, Heatmap}

// Aggregation applied to y per x group.
type Aggregation string

const (
	AggNone   Aggregation = "none"
	AggMean   Aggregation = "mean"
	AggSum    Aggregation = "sum"
	AggMedian Aggregation = "median"
	AggCount  Aggregation = "count"
)

// Aggregations lists every accepted aggregation, "none" included.
var Aggregations = []Aggregation{AggMean, AggSum, AggMedian, AggCount, AggNone}

// FilterOp is a row predicate operator.
type FilterOp string

const (
	OpEq FilterOp = "=="
	OpNe FilterOp = "!="
	OpGt FilterOp = ">"
	OpLt FilterOp = "<"
	OpIn FilterOp = "in"
)

// FilterOps lists every accepted operator.
var FilterOps = []FilterOp{OpEq, OpNe, OpGt, OpLt, OpIn}

// DefaultTopK applies when formatting.top_k is absent.
const DefaultTopK = 20

// MaxTopK is the largest accepted formatting.top_k.
const MaxTopK = 200

// Filter keeps rows where Column Op Value holds.
type Filter struct {
	Column string   `json:"col" jsonschema:"description=Column to filter on"`
	Op     FilterOp `json:"op" jsonschema:"enum===,enum=!=,enum=>,enum=<,enum=in"`
	Value  any      `json:"value" jsonschema:"description=Scalar; a list of scalars for op in"`
}

// Formatting carries optional presentation hints.
type Formatting struct {
	XLabel string `json:"x_label,omitempty"`
	YLabel string `json:"y_label,omitempty"`
	Sort   string `json:"sort,omitempty" jsonschema:"enum=asc,enum=desc"`
	TopK   int    `json:"top_k,omitempty" jsonschema:"minimum=1,maximum=200,default=20"`
}

// Spec is one validated proposal. Values are only produced by Validator and
// are treated as immutable afterwards.
type Spec struct {
	ID          string      `json:"id,omitempty"`
	Title       string      `json:"title,omitempty"`
	Kind        ChartKind   `json:"chart_type" jsonschema:"enum=bar,enum=line,enum=scatter,enum=box,enum=histogram,enum=heatmap"`
	X           string      `json:"x" jsonschema:"description=Exact dataset column for the x axis"`
	Y           string      `json:"y" jsonschema:"description=Exact dataset column for the y axis"`
	Color       string      `json:"color,omitempty" jsonschema:"description=Optional grouping column"`
	Aggregation Aggregation `json:"aggregation,omitempty" jsonschema:"enum=mean,enum=sum,enum=median,enum=count,enum=none"`
	Filters     []Filter    `json:"filters,omitempty"`
	Formatting  Formatting  `json:"formatting,omitempty"`
	Reasoning   string      `json:"reasoning,omitempty" jsonschema:"description=Why this chart answers the question"`
}

// Columns returns every column the spec references, in field order.
func (s Spec) Columns() []string {
	cols := []string{s.X, s.Y}
	if s.Color != "" {
		cols = append(cols, s.Color)
	}
	for _, f := range s.Filters {
		cols = append(cols, f.Column)
	}
	return cols
}

// Aggregated reports whether y is aggregated per group.
func (s Spec) Aggregated() bool {
	return s.Aggregation != "" && s.Aggregation != AggNone
}

// Set is the validated output of one run: exactly the required number of
// proposals.
type Set struct {
	Proposals []Spec `json:"proposals"`
}

// Candidate converts the set back into a structured candidate so it can be
// validated again.
func (s Set) Candidate() *types.Candidate {
	data, _ := json.Marshal(s)
	var obj map[string]any
	_ = json.Unmarshal(data, &obj)
	return &types.Candidate{Kind: types.CandidateStructured, Object: obj}
}
