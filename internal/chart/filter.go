package chart

import (
	"fmt"
	"math"

	"github.com/Knetic/govaluate"
	"github.com/cockroachdb/errors"

	"vizguard/internal/dataset"
	"vizguard/internal/proposal"
)

var filterExpressions = map[proposal.FilterOp]string{
	proposal.OpEq: "value == target",
	proposal.OpNe: "value != target",
	proposal.OpGt: "value > target",
	proposal.OpLt: "value < target",
	proposal.OpIn: "value IN targets",
}

// rowFilter is one compiled filter bound to its column.
type rowFilter struct {
	filter  proposal.Filter
	expr    *govaluate.EvaluableExpression
	numeric bool
	strs    []string
	nums    []float64
	params  map[string]interface{}
}

func compileFilter(ds *dataset.Dataset, f proposal.Filter) (*rowFilter, error) {
	src, ok := filterExpressions[f.Op]
	if !ok {
		return nil, errors.Newf("filter on %q: unsupported operator %q", f.Column, f.Op)
	}
	col, ok := ds.Column(f.Column)
	if !ok {
		return nil, errors.Wrapf(dataset.ErrUnknownColumn, "filter column %q", f.Column)
	}
	expr, err := govaluate.NewEvaluableExpression(src)
	if err != nil {
		return nil, errors.Wrapf(err, "compile filter %s", f.Op)
	}

	rf := &rowFilter{filter: f, expr: expr, numeric: col.Type == dataset.Numeric, params: map[string]interface{}{}}
	if rf.numeric {
		if rf.nums, err = ds.Numbers(f.Column); err != nil {
			return nil, err
		}
	} else if rf.strs, err = ds.Strings(f.Column); err != nil {
		return nil, err
	}

	if f.Op == proposal.OpIn {
		list, ok := f.Value.([]any)
		if !ok {
			return nil, errors.Newf("filter on %q: op in needs a list value", f.Column)
		}
		targets := make([]interface{}, len(list))
		for i, v := range list {
			if targets[i], err = rf.operand(v); err != nil {
				return nil, err
			}
		}
		rf.params["targets"] = targets
		return rf, nil
	}
	if rf.params["target"], err = rf.operand(f.Value); err != nil {
		return nil, err
	}
	return rf, nil
}

// operand coerces a filter value to the column's comparison type.
func (rf *rowFilter) operand(v any) (interface{}, error) {
	if !rf.numeric {
		return fmt.Sprint(v), nil
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int:
		return float64(n), nil
	case int64:
		return float64(n), nil
	}
	return nil, errors.Newf("filter on %q: %v is not a number", rf.filter.Column, v)
}

// keep evaluates the filter for one row. Rows missing the column value are
// dropped.
func (rf *rowFilter) keep(row int) (bool, error) {
	if rf.numeric {
		if math.IsNaN(rf.nums[row]) {
			return false, nil
		}
		rf.params["value"] = rf.nums[row]
	} else {
		rf.params["value"] = rf.strs[row]
	}
	out, err := rf.expr.Evaluate(rf.params)
	if err != nil {
		return false, errors.Wrapf(err, "filter %s %s", rf.filter.Column, rf.filter.Op)
	}
	b, ok := out.(bool)
	if !ok {
		return false, errors.Newf("filter %s %s: non-boolean result %v", rf.filter.Column, rf.filter.Op, out)
	}
	return b, nil
}

// selectRows returns the indices of rows passing every filter.
func selectRows(ds *dataset.Dataset, filters []proposal.Filter) ([]int, error) {
	compiled := make([]*rowFilter, 0, len(filters))
	for _, f := range filters {
		rf, err := compileFilter(ds, f)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, rf)
	}

	rows := make([]int, 0, ds.RowCount())
next:
	for row := 0; row < ds.RowCount(); row++ {
		for _, rf := range compiled {
			ok, err := rf.keep(row)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue next
			}
		}
		rows = append(rows, row)
	}
	return rows, nil
}
