package proposal

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"vizguard/internal/dataset"
	"vizguard/internal/logging"
	"vizguard/internal/types"
)

// Catalogue is the read-only view of the dataset the validator checks
// column references against. *dataset.Dataset satisfies it.
type Catalogue interface {
	Column(name string) (dataset.Column, bool)
	ColumnNames() []string
	RowCount() int
}

var (
	proposalFields   = []string{"id", "title", "chart_type", "x", "y", "color", "aggregation", "filters", "formatting", "reasoning"}
	filterFields     = []string{"col", "op", "value"}
	formattingFields = []string{"x_label", "y_label", "sort", "top_k"}
)

// Validator checks candidates against the proposal contract. Every check
// runs; all defects are returned together.
type Validator struct {
	required int
}

// NewValidator returns a validator demanding exactly required proposals.
func NewValidator(required int) *Validator {
	if required < 1 {
		required = 1
	}
	return &Validator{required: required}
}

// Required returns the exact proposal count this validator demands.
func (v *Validator) Required() int {
	return v.required
}

// collector accumulates validation errors.
type collector struct {
	errs []types.ValidationError
}

func (c *collector) add(field string, kind types.ViolationKind, format string, args ...any) {
	c.errs = append(c.errs, types.ValidationError{
		Field:    field,
		Kind:     kind,
		Detail:   fmt.Sprintf(format, args...),
		Severity: types.SeverityError,
	})
}

func (c *collector) warn(field string, kind types.ViolationKind, format string, args ...any) {
	c.add(field, kind, format, args...)
	c.errs[len(c.errs)-1].Severity = types.SeverityWarning
}

// Validate checks a structured candidate. It returns a Set only when no
// defect of any severity was found.
func (v *Validator) Validate(c *types.Candidate, cat Catalogue) (*Set, []types.ValidationError) {
	var col collector

	if c == nil || c.Kind != types.CandidateStructured || c.Object == nil {
		col.add("", types.KindTypeMismatch, "expected a JSON object with a %q list", "proposals")
		return nil, col.errs
	}

	items := v.proposalsOf(c.Object, &col)
	if items != nil && len(items) != v.required {
		col.add("proposals", types.KindCountMismatch, "got %d proposals, want exactly %d", len(items), v.required)
	}

	specs := make([]Spec, 0, len(items))
	for i, item := range items {
		spec := v.validateOne(fmt.Sprintf("proposals[%d]", i), item, cat, &col)
		specs = append(specs, spec)
	}

	if len(col.errs) > 0 {
		types.SortValidationErrors(col.errs)
		logging.ValidateDebug("candidate (attempt %d) rejected with %d defects", c.Attempt, len(col.errs))
		return nil, col.errs
	}
	logging.ValidateDebug("candidate (attempt %d) accepted: %d proposals", c.Attempt, len(specs))
	return &Set{Proposals: specs}, nil
}

// proposalsOf unwraps the envelope. A bare proposal object counts as a
// single-element list.
func (v *Validator) proposalsOf(obj map[string]any, col *collector) []any {
	raw, ok := obj["proposals"]
	if !ok {
		if _, bare := obj["chart_type"]; bare {
			return []any{obj}
		}
		col.add("proposals", types.KindMissingField, "required field is missing")
		return nil
	}
	for _, k := range sortedKeys(obj) {
		if k != "proposals" {
			col.add(k, types.KindUnknownField, "unexpected top-level field; only %q is allowed", "proposals")
		}
	}
	list, ok := raw.([]any)
	if !ok {
		col.add("proposals", types.KindTypeMismatch, "must be a list, got %s", jsonType(raw))
		return nil
	}
	return list
}

func (v *Validator) validateOne(path string, item any, cat Catalogue, col *collector) Spec {
	var spec Spec
	m, ok := item.(map[string]any)
	if !ok {
		col.add(path, types.KindTypeMismatch, "proposal must be an object, got %s", jsonType(item))
		return spec
	}
	checkUnknown(path, m, proposalFields, col)

	field := func(name string) string { return path + "." + name }

	spec.ID = optionalString(field("id"), m, "id", col)
	spec.Title = optionalString(field("title"), m, "title", col)
	spec.Reasoning = optionalString(field("reasoning"), m, "reasoning", col)

	kind, hasKind := requiredString(field("chart_type"), m, "chart_type", col)
	if hasKind {
		if !contains(ChartKinds, ChartKind(kind)) {
			col.add(field("chart_type"), types.KindInvalidEnum, "%q is not one of %s", kind, joinEnum(ChartKinds))
			hasKind = false
		}
		spec.Kind = ChartKind(kind)
	}

	x, hasX := requiredString(field("x"), m, "x", col)
	y, hasY := requiredString(field("y"), m, "y", col)
	spec.X, spec.Y = x, y
	xCol, hasX := lookup(field("x"), x, hasX, cat, col)
	yCol, hasY := lookup(field("y"), y, hasY, cat, col)

	if _, present := m["color"]; present {
		spec.Color = optionalString(field("color"), m, "color", col)
		if spec.Color != "" {
			lookup(field("color"), spec.Color, true, cat, col)
		}
	}

	// Aggregation
	aggInvalid := false
	if raw, present := m["aggregation"]; present && raw != nil {
		agg, ok := raw.(string)
		switch {
		case !ok:
			col.add(field("aggregation"), types.KindTypeMismatch, "must be a string, got %s", jsonType(raw))
			aggInvalid = true
		case !contains(Aggregations, Aggregation(agg)):
			col.add(field("aggregation"), types.KindInvalidEnum, "%q is not one of %s", agg, joinEnum(Aggregations))
			aggInvalid = true
		default:
			spec.Aggregation = Aggregation(agg)
		}
	}
	if spec.Aggregated() {
		if hasX && !xCol.IsLowCardinality() {
			col.warn(field("aggregation"), types.KindAggregationMismatch,
				"aggregation %q needs a categorical or low-cardinality x; %q is %s with %d distinct values",
				spec.Aggregation, xCol.Name, xCol.Type, xCol.Cardinality)
		}
		if hasY && spec.Aggregation != AggCount && yCol.Type != dataset.Numeric {
			col.add(field("aggregation"), types.KindTypeMismatch,
				"aggregation %q needs a numeric y; %q is %s", spec.Aggregation, yCol.Name, yCol.Type)
		}
	} else if !aggInvalid && hasKind && hasX && hasY && (spec.Kind == Bar || spec.Kind == Line) &&
		yCol.Type == dataset.Numeric && xCol.Cardinality < cat.RowCount() {
		col.add(field("aggregation"), types.KindAggregationRequired,
			"%s chart of %q by %q has repeated x values; choose one of %s",
			spec.Kind, yCol.Name, xCol.Name, joinEnum(Aggregations[:4]))
	}

	spec.Filters = validateFilters(field("filters"), m["filters"], cat, col)
	spec.Formatting = validateFormatting(field("formatting"), m["formatting"], col)
	return spec
}

func validateFilters(path string, raw any, cat Catalogue, col *collector) []Filter {
	if raw == nil {
		return nil
	}
	list, ok := raw.([]any)
	if !ok {
		col.add(path, types.KindTypeMismatch, "must be a list, got %s", jsonType(raw))
		return nil
	}

	filters := make([]Filter, 0, len(list))
	for i, item := range list {
		fp := fmt.Sprintf("%s[%d]", path, i)
		m, ok := item.(map[string]any)
		if !ok {
			col.add(fp, types.KindTypeMismatch, "filter must be an object, got %s", jsonType(item))
			continue
		}
		checkUnknown(fp, m, filterFields, col)

		var f Filter
		name, hasCol := requiredString(fp+".col", m, "col", col)
		c, hasCol := lookup(fp+".col", name, hasCol, cat, col)
		f.Column = name

		op, hasOp := requiredString(fp+".op", m, "op", col)
		if hasOp && !contains(FilterOps, FilterOp(op)) {
			col.add(fp+".op", types.KindInvalidEnum, "%q is not one of %s", op, joinEnum(FilterOps))
			hasOp = false
		}
		f.Op = FilterOp(op)

		value, present := m["value"]
		switch {
		case !present || value == nil:
			col.add(fp+".value", types.KindMissingField, "required field is missing")
		case hasOp && f.Op == OpIn:
			values, ok := value.([]any)
			if !ok || len(values) == 0 {
				col.add(fp+".value", types.KindTypeMismatch, "op %q needs a non-empty list", OpIn)
				break
			}
			for j, el := range values {
				checkScalar(fmt.Sprintf("%s.value[%d]", fp, j), el, c, hasCol, col)
			}
			f.Value = values
		case hasOp:
			checkScalar(fp+".value", value, c, hasCol, col)
			f.Value = value
		}
		filters = append(filters, f)
	}
	return filters
}

func checkScalar(path string, v any, c dataset.Column, known bool, col *collector) {
	switch v.(type) {
	case string, float64, bool:
	default:
		col.add(path, types.KindTypeMismatch, "must be a string, number or boolean, got %s", jsonType(v))
		return
	}
	if known && c.Type == dataset.Numeric {
		if _, ok := v.(float64); !ok {
			col.add(path, types.KindTypeMismatch, "column %q is numeric; value must be a number, got %s", c.Name, jsonType(v))
		}
	}
}

func validateFormatting(path string, raw any, col *collector) Formatting {
	f := Formatting{TopK: DefaultTopK}
	if raw == nil {
		return f
	}
	m, ok := raw.(map[string]any)
	if !ok {
		col.add(path, types.KindTypeMismatch, "must be an object, got %s", jsonType(raw))
		return f
	}
	checkUnknown(path, m, formattingFields, col)

	f.XLabel = optionalString(path+".x_label", m, "x_label", col)
	f.YLabel = optionalString(path+".y_label", m, "y_label", col)
	if s := optionalString(path+".sort", m, "sort", col); s != "" {
		if s != "asc" && s != "desc" {
			col.add(path+".sort", types.KindInvalidEnum, "%q is not one of asc, desc", s)
		} else {
			f.Sort = s
		}
	}
	if rawK, present := m["top_k"]; present && rawK != nil {
		k, ok := rawK.(float64)
		switch {
		case !ok || k != math.Trunc(k):
			col.add(path+".top_k", types.KindTypeMismatch, "must be an integer, got %v", rawK)
		case k < 1 || k > MaxTopK:
			col.add(path+".top_k", types.KindOutOfRange, "%v is outside 1..%d", k, MaxTopK)
		default:
			f.TopK = int(k)
		}
	}
	return f
}

// =============================================================================
// HELPERS
// =============================================================================

func requiredString(path string, m map[string]any, key string, col *collector) (string, bool) {
	raw, ok := m[key]
	if !ok || raw == nil {
		col.add(path, types.KindMissingField, "required field is missing")
		return "", false
	}
	s, ok := raw.(string)
	if !ok {
		col.add(path, types.KindTypeMismatch, "must be a string, got %s", jsonType(raw))
		return "", false
	}
	if strings.TrimSpace(s) == "" {
		col.add(path, types.KindMissingField, "required field is empty")
		return "", false
	}
	return s, true
}

func optionalString(path string, m map[string]any, key string, col *collector) string {
	raw, ok := m[key]
	if !ok || raw == nil {
		return ""
	}
	s, ok := raw.(string)
	if !ok {
		col.add(path, types.KindTypeMismatch, "must be a string, got %s", jsonType(raw))
		return ""
	}
	return s
}

// lookup resolves a column reference with an exact, case-sensitive match.
func lookup(path, name string, ok bool, cat Catalogue, col *collector) (dataset.Column, bool) {
	if !ok {
		return dataset.Column{}, false
	}
	c, found := cat.Column(name)
	if !found {
		col.add(path, types.KindUnknownColumn, "column %q does not exist; available columns: %s",
			name, strings.Join(cat.ColumnNames(), ", "))
		return dataset.Column{}, false
	}
	return c, true
}

func checkUnknown(path string, m map[string]any, allowed []string, col *collector) {
	for _, k := range sortedKeys(m) {
		if !contains(allowed, k) {
			col.add(path+"."+k, types.KindUnknownField, "unexpected field; allowed fields: %s", strings.Join(allowed, ", "))
		}
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func contains[T comparable](list []T, v T) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func joinEnum[T ~string](list []T) string {
	parts := make([]string, len(list))
	for i, v := range list {
		parts[i] = string(v)
	}
	return strings.Join(parts, ", ")
}

func jsonType(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case float64:
		return "number"
	case bool:
		return "boolean"
	case []any:
		return "list"
	case map[string]any:
		return "object"
	default:
		return fmt.Sprintf("%T", v)
	}
}
