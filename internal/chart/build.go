package chart

import (
	"fmt"
	"math"
	"sort"

	"github.com/cockroachdb/errors"

	"vizguard/internal/dataset"
	"vizguard/internal/proposal"
)

// maxBins caps histogram resolution.
const maxBins = 50

// Build interprets a validated proposal against the dataset: filters, then
// grouping by x and color, then aggregation, then sort and top_k.
func Build(spec proposal.Spec, ds *dataset.Dataset) (*Figure, error) {
	rows, err := selectRows(ds, spec.Filters)
	if err != nil {
		return nil, err
	}

	b := &builder{spec: spec, ds: ds, rows: rows}
	fig := NewFigure(string(spec.Kind), spec.Title)
	if fig.Title == "" {
		fig.Title = fmt.Sprintf("%s by %s", b.yDescription(), spec.X)
	}
	fig.SetLabels(spec.X, b.yDescription())

	switch spec.Kind {
	case proposal.Bar, proposal.Line:
		err = b.categorical(fig)
	case proposal.Scatter:
		err = b.scatter(fig)
	case proposal.Histogram:
		err = b.histogram(fig)
	case proposal.Box:
		err = b.box(fig)
	case proposal.Heatmap:
		err = b.heatmap(fig)
	default:
		err = errors.Newf("unsupported chart kind %q", spec.Kind)
	}
	if err != nil {
		return nil, err
	}

	if spec.Formatting.XLabel != "" {
		fig.XLabel = spec.Formatting.XLabel
	}
	if spec.Formatting.YLabel != "" {
		fig.YLabel = spec.Formatting.YLabel
	}
	return fig, nil
}

type builder struct {
	spec proposal.Spec
	ds   *dataset.Dataset
	rows []int
}

func (b *builder) yDescription() string {
	if b.spec.Aggregated() {
		return fmt.Sprintf("%s(%s)", b.spec.Aggregation, b.spec.Y)
	}
	return b.spec.Y
}

func (b *builder) strings(name string) ([]string, error) {
	v, err := b.ds.Strings(name)
	return v, errors.Wrapf(err, "column %q", name)
}

func (b *builder) numbers(name string) ([]float64, error) {
	v, err := b.ds.Numbers(name)
	return v, errors.Wrapf(err, "column %q", name)
}

// seriesNames returns the per-row series name: the color value, or y.
func (b *builder) seriesNames() ([]string, error) {
	if b.spec.Color == "" {
		names := make([]string, b.ds.RowCount())
		for i := range names {
			names[i] = b.spec.Y
		}
		return names, nil
	}
	return b.strings(b.spec.Color)
}

func (b *builder) categorical(fig *Figure) error {
	xs, err := b.strings(b.spec.X)
	if err != nil {
		return err
	}
	names, err := b.seriesNames()
	if err != nil {
		return err
	}
	count := b.spec.Aggregation == proposal.AggCount

	var ys []float64
	if !count {
		if ys, err = b.numbers(b.spec.Y); err != nil {
			return err
		}
	}

	g := newGrouping()
	for _, row := range b.rows {
		switch {
		case count:
			g.add(names[row], xs[row], 1)
		case !math.IsNaN(ys[row]):
			g.add(names[row], xs[row], ys[row])
		}
	}

	if !b.spec.Aggregated() {
		return b.rawSeries(fig, g)
	}

	totals := map[string]float64{}
	values := map[string]map[string]float64{}
	for _, name := range g.series() {
		values[name] = map[string]float64{}
		for key, vs := range g.groups[name] {
			v := aggregate(b.spec.Aggregation, vs)
			values[name][key] = v
			totals[key] += v
		}
	}

	keys := b.orderKeys(g.keys(), func(k string) float64 { return totals[k] })
	for _, name := range g.series() {
		var x []string
		var y []float64
		for _, key := range keys {
			if v, ok := values[name][key]; ok {
				x = append(x, key)
				y = append(y, v)
			}
		}
		if err := fig.AddSeries(name, x, y); err != nil {
			return err
		}
	}
	return nil
}

// rawSeries emits every point ordered by x.
func (b *builder) rawSeries(fig *Figure, g *grouping) error {
	keys := g.keys()
	for _, name := range g.series() {
		var x []string
		var y []float64
		for _, key := range keys {
			for _, v := range g.groups[name][key] {
				x = append(x, key)
				y = append(y, v)
			}
		}
		if err := fig.AddSeries(name, x, y); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) scatter(fig *Figure) error {
	xs, err := b.strings(b.spec.X)
	if err != nil {
		return err
	}
	ys, err := b.numbers(b.spec.Y)
	if err != nil {
		return err
	}
	names, err := b.seriesNames()
	if err != nil {
		return err
	}

	points := map[string]*Series{}
	var order []string
	for _, row := range b.rows {
		if math.IsNaN(ys[row]) {
			continue
		}
		s, ok := points[names[row]]
		if !ok {
			s = &Series{Name: names[row]}
			points[names[row]] = s
			order = append(order, names[row])
		}
		s.X = append(s.X, xs[row])
		s.Y = append(s.Y, ys[row])
	}
	sort.Strings(order)
	for _, name := range order {
		if err := fig.AddSeries(name, points[name].X, points[name].Y); err != nil {
			return err
		}
	}
	return nil
}

func (b *builder) histogram(fig *Figure) error {
	column := b.spec.Y
	if c, ok := b.ds.Column(column); !ok || c.Type != dataset.Numeric {
		column = b.spec.X
	}
	vals, err := b.numbers(column)
	if err != nil {
		return errors.Wrap(err, "histogram needs a numeric x or y")
	}
	names, err := b.seriesNames()
	if err != nil {
		return err
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	n := 0
	for _, row := range b.rows {
		if v := vals[row]; !math.IsNaN(v) {
			lo, hi = math.Min(lo, v), math.Max(hi, v)
			n++
		}
	}
	fig.SetLabels(column, "count")
	if n == 0 {
		return nil
	}

	bins := int(math.Ceil(math.Log2(float64(n)))) + 1
	if bins > maxBins {
		bins = maxBins
	}
	if lo == hi {
		bins = 1
	}
	width := (hi - lo) / float64(bins)
	labels := make([]string, bins)
	for i := range labels {
		labels[i] = fmt.Sprintf("[%g, %g)", lo+float64(i)*width, lo+float64(i+1)*width)
	}

	counts := map[string][]float64{}
	var order []string
	for _, row := range b.rows {
		v := vals[row]
		if math.IsNaN(v) {
			continue
		}
		bin := bins - 1
		if width > 0 {
			bin = int((v - lo) / width)
			if bin >= bins {
				bin = bins - 1
			}
		}
		c, ok := counts[names[row]]
		if !ok {
			c = make([]float64, bins)
			counts[names[row]] = c
			order = append(order, names[row])
		}
		c[bin]++
	}
	sort.Strings(order)
	for _, name := range order {
		if err := fig.AddSeries(name, labels, counts[name]); err != nil {
			return err
		}
	}
	return nil
}

// box emits each x category's raw y distribution as its own series.
func (b *builder) box(fig *Figure) error {
	xs, err := b.strings(b.spec.X)
	if err != nil {
		return err
	}
	ys, err := b.numbers(b.spec.Y)
	if err != nil {
		return err
	}
	groups := GroupBy(pick(xs, b.rows), pickNumbers(ys, b.rows))

	keys := make([]string, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	SortKeys(keys)
	keys = b.orderKeys(keys, func(k string) float64 { return Median(groups[k]) })

	for _, key := range keys {
		x := make([]string, len(groups[key]))
		for i := range x {
			x[i] = key
		}
		if err := fig.AddSeries(key, x, groups[key]); err != nil {
			return err
		}
	}
	return nil
}

// heatmap pivots x by y. Cells count rows, or aggregate the numeric color
// column when an aggregation other than count is given.
func (b *builder) heatmap(fig *Figure) error {
	xs, err := b.strings(b.spec.X)
	if err != nil {
		return err
	}
	ys, err := b.strings(b.spec.Y)
	if err != nil {
		return err
	}

	var cells []float64
	agg := b.spec.Aggregation
	if b.spec.Aggregated() && agg != proposal.AggCount {
		if b.spec.Color == "" {
			return errors.Newf("heatmap %s needs a numeric color column to aggregate", agg)
		}
		if cells, err = b.numbers(b.spec.Color); err != nil {
			return err
		}
		fig.YLabel = b.spec.Y
	} else {
		agg = proposal.AggCount
	}

	g := newGrouping()
	for _, row := range b.rows {
		switch {
		case cells == nil:
			g.add(ys[row], xs[row], 1)
		case !math.IsNaN(cells[row]):
			g.add(ys[row], xs[row], cells[row])
		}
	}

	totals := map[string]float64{}
	for _, name := range g.series() {
		for key, vs := range g.groups[name] {
			totals[key] += float64(len(vs))
		}
	}
	keys := b.orderKeys(g.keys(), func(k string) float64 { return totals[k] })

	for _, name := range g.series() {
		var x []string
		var y []float64
		for _, key := range keys {
			if vs, ok := g.groups[name][key]; ok {
				x = append(x, key)
				y = append(y, aggregate(agg, vs))
			}
		}
		if err := fig.AddSeries(name, x, y); err != nil {
			return err
		}
	}
	return nil
}

// orderKeys applies top_k, keeping the highest scoring keys, then the
// requested sort. Without a sort the natural key order is kept.
func (b *builder) orderKeys(keys []string, score func(string) float64) []string {
	topK := b.spec.Formatting.TopK
	if topK <= 0 {
		topK = proposal.DefaultTopK
	}
	if len(keys) > topK {
		ranked := append([]string(nil), keys...)
		sort.SliceStable(ranked, func(i, j int) bool { return score(ranked[i]) > score(ranked[j]) })
		keep := make(map[string]bool, topK)
		for _, k := range ranked[:topK] {
			keep[k] = true
		}
		kept := keys[:0:0]
		for _, k := range keys {
			if keep[k] {
				kept = append(kept, k)
			}
		}
		keys = kept
	}

	switch b.spec.Formatting.Sort {
	case "asc":
		sort.SliceStable(keys, func(i, j int) bool { return score(keys[i]) < score(keys[j]) })
	case "desc":
		sort.SliceStable(keys, func(i, j int) bool { return score(keys[i]) > score(keys[j]) })
	}
	return keys
}

func aggregate(agg proposal.Aggregation, vs []float64) float64 {
	switch agg {
	case proposal.AggSum:
		return Sum(vs)
	case proposal.AggMean:
		return Mean(vs)
	case proposal.AggMedian:
		return Median(vs)
	default:
		return float64(len(vs))
	}
}

// grouping collects values per series and key.
type grouping struct {
	groups map[string]map[string][]float64
}

func newGrouping() *grouping {
	return &grouping{groups: map[string]map[string][]float64{}}
}

func (g *grouping) add(series, key string, v float64) {
	m, ok := g.groups[series]
	if !ok {
		m = map[string][]float64{}
		g.groups[series] = m
	}
	m[key] = append(m[key], v)
}

func (g *grouping) series() []string {
	out := make([]string, 0, len(g.groups))
	for name := range g.groups {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (g *grouping) keys() []string {
	seen := map[string]bool{}
	var out []string
	for _, m := range g.groups {
		for k := range m {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	SortKeys(out)
	return out
}

func pick(vs []string, rows []int) []string {
	out := make([]string, len(rows))
	for i, r := range rows {
		out[i] = vs[r]
	}
	return out
}

func pickNumbers(vs []float64, rows []int) []float64 {
	out := make([]float64, len(rows))
	for i, r := range rows {
		out[i] = vs[r]
	}
	return out
}
