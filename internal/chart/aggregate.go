package chart

import (
	"math"
	"sort"
	"strconv"
)

// GroupBy collects values under their key, skipping NaN values.
func GroupBy(keys []string, values []float64) map[string][]float64 {
	out := make(map[string][]float64)
	for i, k := range keys {
		if i >= len(values) {
			break
		}
		if math.IsNaN(values[i]) {
			continue
		}
		out[k] = append(out[k], values[i])
	}
	return out
}

// Sum adds the non-NaN values.
func Sum(values []float64) float64 {
	total := 0.0
	for _, v := range values {
		if !math.IsNaN(v) {
			total += v
		}
	}
	return total
}

// Mean of the non-NaN values, NaN when there are none.
func Mean(values []float64) float64 {
	n := 0
	total := 0.0
	for _, v := range values {
		if !math.IsNaN(v) {
			total += v
			n++
		}
	}
	if n == 0 {
		return math.NaN()
	}
	return total / float64(n)
}

// Median of the non-NaN values, NaN when there are none.
func Median(values []float64) float64 {
	vs := make([]float64, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(v) {
			vs = append(vs, v)
		}
	}
	if len(vs) == 0 {
		return math.NaN()
	}
	sort.Float64s(vs)
	mid := len(vs) / 2
	if len(vs)%2 == 1 {
		return vs[mid]
	}
	return (vs[mid-1] + vs[mid]) / 2
}

// SortKeys orders keys numerically when every key parses as a number and
// lexically otherwise.
func SortKeys(keys []string) {
	nums := make(map[string]float64, len(keys))
	for _, k := range keys {
		n, err := strconv.ParseFloat(k, 64)
		if err != nil {
			sort.Strings(keys)
			return
		}
		nums[k] = n
	}
	sort.SliceStable(keys, func(i, j int) bool { return nums[keys[i]] < nums[keys[j]] })
}
