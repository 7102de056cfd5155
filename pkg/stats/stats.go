package stats

import (
	"math"
	"slices"
)

type Histogram struct {
	Buckets []float64 `json:"buckets"`
	Counts  []int     `json:"counts"`
}

type DistMetrics struct {
	Count     int       `json:"count"`
	Sum       float64   `json:"sum"`
	Min       float64   `json:"min"`
	Max       float64   `json:"max"`
	Avg       float64   `json:"avg"`
	Median    float64   `json:"median"`
	Stddev    float64   `json:"stddev"`
	Histogram Histogram `json:"histogram"`
}

func DistMetricStatsFrom[T any](it []T, fn func(T) float64) (stats DistMetrics) {
	values := make([]float64, len(it))
	for i := range it {
		values[i] = fn(it[i])
	}
	slices.Sort(values)

	if len(values) == 0 {
		return stats
	}

	min := values[0]
	max := values[len(values)-1]
	return DistMetrics{
		Count:     len(values),
		Sum:       sumOf(values, identity),
		Min:       min,
		Max:       max,
		Avg:       SliceAverageFunc(values, identity),
		Median:    SlicesMedianOf(values, identity),
		Stddev:    stddev(values),
		Histogram: histogram(values, min, max, 10),
	}
}

func identity[T any](v T) T {
	return v
}

func SliceAverageFunc[T any](items []T, fn func(T) float64) float64 {
	if len(items) == 0 {
		return 0
	}
	return sumOf(items, fn) / float64(len(items))
}

func SlicesMedianOf[T any](items []T, selector func(T) float64) float64 {
	if len(items) == 0 {
		return 0
	}

	values := make([]float64, len(items))
	for i, item := range items {
		values[i] = selector(item)
	}
	slices.Sort(values)
	mid := len(values) / 2
	if len(values)%2 == 0 {
		return (values[mid-1] + values[mid]) / 2
	}
	return values[mid]
}

// stddev computes the sample standard deviation.
func stddev(values []float64) float64 {
	if len(values) <= 1 {
		return 0
	}

	avg := SliceAverageFunc(values, identity)
	sum := sumOf(values, func(v float64) float64 {
		d := v - avg
		return d * d
	})
	return math.Sqrt(sum / float64(len(values)-1))
}

// histogram sorts values into n equal width buckets over [lo, hi].
// Buckets holds the bucket midpoints. Values outside the range are clamped
// into the first or last bucket.
func histogram(values []float64, lo, hi float64, n int) Histogram {
	width := (hi - lo) / float64(n)
	buckets := make([]float64, n)
	for i := range buckets {
		buckets[i] = lo + float64(i)*width + width/2
	}

	counts := make([]int, n)
	for _, v := range values {
		idx := 0
		switch {
		case width <= 0 || v <= lo:
		case v >= hi:
			idx = n - 1
		default:
			idx = min(int((v-lo)/width), n-1)
		}
		counts[idx]++
	}
	return Histogram{Buckets: buckets, Counts: counts}
}

// sumOf uses Kahan summation.
func sumOf[T any](items []T, fn func(T) float64) float64 {
	sum := 0.0
	correction := 0.0
	for _, item := range items {
		y := fn(item) - correction
		t := sum + y
		correction = (t - sum) - y
		sum = t
	}
	return sum
}

func ExpBuckets(start float64, factor float64, max float64) []float64 {
	var buckets []float64
	current := start
	for current <= max {
		buckets = append(buckets, current)
		current *= factor
	}
	return buckets
}
