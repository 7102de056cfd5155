// Package prop provides deterministic random draws over a caller owned
// *rand.Rand. Every value type exposes GetWithProp so tests can drive the
// selection with a fixed probability instead of a generator.
package prop

import (
	"math/rand/v2"
)

// NewRand returns a PCG backed generator. Equal (seed, stream) pairs always
// produce equal sequences.
func NewRand(seed int64, stream uint64) *rand.Rand {
	return rand.New(rand.NewPCG(uint64(seed), stream))
}

type IntRangeValue struct {
	min int
	max int
}

// IntRange draws uniformly from the closed interval [min, max]. The bounds
// are swapped if given in the wrong order.
func IntRange(min, max int) IntRangeValue {
	if min > max {
		min, max = max, min
	}
	return IntRangeValue{min: min, max: max}
}

func (v IntRangeValue) Min() int { return v.min }
func (v IntRangeValue) Max() int { return v.max }

func (v IntRangeValue) Rand(r *rand.Rand) int {
	if v.min == v.max {
		return v.min
	}
	return v.min + r.IntN(v.max-v.min+1)
}

func (v IntRangeValue) GetWithProp(p float64) int {
	n := v.max - v.min + 1
	idx := int(p * float64(n))
	if idx >= n {
		idx = n - 1
	}
	return v.min + idx
}

// WeightedValue picks one of its values with probability proportional to
// the value's weight. Zero weight values are never selected.
type WeightedValue[T any] struct {
	total  float64
	weight []float64
	values []T
}

func WeightedOf[T any](values []T, weight func(int) float64) WeightedValue[T] {
	w := make([]float64, len(values))
	total := 0.0
	for i := range values {
		w[i] = weight(i)
		total += w[i]
	}
	return WeightedValue[T]{weight: w, values: values, total: total}
}

func (wv *WeightedValue[T]) Total() float64      { return wv.total }
func (wv *WeightedValue[T]) Rand(r *rand.Rand) T { return wv.GetWithProp(r.Float64()) }
func (wv *WeightedValue[T]) GetWithProp(p float64) T {
	weight := p * wv.total
	last := -1
	for i, w := range wv.weight {
		if w <= 0 {
			continue
		}
		last = i
		weight -= w
		if weight < 0 {
			return wv.values[i]
		}
	}
	if last < 0 {
		last = len(wv.values) - 1
	}
	return wv.values[last]
}
