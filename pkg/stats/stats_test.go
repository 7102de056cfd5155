package stats

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDistMetrics(t *testing.T) {
	type run struct{ tps float64 }
	runs := []run{{100}, {300}, {200}, {400}}

	m := DistMetricStatsFrom(runs, func(r run) float64 { return r.tps })
	require.Equal(t, 4, m.Count)
	require.Equal(t, 1000.0, m.Sum)
	require.Equal(t, 100.0, m.Min)
	require.Equal(t, 400.0, m.Max)
	require.Equal(t, 250.0, m.Avg)
	require.Equal(t, 250.0, m.Median)
	require.InDelta(t, 129.099, m.Stddev, 0.001)

	total := 0
	for _, c := range m.Histogram.Counts {
		total += c
	}
	require.Equal(t, 4, total)
	require.Equal(t, 1, m.Histogram.Counts[0])
	require.Equal(t, 1, m.Histogram.Counts[9])
}

func TestDistMetricsEmpty(t *testing.T) {
	m := DistMetricStatsFrom([]float64{}, identity)
	require.Zero(t, m.Count)
	require.Zero(t, SliceAverageFunc([]float64(nil), identity))
	require.Zero(t, SlicesMedianOf([]float64{}, identity))
}

func TestHistogramSingleValue(t *testing.T) {
	h := histogram([]float64{5, 5, 5}, 5, 5, 4)
	require.Equal(t, []int{3, 0, 0, 0}, h.Counts)
}

func TestExpBuckets(t *testing.T) {
	require.Equal(t, []float64{1, 2, 4, 8}, ExpBuckets(1, 2, 10))
}
