package tptbm

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"tptbm/api/tptbmapi"
	"tptbm/internal/worker"
	"tptbm/pkg/dbdriver"
	"tptbm/pkg/stats"
)

type tptbmMetrics struct {
	Build   worker.ManagementOps
	Cleanup worker.ManagementOps
	Check   worker.ManagementOps
	Run     runMetrics
}

func (m *tptbmMetrics) RegisterMetrics(r prometheus.Registerer) {
	m.Build.Register(r, "build", "tptbm_build_")
	m.Cleanup.Register(r, "cleanup", "tptbm_cleanup_")
	m.Check.Register(r, "check", "tptbm_check_")
	m.Run.Register(r)
}

// runMetrics covers in-process workers live and the merged result of every
// worker once a run finished.
type runMetrics struct {
	Ops          *prometheus.CounterVec
	Latency      *prometheus.HistogramVec
	Transactions *prometheus.CounterVec
	Workers      *prometheus.GaugeVec

	SummaryStats summaryStats
}

func (m *runMetrics) Register(r prometheus.Registerer) {
	name := func(n string) string { return "tptbm_" + n }

	m.Ops = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: name("ops_total"),
		Help: "SQL operations executed by in-process workers",
	}, []string{"op", "outcome"})
	r.MustRegister(m.Ops)

	m.Latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    name("op_latency_seconds"),
		Help:    "SQL operation latency of in-process workers",
		Buckets: prometheus.ExponentialBuckets(0.00001, 2, 22),
	}, []string{"op"})
	r.MustRegister(m.Latency)

	m.Transactions = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: name("transactions_total"),
		Help: "Transactions finished by in-process workers",
	}, []string{"outcome"})
	r.MustRegister(m.Transactions)

	m.Workers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: name("workers"),
		Help: "Workers per synchronization state",
	}, []string{"state"})
	r.MustRegister(m.Workers)

	m.SummaryStats.Register(r)
}

func (m *runMetrics) observeOp(op Op, outcome dbdriver.Outcome, d time.Duration) {
	if m == nil {
		return
	}
	m.Ops.WithLabelValues(op.String(), outcome.String()).Inc()
	m.Latency.WithLabelValues(op.String()).Observe(d.Seconds())
}

func (m *runMetrics) observeTxn(committed bool) {
	if m == nil {
		return
	}
	if committed {
		m.Transactions.WithLabelValues("committed").Inc()
	} else {
		m.Transactions.WithLabelValues("rolled_back").Inc()
	}
}

type summaryStats struct {
	TPS             prometheus.Histogram
	TPM             prometheus.Histogram
	ElapsedSeconds  prometheus.Histogram
	OpMetricsCount  *prometheus.HistogramVec
	OpMetricsAvg    *prometheus.HistogramVec
	OpMetricsMedian *prometheus.HistogramVec
	OpMetricsP99    *prometheus.HistogramVec
	OpMetricsMax    *prometheus.HistogramVec
}

func (m *summaryStats) Register(r prometheus.Registerer) {
	name := func(n string) string { return "tptbm_summary_" + n }
	rateBuckets := stats.ExpBuckets(1, 1.3, 10_000_000)
	latencyBuckets := stats.ExpBuckets(0.001, 1.5, 60_000)

	m.TPS = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    name("tps"),
		Help:    "Transactions per second of finished runs",
		Buckets: rateBuckets,
	})
	r.MustRegister(m.TPS)

	m.TPM = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    name("tpm"),
		Help:    "Transactions per minute of finished runs",
		Buckets: rateBuckets,
	})
	r.MustRegister(m.TPM)

	m.ElapsedSeconds = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    name("elapsed_seconds"),
		Help:    "Measured interval of finished runs",
		Buckets: prometheus.ExponentialBuckets(1, 2, 16),
	})
	r.MustRegister(m.ElapsedSeconds)

	opLabels := []string{"op"}
	opHist := func(n, help string, buckets []float64) *prometheus.HistogramVec {
		h := prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    name(n),
			Help:    help,
			Buckets: buckets,
		}, opLabels)
		r.MustRegister(h)
		return h
	}
	m.OpMetricsCount = opHist("op_count", "Operations per finished run", rateBuckets)
	m.OpMetricsAvg = opHist("op_avg_ms", "Average operation latency per finished run", latencyBuckets)
	m.OpMetricsMedian = opHist("op_median_ms", "Median operation latency per finished run", latencyBuckets)
	m.OpMetricsP99 = opHist("op_p99_ms", "99th percentile operation latency per finished run", latencyBuckets)
	m.OpMetricsMax = opHist("op_max_ms", "Maximum operation latency per finished run", latencyBuckets)
}

func (m *summaryStats) Observe(s *tptbmapi.Summary) {
	m.TPS.Observe(float64(s.TPS))
	m.TPM.Observe(float64(s.TPM))
	m.ElapsedSeconds.Observe(s.Elapsed.Seconds())
	for _, op := range s.Ops {
		labels := []string{op.Operation}
		m.OpMetricsCount.WithLabelValues(labels...).Observe(float64(op.Count))
		m.OpMetricsAvg.WithLabelValues(labels...).Observe(op.Avg)
		m.OpMetricsMedian.WithLabelValues(labels...).Observe(op.Median)
		m.OpMetricsP99.WithLabelValues(labels...).Observe(op.P99)
		m.OpMetricsMax.WithLabelValues(labels...).Observe(op.Max)
	}
}
