package worker

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type MetricsGroup interface {
	RegisterMetrics(reg prometheus.Registerer)
}

// LazyMetrics registers its group on first use only, so factories can be
// created with a registerer without polluting it for tasks that never run.
type LazyMetrics[T MetricsGroup] struct {
	init             sync.Once
	singleton        T
	metricsRegistrar prometheus.Registerer
}

func NewLazyMetrics[T MetricsGroup](
	group T,
	metricsRegistrar prometheus.Registerer,
) *LazyMetrics[T] {
	return &LazyMetrics[T]{
		singleton:        group,
		metricsRegistrar: metricsRegistrar,
	}
}

func (m *LazyMetrics[T]) WithRegistrar(r prometheus.Registerer) *LazyMetrics[T] {
	m.metricsRegistrar = r
	return m
}

func (m *LazyMetrics[T]) Register() T {
	m.init.Do(func() {
		if m.metricsRegistrar != nil {
			m.singleton.RegisterMetrics(m.metricsRegistrar)
		}
	})
	return m.singleton
}

// ManagementOps counts and times one kind of management task (build,
// cleanup, check).
type ManagementOps struct {
	Ok       prometheus.Counter
	Err      prometheus.Counter
	Duration prometheus.Histogram
}

func (m *ManagementOps) Register(r prometheus.Registerer, operation string, prefix string) {
	if prefix == "" {
		panic("prefix is empty")
	}
	if !strings.HasSuffix(prefix, "_") {
		prefix = prefix + "_"
	}

	m.Ok = prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "ok",
		Help: "Total number of " + operation + " operations",
	})
	r.MustRegister(m.Ok)

	m.Err = prometheus.NewCounter(prometheus.CounterOpts{
		Name: prefix + "err",
		Help: "Total number of failed " + operation + " operations",
	})
	r.MustRegister(m.Err)

	m.Duration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name: prefix + "duration",
		Help: "Duration of " + operation + " operations",
	})
	r.MustRegister(m.Duration)
}

// RunManagementOp runs fn and records its outcome in ops. A nil ops only
// runs fn.
func RunManagementOp(ops *ManagementOps, fn func() error) error {
	start := time.Now()
	err := fn()
	dur := time.Since(start)

	if ops == nil || ops.Ok == nil {
		return err
	}
	if err == nil {
		ops.Ok.Inc()
		ops.Duration.Observe(dur.Seconds())
	} else {
		ops.Err.Inc()
	}
	return err
}
