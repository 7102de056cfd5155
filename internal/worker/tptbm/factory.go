package tptbm

import (
	"context"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"tptbm/api/tptbmapi"
	"tptbm/internal/worker"
)

// Factory creates the build, run, cleanup and check tasks of one target.
// The most recently created bench backs Status.
type Factory struct {
	cfg     worker.Config
	log     *zap.Logger
	proc    ProcessOptions
	metrics *worker.LazyMetrics[*tptbmMetrics]

	mu     sync.Mutex
	active *Bench
}

var _ worker.TaskFactory[Config] = (*Factory)(nil)

func NewFactory(cfg worker.Config, log *zap.Logger) *Factory {
	return &Factory{
		cfg:     cfg,
		log:     log,
		metrics: nil,
	}
}

func (f *Factory) WithMetrics(r prometheus.Registerer) *Factory {
	f.metrics = worker.NewLazyMetrics(new(tptbmMetrics), r)
	return f
}

func (f *Factory) WithProcessOptions(opts ProcessOptions) *Factory {
	f.proc = opts
	return f
}

func (f *Factory) newBench(cfg Config) *Bench {
	b := New(cfg, f.log).WithProcessOptions(f.proc)
	if f.metrics != nil {
		b.withMetrics(f.metrics.Register())
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.active = b
	return b
}

func (f *Factory) managementOps(pick func(*tptbmMetrics) *worker.ManagementOps) *worker.ManagementOps {
	if f.metrics == nil {
		return nil
	}
	return pick(f.metrics.Register())
}

// Prepare provisions the table.
func (f *Factory) Prepare(cfg Config) (cmd worker.Task, err error) {
	bench := f.newBench(cfg)
	return worker.Task{
		Name:       tptbmapi.TaskBuild,
		CheckReady: bench.Ping,
		Task: func(ctx context.Context) (any, error) {
			ops := f.managementOps(func(m *tptbmMetrics) *worker.ManagementOps { return &m.Build })
			return nil, worker.RunManagementOp(ops, func() error {
				return bench.Build(ctx)
			})
		},
	}, nil
}

func (f *Factory) Cleanup() (cmd worker.Task, err error) {
	bench := f.newBench(f.targetConfig())
	return worker.Task{
		Name:       tptbmapi.TaskCleanup,
		CheckReady: bench.Ping,
		Task: func(ctx context.Context) (any, error) {
			ops := f.managementOps(func(m *tptbmMetrics) *worker.ManagementOps { return &m.Cleanup })
			return nil, worker.RunManagementOp(ops, func() error {
				return bench.Cleanup(ctx)
			})
		},
	}, nil
}

// Check counts the rows of the table. keys sizes the expected count.
func (f *Factory) Check(keys int) (cmd worker.Task, err error) {
	cfg := f.targetConfig()
	cfg.Keys = keys
	bench := f.newBench(cfg)
	return worker.Task{
		Name:       tptbmapi.TaskCheck,
		CheckReady: bench.Ping,
		Task: func(ctx context.Context) (any, error) {
			var res CheckResult
			ops := f.managementOps(func(m *tptbmMetrics) *worker.ManagementOps { return &m.Check })
			err := worker.RunManagementOp(ops, func() (err error) {
				res, err = bench.Check(ctx)
				return err
			})
			return res, err
		},
	}, nil
}

// Run provisions unless disabled and runs the benchmark. The task value is
// a *tptbmapi.Summary, nil for build-only configurations.
func (f *Factory) Run(cfg Config) (cmd worker.Task, err error) {
	bench := f.newBench(cfg)
	return worker.Task{
		Name: tptbmapi.TaskRun,
		Task: func(ctx context.Context) (any, error) {
			if !cfg.NoBuild {
				ops := f.managementOps(func(m *tptbmMetrics) *worker.ManagementOps { return &m.Build })
				if err := worker.RunManagementOp(ops, func() error { return bench.Build(ctx) }); err != nil {
					return nil, err
				}
			}
			if cfg.BuildOnly {
				return (*tptbmapi.Summary)(nil), nil
			}
			return bench.Run(ctx)
		},
	}, nil
}

func (f *Factory) targetConfig() Config {
	return Config{Target: f.cfg.Target, Keys: DefaultKeys}
}

// Status of the most recent task.
func (f *Factory) Status() tptbmapi.RunStatus {
	f.mu.Lock()
	b := f.active
	f.mu.Unlock()

	if b == nil {
		return tptbmapi.RunStatus{Code: tptbmapi.StatusIdle}
	}
	return b.Status()
}

func (f *Factory) WorkerStatus(ordinal int) (tptbmapi.SlotStatus, error) {
	f.mu.Lock()
	b := f.active
	f.mu.Unlock()

	if b == nil {
		return tptbmapi.SlotStatus{}, tptbmapi.ErrorNotFound(errors.New("no active run"))
	}
	return b.WorkerStatus(ordinal)
}
