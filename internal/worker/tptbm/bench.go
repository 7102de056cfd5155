package tptbm

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/xid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"tptbm/api/tptbmapi"
	"tptbm/internal/report"
	"tptbm/internal/worker"
	"tptbm/internal/worker/pool"
	"tptbm/pkg/syncblock"
	"tptbm/pkg/timeutil"
)

const progressPeriod = 10 * time.Second

// ProcessOptions configure how worker processes are started. The
// orchestrator adds the worker spec, the password and the ordinal.
type ProcessOptions struct {
	Executable string
	Args       []string
	Env        []string
	Stderr     io.Writer
	LogLevel   string
	LogFormat  string

	// BlockDir holds the synchronization block file. Default: os.TempDir().
	BlockDir string
}

// Bench orchestrates one benchmark configuration: provisioning, the worker
// barrier, timing and the summary.
type Bench struct {
	cfg     Config
	log     *zap.Logger
	metrics *tptbmMetrics
	proc    ProcessOptions

	mu     sync.Mutex
	status tptbmapi.RunStatus
	block  *syncblock.Block
}

func New(cfg Config, log *zap.Logger) *Bench {
	return &Bench{
		cfg:    cfg,
		log:    log,
		status: tptbmapi.RunStatus{Code: tptbmapi.StatusIdle},
	}
}

func (b *Bench) WithProcessOptions(opts ProcessOptions) *Bench {
	b.proc = opts
	return b
}

func (b *Bench) withMetrics(m *tptbmMetrics) *Bench {
	b.metrics = m
	return b
}

func (b *Bench) Config() Config { return b.cfg }

func (b *Bench) runMetrics() *runMetrics {
	if b.metrics == nil {
		return nil
	}
	return &b.metrics.Run
}

// Ping checks that the target accepts connections.
func (b *Bench) Ping(ctx context.Context) (bool, error) {
	db, _, err := worker.OpenDB(ctx, worker.Config{Target: b.cfg.Target})
	if err != nil {
		return false, err
	}
	return true, db.Close()
}

// Build provisions the table.
func (b *Bench) Build(ctx context.Context) error {
	db, d, err := worker.OpenDB(ctx, worker.Config{Target: b.cfg.Target})
	if err != nil {
		return err
	}
	defer db.Close()

	b.setTask(tptbmapi.TaskBuild, "")
	return b.finish(Provision(ctx, db, d, b.cfg.Keys, b.cfg.Index, b.log))
}

func (b *Bench) Cleanup(ctx context.Context) error {
	db, d, err := worker.OpenDB(ctx, worker.Config{Target: b.cfg.Target})
	if err != nil {
		return err
	}
	defer db.Close()

	b.setTask(tptbmapi.TaskCleanup, "")
	return b.finish(DropTable(ctx, db, d))
}

// CheckResult is reported by the check task.
type CheckResult struct {
	Driver string `json:"driver"`
	Table  string `json:"table"`
	Rows   int64  `json:"rows"`

	// Expected is keys*keys, the size of a freshly built table.
	Expected int64 `json:"expected"`
}

func (b *Bench) Check(ctx context.Context) (CheckResult, error) {
	db, d, err := worker.OpenDB(ctx, worker.Config{Target: b.cfg.Target})
	if err != nil {
		return CheckResult{}, err
	}
	defer db.Close()

	b.setTask(tptbmapi.TaskCheck, "")
	n, err := CountRows(ctx, db)
	if err := b.finish(err); err != nil {
		return CheckResult{}, err
	}
	return CheckResult{
		Driver:   d.Name,
		Table:    TableName,
		Rows:     n,
		Expected: int64(b.cfg.Keys) * int64(b.cfg.Keys),
	}, nil
}

// Execute provisions the table unless disabled and runs the benchmark. It
// returns a nil summary when only the build was requested.
func (b *Bench) Execute(ctx context.Context) (*tptbmapi.Summary, error) {
	if !b.cfg.NoBuild {
		if err := b.Build(ctx); err != nil {
			return nil, err
		}
	}
	if b.cfg.BuildOnly {
		return nil, nil
	}
	return b.Run(ctx)
}

// Run starts all workers, releases them together once every worker is
// connected and measures the interval until the last one is done.
func (b *Bench) Run(ctx context.Context) (summary *tptbmapi.Summary, err error) {
	n := b.cfg.Processes
	runID := xid.New().String()
	log := b.log.With(zap.String("run", runID))

	processes := b.cfg.Spawn == tptbmapi.SpawnProcess && n > 1
	var block *syncblock.Block
	if processes {
		block, err = syncblock.Create(b.proc.BlockDir, "tptbm-"+runID, n)
	} else {
		block, err = syncblock.NewMemory(n)
	}
	if err != nil {
		return nil, errors.Wrap(err, "allocate synchronization block")
	}
	block.SetPollInterval(b.cfg.PollInterval)
	defer func() {
		err = errors.CombineErrors(err, block.Close())
	}()

	b.setRun(runID, block)
	defer func() { b.finish(err) }()

	threads := pool.NewThreadPool(func(ctx context.Context, ordinal int) (tptbmapi.WorkerResult, error) {
		return RunWorker(ctx, b.cfg, ordinal, block, log, b.runMetrics())
	}, log)

	var others pool.Pool = threads
	if processes {
		others, err = b.processPool(runID, block.Path(), log)
		if err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	eg, ctx := errgroup.WithContext(ctx)

	log.Info("starting workers",
		zap.Int("workers", n), zap.String("spawn", string(b.cfg.Spawn)), zap.String("driver", b.cfg.Target.Driver))

	results := make([]tptbmapi.WorkerResult, n)
	for ordinal := 1; ordinal <= n; ordinal++ {
		var p pool.Pool = threads
		if ordinal > 1 {
			p = others
		}

		h, err := p.Spawn(ctx, ordinal)
		if err != nil {
			cancel()
			return nil, errors.CombineErrors(err, eg.Wait())
		}
		eg.Go(func() error {
			res, err := h.Wait()
			results[h.Ordinal()-1] = res
			return err
		})
	}

	var start, end report.Snapshot
	progressCtx, stopProgress := context.WithCancel(ctx)
	defer stopProgress()

	eg.Go(func() error {
		defer stopProgress()
		if err := block.WaitAllAttached(ctx); err != nil {
			return errors.Wrap(err, "wait for workers to attach")
		}
		block.ReleaseAll()
		start = report.Now()
		log.Info("all workers attached, started")

		if err := block.WaitAllDone(ctx); err != nil {
			return errors.Wrap(err, "wait for workers to finish")
		}
		end = report.Now()
		return nil
	})

	eg.Go(func() error {
		for range timeutil.IterTick(progressCtx, progressPeriod) {
			b.logProgress(log, block)
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		return nil, err
	}

	summary, err = report.Summarize(b.summaryBase(runID), start, end, results)
	if err != nil {
		return nil, err
	}
	if b.metrics != nil {
		b.metrics.Run.SummaryStats.Observe(summary)
	}
	log.Info("run finished", zap.Float64("tps", float64(summary.TPS)), zap.Duration("elapsed", summary.Elapsed.Duration))
	return summary, nil
}

func (b *Bench) processPool(runID, blockPath string, log *zap.Logger) (*pool.ProcessPool, error) {
	spec := tptbmapi.WorkerSpec{
		RunID:     runID,
		BlockPath: blockPath,
		Benchmark: b.cfg.API(),
		LogLevel:  b.proc.LogLevel,
		LogFormat: b.proc.LogFormat,
	}
	input, err := json.Marshal(spec)
	if err != nil {
		return nil, errors.Wrap(err, "encode worker spec")
	}

	env := append([]string{PasswordEnv + "=" + b.cfg.Target.Password}, b.proc.Env...)
	return pool.NewProcessPool(pool.ProcessOptions{
		Executable: b.proc.Executable,
		Args:       b.proc.Args,
		Env:        env,
		Stderr:     b.proc.Stderr,
		Input: func(int) ([]byte, error) {
			return input, nil
		},
	}, log)
}

func (b *Bench) summaryBase(runID string) tptbmapi.Summary {
	return tptbmapi.Summary{
		RunID:        runID,
		Driver:       b.cfg.Target.Driver,
		Processes:    b.cfg.Processes,
		Transactions: b.cfg.Transactions,
		OpsPerTxn:    b.cfg.OpsPerTxn(),
		MultiOp:      b.cfg.MultiOp,
		Mix:          b.cfg.Mix,
		Keys:         b.cfg.Keys,
		Seed:         b.cfg.Seed,
	}
}

func (b *Bench) logProgress(log *zap.Logger, block *syncblock.Block) {
	counts := map[syncblock.State]int{}
	for _, s := range block.States() {
		counts[s]++
	}
	if m := b.runMetrics(); m != nil {
		for _, s := range []syncblock.State{syncblock.Idle, syncblock.Attached, syncblock.Ready, syncblock.Done} {
			m.Workers.WithLabelValues(s.String()).Set(float64(counts[s]))
		}
	}
	log.Info("progress",
		zap.Int("attached", counts[syncblock.Attached]),
		zap.Int("running", counts[syncblock.Ready]),
		zap.Int("done", counts[syncblock.Done]))
}

func (b *Bench) setTask(task tptbmapi.TaskName, runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.status = tptbmapi.RunStatus{RunID: runID, Task: task, Code: tptbmapi.StatusBusy}
}

func (b *Bench) setRun(runID string, block *syncblock.Block) {
	b.setTask(tptbmapi.TaskRun, runID)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.block = block
}

func (b *Bench) finish(err error) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.block = nil
	b.status.Code = tptbmapi.StatusStopped
	b.status.Workers = nil
	if err != nil {
		b.status.Code = tptbmapi.StatusFailed
		b.status.Error = err.Error()
	}
	return err
}

// Status reports the current task and, while a run is active, every worker
// slot.
func (b *Bench) Status() tptbmapi.RunStatus {
	b.mu.Lock()
	defer b.mu.Unlock()

	status := b.status
	if b.block != nil {
		for i, s := range b.block.States() {
			status.Workers = append(status.Workers, tptbmapi.SlotStatus{Ordinal: i + 1, State: s.String()})
		}
	}
	return status
}

// WorkerStatus reports one slot of the active run.
func (b *Bench) WorkerStatus(ordinal int) (tptbmapi.SlotStatus, error) {
	status := b.Status()
	for _, w := range status.Workers {
		if w.Ordinal == ordinal {
			return w, nil
		}
	}
	return tptbmapi.SlotStatus{}, tptbmapi.ErrorNotFound(errors.Newf("no worker %d in the active run", ordinal))
}
