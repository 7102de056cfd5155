package tptbm

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"tptbm/api/tptbmapi"
	"tptbm/internal/report"
	"tptbm/internal/worker"
	"tptbm/pkg/dbdriver"
	"tptbm/pkg/syncblock"
	"tptbm/pkg/timeutil"
)

// PasswordEnv carries the password into worker processes.
const PasswordEnv = "TPTBM_PASSWORD"

// Latencies are recorded in microseconds.
const (
	minLatency    = 1
	maxLatency    = int64(time.Minute / time.Microsecond)
	latencyDigits = 3
	logEveryNTxns = 10000
)

type opCounters struct {
	count        int64
	noData       int64
	lockTimeouts int64
	latency      *hdrhistogram.Histogram
}

// Worker runs the transactions of one ordinal on its own connection.
type Worker struct {
	cfg     Config
	ordinal int
	log     *zap.Logger
	metrics *runMetrics

	db      *sql.DB
	dialect *dbdriver.Dialect
	stmts   [numOps]*sql.Stmt
	plan    *planner

	ops        [numOps]opCounters
	committed  int64
	rolledBack int64
}

// NewWorker connects and prepares the worker's statements.
func NewWorker(ctx context.Context, cfg Config, ordinal int, log *zap.Logger, metrics *runMetrics) (*Worker, error) {
	db, d, err := worker.OpenDB(ctx, worker.Config{Target: cfg.Target})
	if err != nil {
		return nil, errors.Wrapf(err, "worker %d", ordinal)
	}

	w := &Worker{
		cfg:     cfg,
		ordinal: ordinal,
		log:     log,
		metrics: metrics,
		db:      db,
		dialect: d,
		plan:    newPlanner(cfg, ordinal),
	}
	for i := range w.ops {
		w.ops[i].latency = hdrhistogram.New(minLatency, maxLatency, latencyDigits)
	}

	queries := [numOps]string{
		OpRead:   sqlSelect,
		OpUpdate: sqlUpdate,
		OpInsert: sqlInsert,
		OpDelete: sqlDelete,
	}
	for op, q := range queries {
		stmt, err := db.PrepareContext(ctx, d.Rebind(q))
		if err != nil {
			w.Close()
			return nil, errors.Wrapf(err, "worker %d: prepare %s", ordinal, Op(op))
		}
		w.stmts[op] = stmt
	}
	return w, nil
}

func (w *Worker) Close() error {
	var err error
	for _, stmt := range w.stmts {
		if stmt != nil {
			err = errors.CombineErrors(err, stmt.Close())
		}
	}
	return errors.CombineErrors(err, w.db.Close())
}

// Run executes the configured number of transactions. The first error that
// is neither "no data" nor a lock timeout ends the run.
func (w *Worker) Run(ctx context.Context) error {
	steps := make([]Step, 0, w.cfg.MaxOps*len(multiOpGroup))
	for i := range w.cfg.Transactions {
		steps = w.plan.NextTxn(steps)
		if err := w.runTxn(ctx, i, steps); err != nil {
			return err
		}
		if n := i + 1; n%logEveryNTxns == 0 {
			w.log.Debug("progress", zap.Int("transactions", n))
		}
	}
	return nil
}

func (w *Worker) runTxn(ctx context.Context, txn int, steps []Step) error {
	tx, err := w.db.BeginTx(ctx, nil)
	switch w.dialect.Classify(err) {
	case dbdriver.OK:
	case dbdriver.LockTimeout:
		w.log.Warn("lock timeout on begin", zap.Int("transaction", txn), zap.Error(err))
		w.rolledBack++
		w.metrics.observeTxn(false)
		return nil
	default:
		return errors.Wrapf(err, "worker %d: transaction %d: begin", w.ordinal, txn)
	}
	defer tx.Rollback()

	for _, s := range steps {
		if err := timeutil.Sleep(ctx, w.cfg.ThinkTime); err != nil {
			return err
		}

		outcome, err := w.exec(ctx, tx, s)
		switch outcome {
		case dbdriver.OK, dbdriver.NoData:
		case dbdriver.LockTimeout:
			w.log.Warn("lock timeout, rolling back",
				zap.Int("transaction", txn), zap.Stringer("op", s.Op), zap.Stringer("key", s.Key), zap.Error(err))
			return w.rollback(tx, txn)
		default:
			return errors.Wrapf(err, "worker %d: transaction %d: %s %s", w.ordinal, txn, s.Op, s.Key)
		}
	}

	err = tx.Commit()
	switch w.dialect.Classify(err) {
	case dbdriver.OK:
		w.committed++
		w.metrics.observeTxn(true)
		return nil
	case dbdriver.LockTimeout:
		w.log.Warn("lock timeout on commit", zap.Int("transaction", txn), zap.Error(err))
		w.rolledBack++
		w.metrics.observeTxn(false)
		return nil
	default:
		return errors.Wrapf(err, "worker %d: transaction %d: commit", w.ordinal, txn)
	}
}

func (w *Worker) rollback(tx *sql.Tx, txn int) error {
	w.rolledBack++
	w.metrics.observeTxn(false)
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return errors.Wrapf(err, "worker %d: transaction %d: rollback", w.ordinal, txn)
	}
	return nil
}

func (w *Worker) exec(ctx context.Context, tx *sql.Tx, s Step) (dbdriver.Outcome, error) {
	stmt := tx.StmtContext(ctx, w.stmts[s.Op])
	defer stmt.Close()

	k := s.Key
	start := time.Now()

	var outcome dbdriver.Outcome
	var err error
	switch s.Op {
	case OpRead:
		var dir, party, descr string
		err = stmt.QueryRowContext(ctx, k.ID, k.NB).Scan(&dir, &party, &descr)
		outcome = w.dialect.Classify(err)
	case OpUpdate:
		res, execErr := stmt.ExecContext(ctx, callingParty(k), k.ID, k.NB)
		outcome, err = w.dialect.ClassifyResult(res, execErr)
	case OpInsert:
		res, execErr := stmt.ExecContext(ctx, k.ID, k.NB, directoryNumber(k), initialCallingParty, description(k))
		outcome, err = w.dialect.ClassifyResult(res, execErr)
	case OpDelete:
		res, execErr := stmt.ExecContext(ctx, k.ID, k.NB)
		outcome, err = w.dialect.ClassifyResult(res, execErr)
	default:
		return dbdriver.Failed, errors.Newf("unknown operation %d", s.Op)
	}

	w.record(s.Op, outcome, time.Since(start))
	return outcome, err
}

func (w *Worker) record(op Op, outcome dbdriver.Outcome, d time.Duration) {
	c := &w.ops[op]
	switch outcome {
	case dbdriver.OK:
	case dbdriver.NoData:
		c.noData++
	case dbdriver.LockTimeout:
		c.lockTimeouts++
	default:
		return
	}
	c.count++
	us := min(max(d.Microseconds(), minLatency), maxLatency)
	_ = c.latency.RecordValue(us)
	w.metrics.observeOp(op, outcome, d)
}

// Result reports the worker's counters. Operations never issued are left
// out.
func (w *Worker) Result() tptbmapi.WorkerResult {
	r := tptbmapi.WorkerResult{
		Ordinal:    w.ordinal,
		Committed:  w.committed,
		RolledBack: w.rolledBack,
	}
	for _, op := range allOps {
		c := &w.ops[op]
		if c.count == 0 {
			continue
		}
		r.Ops = append(r.Ops, tptbmapi.OpResult{
			Operation:    op.String(),
			Count:        c.count,
			NoData:       c.noData,
			LockTimeouts: c.lockTimeouts,
			Latency:      c.latency.Export(),
		})
	}
	return r
}

// RunWorker takes one ordinal through the start barrier: connect and
// prepare, attach, wait for the release, run, mark done.
func RunWorker(
	ctx context.Context,
	cfg Config,
	ordinal int,
	block *syncblock.Block,
	log *zap.Logger,
	metrics *runMetrics,
) (result tptbmapi.WorkerResult, err error) {
	log = log.With(zap.Int("worker", ordinal))

	w, err := NewWorker(ctx, cfg, ordinal, log, metrics)
	if err != nil {
		return result, err
	}
	defer func() {
		err = errors.CombineErrors(err, w.Close())
	}()

	if err := block.Attach(ordinal); err != nil {
		return result, err
	}
	log.Debug("attached, waiting for start")
	if err := block.WaitReady(ctx, ordinal); err != nil {
		return result, errors.Wrapf(err, "worker %d: wait for start", ordinal)
	}

	start := time.Now()
	err = w.Run(ctx)
	result = w.Result()
	result.Elapsed = tptbmapi.Duration{Duration: time.Since(start)}
	if err != nil {
		return result, err
	}

	log.Debug("done", zap.Int64("committed", result.Committed), zap.Int64("rolled_back", result.RolledBack))
	return result, block.MarkDone(ordinal)
}

func ReadWorkerSpec(r io.Reader) (tptbmapi.WorkerSpec, error) {
	var spec tptbmapi.WorkerSpec
	if err := json.NewDecoder(r).Decode(&spec); err != nil {
		return spec, errors.Wrap(err, "read worker spec")
	}
	return spec, nil
}

// ServeWorker runs one worker on behalf of an orchestrator in another
// process and writes its result, including this process's CPU time, to out.
func ServeWorker(
	ctx context.Context,
	spec tptbmapi.WorkerSpec,
	ordinal int,
	password string,
	out io.Writer,
	log *zap.Logger,
) error {
	spec.Benchmark.Target.Password = &password
	cfg, err := ConfigFromAPI(&spec.Benchmark)
	if err != nil {
		return err
	}
	if ordinal < 1 || ordinal > cfg.Processes {
		return errors.Newf("worker ordinal %d out of range [1,%d]", ordinal, cfg.Processes)
	}

	block, err := syncblock.Open(spec.BlockPath)
	if err != nil {
		return err
	}
	defer block.Close()
	block.SetPollInterval(cfg.PollInterval)

	log = log.With(zap.String("run", spec.RunID))
	result, err := RunWorker(ctx, cfg, ordinal, block, log, nil)
	if err != nil {
		return err
	}

	result.CPU = tptbmapi.Duration{Duration: report.CPUTime()}
	return json.NewEncoder(out).Encode(result)
}
