package tptbm

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"tptbm/api/tptbmapi"
	"tptbm/internal/worker"
	"tptbm/pkg/dbdriver"
	"tptbm/pkg/syncblock"
)

const testWorkerEnv = "TPTBM_TEST_WORKER"

// TestMain doubles as the worker process of the process mode tests.
func TestMain(m *testing.M) {
	if os.Getenv(testWorkerEnv) == "1" {
		os.Exit(serveTestWorker())
	}
	os.Exit(m.Run())
}

func serveTestWorker() int {
	ordinal := 0
	for i, arg := range os.Args {
		if arg == "--ordinal" && i+1 < len(os.Args) {
			ordinal, _ = strconv.Atoi(os.Args[i+1])
		}
	}

	spec, err := ReadWorkerSpec(os.Stdin)
	if err == nil {
		err = ServeWorker(context.Background(), spec, ordinal, os.Getenv(PasswordEnv), os.Stdout, zap.NewNop())
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%+v\n", err)
		return 1
	}
	return 0
}

func newTestConfig(t *testing.T, modify func(*tptbmapi.BenchmarkSpec)) Config {
	t.Helper()
	spec := sqliteSpec(t)
	spec.Keys = ptr(10)
	spec.Transactions = ptr(100)
	if modify != nil {
		modify(spec)
	}
	cfg, err := ConfigFromAPI(spec)
	require.NoError(t, err)
	return cfg
}

func countRows(t *testing.T, cfg Config) int64 {
	t.Helper()
	db, _, err := dbdriver.Open(context.Background(), cfg.Target)
	require.NoError(t, err)
	defer db.Close()

	n, err := CountRows(context.Background(), db)
	require.NoError(t, err)
	return n
}

func opsByName(s *tptbmapi.Summary) map[string]tptbmapi.OpStats {
	ops := map[string]tptbmapi.OpStats{}
	for _, op := range s.Ops {
		ops[op.Operation] = op
	}
	return ops
}

func TestProvisionIdempotent(t *testing.T) {
	cfg := newTestConfig(t, nil)
	ctx := context.Background()

	db, d, err := dbdriver.Open(ctx, cfg.Target)
	require.NoError(t, err)
	defer db.Close()

	for range 2 {
		require.NoError(t, Provision(ctx, db, d, cfg.Keys, cfg.Index, zap.NewNop()))
		n, err := CountRows(ctx, db)
		require.NoError(t, err)
		require.Equal(t, int64(100), n)
	}

	var dir, party, descr string
	require.NoError(t, db.QueryRowContext(ctx, sqlSelect, 3, 7).Scan(&dir, &party, &descr))
	require.Equal(t, "5537", dir)
	require.Equal(t, initialCallingParty, party)
	require.Equal(t, "<place holder for description of VPN 3 extension 7>", descr)

	require.NoError(t, DropTable(ctx, db, d))
	require.NoError(t, DropTable(ctx, db, d))
	_, err = CountRows(ctx, db)
	require.Error(t, err)
}

func TestRunEndToEnd(t *testing.T) {
	cfg := newTestConfig(t, func(s *tptbmapi.BenchmarkSpec) {
		s.Transactions = ptr(1000)
		s.Keys = ptr(100)
		s.Seed = tptbmapi.Ptr[int64](7)
		s.Read, s.Update = ptr(80), ptr(20)
	})

	summary, err := New(cfg, zap.NewNop()).Execute(context.Background())
	require.NoError(t, err)
	require.NotNil(t, summary)

	require.Equal(t, 1, summary.Processes)
	require.Equal(t, 1000, summary.Transactions)
	require.Equal(t, "1", summary.OpsPerTxn)
	require.Equal(t, int64(1000), summary.Committed+summary.RolledBack)
	require.GreaterOrEqual(t, summary.ElapsedMillis, int64(1000))
	require.Positive(t, float64(summary.TPS))
	require.InDelta(t, float64(summary.TPS)*60, float64(summary.TPM), 1e-6)

	ops := opsByName(summary)
	require.Equal(t, int64(1000), ops["read"].Count+ops["update"].Count)
	require.Zero(t, ops["read"].NoData)
	require.Zero(t, ops["update"].NoData)
	require.NotContains(t, ops, "insert")

	require.Equal(t, int64(100*100), countRows(t, cfg))
}

func TestRunMultiOp(t *testing.T) {
	cfg := newTestConfig(t, func(s *tptbmapi.BenchmarkSpec) {
		s.MultiOp = tptbmapi.Ptr(true)
		s.Transactions = ptr(20)
	})

	summary, err := New(cfg, zap.NewNop()).Execute(context.Background())
	require.NoError(t, err)

	ops := opsByName(summary)
	require.Equal(t, int64(20), ops["insert"].Count)
	require.Equal(t, int64(60), ops["read"].Count)
	require.Equal(t, int64(20), ops["update"].Count)
	require.Zero(t, ops["insert"].NoData)
	require.True(t, summary.MultiOp)

	require.Equal(t, int64(100+20), countRows(t, cfg))
}

func TestRunInsertsAndDeletes(t *testing.T) {
	cfg := newTestConfig(t, func(s *tptbmapi.BenchmarkSpec) {
		s.Processes = ptr(3)
		s.Keys = ptr(20)
		s.Transactions = ptr(50)
		s.MaxOps = ptr(2)
		s.Read, s.Update, s.Insert, s.Delete = ptr(40), ptr(20), ptr(20), ptr(20)
	})

	summary, err := New(cfg, zap.NewNop()).Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(150), summary.Committed+summary.RolledBack)

	ops := opsByName(summary)
	inserted := ops["insert"].Count - ops["insert"].NoData
	deleted := ops["delete"].Count - ops["delete"].NoData
	require.Zero(t, ops["insert"].NoData)
	require.Equal(t, int64(400)+inserted-deleted, countRows(t, cfg))
}

func TestRunToleratesBusyBegin(t *testing.T) {
	busy := dbdriver.SQLiteBusyTimeoutMillis
	dbdriver.SQLiteBusyTimeoutMillis = 20
	t.Cleanup(func() { dbdriver.SQLiteBusyTimeoutMillis = busy })

	cfg := newTestConfig(t, func(s *tptbmapi.BenchmarkSpec) {
		s.Processes = ptr(2)
		s.Transactions = ptr(5)
		s.MinOps, s.MaxOps = ptr(2), ptr(2)
		s.ThinkTimeMillis = ptr(50)
	})

	summary, err := New(cfg, zap.NewNop()).Execute(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(10), summary.Committed+summary.RolledBack)
	require.Positive(t, summary.RolledBack)
}

func TestRunNoBuildReusesTable(t *testing.T) {
	cfg := newTestConfig(t, func(s *tptbmapi.BenchmarkSpec) {
		s.BuildOnly = tptbmapi.Ptr(true)
	})
	summary, err := New(cfg, zap.NewNop()).Execute(context.Background())
	require.NoError(t, err)
	require.Nil(t, summary)
	require.Equal(t, int64(100), countRows(t, cfg))

	cfg.BuildOnly = false
	cfg.NoBuild = true
	cfg.Mix = tptbmapi.Mix{Read: 100}
	summary, err = New(cfg, zap.NewNop()).Execute(context.Background())
	require.NoError(t, err)
	require.Zero(t, opsByName(summary)["read"].NoData)
}

func TestRunWithoutTableFails(t *testing.T) {
	cfg := newTestConfig(t, func(s *tptbmapi.BenchmarkSpec) {
		s.NoBuild = tptbmapi.Ptr(true)
	})

	b := New(cfg, zap.NewNop())
	_, err := b.Execute(context.Background())
	require.ErrorContains(t, err, "worker 1")

	status := b.Status()
	require.Equal(t, tptbmapi.StatusFailed, status.Code)
	require.NotEmpty(t, status.Error)
}

func TestRunProcesses(t *testing.T) {
	if !syncblock.Shared() {
		t.Skip("process workers need a shared synchronization block")
	}

	exe, err := os.Executable()
	require.NoError(t, err)

	cfg := newTestConfig(t, func(s *tptbmapi.BenchmarkSpec) {
		s.Processes = ptr(3)
		s.Spawn = tptbmapi.Ptr(tptbmapi.SpawnProcess)
	})

	b := New(cfg, zap.NewNop()).WithProcessOptions(ProcessOptions{
		Executable: exe,
		Env:        []string{testWorkerEnv + "=1"},
		BlockDir:   t.TempDir(),
	})
	summary, err := b.Execute(context.Background())
	require.NoError(t, err)

	require.Equal(t, 3, summary.Processes)
	require.Equal(t, int64(300), summary.Committed+summary.RolledBack)
	ops := opsByName(summary)
	require.Equal(t, int64(300), ops["read"].Count+ops["update"].Count)
	require.Equal(t, tptbmapi.StatusStopped, b.Status().Code)
}

func TestFactoryTasks(t *testing.T) {
	cfg := newTestConfig(t, func(s *tptbmapi.BenchmarkSpec) {
		s.Transactions = ptr(10)
	})
	reg := prometheus.NewRegistry()
	f := NewFactory(worker.Config{Target: cfg.Target}, zap.NewNop()).WithMetrics(reg)
	ctx := context.Background()

	require.Equal(t, tptbmapi.StatusIdle, f.Status().Code)

	task, err := f.Prepare(cfg)
	require.NoError(t, err)
	require.Equal(t, tptbmapi.TaskBuild, task.Name)
	_, err = task.Exec(ctx)
	require.NoError(t, err)

	task, err = f.Check(cfg.Keys)
	require.NoError(t, err)
	v, err := task.Exec(ctx)
	require.NoError(t, err)
	require.Equal(t, CheckResult{Driver: "sqlite", Table: TableName, Rows: 100, Expected: 100}, v)

	cfg.NoBuild = true
	task, err = f.Run(cfg)
	require.NoError(t, err)
	v, err = task.Exec(ctx)
	require.NoError(t, err)
	summary := v.(*tptbmapi.Summary)
	require.Equal(t, int64(10), summary.Committed)

	status := f.Status()
	require.Equal(t, tptbmapi.TaskRun, status.Task)
	require.Equal(t, tptbmapi.StatusStopped, status.Code)
	_, err = f.WorkerStatus(1)
	require.Error(t, err)

	task, err = f.Cleanup()
	require.NoError(t, err)
	_, err = task.Exec(ctx)
	require.NoError(t, err)

	metrics := f.metrics.Register()
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.Build.Ok))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.Check.Ok))
	require.Equal(t, 1.0, testutil.ToFloat64(metrics.Cleanup.Ok))
	require.Equal(t, 10.0, testutil.ToFloat64(metrics.Run.Transactions.WithLabelValues("committed")))
	require.Equal(t, 1, testutil.CollectAndCount(metrics.Run.SummaryStats.TPS))
}
