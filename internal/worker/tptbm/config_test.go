package tptbm

import (
	"path/filepath"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"

	"tptbm/api/tptbmapi"
	"tptbm/pkg/dbdriver"
)

var ptr = tptbmapi.Ptr[int]

func sqliteSpec(t *testing.T) *tptbmapi.BenchmarkSpec {
	t.Helper()
	return &tptbmapi.BenchmarkSpec{
		Target: tptbmapi.TargetSpec{
			Driver:  tptbmapi.Ptr("sqlite"),
			Service: tptbmapi.Ptr(filepath.Join(t.TempDir(), "tptbm.db")),
		},
		Spawn:              tptbmapi.Ptr(tptbmapi.SpawnThread),
		PollIntervalMillis: ptr(5),
	}
}

func requireConfigError(t *testing.T, err error, field string) {
	t.Helper()
	var cfgErr *tptbmapi.ConfigError
	require.True(t, errors.As(err, &cfgErr), "expected config error, got %v", err)
	require.Equal(t, field, cfgErr.Field)
}

func TestConfigDefaults(t *testing.T) {
	cfg, err := ConfigFromAPI(sqliteSpec(t))
	require.NoError(t, err)

	require.Equal(t, tptbmapi.Mix{Read: 80, Update: 20}, cfg.Mix)
	require.Equal(t, 1, cfg.Processes)
	require.Equal(t, DefaultTransactions, cfg.Transactions)
	require.Equal(t, DefaultKeys, cfg.Keys)
	require.Equal(t, int64(DefaultSeed), cfg.Seed)
	require.Equal(t, dbdriver.IndexHash, cfg.Index)
	require.Equal(t, "1", cfg.OpsPerTxn())
}

func TestConfigPercentagesMustSumTo100(t *testing.T) {
	spec := sqliteSpec(t)
	spec.Read = ptr(70)
	spec.Update = ptr(20)
	_, err := ConfigFromAPI(spec)
	require.ErrorContains(t, err, "sum to 90")

	spec.Insert = ptr(10)
	cfg, err := ConfigFromAPI(spec)
	require.NoError(t, err)
	require.Equal(t, tptbmapi.Mix{Read: 70, Update: 20, Insert: 10}, cfg.Mix)

	spec.Read = ptr(170)
	_, err = ConfigFromAPI(spec)
	requireConfigError(t, err, "read")
}

func TestConfigSwapsMinMax(t *testing.T) {
	spec := sqliteSpec(t)
	spec.MinOps = ptr(5)
	spec.MaxOps = ptr(2)
	cfg, err := ConfigFromAPI(spec)
	require.NoError(t, err)
	require.Equal(t, 2, cfg.MinOps)
	require.Equal(t, 5, cfg.MaxOps)
	require.Equal(t, "2-5", cfg.OpsPerTxn())
}

func TestConfigInsertVolume(t *testing.T) {
	spec := sqliteSpec(t)
	spec.Keys = ptr(10)
	spec.Insert = ptr(100)
	spec.Transactions = ptr(100)

	cfg, err := ConfigFromAPI(spec)
	require.NoError(t, err)
	require.Equal(t, int64(100), cfg.InsertsPerWorker())
	require.Equal(t, int64(100), cfg.InsertCapacity())

	spec.Transactions = ptr(101)
	_, err = ConfigFromAPI(spec)
	requireConfigError(t, err, "insert")

	// Three workers split ten vpn_ids 4/3/3, so the last one owns 30 keys.
	spec.Processes = ptr(3)
	spec.Transactions = ptr(33)
	_, err = ConfigFromAPI(spec)
	requireConfigError(t, err, "insert")

	spec.Transactions = ptr(30)
	cfg, err = ConfigFromAPI(spec)
	require.NoError(t, err)
	require.Equal(t, int64(30), cfg.InsertCapacity())

	// Every op of a transaction may be drawn as an insert.
	spec.Read, spec.Insert = ptr(60), ptr(40)
	spec.MaxOps = ptr(3)
	spec.Transactions = ptr(11)
	_, err = ConfigFromAPI(spec)
	requireConfigError(t, err, "insert")

	spec.Transactions = ptr(10)
	cfg, err = ConfigFromAPI(spec)
	require.NoError(t, err)
	require.Equal(t, int64(30), cfg.InsertsPerWorker())

	// Multi-op mode is not volume checked.
	spec.MultiOp = tptbmapi.Ptr(true)
	cfg, err = ConfigFromAPI(spec)
	require.NoError(t, err)
	require.Equal(t, tptbmapi.Mix{Read: 60, Update: 20, Insert: 20}, cfg.Mix)
}

func TestConfigMultiOpIgnoresPercentages(t *testing.T) {
	spec := sqliteSpec(t)
	spec.MultiOp = tptbmapi.Ptr(true)
	spec.Read = ptr(10)
	spec.Delete = ptr(10)

	cfg, err := ConfigFromAPI(spec)
	require.NoError(t, err)
	require.Equal(t, multiOpMix, cfg.Mix)
	require.Nil(t, cfg.API().Read)
}

func TestConfigRejects(t *testing.T) {
	cases := map[string]struct {
		field  string
		modify func(*tptbmapi.BenchmarkSpec)
	}{
		"no workers":        {"proc", func(s *tptbmapi.BenchmarkSpec) { s.Processes = ptr(0) }},
		"no transactions":   {"xact", func(s *tptbmapi.BenchmarkSpec) { s.Transactions = ptr(0) }},
		"no keys":           {"key", func(s *tptbmapi.BenchmarkSpec) { s.Keys = ptr(0) }},
		"no ops":            {"min", func(s *tptbmapi.BenchmarkSpec) { s.MinOps = ptr(0) }},
		"negative think":    {"thinkTime", func(s *tptbmapi.BenchmarkSpec) { s.ThinkTimeMillis = ptr(-1) }},
		"build and nobuild": {"build", func(s *tptbmapi.BenchmarkSpec) { s.BuildOnly, s.NoBuild = tptbmapi.Ptr(true), tptbmapi.Ptr(true) }},
		"unknown driver":    {"driver", func(s *tptbmapi.BenchmarkSpec) { s.Target.Driver = tptbmapi.Ptr("oracle") }},
		"unknown spawn":     {"spawn", func(s *tptbmapi.BenchmarkSpec) { s.Spawn = tptbmapi.Ptr(tptbmapi.SpawnMode("fork")) }},
		"long service": {"service", func(s *tptbmapi.BenchmarkSpec) {
			long := make([]byte, 256)
			for i := range long {
				long[i] = 'a'
			}
			s.Target.Service = tptbmapi.Ptr(string(long))
		}},
		"workers exceed keys": {"proc", func(s *tptbmapi.BenchmarkSpec) {
			s.Processes, s.Keys = ptr(4), ptr(3)
			s.Read, s.Insert = ptr(90), ptr(10)
			s.Transactions = ptr(1)
		}},
		"missing password": {"password", func(s *tptbmapi.BenchmarkSpec) {
			s.Target.Driver = tptbmapi.Ptr("postgres")
			s.Target.User = tptbmapi.Ptr("bench")
		}},
	}

	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			spec := sqliteSpec(t)
			c.modify(spec)
			_, err := ConfigFromAPI(spec)
			requireConfigError(t, err, c.field)
		})
	}
}

func TestConfigWorkersExceedKeysWithoutInserts(t *testing.T) {
	spec := sqliteSpec(t)
	spec.Processes = ptr(4)
	spec.Keys = ptr(3)
	_, err := ConfigFromAPI(spec)
	require.NoError(t, err)
}

func TestConfigAPIRoundTrip(t *testing.T) {
	spec := sqliteSpec(t)
	spec.Target.Password = tptbmapi.Ptr("secret")
	spec.Seed = tptbmapi.Ptr[int64](42)
	spec.Processes = ptr(3)
	spec.Keys = ptr(20)
	spec.Transactions = ptr(10)
	spec.MaxOps = ptr(4)
	spec.Read, spec.Update, spec.Insert, spec.Delete = ptr(40), ptr(20), ptr(20), ptr(20)
	spec.ThinkTimeMillis = ptr(2)
	spec.RangeIndex = tptbmapi.Ptr(true)

	cfg, err := ConfigFromAPI(spec)
	require.NoError(t, err)

	api := cfg.API()
	require.Nil(t, api.Target.Password)

	api.Target.Password = tptbmapi.Ptr("secret")
	again, err := ConfigFromAPI(&api)
	require.NoError(t, err)
	require.Equal(t, cfg, again)
}
