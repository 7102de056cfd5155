package tptbmapi

import (
	"github.com/HdrHistogram/hdrhistogram-go"
)

type SpawnMode string

const (
	SpawnProcess SpawnMode = "process"
	SpawnThread  SpawnMode = "thread"
)

// BenchmarkSpec is the user facing benchmark configuration as read from a
// config file and command line flags. Unset fields take their defaults when
// the BenchmarkSpec is resolved.
type BenchmarkSpec struct {
	Target TargetSpec `json:"target" toml:"target"`

	// Seed of the per worker generators. Default: 1.
	Seed *int64 `json:"seed,omitempty" toml:"seed"`

	// Number of workers. Default: 1.
	Processes *int `json:"proc,omitempty" toml:"proc"`

	// Transactions per worker. Default: 10000.
	Transactions *int `json:"xact,omitempty" toml:"xact"`

	// Edge length of the pre-populated key grid. Default: 100.
	Keys *int `json:"key,omitempty" toml:"key"`

	// Operations per transaction, drawn uniformly from [min, max]. Default: 1.
	MinOps *int `json:"min,omitempty" toml:"min"`
	MaxOps *int `json:"max,omitempty" toml:"max"`

	// Workload mix in percent. Default: 80 read, 20 update if all are unset.
	Read   *int `json:"read,omitempty" toml:"read"`
	Update *int `json:"update,omitempty" toml:"update"`
	Insert *int `json:"insert,omitempty" toml:"insert"`
	Delete *int `json:"delete,omitempty" toml:"delete"`

	// Fixed groups of insert, 3 reads, update instead of the mix.
	MultiOp *bool `json:"multiop,omitempty" toml:"multiop"`

	ThinkTimeMillis *int `json:"think_time_ms,omitempty" toml:"think_time_ms"`

	BuildOnly  *bool `json:"build,omitempty" toml:"build"`
	NoBuild    *bool `json:"nobuild,omitempty" toml:"nobuild"`
	RangeIndex *bool `json:"range,omitempty" toml:"range"`

	// How workers 2..N are started. Default: process where supported.
	Spawn *SpawnMode `json:"spawn,omitempty" toml:"spawn"`

	// Barrier poll interval. Default: 100.
	PollIntervalMillis *int `json:"poll_interval_ms,omitempty" toml:"poll_interval_ms"`
}

type TargetSpec struct {
	Driver  *string `json:"driver,omitempty" toml:"driver"`
	Service *string `json:"service,omitempty" toml:"service"`
	User    *string `json:"user,omitempty" toml:"user"`

	// Never forwarded to worker processes; they read it from the environment.
	Password *string `json:"password,omitempty" toml:"password"`
}

// WorkerSpec is written to a worker process's stdin.
type WorkerSpec struct {
	RunID     string        `json:"run_id"`
	BlockPath string        `json:"block_path"`
	Benchmark BenchmarkSpec `json:"benchmark"`
	LogLevel  string        `json:"log_level,omitempty"`
	LogFormat string        `json:"log_format,omitempty"`
}

// WorkerResult is written by a worker process to stdout on success.
type WorkerResult struct {
	Ordinal    int        `json:"ordinal"`
	Committed  int64      `json:"committed"`
	RolledBack int64      `json:"rolled_back"`
	Ops        []OpResult `json:"ops"`
	Elapsed    Duration   `json:"elapsed"`

	// CPU time of the worker's own process. Zero for in-process workers,
	// whose time is part of the orchestrator's.
	CPU Duration `json:"cpu"`
}

type OpResult struct {
	Operation    string                 `json:"operation"`
	Count        int64                  `json:"count"`
	NoData       int64                  `json:"no_data"`
	LockTimeouts int64                  `json:"lock_timeouts"`
	Latency      *hdrhistogram.Snapshot `json:"latency,omitempty"`
}

type Mix struct {
	Read   int `json:"read"`
	Update int `json:"update"`
	Insert int `json:"insert"`
	Delete int `json:"delete"`
}

// Summary is the orchestrator's report of a finished run.
type Summary struct {
	RunID  string `json:"run_id"`
	Driver string `json:"driver"`

	Processes    int    `json:"processes"`
	Transactions int    `json:"transactions"`
	OpsPerTxn    string `json:"ops_per_txn"`
	MultiOp      bool   `json:"multiop"`
	Mix          Mix    `json:"mix"`
	Keys         int    `json:"keys"`
	Seed         int64  `json:"seed"`

	Elapsed       Duration `json:"elapsed"`
	ElapsedMillis int64    `json:"elapsed_ms"`
	CPU           Duration `json:"cpu"`
	TPS           Sample   `json:"tps"`
	TPM           Sample   `json:"tpm"`

	Committed  int64     `json:"committed"`
	RolledBack int64     `json:"rolled_back"`
	Ops        []OpStats `json:"ops"`
}
