package tptbm

import (
	"fmt"
	"math"
	"time"

	"tptbm/api/tptbmapi"
	"tptbm/pkg/dbdriver"
	"tptbm/pkg/syncblock"
	"tptbm/pkg/timeutil"
)

const (
	DefaultDriver       = "timesten"
	DefaultService      = "sampledb"
	DefaultUser         = "appuser"
	DefaultSeed         = 1
	DefaultTransactions = 10000
	DefaultKeys         = 100

	maxIdentifierLen = 255

	// vpn_id of the insert grid reaches 2*keys and must fit an INT column.
	maxKeys = math.MaxInt32 / 2
)

var (
	defaultMix = tptbmapi.Mix{Read: 80, Update: 20}

	// One insert, three reads and one update per operation group.
	multiOpMix = tptbmapi.Mix{Read: 60, Update: 20, Insert: 20}
)

// Config is the resolved, validated benchmark configuration. It is not
// modified after ConfigFromAPI returns.
type Config struct {
	Target dbdriver.Target

	Seed         int64
	Processes    int
	Transactions int
	Keys         int
	MinOps       int
	MaxOps       int
	Mix          tptbmapi.Mix
	MultiOp      bool
	ThinkTime    time.Duration

	BuildOnly bool
	NoBuild   bool
	Index     dbdriver.IndexKind

	Spawn        tptbmapi.SpawnMode
	PollInterval time.Duration
}

func DefaultSpawnMode() tptbmapi.SpawnMode {
	if syncblock.Shared() {
		return tptbmapi.SpawnProcess
	}
	return tptbmapi.SpawnThread
}

func ConfigFromAPI(spec *tptbmapi.BenchmarkSpec) (Config, error) {
	get := tptbmapi.GetOptValue[int]

	cfg := Config{
		Target: dbdriver.Target{
			Driver:   tptbmapi.GetOptValue(spec.Target.Driver, DefaultDriver),
			Service:  tptbmapi.GetOptValue(spec.Target.Service, DefaultService),
			User:     tptbmapi.GetOptValue(spec.Target.User, DefaultUser),
			Password: tptbmapi.GetOptValue(spec.Target.Password, ""),
		},
		Seed:         tptbmapi.GetOptValue[int64](spec.Seed, DefaultSeed),
		Processes:    get(spec.Processes, 1),
		Transactions: get(spec.Transactions, DefaultTransactions),
		Keys:         get(spec.Keys, DefaultKeys),
		MinOps:       get(spec.MinOps, 1),
		MaxOps:       get(spec.MaxOps, 1),
		MultiOp:      tptbmapi.GetOptValue(spec.MultiOp, false),
		ThinkTime:    timeutil.Millis(get(spec.ThinkTimeMillis, 0)),
		BuildOnly:    tptbmapi.GetOptValue(spec.BuildOnly, false),
		NoBuild:      tptbmapi.GetOptValue(spec.NoBuild, false),
		Index:        dbdriver.IndexHash,
		Spawn:        tptbmapi.GetOptValue(spec.Spawn, DefaultSpawnMode()),
		PollInterval: timeutil.Millis(get(spec.PollIntervalMillis, int(syncblock.DefaultPollInterval/time.Millisecond))),
	}
	if tptbmapi.GetOptValue(spec.RangeIndex, false) {
		cfg.Index = dbdriver.IndexRange
	}
	if cfg.MinOps > cfg.MaxOps {
		cfg.MinOps, cfg.MaxOps = cfg.MaxOps, cfg.MinOps
	}

	switch {
	case cfg.MultiOp:
		cfg.Mix = multiOpMix
	case spec.Read == nil && spec.Update == nil && spec.Insert == nil && spec.Delete == nil:
		cfg.Mix = defaultMix
	default:
		cfg.Mix = tptbmapi.Mix{
			Read:   get(spec.Read, 0),
			Update: get(spec.Update, 0),
			Insert: get(spec.Insert, 0),
			Delete: get(spec.Delete, 0),
		}
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate enforces the configuration invariants. Every violation is a
// *tptbmapi.ConfigError.
func (c Config) Validate() error {
	switch {
	case c.Processes < 1:
		return tptbmapi.ConfigErrorf("proc", "must be at least 1, got %d", c.Processes)
	case c.Transactions < 1:
		return tptbmapi.ConfigErrorf("xact", "must be at least 1, got %d", c.Transactions)
	case c.Keys < 1 || c.Keys > maxKeys:
		return tptbmapi.ConfigErrorf("key", "must be in [1,%d], got %d", maxKeys, c.Keys)
	case c.MinOps < 1:
		return tptbmapi.ConfigErrorf("min", "must be at least 1, got %d", c.MinOps)
	case c.ThinkTime < 0:
		return tptbmapi.ConfigErrorf("thinkTime", "must not be negative")
	case c.BuildOnly && c.NoBuild:
		return tptbmapi.ConfigErrorf("build", "cannot be combined with -nobuild")
	case c.PollInterval <= 0:
		return tptbmapi.ConfigErrorf("poll_interval_ms", "must be positive")
	case len(c.Target.Service) > maxIdentifierLen:
		return tptbmapi.ConfigErrorf("service", "longer than %d bytes", maxIdentifierLen)
	case len(c.Target.User) > maxIdentifierLen:
		return tptbmapi.ConfigErrorf("user", "longer than %d bytes", maxIdentifierLen)
	case len(c.Target.Password) > maxIdentifierLen:
		return tptbmapi.ConfigErrorf("password", "longer than %d bytes", maxIdentifierLen)
	}

	d, err := dbdriver.Lookup(c.Target.Driver)
	if err != nil {
		return tptbmapi.ConfigErrorf("driver", "%v", err)
	}
	if d.NeedsCredentials && (c.Target.User == "" || c.Target.Password == "") {
		return tptbmapi.ConfigErrorf("password", "driver %s needs a user and a password", d.Name)
	}

	switch c.Spawn {
	case tptbmapi.SpawnThread:
	case tptbmapi.SpawnProcess:
		if !syncblock.Shared() {
			return tptbmapi.ConfigErrorf("spawn", "process workers are not supported on this platform")
		}
	default:
		return tptbmapi.ConfigErrorf("spawn", "unknown mode %q", c.Spawn)
	}

	if !c.MultiOp {
		for _, p := range []struct {
			name string
			pct  int
		}{{"read", c.Mix.Read}, {"update", c.Mix.Update}, {"insert", c.Mix.Insert}, {"delete", c.Mix.Delete}} {
			if p.pct < 0 || p.pct > 100 {
				return tptbmapi.ConfigErrorf(p.name, "percentage must be in [0,100], got %d", p.pct)
			}
		}
		if sum := c.Mix.Read + c.Mix.Update + c.Mix.Insert + c.Mix.Delete; sum != 100 {
			return tptbmapi.ConfigErrorf("", "read, update, insert and delete percentages sum to %d, not 100", sum)
		}
	}

	if c.inserts() && c.Processes > c.Keys {
		return tptbmapi.ConfigErrorf("proc", "%d workers need at least as many keys for disjoint insert ranges, got %d", c.Processes, c.Keys)
	}

	if !c.MultiOp {
		if vol, avail := c.InsertsPerWorker(), c.InsertCapacity(); vol > avail {
			return tptbmapi.ConfigErrorf("insert",
				"%d transactions x %d ops at %d%% inserts may insert %d rows per worker, more than the %d free keys of the smallest of %d insert ranges",
				c.Transactions, c.MaxOps, c.Mix.Insert, vol, avail, c.Processes)
		}
	}
	return nil
}

// InsertsPerWorker is the most rows one worker may insert. Any op of a
// transaction can be drawn as an insert, so the bound is xact*max as soon
// as inserts are in the mix.
func (c Config) InsertsPerWorker() int64 {
	if c.Mix.Insert == 0 {
		return 0
	}
	return int64(c.Transactions) * int64(c.MaxOps)
}

// InsertCapacity is the number of keys in the smallest worker insert range.
func (c Config) InsertCapacity() int64 {
	if c.Processes < 1 {
		return 0
	}
	cur := newKeyCursor(c.Keys, c.Processes, c.Processes-1)
	return int64(cur.Capacity())
}

func (c Config) inserts() bool {
	return c.MultiOp || c.Mix.Insert > 0 || c.Mix.Delete > 0
}

func (c Config) OpsPerTxn() string {
	if c.MinOps == c.MaxOps {
		return fmt.Sprintf("%d", c.MinOps)
	}
	return fmt.Sprintf("%d-%d", c.MinOps, c.MaxOps)
}

// API converts the resolved configuration back into a fully populated spec.
// The password is left out.
func (c Config) API() tptbmapi.BenchmarkSpec {
	ptr := tptbmapi.Ptr[int]
	spec := tptbmapi.BenchmarkSpec{
		Target: tptbmapi.TargetSpec{
			Driver:  tptbmapi.Ptr(c.Target.Driver),
			Service: tptbmapi.Ptr(c.Target.Service),
			User:    tptbmapi.Ptr(c.Target.User),
		},
		Seed:               tptbmapi.Ptr(c.Seed),
		Processes:          ptr(c.Processes),
		Transactions:       ptr(c.Transactions),
		Keys:               ptr(c.Keys),
		MinOps:             ptr(c.MinOps),
		MaxOps:             ptr(c.MaxOps),
		MultiOp:            tptbmapi.Ptr(c.MultiOp),
		ThinkTimeMillis:    ptr(int(c.ThinkTime / time.Millisecond)),
		BuildOnly:          tptbmapi.Ptr(c.BuildOnly),
		NoBuild:            tptbmapi.Ptr(c.NoBuild),
		RangeIndex:         tptbmapi.Ptr(c.Index == dbdriver.IndexRange),
		Spawn:              tptbmapi.Ptr(c.Spawn),
		PollIntervalMillis: ptr(int(c.PollInterval / time.Millisecond)),
	}
	if !c.MultiOp {
		spec.Read = ptr(c.Mix.Read)
		spec.Update = ptr(c.Mix.Update)
		spec.Insert = ptr(c.Mix.Insert)
		spec.Delete = ptr(c.Mix.Delete)
	}
	return spec
}
