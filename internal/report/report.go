// Package report turns worker results and timing snapshots into the run
// summary and renders it.
package report

import (
	"os"
	"slices"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
	"github.com/cockroachdb/errors"
	"github.com/shirou/gopsutil/v3/process"

	"tptbm/api/tptbmapi"
)

// MinElapsed is the floor applied to the measured interval before rates are
// computed.
const MinElapsed = time.Second

// Snapshot is one reading of the wall clock and the process CPU time.
type Snapshot struct {
	Wall time.Time
	CPU  time.Duration
}

func Now() Snapshot {
	return Snapshot{Wall: time.Now(), CPU: CPUTime()}
}

// CPUTime is the user plus system time consumed by this process so far, or
// zero if the platform cannot report it.
func CPUTime() time.Duration {
	p, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		return 0
	}
	t, err := p.Times()
	if err != nil {
		return 0
	}
	return time.Duration((t.User + t.System) * float64(time.Second))
}

// Rates computes the reported throughput. Transactions are counted per
// worker, so the total is procs*xacts.
func Rates(procs, xacts int, elapsed time.Duration) (elapsedMillis int64, tps, tpm float64) {
	elapsedMillis = max(elapsed, MinElapsed).Milliseconds()
	tps = float64(procs) * (float64(xacts) / float64(elapsedMillis)) * 1000
	return elapsedMillis, tps, tps * 60
}

// FormatElapsed renders d in milliseconds below 10 seconds, in seconds
// otherwise.
func FormatElapsed(d time.Duration) string {
	if d < 10*time.Second {
		return d.Round(time.Millisecond).String()
	}
	return d.Round(10 * time.Millisecond).String()
}

// Summarize fills the timing, rate and operation fields of base from the
// start and end snapshots and the per worker results.
func Summarize(base tptbmapi.Summary, start, end Snapshot, results []tptbmapi.WorkerResult) (*tptbmapi.Summary, error) {
	s := base
	elapsed := end.Wall.Sub(start.Wall)

	var workerCPU time.Duration
	for _, r := range results {
		s.Committed += r.Committed
		s.RolledBack += r.RolledBack
		workerCPU += r.CPU.Duration
	}

	s.Elapsed = tptbmapi.Duration{Duration: elapsed}
	s.CPU = tptbmapi.Duration{Duration: max(end.CPU-start.CPU, 0) + workerCPU}

	ms, tps, tpm := Rates(s.Processes, s.Transactions, elapsed)
	s.ElapsedMillis = ms
	s.TPS = tptbmapi.Sample(tps)
	s.TPM = tptbmapi.Sample(tpm)

	ops, err := MergeOps(results)
	if err != nil {
		return nil, err
	}
	s.Ops = ops
	return &s, nil
}

// MergeOps combines the per worker operation counters and latency
// histograms. Operations keep the order of first appearance.
func MergeOps(results []tptbmapi.WorkerResult) ([]tptbmapi.OpStats, error) {
	type merged struct {
		stats tptbmapi.OpStats
		hist  *hdrhistogram.Histogram
	}

	var order []string
	byOp := map[string]*merged{}
	for _, r := range results {
		for _, op := range r.Ops {
			m, ok := byOp[op.Operation]
			if !ok {
				m = &merged{stats: tptbmapi.OpStats{Operation: op.Operation}}
				byOp[op.Operation] = m
				order = append(order, op.Operation)
			}
			m.stats.Count += op.Count
			m.stats.NoData += op.NoData
			m.stats.LockTimeouts += op.LockTimeouts

			if op.Latency == nil {
				continue
			}
			h := hdrhistogram.Import(op.Latency)
			if m.hist == nil {
				m.hist = h
				continue
			}
			if dropped := m.hist.Merge(h); dropped > 0 {
				return nil, errors.Newf("worker %d: %d %s latencies out of range", r.Ordinal, dropped, op.Operation)
			}
		}
	}

	ops := make([]tptbmapi.OpStats, 0, len(order))
	for _, name := range order {
		m := byOp[name]
		if m.stats.Count == 0 {
			continue
		}
		if h := m.hist; h != nil && h.TotalCount() > 0 {
			m.stats.Avg = h.Mean() / 1000
			m.stats.Median = float64(h.ValueAtQuantile(50)) / 1000
			m.stats.P99 = float64(h.ValueAtQuantile(99)) / 1000
			m.stats.Max = float64(h.Max()) / 1000
		}
		ops = append(ops, m.stats)
	}
	return slices.Clip(ops), nil
}
