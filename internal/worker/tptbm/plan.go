package tptbm

import (
	"math/rand/v2"

	"tptbm/pkg/prop"
)

type Op int

const (
	OpRead Op = iota
	OpUpdate
	OpInsert
	OpDelete

	numOps = 4
)

var allOps = []Op{OpRead, OpUpdate, OpInsert, OpDelete}

func (o Op) String() string {
	switch o {
	case OpRead:
		return "read"
	case OpUpdate:
		return "update"
	case OpInsert:
		return "insert"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Step is one SQL operation of a transaction.
type Step struct {
	Op  Op
	Key Key
}

// multiOpGroup is the fixed statement order of one multi-op group.
var multiOpGroup = []Op{OpInsert, OpRead, OpRead, OpRead, OpUpdate}

// planner decides the operations of every transaction of one worker. It
// owns the worker's generator; given the same configuration and ordinal it
// always produces the same sequence.
type planner struct {
	rng     *rand.Rand
	keys    int
	ops     prop.IntRangeValue
	mix     prop.WeightedValue[Op]
	multiOp bool
	inserts keyCursor
	deletes keyCursor
}

func newPlanner(cfg Config, ordinal int) *planner {
	weights := []int{cfg.Mix.Read, cfg.Mix.Update, cfg.Mix.Insert, cfg.Mix.Delete}
	return &planner{
		rng:     prop.NewRand(cfg.Seed+5*int64(ordinal), uint64(ordinal)),
		keys:    cfg.Keys,
		ops:     prop.IntRange(cfg.MinOps, cfg.MaxOps),
		mix:     prop.WeightedOf(allOps, func(i int) float64 { return float64(weights[i]) }),
		multiOp: cfg.MultiOp,
		inserts: newKeyCursor(cfg.Keys, cfg.Processes, ordinal-1),
		deletes: newKeyCursor(cfg.Keys, cfg.Processes, ordinal-1),
	}
}

// NextTxn appends the steps of the next transaction to buf[:0].
func (p *planner) NextTxn(buf []Step) []Step {
	steps := buf[:0]
	n := p.ops.Rand(p.rng)
	for range n {
		if p.multiOp {
			for _, op := range multiOpGroup {
				steps = append(steps, p.step(op))
			}
			continue
		}
		steps = append(steps, p.step(p.mix.Rand(p.rng)))
	}
	return steps
}

func (p *planner) step(op Op) Step {
	var k Key
	switch op {
	case OpInsert:
		k = p.inserts.Next()
	case OpDelete:
		k = p.deletes.Next()
	default:
		k = Key{ID: p.rng.IntN(p.keys), NB: p.rng.IntN(p.keys)}
	}
	return Step{Op: op, Key: k}
}

// Plan returns the first txns transactions worker ordinal would run,
// without touching a database.
func Plan(cfg Config, ordinal, txns int) [][]Step {
	p := newPlanner(cfg, ordinal)
	plan := make([][]Step, txns)
	for i := range plan {
		plan[i] = p.NextTxn(nil)
	}
	return plan
}
