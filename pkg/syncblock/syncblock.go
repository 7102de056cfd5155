// Package syncblock implements the start and completion barrier shared by
// benchmark workers. The block is a small array of 32 bit words: a header
// followed by one state word per worker slot. Every access is atomic and
// each worker writes only its own slot, so the same layout works in process
// memory and in a memory mapped file shared between processes.
package syncblock

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cockroachdb/errors"
)

type State int32

const (
	Idle State = iota
	Attached
	Ready
	Done
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Attached:
		return "attached"
	case Ready:
		return "ready"
	case Done:
		return "done"
	default:
		return "unknown"
	}
}

const (
	magic      = 0x54505442 // "TPTB"
	headerSize = 2

	DefaultPollInterval = 100 * time.Millisecond
)

var errPending = errors.New("barrier pending")

type Block struct {
	words    []int32
	path     string
	owner    bool
	release  func() error
	interval time.Duration
}

// NewMemory allocates a block for n workers in process memory.
func NewMemory(n int) (*Block, error) {
	if n < 1 {
		return nil, errors.Newf("invalid worker count %d", n)
	}
	b := &Block{
		words:    make([]int32, headerSize+n),
		interval: DefaultPollInterval,
	}
	b.words[0] = magic
	b.words[1] = int32(n)
	return b, nil
}

func sizeFor(n int) int {
	return (headerSize + n) * 4
}

func (b *Block) init(n int) {
	atomic.StoreInt32(&b.words[1], int32(n))
	atomic.StoreInt32(&b.words[0], magic)
}

func (b *Block) validate() error {
	if len(b.words) < headerSize || atomic.LoadInt32(&b.words[0]) != magic {
		return errors.New("not a synchronization block")
	}
	n := int(atomic.LoadInt32(&b.words[1]))
	if n < 1 || headerSize+n > len(b.words) {
		return errors.Newf("corrupt synchronization block: %d slots in %d words", n, len(b.words))
	}
	return nil
}

// SetPollInterval changes the sleep between barrier polls.
func (b *Block) SetPollInterval(d time.Duration) {
	if d > 0 {
		b.interval = d
	}
}

func (b *Block) Workers() int { return int(atomic.LoadInt32(&b.words[1])) }

// Path returns the backing file, or "" for memory blocks.
func (b *Block) Path() string { return b.path }

func (b *Block) slot(ordinal int) (*int32, error) {
	if ordinal < 1 || ordinal > b.Workers() {
		return nil, errors.Newf("worker ordinal %d out of range [1,%d]", ordinal, b.Workers())
	}
	return &b.words[headerSize+ordinal-1], nil
}

func (b *Block) State(ordinal int) State {
	p, err := b.slot(ordinal)
	if err != nil {
		return Idle
	}
	return State(atomic.LoadInt32(p))
}

func (b *Block) States() []State {
	states := make([]State, b.Workers())
	for i := range states {
		states[i] = b.State(i + 1)
	}
	return states
}

// Attach marks the worker as connected and waiting for the start signal.
// A slot can only be attached once.
func (b *Block) Attach(ordinal int) error {
	p, err := b.slot(ordinal)
	if err != nil {
		return err
	}
	if !atomic.CompareAndSwapInt32(p, int32(Idle), int32(Attached)) {
		return errors.Newf("worker %d: slot already %v", ordinal, State(atomic.LoadInt32(p)))
	}
	return nil
}

// ReleaseAll starts every attached worker.
func (b *Block) ReleaseAll() {
	for i := 1; i <= b.Workers(); i++ {
		p, _ := b.slot(i)
		atomic.CompareAndSwapInt32(p, int32(Attached), int32(Ready))
	}
}

func (b *Block) MarkDone(ordinal int) error {
	p, err := b.slot(ordinal)
	if err != nil {
		return err
	}
	atomic.StoreInt32(p, int32(Done))
	return nil
}

// WaitReady blocks until the orchestrator released the worker's slot.
func (b *Block) WaitReady(ctx context.Context, ordinal int) error {
	if _, err := b.slot(ordinal); err != nil {
		return err
	}
	return b.poll(ctx, func() bool {
		s := b.State(ordinal)
		return s == Ready || s == Done
	})
}

func (b *Block) WaitAllAttached(ctx context.Context) error {
	return b.poll(ctx, func() bool { return b.all(func(s State) bool { return s != Idle }) })
}

func (b *Block) WaitAllDone(ctx context.Context) error {
	return b.poll(ctx, func() bool { return b.all(func(s State) bool { return s == Done }) })
}

func (b *Block) all(pred func(State) bool) bool {
	for i := 1; i <= b.Workers(); i++ {
		if !pred(b.State(i)) {
			return false
		}
	}
	return true
}

func (b *Block) poll(ctx context.Context, cond func() bool) error {
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		if cond() {
			return struct{}{}, nil
		}
		return struct{}{}, errPending
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(b.interval)),
		backoff.WithMaxElapsedTime(0),
	)
	return err
}

// Close releases the mapping. The creating process also removes the file.
func (b *Block) Close() error {
	if b.release == nil {
		return nil
	}
	release := b.release
	b.release = nil
	b.words = make([]int32, headerSize)

	err := release()
	if b.owner && b.path != "" {
		err = errors.CombineErrors(err, removeFile(b.path))
	}
	return err
}
