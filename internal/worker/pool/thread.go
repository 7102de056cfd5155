package pool

import (
	"context"
	"runtime/debug"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"tptbm/api/tptbmapi"
)

// ThreadPool runs workers as goroutines of the calling process.
type ThreadPool struct {
	run WorkerFunc
	log *zap.Logger
}

func NewThreadPool(run WorkerFunc, log *zap.Logger) *ThreadPool {
	return &ThreadPool{run: run, log: log}
}

func (p *ThreadPool) Spawn(ctx context.Context, ordinal int) (Handle, error) {
	if ordinal < 1 {
		return nil, errors.Newf("invalid worker ordinal %d", ordinal)
	}

	h := &threadHandle{ordinal: ordinal, done: make(chan result, 1)}
	go func() {
		v, err := func() (v tptbmapi.WorkerResult, err error) {
			defer p.recoverError(ordinal, &err)
			return p.run(ctx, ordinal)
		}()
		h.done <- result{value: v, err: err}
	}()
	return h, nil
}

func (p *ThreadPool) recoverError(ordinal int, err *error) {
	if r := recover(); r != nil {
		p.log.Error("worker panicked",
			zap.Int("worker", ordinal),
			zap.Any("panic", r),
			zap.ByteString("stack", debug.Stack()))

		if *err == nil {
			if e, ok := r.(error); ok {
				*err = errors.Wrapf(e, "worker %d panicked", ordinal)
			} else {
				*err = errors.Newf("worker %d panicked: %v", ordinal, r)
			}
		}
	}
}

type threadHandle struct {
	ordinal int
	done    chan result
	res     *result
}

func (h *threadHandle) Ordinal() int { return h.ordinal }

func (h *threadHandle) Wait() (tptbmapi.WorkerResult, error) {
	if h.res == nil {
		r := <-h.done
		h.res = &r
	}
	return h.res.value, h.res.err
}
