// Package pool starts benchmark workers either as goroutines of the
// orchestrator or as child processes of the same binary.
package pool

import (
	"context"

	"tptbm/api/tptbmapi"
)

// WorkerFunc runs one worker to completion.
type WorkerFunc func(ctx context.Context, ordinal int) (tptbmapi.WorkerResult, error)

type Pool interface {
	// Spawn starts the worker with the given 1-based ordinal. It does not
	// wait for the worker to attach.
	Spawn(ctx context.Context, ordinal int) (Handle, error)
}

type Handle interface {
	Ordinal() int

	// Wait blocks until the worker finished and returns its result.
	Wait() (tptbmapi.WorkerResult, error)
}

type result struct {
	value tptbmapi.WorkerResult
	err   error
}
