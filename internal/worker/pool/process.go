package pool

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"os/exec"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"tptbm/api/tptbmapi"
)

const defaultWaitDelay = 5 * time.Second

type ProcessOptions struct {
	// Executable to start. Default: the running binary.
	Executable string

	// Args precede "--ordinal N".
	Args []string

	// Env is appended to the orchestrator's environment.
	Env []string

	// Input returns what the worker with the given ordinal reads from stdin.
	Input func(ordinal int) ([]byte, error)

	// Stderr receives the workers' logs. Default: os.Stderr.
	Stderr io.Writer

	// WaitDelay bounds how long a cancelled worker may take to exit.
	WaitDelay time.Duration
}

// ProcessPool runs each worker in a child process. A child reports its
// result as a single JSON document on stdout.
type ProcessPool struct {
	opts ProcessOptions
	log  *zap.Logger
}

func NewProcessPool(opts ProcessOptions, log *zap.Logger) (*ProcessPool, error) {
	if opts.Executable == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, errors.Wrap(err, "locate worker executable")
		}
		opts.Executable = exe
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	if opts.WaitDelay == 0 {
		opts.WaitDelay = defaultWaitDelay
	}
	return &ProcessPool{opts: opts, log: log}, nil
}

func (p *ProcessPool) Spawn(ctx context.Context, ordinal int) (Handle, error) {
	if ordinal < 1 {
		return nil, errors.Newf("invalid worker ordinal %d", ordinal)
	}

	args := make([]string, 0, len(p.opts.Args)+2)
	args = append(args, p.opts.Args...)
	args = append(args, "--ordinal", strconv.Itoa(ordinal))

	cmd := exec.CommandContext(ctx, p.opts.Executable, args...)
	cmd.Env = append(os.Environ(), p.opts.Env...)
	cmd.Stderr = p.opts.Stderr
	cmd.WaitDelay = p.opts.WaitDelay
	if p.opts.Input != nil {
		in, err := p.opts.Input(ordinal)
		if err != nil {
			return nil, errors.Wrapf(err, "worker %d: input", ordinal)
		}
		cmd.Stdin = bytes.NewReader(in)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrapf(err, "worker %d: create stdout pipe", ordinal)
	}

	p.log.Debug("start worker process", zap.Int("worker", ordinal), zap.String("exe", p.opts.Executable), zap.Strings("args", args))
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrapf(err, "worker %d: start process", ordinal)
	}

	h := &processHandle{ordinal: ordinal, done: make(chan result, 1)}
	go func() {
		v, err := collect(cmd, stdout, ordinal)
		h.done <- result{value: v, err: err}
	}()
	return h, nil
}

// collect drains the child's stdout before waiting for it to exit, as
// Wait closes the pipe.
func collect(cmd *exec.Cmd, stdout io.Reader, ordinal int) (report tptbmapi.WorkerResult, err error) {
	decoded, readErr := decodeResult(stdout, &report)
	if err := cmd.Wait(); err != nil {
		return report, errors.Wrapf(err, "worker %d", ordinal)
	}
	if readErr != nil {
		return report, errors.Wrapf(readErr, "worker %d: decode result", ordinal)
	}
	if !decoded {
		return report, errors.Newf("worker %d exited without a result", ordinal)
	}
	if report.Ordinal != ordinal {
		return report, errors.Newf("worker %d reported ordinal %d", ordinal, report.Ordinal)
	}
	return report, nil
}

func decodeResult(r io.Reader, v *tptbmapi.WorkerResult) (bool, error) {
	err := json.NewDecoder(r).Decode(v)
	_, _ = io.Copy(io.Discard, r)
	switch {
	case errors.Is(err, io.EOF):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

type processHandle struct {
	ordinal int
	done    chan result
	res     *result
}

func (h *processHandle) Ordinal() int { return h.ordinal }

func (h *processHandle) Wait() (tptbmapi.WorkerResult, error) {
	if h.res == nil {
		r := <-h.done
		h.res = &r
	}
	return h.res.value, h.res.err
}
