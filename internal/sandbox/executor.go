// Package sandbox runs approved snippets and validated proposals in a
// separate worker process. The worker gets no environment, reads only the
// request on stdin, and is killed when the time budget runs out.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/cockroachdb/errors"

	"vizguard/internal/dataset"
	"vizguard/internal/logging"
	"vizguard/internal/proposal"
	"vizguard/internal/security"
)

const (
	DefaultTimeout     = 30 * time.Second
	DefaultMemoryLimit = 256 << 20
	DefaultMaxReply    = 8 << 20

	// waitDelay bounds how long Wait blocks on the worker's pipes after a kill.
	waitDelay = 2 * time.Second
)

// Options configures an Executor.
type Options struct {
	// Path is the worker binary. Defaults to the running executable.
	Path string
	// Args are passed to the worker. Defaults to WorkerCommand.
	Args        []string
	Timeout     time.Duration
	MemoryLimit int64
	MaxReply    int
}

// Executor runs one worker process per execution. It holds no per-run
// state and is safe for concurrent use.
type Executor struct {
	opts Options
}

// New applies defaults to opts.
func New(opts Options) (*Executor, error) {
	if opts.Path == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, errors.Wrap(err, "locate worker executable")
		}
		opts.Path = exe
	}
	if len(opts.Args) == 0 {
		opts.Args = []string{WorkerCommand}
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MemoryLimit <= 0 {
		opts.MemoryLimit = DefaultMemoryLimit
	}
	if opts.MaxReply <= 0 {
		opts.MaxReply = DefaultMaxReply
	}
	return &Executor{opts: opts}, nil
}

// budget is the effective time limit for a call under ctx.
func (e *Executor) budget(ctx context.Context) time.Duration {
	if dl, ok := ctx.Deadline(); ok {
		if rem := time.Until(dl); rem < e.opts.Timeout {
			return rem.Round(time.Millisecond)
		}
	}
	return e.opts.Timeout
}

// Timeout returns the wall-clock budget per execution.
func (e *Executor) Timeout() time.Duration { return e.opts.Timeout }

// ExecuteCode runs an approved snippet's Render against the dataset.
func (e *Executor) ExecuteCode(ctx context.Context, snippet *security.Approved, ds *dataset.Dataset) *Result {
	if snippet == nil {
		return failed(KindRuntimeError, 0, "snippet has not been approved by the security filter")
	}
	return e.run(ctx, &Request{Mode: ModeCode, Source: snippet.Source()}, ds)
}

// ExecuteSpec interprets every proposal of a validated set.
func (e *Executor) ExecuteSpec(ctx context.Context, set *proposal.Set, ds *dataset.Dataset) *Result {
	if set == nil {
		return failed(KindRuntimeError, 0, "no proposal set")
	}
	return e.run(ctx, &Request{Mode: ModeSpec, Proposals: set.Proposals}, ds)
}

func (e *Executor) run(ctx context.Context, req *Request, ds *dataset.Dataset) *Result {
	timer := logging.StartTimer(logging.CategorySandbox, "execute "+string(req.Mode))
	defer timer.StopWithThreshold(e.opts.Timeout / 2)

	req.Dataset = ds.Payload()
	req.MemoryLimit = e.opts.MemoryLimit
	req.MaxReply = e.opts.MaxReply
	payload, err := json.Marshal(req)
	if err != nil {
		return failed(KindRuntimeError, 0, "encode request: "+err.Error())
	}

	limit := e.budget(ctx)
	runCtx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, e.opts.Path, e.opts.Args...)
	cmd.Env = []string{}
	cmd.Dir = os.TempDir()
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Stdout = &capped{buf: &stdout, max: e.opts.MaxReply + 1}
	cmd.Stderr = &capped{buf: &stderr, max: maxStdoutBytes}
	cmd.WaitDelay = waitDelay

	start := time.Now()
	runErr := cmd.Run()
	elapsed := time.Since(start)

	// A deadline, ours or the caller's, is a timeout. Only an explicit
	// cancel is not.
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded):
		logging.Sandbox("worker killed after %v (budget %v)", elapsed, limit)
		return failed(KindTimeout, elapsed, "execution exceeded its time budget of "+limit.String())
	case ctx.Err() != nil:
		return failed(KindRuntimeError, elapsed, "execution canceled: "+ctx.Err().Error())
	case stdout.Len() > e.opts.MaxReply:
		return failed(KindRuntimeError, elapsed, "worker reply exceeds the size limit")
	}

	var reply Reply
	if err := json.Unmarshal(stdout.Bytes(), &reply); err != nil {
		msg := "worker crashed"
		if runErr != nil {
			msg += ": " + runErr.Error()
		}
		if tail := strings.TrimSpace(stderr.String()); tail != "" {
			msg += ": " + logging.Truncate(tail, 512)
		}
		logging.Get(logging.CategorySandbox).Warn("%s", msg)
		return failed(KindRuntimeError, elapsed, msg)
	}

	if !reply.OK {
		kind := reply.Kind
		if kind == "" {
			kind = KindRuntimeError
		}
		logging.SandboxDebug("execution failed (%s): %s", kind, logging.Truncate(reply.Message, 200))
		res := failed(kind, elapsed, reply.Message)
		res.Stdout = reply.Stdout
		return res
	}
	logging.SandboxDebug("execution produced %d figure(s) in %v", len(reply.Figures), elapsed)
	return succeeded(reply.Figures, reply.Stdout, elapsed)
}
