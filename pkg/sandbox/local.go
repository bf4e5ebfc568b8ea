package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// termGracePeriod is how long a timed-out process gets to react to SIGTERM
// before escalation to SIGKILL.
const termGracePeriod = 3 * time.Second

// maxMergedLog caps the captured merged output to bound memory.
const maxMergedLog = 4 * 1024 * 1024

// LocalSandbox executes commands directly on the host.
type LocalSandbox struct {
	workDir string
	ownsDir bool

	closed    bool
	closeOnce sync.Once
	mu        sync.Mutex
}

// NewLocalSandbox creates a sandbox rooted at workDir. The directory must
// exist; the sandbox does not create or own it.
func NewLocalSandbox(workDir string) (*LocalSandbox, error) {
	info, err := os.Stat(workDir)
	if err != nil {
		return nil, &Error{Op: "init", Cause: err}
	}
	if !info.IsDir() {
		return nil, &Error{Op: "init", Cause: fmt.Errorf("%s is not a directory", workDir)}
	}
	return &LocalSandbox{workDir: workDir}, nil
}

// NewTempSandbox creates a sandbox over a fresh temporary directory that is
// removed on Close.
func NewTempSandbox() (*LocalSandbox, error) {
	dir, err := os.MkdirTemp("", "verdict-sandbox-*")
	if err != nil {
		return nil, &Error{Op: "init", Cause: err}
	}
	return &LocalSandbox{workDir: dir, ownsDir: true}, nil
}

// WorkingDirectory returns the sandbox root directory.
func (s *LocalSandbox) WorkingDirectory() string { return s.workDir }

// IsClosed reports whether the sandbox has been closed.
func (s *LocalSandbox) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close releases the sandbox. Idempotent.
func (s *LocalSandbox) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		s.mu.Unlock()
		if s.ownsDir {
			err = os.RemoveAll(s.workDir)
		}
	})
	return err
}

// Exec runs the spec on the host. Stdout and stderr are captured into a
// single merged buffer preserving interleaving order.
func (s *LocalSandbox) Exec(ctx context.Context, spec ExecSpec) (*ExecResult, error) {
	if s.IsClosed() {
		return nil, ErrClosed
	}
	if err := spec.Validate(); err != nil {
		return nil, &Error{Op: "exec", Cause: err}
	}

	execCtx := ctx
	var cancel context.CancelFunc
	if spec.Timeout > 0 {
		execCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(execCtx, spec.Command[0], spec.Command[1:]...)
	cmd.Dir = s.workDir
	if spec.WorkingDirectory != "" {
		cmd.Dir = spec.WorkingDirectory
	}
	cmd.Env = mergeEnv(os.Environ(), spec.Env)

	// One writer for both streams keeps interleaving order.
	merged := &cappedBuffer{limit: maxMergedLog}
	cmd.Stdout = merged
	cmd.Stderr = merged

	// SIGTERM first; CommandContext escalates via WaitDelay.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = termGracePeriod

	start := time.Now()
	err := cmd.Run()
	elapsed := time.Since(start)

	if err != nil {
		if execCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			slog.Warn("Subprocess killed on timeout",
				"command", spec.Command[0], "timeout", spec.Timeout, "elapsed", elapsed)
			return nil, &TimeoutError{Timeout: spec.Timeout, PartialLog: merged.String()}
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			// Non-zero exit is a completed execution, not a sandbox failure.
			return &ExecResult{
				ExitCode:  exitErr.ExitCode(),
				MergedLog: merged.String(),
				Duration:  elapsed,
			}, nil
		}
		return nil, &Error{Op: "exec", Cause: err}
	}

	return &ExecResult{ExitCode: 0, MergedLog: merged.String(), Duration: elapsed}, nil
}

// mergeEnv appends overrides to base as KEY=VALUE entries. Later entries win
// in the child process, so overrides take precedence over inherited values.
func mergeEnv(base []string, overrides map[string]string) []string {
	env := make([]string, len(base), len(base)+len(overrides))
	copy(env, base)
	for k, v := range overrides {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	return env
}

// cappedBuffer accepts writes up to a byte limit and silently discards the
// rest, always reporting full acceptance to satisfy the io.Writer contract.
type cappedBuffer struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	limit int
}

func (c *cappedBuffer) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	remaining := c.limit - c.buf.Len()
	if remaining > 0 {
		toWrite := p
		if len(toWrite) > remaining {
			toWrite = toWrite[:remaining]
		}
		c.buf.Write(toWrite)
	}
	return len(p), nil
}

func (c *cappedBuffer) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}
