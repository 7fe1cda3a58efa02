package exec

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// LocalExec executes commands directly on the local system.
type LocalExec struct{}

// NewLocalExec creates a new LocalExec executor.
func NewLocalExec() *LocalExec {
	return &LocalExec{}
}

// Name returns the executor type name.
func (e *LocalExec) Name() string {
	return "local"
}

// Run executes a command locally and waits for it. A non-zero exit code is not
// an error; the caller inspects Result.ExitCode.
func (e *LocalExec) Run(ctx context.Context, cmd []string, opts *Opts) (Result, error) {
	proc, err := e.Start(ctx, cmd, opts)
	if err != nil {
		return Result{Argv: cmd, ExitCode: -1, ExecutorUsed: e.Name()}, err
	}
	return proc.Wait()
}

// Start launches a command locally with stdout and stderr captured in memory.
func (e *LocalExec) Start(ctx context.Context, cmd []string, opts *Opts) (Process, error) {
	if len(cmd) == 0 {
		return nil, ErrEmptyCommand
	}
	if opts == nil {
		defaults := DefaultExecOpts()
		opts = &defaults
	}

	cancel := context.CancelFunc(func() {})
	if opts.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
	}

	execCmd := exec.CommandContext(ctx, cmd[0], cmd[1:]...) //nolint:gosec // argv comes from the tool registry

	if opts.WorkDir != "" {
		if _, err := os.Stat(opts.WorkDir); os.IsNotExist(err) {
			cancel()
			return nil, fmt.Errorf("working directory does not exist: %s", opts.WorkDir)
		}
		execCmd.Dir = opts.WorkDir
	}
	if len(opts.Env) > 0 {
		execCmd.Env = append(os.Environ(), opts.Env...)
	}

	p := &localProcess{
		argv:     append([]string(nil), cmd...),
		cmd:      execCmd,
		cancel:   cancel,
		executor: e.Name(),
	}
	execCmd.Stdout = &p.stdout
	if opts.DiscardStderr {
		execCmd.Stderr = io.Discard
	} else {
		execCmd.Stderr = &p.stderr
	}

	p.started = time.Now()
	if err := execCmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start %s: %w", cmd[0], err)
	}
	return p, nil
}

// localProcess is a running os/exec command.
type localProcess struct {
	argv     []string
	cmd      *exec.Cmd
	cancel   context.CancelFunc
	executor string
	started  time.Time
	stdout   strings.Builder
	stderr   strings.Builder

	once   sync.Once
	result Result
	err    error
}

func (p *localProcess) Argv() []string {
	return p.argv
}

func (p *localProcess) Wait() (Result, error) {
	p.once.Do(func() {
		defer p.cancel()
		err := p.cmd.Wait()

		p.result = Result{
			Argv:         p.argv,
			Stdout:       p.stdout.String(),
			Stderr:       p.stderr.String(),
			ExecutorUsed: p.executor,
			Duration:     time.Since(p.started),
		}

		var exitErr *exec.ExitError
		switch {
		case err == nil:
			p.result.ExitCode = 0
		case errors.As(err, &exitErr):
			// Non-zero exit is data for the caller.
			p.result.ExitCode = exitErr.ExitCode()
		default:
			p.result.ExitCode = -1
			p.err = err
		}
	})
	return p.result, p.err
}
