// Package exec runs external toolchain processes, either to completion (Run) or
// in the background (Start) so several slow queries can overlap in wall-clock time.
package exec

import (
	"context"
	"errors"
	"time"
)

// ErrEmptyCommand is returned when no argv is given.
var ErrEmptyCommand = errors.New("command cannot be empty")

// Executor launches external processes.
type Executor interface {
	// Run executes cmd and waits for it to exit.
	Run(ctx context.Context, cmd []string, opts *Opts) (Result, error)

	// Start launches cmd and returns without waiting for it.
	Start(ctx context.Context, cmd []string, opts *Opts) (Process, error)

	// Name returns the executor name for logging.
	Name() string
}

// Process is a launched command that has not necessarily exited yet.
type Process interface {
	// Wait blocks until the process exits and returns its captured output.
	// It is safe to call more than once; later calls return the first result.
	Wait() (Result, error)

	// Argv returns the command line the process was started with.
	Argv() []string
}

// Opts contains options for command execution.
type Opts struct {
	// Env holds extra KEY=VALUE pairs appended to the current environment.
	Env []string

	// WorkDir is the working directory for the command.
	WorkDir string

	// Timeout bounds the run. Zero means wait for as long as the tool takes.
	Timeout time.Duration

	// DiscardStderr drops stderr instead of capturing it.
	DiscardStderr bool
}

// Result contains the outcome of one process.
type Result struct {
	// Argv is the command line that ran.
	Argv []string

	// Stdout contains the standard output.
	Stdout string

	// Stderr contains the standard error output.
	Stderr string

	// ExecutorUsed names the executor (for debugging).
	ExecutorUsed string

	// Duration is the wall time from launch to exit.
	Duration time.Duration

	// ExitCode is the exit code; -1 when the process never produced one.
	ExitCode int
}

// DefaultExecOpts returns options with no timeout.
func DefaultExecOpts() Opts {
	return Opts{}
}
