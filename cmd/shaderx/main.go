// Command shaderx drives the Radeon GPU Analyzer: it lists compile targets,
// compiles shader stages into stable per-stage artifacts, renders their control
// flow graphs and keeps a journal of past sessions.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/alister-chowdhury/shader-explorer/pkg/config"
	"github.com/alister-chowdhury/shader-explorer/pkg/exec"
	"github.com/alister-chowdhury/shader-explorer/pkg/frontend"
	"github.com/alister-chowdhury/shader-explorer/pkg/history"
	"github.com/alister-chowdhury/shader-explorer/pkg/logx"
	"github.com/alister-chowdhury/shader-explorer/pkg/metrics"
	"github.com/alister-chowdhury/shader-explorer/pkg/rga"
	"github.com/alister-chowdhury/shader-explorer/pkg/toolreg"
)

// Exit codes.
const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

// usageError marks errors caused by bad arguments rather than by the tools.
type usageError struct {
	msg string
}

func (e *usageError) Error() string { return e.msg }

func usagef(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, a *app, args []string) error
}

func commands() []command {
	return []command{
		{"tools", "report which external tools were found", runTools},
		{"targets", "list the targets rga can compile for", runTargets},
		{"compile", "compile shader stages and collect their artifacts", runCompile},
		{"render", "render a stage's control flow graph", runRender},
		{"analyze", "estimate occupancy from a compiled stage", runAnalyze},
		{"history", "list or prune journaled compile sessions", runHistory},
		{"config", "print or write the effective configuration", runConfig},
		{"version", "print the shaderx build", runVersion},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr, exec.NewLocalExec())
	stop()
	os.Exit(code)
}

// run parses the global flags, loads config and dispatches one subcommand.
func run(ctx context.Context, args []string, stdout, stderr io.Writer, executor exec.Executor) int {
	global := flag.NewFlagSet("shaderx", flag.ContinueOnError)
	global.SetOutput(stderr)
	projectDir := global.String("C", ".", "project directory holding .shaderx/config.json")
	dumpMetrics := global.Bool("metrics", false, "print Prometheus metrics to stderr when done")
	debug := global.Bool("debug", false, "enable debug logging")
	global.Usage = func() { printUsage(stderr) }

	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	rest := global.Args()
	if len(rest) == 0 {
		printUsage(stderr)
		return exitUsage
	}

	var cmd *command
	for _, c := range commands() {
		if c.name == rest[0] {
			cmd = &c
			break
		}
	}
	if cmd == nil {
		fmt.Fprintf(stderr, "Error: unknown command %q\n\n", rest[0])
		printUsage(stderr)
		return exitUsage
	}

	cfg, err := config.Load(*projectDir)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitFailure
	}
	if *debug {
		cfg.Debug.Enabled = true
	}
	cfg.ApplyDebug()

	a := newApp(cfg, stdout, stderr, executor, *dumpMetrics || cfg.Metrics.Enabled)
	err = cmd.run(ctx, a, rest[1:])
	a.close()

	if a.registry != nil {
		if werr := metrics.WriteText(stderr, a.registry); werr != nil {
			fmt.Fprintf(stderr, "Error: failed to write metrics: %v\n", werr)
		}
	}
	return exitCode(stderr, err)
}

func exitCode(stderr io.Writer, err error) int {
	if err == nil || errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	var ue *usageError
	if errors.As(err, &ue) || errors.Is(err, rga.ErrInvalidRequest) {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitUsage
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return exitFailure
}

func printUsage(w io.Writer) {
	fmt.Fprintf(w, "shaderx - Radeon GPU Analyzer front end\n\n")
	fmt.Fprintf(w, "Usage:\n  shaderx [-C dir] [-metrics] [-debug] <command> [flags]\n\n")
	fmt.Fprintf(w, "Commands:\n")
	for _, c := range commands() {
		fmt.Fprintf(w, "  %-9s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(w, "\nRun 'shaderx <command> -h' for command flags.\n")
}

// app holds the collaborators shared by every subcommand.
type app struct {
	cfg      *config.Config
	stdout   io.Writer
	stderr   io.Writer
	executor exec.Executor
	tools    *toolreg.Registry
	logger   *logx.Logger

	recorder metrics.Recorder
	registry *prometheus.Registry

	journal    *history.Journal
	discoverer *rga.CachedDiscoverer
}

func newApp(cfg *config.Config, stdout, stderr io.Writer, executor exec.Executor, withMetrics bool) *app {
	logger := logx.NewLogger("shaderx")
	opts := cfg.ToolOptions()
	opts.Logger = logx.NewLogger("toolreg")

	a := &app{
		cfg:      cfg,
		stdout:   stdout,
		stderr:   stderr,
		executor: executor,
		tools:    toolreg.Resolve(opts),
		logger:   logger,
		recorder: metrics.Nop(),
	}
	if withMetrics {
		a.registry = prometheus.NewRegistry()
		a.recorder = metrics.NewPrometheusRecorder(a.registry)
	}
	return a
}

// rgaConfig returns the collaborators for rga components. The journal is only
// attached when one was opened.
func (a *app) rgaConfig() rga.Config {
	cfg := rga.Config{
		Tools:    a.tools,
		Executor: a.executor,
		Metrics:  a.recorder,
		Frontend: frontend.NewWGSL(frontend.Options{}),
	}
	if a.journal != nil {
		cfg.Journal = a.journal
	}
	return cfg
}

// openJournal opens the configured history database once.
func (a *app) openJournal() (*history.Journal, error) {
	if a.journal != nil {
		return a.journal, nil
	}
	path := a.cfg.HistoryPath()
	if path == "" {
		return nil, errors.New("history is disabled (history_db is \"none\")")
	}
	if path != history.MemoryPath {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create history directory: %w", err)
		}
	}
	j, err := history.Open(path)
	if err != nil {
		return nil, err
	}
	a.journal = j
	return j, nil
}

// discovery returns the process-wide cached discoverer.
func (a *app) discovery() (*rga.CachedDiscoverer, error) {
	if a.discoverer != nil {
		return a.discoverer, nil
	}
	d, err := rga.NewCachedDiscoverer(rga.NewDiscoverer(a.rgaConfig()), a.tools, a.cfg.DiscoveryCacheSize)
	if err != nil {
		return nil, err
	}
	a.discoverer = d
	return d, nil
}

func (a *app) close() {
	if a.journal != nil {
		if err := a.journal.Close(); err != nil {
			a.logger.Warn("failed to close history: %v", err)
		}
		a.journal = nil
	}
}
