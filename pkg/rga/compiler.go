package rga

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/alister-chowdhury/shader-explorer/pkg/exec"
	"github.com/alister-chowdhury/shader-explorer/pkg/logx"
	"github.com/alister-chowdhury/shader-explorer/pkg/metrics"
	"github.com/alister-chowdhury/shader-explorer/pkg/toolreg"
)

// Frontend lowers a stage source rga cannot read directly into SPIR-V.
type Frontend interface {
	// Handles reports whether the source at path needs lowering.
	Handles(path string) bool
	// Lower writes SPIR-V for src to dst.
	Lower(ctx context.Context, src, dst string) error
}

// Journal records finished sessions.
type Journal interface {
	RecordSession(ctx context.Context, req *CompileRequest, res *SessionResult) error
}

// Config carries the collaborators shared by Compiler and Discoverer.
type Config struct {
	Tools    *toolreg.Registry
	Executor exec.Executor
	Logger   *logx.Logger
	Metrics  metrics.Recorder
	// Journal is optional.
	Journal Journal
	// Frontend is optional.
	Frontend Frontend
}

func (c Config) withDefaults(component string) Config {
	if c.Tools == nil {
		c.Tools = toolreg.New()
	}
	if c.Executor == nil {
		c.Executor = exec.NewLocalExec()
	}
	if c.Logger == nil {
		c.Logger = logx.NewLogger(component)
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Nop()
	}
	return c
}

// artifactFile maps one artifact kind to rga's output name and our stable name.
type artifactFile struct {
	kind ArtifactKind
	// source returns the file rga writes inside the scratch workspace.
	source func(ws *ScratchWorkspace, target string, stage Stage) string
	// dest is the stable name inside the output directory.
	dest func(stage Stage) string
}

var artifactFiles = []artifactFile{
	{
		kind: ArtifactAnalysis,
		source: func(ws *ScratchWorkspace, target string, stage Stage) string {
			return filepath.Join(ws.Analysis, fmt.Sprintf("%s_a_%s.csv", target, stage))
		},
		dest: func(stage Stage) string { return fmt.Sprintf("%s_analysis.csv", stage) },
	},
	{
		kind: ArtifactISA,
		source: func(ws *ScratchWorkspace, target string, stage Stage) string {
			return filepath.Join(ws.ISA, fmt.Sprintf("%s_isa_%s.amdisa", target, stage))
		},
		dest: func(stage Stage) string { return fmt.Sprintf("%s_isa.amdisa", stage) },
	},
	{
		kind: ArtifactParsedISA,
		source: func(ws *ScratchWorkspace, target string, stage Stage) string {
			return filepath.Join(ws.ISA, fmt.Sprintf("%s_isa_%s.csv", target, stage))
		},
		dest: func(stage Stage) string { return fmt.Sprintf("%s_parsedisa.csv", stage) },
	},
	{
		kind: ArtifactCFG,
		source: func(ws *ScratchWorkspace, target string, stage Stage) string {
			return filepath.Join(ws.CFG, fmt.Sprintf("%s_cfg_%s.dot", target, stage))
		},
		dest: func(stage Stage) string { return fmt.Sprintf("%s_cfg.dot", stage) },
	},
}

// Compiler runs compile sessions against rga.
type Compiler struct {
	tools    *toolreg.Registry
	executor exec.Executor
	logger   *logx.Logger
	metrics  metrics.Recorder
	journal  Journal
	frontend Frontend
	renderer *renderer
}

// NewCompiler creates a compiler. Unset collaborators get defaults: an empty
// registry, the local executor and a no-op recorder.
func NewCompiler(cfg Config) *Compiler {
	cfg = cfg.withDefaults("rga")
	return &Compiler{
		tools:    cfg.Tools,
		executor: cfg.Executor,
		logger:   cfg.Logger,
		metrics:  cfg.Metrics,
		journal:  cfg.Journal,
		frontend: cfg.Frontend,
		renderer: newRenderer(cfg.Tools, cfg.Executor, cfg.Logger, cfg.Metrics),
	}
}

// Available reports whether rga was resolved.
func (c *Compiler) Available() bool {
	return c.tools.Found(toolreg.RGA)
}

// CompileCommand builds the single rga invocation covering every requested stage.
// sources maps each stage to the file actually handed to rga.
func CompileCommand(rgaPath string, req *CompileRequest, ws *ScratchWorkspace, sources map[Stage]string) []string {
	argv := []string{
		rgaPath,
		"-s", req.Mode.Backend(),
		"-c", req.Target,
		"--isa", filepath.Join(ws.ISA, "isa.amdisa"),
		"--parse-isa",
		"--cfg", filepath.Join(ws.CFG, "cfg.dot"),
		"-a", filepath.Join(ws.Analysis, "a.csv"),
	}
	for _, stage := range req.RequestedStages() {
		argv = append(argv, stage.Flag(), sources[stage])
	}
	return argv
}

// Compile runs one rga session.
//
// Requests are validated before anything is written or launched. rga's exit
// status is ignored; every artifact it did not produce is left empty on the
// result. When an error happens after rga ran, the partial result is returned
// alongside it so the captured output is not lost. The scratch workspace is
// removed on every path.
func (c *Compiler) Compile(ctx context.Context, req *CompileRequest) (*SessionResult, error) {
	if req == nil {
		return nil, fmt.Errorf("%w: nil request", ErrInvalidRequest)
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	rgaTool := c.tools.Get(toolreg.RGA)
	if !rgaTool.Found {
		return nil, fmt.Errorf("%w: %s", ErrToolUnavailable, rgaTool.Label())
	}

	start := time.Now()
	id := uuid.NewString()
	var result *SessionResult

	err := WithScratchWorkspace(req.OutputDir, ScratchOptions{ID: id, Logger: c.logger, Metrics: c.metrics}, func(ws *ScratchWorkspace) error {
		sources, err := c.prepareSources(ctx, req, ws)
		if err != nil {
			return err
		}

		argv := CompileCommand(rgaTool.ExecPath, req, ws, sources)
		logx.Debug(ctx, "rga", "compile %s: %v", id, argv)

		res, runErr := c.executor.Run(ctx, argv, &exec.Opts{})
		c.metrics.ObserveToolRun(toolreg.RGA, "compile", res.ExitCode, runErr != nil, res.Duration)
		result = &SessionResult{
			ID:       id,
			Stdout:   res.Stdout,
			Stderr:   res.Stderr,
			ExitCode: res.ExitCode,
			Stages:   make(map[Stage]*CompiledShader, len(req.Stages)),
		}
		if runErr != nil {
			return fmt.Errorf("failed to run rga: %w", runErr)
		}
		if res.ExitCode != 0 {
			c.logger.Debug("rga exited with code %d for session %s", res.ExitCode, id)
		}

		return c.collect(req, ws, result)
	})

	if result != nil {
		result.Duration = time.Since(start)
		c.record(ctx, req, result)
	}
	return result, err
}

// prepareSources returns the file to pass to rga per stage, lowering sources
// the frontend handles into the scratch workspace.
func (c *Compiler) prepareSources(ctx context.Context, req *CompileRequest, ws *ScratchWorkspace) (map[Stage]string, error) {
	sources := make(map[Stage]string, len(req.Stages))
	for stage, src := range req.Stages {
		if c.frontend == nil || !c.frontend.Handles(src) {
			sources[stage] = src
			continue
		}
		dst := filepath.Join(ws.Sources, string(stage)+".spv")
		if err := c.frontend.Lower(ctx, src, dst); err != nil {
			return nil, fmt.Errorf("%w: stage %s: %w", ErrFrontend, stage, err)
		}
		sources[stage] = dst
	}
	return sources, nil
}

// collect copies the artifacts rga produced out of the scratch workspace.
func (c *Compiler) collect(req *CompileRequest, ws *ScratchWorkspace, result *SessionResult) error {
	for _, stage := range req.RequestedStages() {
		shader := &CompiledShader{Stage: stage}
		result.Stages[stage] = shader

		for _, af := range artifactFiles {
			src := af.source(ws, req.Target, stage)
			if !fileExists(src) {
				c.metrics.ObserveArtifact(string(stage), string(af.kind), false)
				continue
			}
			dst := filepath.Join(req.OutputDir, af.dest(stage))
			if err := copyFile(src, dst); err != nil {
				return fmt.Errorf("failed to copy %s artifact for stage %s: %w", af.kind, stage, err)
			}
			c.metrics.ObserveArtifact(string(stage), string(af.kind), true)
			switch af.kind {
			case ArtifactAnalysis:
				shader.Analysis = dst
			case ArtifactISA:
				shader.ISA = dst
			case ArtifactParsedISA:
				shader.ParsedISA = dst
			case ArtifactCFG:
				shader.CFG = dst
				c.removeStaleImages(dst)
			}
		}

		shader.plan(c.renderer)
	}
	return nil
}

// removeStaleImages deletes images rendered from a CFG that was just replaced.
func (c *Compiler) removeStaleImages(cfg string) {
	base := strings.TrimSuffix(cfg, filepath.Ext(cfg))
	for _, format := range []ImageFormat{FormatSVG, FormatPNG} {
		image := base + "." + string(format)
		if err := os.Remove(image); err != nil && !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("Failed to remove stale image %s: %v", image, err)
		}
	}
}

func (c *Compiler) record(ctx context.Context, req *CompileRequest, result *SessionResult) {
	if c.journal == nil {
		return
	}
	if err := c.journal.RecordSession(ctx, req, result); err != nil {
		c.logger.Warn("Failed to record session %s: %v", result.ID, err)
	}
}

// Open rebuilds the artifact handle of stage from a previous session's output
// directory. Images on disk count as rendered unless older than the CFG.
func (c *Compiler) Open(outputDir string, stage Stage) (*CompiledShader, error) {
	if !stage.Valid() {
		return nil, fmt.Errorf("%w: unknown stage %q", ErrInvalidRequest, stage)
	}
	shader := &CompiledShader{Stage: stage}
	found := false
	for _, af := range artifactFiles {
		path := filepath.Join(outputDir, af.dest(stage))
		if !fileExists(path) {
			continue
		}
		found = true
		switch af.kind {
		case ArtifactAnalysis:
			shader.Analysis = path
		case ArtifactISA:
			shader.ISA = path
		case ArtifactParsedISA:
			shader.ParsedISA = path
		case ArtifactCFG:
			shader.CFG = path
		}
	}
	if !found {
		return nil, fmt.Errorf("no %s artifacts in %s: %w", stage, outputDir, os.ErrNotExist)
	}
	shader.plan(c.renderer)
	shader.markExisting()
	return shader, nil
}

func copyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, out.Close())
	}()

	_, err = io.Copy(out, in)
	return err
}
