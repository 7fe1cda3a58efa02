package rga

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/alister-chowdhury/shader-explorer/pkg/exec"
	"github.com/alister-chowdhury/shader-explorer/pkg/logx"
	"github.com/alister-chowdhury/shader-explorer/pkg/metrics"
	"github.com/alister-chowdhury/shader-explorer/pkg/toolreg"
)

// ImageFormat is a dot output format.
type ImageFormat string

const (
	FormatSVG ImageFormat = "svg"
	FormatPNG ImageFormat = "png"
)

// renderer turns a .dot file into an image with graphviz.
type renderer struct {
	dotPath  string
	executor exec.Executor
	logger   *logx.Logger
	metrics  metrics.Recorder
}

func newRenderer(tools *toolreg.Registry, executor exec.Executor, logger *logx.Logger, recorder metrics.Recorder) *renderer {
	if logger == nil {
		logger = logx.NewLogger("render")
	}
	if recorder == nil {
		recorder = metrics.Nop()
	}
	return &renderer{
		dotPath:  tools.Path(toolreg.Dot),
		executor: executor,
		logger:   logger,
		metrics:  recorder,
	}
}

func (r *renderer) available() bool {
	return r != nil && r.dotPath != "" && r.executor != nil
}

// RenderCommand builds the dot invocation for one graph.
func RenderCommand(dotPath, cfgPath string, format ImageFormat, outPath string) []string {
	return []string{dotPath, "-Nfontname=sans", "-T" + string(format), cfgPath, "-o", outPath}
}

func (r *renderer) render(ctx context.Context, cfgPath string, format ImageFormat, outPath string) error {
	argv := RenderCommand(r.dotPath, cfgPath, format, outPath)
	r.logger.Debug("Rendering %s -> %s", cfgPath, outPath)

	res, err := r.executor.Run(ctx, argv, &exec.Opts{})
	failed := err != nil || res.ExitCode != 0
	r.metrics.ObserveToolRun(toolreg.Dot, "render-"+string(format), res.ExitCode, failed, res.Duration)
	if err != nil {
		return fmt.Errorf("failed to run dot: %w", err)
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("dot exited with code %d: %s", res.ExitCode, strings.TrimSpace(res.Stderr))
	}
	return nil
}

// CompiledShader holds the stable artifact paths of one stage. An empty path
// means rga did not produce that file.
//
// CFGSVG and CFGPNG are planned paths: they are set as soon as a CFG exists and
// dot is available, but only exist on disk after the matching Ensure call.
type CompiledShader struct {
	Stage     Stage
	Analysis  string
	ISA       string
	ParsedISA string
	CFG       string
	CFGSVG    string
	CFGPNG    string

	mu       sync.Mutex
	svgDirty bool
	pngDirty bool
	renderer *renderer
}

// HasAnalysis reports whether the analysis CSV was produced.
func (s *CompiledShader) HasAnalysis() bool { return s.Analysis != "" }

// HasISA reports whether the ISA disassembly was produced.
func (s *CompiledShader) HasISA() bool { return s.ISA != "" }

// HasParsedISA reports whether the parsed ISA CSV was produced.
func (s *CompiledShader) HasParsedISA() bool { return s.ParsedISA != "" }

// HasCFG reports whether the control-flow graph was produced.
func (s *CompiledShader) HasCFG() bool { return s.CFG != "" }

// RenderAvailable reports whether the graph can be rendered.
func (s *CompiledShader) RenderAvailable() bool {
	return s.CFG != "" && s.renderer.available()
}

// Artifact returns the path for kind, or "" when absent.
func (s *CompiledShader) Artifact(kind ArtifactKind) string {
	switch kind {
	case ArtifactAnalysis:
		return s.Analysis
	case ArtifactISA:
		return s.ISA
	case ArtifactParsedISA:
		return s.ParsedISA
	case ArtifactCFG:
		return s.CFG
	}
	return ""
}

// EnsureCFGSVGRendered renders the SVG on the first call and is a no-op after.
func (s *CompiledShader) EnsureCFGSVGRendered(ctx context.Context) error {
	return s.ensureRendered(ctx, FormatSVG)
}

// EnsureCFGPNGRendered renders the PNG on the first call and is a no-op after.
func (s *CompiledShader) EnsureCFGPNGRendered(ctx context.Context) error {
	return s.ensureRendered(ctx, FormatPNG)
}

func (s *CompiledShader) ensureRendered(ctx context.Context, format ImageFormat) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.CFG == "" {
		return nil
	}
	if !s.renderer.available() {
		return fmt.Errorf("%w: cannot render %s graph for stage %s", ErrRenderToolUnavailable, format, s.Stage)
	}

	out, dirty := s.CFGSVG, &s.svgDirty
	if format == FormatPNG {
		out, dirty = s.CFGPNG, &s.pngDirty
	}
	if !*dirty {
		return nil
	}

	if err := s.renderer.render(ctx, s.CFG, format, out); err != nil {
		return err
	}
	*dirty = false
	return nil
}

// plan sets the derived image paths next to the CFG and marks them dirty.
func (s *CompiledShader) plan(r *renderer) {
	s.renderer = r
	if s.CFG == "" || !r.available() {
		return
	}
	base := strings.TrimSuffix(s.CFG, filepath.Ext(s.CFG))
	s.CFGSVG, s.svgDirty = base+".svg", true
	s.CFGPNG, s.pngDirty = base+".png", true
}

// markExisting clears dirty flags for images on disk that are at least as new
// as the CFG they were rendered from.
func (s *CompiledShader) markExisting() {
	if s.CFGSVG != "" && renderedFrom(s.CFGSVG, s.CFG) {
		s.svgDirty = false
	}
	if s.CFGPNG != "" && renderedFrom(s.CFGPNG, s.CFG) {
		s.pngDirty = false
	}
}

func renderedFrom(image, cfg string) bool {
	img, err := os.Stat(image)
	if err != nil || !img.Mode().IsRegular() {
		return false
	}
	src, err := os.Stat(cfg)
	if err != nil {
		return false
	}
	return !img.ModTime().Before(src.ModTime())
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.Mode().IsRegular()
}
