// Package frontend lowers WGSL shaders to SPIR-V in-process so rga's Vulkan
// backends can consume them.
package frontend

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gogpu/naga"
	"github.com/gogpu/naga/spirv"

	"github.com/alister-chowdhury/shader-explorer/pkg/logx"
)

// ErrEmptySource is returned for a WGSL file with no content.
var ErrEmptySource = errors.New("frontend: empty shader source")

// Options configures the WGSL compiler.
type Options struct {
	// SPIRVVersion defaults to 1.3, the version rga's Vulkan backends accept.
	SPIRVVersion spirv.Version
	// Debug keeps OpName/OpLine debug info in the module.
	Debug bool
	// SkipValidation disables IR validation before code generation.
	SkipValidation bool
}

// WGSL compiles .wgsl sources with naga.
type WGSL struct {
	opts   Options
	logger *logx.Logger
}

// NewWGSL creates a WGSL frontend.
func NewWGSL(opts Options) *WGSL {
	if opts.SPIRVVersion == (spirv.Version{}) {
		opts.SPIRVVersion = spirv.Version1_3
	}
	return &WGSL{opts: opts, logger: logx.NewLogger("frontend")}
}

// Handles reports whether path is a WGSL source.
func (w *WGSL) Handles(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".wgsl")
}

// CompileSource compiles WGSL text to a SPIR-V binary.
func (w *WGSL) CompileSource(source string) ([]byte, error) {
	if strings.TrimSpace(source) == "" {
		return nil, ErrEmptySource
	}
	return naga.CompileWithOptions(source, naga.CompileOptions{
		SPIRVVersion: w.opts.SPIRVVersion,
		Debug:        w.opts.Debug,
		Validate:     !w.opts.SkipValidation,
	})
}

// Lower reads src, compiles it and writes the SPIR-V binary to dst.
func (w *WGSL) Lower(ctx context.Context, src, dst string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := os.ReadFile(src)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", src, err)
	}
	spv, err := w.CompileSource(string(data))
	if err != nil {
		return fmt.Errorf("%s: %w", filepath.Base(src), err)
	}
	if err := os.WriteFile(dst, spv, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", dst, err)
	}
	logx.Debug(ctx, "frontend", "lowered %s to %s (%d bytes)", src, dst, len(spv))
	return nil
}
