// Package rga drives the Radeon GPU Analyzer: one-shot compile sessions in a
// disposable scratch workspace, lazily rendered control-flow graphs, and the
// background discovery of supported GPU targets.
//
// rga gives no reliable exit status. A compile session therefore judges each
// artifact by whether the expected file exists; a missing file is an empty
// field on the result, never an error.
package rga

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"
)

var (
	// ErrInvalidRequest is returned for malformed or contradictory compile requests.
	// Nothing is written and nothing is launched.
	ErrInvalidRequest = errors.New("rga: invalid compile request")
	// ErrToolUnavailable is returned when rga was not resolved.
	ErrToolUnavailable = errors.New("rga: analyzer tool not available")
	// ErrRenderToolUnavailable is returned when a graph render is requested without dot.
	ErrRenderToolUnavailable = errors.New("rga: graph render tool not available")
	// ErrFrontend is returned when a stage source could not be lowered to SPIR-V.
	ErrFrontend = errors.New("rga: shader frontend failed")
)

// Stage is one shader-pipeline role.
type Stage string

const (
	StageCompute  Stage = "comp"
	StageVertex   Stage = "vert"
	StageGeometry Stage = "geom"
	StageFragment Stage = "frag"
)

// AllStages returns every stage in command-line order.
func AllStages() []Stage {
	return []Stage{StageCompute, StageVertex, StageGeometry, StageFragment}
}

// Valid reports whether s is a known stage.
func (s Stage) Valid() bool {
	switch s {
	case StageCompute, StageVertex, StageGeometry, StageFragment:
		return true
	}
	return false
}

// Graphics reports whether s belongs to the graphics pipeline.
func (s Stage) Graphics() bool {
	return s == StageVertex || s == StageGeometry || s == StageFragment
}

// Flag is the rga input flag for the stage, e.g. "--comp".
func (s Stage) Flag() string {
	return "--" + string(s)
}

// ParseStage accepts short names ("comp") and long names ("compute").
func ParseStage(name string) (Stage, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "comp", "compute", "cs":
		return StageCompute, nil
	case "vert", "vertex", "vs":
		return StageVertex, nil
	case "geom", "geometry", "gs":
		return StageGeometry, nil
	case "frag", "fragment", "fs", "pixel", "ps":
		return StageFragment, nil
	}
	return "", fmt.Errorf("%w: unknown stage %q", ErrInvalidRequest, name)
}

// Mode selects between the live Vulkan driver and the offline SPIR-V backend.
type Mode int

const (
	ModeOffline Mode = iota
	ModeOnline
)

// Backend is the value rga expects after -s.
func (m Mode) Backend() string {
	if m == ModeOnline {
		return "vulkan"
	}
	return "vk-spv-offline"
}

func (m Mode) String() string {
	if m == ModeOnline {
		return "online"
	}
	return "offline"
}

// ArtifactKind names one file rga emits per stage.
type ArtifactKind string

const (
	ArtifactAnalysis  ArtifactKind = "analysis"
	ArtifactISA       ArtifactKind = "isa"
	ArtifactParsedISA ArtifactKind = "parsedisa"
	ArtifactCFG       ArtifactKind = "cfg"
)

// CompileRequest describes one rga run.
type CompileRequest struct {
	// Target is the raw target id, e.g. "gfx1010".
	Target string
	// Mode selects the online or offline backend.
	Mode Mode
	// Stages maps each requested stage to its source file.
	Stages map[Stage]string
	// OutputDir receives the stable artifacts; it must already exist.
	OutputDir string
}

// RequestedStages returns the requested stages in canonical order.
func (r *CompileRequest) RequestedStages() []Stage {
	out := make([]Stage, 0, len(r.Stages))
	for _, s := range AllStages() {
		if _, ok := r.Stages[s]; ok {
			out = append(out, s)
		}
	}
	return out
}

// Validate checks the request without touching the filesystem beyond a stat
// of OutputDir.
func (r *CompileRequest) Validate() error {
	if strings.TrimSpace(r.Target) == "" {
		return fmt.Errorf("%w: no target provided", ErrInvalidRequest)
	}
	if len(r.Stages) == 0 {
		return fmt.Errorf("%w: no shaders provided", ErrInvalidRequest)
	}

	unknown := make([]string, 0)
	compute, graphics := false, false
	for stage, src := range r.Stages {
		if !stage.Valid() {
			unknown = append(unknown, string(stage))
			continue
		}
		if strings.TrimSpace(src) == "" {
			return fmt.Errorf("%w: empty source path for stage %s", ErrInvalidRequest, stage)
		}
		if stage.Graphics() {
			graphics = true
		} else {
			compute = true
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return fmt.Errorf("%w: unknown stages %v", ErrInvalidRequest, unknown)
	}
	if compute && graphics {
		return fmt.Errorf("%w: cannot mix compute and graphics pipelines", ErrInvalidRequest)
	}

	if strings.TrimSpace(r.OutputDir) == "" {
		return fmt.Errorf("%w: no output dir provided", ErrInvalidRequest)
	}
	info, err := os.Stat(r.OutputDir)
	if err != nil {
		return fmt.Errorf("%w: output dir %s: %w", ErrInvalidRequest, r.OutputDir, err)
	}
	if !info.IsDir() {
		return fmt.Errorf("%w: output dir %s is not a directory", ErrInvalidRequest, r.OutputDir)
	}
	return nil
}

// DeviceCapability is one target rga can compile for.
type DeviceCapability struct {
	// Name is the display name; online entries carry an " [online]" suffix.
	Name string `json:"name" yaml:"name"`
	// Target is the raw target id passed to -c.
	Target string `json:"target" yaml:"target"`
	// Family is the codename suffix, e.g. "(Vega)".
	Family string `json:"family" yaml:"family"`
	// Products lists compatible product names in listing order.
	Products []string `json:"products" yaml:"products"`
	// Online reports whether the entry came from the live driver.
	Online bool `json:"online" yaml:"online"`
}

// SessionResult is the outcome of one compile session.
type SessionResult struct {
	// ID identifies the session (also the scratch directory suffix).
	ID string
	// Stdout is rga's raw standard output, kept for forensics.
	Stdout string
	// Stderr is rga's raw standard error.
	Stderr string
	// ExitCode is informational only; rga does not report failures through it.
	ExitCode int
	// Stages holds one entry per requested stage.
	Stages   map[Stage]*CompiledShader
	Duration time.Duration
}

// Stage returns the compiled stage, or nil when it was not requested.
func (r *SessionResult) Stage(s Stage) *CompiledShader {
	if r == nil {
		return nil
	}
	return r.Stages[s]
}
