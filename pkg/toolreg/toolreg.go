// Package toolreg resolves the external shader toolchain once at startup.
//
// A Registry is an immutable set of Tool values built by Resolve (or by hand in
// tests) and passed into every component that launches a tool. Nothing reads
// PATH or the environment after construction.
package toolreg

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// Well known tool names.
const (
	RGA        = "rga"
	Dot        = "dot"
	GLSLC      = "glslc"
	SPIRVDis   = "spirv-dis"
	SPIRVCross = "spirv-cross"
	DXC        = "dxc"
	Naga       = "naga"
	Tint       = "tint"
)

// ErrUnknownTool is returned for names the registry was not built with.
var ErrUnknownTool = errors.New("unknown tool")

// Tool is one resolved (or unresolved) executable.
type Tool struct {
	// Name is the lookup key, e.g. "rga".
	Name string `json:"name" yaml:"name"`
	// ExecPath is the absolute path to the binary; empty when not found.
	ExecPath string `json:"exec_path,omitempty" yaml:"exec_path,omitempty"`
	// EnvOverride is the environment variable consulted first, e.g. "RGA_PATH".
	EnvOverride string `json:"env_override,omitempty" yaml:"env_override,omitempty"`
	// Resolver names how the tool was found: "config", "$RGA_PATH", "PATH", "RGA", ...
	Resolver string `json:"resolver,omitempty" yaml:"resolver,omitempty"`
	// Found reports whether ExecPath is usable.
	Found bool `json:"found" yaml:"found"`
}

// Label renders the tool like "rga [$RGA_PATH] (/opt/rga/rga)".
func (t Tool) Label() string {
	name := t.Name
	if t.Resolver != "" && t.Resolver != "PATH" {
		name = fmt.Sprintf("%s [%s]", t.Name, t.Resolver)
	}
	path := t.ExecPath
	if path == "" {
		path = "not found"
	}
	return fmt.Sprintf("%s (%s)", name, path)
}

// Registry is a read-only set of tools.
type Registry struct {
	tools map[string]Tool
}

// New builds a registry from already-resolved tools. Later duplicates win.
func New(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		t.Found = t.Found && t.ExecPath != ""
		r.tools[t.Name] = t
	}
	return r
}

// Get returns the tool by name. Unknown names yield a not-found Tool.
func (r *Registry) Get(name string) Tool {
	if r == nil {
		return Tool{Name: name}
	}
	if t, ok := r.tools[name]; ok {
		return t
	}
	return Tool{Name: name}
}

// Lookup returns the tool and whether the registry knows it at all.
func (r *Registry) Lookup(name string) (Tool, error) {
	if r == nil {
		return Tool{Name: name}, ErrUnknownTool
	}
	t, ok := r.tools[name]
	if !ok {
		return Tool{Name: name}, fmt.Errorf("%w: %s", ErrUnknownTool, name)
	}
	return t, nil
}

// Found reports whether name resolved to an executable.
func (r *Registry) Found(name string) bool {
	return r.Get(name).Found
}

// Path returns the executable path for name, or "" when not found.
func (r *Registry) Path(name string) string {
	return r.Get(name).ExecPath
}

// List returns every tool sorted by name.
func (r *Registry) List() []Tool {
	if r == nil {
		return nil
	}
	out := make([]Tool, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Features derived from which tools resolved.
type Features struct {
	GLSLToSPIRV bool `json:"glsl_to_spirv" yaml:"glsl_to_spirv"`
	HLSLToSPIRV bool `json:"hlsl_to_spirv" yaml:"hlsl_to_spirv"`
	WGSLToSPIRV bool `json:"wgsl_to_spirv" yaml:"wgsl_to_spirv"`
	SPIRVToGLSL bool `json:"spirv_to_glsl" yaml:"spirv_to_glsl"`
	SPIRVToHLSL bool `json:"spirv_to_hlsl" yaml:"spirv_to_hlsl"`
	SPIRVToWGSL bool `json:"spirv_to_wgsl" yaml:"spirv_to_wgsl"`
	ViewSPIRV   bool `json:"view_spirv" yaml:"view_spirv"`
	AMDISA      bool `json:"amd_isa" yaml:"amd_isa"`
	RenderCFG   bool `json:"render_cfg" yaml:"render_cfg"`
}

// Features reports what the resolved toolchain can do. WGSL to SPIR-V is always
// available through the in-process frontend.
func (r *Registry) Features() Features {
	return Features{
		GLSLToSPIRV: r.Found(GLSLC),
		HLSLToSPIRV: r.Found(DXC),
		WGSLToSPIRV: true,
		SPIRVToGLSL: r.Found(SPIRVCross),
		SPIRVToHLSL: r.Found(SPIRVCross),
		SPIRVToWGSL: r.Found(Naga) || r.Found(Tint),
		ViewSPIRV:   r.Found(SPIRVDis),
		AMDISA:      r.Found(RGA),
		RenderCFG:   r.Found(Dot),
	}
}

// isExecutable reports whether path is a regular file we may run.
func isExecutable(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	if runtime.GOOS == "windows" {
		return true
	}
	return info.Mode().Perm()&0o111 != 0
}

func candidateNames(name string) []string {
	if runtime.GOOS != "windows" || filepath.Ext(name) != "" {
		return []string{name}
	}
	exts := strings.Split(strings.ToLower(os.Getenv("PATHEXT")), ";")
	if len(exts) == 1 && exts[0] == "" {
		exts = []string{".exe", ".bat", ".cmd"}
	}
	out := make([]string, 0, len(exts))
	for _, ext := range exts {
		if ext != "" {
			out = append(out, name+ext)
		}
	}
	return out
}

// lookIn searches dirs in order for an executable called name.
func lookIn(name string, dirs []string) string {
	for _, dir := range dirs {
		if dir == "" {
			continue
		}
		for _, candidate := range candidateNames(name) {
			path := filepath.Join(dir, candidate)
			if isExecutable(path) {
				if abs, err := filepath.Abs(path); err == nil {
					return abs
				}
				return path
			}
		}
	}
	return ""
}
