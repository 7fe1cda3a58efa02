package toolreg

import (
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/alister-chowdhury/shader-explorer/pkg/logx"
)

// Spec describes how to look for one tool.
type Spec struct {
	Name        string
	EnvOverride string
}

// SiblingRule searches the directory of Parent for still-missing Tools.
type SiblingRule struct {
	Parent    string
	Recursive bool
	Tools     []string
}

// DefaultSpecs lists the toolchain and the environment variables overriding it.
func DefaultSpecs() []Spec {
	return []Spec{
		{Name: GLSLC, EnvOverride: "GLSLC_PATH"},
		{Name: SPIRVDis, EnvOverride: "SPIRV_DIS_PATH"},
		{Name: SPIRVCross, EnvOverride: "SPIRV_CROSS_PATH"},
		{Name: DXC, EnvOverride: "DXC_PATH"},
		{Name: RGA, EnvOverride: "RGA_PATH"},
		{Name: Naga, EnvOverride: "NAGA_PATH"},
		{Name: Tint, EnvOverride: "TINT_PATH"},
		{Name: Dot, EnvOverride: "DOT_PATH"},
	}
}

// DefaultSiblingRules: RGA ships dxc and the SPIR-V tools under its install
// tree; the Vulkan SDK keeps spirv-dis and dxc next to glslc.
func DefaultSiblingRules() []SiblingRule {
	return []SiblingRule{
		{Parent: RGA, Recursive: true, Tools: []string{DXC, SPIRVDis, SPIRVCross}},
		{Parent: GLSLC, Recursive: false, Tools: []string{SPIRVDis, DXC}},
	}
}

// Environment is the process state resolution reads. Tests supply their own.
type Environment struct {
	Getenv func(string) string
	Path   string
}

// OSEnvironment reads the real process environment.
func OSEnvironment() Environment {
	return Environment{Getenv: os.Getenv, Path: os.Getenv("PATH")}
}

// Options configures Resolve.
type Options struct {
	Specs    []Spec
	Siblings []SiblingRule
	// Explicit maps tool name to a configured path; it wins over everything else.
	Explicit map[string]string
	Env      Environment
	Logger   *logx.Logger
}

// DefaultOptions resolves the default toolchain against the process environment.
func DefaultOptions() Options {
	return Options{
		Specs:    DefaultSpecs(),
		Siblings: DefaultSiblingRules(),
		Env:      OSEnvironment(),
	}
}

// Resolve finds every tool in opts.Specs. Order per tool: explicit config path,
// env override naming a file, env override used as a search path, PATH, then
// sibling rules.
func Resolve(opts Options) *Registry {
	logger := opts.Logger
	if logger == nil {
		logger = logx.NewLogger("toolreg")
	}
	getenv := opts.Env.Getenv
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	pathDirs := filepath.SplitList(opts.Env.Path)

	tools := make(map[string]*Tool, len(opts.Specs))
	order := make([]string, 0, len(opts.Specs))
	for _, spec := range opts.Specs {
		t := resolveOne(spec, opts.Explicit[spec.Name], getenv, pathDirs)
		tools[spec.Name] = &t
		order = append(order, spec.Name)
	}

	for _, rule := range opts.Siblings {
		applySiblingRule(rule, tools)
	}

	list := make([]Tool, 0, len(order))
	for _, name := range order {
		t := *tools[name]
		if t.Found {
			logger.Debug("resolved %s", t.Label())
		} else {
			logger.Debug("%s not found", t.Name)
		}
		list = append(list, t)
	}
	return New(list...)
}

func resolveOne(spec Spec, explicit string, getenv func(string) string, pathDirs []string) Tool {
	t := Tool{Name: spec.Name, EnvOverride: spec.EnvOverride}

	if explicit = strings.TrimSpace(explicit); explicit != "" && isExecutable(explicit) {
		t.ExecPath, t.Resolver, t.Found = absOrSelf(explicit), "config", true
		return t
	}

	if spec.EnvOverride != "" {
		if value := strings.TrimSpace(getenv(spec.EnvOverride)); value != "" {
			resolver := "$" + spec.EnvOverride
			if isExecutable(value) {
				t.ExecPath, t.Resolver, t.Found = absOrSelf(value), resolver, true
				return t
			}
			// Not a file: treat it as a search path.
			if found := lookIn(spec.Name, filepath.SplitList(value)); found != "" {
				t.ExecPath, t.Resolver, t.Found = found, resolver, true
				return t
			}
		}
	}

	if found := lookIn(spec.Name, pathDirs); found != "" {
		t.ExecPath, t.Resolver, t.Found = found, "PATH", true
	}
	return t
}

func applySiblingRule(rule SiblingRule, tools map[string]*Tool) {
	parent, ok := tools[rule.Parent]
	if !ok || !parent.Found {
		return
	}
	missing := false
	for _, name := range rule.Tools {
		if t, ok := tools[name]; ok && !t.Found {
			missing = true
		}
	}
	if !missing {
		return
	}

	root := filepath.Dir(parent.ExecPath)
	dirs := []string{root}
	if rule.Recursive {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return nil //nolint:nilerr // unreadable subtrees are skipped
			}
			if d.IsDir() && path != root {
				dirs = append(dirs, path)
			}
			return nil
		})
	}

	resolver := strings.ToUpper(rule.Parent)
	for _, name := range rule.Tools {
		t, ok := tools[name]
		if !ok || t.Found {
			continue
		}
		if found := lookIn(name, dirs); found != "" {
			t.ExecPath, t.Resolver, t.Found = found, resolver, true
		}
	}
}

func absOrSelf(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}
