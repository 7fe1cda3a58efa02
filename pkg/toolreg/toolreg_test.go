package toolreg

import (
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeTool creates an executable stub named name inside dir.
func writeTool(t *testing.T, dir, name string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
	return path
}

func envOf(values map[string]string, path ...string) Environment {
	return Environment{
		Getenv: func(k string) string { return values[k] },
		Path:   filepath.Join(path...),
	}
}

func TestResolve_EnvOverrideFile(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("executable bits not used on windows")
	}
	dir := t.TempDir()
	rga := writeTool(t, filepath.Join(dir, "custom"), "rga-1.2")

	reg := Resolve(Options{
		Specs: []Spec{{Name: RGA, EnvOverride: "RGA_PATH"}},
		Env:   envOf(map[string]string{"RGA_PATH": rga}),
	})

	tool := reg.Get(RGA)
	require.True(t, tool.Found)
	assert.Equal(t, rga, tool.ExecPath)
	assert.Equal(t, "$RGA_PATH", tool.Resolver)
	assert.Equal(t, "rga [$RGA_PATH] ("+rga+")", tool.Label())
}

func TestResolve_EnvOverrideAsSearchPath(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("executable bits not used on windows")
	}
	dir := t.TempDir()
	dot := writeTool(t, filepath.Join(dir, "graphviz", "bin"), "dot")

	reg := Resolve(Options{
		Specs: []Spec{{Name: Dot, EnvOverride: "DOT_PATH"}},
		Env:   envOf(map[string]string{"DOT_PATH": filepath.Join(dir, "graphviz", "bin")}),
	})

	assert.True(t, reg.Found(Dot))
	assert.Equal(t, dot, reg.Path(Dot))
}

func TestResolve_FallsBackToPATH(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("executable bits not used on windows")
	}
	dir := t.TempDir()
	bin := filepath.Join(dir, "bin")
	dot := writeTool(t, bin, "dot")

	reg := Resolve(Options{
		Specs: []Spec{{Name: Dot, EnvOverride: "DOT_PATH"}},
		Env:   envOf(map[string]string{"DOT_PATH": filepath.Join(dir, "nope")}, bin),
	})

	tool := reg.Get(Dot)
	require.True(t, tool.Found)
	assert.Equal(t, dot, tool.ExecPath)
	assert.Equal(t, "PATH", tool.Resolver)
	assert.Equal(t, "dot ("+dot+")", tool.Label())
}

func TestResolve_ExplicitConfigWins(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("executable bits not used on windows")
	}
	dir := t.TempDir()
	fromEnv := writeTool(t, filepath.Join(dir, "env"), "rga")
	fromConfig := writeTool(t, filepath.Join(dir, "cfg"), "rga")

	reg := Resolve(Options{
		Specs:    []Spec{{Name: RGA, EnvOverride: "RGA_PATH"}},
		Explicit: map[string]string{RGA: fromConfig},
		Env:      envOf(map[string]string{"RGA_PATH": fromEnv}),
	})

	assert.Equal(t, fromConfig, reg.Path(RGA))
	assert.Equal(t, "config", reg.Get(RGA).Resolver)
}

func TestResolve_SiblingSearchRecursive(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("executable bits not used on windows")
	}
	dir := t.TempDir()
	rgaDir := filepath.Join(dir, "rga")
	writeTool(t, rgaDir, "rga")
	dxc := writeTool(t, filepath.Join(rgaDir, "utils", "dx12"), "dxc")

	reg := Resolve(Options{
		Specs: []Spec{
			{Name: RGA, EnvOverride: "RGA_PATH"},
			{Name: DXC, EnvOverride: "DXC_PATH"},
			{Name: SPIRVDis, EnvOverride: "SPIRV_DIS_PATH"},
		},
		Siblings: DefaultSiblingRules(),
		Env:      envOf(nil, rgaDir),
	})

	tool := reg.Get(DXC)
	require.True(t, tool.Found)
	assert.Equal(t, dxc, tool.ExecPath)
	assert.Equal(t, "RGA", tool.Resolver)
	assert.False(t, reg.Found(SPIRVDis))
}

func TestResolve_SiblingSearchNonRecursive(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("executable bits not used on windows")
	}
	dir := t.TempDir()
	sdk := filepath.Join(dir, "vulkan", "bin")
	writeTool(t, sdk, "glslc")
	writeTool(t, filepath.Join(sdk, "deeper"), "spirv-dis")

	reg := Resolve(Options{
		Specs: []Spec{
			{Name: GLSLC, EnvOverride: "GLSLC_PATH"},
			{Name: SPIRVDis, EnvOverride: "SPIRV_DIS_PATH"},
		},
		Siblings: []SiblingRule{{Parent: GLSLC, Tools: []string{SPIRVDis}}},
		Env:      envOf(map[string]string{"GLSLC_PATH": sdk}),
	})

	assert.True(t, reg.Found(GLSLC))
	assert.False(t, reg.Found(SPIRVDis), "non-recursive rule must not descend")
}

func TestResolve_NotExecutableIgnored(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("executable bits not used on windows")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "rga")
	require.NoError(t, os.WriteFile(path, []byte("data"), 0o644))

	reg := Resolve(Options{
		Specs: []Spec{{Name: RGA, EnvOverride: "RGA_PATH"}},
		Env:   envOf(map[string]string{"RGA_PATH": path}),
	})
	assert.False(t, reg.Found(RGA))
	assert.Equal(t, "rga (not found)", reg.Get(RGA).Label())
}

func TestRegistry_StaticAndLookup(t *testing.T) {
	reg := New(
		Tool{Name: RGA, ExecPath: "/opt/rga/rga", Found: true},
		Tool{Name: Dot, Found: true}, // no path: not usable
	)

	assert.True(t, reg.Found(RGA))
	assert.False(t, reg.Found(Dot))
	assert.False(t, reg.Found("glslc"))

	_, err := reg.Lookup("glslc")
	assert.True(t, errors.Is(err, ErrUnknownTool))

	tool, err := reg.Lookup(RGA)
	require.NoError(t, err)
	assert.Equal(t, "/opt/rga/rga", tool.ExecPath)

	names := []string{}
	for _, tool := range reg.List() {
		names = append(names, tool.Name)
	}
	assert.Equal(t, []string{Dot, RGA}, names)
}

func TestRegistry_NilIsEmpty(t *testing.T) {
	var reg *Registry
	assert.False(t, reg.Found(RGA))
	assert.Empty(t, reg.List())
}

func TestFeatures(t *testing.T) {
	reg := New(
		Tool{Name: RGA, ExecPath: "/x/rga", Found: true},
		Tool{Name: SPIRVCross, ExecPath: "/x/spirv-cross", Found: true},
	)
	f := reg.Features()
	assert.True(t, f.AMDISA)
	assert.True(t, f.SPIRVToGLSL)
	assert.True(t, f.SPIRVToHLSL)
	assert.True(t, f.WGSLToSPIRV)
	assert.False(t, f.RenderCFG)
	assert.False(t, f.GLSLToSPIRV)
}
