package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alister-chowdhury/shader-explorer/internal/mocks"
	"github.com/alister-chowdhury/shader-explorer/pkg/config"
	"github.com/alister-chowdhury/shader-explorer/pkg/exec"
	"github.com/alister-chowdhury/shader-explorer/pkg/history"
	"github.com/alister-chowdhury/shader-explorer/pkg/rga"
	"github.com/alister-chowdhury/shader-explorer/pkg/toolreg"
)

const targetListing = `gfx900 (Vega)
	Radeon RX Vega
gfx1030 (RDNA2)
	Radeon RX 6800
	Radeon RX 6900 XT
`

const stageISA = `_amdgpu_cs_main:
  s_mov_b32 s0, s1        // 000000000000: BE800001
  v_mov_b32 v0, v2        // 000000000004: 7E000302
_L0:
  s_endpgm                // 000000000008: BF810000
`

const stageAnalysis = `DEVICE,AVAILABLE_LDS_BYTES,USED_LDS_BYTES,AVAILABLE_SGPRs,USED_SGPRs,AVAILABLE_VGPRs,USED_VGPRs
gfx1030,65536,16384,106,56,256,130
`

type project struct {
	dir string
	rga string
	out string
}

// newProject creates a project whose config points rga at a stub executable.
// PATH is emptied so nothing else resolves.
func newProject(t *testing.T, withRGA bool, extra map[string]any) *project {
	t.Helper()
	dir := t.TempDir()
	empty := filepath.Join(dir, "empty")
	require.NoError(t, os.MkdirAll(empty, 0o755))
	t.Setenv("PATH", empty)
	for _, spec := range toolreg.DefaultSpecs() {
		t.Setenv(spec.EnvOverride, "")
	}

	p := &project{dir: dir, out: filepath.Join(dir, "out")}
	cfg := map[string]any{"output_dir": "out"}
	if withRGA {
		p.rga = filepath.Join(dir, "bin", "rga")
		require.NoError(t, os.MkdirAll(filepath.Dir(p.rga), 0o755))
		require.NoError(t, os.WriteFile(p.rga, []byte("#!/bin/sh\n"), 0o755))
		cfg["tools"] = map[string]string{toolreg.RGA: p.rga}
	}
	for k, v := range extra {
		cfg[k] = v
	}
	data, err := json.Marshal(cfg)
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Join(dir, config.ProjectConfigDir), 0o755))
	require.NoError(t, os.WriteFile(config.Path(dir), data, 0o644))
	return p
}

func flagValue(argv []string, name string) string {
	for i := 0; i < len(argv)-1; i++ {
		if argv[i] == name {
			return argv[i+1]
		}
	}
	return ""
}

func hasArg(argv []string, name string) bool {
	for _, a := range argv {
		if a == name {
			return true
		}
	}
	return false
}

// fakeRGA answers listings, version probes and compiles. Compiles write the
// ISA file of every requested stage where rga would put it.
func fakeRGA(rgaPath string) func(argv []string) (exec.Result, error) {
	return func(argv []string) (exec.Result, error) {
		if argv[0] != rgaPath {
			return exec.Result{ExitCode: -1}, errors.New("unexpected tool " + argv[0])
		}
		switch {
		case hasArg(argv, "--version"):
			return exec.Result{Stdout: "Radeon GPU Analyzer Version: 2.9.1\n"}, nil
		case hasArg(argv, "--list-asics"):
			if flagValue(argv, "-s") == rga.ModeOffline.Backend() {
				return exec.Result{Stdout: targetListing}, nil
			}
			return exec.Result{Stdout: "Error: failed to locate a Vulkan device\n"}, nil
		}

		target := flagValue(argv, "-c")
		isaDir := filepath.Dir(flagValue(argv, "--isa"))
		for _, s := range rga.AllStages() {
			if flagValue(argv, s.Flag()) == "" {
				continue
			}
			name := filepath.Join(isaDir, target+"_isa_"+string(s)+".amdisa")
			if err := os.WriteFile(name, []byte(stageISA), 0o644); err != nil {
				return exec.Result{}, err
			}
		}
		return exec.Result{Stdout: "Building for " + target + "... succeeded.\n"}, nil
	}
}

type runResult struct {
	code   int
	stdout string
	stderr string
}

func runCLI(t *testing.T, executor exec.Executor, args ...string) runResult {
	t.Helper()
	var stdout, stderr bytes.Buffer
	code := run(context.Background(), args, &stdout, &stderr, executor)
	return runResult{code: code, stdout: stdout.String(), stderr: stderr.String()}
}

func writeSource(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#version 450\nvoid main() {}\n"), 0o644))
	return path
}

func TestRun_Usage(t *testing.T) {
	executor := mocks.NewMockExecutor(nil)

	res := runCLI(t, executor)
	assert.Equal(t, exitUsage, res.code)
	assert.Contains(t, res.stderr, "Commands:")

	res = runCLI(t, executor, "bogus")
	assert.Equal(t, exitUsage, res.code)
	assert.Contains(t, res.stderr, `unknown command "bogus"`)

	res = runCLI(t, executor, "-h")
	assert.Equal(t, exitOK, res.code)
}

func TestTargets_JSON(t *testing.T) {
	p := newProject(t, true, nil)
	executor := mocks.NewMockExecutor(fakeRGA(p.rga))

	res := runCLI(t, executor, "-C", p.dir, "targets", "-format", "json")
	require.Equal(t, exitOK, res.code, res.stderr)

	var targets []rga.DeviceCapability
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &targets))
	require.Len(t, targets, 2)
	assert.Equal(t, "gfx900", targets[0].Name)
	assert.Equal(t, []string{"Radeon RX 6800", "Radeon RX 6900 XT"}, targets[1].Products)
	assert.Equal(t, 1, executor.CallCount("--list-asics", "vk-spv-offline"))
	assert.Equal(t, 1, executor.CallCount("--list-asics", "vulkan"))
}

func TestTargets_Table(t *testing.T) {
	p := newProject(t, true, nil)
	executor := mocks.NewMockExecutor(fakeRGA(p.rga))

	res := runCLI(t, executor, "-C", p.dir, "targets", "-format", "table")
	require.Equal(t, exitOK, res.code, res.stderr)
	lines := strings.Split(strings.TrimSpace(res.stdout), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "TARGET"))
	assert.Contains(t, lines[2], "Radeon RX 6800, Radeon RX 6900 XT")
}

func TestTargets_NoRGAIsEmpty(t *testing.T) {
	p := newProject(t, false, nil)
	executor := mocks.NewMockExecutor(nil)

	res := runCLI(t, executor, "-C", p.dir, "targets", "-format", "json")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.JSONEq(t, "[]", res.stdout)
	assert.Empty(t, executor.Calls())
}

func TestTargets_BadFormat(t *testing.T) {
	p := newProject(t, true, nil)
	res := runCLI(t, mocks.NewMockExecutor(fakeRGA(p.rga)), "-C", p.dir, "targets", "-format", "xml")
	assert.Equal(t, exitUsage, res.code)
}

func TestCompile_JSONAndHistory(t *testing.T) {
	p := newProject(t, true, nil)
	executor := mocks.NewMockExecutor(fakeRGA(p.rga))
	src := writeSource(t, p.dir, "shader.comp")

	res := runCLI(t, executor, "-C", p.dir, "compile", "-target", "gfx1030", "-comp", src, "-format", "json")
	require.Equal(t, exitOK, res.code, res.stderr)

	var report compileReport
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &report))
	assert.Equal(t, "gfx1030", report.Target)
	assert.Equal(t, "offline", report.Mode)
	assert.Contains(t, report.Stdout, "succeeded")
	require.Len(t, report.Stages, 1)
	assert.Equal(t, rga.StageCompute, report.Stages[0].Stage)
	assert.Equal(t, filepath.Join(p.out, "comp_isa.amdisa"), report.Stages[0].ISA)
	assert.FileExists(t, report.Stages[0].ISA)
	assert.Empty(t, report.Stages[0].Analysis)

	res = runCLI(t, executor, "-C", p.dir, "history", "-format", "json")
	require.Equal(t, exitOK, res.code, res.stderr)
	var sessions []history.Session
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &sessions))
	require.Len(t, sessions, 1)
	assert.Equal(t, report.ID, sessions[0].ID)
	assert.Equal(t, "gfx1030", sessions[0].Target)
	assert.Equal(t, 1, sessions[0].ArtifactCount)

	res = runCLI(t, executor, "-C", p.dir, "history", "-id", report.ID, "-format", "json")
	require.Equal(t, exitOK, res.code, res.stderr)
	var session history.Session
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &session))
	assert.Equal(t, []history.Artifact{{Stage: "comp", Kind: "isa", Path: report.Stages[0].ISA}}, session.Artifacts)

	res = runCLI(t, executor, "-C", p.dir, "history", "-prune", "0")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "pruned 1 sessions")
}

func TestCompile_OnlineFromConfig(t *testing.T) {
	p := newProject(t, true, map[string]any{"online": true, "default_target": "gfx900"})
	executor := mocks.NewMockExecutor(fakeRGA(p.rga))
	src := writeSource(t, p.dir, "shader.frag")

	res := runCLI(t, executor, "-C", p.dir, "compile", "-frag", src, "-format", "json")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Equal(t, 1, executor.CallCount("-s vulkan", "-c gfx900", "--frag"))
}

func TestCompile_MixedStagesIsUsageError(t *testing.T) {
	p := newProject(t, true, nil)
	executor := mocks.NewMockExecutor(fakeRGA(p.rga))
	comp := writeSource(t, p.dir, "a.comp")
	frag := writeSource(t, p.dir, "a.frag")

	res := runCLI(t, executor, "-C", p.dir, "compile", "-comp", comp, "-frag", frag)
	assert.Equal(t, exitUsage, res.code)
	assert.Empty(t, executor.Calls())
}

func TestCompile_NoStages(t *testing.T) {
	p := newProject(t, true, nil)
	res := runCLI(t, mocks.NewMockExecutor(nil), "-C", p.dir, "compile")
	assert.Equal(t, exitUsage, res.code)
	assert.Contains(t, res.stderr, "no stages given")
}

func TestCompile_MissingRGA(t *testing.T) {
	p := newProject(t, false, nil)
	src := writeSource(t, p.dir, "shader.comp")

	res := runCLI(t, mocks.NewMockExecutor(nil), "-C", p.dir, "compile", "-comp", src)
	assert.Equal(t, exitFailure, res.code)
	assert.Contains(t, res.stderr, "rga")
}

func TestAnalyze_JSON(t *testing.T) {
	p := newProject(t, false, nil)
	require.NoError(t, os.MkdirAll(p.out, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(p.out, "comp_analysis.csv"), []byte(stageAnalysis), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(p.out, "comp_isa.amdisa"), []byte(stageISA), 0o644))

	res := runCLI(t, mocks.NewMockExecutor(nil), "-C", p.dir, "analyze", "-stage", "compute", "-format", "json")
	require.Equal(t, exitOK, res.code, res.stderr)

	var report analyzeReport
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &report))
	require.NotNil(t, report.Occupancy)
	assert.InDelta(t, 0.5, report.Occupancy.Overall, 1e-9)
	assert.Equal(t, "vgpr", report.Limiter)
	require.NotNil(t, report.Registers)
	assert.Equal(t, 2, report.Registers.SGPRs)
	assert.Equal(t, 3, report.Registers.VGPRs)
	assert.Equal(t, uint64(8), report.Labels["_L0"])
}

func TestAnalyze_Table(t *testing.T) {
	p := newProject(t, false, nil)
	require.NoError(t, os.MkdirAll(p.out, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(p.out, "comp_analysis.csv"), []byte(stageAnalysis), 0o644))

	res := runCLI(t, mocks.NewMockExecutor(nil), "-C", p.dir, "analyze", "-stage", "comp", "-format", "table")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "occupancy.overall")
	assert.Contains(t, res.stdout, "50.0%")
}

func TestAnalyze_Errors(t *testing.T) {
	p := newProject(t, false, nil)
	executor := mocks.NewMockExecutor(nil)

	assert.Equal(t, exitUsage, runCLI(t, executor, "-C", p.dir, "analyze").code)
	assert.Equal(t, exitUsage, runCLI(t, executor, "-C", p.dir, "analyze", "-stage", "tess").code)
	assert.Equal(t, exitFailure, runCLI(t, executor, "-C", p.dir, "analyze", "-stage", "comp").code)
}

func TestRender_NoGraphviz(t *testing.T) {
	p := newProject(t, false, nil)
	require.NoError(t, os.MkdirAll(p.out, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(p.out, "frag_cfg.dot"), []byte("digraph {}\n"), 0o644))

	res := runCLI(t, mocks.NewMockExecutor(nil), "-C", p.dir, "render", "-stage", "frag")
	assert.Equal(t, exitFailure, res.code)
	assert.Contains(t, res.stderr, "Error:")

	res = runCLI(t, mocks.NewMockExecutor(nil), "-C", p.dir, "render", "-stage", "frag", "-image", "gif")
	assert.Equal(t, exitUsage, res.code)
}

func TestTools_JSON(t *testing.T) {
	p := newProject(t, true, nil)
	executor := mocks.NewMockExecutor(fakeRGA(p.rga))

	res := runCLI(t, executor, "-C", p.dir, "tools", "-format", "json")
	require.Equal(t, exitOK, res.code, res.stderr)

	var report toolsReport
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &report))
	assert.True(t, report.Passed)
	assert.True(t, report.Features.AMDISA)
	assert.False(t, report.Features.RenderCFG)
	assert.Equal(t, "Radeon GPU Analyzer Version: 2.9.1", report.Versions[toolreg.RGA])
}

func TestTools_MissingRGAFails(t *testing.T) {
	p := newProject(t, false, nil)
	res := runCLI(t, mocks.NewMockExecutor(nil), "-C", p.dir, "tools", "-format", "table")
	assert.Equal(t, exitFailure, res.code)
	assert.Contains(t, res.stdout, "RGA_PATH")
}

func TestMetricsDump(t *testing.T) {
	p := newProject(t, true, nil)
	executor := mocks.NewMockExecutor(fakeRGA(p.rga))

	res := runCLI(t, executor, "-C", p.dir, "-metrics", "targets", "-format", "json")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stderr, "shaderx_discovered_targets")
}

func TestConfig_PrintAndWrite(t *testing.T) {
	p := newProject(t, false, map[string]any{"default_target": "gfx1100"})
	executor := mocks.NewMockExecutor(nil)

	res := runCLI(t, executor, "-C", p.dir, "config", "-format", "json")
	require.Equal(t, exitOK, res.code, res.stderr)
	var printed map[string]any
	require.NoError(t, json.Unmarshal([]byte(res.stdout), &printed))
	assert.Equal(t, "gfx1100", printed["default_target"])
	assert.Equal(t, config.DefaultHistoryDB, printed["history_db"])

	res = runCLI(t, executor, "-C", p.dir, "config", "-write")
	require.Equal(t, exitOK, res.code, res.stderr)
	data, err := os.ReadFile(config.Path(p.dir))
	require.NoError(t, err)
	assert.Contains(t, string(data), `"discovery_cache_size": 4`)

	res = runCLI(t, executor, "-C", p.dir, "config")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.Contains(t, res.stdout, "default_target: gfx1100")
}

func TestHistory_Disabled(t *testing.T) {
	p := newProject(t, false, map[string]any{"history_db": config.HistoryDisabled})
	res := runCLI(t, mocks.NewMockExecutor(nil), "-C", p.dir, "history")
	assert.Equal(t, exitFailure, res.code)
	assert.Contains(t, res.stderr, "history is disabled")
}

func TestVersion(t *testing.T) {
	p := newProject(t, false, nil)
	res := runCLI(t, mocks.NewMockExecutor(nil), "-C", p.dir, "version")
	require.Equal(t, exitOK, res.code, res.stderr)
	assert.True(t, strings.HasPrefix(res.stdout, "shaderx "))
}
