package rga

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alister-chowdhury/shader-explorer/internal/mocks"
	"github.com/alister-chowdhury/shader-explorer/pkg/exec"
	"github.com/alister-chowdhury/shader-explorer/pkg/toolreg"
)

func compileWithCFG(t *testing.T, tools ...string) (*CompiledShader, *mocks.MockExecutor) {
	t.Helper()
	out := t.TempDir()
	compiler, executor := newTestCompiler(t, fakeOutputs{StageCompute: allKinds()}, tools...)
	res, err := compiler.Compile(context.Background(), &CompileRequest{
		Target:    "gfx900",
		Stages:    map[Stage]string{StageCompute: writeSource(t, "a.comp")},
		OutputDir: out,
	})
	require.NoError(t, err)
	shader := res.Stage(StageCompute)
	require.NotNil(t, shader)
	require.True(t, shader.HasCFG())
	return shader, executor
}

func TestEnsureCFGSVGRendered_RunsOnce(t *testing.T) {
	shader, executor := compileWithCFG(t, toolreg.RGA, toolreg.Dot)

	assert.True(t, shader.RenderAvailable())
	assert.Equal(t, filepath.Join(filepath.Dir(shader.CFG), "comp_cfg.svg"), shader.CFGSVG)
	_, err := os.Stat(shader.CFGSVG)
	assert.True(t, os.IsNotExist(err), "planned, not rendered")

	require.NoError(t, shader.EnsureCFGSVGRendered(context.Background()))
	require.NoError(t, shader.EnsureCFGSVGRendered(context.Background()))

	assert.Equal(t, 1, executor.CallCount(fakeDot, "-Tsvg"))
	assert.FileExists(t, shader.CFGSVG)

	argv := executor.Calls()[1]
	assert.Equal(t, []string{fakeDot, "-Nfontname=sans", "-Tsvg", shader.CFG, "-o", shader.CFGSVG}, argv)
}

func TestEnsureCFGPNGRendered_IndependentOfSVG(t *testing.T) {
	shader, executor := compileWithCFG(t, toolreg.RGA, toolreg.Dot)

	require.NoError(t, shader.EnsureCFGPNGRendered(context.Background()))
	require.NoError(t, shader.EnsureCFGPNGRendered(context.Background()))
	require.NoError(t, shader.EnsureCFGSVGRendered(context.Background()))

	assert.Equal(t, 1, executor.CallCount(fakeDot, "-Tpng"))
	assert.Equal(t, 1, executor.CallCount(fakeDot, "-Tsvg"))
	assert.Equal(t, filepath.Join(filepath.Dir(shader.CFG), "comp_cfg.png"), shader.CFGPNG)
}

func TestEnsureRendered_ConcurrentCallersRenderOnce(t *testing.T) {
	shader, executor := compileWithCFG(t, toolreg.RGA, toolreg.Dot)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, shader.EnsureCFGSVGRendered(context.Background()))
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, executor.CallCount(fakeDot))
}

func TestEnsureRendered_ToolUnavailable(t *testing.T) {
	shader, executor := compileWithCFG(t, toolreg.RGA)

	assert.False(t, shader.RenderAvailable())
	assert.Empty(t, shader.CFGSVG)

	err := shader.EnsureCFGSVGRendered(context.Background())
	assert.ErrorIs(t, err, ErrRenderToolUnavailable)
	err = shader.EnsureCFGPNGRendered(context.Background())
	assert.ErrorIs(t, err, ErrRenderToolUnavailable)
	assert.Equal(t, 0, executor.CallCount(fakeDot))
}

func TestEnsureRendered_NoCFGIsNoop(t *testing.T) {
	shader := &CompiledShader{Stage: StageFragment}
	assert.NoError(t, shader.EnsureCFGSVGRendered(context.Background()))
	assert.NoError(t, shader.EnsureCFGPNGRendered(context.Background()))
	assert.False(t, shader.RenderAvailable())
}

func TestEnsureRendered_FailureKeepsDirty(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "comp_cfg.dot")
	require.NoError(t, os.WriteFile(cfg, []byte("digraph {}"), 0o644))

	fail := true
	executor := mocks.NewMockExecutor(func(argv []string) (exec.Result, error) {
		if fail {
			return exec.Result{ExitCode: 2, Stderr: "syntax error in line 1"}, nil
		}
		return exec.Result{}, os.WriteFile(flagValue(argv, "-o"), []byte("<svg/>"), 0o644)
	})
	shader := &CompiledShader{Stage: StageCompute, CFG: cfg}
	shader.plan(newRenderer(registryWith(toolreg.Dot), executor, nil, nil))

	err := shader.EnsureCFGSVGRendered(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "syntax error in line 1")

	fail = false
	require.NoError(t, shader.EnsureCFGSVGRendered(context.Background()))
	require.NoError(t, shader.EnsureCFGSVGRendered(context.Background()))
	assert.Equal(t, 2, executor.CallCount(fakeDot))
}

func TestCompiledShader_Artifact(t *testing.T) {
	shader := &CompiledShader{Analysis: "a", ISA: "b", ParsedISA: "c", CFG: "d"}
	assert.Equal(t, "a", shader.Artifact(ArtifactAnalysis))
	assert.Equal(t, "b", shader.Artifact(ArtifactISA))
	assert.Equal(t, "c", shader.Artifact(ArtifactParsedISA))
	assert.Equal(t, "d", shader.Artifact(ArtifactCFG))
	assert.Empty(t, shader.Artifact("unknown"))
}
