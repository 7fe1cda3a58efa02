package rga

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/alister-chowdhury/shader-explorer/internal/mocks"
	"github.com/alister-chowdhury/shader-explorer/pkg/exec"
	"github.com/alister-chowdhury/shader-explorer/pkg/toolreg"
)

const (
	fakeRGA = "/opt/rga/rga"
	fakeDot = "/usr/bin/dot"
)

// fakeOutputs selects the artifact kinds the fake rga writes per stage.
type fakeOutputs map[Stage][]ArtifactKind

// fakeRGAHandler plays rga: it writes the requested artifact kinds next to the
// path patterns given on the command line, using rga's target/stage naming.
// It plays dot as well by writing the -o file.
func fakeRGAHandler(t *testing.T, outputs fakeOutputs) func(argv []string) (exec.Result, error) {
	t.Helper()
	return func(argv []string) (exec.Result, error) {
		if argv[0] == fakeDot {
			out := flagValue(argv, "-o")
			if err := os.WriteFile(out, []byte("<svg/>"), 0o644); err != nil {
				return exec.Result{ExitCode: 1}, nil
			}
			return exec.Result{}, nil
		}

		target := flagValue(argv, "-c")
		dirs := map[ArtifactKind]string{
			ArtifactAnalysis:  filepath.Dir(flagValue(argv, "-a")),
			ArtifactISA:       filepath.Dir(flagValue(argv, "--isa")),
			ArtifactParsedISA: filepath.Dir(flagValue(argv, "--isa")),
			ArtifactCFG:       filepath.Dir(flagValue(argv, "--cfg")),
		}
		for stage, kinds := range outputs {
			if flagValue(argv, stage.Flag()) == "" {
				continue
			}
			for _, kind := range kinds {
				name := fakeSourceName(target, stage, kind)
				if err := os.WriteFile(filepath.Join(dirs[kind], name), []byte(fakeContent(stage, kind)), 0o644); err != nil {
					return exec.Result{}, err
				}
			}
		}
		return exec.Result{Stdout: "rga: compiled " + target, ExitCode: 0}, nil
	}
}

func fakeSourceName(target string, stage Stage, kind ArtifactKind) string {
	switch kind {
	case ArtifactAnalysis:
		return target + "_a_" + string(stage) + ".csv"
	case ArtifactISA:
		return target + "_isa_" + string(stage) + ".amdisa"
	case ArtifactParsedISA:
		return target + "_isa_" + string(stage) + ".csv"
	default:
		return target + "_cfg_" + string(stage) + ".dot"
	}
}

func fakeContent(stage Stage, kind ArtifactKind) string {
	return "content of " + string(kind) + " for " + string(stage) + "\n"
}

func flagValue(argv []string, flag string) string {
	for i := 0; i < len(argv)-1; i++ {
		if argv[i] == flag {
			return argv[i+1]
		}
	}
	return ""
}

func allKinds() []ArtifactKind {
	return []ArtifactKind{ArtifactAnalysis, ArtifactISA, ArtifactParsedISA, ArtifactCFG}
}

func registryWith(names ...string) *toolreg.Registry {
	tools := make([]toolreg.Tool, 0, len(names))
	for _, name := range names {
		path := "/opt/" + name + "/" + name
		switch name {
		case toolreg.RGA:
			path = fakeRGA
		case toolreg.Dot:
			path = fakeDot
		}
		tools = append(tools, toolreg.Tool{Name: name, ExecPath: path, Found: true})
	}
	return toolreg.New(tools...)
}

func newTestCompiler(t *testing.T, outputs fakeOutputs, tools ...string) (*Compiler, *mocks.MockExecutor) {
	t.Helper()
	executor := mocks.NewMockExecutor(fakeRGAHandler(t, outputs))
	return NewCompiler(Config{Tools: registryWith(tools...), Executor: executor}), executor
}

// writeSource creates a shader source file outside the output directory.
func writeSource(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte("#version 450\nvoid main() {}\n"), 0o644))
	return path
}

// scratchDirs lists leftover scratch workspaces under dir.
func scratchDirs(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var out []string
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), ScratchPrefix) {
			out = append(out, e.Name())
		}
	}
	return out
}
