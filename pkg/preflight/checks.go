package preflight

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alister-chowdhury/shader-explorer/pkg/exec"
	"github.com/alister-chowdhury/shader-explorer/pkg/toolreg"
)

// outputDirCheck names the output directory check in results.
const outputDirCheck = "output-dir"

const probeTimeout = 10 * time.Second

// versionArgs are the flags that make each tool print its version.
var versionArgs = map[string][]string{
	toolreg.RGA:        {"--version"},
	toolreg.Dot:        {"-V"},
	toolreg.GLSLC:      {"--version"},
	toolreg.SPIRVDis:   {"--version"},
	toolreg.SPIRVCross: {"--version"},
	toolreg.DXC:        {"--version"},
	toolreg.Naga:       {"--version"},
	toolreg.Tint:       {"--version"},
}

// checkTool verifies the tool was resolved and, when possible, asks it for a
// version. A failing probe is reported but does not fail the check.
func checkTool(ctx context.Context, executor exec.Executor, tool toolreg.Tool) CheckResult {
	result := CheckResult{Name: tool.Name, Path: tool.ExecPath}

	if !tool.Found {
		result.Passed = false
		result.Message = fmt.Sprintf("%s was not found", tool.Name)
		result.Error = fmt.Errorf("%w: %s", toolreg.ErrUnknownTool, tool.Name)
		return result
	}

	result.Passed = true
	result.Message = fmt.Sprintf("found via %s", resolverName(tool))

	args, ok := versionArgs[tool.Name]
	if executor == nil || !ok {
		return result
	}
	res, err := executor.Run(ctx, append([]string{tool.ExecPath}, args...), &exec.Opts{Timeout: probeTimeout})
	if err != nil {
		result.Message += " (version probe failed)"
		return result
	}
	result.Version = firstLine(res.Stdout)
	if result.Version == "" {
		// dot prints its version on stderr.
		result.Version = firstLine(res.Stderr)
	}
	return result
}

func resolverName(tool toolreg.Tool) string {
	if tool.Resolver == "" {
		return "PATH"
	}
	return tool.Resolver
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// checkOutputDir verifies dir exists (creating it if needed) and is writable.
func checkOutputDir(dir string) CheckResult {
	result := CheckResult{Name: outputDirCheck, Path: dir, Required: true}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		result.Message = "cannot create output directory"
		result.Error = err
		return result
	}
	probe, err := os.CreateTemp(dir, ".shaderx-probe-*")
	if err != nil {
		result.Message = "output directory is not writable"
		result.Error = err
		return result
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)

	result.Passed = true
	result.Message = "writable"
	return result
}
