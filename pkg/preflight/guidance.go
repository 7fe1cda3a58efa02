package preflight

import (
	"fmt"
	"strings"

	"github.com/alister-chowdhury/shader-explorer/pkg/toolreg"
)

// FormatCheckError formats a failed check result with actionable guidance.
func FormatCheckError(check CheckResult) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("  %s: %s\n", check.Name, check.Message))
	sb.WriteString(fmt.Sprintf("    %s\n", getGuidance(check.Name)))

	return sb.String()
}

// FormatResults formats all preflight results for display.
func FormatResults(results *Results) string {
	var sb strings.Builder

	if results.Passed {
		sb.WriteString("Preflight checks passed\n")
	} else {
		sb.WriteString("Preflight checks failed\n\n")
		sb.WriteString("Failed checks:\n")
		for i := range results.Checks {
			if results.Checks[i].Required && !results.Checks[i].Passed {
				sb.WriteString(FormatCheckError(results.Checks[i]))
				sb.WriteString("\n")
			}
		}
	}

	for i := range results.Checks {
		c := results.Checks[i]
		if c.Required && !c.Passed {
			continue
		}
		status := "PASS"
		if !c.Passed {
			status = "SKIP"
		}
		line := fmt.Sprintf("  [%s] %s: %s", status, c.Name, c.Message)
		if c.Path != "" && c.Passed {
			line += " " + c.Path
		}
		if c.Version != "" {
			line += " (" + c.Version + ")"
		}
		sb.WriteString(line + "\n")
	}
	sb.WriteString(results.Summary + "\n")

	return sb.String()
}

// getGuidance returns actionable guidance for fixing a failed check.
func getGuidance(name string) string {
	switch name {
	case toolreg.RGA:
		return "Install the Radeon GPU Analyzer and put rga on PATH or set RGA_PATH: https://gpuopen.com/rga/"
	case toolreg.Dot:
		return "Install Graphviz and put dot on PATH or set DOT_PATH: https://graphviz.org/download/"
	case toolreg.GLSLC:
		return "Install the Vulkan SDK or shaderc and set GLSLC_PATH."
	case toolreg.SPIRVDis, toolreg.SPIRVCross:
		return "Install the Vulkan SDK; spirv-dis and spirv-cross are also found next to rga or glslc."
	case toolreg.DXC:
		return "Install the DirectX Shader Compiler or set DXC_PATH; rga ships a copy."
	case outputDirCheck:
		return "Choose a writable output directory with -out or output_dir in the config file."
	default:
		return fmt.Sprintf("Put %s on PATH or configure its path under \"tools\" in the config file.", name)
	}
}
