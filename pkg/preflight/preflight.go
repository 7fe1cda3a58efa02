// Package preflight reports which external tools shaderx can use before any
// compile or discovery is attempted.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/alister-chowdhury/shader-explorer/pkg/exec"
	"github.com/alister-chowdhury/shader-explorer/pkg/toolreg"
)

// CheckResult represents the outcome of a single preflight check.
type CheckResult struct {
	Error    error
	Name     string
	Message  string
	Path     string
	Version  string
	Required bool
	Passed   bool
}

// Results contains all preflight check results.
type Results struct {
	Summary string
	Checks  []CheckResult
	// Passed is true when every required check passed.
	Passed bool
}

// Options selects what Run checks.
type Options struct {
	Tools *toolreg.Registry
	// Executor runs version probes; nil skips them.
	Executor exec.Executor
	// Required tools fail the run when missing. Defaults to rga.
	Required []string
	// OutputDir, when set, must exist or be creatable and be writable.
	OutputDir string
}

// DefaultRequired lists the tools a compile cannot do without.
func DefaultRequired() []string {
	return []string{toolreg.RGA}
}

// Run executes the tool checks and the output directory check.
func Run(ctx context.Context, opts Options) (*Results, error) {
	if opts.Tools == nil {
		return nil, errors.New("preflight: no tool registry")
	}
	required := opts.Required
	if required == nil {
		required = DefaultRequired()
	}
	isRequired := make(map[string]bool, len(required))
	for _, name := range required {
		isRequired[name] = true
	}

	results := &Results{Passed: true}
	var failed []string

	tools := opts.Tools.List()
	for _, name := range required {
		if _, err := opts.Tools.Lookup(name); err != nil {
			tools = append(tools, toolreg.Tool{Name: name})
		}
	}

	for _, tool := range tools {
		result := checkTool(ctx, opts.Executor, tool)
		result.Required = isRequired[tool.Name]
		results.Checks = append(results.Checks, result)
		if !result.Passed && result.Required {
			results.Passed = false
			failed = append(failed, fmt.Sprintf("%s: %s", tool.Name, result.Message))
		}
	}

	if opts.OutputDir != "" {
		result := checkOutputDir(opts.OutputDir)
		results.Checks = append(results.Checks, result)
		if !result.Passed {
			results.Passed = false
			failed = append(failed, fmt.Sprintf("%s: %s", result.Name, result.Message))
		}
	}

	if results.Passed {
		results.Summary = fmt.Sprintf("All %d required preflight checks passed", countRequired(results.Checks))
	} else {
		results.Summary = fmt.Sprintf("%d of %d required preflight checks failed",
			len(failed), countRequired(results.Checks))
	}
	return results, nil
}

func countRequired(checks []CheckResult) int {
	n := 0
	for i := range checks {
		if checks[i].Required {
			n++
		}
	}
	return n
}

// Validate is a convenience function that runs preflight checks and returns
// an error if any required check fails.
func Validate(ctx context.Context, opts Options) error {
	results, err := Run(ctx, opts)
	if err != nil {
		return fmt.Errorf("preflight check error: %w", err)
	}

	if !results.Passed {
		var failedChecks []string
		for i := range results.Checks {
			if results.Checks[i].Required && !results.Checks[i].Passed {
				failedChecks = append(failedChecks, FormatCheckError(results.Checks[i]))
			}
		}
		return errors.New(strings.Join(failedChecks, "\n"))
	}
	return nil
}
