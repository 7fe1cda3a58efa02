// Package metrics records toolchain activity: tool launches, artifact outcomes,
// scratch cleanup failures and device discovery results.
package metrics

import "time"

// Recorder defines the interface for recording toolchain metrics.
type Recorder interface {
	// ObserveToolRun records one external process run. purpose is e.g. "compile",
	// "list-offline", "render-svg". exitCode is -1 when the process never ran.
	ObserveToolRun(tool, purpose string, exitCode int, failed bool, duration time.Duration)

	// ObserveArtifact records whether an expected per-stage artifact was produced.
	ObserveArtifact(stage, kind string, present bool)

	// IncCleanupFailure counts scratch workspaces that could not be removed.
	IncCleanupFailure()

	// ObserveDiscovery records how many targets a discovery pass produced.
	ObserveDiscovery(mode string, targets int)
}

// NoopRecorder implements Recorder with no-op behavior for when metrics are disabled.
type NoopRecorder struct{}

// Nop returns a no-op metrics recorder that discards all metrics.
func Nop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) ObserveToolRun(_, _ string, _ int, _ bool, _ time.Duration) {}

func (n *NoopRecorder) ObserveArtifact(_, _ string, _ bool) {}

func (n *NoopRecorder) IncCleanupFailure() {}

func (n *NoopRecorder) ObserveDiscovery(_ string, _ int) {}
