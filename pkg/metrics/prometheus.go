package metrics

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/common/expfmt"
)

// PrometheusRecorder implements the Recorder interface using Prometheus metrics.
type PrometheusRecorder struct {
	toolRunsTotal   *prometheus.CounterVec
	toolRunDuration *prometheus.HistogramVec
	artifactsTotal  *prometheus.CounterVec
	cleanupFailures prometheus.Counter
	discoveredTotal *prometheus.GaugeVec
}

// NewPrometheusRecorder registers the shaderx metrics with reg.
// Pass prometheus.DefaultRegisterer for process-wide metrics, or a fresh
// prometheus.NewRegistry() in tests.
func NewPrometheusRecorder(reg prometheus.Registerer) *PrometheusRecorder {
	factory := promauto.With(reg)
	return &PrometheusRecorder{
		toolRunsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shaderx_tool_runs_total",
				Help: "External tool runs by tool, purpose, exit code and status",
			},
			[]string{"tool", "purpose", "exit_code", "status"},
		),
		toolRunDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "shaderx_tool_run_duration_seconds",
				Help:    "Wall time of external tool runs in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			},
			[]string{"tool", "purpose"},
		),
		artifactsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "shaderx_artifacts_total",
				Help: "Expected per-stage artifacts by stage, kind and presence",
			},
			[]string{"stage", "kind", "present"},
		),
		cleanupFailures: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "shaderx_scratch_cleanup_failures_total",
				Help: "Scratch workspaces that could not be removed",
			},
		),
		discoveredTotal: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "shaderx_discovered_targets",
				Help: "Targets reported by the last discovery pass per mode",
			},
			[]string{"mode"},
		),
	}
}

// ObserveToolRun records one external tool run.
func (p *PrometheusRecorder) ObserveToolRun(tool, purpose string, exitCode int, failed bool, duration time.Duration) {
	status := "ok"
	if failed {
		status = "error"
	}
	p.toolRunsTotal.WithLabelValues(tool, purpose, strconv.Itoa(exitCode), status).Inc()
	p.toolRunDuration.WithLabelValues(tool, purpose).Observe(duration.Seconds())
}

// ObserveArtifact records an artifact outcome.
func (p *PrometheusRecorder) ObserveArtifact(stage, kind string, present bool) {
	p.artifactsTotal.WithLabelValues(stage, kind, strconv.FormatBool(present)).Inc()
}

// IncCleanupFailure counts a failed scratch removal.
func (p *PrometheusRecorder) IncCleanupFailure() {
	p.cleanupFailures.Inc()
}

// ObserveDiscovery records the number of targets found for mode.
func (p *PrometheusRecorder) ObserveDiscovery(mode string, targets int) {
	p.discoveredTotal.WithLabelValues(mode).Set(float64(targets))
}

// WriteText writes every metric family gathered from g in the Prometheus text
// exposition format.
func WriteText(w io.Writer, g prometheus.Gatherer) error {
	families, err := g.Gather()
	if err != nil {
		return fmt.Errorf("failed to gather metrics: %w", err)
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(w, mf); err != nil {
			return fmt.Errorf("failed to encode metric family %s: %w", mf.GetName(), err)
		}
	}
	return nil
}
