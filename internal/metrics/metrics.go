// Package metrics exposes Prometheus collectors for the research backend.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// ToolInvocations counts tools/call round trips by server, tool, and
	// outcome (ok, timeout, remote_error, closed, unknown_tool, invalid_args).
	ToolInvocations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smartins",
		Subsystem: "toolserver",
		Name:      "invocations_total",
		Help:      "Tool invocations by server, tool, and outcome.",
	}, []string{"server", "tool", "outcome"})

	// InvokeDuration observes tools/call latency.
	InvokeDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "smartins",
		Subsystem: "toolserver",
		Name:      "invoke_duration_seconds",
		Help:      "Tool invocation latency.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"server", "tool"})

	// FrameParseErrors counts undecodable lines from tool-server stdout.
	FrameParseErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smartins",
		Subsystem: "toolserver",
		Name:      "frame_parse_errors_total",
		Help:      "Lines from a tool server that failed to parse as JSON.",
	}, []string{"server"})

	// PollTicks counts poller fetches by outcome (ok, error).
	PollTicks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smartins",
		Subsystem: "poller",
		Name:      "ticks_total",
		Help:      "Status fetches performed by the pipeline poller.",
	}, []string{"outcome"})

	// PipelineTransitions counts status transitions recorded in the store.
	PipelineTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "smartins",
		Subsystem: "pipeline",
		Name:      "transitions_total",
		Help:      "Pipeline status transitions by new status.",
	}, []string{"status"})
)
