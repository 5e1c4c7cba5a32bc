// Package metrics exposes engine lifecycle events as Prometheus collectors.
package metrics

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/waypoint/pkg/domain"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "waypoint"

// Collector counts lifecycle events. Bind it to an engine with Hooks and
// register it like any other prometheus.Collector.
type Collector struct {
	stepVisits       *prometheus.CounterVec
	decisions        *prometheus.CounterVec
	toolCalls        *prometheus.CounterVec
	toolDuration     *prometheus.HistogramVec
	validationErrors *prometheus.CounterVec
	sessionsEnded    *prometheus.CounterVec
}

// Option configures a Collector.
type Option func(*settings)

type settings struct {
	namespace string
	buckets   []float64
}

// WithNamespace overrides DefaultNamespace.
func WithNamespace(ns string) Option {
	return func(s *settings) {
		s.namespace = ns
	}
}

// WithDurationBuckets sets the tool duration histogram buckets, in seconds.
func WithDurationBuckets(b ...float64) Option {
	return func(s *settings) {
		s.buckets = b
	}
}

// New creates the collectors.
func New(opts ...Option) *Collector {
	s := &settings{namespace: DefaultNamespace, buckets: prometheus.DefBuckets}
	for _, opt := range opts {
		opt(s)
	}

	return &Collector{
		stepVisits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: s.namespace,
			Name:      "step_visits_total",
			Help:      "Total number of step entries.",
		}, []string{"step_id"}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: s.namespace,
			Name:      "decisions_total",
			Help:      "Validated decisions by step and action.",
		}, []string{"step_id", "action"}),
		toolCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: s.namespace,
			Name:      "tool_calls_total",
			Help:      "Tool invocations by tool and outcome.",
		}, []string{"tool_name", "outcome"}),
		toolDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: s.namespace,
			Name:      "tool_duration_seconds",
			Help:      "Duration of tool executions.",
			Buckets:   s.buckets,
		}, []string{"tool_name"}),
		validationErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: s.namespace,
			Name:      "validation_errors_total",
			Help:      "Rejected LLM outputs and failed LLM calls by step.",
		}, []string{"step_id"}),
		sessionsEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: s.namespace,
			Name:      "sessions_ended_total",
			Help:      "Sessions reaching a terminal status.",
		}, []string{"status"}),
	}
}

func (c *Collector) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		c.stepVisits, c.decisions, c.toolCalls, c.toolDuration, c.validationErrors, c.sessionsEnded,
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.collectors() {
		m.Describe(ch)
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	for _, m := range c.collectors() {
		m.Collect(ch)
	}
}

// Hooks returns lifecycle hooks recording into c.
func (c *Collector) Hooks() domain.LifecycleHooks {
	return domain.LifecycleHooks{
		OnStepEnter: func(_ context.Context, e *domain.StepEvent) {
			c.stepVisits.WithLabelValues(e.StepID).Inc()
		},
		OnDecision: func(_ context.Context, e *domain.DecisionEvent) {
			c.decisions.WithLabelValues(e.StepID, string(e.Action)).Inc()
		},
		OnToolReturn: func(_ context.Context, e *domain.ToolEvent) {
			outcome := "ok"
			if e.IsError {
				outcome = "error"
			}
			c.toolCalls.WithLabelValues(e.ToolName, outcome).Inc()
			c.toolDuration.WithLabelValues(e.ToolName).Observe(e.Duration.Seconds())
		},
		OnValidationError: func(_ context.Context, e *domain.ErrorEvent) {
			c.validationErrors.WithLabelValues(e.StepID).Inc()
		},
		OnSessionEnd: func(_ context.Context, e *domain.EndEvent) {
			c.sessionsEnded.WithLabelValues(string(e.Status)).Inc()
		},
	}
}
