// Package metrics exposes bridge counters on Prometheus.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the bridge's collectors.
type Metrics struct {
	ActiveCalls      prometheus.Gauge
	CallOutcomes     *prometheus.CounterVec
	BargeIns         prometheus.Counter
	FunctionDuration *prometheus.HistogramVec
	FunctionFailures *prometheus.CounterVec
	AgentReconnects  prometheus.Counter
	DroppedFrames    prometheus.Counter
}

// New creates and registers the collectors on reg. A nil reg uses the
// default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	m := &Metrics{
		ActiveCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "frontdesk_active_calls",
			Help: "Number of live call sessions.",
		}),
		CallOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frontdesk_call_outcomes_total",
			Help: "Finalized calls by outcome.",
		}, []string{"outcome"}),
		BargeIns: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "frontdesk_barge_ins_total",
			Help: "Caller interruptions of agent speech.",
		}),
		FunctionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "frontdesk_function_call_seconds",
			Help:    "Business function call latency.",
			Buckets: prometheus.DefBuckets,
		}, []string{"function"}),
		FunctionFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "frontdesk_function_failures_total",
			Help: "Failed function calls by error code.",
		}, []string{"function", "code"}),
		AgentReconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "frontdesk_agent_reconnects_total",
			Help: "Successful speech-agent reconnections.",
		}),
		DroppedFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "frontdesk_dropped_audio_frames_total",
			Help: "Audio frames dropped by bounded queues and buffers.",
		}),
	}
	reg.MustRegister(
		m.ActiveCalls, m.CallOutcomes, m.BargeIns,
		m.FunctionDuration, m.FunctionFailures,
		m.AgentReconnects, m.DroppedFrames,
	)
	return m
}
