// Package metrics exposes Nexus's runtime state as Prometheus gauges and
// counters, and wires OpenTelemetry spans around the two units of work
// spec.md §7 names: a QA loop iteration and a wave.
//
// Grounded on kadirpekel-hector's pkg/observability/metrics.go: one
// *prometheus.Registry owned by a single struct, one init* method per
// concern, nil-receiver methods that no-op so a disabled Registry never
// needs a caller-side guard. Nexus's concerns are queue depth, agent-pool
// utilization, and token budget burn rate rather than hector's
// agent/LLM/HTTP/RAG surface, so the label sets and metric names differ,
// but the shape is the same.
package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nexus-build/nexus/internal/core"
	"github.com/nexus-build/nexus/internal/eventbus"
)

// TokenSource reports cumulative LLM token usage. Satisfied by
// *llm.TokenMeter. Nexus has no bus event for token usage — every LLM
// call records into the meter directly — so burn rate is polled rather
// than pushed.
type TokenSource interface {
	Totals() (input, output int64)
}

// Registry owns every Prometheus collector Nexus exposes and keeps them
// current by subscribing to the bus, the same pattern store.EventSync and
// the logger package use.
type Registry struct {
	config   Config
	registry *prometheus.Registry
	unsub    eventbus.Unsubscribe

	queueDepth        *prometheus.GaugeVec
	agentPoolCapacity *prometheus.GaugeVec
	agentPoolBusy     *prometheus.GaugeVec
	tokensInput       prometheus.Gauge
	tokensOutput      prometheus.Gauge
	tasksTotal        *prometheus.CounterVec
	qaLoopIterations  prometheus.Counter
	qaLoopEscalations prometheus.Counter

	tokens TokenSource

	mu          sync.Mutex
	agentTypeOf map[string]core.AgentType
}

// Config configures namespace and capacity labels for a Registry.
type Config struct {
	Namespace     string
	AgentCapacity map[core.AgentType]int
}

// New builds a Registry, registers every collector against its own
// prometheus.Registry, and — if bus is non-nil — subscribes to the task
// and agent lifecycle events that keep the gauges current.
func New(bus *eventbus.Bus, cfg Config) *Registry {
	if cfg.Namespace == "" {
		cfg.Namespace = "nexus"
	}

	r := &Registry{
		config:      cfg,
		registry:    prometheus.NewRegistry(),
		agentTypeOf: make(map[string]core.AgentType),
	}
	r.init()

	if bus != nil {
		r.unsub = bus.OnAny(r.handle)
	}
	for agentType, capacity := range cfg.AgentCapacity {
		r.agentPoolCapacity.WithLabelValues(string(agentType)).Set(float64(capacity))
	}
	return r
}

func (r *Registry) init() {
	r.queueDepth = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: r.config.Namespace,
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Number of tasks currently in each status.",
	}, []string{"status"})

	r.agentPoolCapacity = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: r.config.Namespace,
		Subsystem: "agent_pool",
		Name:      "capacity",
		Help:      "Configured concurrent-agent capacity per agent type.",
	}, []string{"agent_type"})

	r.agentPoolBusy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: r.config.Namespace,
		Subsystem: "agent_pool",
		Name:      "busy",
		Help:      "Number of currently spawned (non-idle) agents per agent type.",
	}, []string{"agent_type"})

	r.tokensInput = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: r.config.Namespace,
		Subsystem: "budget",
		Name:      "tokens_input_total",
		Help:      "Cumulative input tokens consumed across every LLM call.",
	})

	r.tokensOutput = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: r.config.Namespace,
		Subsystem: "budget",
		Name:      "tokens_output_total",
		Help:      "Cumulative output tokens generated across every LLM call.",
	})

	r.tasksTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: r.config.Namespace,
		Subsystem: "task",
		Name:      "transitions_total",
		Help:      "Total task status transitions, labeled by the status transitioned into.",
	}, []string{"status"})

	r.qaLoopIterations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: r.config.Namespace,
		Subsystem: "qaloop",
		Name:      "iterations_total",
		Help:      "Total QA loop runs that finished (passed or escalated) across every task.",
	})

	r.qaLoopEscalations = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: r.config.Namespace,
		Subsystem: "qaloop",
		Name:      "escalations_total",
		Help:      "Total QA loops that exhausted their iteration budget or hit the empty-error escalation guard.",
	})

	r.registry.MustRegister(
		r.queueDepth, r.agentPoolCapacity, r.agentPoolBusy,
		r.tokensInput, r.tokensOutput,
		r.tasksTotal, r.qaLoopIterations, r.qaLoopEscalations,
	)
}

// WatchTokens points the Registry at a TokenSource that is polled each time
// a bus event is handled. Call it once after constructing the LLM client's
// TokenMeter.
func (r *Registry) WatchTokens(src TokenSource) {
	r.tokens = src
}

func (r *Registry) handle(e core.Event) {
	switch e.Type {
	case "task:status-changed":
		payload, ok := e.Payload.(map[string]interface{})
		if !ok {
			return
		}
		if to, ok := payload["to"]; ok {
			status := core.TaskStatus(toString(to))
			r.tasksTotal.WithLabelValues(string(status)).Inc()
			r.queueDepth.WithLabelValues(string(status)).Inc()
			if from, ok := payload["from"]; ok {
				prev := core.TaskStatus(toString(from))
				r.queueDepth.WithLabelValues(string(prev)).Dec()
			}
		}
	case "task:enqueued":
		r.queueDepth.WithLabelValues(string(core.TaskPending)).Inc()
	case "agent:spawned":
		if agent, ok := e.Payload.(core.Agent); ok {
			r.mu.Lock()
			r.agentTypeOf[agent.ID] = agent.Type
			r.mu.Unlock()
			r.agentPoolBusy.WithLabelValues(string(agent.Type)).Inc()
		}
	case "agent:released", "agent:terminated":
		if id, ok := e.Payload.(string); ok {
			r.mu.Lock()
			agentType, known := r.agentTypeOf[id]
			delete(r.agentTypeOf, id)
			r.mu.Unlock()
			if known {
				r.agentPoolBusy.WithLabelValues(string(agentType)).Dec()
			}
		}
	case "qaloop:passed":
		r.qaLoopIterations.Inc()
	case "qaloop:escalated":
		r.qaLoopIterations.Inc()
		r.qaLoopEscalations.Inc()
	}

	if r.tokens != nil {
		input, output := r.tokens.Totals()
		r.tokensInput.Set(float64(input))
		r.tokensOutput.Set(float64(output))
	}
}

// ObserveAgentPool sets the busy gauge for agentType directly, for a
// caller (the agent pool itself) that already knows the exact live
// count and would rather set it than rely on the bus-driven increment
// and decrement in handle.
func (r *Registry) ObserveAgentPool(agentType core.AgentType, busy int) {
	r.agentPoolBusy.WithLabelValues(string(agentType)).Set(float64(busy))
}

// Handler returns an http.Handler serving the Prometheus exposition format
// for this Registry's collectors.
func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}

// Close unsubscribes from the bus.
func (r *Registry) Close() {
	if r.unsub != nil {
		r.unsub()
	}
}

func toString(v interface{}) string {
	if s, ok := v.(string); ok {
		return s
	}
	if ts, ok := v.(core.TaskStatus); ok {
		return string(ts)
	}
	return ""
}
