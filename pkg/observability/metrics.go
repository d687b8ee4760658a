package observability

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aretw0/sluice/pkg/bus"
	"github.com/aretw0/sluice/pkg/domain"
	"github.com/aretw0/sluice/pkg/registry"
)

// Metrics exposes engine activity as Prometheus collectors. Counters and
// gauges are fed by lifecycle events via Observe; handler timings come
// from the HandlerDuration middleware.
type Metrics struct {
	instancesStarted prometheus.Counter
	instancesEnded   *prometheus.CounterVec
	tasksCreated     prometheus.Counter
	tasksCompleted   prometheus.Counter
	activeInstances  prometheus.Gauge
	activeTasks      prometheus.Gauge
	handlerDuration  *prometheus.HistogramVec
	handlerFailures  *prometheus.CounterVec

	// openTasks tracks open tasks per instance so the active task gauge
	// can be settled when an instance ends with tasks still open; the
	// engine cancels those without a task completion event.
	mu        sync.Mutex
	openTasks map[string]float64
}

// NewMetrics creates the collectors and registers them. A nil registerer
// falls back to the process-global default.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		instancesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sluice_instances_started_total",
			Help: "Total number of process instances started",
		}),
		instancesEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sluice_instances_ended_total",
			Help: "Total number of process instances ended, by terminal status",
		}, []string{"status"}),
		tasksCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sluice_tasks_created_total",
			Help: "Total number of user tasks created",
		}),
		tasksCompleted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "sluice_tasks_completed_total",
			Help: "Total number of user tasks completed",
		}),
		activeInstances: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sluice_active_instances",
			Help: "Process instances currently active",
		}),
		activeTasks: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "sluice_active_tasks",
			Help: "User tasks currently open",
		}),
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name: "sluice_handler_duration_seconds",
			Help: "Duration of service task handler executions",
		}, []string{"handler"}),
		handlerFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sluice_handler_failures_total",
			Help: "Total number of service task handler errors",
		}, []string{"handler"}),
		openTasks: make(map[string]float64),
	}

	reg.MustRegister(
		m.instancesStarted,
		m.instancesEnded,
		m.tasksCreated,
		m.tasksCompleted,
		m.activeInstances,
		m.activeTasks,
		m.handlerDuration,
		m.handlerFailures,
	)
	return m
}

// Observe subscribes the collectors to the engine's lifecycle events.
func (m *Metrics) Observe(b *bus.Bus) {
	b.OnInstanceStarted(func(inst *domain.ProcessInstance) {
		m.instancesStarted.Inc()
		m.activeInstances.Inc()
	})
	b.OnInstanceCompleted(func(inst *domain.ProcessInstance) {
		m.instancesEnded.WithLabelValues(string(inst.Status)).Inc()
		m.activeInstances.Dec()
		m.settleOpenTasks(inst.ID)
	})
	b.OnTaskCreated(func(task *domain.TaskInstance) {
		m.tasksCreated.Inc()
		m.activeTasks.Inc()
		m.trackTask(task.InstanceID, 1)
	})
	b.OnTaskCompleted(func(task *domain.TaskInstance) {
		m.tasksCompleted.Inc()
		m.activeTasks.Dec()
		m.trackTask(task.InstanceID, -1)
	})
}

// HandlerDuration returns registry middleware that times every handler
// execution and counts failures, labeled by handler identifier.
func (m *Metrics) HandlerDuration() registry.Middleware {
	return func(name string, next registry.HandlerFunc) registry.HandlerFunc {
		return func(ctx context.Context, ec *domain.ExecutionContext) (map[string]any, error) {
			timer := prometheus.NewTimer(m.handlerDuration.WithLabelValues(name))
			defer timer.ObserveDuration()

			out, err := next(ctx, ec)
			if err != nil {
				m.handlerFailures.WithLabelValues(name).Inc()
			}
			return out, err
		}
	}
}

func (m *Metrics) trackTask(instanceID string, delta float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.openTasks[instanceID] += delta
	if m.openTasks[instanceID] <= 0 {
		delete(m.openTasks, instanceID)
	}
}

func (m *Metrics) settleOpenTasks(instanceID string) {
	m.mu.Lock()
	remaining := m.openTasks[instanceID]
	delete(m.openTasks, instanceID)
	m.mu.Unlock()

	if remaining > 0 {
		m.activeTasks.Sub(remaining)
	}
}
