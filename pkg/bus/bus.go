// Package bus implements the synchronous event callback bus of the
// engine. Four lifecycle event kinds are published: instance started,
// instance completed, task created and task completed.
//
// Callbacks for one event kind run in subscription order, synchronously,
// before the triggering engine call returns. There is no ordering
// guarantee across kinds. A panicking callback is recovered and logged;
// it can never undo the transition that triggered it.
package bus

import (
	"io"
	"log/slog"
	"sync"

	"github.com/aretw0/sluice/pkg/domain"
)

// InstanceCallback observes instance lifecycle events.
type InstanceCallback func(*domain.ProcessInstance)

// TaskCallback observes task lifecycle events.
type TaskCallback func(*domain.TaskInstance)

// Bus fans lifecycle events out to registered callbacks.
type Bus struct {
	mu     sync.RWMutex
	logger *slog.Logger

	instanceStarted   []InstanceCallback
	instanceCompleted []InstanceCallback
	taskCreated       []TaskCallback
	taskCompleted     []TaskCallback
}

// New creates a bus. A nil logger discards callback panic reports.
func New(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = slog.New(slog.NewJSONHandler(io.Discard, nil))
	}
	return &Bus{logger: logger}
}

// OnInstanceStarted subscribes to instance started events.
func (b *Bus) OnInstanceStarted(cb InstanceCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.instanceStarted = append(b.instanceStarted, cb)
}

// OnInstanceCompleted subscribes to instance completed events. The
// callback also fires for FAILED and CANCELLED terminations, with the
// status telling them apart.
func (b *Bus) OnInstanceCompleted(cb InstanceCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.instanceCompleted = append(b.instanceCompleted, cb)
}

// OnTaskCreated subscribes to task created events.
func (b *Bus) OnTaskCreated(cb TaskCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.taskCreated = append(b.taskCreated, cb)
}

// OnTaskCompleted subscribes to task completed events.
func (b *Bus) OnTaskCompleted(cb TaskCallback) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.taskCompleted = append(b.taskCompleted, cb)
}

// PublishInstanceStarted notifies instance started subscribers.
func (b *Bus) PublishInstanceStarted(inst *domain.ProcessInstance) {
	b.mu.RLock()
	cbs := append([]InstanceCallback(nil), b.instanceStarted...)
	b.mu.RUnlock()
	for _, cb := range cbs {
		b.safeInstance("instance_started", cb, inst)
	}
}

// PublishInstanceCompleted notifies instance completed subscribers.
func (b *Bus) PublishInstanceCompleted(inst *domain.ProcessInstance) {
	b.mu.RLock()
	cbs := append([]InstanceCallback(nil), b.instanceCompleted...)
	b.mu.RUnlock()
	for _, cb := range cbs {
		b.safeInstance("instance_completed", cb, inst)
	}
}

// PublishTaskCreated notifies task created subscribers.
func (b *Bus) PublishTaskCreated(task *domain.TaskInstance) {
	b.mu.RLock()
	cbs := append([]TaskCallback(nil), b.taskCreated...)
	b.mu.RUnlock()
	for _, cb := range cbs {
		b.safeTask("task_created", cb, task)
	}
}

// PublishTaskCompleted notifies task completed subscribers.
func (b *Bus) PublishTaskCompleted(task *domain.TaskInstance) {
	b.mu.RLock()
	cbs := append([]TaskCallback(nil), b.taskCompleted...)
	b.mu.RUnlock()
	for _, cb := range cbs {
		b.safeTask("task_completed", cb, task)
	}
}

func (b *Bus) safeInstance(event string, cb InstanceCallback, inst *domain.ProcessInstance) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event callback panicked", "event", event, "instance", inst.ID, "panic", r)
		}
	}()
	cb(inst)
}

func (b *Bus) safeTask(event string, cb TaskCallback, task *domain.TaskInstance) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event callback panicked", "event", event, "task", task.ID, "panic", r)
		}
	}()
	cb(task)
}
