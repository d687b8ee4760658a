package sluice

import (
	"context"
	"log/slog"
	"time"

	"github.com/aretw0/sluice/internal/logging"
	"github.com/aretw0/sluice/internal/runtime"
	"github.com/aretw0/sluice/pkg/adapters/memory"
	"github.com/aretw0/sluice/pkg/bus"
	"github.com/aretw0/sluice/pkg/domain"
	"github.com/aretw0/sluice/pkg/ports"
	"github.com/aretw0/sluice/pkg/registry"
)

// Re-exported collaborator types so most applications only import this
// package.
type (
	// HandlerFunc implements a service task.
	HandlerFunc = registry.HandlerFunc
	// InstanceCallback observes instance lifecycle events.
	InstanceCallback = bus.InstanceCallback
	// TaskCallback observes task lifecycle events.
	TaskCallback = bus.TaskCallback
	// EngineStatus is the operational summary returned by Status.
	EngineStatus = runtime.EngineStatus
	// ConditionEvaluator decides whether a sequence flow condition holds.
	ConditionEvaluator = runtime.ConditionEvaluator
)

// Engine is the high-level entry point of the library. It wraps the
// execution core and provides deployment, instance lifecycle, task
// handling, event subscription and recovery under one roof.
type Engine struct {
	runtime *runtime.Engine
	logger  *slog.Logger

	store     ports.Store
	locker    ports.DistributedLocker
	lockTTL   time.Duration
	evaluator ConditionEvaluator
	clock     func() time.Time
}

// Option configures the Engine.
type Option func(*Engine)

// WithStore selects the persistence backend. The default is the
// in-memory store, which does not survive a restart.
func WithStore(store ports.Store) Option {
	return func(e *Engine) {
		e.store = store
	}
}

// WithLogger sets the structured logger. The default discards logs.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// WithLocker enables distributed per-instance locking for deployments
// running several engine replicas against one shared store.
func WithLocker(locker ports.DistributedLocker) Option {
	return func(e *Engine) {
		e.locker = locker
	}
}

// WithLockTTL bounds how long a crashed replica can hold a distributed
// lock. Only meaningful together with WithLocker.
func WithLockTTL(ttl time.Duration) Option {
	return func(e *Engine) {
		e.lockTTL = ttl
	}
}

// WithConditionEvaluator replaces the built-in condition dialect, for
// applications that want a richer expression language on their edges.
func WithConditionEvaluator(eval ConditionEvaluator) Option {
	return func(e *Engine) {
		e.evaluator = eval
	}
}

// WithClock fixes the engine's notion of time. Tests use this to get
// deterministic timestamps.
func WithClock(clock func() time.Time) Option {
	return func(e *Engine) {
		e.clock = clock
	}
}

// New creates an engine. Without options it runs on the in-memory store
// with logging disabled.
func New(opts ...Option) *Engine {
	e := &Engine{}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = logging.NewNop()
	}
	if e.store == nil {
		e.store = memory.NewStore()
	}

	e.runtime = runtime.New(runtime.Config{
		Store:     e.store,
		Evaluator: e.evaluator,
		Locker:    e.locker,
		LockTTL:   e.lockTTL,
		Logger:    e.logger,
		Clock:     e.clock,
	})
	return e
}

// StartOption carries optional attributes for one Start call.
type StartOption func(*startConfig)

type startConfig struct {
	businessKey string
}

// WithBusinessKey tags the new instance with a caller-side correlation
// key, such as an order or case number.
func WithBusinessKey(key string) StartOption {
	return func(c *startConfig) {
		c.businessKey = key
	}
}

// Deploy registers a process definition. Structural problems reject the
// deployment with a *domain.ValidationError; advisory findings are
// logged and deployment proceeds. Re-deploying an id replaces it.
func (e *Engine) Deploy(def *domain.ProcessDefinition) error {
	return e.runtime.Deploy(def)
}

// Definition returns a deployed definition by id. The returned graph
// must be treated as read-only.
func (e *Engine) Definition(id string) (*domain.ProcessDefinition, bool) {
	return e.runtime.Definition(id)
}

// Start creates and immediately drives a new instance of the deployed
// definition. It returns the instance id; the instance may already be
// terminal by the time Start returns if no user task lies on its path.
func (e *Engine) Start(ctx context.Context, definitionID string, variables map[string]any, opts ...StartOption) (string, error) {
	var cfg startConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	return e.runtime.Start(ctx, definitionID, variables, cfg.businessKey)
}

// CompleteTask finishes an open user task and resumes its token. It
// reports false, without error and without state change, when the task
// is unknown or already finished.
func (e *Engine) CompleteTask(ctx context.Context, taskID string, variables map[string]any) (bool, error) {
	return e.runtime.CompleteTask(ctx, taskID, variables)
}

// CancelInstance administratively terminates an instance and its open
// tasks. Unknown ids return domain.ErrInstanceNotFound.
func (e *Engine) CancelInstance(ctx context.Context, instanceID string) error {
	return e.runtime.CancelInstance(ctx, instanceID)
}

// Instance returns a copy of the instance with the given id, terminal
// ones included.
func (e *Engine) Instance(id string) (*domain.ProcessInstance, bool) {
	return e.runtime.Instance(id)
}

// ActiveInstances returns copies of every ACTIVE instance, oldest first.
func (e *Engine) ActiveInstances() []*domain.ProcessInstance {
	return e.runtime.ActiveInstances()
}

// Task returns a copy of the task with the given id.
func (e *Engine) Task(id string) (*domain.TaskInstance, bool) {
	return e.runtime.Task(id)
}

// ActiveTasks returns copies of every open task, oldest first.
func (e *Engine) ActiveTasks() []*domain.TaskInstance {
	return e.runtime.ActiveTasks()
}

// TasksForAssignee returns the open tasks assigned exactly to the given
// assignee.
func (e *Engine) TasksForAssignee(assignee string) []*domain.TaskInstance {
	return e.runtime.TasksForAssignee(assignee)
}

// RegisterServiceHandler binds a handler to the identifier service task
// nodes reference. Registering an identifier again overwrites it; a
// service task whose identifier has no handler passes through untouched.
func (e *Engine) RegisterServiceHandler(name string, h HandlerFunc) {
	e.runtime.Registry().Register(name, h)
}

// Registry exposes the service handler registry, mainly so middleware
// such as metrics instrumentation can be installed.
func (e *Engine) Registry() *registry.Registry {
	return e.runtime.Registry()
}

// Bus exposes the lifecycle event bus for subscribers that want all
// four event kinds in one place.
func (e *Engine) Bus() *bus.Bus {
	return e.runtime.Bus()
}

// OnInstanceStarted subscribes to instance started events. Callbacks
// run synchronously after the transition is persisted and receive their
// own copy of the instance. A callback must not call mutating engine
// operations for the same instance; hand that work to a goroutine.
func (e *Engine) OnInstanceStarted(cb InstanceCallback) {
	e.runtime.Bus().OnInstanceStarted(cb)
}

// OnInstanceCompleted subscribes to instance terminal events. The
// callback fires for COMPLETED, FAILED and CANCELLED alike; the status
// on the instance tells them apart.
func (e *Engine) OnInstanceCompleted(cb InstanceCallback) {
	e.runtime.Bus().OnInstanceCompleted(cb)
}

// OnTaskCreated subscribes to task created events.
func (e *Engine) OnTaskCreated(cb TaskCallback) {
	e.runtime.Bus().OnTaskCreated(cb)
}

// OnTaskCompleted subscribes to task completed events.
func (e *Engine) OnTaskCompleted(cb TaskCallback) {
	e.runtime.Bus().OnTaskCompleted(cb)
}

// Recover reloads ACTIVE instances and open tasks from the store. Call
// it once at startup, after deploying the definitions they refer to.
func (e *Engine) Recover(ctx context.Context) error {
	return e.runtime.Recover(ctx)
}

// Status reports a point-in-time operational summary.
func (e *Engine) Status() EngineStatus {
	return e.runtime.Status()
}

// Close stops the engine and closes the store. Safe to call twice.
func (e *Engine) Close() error {
	return e.runtime.Close()
}
