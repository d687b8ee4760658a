package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/aretw0/sluice/pkg/bus"
	"github.com/aretw0/sluice/pkg/domain"
	"github.com/aretw0/sluice/pkg/ports"
	"github.com/aretw0/sluice/pkg/registry"
)

const defaultLockTTL = 30 * time.Second

// Config carries the engine's collaborators. The root package translates
// its functional options into one of these. Store must be provided; nil
// collaborators otherwise fall back to working defaults so tests can
// construct a bare engine with New(Config{Store: ...}).
type Config struct {
	Store     ports.Store
	Registry  *registry.Registry
	Bus       *bus.Bus
	Evaluator ConditionEvaluator
	Locker    ports.DistributedLocker
	LockTTL   time.Duration
	Logger    *slog.Logger
	Clock     func() time.Time
}

// Engine drives tokens through deployed process definitions. Mutating
// operations on one instance are serialized by a per-instance guard;
// operations on distinct instances run concurrently.
//
// The instance and task maps hold read snapshots that are only refreshed
// after a successful persist, so read operations always agree with the
// store. Live objects are private to the guarded operation mutating them.
type Engine struct {
	store     ports.Store
	registry  *registry.Registry
	bus       *bus.Bus
	evaluator ConditionEvaluator
	logger    *slog.Logger
	now       func() time.Time
	guard     *instanceGuard

	mu          sync.RWMutex
	definitions map[string]*domain.ProcessDefinition
	instances   map[string]*domain.ProcessInstance
	tasks       map[string]*domain.TaskInstance
	running     bool
}

// New creates an engine from the given configuration.
func New(cfg Config) *Engine {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	evaluator := cfg.Evaluator
	if evaluator == nil {
		evaluator = EvaluateCondition
	}
	reg := cfg.Registry
	if reg == nil {
		reg = registry.New()
	}
	eventBus := cfg.Bus
	if eventBus == nil {
		eventBus = bus.New(logger)
	}
	ttl := cfg.LockTTL
	if ttl <= 0 {
		ttl = defaultLockTTL
	}
	now := cfg.Clock
	if now == nil {
		now = time.Now
	}

	return &Engine{
		store:       cfg.Store,
		registry:    reg,
		bus:         eventBus,
		evaluator:   evaluator,
		logger:      logger,
		now:         now,
		guard:       newInstanceGuard(cfg.Locker, ttl, logger),
		definitions: make(map[string]*domain.ProcessDefinition),
		instances:   make(map[string]*domain.ProcessInstance),
		tasks:       make(map[string]*domain.TaskInstance),
		running:     true,
	}
}

// Bus returns the engine's event bus.
func (e *Engine) Bus() *bus.Bus { return e.bus }

// Registry returns the engine's service handler registry.
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Deploy registers a definition, replacing any prior version under the
// same id. Structural problems reject the deployment; advisory findings
// such as unreachable nodes are logged and deployment proceeds.
func (e *Engine) Deploy(def *domain.ProcessDefinition) error {
	if def == nil || def.ID == "" {
		return &domain.ValidationError{Problems: []string{"definition has no id"}}
	}
	errs, warnings := def.Check()
	if len(errs) > 0 {
		return &domain.ValidationError{DefinitionID: def.ID, Problems: errs}
	}
	for _, w := range warnings {
		e.logger.Warn("definition deployed with advisory finding",
			"definition_id", def.ID,
			"finding", w,
		)
	}

	e.mu.Lock()
	_, replaced := e.definitions[def.ID]
	e.definitions[def.ID] = def
	e.mu.Unlock()

	e.logger.Info("process definition deployed",
		"definition_id", def.ID,
		"name", def.Name,
		"nodes", len(def.Nodes()),
		"replaced", replaced,
	)
	return nil
}

// Definition returns a deployed definition. The returned graph is shared
// and must be treated as read-only.
func (e *Engine) Definition(id string) (*domain.ProcessDefinition, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	def, ok := e.definitions[id]
	return def, ok
}

// Start creates an instance of the definition, seeds one token per start
// event, persists it, fires the started callbacks and drives every token
// until it parks or retires. Variables are copied, never aliased.
//
// When a storage failure happens after the instance was created the
// instance id is returned together with the error so the caller can
// still find it; if the very first persist fails no instance exists and
// the id is empty.
func (e *Engine) Start(ctx context.Context, definitionID string, variables map[string]any, businessKey string) (string, error) {
	e.mu.RLock()
	def, ok := e.definitions[definitionID]
	e.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("start process %q: %w", definitionID, domain.ErrDefinitionNotFound)
	}

	now := e.now()
	inst := domain.NewProcessInstance(definitionID, businessKey, variables, now)
	for _, startID := range def.StartEvents() {
		inst.AddToken(domain.NewToken(inst.ID, startID, inst.Variables, now))
	}

	err := e.guard.withLock(ctx, inst.ID, func(ctx context.Context) error {
		if err := e.persistInstance(ctx, inst); err != nil {
			return err
		}
		e.logger.Info("process instance started",
			"instance_id", inst.ID,
			"definition_id", definitionID,
			"business_key", businessKey,
			"tokens", len(inst.Tokens),
		)
		e.bus.PublishInstanceStarted(inst.Clone())
		return e.drive(ctx, inst, def, inst.ActiveTokens()...)
	})
	if err != nil && !e.knownInstance(inst.ID) {
		return "", err
	}
	return inst.ID, err
}

// CompleteTask finishes an open user task: the variables are merged into
// the task and its token, the transition is persisted, the completion
// callbacks fire and the token resumes. An unknown or already finished
// task reports false without touching any state.
func (e *Engine) CompleteTask(ctx context.Context, taskID string, variables map[string]any) (bool, error) {
	e.mu.RLock()
	snap, ok := e.tasks[taskID]
	e.mu.RUnlock()
	if !ok {
		e.logger.Warn("completion requested for unknown task", "task_id", taskID)
		return false, nil
	}
	if snap.Status != domain.TaskActive {
		e.logger.Warn("completion requested for finished task",
			"task_id", taskID,
			"status", string(snap.Status),
		)
		return false, nil
	}
	instanceID := snap.InstanceID

	completed := false
	err := e.guard.withLock(ctx, instanceID, func(ctx context.Context) error {
		// Re-read under the guard; a concurrent completion may have won.
		e.mu.RLock()
		taskSnap := e.tasks[taskID]
		instSnap := e.instances[instanceID]
		var def *domain.ProcessDefinition
		if instSnap != nil {
			def = e.definitions[instSnap.DefinitionID]
		}
		e.mu.RUnlock()

		if taskSnap == nil || taskSnap.Status != domain.TaskActive {
			return nil
		}
		if instSnap == nil || instSnap.Status != domain.InstanceActive {
			e.logger.Warn("task belongs to an instance that is no longer active",
				"task_id", taskID,
				"instance_id", instanceID,
			)
			return nil
		}
		if def == nil {
			return fmt.Errorf("complete task %q: %w", taskID, domain.ErrDefinitionNotFound)
		}

		task := taskSnap.Clone()
		inst := instSnap.Clone()
		tok, ok := inst.Token(task.TokenID)
		if !ok || !tok.Active {
			e.logger.Warn("task token is gone, ignoring completion",
				"task_id", taskID,
				"token_id", task.TokenID,
			)
			return nil
		}

		now := e.now()
		task.Complete(variables, now)
		domain.MergeVariables(tok.Variables, variables)
		if err := e.persistTask(ctx, task); err != nil {
			return err
		}
		completed = true

		e.logger.Info("user task completed",
			"task_id", task.ID,
			"instance_id", inst.ID,
			"node", task.NodeID,
		)
		e.bus.PublishTaskCompleted(task.Clone())

		node, ok := def.Node(tok.CurrentNodeID)
		if !ok {
			return e.failInstance(ctx, inst, fmt.Sprintf("token %s parked at unknown node %s", tok.ID, tok.CurrentNodeID))
		}
		next, err := e.continueFrom(ctx, inst, def, tok, node)
		if err != nil {
			return err
		}
		return e.drive(ctx, inst, def, next...)
	})
	return completed, err
}

// CancelInstance administratively terminates an instance: status flips
// to CANCELLED, all tokens retire and open tasks are cancelled. Unknown
// ids return ErrInstanceNotFound; cancelling an already finished
// instance is a no-op.
func (e *Engine) CancelInstance(ctx context.Context, instanceID string) error {
	e.mu.RLock()
	snap, ok := e.instances[instanceID]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("cancel instance %q: %w", instanceID, domain.ErrInstanceNotFound)
	}
	if snap.Status != domain.InstanceActive {
		return nil
	}

	return e.guard.withLock(ctx, instanceID, func(ctx context.Context) error {
		e.mu.RLock()
		instSnap := e.instances[instanceID]
		e.mu.RUnlock()
		if instSnap == nil || instSnap.Status != domain.InstanceActive {
			return nil
		}

		inst := instSnap.Clone()
		now := e.now()
		inst.Cancel(now)
		if err := e.cancelOpenTasks(ctx, instanceID, now); err != nil {
			return err
		}
		if err := e.persistInstance(ctx, inst); err != nil {
			return err
		}
		e.logger.Info("process instance cancelled", "instance_id", instanceID)
		e.bus.PublishInstanceCompleted(inst.Clone())
		return nil
	})
}

// Instance returns a copy of the instance with the given id, terminal
// ones included.
func (e *Engine) Instance(id string) (*domain.ProcessInstance, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	snap, ok := e.instances[id]
	if !ok {
		return nil, false
	}
	return snap.Clone(), true
}

// ActiveInstances returns copies of every ACTIVE instance, oldest first.
func (e *Engine) ActiveInstances() []*domain.ProcessInstance {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]*domain.ProcessInstance, 0, len(e.instances))
	for _, snap := range e.instances {
		if snap.Status == domain.InstanceActive {
			out = append(out, snap.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// Task returns a copy of the task with the given id.
func (e *Engine) Task(id string) (*domain.TaskInstance, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	snap, ok := e.tasks[id]
	if !ok {
		return nil, false
	}
	return snap.Clone(), true
}

// ActiveTasks returns copies of every open task, oldest first.
func (e *Engine) ActiveTasks() []*domain.TaskInstance {
	return e.filterTasks(func(*domain.TaskInstance) bool { return true })
}

// TasksForAssignee returns copies of the open tasks assigned exactly to
// the given assignee.
func (e *Engine) TasksForAssignee(assignee string) []*domain.TaskInstance {
	return e.filterTasks(func(t *domain.TaskInstance) bool { return t.Assignee == assignee })
}

func (e *Engine) filterTasks(keep func(*domain.TaskInstance) bool) []*domain.TaskInstance {
	e.mu.RLock()
	defer e.mu.RUnlock()
	var out []*domain.TaskInstance
	for _, snap := range e.tasks {
		if snap.Status == domain.TaskActive && keep(snap) {
			out = append(out, snap.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// EngineStatus is a point-in-time operational summary.
type EngineStatus struct {
	Running              bool     `json:"running"`
	DeployedProcessCount int      `json:"deployed_processes"`
	ActiveInstanceCount  int      `json:"active_instances"`
	ActiveTaskCount      int      `json:"active_tasks"`
	DefinitionIDs        []string `json:"process_definitions"`
}

// Status reports the engine's operational summary.
func (e *Engine) Status() EngineStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st := EngineStatus{
		Running:              e.running,
		DeployedProcessCount: len(e.definitions),
		DefinitionIDs:        make([]string, 0, len(e.definitions)),
	}
	for id := range e.definitions {
		st.DefinitionIDs = append(st.DefinitionIDs, id)
	}
	sort.Strings(st.DefinitionIDs)
	for _, inst := range e.instances {
		if inst.Status == domain.InstanceActive {
			st.ActiveInstanceCount++
		}
	}
	for _, task := range e.tasks {
		if task.Status == domain.TaskActive {
			st.ActiveTaskCount++
		}
	}
	return st
}

// Close marks the engine stopped and closes the store. Calling it twice
// is safe; only the first call closes the store.
func (e *Engine) Close() error {
	e.mu.Lock()
	if !e.running {
		e.mu.Unlock()
		return nil
	}
	e.running = false
	e.mu.Unlock()

	e.logger.Info("engine shut down")
	if err := e.store.Close(); err != nil {
		return &domain.StorageError{Op: "close store", Err: err}
	}
	return nil
}

// persistInstance writes the instance through the store and refreshes
// the engine's read snapshot. Snapshots only ever advance after a
// successful write, so reads never disagree with storage.
func (e *Engine) persistInstance(ctx context.Context, inst *domain.ProcessInstance) error {
	if err := e.store.SaveInstance(ctx, inst); err != nil {
		return &domain.StorageError{Op: "save instance " + inst.ID, Err: err}
	}
	e.mu.Lock()
	e.instances[inst.ID] = inst.Clone()
	e.mu.Unlock()
	return nil
}

// persistTask writes the task through the store and refreshes the read
// snapshot, same contract as persistInstance.
func (e *Engine) persistTask(ctx context.Context, task *domain.TaskInstance) error {
	if err := e.store.SaveTask(ctx, task); err != nil {
		return &domain.StorageError{Op: "save task " + task.ID, Err: err}
	}
	e.mu.Lock()
	e.tasks[task.ID] = task.Clone()
	e.mu.Unlock()
	return nil
}

// cancelOpenTasks cancels and persists every open task of the instance.
func (e *Engine) cancelOpenTasks(ctx context.Context, instanceID string, now time.Time) error {
	e.mu.RLock()
	var open []*domain.TaskInstance
	for _, snap := range e.tasks {
		if snap.InstanceID == instanceID && snap.Status == domain.TaskActive {
			open = append(open, snap.Clone())
		}
	}
	e.mu.RUnlock()

	for _, task := range open {
		task.Cancel(now)
		if err := e.persistTask(ctx, task); err != nil {
			return err
		}
		e.logger.Debug("open task cancelled with its instance",
			"task_id", task.ID,
			"instance_id", instanceID,
		)
	}
	return nil
}

func (e *Engine) knownInstance(id string) bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	_, ok := e.instances[id]
	return ok
}
