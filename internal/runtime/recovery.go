package runtime

import (
	"context"

	"github.com/aretw0/sluice/pkg/domain"
)

// Recover reloads ACTIVE instances and their open tasks from the store
// and attaches them to memory. It is meant to run once at startup, after
// the composition root has redeployed its definitions.
//
// Rows that no longer link up are skipped with a warning instead of
// failing the pass: an instance whose definition is not deployed, a
// token pointing at a node the definition no longer has, a task whose
// instance or token was not restored. Recovery does not write to the
// store.
func (e *Engine) Recover(ctx context.Context) error {
	loaded, err := e.store.LoadActiveInstances(ctx)
	if err != nil {
		return &domain.StorageError{Op: "load active instances", Err: err}
	}

	e.mu.RLock()
	defs := make(map[string]*domain.ProcessDefinition, len(e.definitions))
	for id, def := range e.definitions {
		defs[id] = def
	}
	e.mu.RUnlock()

	attached := make(map[string]*domain.ProcessInstance)
	for _, inst := range loaded {
		def, ok := defs[inst.DefinitionID]
		if !ok {
			e.logger.Warn("skipping recovered instance, definition not deployed",
				"instance_id", inst.ID,
				"definition_id", inst.DefinitionID,
			)
			continue
		}
		if inst.Variables == nil {
			inst.Variables = make(map[string]any)
		}
		kept := inst.Tokens[:0]
		for _, tok := range inst.Tokens {
			if _, ok := def.Node(tok.CurrentNodeID); !ok {
				e.logger.Warn("dropping recovered token, node missing from definition",
					"instance_id", inst.ID,
					"token_id", tok.ID,
					"node", tok.CurrentNodeID,
				)
				continue
			}
			if tok.Variables == nil {
				tok.Variables = make(map[string]any)
			}
			kept = append(kept, tok)
		}
		inst.Tokens = kept
		if len(inst.ActiveTokens()) == 0 {
			e.logger.Warn("skipping recovered instance, no usable tokens",
				"instance_id", inst.ID,
			)
			continue
		}
		attached[inst.ID] = inst
	}

	loadedTasks, err := e.store.LoadActiveTasks(ctx)
	if err != nil {
		return &domain.StorageError{Op: "load active tasks", Err: err}
	}

	attachedTasks := make(map[string]*domain.TaskInstance)
	for _, task := range loadedTasks {
		inst, ok := attached[task.InstanceID]
		if !ok {
			e.logger.Warn("skipping recovered task, instance not restored",
				"task_id", task.ID,
				"instance_id", task.InstanceID,
			)
			continue
		}
		if _, ok := inst.Token(task.TokenID); !ok {
			e.logger.Warn("skipping recovered task, token not restored",
				"task_id", task.ID,
				"token_id", task.TokenID,
			)
			continue
		}
		if task.Variables == nil {
			task.Variables = make(map[string]any)
		}
		attachedTasks[task.ID] = task
	}

	e.mu.Lock()
	for id, inst := range attached {
		e.instances[id] = inst
	}
	for id, task := range attachedTasks {
		e.tasks[id] = task
	}
	e.mu.Unlock()

	e.logger.Info("recovered persisted state",
		"instances", len(attached),
		"tasks", len(attachedTasks),
	)
	return nil
}
