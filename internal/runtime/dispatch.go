package runtime

import (
	"context"
	"fmt"

	"github.com/aretw0/sluice/pkg/domain"
	"github.com/aretw0/sluice/pkg/registry"
)

// drive advances the given tokens until every path has parked at a user
// task, retired, or the instance turned terminal. The caller must hold
// the instance guard. Active instances get a final persist so parked
// positions and retirements always reach storage before control returns.
func (e *Engine) drive(ctx context.Context, inst *domain.ProcessInstance, def *domain.ProcessDefinition, tokens ...*domain.Token) error {
	queue := append([]*domain.Token(nil), tokens...)
	for len(queue) > 0 {
		if inst.Status != domain.InstanceActive {
			break
		}
		tok := queue[0]
		queue = queue[1:]
		if !tok.Active {
			continue
		}
		next, err := e.dispatch(ctx, inst, def, tok)
		if err != nil {
			return err
		}
		queue = append(queue, next...)
	}
	if inst.Status == domain.InstanceActive {
		return e.persistInstance(ctx, inst)
	}
	return nil
}

// dispatch executes the node the token currently sits on and reports the
// tokens that must run next. A node kind the engine does not know passes
// through with a warning.
func (e *Engine) dispatch(ctx context.Context, inst *domain.ProcessInstance, def *domain.ProcessDefinition, tok *domain.Token) ([]*domain.Token, error) {
	node, ok := def.Node(tok.CurrentNodeID)
	if !ok {
		return nil, e.failInstance(ctx, inst, fmt.Sprintf("token %s references unknown node %s", tok.ID, tok.CurrentNodeID))
	}

	e.logger.Debug("executing node",
		"instance_id", inst.ID,
		"token_id", tok.ID,
		"node", node.ID,
		"kind", string(node.Kind),
	)

	switch node.Kind {
	case domain.KindStartEvent:
		return e.continueFrom(ctx, inst, def, tok, node)

	case domain.KindEndEvent:
		return nil, e.finishToken(ctx, inst, tok, node)

	case domain.KindIntermediateEvent:
		if d, ok := node.Property("duration"); ok {
			e.logger.Info("timer event passed without waiting",
				"instance_id", inst.ID,
				"node", node.ID,
				"duration", d,
			)
		}
		return e.continueFrom(ctx, inst, def, tok, node)

	case domain.KindUserTask:
		return nil, e.parkAtUserTask(ctx, inst, node, tok)

	case domain.KindServiceTask:
		if err := e.runServiceTask(ctx, inst, def, node, tok); err != nil {
			return nil, err
		}
		if inst.Status != domain.InstanceActive {
			return nil, nil
		}
		return e.continueFrom(ctx, inst, def, tok, node)

	case domain.KindExclusiveGateway:
		edge := e.chooseExclusive(ctx, def, node, tok)
		if edge == nil {
			return nil, e.failInstance(ctx, inst, fmt.Sprintf("no outgoing flow for gateway %s", node.ID))
		}
		e.logger.Debug("exclusive gateway routed",
			"instance_id", inst.ID,
			"node", node.ID,
			"edge", edge.ID,
			"target", edge.TargetID,
		)
		tok.MoveTo(edge.TargetID)
		return []*domain.Token{tok}, nil

	case domain.KindParallelGateway:
		next := e.fanOut(inst, def.Outgoing(node.ID), tok)
		if len(next) == 0 {
			return nil, e.completeIfDrained(ctx, inst)
		}
		return next, nil

	default:
		e.logger.Warn("unknown node kind, passing through",
			"instance_id", inst.ID,
			"node", node.ID,
			"kind", string(node.Kind),
		)
		return e.continueFrom(ctx, inst, def, tok, node)
	}
}

// continueFrom advances the token along the node's outgoing edges: none
// retires it, one moves it, several fan out clones.
func (e *Engine) continueFrom(ctx context.Context, inst *domain.ProcessInstance, def *domain.ProcessDefinition, tok *domain.Token, node *domain.Node) ([]*domain.Token, error) {
	outgoing := def.Outgoing(node.ID)
	switch len(outgoing) {
	case 0:
		tok.Retire()
		e.logger.Debug("token retired at dead end",
			"instance_id", inst.ID,
			"token_id", tok.ID,
			"node", node.ID,
		)
		return nil, e.completeIfDrained(ctx, inst)
	case 1:
		tok.MoveTo(outgoing[0].TargetID)
		return []*domain.Token{tok}, nil
	default:
		return e.fanOut(inst, outgoing, tok), nil
	}
}

// fanOut retires the incoming token and spawns one clone per edge, each
// carrying its own copy of the variables.
func (e *Engine) fanOut(inst *domain.ProcessInstance, outgoing []*domain.Edge, tok *domain.Token) []*domain.Token {
	tok.Retire()
	now := e.now()
	next := make([]*domain.Token, 0, len(outgoing))
	for _, edge := range outgoing {
		clone := tok.Clone(now)
		clone.MoveTo(edge.TargetID)
		inst.AddToken(clone)
		next = append(next, clone)
	}
	return next
}

// finishToken retires a token at an end event and folds its variables
// back into the instance. Completing the instance is checked afterwards.
func (e *Engine) finishToken(ctx context.Context, inst *domain.ProcessInstance, tok *domain.Token, node *domain.Node) error {
	tok.Retire()
	domain.MergeVariables(inst.Variables, tok.Variables)
	e.logger.Debug("token reached end event",
		"instance_id", inst.ID,
		"token_id", tok.ID,
		"node", node.ID,
	)
	return e.completeIfDrained(ctx, inst)
}

// completeIfDrained completes the instance once no active token remains,
// persisting before the completion callbacks fire.
func (e *Engine) completeIfDrained(ctx context.Context, inst *domain.ProcessInstance) error {
	if inst.Status != domain.InstanceActive || len(inst.ActiveTokens()) > 0 {
		return nil
	}
	inst.Complete(e.now())
	if err := e.persistInstance(ctx, inst); err != nil {
		return err
	}
	e.logger.Info("process instance completed",
		"instance_id", inst.ID,
		"definition_id", inst.DefinitionID,
	)
	e.bus.PublishInstanceCompleted(inst.Clone())
	return nil
}

// failInstance transitions the instance to FAILED with the given reason,
// cancels its open tasks and persists before the terminal callback fires.
func (e *Engine) failInstance(ctx context.Context, inst *domain.ProcessInstance, reason string) error {
	now := e.now()
	inst.Fail(reason, now)
	e.logger.Error("process instance failed",
		"instance_id", inst.ID,
		"definition_id", inst.DefinitionID,
		"reason", reason,
	)
	if err := e.cancelOpenTasks(ctx, inst.ID, now); err != nil {
		return err
	}
	if err := e.persistInstance(ctx, inst); err != nil {
		return err
	}
	e.bus.PublishInstanceCompleted(inst.Clone())
	return nil
}

// parkAtUserTask creates a task instance for the node the token arrived
// at and halts the path. The parked position and the task row are both
// persisted before the created callback fires.
func (e *Engine) parkAtUserTask(ctx context.Context, inst *domain.ProcessInstance, node *domain.Node, tok *domain.Token) error {
	task := domain.NewTaskInstance(node, tok, e.now())
	if err := e.persistInstance(ctx, inst); err != nil {
		return err
	}
	if err := e.persistTask(ctx, task); err != nil {
		return err
	}
	e.logger.Info("user task created",
		"task_id", task.ID,
		"instance_id", inst.ID,
		"node", node.ID,
		"assignee", task.Assignee,
	)
	e.bus.PublishTaskCreated(task.Clone())
	return nil
}

// runServiceTask resolves and invokes the node's handler. A missing
// handler passes through untouched. A handler error or panic fails the
// instance; only storage failures surface as a returned error.
func (e *Engine) runServiceTask(ctx context.Context, inst *domain.ProcessInstance, def *domain.ProcessDefinition, node *domain.Node, tok *domain.Token) error {
	handler, ok := e.registry.Lookup(node.Handler)
	if !ok {
		e.logger.Warn("no handler registered for service task, passing through",
			"instance_id", inst.ID,
			"node", node.ID,
			"handler", node.Handler,
		)
		return nil
	}

	ec := domain.NewExecutionContext(inst.ID, def, tok.Variables, e.now())
	result, err := e.invokeHandler(ctx, handler, ec)
	if err != nil {
		herr := &domain.HandlerError{NodeID: node.ID, Err: err}
		return e.failInstance(ctx, inst, herr.Error())
	}
	if len(result) > 0 {
		domain.MergeVariables(tok.Variables, result)
	}
	e.logger.Debug("service task executed",
		"instance_id", inst.ID,
		"node", node.ID,
		"handler", node.Handler,
	)
	return nil
}

// invokeHandler runs the handler and converts a panic into an error so
// one bad handler cannot take the engine down with it.
func (e *Engine) invokeHandler(ctx context.Context, handler registry.HandlerFunc, ec *domain.ExecutionContext) (result map[string]any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return handler(ctx, ec)
}

// chooseExclusive picks the outgoing edge for an exclusive gateway.
// Conditioned edges are evaluated in declaration order; unconditioned
// non-default edges are skipped in that pass. When nothing matches the
// default edge wins, and failing that the first outgoing edge. A nil
// return means the gateway has no outgoing edges at all.
func (e *Engine) chooseExclusive(ctx context.Context, def *domain.ProcessDefinition, node *domain.Node, tok *domain.Token) *domain.Edge {
	outgoing := def.Outgoing(node.ID)
	if len(outgoing) == 0 {
		return nil
	}
	for _, edge := range outgoing {
		if edge.Condition == "" {
			continue
		}
		ok, err := e.evaluator(ctx, edge.Condition, tok.Variables)
		if err != nil {
			e.logger.Debug("condition evaluation failed, treating as not met",
				"instance_id", tok.InstanceID,
				"node", node.ID,
				"edge", edge.ID,
				"err", err,
			)
			continue
		}
		if ok {
			return edge
		}
	}
	for _, edge := range outgoing {
		if edge.Default {
			return edge
		}
	}
	return outgoing[0]
}
