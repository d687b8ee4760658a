package domain

import (
	"time"

	"github.com/google/uuid"
)

// InstanceStatus is the lifecycle state of a process instance. The values
// are persisted verbatim, so they must stay stable.
type InstanceStatus string

const (
	InstanceActive    InstanceStatus = "ACTIVE"
	InstanceCompleted InstanceStatus = "COMPLETED"
	InstanceFailed    InstanceStatus = "FAILED"
	InstanceCancelled InstanceStatus = "CANCELLED"
	InstanceSuspended InstanceStatus = "SUSPENDED"
)

// TaskStatus is the lifecycle state of a task instance.
type TaskStatus string

const (
	TaskActive    TaskStatus = "ACTIVE"
	TaskCompleted TaskStatus = "COMPLETED"
	TaskFailed    TaskStatus = "FAILED"
	TaskCancelled TaskStatus = "CANCELLED"
)

// FailureReasonKey is the instance variable under which a failure reason
// is recorded when an instance transitions to FAILED.
const FailureReasonKey = "failure_reason"

// Token is a cursor over the process graph: one thread of control plus a
// private variable snapshot. Tokens are never deleted while the instance
// lives; retiring a token flips Active to false so the full path remains
// auditable in storage.
type Token struct {
	ID            string
	InstanceID    string
	CurrentNodeID string
	Variables     map[string]any
	Active        bool
	CreatedAt     time.Time
}

// NewToken creates an active token at the given node carrying a copy of
// the variable snapshot.
func NewToken(instanceID, nodeID string, variables map[string]any, now time.Time) *Token {
	return &Token{
		ID:            uuid.NewString(),
		InstanceID:    instanceID,
		CurrentNodeID: nodeID,
		Variables:     CloneVariables(variables),
		Active:        true,
		CreatedAt:     now,
	}
}

// MoveTo repoints the token at the given node. The token keeps its
// identity; a move is the same thread of control advancing.
func (t *Token) MoveTo(nodeID string) {
	t.CurrentNodeID = nodeID
}

// Clone returns a fresh active token at the same position with its own
// copy of the variable snapshot. Used for parallel fan-out.
func (t *Token) Clone(now time.Time) *Token {
	return NewToken(t.InstanceID, t.CurrentNodeID, t.Variables, now)
}

// Retire deactivates the token.
func (t *Token) Retire() {
	t.Active = false
}

// ProcessInstance is one running execution of a ProcessDefinition.
type ProcessInstance struct {
	ID           string
	DefinitionID string
	Status       InstanceStatus
	Variables    map[string]any
	Tokens       []*Token
	BusinessKey  string
	StartTime    time.Time
	EndTime      *time.Time
}

// NewProcessInstance creates an ACTIVE instance of the given definition
// with a copy of the initial variables. Tokens are seeded separately, one
// per start event.
func NewProcessInstance(definitionID, businessKey string, variables map[string]any, now time.Time) *ProcessInstance {
	return &ProcessInstance{
		ID:           uuid.NewString(),
		DefinitionID: definitionID,
		Status:       InstanceActive,
		Variables:    CloneVariables(variables),
		BusinessKey:  businessKey,
		StartTime:    now,
	}
}

// AddToken attaches a token to the instance.
func (p *ProcessInstance) AddToken(t *Token) {
	p.Tokens = append(p.Tokens, t)
}

// Token returns the instance's token with the given id.
func (p *ProcessInstance) Token(id string) (*Token, bool) {
	for _, t := range p.Tokens {
		if t.ID == id {
			return t, true
		}
	}
	return nil, false
}

// ActiveTokens returns the tokens that still carry control.
func (p *ProcessInstance) ActiveTokens() []*Token {
	var out []*Token
	for _, t := range p.Tokens {
		if t.Active {
			out = append(out, t)
		}
	}
	return out
}

// IsActive reports whether the instance is ACTIVE and still holds at
// least one active token.
func (p *ProcessInstance) IsActive() bool {
	return p.Status == InstanceActive && len(p.ActiveTokens()) > 0
}

// Complete marks the instance COMPLETED and retires any leftover tokens.
func (p *ProcessInstance) Complete(now time.Time) {
	p.Status = InstanceCompleted
	p.EndTime = &now
	for _, t := range p.Tokens {
		t.Active = false
	}
}

// Fail marks the instance FAILED, records the reason under
// FailureReasonKey and retires all tokens so no further work advances.
func (p *ProcessInstance) Fail(reason string, now time.Time) {
	p.Status = InstanceFailed
	p.EndTime = &now
	if p.Variables == nil {
		p.Variables = make(map[string]any)
	}
	p.Variables[FailureReasonKey] = reason
	for _, t := range p.Tokens {
		t.Active = false
	}
}

// Cancel marks the instance CANCELLED and retires all tokens.
func (p *ProcessInstance) Cancel(now time.Time) {
	p.Status = InstanceCancelled
	p.EndTime = &now
	for _, t := range p.Tokens {
		t.Active = false
	}
}

// Clone returns an identity-preserving deep copy of the instance and all
// of its tokens. Stores and engine read paths hand out clones so callers
// never alias live engine state. Unlike Token.Clone, ids are kept.
func (p *ProcessInstance) Clone() *ProcessInstance {
	cp := *p
	cp.Variables = CloneVariables(p.Variables)
	if p.EndTime != nil {
		end := *p.EndTime
		cp.EndTime = &end
	}
	cp.Tokens = make([]*Token, 0, len(p.Tokens))
	for _, t := range p.Tokens {
		tc := *t
		tc.Variables = CloneVariables(t.Variables)
		cp.Tokens = append(cp.Tokens, &tc)
	}
	return &cp
}

// TaskInstance is an open unit of human work, created when a token parks
// at a user task and completed by an external caller.
type TaskInstance struct {
	ID          string
	InstanceID  string
	NodeID      string
	TokenID     string
	Status      TaskStatus
	Assignee    string
	Variables   map[string]any
	FormFields  []FormField
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// NewTaskInstance creates an ACTIVE task bound to the given token,
// snapshotting the node's assignee and form fields so a work list can be
// rendered without the definition at hand.
func NewTaskInstance(node *Node, tok *Token, now time.Time) *TaskInstance {
	return &TaskInstance{
		ID:         uuid.NewString(),
		InstanceID: tok.InstanceID,
		NodeID:     node.ID,
		TokenID:    tok.ID,
		Status:     TaskActive,
		Assignee:   node.Assignee,
		Variables:  make(map[string]any),
		FormFields: append([]FormField(nil), node.FormFields...),
		CreatedAt:  now,
	}
}

// Complete marks the task COMPLETED and merges the completion variables
// into the task's own snapshot. Merging into the owning token is the
// engine's job, since the task only holds the token id.
func (t *TaskInstance) Complete(variables map[string]any, now time.Time) {
	t.Status = TaskCompleted
	t.CompletedAt = &now
	MergeVariables(t.Variables, variables)
}

// Cancel marks the task CANCELLED.
func (t *TaskInstance) Cancel(now time.Time) {
	t.Status = TaskCancelled
	t.CompletedAt = &now
}

// Clone returns an identity-preserving deep copy of the task.
func (t *TaskInstance) Clone() *TaskInstance {
	cp := *t
	cp.Variables = CloneVariables(t.Variables)
	cp.FormFields = append([]FormField(nil), t.FormFields...)
	if t.CompletedAt != nil {
		done := *t.CompletedAt
		cp.CompletedAt = &done
	}
	return &cp
}
