package redis

import (
	"time"

	"github.com/aretw0/sluice/pkg/domain"
)

// instanceDoc is the stored form of an instance. Tokens are embedded,
// retired ones included, so the document doubles as the audit trail of
// the instance's path through the graph.
type instanceDoc struct {
	ID           string         `json:"id"`
	DefinitionID string         `json:"definition_id"`
	Status       string         `json:"status"`
	Variables    map[string]any `json:"variables"`
	BusinessKey  string         `json:"business_key,omitempty"`
	StartTime    time.Time      `json:"start_time"`
	EndTime      *time.Time     `json:"end_time,omitempty"`
	Tokens       []tokenDoc     `json:"tokens"`
}

type tokenDoc struct {
	ID            string         `json:"id"`
	CurrentNodeID string         `json:"current_node_id"`
	Variables     map[string]any `json:"variables"`
	Active        bool           `json:"active"`
	CreatedAt     time.Time      `json:"created_at"`
}

type taskDoc struct {
	ID          string             `json:"id"`
	InstanceID  string             `json:"instance_id"`
	NodeID      string             `json:"node_id"`
	TokenID     string             `json:"token_id"`
	Status      string             `json:"status"`
	Assignee    string             `json:"assignee,omitempty"`
	Variables   map[string]any     `json:"variables"`
	FormFields  []domain.FormField `json:"form_fields,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
}

func instanceToDoc(inst *domain.ProcessInstance) instanceDoc {
	doc := instanceDoc{
		ID:           inst.ID,
		DefinitionID: inst.DefinitionID,
		Status:       string(inst.Status),
		Variables:    inst.Variables,
		BusinessKey:  inst.BusinessKey,
		StartTime:    inst.StartTime,
		EndTime:      inst.EndTime,
		Tokens:       make([]tokenDoc, 0, len(inst.Tokens)),
	}
	for _, tok := range inst.Tokens {
		doc.Tokens = append(doc.Tokens, tokenDoc{
			ID:            tok.ID,
			CurrentNodeID: tok.CurrentNodeID,
			Variables:     tok.Variables,
			Active:        tok.Active,
			CreatedAt:     tok.CreatedAt,
		})
	}
	return doc
}

// toDomain rebuilds the instance with only its active tokens attached;
// retired tokens stay in the document but are not part of live state.
func (doc instanceDoc) toDomain() *domain.ProcessInstance {
	inst := &domain.ProcessInstance{
		ID:           doc.ID,
		DefinitionID: doc.DefinitionID,
		Status:       domain.InstanceStatus(doc.Status),
		Variables:    doc.Variables,
		BusinessKey:  doc.BusinessKey,
		StartTime:    doc.StartTime,
		EndTime:      doc.EndTime,
	}
	if inst.Variables == nil {
		inst.Variables = make(map[string]any)
	}
	for _, td := range doc.Tokens {
		if !td.Active {
			continue
		}
		vars := td.Variables
		if vars == nil {
			vars = make(map[string]any)
		}
		inst.AddToken(&domain.Token{
			ID:            td.ID,
			InstanceID:    doc.ID,
			CurrentNodeID: td.CurrentNodeID,
			Variables:     vars,
			Active:        true,
			CreatedAt:     td.CreatedAt,
		})
	}
	return inst
}

func taskToDoc(task *domain.TaskInstance) taskDoc {
	return taskDoc{
		ID:          task.ID,
		InstanceID:  task.InstanceID,
		NodeID:      task.NodeID,
		TokenID:     task.TokenID,
		Status:      string(task.Status),
		Assignee:    task.Assignee,
		Variables:   task.Variables,
		FormFields:  task.FormFields,
		CreatedAt:   task.CreatedAt,
		CompletedAt: task.CompletedAt,
	}
}

func (doc taskDoc) toDomain() *domain.TaskInstance {
	task := &domain.TaskInstance{
		ID:          doc.ID,
		InstanceID:  doc.InstanceID,
		NodeID:      doc.NodeID,
		TokenID:     doc.TokenID,
		Status:      domain.TaskStatus(doc.Status),
		Assignee:    doc.Assignee,
		Variables:   doc.Variables,
		FormFields:  doc.FormFields,
		CreatedAt:   doc.CreatedAt,
		CompletedAt: doc.CompletedAt,
	}
	if task.Variables == nil {
		task.Variables = make(map[string]any)
	}
	return task
}
