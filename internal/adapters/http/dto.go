package http

import (
	"time"

	"github.com/aretw0/sluice/pkg/domain"
)

type startInstanceRequest struct {
	DefinitionID string         `json:"definition_id" validate:"required"`
	BusinessKey  string         `json:"business_key"`
	Variables    map[string]any `json:"variables"`
}

type startInstanceResponse struct {
	InstanceID string `json:"instance_id"`
}

type completeTaskRequest struct {
	Variables map[string]any `json:"variables"`
}

type completeTaskResponse struct {
	Completed bool `json:"completed"`
}

type instanceResponse struct {
	ID           string         `json:"id"`
	DefinitionID string         `json:"definition_id"`
	Status       string         `json:"status"`
	BusinessKey  string         `json:"business_key,omitempty"`
	Variables    map[string]any `json:"variables"`
	ActiveNodes  []string       `json:"active_nodes"`
	StartTime    time.Time      `json:"start_time"`
	EndTime      *time.Time     `json:"end_time,omitempty"`
}

type taskResponse struct {
	ID          string             `json:"id"`
	InstanceID  string             `json:"instance_id"`
	NodeID      string             `json:"node_id"`
	Status      string             `json:"status"`
	Assignee    string             `json:"assignee,omitempty"`
	Variables   map[string]any     `json:"variables"`
	FormFields  []domain.FormField `json:"form_fields,omitempty"`
	CreatedAt   time.Time          `json:"created_at"`
	CompletedAt *time.Time         `json:"completed_at,omitempty"`
}

func mapInstance(inst *domain.ProcessInstance) instanceResponse {
	resp := instanceResponse{
		ID:           inst.ID,
		DefinitionID: inst.DefinitionID,
		Status:       string(inst.Status),
		BusinessKey:  inst.BusinessKey,
		Variables:    inst.Variables,
		ActiveNodes:  []string{},
		StartTime:    inst.StartTime,
		EndTime:      inst.EndTime,
	}
	for _, tok := range inst.ActiveTokens() {
		resp.ActiveNodes = append(resp.ActiveNodes, tok.CurrentNodeID)
	}
	return resp
}

func mapTask(task *domain.TaskInstance) taskResponse {
	return taskResponse{
		ID:          task.ID,
		InstanceID:  task.InstanceID,
		NodeID:      task.NodeID,
		Status:      string(task.Status),
		Assignee:    task.Assignee,
		Variables:   task.Variables,
		FormFields:  task.FormFields,
		CreatedAt:   task.CreatedAt,
		CompletedAt: task.CompletedAt,
	}
}
