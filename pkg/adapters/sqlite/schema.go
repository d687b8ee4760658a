package sqlite

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/aretw0/sluice/pkg/domain"
)

// instancePo is the persisted row of a process instance.
type instancePo struct {
	ID           string `gorm:"column:id;primaryKey"`
	DefinitionID string `gorm:"column:definition_id;index"`
	Status       string `gorm:"column:status;index"`
	Variables    string `gorm:"column:variables"`
	BusinessKey  string `gorm:"column:business_key"`
	StartTime    string `gorm:"column:start_time"`
	EndTime      string `gorm:"column:end_time"`
}

func (instancePo) TableName() string { return "instances" }

// tokenPo is the persisted row of a token.
type tokenPo struct {
	ID            string `gorm:"column:id;primaryKey"`
	InstanceID    string `gorm:"column:instance_id;index"`
	CurrentNodeID string `gorm:"column:current_node_id"`
	Variables     string `gorm:"column:variables"`
	CreatedAt     string `gorm:"column:created_at"`
	Active        bool   `gorm:"column:active;index"`
}

func (tokenPo) TableName() string { return "tokens" }

// taskPo is the persisted row of a task instance.
type taskPo struct {
	ID          string `gorm:"column:id;primaryKey"`
	InstanceID  string `gorm:"column:instance_id;index"`
	NodeID      string `gorm:"column:node_id"`
	TokenID     string `gorm:"column:token_id"`
	Status      string `gorm:"column:status;index"`
	Assignee    string `gorm:"column:assignee;index"`
	Variables   string `gorm:"column:variables"`
	FormData    string `gorm:"column:form_data"`
	CreatedAt   string `gorm:"column:created_at"`
	CompletedAt string `gorm:"column:completed_at"`
}

func (taskPo) TableName() string { return "tasks" }

func instanceToPo(inst *domain.ProcessInstance) (instancePo, error) {
	vars, err := marshalVariables(inst.Variables)
	if err != nil {
		return instancePo{}, err
	}
	row := instancePo{
		ID:           inst.ID,
		DefinitionID: inst.DefinitionID,
		Status:       string(inst.Status),
		Variables:    vars,
		BusinessKey:  inst.BusinessKey,
		StartTime:    inst.StartTime.Format(timeLayout),
	}
	if inst.EndTime != nil {
		row.EndTime = inst.EndTime.Format(timeLayout)
	}
	return row, nil
}

func (po instancePo) toDomain() (*domain.ProcessInstance, error) {
	vars, err := unmarshalVariables(po.Variables)
	if err != nil {
		return nil, err
	}
	start, err := time.Parse(timeLayout, po.StartTime)
	if err != nil {
		return nil, fmt.Errorf("parse start_time: %w", err)
	}
	inst := &domain.ProcessInstance{
		ID:           po.ID,
		DefinitionID: po.DefinitionID,
		Status:       domain.InstanceStatus(po.Status),
		Variables:    vars,
		BusinessKey:  po.BusinessKey,
		StartTime:    start,
	}
	if po.EndTime != "" {
		end, err := time.Parse(timeLayout, po.EndTime)
		if err != nil {
			return nil, fmt.Errorf("parse end_time: %w", err)
		}
		inst.EndTime = &end
	}
	return inst, nil
}

func tokenToPo(tok *domain.Token) (tokenPo, error) {
	vars, err := marshalVariables(tok.Variables)
	if err != nil {
		return tokenPo{}, err
	}
	return tokenPo{
		ID:            tok.ID,
		InstanceID:    tok.InstanceID,
		CurrentNodeID: tok.CurrentNodeID,
		Variables:     vars,
		CreatedAt:     tok.CreatedAt.Format(timeLayout),
		Active:        tok.Active,
	}, nil
}

func (po tokenPo) toDomain() (*domain.Token, error) {
	vars, err := unmarshalVariables(po.Variables)
	if err != nil {
		return nil, err
	}
	created, err := time.Parse(timeLayout, po.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	return &domain.Token{
		ID:            po.ID,
		InstanceID:    po.InstanceID,
		CurrentNodeID: po.CurrentNodeID,
		Variables:     vars,
		CreatedAt:     created,
		Active:        po.Active,
	}, nil
}

func taskToPo(task *domain.TaskInstance) (taskPo, error) {
	vars, err := marshalVariables(task.Variables)
	if err != nil {
		return taskPo{}, err
	}
	formData, err := json.Marshal(task.FormFields)
	if err != nil {
		return taskPo{}, fmt.Errorf("marshal form data: %w", err)
	}
	row := taskPo{
		ID:         task.ID,
		InstanceID: task.InstanceID,
		NodeID:     task.NodeID,
		TokenID:    task.TokenID,
		Status:     string(task.Status),
		Assignee:   task.Assignee,
		Variables:  vars,
		FormData:   string(formData),
		CreatedAt:  task.CreatedAt.Format(timeLayout),
	}
	if task.CompletedAt != nil {
		row.CompletedAt = task.CompletedAt.Format(timeLayout)
	}
	return row, nil
}

func (po taskPo) toDomain() (*domain.TaskInstance, error) {
	vars, err := unmarshalVariables(po.Variables)
	if err != nil {
		return nil, err
	}
	created, err := time.Parse(timeLayout, po.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at: %w", err)
	}
	task := &domain.TaskInstance{
		ID:         po.ID,
		InstanceID: po.InstanceID,
		NodeID:     po.NodeID,
		TokenID:    po.TokenID,
		Status:     domain.TaskStatus(po.Status),
		Assignee:   po.Assignee,
		Variables:  vars,
		CreatedAt:  created,
	}
	if po.FormData != "" {
		if err := json.Unmarshal([]byte(po.FormData), &task.FormFields); err != nil {
			return nil, fmt.Errorf("unmarshal form data: %w", err)
		}
	}
	if po.CompletedAt != "" {
		done, err := time.Parse(timeLayout, po.CompletedAt)
		if err != nil {
			return nil, fmt.Errorf("parse completed_at: %w", err)
		}
		task.CompletedAt = &done
	}
	return task, nil
}
