// Package memory provides the in-memory reference implementation of
// ports.Store. It is the default engine store and the fixture most tests
// run against. Data does not survive a restart; pick the sqlite or redis
// adapter for durability.
package memory

import (
	"context"
	"sync"

	"github.com/aretw0/sluice/pkg/domain"
)

// Store implements ports.Store in memory. Safe for concurrent use.
type Store struct {
	mu        sync.RWMutex
	instances map[string]*domain.ProcessInstance
	tasks     map[string]*domain.TaskInstance
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		instances: make(map[string]*domain.ProcessInstance),
		tasks:     make(map[string]*domain.TaskInstance),
	}
}

// SaveInstance stores a deep copy of the instance and its tokens, so the
// engine can keep mutating its own object without aliasing the store.
func (s *Store) SaveInstance(ctx context.Context, inst *domain.ProcessInstance) error {
	cp := copyInstance(inst, false)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.instances[inst.ID] = cp
	return nil
}

// SaveTask stores a deep copy of the task.
func (s *Store) SaveTask(ctx context.Context, task *domain.TaskInstance) error {
	cp := copyTask(task)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID] = cp
	return nil
}

// LoadActiveInstances returns copies of every ACTIVE instance carrying
// only its active tokens.
func (s *Store) LoadActiveInstances(ctx context.Context) ([]*domain.ProcessInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.ProcessInstance
	for _, inst := range s.instances {
		if inst.Status != domain.InstanceActive {
			continue
		}
		out = append(out, copyInstance(inst, true))
	}
	return out, nil
}

// LoadActiveTasks returns copies of every ACTIVE task.
func (s *Store) LoadActiveTasks(ctx context.Context) ([]*domain.TaskInstance, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*domain.TaskInstance
	for _, task := range s.tasks {
		if task.Status != domain.TaskActive {
			continue
		}
		out = append(out, copyTask(task))
	}
	return out, nil
}

// Close is a no-op for the in-memory store.
func (s *Store) Close() error {
	return nil
}

func copyInstance(inst *domain.ProcessInstance, activeTokensOnly bool) *domain.ProcessInstance {
	cp := inst.Clone()
	if !activeTokensOnly {
		return cp
	}
	kept := cp.Tokens[:0]
	for _, tok := range cp.Tokens {
		if tok.Active {
			kept = append(kept, tok)
		}
	}
	cp.Tokens = kept
	return cp
}

func copyTask(task *domain.TaskInstance) *domain.TaskInstance {
	return task.Clone()
}
