// Package redis provides the shared-state adapters for multi-replica
// deployments: a ports.Store keeping instances and tasks as JSON
// documents in Redis, and a ports.DistributedLocker built on SET NX.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/aretw0/sluice/pkg/domain"
)

// Store implements ports.Store using Redis. Every instance and task is
// one JSON document under a prefixed key; two sets index the active rows
// so recovery reads them back without scanning the keyspace.
type Store struct {
	client      *backend.Client
	prefix      string
	terminalTTL time.Duration
}

// Option configures the store.
type Option func(*Store)

// WithPrefix sets the key prefix. Deployments sharing one Redis use
// distinct prefixes to stay out of each other's way.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// WithTerminalTTL expires finished rows after the given duration.
// Active rows never expire. The default of 0 keeps finished rows
// forever, leaving cleanup to the operator.
func WithTerminalTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.terminalTTL = ttl
	}
}

// New creates a store with its own client.
func New(address, password string, db int, opts ...Option) *Store {
	return NewFromClient(backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	}), opts...)
}

// NewFromClient creates a store over an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: "sluice:",
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *Store) instanceKey(id string) string { return s.prefix + "instance:" + id }
func (s *Store) taskKey(id string) string     { return s.prefix + "task:" + id }
func (s *Store) activeInstancesKey() string   { return s.prefix + "active:instances" }
func (s *Store) activeTasksKey() string       { return s.prefix + "active:tasks" }

// SaveInstance writes the instance document and maintains the active
// index in one pipeline. Terminal documents stay readable under their
// key for auditing but leave the index, optionally with an expiry.
func (s *Store) SaveInstance(ctx context.Context, inst *domain.ProcessInstance) error {
	data, err := json.Marshal(instanceToDoc(inst))
	if err != nil {
		return fmt.Errorf("marshal instance %s: %w", inst.ID, err)
	}

	active := inst.Status == domain.InstanceActive
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.instanceKey(inst.ID), data, s.expiry(active))
	if active {
		pipe.SAdd(ctx, s.activeInstancesKey(), inst.ID)
	} else {
		pipe.SRem(ctx, s.activeInstancesKey(), inst.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save instance %s: %w", inst.ID, err)
	}
	return nil
}

// SaveTask writes the task document and maintains the active task index.
func (s *Store) SaveTask(ctx context.Context, task *domain.TaskInstance) error {
	data, err := json.Marshal(taskToDoc(task))
	if err != nil {
		return fmt.Errorf("marshal task %s: %w", task.ID, err)
	}

	active := task.Status == domain.TaskActive
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, s.taskKey(task.ID), data, s.expiry(active))
	if active {
		pipe.SAdd(ctx, s.activeTasksKey(), task.ID)
	} else {
		pipe.SRem(ctx, s.activeTasksKey(), task.ID)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("save task %s: %w", task.ID, err)
	}
	return nil
}

// LoadActiveInstances reads every indexed instance, each carrying only
// its active tokens. Index entries whose document is gone or no longer
// ACTIVE are pruned on the way.
func (s *Store) LoadActiveInstances(ctx context.Context) ([]*domain.ProcessInstance, error) {
	ids, err := s.client.SMembers(ctx, s.activeInstancesKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list active instances: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.instanceKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load active instances: %w", err)
	}

	instances := make([]*domain.ProcessInstance, 0, len(values))
	var stale []any
	for i, val := range values {
		raw, ok := val.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var doc instanceDoc
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("unmarshal instance %s: %w", ids[i], err)
		}
		inst := doc.toDomain()
		if inst.Status != domain.InstanceActive {
			stale = append(stale, ids[i])
			continue
		}
		instances = append(instances, inst)
	}

	if len(stale) > 0 {
		if err := s.client.SRem(ctx, s.activeInstancesKey(), stale...).Err(); err != nil {
			return nil, fmt.Errorf("prune instance index: %w", err)
		}
	}
	return instances, nil
}

// LoadActiveTasks reads every indexed task, pruning stale entries.
func (s *Store) LoadActiveTasks(ctx context.Context) ([]*domain.TaskInstance, error) {
	ids, err := s.client.SMembers(ctx, s.activeTasksKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("list active tasks: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.taskKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load active tasks: %w", err)
	}

	tasks := make([]*domain.TaskInstance, 0, len(values))
	var stale []any
	for i, val := range values {
		raw, ok := val.(string)
		if !ok {
			stale = append(stale, ids[i])
			continue
		}
		var doc taskDoc
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			return nil, fmt.Errorf("unmarshal task %s: %w", ids[i], err)
		}
		task := doc.toDomain()
		if task.Status != domain.TaskActive {
			stale = append(stale, ids[i])
			continue
		}
		tasks = append(tasks, task)
	}

	if len(stale) > 0 {
		if err := s.client.SRem(ctx, s.activeTasksKey(), stale...).Err(); err != nil {
			return nil, fmt.Errorf("prune task index: %w", err)
		}
	}
	return tasks, nil
}

// Close closes the redis client.
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) expiry(active bool) time.Duration {
	if active {
		return 0
	}
	return s.terminalTTL
}
