package ports

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/sluice/pkg/domain"
)

// RunStoreContract verifies that a Store implementation adheres to the
// persistence contract the engine relies on. Every adapter's test suite
// runs it against a fresh store.
func RunStoreContract(t *testing.T, store Store) {
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)

	t.Run("Save and Reload Active Instance", func(t *testing.T) {
		inst := domain.NewProcessInstance("contract-def", "order-1", map[string]any{
			"amount":   42,
			"customer": "acme",
			"flags":    map[string]any{"expedite": true},
		}, now)
		live := domain.NewToken(inst.ID, "review", map[string]any{"amount": 42}, now)
		retired := domain.NewToken(inst.ID, "start", nil, now)
		retired.Retire()
		inst.AddToken(live)
		inst.AddToken(retired)

		require.NoError(t, store.SaveInstance(ctx, inst))

		loaded := findInstance(t, store, inst.ID)
		assert.Equal(t, domain.InstanceActive, loaded.Status)
		assert.Equal(t, "contract-def", loaded.DefinitionID)
		assert.Equal(t, "order-1", loaded.BusinessKey)
		assert.True(t, loaded.StartTime.Equal(inst.StartTime), "start time drifted: %v", loaded.StartTime)
		assert.EqualValues(t, 42, loaded.Variables["amount"])
		assert.Equal(t, "acme", loaded.Variables["customer"])

		// Only active tokens come back; the retired one stays on disk for
		// auditing but is not part of the reconstructed state.
		require.Len(t, loaded.Tokens, 1)
		tok := loaded.Tokens[0]
		assert.Equal(t, live.ID, tok.ID)
		assert.Equal(t, "review", tok.CurrentNodeID)
		assert.True(t, tok.Active)
		assert.EqualValues(t, 42, tok.Variables["amount"])
	})

	t.Run("Terminal Instances Are Not Listed", func(t *testing.T) {
		inst := domain.NewProcessInstance("contract-def", "", nil, now)
		inst.Complete(now)
		require.NoError(t, store.SaveInstance(ctx, inst))

		instances, err := store.LoadActiveInstances(ctx)
		require.NoError(t, err)
		for _, got := range instances {
			assert.NotEqual(t, inst.ID, got.ID, "completed instance leaked into the active set")
		}
	})

	t.Run("Upsert Does Not Duplicate", func(t *testing.T) {
		inst := domain.NewProcessInstance("contract-def", "", nil, now)
		inst.AddToken(domain.NewToken(inst.ID, "start", nil, now))
		require.NoError(t, store.SaveInstance(ctx, inst))

		inst.Tokens[0].MoveTo("review")
		require.NoError(t, store.SaveInstance(ctx, inst))

		loaded := findInstance(t, store, inst.ID)
		require.Len(t, loaded.Tokens, 1)
		assert.Equal(t, "review", loaded.Tokens[0].CurrentNodeID)
	})

	t.Run("Save and Reload Active Task", func(t *testing.T) {
		node := &domain.Node{ID: "review", Kind: domain.KindUserTask, Assignee: "alice"}
		node.AddFormField("approved", "boolean", "Approve?", true)
		tok := domain.NewToken("inst-task", "review", nil, now)
		task := domain.NewTaskInstance(node, tok, now)

		require.NoError(t, store.SaveTask(ctx, task))

		loaded := findTask(t, store, task.ID)
		assert.Equal(t, "review", loaded.NodeID)
		assert.Equal(t, tok.ID, loaded.TokenID)
		assert.Equal(t, "alice", loaded.Assignee)
		assert.Equal(t, domain.TaskActive, loaded.Status)
		require.Len(t, loaded.FormFields, 1)
		assert.Equal(t, "approved", loaded.FormFields[0].ID)
		assert.True(t, loaded.FormFields[0].Required)
		assert.True(t, loaded.CreatedAt.Equal(task.CreatedAt))
	})

	t.Run("Completed Tasks Are Not Listed", func(t *testing.T) {
		node := &domain.Node{ID: "review", Kind: domain.KindUserTask}
		task := domain.NewTaskInstance(node, domain.NewToken("inst-task", "review", nil, now), now)
		task.Complete(map[string]any{"approved": false}, now)

		require.NoError(t, store.SaveTask(ctx, task))

		tasks, err := store.LoadActiveTasks(ctx)
		require.NoError(t, err)
		for _, got := range tasks {
			assert.NotEqual(t, task.ID, got.ID, "completed task leaked into the active set")
		}
	})
}

func findInstance(t *testing.T, store Store, id string) *domain.ProcessInstance {
	t.Helper()
	instances, err := store.LoadActiveInstances(context.Background())
	require.NoError(t, err)
	for _, inst := range instances {
		if inst.ID == id {
			return inst
		}
	}
	t.Fatalf("instance %s not returned by LoadActiveInstances", id)
	return nil
}

func findTask(t *testing.T, store Store, id string) *domain.TaskInstance {
	t.Helper()
	tasks, err := store.LoadActiveTasks(context.Background())
	require.NoError(t, err)
	for _, task := range tasks {
		if task.ID == id {
			return task
		}
	}
	t.Fatalf("task %s not returned by LoadActiveTasks", id)
	return nil
}
