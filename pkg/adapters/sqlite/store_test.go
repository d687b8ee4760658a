package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/sluice/pkg/domain"
	"github.com/aretw0/sluice/pkg/ports"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "sluice.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestStore_Contract(t *testing.T) {
	ports.RunStoreContract(t, openTestStore(t))
}

func TestStore_SurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sluice.db")
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC)

	store, err := Open(path)
	require.NoError(t, err)

	inst := domain.NewProcessInstance("approval", "order-9", map[string]any{"amount": 120.5}, now)
	inst.AddToken(domain.NewToken(inst.ID, "review", map[string]any{"amount": 120.5}, now))
	require.NoError(t, store.SaveInstance(ctx, inst))

	node := &domain.Node{ID: "review", Kind: domain.KindUserTask, Assignee: "bob"}
	task := domain.NewTaskInstance(node, inst.Tokens[0], now)
	require.NoError(t, store.SaveTask(ctx, task))
	require.NoError(t, store.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	instances, err := reopened.LoadActiveInstances(ctx)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	got := instances[0]
	assert.Equal(t, inst.ID, got.ID)
	assert.Equal(t, "order-9", got.BusinessKey)
	assert.True(t, got.StartTime.Equal(now))
	require.Len(t, got.Tokens, 1)
	assert.Equal(t, "review", got.Tokens[0].CurrentNodeID)
	assert.EqualValues(t, 120.5, got.Tokens[0].Variables["amount"])

	tasks, err := reopened.LoadActiveTasks(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, task.ID, tasks[0].ID)
	assert.Equal(t, inst.Tokens[0].ID, tasks[0].TokenID)
	assert.Equal(t, "bob", tasks[0].Assignee)
}

func TestStore_RetiredTokensStayOnDisk(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	now := time.Now().UTC()

	inst := domain.NewProcessInstance("def", "", nil, now)
	retired := domain.NewToken(inst.ID, "start", nil, now)
	retired.Retire()
	live := domain.NewToken(inst.ID, "review", nil, now)
	inst.AddToken(retired)
	inst.AddToken(live)
	require.NoError(t, store.SaveInstance(ctx, inst))

	// The reconstructed instance carries only the live token.
	instances, err := store.LoadActiveInstances(ctx)
	require.NoError(t, err)
	require.Len(t, instances, 1)
	require.Len(t, instances[0].Tokens, 1)
	assert.Equal(t, live.ID, instances[0].Tokens[0].ID)

	// The retired row is still in the table for auditing.
	var count int64
	require.NoError(t, store.db.Model(&tokenPo{}).Where("instance_id = ?", inst.ID).Count(&count).Error)
	assert.EqualValues(t, 2, count)
}
