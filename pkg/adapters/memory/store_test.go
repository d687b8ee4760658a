package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/sluice/pkg/domain"
	"github.com/aretw0/sluice/pkg/ports"
)

func TestStore_Contract(t *testing.T) {
	ports.RunStoreContract(t, NewStore())
}

func TestStore_SaveIsolation(t *testing.T) {
	store := NewStore()
	ctx := context.Background()
	now := time.Now()

	inst := domain.NewProcessInstance("def", "", map[string]any{"n": 1}, now)
	inst.AddToken(domain.NewToken(inst.ID, "start", map[string]any{"n": 1}, now))
	require.NoError(t, store.SaveInstance(ctx, inst))

	// Mutating the engine-side object after Save must not reach the store.
	inst.Variables["n"] = 99
	inst.Tokens[0].MoveTo("elsewhere")

	loaded, err := store.LoadActiveInstances(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, 1, loaded[0].Variables["n"])
	assert.Equal(t, "start", loaded[0].Tokens[0].CurrentNodeID)
}

func TestStore_LoadIsolation(t *testing.T) {
	store := NewStore()
	ctx := context.Background()

	inst := domain.NewProcessInstance("def", "", map[string]any{"n": 1}, time.Now())
	require.NoError(t, store.SaveInstance(ctx, inst))

	first, err := store.LoadActiveInstances(ctx)
	require.NoError(t, err)
	first[0].Variables["n"] = 99

	second, err := store.LoadActiveInstances(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, second[0].Variables["n"], "loads must not alias each other")
}
