package redis_test

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	backend "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aretw0/sluice/pkg/adapters/redis"
	"github.com/aretw0/sluice/pkg/domain"
	"github.com/aretw0/sluice/pkg/ports"
)

func newTestClient(t *testing.T) (*miniredis.Miniredis, *backend.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err, "failed to start miniredis")
	t.Cleanup(mr.Close)

	client := backend.NewClient(&backend.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestRedisStore_Contract(t *testing.T) {
	_, client := newTestClient(t)
	store := redis.NewFromClient(client)
	ports.RunStoreContract(t, store)
}

func TestRedisStore_TerminalRowsLeaveActiveIndex(t *testing.T) {
	mr, client := newTestClient(t)
	store := redis.NewFromClient(client)
	ctx := context.Background()
	now := time.Now()

	inst := domain.NewProcessInstance("def", "", nil, now)
	inst.AddToken(domain.NewToken(inst.ID, "start", nil, now))
	require.NoError(t, store.SaveInstance(ctx, inst))

	inst.Complete(now)
	require.NoError(t, store.SaveInstance(ctx, inst))

	active, err := store.LoadActiveInstances(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	// The document itself survives for auditing.
	assert.True(t, mr.Exists("sluice:instance:"+inst.ID))
}

func TestRedisStore_TerminalTTL(t *testing.T) {
	mr, client := newTestClient(t)
	store := redis.NewFromClient(client, redis.WithTerminalTTL(time.Minute))
	ctx := context.Background()
	now := time.Now()

	inst := domain.NewProcessInstance("def", "", nil, now)
	require.NoError(t, store.SaveInstance(ctx, inst))
	assert.Equal(t, time.Duration(0), mr.TTL("sluice:instance:"+inst.ID), "active rows must not expire")

	inst.Complete(now)
	require.NoError(t, store.SaveInstance(ctx, inst))
	assert.Equal(t, time.Minute, mr.TTL("sluice:instance:"+inst.ID))
}

func TestRedisStore_PrefixIsolation(t *testing.T) {
	_, client := newTestClient(t)
	blue := redis.NewFromClient(client, redis.WithPrefix("blue:"))
	green := redis.NewFromClient(client, redis.WithPrefix("green:"))
	ctx := context.Background()
	now := time.Now()

	inst := domain.NewProcessInstance("def", "", nil, now)
	inst.AddToken(domain.NewToken(inst.ID, "start", nil, now))
	require.NoError(t, blue.SaveInstance(ctx, inst))

	fromBlue, err := blue.LoadActiveInstances(ctx)
	require.NoError(t, err)
	assert.Len(t, fromBlue, 1)

	fromGreen, err := green.LoadActiveInstances(ctx)
	require.NoError(t, err)
	assert.Empty(t, fromGreen)
}

func TestRedisStore_PrunesStaleIndexEntries(t *testing.T) {
	_, client := newTestClient(t)
	store := redis.NewFromClient(client)
	ctx := context.Background()

	// An index entry without a document, as left behind by a terminal
	// TTL eviction.
	require.NoError(t, client.SAdd(ctx, "sluice:active:instances", "ghost").Err())

	active, err := store.LoadActiveInstances(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	members, err := client.SMembers(ctx, "sluice:active:instances").Result()
	require.NoError(t, err)
	assert.Empty(t, members, "stale entry should be pruned during load")
}

func TestRedisStore_RetiredTokensStayInDocument(t *testing.T) {
	_, client := newTestClient(t)
	store := redis.NewFromClient(client)
	ctx := context.Background()
	now := time.Now()

	inst := domain.NewProcessInstance("def", "", nil, now)
	live := domain.NewToken(inst.ID, "review", nil, now)
	retired := domain.NewToken(inst.ID, "start", nil, now)
	retired.Retire()
	inst.AddToken(live)
	inst.AddToken(retired)
	require.NoError(t, store.SaveInstance(ctx, inst))

	raw, err := client.Get(ctx, "sluice:instance:"+inst.ID).Result()
	require.NoError(t, err)
	assert.Contains(t, raw, retired.ID, "retired token must remain in the stored document")

	loaded, err := store.LoadActiveInstances(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Len(t, loaded[0].Tokens, 1)
	assert.Equal(t, live.ID, loaded[0].Tokens[0].ID)
}
