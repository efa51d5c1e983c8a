package channel

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"engageflow/logger"
)

type memoryStore struct {
	mu      sync.Mutex
	byTuple map[string]string
	rows    map[string]bool
	upserts int
	nextID  int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{byTuple: map[string]string{}, rows: map[string]bool{}}
}

func (m *memoryStore) GetOrCreate(_ context.Context, _ pgx.Tx, projectID, clientID, freelancerID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upserts++
	key := projectID + "/" + clientID + "/" + freelancerID
	if id, ok := m.byTuple[key]; ok {
		return id, nil
	}
	m.nextID++
	id := fmt.Sprintf("conv-%d", m.nextID)
	m.byTuple[key] = id
	m.rows[id] = true
	return id, nil
}

func (m *memoryStore) Exists(_ context.Context, _ pgx.Tx, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rows[id], nil
}

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestCachedProvisionerReusesChannel(t *testing.T) {
	mr, rdb := newRedis(t)
	store := newMemoryStore()
	p := NewCachedProvisioner(store, rdb, time.Hour, logger.NewTestLogger(t))
	ctx := context.Background()

	first, err := p.GetOrCreate(ctx, nil, "proj-1", "client-1", "free-1")
	require.NoError(t, err)
	second, err := p.GetOrCreate(ctx, nil, "proj-1", "client-1", "free-1")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, store.upserts)
	cached, err := mr.Get(cacheKey("proj-1", "client-1", "free-1"))
	require.NoError(t, err)
	assert.Equal(t, first, cached)
	assert.Equal(t, time.Hour, mr.TTL(cacheKey("proj-1", "client-1", "free-1")))

	other, err := p.GetOrCreate(ctx, nil, "proj-1", "client-1", "free-2")
	require.NoError(t, err)
	assert.NotEqual(t, first, other)
}

func TestCachedProvisionerDropsStaleEntry(t *testing.T) {
	mr, rdb := newRedis(t)
	store := newMemoryStore()
	p := NewCachedProvisioner(store, rdb, time.Hour, nil)
	ctx := context.Background()

	require.NoError(t, mr.Set(cacheKey("proj-1", "client-1", "free-1"), "rolled-back"))

	id, err := p.GetOrCreate(ctx, nil, "proj-1", "client-1", "free-1")
	require.NoError(t, err)
	assert.NotEqual(t, "rolled-back", id)
	assert.Equal(t, 1, store.upserts)

	cached, _ := mr.Get(cacheKey("proj-1", "client-1", "free-1"))
	assert.Equal(t, id, cached)
}

func TestCachedProvisionerSurvivesRedisOutage(t *testing.T) {
	mr, rdb := newRedis(t)
	store := newMemoryStore()
	p := NewCachedProvisioner(store, rdb, time.Hour, logger.NewTestLogger(t))
	mr.Close()

	id, err := p.GetOrCreate(context.Background(), nil, "proj-1", "client-1", "free-1")
	require.NoError(t, err)
	assert.NotEmpty(t, id)
}

func TestConcurrentProvisioningYieldsOneChannel(t *testing.T) {
	_, rdb := newRedis(t)
	store := newMemoryStore()
	p := NewCachedProvisioner(store, rdb, time.Hour, nil)

	var wg sync.WaitGroup
	ids := make([]string, 16)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id, err := p.GetOrCreate(context.Background(), nil, "proj-1", "client-1", "free-1")
			assert.NoError(t, err)
			ids[i] = id
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}
	assert.Len(t, store.rows, 1)
}
