package stripewebhook

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryStore struct {
	keys map[string]string
}

func newMemoryStore() *memoryStore {
	return &memoryStore{keys: map[string]string{}}
}

func (m *memoryStore) Get(ctx context.Context, key string) (string, error) {
	return m.keys[key], nil
}

func (m *memoryStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, ok := m.keys[key]; ok {
		return false, nil
	}
	m.keys[key] = "1"
	return true, nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return scope + ":" + id
}

func (m *memoryStore) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(m.keys, key)
	}
	return nil
}

func TestIdempotencyGuardMarksAndDetectsDuplicates(t *testing.T) {
	guard, err := NewIdempotencyGuard(newMemoryStore(), time.Hour, "stripe-events")
	require.NoError(t, err)
	ctx := context.Background()

	duplicate, err := guard.CheckAndMark(ctx, "evt_1")
	require.NoError(t, err)
	assert.False(t, duplicate)

	duplicate, err = guard.CheckAndMark(ctx, "evt_1")
	require.NoError(t, err)
	assert.True(t, duplicate)
}

func TestIdempotencyGuardDeleteAllowsReprocessing(t *testing.T) {
	guard, err := NewIdempotencyGuard(newMemoryStore(), time.Hour, "stripe-events")
	require.NoError(t, err)
	ctx := context.Background()

	_, err = guard.CheckAndMark(ctx, "evt_2")
	require.NoError(t, err)
	require.NoError(t, guard.Delete(ctx, "evt_2"))

	duplicate, err := guard.CheckAndMark(ctx, "evt_2")
	require.NoError(t, err)
	assert.False(t, duplicate)
}

func TestNewIdempotencyGuardValidatesInputs(t *testing.T) {
	_, err := NewIdempotencyGuard(nil, time.Hour, "scope")
	require.Error(t, err)

	_, err = NewIdempotencyGuard(newMemoryStore(), -time.Second, "scope")
	require.Error(t, err)

	_, err = NewIdempotencyGuard(newMemoryStore(), time.Hour, "")
	require.Error(t, err)
}
