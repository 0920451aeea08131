package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/urbix/internal/interfaces"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *goredis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return mr, client
}

func TestLeaseStorage_AcquireIsExclusive(t *testing.T) {
	ctx := context.Background()
	_, client := setupTestRedis(t)
	leases := NewLeaseStorage(client)

	require.NoError(t, leases.Acquire(ctx, "d1", "att_1", time.Minute))
	assert.ErrorIs(t, leases.Acquire(ctx, "d1", "att_2", time.Minute), interfaces.ErrLeaseHeld)

	// Other devices are unaffected
	require.NoError(t, leases.Acquire(ctx, "d2", "att_2", time.Minute))

	// Same holder may re-acquire
	require.NoError(t, leases.Acquire(ctx, "d1", "att_1", time.Minute))
}

func TestLeaseStorage_ReleaseOnlyByHolder(t *testing.T) {
	ctx := context.Background()
	_, client := setupTestRedis(t)
	leases := NewLeaseStorage(client)

	require.NoError(t, leases.Acquire(ctx, "d1", "att_1", time.Minute))
	require.NoError(t, leases.Release(ctx, "d1", "att_2"))
	assert.ErrorIs(t, leases.Acquire(ctx, "d1", "att_2", time.Minute), interfaces.ErrLeaseHeld)

	require.NoError(t, leases.Release(ctx, "d1", "att_1"))
	assert.NoError(t, leases.Acquire(ctx, "d1", "att_2", time.Minute))
}

func TestLeaseStorage_ExpiresAfterTTL(t *testing.T) {
	ctx := context.Background()
	mr, client := setupTestRedis(t)
	leases := NewLeaseStorage(client)

	require.NoError(t, leases.Acquire(ctx, "d1", "att_1", time.Minute))
	mr.FastForward(2 * time.Minute)
	assert.NoError(t, leases.Acquire(ctx, "d1", "att_2", time.Minute))
}
