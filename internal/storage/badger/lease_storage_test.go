package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/urbix/internal/interfaces"
)

func TestLeaseStorage_AcquireRelease(t *testing.T) {
	ctx := context.Background()
	leases := NewLeaseStorage(newTestDB(t))

	require.NoError(t, leases.Acquire(ctx, "d1", "att_1", time.Minute))
	assert.ErrorIs(t, leases.Acquire(ctx, "d1", "att_2", time.Minute), interfaces.ErrLeaseHeld)
	require.NoError(t, leases.Acquire(ctx, "d2", "att_2", time.Minute))

	// Release by a non-holder leaves the lease in place
	require.NoError(t, leases.Release(ctx, "d1", "att_2"))
	assert.ErrorIs(t, leases.Acquire(ctx, "d1", "att_2", time.Minute), interfaces.ErrLeaseHeld)

	require.NoError(t, leases.Release(ctx, "d1", "att_1"))
	assert.NoError(t, leases.Acquire(ctx, "d1", "att_2", time.Minute))
}

func TestLeaseStorage_Expires(t *testing.T) {
	ctx := context.Background()
	leases := NewLeaseStorage(newTestDB(t))

	// Badger TTLs have one second resolution
	require.NoError(t, leases.Acquire(ctx, "d1", "att_1", time.Second))
	time.Sleep(2100 * time.Millisecond)
	assert.NoError(t, leases.Acquire(ctx, "d1", "att_2", time.Minute))
}
