package otp

import (
	"context"
	"errors"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return mr, client
}

func TestRedisRelay_PublishDeliversToSubscriber(t *testing.T) {
	ctx := context.Background()
	_, client := setupTestRedis(t)
	relay := NewRedisRelay(client, arbor.NewLogger())

	sub, err := relay.Subscribe(ctx, "d1")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, relay.Publish(ctx, "d1", "482913"))
	assert.Equal(t, "482913", receive(t, sub.Messages()))
}

func TestRedisRelay_AcceptsRawPayload(t *testing.T) {
	ctx := context.Background()
	_, client := setupTestRedis(t)
	relay := NewRedisRelay(client, arbor.NewLogger())

	sub, err := relay.Subscribe(ctx, "d1")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, client.Publish(ctx, Topic("d1"), " 777888 ").Err())
	assert.Equal(t, "777888", receive(t, sub.Messages()))
}

func TestRedisRelay_CloseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	_, client := setupTestRedis(t)
	relay := NewRedisRelay(client, arbor.NewLogger())

	sub, err := relay.Subscribe(ctx, "d1")
	require.NoError(t, err)

	require.NoError(t, sub.Close())
	assert.NoError(t, sub.Close())
}

func TestRedisRelay_UnreachableServerIsRelayError(t *testing.T) {
	ctx := context.Background()
	mr, client := setupTestRedis(t)
	relay := NewRedisRelay(client, arbor.NewLogger())
	mr.Close()

	err := relay.Publish(ctx, "d1", "482913")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrRelay))
}
