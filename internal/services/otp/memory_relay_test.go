package otp

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "subscription channel closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for otp")
		return ""
	}
}

func TestMemoryRelay_PublishDeliversToSubscriber(t *testing.T) {
	ctx := context.Background()
	relay := NewMemoryRelay(arbor.NewLogger())
	defer relay.Close()

	sub, err := relay.Subscribe(ctx, "d1")
	require.NoError(t, err)
	defer sub.Close()

	require.NoError(t, relay.Publish(ctx, "d1", "482913"))
	assert.Equal(t, "482913", receive(t, sub.Messages()))
}

func TestMemoryRelay_PreservesOrderPerDevice(t *testing.T) {
	ctx := context.Background()
	relay := NewMemoryRelay(arbor.NewLogger())

	sub, err := relay.Subscribe(ctx, "d1")
	require.NoError(t, err)
	defer sub.Close()

	for _, v := range []string{"111111", "222222", "333333"} {
		require.NoError(t, relay.Publish(ctx, "d1", v))
	}

	assert.Equal(t, "111111", receive(t, sub.Messages()))
	assert.Equal(t, "222222", receive(t, sub.Messages()))
	assert.Equal(t, "333333", receive(t, sub.Messages()))
}

func TestMemoryRelay_PublishWithoutSubscriberIsLost(t *testing.T) {
	ctx := context.Background()
	relay := NewMemoryRelay(arbor.NewLogger())

	require.NoError(t, relay.Publish(ctx, "d1", "482913"))

	sub, err := relay.Subscribe(ctx, "d1")
	require.NoError(t, err)
	defer sub.Close()

	select {
	case v := <-sub.Messages():
		t.Fatalf("unexpected value delivered to late subscriber: %s", v)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestMemoryRelay_TopicsAreIsolated(t *testing.T) {
	ctx := context.Background()
	relay := NewMemoryRelay(arbor.NewLogger())

	subA, err := relay.Subscribe(ctx, "a")
	require.NoError(t, err)
	defer subA.Close()
	subB, err := relay.Subscribe(ctx, "b")
	require.NoError(t, err)
	defer subB.Close()

	require.NoError(t, relay.Publish(ctx, "b", "654321"))
	assert.Equal(t, "654321", receive(t, subB.Messages()))

	select {
	case v := <-subA.Messages():
		t.Fatalf("device a received value for device b: %s", v)
	default:
	}
}

func TestMemoryRelay_CloseReleasesSubscription(t *testing.T) {
	ctx := context.Background()
	relay := NewMemoryRelay(arbor.NewLogger())

	sub, err := relay.Subscribe(ctx, "d1")
	require.NoError(t, err)
	assert.Equal(t, 1, relay.SubscriberCount("d1"))

	require.NoError(t, sub.Close())
	require.NoError(t, sub.Close(), "close must be idempotent")
	assert.Equal(t, 0, relay.SubscriberCount("d1"))

	_, ok := <-sub.Messages()
	assert.False(t, ok)

	// Publishing after close must not panic
	require.NoError(t, relay.Publish(ctx, "d1", "123456"))
}
