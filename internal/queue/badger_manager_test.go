package queue

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
)

func newTestQueue(t *testing.T, visibility time.Duration, maxReceive int) *BadgerManager {
	t.Helper()

	db, err := badger.Open(badger.DefaultOptions("").WithInMemory(true).WithLogger(nil))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	config := NewDefaultConfig()
	config.VisibilityTimeout = visibility
	config.MaxReceive = maxReceive

	q, err := NewBadgerManager(db, config, arbor.NewLogger())
	require.NoError(t, err)
	return q
}

func TestBadgerManager_EnqueueReceiveAck(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, time.Minute, 3)

	require.NoError(t, q.Enqueue(ctx, Message{JobID: "att_1", Type: "device_login"}))
	require.NoError(t, q.Enqueue(ctx, Message{JobID: "att_2", Type: "device_login"}))

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	msg, ack, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "att_1", msg.JobID)
	require.NoError(t, ack())

	msg, ack, err = q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "att_2", msg.JobID)
	require.NoError(t, ack())

	_, _, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	n, err = q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestBadgerManager_DelayedMessageHiddenUntilDue(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, time.Minute, 3)

	require.NoError(t, q.EnqueueWithDelay(ctx, Message{JobID: "att_retry"}, 150*time.Millisecond))

	_, _, err := q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	time.Sleep(200 * time.Millisecond)
	msg, _, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "att_retry", msg.JobID)
}

func TestBadgerManager_UnackedMessageIsRedelivered(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, 100*time.Millisecond, 3)

	require.NoError(t, q.Enqueue(ctx, Message{JobID: "att_1"}))

	_, _, err := q.Receive(ctx)
	require.NoError(t, err)

	// Hidden while in flight
	_, _, err = q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	time.Sleep(150 * time.Millisecond)
	msg, _, err := q.Receive(ctx)
	require.NoError(t, err)
	assert.Equal(t, "att_1", msg.JobID)
}

func TestBadgerManager_DropsAfterMaxReceive(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, 10*time.Millisecond, 2)

	require.NoError(t, q.Enqueue(ctx, Message{JobID: "poison"}))

	for i := 0; i < 2; i++ {
		_, _, err := q.Receive(ctx)
		require.NoError(t, err)
		time.Sleep(20 * time.Millisecond)
	}

	_, _, err := q.Receive(ctx)
	assert.ErrorIs(t, err, ErrNoMessage)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestWorkerPool_ProcessesAndAcks(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, time.Minute, 3)

	config := NewDefaultConfig()
	config.PollInterval = 10 * time.Millisecond
	config.Concurrency = 2
	pool := NewWorkerPool(q, config, arbor.NewLogger())

	var handled atomic.Int32
	pool.RegisterHandler("device_login", func(ctx context.Context, msg *Message) error {
		handled.Add(1)
		return nil
	})

	require.NoError(t, q.Enqueue(ctx, Message{JobID: "att_1", Type: "device_login"}))
	require.NoError(t, q.Enqueue(ctx, Message{JobID: "att_2", Type: "device_login"}))
	require.NoError(t, q.Enqueue(ctx, Message{JobID: "att_3", Type: "unknown"}))

	require.NoError(t, pool.Start(ctx))
	defer pool.Stop()

	assert.Eventually(t, func() bool {
		n, err := q.Len(ctx)
		return err == nil && n == 0
	}, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), handled.Load())
}

func TestWorkerPool_HandlerPanicDoesNotKillWorker(t *testing.T) {
	ctx := context.Background()
	q := newTestQueue(t, time.Minute, 3)

	config := NewDefaultConfig()
	config.PollInterval = 10 * time.Millisecond
	config.Concurrency = 1
	pool := NewWorkerPool(q, config, arbor.NewLogger())

	var handled atomic.Int32
	pool.RegisterHandler("device_login", func(ctx context.Context, msg *Message) error {
		if handled.Add(1) == 1 {
			panic("boom")
		}
		return nil
	})

	require.NoError(t, q.Enqueue(ctx, Message{JobID: "att_1", Type: "device_login"}))
	require.NoError(t, q.Enqueue(ctx, Message{JobID: "att_2", Type: "device_login"}))

	require.NoError(t, pool.Start(ctx))
	defer pool.Stop()

	assert.Eventually(t, func() bool { return handled.Load() == 2 }, 2*time.Second, 10*time.Millisecond)
}
