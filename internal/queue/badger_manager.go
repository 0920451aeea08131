package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/ternarybob/arbor"
)

// envelope is the internal structure stored in Badger
type envelope struct {
	ID           string    `json:"id"`
	Body         Message   `json:"body"`
	EnqueuedAt   time.Time `json:"enqueued_at"`
	VisibleAt    time.Time `json:"visible_at"`
	ReceiveCount int       `json:"receive_count"`
}

// BadgerManager implements a persistent queue using BadgerDB.
//
// Keys:
//
//	queue:{name}:msg:{id}                 -> JSON envelope
//	queue:{name}:index:{visibleAt}:{id}   -> empty, ordered by visibility
type BadgerManager struct {
	db                *badger.DB
	queueName         string
	visibilityTimeout time.Duration
	maxReceive        int
	logger            arbor.ILogger
}

// NewBadgerManager creates a new Badger-backed queue manager
func NewBadgerManager(db *badger.DB, config Config, logger arbor.ILogger) (*BadgerManager, error) {
	if db == nil {
		return nil, errors.New("badger db is required")
	}
	if config.QueueName == "" {
		return nil, errors.New("queue name is required")
	}
	if config.VisibilityTimeout <= 0 {
		config.VisibilityTimeout = 5 * time.Minute
	}
	if config.MaxReceive <= 0 {
		config.MaxReceive = 3
	}

	return &BadgerManager{
		db:                db,
		queueName:         config.QueueName,
		visibilityTimeout: config.VisibilityTimeout,
		maxReceive:        config.MaxReceive,
		logger:            logger,
	}, nil
}

// Enqueue adds a message that is visible immediately
func (m *BadgerManager) Enqueue(ctx context.Context, msg Message) error {
	return m.EnqueueWithDelay(ctx, msg, 0)
}

// EnqueueWithDelay adds a message that becomes visible after delay.
// Retries use this to schedule their backoff.
func (m *BadgerManager) EnqueueWithDelay(ctx context.Context, msg Message, delay time.Duration) error {
	now := time.Now()
	env := envelope{
		ID:         uuid.New().String(),
		Body:       msg,
		EnqueuedAt: now,
		VisibleAt:  now.Add(delay),
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal queue message: %w", err)
	}

	err = m.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set(m.msgKey(env.ID), data); err != nil {
			return err
		}
		return txn.Set(m.indexKey(env.VisibleAt, env.ID), []byte{})
	})
	if err != nil {
		return fmt.Errorf("failed to enqueue message: %w", err)
	}

	m.logger.Debug().
		Str("message_id", env.ID).
		Str("job_id", msg.JobID).
		Dur("delay", delay).
		Msg("Message enqueued")
	return nil
}

// Receive claims the next visible message and hides it for the visibility
// timeout. The returned function deletes it once processing is finished.
func (m *BadgerManager) Receive(ctx context.Context) (*Message, func() error, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	var env envelope

	err := m.db.Update(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := m.indexPrefix()
		it := txn.NewIterator(opts)
		defer it.Close()

		now := time.Now()
		var claimedKey []byte

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().KeyCopy(nil)

			ts, id, err := m.parseIndexKey(key)
			if err != nil {
				continue
			}
			// Keys sort by visibility; nothing after a future key is ready either
			if ts.After(now) {
				break
			}

			item, err := txn.Get(m.msgKey(id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				// Orphaned index entry
				if err := txn.Delete(key); err != nil {
					return err
				}
				continue
			}
			if err != nil {
				return err
			}

			var candidate envelope
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &candidate)
			}); err != nil {
				return err
			}

			// Poison message: drop it rather than loop forever
			if candidate.ReceiveCount >= m.maxReceive {
				m.logger.Warn().
					Str("message_id", id).
					Str("job_id", candidate.Body.JobID).
					Int("receive_count", candidate.ReceiveCount).
					Msg("Dropping message that exceeded max receive count")
				if err := txn.Delete(key); err != nil {
					return err
				}
				if err := txn.Delete(m.msgKey(id)); err != nil {
					return err
				}
				continue
			}

			env = candidate
			claimedKey = key
			break
		}

		if claimedKey == nil {
			return ErrNoMessage
		}

		env.ReceiveCount++
		env.VisibleAt = time.Now().Add(m.visibilityTimeout)

		data, err := json.Marshal(env)
		if err != nil {
			return err
		}
		if err := txn.Set(m.msgKey(env.ID), data); err != nil {
			return err
		}
		if err := txn.Delete(claimedKey); err != nil {
			return err
		}
		return txn.Set(m.indexKey(env.VisibleAt, env.ID), []byte{})
	})

	if err != nil {
		return nil, nil, err
	}

	msgID := env.ID
	deleteFn := func() error {
		return m.delete(msgID)
	}

	return &env.Body, deleteFn, nil
}

func (m *BadgerManager) delete(msgID string) error {
	return m.db.Update(func(txn *badger.Txn) error {
		item, err := txn.Get(m.msgKey(msgID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}

		var current envelope
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &current)
		}); err != nil {
			return err
		}

		if err := txn.Delete(m.indexKey(current.VisibleAt, msgID)); err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		return txn.Delete(m.msgKey(msgID))
	})
}

// Len counts stored messages, visible or not
func (m *BadgerManager) Len(ctx context.Context) (int, error) {
	count := 0
	err := m.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		prefix := []byte(fmt.Sprintf("queue:%s:msg:", m.queueName))
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// Close is a no-op; the database is owned by the storage layer
func (m *BadgerManager) Close() error {
	return nil
}

func (m *BadgerManager) msgKey(id string) []byte {
	return []byte(fmt.Sprintf("queue:%s:msg:%s", m.queueName, id))
}

func (m *BadgerManager) indexPrefix() []byte {
	return []byte(fmt.Sprintf("queue:%s:index:", m.queueName))
}

func (m *BadgerManager) indexKey(visibleAt time.Time, id string) []byte {
	// Zero pad to 20 digits so byte order matches numeric order
	return []byte(fmt.Sprintf("queue:%s:index:%020d:%s", m.queueName, visibleAt.UnixNano(), id))
}

func (m *BadgerManager) parseIndexKey(key []byte) (time.Time, string, error) {
	suffix := bytes.TrimPrefix(key, m.indexPrefix())
	// Suffix is "{20-digit-ts}:{id}"
	if len(suffix) < 22 || suffix[20] != ':' {
		return time.Time{}, "", fmt.Errorf("invalid index key %q", key)
	}

	var ts int64
	if _, err := fmt.Sscanf(string(suffix[:20]), "%d", &ts); err != nil {
		return time.Time{}, "", err
	}
	return time.Unix(0, ts), string(suffix[21:]), nil
}
