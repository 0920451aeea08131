package otp

import (
	"context"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/urbix/internal/interfaces"
)

// MemoryRelay is an in-process fan-out hub keyed by device topic
type MemoryRelay struct {
	mu     sync.RWMutex
	topics map[string]map[*memorySubscription]struct{}
	logger arbor.ILogger
}

// NewMemoryRelay creates an empty hub
func NewMemoryRelay(logger arbor.ILogger) *MemoryRelay {
	return &MemoryRelay{
		topics: make(map[string]map[*memorySubscription]struct{}),
		logger: logger,
	}
}

// Publish delivers otp to every current subscriber of the device topic.
// Values published with no subscriber are dropped.
func (r *MemoryRelay) Publish(ctx context.Context, deviceID, otp string) error {
	topic := Topic(deviceID)

	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.topics[topic]
	if len(subs) == 0 {
		r.logger.Debug().Str("topic", topic).Msg("OTP published with no subscriber, dropped")
		return nil
	}

	for sub := range subs {
		select {
		case sub.ch <- otp:
		default:
			r.logger.Warn().Str("topic", topic).Msg("OTP subscriber buffer full, value dropped")
		}
	}
	return nil
}

// Subscribe registers a listener on the device topic
func (r *MemoryRelay) Subscribe(ctx context.Context, deviceID string) (interfaces.OTPSubscription, error) {
	topic := Topic(deviceID)
	sub := &memorySubscription{
		relay: r,
		topic: topic,
		ch:    make(chan string, subscriberBuffer),
	}

	r.mu.Lock()
	if r.topics[topic] == nil {
		r.topics[topic] = make(map[*memorySubscription]struct{})
	}
	r.topics[topic][sub] = struct{}{}
	r.mu.Unlock()

	return sub, nil
}

// SubscriberCount reports the listeners on a device topic
func (r *MemoryRelay) SubscriberCount(deviceID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.topics[Topic(deviceID)])
}

// Close drops every subscription
func (r *MemoryRelay) Close() error {
	r.mu.Lock()
	topics := r.topics
	r.topics = make(map[string]map[*memorySubscription]struct{})
	r.mu.Unlock()

	for _, subs := range topics {
		for sub := range subs {
			sub.closeChannel()
		}
	}
	return nil
}

func (r *MemoryRelay) remove(sub *memorySubscription) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if subs, ok := r.topics[sub.topic]; ok {
		delete(subs, sub)
		if len(subs) == 0 {
			delete(r.topics, sub.topic)
		}
	}
}

type memorySubscription struct {
	relay *MemoryRelay
	topic string
	ch    chan string
	once  sync.Once
}

func (s *memorySubscription) Messages() <-chan string {
	return s.ch
}

func (s *memorySubscription) Close() error {
	s.relay.remove(s)
	s.closeChannel()
	return nil
}

// closeChannel runs after removal from the hub, so no publisher can still send
// while holding the read lock.
func (s *memorySubscription) closeChannel() {
	s.once.Do(func() {
		s.relay.mu.Lock()
		close(s.ch)
		s.relay.mu.Unlock()
	})
}
