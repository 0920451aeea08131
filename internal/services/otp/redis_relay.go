package otp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/urbix/internal/interfaces"
)

// otpMessage is the JSON body published on the redis channel
type otpMessage struct {
	OTP string `json:"otp"`
}

// RedisRelay relays OTPs over redis PUBLISH/SUBSCRIBE so the process holding the
// client connection need not be the one running the login.
type RedisRelay struct {
	client *redis.Client
	logger arbor.ILogger
}

// NewRedisRelay wraps an existing client. The client is owned by the caller.
func NewRedisRelay(client *redis.Client, logger arbor.ILogger) *RedisRelay {
	return &RedisRelay{client: client, logger: logger}
}

// Publish sends otp on the device channel
func (r *RedisRelay) Publish(ctx context.Context, deviceID, otp string) error {
	payload, err := json.Marshal(otpMessage{OTP: otp})
	if err != nil {
		return fmt.Errorf("failed to marshal otp message: %w", err)
	}

	receivers, err := r.client.Publish(ctx, Topic(deviceID), payload).Result()
	if err != nil {
		return fmt.Errorf("%w: publish: %v", ErrRelay, err)
	}

	r.logger.Debug().
		Str("topic", Topic(deviceID)).
		Int64("receivers", receivers).
		Msg("OTP published")
	return nil
}

// Subscribe blocks until redis confirms the subscription, so a value published
// after Subscribe returns is never missed.
func (r *RedisRelay) Subscribe(ctx context.Context, deviceID string) (interfaces.OTPSubscription, error) {
	topic := Topic(deviceID)
	pubsub := r.client.Subscribe(ctx, topic)

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("%w: subscribe %s: %v", ErrRelay, topic, err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		ch:     make(chan string, subscriberBuffer),
		done:   make(chan struct{}),
	}
	go sub.forward(r.logger, topic)

	return sub, nil
}

// Close is a no-op; the client belongs to the caller
func (r *RedisRelay) Close() error {
	return nil
}

type redisSubscription struct {
	pubsub *redis.PubSub
	ch     chan string
	done   chan struct{}
	once   sync.Once
}

func (s *redisSubscription) forward(logger arbor.ILogger, topic string) {
	defer close(s.ch)

	for msg := range s.pubsub.Channel() {
		value := decodePayload(msg.Payload)
		select {
		case s.ch <- value:
		case <-s.done:
			return
		default:
			logger.Warn().Str("topic", topic).Msg("OTP subscriber buffer full, value dropped")
		}
	}
}

func (s *redisSubscription) Messages() <-chan string {
	return s.ch
}

func (s *redisSubscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.pubsub.Close()
	})
	return err
}

// decodePayload accepts the JSON form and falls back to the raw string
func decodePayload(payload string) string {
	var msg otpMessage
	if err := json.Unmarshal([]byte(payload), &msg); err == nil && msg.OTP != "" {
		return msg.OTP
	}
	return strings.TrimSpace(payload)
}
