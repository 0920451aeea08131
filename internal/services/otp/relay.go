// Package otp relays one-time passwords from live client connections to the
// login worker blocked waiting for them.
package otp

import (
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/urbix/internal/common"
	"github.com/ternarybob/urbix/internal/interfaces"
)

// ErrRelay marks failures of the relay transport itself
var ErrRelay = errors.New("otp relay unavailable")

// subscriberBuffer bounds how many values a slow subscriber may lag behind
const subscriberBuffer = 8

// Topic returns the relay channel name for a device
func Topic(deviceID string) string {
	return "otp_channel_" + deviceID
}

// NewRelay creates the backend selected in config. client is only used by the
// redis backend and may be nil otherwise.
func NewRelay(config *common.RelayConfig, client *redis.Client, logger arbor.ILogger) (interfaces.OTPRelay, error) {
	switch config.Backend {
	case "", "memory":
		return NewMemoryRelay(logger), nil
	case "redis":
		if client == nil {
			return nil, fmt.Errorf("%w: redis backend selected without a client", ErrRelay)
		}
		return NewRedisRelay(client, logger), nil
	default:
		return nil, fmt.Errorf("unsupported relay backend: %s", config.Backend)
	}
}
