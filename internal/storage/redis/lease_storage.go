package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/ternarybob/urbix/internal/interfaces"
)

// releaseScript deletes the lease only when the caller still owns it
var releaseScript = goredis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// LeaseStorage implements interfaces.LeaseStorage with SET NX PX keys
type LeaseStorage struct {
	client *goredis.Client
}

// NewLeaseStorage creates a lease store on an existing client
func NewLeaseStorage(client *goredis.Client) interfaces.LeaseStorage {
	return &LeaseStorage{client: client}
}

func leaseKey(deviceID string) string {
	return "urbix:lease:" + deviceID
}

// Acquire takes the device lease for holder
func (s *LeaseStorage) Acquire(ctx context.Context, deviceID, holder string, ttl time.Duration) error {
	ok, err := s.client.SetNX(ctx, leaseKey(deviceID), holder, ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to acquire lease: %w", err)
	}
	if !ok {
		current, err := s.client.Get(ctx, leaseKey(deviceID)).Result()
		if err == nil && current == holder {
			// Re-entrant for the same holder; refresh the expiry
			return s.client.PExpire(ctx, leaseKey(deviceID), ttl).Err()
		}
		return interfaces.ErrLeaseHeld
	}
	return nil
}

// Release drops the lease if holder still owns it
func (s *LeaseStorage) Release(ctx context.Context, deviceID, holder string) error {
	if err := releaseScript.Run(ctx, s.client, []string{leaseKey(deviceID)}, holder).Err(); err != nil && err != goredis.Nil {
		return fmt.Errorf("failed to release lease: %w", err)
	}
	return nil
}
