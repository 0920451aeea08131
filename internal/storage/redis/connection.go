// Package redis holds the shared redis client and the redis-backed device lease.
package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/urbix/internal/common"
)

// NewClient opens a client and verifies the server answers
func NewClient(ctx context.Context, config *common.RedisConfig, logger arbor.ILogger) (*goredis.Client, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", config.Addr, err)
	}

	logger.Debug().Str("addr", config.Addr).Int("db", config.DB).Msg("Redis connection established")
	return client, nil
}
