package registry

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/webitel/im-delivery-service/config"
)

// NewRedisClient builds a go-redis client (or cluster client) from
// REDIS_HOST/REDIS_PORT/REDIS_PASSWORD/REDIS_SCHEME/REDIS_CLUSTER.
func NewRedisClient(cfg config.RedisConfig) (redis.UniversalClient, error) {
	addr := cfg.Addr()

	var tlsConfig *tls.Config
	switch cfg.Scheme {
	case "redis", "":
	case "rediss":
		tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	default:
		return nil, fmt.Errorf("registry: unsupported redis scheme %q", cfg.Scheme)
	}

	opts := &redis.UniversalOptions{
		Addrs:        []string{addr},
		Password:     cfg.Password,
		TLSConfig:    tlsConfig,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	}

	if cfg.Cluster {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:        opts.Addrs,
			Password:     opts.Password,
			TLSConfig:    opts.TLSConfig,
			DialTimeout:  opts.DialTimeout,
			ReadTimeout:  opts.ReadTimeout,
			WriteTimeout: opts.WriteTimeout,
		}), nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		TLSConfig:    tlsConfig,
		DialTimeout:  opts.DialTimeout,
		ReadTimeout:  opts.ReadTimeout,
		WriteTimeout: opts.WriteTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("registry: ping redis: %w", err)
	}

	return client, nil
}
