package config

// This file defines the Redis client constructor.  Redis backs the session
// registry when SESSION_BACKEND=redis.  Unlike the database, a Redis outage
// at startup is fatal only when Redis is the selected backend, so callers
// decide what to do with the returned error.

import (
	"context"
	"crypto/tls"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// NewRedisClient instantiates a Redis client from RedisConfig.
// REDIS_HOST and REDIS_PORT take precedence over REDIS_ADDR when both are set.
func NewRedisClient(cfg RedisConfig) (*redis.Client, error) {
	addr := cfg.Addr
	if cfg.Host != "" && cfg.Port != "" {
		addr = cfg.Host + ":" + cfg.Port
	}
	var tlsConf *tls.Config
	if cfg.TLS {
		tlsConf = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	client := redis.NewClient(&redis.Options{
		Addr:      addr,
		Password:  cfg.Password,
		DB:        cfg.DB,
		TLSConfig: tlsConf,
	})
	// Ping the server with a short timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return client, nil
}
