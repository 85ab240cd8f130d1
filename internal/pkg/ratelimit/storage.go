package ratelimit

import (
	"net"
	"strconv"

	"github.com/gofiber/storage/redis"

	"github.com/keygate-io/keygate/internal/pkg/cache"
	"github.com/keygate-io/keygate/internal/pkg/env"
)

// NewStorage builds the Redis-backed storage for the HTTP rate limiter so
// limits hold across instances. Uses database 1 (usage counters use DB 0).
func NewStorage() *redis.Storage {
	cacheClient := cache.GetClient()
	host := "localhost"
	port := 6379
	password := env.GetEnv("CACHE_PASSWORD", "")
	if cacheClient != nil {
		addr := cacheClient.Options().Addr
		if h, p, err := net.SplitHostPort(addr); err == nil {
			host = h
			if v, err := strconv.Atoi(p); err == nil {
				port = v
			}
		}
		if p := cacheClient.Options().Password; p != "" {
			password = p
		}
	}

	return redis.New(redis.Config{
		Host:     host,
		Port:     port,
		Password: password,
		Database: 1,
		Reset:    false,
	})
}
