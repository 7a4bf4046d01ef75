package providers

import (
	"time"

	"github.com/go-redis/redis/v8"
)

// NewRedisProvider returns a client for the shared rate-limit store. Short
// timeouts keep a slow Redis from stalling uploads; the limiter fails open.
func NewRedisProvider(addr, password string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
	})
}
