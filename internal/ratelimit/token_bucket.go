package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

// Bucket is a refill rate plus a burst capacity. The zero value disables
// limiting.
type Bucket struct {
	RequestsPerMinute int
	BurstSize         int
}

func (b Bucket) Enabled() bool {
	return b.RequestsPerMinute > 0 && b.BurstSize > 0
}

// stateTTL keeps idle bucket state for two full refills, clamped to [30s, 1h].
func (b Bucket) stateTTL() time.Duration {
	refill := time.Duration(float64(b.BurstSize)/float64(b.RequestsPerMinute)*float64(time.Minute)) * 2
	switch {
	case refill < 30*time.Second:
		return 30 * time.Second
	case refill > time.Hour:
		return time.Hour
	}
	return refill
}

type Decision struct {
	Allowed bool
	// Remaining is the number of whole tokens left after this decision.
	Remaining  int
	RetryAfter time.Duration
}

type Limiter interface {
	Allow(ctx context.Context, scope string, subject string, bucket Bucket) (Decision, error)
}

type Option func(*TokenBucketLimiter)

func WithKeyPrefix(prefix string) Option {
	return func(l *TokenBucketLimiter) {
		if p := strings.TrimSpace(prefix); p != "" {
			l.prefix = p
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(l *TokenBucketLimiter) {
		if now != nil {
			l.now = now
		}
	}
}

// TokenBucketLimiter keeps one bucket per (scope, subject) as a Redis hash.
// Subjects are client addresses and only their digest reaches Redis.
type TokenBucketLimiter struct {
	rdb    *redis.Client
	prefix string
	now    func() time.Time
}

func NewTokenBucketLimiter(rdb *redis.Client, opts ...Option) *TokenBucketLimiter {
	l := &TokenBucketLimiter{rdb: rdb, prefix: "gdtrelay:rl", now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *TokenBucketLimiter) key(scope, subject string) string {
	sum := sha256.Sum256([]byte(subject))
	return l.prefix + ":" + scope + ":" + hex.EncodeToString(sum[:12])
}

// KEYS[1] bucket hash. ARGV: requests per minute, burst, now ms, state ttl ms.
// Tokens are kept in 1/60000 units so refill stays integral per millisecond.
// Returns {allowed, remaining whole tokens, wait ms}.
var takeToken = redis.NewScript(`
local rpm = tonumber(ARGV[1])
local cost = 60000
local capacity = tonumber(ARGV[2]) * cost
local now = tonumber(ARGV[3])

local state = redis.call("HMGET", KEYS[1], "tokens", "ts")
local tokens = tonumber(state[1]) or capacity
local ts = tonumber(state[2]) or now
if now > ts then
  tokens = math.min(capacity, tokens + (now - ts) * rpm)
  ts = now
end

local allowed = 0
local wait_ms = 0
if tokens >= cost then
  allowed = 1
  tokens = tokens - cost
else
  wait_ms = math.floor((cost - tokens + rpm - 1) / rpm)
end

redis.call("HSET", KEYS[1], "tokens", tokens, "ts", ts)
redis.call("PEXPIRE", KEYS[1], ARGV[4])
return {allowed, math.floor(tokens / cost), wait_ms}
`)

func (l *TokenBucketLimiter) Allow(ctx context.Context, scope string, subject string, bucket Bucket) (Decision, error) {
	if l == nil || l.rdb == nil || !bucket.Enabled() {
		return Decision{Allowed: true}, nil
	}
	if scope = strings.TrimSpace(scope); scope == "" {
		scope = "default"
	}
	if subject = strings.TrimSpace(subject); subject == "" {
		subject = "unknown"
	}

	res, err := takeToken.Run(ctx, l.rdb, []string{l.key(scope, subject)},
		bucket.RequestsPerMinute,
		bucket.BurstSize,
		l.now().UnixMilli(),
		bucket.stateTTL().Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("rate limit %s: %w", scope, err)
	}
	if len(res) != 3 {
		return Decision{}, fmt.Errorf("rate limit %s: unexpected reply length %d", scope, len(res))
	}

	dec := Decision{Allowed: res[0] == 1, Remaining: int(res[1])}
	if !dec.Allowed {
		dec.RetryAfter = time.Duration(res[2]) * time.Millisecond
	}
	return dec, nil
}
