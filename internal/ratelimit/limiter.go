package ratelimit

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrRedisUnavailable  = errors.New("redis unavailable")
)

type Scope string

const (
	ScopeGlobalIP Scope = "ip"
	ScopeService  Scope = "service"
	ScopeEndpoint Scope = "endpoint"
)

type Decision struct {
	Scope      Scope
	Limit      int
	Remaining  int
	Reset      time.Time
	RetryAfter int // seconds
	Allowed    bool
}

type LimitConfig struct {
	Rate   int           `yaml:"rate"`
	Window time.Duration `yaml:"window"`
}

// Limiter is a Redis-backed request counter with windowed expiry. The INCR
// and PEXPIRE run in one script so concurrent callers cannot leave a key
// without a TTL.
type Limiter struct {
	client *redis.Client
	salt   string // keeps hashed IPs stable across restarts
}

func NewLimiter(client *redis.Client, salt string) *Limiter {
	if salt == "" {
		salt = "faceguard-rl"
	}
	return &Limiter{client: client, salt: salt}
}

// HashIP returns a privacy-safe stable hash of the caller's IP.
func (l *Limiter) HashIP(ip string) string {
	hash := sha256.Sum256([]byte(ip + l.salt))
	return hex.EncodeToString(hash[:])
}

var incrScript = redis.NewScript(`
	local current = redis.call("INCR", KEYS[1])
	if tonumber(current) == 1 then
		redis.call("PEXPIRE", KEYS[1], ARGV[1])
	end
	return current
`)

// Check counts one request against key and reports whether it is allowed.
// The window starts at the first request and resets when the key expires.
func (l *Limiter) Check(ctx context.Context, key string, config LimitConfig) (*Decision, error) {
	count, err := incrScript.Run(ctx, l.client, []string{key}, config.Window.Milliseconds()).Int()
	if err != nil {
		return nil, ErrRedisUnavailable
	}

	remaining := config.Rate - count
	if remaining < 0 {
		remaining = 0
	}

	return &Decision{
		Limit:     config.Rate,
		Remaining: remaining,
		// Upper bound; the true reset depends on when the key was created.
		Reset:      time.Now().Add(config.Window),
		RetryAfter: int(config.Window.Seconds()),
		Allowed:    count <= config.Rate,
	}, nil
}
