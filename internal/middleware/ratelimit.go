package middleware

import (
	"errors"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/technosupport/faceguard/internal/ratelimit"
)

type RateLimitMiddleware struct {
	limiter *ratelimit.Limiter
	tokens  TokenValidator
	config  Config
}

type Config struct {
	GlobalIP  ratelimit.LimitConfig            `yaml:"global_ip"`
	Endpoints map[string]ratelimit.LimitConfig `yaml:"endpoints"`
}

func NewRateLimitMiddleware(l *ratelimit.Limiter, t TokenValidator, c Config) *RateLimitMiddleware {
	return &RateLimitMiddleware{limiter: l, tokens: t, config: c}
}

// isInternalService reports whether the caller presents a valid service
// token. Internal traffic bypasses the public rate limits.
func (m *RateLimitMiddleware) isInternalService(r *http.Request) bool {
	if m.tokens == nil {
		return false
	}
	authHeader := r.Header.Get("Authorization")
	if !strings.HasPrefix(authHeader, "Bearer ") {
		return false
	}
	_, err := m.tokens.ValidateToken(strings.TrimPrefix(authHeader, "Bearer "))
	return err == nil
}

func (m *RateLimitMiddleware) GlobalLimiter(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if m.isInternalService(r) {
			next.ServeHTTP(w, r)
			return
		}

		ip := strings.Split(r.RemoteAddr, ":")[0]
		if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
			ip = strings.TrimSpace(strings.Split(xff, ",")[0])
		}
		ipHash := m.limiter.HashIP(ip)

		decision, err := m.limiter.Check(r.Context(), fmt.Sprintf("rl:ip:%s", ipHash), m.config.GlobalIP)
		if errors.Is(err, ratelimit.ErrRedisUnavailable) {
			// Ingest endpoints fail closed; everything else fails open so a
			// Redis outage does not take the read API down with it.
			if strings.HasPrefix(r.URL.Path, "/webhook/") {
				log.Printf("[WARN] Rate limit store down, failing closed for %s", r.URL.Path)
				http.Error(w, "Service Unavailable", http.StatusServiceUnavailable)
				return
			}
			log.Printf("[WARN] Rate limit store down, failing open for %s", r.URL.Path)
			next.ServeHTTP(w, r)
			return
		} else if err != nil {
			log.Printf("[ERROR] Rate limit check: %v", err)
			next.ServeHTTP(w, r)
			return
		}

		if !decision.Allowed {
			writeRateLimitHeaders(w, decision)
			http.Error(w, "Rate limit exceeded", http.StatusTooManyRequests)
			return
		}

		// Per-endpoint tightening on top of the global limit.
		if cfg, found := m.config.Endpoints[r.URL.Path]; found {
			key := fmt.Sprintf("rl:ep:%s:%s", ipHash, r.URL.Path)
			epDecision, err := m.limiter.Check(r.Context(), key, cfg)
			if err == nil && !epDecision.Allowed {
				writeRateLimitHeaders(w, epDecision)
				http.Error(w, "Endpoint rate limit exceeded", http.StatusTooManyRequests)
				return
			}
		}

		next.ServeHTTP(w, r)
	})
}

func writeRateLimitHeaders(w http.ResponseWriter, d *ratelimit.Decision) {
	w.Header().Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
	w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
	w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(d.Reset.Unix(), 10))
	if !d.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(d.RetryAfter))
	}
}
