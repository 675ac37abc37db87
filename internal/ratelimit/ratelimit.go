// Package ratelimit implements fixed-window request limiting backed either
// by process memory or by a shared Redis store.
package ratelimit

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// Rule allows Limit hits per Window.
type Rule struct {
	Limit  int
	Window time.Duration
}

// Default presets: LINE webhook per IP, API per client, login per IP.
var (
	LineWebhook = Rule{Limit: 100, Window: time.Minute}
	API         = Rule{Limit: 60, Window: time.Minute}
	Auth        = Rule{Limit: 5, Window: time.Minute}
)

type Result struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// Limiter counts a hit for key and reports whether it is within rule.
type Limiter interface {
	Allow(ctx context.Context, key string, rule Rule) (Result, error)
}

func windowStart(now time.Time, window time.Duration) time.Time {
	return now.Truncate(window)
}

func result(count int, rule Rule, reset time.Time) Result {
	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return Result{Allowed: count <= rule.Limit, Limit: rule.Limit, Remaining: remaining, ResetAt: reset}
}

// KeyFunc derives the limiter key of a request. An empty key skips limiting.
type KeyFunc func(*http.Request) string

// ByIP keys requests by client address under scope. trustProxy is passed
// to ClientIP.
func ByIP(scope string, trustProxy bool) KeyFunc {
	return func(r *http.Request) string { return scope + ":" + ClientIP(r, trustProxy) }
}

// ClientIP returns the socket address of r. Proxy headers are only read
// when trustProxy is set, since any client can send them.
func ClientIP(r *http.Request, trustProxy bool) string {
	if trustProxy {
		if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
			return strings.TrimSpace(strings.Split(fwd, ",")[0])
		}
		if ip := r.Header.Get("CF-Connecting-IP"); ip != "" {
			return ip
		}
		if ip := r.Header.Get("X-Real-IP"); ip != "" {
			return ip
		}
	}
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		return host
	}
	if r.RemoteAddr != "" {
		return r.RemoteAddr
	}
	return "unknown"
}

// SetHeaders writes the X-RateLimit-* headers for res.
func SetHeaders(h http.Header, res Result) {
	h.Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(res.ResetAt.Unix(), 10))
}

// Check runs one hit through l. Store errors are logged and the request is
// let through.
func Check(ctx context.Context, l Limiter, log *zap.Logger, key string, rule Rule) Result {
	res, err := l.Allow(ctx, key, rule)
	if err != nil {
		if log != nil {
			log.Warn("rate limit store failed, allowing", zap.String("key", key), zap.Error(err))
		}
		return Result{Allowed: true, Limit: rule.Limit, Remaining: rule.Limit, ResetAt: time.Now().Add(rule.Window)}
	}
	return res
}

// Middleware rejects requests over rule with 429.
func Middleware(l Limiter, rule Rule, key KeyFunc, log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if k == "" || l == nil {
				next.ServeHTTP(w, r)
				return
			}
			res := Check(r.Context(), l, log, k, rule)
			SetHeaders(w.Header(), res)
			if !res.Allowed {
				retry := int(time.Until(res.ResetAt).Seconds())
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				w.Write([]byte(`{"error":{"code":"rate_limited","message":"too many requests"}}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
