package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrScript counts a hit and sets the window expiry on first use, in one
// round trip so concurrent instances never race on the counter.
var incrScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return n
`)

// Redis stores windows in a shared Redis so limits hold across instances.
type Redis struct {
	Client redis.UniversalClient
	Prefix string
	Now    func() time.Time
}

// NewRedis connects to url (redis://...) and pings it.
func NewRedis(ctx context.Context, url string) (*Redis, error) {
	options, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(options)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &Redis{Client: client, Prefix: "submit:rl:", Now: time.Now}, nil
}

func (r *Redis) Allow(ctx context.Context, key string, rule Rule) (Result, error) {
	now := time.Now()
	if r.Now != nil {
		now = r.Now()
	}
	start := windowStart(now, rule.Window)
	reset := start.Add(rule.Window)
	redisKey := r.Prefix + key + ":" + strconv.FormatInt(start.UnixMilli(), 10)
	n, err := incrScript.Run(ctx, r.Client, []string{redisKey}, rule.Window.Milliseconds()).Int()
	if err != nil {
		return Result{}, err
	}
	return result(n, rule, reset), nil
}

func (r *Redis) Close() error {
	return r.Client.Close()
}
