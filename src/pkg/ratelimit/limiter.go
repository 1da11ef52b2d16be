package ratelimit

import (
	"context"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/twivo/twivo-media/src/pkg/logging"
)

const (
	DefaultKeyPrefix = "ip:limit:"
	DefaultLimit     = 5
	DefaultWindow    = 60 * time.Second
)

type Decision int

const (
	Allowed Decision = iota
	Denied
)

func (d Decision) String() string {
	if d == Denied {
		return "denied"
	}
	return "allowed"
}

// Increment and first-hit expiry run as one script so concurrent callers for
// the same key can never observe a counter without a window.
var admitScript = redis.NewScript(`
local current = redis.call("INCR", KEYS[1])
if current == 1 then
  redis.call("EXPIRE", KEYS[1], ARGV[2])
end
if current > tonumber(ARGV[1]) then
  return 0
end
return 1
`)

type Limiter struct {
	client    redis.Scripter
	prefix    string
	limit     int
	window    time.Duration
	logger    *slog.Logger
	onFailure func(error)
}

type Option func(*Limiter)

func WithKeyPrefix(prefix string) Option {
	return func(l *Limiter) { l.prefix = prefix }
}

func WithLimit(limit int, window time.Duration) Option {
	return func(l *Limiter) {
		l.limit = limit
		l.window = window
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(l *Limiter) { l.logger = logger }
}

// OnStoreError registers a callback invoked whenever the counter store could
// not be reached and the call was admitted anyway.
func OnStoreError(fn func(error)) Option {
	return func(l *Limiter) { l.onFailure = fn }
}

func New(client redis.Scripter, opts ...Option) *Limiter {
	l := &Limiter{
		client: client,
		prefix: DefaultKeyPrefix,
		limit:  DefaultLimit,
		window: DefaultWindow,
		logger: logging.Discard(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit counts one request for key within the current fixed window. Store
// failures admit the request.
func (l *Limiter) Admit(ctx context.Context, key string) Decision {
	seconds := int64(l.window / time.Second)
	if seconds < 1 {
		seconds = 1
	}
	allowed, runErr := admitScript.Run(ctx, l.client, []string{l.prefix + key}, l.limit, seconds).Int()
	if runErr != nil {
		l.logger.Warn("rate limiter store unavailable, admitting request", "key", key, "error", runErr)
		if l.onFailure != nil {
			l.onFailure(runErr)
		}
		return Allowed
	}
	if allowed == 1 {
		return Allowed
	}
	return Denied
}
