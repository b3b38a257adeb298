package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/sitesync/internal/platform/id"
	"github.com/louisbranch/sitesync/internal/platform/logging"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
)

const (
	defaultLeaseTTL    = 30 * time.Second
	defaultLeasePrefix = "sitesync:project-lease:"
)

// ErrLeaseLost is returned by Release when the lease expired or was taken.
var ErrLeaseLost = errors.New("project lease lost")

var (
	refreshScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0`)
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0`)
)

// RedisClient is the go-redis surface the locker uses.
type RedisClient interface {
	redis.Scripter
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

// RedisLockerConfig tunes a RedisLocker.
type RedisLockerConfig struct {
	TTL    time.Duration
	Prefix string
	Tokens id.Generator
	Logger log.FieldLogger
}

// RedisLocker holds project leases in Redis so several service instances
// never drain one project at once.
type RedisLocker struct {
	client RedisClient
	ttl    time.Duration
	prefix string
	tokens id.Generator
	logger log.FieldLogger
}

// NewRedisLocker builds a locker over client.
func NewRedisLocker(client RedisClient, cfg RedisLockerConfig) (*RedisLocker, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultLeaseTTL
	}
	if strings.TrimSpace(cfg.Prefix) == "" {
		cfg.Prefix = defaultLeasePrefix
	}
	return &RedisLocker{
		client: client,
		ttl:    cfg.TTL,
		prefix: cfg.Prefix,
		tokens: cfg.Tokens.OrDefault(),
		logger: logging.OrDiscard(cfg.Logger),
	}, nil
}

// TryLock sets the lease key with NX and starts refreshing it every third of
// the TTL until Release.
func (l *RedisLocker) TryLock(ctx context.Context, key string) (Lease, bool, error) {
	token, err := l.tokens()
	if err != nil {
		return nil, false, fmt.Errorf("lease token: %w", err)
	}
	redisKey := l.prefix + key
	ok, err := l.client.SetNX(ctx, redisKey, token, l.ttl).Result()
	if err != nil {
		return nil, false, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, false, nil
	}

	refreshCtx, stop := context.WithCancel(context.WithoutCancel(ctx))
	lease := &redisLease{
		locker:  l,
		key:     redisKey,
		token:   token,
		stop:    stop,
		stopped: make(chan struct{}),
		lost:    make(chan struct{}),
	}
	go lease.refresh(refreshCtx)
	return lease, true, nil
}

type redisLease struct {
	locker   *RedisLocker
	key      string
	token    string
	stop     context.CancelFunc
	stopped  chan struct{}
	lost     chan struct{}
	lostOnce sync.Once
	once     sync.Once
	err      error
}

func (l *redisLease) Done() <-chan struct{} {
	return l.lost
}

func (l *redisLease) markLost() {
	l.lostOnce.Do(func() { close(l.lost) })
}

// refresh extends the key every third of the TTL. The lease counts as lost
// when another token owns the key, or when no refresh succeeded for a full
// TTL.
func (l *redisLease) refresh(ctx context.Context) {
	defer close(l.stopped)
	interval := l.locker.ttl / 3
	if interval <= 0 {
		interval = time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	refreshed := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			kept, err := refreshScript.Run(ctx, l.locker.client, []string{l.key}, l.token, l.locker.ttl.Milliseconds()).Int64()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				logger := l.locker.logger.WithError(err).WithField("lease", l.key)
				if time.Since(refreshed) >= l.locker.ttl {
					logger.Warn("project lease expired without refresh")
					l.markLost()
					return
				}
				logger.Warn("refresh project lease")
				continue
			}
			if kept == 0 {
				l.locker.logger.WithField("lease", l.key).Warn("project lease lost")
				l.markLost()
				return
			}
			refreshed = time.Now()
		}
	}
}

// Release stops the refresh loop and deletes the key if this lease still
// owns it.
func (l *redisLease) Release(ctx context.Context) error {
	l.once.Do(func() {
		l.stop()
		<-l.stopped
		defer l.markLost()
		deleted, err := releaseScript.Run(ctx, l.locker.client, []string{l.key}, l.token).Int64()
		switch {
		case err != nil:
			l.err = fmt.Errorf("release lease %s: %w", l.key, err)
		case deleted == 0:
			l.err = ErrLeaseLost
		}
	})
	return l.err
}
