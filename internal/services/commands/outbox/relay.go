package outbox

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/louisbranch/sitesync/internal/platform/logging"
	"github.com/louisbranch/sitesync/internal/services/commands/storage"
	log "github.com/sirupsen/logrus"
)

const (
	defaultPollInterval  = time.Second
	defaultBatchSize     = 50
	defaultMaxAttempts   = 8
	defaultRetryBackoff  = time.Second
	defaultRetryMaxDelay = 5 * time.Minute
	maxLastErrorLength   = 1024
)

// Store is the outbox surface the relay settles rows through.
type Store interface {
	ClaimOutbox(ctx context.Context, now time.Time, limit int) ([]storage.OutboxMessage, error)
	CompleteOutbox(ctx context.Context, id string) error
	RetryOutbox(ctx context.Context, id string, attempt int, nextAttempt time.Time, lastError string, dead bool) error
}

// Publisher delivers one outbox message.
type Publisher interface {
	Publish(ctx context.Context, msg storage.OutboxMessage) error
	Close() error
}

// Config tunes a Relay. Zero values take defaults.
type Config struct {
	PollInterval  time.Duration
	BatchSize     int
	MaxAttempts   int
	RetryBackoff  time.Duration
	RetryMaxDelay time.Duration
	Logger        log.FieldLogger
	Clock         func() time.Time
}

func (c Config) normalized() Config {
	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = defaultMaxAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	if c.RetryMaxDelay < c.RetryBackoff {
		c.RetryMaxDelay = defaultRetryMaxDelay
		if c.RetryMaxDelay < c.RetryBackoff {
			c.RetryMaxDelay = c.RetryBackoff
		}
	}
	if c.Clock == nil {
		c.Clock = time.Now
	}
	c.Logger = logging.OrDiscard(c.Logger)
	return c
}

// Stats summarizes one relay pass.
type Stats struct {
	Claimed   int
	Published int
	Retried   int
	Dead      int
}

// Relay moves outbox rows to a Publisher.
type Relay struct {
	store     Store
	publisher Publisher
	cfg       Config
}

// New builds a relay.
func New(store Store, publisher Publisher, cfg Config) (*Relay, error) {
	if store == nil {
		return nil, fmt.Errorf("outbox store is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("outbox publisher is required")
	}
	return &Relay{store: store, publisher: publisher, cfg: cfg.normalized()}, nil
}

// Run processes due rows every poll interval until ctx is done.
func (r *Relay) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := r.ProcessOnce(ctx); err != nil && ctx.Err() == nil {
			r.cfg.Logger.WithError(err).Warn("outbox relay pass failed")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ProcessOnce claims one batch of due rows and settles each of them.
func (r *Relay) ProcessOnce(ctx context.Context) (Stats, error) {
	var stats Stats
	msgs, err := r.store.ClaimOutbox(ctx, r.cfg.Clock().UTC(), r.cfg.BatchSize)
	if err != nil {
		return stats, fmt.Errorf("claim outbox: %w", err)
	}
	stats.Claimed = len(msgs)

	var errs []error
	for _, msg := range msgs {
		if err := ctx.Err(); err != nil {
			// Unsettled claims are reclaimed once their processing lease lapses.
			return stats, err
		}
		logger := r.cfg.Logger.WithFields(log.Fields{
			"outbox_id":  msg.ID,
			"topic":      msg.Topic,
			"project_id": msg.ProjectID,
			"command_id": msg.CommandID,
		})

		publishErr := r.publisher.Publish(ctx, msg)
		if publishErr == nil {
			if err := r.store.CompleteOutbox(ctx, msg.ID); err != nil {
				errs = append(errs, fmt.Errorf("complete outbox %s: %w", msg.ID, err))
				continue
			}
			stats.Published++
			logger.Debug("outbox message published")
			continue
		}

		attempt := msg.AttemptCount + 1
		dead := attempt >= r.cfg.MaxAttempts
		next := r.cfg.Clock().UTC().Add(r.backoff(attempt))
		if err := r.store.RetryOutbox(ctx, msg.ID, attempt, next, truncate(publishErr.Error()), dead); err != nil {
			errs = append(errs, fmt.Errorf("retry outbox %s: %w", msg.ID, err))
			continue
		}
		logger = logger.WithField("attempt", attempt).WithError(publishErr)
		if dead {
			stats.Dead++
			logger.Error("outbox message dead after max attempts")
			continue
		}
		stats.Retried++
		logger.Warn("outbox publish failed, retry scheduled")
	}
	return stats, errors.Join(errs...)
}

func (r *Relay) backoff(attempt int) time.Duration {
	delay := r.cfg.RetryBackoff
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= r.cfg.RetryMaxDelay {
			return r.cfg.RetryMaxDelay
		}
	}
	return delay
}

func truncate(value string) string {
	if len(value) <= maxLastErrorLength {
		return value
	}
	cut := maxLastErrorLength
	for cut > 0 && !utf8.RuneStart(value[cut]) {
		cut--
	}
	return value[:cut]
}
