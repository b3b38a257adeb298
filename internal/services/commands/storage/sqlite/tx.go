package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/louisbranch/sitesync/internal/services/commands/domain/command"
	"github.com/louisbranch/sitesync/internal/services/commands/storage"
)

const (
	maxBusyRetries = 8
	retryBaseDelay = 10 * time.Millisecond
)

// commandTx scopes entity writes, outbox rows, and the PROCESSED outcome of
// one command to a single SQLite transaction.
type commandTx struct {
	repo
	tx  *sql.Tx
	now func() time.Time
}

var _ storage.CommandTx = (*commandTx)(nil)

// BeginCommandTx opens a write transaction, retrying while SQLite is busy.
func (s *Store) BeginCommandTx(ctx context.Context) (storage.CommandTx, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	for attempt := 0; ; attempt++ {
		tx, err := s.sqlDB.BeginTx(ctx, nil)
		if err == nil {
			return &commandTx{
				repo: repo{q: tx, newID: s.newID, now: s.now},
				tx:   tx,
				now:  s.now,
			}, nil
		}
		if !isSQLiteBusyError(err) || attempt >= maxBusyRetries {
			return nil, fmt.Errorf("begin command tx: %w", err)
		}
		timer := time.NewTimer(time.Duration(attempt+1) * retryBaseDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (t *commandTx) RecordOutcome(ctx context.Context, commandID string, outcome command.Outcome) error {
	return recordOutcome(ctx, t.tx, t.now().UTC(), commandID, outcome)
}

func (t *commandTx) Commit() error {
	return t.tx.Commit()
}

func (t *commandTx) Rollback() error {
	return t.tx.Rollback()
}
