package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/sitesync/internal/services/commands/storage"
)

// outboxProcessingLease bounds how long a claimed row stays invisible to
// other relays before it is reclaimed.
const outboxProcessingLease = 2 * time.Minute

const outboxColumns = `id, project_id, command_id, topic, msg_key, payload_json, status,
	attempt_count, next_attempt_at, last_error, created_at, updated_at`

func (r repo) EnqueueOutbox(ctx context.Context, msg storage.OutboxMessage) error {
	msg.Topic = strings.TrimSpace(msg.Topic)
	if msg.Topic == "" {
		return fmt.Errorf("outbox topic is required")
	}
	if strings.TrimSpace(msg.ID) == "" {
		newID, err := r.newID()
		if err != nil {
			return fmt.Errorf("generate outbox id: %w", err)
		}
		msg.ID = newID
	}
	now := r.now().UTC()
	if _, err := r.q.ExecContext(ctx, `
INSERT INTO command_outbox (
	id, project_id, command_id, topic, msg_key, payload_json, status,
	attempt_count, next_attempt_at, last_error, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, 'pending', 0, ?, '', ?, ?)
`,
		msg.ID,
		msg.ProjectID,
		msg.CommandID,
		msg.Topic,
		msg.Key,
		string(msg.Payload),
		toMillis(now),
		toMillis(now),
		toMillis(now),
	); err != nil {
		return fmt.Errorf("enqueue outbox: %w", err)
	}
	return nil
}

// ClaimOutbox marks due rows as processing and returns them. Rows stuck in
// processing past the lease are reclaimed.
func (s *Store) ClaimOutbox(ctx context.Context, now time.Time, limit int) ([]storage.OutboxMessage, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []storage.OutboxMessage{}, nil
	}
	if now.IsZero() {
		now = s.clock()
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin outbox claim tx: %w", err)
	}
	defer tx.Rollback()

	staleBefore := now.Add(-outboxProcessingLease)
	rows, err := tx.QueryContext(ctx,
		`SELECT `+outboxColumns+`
		 FROM command_outbox
		 WHERE (status IN ('pending', 'failed') AND next_attempt_at <= ?)
		    OR (status = 'processing' AND updated_at <= ?)
		 ORDER BY next_attempt_at ASC, created_at ASC
		 LIMIT ?`,
		toMillis(now),
		toMillis(staleBefore),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list due outbox rows: %w", err)
	}
	candidates, err := collectOutbox(rows)
	if err != nil {
		return nil, err
	}

	claimed := make([]storage.OutboxMessage, 0, len(candidates))
	for _, candidate := range candidates {
		result, err := tx.ExecContext(ctx, `
UPDATE command_outbox
SET status = 'processing', updated_at = ?
WHERE id = ?
  AND (
	(status IN ('pending', 'failed') AND next_attempt_at <= ?)
	OR (status = 'processing' AND updated_at <= ?)
  )
`,
			toMillis(now),
			candidate.ID,
			toMillis(now),
			toMillis(staleBefore),
		)
		if err != nil {
			return nil, fmt.Errorf("claim outbox row %s: %w", candidate.ID, err)
		}
		ok, err := ensureSingleRow(result, "claim outbox row")
		if err != nil {
			return nil, err
		}
		if ok {
			candidate.Status = storage.OutboxProcessing
			candidate.UpdatedAt = now
			claimed = append(claimed, candidate)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit outbox claim tx: %w", err)
	}
	return claimed, nil
}

// CompleteOutbox removes a delivered row.
func (s *Store) CompleteOutbox(ctx context.Context, messageID string) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	result, err := s.sqlDB.ExecContext(ctx,
		`DELETE FROM command_outbox WHERE id = ? AND status = 'processing'`,
		strings.TrimSpace(messageID),
	)
	if err != nil {
		return fmt.Errorf("complete outbox row %s: %w", messageID, err)
	}
	ok, err := ensureSingleRow(result, "complete outbox row")
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("complete outbox row %s: %w", messageID, storage.ErrNotFound)
	}
	return nil
}

// RetryOutbox records a failed delivery attempt.
func (s *Store) RetryOutbox(ctx context.Context, messageID string, attempt int, nextAttempt time.Time, lastError string, dead bool) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	status := storage.OutboxFailed
	if dead {
		status = storage.OutboxDead
	}
	result, err := s.sqlDB.ExecContext(ctx, `
UPDATE command_outbox
SET status = ?, attempt_count = ?, next_attempt_at = ?, last_error = ?, updated_at = ?
WHERE id = ? AND status = 'processing'
`,
		status,
		attempt,
		toMillis(nextAttempt),
		lastError,
		toMillis(s.clock()),
		strings.TrimSpace(messageID),
	)
	if err != nil {
		return fmt.Errorf("mark outbox retry for row %s: %w", messageID, err)
	}
	ok, err := ensureSingleRow(result, "mark outbox retry")
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("mark outbox retry for row %s: %w", messageID, storage.ErrNotFound)
	}
	return nil
}

// ListOutbox lists outbox rows optionally filtered by status.
func (s *Store) ListOutbox(ctx context.Context, status string, limit int) ([]storage.OutboxMessage, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []storage.OutboxMessage{}, nil
	}
	normalized, err := normalizeOutboxStatus(status)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + outboxColumns + ` FROM command_outbox`
	args := []any{}
	if normalized != "" {
		query += ` WHERE status = ?`
		args = append(args, normalized)
	}
	query += ` ORDER BY created_at ASC, id ASC LIMIT ?`
	args = append(args, limit)

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list outbox rows: %w", err)
	}
	return collectOutbox(rows)
}

func normalizeOutboxStatus(status string) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(status))
	switch normalized {
	case "":
		return "", nil
	case storage.OutboxPending, storage.OutboxProcessing, storage.OutboxFailed, storage.OutboxDead:
		return normalized, nil
	default:
		return "", fmt.Errorf("invalid outbox status %q", status)
	}
}

func collectOutbox(rows *sql.Rows) ([]storage.OutboxMessage, error) {
	defer rows.Close()
	messages := make([]storage.OutboxMessage, 0)
	for rows.Next() {
		var (
			msg         storage.OutboxMessage
			payload     string
			nextAttempt int64
			createdAt   int64
			updatedAt   int64
		)
		if err := rows.Scan(
			&msg.ID,
			&msg.ProjectID,
			&msg.CommandID,
			&msg.Topic,
			&msg.Key,
			&payload,
			&msg.Status,
			&msg.AttemptCount,
			&nextAttempt,
			&msg.LastError,
			&createdAt,
			&updatedAt,
		); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		msg.Payload = []byte(payload)
		msg.NextAttemptAt = fromMillis(nextAttempt)
		msg.CreatedAt = fromMillis(createdAt)
		msg.UpdatedAt = fromMillis(updatedAt)
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox rows: %w", err)
	}
	return messages, nil
}
