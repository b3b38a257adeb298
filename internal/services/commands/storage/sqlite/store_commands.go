package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/sitesync/internal/services/commands/domain/command"
	"github.com/louisbranch/sitesync/internal/services/commands/storage"
)

const commandColumns = `seq, id, project_id, user_id, entity_type, operation, payload_json,
	related_local_ids_json, status, fail_reason, correlation_id, entity_id, created_at, updated_at`

// AppendCommands persists commands as PENDING in one transaction. Sequence
// numbers follow slice order.
func (s *Store) AppendCommands(ctx context.Context, cmds []command.Command) ([]command.Command, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if len(cmds) == 0 {
		return []command.Command{}, nil
	}

	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin append tx: %w", err)
	}
	defer tx.Rollback()

	now := s.clock()
	stored := make([]command.Command, 0, len(cmds))
	for _, cmd := range cmds {
		cmd.ID = strings.TrimSpace(cmd.ID)
		if cmd.ID == "" {
			cmd.ID, err = s.newID()
			if err != nil {
				return nil, fmt.Errorf("generate command id: %w", err)
			}
		}
		if strings.TrimSpace(cmd.ProjectID) == "" {
			return nil, fmt.Errorf("command %s: %w", cmd.ID, command.ErrProjectIDRequired)
		}
		payloadJSON, err := encodeJSON(payloadOrEmpty(cmd.Payload))
		if err != nil {
			return nil, fmt.Errorf("encode command %s payload: %w", cmd.ID, err)
		}
		related := cmd.RelatedEntitiesLocalIDs
		if related == nil {
			related = map[string]string{}
		}
		relatedJSON, err := encodeJSON(related)
		if err != nil {
			return nil, fmt.Errorf("encode command %s related ids: %w", cmd.ID, err)
		}
		cmd.Status = command.StatusPending
		cmd.FailReason = command.FailReasonNone
		cmd.CorrelationID = ""
		cmd.EntityID = ""
		cmd.CreatedAt = now
		cmd.UpdatedAt = now

		result, err := tx.ExecContext(ctx, `
INSERT INTO commands (
	id, project_id, user_id, entity_type, operation, local_id,
	payload_json, related_local_ids_json, status, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, 'PENDING', ?, ?)
`,
			cmd.ID,
			cmd.ProjectID,
			cmd.UserID,
			string(cmd.EntityType),
			string(cmd.Operation),
			cmd.LocalID(),
			payloadJSON,
			relatedJSON,
			toMillis(now),
			toMillis(now),
		)
		if err != nil {
			return nil, fmt.Errorf("insert command %s: %w", cmd.ID, err)
		}
		seq, err := result.LastInsertId()
		if err != nil {
			return nil, fmt.Errorf("read command %s seq: %w", cmd.ID, err)
		}
		cmd.Seq = seq
		stored = append(stored, cmd)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit append tx: %w", err)
	}
	return stored, nil
}

// GetCommand returns one command within a project.
func (s *Store) GetCommand(ctx context.Context, projectID, commandID string) (command.Command, error) {
	if err := s.ready(ctx); err != nil {
		return command.Command{}, err
	}
	row := s.sqlDB.QueryRowContext(ctx,
		`SELECT `+commandColumns+` FROM commands WHERE project_id = ? AND id = ?`,
		strings.TrimSpace(projectID),
		strings.TrimSpace(commandID),
	)
	cmd, err := scanCommand(row)
	if errors.Is(err, sql.ErrNoRows) {
		return command.Command{}, storage.ErrNotFound
	}
	if err != nil {
		return command.Command{}, fmt.Errorf("get command: %w", err)
	}
	return cmd, nil
}

// ListPendingCommands returns PENDING commands for a project in seq order.
func (s *Store) ListPendingCommands(ctx context.Context, projectID string, limit int) ([]command.Command, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+commandColumns+`
		 FROM commands
		 WHERE status = 'PENDING' AND project_id = ?
		 ORDER BY seq ASC
		 LIMIT ?`,
		strings.TrimSpace(projectID),
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending commands: %w", err)
	}
	return collectCommands(rows)
}

// ListPendingProjects returns project ids holding PENDING commands, ordered by
// their oldest pending command.
func (s *Store) ListPendingProjects(ctx context.Context, limit int) ([]string, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}
	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT project_id, MIN(seq) AS first_seq
		 FROM commands
		 WHERE status = 'PENDING'
		 GROUP BY project_id
		 ORDER BY first_seq ASC
		 LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending projects: %w", err)
	}
	defer rows.Close()

	projects := make([]string, 0, limit)
	for rows.Next() {
		var (
			projectID string
			firstSeq  int64
		)
		if err := rows.Scan(&projectID, &firstSeq); err != nil {
			return nil, fmt.Errorf("scan pending project: %w", err)
		}
		projects = append(projects, projectID)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending projects: %w", err)
	}
	return projects, nil
}

// QueryCommands lists a project's commands with seq greater than afterSeq in
// seq order, optionally filtered by payload local_id.
func (s *Store) QueryCommands(ctx context.Context, projectID string, localIDs []string, afterSeq int64, limit int) ([]command.Command, error) {
	if err := s.ready(ctx); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return nil, fmt.Errorf("limit must be greater than zero")
	}

	args := []any{strings.TrimSpace(projectID), afterSeq}
	filter := ""
	if ids := compactStrings(localIDs); len(ids) > 0 {
		placeholders := make([]string, len(ids))
		for i, localID := range ids {
			placeholders[i] = "?"
			args = append(args, localID)
		}
		filter = " AND local_id IN (" + strings.Join(placeholders, ", ") + ")"
	}
	args = append(args, limit)

	rows, err := s.sqlDB.QueryContext(ctx,
		`SELECT `+commandColumns+`
		 FROM commands
		 WHERE project_id = ? AND seq > ?`+filter+`
		 ORDER BY seq ASC
		 LIMIT ?`,
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("query commands: %w", err)
	}
	return collectCommands(rows)
}

// RecordOutcome writes a terminal outcome outside any command transaction.
func (s *Store) RecordOutcome(ctx context.Context, commandID string, outcome command.Outcome) error {
	if err := s.ready(ctx); err != nil {
		return err
	}
	return recordOutcome(ctx, s.sqlDB, s.clock(), commandID, outcome)
}

func recordOutcome(ctx context.Context, q queryer, now time.Time, commandID string, outcome command.Outcome) error {
	commandID = strings.TrimSpace(commandID)
	if commandID == "" {
		return fmt.Errorf("command id is required")
	}
	if err := command.ValidateTransition(command.StatusPending, outcome.Status); err != nil {
		return err
	}
	result, err := q.ExecContext(ctx, `
UPDATE commands
SET status = ?, fail_reason = ?, correlation_id = ?, entity_id = ?, updated_at = ?
WHERE id = ? AND status = 'PENDING'
`,
		string(outcome.Status),
		string(outcome.FailReason),
		outcome.CorrelationID,
		outcome.EntityID,
		toMillis(now),
		commandID,
	)
	if err != nil {
		return fmt.Errorf("record outcome for %s: %w", commandID, err)
	}
	updated, err := ensureSingleRow(result, "record outcome")
	if err != nil {
		return err
	}
	if updated {
		return nil
	}

	var status string
	err = q.QueryRowContext(ctx, `SELECT status FROM commands WHERE id = ?`, commandID).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("inspect command %s status: %w", commandID, err)
	}
	return fmt.Errorf("command %s is %s: %w", commandID, status, storage.ErrAlreadyTerminal)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCommand(row rowScanner) (command.Command, error) {
	var (
		cmd         command.Command
		entityType  string
		operation   string
		payloadJSON string
		relatedJSON string
		status      string
		failReason  string
		createdAt   int64
		updatedAt   int64
	)
	if err := row.Scan(
		&cmd.Seq,
		&cmd.ID,
		&cmd.ProjectID,
		&cmd.UserID,
		&entityType,
		&operation,
		&payloadJSON,
		&relatedJSON,
		&status,
		&failReason,
		&cmd.CorrelationID,
		&cmd.EntityID,
		&createdAt,
		&updatedAt,
	); err != nil {
		return command.Command{}, err
	}
	cmd.EntityType = command.EntityType(entityType)
	cmd.Operation = command.Operation(operation)
	cmd.Status = command.Status(status)
	cmd.FailReason = command.FailReason(failReason)
	cmd.CreatedAt = fromMillis(createdAt)
	cmd.UpdatedAt = fromMillis(updatedAt)
	cmd.Payload = command.Payload{}
	if err := decodeJSON(payloadJSON, &cmd.Payload); err != nil {
		return command.Command{}, fmt.Errorf("decode command %s payload: %w", cmd.ID, err)
	}
	cmd.RelatedEntitiesLocalIDs = map[string]string{}
	if err := decodeJSON(relatedJSON, &cmd.RelatedEntitiesLocalIDs); err != nil {
		return command.Command{}, fmt.Errorf("decode command %s related ids: %w", cmd.ID, err)
	}
	return cmd, nil
}

func collectCommands(rows *sql.Rows) ([]command.Command, error) {
	defer rows.Close()
	cmds := make([]command.Command, 0)
	for rows.Next() {
		cmd, err := scanCommand(rows)
		if err != nil {
			return nil, fmt.Errorf("scan command: %w", err)
		}
		cmds = append(cmds, cmd)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate commands: %w", err)
	}
	return cmds, nil
}

func payloadOrEmpty(p command.Payload) command.Payload {
	if p == nil {
		return command.Payload{}
	}
	return p
}

func compactStrings(values []string) []string {
	out := make([]string, 0, len(values))
	seen := make(map[string]struct{}, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
