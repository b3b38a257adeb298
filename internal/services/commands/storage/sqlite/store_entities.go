package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/sitesync/internal/platform/id"
	"github.com/louisbranch/sitesync/internal/services/commands/domain/command"
	"github.com/louisbranch/sitesync/internal/services/commands/storage"
)

const entityColumns = `id, project_id, entity_type, local_id, parent_id, data_json, version,
	created_by, created_at, updated_at, deleted_at`

// repo runs entity and outbox queries against the store or an open transaction.
type repo struct {
	q     queryer
	newID id.Generator
	now   func() time.Time
}

func (s *Store) entities() repo {
	return repo{q: s.sqlDB, newID: s.newID, now: s.now}
}

// GetEntity returns an entity including soft-deleted ones.
func (s *Store) GetEntity(ctx context.Context, projectID string, entityType command.EntityType, entityID string) (storage.Entity, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Entity{}, err
	}
	return s.entities().GetEntity(ctx, projectID, entityType, entityID)
}

// FindEntityByLocalID returns the earliest-created live entity with localID.
func (s *Store) FindEntityByLocalID(ctx context.Context, projectID string, entityType command.EntityType, localID string) (storage.Entity, error) {
	if err := s.ready(ctx); err != nil {
		return storage.Entity{}, err
	}
	return s.entities().FindEntityByLocalID(ctx, projectID, entityType, localID)
}

func (r repo) GetEntity(ctx context.Context, projectID string, entityType command.EntityType, entityID string) (storage.Entity, error) {
	row := r.q.QueryRowContext(ctx,
		`SELECT `+entityColumns+`
		 FROM entities
		 WHERE project_id = ? AND entity_type = ? AND id = ?`,
		strings.TrimSpace(projectID),
		string(entityType),
		strings.TrimSpace(entityID),
	)
	entity, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Entity{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Entity{}, fmt.Errorf("get entity: %w", err)
	}
	return entity, nil
}

// FindEntityByLocalID breaks ties by insertion order so repeated offline
// submissions of one local id resolve to the first entity created.
func (r repo) FindEntityByLocalID(ctx context.Context, projectID string, entityType command.EntityType, localID string) (storage.Entity, error) {
	localID = strings.TrimSpace(localID)
	if localID == "" {
		return storage.Entity{}, storage.ErrNotFound
	}
	row := r.q.QueryRowContext(ctx,
		`SELECT `+entityColumns+`
		 FROM entities
		 WHERE project_id = ? AND entity_type = ? AND local_id = ? AND deleted_at IS NULL
		 ORDER BY rowid ASC
		 LIMIT 1`,
		strings.TrimSpace(projectID),
		string(entityType),
		localID,
	)
	entity, err := scanEntity(row)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.Entity{}, storage.ErrNotFound
	}
	if err != nil {
		return storage.Entity{}, fmt.Errorf("find entity by local id: %w", err)
	}
	return entity, nil
}

func (r repo) CreateEntity(ctx context.Context, entity storage.Entity) (storage.Entity, error) {
	entity.ProjectID = strings.TrimSpace(entity.ProjectID)
	if entity.ProjectID == "" {
		return storage.Entity{}, fmt.Errorf("project id is required")
	}
	if entity.Type == "" {
		return storage.Entity{}, fmt.Errorf("entity type is required")
	}
	if strings.TrimSpace(entity.ID) == "" {
		newID, err := r.newID()
		if err != nil {
			return storage.Entity{}, fmt.Errorf("generate entity id: %w", err)
		}
		entity.ID = newID
	}
	dataJSON, err := encodeJSON(payloadOrEmpty(entity.Data))
	if err != nil {
		return storage.Entity{}, fmt.Errorf("encode entity data: %w", err)
	}
	now := r.now().UTC()
	entity.Version = 1
	entity.CreatedAt = now
	entity.UpdatedAt = now
	entity.DeletedAt = nil

	if _, err := r.q.ExecContext(ctx, `
INSERT INTO entities (
	id, project_id, entity_type, local_id, parent_id, data_json, version,
	created_by, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, 1, ?, ?, ?)
`,
		entity.ID,
		entity.ProjectID,
		string(entity.Type),
		entity.LocalID,
		entity.ParentID,
		dataJSON,
		entity.CreatedBy,
		toMillis(now),
		toMillis(now),
	); err != nil {
		return storage.Entity{}, fmt.Errorf("insert entity: %w", err)
	}
	return entity, nil
}

func (r repo) UpdateEntity(ctx context.Context, entity storage.Entity) (storage.Entity, error) {
	dataJSON, err := encodeJSON(payloadOrEmpty(entity.Data))
	if err != nil {
		return storage.Entity{}, fmt.Errorf("encode entity data: %w", err)
	}
	result, err := r.q.ExecContext(ctx, `
UPDATE entities
SET parent_id = ?, data_json = ?, version = version + 1, updated_at = ?
WHERE project_id = ? AND entity_type = ? AND id = ? AND version = ?
`,
		entity.ParentID,
		dataJSON,
		toMillis(r.now()),
		entity.ProjectID,
		string(entity.Type),
		entity.ID,
		entity.Version,
	)
	if err != nil {
		return storage.Entity{}, fmt.Errorf("update entity %s: %w", entity.ID, err)
	}
	updated, err := ensureSingleRow(result, "update entity")
	if err != nil {
		return storage.Entity{}, err
	}
	if !updated {
		if _, err := r.GetEntity(ctx, entity.ProjectID, entity.Type, entity.ID); err != nil {
			return storage.Entity{}, err
		}
		return storage.Entity{}, storage.ErrVersionMismatch
	}
	return r.GetEntity(ctx, entity.ProjectID, entity.Type, entity.ID)
}

func (r repo) SetEntityDeleted(ctx context.Context, projectID string, entityType command.EntityType, entityID string, deletedAt *time.Time) (storage.Entity, error) {
	result, err := r.q.ExecContext(ctx, `
UPDATE entities
SET deleted_at = ?, version = version + 1, updated_at = ?
WHERE project_id = ? AND entity_type = ? AND id = ?
`,
		toNullMillis(deletedAt),
		toMillis(r.now()),
		strings.TrimSpace(projectID),
		string(entityType),
		strings.TrimSpace(entityID),
	)
	if err != nil {
		return storage.Entity{}, fmt.Errorf("set entity %s deleted: %w", entityID, err)
	}
	updated, err := ensureSingleRow(result, "set entity deleted")
	if err != nil {
		return storage.Entity{}, err
	}
	if !updated {
		return storage.Entity{}, storage.ErrNotFound
	}
	return r.GetEntity(ctx, projectID, entityType, entityID)
}

func scanEntity(row rowScanner) (storage.Entity, error) {
	var (
		entity     storage.Entity
		entityType string
		dataJSON   string
		createdAt  int64
		updatedAt  int64
		deletedAt  sql.NullInt64
	)
	if err := row.Scan(
		&entity.ID,
		&entity.ProjectID,
		&entityType,
		&entity.LocalID,
		&entity.ParentID,
		&dataJSON,
		&entity.Version,
		&entity.CreatedBy,
		&createdAt,
		&updatedAt,
		&deletedAt,
	); err != nil {
		return storage.Entity{}, err
	}
	entity.Type = command.EntityType(entityType)
	entity.CreatedAt = fromMillis(createdAt)
	entity.UpdatedAt = fromMillis(updatedAt)
	entity.DeletedAt = fromNullMillis(deletedAt)
	entity.Data = command.Payload{}
	if err := decodeJSON(dataJSON, &entity.Data); err != nil {
		return storage.Entity{}, fmt.Errorf("decode entity %s data: %w", entity.ID, err)
	}
	return entity, nil
}
