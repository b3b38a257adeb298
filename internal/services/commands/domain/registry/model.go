package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/louisbranch/sitesync/internal/services/commands/domain/command"
	"github.com/louisbranch/sitesync/internal/services/commands/storage"
)

// controlKeys are engine-level payload keys never stored in entity data.
var controlKeys = []string{
	command.PayloadID,
	command.PayloadLocalID,
	command.PayloadParentLocalID,
	command.PayloadExpectedVersion,
}

// Model is the generic ModelAccessor backed by storage.EntityStore.
type Model struct {
	entityType  command.EntityType
	parentField string
	now         func() time.Time
}

// NewModel builds a model for entityType. parentField may be empty.
func NewModel(entityType command.EntityType, parentField string) *Model {
	return &Model{
		entityType:  entityType,
		parentField: strings.TrimSpace(parentField),
		now:         time.Now,
	}
}

// EntityType returns the type this model persists.
func (m *Model) EntityType() command.EntityType {
	return m.entityType
}

// Create inserts a new entity from data.
func (m *Model) Create(ctx context.Context, store storage.EntityStore, scope Scope, data command.Payload) (storage.Entity, error) {
	if store == nil {
		return storage.Entity{}, fmt.Errorf("entity store is required")
	}
	entity := storage.Entity{
		ProjectID: scope.ProjectID,
		Type:      m.entityType,
		LocalID:   data.String(command.PayloadLocalID),
		Data:      data.Without(controlKeys...),
		CreatedBy: scope.UserID,
	}
	if m.parentField != "" {
		entity.ParentID = data.String(m.parentField)
	}
	created, err := store.CreateEntity(ctx, entity)
	if err != nil {
		return storage.Entity{}, fmt.Errorf("create %s: %w", m.entityType, err)
	}
	return created, nil
}

// Update merges data into the live entity. Nil values remove keys.
func (m *Model) Update(ctx context.Context, store storage.EntityStore, scope Scope, id string, data command.Payload) (storage.Entity, error) {
	current, err := m.Get(ctx, store, scope, id)
	if err != nil {
		return storage.Entity{}, err
	}
	merged := current.Data.Clone()
	if merged == nil {
		merged = command.Payload{}
	}
	for key, value := range data.Without(controlKeys...) {
		if value == nil {
			delete(merged, key)
			continue
		}
		merged[key] = value
	}
	current.Data = merged
	if m.parentField != "" && data.Has(m.parentField) {
		current.ParentID = data.String(m.parentField)
	}
	updated, err := store.UpdateEntity(ctx, current)
	if err != nil {
		if errors.Is(err, storage.ErrVersionMismatch) {
			return storage.Entity{}, command.Conflict("%s %s changed concurrently", m.entityType, id)
		}
		return storage.Entity{}, fmt.Errorf("update %s: %w", m.entityType, err)
	}
	return updated, nil
}

// Delete soft-deletes a live entity.
func (m *Model) Delete(ctx context.Context, store storage.EntityStore, scope Scope, id string) (storage.Entity, error) {
	if _, err := m.Get(ctx, store, scope, id); err != nil {
		return storage.Entity{}, err
	}
	deletedAt := m.now().UTC()
	entity, err := store.SetEntityDeleted(ctx, scope.ProjectID, m.entityType, id, &deletedAt)
	if err != nil {
		return storage.Entity{}, fmt.Errorf("delete %s: %w", m.entityType, err)
	}
	return entity, nil
}

// Restore clears deleted_at. Restoring a live entity is a no-op.
func (m *Model) Restore(ctx context.Context, store storage.EntityStore, scope Scope, id string) (storage.Entity, error) {
	if store == nil {
		return storage.Entity{}, fmt.Errorf("entity store is required")
	}
	current, err := store.GetEntity(ctx, scope.ProjectID, m.entityType, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Entity{}, fmt.Errorf("%s %s: %w", m.entityType, id, command.ErrEntityNotFound)
		}
		return storage.Entity{}, fmt.Errorf("get %s: %w", m.entityType, err)
	}
	if !current.Deleted() {
		return current, nil
	}
	entity, err := store.SetEntityDeleted(ctx, scope.ProjectID, m.entityType, id, nil)
	if err != nil {
		return storage.Entity{}, fmt.Errorf("restore %s: %w", m.entityType, err)
	}
	return entity, nil
}

// Get returns the live entity with id.
func (m *Model) Get(ctx context.Context, reader storage.EntityReader, scope Scope, id string) (storage.Entity, error) {
	if reader == nil {
		return storage.Entity{}, fmt.Errorf("entity store is required")
	}
	id = strings.TrimSpace(id)
	if id == "" {
		return storage.Entity{}, command.Invalid(command.PayloadID, "is required")
	}
	entity, err := reader.GetEntity(ctx, scope.ProjectID, m.entityType, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Entity{}, fmt.Errorf("%s %s: %w", m.entityType, id, command.ErrEntityNotFound)
		}
		return storage.Entity{}, fmt.Errorf("get %s: %w", m.entityType, err)
	}
	if entity.Deleted() {
		return storage.Entity{}, fmt.Errorf("%s %s is deleted: %w", m.entityType, id, command.ErrEntityNotFound)
	}
	return entity, nil
}

// FindByLocalID looks up the earliest-created live entity with localID.
func (m *Model) FindByLocalID(ctx context.Context, reader storage.EntityReader, scope Scope, localID string) (storage.Entity, bool, error) {
	if reader == nil {
		return storage.Entity{}, false, fmt.Errorf("entity store is required")
	}
	localID = strings.TrimSpace(localID)
	if localID == "" {
		return storage.Entity{}, false, nil
	}
	entity, err := reader.FindEntityByLocalID(ctx, scope.ProjectID, m.entityType, localID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return storage.Entity{}, false, nil
		}
		return storage.Entity{}, false, fmt.Errorf("find %s by local id: %w", m.entityType, err)
	}
	return entity, true, nil
}
