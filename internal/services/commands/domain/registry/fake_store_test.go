package registry

import (
	"context"
	"fmt"
	"time"

	"github.com/louisbranch/sitesync/internal/services/commands/domain/command"
	"github.com/louisbranch/sitesync/internal/services/commands/storage"
)

type fakeEntityStore struct {
	next     int
	entities []storage.Entity
	// staleUpdates forces UpdateEntity to report a version race.
	staleUpdates bool
}

func (s *fakeEntityStore) find(projectID string, entityType command.EntityType, id string) int {
	for i, e := range s.entities {
		if e.ProjectID == projectID && e.Type == entityType && e.ID == id {
			return i
		}
	}
	return -1
}

func (s *fakeEntityStore) GetEntity(_ context.Context, projectID string, entityType command.EntityType, id string) (storage.Entity, error) {
	i := s.find(projectID, entityType, id)
	if i < 0 {
		return storage.Entity{}, storage.ErrNotFound
	}
	return s.entities[i], nil
}

func (s *fakeEntityStore) FindEntityByLocalID(_ context.Context, projectID string, entityType command.EntityType, localID string) (storage.Entity, error) {
	for _, e := range s.entities {
		if e.ProjectID == projectID && e.Type == entityType && e.LocalID == localID && !e.Deleted() {
			return e, nil
		}
	}
	return storage.Entity{}, storage.ErrNotFound
}

func (s *fakeEntityStore) CreateEntity(_ context.Context, entity storage.Entity) (storage.Entity, error) {
	s.next++
	entity.ID = fmt.Sprintf("ent-%d", s.next)
	entity.Version = 1
	entity.CreatedAt = time.Unix(int64(s.next), 0).UTC()
	entity.UpdatedAt = entity.CreatedAt
	s.entities = append(s.entities, entity)
	return entity, nil
}

func (s *fakeEntityStore) UpdateEntity(_ context.Context, entity storage.Entity) (storage.Entity, error) {
	i := s.find(entity.ProjectID, entity.Type, entity.ID)
	if i < 0 {
		return storage.Entity{}, storage.ErrNotFound
	}
	if s.staleUpdates || s.entities[i].Version != entity.Version {
		return storage.Entity{}, storage.ErrVersionMismatch
	}
	entity.Version++
	s.entities[i] = entity
	return entity, nil
}

func (s *fakeEntityStore) SetEntityDeleted(_ context.Context, projectID string, entityType command.EntityType, id string, deletedAt *time.Time) (storage.Entity, error) {
	i := s.find(projectID, entityType, id)
	if i < 0 {
		return storage.Entity{}, storage.ErrNotFound
	}
	s.entities[i].DeletedAt = deletedAt
	s.entities[i].Version++
	return s.entities[i], nil
}
