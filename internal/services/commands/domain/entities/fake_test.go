package entities

import (
	"context"
	"fmt"
	"time"

	"github.com/louisbranch/sitesync/internal/services/commands/domain/command"
	"github.com/louisbranch/sitesync/internal/services/commands/storage"
)

type memoryEntities struct {
	items []storage.Entity
}

func (m *memoryEntities) index(projectID string, t command.EntityType, id string) int {
	for i, e := range m.items {
		if e.ProjectID == projectID && e.Type == t && e.ID == id {
			return i
		}
	}
	return -1
}

func (m *memoryEntities) GetEntity(_ context.Context, projectID string, t command.EntityType, id string) (storage.Entity, error) {
	if i := m.index(projectID, t, id); i >= 0 {
		return m.items[i], nil
	}
	return storage.Entity{}, storage.ErrNotFound
}

func (m *memoryEntities) FindEntityByLocalID(_ context.Context, projectID string, t command.EntityType, localID string) (storage.Entity, error) {
	for _, e := range m.items {
		if e.ProjectID == projectID && e.Type == t && e.LocalID == localID && !e.Deleted() {
			return e, nil
		}
	}
	return storage.Entity{}, storage.ErrNotFound
}

func (m *memoryEntities) CreateEntity(_ context.Context, e storage.Entity) (storage.Entity, error) {
	e.ID = fmt.Sprintf("%s-%d", e.Type, len(m.items)+1)
	e.Version = 1
	m.items = append(m.items, e)
	return e, nil
}

func (m *memoryEntities) UpdateEntity(_ context.Context, e storage.Entity) (storage.Entity, error) {
	i := m.index(e.ProjectID, e.Type, e.ID)
	if i < 0 {
		return storage.Entity{}, storage.ErrNotFound
	}
	e.Version++
	m.items[i] = e
	return e, nil
}

func (m *memoryEntities) SetEntityDeleted(_ context.Context, projectID string, t command.EntityType, id string, at *time.Time) (storage.Entity, error) {
	i := m.index(projectID, t, id)
	if i < 0 {
		return storage.Entity{}, storage.ErrNotFound
	}
	m.items[i].DeletedAt = at
	m.items[i].Version++
	return m.items[i], nil
}

type outboxMessage struct {
	topic   string
	payload map[string]any
}

type memoryOutbox struct {
	messages []outboxMessage
}

func (o *memoryOutbox) Enqueue(_ context.Context, topic string, payload any) error {
	body, _ := payload.(map[string]any)
	o.messages = append(o.messages, outboxMessage{topic: topic, payload: body})
	return nil
}
