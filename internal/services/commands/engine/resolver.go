package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/louisbranch/sitesync/internal/services/commands/domain/command"
	"github.com/louisbranch/sitesync/internal/services/commands/domain/registry"
	"github.com/louisbranch/sitesync/internal/services/commands/storage"
)

// Resolver rewrites client-local parent references to server ids.
type Resolver struct {
	registry *registry.Registry
	entities storage.EntityReader
}

// NewResolver builds a resolver over committed entity state.
func NewResolver(reg *registry.Registry, entities storage.EntityReader) *Resolver {
	return &Resolver{registry: reg, entities: entities}
}

// Resolve returns a copy of cmd.Payload with payload[ParentField] set to the
// parent's server id.
//
// Resolution is skipped when the type has no parent, the parent field is
// already set, or no parent local id is supplied. The local id is read from
// parent_entity_local_id, then related_entities_local_ids[ParentField].
func (r *Resolver) Resolve(ctx context.Context, desc registry.Descriptor, cmd command.Command) (command.Payload, error) {
	payload := cmd.Payload.Clone()
	if payload == nil {
		payload = command.Payload{}
	}
	if !desc.HasParent() || payload.Has(desc.ParentField) {
		return payload, nil
	}

	localID := payload.String(command.PayloadParentLocalID)
	if localID == "" {
		localID = strings.TrimSpace(cmd.RelatedEntitiesLocalIDs[desc.ParentField])
	}
	if localID == "" {
		return payload, nil
	}

	parent, ok := r.registry.Parent(desc)
	if !ok {
		return nil, fmt.Errorf("parent descriptor %s for %s is not registered", desc.ParentEntityType, desc.EntityType)
	}
	scope := registry.Scope{ProjectID: cmd.ProjectID, UserID: cmd.UserID}
	entity, found, err := parent.Model.FindByLocalID(ctx, r.entities, scope, localID)
	if err != nil {
		return nil, fmt.Errorf("resolve parent %s: %w", desc.ParentEntityType, err)
	}
	if !found {
		return nil, &command.MissingParentError{ParentType: desc.ParentEntityType, LocalID: localID}
	}
	payload[desc.ParentField] = entity.ID
	return payload, nil
}
