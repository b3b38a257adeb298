package registry

import (
	"context"

	"github.com/louisbranch/sitesync/internal/services/commands/domain/command"
	"github.com/louisbranch/sitesync/internal/services/commands/storage"
)

// Scope carries the tenant and actor a command executes for.
type Scope struct {
	ProjectID string
	UserID    string
}

// ModelAccessor performs entity persistence for one entity type.
type ModelAccessor interface {
	EntityType() command.EntityType
	Create(ctx context.Context, store storage.EntityStore, scope Scope, data command.Payload) (storage.Entity, error)
	Update(ctx context.Context, store storage.EntityStore, scope Scope, id string, data command.Payload) (storage.Entity, error)
	Delete(ctx context.Context, store storage.EntityStore, scope Scope, id string) (storage.Entity, error)
	Restore(ctx context.Context, store storage.EntityStore, scope Scope, id string) (storage.Entity, error)
	// Get returns a live entity or command.ErrEntityNotFound.
	Get(ctx context.Context, reader storage.EntityReader, scope Scope, id string) (storage.Entity, error)
	// FindByLocalID returns the earliest-created live entity with localID.
	FindByLocalID(ctx context.Context, reader storage.EntityReader, scope Scope, localID string) (storage.Entity, bool, error)
}

// Validator checks and normalizes CREATE and UPDATE payloads.
type Validator interface {
	Validate(op command.Operation, data command.Payload) (command.Payload, error)
}

// ValidatorFunc adapts a function to Validator.
type ValidatorFunc func(op command.Operation, data command.Payload) (command.Payload, error)

// Validate calls f.
func (f ValidatorFunc) Validate(op command.Operation, data command.Payload) (command.Payload, error) {
	return f(op, data)
}

// Descriptor is one registry row.
type Descriptor struct {
	EntityType command.EntityType
	Model      ModelAccessor
	Validator  Validator
	// Handler overrides generic dispatch. Nil means Apply.
	Handler BusinessHandler
	// ParentEntityType and ParentField describe the optional parent link:
	// the resolver writes the parent's server id to payload[ParentField].
	ParentEntityType command.EntityType
	ParentField      string
	SupportsRestore  bool
}

// HasParent reports whether commands of this type reference a parent.
func (d Descriptor) HasParent() bool {
	return d.ParentEntityType != ""
}

// UsesCommandContext reports whether the handler receives the full command.
func (d Descriptor) UsesCommandContext() bool {
	return d.Handler != nil && d.Handler.usesCommand()
}

// Dispatch runs the business handler, or generic CRUD when none is set.
func (d Descriptor) Dispatch(ctx context.Context, hc HandlerContext, cmd command.Command) (Result, error) {
	if d.Handler == nil {
		return Apply(ctx, hc)
	}
	return d.Handler.handle(ctx, hc, cmd)
}
