package registry

import (
	"context"
	"fmt"

	"github.com/louisbranch/sitesync/internal/services/commands/domain/command"
	"github.com/louisbranch/sitesync/internal/services/commands/storage"
)

// Outbox enqueues integration messages that publish after commit.
type Outbox interface {
	Enqueue(ctx context.Context, topic string, payload any) error
}

// HandlerContext is everything a handler may touch while its transaction is open.
type HandlerContext struct {
	Scope     Scope
	Operation command.Operation
	// TargetID is the resolved server id for UPDATE, DELETE, and RESTORE.
	TargetID string
	Data     command.Payload
	Model    ModelAccessor
	Entities storage.EntityStore
	Outbox   Outbox
}

// Result reports the entity a command produced or touched.
type Result struct {
	Entity storage.Entity
}

// BusinessHandler is one of ContextHandler or CommandHandler.
type BusinessHandler interface {
	handle(ctx context.Context, hc HandlerContext, cmd command.Command) (Result, error)
	usesCommand() bool
}

// ContextHandler sees only the handler context.
type ContextHandler func(ctx context.Context, hc HandlerContext) (Result, error)

func (h ContextHandler) handle(ctx context.Context, hc HandlerContext, _ command.Command) (Result, error) {
	return h(ctx, hc)
}

func (ContextHandler) usesCommand() bool { return false }

// CommandHandler additionally sees the originating command.
type CommandHandler func(ctx context.Context, hc HandlerContext, cmd command.Command) (Result, error)

func (h CommandHandler) handle(ctx context.Context, hc HandlerContext, cmd command.Command) (Result, error) {
	return h(ctx, hc, cmd)
}

func (CommandHandler) usesCommand() bool { return true }

// Apply performs the generic model operation for hc.Operation.
func Apply(ctx context.Context, hc HandlerContext) (Result, error) {
	if hc.Model == nil {
		return Result{}, fmt.Errorf("model accessor is required")
	}
	var (
		entity storage.Entity
		err    error
	)
	switch hc.Operation {
	case command.OperationCreate:
		entity, err = hc.Model.Create(ctx, hc.Entities, hc.Scope, hc.Data)
	case command.OperationUpdate:
		entity, err = hc.Model.Update(ctx, hc.Entities, hc.Scope, hc.TargetID, hc.Data)
	case command.OperationDelete:
		entity, err = hc.Model.Delete(ctx, hc.Entities, hc.Scope, hc.TargetID)
	case command.OperationRestore:
		entity, err = hc.Model.Restore(ctx, hc.Entities, hc.Scope, hc.TargetID)
	default:
		return Result{}, fmt.Errorf("unsupported operation %q", hc.Operation)
	}
	if err != nil {
		return Result{}, err
	}
	return Result{Entity: entity}, nil
}

// CheckExpectedVersion returns a conflict when data carries expected_version
// and it differs from current.Version.
func CheckExpectedVersion(current storage.Entity, data command.Payload) error {
	if !data.Has(command.PayloadExpectedVersion) {
		return nil
	}
	expected, ok := data.Int64(command.PayloadExpectedVersion)
	if !ok {
		return command.Invalid(command.PayloadExpectedVersion, "must be an integer")
	}
	if expected != current.Version {
		return command.Conflict("%s %s is at version %d, expected %d", current.Type, current.ID, current.Version, expected)
	}
	return nil
}
