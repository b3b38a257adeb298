// Package storage declares persistence contracts for the command log, the
// entity store, and the after-commit outbox.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/louisbranch/sitesync/internal/services/commands/domain/command"
)

var (
	// ErrNotFound indicates a requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrAlreadyTerminal indicates an outcome write against a non-PENDING command.
	ErrAlreadyTerminal = errors.New("command already has a terminal status")
	// ErrVersionMismatch indicates an entity write raced a concurrent update.
	ErrVersionMismatch = errors.New("entity version mismatch")
)

// CommandStore persists the append-only command log.
type CommandStore interface {
	// AppendCommands persists PENDING commands atomically in slice order and
	// returns them with assigned sequence numbers.
	AppendCommands(ctx context.Context, cmds []command.Command) ([]command.Command, error)
	GetCommand(ctx context.Context, projectID, commandID string) (command.Command, error)
	// ListPendingCommands returns a project's PENDING commands in sequence order.
	ListPendingCommands(ctx context.Context, projectID string, limit int) ([]command.Command, error)
	// ListPendingProjects returns projects that still hold PENDING commands,
	// oldest first.
	ListPendingProjects(ctx context.Context, limit int) ([]string, error)
	// QueryCommands returns up to limit commands with seq greater than
	// afterSeq, in seq order. A non-empty localIDs keeps only commands whose
	// payload local_id is listed.
	QueryCommands(ctx context.Context, projectID string, localIDs []string, afterSeq int64, limit int) ([]command.Command, error)
	// RecordOutcome writes a terminal outcome for a PENDING command.
	RecordOutcome(ctx context.Context, commandID string, outcome command.Outcome) error
}

// Entity is one persisted domain record owned by a project.
type Entity struct {
	ID        string
	ProjectID string
	Type      command.EntityType
	LocalID   string
	ParentID  string
	Data      command.Payload
	Version   int64
	CreatedBy string
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// Deleted reports whether the entity is soft-deleted.
func (e Entity) Deleted() bool {
	return e.DeletedAt != nil
}

// EntityReader reads entities without mutating them.
type EntityReader interface {
	// GetEntity returns the entity regardless of soft-delete state.
	GetEntity(ctx context.Context, projectID string, entityType command.EntityType, id string) (Entity, error)
	// FindEntityByLocalID returns the earliest-created live entity with the
	// given client local id.
	FindEntityByLocalID(ctx context.Context, projectID string, entityType command.EntityType, localID string) (Entity, error)
}

// EntityStore mutates entities inside a command transaction.
type EntityStore interface {
	EntityReader
	// CreateEntity inserts a new entity at version 1 and returns it with an id.
	CreateEntity(ctx context.Context, entity Entity) (Entity, error)
	// UpdateEntity replaces data and bumps version when the stored version
	// equals entity.Version.
	UpdateEntity(ctx context.Context, entity Entity) (Entity, error)
	// SetEntityDeleted sets or clears deleted_at and bumps version.
	SetEntityDeleted(ctx context.Context, projectID string, entityType command.EntityType, id string, deletedAt *time.Time) (Entity, error)
}

// OutboxMessage is one integration message produced by a committed command.
type OutboxMessage struct {
	ID            string
	ProjectID     string
	CommandID     string
	Topic         string
	Key           string
	Payload       []byte
	Status        string
	AttemptCount  int
	NextAttemptAt time.Time
	LastError     string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Outbox status values.
const (
	OutboxPending    = "pending"
	OutboxProcessing = "processing"
	OutboxFailed     = "failed"
	OutboxDead       = "dead"
)

// OutboxWriter enqueues messages inside a command transaction.
type OutboxWriter interface {
	EnqueueOutbox(ctx context.Context, msg OutboxMessage) error
}

// OutboxStore claims and settles outbox rows for the relay.
type OutboxStore interface {
	ClaimOutbox(ctx context.Context, now time.Time, limit int) ([]OutboxMessage, error)
	CompleteOutbox(ctx context.Context, id string) error
	RetryOutbox(ctx context.Context, id string, attempt int, nextAttempt time.Time, lastError string, dead bool) error
	ListOutbox(ctx context.Context, status string, limit int) ([]OutboxMessage, error)
}

// CommandTx is the transaction scoped to exactly one command.
type CommandTx interface {
	EntityStore
	OutboxWriter
	// RecordOutcome writes the terminal outcome in the same transaction.
	RecordOutcome(ctx context.Context, commandID string, outcome command.Outcome) error
	Commit() error
	Rollback() error
}

// Transactor opens per-command transactions.
type Transactor interface {
	BeginCommandTx(ctx context.Context) (CommandTx, error)
}

// Store is the full persistence surface the service runtime wires.
type Store interface {
	CommandStore
	EntityReader
	OutboxStore
	Transactor
	Close() error
}
