package command

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

var (
	// ErrProjectIDRequired indicates a missing project id.
	ErrProjectIDRequired = errors.New("project id is required")
	// ErrUserIDRequired indicates a missing user id.
	ErrUserIDRequired = errors.New("user id is required")
	// ErrEntityTypeRequired indicates a missing entity type.
	ErrEntityTypeRequired = errors.New("entity type is required")
	// ErrOperationRequired indicates a missing operation.
	ErrOperationRequired = errors.New("operation is required")
	// ErrOperationInvalid indicates an operation outside the closed set.
	ErrOperationInvalid = errors.New("operation must be CREATE, UPDATE, DELETE, or RESTORE")
	// ErrStatusTerminal indicates a transition out of a terminal status.
	ErrStatusTerminal = errors.New("command status is terminal")
	// ErrStatusInvalid indicates an unknown status value.
	ErrStatusInvalid = errors.New("command status is invalid")
)

// EntityType identifies which registry entry handles a command.
type EntityType string

const (
	EntityTask         EntityType = "TASK"
	EntityTaskUpdate   EntityType = "TASK_UPDATE"
	EntityIssue        EntityType = "ISSUE"
	EntityIssueComment EntityType = "ISSUE_COMMENT"
	EntityDailyLog     EntityType = "DAILY_LOG"
)

// EntityTypes returns the closed set of entity types the service dispatches.
func EntityTypes() []EntityType {
	return []EntityType{
		EntityTask,
		EntityTaskUpdate,
		EntityIssue,
		EntityIssueComment,
		EntityDailyLog,
	}
}

// Operation is the requested mutation kind.
type Operation string

const (
	OperationCreate  Operation = "CREATE"
	OperationUpdate  Operation = "UPDATE"
	OperationDelete  Operation = "DELETE"
	OperationRestore Operation = "RESTORE"
)

// ParseOperation normalizes and validates an operation value.
func ParseOperation(value string) (Operation, error) {
	normalized := Operation(strings.ToUpper(strings.TrimSpace(value)))
	switch normalized {
	case "":
		return "", ErrOperationRequired
	case OperationCreate, OperationUpdate, OperationDelete, OperationRestore:
		return normalized, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrOperationInvalid, value)
	}
}

// TargetsExisting reports whether the operation addresses an existing entity.
func (o Operation) TargetsExisting() bool {
	return o == OperationUpdate || o == OperationDelete || o == OperationRestore
}

// Status is the command lifecycle state.
type Status string

const (
	StatusPending    Status = "PENDING"
	StatusProcessed  Status = "PROCESSED"
	StatusFailed     Status = "FAILED"
	StatusConflicted Status = "CONFLICTED"
)

// IsTerminal reports whether no further transition is allowed.
func (s Status) IsTerminal() bool {
	return s == StatusProcessed || s == StatusFailed || s == StatusConflicted
}

// ValidateTransition enforces PENDING -> terminal, exactly once.
func ValidateTransition(from, to Status) error {
	switch from {
	case StatusPending:
	case StatusProcessed, StatusFailed, StatusConflicted:
		return fmt.Errorf("%w: %s", ErrStatusTerminal, from)
	default:
		return fmt.Errorf("%w: %q", ErrStatusInvalid, from)
	}
	if !to.IsTerminal() {
		return fmt.Errorf("%w: cannot move %s to %q", ErrStatusInvalid, from, to)
	}
	return nil
}

// FailReason is the reduced failure code surfaced to clients.
type FailReason string

const (
	FailReasonNone                FailReason = ""
	FailReasonInvalidEntity       FailReason = "INVALID_ENTITY"
	FailReasonMissingParentEntity FailReason = "MISSING_PARENT_ENTITY"
	FailReasonValidationError     FailReason = "VALIDATION_ERROR"
	FailReasonInternalError       FailReason = "INTERNAL_ERROR"
	FailReasonNonRestorableEntity FailReason = "NON_RESTORABLE_ENTITY"
	FailReasonEntityNotFound      FailReason = "ENTITY_NOT_FOUND"
	FailReasonConflict            FailReason = "CONFLICT"
)

// Request is one client-submitted command before persistence.
type Request struct {
	EntityType              EntityType
	Operation               Operation
	Payload                 Payload
	RelatedEntitiesLocalIDs map[string]string
}

// Normalize validates the envelope shape and returns a canonical copy.
//
// Unknown entity types pass: they are persisted and fail asynchronously with
// INVALID_ENTITY so submission order is preserved.
func (r Request) Normalize() (Request, error) {
	r.EntityType = EntityType(strings.ToUpper(strings.TrimSpace(string(r.EntityType))))
	if r.EntityType == "" {
		return Request{}, ErrEntityTypeRequired
	}
	op, err := ParseOperation(string(r.Operation))
	if err != nil {
		return Request{}, err
	}
	r.Operation = op
	r.Payload = r.Payload.Clone()
	if r.Payload == nil {
		r.Payload = Payload{}
	}
	related := make(map[string]string, len(r.RelatedEntitiesLocalIDs))
	for role, localID := range r.RelatedEntitiesLocalIDs {
		role = strings.TrimSpace(role)
		localID = strings.TrimSpace(localID)
		if role == "" || localID == "" {
			continue
		}
		related[role] = localID
	}
	r.RelatedEntitiesLocalIDs = related
	return r, nil
}

// Command is the persisted unit of work and its outcome.
type Command struct {
	ID                      string
	Seq                     int64
	ProjectID               string
	UserID                  string
	EntityType              EntityType
	Operation               Operation
	Payload                 Payload
	RelatedEntitiesLocalIDs map[string]string
	Status                  Status
	FailReason              FailReason
	CorrelationID           string
	// EntityID is the server id of the entity the command created or touched.
	EntityID  string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// LocalID returns payload.local_id, the key clients poll by.
func (c Command) LocalID() string {
	return c.Payload.String(PayloadLocalID)
}

// RelatedRoles returns the related local-id roles in sorted order.
func (c Command) RelatedRoles() []string {
	roles := make([]string, 0, len(c.RelatedEntitiesLocalIDs))
	for role := range c.RelatedEntitiesLocalIDs {
		roles = append(roles, role)
	}
	sort.Strings(roles)
	return roles
}

// Outcome is the terminal result recorded for one command.
type Outcome struct {
	Status        Status
	FailReason    FailReason
	CorrelationID string
	EntityID      string
}

// Processed builds a successful outcome.
func Processed(entityID string) Outcome {
	return Outcome{Status: StatusProcessed, EntityID: entityID}
}

// Failed builds a failed outcome with a reason code.
func Failed(reason FailReason) Outcome {
	return Outcome{Status: StatusFailed, FailReason: reason}
}
