// Package gateway accepts command batches and answers outcome queries.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	apperrors "github.com/louisbranch/sitesync/internal/platform/errors"
	"github.com/louisbranch/sitesync/internal/platform/logging"
	"github.com/louisbranch/sitesync/internal/services/commands/domain/command"
	"github.com/louisbranch/sitesync/internal/services/commands/storage"
	log "github.com/sirupsen/logrus"
)

const (
	// DefaultMaxBatch caps one submission.
	DefaultMaxBatch   = 500
	defaultQueryLimit = 1000
)

var (
	ErrProjectIDRequired = apperrors.New(apperrors.CodeProjectIDRequired, "project id is required")
	ErrUserIDRequired    = apperrors.New(apperrors.CodeUserIDRequired, "user id is required")
	ErrBatchEmpty        = apperrors.New(apperrors.CodeBatchEmpty, "batch has no commands")
	ErrCommandNotFound   = apperrors.New(apperrors.CodeNotFound, "command not found")
	ErrInvalidCursor     = apperrors.WithMetadata(apperrors.CodeShapeInvalid, "after_seq must not be negative", map[string]string{"field": "after_seq"})
)

// Store persists and reads command envelopes.
type Store interface {
	AppendCommands(ctx context.Context, cmds []command.Command) ([]command.Command, error)
	GetCommand(ctx context.Context, projectID, commandID string) (command.Command, error)
	QueryCommands(ctx context.Context, projectID string, localIDs []string, afterSeq int64, limit int) ([]command.Command, error)
}

// Notifier is told when a project has new PENDING commands.
type Notifier interface {
	Enqueue(projectID string)
}

// Config tunes a Gateway. Zero values take defaults.
type Config struct {
	MaxBatch   int
	QueryLimit int
	Logger     log.FieldLogger
}

// Ack acknowledges one accepted command.
type Ack struct {
	CommandID string
	LocalID   string
	Status    command.Status
}

// Page is one slice of a project's commands in submission order.
type Page struct {
	Commands []command.Command
	// NextAfterSeq is the cursor for the following page, zero on the last.
	NextAfterSeq int64
}

// Gateway is the synchronous surface of the command pipeline.
type Gateway struct {
	store      Store
	notifier   Notifier
	maxBatch   int
	queryLimit int
	logger     log.FieldLogger
}

// New builds a gateway. notifier may be nil; the dispatcher sweep then picks
// up new work on its next pass.
func New(store Store, notifier Notifier, cfg Config) (*Gateway, error) {
	if store == nil {
		return nil, fmt.Errorf("command store is required")
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = DefaultMaxBatch
	}
	if cfg.QueryLimit <= 0 {
		cfg.QueryLimit = defaultQueryLimit
	}
	return &Gateway{
		store:      store,
		notifier:   notifier,
		maxBatch:   cfg.MaxBatch,
		queryLimit: cfg.QueryLimit,
		logger:     logging.OrDiscard(cfg.Logger),
	}, nil
}

// Submit persists reqs as PENDING commands in order and signals the
// dispatcher. A malformed request rejects the whole batch before anything is
// stored.
func (g *Gateway) Submit(ctx context.Context, projectID, userID string, reqs []command.Request) ([]Ack, error) {
	projectID = strings.TrimSpace(projectID)
	userID = strings.TrimSpace(userID)
	if projectID == "" {
		return nil, ErrProjectIDRequired
	}
	if userID == "" {
		return nil, ErrUserIDRequired
	}
	if len(reqs) == 0 {
		return nil, ErrBatchEmpty
	}
	if len(reqs) > g.maxBatch {
		return nil, apperrors.WithMetadata(apperrors.CodeBatchTooLarge,
			fmt.Sprintf("batch has %d commands, limit is %d", len(reqs), g.maxBatch),
			map[string]string{"limit": strconv.Itoa(g.maxBatch)})
	}

	cmds := make([]command.Command, 0, len(reqs))
	for i, req := range reqs {
		normalized, err := req.Normalize()
		if err != nil {
			return nil, &apperrors.Error{
				Code:     apperrors.CodeShapeInvalid,
				Message:  fmt.Sprintf("command %d: %v", i, err),
				Metadata: map[string]string{"index": strconv.Itoa(i)},
				Cause:    err,
			}
		}
		cmds = append(cmds, command.Command{
			ProjectID:               projectID,
			UserID:                  userID,
			EntityType:              normalized.EntityType,
			Operation:               normalized.Operation,
			Payload:                 normalized.Payload,
			RelatedEntitiesLocalIDs: normalized.RelatedEntitiesLocalIDs,
		})
	}

	stored, err := g.store.AppendCommands(ctx, cmds)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "persist commands", err)
	}
	if g.notifier != nil {
		g.notifier.Enqueue(projectID)
	}
	g.logger.WithFields(log.Fields{
		"project_id": projectID,
		"user_id":    userID,
		"commands":   len(stored),
	}).Debug("commands accepted")

	acks := make([]Ack, len(stored))
	for i, cmd := range stored {
		acks[i] = Ack{CommandID: cmd.ID, LocalID: cmd.LocalID(), Status: cmd.Status}
	}
	return acks, nil
}

// Query returns all of the project's commands in submission order, filtered
// to the given payload local ids when any are supplied.
func (g *Gateway) Query(ctx context.Context, projectID string, localIDs []string) ([]command.Command, error) {
	var (
		all      []command.Command
		afterSeq int64
	)
	for {
		page, err := g.QueryPage(ctx, projectID, localIDs, afterSeq, g.queryLimit)
		if err != nil {
			return nil, err
		}
		all = append(all, page.Commands...)
		if page.NextAfterSeq == 0 {
			return all, nil
		}
		afterSeq = page.NextAfterSeq
	}
}

// QueryPage returns up to limit commands with seq greater than afterSeq. A
// limit outside 1..QueryLimit is clamped to QueryLimit.
func (g *Gateway) QueryPage(ctx context.Context, projectID string, localIDs []string, afterSeq int64, limit int) (Page, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return Page{}, ErrProjectIDRequired
	}
	if afterSeq < 0 {
		return Page{}, ErrInvalidCursor
	}
	if limit <= 0 || limit > g.queryLimit {
		limit = g.queryLimit
	}
	// One extra row tells whether another page exists.
	cmds, err := g.store.QueryCommands(ctx, projectID, localIDs, afterSeq, limit+1)
	if err != nil {
		return Page{}, apperrors.Wrap(apperrors.CodeInternal, "query commands", err)
	}
	page := Page{Commands: cmds}
	if len(cmds) > limit {
		page.Commands = cmds[:limit]
		page.NextAfterSeq = cmds[limit-1].Seq
	}
	return page, nil
}

// Get returns one command of the project.
func (g *Gateway) Get(ctx context.Context, projectID, commandID string) (command.Command, error) {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return command.Command{}, ErrProjectIDRequired
	}
	cmd, err := g.store.GetCommand(ctx, projectID, strings.TrimSpace(commandID))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return command.Command{}, ErrCommandNotFound
		}
		return command.Command{}, apperrors.Wrap(apperrors.CodeInternal, "get command", err)
	}
	return cmd, nil
}
