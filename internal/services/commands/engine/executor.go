package engine

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/louisbranch/sitesync/internal/platform/logging"
	"github.com/louisbranch/sitesync/internal/platform/timeouts"
	"github.com/louisbranch/sitesync/internal/services/commands/domain/command"
	"github.com/louisbranch/sitesync/internal/services/commands/domain/registry"
	"github.com/louisbranch/sitesync/internal/services/commands/storage"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	tracerName      = "github.com/louisbranch/sitesync/internal/services/commands/engine"
	spanExecute     = "commands.execute"
	defaultDrainMax = 100
)

// Store is the persistence surface the executor needs.
type Store interface {
	ListPendingCommands(ctx context.Context, projectID string, limit int) ([]command.Command, error)
	RecordOutcome(ctx context.Context, commandID string, outcome command.Outcome) error
	storage.EntityReader
	storage.Transactor
}

// Config tunes an Executor. Zero values take defaults.
type Config struct {
	// Timeout bounds one command's resolution, validation, and transaction.
	Timeout time.Duration
	// DrainBatch is how many PENDING commands are loaded per store query.
	DrainBatch int
	Failures   *FailureRecorder
	Logger     log.FieldLogger
	Tracer     trace.Tracer
}

// Executor drains per-project command queues.
type Executor struct {
	store    Store
	registry *registry.Registry
	resolver *Resolver
	failures *FailureRecorder
	timeout  time.Duration
	batch    int
	logger   log.FieldLogger
	tracer   trace.Tracer
}

// New builds an executor over store and reg.
func New(store Store, reg *registry.Registry, cfg Config) (*Executor, error) {
	if store == nil {
		return nil, fmt.Errorf("command store is required")
	}
	if reg == nil {
		return nil, fmt.Errorf("entity registry is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = timeouts.CommandExecution
	}
	if cfg.DrainBatch <= 0 {
		cfg.DrainBatch = defaultDrainMax
	}
	logger := logging.OrDiscard(cfg.Logger)
	if cfg.Failures == nil {
		cfg.Failures = NewFailureRecorder(MultiSink{NewLogSink(logger), TraceSink{}}, nil, logger)
	}
	if cfg.Tracer == nil {
		cfg.Tracer = otel.Tracer(tracerName)
	}
	return &Executor{
		store:    store,
		registry: reg,
		resolver: NewResolver(reg, store),
		failures: cfg.Failures,
		timeout:  cfg.Timeout,
		batch:    cfg.DrainBatch,
		logger:   logger,
		tracer:   cfg.Tracer,
	}, nil
}

// DrainProject executes the project's PENDING commands in sequence order
// until none remain. It stops between commands when ctx is done.
func (e *Executor) DrainProject(ctx context.Context, projectID string) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		pending, err := e.store.ListPendingCommands(ctx, projectID, e.batch)
		if err != nil {
			return fmt.Errorf("list pending commands for %s: %w", projectID, err)
		}
		if len(pending) == 0 {
			return nil
		}
		for _, cmd := range pending {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := e.Execute(ctx, cmd); err != nil {
				return err
			}
		}
	}
}

// Execute runs one command and records its terminal outcome. The returned
// error is non-nil only when the outcome itself could not be stored; the
// command then stays PENDING for the next drain.
func (e *Executor) Execute(ctx context.Context, cmd command.Command) (command.Outcome, error) {
	ctx, span := e.tracer.Start(ctx, spanExecute, trace.WithAttributes(
		attribute.String("sitesync.project_id", cmd.ProjectID),
		attribute.String("sitesync.command_id", cmd.ID),
		attribute.String("sitesync.entity_type", string(cmd.EntityType)),
		attribute.String("sitesync.operation", string(cmd.Operation)),
	))
	defer span.End()

	started := time.Now()
	outcome, execErr := e.execute(ctx, cmd)
	if errors.Is(execErr, storage.ErrAlreadyTerminal) {
		e.logger.WithField("command_id", cmd.ID).Warn("command settled elsewhere")
		return command.Outcome{}, nil
	}
	if execErr != nil {
		outcome = command.OutcomeFor(execErr)
		if outcome.FailReason == command.FailReasonInternalError {
			outcome.CorrelationID = e.failures.Record(ctx, execErr, cmd)
		}
		// Recorded even when the caller is shutting down.
		if err := e.store.RecordOutcome(context.WithoutCancel(ctx), cmd.ID, outcome); err != nil {
			span.SetStatus(codes.Error, "record outcome failed")
			if errors.Is(err, storage.ErrAlreadyTerminal) {
				e.logger.WithField("command_id", cmd.ID).Warn("command already terminal")
				return outcome, nil
			}
			return outcome, fmt.Errorf("record outcome for %s: %w", cmd.ID, err)
		}
	}

	span.SetAttributes(
		attribute.String("sitesync.status", string(outcome.Status)),
		attribute.String("sitesync.fail_reason", string(outcome.FailReason)),
	)
	if outcome.Status != command.StatusProcessed {
		span.SetStatus(codes.Error, string(outcome.FailReason))
	}

	entry := e.logger.WithFields(log.Fields{
		"project_id":  cmd.ProjectID,
		"command_id":  cmd.ID,
		"entity_type": cmd.EntityType,
		"operation":   cmd.Operation,
		"status":      outcome.Status,
		"duration_ms": time.Since(started).Milliseconds(),
	})
	switch {
	case outcome.Status == command.StatusProcessed:
		entry.WithField("entity_id", outcome.EntityID).Debug("command processed")
	case outcome.FailReason == command.FailReasonInternalError:
		entry.WithField("fail_reason", outcome.FailReason).WithField("correlation_id", outcome.CorrelationID).Warn("command failed")
	default:
		entry.WithField("fail_reason", outcome.FailReason).WithError(execErr).Info("command rejected")
	}
	return outcome, nil
}

func (e *Executor) execute(ctx context.Context, cmd command.Command) (outcome command.Outcome, err error) {
	// Model code runs during parent resolution too, outside apply's recover.
	defer func() {
		if v := recover(); v != nil {
			outcome = command.Outcome{}
			err = &PanicError{Value: v, Stack: debug.Stack()}
		}
	}()

	desc, ok := e.registry.Lookup(cmd.EntityType)
	if !ok {
		return command.Outcome{}, fmt.Errorf("%q: %w", cmd.EntityType, command.ErrInvalidEntity)
	}
	if cmd.Operation == command.OperationRestore && !desc.SupportsRestore {
		return command.Outcome{}, fmt.Errorf("%s: %w", cmd.EntityType, command.ErrNonRestorable)
	}

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()

	payload, err := e.resolver.Resolve(runCtx, desc, cmd)
	if err != nil {
		return command.Outcome{}, err
	}
	return e.apply(runCtx, desc, cmd, payload)
}

// apply owns the command transaction: the PROCESSED outcome commits with the
// entity writes, and every other exit rolls back.
func (e *Executor) apply(ctx context.Context, desc registry.Descriptor, cmd command.Command, payload command.Payload) (outcome command.Outcome, err error) {
	tx, err := e.store.BeginCommandTx(ctx)
	if err != nil {
		return command.Outcome{}, err
	}
	committed := false
	defer func() {
		if v := recover(); v != nil {
			outcome = command.Outcome{}
			err = &PanicError{Value: v, Stack: debug.Stack()}
		}
		if !committed {
			_ = tx.Rollback()
		}
	}()

	scope := registry.Scope{ProjectID: cmd.ProjectID, UserID: cmd.UserID}
	hc := registry.HandlerContext{
		Scope:     scope,
		Operation: cmd.Operation,
		Model:     desc.Model,
		Entities:  tx,
		Outbox:    txOutbox{writer: tx, cmd: cmd},
	}
	if cmd.Operation.TargetsExisting() {
		hc.TargetID, err = e.resolveTarget(ctx, tx, desc, scope, payload)
		if err != nil {
			return command.Outcome{}, err
		}
	}

	hc.Data = payload
	if cmd.Operation == command.OperationCreate || cmd.Operation == command.OperationUpdate {
		hc.Data, err = desc.Validator.Validate(cmd.Operation, payload)
		if err != nil {
			var invalid *command.ValidationError
			if !errors.As(err, &invalid) {
				err = &command.ValidationError{Message: err.Error()}
			}
			return command.Outcome{}, err
		}
	}

	result, err := desc.Dispatch(ctx, hc, cmd)
	if err != nil {
		return command.Outcome{}, err
	}
	if err := ctx.Err(); err != nil {
		return command.Outcome{}, fmt.Errorf("command deadline: %w", err)
	}

	outcome = command.Processed(result.Entity.ID)
	if err := tx.RecordOutcome(ctx, cmd.ID, outcome); err != nil {
		return command.Outcome{}, err
	}
	if err := tx.Commit(); err != nil {
		return command.Outcome{}, fmt.Errorf("commit command tx: %w", err)
	}
	committed = true
	return outcome, nil
}

// resolveTarget returns payload.id, or the live entity matching payload.local_id.
func (e *Executor) resolveTarget(ctx context.Context, reader storage.EntityReader, desc registry.Descriptor, scope registry.Scope, payload command.Payload) (string, error) {
	if target := payload.String(command.PayloadID); target != "" {
		return target, nil
	}
	localID := payload.String(command.PayloadLocalID)
	if localID == "" {
		return "", command.Invalid(command.PayloadID, "is required")
	}
	entity, found, err := desc.Model.FindByLocalID(ctx, reader, scope, localID)
	if err != nil {
		return "", err
	}
	if !found {
		return "", fmt.Errorf("%s with local id %q: %w", desc.EntityType, localID, command.ErrEntityNotFound)
	}
	return entity.ID, nil
}
