package engine

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/louisbranch/sitesync/internal/services/commands/domain/command"
	"github.com/louisbranch/sitesync/internal/services/commands/domain/entities"
	"github.com/louisbranch/sitesync/internal/services/commands/domain/registry"
	"github.com/louisbranch/sitesync/internal/services/commands/storage"
	"github.com/louisbranch/sitesync/internal/services/commands/storage/sqlite"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

const (
	entityBoom  command.EntityType = "BOOM"
	entityFuse  command.EntityType = "FUSE"
	entitySpark command.EntityType = "SPARK"
)

// fuseModel panics on local id lookup, so a SPARK child blows up while its
// parent is being resolved.
type fuseModel struct {
	*registry.Model
}

func (fuseModel) FindByLocalID(context.Context, storage.EntityReader, registry.Scope, string) (storage.Entity, bool, error) {
	panic("local id index corrupted")
}

func passThrough(_ command.Operation, data command.Payload) (command.Payload, error) {
	return data, nil
}

func fuseDescriptors() []registry.Descriptor {
	return []registry.Descriptor{
		{
			EntityType: entityFuse,
			Model:      fuseModel{Model: registry.NewModel(entityFuse, "")},
			Validator:  registry.ValidatorFunc(passThrough),
		},
		{
			EntityType:       entitySpark,
			Model:            registry.NewModel(entitySpark, "fuse"),
			Validator:        registry.ValidatorFunc(passThrough),
			ParentEntityType: entityFuse,
			ParentField:      "fuse",
		},
	}
}

type capturedReports struct {
	mu      sync.Mutex
	reports []Report
}

func (c *capturedReports) Report(_ context.Context, report Report) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reports = append(c.reports, report)
}

func (c *capturedReports) all() []Report {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Report(nil), c.reports...)
}

type harness struct {
	store    *sqlite.Store
	executor *Executor
	reports  *capturedReports
	spans    *tracetest.SpanRecorder
}

// boomDescriptor writes an entity and then fails, or panics when the payload
// asks it to, so tests can observe rollback.
func boomDescriptor() registry.Descriptor {
	return registry.Descriptor{
		EntityType: entityBoom,
		Model:      registry.NewModel(entityBoom, ""),
		Validator: registry.ValidatorFunc(func(_ command.Operation, data command.Payload) (command.Payload, error) {
			return data, nil
		}),
		Handler: registry.ContextHandler(func(ctx context.Context, hc registry.HandlerContext) (registry.Result, error) {
			if _, err := registry.Apply(ctx, hc); err != nil {
				return registry.Result{}, err
			}
			if err := hc.Outbox.Enqueue(ctx, "boom.pending", map[string]any{"ok": false}); err != nil {
				return registry.Result{}, err
			}
			switch {
			case hc.Data["panic"] == true:
				panic("handler exploded")
			case hc.Data["hang"] == true:
				<-ctx.Done()
				return registry.Result{}, ctx.Err()
			}
			return registry.Result{}, errors.New("kaboom")
		}),
	}
}

func newHarness(t *testing.T, timeout time.Duration) *harness {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "commands.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	descriptors := append(entities.Descriptors(), boomDescriptor())
	reg, err := registry.New(append(descriptors, fuseDescriptors()...)...)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}

	reports := &capturedReports{}
	spans := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(spans))
	t.Cleanup(func() { _ = provider.Shutdown(context.Background()) })

	executor, err := New(store, reg, Config{
		Timeout:    timeout,
		DrainBatch: 2,
		Failures:   NewFailureRecorder(MultiSink{reports, TraceSink{}}, nil, nil),
		Tracer:     provider.Tracer("engine-test"),
	})
	if err != nil {
		t.Fatalf("new executor: %v", err)
	}
	return &harness{store: store, executor: executor, reports: reports, spans: spans}
}

func (h *harness) submit(t *testing.T, projectID string, reqs ...command.Command) []command.Command {
	t.Helper()
	for i := range reqs {
		reqs[i].ProjectID = projectID
		if reqs[i].UserID == "" {
			reqs[i].UserID = "user-1"
		}
	}
	stored, err := h.store.AppendCommands(context.Background(), reqs)
	if err != nil {
		t.Fatalf("append commands: %v", err)
	}
	return stored
}

func (h *harness) drain(t *testing.T, projectID string) {
	t.Helper()
	if err := h.executor.DrainProject(context.Background(), projectID); err != nil {
		t.Fatalf("drain %s: %v", projectID, err)
	}
}

func (h *harness) reload(t *testing.T, cmd command.Command) command.Command {
	t.Helper()
	got, err := h.store.GetCommand(context.Background(), cmd.ProjectID, cmd.ID)
	if err != nil {
		t.Fatalf("get command %s: %v", cmd.ID, err)
	}
	return got
}

func cmdOf(entityType command.EntityType, op command.Operation, payload command.Payload) command.Command {
	return command.Command{EntityType: entityType, Operation: op, Payload: payload}
}

func wantOutcome(t *testing.T, got command.Command, status command.Status, reason command.FailReason) {
	t.Helper()
	if got.Status != status || got.FailReason != reason {
		t.Fatalf("command %s (%s %s) = %s/%s, want %s/%s", got.ID, got.EntityType, got.Operation, got.Status, got.FailReason, status, reason)
	}
}
