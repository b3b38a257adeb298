package app

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/louisbranch/sitesync/internal/platform/timeouts"
	"github.com/louisbranch/sitesync/internal/services/commands/dispatch"
	"github.com/louisbranch/sitesync/internal/services/commands/domain/command"
	"github.com/louisbranch/sitesync/internal/services/commands/outbox"
	"github.com/louisbranch/sitesync/internal/services/commands/storage"
	"github.com/louisbranch/sitesync/internal/services/commands/storage/sqlite"
)

type recordingPublisher struct {
	mu   sync.Mutex
	msgs []storage.OutboxMessage
}

func (p *recordingPublisher) Publish(_ context.Context, msg storage.OutboxMessage) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, msg)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func openTempCommandsStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "commands.db"))
	if err != nil {
		t.Fatalf("open commands store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close commands store: %v", err)
		}
	})
	return store
}

func newTestPipeline(t *testing.T, store *sqlite.Store, publisher outbox.Publisher) *pipeline {
	t.Helper()
	p, err := newPipeline(store, RuntimeConfig{}.normalized(), nil, publisher)
	if err != nil {
		t.Fatalf("new pipeline: %v", err)
	}
	t.Cleanup(p.dispatcher.Close)
	return p
}

func TestRuntimeConfigNormalized(t *testing.T) {
	cfg := RuntimeConfig{}.normalized()
	if cfg.HTTPPort != defaultHTTPPort || cfg.HealthPort != defaultHealthPort {
		t.Fatalf("ports = %d/%d", cfg.HTTPPort, cfg.HealthPort)
	}
	if cfg.DBPath != defaultDBPath {
		t.Fatalf("db path = %q", cfg.DBPath)
	}
	if cfg.CommandTimeout != timeouts.CommandExecution {
		t.Fatalf("command timeout = %s", cfg.CommandTimeout)
	}
	if cfg.Logger == nil {
		t.Fatal("expected discard logger")
	}
}

func TestRun_RejectsSharedPorts(t *testing.T) {
	err := Run(context.Background(), RuntimeConfig{HTTPPort: 9000, HealthPort: 9000, DBPath: filepath.Join(t.TempDir(), "c.db")})
	if err == nil {
		t.Fatal("expected error for shared ports")
	}
}

func TestNewLocker(t *testing.T) {
	locker, closeLocker, err := newLocker(context.Background(), RuntimeConfig{}.normalized())
	if err != nil {
		t.Fatalf("new locker without redis: %v", err)
	}
	if locker != nil {
		t.Fatalf("locker = %T, want nil", locker)
	}
	closeLocker()

	server := miniredis.RunT(t)
	locker, closeLocker, err = newLocker(context.Background(), RuntimeConfig{RedisURL: "redis://" + server.Addr()}.normalized())
	if err != nil {
		t.Fatalf("new redis locker: %v", err)
	}
	defer closeLocker()
	if _, ok := locker.(*dispatch.RedisLocker); !ok {
		t.Fatalf("locker = %T, want *dispatch.RedisLocker", locker)
	}

	if _, _, err := newLocker(context.Background(), RuntimeConfig{RedisURL: "://bad"}.normalized()); err == nil {
		t.Fatal("expected error for malformed redis url")
	}
}

func TestNewPublisher(t *testing.T) {
	publisher, err := newPublisher(RuntimeConfig{}.normalized())
	if err != nil {
		t.Fatalf("new log publisher: %v", err)
	}
	if _, ok := publisher.(*outbox.LogPublisher); !ok {
		t.Fatalf("publisher = %T, want *outbox.LogPublisher", publisher)
	}

	publisher, err = newPublisher(RuntimeConfig{KafkaBrokers: []string{"localhost:9092"}}.normalized())
	if err != nil {
		t.Fatalf("new kafka publisher: %v", err)
	}
	defer publisher.Close()
	if _, ok := publisher.(*outbox.KafkaPublisher); !ok {
		t.Fatalf("publisher = %T, want *outbox.KafkaPublisher", publisher)
	}
}

func TestPipeline_SubmitDrainPublish(t *testing.T) {
	store := openTempCommandsStore(t)
	publisher := &recordingPublisher{}
	p := newTestPipeline(t, store, publisher)
	ctx := context.Background()

	acks, err := p.gateway.Submit(ctx, "p1", "u1", []command.Request{
		{EntityType: "TASK", Operation: "CREATE", Payload: command.Payload{"local_id": "T1", "title": "Frame walls"}},
		{EntityType: "TASK_UPDATE", Operation: "CREATE", Payload: command.Payload{"parent_entity_local_id": "T1", "comment": "north wall up"}},
		{EntityType: "SCAFFOLD", Operation: "CREATE", Payload: command.Payload{}},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	p.dispatcher.Wait()

	want := []struct {
		status command.Status
		reason command.FailReason
	}{
		{command.StatusProcessed, command.FailReasonNone},
		{command.StatusProcessed, command.FailReasonNone},
		{command.StatusFailed, command.FailReasonInvalidEntity},
	}
	for i, ack := range acks {
		got, err := p.gateway.Get(ctx, "p1", ack.CommandID)
		if err != nil {
			t.Fatalf("get %d: %v", i, err)
		}
		if got.Status != want[i].status || got.FailReason != want[i].reason {
			t.Fatalf("command %d = %s/%s, want %s/%s", i, got.Status, got.FailReason, want[i].status, want[i].reason)
		}
	}

	stats, err := p.relay.ProcessOnce(ctx)
	if err != nil {
		t.Fatalf("relay: %v", err)
	}
	if stats.Published != 1 || len(publisher.msgs) != 1 || publisher.msgs[0].Topic != "task.update_posted" {
		t.Fatalf("stats = %+v, published = %+v", stats, publisher.msgs)
	}
}

func TestPipeline_SweepRecoversStoredCommands(t *testing.T) {
	store := openTempCommandsStore(t)
	stored, err := store.AppendCommands(context.Background(), []command.Command{{
		ProjectID:  "p9",
		UserID:     "u1",
		EntityType: command.EntityDailyLog,
		Operation:  command.OperationCreate,
		Payload:    command.Payload{"date": "2026-03-01", "crew_count": 12},
	}})
	if err != nil {
		t.Fatalf("append: %v", err)
	}

	p := newTestPipeline(t, store, &recordingPublisher{})
	if _, err := p.dispatcher.Sweep(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}
	p.dispatcher.Wait()

	got, err := store.GetCommand(context.Background(), "p9", stored[0].ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != command.StatusProcessed || got.EntityID == "" {
		t.Fatalf("command = %s entity %q", got.Status, got.EntityID)
	}
}
