package sqlite

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/louisbranch/sitesync/internal/services/commands/domain/command"
	"github.com/louisbranch/sitesync/internal/services/commands/storage"
)

func appendOne(t *testing.T, store *Store, cmd command.Command) command.Command {
	t.Helper()
	stored, err := store.AppendCommands(context.Background(), []command.Command{cmd})
	if err != nil {
		t.Fatalf("append command: %v", err)
	}
	return stored[0]
}

func taskCommand(projectID, localID string) command.Command {
	return command.Command{
		ProjectID:  projectID,
		UserID:     "user-1",
		EntityType: command.EntityTask,
		Operation:  command.OperationCreate,
		Payload:    command.Payload{command.PayloadLocalID: localID, "title": "Pour slab"},
	}
}

func TestAppendCommands_AssignsSeqInOrder(t *testing.T) {
	now := time.Date(2026, 3, 4, 8, 0, 0, 0, time.UTC)
	store := openTempStore(t, WithIDGenerator(sequentialIDs("cmd")), WithClock(fixedClock(now)))

	stored, err := store.AppendCommands(context.Background(), []command.Command{
		taskCommand("p1", "a"),
		taskCommand("p1", "b"),
		taskCommand("p1", "c"),
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if len(stored) != 3 {
		t.Fatalf("stored len = %d, want 3", len(stored))
	}
	for i := 1; i < len(stored); i++ {
		if stored[i].Seq <= stored[i-1].Seq {
			t.Fatalf("seq not increasing: %d then %d", stored[i-1].Seq, stored[i].Seq)
		}
	}
	if stored[0].ID != "cmd-1" || stored[0].Status != command.StatusPending {
		t.Fatalf("stored[0] = %+v", stored[0])
	}
	if !stored[0].CreatedAt.Equal(now) {
		t.Fatalf("created at = %v, want %v", stored[0].CreatedAt, now)
	}
}

func TestAppendCommands_RequiresProjectAndIsAtomic(t *testing.T) {
	store := openTempStore(t)
	_, err := store.AppendCommands(context.Background(), []command.Command{
		taskCommand("p1", "a"),
		taskCommand("", "b"),
	})
	if !errors.Is(err, command.ErrProjectIDRequired) {
		t.Fatalf("expected ErrProjectIDRequired, got %v", err)
	}
	pending, err := store.ListPendingCommands(context.Background(), "p1", 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected nothing persisted, got %d", len(pending))
	}
}

func TestGetCommand_RoundTripsPayload(t *testing.T) {
	store := openTempStore(t)
	cmd := taskCommand("p1", "a")
	cmd.Payload["percent"] = 42
	cmd.RelatedEntitiesLocalIDs = map[string]string{"task": "t-1"}
	stored := appendOne(t, store, cmd)

	got, err := store.GetCommand(context.Background(), "p1", stored.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Payload.String("title") != "Pour slab" || got.LocalID() != "a" {
		t.Fatalf("payload = %v", got.Payload)
	}
	if n, ok := got.Payload.Int64("percent"); !ok || n != 42 {
		t.Fatalf("percent = %v", got.Payload["percent"])
	}
	if got.RelatedEntitiesLocalIDs["task"] != "t-1" {
		t.Fatalf("related = %v", got.RelatedEntitiesLocalIDs)
	}
	if _, err := store.GetCommand(context.Background(), "p2", stored.ID); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected not found across projects, got %v", err)
	}
}

func TestListPendingCommands_ScopedAndOrdered(t *testing.T) {
	store := openTempStore(t)
	first := appendOne(t, store, taskCommand("p1", "a"))
	appendOne(t, store, taskCommand("p2", "x"))
	second := appendOne(t, store, taskCommand("p1", "b"))

	if err := store.RecordOutcome(context.Background(), first.ID, command.Processed("ent-1")); err != nil {
		t.Fatalf("record outcome: %v", err)
	}
	third := appendOne(t, store, taskCommand("p1", "c"))

	pending, err := store.ListPendingCommands(context.Background(), "p1", 10)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 2 || pending[0].ID != second.ID || pending[1].ID != third.ID {
		t.Fatalf("pending = %+v", pending)
	}
	limited, err := store.ListPendingCommands(context.Background(), "p1", 1)
	if err != nil {
		t.Fatalf("list limited: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != second.ID {
		t.Fatalf("limited = %+v", limited)
	}
}

func TestListPendingProjects_OldestFirst(t *testing.T) {
	store := openTempStore(t)
	appendOne(t, store, taskCommand("p2", "a"))
	appendOne(t, store, taskCommand("p1", "b"))
	appendOne(t, store, taskCommand("p2", "c"))
	done := appendOne(t, store, taskCommand("p3", "d"))
	if err := store.RecordOutcome(context.Background(), done.ID, command.Failed(command.FailReasonValidationError)); err != nil {
		t.Fatalf("record outcome: %v", err)
	}

	projects, err := store.ListPendingProjects(context.Background(), 10)
	if err != nil {
		t.Fatalf("list projects: %v", err)
	}
	if len(projects) != 2 || projects[0] != "p2" || projects[1] != "p1" {
		t.Fatalf("projects = %v", projects)
	}
}

func TestQueryCommands_FiltersByLocalID(t *testing.T) {
	store := openTempStore(t)
	a := appendOne(t, store, taskCommand("p1", "a"))
	appendOne(t, store, taskCommand("p1", "b"))
	a2 := appendOne(t, store, taskCommand("p1", "a"))
	appendOne(t, store, taskCommand("p2", "a"))

	got, err := store.QueryCommands(context.Background(), "p1", []string{"a", " ", "a"}, 0, 100)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 2 || got[0].ID != a.ID || got[1].ID != a2.ID {
		t.Fatalf("query = %+v", got)
	}
	all, err := store.QueryCommands(context.Background(), "p1", nil, 0, 100)
	if err != nil {
		t.Fatalf("query all: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("all len = %d, want 3", len(all))
	}
}

func TestQueryCommands_AfterSeq(t *testing.T) {
	store := openTempStore(t)
	first := appendOne(t, store, taskCommand("p1", "a"))
	second := appendOne(t, store, taskCommand("p1", "b"))
	third := appendOne(t, store, taskCommand("p1", "a"))

	got, err := store.QueryCommands(context.Background(), "p1", nil, first.Seq, 1)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(got) != 1 || got[0].ID != second.ID {
		t.Fatalf("query after %d = %+v", first.Seq, got)
	}
	got, err = store.QueryCommands(context.Background(), "p1", []string{"a"}, first.Seq, 10)
	if err != nil {
		t.Fatalf("query filtered: %v", err)
	}
	if len(got) != 1 || got[0].ID != third.ID {
		t.Fatalf("filtered query = %+v", got)
	}
	got, err = store.QueryCommands(context.Background(), "p1", nil, third.Seq, 10)
	if err != nil {
		t.Fatalf("query past end: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("query past end = %d commands", len(got))
	}
}

func TestRecordOutcome_ExactlyOnce(t *testing.T) {
	store := openTempStore(t)
	cmd := appendOne(t, store, taskCommand("p1", "a"))
	ctx := context.Background()

	outcome := command.Outcome{
		Status:        command.StatusFailed,
		FailReason:    command.FailReasonInternalError,
		CorrelationID: "corr-1",
	}
	if err := store.RecordOutcome(ctx, cmd.ID, outcome); err != nil {
		t.Fatalf("record outcome: %v", err)
	}
	if err := store.RecordOutcome(ctx, cmd.ID, command.Processed("x")); !errors.Is(err, storage.ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}
	if err := store.RecordOutcome(ctx, "missing", command.Processed("x")); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := store.RecordOutcome(ctx, cmd.ID, command.Outcome{Status: command.StatusPending}); !errors.Is(err, command.ErrStatusInvalid) {
		t.Fatalf("expected ErrStatusInvalid, got %v", err)
	}

	got, err := store.GetCommand(ctx, "p1", cmd.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != command.StatusFailed || got.FailReason != command.FailReasonInternalError || got.CorrelationID != "corr-1" {
		t.Fatalf("command = %+v", got)
	}
}

func TestCommandsAreAppendOnly(t *testing.T) {
	store := openTempStore(t)
	cmd := appendOne(t, store, taskCommand("p1", "a"))
	ctx := context.Background()

	if _, err := store.sqlDB.ExecContext(ctx, `DELETE FROM commands WHERE id = ?`, cmd.ID); err == nil {
		t.Fatal("expected delete to be rejected")
	}
	if err := store.RecordOutcome(ctx, cmd.ID, command.Processed("")); err != nil {
		t.Fatalf("record outcome: %v", err)
	}
	if _, err := store.sqlDB.ExecContext(ctx, `UPDATE commands SET status = 'PENDING' WHERE id = ?`, cmd.ID); err == nil {
		t.Fatal("expected terminal status rewrite to be rejected")
	}
}
