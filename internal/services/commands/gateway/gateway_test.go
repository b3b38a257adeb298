package gateway

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	apperrors "github.com/louisbranch/sitesync/internal/platform/errors"
	"github.com/louisbranch/sitesync/internal/services/commands/domain/command"
	"github.com/louisbranch/sitesync/internal/services/commands/storage/sqlite"
)

type recordingNotifier struct {
	mu       sync.Mutex
	projects []string
}

func (n *recordingNotifier) Enqueue(projectID string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.projects = append(n.projects, projectID)
}

type failingStore struct {
	Store
	err error
}

func (f failingStore) AppendCommands(context.Context, []command.Command) ([]command.Command, error) {
	return nil, f.err
}

func (f failingStore) GetCommand(context.Context, string, string) (command.Command, error) {
	return command.Command{}, f.err
}

func openTempStore(t *testing.T) *sqlite.Store {
	t.Helper()
	store, err := sqlite.Open(filepath.Join(t.TempDir(), "commands.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close store: %v", err)
		}
	})
	return store
}

func newGateway(t *testing.T, store Store, notifier Notifier, cfg Config) *Gateway {
	t.Helper()
	gw, err := New(store, notifier, cfg)
	if err != nil {
		t.Fatalf("new gateway: %v", err)
	}
	return gw
}

func taskCreate(localID string) command.Request {
	return command.Request{
		EntityType: "task",
		Operation:  "create",
		Payload:    command.Payload{"local_id": localID, "title": "Pour slab"},
	}
}

func TestNew_RequiresStore(t *testing.T) {
	if _, err := New(nil, nil, Config{}); err == nil {
		t.Fatal("expected error for nil store")
	}
}

func TestSubmit_PersistsInOrderAndNotifies(t *testing.T) {
	store := openTempStore(t)
	notifier := &recordingNotifier{}
	gw := newGateway(t, store, notifier, Config{})

	acks, err := gw.Submit(context.Background(), " p1 ", "u1", []command.Request{
		taskCreate("T1"),
		{EntityType: "SCAFFOLD", Operation: "CREATE", Payload: command.Payload{"local_id": "S1"}},
		taskCreate("T2"),
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if len(acks) != 3 {
		t.Fatalf("acks = %d, want 3", len(acks))
	}
	for i, want := range []string{"T1", "S1", "T2"} {
		if acks[i].LocalID != want || acks[i].Status != command.StatusPending || acks[i].CommandID == "" {
			t.Fatalf("ack %d = %+v", i, acks[i])
		}
	}
	if len(notifier.projects) != 1 || notifier.projects[0] != "p1" {
		t.Fatalf("notified = %v", notifier.projects)
	}

	cmds, err := gw.Query(context.Background(), "p1", nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(cmds) != 3 {
		t.Fatalf("commands = %d, want 3", len(cmds))
	}
	for i := range cmds {
		if cmds[i].ID != acks[i].CommandID {
			t.Fatalf("command %d = %s, want %s", i, cmds[i].ID, acks[i].CommandID)
		}
		if cmds[i].UserID != "u1" {
			t.Fatalf("user id = %q", cmds[i].UserID)
		}
	}
	if cmds[0].EntityType != command.EntityTask || cmds[0].Operation != command.OperationCreate {
		t.Fatalf("normalized envelope = %s %s", cmds[0].EntityType, cmds[0].Operation)
	}
	if !(cmds[0].Seq < cmds[1].Seq && cmds[1].Seq < cmds[2].Seq) {
		t.Fatalf("seqs not increasing: %d %d %d", cmds[0].Seq, cmds[1].Seq, cmds[2].Seq)
	}
}

func TestSubmit_RejectsShapeErrors(t *testing.T) {
	cases := []struct {
		name      string
		projectID string
		userID    string
		reqs      []command.Request
		code      apperrors.Code
	}{
		{name: "missing project", userID: "u1", reqs: []command.Request{taskCreate("T1")}, code: apperrors.CodeProjectIDRequired},
		{name: "missing user", projectID: "p1", reqs: []command.Request{taskCreate("T1")}, code: apperrors.CodeUserIDRequired},
		{name: "empty batch", projectID: "p1", userID: "u1", code: apperrors.CodeBatchEmpty},
		{name: "too large", projectID: "p1", userID: "u1", reqs: []command.Request{taskCreate("1"), taskCreate("2"), taskCreate("3")}, code: apperrors.CodeBatchTooLarge},
		{name: "missing entity type", projectID: "p1", userID: "u1", reqs: []command.Request{taskCreate("T1"), {Operation: "CREATE"}}, code: apperrors.CodeShapeInvalid},
		{name: "bad operation", projectID: "p1", userID: "u1", reqs: []command.Request{{EntityType: "TASK", Operation: "UPSERT"}}, code: apperrors.CodeShapeInvalid},
		{name: "missing operation", projectID: "p1", userID: "u1", reqs: []command.Request{{EntityType: "TASK"}}, code: apperrors.CodeShapeInvalid},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := openTempStore(t)
			notifier := &recordingNotifier{}
			gw := newGateway(t, store, notifier, Config{MaxBatch: 2})

			_, err := gw.Submit(context.Background(), tc.projectID, tc.userID, tc.reqs)
			if got := apperrors.CodeOf(err); got != tc.code {
				t.Fatalf("code = %s, want %s (err %v)", got, tc.code, err)
			}
			if len(notifier.projects) != 0 {
				t.Fatalf("notified on rejected batch: %v", notifier.projects)
			}
			cmds, err := store.QueryCommands(context.Background(), "p1", nil, 0, 10)
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			if len(cmds) != 0 {
				t.Fatalf("rejected batch stored %d commands", len(cmds))
			}
		})
	}
}

func TestSubmit_ShapeErrorNamesIndex(t *testing.T) {
	gw := newGateway(t, openTempStore(t), nil, Config{})
	_, err := gw.Submit(context.Background(), "p1", "u1", []command.Request{taskCreate("T1"), {EntityType: "TASK"}})
	var appErr *apperrors.Error
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *errors.Error, got %T", err)
	}
	if appErr.Metadata["index"] != "1" {
		t.Fatalf("metadata = %v", appErr.Metadata)
	}
	if !errors.Is(err, command.ErrOperationRequired) {
		t.Fatalf("expected cause ErrOperationRequired, got %v", err)
	}
}

func TestSubmit_StoreFailureIsInternal(t *testing.T) {
	notifier := &recordingNotifier{}
	gw := newGateway(t, failingStore{err: errors.New("disk full")}, notifier, Config{})
	_, err := gw.Submit(context.Background(), "p1", "u1", []command.Request{taskCreate("T1")})
	if got := apperrors.CodeOf(err); got != apperrors.CodeInternal {
		t.Fatalf("code = %s, want INTERNAL", got)
	}
	if len(notifier.projects) != 0 {
		t.Fatal("expected no notification when persistence fails")
	}
}

func TestQuery_FiltersByLocalID(t *testing.T) {
	gw := newGateway(t, openTempStore(t), nil, Config{})
	if _, err := gw.Submit(context.Background(), "p1", "u1", []command.Request{taskCreate("T1"), taskCreate("T2"), taskCreate("T1")}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	if _, err := gw.Submit(context.Background(), "p2", "u1", []command.Request{taskCreate("T1")}); err != nil {
		t.Fatalf("submit p2: %v", err)
	}

	cmds, err := gw.Query(context.Background(), "p1", []string{"T1"})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(cmds) != 2 {
		t.Fatalf("commands = %d, want 2", len(cmds))
	}
	for _, cmd := range cmds {
		if cmd.ProjectID != "p1" || cmd.LocalID() != "T1" {
			t.Fatalf("unexpected command %+v", cmd)
		}
	}

	if _, err := gw.Query(context.Background(), "", nil); apperrors.CodeOf(err) != apperrors.CodeProjectIDRequired {
		t.Fatalf("query without project = %v", err)
	}
}

func TestGet(t *testing.T) {
	gw := newGateway(t, openTempStore(t), nil, Config{})
	acks, err := gw.Submit(context.Background(), "p1", "u1", []command.Request{taskCreate("T1")})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	cmd, err := gw.Get(context.Background(), "p1", acks[0].CommandID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if cmd.Status != command.StatusPending {
		t.Fatalf("status = %s", cmd.Status)
	}

	if _, err := gw.Get(context.Background(), "p2", acks[0].CommandID); !errors.Is(err, ErrCommandNotFound) {
		t.Fatalf("get from other project = %v, want not found", err)
	}
	if _, err := gw.Get(context.Background(), "p1", "missing"); apperrors.CodeOf(err) != apperrors.CodeNotFound {
		t.Fatalf("get missing = %v", err)
	}
	if _, err := newGateway(t, failingStore{err: errors.New("io")}, nil, Config{}).Get(context.Background(), "p1", "x"); apperrors.CodeOf(err) != apperrors.CodeInternal {
		t.Fatalf("get with store failure = %v", err)
	}
}

func TestQuery_ReturnsEveryCommandPastQueryLimit(t *testing.T) {
	gw := newGateway(t, openTempStore(t), nil, Config{MaxBatch: 4, QueryLimit: 3})
	var acks []Ack
	for batch := 0; batch < 3; batch++ {
		reqs := make([]command.Request, 4)
		for i := range reqs {
			reqs[i] = taskCreate(fmt.Sprintf("T%d-%d", batch, i))
		}
		got, err := gw.Submit(context.Background(), "p1", "u1", reqs)
		if err != nil {
			t.Fatalf("submit batch %d: %v", batch, err)
		}
		acks = append(acks, got...)
	}

	cmds, err := gw.Query(context.Background(), "p1", nil)
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(cmds) != len(acks) {
		t.Fatalf("commands = %d, want %d", len(cmds), len(acks))
	}
	if cmds[len(cmds)-1].ID != acks[len(acks)-1].CommandID {
		t.Fatalf("newest command = %s, want %s", cmds[len(cmds)-1].ID, acks[len(acks)-1].CommandID)
	}
}

func TestQueryPage_Cursor(t *testing.T) {
	gw := newGateway(t, openTempStore(t), nil, Config{QueryLimit: 10})
	acks, err := gw.Submit(context.Background(), "p1", "u1", []command.Request{taskCreate("T1"), taskCreate("T2"), taskCreate("T3")})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	first, err := gw.QueryPage(context.Background(), "p1", nil, 0, 2)
	if err != nil {
		t.Fatalf("first page: %v", err)
	}
	if len(first.Commands) != 2 || first.NextAfterSeq != first.Commands[1].Seq {
		t.Fatalf("first page = %d commands, next %d", len(first.Commands), first.NextAfterSeq)
	}
	second, err := gw.QueryPage(context.Background(), "p1", nil, first.NextAfterSeq, 2)
	if err != nil {
		t.Fatalf("second page: %v", err)
	}
	if len(second.Commands) != 1 || second.Commands[0].ID != acks[2].CommandID {
		t.Fatalf("second page = %+v", second.Commands)
	}
	if second.NextAfterSeq != 0 {
		t.Fatalf("last page next = %d, want 0", second.NextAfterSeq)
	}

	clamped, err := gw.QueryPage(context.Background(), "p1", nil, 0, 500)
	if err != nil {
		t.Fatalf("clamped page: %v", err)
	}
	if len(clamped.Commands) != 3 || clamped.NextAfterSeq != 0 {
		t.Fatalf("clamped page = %d commands, next %d", len(clamped.Commands), clamped.NextAfterSeq)
	}

	if _, err := gw.QueryPage(context.Background(), "p1", nil, -1, 2); !errors.Is(err, ErrInvalidCursor) {
		t.Fatalf("negative cursor = %v, want ErrInvalidCursor", err)
	}
}
