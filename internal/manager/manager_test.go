package manager

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/wilfoa/pybugger-relay/internal/persistence"
)

func newTestManager(t *testing.T, maxSessions int) *Manager {
	t.Helper()
	dir := t.TempDir()
	bps := persistence.NewBreakpointStore(dir)
	store := persistence.NewSessionStore(dir, bps)
	return New(Limits{
		MaxSessions:          maxSessions,
		SessionTimeout:       time.Hour,
		SessionMaxLifetime:   24 * time.Hour,
		OutputBufferMaxBytes: 1 << 16,
		EventQueueMax:        128,
	}, store, bps)
}

func TestCreateRejectsOverCapacity(t *testing.T) {
	m := newTestManager(t, 1)

	if _, err := m.Create("a", "/tmp/a"); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	_, err := m.Create("b", "/tmp/b")
	if err == nil {
		t.Fatal("expected capacity error on second Create")
	}
	merr, ok := err.(*Error)
	if !ok || merr.Kind != ErrCapacity {
		t.Fatalf("expected ErrCapacity, got %v", err)
	}
}

func TestGetUnknownSessionFails(t *testing.T) {
	m := newTestManager(t, 5)
	if _, err := m.Get("sess_nonexistent"); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestTerminateUnregistersSession(t *testing.T) {
	m := newTestManager(t, 5)
	s, err := m.Create("a", "/tmp/a")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := m.Terminate(context.Background(), s.ID); err != nil {
		t.Fatalf("Terminate: %v", err)
	}
	if _, err := m.Get(s.ID); err == nil {
		t.Fatal("expected session to be unregistered after Terminate")
	}
}

func TestListReturnsAllRegisteredSessions(t *testing.T) {
	m := newTestManager(t, 5)
	m.Create("a", "/tmp/a")
	m.Create("b", "/tmp/b")
	if got := m.List(); len(got) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(got))
	}
}

func TestListRecoverableExcludesLiveSessions(t *testing.T) {
	dir := t.TempDir()
	bps := persistence.NewBreakpointStore(dir)
	store := persistence.NewSessionStore(dir, bps)
	m := New(Limits{MaxSessions: 5, OutputBufferMaxBytes: 1 << 16, EventQueueMax: 128}, store, bps)

	s, err := m.Create("a", "/tmp/a")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Simulate a session recorded by a prior process that never got
	// re-registered in memory.
	if err := store.Snapshot(persistence.SessionSummary{ID: "sess_orphan", Name: "b", ProjectRoot: filepath.Join(dir, "b")}); err != nil {
		t.Fatalf("Snapshot: %v", err)
	}

	recoverable, err := m.ListRecoverable()
	if err != nil {
		t.Fatalf("ListRecoverable: %v", err)
	}
	for _, r := range recoverable {
		if r.ID == s.ID {
			t.Fatalf("expected live session %s to be excluded from recoverable list", s.ID)
		}
	}
	found := false
	for _, r := range recoverable {
		if r.ID == "sess_orphan" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected sess_orphan to be reported recoverable")
	}
}

func TestRecoverRegistersSessionInCreatedState(t *testing.T) {
	m := newTestManager(t, 5)

	summary := persistence.SessionSummary{
		ID:          "sess_recovered",
		Name:        "recovered",
		ProjectRoot: "/tmp/recovered",
		Watches:     []string{"x", "y"},
	}
	s, err := m.Recover(summary)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if s.State() != "created" {
		t.Fatalf("expected recovered session in created state, got %s", s.State())
	}
	info := s.GetInfo()
	if len(info.WatchExpressions) != 2 {
		t.Fatalf("expected recovered watches to carry over, got %v", info.WatchExpressions)
	}
	if _, err := m.Get("sess_recovered"); err != nil {
		t.Fatalf("expected recovered session registered live: %v", err)
	}
}

func TestRecoverRejectsAlreadyLiveSession(t *testing.T) {
	m := newTestManager(t, 5)
	s, err := m.Create("a", "/tmp/a")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	_, err = m.Recover(persistence.SessionSummary{ID: s.ID, Name: "a", ProjectRoot: "/tmp/a"})
	if err == nil {
		t.Fatal("expected error recovering an already-live session")
	}
}

func TestCreatePreloadsPersistedBreakpointsForProject(t *testing.T) {
	dir := t.TempDir()
	bps := persistence.NewBreakpointStore(dir)
	store := persistence.NewSessionStore(dir, bps)
	projectRoot := filepath.Join(dir, "proj")

	// Simulate breakpoints set and persisted by a prior relay process for
	// this project, before any new Manager or Session exists in memory.
	if err := bps.UpdateFile(projectRoot, "main.py", []persistence.BreakpointSpec{{SourcePath: "main.py", Line: 10, Enabled: true}}); err != nil {
		t.Fatalf("UpdateFile: %v", err)
	}

	m := New(Limits{MaxSessions: 5, OutputBufferMaxBytes: 1 << 16, EventQueueMax: 128}, store, bps)
	s, err := m.Create("a", projectRoot)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	got := s.GetBreakpoints("main.py")
	if len(got) != 1 || got[0].Line != 10 {
		t.Fatalf("expected a freshly created session to see persisted breakpoints before any launch, got %+v", got)
	}
}

func TestShutdownTerminatesEverySession(t *testing.T) {
	m := newTestManager(t, 5)
	m.Create("a", "/tmp/a")
	m.Create("b", "/tmp/b")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if got := m.List(); len(got) != 0 {
		t.Fatalf("expected no sessions left after shutdown, got %d", len(got))
	}
}
