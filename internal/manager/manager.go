// Package manager implements the relay's session registry: admission
// control against a configured session cap, idle/lifetime eviction, and
// coordinated shutdown of every live session.
package manager

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/wilfoa/pybugger-relay/internal/persistence"
	"github.com/wilfoa/pybugger-relay/internal/session"
)

// newSessionID mints a session id in the relay's mandated wire format,
// sess_<8 hex>, as opposed to a full uuid.
func newSessionID() string {
	var buf [4]byte
	if _, err := rand.Read(buf[:]); err != nil {
		// crypto/rand failing is effectively unrecoverable; fall back to
		// a uuid-derived id rather than panicking.
		return "sess_" + uuid.NewString()[:8]
	}
	return "sess_" + hex.EncodeToString(buf[:])
}

// ErrorKind enumerates manager-level failure modes.
type ErrorKind string

const (
	ErrCapacity ErrorKind = "SESSION_LIMIT_REACHED"
	ErrNotFound ErrorKind = "SESSION_NOT_FOUND"
)

// Error is a manager-level failure.
type Error struct {
	Kind    ErrorKind
	Message string
}

func (e *Error) Error() string { return string(e.Kind) + ": " + e.Message }

// Limits configures admission control and eviction.
type Limits struct {
	MaxSessions          int
	SessionTimeout       time.Duration
	SessionMaxLifetime   time.Duration
	OutputBufferMaxBytes int
	EventQueueMax        int
}

// Manager owns the live session registry, enforces MaxSessions on
// creation, evicts idle or over-age sessions in the background, and
// persists summaries so sessions survive a relay restart as recoverable
// (never re-attached) entries.
type Manager struct {
	limits      Limits
	store       *persistence.SessionStore
	breakpoints *persistence.BreakpointStore
	evictAt     time.Duration

	mu       sync.Mutex
	sessions map[string]*session.Session

	stopEviction chan struct{}
	evictionDone chan struct{}
}

// New creates a Manager backed by store for session-snapshot persistence
// and breakpoints for per-project breakpoint persistence.
func New(limits Limits, store *persistence.SessionStore, breakpoints *persistence.BreakpointStore) *Manager {
	m := &Manager{
		limits:       limits,
		store:        store,
		breakpoints:  breakpoints,
		sessions:     make(map[string]*session.Session),
		stopEviction: make(chan struct{}),
		evictionDone: make(chan struct{}),
	}
	return m
}

// Create admits a new session if the manager is below MaxSessions. The
// session starts in the created state, preloaded with any breakpoints a
// prior relay process persisted for projectRoot; the caller still needs
// to call Launch or Attach on it.
func (m *Manager) Create(name, projectRoot string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.limits.MaxSessions > 0 && len(m.sessions) >= m.limits.MaxSessions {
		return nil, &Error{Kind: ErrCapacity, Message: "max_sessions reached"}
	}

	id := newSessionID()
	s := session.New(id, name, projectRoot, m.limits.OutputBufferMaxBytes, m.limits.EventQueueMax, m.breakpoints, m.store)
	m.sessions[id] = s

	if m.store != nil {
		_ = m.store.Snapshot(persistence.SessionSummary{
			ID:          id,
			Name:        name,
			ProjectRoot: projectRoot,
			CreatedAt:   s.CreatedAt,
		})
	}
	return s, nil
}

// Get returns the session for id, or an error if it isn't registered.
func (m *Manager) Get(id string) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, &Error{Kind: ErrNotFound, Message: "no such session: " + id}
	}
	return s, nil
}

// List returns a snapshot of every registered session's info.
func (m *Manager) List() []session.Info {
	m.mu.Lock()
	sessions := make([]*session.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.Unlock()

	out := make([]session.Info, len(sessions))
	for i, s := range sessions {
		out[i] = s.GetInfo()
	}
	return out
}

// Terminate tears down and unregisters the session for id.
func (m *Manager) Terminate(ctx context.Context, id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()
	if !ok {
		return &Error{Kind: ErrNotFound, Message: "no such session: " + id}
	}

	err := s.Terminate(ctx)
	if m.store != nil {
		_ = m.store.Delete(id)
	}
	return err
}

// Recover materializes a persisted session summary as a live, registered
// Session in the created state, preloaded with its project's persisted
// breakpoints and the summary's own persisted watch expressions. It
// never re-attaches to a debuggee or respawns an adapter subprocess; the
// caller still must Launch or Attach to actually resume debugging.
func (m *Manager) Recover(summary persistence.SessionSummary) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.sessions[summary.ID]; exists {
		return nil, &Error{Kind: ErrNotFound, Message: "session already live: " + summary.ID}
	}
	if m.limits.MaxSessions > 0 && len(m.sessions) >= m.limits.MaxSessions {
		return nil, &Error{Kind: ErrCapacity, Message: "max_sessions reached"}
	}

	s := session.New(summary.ID, summary.Name, summary.ProjectRoot, m.limits.OutputBufferMaxBytes, m.limits.EventQueueMax, m.breakpoints, m.store)
	for _, expr := range summary.Watches {
		s.AddWatch(expr)
	}
	m.sessions[summary.ID] = s
	return s, nil
}

// ListRecoverable reports sessions persisted by a prior relay process
// that are not currently registered in memory, for offer-but-never-
// auto-resume recovery.
func (m *Manager) ListRecoverable() ([]persistence.RecoverableSession, error) {
	if m.store == nil {
		return nil, nil
	}
	all, err := m.store.ListRecoverable()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	out := all[:0]
	for _, r := range all {
		if _, live := m.sessions[r.ID]; !live {
			out = append(out, r)
		}
	}
	return out, nil
}

// StartEviction launches the background loop that terminates sessions
// idle past SessionTimeout or older than SessionMaxLifetime. Call
// StopEviction to stop it.
func (m *Manager) StartEviction(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		defer close(m.evictionDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-m.stopEviction:
				return
			case <-ticker.C:
				m.evictOnce(ctx)
			}
		}
	}()
}

// StopEviction halts the background eviction loop and waits for it to
// exit.
func (m *Manager) StopEviction() {
	close(m.stopEviction)
	<-m.evictionDone
}

func (m *Manager) evictOnce(ctx context.Context) {
	now := time.Now().UTC()

	m.mu.Lock()
	var stale []string
	for id, s := range m.sessions {
		info := s.GetInfo()
		if info.State == session.StateTerminated || info.State == session.StateFailed {
			stale = append(stale, id)
			continue
		}
		idleTooLong := m.limits.SessionTimeout > 0 && now.Sub(info.LastActivityAt) > m.limits.SessionTimeout
		tooOld := m.limits.SessionMaxLifetime > 0 && now.Sub(info.CreatedAt) > m.limits.SessionMaxLifetime
		if idleTooLong || tooOld {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()

	for _, id := range stale {
		s, err := m.Get(id)
		if err != nil {
			continue
		}
		s.Events.Put("terminated", terminationNotice{Reason: "evicted", EventID: uuid.NewString()})
		_ = m.Terminate(ctx, id)
	}
}

// terminationNotice is the event body delivered to a session's event
// queue immediately before an eviction-driven Terminate, so a client
// mid-poll still observes why the session disappeared. EventID is a
// uuid that uniquely identifies this notice. The eviction's Terminate
// deletes the session's snapshot, so an evicted session does not appear
// in ListRecoverable afterwards.
type terminationNotice struct {
	Reason  string `json:"reason"`
	EventID string `json:"event_id"`
}

// Shutdown terminates every registered session in parallel, bounded by
// the grace window in ctx's deadline.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			return m.Terminate(gctx, id)
		})
	}
	return g.Wait()
}
