package persistence

import (
	"os"
	"path/filepath"
	"time"
)

// SessionSummary is the minimum recoverable surface for a session:
// enough to re-create a Session object in the created state referencing
// the same project root and breakpoints. Recovery never resurrects the
// debuggee subprocess.
type SessionSummary struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ProjectRoot string    `json:"project_root"`
	CreatedAt   time.Time `json:"created_at"`
	Watches     []string  `json:"watches"`
}

// RecoverableSession additionally reports the breakpoint count recovered
// for the session's project, a read-only enrichment available once
// BreakpointStore.Load runs.
type RecoverableSession struct {
	SessionSummary
	BreakpointCount int `json:"breakpoint_count"`
}

// SessionStore persists session snapshots at
// <dataDir>/sessions/<session_id>.json for recovery after a restart.
type SessionStore struct {
	dataDir   string
	breakpoints *BreakpointStore
}

// NewSessionStore creates a store rooted at dataDir, using breakpoints
// to enrich recoverable listings with breakpoint counts.
func NewSessionStore(dataDir string, breakpoints *BreakpointStore) *SessionStore {
	return &SessionStore{dataDir: dataDir, breakpoints: breakpoints}
}

func (s *SessionStore) path(sessionID string) string {
	return filepath.Join(s.dataDir, "sessions", sessionID+".json")
}

// Snapshot persists summary.
func (s *SessionStore) Snapshot(summary SessionSummary) error {
	return AtomicWrite(s.path(summary.ID), summary)
}

// Delete removes a session's persisted snapshot.
func (s *SessionStore) Delete(sessionID string) error {
	_, err := SafeDelete(s.path(sessionID))
	return err
}

// ListRecoverable reads every persisted session snapshot and enriches
// each with its project's current breakpoint count.
func (s *SessionStore) ListRecoverable() ([]RecoverableSession, error) {
	dir := filepath.Join(s.dataDir, "sessions")
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var out []RecoverableSession
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".json" {
			continue
		}
		id := entry.Name()[:len(entry.Name())-len(".json")]
		var summary SessionSummary
		ok, err := SafeRead(s.path(id), &summary)
		if err != nil || !ok {
			continue
		}

		count := 0
		if s.breakpoints != nil {
			if bps, err := s.breakpoints.Load(summary.ProjectRoot); err == nil {
				for _, specs := range bps {
					count += len(specs)
				}
			}
		}

		out = append(out, RecoverableSession{SessionSummary: summary, BreakpointCount: count})
	}
	return out, nil
}
