package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/wilfoa/pybugger-relay/internal/adapter"
	"github.com/wilfoa/pybugger-relay/internal/manager"
	"github.com/wilfoa/pybugger-relay/internal/persistence"
)

func testServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	dir := t.TempDir()
	bps := persistence.NewBreakpointStore(dir)
	store := persistence.NewSessionStore(dir, bps)
	mgr := manager.New(manager.Limits{
		MaxSessions:          4,
		OutputBufferMaxBytes: 1 << 16,
		EventQueueMax:        128,
	}, store, bps)
	srv := New(mgr, []string{"python3", "-m", "debugpy.adapter"}, 0, 0)
	ts := httptest.NewServer(srv)
	t.Cleanup(ts.Close)
	return srv, ts
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal request body: %v", err)
	}
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	if err != nil {
		t.Fatalf("POST %s: %v", url, err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestHealthEndpointReportsOK(t *testing.T) {
	_, ts := testServer(t)
	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
}

func TestCreateSessionRequiresProjectRoot(t *testing.T) {
	_, ts := testServer(t)
	resp := postJSON(t, ts.URL+"/sessions", map[string]string{"name": "demo"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing project_root, got %d", resp.StatusCode)
	}
}

func TestCreateAndGetSessionRoundTrips(t *testing.T) {
	_, ts := testServer(t)
	resp := postJSON(t, ts.URL+"/sessions", map[string]string{
		"name":         "demo",
		"project_root": filepath.Join(t.TempDir(), "proj"),
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	var created SessionView
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		t.Fatalf("decode created session: %v", err)
	}
	if created.State != "created" {
		t.Errorf("expected state created, got %s", created.State)
	}

	getResp, err := http.Get(ts.URL + "/sessions/" + created.ID)
	if err != nil {
		t.Fatalf("GET session: %v", err)
	}
	defer getResp.Body.Close()
	if getResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", getResp.StatusCode)
	}
}

func TestGetUnknownSessionReturnsNotFound(t *testing.T) {
	_, ts := testServer(t)
	resp, err := http.Get(ts.URL + "/sessions/sess_nonexistent")
	if err != nil {
		t.Fatalf("GET session: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestSessionLimitReachedReturns429(t *testing.T) {
	dir := t.TempDir()
	bps := persistence.NewBreakpointStore(dir)
	store := persistence.NewSessionStore(dir, bps)
	mgr := manager.New(manager.Limits{MaxSessions: 1, OutputBufferMaxBytes: 1 << 16, EventQueueMax: 128}, store, bps)
	srv := New(mgr, nil, 0, 0)
	ts := httptest.NewServer(srv)
	defer ts.Close()

	first := postJSON(t, ts.URL+"/sessions", map[string]string{"project_root": "/tmp/a"})
	if first.StatusCode != http.StatusCreated {
		t.Fatalf("expected first create to succeed, got %d", first.StatusCode)
	}
	second := postJSON(t, ts.URL+"/sessions", map[string]string{"project_root": "/tmp/b"})
	if second.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429 over capacity, got %d", second.StatusCode)
	}
}

func TestWatchLifecycleThroughHTTP(t *testing.T) {
	_, ts := testServer(t)
	createResp := postJSON(t, ts.URL+"/sessions", map[string]string{
		"project_root": filepath.Join(t.TempDir(), "proj"),
	})
	var created SessionView
	json.NewDecoder(createResp.Body).Decode(&created)

	addResp := postJSON(t, ts.URL+"/sessions/"+created.ID+"/watches", map[string]string{"expression": "x + 1"})
	if addResp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200 adding watch, got %d", addResp.StatusCode)
	}
	var watches []string
	if err := json.NewDecoder(addResp.Body).Decode(&watches); err != nil {
		t.Fatalf("decode watches: %v", err)
	}
	if len(watches) != 1 || watches[0] != "x + 1" {
		t.Fatalf("expected one watch expression, got %v", watches)
	}
}

func TestAdapterOptionsReflectsConfiguredTimeouts(t *testing.T) {
	dir := t.TempDir()
	bps := persistence.NewBreakpointStore(dir)
	store := persistence.NewSessionStore(dir, bps)
	mgr := manager.New(manager.Limits{MaxSessions: 1, OutputBufferMaxBytes: 1 << 16, EventQueueMax: 128}, store, bps)

	unconfigured := New(mgr, nil, 0, 0)
	if got := unconfigured.adapterOptions(); got != nil {
		t.Fatalf("expected no adapter options with zero-value timeouts, got %d", len(got))
	}

	configured := New(mgr, nil, 5*time.Second, 10*time.Second)
	opts := configured.adapterOptions()
	if len(opts) != 1 {
		t.Fatalf("expected one adapter option with configured timeouts, got %d", len(opts))
	}
	a := &adapter.Adapter{}
	for _, opt := range opts {
		opt(a)
	}
}

func TestRecoverUnknownSessionReturnsNotFound(t *testing.T) {
	_, ts := testServer(t)
	resp, err := http.Post(ts.URL+"/sessions/recoverable/sess_nonexistent/recover", "application/json", nil)
	if err != nil {
		t.Fatalf("POST recover: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
