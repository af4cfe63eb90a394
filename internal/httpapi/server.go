// Package httpapi is the thin HTTP façade over the session core: one
// net/http.ServeMux with Go 1.22+ method-pattern routes, each handler
// parsing its request, calling the core, and serializing the result or
// error envelope. It carries no debugging logic of its own.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/wilfoa/pybugger-relay/internal/adapter"
	"github.com/wilfoa/pybugger-relay/internal/config"
	"github.com/wilfoa/pybugger-relay/internal/manager"
	"github.com/wilfoa/pybugger-relay/internal/session"
)

// Server wires the session manager to HTTP.
type Server struct {
	mux     *http.ServeMux
	mgr     *manager.Manager
	adapter []string

	dapTimeout       time.Duration
	dapLaunchTimeout time.Duration
}

// New builds a Server backed by mgr, spawning adapterCommand for every
// launch/attach. dapTimeout and dapLaunchTimeout override the adapter's
// default per-request and launch deadlines when positive.
func New(mgr *manager.Manager, adapterCommand []string, dapTimeout, dapLaunchTimeout time.Duration) *Server {
	s := &Server{
		mux:              http.NewServeMux(),
		mgr:              mgr,
		adapter:          adapterCommand,
		dapTimeout:       dapTimeout,
		dapLaunchTimeout: dapLaunchTimeout,
	}
	s.routes()
	return s
}

// adapterOptions builds the adapter.Option set reflecting the configured
// DAP timeouts, or nil if neither was set. WithTimeouts sets both
// deadlines together, so an unset half falls back to the adapter's own
// default rather than being clobbered to zero.
func (s *Server) adapterOptions() []adapter.Option {
	if s.dapTimeout <= 0 && s.dapLaunchTimeout <= 0 {
		return nil
	}
	request, launch := s.dapTimeout, s.dapLaunchTimeout
	if request <= 0 {
		request = adapter.DefaultRequestTimeout
	}
	if launch <= 0 {
		launch = adapter.DefaultLaunchTimeout
	}
	return []adapter.Option{adapter.WithTimeouts(request, launch)}
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /sessions", s.handleCreateSession)
	s.mux.HandleFunc("GET /sessions", s.handleListSessions)
	s.mux.HandleFunc("GET /sessions/recoverable", s.handleListRecoverable)
	s.mux.HandleFunc("POST /sessions/recoverable/{id}/recover", s.handleRecoverSession)
	s.mux.HandleFunc("GET /sessions/{id}", s.handleGetSession)
	s.mux.HandleFunc("DELETE /sessions/{id}", s.handleTerminateSession)

	s.mux.HandleFunc("POST /sessions/{id}/launch", s.handleLaunch)
	s.mux.HandleFunc("POST /sessions/{id}/attach", s.handleAttach)

	s.mux.HandleFunc("PUT /sessions/{id}/breakpoints", s.handleSetBreakpoints)
	s.mux.HandleFunc("DELETE /sessions/{id}/breakpoints", s.handleClearBreakpoints)
	s.mux.HandleFunc("GET /sessions/{id}/breakpoints", s.handleGetBreakpoints)

	s.mux.HandleFunc("POST /sessions/{id}/continue", s.handleContinue)
	s.mux.HandleFunc("POST /sessions/{id}/pause", s.handlePause)
	s.mux.HandleFunc("POST /sessions/{id}/step_over", s.handleStepOver)
	s.mux.HandleFunc("POST /sessions/{id}/step_into", s.handleStepInto)
	s.mux.HandleFunc("POST /sessions/{id}/step_out", s.handleStepOut)

	s.mux.HandleFunc("GET /sessions/{id}/threads", s.handleThreads)
	s.mux.HandleFunc("GET /sessions/{id}/stacktrace", s.handleStackTrace)
	s.mux.HandleFunc("GET /sessions/{id}/scopes", s.handleScopes)
	s.mux.HandleFunc("GET /sessions/{id}/variables", s.handleVariables)
	s.mux.HandleFunc("POST /sessions/{id}/evaluate", s.handleEvaluate)

	s.mux.HandleFunc("GET /sessions/{id}/watches", s.handleListWatches)
	s.mux.HandleFunc("POST /sessions/{id}/watches", s.handleAddWatch)
	s.mux.HandleFunc("DELETE /sessions/{id}/watches", s.handleRemoveWatch)
	s.mux.HandleFunc("POST /sessions/{id}/watches/evaluate", s.handleEvaluateWatches)

	s.mux.HandleFunc("GET /sessions/{id}/output", s.handleGetOutput)
	s.mux.HandleFunc("GET /sessions/{id}/events", s.handlePollEvents)

	s.mux.HandleFunc("GET /health", s.handleHealth)
}

// ServeHTTP makes Server an http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// errorStatus maps the core's error-kind taxonomy to the HTTP status
// classes spec.md §7 assigns them.
func errorStatus(err error) int {
	switch e := err.(type) {
	case *invalidRequestError:
		_ = e
		return http.StatusBadRequest
	case *manager.Error:
		switch e.Kind {
		case manager.ErrCapacity:
			return http.StatusTooManyRequests
		case manager.ErrNotFound:
			return http.StatusNotFound
		}
	case *session.Error:
		switch e.Kind {
		case session.ErrInvalidState:
			return http.StatusConflict
		case session.ErrThreadNotFound, session.ErrFrameNotFound:
			return http.StatusNotFound
		case session.ErrEvaluate:
			return http.StatusOK
		}
	case *adapter.Error:
		switch e.Kind {
		case adapter.ErrTimeout:
			return http.StatusGatewayTimeout
		case adapter.ErrConnection:
			return http.StatusBadGateway
		case adapter.ErrLaunchFailed, adapter.ErrAttachFailed:
			return http.StatusBadRequest
		case adapter.ErrNotInitialized:
			return http.StatusConflict
		}
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, errorStatus(err), map[string]string{"error": err.Error()})
}

func queryInt(r *http.Request, key string, fallback int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// NewFromConfig is a convenience constructor matching the CLI entry
// point's call shape.
func NewFromConfig(mgr *manager.Manager, cfg config.RelayConfig) *Server {
	return New(mgr, cfg.AdapterCommand, cfg.DAPTimeout(), cfg.DAPLaunchTimeout())
}
