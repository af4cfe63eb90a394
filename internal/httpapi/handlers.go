package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/wilfoa/pybugger-relay/internal/adapter"
	"github.com/wilfoa/pybugger-relay/internal/manager"
	"github.com/wilfoa/pybugger-relay/internal/outputbuf"
	"github.com/wilfoa/pybugger-relay/internal/session"
)

// SessionView is the wire projection of a session.Info.
type SessionView struct {
	ID               string              `json:"id"`
	Name             string              `json:"name"`
	ProjectRoot      string              `json:"project_root"`
	State            session.State       `json:"state"`
	StopReason       *session.StopReason `json:"stop_reason,omitempty"`
	CreatedAt        time.Time           `json:"created_at"`
	LastActivityAt   time.Time           `json:"last_activity_at"`
	StoppedThreadID  int                 `json:"stopped_thread_id,omitempty"`
	WatchExpressions []string            `json:"watch_expressions"`
}

func toView(info session.Info) SessionView {
	return SessionView{
		ID:               info.ID,
		Name:             info.Name,
		ProjectRoot:      info.ProjectRoot,
		State:            info.State,
		StopReason:       info.StopReason,
		CreatedAt:        info.CreatedAt,
		LastActivityAt:   info.LastActivityAt,
		StoppedThreadID:  info.StoppedThreadID,
		WatchExpressions: info.WatchExpressions,
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type createSessionRequest struct {
	ProjectRoot string `json:"project_root"`
	Name        string `json:"name"`
}

func (s *Server) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &invalidRequestError{err})
		return
	}
	if req.ProjectRoot == "" {
		writeError(w, &invalidRequestError{errMsg("project_root is required")})
		return
	}
	sess, err := s.mgr.Create(req.Name, req.ProjectRoot)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toView(sess.GetInfo()))
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	infos := s.mgr.List()
	out := make([]SessionView, len(infos))
	for i, info := range infos {
		out[i] = toView(info)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleListRecoverable(w http.ResponseWriter, r *http.Request) {
	recoverable, err := s.mgr.ListRecoverable()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, recoverable)
}

// handleRecoverSession re-registers a persisted session as live, in the
// created state. The caller still must launch or attach it to resume
// debugging; recovery never respawns the adapter subprocess itself.
func (s *Server) handleRecoverSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	recoverable, err := s.mgr.ListRecoverable()
	if err != nil {
		writeError(w, err)
		return
	}
	for _, r := range recoverable {
		if r.ID != id {
			continue
		}
		sess, err := s.mgr.Recover(r.SessionSummary)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toView(sess.GetInfo()))
		return
	}
	writeError(w, &manager.Error{Kind: manager.ErrNotFound, Message: "no recoverable session: " + id})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.mgr.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toView(sess.GetInfo()))
}

func (s *Server) handleTerminateSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.mgr.Terminate(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

type launchRequest struct {
	Program     string            `json:"program"`
	Module      string            `json:"module"`
	Args        []string          `json:"args"`
	PythonArgs  []string          `json:"python_args"`
	Cwd         string            `json:"cwd"`
	Env         map[string]string `json:"env"`
	StopOnEntry bool              `json:"stop_on_entry"`
	ConsoleMode string            `json:"console_mode"`
	ClientID    string            `json:"client_id"`
}

func (s *Server) handleLaunch(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	sess, err := s.mgr.Get(id)
	if err != nil {
		writeError(w, err)
		return
	}

	var req launchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &invalidRequestError{err})
		return
	}

	cfg := adapter.LaunchConfig{
		Program:     req.Program,
		Module:      req.Module,
		Args:        req.Args,
		PythonArgs:  req.PythonArgs,
		Cwd:         req.Cwd,
		Env:         req.Env,
		StopOnEntry: req.StopOnEntry,
		ConsoleMode: req.ConsoleMode,
	}
	clientID := req.ClientID
	if clientID == "" {
		clientID = "pybugger-relay"
	}

	name, args := s.adapterCommand()
	if err := sess.Launch(r.Context(), name, args, cfg, clientID, s.adapterOptions()...); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toView(sess.GetInfo()))
}

type attachRequest struct {
	PID                int    `json:"pid"`
	Host               string `json:"host"`
	Port               int    `json:"port"`
	ConnectTimeoutMS    int    `json:"connect_timeout_ms"`
	ClientID           string `json:"client_id"`
}

func (s *Server) handleAttach(w http.ResponseWriter, r *http.Request) {
	sess, err := s.mgr.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}

	var req attachRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &invalidRequestError{err})
		return
	}

	cfg := adapter.AttachConfig{
		PID:            req.PID,
		Host:           req.Host,
		Port:           req.Port,
		ConnectTimeout: time.Duration(req.ConnectTimeoutMS) * time.Millisecond,
	}
	clientID := req.ClientID
	if clientID == "" {
		clientID = "pybugger-relay"
	}

	name, args := s.adapterCommand()
	if err := sess.Attach(r.Context(), name, args, cfg, clientID, s.adapterOptions()...); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toView(sess.GetInfo()))
}

func (s *Server) adapterCommand() (string, []string) {
	if len(s.adapter) == 0 {
		return "python3", []string{"-m", "debugpy.adapter"}
	}
	return s.adapter[0], s.adapter[1:]
}

type breakpointSpecWire struct {
	SourcePath   string `json:"source_path"`
	Line         int    `json:"line"`
	Column       int    `json:"column,omitempty"`
	Condition    string `json:"condition,omitempty"`
	HitCondition string `json:"hit_condition,omitempty"`
	LogMessage   string `json:"log_message,omitempty"`
	Enabled      bool   `json:"enabled"`
}

type setBreakpointsRequest struct {
	SourcePath string               `json:"source_path"`
	Specs      []breakpointSpecWire `json:"specs"`
}

func (s *Server) handleSetBreakpoints(w http.ResponseWriter, r *http.Request) {
	sess, err := s.mgr.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req setBreakpointsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &invalidRequestError{err})
		return
	}

	specs := make([]session.BreakpointSpec, len(req.Specs))
	for i, spec := range req.Specs {
		specs[i] = session.BreakpointSpec{
			SourcePath:   spec.SourcePath,
			Line:         spec.Line,
			Column:       spec.Column,
			Condition:    spec.Condition,
			HitCondition: spec.HitCondition,
			LogMessage:   spec.LogMessage,
			Enabled:      spec.Enabled,
		}
	}

	result, err := sess.SetBreakpoints(r.Context(), req.SourcePath, specs)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleClearBreakpoints(w http.ResponseWriter, r *http.Request) {
	sess, err := s.mgr.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	path := r.URL.Query().Get("source_path")
	count, err := sess.ClearBreakpoints(r.Context(), path)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"count": count})
}

func (s *Server) handleGetBreakpoints(w http.ResponseWriter, r *http.Request) {
	sess, err := s.mgr.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	path := r.URL.Query().Get("source_path")
	writeJSON(w, http.StatusOK, sess.GetBreakpoints(path))
}

type threadIDRequest struct {
	ThreadID int `json:"thread_id"`
}

func (s *Server) handleContinue(w http.ResponseWriter, r *http.Request) {
	s.threadOp(w, r, func(ctx context.Context, sess *session.Session, threadID int) error {
		return sess.Continue(ctx, threadID)
	})
}

func (s *Server) handlePause(w http.ResponseWriter, r *http.Request) {
	s.threadOp(w, r, func(ctx context.Context, sess *session.Session, threadID int) error {
		return sess.Pause(ctx, threadID)
	})
}

func (s *Server) handleStepOver(w http.ResponseWriter, r *http.Request) {
	s.threadOp(w, r, func(ctx context.Context, sess *session.Session, threadID int) error {
		return sess.StepNext(ctx, threadID)
	})
}

func (s *Server) handleStepInto(w http.ResponseWriter, r *http.Request) {
	s.threadOp(w, r, func(ctx context.Context, sess *session.Session, threadID int) error {
		return sess.StepIn(ctx, threadID)
	})
}

func (s *Server) handleStepOut(w http.ResponseWriter, r *http.Request) {
	s.threadOp(w, r, func(ctx context.Context, sess *session.Session, threadID int) error {
		return sess.StepOut(ctx, threadID)
	})
}

func (s *Server) threadOp(w http.ResponseWriter, r *http.Request, op func(context.Context, *session.Session, int) error) {
	sess, err := s.mgr.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req threadIDRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, &invalidRequestError{err})
			return
		}
	}
	if err := op(r.Context(), sess, req.ThreadID); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toView(sess.GetInfo()))
}

func (s *Server) handleThreads(w http.ResponseWriter, r *http.Request) {
	sess, err := s.mgr.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	threads, err := sess.Threads(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, threads)
}

func (s *Server) handleStackTrace(w http.ResponseWriter, r *http.Request) {
	sess, err := s.mgr.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	threadID := queryInt(r, "thread_id", 0)
	start := queryInt(r, "start", 0)
	levels := queryInt(r, "levels", 0)
	frames, err := sess.StackTrace(r.Context(), threadID, start, levels)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, frames)
}

func (s *Server) handleScopes(w http.ResponseWriter, r *http.Request) {
	sess, err := s.mgr.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	frameID := queryInt(r, "frame_id", 0)
	scopes, err := sess.Scopes(r.Context(), frameID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, scopes)
}

func (s *Server) handleVariables(w http.ResponseWriter, r *http.Request) {
	sess, err := s.mgr.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	ref := queryInt(r, "variables_reference", 0)
	start := queryInt(r, "start", 0)
	count := queryInt(r, "count", 0)
	vars, err := sess.Variables(r.Context(), ref, start, count)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vars)
}

type evaluateRequest struct {
	Expression string `json:"expression"`
	FrameID    int    `json:"frame_id"`
	Context    string `json:"context"`
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	sess, err := s.mgr.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req evaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &invalidRequestError{err})
		return
	}
	evalContext := req.Context
	if evalContext == "" {
		evalContext = "repl"
	}
	result, err := sess.Evaluate(r.Context(), req.Expression, req.FrameID, evalContext)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type watchRequest struct {
	Expression string `json:"expression"`
}

func (s *Server) handleAddWatch(w http.ResponseWriter, r *http.Request) {
	sess, err := s.mgr.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	var req watchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, &invalidRequestError{err})
		return
	}
	if err := sess.AddWatch(req.Expression); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.ListWatches())
}

func (s *Server) handleRemoveWatch(w http.ResponseWriter, r *http.Request) {
	sess, err := s.mgr.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	expr := r.URL.Query().Get("expression")
	if err := sess.RemoveWatch(expr); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.ListWatches())
}

func (s *Server) handleListWatches(w http.ResponseWriter, r *http.Request) {
	sess, err := s.mgr.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sess.ListWatches())
}

func (s *Server) handleEvaluateWatches(w http.ResponseWriter, r *http.Request) {
	sess, err := s.mgr.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	topFrameID := queryInt(r, "frame_id", 0)
	writeJSON(w, http.StatusOK, sess.EvaluateWatches(r.Context(), topFrameID))
}

func (s *Server) handleGetOutput(w http.ResponseWriter, r *http.Request) {
	sess, err := s.mgr.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	offset := queryInt(r, "offset", 0)
	limit := queryInt(r, "limit", 100)
	var category *outputbuf.Category
	if c := r.URL.Query().Get("category"); c != "" {
		cat := outputbuf.Category(c)
		category = &cat
	}
	writeJSON(w, http.StatusOK, sess.Output.GetPage(offset, limit, category))
}

func (s *Server) handlePollEvents(w http.ResponseWriter, r *http.Request) {
	sess, err := s.mgr.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	cursor := int64(queryInt(r, "cursor", 0))
	limit := queryInt(r, "limit", 100)
	waitMS := queryInt(r, "wait_timeout_ms", 0)
	poll := sess.Events.Poll(cursor, limit, time.Duration(waitMS)*time.Millisecond)
	writeJSON(w, http.StatusOK, map[string]any{
		"events":      poll.Events,
		"next_cursor": poll.NextCursor,
		"has_more":    poll.HasMore,
		"status":      sess.State(),
	})
}

type invalidRequestError struct{ cause error }

func (e *invalidRequestError) Error() string { return "INVALID_REQUEST: " + e.cause.Error() }

type errMsg string

func (e errMsg) Error() string { return string(e) }
