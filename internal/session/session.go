// Package session implements the relay's per-debug-session state
// machine: it enforces the allowed-operation table, owns one
// DebugAdapter/OutputBuffer/EventQueue triple, and serializes every
// externally-triggered mutation and event-driven state update behind a
// single per-session lock.
package session

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/go-dap"

	"github.com/wilfoa/pybugger-relay/internal/adapter"
	"github.com/wilfoa/pybugger-relay/internal/eventqueue"
	"github.com/wilfoa/pybugger-relay/internal/outputbuf"
	"github.com/wilfoa/pybugger-relay/internal/persistence"
)

// State is the session's wire-label lifecycle state.
type State string

const (
	StateCreated    State = "created"
	StateLaunching  State = "launching"
	StateRunning    State = "running"
	StatePaused     State = "paused"
	StateTerminated State = "terminated"
	StateFailed     State = "failed"
)

// transitions enumerates every valid externally-triggered state change.
// Event-driven updates (see handleAdapterEvent) bypass this table; DAP events
// are authoritative over the adapter's reported state.
var transitions = map[State]map[State]bool{
	StateCreated:   {StateLaunching: true, StateFailed: true},
	StateLaunching: {StateRunning: true, StatePaused: true, StateTerminated: true, StateFailed: true},
	StateRunning:   {StatePaused: true, StateTerminated: true, StateFailed: true},
	StatePaused:    {StateRunning: true, StateTerminated: true, StateFailed: true},
}

func (s State) terminal() bool { return s == StateTerminated || s == StateFailed }

// ErrorKind enumerates the session-level error taxonomy.
type ErrorKind string

const (
	ErrInvalidState  ErrorKind = "INVALID_SESSION_STATE"
	ErrThreadNotFound ErrorKind = "THREAD_NOT_FOUND"
	ErrFrameNotFound  ErrorKind = "FRAME_NOT_FOUND"
	ErrEvaluate       ErrorKind = "EVALUATE_ERROR"
)

// Error is a session-level failure, optionally carrying the required
// and actual states for an INVALID_SESSION_STATE response.
type Error struct {
	Kind     ErrorKind
	Message  string
	Required []State
	Actual   State
}

func (e *Error) Error() string {
	return fmt.Sprintf("session: %s: %s", e.Kind, e.Message)
}

// StopReason enumerates the wire stop-reason labels.
type StopReason string

const (
	StopBreakpoint         StopReason = "breakpoint"
	StopStep               StopReason = "step"
	StopException          StopReason = "exception"
	StopPause              StopReason = "pause"
	StopEntry              StopReason = "entry"
	StopGoto               StopReason = "goto"
	StopFunctionBreakpoint StopReason = "function_breakpoint"
	StopDataBreakpoint     StopReason = "data_breakpoint"
)

// FrameLocation pins the session's current position once known.
type FrameLocation struct {
	SourcePath string `json:"source_path"`
	Line       int    `json:"line"`
}

// BreakpointSpec is the relay's authoritative in-memory breakpoint
// shape for one source location.
type BreakpointSpec struct {
	SourcePath   string
	Line         int
	Column       int
	Condition    string
	HitCondition string
	LogMessage   string
	Enabled      bool

	// Cached verification from the adapter's last setBreakpoints
	// response. Not authoritative for replay.
	VerifiedID   int
	Verified     bool
	VerifyMsg    string
}

// Watch is one tracked watch expression.
type Watch struct {
	Expression string
}

// WatchResult is the outcome of evaluating one watch expression.
type WatchResult struct {
	Expression string `json:"expression"`
	Value      string `json:"value,omitempty"`
	Type       string `json:"type,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Session is the unit of debugging state: one adapter, one debuggee, one
// output/event pair. All fields below mu are only ever touched while mu
// is held.
type Session struct {
	ID          string
	Name        string
	ProjectRoot string
	CreatedAt   time.Time

	Output *outputbuf.Buffer
	Events *eventqueue.Queue

	mu sync.Mutex

	state             State
	stopReason        *StopReason
	lastActivityAt    time.Time
	stoppedThreadID   int
	currentFrame      *FrameLocation
	capabilities      map[string]bool
	watchExpressions  []string
	breakpointsByFile map[string][]BreakpointSpec

	adapter *adapter.Adapter

	breakpoints *persistence.BreakpointStore
	sessions    *persistence.SessionStore
}

// New constructs a session in the created state, preloaded with any
// breakpoints a prior relay process persisted for projectRoot. The
// adapter is not spawned until Launch or Attach. breakpoints and
// sessions may be nil, in which case breakpoint and watch mutations
// stay in-memory only (as in tests that don't exercise persistence).
func New(id, name, projectRoot string, outputMaxBytes, eventQueueMax int, breakpoints *persistence.BreakpointStore, sessions *persistence.SessionStore) *Session {
	now := time.Now().UTC()
	s := &Session{
		ID:                id,
		Name:              name,
		ProjectRoot:       projectRoot,
		CreatedAt:         now,
		Output:            outputbuf.New(outputMaxBytes),
		Events:            eventqueue.New(eventQueueMax),
		state:             StateCreated,
		lastActivityAt:    now,
		breakpointsByFile: make(map[string][]BreakpointSpec),
		breakpoints:       breakpoints,
		sessions:          sessions,
	}
	if breakpoints != nil {
		if persisted, err := breakpoints.Load(projectRoot); err == nil {
			for path, specs := range persisted {
				converted := make([]BreakpointSpec, len(specs))
				for i, spec := range specs {
					converted[i] = BreakpointSpec{
						SourcePath:   spec.SourcePath,
						Line:         spec.Line,
						Column:       spec.Column,
						Condition:    spec.Condition,
						HitCondition: spec.HitCondition,
						LogMessage:   spec.LogMessage,
						Enabled:      spec.Enabled,
					}
				}
				s.breakpointsByFile[path] = converted
			}
		}
	}
	return s
}

// persistBreakpointsLocked writes the file's current breakpoint set to
// the project's persisted breakpoint file, if a store was configured.
// Callers must hold s.mu.
func (s *Session) persistBreakpointsLocked(sourcePath string) {
	if s.breakpoints == nil {
		return
	}
	specs := s.breakpointsByFile[sourcePath]
	persisted := make([]persistence.BreakpointSpec, len(specs))
	for i, spec := range specs {
		persisted[i] = persistence.BreakpointSpec{
			SourcePath:   spec.SourcePath,
			Line:         spec.Line,
			Column:       spec.Column,
			Condition:    spec.Condition,
			HitCondition: spec.HitCondition,
			LogMessage:   spec.LogMessage,
			Enabled:      spec.Enabled,
		}
	}
	_ = s.breakpoints.UpdateFile(s.ProjectRoot, sourcePath, persisted)
}

// snapshotLocked re-persists this session's recoverable summary,
// including its current watch expressions, if a store was configured.
// Callers must hold s.mu.
func (s *Session) snapshotLocked() {
	if s.sessions == nil {
		return
	}
	_ = s.sessions.Snapshot(persistence.SessionSummary{
		ID:          s.ID,
		Name:        s.Name,
		ProjectRoot: s.ProjectRoot,
		CreatedAt:   s.CreatedAt,
		Watches:     append([]string(nil), s.watchExpressions...),
	})
}

// State returns the session's current state under lock.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) touch() {
	s.lastActivityAt = time.Now().UTC()
}

func (s *Session) requireState(allowed ...State) error {
	for _, a := range allowed {
		if s.state == a {
			return nil
		}
	}
	return &Error{Kind: ErrInvalidState, Message: "operation not allowed in current state", Required: allowed, Actual: s.state}
}

func (s *Session) transitionLocked(to State) error {
	if s.state.terminal() {
		return &Error{Kind: ErrInvalidState, Message: "session is in a terminal state", Required: nil, Actual: s.state}
	}
	if !transitions[s.state][to] {
		return &Error{Kind: ErrInvalidState, Message: fmt.Sprintf("no transition %s -> %s", s.state, to), Actual: s.state}
	}
	s.state = to
	return nil
}

// handleAdapterEvent is the adapter's EventHandler callback for this
// session: it runs on the adapter's reader goroutine for every DAP
// event. State transitions made here always succeed — DAP events are
// authoritative over the adapter's true state and never go through
// transitionLocked's table. Every event lands in Events; "output"
// events additionally land in Output.
func (s *Session) handleAdapterEvent(kind string, body any) {
	s.mu.Lock()
	switch kind {
	case adapter.EventStopped:
		if sb, ok := body.(adapter.StoppedBody); ok {
			reason := StopReason(sb.Reason)
			s.state = StatePaused
			s.stopReason = &reason
			s.stoppedThreadID = sb.ThreadID
			s.currentFrame = nil
		}
	case adapter.EventContinued:
		s.state = StateRunning
		s.stopReason = nil
		s.currentFrame = nil
	case adapter.EventTerminated:
		s.state = StateTerminated
	}
	s.touch()
	s.mu.Unlock()

	s.Events.Put(kind, body)

	if kind == adapter.EventOutput {
		if ob, ok := body.(adapter.OutputBody); ok {
			s.Output.Append(outputbuf.Category(ob.Category), ob.Text, ob.Source, ob.Line)
		}
	}
}

// newAdapter constructs and spawns a debug-adapter subprocess whose
// events are wired back into this session.
func (s *Session) newAdapter(ctx context.Context, name string, args []string, opts ...adapter.Option) (*adapter.Adapter, error) {
	return adapter.New(ctx, name, args, s.handleAdapterEvent, opts...)
}

// Launch spawns and initializes the adapter, issues launch, and leaves
// the session in launching until the adapter's first stopped/running
// event arrives via handleAdapterEvent.
func (s *Session) Launch(ctx context.Context, adapterCmd string, adapterArgs []string, cfg adapter.LaunchConfig, clientID string, opts ...adapter.Option) error {
	s.mu.Lock()
	if err := s.requireState(StateCreated); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.transitionLocked(StateLaunching); err != nil {
		s.mu.Unlock()
		return err
	}
	s.touch()
	s.mu.Unlock()

	a, err := s.newAdapter(ctx, adapterCmd, adapterArgs, opts...)
	if err != nil {
		s.mu.Lock()
		s.state = StateFailed
		s.mu.Unlock()
		return err
	}
	s.mu.Lock()
	s.adapter = a
	s.mu.Unlock()

	caps, err := a.Initialize(ctx, clientID)
	if err != nil {
		s.mu.Lock()
		s.state = StateFailed
		s.mu.Unlock()
		return err
	}
	s.mu.Lock()
	s.capabilities = caps
	s.mu.Unlock()

	if err := a.Launch(ctx, cfg); err != nil {
		s.mu.Lock()
		s.state = StateFailed
		s.mu.Unlock()
		return err
	}
	return nil
}

// Attach mirrors Launch for the attach-to-running-process path.
func (s *Session) Attach(ctx context.Context, adapterCmd string, adapterArgs []string, cfg adapter.AttachConfig, clientID string, opts ...adapter.Option) error {
	s.mu.Lock()
	if err := s.requireState(StateCreated); err != nil {
		s.mu.Unlock()
		return err
	}
	if err := s.transitionLocked(StateLaunching); err != nil {
		s.mu.Unlock()
		return err
	}
	s.touch()
	s.mu.Unlock()

	a, err := s.newAdapter(ctx, adapterCmd, adapterArgs, opts...)
	if err != nil {
		s.mu.Lock()
		s.state = StateFailed
		s.mu.Unlock()
		return err
	}
	s.mu.Lock()
	s.adapter = a
	s.mu.Unlock()

	caps, err := a.Initialize(ctx, clientID)
	if err != nil {
		s.mu.Lock()
		s.state = StateFailed
		s.mu.Unlock()
		return err
	}
	s.mu.Lock()
	s.capabilities = caps
	s.mu.Unlock()

	if err := a.Attach(ctx, cfg); err != nil {
		s.mu.Lock()
		s.state = StateFailed
		s.mu.Unlock()
		return err
	}
	return nil
}

// SetBreakpoints replaces the authoritative set for one file and, if the
// adapter is already initialized, pushes the change down immediately.
func (s *Session) SetBreakpoints(ctx context.Context, sourcePath string, specs []BreakpointSpec) ([]BreakpointSpec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireState(StateCreated, StateLaunching, StateRunning, StatePaused); err != nil {
		return nil, err
	}
	s.touch()

	if s.adapter == nil {
		s.breakpointsByFile[sourcePath] = specs
		s.persistBreakpointsLocked(sourcePath)
		return specs, nil
	}

	dapSpecs := make([]dap.SourceBreakpoint, len(specs))
	for i, spec := range specs {
		dapSpecs[i] = dap.SourceBreakpoint{
			Line:         spec.Line,
			Column:       spec.Column,
			Condition:    spec.Condition,
			HitCondition: spec.HitCondition,
			LogMessage:   spec.LogMessage,
		}
	}
	verified, err := s.adapter.SetBreakpoints(ctx, sourcePath, dapSpecs)
	if err != nil {
		return nil, err
	}

	result := make([]BreakpointSpec, len(specs))
	for i, spec := range specs {
		result[i] = spec
		if i < len(verified) {
			result[i].VerifiedID = verified[i].Id
			result[i].Verified = verified[i].Verified
			result[i].VerifyMsg = verified[i].Message
		}
	}
	s.breakpointsByFile[sourcePath] = result
	s.persistBreakpointsLocked(sourcePath)
	return result, nil
}

// ClearBreakpoints removes breakpoints for path, or every file if path
// is empty, returning the count removed.
func (s *Session) ClearBreakpoints(ctx context.Context, sourcePath string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireState(StateCreated, StateLaunching, StateRunning, StatePaused); err != nil {
		return 0, err
	}
	s.touch()

	if sourcePath == "" {
		count := 0
		for path, specs := range s.breakpointsByFile {
			count += len(specs)
			delete(s.breakpointsByFile, path)
			if s.adapter != nil {
				s.adapter.SetBreakpoints(ctx, path, nil)
			}
		}
		if s.breakpoints != nil {
			_ = s.breakpoints.Clear(s.ProjectRoot)
		}
		return count, nil
	}

	existing := s.breakpointsByFile[sourcePath]
	delete(s.breakpointsByFile, sourcePath)
	if s.adapter != nil {
		if _, err := s.adapter.SetBreakpoints(ctx, sourcePath, nil); err != nil {
			return 0, err
		}
	}
	s.persistBreakpointsLocked(sourcePath)
	return len(existing), nil
}

// GetBreakpoints returns the authoritative breakpoint set for sourcePath.
func (s *Session) GetBreakpoints(sourcePath string) []BreakpointSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]BreakpointSpec(nil), s.breakpointsByFile[sourcePath]...)
}

// AddWatch appends expression if not already present.
func (s *Session) AddWatch(expression string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireState(StateCreated, StateLaunching, StateRunning, StatePaused); err != nil {
		return err
	}
	s.touch()
	for _, w := range s.watchExpressions {
		if w == expression {
			return nil
		}
	}
	s.watchExpressions = append(s.watchExpressions, expression)
	s.snapshotLocked()
	return nil
}

// RemoveWatch drops expression if present.
func (s *Session) RemoveWatch(expression string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.requireState(StateCreated, StateLaunching, StateRunning, StatePaused); err != nil {
		return err
	}
	s.touch()
	for i, w := range s.watchExpressions {
		if w == expression {
			s.watchExpressions = append(s.watchExpressions[:i], s.watchExpressions[i+1:]...)
			s.snapshotLocked()
			break
		}
	}
	return nil
}

// ListWatches returns the ordered set of tracked expressions.
func (s *Session) ListWatches() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.watchExpressions...)
}

// Pause requests a stop of thread; the transition to paused happens
// only once the "stopped" event is observed via handleAdapterEvent.
func (s *Session) Pause(ctx context.Context, threadID int) error {
	s.mu.Lock()
	if err := s.requireState(StateRunning); err != nil {
		s.mu.Unlock()
		return err
	}
	a := s.adapter
	s.touch()
	s.mu.Unlock()
	return a.Pause(ctx, threadID)
}

// Continue resumes thread (0 means all threads).
func (s *Session) Continue(ctx context.Context, threadID int) error {
	s.mu.Lock()
	if err := s.requireState(StatePaused); err != nil {
		s.mu.Unlock()
		return err
	}
	a := s.adapter
	s.touch()
	s.state = StateRunning
	s.mu.Unlock()
	if err := a.Continue(ctx, threadID); err != nil {
		s.mu.Lock()
		s.state = StatePaused
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *Session) step(ctx context.Context, threadID int, fn func(context.Context, int) error) error {
	s.mu.Lock()
	if err := s.requireState(StatePaused); err != nil {
		s.mu.Unlock()
		return err
	}
	s.touch()
	s.mu.Unlock()
	return fn(ctx, threadID)
}

// StepNext steps over the current line; the session remains paused
// until the next stop is observed.
func (s *Session) StepNext(ctx context.Context, threadID int) error {
	s.mu.Lock()
	a := s.adapter
	s.mu.Unlock()
	return s.step(ctx, threadID, a.StepNext)
}

// StepIn steps into the callee.
func (s *Session) StepIn(ctx context.Context, threadID int) error {
	s.mu.Lock()
	a := s.adapter
	s.mu.Unlock()
	return s.step(ctx, threadID, a.StepIn)
}

// StepOut steps out of the current function.
func (s *Session) StepOut(ctx context.Context, threadID int) error {
	s.mu.Lock()
	a := s.adapter
	s.mu.Unlock()
	return s.step(ctx, threadID, a.StepOut)
}

// Threads lists the debuggee's current threads.
func (s *Session) Threads(ctx context.Context) ([]dap.Thread, error) {
	s.mu.Lock()
	if err := s.requireState(StatePaused); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	a := s.adapter
	s.touch()
	s.mu.Unlock()
	return a.Threads(ctx)
}

// StackTrace returns frames for threadID.
func (s *Session) StackTrace(ctx context.Context, threadID, start, levels int) ([]dap.StackFrame, error) {
	s.mu.Lock()
	if err := s.requireState(StatePaused); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	a := s.adapter
	s.touch()
	s.mu.Unlock()
	return a.StackTrace(ctx, threadID, start, levels)
}

// Scopes returns the scopes visible in frameID.
func (s *Session) Scopes(ctx context.Context, frameID int) ([]dap.Scope, error) {
	s.mu.Lock()
	if err := s.requireState(StatePaused); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	a := s.adapter
	s.touch()
	s.mu.Unlock()
	return a.Scopes(ctx, frameID)
}

// Variables expands ref.
func (s *Session) Variables(ctx context.Context, ref, start, count int) ([]dap.Variable, error) {
	s.mu.Lock()
	if err := s.requireState(StatePaused); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	a := s.adapter
	s.touch()
	s.mu.Unlock()
	return a.Variables(ctx, ref, start, count)
}

// Evaluate evaluates expression in frameID under evalContext.
func (s *Session) Evaluate(ctx context.Context, expression string, frameID int, evalContext string) (dap.EvaluateResponseBody, error) {
	s.mu.Lock()
	if err := s.requireState(StatePaused); err != nil {
		s.mu.Unlock()
		return dap.EvaluateResponseBody{}, err
	}
	a := s.adapter
	s.touch()
	s.mu.Unlock()
	return a.Evaluate(ctx, expression, frameID, evalContext)
}

// EvaluateWatches evaluates every tracked watch expression in the
// session's current top frame. Failures on individual expressions do
// not fail the whole call.
func (s *Session) EvaluateWatches(ctx context.Context, topFrameID int) []WatchResult {
	s.mu.Lock()
	if err := s.requireState(StatePaused); err != nil {
		s.mu.Unlock()
		return nil
	}
	a := s.adapter
	exprs := append([]string(nil), s.watchExpressions...)
	s.touch()
	s.mu.Unlock()

	results := make([]WatchResult, len(exprs))
	for i, expr := range exprs {
		body, err := a.Evaluate(ctx, expr, topFrameID, "watch")
		if err != nil {
			results[i] = WatchResult{Expression: expr, Error: err.Error()}
			continue
		}
		results[i] = WatchResult{Expression: expr, Value: body.Result, Type: body.Type}
	}
	return results
}

// Info is a point-in-time view of the session for external callers.
type Info struct {
	ID               string
	Name             string
	ProjectRoot      string
	State            State
	StopReason       *StopReason
	CreatedAt        time.Time
	LastActivityAt   time.Time
	StoppedThreadID  int
	CurrentFrame     *FrameLocation
	Capabilities     map[string]bool
	WatchExpressions []string
}

// GetInfo returns a snapshot view; accepted in any state.
func (s *Session) GetInfo() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:               s.ID,
		Name:             s.Name,
		ProjectRoot:      s.ProjectRoot,
		State:            s.state,
		StopReason:       s.stopReason,
		CreatedAt:        s.CreatedAt,
		LastActivityAt:   s.lastActivityAt,
		StoppedThreadID:  s.stoppedThreadID,
		CurrentFrame:     s.currentFrame,
		Capabilities:     s.capabilities,
		WatchExpressions: append([]string(nil), s.watchExpressions...),
	}
}

// Terminate runs adapter teardown and moves the session to terminated.
// Accepted in any state; idempotent once terminal.
func (s *Session) Terminate(ctx context.Context) error {
	s.mu.Lock()
	if s.state.terminal() {
		s.mu.Unlock()
		return nil
	}
	a := s.adapter
	s.state = StateTerminated
	s.mu.Unlock()

	s.Events.Close()
	if a != nil {
		return a.Disconnect(ctx)
	}
	return nil
}
