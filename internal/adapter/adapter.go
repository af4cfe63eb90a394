// Package adapter owns the lifetime of a debug-adapter subprocess and
// exposes a typed request surface on top of internal/dap's generic
// framing client. It decodes response and event bodies into the
// github.com/google/go-dap wire structs and translates DAP events into
// the relay's internal event vocabulary.
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/go-dap"

	pybuggerdap "github.com/wilfoa/pybugger-relay/internal/dap"
)

// ErrorKind mirrors the relay's adapter-level error taxonomy.
type ErrorKind string

const (
	ErrNotInitialized ErrorKind = "DAP_NOT_INITIALIZED"
	ErrLaunchFailed   ErrorKind = "LAUNCH_FAILED"
	ErrAttachFailed   ErrorKind = "ATTACH_FAILED"
	ErrConnection     ErrorKind = "DAP_CONNECTION_ERROR"
	ErrTimeout        ErrorKind = "DEBUGPY_TIMEOUT"
)

// Error wraps an adapter-level failure with its taxonomy kind.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("adapter: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("adapter: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// LaunchConfig is the relay's explicit launch contract; exactly one of
// Program or Module must be set.
type LaunchConfig struct {
	Program             string
	Module              string
	Args                []string
	PythonArgs          []string
	Cwd                 string
	Env                 map[string]string
	StopOnEntry         bool
	ConsoleMode         string
	TargetInterpreter   string
}

// AttachConfig is the relay's explicit attach contract.
type AttachConfig struct {
	PID            int
	Host           string
	Port           int
	ConnectTimeout time.Duration
}

// ExceptionFilters enumerates the three DAP exception-breakpoint
// semantics the relay exposes.
type ExceptionFilters struct {
	Uncaught bool
	Raised   bool
	Never    bool
}

// DefaultRequestTimeout and DefaultLaunchTimeout are the deadlines an
// Adapter uses absent a WithTimeouts override; exported so callers
// assembling options from partial configuration can fall back to them
// for whichever half wasn't explicitly configured.
const (
	DefaultRequestTimeout = 30 * time.Second
	DefaultLaunchTimeout  = 60 * time.Second
	disconnectGrace       = 5 * time.Second
)

// EventHandler receives the relay's internal event vocabulary, already
// translated from DAP wire events.
type EventHandler func(kind string, body any)

// rwc joins a subprocess's stdin and stdout into one duplex stream.
type rwc struct {
	io.Reader
	io.Writer
	stdin io.Closer
}

func (r *rwc) Close() error {
	return r.stdin.Close()
}

// Adapter spawns and owns one debug-adapter subprocess.
type Adapter struct {
	cmd    *exec.Cmd
	client *pybuggerdap.Client

	mu          sync.Mutex
	initialized bool
	capabilities map[string]bool

	onEvent EventHandler

	requestTimeout time.Duration
	launchTimeout  time.Duration

	stopped atomic.Bool
}

// New spawns the adapter subprocess (command + args, typically something
// like "python -m debugpy.adapter" or "dlv dap") and wires its stdio to
// a DAP client. The subprocess is not yet sent "initialize" — call
// Initialize for that.
func New(ctx context.Context, name string, args []string, onEvent EventHandler, opts ...Option) (*Adapter, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Env = os.Environ()

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, &Error{Kind: ErrLaunchFailed, Message: "open stdin pipe", Cause: err}
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, &Error{Kind: ErrLaunchFailed, Message: "open stdout pipe", Cause: err}
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		return nil, &Error{Kind: ErrLaunchFailed, Message: "start subprocess", Cause: err}
	}

	a := &Adapter{
		cmd:            cmd,
		onEvent:        onEvent,
		requestTimeout: DefaultRequestTimeout,
		launchTimeout:  DefaultLaunchTimeout,
	}
	for _, opt := range opts {
		opt(a)
	}

	stream := &rwc{Reader: stdout, Writer: stdin, stdin: stdin}
	a.client = pybuggerdap.NewClient(stream, a.dispatchEvent)
	return a, nil
}

// Option configures an Adapter at construction time.
type Option func(*Adapter)

// WithTimeouts overrides the default per-request and launch deadlines.
func WithTimeouts(request, launch time.Duration) Option {
	return func(a *Adapter) {
		a.requestTimeout = request
		a.launchTimeout = launch
	}
}

func (a *Adapter) checkInitialized() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.initialized {
		return &Error{Kind: ErrNotInitialized, Message: "adapter has not completed initialize"}
	}
	return nil
}

// Initialize issues the DAP "initialize" request and records the
// returned capability set.
func (a *Adapter) Initialize(ctx context.Context, clientID string) (map[string]bool, error) {
	args := dap.InitializeRequestArguments{
		ClientID:                     clientID,
		AdapterID:                    "pybugger-relay",
		LinesStartAt1:                true,
		ColumnsStartAt1:              true,
		SupportsVariablePaging:       true,
		SupportsVariableType:         true,
		PathFormat:                   "path",
	}
	body, err := a.client.SendRequest(ctx, "initialize", args, a.requestTimeout)
	if err != nil {
		return nil, translateClientErr(err)
	}

	var caps dap.Capabilities
	if len(body) > 0 {
		if err := json.Unmarshal(body, &caps); err != nil {
			return nil, &Error{Kind: ErrConnection, Message: "decode capabilities", Cause: err}
		}
	}

	capMap := capabilitiesToMap(caps)
	a.mu.Lock()
	a.initialized = true
	a.capabilities = capMap
	a.mu.Unlock()
	return capMap, nil
}

func capabilitiesToMap(c dap.Capabilities) map[string]bool {
	return map[string]bool{
		"supportsConfigurationDoneRequest": c.SupportsConfigurationDoneRequest,
		"supportsFunctionBreakpoints":      c.SupportsFunctionBreakpoints,
		"supportsConditionalBreakpoints":   c.SupportsConditionalBreakpoints,
		"supportsHitConditionalBreakpoints": c.SupportsHitConditionalBreakpoints,
		"supportsEvaluateForHovers":        c.SupportsEvaluateForHovers,
		"supportsStepBack":                 c.SupportsStepBack,
		"supportsSetVariable":              c.SupportsSetVariable,
		"supportsRestartFrame":             c.SupportsRestartFrame,
		"supportsLogPoints":                c.SupportsLogPoints,
		"supportsExceptionOptions":         c.SupportsExceptionOptions,
		"supportsValueFormattingOptions":   c.SupportsValueFormattingOptions,
		"supportTerminateDebuggee":         c.SupportTerminateDebuggee,
	}
}

// Launch issues the DAP "launch" request.
func (a *Adapter) Launch(ctx context.Context, cfg LaunchConfig) error {
	if err := a.checkInitialized(); err != nil {
		return err
	}
	args := map[string]any{
		"args":        cfg.Args,
		"pythonArgs":  cfg.PythonArgs,
		"cwd":         cfg.Cwd,
		"env":         cfg.Env,
		"stopOnEntry": cfg.StopOnEntry,
		"console":     cfg.ConsoleMode,
	}
	if cfg.Program != "" {
		args["program"] = cfg.Program
	}
	if cfg.Module != "" {
		args["module"] = cfg.Module
	}
	if cfg.TargetInterpreter != "" {
		args["pythonPath"] = cfg.TargetInterpreter
	}
	if _, err := a.client.SendRequest(ctx, "launch", args, a.launchTimeout); err != nil {
		return &Error{Kind: ErrLaunchFailed, Message: "launch request", Cause: translateClientErr(err)}
	}
	return nil
}

// Attach issues the DAP "attach" request.
func (a *Adapter) Attach(ctx context.Context, cfg AttachConfig) error {
	if err := a.checkInitialized(); err != nil {
		return err
	}
	args := map[string]any{}
	if cfg.PID != 0 {
		args["processId"] = cfg.PID
	} else {
		args["host"] = cfg.Host
		args["port"] = cfg.Port
	}
	timeout := a.launchTimeout
	if cfg.ConnectTimeout > 0 {
		timeout = cfg.ConnectTimeout
	}
	if _, err := a.client.SendRequest(ctx, "attach", args, timeout); err != nil {
		return &Error{Kind: ErrAttachFailed, Message: "attach request", Cause: translateClientErr(err)}
	}
	return nil
}

// SetBreakpoints replaces the adapter-side breakpoint set for one file
// and returns the adapter's verification results.
func (a *Adapter) SetBreakpoints(ctx context.Context, sourcePath string, lines []dap.SourceBreakpoint) ([]dap.Breakpoint, error) {
	if err := a.checkInitialized(); err != nil {
		return nil, err
	}
	args := dap.SetBreakpointsArguments{
		Source:      dap.Source{Path: sourcePath},
		Breakpoints: lines,
	}
	body, err := a.client.SendRequest(ctx, "setBreakpoints", args, a.requestTimeout)
	if err != nil {
		return nil, translateClientErr(err)
	}
	var resp dap.SetBreakpointsResponseBody
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &Error{Kind: ErrConnection, Message: "decode setBreakpoints response", Cause: err}
	}
	return resp.Breakpoints, nil
}

// SetExceptionBreakpoints translates the relay's three-way filter set
// into the filter list of the adapter's setExceptionBreakpoints request;
// no exceptionOptions are sent.
func (a *Adapter) SetExceptionBreakpoints(ctx context.Context, filters ExceptionFilters) error {
	if err := a.checkInitialized(); err != nil {
		return err
	}
	var names []string
	if filters.Uncaught {
		names = append(names, "uncaught")
	}
	if filters.Raised {
		names = append(names, "raised")
	}
	if filters.Never {
		names = append(names, "never")
	}
	args := dap.SetExceptionBreakpointsArguments{Filters: names}
	if _, err := a.client.SendRequest(ctx, "setExceptionBreakpoints", args, a.requestTimeout); err != nil {
		return translateClientErr(err)
	}
	return nil
}

// Continue resumes execution of thread (or all threads if threadID is 0).
func (a *Adapter) Continue(ctx context.Context, threadID int) error {
	if err := a.checkInitialized(); err != nil {
		return err
	}
	_, err := a.client.SendRequest(ctx, "continue", dap.ContinueArguments{ThreadId: threadID}, a.requestTimeout)
	return translateClientErr(err)
}

// Pause requests a stop of thread.
func (a *Adapter) Pause(ctx context.Context, threadID int) error {
	if err := a.checkInitialized(); err != nil {
		return err
	}
	_, err := a.client.SendRequest(ctx, "pause", dap.PauseArguments{ThreadId: threadID}, a.requestTimeout)
	return translateClientErr(err)
}

// StepNext steps over the current line.
func (a *Adapter) StepNext(ctx context.Context, threadID int) error {
	if err := a.checkInitialized(); err != nil {
		return err
	}
	_, err := a.client.SendRequest(ctx, "next", dap.NextArguments{ThreadId: threadID}, a.requestTimeout)
	return translateClientErr(err)
}

// StepIn steps into the callee at the current line.
func (a *Adapter) StepIn(ctx context.Context, threadID int) error {
	if err := a.checkInitialized(); err != nil {
		return err
	}
	_, err := a.client.SendRequest(ctx, "stepIn", dap.StepInArguments{ThreadId: threadID}, a.requestTimeout)
	return translateClientErr(err)
}

// StepOut steps out of the current function.
func (a *Adapter) StepOut(ctx context.Context, threadID int) error {
	if err := a.checkInitialized(); err != nil {
		return err
	}
	_, err := a.client.SendRequest(ctx, "stepOut", dap.StepOutArguments{ThreadId: threadID}, a.requestTimeout)
	return translateClientErr(err)
}

// Threads lists the debuggee's current threads.
func (a *Adapter) Threads(ctx context.Context) ([]dap.Thread, error) {
	if err := a.checkInitialized(); err != nil {
		return nil, err
	}
	body, err := a.client.SendRequest(ctx, "threads", nil, a.requestTimeout)
	if err != nil {
		return nil, translateClientErr(err)
	}
	var resp dap.ThreadsResponseBody
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &Error{Kind: ErrConnection, Message: "decode threads response", Cause: err}
	}
	return resp.Threads, nil
}

// StackTrace returns up to levels frames for threadID starting at start.
func (a *Adapter) StackTrace(ctx context.Context, threadID, start, levels int) ([]dap.StackFrame, error) {
	if err := a.checkInitialized(); err != nil {
		return nil, err
	}
	args := dap.StackTraceArguments{ThreadId: threadID, StartFrame: start, Levels: levels}
	body, err := a.client.SendRequest(ctx, "stackTrace", args, a.requestTimeout)
	if err != nil {
		return nil, translateClientErr(err)
	}
	var resp dap.StackTraceResponseBody
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &Error{Kind: ErrConnection, Message: "decode stackTrace response", Cause: err}
	}
	return resp.StackFrames, nil
}

// Scopes returns the variable scopes visible in frameID.
func (a *Adapter) Scopes(ctx context.Context, frameID int) ([]dap.Scope, error) {
	if err := a.checkInitialized(); err != nil {
		return nil, err
	}
	body, err := a.client.SendRequest(ctx, "scopes", dap.ScopesArguments{FrameId: frameID}, a.requestTimeout)
	if err != nil {
		return nil, translateClientErr(err)
	}
	var resp dap.ScopesResponseBody
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &Error{Kind: ErrConnection, Message: "decode scopes response", Cause: err}
	}
	return resp.Scopes, nil
}

// Variables expands the variablesReference ref, optionally paged.
func (a *Adapter) Variables(ctx context.Context, ref, start, count int) ([]dap.Variable, error) {
	if err := a.checkInitialized(); err != nil {
		return nil, err
	}
	args := dap.VariablesArguments{VariablesReference: ref, Start: start, Count: count}
	body, err := a.client.SendRequest(ctx, "variables", args, a.requestTimeout)
	if err != nil {
		return nil, translateClientErr(err)
	}
	var resp dap.VariablesResponseBody
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, &Error{Kind: ErrConnection, Message: "decode variables response", Cause: err}
	}
	return resp.Variables, nil
}

// Evaluate evaluates expression in the given frame and context
// (watch, repl, or hover).
func (a *Adapter) Evaluate(ctx context.Context, expression string, frameID int, evalContext string) (dap.EvaluateResponseBody, error) {
	if err := a.checkInitialized(); err != nil {
		return dap.EvaluateResponseBody{}, err
	}
	args := dap.EvaluateArguments{Expression: expression, FrameId: frameID, Context: evalContext}
	body, err := a.client.SendRequest(ctx, "evaluate", args, a.requestTimeout)
	if err != nil {
		return dap.EvaluateResponseBody{}, translateClientErr(err)
	}
	var resp dap.EvaluateResponseBody
	if err := json.Unmarshal(body, &resp); err != nil {
		return dap.EvaluateResponseBody{}, &Error{Kind: ErrConnection, Message: "decode evaluate response", Cause: err}
	}
	return resp, nil
}

// Disconnect asks the adapter to terminate the debuggee, stops the DAP
// client, and kills the subprocess if it does not exit within the grace
// window.
func (a *Adapter) Disconnect(ctx context.Context) error {
	if a.stopped.Swap(true) {
		return nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, a.requestTimeout)
	defer cancel()
	_, _ = a.client.SendRequest(reqCtx, "disconnect", dap.DisconnectArguments{TerminateDebuggee: true}, a.requestTimeout)

	_ = a.client.Stop()

	done := make(chan error, 1)
	go func() { done <- a.cmd.Wait() }()

	select {
	case <-done:
	case <-time.After(disconnectGrace):
		if a.cmd.Process != nil {
			_ = a.cmd.Process.Signal(os.Interrupt)
			select {
			case <-done:
			case <-time.After(disconnectGrace):
				_ = a.cmd.Process.Kill()
				<-done
			}
		}
	}
	return nil
}

func translateClientErr(err error) error {
	if err == nil {
		return nil
	}
	var dapErr *pybuggerdap.Error
	if e, ok := err.(*pybuggerdap.Error); ok {
		dapErr = e
	}
	if dapErr == nil {
		return &Error{Kind: ErrConnection, Message: err.Error(), Cause: err}
	}
	switch dapErr.Kind {
	case pybuggerdap.ErrTimeout:
		return &Error{Kind: ErrTimeout, Message: dapErr.Message, Cause: dapErr}
	case pybuggerdap.ErrConnection:
		return &Error{Kind: ErrConnection, Message: dapErr.Message, Cause: dapErr}
	default:
		return &Error{Kind: ErrConnection, Message: dapErr.Message, Cause: dapErr}
	}
}
