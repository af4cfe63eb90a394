package adapter

import (
	"encoding/json"

	"github.com/google/go-dap"
)

// Event kinds the relay understands; these are the "internal event
// vocabulary" DAP wire events map onto.
const (
	EventStopped    = "stopped"
	EventContinued  = "continued"
	EventTerminated = "terminated"
	EventOutput     = "output"
	EventBreakpoint = "breakpoint"
	EventThread     = "thread"
	EventModule     = "module"
)

// StoppedBody is the relay-internal shape of a "stopped" event.
type StoppedBody struct {
	Reason            string `json:"reason"`
	Description       string `json:"description,omitempty"`
	ThreadID          int    `json:"thread_id"`
	AllThreadsStopped bool   `json:"all_threads_stopped"`
	Text              string `json:"text,omitempty"`
}

// ContinuedBody is the relay-internal shape of a "continued" event.
type ContinuedBody struct {
	ThreadID            int  `json:"thread_id"`
	AllThreadsContinued bool `json:"all_threads_continued"`
}

// TerminatedBody is the relay-internal shape of a "terminated" event.
type TerminatedBody struct {
	Restart bool `json:"restart"`
}

// OutputBody is the relay-internal shape of an "output" event.
type OutputBody struct {
	Category string `json:"category"`
	Text     string `json:"text"`
	Source   string `json:"source,omitempty"`
	Line     int    `json:"line,omitempty"`
}

// BreakpointEventBody is the relay-internal shape of a "breakpoint" event.
type BreakpointEventBody struct {
	Reason     string        `json:"reason"`
	Breakpoint dap.Breakpoint `json:"breakpoint"`
}

// ThreadEventBody is the relay-internal shape of a "thread" event.
type ThreadEventBody struct {
	Reason   string `json:"reason"`
	ThreadID int    `json:"thread_id"`
}

// ModuleEventBody is the relay-internal shape of a "module" event.
type ModuleEventBody struct {
	Reason string    `json:"reason"`
	Module dap.Module `json:"module"`
}

// dispatchEvent decodes a raw DAP event body using go-dap's typed
// structs and hands the translated (kind, body) pair to the configured
// EventHandler. Event names the relay does not track are dropped.
func (a *Adapter) dispatchEvent(event string, raw json.RawMessage) {
	if a.onEvent == nil {
		return
	}

	switch event {
	case "stopped":
		var body dap.StoppedEventBody
		if err := json.Unmarshal(raw, &body); err != nil {
			return
		}
		a.onEvent(EventStopped, StoppedBody{
			Reason:            body.Reason,
			Description:       body.Description,
			ThreadID:          body.ThreadId,
			AllThreadsStopped: body.AllThreadsStopped,
			Text:              body.Text,
		})
	case "continued":
		var body dap.ContinuedEventBody
		if err := json.Unmarshal(raw, &body); err != nil {
			return
		}
		a.onEvent(EventContinued, ContinuedBody{
			ThreadID:            body.ThreadId,
			AllThreadsContinued: body.AllThreadsContinued,
		})
	case "terminated":
		var body dap.TerminatedEventBody
		_ = json.Unmarshal(raw, &body)
		a.onEvent(EventTerminated, TerminatedBody{Restart: body.Restart})
	case "output":
		var body dap.OutputEventBody
		if err := json.Unmarshal(raw, &body); err != nil {
			return
		}
		source := ""
		if body.Source != nil {
			source = body.Source.Path
		}
		a.onEvent(EventOutput, OutputBody{
			Category: body.Category,
			Text:     body.Output,
			Source:   source,
			Line:     body.Line,
		})
	case "breakpoint":
		var body dap.BreakpointEventBody
		if err := json.Unmarshal(raw, &body); err != nil {
			return
		}
		a.onEvent(EventBreakpoint, BreakpointEventBody{Reason: body.Reason, Breakpoint: body.Breakpoint})
	case "thread":
		var body dap.ThreadEventBody
		if err := json.Unmarshal(raw, &body); err != nil {
			return
		}
		a.onEvent(EventThread, ThreadEventBody{Reason: body.Reason, ThreadID: body.ThreadId})
	case "module":
		var body dap.ModuleEventBody
		if err := json.Unmarshal(raw, &body); err != nil {
			return
		}
		a.onEvent(EventModule, ModuleEventBody{Reason: body.Reason, Module: body.Module})
	default:
		// Unrecognized event name: not part of the relay's vocabulary.
	}
}
