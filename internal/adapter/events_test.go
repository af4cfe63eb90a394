package adapter

import (
	"encoding/json"
	"testing"
)

func newTestAdapter() (*Adapter, *[]struct {
	kind string
	body any
}) {
	var got []struct {
		kind string
		body any
	}
	a := &Adapter{onEvent: func(kind string, body any) {
		got = append(got, struct {
			kind string
			body any
		}{kind, body})
	}}
	return a, &got
}

func TestDispatchEventTranslatesStopped(t *testing.T) {
	a, got := newTestAdapter()
	raw := json.RawMessage(`{"reason":"breakpoint","threadId":3,"allThreadsStopped":true}`)
	a.dispatchEvent("stopped", raw)

	if len(*got) != 1 {
		t.Fatalf("expected 1 dispatched event, got %d", len(*got))
	}
	body, ok := (*got)[0].body.(StoppedBody)
	if !ok {
		t.Fatalf("expected StoppedBody, got %T", (*got)[0].body)
	}
	if body.Reason != "breakpoint" || body.ThreadID != 3 || !body.AllThreadsStopped {
		t.Errorf("unexpected stopped body: %+v", body)
	}
}

func TestDispatchEventTranslatesOutputWithSource(t *testing.T) {
	a, got := newTestAdapter()
	raw := json.RawMessage(`{"category":"stdout","output":"hello\n","source":{"path":"/tmp/a.py"},"line":7}`)
	a.dispatchEvent("output", raw)

	body := (*got)[0].body.(OutputBody)
	if body.Category != "stdout" || body.Text != "hello\n" || body.Source != "/tmp/a.py" || body.Line != 7 {
		t.Errorf("unexpected output body: %+v", body)
	}
}

func TestDispatchEventIgnoresUnknownEvent(t *testing.T) {
	a, got := newTestAdapter()
	a.dispatchEvent("invalidated", json.RawMessage(`{}`))
	if len(*got) != 0 {
		t.Fatalf("expected unrecognized event to be dropped, got %d dispatched", len(*got))
	}
}

func TestDispatchEventSkipsMalformedBody(t *testing.T) {
	a, got := newTestAdapter()
	a.dispatchEvent("stopped", json.RawMessage(`not json`))
	if len(*got) != 0 {
		t.Fatalf("expected malformed body to be dropped, got %d dispatched", len(*got))
	}
}

func TestDispatchEventToleratesMissingTerminatedBody(t *testing.T) {
	a, got := newTestAdapter()
	a.dispatchEvent("terminated", json.RawMessage(`{}`))
	if len(*got) != 1 {
		t.Fatalf("expected terminated event to still dispatch, got %d", len(*got))
	}
	body := (*got)[0].body.(TerminatedBody)
	if body.Restart {
		t.Errorf("expected Restart false by default, got true")
	}
}

func TestDispatchEventNoopWithoutHandler(t *testing.T) {
	a := &Adapter{}
	a.dispatchEvent("stopped", json.RawMessage(`{"reason":"pause"}`))
}
