package agent

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/vibecodingbench/vcbench/internal/task"
)

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var events []Event
	timeout := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return events
			}
			events = append(events, ev)
		case <-timeout:
			t.Fatalf("stream did not close; got %d events", len(events))
		}
	}
}

func types(events []Event) []EventType {
	out := make([]EventType, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestMockEmitsFixedScript(t *testing.T) {
	t.Parallel()

	events := collect(t, NewMock("", "").Execute(context.Background(), &task.Task{}, "prompt"))
	want := []EventType{EventThinking, EventToolUse, EventText, EventDone}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", types(events), want)
	}
	for i, ev := range events {
		if ev.Type != want[i] {
			t.Fatalf("event %d type = %s, want %s", i, ev.Type, want[i])
		}
	}
	if got := events[1].Data["file"]; got != "index.ts" {
		t.Fatalf("tool_use file = %v, want index.ts", got)
	}
	if events[2].Message != "Implementation complete" {
		t.Fatalf("text = %q", events[2].Message)
	}
}

func TestStreamAddsTerminalEvent(t *testing.T) {
	t.Parallel()

	events := collect(t, Stream(context.Background(), func(_ context.Context, em *Emitter) {
		em.Emit(Event{Type: EventText, Message: "partial"})
	}))
	if len(events) != 2 || events[1].Type != EventError {
		t.Fatalf("events = %v, want [text error]", types(events))
	}
}

func TestStreamRecoversPanic(t *testing.T) {
	t.Parallel()

	events := collect(t, Stream(context.Background(), func(_ context.Context, em *Emitter) {
		panic("boom")
	}))
	if len(events) != 1 || events[0].Type != EventError {
		t.Fatalf("events = %v, want [error]", types(events))
	}
	if !strings.Contains(events[0].Message, "boom") {
		t.Fatalf("message = %q, want panic value", events[0].Message)
	}
}

func TestStreamSingleTerminal(t *testing.T) {
	t.Parallel()

	events := collect(t, Stream(context.Background(), func(_ context.Context, em *Emitter) {
		em.Emit(Event{Type: EventDone})
		em.Emit(Event{Type: EventText, Message: "late"})
		em.Emit(Event{Type: EventError, Message: "late"})
	}))
	if len(events) != 1 || events[0].Type != EventDone {
		t.Fatalf("events = %v, want [done]", types(events))
	}
}

func TestStreamStopsOnCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	ch := Stream(ctx, func(ctx context.Context, em *Emitter) {
		defer close(stopped)
		for em.Emit(Event{Type: EventThinking}) {
		}
	})

	<-ch
	cancel()

	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("producer did not stop after cancellation")
	}
	collect(t, ch)
}

func TestSystemPromptMentionsTask(t *testing.T) {
	t.Parallel()

	got := SystemPrompt(&task.Task{Name: "Todo API", Description: "build it", Stack: "go"})
	for _, want := range []string{"Task: Todo API", "Description: build it", "Stack: go"} {
		if !strings.Contains(got, want) {
			t.Fatalf("SystemPrompt() missing %q:\n%s", want, got)
		}
	}
}

func TestTransportErrorMessage(t *testing.T) {
	t.Parallel()

	got := (&TransportError{Vendor: "claude", StatusCode: 429, Body: " slow down\n"}).Error()
	if want := "claude API error: 429 - slow down"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
	if got := (&TransportError{Vendor: "glm", Err: context.DeadlineExceeded}).Error(); !strings.Contains(got, "deadline") {
		t.Fatalf("Error() = %q, want the cause", got)
	}
}
