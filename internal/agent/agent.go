// Package agent defines the event stream every coding agent produces and the
// adapters that turn vendor APIs into that stream.
package agent

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vibecodingbench/vcbench/internal/task"
)

// EventType classifies a stream event.
type EventType string

const (
	EventThinking EventType = "thinking"
	EventToolUse  EventType = "tool_use"
	EventText     EventType = "text"
	EventError    EventType = "error"
	EventDone     EventType = "done"
)

// Event is one unit of agent progress.
type Event struct {
	Type    EventType      `json:"type"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
	Usage   *Usage         `json:"usage,omitempty"`
}

// Terminal reports whether the event ends a stream.
func (e Event) Terminal() bool {
	return e.Type == EventDone || e.Type == EventError
}

// Usage is the token accounting reported on a done event. Zero fields mean
// the vendor did not report them.
type Usage struct {
	InputTokens  int    `json:"input_tokens,omitempty"`
	OutputTokens int    `json:"output_tokens,omitempty"`
	TotalTokens  int    `json:"total_tokens,omitempty"`
	Model        string `json:"model,omitempty"`
}

// Agent produces a finite, ordered stream of events for one task. The stream
// ends with exactly one done or error event and is then closed. Producers stop
// when ctx is cancelled; the channel is closed in that case too.
type Agent interface {
	Name() string
	Model() string
	Execute(ctx context.Context, t *task.Task, prompt string) <-chan Event
}

// ErrUnknownAgent is returned for names no registry entry or config knows.
var ErrUnknownAgent = errors.New("unknown agent")

// TransportError is a failed vendor call. It only ever reaches callers as the
// message of an error event.
type TransportError struct {
	Vendor     string
	StatusCode int
	Body       string
	Err        error
}

func (e *TransportError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("%s API error: %d - %s", e.Vendor, e.StatusCode, strings.TrimSpace(e.Body))
	case e.Err != nil:
		return fmt.Sprintf("%s request failed: %v", e.Vendor, e.Err)
	default:
		return e.Vendor + " request failed"
	}
}

func (e *TransportError) Unwrap() error { return e.Err }

// Emitter sends events on behalf of a producer goroutine.
type Emitter struct {
	ctx      context.Context
	ch       chan<- Event
	terminal bool
}

// Emit delivers ev. It returns false when the consumer has gone away or the
// stream already ended, after which the producer must return.
func (e *Emitter) Emit(ev Event) bool {
	if e.terminal || e.ctx.Err() != nil {
		return false
	}
	select {
	case <-e.ctx.Done():
		return false
	case e.ch <- ev:
		if ev.Terminal() {
			e.terminal = true
			return false
		}
		return true
	}
}

// Fail emits an error event built from err.
func (e *Emitter) Fail(err error) {
	e.Emit(Event{Type: EventError, Message: err.Error()})
}

// Stream runs produce in a goroutine and returns its events. A panic or a
// producer that returns without a terminal event yields an error event.
func Stream(ctx context.Context, produce func(ctx context.Context, em *Emitter)) <-chan Event {
	ch := make(chan Event)

	go func() {
		defer close(ch)
		em := &Emitter{ctx: ctx, ch: ch}
		defer func() {
			if r := recover(); r != nil {
				em.Emit(Event{Type: EventError, Message: fmt.Sprintf("agent panicked: %v", r)})
				return
			}
			if !em.terminal {
				em.Emit(Event{Type: EventError, Message: "agent stream ended without a result"})
			}
		}()
		produce(ctx, em)
	}()

	return ch
}

// SystemPrompt is the instruction block sent ahead of the task prompt.
func SystemPrompt(t *task.Task) string {
	var sb strings.Builder
	sb.WriteString("You are an AI coding agent. Complete the following task by writing code.\n\n")
	fmt.Fprintf(&sb, "Task: %s\n", t.Name)
	fmt.Fprintf(&sb, "Description: %s\n", strings.TrimSpace(t.Description))
	if t.Stack != "" {
		fmt.Fprintf(&sb, "Stack: %s\n", t.Stack)
	}
	sb.WriteString("\nRespond with your implementation plan and code. Put every file in its own fenced ")
	sb.WriteString("code block and name the file after the language, for example ```ts src/index.ts.")
	return sb.String()
}

func doneEvent(u Usage) Event {
	return Event{Type: EventDone, Message: "Completed", Usage: &u}
}
