package agent

import (
	"context"

	"github.com/vibecodingbench/vcbench/internal/task"
)

// Mock is an offline agent that emits a fixed four-event script.
type Mock struct {
	name  string
	model string
}

// NewMock returns a mock agent.
func NewMock(name, model string) *Mock {
	if name == "" {
		name = "mock"
	}
	if model == "" {
		model = "mock-v1"
	}
	return &Mock{name: name, model: model}
}

func (m *Mock) Name() string  { return m.name }
func (m *Mock) Model() string { return m.model }

// Execute emits thinking, tool_use, text and done, in that order.
func (m *Mock) Execute(ctx context.Context, _ *task.Task, _ string) <-chan Event {
	return Stream(ctx, func(_ context.Context, em *Emitter) {
		script := []Event{
			{Type: EventThinking, Message: "Mock thinking..."},
			{Type: EventToolUse, Message: "Writing file...", Data: map[string]any{"file": "index.ts"}},
			{Type: EventText, Message: "Implementation complete"},
			{Type: EventDone, Message: "Completed"},
		}
		for _, ev := range script {
			if !em.Emit(ev) {
				return
			}
		}
	})
}
