package agent

import "github.com/tripweave/tripweave/pkg/models"

// Event is one increment of an in-progress agent turn. Implementations
// form a closed set: TextDelta, ToolCallStart, ToolCallDone.
type Event interface {
	isEvent()
}

// TextDelta carries a fragment of assistant text.
type TextDelta struct {
	Text string
}

// ToolCallStart announces that the model requested a tool invocation.
type ToolCallStart struct {
	Call models.ToolCall
}

// ToolCallDone carries the outcome of a tool invocation.
type ToolCallDone struct {
	Result models.ToolResult
}

func (TextDelta) isEvent()     {}
func (ToolCallStart) isEvent() {}
func (ToolCallDone) isEvent()  {}
