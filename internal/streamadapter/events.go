// Package streamadapter implements the stream adapter (spec §4.H): it
// translates provider-specific streamed events into the canonical event
// alphabet (text_delta, thinking_delta, tool_name, tool_input_delta,
// tool_result, error, done) and enforces the turn-level ordering invariant
// "[thinking_delta*] ([tool_name tool_input_delta* tool_result]*
// [text_delta*])* done".
package streamadapter

import "encoding/json"

// EventType names one member of the canonical event alphabet.
type EventType string

const (
	EventTextDelta      EventType = "text_delta"
	EventThinkingDelta  EventType = "thinking_delta"
	EventToolName       EventType = "tool_name"
	EventToolInputDelta EventType = "tool_input_delta"
	EventToolResult     EventType = "tool_result"
	EventError          EventType = "error"
	EventDone           EventType = "done"
)

// DoneReason is the terminal reason carried by a done event.
type DoneReason string

const (
	DoneComplete  DoneReason = "complete"
	DoneCancelled DoneReason = "cancelled"
	DoneFailed    DoneReason = "failed"
)

// ToolResult is the payload of a tool_result canonical event.
type ToolResult struct {
	ServerID string          `json:"server_id"`
	ToolName string          `json:"tool_name"`
	IsError  bool            `json:"is_error"`
	Content  []ResultContent `json:"content"`
}

// ResultContent is one typed content block inside a ToolResult.
type ResultContent struct {
	Type string          `json:"type"` // "text" | "image" | "structured"
	Text string          `json:"text,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ErrorPayload is the payload of an error canonical event.
type ErrorPayload struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Event is one canonical event in the adapter's output stream.
type Event struct {
	Type EventType

	TextDelta      string
	ThinkingDelta  string
	ToolName       string
	ToolUseID      string
	ToolInputDelta string
	ToolResult     *ToolResult
	Error          *ErrorPayload
	DoneReason     DoneReason
}
