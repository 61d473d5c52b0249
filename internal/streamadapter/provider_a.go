package streamadapter

import "encoding/json"

// ProviderARawEvent is the decoded shape of one Provider-A (Anthropic-style)
// SSE frame: discrete content-block start/delta/stop frames plus a
// structured tool-use block, matching the shape anthropic-sdk-go's typed
// stream events expose. Grounded on the content-block index tracking in
// other_examples/9bcf6af6_digitallysavvy-go-ai__pkg-providers-anthropic-language_model.go.go.
type ProviderARawEvent struct {
	Type  string // "content_block_start" | "content_block_delta" | "content_block_stop" | "message_delta" | "message_stop"
	Index int
	ContentBlock struct {
		Type  string // "text" | "tool_use" | "thinking"
		ID    string
		Name  string
		Input json.RawMessage
	}
	Delta struct {
		Type        string // "text_delta" | "input_json_delta" | "thinking_delta"
		Text        string
		PartialJSON string
		Thinking    string
	}
	StopReason string // set on message_delta when the turn concludes
}

type providerABlock struct {
	blockType string
	toolName  string
}

// ProviderAAdapter holds the in-flight content-block tracking state for a
// single turn. Not safe for concurrent use; one instance per active stream.
type ProviderAAdapter struct {
	blocks map[int]*providerABlock
}

// NewProviderAAdapter constructs an adapter for one turn.
func NewProviderAAdapter() *ProviderAAdapter {
	return &ProviderAAdapter{blocks: make(map[int]*providerABlock)}
}

// Translate consumes one raw Provider-A event and returns zero or more
// canonical events, preserving the ordering invariant in §4.H: tool_name is
// emitted once per content-block-start on a tool_use block, before any
// tool_input_delta.
func (a *ProviderAAdapter) Translate(ev ProviderARawEvent) []Event {
	switch ev.Type {
	case "content_block_start":
		block := &providerABlock{blockType: ev.ContentBlock.Type, toolName: ev.ContentBlock.Name}
		a.blocks[ev.Index] = block

		switch ev.ContentBlock.Type {
		case "tool_use":
			events := []Event{{Type: EventToolName, ToolName: ev.ContentBlock.Name, ToolUseID: ev.ContentBlock.ID}}
			if len(ev.ContentBlock.Input) > 0 && string(ev.ContentBlock.Input) != "{}" {
				events = append(events, Event{Type: EventToolInputDelta, ToolInputDelta: string(ev.ContentBlock.Input)})
			}
			return events
		default:
			return nil
		}

	case "content_block_delta":
		block := a.blocks[ev.Index]
		switch ev.Delta.Type {
		case "text_delta":
			return []Event{{Type: EventTextDelta, TextDelta: ev.Delta.Text}}
		case "thinking_delta":
			return []Event{{Type: EventThinkingDelta, ThinkingDelta: ev.Delta.Thinking}}
		case "input_json_delta":
			if block != nil && block.blockType == "tool_use" {
				return []Event{{Type: EventToolInputDelta, ToolInputDelta: ev.Delta.PartialJSON}}
			}
			return nil
		default:
			return nil
		}

	case "content_block_stop":
		delete(a.blocks, ev.Index)
		return nil

	default:
		return nil
	}
}

// ToolResultEvent builds the tool_result canonical event once the session
// has dispatched the call and obtained a result; the adapter itself never
// synthesizes tool_result for Provider A since the content-block-stop frame
// carries no result payload (the session supplies it after calling the
// MCP client).
func ToolResultEvent(result ToolResult) Event {
	return Event{Type: EventToolResult, ToolResult: &result}
}

// DoneEvent builds the terminal done canonical event.
func DoneEvent(reason DoneReason) Event {
	return Event{Type: EventDone, DoneReason: reason}
}

// ErrorEvent builds a non-fatal or fatal error canonical event.
func ErrorEvent(kind, message string) Event {
	return Event{Type: EventError, Error: &ErrorPayload{Kind: kind, Message: message}}
}
