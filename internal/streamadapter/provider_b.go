package streamadapter

import "sort"

// ProviderBRawEvent is the decoded shape of one Provider-B (OpenAI-style)
// chat-completion stream chunk: incremental JSON deltas keyed by tool-call
// index, matching go-openai's ChatCompletionStreamChoiceDelta shape.
type ProviderBRawEvent struct {
	Choices []ProviderBChoice
}

// ProviderBChoice is one choice delta within a chunk. Real responses carry
// exactly one; the slice shape matches the wire format.
type ProviderBChoice struct {
	Delta        ProviderBDelta
	FinishReason string // "" while streaming; "stop" | "tool_calls" | "length" on the final chunk
}

// ProviderBDelta is the incremental content of one chunk.
type ProviderBDelta struct {
	Content   string
	ToolCalls []ProviderBToolCallDelta
}

// ProviderBToolCallDelta is one fragment of one tool call, addressed by
// Index since OpenAI-style providers can interleave fragments of multiple
// concurrent tool calls within a single turn.
type ProviderBToolCallDelta struct {
	Index        int
	ID           string
	FunctionName string
	ArgumentsFragment string
}

type providerBToolCall struct {
	id           string
	name         string
	nameEmitted  bool
	argsBuilder  []byte
}

// ProviderBAdapter accumulates per-index tool-call fragments across chunks
// and synthesizes the tool_result envelope is NOT done here — Provider B
// never reports the tool result inline (spec §4.H: "the adapter ...
// synthesizes the tool_result envelope from the post-call reply"), so the
// caller supplies it via ToolResultEvent once the session has dispatched the
// call.
type ProviderBAdapter struct {
	calls map[int]*providerBToolCall
}

// NewProviderBAdapter constructs an adapter for one turn.
func NewProviderBAdapter() *ProviderBAdapter {
	return &ProviderBAdapter{calls: make(map[int]*providerBToolCall)}
}

// Translate consumes one raw Provider-B chunk and returns zero or more
// canonical events.
func (a *ProviderBAdapter) Translate(ev ProviderBRawEvent) []Event {
	var out []Event
	for _, choice := range ev.Choices {
		if choice.Delta.Content != "" {
			out = append(out, Event{Type: EventTextDelta, TextDelta: choice.Delta.Content})
		}
		for _, frag := range choice.Delta.ToolCalls {
			out = append(out, a.translateToolFragment(frag)...)
		}
	}
	return out
}

func (a *ProviderBAdapter) translateToolFragment(frag ProviderBToolCallDelta) []Event {
	call, exists := a.calls[frag.Index]
	if !exists {
		call = &providerBToolCall{id: frag.ID, name: frag.FunctionName}
		a.calls[frag.Index] = call
	}

	var out []Event
	if !call.nameEmitted && call.name != "" {
		out = append(out, Event{Type: EventToolName, ToolName: call.name, ToolUseID: call.id})
		call.nameEmitted = true
	}
	if frag.ArgumentsFragment != "" {
		call.argsBuilder = append(call.argsBuilder, frag.ArgumentsFragment...)
		out = append(out, Event{Type: EventToolInputDelta, ToolInputDelta: frag.ArgumentsFragment})
	}
	return out
}

// PendingToolCalls returns the accumulated (name, arguments-JSON) pairs for
// tool calls whose name has been emitted, in the index order the model
// originally emitted them. Iterating a.calls directly would yield Go's
// randomized map order, dispatching concurrent tool calls out of emission
// order.
func (a *ProviderBAdapter) PendingToolCalls() []PendingToolCall {
	indices := make([]int, 0, len(a.calls))
	for idx := range a.calls {
		indices = append(indices, idx)
	}
	sort.Ints(indices)

	out := make([]PendingToolCall, 0, len(indices))
	for _, idx := range indices {
		call := a.calls[idx]
		if !call.nameEmitted {
			continue
		}
		out = append(out, PendingToolCall{ID: call.id, Name: call.name, ArgumentsJSON: string(call.argsBuilder)})
	}
	return out
}

// PendingToolCall is one fully-accumulated tool call ready for dispatch.
type PendingToolCall struct {
	ID            string
	Name          string
	ArgumentsJSON string
}
