package agentsession

import (
	"strings"
	"sync"

	"agentgw/internal/llmclient"
	"agentgw/internal/streamadapter"
)

// PendingToolCall is one fully-accumulated tool invocation the upstream
// model requested during a turn, ready for dispatch to an MCP client.
type PendingToolCall struct {
	ID            string
	Name          string
	ArgumentsJSON string
}

type pendingToolA struct {
	id   string
	name string
	args strings.Builder
}

// turnRunner implements llmclient.RawEventSink for a single upstream Stream
// call: it forwards every translated canonical event to emit while also
// accumulating the assistant's text/tool-use output so the session can
// append a single assistant Message to history and dispatch any completed
// tool calls once the stream ends.
type turnRunner struct {
	emit func(streamadapter.Event)

	providerA *streamadapter.ProviderAAdapter
	providerB *streamadapter.ProviderBAdapter

	mu         sync.Mutex
	text       strings.Builder
	thinking   strings.Builder
	pendingA   map[int]*pendingToolA
	orderA     []int
	completedA []PendingToolCall
}

func newTurnRunner(provider llmclient.ProviderKind, emit func(streamadapter.Event)) *turnRunner {
	r := &turnRunner{emit: emit, pendingA: make(map[int]*pendingToolA)}
	switch provider {
	case llmclient.ProviderAnthropic:
		r.providerA = streamadapter.NewProviderAAdapter()
	case llmclient.ProviderOpenAI:
		r.providerB = streamadapter.NewProviderBAdapter()
	}
	return r
}

func (r *turnRunner) ProviderA(ev streamadapter.ProviderARawEvent) {
	for _, canonical := range r.providerA.Translate(ev) {
		r.emit(canonical)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Type {
	case "content_block_start":
		if ev.ContentBlock.Type == "tool_use" {
			p := &pendingToolA{id: ev.ContentBlock.ID, name: ev.ContentBlock.Name}
			if len(ev.ContentBlock.Input) > 0 && string(ev.ContentBlock.Input) != "{}" {
				p.args.Write(ev.ContentBlock.Input)
			}
			r.pendingA[ev.Index] = p
			r.orderA = append(r.orderA, ev.Index)
		}
	case "content_block_delta":
		switch ev.Delta.Type {
		case "text_delta":
			r.text.WriteString(ev.Delta.Text)
		case "thinking_delta":
			r.thinking.WriteString(ev.Delta.Thinking)
		case "input_json_delta":
			if p, ok := r.pendingA[ev.Index]; ok {
				p.args.WriteString(ev.Delta.PartialJSON)
			}
		}
	case "content_block_stop":
		if p, ok := r.pendingA[ev.Index]; ok {
			r.completedA = append(r.completedA, PendingToolCall{ID: p.id, Name: p.name, ArgumentsJSON: p.args.String()})
			delete(r.pendingA, ev.Index)
		}
	}
}

func (r *turnRunner) ProviderB(ev streamadapter.ProviderBRawEvent) {
	for _, canonical := range r.providerB.Translate(ev) {
		r.emit(canonical)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, choice := range ev.Choices {
		r.text.WriteString(choice.Delta.Content)
	}
}

// PendingToolCalls returns every tool call the model requested during this
// turn, in the order the model emitted them.
func (r *turnRunner) PendingToolCalls() []PendingToolCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.providerB != nil {
		return toolCallsFromProviderB(r.providerB.PendingToolCalls())
	}
	out := make([]PendingToolCall, len(r.completedA))
	copy(out, r.completedA)
	return out
}

func toolCallsFromProviderB(pending []streamadapter.PendingToolCall) []PendingToolCall {
	out := make([]PendingToolCall, 0, len(pending))
	for _, p := range pending {
		out = append(out, PendingToolCall{ID: p.ID, Name: p.Name, ArgumentsJSON: p.ArgumentsJSON})
	}
	return out
}

// AssistantMessage builds the Message to append to history for the
// completed turn segment: accumulated text plus one tool_use block per
// completed tool call, in emission order. Thinking content is not persisted
// into history (it is ephemeral reasoning, not part of the conversation the
// model needs to see again).
func (r *turnRunner) AssistantMessage() Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	var blocks []ContentBlock
	if r.text.Len() > 0 {
		blocks = append(blocks, ContentBlock{Type: BlockText, Text: r.text.String()})
	}
	for _, call := range r.toolCallsLocked() {
		blocks = append(blocks, ContentBlock{Type: BlockToolUse, ToolUseID: call.ID, ToolName: call.Name, ToolInput: call.ArgumentsJSON})
	}
	return Message{Role: RoleAssistant, Content: blocks}
}

func (r *turnRunner) toolCallsLocked() []PendingToolCall {
	if r.providerB != nil {
		return toolCallsFromProviderB(r.providerB.PendingToolCalls())
	}
	out := make([]PendingToolCall, len(r.completedA))
	copy(out, r.completedA)
	return out
}
