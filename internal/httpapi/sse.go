package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"

	"agentgw/internal/streamadapter"
)

// sseWriter emits the OpenAI-compatible envelope described in spec §6:
// `{choices:[{delta:{...}, message_extras:{...}}]}` per frame, with the
// cancellation handle written as a response header before the first byte,
// and a terminal `data: [DONE]` frame.
type sseWriter struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newSSEWriter(w http.ResponseWriter, streamID string) *sseWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Stream-ID", streamID)
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)
	if flusher != nil {
		flusher.Flush()
	}
	return &sseWriter{w: w, flusher: flusher}
}

// WriteEvent renders one canonical event into the wire envelope and writes
// it as a single SSE frame.
func (s *sseWriter) WriteEvent(ev streamadapter.Event) {
	if ev.Type == streamadapter.EventDone {
		fmt.Fprint(s.w, "data: [DONE]\n\n")
		s.flush()
		return
	}

	envelope := envelopeFor(ev)
	payload, err := json.Marshal(envelope)
	if err != nil {
		return
	}
	fmt.Fprintf(s.w, "data: %s\n\n", payload)
	s.flush()
}

func (s *sseWriter) flush() {
	if s.flusher != nil {
		s.flusher.Flush()
	}
}

type sseDelta struct {
	Content string `json:"content,omitempty"`
}

type sseChoice struct {
	Delta         sseDelta       `json:"delta"`
	MessageExtras map[string]any `json:"message_extras,omitempty"`
}

type sseEnvelope struct {
	Choices []sseChoice `json:"choices"`
}

// envelopeFor maps one canonical event onto the wire envelope. text_delta
// rides the conventional delta.content field for compatibility with clients
// that only understand plain chat-completion deltas; every other event
// type is carried in message_extras since it has no equivalent in that
// convention.
func envelopeFor(ev streamadapter.Event) sseEnvelope {
	choice := sseChoice{}
	switch ev.Type {
	case streamadapter.EventTextDelta:
		choice.Delta.Content = ev.TextDelta
	case streamadapter.EventThinkingDelta:
		choice.MessageExtras = map[string]any{"type": "thinking_delta", "thinking": ev.ThinkingDelta}
	case streamadapter.EventToolName:
		choice.MessageExtras = map[string]any{"type": "tool_name", "tool_use_id": ev.ToolUseID, "tool_name": ev.ToolName}
	case streamadapter.EventToolInputDelta:
		choice.MessageExtras = map[string]any{"type": "tool_input_delta", "tool_use_id": ev.ToolUseID, "input_delta": ev.ToolInputDelta}
	case streamadapter.EventToolResult:
		choice.MessageExtras = map[string]any{"type": "tool_result", "result": ev.ToolResult}
	case streamadapter.EventError:
		choice.MessageExtras = map[string]any{"type": "error", "error": ev.Error}
	}
	return sseEnvelope{Choices: []sseChoice{choice}}
}
