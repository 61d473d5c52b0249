package streamadapter

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestProviderAEmitsTextDeltaInOrder(t *testing.T) {
	a := NewProviderAAdapter()

	events := a.Translate(ProviderARawEvent{Type: "content_block_start", Index: 0, ContentBlock: struct {
		Type  string
		ID    string
		Name  string
		Input json.RawMessage
	}{Type: "text"}})
	require.Empty(t, events)

	events = a.Translate(ProviderARawEvent{Type: "content_block_delta", Index: 0, Delta: struct {
		Type        string
		Text        string
		PartialJSON string
		Thinking    string
	}{Type: "text_delta", Text: "hello"}})
	require.Len(t, events, 1)
	require.Equal(t, EventTextDelta, events[0].Type)
	require.Equal(t, "hello", events[0].TextDelta)
}

func TestProviderAEmitsToolNameBeforeToolInputDelta(t *testing.T) {
	a := NewProviderAAdapter()

	startEvents := a.Translate(ProviderARawEvent{Type: "content_block_start", Index: 1, ContentBlock: struct {
		Type  string
		ID    string
		Name  string
		Input json.RawMessage
	}{Type: "tool_use", ID: "tu_1", Name: "read_file"}})
	require.Len(t, startEvents, 1)
	require.Equal(t, EventToolName, startEvents[0].Type)
	require.Equal(t, "read_file", startEvents[0].ToolName)

	deltaEvents := a.Translate(ProviderARawEvent{Type: "content_block_delta", Index: 1, Delta: struct {
		Type        string
		Text        string
		PartialJSON string
		Thinking    string
	}{Type: "input_json_delta", PartialJSON: `{"path":"/tmp"}`}})
	require.Len(t, deltaEvents, 1)
	require.Equal(t, EventToolInputDelta, deltaEvents[0].Type)
}

func TestProviderAEmitsThinkingDeltaSeparately(t *testing.T) {
	a := NewProviderAAdapter()
	events := a.Translate(ProviderARawEvent{Type: "content_block_delta", Index: 0, Delta: struct {
		Type        string
		Text        string
		PartialJSON string
		Thinking    string
	}{Type: "thinking_delta", Thinking: "considering options"}})
	require.Len(t, events, 1)
	require.Equal(t, EventThinkingDelta, events[0].Type)
}

func TestProviderBAccumulatesToolCallFragmentsAcrossChunks(t *testing.T) {
	b := NewProviderBAdapter()

	events := b.Translate(ProviderBRawEvent{Choices: []ProviderBChoice{{
		Delta: ProviderBDelta{ToolCalls: []ProviderBToolCallDelta{{Index: 0, ID: "call_1", FunctionName: "read_file"}}},
	}}})
	require.Len(t, events, 1)
	require.Equal(t, EventToolName, events[0].Type)

	events = b.Translate(ProviderBRawEvent{Choices: []ProviderBChoice{{
		Delta: ProviderBDelta{ToolCalls: []ProviderBToolCallDelta{{Index: 0, ArgumentsFragment: `{"path":`}}},
	}}})
	require.Len(t, events, 1)
	require.Equal(t, EventToolInputDelta, events[0].Type)

	events = b.Translate(ProviderBRawEvent{Choices: []ProviderBChoice{{
		Delta: ProviderBDelta{ToolCalls: []ProviderBToolCallDelta{{Index: 0, ArgumentsFragment: `"/tmp"}`}}},
	}}})
	require.Len(t, events, 1)

	pending := b.PendingToolCalls()
	require.Len(t, pending, 1)
	require.Equal(t, "read_file", pending[0].Name)
	require.Equal(t, `{"path":"/tmp"}`, pending[0].ArgumentsJSON)
}

func TestProviderBEmitsTextDeltaWhenNoToolCalls(t *testing.T) {
	b := NewProviderBAdapter()
	events := b.Translate(ProviderBRawEvent{Choices: []ProviderBChoice{{Delta: ProviderBDelta{Content: "hi there"}}}})
	require.Len(t, events, 1)
	require.Equal(t, EventTextDelta, events[0].Type)
	require.Equal(t, "hi there", events[0].TextDelta)
}

func TestDoneEventCarriesReason(t *testing.T) {
	ev := DoneEvent(DoneCancelled)
	require.Equal(t, EventDone, ev.Type)
	require.Equal(t, DoneCancelled, ev.DoneReason)
}
