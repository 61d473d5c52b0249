package agentsession

import (
	"context"
	"sync"
	"testing"
	"time"

	"agentgw/internal/llmclient"
	"agentgw/internal/streamadapter"

	"github.com/stretchr/testify/require"
)

type scriptedClient struct {
	provider llmclient.ProviderKind
	turns    [][]streamadapter.ProviderBRawEvent
	call     int
}

func (c *scriptedClient) Provider() llmclient.ProviderKind { return c.provider }

func (c *scriptedClient) Stream(ctx context.Context, req llmclient.Request, sink llmclient.RawEventSink) error {
	if c.call >= len(c.turns) {
		return nil
	}
	events := c.turns[c.call]
	c.call++
	for _, ev := range events {
		sink.ProviderB(ev)
	}
	return nil
}

func textOnlyClient(text string) *scriptedClient {
	return &scriptedClient{
		provider: llmclient.ProviderOpenAI,
		turns: [][]streamadapter.ProviderBRawEvent{
			{{Choices: []streamadapter.ProviderBChoice{{Delta: streamadapter.ProviderBDelta{Content: text}, FinishReason: "stop"}}}},
		},
	}
}

func collectEvents() (func(streamadapter.Event), *[]streamadapter.Event) {
	events := make([]streamadapter.Event, 0)
	return func(e streamadapter.Event) { events = append(events, e) }, &events
}

func TestConverseEmitsTextDeltaThenDone(t *testing.T) {
	s := New(Config{UserID: "u1", ModelID: "gpt", LLM: textOnlyClient("hello"), Params: Params{MemoryMode: MemoryOn}})
	emit, events := collectEvents()

	s.Converse(context.Background(), "stream-1", []Message{textMessage(RoleUser, "hi")}, emit)

	require.NotEmpty(t, *events)
	last := (*events)[len(*events)-1]
	require.Equal(t, streamadapter.EventDone, last.Type)
	require.Equal(t, streamadapter.DoneComplete, last.DoneReason)
}

func TestConverseAppendsAssistantMessageToHistoryOnMemoryOn(t *testing.T) {
	s := New(Config{UserID: "u1", ModelID: "gpt", LLM: textOnlyClient("hi back"), Params: Params{MemoryMode: MemoryOn}})
	emit, _ := collectEvents()

	s.Converse(context.Background(), "stream-1", []Message{textMessage(RoleUser, "hi")}, emit)

	require.Len(t, s.history, 2)
	require.Equal(t, RoleUser, s.history[0].Role)
	require.Equal(t, RoleAssistant, s.history[1].Role)
}

func TestConverseSupersedesPriorActiveStream(t *testing.T) {
	blocking := &blockingClient{}
	s := New(Config{UserID: "u1", ModelID: "gpt", LLM: blocking, Params: Params{MemoryMode: MemoryOn}})

	firstDone := make(chan []streamadapter.Event)
	go func() {
		emit, events := collectEvents()
		s.Converse(context.Background(), "stream-1", []Message{textMessage(RoleUser, "first")}, emit)
		firstDone <- *events
	}()

	require.Eventually(t, func() bool {
		id, ok := s.ActiveStreamID()
		return ok && id == "stream-1"
	}, time.Second, 5*time.Millisecond)

	emit2, events2 := collectEvents()
	s.Converse(context.Background(), "stream-2", []Message{textMessage(RoleUser, "second")}, emit2)

	firstEvents := <-firstDone
	require.NotEmpty(t, firstEvents)
	require.Equal(t, streamadapter.DoneCancelled, firstEvents[len(firstEvents)-1].DoneReason)

	require.NotEmpty(t, *events2)
	require.Equal(t, streamadapter.DoneComplete, (*events2)[len(*events2)-1].DoneReason)
}

// blockingClient blocks on its first invocation until its context is
// cancelled (to exercise the supersede path deterministically) and
// completes immediately thereafter.
type blockingClient struct {
	mu    sync.Mutex
	calls int
}

func (b *blockingClient) Provider() llmclient.ProviderKind { return llmclient.ProviderOpenAI }

func (b *blockingClient) Stream(ctx context.Context, req llmclient.Request, sink llmclient.RawEventSink) error {
	b.mu.Lock()
	n := b.calls
	b.calls++
	b.mu.Unlock()

	if n == 0 {
		<-ctx.Done()
		return nil
	}
	sink.ProviderB(streamadapter.ProviderBRawEvent{Choices: []streamadapter.ProviderBChoice{{
		Delta: streamadapter.ProviderBDelta{Content: "second turn"}, FinishReason: "stop",
	}}})
	return nil
}

func TestMemoryOffAdoptsCallerSuppliedHistory(t *testing.T) {
	s := New(Config{UserID: "u1", ModelID: "gpt", LLM: textOnlyClient("reply"), Params: Params{MemoryMode: MemoryOff}})
	emit, _ := collectEvents()

	fullHistory := []Message{textMessage(RoleUser, "turn one"), textMessage(RoleAssistant, "turn one reply"), textMessage(RoleUser, "turn two")}
	s.Converse(context.Background(), "stream-1", fullHistory, emit)

	require.Len(t, s.history, 4) // 3 supplied + 1 new assistant reply
}

func TestElideImagesReplacesOldestOverflow(t *testing.T) {
	history := []Message{
		{Role: RoleUser, Content: []ContentBlock{{Type: BlockImage, InlineBase64: "a"}}},
		{Role: RoleUser, Content: []ContentBlock{{Type: BlockImage, InlineBase64: "b"}}},
		{Role: RoleUser, Content: []ContentBlock{{Type: BlockImage, InlineBase64: "c"}}},
	}

	out := elideImages(history, 1)
	require.Equal(t, BlockText, out[0].Content[0].Type)
	require.Equal(t, BlockText, out[1].Content[0].Type)
	require.Equal(t, BlockImage, out[2].Content[0].Type)
}

func TestElideImagesZeroStripsAll(t *testing.T) {
	history := []Message{{Role: RoleUser, Content: []ContentBlock{{Type: BlockImage}}}}
	out := elideImages(history, 0)
	require.Equal(t, BlockText, out[0].Content[0].Type)
}
