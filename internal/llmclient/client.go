// Package llmclient implements the upstream model connections consumed by
// the agent session (spec §4.F): a thin Client interface over the two
// supported providers, plus a Factory that caches clients per model id,
// wraps them with retry/circuit-breaker behavior, and hands out per-user
// rate limiters (Factory.LimiterFor) without applying them to calls itself.
//
// Grounded on cklxx-elephant.ai/internal/infra/llm/factory.go, whose
// shape (LRU client cache, enableRetry wrapping,
// EnableUserRateLimit) is reproduced here against this gateway's two
// concrete providers (Anthropic, OpenAI) instead of the teacher's six.
package llmclient

import (
	"context"

	"agentgw/internal/streamadapter"
)

// Message is one turn of conversational history handed to the upstream
// model (spec §3: Message = {role, content-blocks}).
type Message struct {
	Role    string // "user" | "assistant" | "tool"
	Content []ContentBlock
}

// ContentBlock is one typed piece of a Message.
type ContentBlock struct {
	Type      string // "text" | "image" | "tool_use" | "tool_result"
	Text      string
	ImageData string // base64, only when Type == "image"
	ToolUseID string
	ToolName  string
	ToolInput string // JSON, only when Type == "tool_use"
	ToolError bool   // only when Type == "tool_result"
}

// ToolSpec describes one tool bound into this turn's upstream request, in
// the shape the provider's function-calling API expects.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema []byte
}

// Params bundles the sampling knobs enumerated in spec §4.F.
type Params struct {
	MaxTokens              int
	Temperature            float64
	EnableThinking         bool
	BudgetTokens           int
	OnlyNMostRecentImages  int
}

// Request is one upstream turn.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Tools        []ToolSpec
	Params       Params
}

// RawEventSink receives decoded raw provider events as the upstream call
// streams them, so the agent session can run them through the matching
// streamadapter translator without this package importing streamadapter's
// Translate logic directly.
type RawEventSink interface {
	ProviderA(ev streamadapter.ProviderARawEvent)
	ProviderB(ev streamadapter.ProviderBRawEvent)
}

// Client is the upstream connection to one provider/model pair.
type Client interface {
	// Stream invokes the model and feeds every decoded event to sink until
	// the upstream turn completes or ctx is cancelled.
	Stream(ctx context.Context, req Request, sink RawEventSink) error
	// Provider names which raw-event kind this client emits, so the agent
	// session knows which streamadapter translator to attach.
	Provider() ProviderKind
}

// ProviderKind distinguishes the two supported upstream wire styles.
type ProviderKind string

const (
	ProviderAnthropic ProviderKind = "anthropic"
	ProviderOpenAI    ProviderKind = "openai"
)
