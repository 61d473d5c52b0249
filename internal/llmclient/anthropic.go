package llmclient

import (
	"context"
	"encoding/json"
	"fmt"

	"agentgw/internal/apperrors"
	"agentgw/internal/streamadapter"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// AnthropicClient is a Provider-A Client backed by anthropic-sdk-go.
type AnthropicClient struct {
	model  string
	client anthropic.Client
}

// NewAnthropicClient constructs a Client for model, authenticated with
// apiKey.
func NewAnthropicClient(model, apiKey, baseURL string) *AnthropicClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &AnthropicClient{model: model, client: anthropic.NewClient(opts...)}
}

func (c *AnthropicClient) Provider() ProviderKind { return ProviderAnthropic }

// Stream issues req to the Messages streaming endpoint and decodes each SSE
// frame into a streamadapter.ProviderARawEvent delivered to sink.
func (c *AnthropicClient) Stream(ctx context.Context, req Request, sink RawEventSink) error {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: int64(maxTokensOrDefault(req.Params.MaxTokens)),
		System:    []anthropic.TextBlockParam{{Text: req.SystemPrompt}},
		Messages:  toAnthropicMessages(req.Messages),
		Tools:     toAnthropicTools(req.Tools),
	}
	if req.Params.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Params.Temperature)
	}
	if req.Params.EnableThinking {
		budget := req.Params.BudgetTokens
		if budget <= 0 {
			budget = 1024
		}
		params.Thinking = anthropic.ThinkingConfigParamOfEnabled(int64(budget))
	}

	stream := c.client.Messages.NewStreaming(ctx, params)
	for stream.Next() {
		raw, err := decodeAnthropicEvent(stream.Current())
		if err != nil {
			continue
		}
		sink.ProviderA(raw)
	}
	if err := stream.Err(); err != nil {
		return apperrors.Wrap(apperrors.KindModelUpstream, "anthropic stream failed", err)
	}
	return nil
}

func maxTokensOrDefault(n int) int {
	if n <= 0 {
		return 4096
	}
	return n
}

func toAnthropicMessages(messages []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		var blocks []anthropic.ContentBlockParamUnion
		for _, cb := range m.Content {
			switch cb.Type {
			case "text":
				blocks = append(blocks, anthropic.NewTextBlock(cb.Text))
			case "tool_use":
				var input any
				_ = json.Unmarshal([]byte(cb.ToolInput), &input)
				blocks = append(blocks, anthropic.NewToolUseBlock(cb.ToolUseID, input, cb.ToolName))
			case "tool_result":
				blocks = append(blocks, anthropic.NewToolResultBlock(cb.ToolUseID, cb.Text, cb.ToolError))
			}
		}
		role := anthropic.MessageParamRoleUser
		if m.Role == "assistant" {
			role = anthropic.MessageParamRoleAssistant
		}
		out = append(out, anthropic.MessageParam{Role: role, Content: blocks})
	}
	return out
}

func toAnthropicTools(tools []ToolSpec) []anthropic.ToolUnionParam {
	out := make([]anthropic.ToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var schema anthropic.ToolInputSchemaParam
		_ = json.Unmarshal(t.InputSchema, &schema)
		out = append(out, anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: schema,
			},
		})
	}
	return out
}

func decodeAnthropicEvent(event anthropic.MessageStreamEventUnion) (streamadapter.ProviderARawEvent, error) {
	var raw streamadapter.ProviderARawEvent
	raw.Type = event.Type
	raw.Index = int(event.Index)

	switch event.Type {
	case "content_block_start":
		block := event.ContentBlock
		raw.ContentBlock.Type = block.Type
		raw.ContentBlock.ID = block.ID
		raw.ContentBlock.Name = block.Name
		if len(block.Input) > 0 {
			encoded, err := json.Marshal(block.Input)
			if err == nil {
				raw.ContentBlock.Input = encoded
			}
		}
	case "content_block_delta":
		delta := event.Delta
		raw.Delta.Type = delta.Type
		raw.Delta.Text = delta.Text
		raw.Delta.PartialJSON = delta.PartialJSON
		raw.Delta.Thinking = delta.Thinking
	case "message_delta":
		raw.StopReason = string(event.Delta.StopReason)
	case "content_block_stop", "message_stop":
		// Type and Index (set above) are all these frames carry.
	default:
		return raw, fmt.Errorf("llmclient: unhandled anthropic event %q", event.Type)
	}
	return raw, nil
}
