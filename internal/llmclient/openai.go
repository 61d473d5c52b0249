package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"io"

	"agentgw/internal/apperrors"
	"agentgw/internal/streamadapter"

	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient is a Provider-B Client backed by sashabaranov/go-openai.
type OpenAIClient struct {
	model  string
	client *openai.Client
}

// NewOpenAIClient constructs a Client for model, authenticated with apiKey
// against baseURL (empty uses the default OpenAI endpoint, matching how
// OPENAI_BASE_URL lets the gateway point at OpenAI-compatible providers).
func NewOpenAIClient(model, apiKey, baseURL string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{model: model, client: openai.NewClientWithConfig(cfg)}
}

func (c *OpenAIClient) Provider() ProviderKind { return ProviderOpenAI }

// Stream issues req to the chat-completions streaming endpoint and decodes
// each chunk into a streamadapter.ProviderBRawEvent delivered to sink.
func (c *OpenAIClient) Stream(ctx context.Context, req Request, sink RawEventSink) error {
	messages := toOpenAIMessages(req.SystemPrompt, req.Messages)
	tools := toOpenAITools(req.Tools)

	chatReq := openai.ChatCompletionRequest{
		Model:    c.model,
		Messages: messages,
		Tools:    tools,
		Stream:   true,
	}
	if req.Params.MaxTokens > 0 {
		chatReq.MaxTokens = req.Params.MaxTokens
	}
	if req.Params.Temperature > 0 {
		chatReq.Temperature = float32(req.Params.Temperature)
	}

	stream, err := c.client.CreateChatCompletionStream(ctx, chatReq)
	if err != nil {
		return apperrors.Wrap(apperrors.KindModelUpstream, "openai stream create failed", err)
	}
	defer stream.Close()

	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return apperrors.Wrap(apperrors.KindModelUpstream, "openai stream recv failed", err)
		}
		sink.ProviderB(decodeOpenAIChunk(chunk))
	}
}

func toOpenAIMessages(systemPrompt string, messages []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(messages)+1)
	if systemPrompt != "" {
		out = append(out, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	for _, m := range messages {
		msg := openai.ChatCompletionMessage{Role: m.Role}
		for _, cb := range m.Content {
			switch cb.Type {
			case "text":
				msg.Content += cb.Text
			case "tool_use":
				msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
					ID:   cb.ToolUseID,
					Type: openai.ToolTypeFunction,
					Function: openai.FunctionCall{
						Name:      cb.ToolName,
						Arguments: cb.ToolInput,
					},
				})
			case "tool_result":
				msg.Role = openai.ChatMessageRoleTool
				msg.ToolCallID = cb.ToolUseID
				msg.Content = cb.Text
			}
		}
		out = append(out, msg)
	}
	return out
}

func toOpenAITools(tools []ToolSpec) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		var schema map[string]any
		_ = json.Unmarshal(t.InputSchema, &schema)
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  schema,
			},
		})
	}
	return out
}

func decodeOpenAIChunk(chunk openai.ChatCompletionStreamResponse) streamadapter.ProviderBRawEvent {
	raw := streamadapter.ProviderBRawEvent{Choices: make([]streamadapter.ProviderBChoice, 0, len(chunk.Choices))}
	for _, choice := range chunk.Choices {
		delta := streamadapter.ProviderBDelta{Content: choice.Delta.Content}
		for _, tc := range choice.Delta.ToolCalls {
			index := 0
			if tc.Index != nil {
				index = *tc.Index
			}
			delta.ToolCalls = append(delta.ToolCalls, streamadapter.ProviderBToolCallDelta{
				Index:             index,
				ID:                tc.ID,
				FunctionName:      tc.Function.Name,
				ArgumentsFragment: tc.Function.Arguments,
			})
		}
		raw.Choices = append(raw.Choices, streamadapter.ProviderBChoice{
			Delta:        delta,
			FinishReason: string(choice.FinishReason),
		})
	}
	return raw
}
