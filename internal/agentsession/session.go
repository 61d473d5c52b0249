package agentsession

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"time"

	"agentgw/internal/apperrors"
	"agentgw/internal/llmclient"
	"agentgw/internal/logging"
	"agentgw/internal/mcpclient"
	"agentgw/internal/mcpsupervisor"
	"agentgw/internal/streamadapter"
)

// MemoryMode selects whether the session retains its own history (on) or
// trusts the caller to resend the full history on every turn (off), per
// spec §4.F.
type MemoryMode string

const (
	MemoryOn  MemoryMode = "on"
	MemoryOff MemoryMode = "off"
)

// Params bundles the sampling knobs enumerated in spec §4.F.
type Params struct {
	llmclient.Params
	MemoryMode MemoryMode
}

// ToolBinding pairs one tool descriptor from the supervisor with the live
// client that serves it, bound once at session-creation time (spec §4.F:
// "a bound tool set (aggregated from the user's enabled McpClients at
// session-creation time)").
type ToolBinding struct {
	Descriptor mcpsupervisor.ToolDescriptor
	Client     *mcpclient.Client
}

type activeStream struct {
	id     string
	cancel context.CancelFunc
	done   chan struct{}
}

// Session is the agent session (spec §4.F): identified by (user_id,
// model_id), owning conversation history, sampling parameters, and the
// bound tool set.
type Session struct {
	userID       string
	modelID      string
	systemPrompt string
	tools        map[string]ToolBinding // qualified tool name -> binding
	llm          llmclient.Client
	params       Params
	log          logging.Logger

	mu           sync.Mutex
	history      []Message
	lastActivity time.Time
	active       *activeStream
}

// Config constructs a Session.
type Config struct {
	UserID       string
	ModelID      string
	SystemPrompt string
	Tools        []ToolBinding
	LLM          llmclient.Client
	Params       Params
}

// New constructs a Session bound to the given tool set.
func New(cfg Config) *Session {
	tools := make(map[string]ToolBinding, len(cfg.Tools))
	for _, t := range cfg.Tools {
		tools[t.Descriptor.QualifiedName] = t
	}
	return &Session{
		userID:       cfg.UserID,
		modelID:      cfg.ModelID,
		systemPrompt: cfg.SystemPrompt,
		tools:        tools,
		llm:          cfg.LLM,
		params:       cfg.Params,
		log:          logging.NewCategoryLogger("SESSION", cfg.UserID+"/"+cfg.ModelID),
		lastActivity: time.Now(),
	}
}

// LastActivity returns the timestamp of the most recently completed or
// cancelled turn, used by the session manager's idle sweep.
func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// SetParams updates the sampling parameters and memory mode applied to the
// next turn. The tool set bound at construction never changes; the knobs a
// caller resends on every /chat/completions request (spec §6: max_tokens,
// temperature, keep_session/use_memory, extra_params.*) do.
func (s *Session) SetParams(p Params) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.params = p
}

// ActiveStreamID returns the id of the in-flight stream, if any.
func (s *Session) ActiveStreamID() (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == nil {
		return "", false
	}
	return s.active.id, true
}

// Cancel signals cancellation on the stream identified by streamID, if it is
// still the active one. Idempotent: cancelling an unknown or already
// terminal id is a no-op.
func (s *Session) Cancel(streamID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil && s.active.id == streamID {
		s.active.cancel()
	}
}

// CancelActive cancels whatever stream is currently active, used by idle
// eviction (spec §4.F: "eviction closes the active stream").
func (s *Session) CancelActive() {
	s.mu.Lock()
	active := s.active
	s.mu.Unlock()
	if active != nil {
		active.cancel()
		<-active.done
	}
}

// DropHistory clears conversation history, used by /remove/history and by
// idle eviction.
func (s *Session) DropHistory() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = nil
}

// acquireSlot implements the supersede policy (spec §4.F step 1): if a
// prior stream is active, cancel it and wait for its release before this
// turn takes the slot.
func (s *Session) acquireSlot(ctx context.Context, streamID string) (context.Context, func()) {
	s.mu.Lock()
	for s.active != nil {
		prev := s.active
		prev.cancel()
		s.mu.Unlock()
		<-prev.done
		s.mu.Lock()
	}

	turnCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	s.active = &activeStream{id: streamID, cancel: cancel, done: done}
	s.mu.Unlock()

	release := func() {
		cancel()
		close(done)
		s.mu.Lock()
		if s.active != nil && s.active.id == streamID {
			s.active = nil
		}
		s.lastActivity = time.Now()
		s.mu.Unlock()
	}
	return turnCtx, release
}

// Converse drives one turn (spec §4.F). emit is called once per canonical
// event, in order, terminated by exactly one done event.
func (s *Session) Converse(ctx context.Context, streamID string, incoming []Message, emit func(streamadapter.Event)) {
	turnCtx, release := s.acquireSlot(ctx, streamID)
	defer release()

	working := s.adoptIncoming(incoming)
	elided := elideImages(working, s.params.OnlyNMostRecentImages)

	reason := streamadapter.DoneComplete
	for {
		select {
		case <-turnCtx.Done():
			reason = streamadapter.DoneCancelled
		default:
		}
		if reason == streamadapter.DoneCancelled {
			break
		}

		req := s.buildRequest(elided)
		runner := newTurnRunner(s.llm.Provider(), emit)

		err := s.llm.Stream(turnCtx, req, runner)
		if turnCtx.Err() != nil {
			reason = streamadapter.DoneCancelled
			break
		}
		if err != nil {
			if turnCtx.Err() != nil {
				reason = streamadapter.DoneCancelled
			} else {
				kind, _ := apperrors.KindOf(err)
				emit(streamadapter.ErrorEvent(string(kind), err.Error()))
				reason = streamadapter.DoneFailed
			}
			break
		}

		assistantMsg := runner.AssistantMessage()
		elided = append(elided, assistantMsg)

		toolCalls := runner.PendingToolCalls()
		if len(toolCalls) == 0 {
			s.commitHistory(elided)
			break
		}

		for _, call := range toolCalls {
			resultMsg, resultEvent := s.dispatchTool(turnCtx, call)
			emit(streamadapter.ToolResultEvent(resultEvent))
			elided = append(elided, resultMsg)
		}
	}

	// A cancelled or failed turn never commits its partial assistant output
	// to history (spec §4.F): commitHistory is only reached on the
	// len(toolCalls) == 0 success path above.
	emit(streamadapter.DoneEvent(reason))
}

func (s *Session) adoptIncoming(incoming []Message) []Message {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.params.MemoryMode == MemoryOff {
		s.history = append([]Message(nil), incoming...)
	} else {
		s.history = append(s.history, incoming...)
	}
	return append([]Message(nil), s.history...)
}

func (s *Session) commitHistory(turnHistory []Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history = append([]Message(nil), turnHistory...)
}

func (s *Session) buildRequest(history []Message) llmclient.Request {
	tools := make([]llmclient.ToolSpec, 0, len(s.tools))
	for name, binding := range s.tools {
		tools = append(tools, llmclient.ToolSpec{
			Name:        name,
			Description: binding.Descriptor.Tool.Description,
			InputSchema: binding.Descriptor.Tool.InputSchema,
		})
	}

	return llmclient.Request{
		Model:        s.modelID,
		SystemPrompt: s.systemPrompt,
		Messages:     toLLMMessages(history),
		Tools:        tools,
		Params:       s.params.Params,
	}
}

func toLLMMessages(history []Message) []llmclient.Message {
	out := make([]llmclient.Message, 0, len(history))
	for _, m := range history {
		blocks := make([]llmclient.ContentBlock, 0, len(m.Content))
		for _, cb := range m.Content {
			blocks = append(blocks, llmclient.ContentBlock{
				Type:      string(cb.Type),
				Text:      cb.Text,
				ImageData: cb.InlineBase64,
				ToolUseID: firstNonEmpty(cb.ToolUseID, cb.ToolResultFor),
				ToolName:  cb.ToolName,
				ToolInput: cb.ToolInput,
				ToolError: cb.IsError,
			})
		}
		out = append(out, llmclient.Message{Role: string(m.Role), Content: blocks})
	}
	return out
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func (s *Session) dispatchTool(ctx context.Context, call PendingToolCall) (Message, streamadapter.ToolResult) {
	binding, ok := s.tools[call.Name]
	if !ok {
		return toolErrorResult(call, "", "unknown tool "+call.Name)
	}

	var args map[string]any
	if call.ArgumentsJSON != "" {
		if err := json.Unmarshal([]byte(call.ArgumentsJSON), &args); err != nil {
			return toolErrorResult(call, binding.Descriptor.ServerID, "malformed tool arguments: "+err.Error())
		}
	}

	blocks, err := binding.Client.Call(ctx, binding.Descriptor.Tool.Name, args)
	if err != nil {
		return toolErrorResult(call, binding.Descriptor.ServerID, err.Error())
	}

	var text strings.Builder
	content := make([]streamadapter.ResultContent, 0, len(blocks))
	for _, b := range blocks {
		content = append(content, streamadapter.ResultContent{Type: b.Type, Text: b.Text, Data: b.Data})
		text.WriteString(b.Text)
	}

	resultMsg := Message{Role: RoleUser, Content: []ContentBlock{{
		Type:          BlockToolResult,
		ToolResultFor: call.ID,
		Text:          text.String(),
	}}}
	resultEvent := streamadapter.ToolResult{
		ServerID: binding.Descriptor.ServerID,
		ToolName: call.Name,
		Content:  content,
	}
	return resultMsg, resultEvent
}

func toolErrorResult(call PendingToolCall, serverID, message string) (Message, streamadapter.ToolResult) {
	resultMsg := Message{Role: RoleUser, Content: []ContentBlock{{
		Type:          BlockToolResult,
		ToolResultFor: call.ID,
		Text:          message,
		IsError:       true,
	}}}
	resultEvent := streamadapter.ToolResult{
		ServerID: serverID,
		ToolName: call.Name,
		IsError:  true,
		Content:  []streamadapter.ResultContent{{Type: "text", Text: message}},
	}
	return resultMsg, resultEvent
}

// elideImages replaces all but the most recent keepN image blocks across
// history with a textual placeholder before the request is sent upstream
// (spec §4.F: "On image-retention overflow, earlier image blocks in history
// are elided"). It returns a copy and leaves its argument untouched; Converse
// commits the elided copy as the session's history when a turn completes, so
// images elided once stay elided in later turns.
func elideImages(history []Message, keepN int) []Message {
	if keepN < 0 {
		keepN = 0
	}

	totalImages := 0
	for _, m := range history {
		for _, cb := range m.Content {
			if cb.Type == BlockImage {
				totalImages++
			}
		}
	}
	if totalImages <= keepN {
		return history
	}

	toElide := totalImages - keepN
	out := make([]Message, len(history))
	elided := 0
	for i, m := range history {
		blocks := make([]ContentBlock, len(m.Content))
		for j, cb := range m.Content {
			if cb.Type == BlockImage && elided < toElide {
				blocks[j] = ContentBlock{Type: BlockText, Text: "[image elided]"}
				elided++
			} else {
				blocks[j] = cb
			}
		}
		out[i] = Message{Role: m.Role, Content: blocks}
	}
	return out
}
