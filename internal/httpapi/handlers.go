package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"agentgw/internal/agentsession"
	"agentgw/internal/apperrors"
	"agentgw/internal/llmclient"
	"agentgw/internal/streamadapter"
	"agentgw/internal/validator"

	"github.com/google/uuid"
)

// HandleListModels serves GET /v1/list/models (spec §6).
func (h *Handler) HandleListModels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"models": h.deps.Models})
}

// HandleListMCPServers serves GET /v1/list/mcp_server.
func (h *Handler) HandleListMCPServers(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	listings, err := h.deps.Supervisor.List(r.Context(), userID)
	if err != nil {
		h.writeGatewayError(w, err)
		return
	}

	type serverView struct {
		ServerID   string `json:"server_id"`
		ServerName string `json:"server_name"`
		Status     string `json:"status"`
	}
	out := make([]serverView, 0, len(listings))
	for _, l := range listings {
		out = append(out, serverView{ServerID: l.Spec.ServerID, ServerName: l.Spec.ServerName, Status: string(l.Status)})
	}
	writeJSON(w, http.StatusOK, map[string]any{"servers": out})
}

// HandleAddMCPServer serves POST /v1/add/mcp_server.
func (h *Handler) HandleAddMCPServer(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	var spec validator.ServerSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeError(w, http.StatusBadRequest, "validation:bad-arg", "malformed request body")
		return
	}

	if err := h.deps.Supervisor.Add(r.Context(), userID, spec); err != nil {
		h.writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"server_id": spec.ServerID, "status": "registered"})
}

// HandleRemoveMCPServer serves DELETE /v1/remove/mcp_server/{server_id}.
// Idempotent (spec §6).
func (h *Handler) HandleRemoveMCPServer(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	serverID := r.PathValue("server_id")

	if err := h.deps.Supervisor.Remove(r.Context(), userID, serverID); err != nil {
		h.writeGatewayError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"server_id": serverID, "status": "removed"})
}

// HandleRemoveHistory serves POST /v1/remove/history.
func (h *Handler) HandleRemoveHistory(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	h.deps.Sessions.RemoveHistory(userID)
	writeJSON(w, http.StatusOK, map[string]any{"status": "cleared"})
}

// HandleStopStream serves POST /v1/stop/stream/{stream_id}. Always returns
// success, including for an unknown id (spec §7: "stream:not-found ...
// returned as success to the client for idempotency").
func (h *Handler) HandleStopStream(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())
	streamID := r.PathValue("stream_id")
	h.deps.Sessions.Cancel(userID, streamID)
	writeJSON(w, http.StatusOK, map[string]any{"stream_id": streamID, "status": "stopped"})
}

// HandleHealth serves GET /v1/health.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// chatRequest is the recognized body shape for POST /v1/chat/completions
// (spec §6).
type chatRequest struct {
	Messages     []apiMessage `json:"messages"`
	Model        string       `json:"model"`
	MCPServerIDs []string     `json:"mcp_server_ids"`
	Stream       bool         `json:"stream"`
	MaxTokens    int          `json:"max_tokens"`
	Temperature  float64      `json:"temperature"`
	KeepSession  bool         `json:"keep_session"`
	UseMemory    bool         `json:"use_memory"`
	ExtraParams  struct {
		OnlyNMostRecentImages int  `json:"only_n_most_recent_images"`
		BudgetTokens          int  `json:"budget_tokens"`
		EnableThinking        bool `json:"enable_thinking"`
		UseSwarm              bool `json:"use_swarm"`
	} `json:"extra_params"`
}

type apiMessage struct {
	Role    string            `json:"role"`
	Content []apiContentBlock `json:"content"`
}

type apiContentBlock struct {
	Type          string `json:"type"`
	Text          string `json:"text,omitempty"`
	InlineBase64  string `json:"data,omitempty"`
	URL           string `json:"url,omitempty"`
	MIMEType      string `json:"mime_type,omitempty"`
	ToolUseID     string `json:"tool_use_id,omitempty"`
	ToolName      string `json:"tool_name,omitempty"`
	ToolInput     string `json:"tool_input,omitempty"`
	ToolResultFor string `json:"tool_result_for,omitempty"`
	IsError       bool   `json:"is_error,omitempty"`
}

func toAgentMessages(msgs []apiMessage) []agentsession.Message {
	out := make([]agentsession.Message, 0, len(msgs))
	for _, m := range msgs {
		blocks := make([]agentsession.ContentBlock, 0, len(m.Content))
		for _, b := range m.Content {
			blocks = append(blocks, agentsession.ContentBlock{
				Type:          agentsession.BlockType(b.Type),
				Text:          b.Text,
				InlineBase64:  b.InlineBase64,
				URL:           b.URL,
				MIMEType:      b.MIMEType,
				ToolUseID:     b.ToolUseID,
				ToolName:      b.ToolName,
				ToolInput:     b.ToolInput,
				ToolResultFor: b.ToolResultFor,
				IsError:       b.IsError,
			})
		}
		out = append(out, agentsession.Message{Role: agentsession.Role(m.Role), Content: blocks})
	}
	return out
}

// HandleChatCompletions serves POST /v1/chat/completions, the main
// inference endpoint (spec §6). Streaming if stream=true.
func (h *Handler) HandleChatCompletions(w http.ResponseWriter, r *http.Request) {
	userID := UserIDFromContext(r.Context())

	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "validation:bad-arg", "malformed request body")
		return
	}
	if req.ExtraParams.UseSwarm {
		writeError(w, http.StatusBadRequest, "validation:bad-arg", "use_swarm is not supported")
		return
	}
	if _, ok := modelRoute(h.deps, req.Model); !ok {
		writeError(w, http.StatusBadRequest, "validation:bad-arg", "unknown model id")
		return
	}

	memoryMode := agentsession.MemoryOff
	if req.KeepSession || req.UseMemory {
		memoryMode = agentsession.MemoryOn
	}

	session, err := h.deps.Sessions.GetOrCreate(userID, req.Model, req.MCPServerIDs)
	if err != nil {
		h.writeGatewayError(w, err)
		return
	}
	session.SetParams(agentsession.Params{
		MemoryMode: memoryMode,
		Params: llmclient.Params{
			MaxTokens:             req.MaxTokens,
			Temperature:           req.Temperature,
			EnableThinking:        req.ExtraParams.EnableThinking,
			BudgetTokens:          req.ExtraParams.BudgetTokens,
			OnlyNMostRecentImages: req.ExtraParams.OnlyNMostRecentImages,
		},
	})

	streamID := uuid.NewString()
	incoming := toAgentMessages(req.Messages)

	if !req.Stream {
		h.handleNonStreamingTurn(w, r, session, streamID, incoming)
		return
	}

	sse := newSSEWriter(w, streamID)
	session.Converse(r.Context(), streamID, incoming, sse.WriteEvent)
}

func (h *Handler) handleNonStreamingTurn(w http.ResponseWriter, r *http.Request, session *agentsession.Session, streamID string, incoming []agentsession.Message) {
	var events []streamadapter.Event
	session.Converse(r.Context(), streamID, incoming, func(ev streamadapter.Event) {
		events = append(events, ev)
	})

	var text strings.Builder
	var toolResults []*streamadapter.ToolResult
	reason := streamadapter.DoneComplete
	var errPayload *streamadapter.ErrorPayload
	for _, ev := range events {
		switch ev.Type {
		case streamadapter.EventTextDelta:
			text.WriteString(ev.TextDelta)
		case streamadapter.EventToolResult:
			toolResults = append(toolResults, ev.ToolResult)
		case streamadapter.EventError:
			errPayload = ev.Error
		case streamadapter.EventDone:
			reason = ev.DoneReason
		}
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"stream_id":   streamID,
		"done_reason": reason,
		"content":     text.String(),
		"tool_result": toolResults,
		"error":       errPayload,
	})
}

func (h *Handler) writeGatewayError(w http.ResponseWriter, err error) {
	kind, ok := apperrors.KindOf(err)
	if !ok {
		h.log.Error("unclassified error reached the HTTP boundary: %v", err)
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
		return
	}
	writeError(w, statusForKind(kind), string(kind), err.Error())
}

// statusForKind maps an error Kind to the HTTP status named in spec §7.
// Kinds not explicitly enumerated there (mcp:*, model:upstream) are
// infrastructure failures reported as 502/503 rather than 500, since they
// originate from a known downstream dependency, not a gateway bug.
func statusForKind(kind apperrors.Kind) int {
	switch {
	case strings.HasPrefix(string(kind), "auth:"):
		if kind == apperrors.KindAuthMissingUser {
			return http.StatusBadRequest
		}
		return http.StatusUnauthorized
	case strings.HasPrefix(string(kind), "validation:"):
		return http.StatusBadRequest
	case kind == apperrors.KindStoreUnavailable:
		return http.StatusServiceUnavailable
	case strings.HasPrefix(string(kind), "mcp:"), kind == apperrors.KindModelUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
