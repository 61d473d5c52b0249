package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"agentgw/internal/agentsession"
	"agentgw/internal/llmclient"
	"agentgw/internal/mcpclient"
	"agentgw/internal/mcpsupervisor"
	"agentgw/internal/sessionmanager"
	"agentgw/internal/streamadapter"
	"agentgw/internal/userconfig"
	"agentgw/internal/validator"

	"github.com/stretchr/testify/require"
)

type stubLLM struct{}

func (stubLLM) Provider() llmclient.ProviderKind { return llmclient.ProviderOpenAI }

func (stubLLM) Stream(ctx context.Context, req llmclient.Request, sink llmclient.RawEventSink) error {
	sink.ProviderB(streamadapter.ProviderBRawEvent{
		Choices: []streamadapter.ProviderBChoice{{
			Delta:        streamadapter.ProviderBDelta{Content: "hello"},
			FinishReason: "stop",
		}},
	})
	return nil
}

func testDeps(t *testing.T) Deps {
	t.Helper()

	sup := mcpsupervisor.New(mcpsupervisor.Config{
		Store: userconfig.NewMemoryStore(),
		Factory: func(ctx context.Context, spec validator.ServerSpec, workDir string) (*mcpclient.Client, error) {
			return mcpclient.New(mcpclient.Config{Spec: spec, WorkDir: workDir}), nil
		},
	})

	factory := func(userID, modelID string, enabledServerIDs []string) (*agentsession.Session, error) {
		return agentsession.New(agentsession.Config{
			UserID:  userID,
			ModelID: modelID,
			LLM:     stubLLM{},
			Tools:   sessionmanager.BindTools(sup, userID, enabledServerIDs),
		}), nil
	}
	sessions := sessionmanager.New(sessionmanager.Config{Factory: factory})

	return Deps{
		Models:     []ModelInfo{{ModelID: "gpt-test", ModelName: "GPT Test"}},
		Supervisor: sup,
		Sessions:   sessions,
	}
}

func testConfig() Config {
	return Config{APIKey: "secret", Environment: "development"}
}

func authedRequest(method, path string, body string) *http.Request {
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	r.Header.Set("Authorization", "Bearer secret")
	r.Header.Set("X-User-ID", "u1")
	r.Header.Set("Content-Type", "application/json")
	return r
}

func TestHandleListModels(t *testing.T) {
	router := NewRouter(testDeps(t), testConfig())

	req := authedRequest(http.MethodGet, "/v1/list/models", "")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "gpt-test")
}

func TestHandleHealthNeedsNoAuth(t *testing.T) {
	router := NewRouter(testDeps(t), testConfig())

	req := httptest.NewRequest(http.MethodGet, "/v1/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleAddMCPServerRejectsMalformedBody(t *testing.T) {
	router := NewRouter(testDeps(t), testConfig())

	req := authedRequest(http.MethodPost, "/v1/add/mcp_server", "{not json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "validation:bad-arg")
}

func TestHandleAddMCPServerRejectsUnknownCommand(t *testing.T) {
	router := NewRouter(testDeps(t), testConfig())

	body := `{"server_id":"s1","server_name":"S1","command":"rm","args":[]}`
	req := authedRequest(http.MethodPost, "/v1/add/mcp_server", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "validation:unknown-command")
}

func TestHandleAddMCPServerSucceeds(t *testing.T) {
	router := NewRouter(testDeps(t), testConfig())

	body := `{"server_id":"s1","server_name":"S1","command":"npx","args":["-y","pkg"]}`
	req := authedRequest(http.MethodPost, "/v1/add/mcp_server", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "registered")
}

func TestHandleRemoveMCPServerIsIdempotent(t *testing.T) {
	router := NewRouter(testDeps(t), testConfig())

	req := authedRequest(http.MethodDelete, "/v1/remove/mcp_server/does-not-exist", "")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
}

func TestHandleStopStreamIsAlwaysSuccess(t *testing.T) {
	router := NewRouter(testDeps(t), testConfig())

	req := authedRequest(http.MethodPost, "/v1/stop/stream/unknown-stream", "")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "stopped")
}

func TestHandleRemoveHistory(t *testing.T) {
	router := NewRouter(testDeps(t), testConfig())

	req := authedRequest(http.MethodPost, "/v1/remove/history", "")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), "cleared")
}

func TestHandleChatCompletionsRejectsUnknownModel(t *testing.T) {
	router := NewRouter(testDeps(t), testConfig())

	body := `{"model":"nope","messages":[{"role":"user","content":[{"type":"text","text":"hi"}]}]}`
	req := authedRequest(http.MethodPost, "/v1/chat/completions", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "unknown model id")
}

func TestHandleChatCompletionsRejectsUseSwarm(t *testing.T) {
	router := NewRouter(testDeps(t), testConfig())

	body := `{"model":"gpt-test","messages":[],"extra_params":{"use_swarm":true}}`
	req := authedRequest(http.MethodPost, "/v1/chat/completions", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	require.Contains(t, rec.Body.String(), "use_swarm is not supported")
}

func TestHandleChatCompletionsNonStreaming(t *testing.T) {
	router := NewRouter(testDeps(t), testConfig())

	body := `{"model":"gpt-test","stream":false,"messages":[{"role":"user","content":[{"type":"text","text":"hi"}]}]}`
	req := authedRequest(http.MethodPost, "/v1/chat/completions", body)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "hello", resp["content"])
	require.Equal(t, "complete", resp["done_reason"])
}

func TestHandleChatCompletionsStreaming(t *testing.T) {
	router := NewRouter(testDeps(t), testConfig())

	body := `{"model":"gpt-test","stream":true,"messages":[{"role":"user","content":[{"type":"text","text":"hi"}]}]}`
	req := authedRequest(http.MethodPost, "/v1/chat/completions", body)
	req.Header.Set("Accept", "text/event-stream")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	require.NotEmpty(t, rec.Header().Get("X-Stream-ID"))
	require.Contains(t, rec.Body.String(), "data: [DONE]")
}
