package httpapi

import (
	"net/http"

	"agentgw/internal/logging"
)

// NewRouter builds the full HTTP handler: routes (spec §6) wrapped in the
// middleware chain (outermost first: CORS -> logging -> auth -> stream-guard
// -> request-timeout -> body-limit), mirroring the ordering in
// cklxx-elephant.ai/internal/delivery/server/http/router.go.
func NewRouter(deps Deps, cfg Config) http.Handler {
	h := newHandler(deps, cfg)
	logger := logging.NewCategoryLogger("HTTP", "Router")

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/list/models", h.HandleListModels)
	mux.HandleFunc("GET /v1/list/mcp_server", h.HandleListMCPServers)
	mux.HandleFunc("POST /v1/add/mcp_server", h.HandleAddMCPServer)
	mux.HandleFunc("DELETE /v1/remove/mcp_server/{server_id}", h.HandleRemoveMCPServer)
	mux.HandleFunc("POST /v1/chat/completions", h.HandleChatCompletions)
	mux.HandleFunc("POST /v1/stop/stream/{stream_id}", h.HandleStopStream)
	mux.HandleFunc("POST /v1/remove/history", h.HandleRemoveHistory)
	mux.HandleFunc("GET /v1/health", h.HandleHealth)

	userScoped := func(r *http.Request) bool { return r.URL.Path != "/v1/list/models" && r.URL.Path != "/v1/health" }

	var handler http.Handler = mux
	handler = BodyLimitMiddleware(cfg.MaxRequestBytes)(handler)
	handler = RequestTimeoutMiddleware(cfg.NonStreamTimeout)(handler)
	handler = StreamGuardMiddleware(cfg.StreamGuard)(handler)
	handler = AuthMiddleware(cfg.APIKey, userScoped)(handler)
	handler = LoggingMiddleware(logger)(handler)
	handler = CORSMiddleware(cfg.Environment, cfg.AllowedOrigins)(handler)

	return handler
}
