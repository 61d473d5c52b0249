// Package httpapi implements the HTTP surface (spec §4.I): routing,
// authentication, CORS, the SSE writer, and the §6 route handlers.
//
// Grounded on cklxx-elephant.ai/internal/delivery/server/http: the
// Go 1.22+ method-pattern ServeMux in router.go, the middleware chain shape
// (logging -> rate-limit -> stream-guard -> compression -> CORS), and the
// StreamGuardMiddleware/CORSMiddleware contracts exercised by that
// package's middleware_test.go (the middleware implementations themselves
// are not present in the retrieved pack, so this package reimplements them
// against the behavior those tests pin down).
package httpapi

import (
	"time"

	"agentgw/internal/logging"
	"agentgw/internal/mcpsupervisor"
	"agentgw/internal/sessionmanager"
)

// ModelInfo is one entry in the static model catalog (spec §6: GET
// /v1/list/models).
type ModelInfo struct {
	ModelID   string `json:"model_id"`
	ModelName string `json:"model_name"`
}

// Deps bundles every component the HTTP surface calls into.
type Deps struct {
	Models     []ModelInfo
	Supervisor *mcpsupervisor.Supervisor
	Sessions   *sessionmanager.Manager
}

// Config bundles the HTTP surface's own tunables (spec §6).
type Config struct {
	APIKey           string
	AllowedOrigins   []string
	Environment      string // "production" disables the wildcard CORS fallback
	StreamGuard      StreamGuardConfig
	NonStreamTimeout time.Duration
	MaxRequestBytes  int64
}

// Handler groups Deps, Config, and a logger; its methods are the route
// handlers wired in NewRouter.
type Handler struct {
	deps Deps
	cfg  Config
	log  logging.Logger
}

func newHandler(deps Deps, cfg Config) *Handler {
	return &Handler{deps: deps, cfg: cfg, log: logging.NewCategoryLogger("HTTP", "Handler")}
}

func modelRoute(deps Deps, modelID string) (string, bool) {
	for _, m := range deps.Models {
		if m.ModelID == modelID {
			return m.ModelID, true
		}
	}
	return "", false
}
