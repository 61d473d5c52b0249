// Package mcpsupervisor implements the MCP supervisor (spec §4.E): the
// per-user registry of mcpclient.Client instances, reachable through add,
// remove, list, tools_for and startup_reconcile. Each user's registry is
// guarded by its own lock so mutating one user's servers never blocks
// another's (spec §5: "Session manager and MCP supervisor hold per-user
// locks; no global critical section exists on the hot path").
//
// Grounded on the per-user map pattern in
// other_examples/d2d5224a_sipeed-picoclaw__pkg-mcp-manager.go.go (a
// name -> *instance registry guarded by a per-instance mutex), generalized
// here to a two-level per-user map plus the persistence roundtrip from
// userconfig.
package mcpsupervisor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"agentgw/internal/apperrors"
	"agentgw/internal/logging"
	"agentgw/internal/mcpclient"
	"agentgw/internal/userconfig"
	"agentgw/internal/validator"
)

// ClientFactory constructs and connects a new mcpclient.Client for spec,
// given the per-user scratch path as workDir (the stdio dialer does not
// apply it to the subprocess; see mcpclient.NewStdioDialer). Tests
// substitute a fake.
type ClientFactory func(ctx context.Context, spec validator.ServerSpec, workDir string) (*mcpclient.Client, error)

// DefaultClientFactory builds a real mcpclient.Client over stdio and calls
// Connect, matching spec §4.D's init -> starting -> ready path.
func DefaultClientFactory(handshakeDeadline, callTimeout time.Duration) ClientFactory {
	return func(ctx context.Context, spec validator.ServerSpec, workDir string) (*mcpclient.Client, error) {
		c := mcpclient.New(mcpclient.Config{
			Spec:              spec,
			WorkDir:           workDir,
			HandshakeDeadline: handshakeDeadline,
			CallTimeout:       callTimeout,
		})
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
}

// ServerStatus is the derived, non-persisted status of a registered server
// (spec §3: ServerSpec.status).
type ServerStatus string

const (
	StatusRegistered ServerStatus = "registered"
	StatusConnecting ServerStatus = "connecting"
	StatusReady      ServerStatus = "ready"
	StatusFailed     ServerStatus = "failed"
)

// ServerListing is one entry in List's result: a persisted spec annotated
// with the live client's status.
type ServerListing struct {
	Spec   validator.ServerSpec
	Status ServerStatus
}

// ToolDescriptor is one tool available through a given, possibly
// disambiguated, name.
type ToolDescriptor struct {
	QualifiedName string // server_id-prefixed when collisions occur
	ServerID      string
	Tool          mcpclient.ToolInfo
}

type userRegistry struct {
	mu      sync.Mutex
	clients map[string]*mcpclient.Client // serverID -> client
}

// Supervisor holds the user_id -> UserMcpRegistry map (spec §4.E).
type Supervisor struct {
	store   userconfig.Store
	factory ClientFactory
	scratch string
	log     logging.Logger

	drainWindow time.Duration

	mu    sync.Mutex
	users map[string]*userRegistry
}

// Config bundles Supervisor's tunables.
type Config struct {
	Store       userconfig.Store
	Factory     ClientFactory
	ScratchRoot string
	DrainWindow time.Duration
}

// New constructs a Supervisor.
func New(cfg Config) *Supervisor {
	drain := cfg.DrainWindow
	if drain <= 0 {
		drain = 5 * time.Second
	}
	scratch := cfg.ScratchRoot
	if scratch == "" {
		scratch = os.TempDir()
	}
	return &Supervisor{
		store:       cfg.Store,
		factory:     cfg.Factory,
		scratch:     scratch,
		drainWindow: drain,
		log:         logging.NewCategoryLogger("MCP", "Supervisor"),
		users:       make(map[string]*userRegistry),
	}
}

func (s *Supervisor) registryFor(userID string) *userRegistry {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.users[userID]
	if !ok {
		r = &userRegistry{clients: make(map[string]*mcpclient.Client)}
		s.users[userID] = r
	}
	return r
}

func (s *Supervisor) workDirFor(userID string) string {
	return filepath.Join(s.scratch, "agentgw", userID)
}

// Add validates, persists, then spawns a client for spec (spec §4.E: "add:
// validate -> persist -> spawn -> register. On spawn failure, persist is
// rolled back"). Add is where specs are validated: the HTTP handler passes
// the decoded spec through unchecked. StartupReconcile does not call Add; it
// respawns already-persisted specs through the factory directly.
func (s *Supervisor) Add(ctx context.Context, userID string, spec validator.ServerSpec) error {
	if err := validator.Validate(spec); err != nil {
		return err
	}

	reg := s.registryFor(userID)
	reg.mu.Lock()
	defer reg.mu.Unlock()

	if err := s.store.Put(ctx, userID, spec); err != nil {
		return apperrors.Wrap(apperrors.KindStoreUnavailable, "persist server spec", err)
	}

	client, err := s.factory(ctx, spec, s.workDirFor(userID))
	if err != nil {
		if delErr := s.store.Delete(ctx, userID, spec.ServerID); delErr != nil {
			s.log.Warn("rollback delete failed for user %s server %s: %v", userID, spec.ServerID, delErr)
		}
		return err
	}

	if old, exists := reg.clients[spec.ServerID]; exists {
		go func() { _ = old.Shutdown(context.Background(), s.drainWindow) }()
	}
	reg.clients[spec.ServerID] = client
	return nil
}

// Remove closes the client (if any) then deletes the persisted spec. Close
// errors do not block deletion (spec §4.E).
func (s *Supervisor) Remove(ctx context.Context, userID, serverID string) error {
	reg := s.registryFor(userID)
	reg.mu.Lock()
	client, exists := reg.clients[serverID]
	if exists {
		delete(reg.clients, serverID)
	}
	reg.mu.Unlock()

	if exists {
		if err := client.Shutdown(ctx, s.drainWindow); err != nil {
			s.log.Warn("close error for user %s server %s (deletion proceeds): %v", userID, serverID, err)
		}
	}

	if err := s.store.Delete(ctx, userID, serverID); err != nil {
		return apperrors.Wrap(apperrors.KindStoreUnavailable, "delete server spec", err)
	}
	return nil
}

// List returns the union of persisted specs and live clients, annotated with
// status (spec §4.E).
func (s *Supervisor) List(ctx context.Context, userID string) ([]ServerListing, error) {
	specs, err := s.store.List(ctx, userID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.KindStoreUnavailable, "list server specs", err)
	}

	reg := s.registryFor(userID)
	reg.mu.Lock()
	statuses := make(map[string]ServerStatus, len(reg.clients))
	liveOnly := make(map[string]validator.ServerSpec, len(reg.clients))
	for serverID, client := range reg.clients {
		statuses[serverID] = statusFromState(client.State())
		liveOnly[serverID] = client.Spec()
	}
	reg.mu.Unlock()

	listings := make([]ServerListing, 0, len(specs))
	for _, spec := range specs {
		status, ok := statuses[spec.ServerID]
		if !ok {
			status = StatusRegistered
		}
		listings = append(listings, ServerListing{Spec: spec, Status: status})
		delete(liveOnly, spec.ServerID)
	}
	for serverID, spec := range liveOnly {
		listings = append(listings, ServerListing{Spec: spec, Status: statuses[serverID]})
	}
	return listings, nil
}

func statusFromState(state mcpclient.State) ServerStatus {
	switch state {
	case mcpclient.StateReady:
		return StatusReady
	case mcpclient.StateStarting:
		return StatusConnecting
	case mcpclient.StateFailed:
		return StatusFailed
	default:
		return StatusRegistered
	}
}

// ToolsFor returns a flat tool list across enabledIDs, disambiguating
// colliding tool names by prefixing the server id (spec §4.E).
func (s *Supervisor) ToolsFor(userID string, enabledIDs []string) []ToolDescriptor {
	reg := s.registryFor(userID)
	reg.mu.Lock()
	defer reg.mu.Unlock()

	seen := make(map[string]int)
	type rawTool struct {
		serverID string
		tool     mcpclient.ToolInfo
	}
	var raw []rawTool
	for _, serverID := range enabledIDs {
		client, ok := reg.clients[serverID]
		if !ok || client.State() != mcpclient.StateReady {
			continue
		}
		for _, tool := range client.Tools() {
			raw = append(raw, rawTool{serverID: serverID, tool: tool})
			seen[tool.Name]++
		}
	}

	descriptors := make([]ToolDescriptor, 0, len(raw))
	for _, rt := range raw {
		name := rt.tool.Name
		if seen[name] > 1 {
			name = fmt.Sprintf("%s__%s", rt.serverID, rt.tool.Name)
		}
		descriptors = append(descriptors, ToolDescriptor{QualifiedName: name, ServerID: rt.serverID, Tool: rt.tool})
	}
	return descriptors
}

// ClientFor returns the live client for (userID, serverID), or ok=false if
// none is registered and ready.
func (s *Supervisor) ClientFor(userID, serverID string) (*mcpclient.Client, bool) {
	reg := s.registryFor(userID)
	reg.mu.Lock()
	defer reg.mu.Unlock()
	client, ok := reg.clients[serverID]
	if !ok || client.State() != mcpclient.StateReady {
		return nil, false
	}
	return client, true
}

// StartupReconcile re-spawns clients for every persisted spec belonging to
// userID. Failures are logged and do not block the remaining specs (spec
// §4.E). Safe to call more than once; already-live clients are left alone.
func (s *Supervisor) StartupReconcile(ctx context.Context, userID string) {
	specs, err := s.store.List(ctx, userID)
	if err != nil {
		s.log.Warn("startup reconcile: list specs for user %s: %v", userID, err)
		return
	}

	reg := s.registryFor(userID)
	for _, spec := range specs {
		reg.mu.Lock()
		_, alreadyLive := reg.clients[spec.ServerID]
		reg.mu.Unlock()
		if alreadyLive {
			continue
		}

		client, err := s.factory(ctx, spec, s.workDirFor(userID))
		if err != nil {
			s.log.Warn("startup reconcile: respawn user %s server %s: %v", userID, spec.ServerID, err)
			continue
		}

		reg.mu.Lock()
		reg.clients[spec.ServerID] = client
		reg.mu.Unlock()
	}
}

// Shutdown closes every live client across every user, used on process exit.
func (s *Supervisor) Shutdown(ctx context.Context) {
	s.mu.Lock()
	users := make([]*userRegistry, 0, len(s.users))
	for _, r := range s.users {
		users = append(users, r)
	}
	s.mu.Unlock()

	for _, reg := range users {
		reg.mu.Lock()
		clients := make([]*mcpclient.Client, 0, len(reg.clients))
		for _, c := range reg.clients {
			clients = append(clients, c)
		}
		reg.clients = make(map[string]*mcpclient.Client)
		reg.mu.Unlock()

		for _, c := range clients {
			if err := c.Shutdown(ctx, s.drainWindow); err != nil {
				s.log.Warn("shutdown: close client: %v", err)
			}
		}
	}
}
