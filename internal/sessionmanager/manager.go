// Package sessionmanager implements the session manager (spec §4.G): the
// per-user directory of agent sessions keyed by model id, with idle
// eviction and a per-(user_id) lock so one user's traffic never blocks
// another's.
//
// Grounded on the same per-key-lock registry shape as mcpsupervisor
// (itself grounded on other_examples/d2d5224a_sipeed-picoclaw__pkg-mcp-manager.go.go),
// applied here to agentsession.Session instead of mcpclient.Client.
package sessionmanager

import (
	"context"
	"sync"
	"time"

	"agentgw/internal/agentsession"
	"agentgw/internal/logging"
	"agentgw/internal/mcpsupervisor"
)

// SessionFactory builds a new Session bound to userID/modelID, aggregating
// the tool set named by enabledServerIDs as it exists at this moment (spec
// §4.F: "a bound tool set ... at session-creation time"). Supplied by the
// wiring layer so this package does not need to know how system prompts or
// LLM clients are selected.
type SessionFactory func(userID, modelID string, enabledServerIDs []string) (*agentsession.Session, error)

type userDirectory struct {
	mu       sync.Mutex
	sessions map[string]*agentsession.Session // modelID -> session
}

// Manager holds the user_id -> per-model session directory.
type Manager struct {
	factory     SessionFactory
	idleHorizon time.Duration
	log         logging.Logger

	mu    sync.Mutex
	users map[string]*userDirectory
}

// Config bundles Manager's tunables.
type Config struct {
	Factory     SessionFactory
	IdleHorizon time.Duration
}

// New constructs a Manager.
func New(cfg Config) *Manager {
	horizon := cfg.IdleHorizon
	if horizon <= 0 {
		horizon = 15 * time.Minute
	}
	return &Manager{
		factory:     cfg.Factory,
		idleHorizon: horizon,
		log:         logging.NewCategoryLogger("SESSION", "Manager"),
		users:       make(map[string]*userDirectory),
	}
}

func (m *Manager) directoryFor(userID string) *userDirectory {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.users[userID]
	if !ok {
		d = &userDirectory{sessions: make(map[string]*agentsession.Session)}
		m.users[userID] = d
	}
	return d
}

// GetOrCreate returns the session for (userID, modelID), constructing one
// bound to enabledServerIDs via the factory if absent (spec §4.G). On a
// cache hit, enabledServerIDs is ignored: the tool set stays whatever it was
// bound to at creation time.
func (m *Manager) GetOrCreate(userID, modelID string, enabledServerIDs []string) (*agentsession.Session, error) {
	d := m.directoryFor(userID)
	d.mu.Lock()
	defer d.mu.Unlock()

	if s, ok := d.sessions[modelID]; ok {
		return s, nil
	}

	s, err := m.factory(userID, modelID, enabledServerIDs)
	if err != nil {
		return nil, err
	}
	d.sessions[modelID] = s
	return s, nil
}

// Cancel looks up the session owning streamID across userID's directory and
// triggers cancellation; idempotent (spec §4.G, §7: "stream:not-found ...
// returned as success to the client for idempotency").
func (m *Manager) Cancel(userID, streamID string) {
	d := m.directoryFor(userID)
	d.mu.Lock()
	sessions := make([]*agentsession.Session, 0, len(d.sessions))
	for _, s := range d.sessions {
		sessions = append(sessions, s)
	}
	d.mu.Unlock()

	for _, s := range sessions {
		if id, ok := s.ActiveStreamID(); ok && id == streamID {
			s.Cancel(streamID)
			return
		}
	}
}

// RemoveHistory drops every session's in-memory history for userID (the
// /remove/history endpoint), without tearing down bound MCP clients.
func (m *Manager) RemoveHistory(userID string) {
	d := m.directoryFor(userID)
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, s := range d.sessions {
		s.DropHistory()
	}
}

// EvictIdle sweeps every user directory and closes sessions whose
// last-activity exceeds the configured idle horizon (spec §4.G). It takes
// each user lock in turn and never holds more than one (spec §5).
func (m *Manager) EvictIdle(now time.Time) {
	m.mu.Lock()
	dirs := make(map[string]*userDirectory, len(m.users))
	for userID, d := range m.users {
		dirs[userID] = d
	}
	m.mu.Unlock()

	for _, d := range dirs {
		d.mu.Lock()
		for modelID, s := range d.sessions {
			if now.Sub(s.LastActivity()) > m.idleHorizon {
				s.CancelActive()
				delete(d.sessions, modelID)
			}
		}
		d.mu.Unlock()
	}
}

// Shutdown cancels every stream and drops every session across every user,
// used on process exit (spec §4.G).
func (m *Manager) Shutdown(ctx context.Context) {
	m.mu.Lock()
	dirs := make([]*userDirectory, 0, len(m.users))
	for _, d := range m.users {
		dirs = append(dirs, d)
	}
	m.users = make(map[string]*userDirectory)
	m.mu.Unlock()

	for _, d := range dirs {
		d.mu.Lock()
		sessions := make([]*agentsession.Session, 0, len(d.sessions))
		for _, s := range d.sessions {
			sessions = append(sessions, s)
		}
		d.sessions = make(map[string]*agentsession.Session)
		d.mu.Unlock()

		for _, s := range sessions {
			s.CancelActive()
		}
	}
}

// RunEvictionLoop blocks, running EvictIdle every interval, until ctx is
// cancelled.
func RunEvictionLoop(ctx context.Context, m *Manager, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			m.EvictIdle(now)
		}
	}
}

// BindTools is a convenience used by wiring code building a SessionFactory:
// it converts the supervisor's flat ToolsFor() result into
// agentsession.ToolBinding values.
func BindTools(sup *mcpsupervisor.Supervisor, userID string, enabledIDs []string) []agentsession.ToolBinding {
	descriptors := sup.ToolsFor(userID, enabledIDs)
	bindings := make([]agentsession.ToolBinding, 0, len(descriptors))
	for _, d := range descriptors {
		client, ok := sup.ClientFor(userID, d.ServerID)
		if !ok {
			continue
		}
		bindings = append(bindings, agentsession.ToolBinding{Descriptor: d, Client: client})
	}
	return bindings
}
