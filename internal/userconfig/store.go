// Package userconfig implements the User-config store (spec §4.C): the
// durable record of which MCP servers a user has registered, so they survive
// process restarts. Only validated ServerSpecs are stored — no conversation
// content, no tokens, no secrets (spec §4.C).
package userconfig

import (
	"context"

	"agentgw/internal/validator"
)

// Store is the abstract interface over the external durable key-value store
// described in spec §4.C and §6 (primary key user_id, sort key server_id,
// single attribute "spec").
type Store interface {
	// Put upserts a validated spec for (userID, spec.ServerID).
	Put(ctx context.Context, userID string, spec validator.ServerSpec) error
	// Delete is idempotent: deleting an absent (userID, serverID) pair
	// succeeds.
	Delete(ctx context.Context, userID, serverID string) error
	// List returns every persisted spec for userID.
	List(ctx context.Context, userID string) ([]validator.ServerSpec, error)
	// Get returns the persisted spec for (userID, serverID), or ok=false if
	// absent.
	Get(ctx context.Context, userID, serverID string) (spec validator.ServerSpec, ok bool, err error)
}
