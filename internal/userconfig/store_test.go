package userconfig

import (
	"context"
	"testing"

	"agentgw/internal/validator"

	"github.com/stretchr/testify/require"
)

func TestMemoryStorePutThenListContainsSpec(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	spec := validator.ServerSpec{ServerID: "fs", ServerName: "filesystem", Command: "npx", Args: []string{"-y", "mcp-server-fs"}}

	require.NoError(t, store.Put(ctx, "user-1", spec))

	specs, err := store.List(ctx, "user-1")
	require.NoError(t, err)
	require.Contains(t, specs, spec)
}

func TestMemoryStorePutIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	spec := validator.ServerSpec{ServerID: "fs", ServerName: "filesystem", Command: "npx"}

	require.NoError(t, store.Put(ctx, "user-1", spec))
	require.NoError(t, store.Put(ctx, "user-1", spec))

	specs, err := store.List(ctx, "user-1")
	require.NoError(t, err)
	require.Len(t, specs, 1)
}

func TestMemoryStoreDeleteIsIdempotent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	spec := validator.ServerSpec{ServerID: "fs", ServerName: "filesystem", Command: "npx"}
	require.NoError(t, store.Put(ctx, "user-1", spec))

	require.NoError(t, store.Delete(ctx, "user-1", "fs"))
	require.NoError(t, store.Delete(ctx, "user-1", "fs"))

	specs, err := store.List(ctx, "user-1")
	require.NoError(t, err)
	require.Empty(t, specs)
}

func TestMemoryStoreGetReportsAbsence(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	_, ok, err := store.Get(ctx, "user-1", "missing")
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryStoreIsolatesUsers(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	spec := validator.ServerSpec{ServerID: "fs", ServerName: "filesystem", Command: "npx"}
	require.NoError(t, store.Put(ctx, "user-1", spec))

	specs, err := store.List(ctx, "user-2")
	require.NoError(t, err)
	require.Empty(t, specs)
}
