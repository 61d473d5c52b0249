package mcpsupervisor

import (
	"context"
	"errors"
	"testing"

	"agentgw/internal/mcpclient"
	"agentgw/internal/userconfig"
	"agentgw/internal/validator"

	sdkmcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"
)

type fakeTransport struct {
	tools []sdkmcp.Tool
}

func (f *fakeTransport) Initialize(ctx context.Context, req sdkmcp.InitializeRequest) (*sdkmcp.InitializeResult, error) {
	return &sdkmcp.InitializeResult{}, nil
}

func (f *fakeTransport) ListTools(ctx context.Context, req sdkmcp.ListToolsRequest) (*sdkmcp.ListToolsResult, error) {
	return &sdkmcp.ListToolsResult{Tools: f.tools}, nil
}

func (f *fakeTransport) CallTool(ctx context.Context, req sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
	return &sdkmcp.CallToolResult{}, nil
}

func (f *fakeTransport) Close() error { return nil }

// noConnectFactory builds clients that connect successfully against a bare
// fake transport exposing no tools.
func noConnectFactory() ClientFactory {
	return func(ctx context.Context, spec validator.ServerSpec, workDir string) (*mcpclient.Client, error) {
		c := mcpclient.New(mcpclient.Config{Spec: spec, Dial: func(validator.ServerSpec, string) (mcpclient.Transport, error) {
			return &fakeTransport{}, nil
		}})
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
}

func failingFactory() ClientFactory {
	return func(ctx context.Context, spec validator.ServerSpec, workDir string) (*mcpclient.Client, error) {
		return nil, errors.New("spawn failed")
	}
}

// toolFactory builds clients whose tool list depends on the server id, used
// to exercise tool-name collision disambiguation.
func toolFactory(toolsByServer map[string][]mcpclient.ToolInfo) ClientFactory {
	return func(ctx context.Context, spec validator.ServerSpec, workDir string) (*mcpclient.Client, error) {
		sdkTools := make([]sdkmcp.Tool, 0, len(toolsByServer[spec.ServerID]))
		for _, t := range toolsByServer[spec.ServerID] {
			sdkTools = append(sdkTools, sdkmcp.Tool{Name: t.Name, Description: t.Description})
		}
		c := mcpclient.New(mcpclient.Config{Spec: spec, Dial: func(validator.ServerSpec, string) (mcpclient.Transport, error) {
			return &fakeTransport{tools: sdkTools}, nil
		}})
		if err := c.Connect(ctx); err != nil {
			return nil, err
		}
		return c, nil
	}
}

func testSpec(id string) validator.ServerSpec {
	return validator.ServerSpec{ServerID: id, ServerName: id, Command: "npx", Args: []string{"-y", "mcp-server"}}
}

func TestAddRegistersSpecAndListsRegistered(t *testing.T) {
	store := userconfig.NewMemoryStore()
	sup := New(Config{Store: store, Factory: noConnectFactory()})

	require.NoError(t, sup.Add(context.Background(), "u1", testSpec("fs")))

	listings, err := sup.List(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, listings, 1)
	require.Equal(t, "fs", listings[0].Spec.ServerID)
	require.Equal(t, StatusReady, listings[0].Status)
}

func TestAddRollsBackPersistenceOnSpawnFailure(t *testing.T) {
	store := userconfig.NewMemoryStore()
	sup := New(Config{Store: store, Factory: failingFactory()})

	err := sup.Add(context.Background(), "u1", testSpec("fs"))
	require.Error(t, err)

	specs, err := store.List(context.Background(), "u1")
	require.NoError(t, err)
	require.Empty(t, specs, "spawn failure must roll back the persisted spec")
}

func TestRemoveDeletesSpecEvenAfterClose(t *testing.T) {
	store := userconfig.NewMemoryStore()
	sup := New(Config{Store: store, Factory: noConnectFactory()})
	require.NoError(t, sup.Add(context.Background(), "u1", testSpec("fs")))

	require.NoError(t, sup.Remove(context.Background(), "u1", "fs"))

	specs, err := store.List(context.Background(), "u1")
	require.NoError(t, err)
	require.Empty(t, specs)
}

func TestRemoveIsIdempotent(t *testing.T) {
	store := userconfig.NewMemoryStore()
	sup := New(Config{Store: store, Factory: noConnectFactory()})

	require.NoError(t, sup.Remove(context.Background(), "u1", "missing"))
	require.NoError(t, sup.Remove(context.Background(), "u1", "missing"))
}

func TestToolsForDisambiguatesCollidingNames(t *testing.T) {
	store := userconfig.NewMemoryStore()
	sup := New(Config{Store: store, Factory: toolFactory(map[string][]mcpclient.ToolInfo{
		"a": {{Name: "search"}},
		"b": {{Name: "search"}},
	})})

	require.NoError(t, sup.Add(context.Background(), "u1", testSpec("a")))
	require.NoError(t, sup.Add(context.Background(), "u1", testSpec("b")))

	tools := sup.ToolsFor("u1", []string{"a", "b"})
	require.Len(t, tools, 2)
	names := map[string]bool{}
	for _, tool := range tools {
		names[tool.QualifiedName] = true
	}
	require.True(t, names["a__search"])
	require.True(t, names["b__search"])
}

func TestStartupReconcileSkipsAlreadyLiveClients(t *testing.T) {
	store := userconfig.NewMemoryStore()
	require.NoError(t, store.Put(context.Background(), "u1", testSpec("fs")))

	sup := New(Config{Store: store, Factory: noConnectFactory()})
	sup.StartupReconcile(context.Background(), "u1")

	listings, err := sup.List(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, listings, 1)
	require.Equal(t, StatusReady, listings[0].Status)

	first, ok := sup.ClientFor("u1", "fs")
	require.True(t, ok)
	sup.StartupReconcile(context.Background(), "u1")
	second, ok := sup.ClientFor("u1", "fs")
	require.True(t, ok)
	require.Same(t, first, second)
}
