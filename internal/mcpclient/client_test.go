package mcpclient

import (
	"context"
	"errors"
	"testing"
	"time"

	"agentgw/internal/apperrors"
	"agentgw/internal/validator"

	sdkmcp "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"
)

var errTransport = errors.New("transport broke")

type fakeInner struct {
	initErr     error
	listErr     error
	listDelay   time.Duration
	tools       []sdkmcp.Tool
	callResult  *sdkmcp.CallToolResult
	callErr     error
	closeCalled bool
}

func (f *fakeInner) Initialize(ctx context.Context, req sdkmcp.InitializeRequest) (*sdkmcp.InitializeResult, error) {
	if f.initErr != nil {
		return nil, f.initErr
	}
	return &sdkmcp.InitializeResult{}, nil
}

func (f *fakeInner) ListTools(ctx context.Context, req sdkmcp.ListToolsRequest) (*sdkmcp.ListToolsResult, error) {
	if f.listDelay > 0 {
		select {
		case <-time.After(f.listDelay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if f.listErr != nil {
		return nil, f.listErr
	}
	return &sdkmcp.ListToolsResult{Tools: f.tools}, nil
}

func (f *fakeInner) CallTool(ctx context.Context, req sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error) {
	if f.callErr != nil {
		return nil, f.callErr
	}
	return f.callResult, nil
}

func (f *fakeInner) Close() error {
	f.closeCalled = true
	return nil
}

func dialerFor(inner *fakeInner) Dialer {
	return func(spec validator.ServerSpec, workDir string) (Transport, error) {
		return inner, nil
	}
}

func testSpec() validator.ServerSpec {
	return validator.ServerSpec{ServerID: "fs", ServerName: "filesystem", Command: "npx", Args: []string{"-y", "mcp-server-filesystem"}}
}

func TestConnectTransitionsToReadyOnSuccessfulHandshake(t *testing.T) {
	inner := &fakeInner{tools: []sdkmcp.Tool{{Name: "read_file", Description: "reads a file"}}}
	c := New(Config{Spec: testSpec(), Dial: dialerFor(inner)})

	err := c.Connect(context.Background())
	require.NoError(t, err)
	require.Equal(t, StateReady, c.State())
	require.Len(t, c.Tools(), 1)
	require.Equal(t, "read_file", c.Tools()[0].Name)
}

func TestConnectFailsOnHandshakeTimeout(t *testing.T) {
	inner := &fakeInner{listDelay: 50 * time.Millisecond}
	c := New(Config{Spec: testSpec(), Dial: dialerFor(inner), HandshakeDeadline: 10 * time.Millisecond})

	err := c.Connect(context.Background())
	require.Error(t, err)
	require.Equal(t, StateFailed, c.State())
	kind, ok := apperrors.KindOf(err)
	require.True(t, ok)
	require.Equal(t, apperrors.KindMCPHandshakeTimeout, kind)
}

func TestConnectFailsOnSpawnError(t *testing.T) {
	dial := func(spec validator.ServerSpec, workDir string) (Transport, error) {
		return nil, context.DeadlineExceeded
	}
	c := New(Config{Spec: testSpec(), Dial: dial})

	err := c.Connect(context.Background())
	require.Error(t, err)
	require.Equal(t, StateFailed, c.State())
	kind, ok := apperrors.KindOf(err)
	require.True(t, ok)
	require.Equal(t, apperrors.KindMCPSpawnFailed, kind)
}

func TestCallReturnsContentBlocksOnSuccess(t *testing.T) {
	inner := &fakeInner{
		tools: []sdkmcp.Tool{{Name: "read_file"}},
		callResult: &sdkmcp.CallToolResult{
			Content: []sdkmcp.Content{sdkmcp.TextContent{Text: "file contents"}},
		},
	}
	c := New(Config{Spec: testSpec(), Dial: dialerFor(inner)})
	require.NoError(t, c.Connect(context.Background()))

	blocks, err := c.Call(context.Background(), "read_file", map[string]any{"path": "/tmp/a"})
	require.NoError(t, err)
	require.Len(t, blocks, 1)
	require.Equal(t, "file contents", blocks[0].Text)
}

func TestCallReportsToolRaisedWithoutLeavingReady(t *testing.T) {
	inner := &fakeInner{
		tools: []sdkmcp.Tool{{Name: "read_file"}},
		callResult: &sdkmcp.CallToolResult{
			IsError: true,
			Content: []sdkmcp.Content{sdkmcp.TextContent{Text: "no such file"}},
		},
	}
	c := New(Config{Spec: testSpec(), Dial: dialerFor(inner)})
	require.NoError(t, c.Connect(context.Background()))

	_, err := c.Call(context.Background(), "read_file", nil)
	require.Error(t, err)
	kind, ok := apperrors.KindOf(err)
	require.True(t, ok)
	require.Equal(t, apperrors.KindMCPToolRaised, kind)
	require.Equal(t, StateReady, c.State())
}

func TestCallToleratesTransportErrorsWithinBudget(t *testing.T) {
	inner := &fakeInner{
		tools:   []sdkmcp.Tool{{Name: "read_file"}},
		callErr: errTransport, // any non-timeout transport error
	}
	c := New(Config{Spec: testSpec(), Dial: dialerFor(inner), FailureBudget: 2})
	require.NoError(t, c.Connect(context.Background()))

	_, err := c.Call(context.Background(), "read_file", nil)
	require.Error(t, err)
	kind, ok := apperrors.KindOf(err)
	require.True(t, ok)
	require.Equal(t, apperrors.KindMCPTransport, kind)
	require.Equal(t, StateReady, c.State(), "a single transport error must stay within the retry budget")
}

func TestCallTransitionsToFailedOnceBudgetExhausted(t *testing.T) {
	inner := &fakeInner{
		tools:   []sdkmcp.Tool{{Name: "read_file"}},
		callErr: errTransport,
	}
	c := New(Config{Spec: testSpec(), Dial: dialerFor(inner), FailureBudget: 2})
	require.NoError(t, c.Connect(context.Background()))

	_, err := c.Call(context.Background(), "read_file", nil)
	require.Error(t, err)
	require.Equal(t, StateReady, c.State())

	_, err = c.Call(context.Background(), "read_file", nil)
	require.Error(t, err)
	require.Equal(t, StateFailed, c.State())
}

func TestCallResetsFailureCounterOnSuccess(t *testing.T) {
	inner := &fakeInner{
		tools:   []sdkmcp.Tool{{Name: "read_file"}},
		callErr: errTransport,
	}
	c := New(Config{Spec: testSpec(), Dial: dialerFor(inner), FailureBudget: 2})
	require.NoError(t, c.Connect(context.Background()))

	_, err := c.Call(context.Background(), "read_file", nil)
	require.Error(t, err)
	require.Equal(t, StateReady, c.State())

	inner.callErr = nil
	inner.callResult = &sdkmcp.CallToolResult{Content: []sdkmcp.Content{sdkmcp.TextContent{Text: "ok"}}}
	_, err = c.Call(context.Background(), "read_file", nil)
	require.NoError(t, err)

	inner.callErr = errTransport
	_, err = c.Call(context.Background(), "read_file", nil)
	require.Error(t, err)
	require.Equal(t, StateReady, c.State(), "a success resets the failure counter, so the next error alone must not exhaust the budget")
}

func TestCallSerializesConcurrentInvocations(t *testing.T) {
	inner := &fakeInner{
		tools:      []sdkmcp.Tool{{Name: "slow"}},
		callResult: &sdkmcp.CallToolResult{Content: []sdkmcp.Content{sdkmcp.TextContent{Text: "ok"}}},
	}
	c := New(Config{Spec: testSpec(), Dial: dialerFor(inner)})
	require.NoError(t, c.Connect(context.Background()))

	done := make(chan struct{})
	for i := 0; i < 5; i++ {
		go func() {
			_, _ = c.Call(context.Background(), "slow", nil)
			done <- struct{}{}
		}()
	}
	for i := 0; i < 5; i++ {
		<-done
	}
}

func TestShutdownClosesTransportAndQueue(t *testing.T) {
	inner := &fakeInner{tools: []sdkmcp.Tool{{Name: "read_file"}}}
	c := New(Config{Spec: testSpec(), Dial: dialerFor(inner)})
	require.NoError(t, c.Connect(context.Background()))

	err := c.Shutdown(context.Background(), time.Second)
	require.NoError(t, err)
	require.True(t, inner.closeCalled)
	require.Equal(t, StateClosed, c.State())
}
