// Package mcpclient implements the MCP client (spec §4.D): a single
// subprocess-backed MCP server connection with an explicit connection state
// machine, a cached tool list, and a FIFO intent queue so concurrent callers
// never interleave partial stdio messages.
//
// Grounded on Jint8888-Pocket-Omega/internal/mcp/client.go, which wraps the
// same mark3labs/mcp-go stdio client; this version generalizes it to the
// gateway's state machine (init/starting/ready/closing/failed/closed),
// handshake deadline, and per-call timeout.
package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"agentgw/internal/apperrors"
	"agentgw/internal/logging"
	"agentgw/internal/validator"

	sdkclient "github.com/mark3labs/mcp-go/client"
	sdkmcp "github.com/mark3labs/mcp-go/mcp"
)

// State is a position in the client's connection state machine.
type State int

const (
	StateInit State = iota
	StateStarting
	StateReady
	StateClosing
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ToolInfo describes a single tool exposed by a connected server.
type ToolInfo struct {
	Name        string
	Description string
	InputSchema json.RawMessage
}

// ContentBlock is one typed result block returned by a tool call.
type ContentBlock struct {
	Type string // "text" | "image" | "structured"
	Text string
	Data json.RawMessage
}

// Transport is the subset of sdkclient.MCPClient the gateway depends on,
// narrowed so tests can substitute a fake transport.
type Transport interface {
	Initialize(ctx context.Context, req sdkmcp.InitializeRequest) (*sdkmcp.InitializeResult, error)
	ListTools(ctx context.Context, req sdkmcp.ListToolsRequest) (*sdkmcp.ListToolsResult, error)
	CallTool(ctx context.Context, req sdkmcp.CallToolRequest) (*sdkmcp.CallToolResult, error)
	Close() error
}

// Dialer constructs the underlying transport for a ServerSpec. Production
// code uses NewStdioDialer; tests substitute a fake.
type Dialer func(spec validator.ServerSpec, workDir string) (Transport, error)

// NewStdioDialer returns a Dialer that spawns spec.Command as a subprocess
// and speaks MCP over its stdio, matching
// Jint8888-Pocket-Omega/internal/mcp/client.go's stdio branch. It does not
// use workDir: the subprocess runs in the gateway process's own working
// directory.
func NewStdioDialer() Dialer {
	return func(spec validator.ServerSpec, workDir string) (Transport, error) {
		env := make([]string, 0, len(spec.Env))
		for k, v := range spec.Env {
			env = append(env, k+"="+v)
		}
		cli, err := sdkclient.NewStdioMCPClient(spec.Command, env, spec.Args...)
		if err != nil {
			return nil, err
		}
		return cli, nil
	}
}

// Client is a single MCP server connection. Safe for concurrent use; every
// tool call passes through intentQueue, a single-goroutine FIFO that
// prevents interleaved stdio writes (spec §4.D, §5: "FIFO intent queue").
// Connect and Shutdown do not go through the queue.
type Client struct {
	spec   validator.ServerSpec
	dial   Dialer
	workDir string
	log    logging.Logger

	handshakeDeadline time.Duration
	callTimeout       time.Duration
	failureBudget     int

	mu             sync.RWMutex
	state          State
	inner          Transport
	tools          []ToolInfo
	cached         bool
	consecFailures int

	intentQueue chan func()
	queueDone   chan struct{}
}

// Config bundles the tunables needed to construct a Client.
type Config struct {
	Spec              validator.ServerSpec
	WorkDir           string
	Dial              Dialer
	HandshakeDeadline time.Duration
	CallTimeout       time.Duration
	// FailureBudget is the count of consecutive transport errors at which
	// callLocked transitions to failed (spec §4.D: "recurs beyond a small
	// retry budget"). Zero uses the default.
	FailureBudget int
}

// defaultFailureBudget is the number of consecutive transport errors at
// which a client gives up on the connection. Small by design: a
// recurring transport error means the subprocess itself is in trouble, not
// that a single tool call had a bad moment.
const defaultFailureBudget = 3

// New constructs a Client in StateInit. Connect must be called before
// Tools/Call.
func New(cfg Config) *Client {
	dial := cfg.Dial
	if dial == nil {
		dial = NewStdioDialer()
	}
	handshake := cfg.HandshakeDeadline
	if handshake <= 0 {
		handshake = 30 * time.Second
	}
	callTimeout := cfg.CallTimeout
	if callTimeout <= 0 {
		callTimeout = 60 * time.Second
	}
	failureBudget := cfg.FailureBudget
	if failureBudget <= 0 {
		failureBudget = defaultFailureBudget
	}

	c := &Client{
		spec:              cfg.Spec,
		dial:              dial,
		workDir:           cfg.WorkDir,
		log:               logging.NewCategoryLogger("MCP", cfg.Spec.ServerID),
		handshakeDeadline: handshake,
		callTimeout:       callTimeout,
		failureBudget:     failureBudget,
		state:             StateInit,
		intentQueue:       make(chan func()),
		queueDone:         make(chan struct{}),
	}
	go c.runQueue()
	return c
}

func (c *Client) runQueue() {
	defer close(c.queueDone)
	for fn := range c.intentQueue {
		fn()
	}
}

// submit runs fn on the intent queue goroutine and blocks until it returns,
// serializing it against every other call on this client.
func (c *Client) submit(fn func()) {
	done := make(chan struct{})
	c.intentQueue <- func() {
		fn()
		close(done)
	}
	<-done
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Connect spawns the subprocess and performs the MCP initialize handshake,
// then fetches the tool list once so State transitions to ready only after a
// well-formed reply (spec §4.D: "starting → ready when the first successful
// list tools reply is received within the handshake deadline").
func (c *Client) Connect(ctx context.Context) error {
	c.setState(StateStarting)

	hsCtx, cancel := context.WithTimeout(ctx, c.handshakeDeadline)
	defer cancel()

	inner, err := c.dial(c.spec, c.workDir)
	if err != nil {
		c.setState(StateFailed)
		return apperrors.Wrap(apperrors.KindMCPSpawnFailed, fmt.Sprintf("spawn MCP server %q", c.spec.ServerID), err)
	}

	if _, err := inner.Initialize(hsCtx, sdkmcp.InitializeRequest{
		Params: sdkmcp.InitializeParams{
			ProtocolVersion: sdkmcp.LATEST_PROTOCOL_VERSION,
			ClientInfo: sdkmcp.Implementation{
				Name:    "agentgw",
				Version: "1.0.0",
			},
		},
	}); err != nil {
		_ = inner.Close()
		c.setState(StateFailed)
		if hsCtx.Err() != nil {
			return apperrors.Wrap(apperrors.KindMCPHandshakeTimeout, fmt.Sprintf("handshake timeout for %q", c.spec.ServerID), err)
		}
		return apperrors.Wrap(apperrors.KindMCPHandshakeTimeout, fmt.Sprintf("handshake failed for %q", c.spec.ServerID), err)
	}

	result, err := inner.ListTools(hsCtx, sdkmcp.ListToolsRequest{})
	if err != nil {
		_ = inner.Close()
		c.setState(StateFailed)
		return apperrors.Wrap(apperrors.KindMCPHandshakeTimeout, fmt.Sprintf("initial list-tools failed for %q", c.spec.ServerID), err)
	}

	tools := toolsFromResult(result)

	c.mu.Lock()
	c.inner = inner
	c.tools = tools
	c.cached = true
	c.state = StateReady
	c.mu.Unlock()
	return nil
}

func toolsFromResult(result *sdkmcp.ListToolsResult) []ToolInfo {
	tools := make([]ToolInfo, 0, len(result.Tools))
	for _, t := range result.Tools {
		schema, err := json.Marshal(t.InputSchema)
		if err != nil {
			schema = json.RawMessage("{}")
		}
		tools = append(tools, ToolInfo{Name: t.Name, Description: t.Description, InputSchema: schema})
	}
	return tools
}

// Tools returns the cached tool list. Callers must only invoke this once the
// client is ready.
func (c *Client) Tools() []ToolInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]ToolInfo, len(c.tools))
	copy(out, c.tools)
	return out
}

// Call invokes name with arguments, serialized on the intent queue and
// bounded by the configured per-call timeout (spec §4.D: "call() ... bounded
// by a per-call timeout"). It never transitions the client out of ready
// unless the underlying transport itself fails.
func (c *Client) Call(ctx context.Context, name string, arguments map[string]any) ([]ContentBlock, error) {
	if c.State() != StateReady {
		return nil, apperrors.New(apperrors.KindMCPTransport, fmt.Sprintf("client %q not ready", c.spec.ServerID))
	}

	var (
		blocks []ContentBlock
		callErr error
	)
	c.submit(func() {
		blocks, callErr = c.callLocked(ctx, name, arguments)
	})
	return blocks, callErr
}

func (c *Client) callLocked(ctx context.Context, name string, arguments map[string]any) ([]ContentBlock, error) {
	c.mu.RLock()
	inner := c.inner
	c.mu.RUnlock()
	if inner == nil {
		return nil, apperrors.New(apperrors.KindMCPTransport, fmt.Sprintf("client %q has no live transport", c.spec.ServerID))
	}

	callCtx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	req := sdkmcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = arguments

	result, err := inner.CallTool(callCtx, req)
	if err != nil {
		if callCtx.Err() != nil {
			return nil, apperrors.Wrap(apperrors.KindMCPToolTimeout, fmt.Sprintf("tool %q timed out", name), err)
		}
		return nil, c.recordTransportFailure(name, err)
	}

	c.resetTransportFailures()

	blocks := contentBlocksFromResult(result)
	if result.IsError {
		var text strings.Builder
		for _, b := range blocks {
			text.WriteString(b.Text)
		}
		return blocks, apperrors.New(apperrors.KindMCPToolRaised, text.String())
	}
	return blocks, nil
}

// recordTransportFailure counts one non-timeout transport error against the
// client's failure budget, only transitioning to failed once the count of
// consecutive errors reaches that budget (spec §4.D: "ready → failed if any later tool
// call or health probe raises a transport error that recurs beyond a small
// retry budget"). A single transient hiccup leaves the client in ready so
// the caller's next call gets a fresh attempt.
func (c *Client) recordTransportFailure(name string, cause error) error {
	c.mu.Lock()
	c.consecFailures++
	failures := c.consecFailures
	exhausted := failures >= c.failureBudget
	if exhausted {
		c.state = StateFailed
	}
	c.mu.Unlock()

	if exhausted {
		c.log.Warn("server %q transport error recurred %d times, marking failed: %v", c.spec.ServerID, failures, cause)
		return apperrors.Wrap(apperrors.KindMCPTransport, fmt.Sprintf("tool %q transport error (budget exhausted)", name), cause)
	}
	c.log.Warn("server %q transport error %d/%d, staying ready: %v", c.spec.ServerID, failures, c.failureBudget, cause)
	return apperrors.Wrap(apperrors.KindMCPTransport, fmt.Sprintf("tool %q transport error", name), cause)
}

func (c *Client) resetTransportFailures() {
	c.mu.Lock()
	c.consecFailures = 0
	c.mu.Unlock()
}

func contentBlocksFromResult(result *sdkmcp.CallToolResult) []ContentBlock {
	blocks := make([]ContentBlock, 0, len(result.Content))
	for _, content := range result.Content {
		switch v := content.(type) {
		case sdkmcp.TextContent:
			blocks = append(blocks, ContentBlock{Type: "text", Text: v.Text})
		case sdkmcp.ImageContent:
			blocks = append(blocks, ContentBlock{Type: "image", Text: v.MIMEType, Data: json.RawMessage(v.Data)})
		default:
			encoded, _ := json.Marshal(content)
			blocks = append(blocks, ContentBlock{Type: "structured", Data: encoded})
		}
	}
	return blocks
}

// Shutdown transitions ready → closing → closed: it asks the underlying
// transport to close and allows drain time, matching spec §4.D's "graceful
// disconnect, drain window, then terminate".
func (c *Client) Shutdown(ctx context.Context, drain time.Duration) error {
	c.setState(StateClosing)

	c.mu.RLock()
	inner := c.inner
	c.mu.RUnlock()

	closeDone := make(chan error, 1)
	go func() {
		var err error
		if inner != nil {
			err = inner.Close()
		}
		closeDone <- err
	}()

	var err error
	select {
	case err = <-closeDone:
	case <-time.After(drain):
		err = apperrors.New(apperrors.KindMCPTransport, fmt.Sprintf("server %q did not close within drain window", c.spec.ServerID))
	case <-ctx.Done():
		err = ctx.Err()
	}

	close(c.intentQueue)
	<-c.queueDone
	c.setState(StateClosed)
	return err
}

// Spec returns the ServerSpec this client was constructed from.
func (c *Client) Spec() validator.ServerSpec {
	return c.spec
}
