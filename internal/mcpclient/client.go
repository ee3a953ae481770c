// Package mcpclient is the MCP Client Core (spec §4.5): it owns the
// monotonic request-id counter, correlates responses to pending calls, runs
// the initialize handshake, and dispatches inbound notifications to a
// caller-supplied handler.
//
// Grounded on the teacher's cmd/docker-mcp/internal/mcp/mcp_client.go
// ClientOptions handler-table idiom (one callback field per notification
// kind) — reshaped into a method-keyed dispatch map since this client
// terminates the wire protocol itself rather than delegating to
// modelcontextprotocol/go-sdk.
package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/mcpctl/mcpctl/internal/jsonrpc"
	"github.com/mcpctl/mcpctl/internal/log"
	"github.com/mcpctl/mcpctl/internal/mcperrors"
	"github.com/mcpctl/mcpctl/internal/mcptransport"
)

// NotificationHandler is invoked for every inbound server notification, in
// arrival order, on the client's single read-loop goroutine (spec §5:
// "notifications... processed in arrival order"). Implementations must not
// block for long — cache invalidation and registry timestamp updates belong
// here, not long-running work.
type NotificationHandler func(method string, params json.RawMessage)

// TerminalErrorHandler is invoked at most once, when the transport reports
// a terminal error (SessionExpired, TransportClosed) and the read loop is
// about to exit. The bridge uses this to drive its own state machine
// (spec §4.7: "ready -> session-expired signal -> expired").
type TerminalErrorHandler func(err error)

// ClientInfo is the client half of the initialize handshake.
type ClientInfo struct {
	Name    string
	Version string
}

// ServerInfo is what the server announced during initialize, retained for
// the lifetime of the session (spec §4.5).
type ServerInfo struct {
	Name            string
	Version         string
	ProtocolVersion string
	Instructions    string
	Capabilities    json.RawMessage
}

// pendingResult is either a correlated JSON-RPC frame or a terminal
// transport error (spec §8: "exactly one of {response(i), error(i),
// transport-closed} is observed"); keeping them distinct lets a
// transport-closed failure keep its real mcperrors.Kind instead of being
// coerced into a fabricated JSON-RPC error code.
type pendingResult struct {
	frame jsonrpc.Frame
	err   error
}

type pendingCall struct {
	resp chan pendingResult
}

// Client is the MCP Client Core. One Client owns one Transport for the
// lifetime of one bridge session.
type Client struct {
	transport    mcptransport.Transport
	ids          jsonrpc.IDGenerator
	clientInfo   ClientInfo
	onNotify     NotificationHandler
	onTerminal   TerminalErrorHandler
	logger       *log.Logger

	mu      sync.Mutex
	pending map[string]pendingCall
	server  ServerInfo

	readDone chan struct{}
}

// Options configures a new Client.
type Options struct {
	Transport    mcptransport.Transport
	ClientInfo   ClientInfo
	OnNotify     NotificationHandler
	OnTerminal   TerminalErrorHandler
	Logger       *log.Logger
}

// New constructs a Client bound to transport. Call Start before any other method.
func New(opts Options) *Client {
	onNotify := opts.OnNotify
	if onNotify == nil {
		onNotify = func(string, json.RawMessage) {}
	}
	onTerminal := opts.OnTerminal
	if onTerminal == nil {
		onTerminal = func(error) {}
	}
	return &Client{
		transport:  opts.Transport,
		clientInfo: opts.ClientInfo,
		onNotify:   onNotify,
		onTerminal: onTerminal,
		logger:     opts.Logger,
		pending:    make(map[string]pendingCall),
		readDone:   make(chan struct{}),
	}
}

// Start launches the transport and the read-dispatch loop.
func (c *Client) Start(ctx context.Context) error {
	if err := c.transport.Start(ctx); err != nil {
		return fmt.Errorf("starting transport: %w", err)
	}
	go c.readLoop()
	return nil
}

// Close stops the transport.
func (c *Client) Close(ctx context.Context) error {
	return c.transport.Stop(ctx)
}

// ServerInfo returns the server's announced identity, valid after Initialize.
func (c *Client) ServerInfo() ServerInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.server
}

func (c *Client) readLoop() {
	defer close(c.readDone)
	for inbound := range c.transport.Frames() {
		if inbound.Err != nil {
			c.failAllPending(inbound.Err)
			c.onTerminal(inbound.Err)
			return
		}
		frame := inbound.Frame
		if frame.IsNotification() {
			c.onNotify(frame.Method, frame.Params)
			continue
		}
		if frame.ID == nil {
			continue
		}
		c.deliverResponse(*frame.ID, frame)
	}
}

func (c *Client) deliverResponse(id jsonrpc.ID, frame jsonrpc.Frame) {
	c.mu.Lock()
	call, ok := c.pending[id.String()]
	if ok {
		delete(c.pending, id.String())
	}
	c.mu.Unlock()
	if !ok {
		if c.logger != nil {
			c.logger.Printf("discarding response for unknown id %s", id.String())
		}
		return
	}
	call.resp <- pendingResult{frame: frame}
}

func (c *Client) failAllPending(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, call := range c.pending {
		call.resp <- pendingResult{err: err}
		delete(c.pending, id)
	}
}

// call sends a request and blocks until its response arrives, the context
// is cancelled, or the transport reports a terminal error.
func (c *Client) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	raw, err := marshalParams(params)
	if err != nil {
		return nil, err
	}

	id := c.ids.Next()
	respCh := make(chan pendingResult, 1)

	c.mu.Lock()
	c.pending[id.String()] = pendingCall{resp: respCh}
	c.mu.Unlock()

	req := jsonrpc.Request{JSONRPC: jsonrpc.Version, ID: id, Method: method, Params: raw}
	if err := c.transport.Send(ctx, req); err != nil {
		c.mu.Lock()
		delete(c.pending, id.String())
		c.mu.Unlock()
		// SessionExpired/AuthError are already terminal, correctly-kinded
		// errors from the transport (e.g. a 404 session-expired body or a
		// post-refresh auth failure, mcptransport/http.go); re-wrapping them
		// as KindNetwork here would mis-map the exit code (spec §7/§8).
		switch mcperrors.KindOf(err) {
		case mcperrors.KindSessionExpired, mcperrors.KindAuth:
			return nil, err
		}
		return nil, mcperrors.Wrap(mcperrors.KindNetwork, err, fmt.Sprintf("sending %s", method))
	}

	select {
	case result := <-respCh:
		if result.err != nil {
			return nil, result.err
		}
		if result.frame.Error != nil {
			return nil, mcperrors.NewMCP(result.frame.Error.Code, result.frame.Error.Message)
		}
		return result.frame.Result, nil
	case <-ctx.Done():
		c.mu.Lock()
		delete(c.pending, id.String())
		c.mu.Unlock()
		return nil, mcperrors.Wrap(mcperrors.KindNetwork, ctx.Err(), fmt.Sprintf("%s timed out", method))
	}
}

func (c *Client) notify(ctx context.Context, method string, params any) error {
	raw, err := marshalParams(params)
	if err != nil {
		return err
	}
	n := jsonrpc.Notification{JSONRPC: jsonrpc.Version, Method: method, Params: raw}
	if err := c.transport.SendNotification(ctx, n); err != nil {
		return mcperrors.Wrap(mcperrors.KindNetwork, err, fmt.Sprintf("sending %s notification", method))
	}
	return nil
}

func marshalParams(params any) (json.RawMessage, error) {
	if params == nil {
		return nil, nil
	}
	raw, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("marshaling params: %w", err)
	}
	return raw, nil
}
