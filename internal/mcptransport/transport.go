// Package mcptransport implements the two MCP transports this CLI
// terminates (spec §4.3): HTTP+SSE and stdio, behind one common interface.
//
// Grounded on the teacher's pkg/mcp/remote.go (header injection via a
// custom http.RoundTripper, transport-kind switch) and
// pkg/gateway/clientpool.go (child-process construction for the stdio
// case) — reshaped from delegating to modelcontextprotocol/go-sdk into a
// transport we terminate ourselves, since that correlation/framing work is
// exactly what spec §4.3/§4.5 asks this repository to build.
package mcptransport

import (
	"context"

	"github.com/mcpctl/mcpctl/internal/jsonrpc"
)

// InboundFrame is one item read off the wire: either a JSON-RPC frame
// (response or notification) or a terminal transport error. Exactly one of
// Frame/Err is meaningful.
type InboundFrame struct {
	Frame jsonrpc.Frame
	Err   error
}

// AuthProvider supplies bearer tokens to the HTTP transport and lets it
// force exactly one synchronous refresh on an auth error (spec §4.3.1).
type AuthProvider interface {
	// Token returns the current access token without forcing a refresh.
	Token(ctx context.Context) (string, error)
	// Refresh forces a token refresh and returns the new token.
	Refresh(ctx context.Context) (string, error)
}

// Transport is the capability set the MCP Client Core is polymorphic over
// (spec §9 design note): start/stop the connection, send a request, and
// receive inbound frames in arrival order.
type Transport interface {
	// Start establishes the connection (for HTTP: opens the background SSE
	// listener; for stdio: spawns the child process).
	Start(ctx context.Context) error

	// Send transmits one JSON-RPC request. The caller
	// correlates responses by id via Frames().
	Send(ctx context.Context, req jsonrpc.Request) error

	// SendNotification transmits a notification (no response expected).
	SendNotification(ctx context.Context, n jsonrpc.Notification) error

	// Frames yields inbound responses and notifications in arrival order.
	// A terminal error (SessionExpired, TransportClosed) is delivered as
	// an InboundFrame with Err set; no further sends should be attempted
	// afterward.
	Frames() <-chan InboundFrame

	// Stop tears the transport down. For HTTP, it issues the graceful
	// DELETE (spec §4.7) when a session id has been negotiated.
	Stop(ctx context.Context) error

	// SetSessionID records the server-issued MCP-Session-Id once known.
	SetSessionID(id string)

	// SetProtocolVersion records the negotiated protocol version string.
	SetProtocolVersion(version string)
}
