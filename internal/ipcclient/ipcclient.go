// Package ipcclient is the IPC Request Client (spec §4.10): the CLI-side
// stub that opens a connection to a bridge's control socket, writes one
// request, reads one response, and closes. Used by every CLI command that
// needs to reach a running bridge.
//
// Grounded on the teacher's cmd/docker-mcp/internal/mcp/mcp_client.go
// request/response correlation shape, reduced to the CLI's simpler
// one-shot-per-connection protocol.
package ipcclient

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/mcpctl/mcpctl/internal/ipc"
	"github.com/mcpctl/mcpctl/internal/mcperrors"
)

// DefaultTimeout is the default request deadline (spec §4.10).
const DefaultTimeout = 30 * time.Second

var nextID atomic.Int64

// Call opens socketPath, writes one request for method with params, reads
// exactly one response, and closes the connection. The bridge's taxonomy
// error codes (ipc.CodeClientError etc.) are translated back into
// *mcperrors.Error so callers get the same exit-code mapping CLI commands
// use everywhere else.
func Call(ctx context.Context, socketPath, method string, params any, timeout time.Duration) (json.RawMessage, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "unix", socketPath)
	if err != nil {
		return nil, mcperrors.Wrap(mcperrors.KindNetwork, err, fmt.Sprintf("connecting to bridge socket %s", socketPath))
	}
	defer conn.Close()

	deadline := time.Now().Add(timeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(deadline) {
		deadline = dl
	}
	_ = conn.SetDeadline(deadline)

	var raw json.RawMessage
	if params != nil {
		raw, err = json.Marshal(params)
		if err != nil {
			return nil, mcperrors.Wrap(mcperrors.KindClient, err, "marshaling IPC request params")
		}
	}

	req := ipc.Request{ID: int(nextID.Add(1)), Method: method, Params: raw}

	w := bufio.NewWriter(conn)
	scanner := bufio.NewScanner(conn)
	codec := ipc.NewCodec(scanner, w)

	if err := codec.WriteRequest(req, w); err != nil {
		return nil, mcperrors.Wrap(mcperrors.KindNetwork, err, "writing IPC request")
	}

	resp, err := codec.ReadResponse()
	if err != nil {
		if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
			return nil, mcperrors.Wrap(mcperrors.KindNetwork, err, fmt.Sprintf("%s timed out after %s", method, timeout))
		}
		return nil, mcperrors.Wrap(mcperrors.KindNetwork, err, "reading IPC response")
	}

	if resp.Error != nil {
		return nil, errorFromIPC(*resp.Error)
	}
	return resp.Result, nil
}

func errorFromIPC(e ipc.ErrorObject) error {
	switch e.Code {
	case ipc.CodeClientError:
		return mcperrors.New(mcperrors.KindClient, e.Message)
	case ipc.CodeAuthError:
		return mcperrors.AuthError(nil, e.Message)
	case ipc.CodeNetworkError:
		return mcperrors.New(mcperrors.KindNetwork, e.Message)
	case ipc.CodeSessionExpired:
		return mcperrors.SessionExpired(e.Message)
	default:
		return mcperrors.NewMCP(e.Code, e.Message)
	}
}
