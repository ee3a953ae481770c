package ipcclient

import (
	"bufio"
	"context"
	"encoding/json"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpctl/mcpctl/internal/ipc"
	"github.com/mcpctl/mcpctl/internal/mcperrors"
)

func serveOnce(t *testing.T, socketPath string, respond func(ipc.Request) ipc.Response) {
	t.Helper()
	l, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	go func() {
		conn, err := l.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		defer l.Close()

		w := bufio.NewWriter(conn)
		scanner := bufio.NewScanner(conn)
		codec := ipc.NewCodec(scanner, w)

		req, err := codec.ReadRequest()
		if err != nil {
			return
		}
		_ = codec.WriteResponse(respond(req), w)
	}()
}

func TestCallReturnsResult(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "bridge.sock")
	serveOnce(t, sock, func(req ipc.Request) ipc.Response {
		assert.Equal(t, "listTools", req.Method)
		return ipc.Response{ID: req.ID, Result: json.RawMessage(`{"tools":[]}`)}
	})

	result, err := Call(t.Context(), sock, "listTools", nil, time.Second)
	require.NoError(t, err)
	assert.JSONEq(t, `{"tools":[]}`, string(result))
}

func TestCallMapsSessionExpired(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "bridge.sock")
	serveOnce(t, sock, func(req ipc.Request) ipc.Response {
		return ipc.Response{ID: req.ID, Error: &ipc.ErrorObject{Code: ipc.CodeSessionExpired, Message: "session expired"}}
	})

	_, err := Call(t.Context(), sock, "listTools", nil, time.Second)
	require.Error(t, err)
	assert.Equal(t, mcperrors.KindSessionExpired, mcperrors.KindOf(err))
}

func TestCallMapsMCPErrorVerbatim(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "bridge.sock")
	serveOnce(t, sock, func(req ipc.Request) ipc.Response {
		return ipc.Response{ID: req.ID, Error: &ipc.ErrorObject{Code: -32601, Message: "unknown method"}}
	})

	_, err := Call(t.Context(), sock, "bogus", nil, time.Second)
	require.Error(t, err)
	assert.Equal(t, mcperrors.KindMCP, mcperrors.KindOf(err))
	assert.Contains(t, err.Error(), "unknown method")
}

func TestCallFailsFastWhenSocketMissing(t *testing.T) {
	sock := filepath.Join(t.TempDir(), "nonexistent.sock")
	ctx, cancel := context.WithTimeout(t.Context(), time.Second)
	defer cancel()

	_, err := Call(ctx, sock, "ping", nil, time.Second)
	require.Error(t, err)
	assert.Equal(t, mcperrors.KindNetwork, mcperrors.KindOf(err))
}
