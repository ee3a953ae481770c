package mcptransport

import (
	"bytes"
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpctl/mcpctl/internal/jsonrpc"
	"github.com/mcpctl/mcpctl/internal/log"
)

func requireCat(t *testing.T) string {
	t.Helper()
	path, err := exec.LookPath("cat")
	if err != nil {
		t.Skip("cat not available on PATH")
	}
	return path
}

func TestStdioTransportEchoRoundTrip(t *testing.T) {
	catPath := requireCat(t)

	var buf bytes.Buffer
	logger := log.New(&buf, "test", true)

	transport := NewStdioTransport(StdioTransportConfig{Command: catPath, Logger: logger})
	require.NoError(t, transport.Start(t.Context()))
	defer transport.Stop(t.Context())

	req := jsonrpc.Request{ID: jsonrpc.NewID(1), Method: "ping"}
	require.NoError(t, transport.Send(t.Context(), req))

	select {
	case frame := <-transport.Frames():
		require.NoError(t, frame.Err)
		assert.Equal(t, "ping", frame.Frame.Method)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for echoed frame")
	}
}

func TestStdioTransportEmitsTransportClosedOnExit(t *testing.T) {
	truePath, err := exec.LookPath("true")
	if err != nil {
		t.Skip("true not available on PATH")
	}

	transport := NewStdioTransport(StdioTransportConfig{Command: truePath})
	require.NoError(t, transport.Start(t.Context()))
	defer transport.Stop(t.Context())

	select {
	case frame := <-transport.Frames():
		require.Error(t, frame.Err)
		assert.Contains(t, frame.Err.Error(), "transport closed")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transport-closed frame")
	}
}

func TestStdioTransportDiscardsUnparseableLines(t *testing.T) {
	catPath := requireCat(t)

	var buf bytes.Buffer
	logger := log.New(&buf, "test", true)

	transport := NewStdioTransport(StdioTransportConfig{Command: catPath, Logger: logger})
	require.NoError(t, transport.Start(t.Context()))
	defer transport.Stop(t.Context())

	transport.writeMu.Lock()
	_, err := transport.stdin.Write([]byte("not json\n"))
	transport.writeMu.Unlock()
	require.NoError(t, err)

	req := jsonrpc.Request{ID: jsonrpc.NewID(7), Method: "tools/list"}
	require.NoError(t, transport.Send(t.Context(), req))

	select {
	case frame := <-transport.Frames():
		require.NoError(t, frame.Err)
		assert.Equal(t, "tools/list", frame.Frame.Method)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for valid frame after garbage line")
	}
}
