package mcpclient

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpctl/mcpctl/internal/jsonrpc"
	"github.com/mcpctl/mcpctl/internal/mcptransport"
)

// fakeTransport is an in-memory mcptransport.Transport double: Send
// immediately queues a scripted response (or runs a handler) rather than
// crossing any real wire.
type fakeTransport struct {
	frames   chan mcptransport.InboundFrame
	handler  func(req jsonrpc.Request) jsonrpc.Frame
	notified []string
}

func newFakeTransport(handler func(req jsonrpc.Request) jsonrpc.Frame) *fakeTransport {
	return &fakeTransport{
		frames:  make(chan mcptransport.InboundFrame, 16),
		handler: handler,
	}
}

func (f *fakeTransport) Start(context.Context) error { return nil }

func (f *fakeTransport) Send(_ context.Context, req jsonrpc.Request) error {
	go func() {
		f.frames <- mcptransport.InboundFrame{Frame: f.handler(req)}
	}()
	return nil
}

func (f *fakeTransport) SendNotification(_ context.Context, n jsonrpc.Notification) error {
	f.notified = append(f.notified, n.Method)
	return nil
}
func (f *fakeTransport) Frames() <-chan mcptransport.InboundFrame { return f.frames }
func (f *fakeTransport) Stop(context.Context) error               { close(f.frames); return nil }
func (f *fakeTransport) SetSessionID(string)                      {}
func (f *fakeTransport) SetProtocolVersion(string)                {}

func (f *fakeTransport) pushNotification(method string, params json.RawMessage) {
	f.frames <- mcptransport.InboundFrame{Frame: jsonrpc.Frame{Method: method, Params: params}}
}

func TestInitializeNegotiatesProtocolVersionAndSendsInitialized(t *testing.T) {
	transport := newFakeTransport(func(req jsonrpc.Request) jsonrpc.Frame {
		require.Equal(t, "initialize", req.Method)
		result, _ := json.Marshal(map[string]any{
			"protocolVersion": "2024-11-05",
			"serverInfo":      map[string]string{"name": "demo-server", "version": "1.0.0"},
			"instructions":    "be nice",
		})
		return jsonrpc.Frame{ID: &req.ID, Result: result}
	})
	client := New(Options{Transport: transport, ClientInfo: ClientInfo{Name: "mcpctl", Version: "0.1.0"}})
	require.NoError(t, client.Start(t.Context()))

	info, err := client.Initialize(t.Context(), nil)
	require.NoError(t, err)
	assert.Equal(t, "demo-server", info.Name)
	assert.Equal(t, "2024-11-05", info.ProtocolVersion)
	assert.Equal(t, []string{"notifications/initialized"}, transport.notified)
}

func TestCallToolRoundTrip(t *testing.T) {
	transport := newFakeTransport(func(req jsonrpc.Request) jsonrpc.Frame {
		require.Equal(t, "tools/call", req.Method)
		result, _ := json.Marshal(map[string]any{"content": []any{map[string]string{"type": "text", "text": "ok"}}})
		return jsonrpc.Frame{ID: &req.ID, Result: result}
	})
	client := New(Options{Transport: transport})
	require.NoError(t, client.Start(t.Context()))

	result, err := client.CallTool(t.Context(), "echo", json.RawMessage(`{"msg":"hi"}`))
	require.NoError(t, err)
	assert.Contains(t, string(result), `"text":"ok"`)
}

func TestMCPErrorSurfacesVerbatim(t *testing.T) {
	transport := newFakeTransport(func(req jsonrpc.Request) jsonrpc.Frame {
		return jsonrpc.Frame{ID: &req.ID, Error: &jsonrpc.ErrorObject{Code: -32601, Message: "unknown tool foo"}}
	})
	client := New(Options{Transport: transport})
	require.NoError(t, client.Start(t.Context()))

	_, err := client.CallTool(t.Context(), "foo", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown tool foo")
}

func TestNotificationsDispatchInArrivalOrder(t *testing.T) {
	transport := newFakeTransport(func(req jsonrpc.Request) jsonrpc.Frame {
		return jsonrpc.Frame{ID: &req.ID, Result: json.RawMessage(`{}`)}
	})

	var seen []string
	client := New(Options{
		Transport: transport,
		OnNotify: func(method string, _ json.RawMessage) {
			seen = append(seen, method)
		},
	})
	require.NoError(t, client.Start(t.Context()))

	transport.pushNotification("notifications/tools/list_changed", nil)
	transport.pushNotification("notifications/resources/list_changed", nil)

	require.Eventually(t, func() bool { return len(seen) == 2 }, time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"notifications/tools/list_changed", "notifications/resources/list_changed"}, seen)
}

func TestCallTimesOutWhenContextCancelled(t *testing.T) {
	blockedTransport := &blockingTransport{frames: make(chan mcptransport.InboundFrame, 1)}

	client := New(Options{Transport: blockedTransport})
	require.NoError(t, client.Start(t.Context()))

	ctx, cancel := context.WithTimeout(t.Context(), 20*time.Millisecond)
	defer cancel()

	err := client.Ping(ctx)
	require.Error(t, err)
}

// blockingTransport never responds, exercising the ctx.Done() path of call().
type blockingTransport struct {
	frames chan mcptransport.InboundFrame
}

func (b *blockingTransport) Start(context.Context) error                              { return nil }
func (b *blockingTransport) Send(context.Context, jsonrpc.Request) error               { return nil }
func (b *blockingTransport) SendNotification(context.Context, jsonrpc.Notification) error { return nil }
func (b *blockingTransport) Frames() <-chan mcptransport.InboundFrame                  { return b.frames }
func (b *blockingTransport) Stop(context.Context) error                               { return nil }
func (b *blockingTransport) SetSessionID(string)                                      {}
func (b *blockingTransport) SetProtocolVersion(string)                                {}
