package proxyserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpctl/mcpctl/internal/mcperrors"
)

type fakeDispatcher struct {
	results map[string]json.RawMessage
	errs    map[string]error
}

func (f *fakeDispatcher) Dispatch(_ context.Context, method string, _ json.RawMessage) (json.RawMessage, error) {
	if err, ok := f.errs[method]; ok {
		return nil, err
	}
	return f.results[method], nil
}

func newTestServer(t *testing.T, bearer string, disp Dispatcher) *Server {
	t.Helper()
	s := New(Config{Host: "127.0.0.1", Port: freePort(t), Bearer: bearer, Dispatcher: disp})
	errCh, err := s.Start()
	require.NoError(t, err)
	go func() {
		// drain so a later Stop()'s ErrServerClosed doesn't block anything
		<-errCh
	}()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})
	// give the listener a moment to come up
	time.Sleep(20 * time.Millisecond)
	return s
}

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func TestHealthIsUnauthenticated(t *testing.T) {
	s := newTestServer(t, "secret", &fakeDispatcher{})
	resp, err := http.Get("http://" + s.http.Addr + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMissingBearerRejected(t *testing.T) {
	s := newTestServer(t, "secret", &fakeDispatcher{})
	resp, err := http.Post("http://"+s.http.Addr+"/", "application/json", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestWrongBearerForbidden(t *testing.T) {
	s := newTestServer(t, "secret", &fakeDispatcher{})
	req, err := http.NewRequest(http.MethodPost, "http://"+s.http.Addr+"/", bytes.NewReader([]byte(`{}`)))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer wrong")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestCorrectBearerForwardsToolsList(t *testing.T) {
	disp := &fakeDispatcher{results: map[string]json.RawMessage{
		"listTools": json.RawMessage(`[{"name":"echo"}]`),
	}}
	s := newTestServer(t, "secret", disp)

	body := `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`
	req, err := http.NewRequest(http.MethodPost, "http://"+s.http.Addr+"/", bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "echo")
}

func TestUnauthenticatedProxyAllowsAllRequests(t *testing.T) {
	disp := &fakeDispatcher{results: map[string]json.RawMessage{"ping": json.RawMessage(`{}`)}}
	s := newTestServer(t, "", disp)

	body := `{"jsonrpc":"2.0","id":1,"method":"ping"}`
	resp, err := http.Post("http://"+s.http.Addr+"/", "application/json", bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDeleteIsNoOp(t *testing.T) {
	s := newTestServer(t, "", &fakeDispatcher{})
	req, err := http.NewRequest(http.MethodDelete, "http://"+s.http.Addr+"/", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestDispatchErrorNeverLeaksProxyBearer(t *testing.T) {
	disp := &fakeDispatcher{errs: map[string]error{
		"listTools": mcperrors.AuthError(nil, "upstream rejected the request"),
	}}
	const bearer = "hunter2-proxy-bearer"
	s := newTestServer(t, bearer, disp)

	body := `{"jsonrpc":"2.0","id":1,"method":"tools/list"}`
	req, err := http.NewRequest(http.MethodPost, "http://"+s.http.Addr+"/", bytes.NewReader([]byte(body)))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+bearer)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	// The error response must carry the dispatcher's message but never the
	// bearer token that authenticated the request (spec §4.9).
	assert.Contains(t, string(data), "upstream rejected")
	assert.NotContains(t, string(data), bearer)
}
