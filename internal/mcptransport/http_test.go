package mcptransport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpctl/mcpctl/internal/jsonrpc"
	"github.com/mcpctl/mcpctl/internal/mcperrors"
)

func TestLooksSessionExpired(t *testing.T) {
	cases := []struct {
		status int
		body   string
		want   bool
	}{
		{http.StatusNotFound, `{"error":"Session not found"}`, true},
		{http.StatusNotFound, `{"error":"Session ID abc123 not found"}`, true},
		{http.StatusNotFound, `{"error":"session expired"}`, true},
		{http.StatusNotFound, `{"error":"invalid session"}`, true},
		{http.StatusNotFound, `{"error":"Session is no longer valid"}`, true},
		{http.StatusNotFound, `{"error":"unknown tool foo"}`, false},
		{http.StatusNotFound, `{"error":"not found"}`, true},
		{http.StatusOK, `{"error":"session not found"}`, false},
	}
	for _, c := range cases {
		got := looksSessionExpired(c.status, c.body)
		assert.Equalf(t, c.want, got, "status=%d body=%q", c.status, c.body)
	}
}

func TestHTTPTransportImmediateJSONResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set(headerSessionID, "sess-1")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{"ok":true}}`))
	}))
	defer srv.Close()

	transport := NewHTTPTransport(HTTPTransportConfig{URL: srv.URL})
	require.NoError(t, transport.Start(t.Context()))
	defer transport.Stop(t.Context())

	require.NoError(t, transport.Send(t.Context(), jsonrpc.Request{ID: jsonrpc.NewID(1), Method: "ping"}))

	select {
	case frame := <-transport.Frames():
		require.NoError(t, frame.Err)
		assert.JSONEq(t, `{"ok":true}`, string(frame.Frame.Result))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
	}

	assert.Equal(t, "sess-1", transport.sessionID)
}

func TestHTTPTransportSessionExpiredDetection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"Session ID xyz not found"}`))
	}))
	defer srv.Close()

	transport := NewHTTPTransport(HTTPTransportConfig{URL: srv.URL})
	require.NoError(t, transport.Start(t.Context()))
	defer transport.Stop(t.Context())

	err := transport.Send(t.Context(), jsonrpc.Request{ID: jsonrpc.NewID(1), Method: "tools/list"})
	require.Error(t, err)
	assert.Equal(t, mcperrors.KindSessionExpired, mcperrors.KindOf(err))
}

func TestHTTPTransportAuthRetrySucceedsOnce(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Only POSTs are counted: Start also opens a background SSE GET.
		if r.Method == http.MethodPost {
			attempts++
		}
		auth := r.Header.Get("Authorization")
		if auth != "Bearer refreshed" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"jsonrpc":"2.0","id":1,"result":{}}`))
	}))
	defer srv.Close()

	provider := &fakeAuthProvider{token: "stale"}
	transport := NewHTTPTransport(HTTPTransportConfig{URL: srv.URL, Auth: provider})
	require.NoError(t, transport.Start(t.Context()))
	defer transport.Stop(t.Context())

	require.NoError(t, transport.Send(t.Context(), jsonrpc.Request{ID: jsonrpc.NewID(1), Method: "ping"}))
	assert.Equal(t, 2, attempts)
	assert.Equal(t, 1, provider.refreshCalls)
}

type fakeAuthProvider struct {
	token        string
	refreshCalls int
}

func (f *fakeAuthProvider) Token(_ context.Context) (string, error) {
	return f.token, nil
}

func (f *fakeAuthProvider) Refresh(_ context.Context) (string, error) {
	f.refreshCalls++
	f.token = "refreshed"
	return f.token, nil
}
