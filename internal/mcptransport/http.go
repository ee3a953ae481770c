package mcptransport

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/mcpctl/mcpctl/internal/jsonrpc"
	"github.com/mcpctl/mcpctl/internal/mcperrors"
)

const (
	headerSessionID       = "MCP-Session-Id"
	headerProtocolVersion = "MCP-Protocol-Version"
	headerLastEventID     = "Last-Event-ID"
)

// sessionExpiredPhrases are matched case-insensitively against a 404 body,
// per spec §4.3.1.
var sessionExpiredPhrases = []string{
	"session not found",
	"session id not found",
	"session expired",
	"invalid session",
	"session is no longer valid",
}

func looksSessionExpired(status int, body string) bool {
	if status != http.StatusNotFound {
		return false
	}
	lower := strings.ToLower(body)
	for _, phrase := range sessionExpiredPhrases {
		if strings.Contains(lower, phrase) {
			return true
		}
	}
	if strings.Contains(lower, "session") && strings.Contains(lower, "not found") {
		return true
	}
	// Bare 404 with no mention of "tool" is treated as a dead session
	// rather than a missing-tool error, per spec §4.3.1.
	return !strings.Contains(lower, "tool")
}

// headerRoundTripper injects static headers plus the current bearer token
// and MCP-Session-Id/Protocol-Version on every request, mirroring the
// teacher's pkg/mcp/remote.go headerRoundTripper.
type headerRoundTripper struct {
	base    http.RoundTripper
	headers map[string]string
	http    *HTTPTransport
}

func (h *headerRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	clone := req.Clone(req.Context())
	for k, v := range h.headers {
		clone.Header.Set(k, v)
	}

	h.http.mu.RLock()
	sessionID := h.http.sessionID
	protocolVersion := h.http.protocolVersion
	h.http.mu.RUnlock()

	if sessionID != "" {
		clone.Header.Set(headerSessionID, sessionID)
	}
	if protocolVersion != "" {
		clone.Header.Set(headerProtocolVersion, protocolVersion)
	}

	if h.http.auth != nil {
		token, err := h.http.auth.Token(req.Context())
		if err == nil && token != "" {
			clone.Header.Set("Authorization", "Bearer "+token)
		}
	}

	return h.base.RoundTrip(clone)
}

// HTTPTransportConfig configures an HTTP+SSE transport.
type HTTPTransportConfig struct {
	URL     string
	Headers map[string]string
	Timeout time.Duration
	Auth    AuthProvider
}

// HTTPTransport terminates the HTTP+SSE variant from spec §4.3.1.
type HTTPTransport struct {
	cfg    HTTPTransportConfig
	client *http.Client
	auth   AuthProvider

	mu              sync.RWMutex
	sessionID       string
	protocolVersion string
	lastEventID     string

	frames     chan InboundFrame
	stopSSE    chan struct{}
	sseDone    chan struct{}
	closedOnce sync.Once
}

// NewHTTPTransport constructs an HTTP+SSE transport. Call Start to begin
// the background notification stream.
func NewHTTPTransport(cfg HTTPTransportConfig) *HTTPTransport {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	t := &HTTPTransport{
		cfg:     cfg,
		auth:    cfg.Auth,
		frames:  make(chan InboundFrame, 32),
		stopSSE: make(chan struct{}),
		sseDone: make(chan struct{}),
	}
	t.client = &http.Client{
		Transport: &headerRoundTripper{
			base:    http.DefaultTransport,
			headers: cfg.Headers,
			http:    t,
		},
	}
	return t
}

func (t *HTTPTransport) SetSessionID(id string) {
	t.mu.Lock()
	t.sessionID = id
	t.mu.Unlock()
}

func (t *HTTPTransport) SetProtocolVersion(version string) {
	t.mu.Lock()
	t.protocolVersion = version
	t.mu.Unlock()
}

// SessionID returns the server-issued MCP-Session-Id once known, or "".
func (t *HTTPTransport) SessionID() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sessionID
}

// ProtocolVersion returns the negotiated protocol version once known, or "".
func (t *HTTPTransport) ProtocolVersion() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.protocolVersion
}

func (t *HTTPTransport) Frames() <-chan InboundFrame { return t.frames }

// Start opens the background GET SSE stream for server-initiated
// notifications. POSTs are sent independently via Send.
func (t *HTTPTransport) Start(ctx context.Context) error {
	go t.runSSELoop(ctx)
	return nil
}

// Send POSTs a JSON-RPC request. The server may answer with an immediate
// JSON body or an SSE stream (spec §4.3.1); both are handled and the
// result is delivered on Frames().
func (t *HTTPTransport) Send(ctx context.Context, req jsonrpc.Request) error {
	req.JSONRPC = jsonrpc.Version
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}
	return t.post(ctx, body)
}

// SendNotification POSTs a notification; no response body is expected
// beyond a bare 202/200 acknowledgement.
func (t *HTTPTransport) SendNotification(ctx context.Context, n jsonrpc.Notification) error {
	n.JSONRPC = jsonrpc.Version
	body, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("marshaling notification: %w", err)
	}
	return t.post(ctx, body)
}

func (t *HTTPTransport) post(ctx context.Context, body []byte) error {
	attempt := func() (*http.Response, error) {
		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, t.cfg.URL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		httpReq.Header.Set("Content-Type", "application/json")
		httpReq.Header.Set("Accept", "application/json, text/event-stream")
		return t.client.Do(httpReq)
	}

	resp, err := attempt()
	if err != nil {
		return mcperrors.Wrap(mcperrors.KindNetwork, err, "sending request to "+t.cfg.URL)
	}

	if (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) && t.auth != nil {
		resp.Body.Close()
		if _, rerr := t.auth.Refresh(ctx); rerr != nil {
			return mcperrors.AuthError(rerr, "authentication failed and token refresh did not succeed")
		}
		resp, err = attempt()
		if err != nil {
			return mcperrors.Wrap(mcperrors.KindNetwork, err, "retrying request after token refresh")
		}
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			resp.Body.Close()
			return mcperrors.AuthError(nil, "server rejected refreshed credentials")
		}
	}
	defer resp.Body.Close()

	return t.handleResponse(resp)
}

func (t *HTTPTransport) handleResponse(resp *http.Response) error {
	contentType := resp.Header.Get("Content-Type")

	if sid := resp.Header.Get(headerSessionID); sid != "" {
		t.SetSessionID(sid)
	}

	if strings.HasPrefix(contentType, "text/event-stream") {
		return t.consumeSSEBody(resp.Body)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return mcperrors.Wrap(mcperrors.KindNetwork, err, "reading response body")
	}

	if resp.StatusCode == http.StatusNotFound && looksSessionExpired(resp.StatusCode, string(data)) {
		err := mcperrors.SessionExpired(fmt.Sprintf("server returned 404: %s", truncate(string(data), 200)))
		t.emit(InboundFrame{Err: err})
		return err
	}

	if resp.StatusCode >= 400 {
		return fmt.Errorf("http %d: %s", resp.StatusCode, truncate(string(data), 200))
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return nil
	}

	var frame jsonrpc.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		return fmt.Errorf("decoding JSON-RPC body: %w", err)
	}
	t.emit(InboundFrame{Frame: frame})
	return nil
}

func (t *HTTPTransport) consumeSSEBody(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	var dataLines []string
	flush := func() {
		if len(dataLines) == 0 {
			return
		}
		payload := strings.Join(dataLines, "\n")
		dataLines = nil

		var frame jsonrpc.Frame
		if err := json.Unmarshal([]byte(payload), &frame); err != nil {
			return
		}
		t.emit(InboundFrame{Frame: frame})
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			flush()
		case strings.HasPrefix(line, "id:"):
			t.mu.Lock()
			t.lastEventID = strings.TrimSpace(strings.TrimPrefix(line, "id:"))
			t.mu.Unlock()
		case strings.HasPrefix(line, "data:"):
			dataLines = append(dataLines, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	flush()
	return scanner.Err()
}

// runSSELoop opens the background GET for server-initiated notifications,
// reconnecting with Last-Event-ID on transient disconnects; transport-level
// connection resets are retried with backoff and never surfaced (spec §7).
func (t *HTTPTransport) runSSELoop(ctx context.Context) {
	defer close(t.sseDone)

	backoff := 500 * time.Millisecond
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return
		case <-t.stopSSE:
			return
		default:
		}

		err := t.connectSSEOnce(ctx)
		if err != nil {
			var mcpErr *mcperrors.Error
			if mcperrors.As(err, &mcpErr) && mcpErr.Kind == mcperrors.KindSessionExpired {
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-t.stopSSE:
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (t *HTTPTransport) connectSSEOnce(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, t.cfg.URL, nil)
	if err != nil {
		return err
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	t.mu.RLock()
	lastEventID := t.lastEventID
	t.mu.RUnlock()
	if lastEventID != "" {
		httpReq.Header.Set(headerLastEventID, lastEventID)
	}

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		data, _ := io.ReadAll(resp.Body)
		if looksSessionExpired(resp.StatusCode, string(data)) {
			err := mcperrors.SessionExpired(fmt.Sprintf("server returned 404 on SSE stream: %s", truncate(string(data), 200)))
			t.emit(InboundFrame{Err: err})
			return err
		}
		return fmt.Errorf("sse stream returned 404")
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("sse stream returned http %d", resp.StatusCode)
	}

	return t.consumeSSEBody(resp.Body)
}

func (t *HTTPTransport) emit(f InboundFrame) {
	select {
	case t.frames <- f:
	default:
		// Slow consumer: drop rather than block the transport's single
		// reader goroutine; the cache/registry still converge on the next
		// successful read.
	}
}

// Stop issues the graceful DELETE (spec §4.7) and tears down the SSE loop.
func (t *HTTPTransport) Stop(ctx context.Context) error {
	t.closedOnce.Do(func() {
		close(t.stopSSE)
	})

	t.mu.RLock()
	sessionID := t.sessionID
	t.mu.RUnlock()
	if sessionID == "" {
		return nil
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodDelete, t.cfg.URL, nil)
	if err != nil {
		return fmt.Errorf("building DELETE request: %w", err)
	}
	httpReq.Header.Set(headerSessionID, sessionID)

	resp, err := t.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("sending DELETE: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
