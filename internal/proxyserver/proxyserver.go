// Package proxyserver is the optional Proxy Server (spec §4.9): bound
// inside a bridge process on a configured host:port, it re-exposes the
// bridge's upstream MCP session as an unauthenticated-or-bearer-protected
// local HTTP MCP endpoint, for AI-sandboxed clients that should never see
// the real upstream credentials.
//
// Grounded on the teacher's pkg/gateway/auth.go bearer-token middleware
// (constant-time compare, /health bypass) almost verbatim in shape, and
// cmd/standalone-gateway/main.go's bare http.Server/http.ServeMux bring-up.
package proxyserver

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mcpctl/mcpctl/internal/jsonrpc"
	"github.com/mcpctl/mcpctl/internal/log"
	"github.com/mcpctl/mcpctl/internal/mcperrors"
)

// Dispatcher is the bridge capability the proxy forwards onto: the same
// IPC method surface the control socket exposes (spec §4.9: "forwards
// tools/*, resources/*, prompts/*, logging/setLevel, and ping to the
// bridge's client core").
type Dispatcher interface {
	Dispatch(ctx context.Context, method string, params json.RawMessage) (json.RawMessage, error)
}

// methodMap translates the wire JSON-RPC method name a proxied client sends
// into the bridge's internal IPC method name.
var methodMap = map[string]string{
	"ping":                      "ping",
	"tools/list":                "listTools",
	"tools/call":                "callTool",
	"resources/list":            "listResources",
	"resources/templates/list":  "listResourceTemplates",
	"resources/read":            "readResource",
	"resources/subscribe":       "subscribeResource",
	"resources/unsubscribe":     "unsubscribeResource",
	"prompts/list":              "listPrompts",
	"prompts/get":               "getPrompt",
	"logging/setLevel":          "setLoggingLevel",
}

// Config configures a Server.
type Config struct {
	Host       string
	Port       int
	Bearer     string // empty means unauthenticated, per spec §4.9
	Dispatcher Dispatcher
	Logger     *log.Logger
}

// Server is the bridge-embedded proxy HTTP server.
type Server struct {
	cfg  Config
	http *http.Server
}

// New constructs a Server; call Start to begin listening.
func New(cfg Config) *Server {
	s := &Server{cfg: cfg}

	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/", s.withAuth(http.HandlerFunc(s.handleMCP)))

	s.http = &http.Server{
		Addr:         addrFor(cfg.Host, cfg.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}
	return s
}

func addrFor(host string, port int) string {
	if host == "" {
		host = "127.0.0.1"
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// Start begins serving in the background; call Stop to shut it down.
func (s *Server) Start() (<-chan error, error) {
	errCh := make(chan error, 1)
	ln, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return nil, fmt.Errorf("binding proxy server %s: %w", s.http.Addr, err)
	}
	go func() {
		errCh <- s.http.Serve(ln)
	}()
	return errCh, nil
}

// Stop gracefully shuts the proxy server down.
func (s *Server) Stop(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// withAuth enforces the configured bearer token, matching the teacher's
// authenticationMiddlewareMulti shape: constant-time compare, 401 on
// missing/malformed header, 403 on a wrong token. No bearer configured
// means the route is open (spec §4.9).
func (s *Server) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Bearer == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" || !strings.HasPrefix(authHeader, "Bearer ") {
			w.Header().Set("WWW-Authenticate", `Bearer realm="mcpctl proxy"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		token := strings.TrimPrefix(authHeader, "Bearer ")
		if subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.Bearer)) != 1 {
			http.Error(w, "Forbidden", http.StatusForbidden)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type rpcRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      jsonrpc.ID      `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

type rpcResponse struct {
	JSONRPC string               `json:"jsonrpc"`
	ID      jsonrpc.ID           `json:"id"`
	Result  json.RawMessage      `json:"result,omitempty"`
	Error   *jsonrpc.ErrorObject `json:"error,omitempty"`
}

func (s *Server) handleMCP(w http.ResponseWriter, r *http.Request) {
	// DELETE is a no-op success: the proxy never owns the upstream session
	// lifecycle, only the bridge's graceful shutdown does (spec §4.9).
	if r.Method == http.MethodDelete {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"session terminated"}`))
		return
	}

	var req rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON-RPC request", http.StatusBadRequest)
		return
	}

	ipcMethod, ok := methodMap[req.Method]
	if !ok {
		s.writeRPCError(w, req.ID, -32601, fmt.Sprintf("method not found: %s", req.Method))
		return
	}

	result, err := s.cfg.Dispatcher.Dispatch(r.Context(), ipcMethod, req.Params)
	if err != nil {
		if s.cfg.Logger != nil {
			s.cfg.Logger.Printf("proxy: %s failed: %v", req.Method, err)
		}
		s.writeRPCErrorFromErr(w, req.ID, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(rpcResponse{JSONRPC: "2.0", ID: req.ID, Result: result})
}

func (s *Server) writeRPCError(w http.ResponseWriter, id jsonrpc.ID, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(rpcResponse{
		JSONRPC: "2.0",
		ID:      id,
		Error:   &jsonrpc.ErrorObject{Code: code, Message: message},
	})
}

// writeRPCErrorFromErr never echoes upstream credential material: the
// taxonomy's Error() string is built only from the kind, a human message,
// and an optional re-auth hint (spec §4.9: "the upstream access token is
// never forwarded in responses or error messages").
func (s *Server) writeRPCErrorFromErr(w http.ResponseWriter, id jsonrpc.ID, err error) {
	code := -32000
	if mcpErr, ok := asMCPError(err); ok && mcpErr.Kind == mcperrors.KindMCP {
		code = mcpErr.Code
	}
	s.writeRPCError(w, id, code, err.Error())
}

func asMCPError(err error) (*mcperrors.Error, bool) {
	var e *mcperrors.Error
	if mcperrors.As(err, &e) {
		return e, true
	}
	return nil, false
}
