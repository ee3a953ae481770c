// Package bridge is the Bridge Daemon (spec §4.7): the long-lived
// per-session process that owns one upstream MCP transport, serializes
// every MCP-side effect through the MCP Client Core, and serves many
// concurrent IPC callers over a control socket.
//
// Grounded on the teacher's pkg/gateway/handlers.go request-dispatch shape
// and cmd/standalone-gateway/main.go's minimal server bring-up sequence,
// adapted from an HTTP server accepting many clients to a Unix-socket
// server accepting many IPC callers serialized through one upstream
// session.
package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"github.com/mcpctl/mcpctl/internal/ipc"
	"github.com/mcpctl/mcpctl/internal/listcache"
	"github.com/mcpctl/mcpctl/internal/log"
	"github.com/mcpctl/mcpctl/internal/mcperrors"
	"github.com/mcpctl/mcpctl/internal/mcpclient"
	"github.com/mcpctl/mcpctl/internal/mcptransport"
	"github.com/mcpctl/mcpctl/internal/proxyserver"
	"github.com/mcpctl/mcpctl/internal/registry"
)

// Config assembles everything a Daemon needs to serve one session.
type Config struct {
	Name          string
	SocketPath    string
	ReadyFilePath string

	Transport   mcptransport.Transport
	ClientInfo  mcpclient.ClientInfo
	CacheTTL    time.Duration
	CallTimeout time.Duration

	// Proxy, when non-nil, is bound inside Run alongside the IPC listener
	// (spec §4.9). Bearer may be empty for an unauthenticated proxy.
	Proxy       *registry.ProxyConfig
	ProxyBearer string

	Registry *registry.Registry
	Logger   *log.Logger

	// State is the shared state box the caller already created (and,
	// for HTTP sessions, already passed to WrapAuth before building
	// Transport). If nil, New creates one in StateInitializing.
	State *SharedState
}

// Daemon is one running bridge process's in-memory state.
type Daemon struct {
	cfg Config

	client *mcpclient.Client
	cache  *listcache.Cache
	state  *SharedState

	socketLock *flock.Flock
	listener   net.Listener
	proxy      *proxyserver.Server

	outstanding atomic.Int64
	shutdownCh  chan struct{}
	shutdownOnce sync.Once

	handlers map[string]handlerFunc
}

type handlerFunc func(ctx context.Context, params json.RawMessage) (json.RawMessage, error)

// New constructs a Daemon. Call Run to execute the full startup sequence
// and block serving IPC connections until shutdown.
func New(cfg Config) *Daemon {
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 60 * time.Second
	}

	state := cfg.State
	if state == nil {
		state = NewSharedState()
	}

	d := &Daemon{
		cfg:        cfg,
		cache:      listcache.New(cfg.CacheTTL),
		state:      state,
		shutdownCh: make(chan struct{}),
	}
	d.client = mcpclient.New(mcpclient.Options{
		Transport:  cfg.Transport,
		ClientInfo: cfg.ClientInfo,
		OnNotify:   d.onNotification,
		OnTerminal: d.onTerminalTransportError,
		Logger:     cfg.Logger,
	})
	d.handlers = d.buildDispatchTable()
	return d
}

// State returns the bridge's current state machine value.
func (d *Daemon) State() State { return d.state.Get() }

// Run executes the bridge's startup sequence (spec §4.7 steps 1-4) then
// blocks accepting IPC connections (step 5) until shutdown is requested.
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.acquireSocketLock(); err != nil {
		return err
	}
	defer d.releaseSocketLock()

	if err := d.client.Start(ctx); err != nil {
		d.state.Set(StateStopping)
		return fmt.Errorf("starting transport: %w", err)
	}

	info, err := d.client.Initialize(ctx, nil)
	if err != nil {
		d.state.Set(StateStopping)
		return fmt.Errorf("initialize handshake: %w", err)
	}

	if err := d.writeReadyRegistry(ctx, info); err != nil {
		d.state.Set(StateStopping)
		return err
	}

	listener, err := ipc.Listen(d.cfg.SocketPath)
	if err != nil {
		d.state.Set(StateStopping)
		return fmt.Errorf("binding IPC socket: %w", err)
	}
	d.listener = listener

	if d.cfg.Proxy != nil {
		d.proxy = proxyserver.New(proxyserver.Config{
			Host:       d.cfg.Proxy.Host,
			Port:       d.cfg.Proxy.Port,
			Bearer:     d.cfg.ProxyBearer,
			Dispatcher: d,
			Logger:     d.cfg.Logger,
		})
		proxyErrCh, err := d.proxy.Start()
		if err != nil {
			listener.Close()
			d.state.Set(StateStopping)
			return fmt.Errorf("starting proxy server: %w", err)
		}
		go func() {
			if err := <-proxyErrCh; err != nil && !errors.Is(err, http.ErrServerClosed) && d.cfg.Logger != nil {
				d.cfg.Logger.Printf("proxy server stopped: %v", err)
			}
		}()
	}

	d.writeReadyFile()

	if !d.state.CompareAndSet(StateInitializing, StateReady) {
		listener.Close()
		return fmt.Errorf("bridge stopped before reaching ready")
	}
	if d.cfg.Logger != nil {
		d.cfg.Logger.Printf("bridge %s ready, serving %s", d.cfg.Name, d.cfg.SocketPath)
	}

	return d.acceptLoop(ctx)
}

func (d *Daemon) acquireSocketLock() error {
	d.socketLock = flock.New(d.cfg.SocketPath + ".lock")
	locked, err := d.socketLock.TryLock()
	if err != nil {
		return fmt.Errorf("checking socket lock for %s: %w", d.cfg.Name, err)
	}
	if !locked {
		return mcperrors.New(mcperrors.KindClient, fmt.Sprintf("another bridge already owns session %s", d.cfg.Name))
	}
	return nil
}

func (d *Daemon) releaseSocketLock() {
	if d.socketLock != nil {
		_ = d.socketLock.Unlock()
	}
	_ = os.Remove(d.cfg.SocketPath + ".lock")
}

func (d *Daemon) writeReadyRegistry(ctx context.Context, info mcpclient.ServerInfo) error {
	sessionID := ""
	if sidTransport, ok := d.cfg.Transport.(interface{ SessionID() string }); ok {
		sessionID = sidTransport.SessionID()
	}

	pid := os.Getpid()
	status := registry.StatusLive
	_, err := d.cfg.Registry.Update(ctx, d.cfg.Name, registry.Patch{
		MCPSessionID:    &sessionID,
		ProtocolVersion: &info.ProtocolVersion,
		PID:             &pid,
		SocketPath:      &d.cfg.SocketPath,
		Status:          &status,
	})
	if err != nil {
		return fmt.Errorf("writing bridge readiness to registry: %w", err)
	}
	return nil
}

// writeReadyFile drops the <name>.ready marker described in the module's
// expanded readiness design: bridgemanager can fsnotify-watch for it
// instead of pure registry polling.
func (d *Daemon) writeReadyFile() {
	if d.cfg.ReadyFilePath == "" {
		return
	}
	if err := os.WriteFile(d.cfg.ReadyFilePath, []byte(fmt.Sprintf("%d\n", os.Getpid())), 0o600); err != nil {
		if d.cfg.Logger != nil {
			d.cfg.Logger.Printf("writing readiness marker: %v", err)
		}
	}
}

func (d *Daemon) acceptLoop(ctx context.Context) error {
	go func() {
		select {
		case <-ctx.Done():
			d.triggerShutdown()
		case <-d.shutdownCh:
		}
	}()

	go func() {
		<-d.shutdownCh
		// draining -> outstanding==0 -> stopping (spec §4.7). The request
		// that triggered shutdown is itself outstanding until its response
		// is written, so this naturally waits for it too.
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for range ticker.C {
			if d.outstanding.Load() == 0 {
				break
			}
		}
		d.listener.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := d.listener.Accept()
		if err != nil {
			wg.Wait()
			return d.finalizeShutdown(ctx)
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			d.serveConn(ctx, conn)
		}()
	}
}

func (d *Daemon) finalizeShutdown(context.Context) error {
	d.state.Set(StateStopping)
	closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if d.proxy != nil {
		_ = d.proxy.Stop(closeCtx)
	}
	_ = d.client.Close(closeCtx)
	os.Remove(d.cfg.ReadyFilePath)
	return nil
}

// triggerShutdown moves the bridge into draining and closes the listener
// once outstanding work reaches zero (spec §4.7 state table).
func (d *Daemon) triggerShutdown() {
	d.shutdownOnce.Do(func() {
		d.state.Set(StateDraining)
		close(d.shutdownCh)
	})
}

func (d *Daemon) serveConn(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	w := bufio.NewWriter(conn)
	scanner := bufio.NewScanner(conn)
	codec := ipc.NewCodec(scanner, w)

	req, err := codec.ReadRequest()
	if err != nil {
		return
	}

	d.outstanding.Add(1)
	defer d.outstanding.Add(-1)

	result, callErr := d.dispatch(ctx, req.Method, req.Params)

	resp := ipc.Response{ID: req.ID}
	if callErr != nil {
		resp.Error = errorObjectFor(callErr)
	} else {
		resp.Result = result
	}
	_ = codec.WriteResponse(resp, w)
}

func errorObjectFor(err error) *ipc.ErrorObject {
	kind := mcperrors.KindOf(err)
	code := kind.ExitCode()
	switch kind {
	case mcperrors.KindClient:
		code = ipc.CodeClientError
	case mcperrors.KindAuth:
		code = ipc.CodeAuthError
	case mcperrors.KindNetwork:
		code = ipc.CodeNetworkError
	case mcperrors.KindSessionExpired:
		code = ipc.CodeSessionExpired
	case mcperrors.KindMCP:
		var mcpErr *mcperrors.Error
		if mcperrors.As(err, &mcpErr) {
			code = mcpErr.Code
		}
	}
	return &ipc.ErrorObject{Code: code, Message: err.Error()}
}

// onNotification runs on the client core's read loop: cache invalidation
// happens synchronously, before the method returns, so the next list call
// — even one already blocked on an IPC request — observes fresh data
// (spec §4.7 cache-coordination ordering guarantee).
func (d *Daemon) onNotification(method string, params json.RawMessage) {
	if kind := listcache.KindForNotification(method); kind != "" {
		d.cache.Invalidate(kind)
		d.touchNotificationTimestamp(kind)
	}
}

// onTerminalTransportError implements the "ready -> session-expired signal
// -> expired" and general transport-closed transitions from spec §4.7's
// state table: a SessionExpired transport error never triggers a
// reconnect, it writes the registry and shuts the bridge down; any other
// terminal transport error (child exit, unrecoverable network failure)
// moves straight to stopping.
func (d *Daemon) onTerminalTransportError(err error) {
	status := registry.StatusCrashed
	nextState := StateStopping
	if mcperrors.KindOf(err) == mcperrors.KindSessionExpired {
		status = registry.StatusExpired
		nextState = StateExpired
	}
	d.state.Set(nextState)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = d.cfg.Registry.Update(ctx, d.cfg.Name, registry.Patch{Status: &status, ClearPID: true})

	d.triggerShutdown()
}

func (d *Daemon) touchNotificationTimestamp(kind listcache.Kind) {
	now := time.Now()
	var changed registry.ListChanged
	switch kind {
	case listcache.KindTools:
		changed.ToolsListChangedAt = &now
	case listcache.KindResources, listcache.KindResourceTemplates:
		changed.ResourcesListChangedAt = &now
	case listcache.KindPrompts:
		changed.PromptsListChangedAt = &now
	default:
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = d.cfg.Registry.Update(ctx, d.cfg.Name, registry.Patch{Notifications: &changed})
}
