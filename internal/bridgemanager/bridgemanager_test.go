package bridgemanager

import (
	"bufio"
	"context"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mcpctl/mcpctl/internal/config"
	"github.com/mcpctl/mcpctl/internal/ipc"
	"github.com/mcpctl/mcpctl/internal/registry"
)

// fakeBridge is a minimal IPC responder standing in for a real bridge
// daemon: it answers every request with an empty result, except a
// "shutdown" request, which triggers process exit via onShutdown.
func fakeBridge(t *testing.T, socketPath string, onShutdown func()) net.Listener {
	t.Helper()
	l, err := ipc.Listen(socketPath)
	require.NoError(t, err)

	go func() {
		for {
			conn, err := l.Accept()
			if err != nil {
				return
			}
			go func() {
				defer conn.Close()
				w := bufio.NewWriter(conn)
				scanner := bufio.NewScanner(conn)
				codec := ipc.NewCodec(scanner, w)
				req, err := codec.ReadRequest()
				if err != nil {
					return
				}
				_ = codec.WriteResponse(ipc.Response{ID: req.ID, Result: []byte(`{}`)}, w)
				if req.Method == "shutdown" && onShutdown != nil {
					onShutdown()
				}
			}()
		}
	}()
	return l
}

func newTestManager(t *testing.T) (*Manager, *registry.Registry, config.Paths) {
	t.Helper()
	dir := t.TempDir()
	paths := config.Paths{
		Root:         dir,
		SessionsFile: filepath.Join(dir, "sessions.json"),
		SocketDir:    filepath.Join(dir, "sockets"),
		LogDir:       filepath.Join(dir, "logs"),
	}
	require.NoError(t, paths.EnsureDirs())
	reg := registry.New(paths.SessionsFile, time.Second, func(int) bool { return true })
	m := New(paths, reg)
	m.ReadyWait = 2 * time.Second
	return m, reg, paths
}

func TestEnsureBridgeHealthyReturnsExistingWhenAlive(t *testing.T) {
	ctx := context.Background()
	m, reg, paths := newTestManager(t)

	socketPath := paths.SocketPath("s1")
	listener := fakeBridge(t, socketPath, nil)
	defer listener.Close()

	require.NoError(t, reg.Save(ctx, registry.Session{
		Name:       "s1",
		Status:     registry.StatusLive,
		PID:        os.Getpid(),
		SocketPath: socketPath,
	}))

	rec, err := m.EnsureBridgeHealthy(ctx, "s1")
	require.NoError(t, err)
	assert.Equal(t, "s1", rec.Name)
}

func TestEnsureBridgeHealthyUnknownSession(t *testing.T) {
	m, _, _ := newTestManager(t)
	_, err := m.EnsureBridgeHealthy(context.Background(), "missing")
	require.Error(t, err)
}

func TestEnsureBridgeHealthyExpiredSessionErrors(t *testing.T) {
	ctx := context.Background()
	m, reg, _ := newTestManager(t)

	require.NoError(t, reg.Save(ctx, registry.Session{Name: "s1", Status: registry.StatusExpired}))

	_, err := m.EnsureBridgeHealthy(ctx, "s1")
	require.Error(t, err)
}

func TestStopBridgeIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m, reg, _ := newTestManager(t)

	require.NoError(t, reg.Save(ctx, registry.Session{Name: "s1", Status: registry.StatusCrashed}))

	require.NoError(t, m.StopBridge(ctx, "s1"))
	require.NoError(t, m.StopBridge(ctx, "s1"))
}

// TestStopBridgeSendsShutdownThenWaits uses an already-dead pid (never
// assigned, per a fresh registry record) so awaitExit's first liveness
// check reports "not alive" and StopBridge returns without ever reaching
// the SIGTERM/SIGKILL escalation steps. Exercising those against a real
// process belongs in an end-to-end test harness, not a unit test that
// would otherwise have to signal its own test binary.
func TestStopBridgeSendsShutdownThenWaits(t *testing.T) {
	ctx := context.Background()
	m, reg, paths := newTestManager(t)

	socketPath := paths.SocketPath("s1")
	received := make(chan struct{})
	listener := fakeBridge(t, socketPath, func() { close(received) })
	defer listener.Close()

	const deadPID = 1 << 30 // astronomically unlikely to be a live pid
	require.NoError(t, reg.Save(ctx, registry.Session{
		Name:       "s1",
		Status:     registry.StatusLive,
		PID:        deadPID,
		SocketPath: socketPath,
	}))

	require.NoError(t, m.StopBridge(ctx, "s1"))

	select {
	case <-received:
	case <-time.After(2 * time.Second):
		t.Fatal("bridge never received shutdown request")
	}

	_, err := os.Stat(socketPath)
	assert.True(t, os.IsNotExist(err))
}
