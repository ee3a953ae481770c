// Package bridgemanager is the Bridge Manager (spec §4.8): it lives in the
// CLI process, not the daemon, and decides whether a session's bridge needs
// spawning, confirms a spawned bridge actually came up, and tears bridges
// down on explicit close.
//
// Grounded on the teacher's pkg/gateway/clientpool.go kept-client lifecycle
// (AcquireClient/ReleaseClient/Close, sync.Once-guarded lazy creation),
// reshaped from in-process client objects to out-of-process bridge daemons
// reached over a control socket instead of a Go interface value.
package bridgemanager

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/mcpctl/mcpctl/internal/config"
	"github.com/mcpctl/mcpctl/internal/ipcclient"
	"github.com/mcpctl/mcpctl/internal/mcperrors"
	"github.com/mcpctl/mcpctl/internal/registry"
)

// Manager spawns, probes, and stops bridge daemons for the CLI process.
type Manager struct {
	Paths    config.Paths
	Registry *registry.Registry

	// Executable is the path to re-exec for "bridge-serve"; defaults to
	// os.Executable() when empty. Overridable so tests can point it at a
	// stub binary instead of re-execing the real CLI.
	Executable string

	// ReadyWait bounds how long EnsureBridgeHealthy waits for a freshly
	// spawned bridge to announce readiness.
	ReadyWait time.Duration
	// PingTimeout bounds the liveness probe against an already-registered pid.
	PingTimeout time.Duration
}

// New constructs a Manager with spec-default timeouts.
func New(paths config.Paths, reg *registry.Registry) *Manager {
	return &Manager{
		Paths:       paths,
		Registry:    reg,
		ReadyWait:   config.DefaultBridgeReadyWait,
		PingTimeout: 500 * time.Millisecond,
	}
}

// EnsureBridgeHealthy implements spec §4.8's ensureBridgeHealthy: confirm a
// live, responsive bridge for name, spawning a replacement if needed.
func (m *Manager) EnsureBridgeHealthy(ctx context.Context, name string) (registry.Session, error) {
	rec, ok, err := m.Registry.Get(ctx, name)
	if err != nil {
		return registry.Session{}, fmt.Errorf("reading session %q: %w", name, err)
	}
	if !ok {
		return registry.Session{}, mcperrors.New(mcperrors.KindClient, fmt.Sprintf("no session named %q; run connect first", name))
	}

	if rec.PID != 0 && m.pingAlive(ctx, rec.SocketPath) {
		return rec, nil
	}

	if rec.Status == registry.StatusExpired {
		return registry.Session{}, mcperrors.SessionExpired(fmt.Sprintf("session %q has expired", name))
	}

	return m.spawnAndAwaitReady(ctx, name)
}

func (m *Manager) pingAlive(ctx context.Context, socketPath string) bool {
	if socketPath == "" {
		return false
	}
	pingCtx, cancel := context.WithTimeout(ctx, m.PingTimeout)
	defer cancel()
	_, err := ipcclient.Call(pingCtx, socketPath, "ping", nil, m.PingTimeout)
	return err == nil
}

// spawnAndAwaitReady launches a new bridge-serve process for name with the
// same transport descriptor already on file, then waits for it to write its
// readiness marker (spec §4.7 step 3/4; §4.8 "poll with timeout 10s").
func (m *Manager) spawnAndAwaitReady(ctx context.Context, name string) (registry.Session, error) {
	if err := m.Paths.EnsureDirs(); err != nil {
		return registry.Session{}, err
	}

	readyPath := m.Paths.ReadyPath(name)
	_ = os.Remove(readyPath)

	exe, err := m.executable()
	if err != nil {
		return registry.Session{}, fmt.Errorf("resolving mcpctl executable: %w", err)
	}

	logPath := m.Paths.LogPath(name)
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return registry.Session{}, fmt.Errorf("opening bridge log file %s: %w", logPath, err)
	}
	defer logFile.Close()

	cmd := exec.Command(exe, "bridge-serve", "--name", name, "--root", m.Paths.Root)
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	cmd.Stdin = nil
	if err := cmd.Start(); err != nil {
		return registry.Session{}, fmt.Errorf("spawning bridge for %q: %w", name, err)
	}
	// The spawned bridge is a detached long-lived daemon; Release lets it
	// outlive this CLI invocation without becoming a zombie under us.
	_ = cmd.Process.Release()

	if err := m.waitForReady(ctx, readyPath); err != nil {
		return registry.Session{}, err
	}

	rec, ok, err := m.Registry.Get(ctx, name)
	if err != nil {
		return registry.Session{}, err
	}
	if !ok {
		return registry.Session{}, fmt.Errorf("bridge for %q reported ready but session record is missing", name)
	}
	return rec, nil
}

func (m *Manager) executable() (string, error) {
	if m.Executable != "" {
		return m.Executable, nil
	}
	return os.Executable()
}

// waitForReady blocks until readyPath exists, watched via fsnotify with a
// polling fallback (spec §9: prefer an OS primitive, degrade gracefully).
func (m *Manager) waitForReady(ctx context.Context, readyPath string) error {
	ctx, cancel := context.WithTimeout(ctx, m.ReadyWait)
	defer cancel()

	if fileExists(readyPath) {
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return m.pollForReady(ctx, readyPath)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(readyPath)); err != nil {
		return m.pollForReady(ctx, readyPath)
	}

	for {
		select {
		case <-ctx.Done():
			return mcperrors.New(mcperrors.KindNetwork, "timed out waiting for bridge to become ready")
		case ev, ok := <-watcher.Events:
			if !ok {
				return m.pollForReady(ctx, readyPath)
			}
			if ev.Name == readyPath && fileExists(readyPath) {
				return nil
			}
		case <-watcher.Errors:
			return m.pollForReady(ctx, readyPath)
		}
	}
}

func (m *Manager) pollForReady(ctx context.Context, readyPath string) error {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		if fileExists(readyPath) {
			return nil
		}
		select {
		case <-ctx.Done():
			return mcperrors.New(mcperrors.KindNetwork, "timed out waiting for bridge to become ready")
		case <-ticker.C:
		}
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// StopBridge implements spec §4.8's stopBridge: shutdown IPC, then SIGTERM,
// then SIGKILL escalation, removing the socket file on Unix. Idempotent:
// stopping an already-stopped session is a no-op success (spec §8).
func (m *Manager) StopBridge(ctx context.Context, name string) error {
	rec, ok, err := m.Registry.Get(ctx, name)
	if err != nil {
		return err
	}
	if !ok || rec.PID == 0 {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, config.DefaultShutdownGrace)
	_, callErr := ipcclient.Call(shutdownCtx, rec.SocketPath, "shutdown", nil, config.DefaultShutdownGrace)
	cancel()

	if callErr == nil && awaitExit(rec.PID, config.DefaultShutdownGrace) {
		cleanupSocket(rec.SocketPath)
		return nil
	}

	terminate(rec.PID)
	if awaitExit(rec.PID, config.DefaultShutdownKillWait) {
		cleanupSocket(rec.SocketPath)
		return nil
	}

	kill(rec.PID)
	awaitExit(rec.PID, config.DefaultShutdownKillWait)
	cleanupSocket(rec.SocketPath)
	return nil
}

func cleanupSocket(socketPath string) {
	if socketPath == "" {
		return
	}
	_ = os.Remove(socketPath)
	_ = os.Remove(socketPath + ".lock")
}

func awaitExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return !processAlive(pid)
}
