// Package registry is the single source of truth for session metadata
// (spec §4.1): a JSON file at a well-known path, guarded by an advisory
// whole-file lock, written atomically via tempfile-then-rename.
//
// Grounded on the teacher's pkg/db/db.go migration lock: a gofrs/flock
// file lock acquired with a bounded retry budget before mutating shared
// on-disk state.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"

	"github.com/mcpctl/mcpctl/internal/config"
)

// Status values for a session record.
type Status string

const (
	StatusLive    Status = "live"
	StatusCrashed Status = "crashed"
	StatusExpired Status = "expired"
)

// TransportKind tags which transport variant a session uses.
type TransportKind string

const (
	TransportHTTP  TransportKind = "http"
	TransportStdio TransportKind = "stdio"
)

// Transport is the tagged-variant transport descriptor (spec §3).
type Transport struct {
	Kind TransportKind `json:"kind"`

	// HTTP fields.
	URL       string `json:"url,omitempty"`
	TimeoutMs int64  `json:"timeoutMs,omitempty"`
	// Headers are never persisted in the record; HeadersRedacted is a
	// display marker only, set to true whenever headers were configured.
	HeadersRedacted bool `json:"headersRedacted,omitempty"`

	// Stdio fields.
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Env     []string `json:"env,omitempty"`
}

// ListChanged tracks the last notification timestamp per list kind.
type ListChanged struct {
	ToolsListChangedAt     *time.Time `json:"toolsListChangedAt,omitempty"`
	ResourcesListChangedAt *time.Time `json:"resourcesListChangedAt,omitempty"`
	PromptsListChangedAt   *time.Time `json:"promptsListChangedAt,omitempty"`
}

// ProxyConfig describes an optional local proxy bound inside the bridge.
type ProxyConfig struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// Session is one record in sessions.json (spec §3).
type Session struct {
	Name            string        `json:"name"`
	Transport       Transport     `json:"transport"`
	ProfileName     string        `json:"profileName,omitempty"`
	MCPSessionID    string        `json:"mcpSessionId,omitempty"`
	ProtocolVersion string        `json:"protocolVersion,omitempty"`
	PID             int           `json:"pid,omitempty"`
	SocketPath      string        `json:"socketPath,omitempty"`
	Status          Status        `json:"status"`
	Notifications   ListChanged   `json:"notifications"`
	ProxyConfig     *ProxyConfig  `json:"proxyConfig,omitempty"`
	Config          config.Session `json:"config,omitempty"`
	CreatedAt       time.Time     `json:"createdAt"`
	UpdatedAt       time.Time     `json:"updatedAt"`
}

// AuthProfile is the non-secret metadata for an OAuth profile (spec §3).
// Token material never lives here; see internal/secretstore.
type AuthProfile struct {
	Name            string    `json:"name"`
	ServerURL       string    `json:"serverUrl"`
	AuthType        string    `json:"authType"`
	OAuthIssuer     string    `json:"oauthIssuer,omitempty"`
	Scopes          []string  `json:"scopes,omitempty"`
	ExpiresAt       time.Time `json:"expiresAt,omitempty"`
	AuthenticatedAt time.Time `json:"authenticatedAt,omitempty"`
}

type sessionsFile struct {
	Sessions map[string]Session `json:"sessions"`
}

type profilesFile struct {
	// Profiles keyed by server URL, then by profile name, per spec §6.
	Profiles map[string]map[string]AuthProfile `json:"profiles"`
}

// ConsolidateResult reports what consolidate() found.
type ConsolidateResult struct {
	Crashed int
	Expired int
	// ExpiredNames lists the sessions reaped when cleanExpired is true, so
	// the caller can also remove their Secret Store entries (spec §4.1 op
	// 2: "remove Secret-Store entries (headers, proxy bearer)") — the
	// registry itself has no secret-store handle.
	ExpiredNames []string
}

// LivenessProber reports whether a PID is still alive, its one seam for
// testing: consolidate() would otherwise depend on a real OS process table.
type LivenessProber func(pid int) bool

// Registry mutates sessions.json under an advisory file lock.
type Registry struct {
	path        string
	lockPath    string
	lockTimeout time.Duration
	isAlive     LivenessProber

	// mu serializes in-process access in addition to the cross-process
	// file lock; multiple goroutines in one CLI invocation never run
	// concurrently today, but Bridge and BridgeManager can both hold a
	// *Registry handle and this keeps that safe regardless.
	mu sync.Mutex
}

// New constructs a Registry rooted at path (e.g. "<home>/sessions.json").
func New(path string, lockTimeout time.Duration, isAlive LivenessProber) *Registry {
	if isAlive == nil {
		isAlive = DefaultLivenessProber
	}
	return &Registry{
		path:        path,
		lockPath:    path + ".lock",
		lockTimeout: lockTimeout,
		isAlive:     isAlive,
	}
}

func (r *Registry) withLock(ctx context.Context, fn func() error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(r.path), 0o700); err != nil {
		return fmt.Errorf("creating registry directory: %w", err)
	}

	fileLock := flock.New(r.lockPath)
	lockCtx, cancel := context.WithTimeout(ctx, r.lockTimeout)
	defer cancel()

	locked, err := fileLock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquiring registry lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("timed out waiting for registry lock after %s; retry the command", r.lockTimeout)
	}
	defer func() { _ = fileLock.Unlock() }()

	return fn()
}

func (r *Registry) readFile() (sessionsFile, error) {
	var sf sessionsFile
	sf.Sessions = make(map[string]Session)

	data, err := os.ReadFile(r.path)
	if os.IsNotExist(err) {
		return sf, nil
	}
	if err != nil {
		return sf, fmt.Errorf("reading registry file: %w", err)
	}
	if len(data) == 0 {
		return sf, nil
	}
	if err := json.Unmarshal(data, &sf); err != nil {
		// Malformed JSON must never crash the CLI (spec §4.1 failure
		// semantics): treat it as empty, the caller is responsible for
		// surfacing a warning if it wants one.
		return sessionsFile{Sessions: make(map[string]Session)}, nil
	}
	if sf.Sessions == nil {
		sf.Sessions = make(map[string]Session)
	}
	return sf, nil
}

func (r *Registry) writeFile(sf sessionsFile) error {
	data, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling registry: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".sessions-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp registry file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp registry file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp registry file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp registry file: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		return fmt.Errorf("renaming registry file into place: %w", err)
	}
	return nil
}

// Load returns every session record.
func (r *Registry) Load(ctx context.Context) (map[string]Session, error) {
	var out map[string]Session
	err := r.withLock(ctx, func() error {
		sf, err := r.readFile()
		if err != nil {
			return err
		}
		out = sf.Sessions
		return nil
	})
	return out, err
}

// Get returns one session record, or false if it doesn't exist.
func (r *Registry) Get(ctx context.Context, name string) (Session, bool, error) {
	var (
		rec    Session
		exists bool
	)
	err := r.withLock(ctx, func() error {
		sf, err := r.readFile()
		if err != nil {
			return err
		}
		rec, exists = sf.Sessions[name]
		return nil
	})
	return rec, exists, err
}

// Save upserts a full session record.
func (r *Registry) Save(ctx context.Context, rec Session) error {
	now := time.Now()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now

	return r.withLock(ctx, func() error {
		sf, err := r.readFile()
		if err != nil {
			return err
		}
		sf.Sessions[rec.Name] = rec
		return r.writeFile(sf)
	})
}

// Patch is a shallow-merge update; a nil *Patch field leaves the existing
// value untouched. Notifications are deep-merged field by field.
type Patch struct {
	MCPSessionID    *string
	ProtocolVersion *string
	PID             *int
	ClearPID        bool
	SocketPath      *string
	Status          *Status
	ProxyConfig     *ProxyConfig
	Notifications   *ListChanged
}

// Update applies patch to the named session's record.
func (r *Registry) Update(ctx context.Context, name string, patch Patch) (Session, error) {
	var updated Session
	err := r.withLock(ctx, func() error {
		sf, err := r.readFile()
		if err != nil {
			return err
		}
		rec, ok := sf.Sessions[name]
		if !ok {
			return fmt.Errorf("session %q not found", name)
		}

		if patch.MCPSessionID != nil {
			rec.MCPSessionID = *patch.MCPSessionID
		}
		if patch.ProtocolVersion != nil {
			rec.ProtocolVersion = *patch.ProtocolVersion
		}
		if patch.ClearPID {
			rec.PID = 0
		} else if patch.PID != nil {
			rec.PID = *patch.PID
		}
		if patch.SocketPath != nil {
			rec.SocketPath = *patch.SocketPath
		}
		if patch.Status != nil {
			rec.Status = *patch.Status
		}
		if patch.ProxyConfig != nil {
			rec.ProxyConfig = patch.ProxyConfig
		}
		if patch.Notifications != nil {
			if patch.Notifications.ToolsListChangedAt != nil {
				rec.Notifications.ToolsListChangedAt = patch.Notifications.ToolsListChangedAt
			}
			if patch.Notifications.ResourcesListChangedAt != nil {
				rec.Notifications.ResourcesListChangedAt = patch.Notifications.ResourcesListChangedAt
			}
			if patch.Notifications.PromptsListChangedAt != nil {
				rec.Notifications.PromptsListChangedAt = patch.Notifications.PromptsListChangedAt
			}
		}
		rec.UpdatedAt = time.Now()

		sf.Sessions[name] = rec
		updated = rec
		return r.writeFile(sf)
	})
	return updated, err
}

// Delete removes a session record. Deleting a record that doesn't exist is
// not an error (idempotent, matching spec §8's idempotence property for
// repeated stopBridge).
func (r *Registry) Delete(ctx context.Context, name string) error {
	return r.withLock(ctx, func() error {
		sf, err := r.readFile()
		if err != nil {
			return err
		}
		delete(sf.Sessions, name)
		return r.writeFile(sf)
	})
}

// Consolidate runs the sweep every CLI invocation performs (spec §4.1 op):
// clear pid+mark crashed for dead processes, and optionally reap expired
// records (removing the socket file too).
func (r *Registry) Consolidate(ctx context.Context, cleanExpired bool) (ConsolidateResult, error) {
	var result ConsolidateResult
	err := r.withLock(ctx, func() error {
		sf, err := r.readFile()
		if err != nil {
			return err
		}

		changed := false
		for name, rec := range sf.Sessions {
			if rec.PID != 0 && !r.isAlive(rec.PID) {
				rec.PID = 0
				if rec.Status != StatusExpired {
					rec.Status = StatusCrashed
					result.Crashed++
				}
				rec.UpdatedAt = time.Now()
				sf.Sessions[name] = rec
				changed = true
			}
		}

		if cleanExpired {
			for name, rec := range sf.Sessions {
				if rec.Status == StatusExpired {
					if rec.SocketPath != "" {
						_ = os.Remove(rec.SocketPath)
					}
					delete(sf.Sessions, name)
					result.Expired++
					result.ExpiredNames = append(result.ExpiredNames, name)
					changed = true
				}
			}
		}

		if !changed {
			return nil
		}
		return r.writeFile(sf)
	})
	return result, err
}
