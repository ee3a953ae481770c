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
)

// ProfileStore persists auth-profiles.json: non-secret OAuth profile
// metadata only. Token material is never written here (spec §9 open
// question resolution); see internal/secretstore.
type ProfileStore struct {
	path        string
	lockPath    string
	lockTimeout time.Duration
	mu          sync.Mutex
}

// NewProfileStore constructs a ProfileStore rooted at path.
func NewProfileStore(path string, lockTimeout time.Duration) *ProfileStore {
	return &ProfileStore{path: path, lockPath: path + ".lock", lockTimeout: lockTimeout}
}

func (p *ProfileStore) withLock(ctx context.Context, fn func() error) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(p.path), 0o700); err != nil {
		return fmt.Errorf("creating profile store directory: %w", err)
	}

	fileLock := flock.New(p.lockPath)
	lockCtx, cancel := context.WithTimeout(ctx, p.lockTimeout)
	defer cancel()

	locked, err := fileLock.TryLockContext(lockCtx, 50*time.Millisecond)
	if err != nil {
		return fmt.Errorf("acquiring profile store lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("timed out waiting for profile store lock after %s; retry the command", p.lockTimeout)
	}
	defer func() { _ = fileLock.Unlock() }()

	return fn()
}

func (p *ProfileStore) readFile() (profilesFile, error) {
	var pf profilesFile
	pf.Profiles = make(map[string]map[string]AuthProfile)

	data, err := os.ReadFile(p.path)
	if os.IsNotExist(err) {
		return pf, nil
	}
	if err != nil {
		return pf, fmt.Errorf("reading profile store: %w", err)
	}
	if len(data) == 0 {
		return pf, nil
	}
	if err := json.Unmarshal(data, &pf); err != nil {
		return profilesFile{Profiles: make(map[string]map[string]AuthProfile)}, nil
	}
	if pf.Profiles == nil {
		pf.Profiles = make(map[string]map[string]AuthProfile)
	}
	return pf, nil
}

func (p *ProfileStore) writeFile(pf profilesFile) error {
	data, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling profile store: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(p.path), ".auth-profiles-*.tmp")
	if err != nil {
		return fmt.Errorf("creating temp profile store file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("writing temp profile store file: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod temp profile store file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("closing temp profile store file: %w", err)
	}
	return os.Rename(tmpName, p.path)
}

// Get returns the named profile for a server URL.
func (p *ProfileStore) Get(ctx context.Context, serverURL, name string) (AuthProfile, bool, error) {
	var (
		rec    AuthProfile
		exists bool
	)
	err := p.withLock(ctx, func() error {
		pf, err := p.readFile()
		if err != nil {
			return err
		}
		byName, ok := pf.Profiles[serverURL]
		if !ok {
			return nil
		}
		rec, exists = byName[name]
		return nil
	})
	return rec, exists, err
}

// Save upserts a profile.
func (p *ProfileStore) Save(ctx context.Context, rec AuthProfile) error {
	return p.withLock(ctx, func() error {
		pf, err := p.readFile()
		if err != nil {
			return err
		}
		byName, ok := pf.Profiles[rec.ServerURL]
		if !ok {
			byName = make(map[string]AuthProfile)
		}
		byName[rec.Name] = rec
		pf.Profiles[rec.ServerURL] = byName
		return p.writeFile(pf)
	})
}

// Delete removes a profile; a no-op if it doesn't exist.
func (p *ProfileStore) Delete(ctx context.Context, serverURL, name string) error {
	return p.withLock(ctx, func() error {
		pf, err := p.readFile()
		if err != nil {
			return err
		}
		if byName, ok := pf.Profiles[serverURL]; ok {
			delete(byName, name)
			pf.Profiles[serverURL] = byName
		}
		return p.writeFile(pf)
	})
}
