package config

import (
	"os"
	"path/filepath"
)

// Paths collects the on-disk locations mcpctl reads and writes, all rooted
// under one directory in the user's home. Grounded on the teacher's
// pkg/db/db.go DefaultDatabaseFilename, which resolves a single well-known
// path under the home directory the same way.
type Paths struct {
	Root             string
	SessionsFile     string
	AuthProfilesFile string
	SocketDir        string
	LogDir           string
}

// DefaultPaths resolves Paths under "<home>/.mcpctl".
func DefaultPaths() (Paths, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return Paths{}, err
	}
	return PathsAt(filepath.Join(home, ".mcpctl")), nil
}

// PathsAt resolves Paths under an explicit root, used by a re-exec'd bridge
// process (spec §4.8's "--root" flag) to agree with the CLI invocation that
// spawned it without re-deriving the home directory itself.
func PathsAt(root string) Paths {
	return Paths{
		Root:             root,
		SessionsFile:     filepath.Join(root, "sessions.json"),
		AuthProfilesFile: filepath.Join(root, "auth-profiles.json"),
		SocketDir:        filepath.Join(root, "sockets"),
		LogDir:           filepath.Join(root, "logs"),
	}
}

// SocketPath returns the control-socket path for a named session.
func (p Paths) SocketPath(name string) string {
	return filepath.Join(p.SocketDir, name+".sock")
}

// LogPath returns the bridge log file path for a named session.
func (p Paths) LogPath(name string) string {
	return filepath.Join(p.LogDir, name+".log")
}

// ReadyPath returns the readiness marker path for a named session.
func (p Paths) ReadyPath(name string) string {
	return filepath.Join(p.LogDir, name+".ready")
}

// EnsureDirs creates every directory Paths references.
func (p Paths) EnsureDirs() error {
	for _, dir := range []string{p.Root, p.SocketDir, p.LogDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	return nil
}
