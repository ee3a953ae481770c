//go:build !windows

package ipc

import (
	"fmt"
	"net"
	"os"
)

// Listen binds a Unix-domain stream socket at path with mode 0600 (spec
// §4.7). Any stale socket file left behind by a crashed bridge is removed
// first; callers are expected to have already confirmed no live bridge owns
// it (the registry consolidation sweep, or the caller's own exclusive-lock
// check).
func Listen(path string) (net.Listener, error) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale socket %s: %w", path, err)
	}

	l, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("binding socket %s: %w", path, err)
	}
	if err := os.Chmod(path, 0o600); err != nil {
		l.Close()
		return nil, fmt.Errorf("setting socket permissions on %s: %w", path, err)
	}
	return l, nil
}
