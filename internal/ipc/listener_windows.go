//go:build windows

package ipc

import (
	"fmt"
	"net"

	"github.com/Microsoft/go-winio"
)

// Listen binds a named pipe at path (the Windows analogue of a Unix-domain
// socket, named in spec §6). Access is restricted to the current user via
// an empty SecurityDescriptor, which go-winio defaults to owner-only.
func Listen(path string) (net.Listener, error) {
	l, err := winio.ListenPipe(path, &winio.PipeConfig{})
	if err != nil {
		return nil, fmt.Errorf("binding named pipe %s: %w", path, err)
	}
	return l, nil
}
