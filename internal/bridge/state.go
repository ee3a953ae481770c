package bridge

import (
	"context"
	"sync"

	"github.com/mcpctl/mcpctl/internal/mcptransport"
)

// State is one of the Bridge Daemon's six states (spec §4.7).
type State string

const (
	StateInitializing   State = "initializing"
	StateReady          State = "ready"
	StateRefreshingAuth State = "refreshing-auth"
	StateDraining       State = "draining"
	StateStopping       State = "stopping"
	StateExpired        State = "expired"
)

// SharedState is a mutex-guarded State holder; the bridge's transitions are
// driven from several goroutines (IPC acceptor, transport reader, OAuth
// refresh) so every read/write goes through here. It's constructed ahead
// of the transport so an AuthProvider can be wrapped with WrapAuth before
// the transport (and then the Daemon) are built.
type SharedState struct {
	mu    sync.Mutex
	value State
}

// NewSharedState constructs a SharedState in StateInitializing.
func NewSharedState() *SharedState {
	return &SharedState{value: StateInitializing}
}

func (b *SharedState) Get() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value
}

func (b *SharedState) Set(s State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.value = s
}

// CompareAndSet transitions from `from` to `to` only if the current value
// is still `from`, returning whether the transition happened. Used to avoid
// clobbering a `draining`/`expired`/`stopping` transition raced in from
// another goroutine.
func (b *SharedState) CompareAndSet(from, to State) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.value != from {
		return false
	}
	b.value = to
	return true
}

// authStateTracker wraps an AuthProvider so a refresh flips the shared
// state into StateRefreshingAuth for its duration, satisfying spec §4.7's
// "ready -> auth error -> refreshing-auth -> ready" transition without the
// transport itself needing to know about bridge states.
type authStateTracker struct {
	mcptransport.AuthProvider
	state *SharedState
}

// WrapAuth decorates auth so its Refresh calls drive state's transitions.
// Callers build this before constructing the transport, since the
// transport holds its own reference to the AuthProvider.
func WrapAuth(auth mcptransport.AuthProvider, state *SharedState) mcptransport.AuthProvider {
	return authStateTracker{AuthProvider: auth, state: state}
}

func (a authStateTracker) Refresh(ctx context.Context) (string, error) {
	a.state.CompareAndSet(StateReady, StateRefreshingAuth)
	token, err := a.AuthProvider.Refresh(ctx)
	if err != nil {
		a.state.Set(StateStopping)
		return "", err
	}
	a.state.CompareAndSet(StateRefreshingAuth, StateReady)
	return token, nil
}
