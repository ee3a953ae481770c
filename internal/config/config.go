// Package config holds the small set of tunable session options recognized
// by a session's transport descriptor (spec §6).
package config

import "time"

// Defaults for the recognized per-session configuration options.
const (
	DefaultCacheTTL         = 5 * time.Minute
	DefaultCallTimeout      = 60 * time.Second
	DefaultRefreshBuffer    = 60 * time.Second
	DefaultLockTimeout      = 5 * time.Second
	DefaultIPCTimeout       = 30 * time.Second
	DefaultBridgeReadyWait  = 10 * time.Second
	DefaultShutdownGrace    = 2 * time.Second
	DefaultShutdownKillWait = 3 * time.Second
)

// Session carries the tunables a session record may override. Zero values
// mean "use the default" and are resolved by Resolve().
type Session struct {
	TTLMs            int64 `json:"ttlMs,omitempty"`
	TimeoutMs        int64 `json:"timeoutMs,omitempty"`
	RefreshBufferSec int64 `json:"refreshBufferSec,omitempty"`
	LockTimeoutMs    int64 `json:"lockTimeoutMs,omitempty"`
}

// Resolved is the Session config with every field defaulted.
type Resolved struct {
	CacheTTL      time.Duration
	CallTimeout   time.Duration
	RefreshBuffer time.Duration
	LockTimeout   time.Duration
}

// Resolve fills in defaults for any unset field.
func (s Session) Resolve() Resolved {
	r := Resolved{
		CacheTTL:      DefaultCacheTTL,
		CallTimeout:   DefaultCallTimeout,
		RefreshBuffer: DefaultRefreshBuffer,
		LockTimeout:   DefaultLockTimeout,
	}
	if s.TTLMs > 0 {
		r.CacheTTL = time.Duration(s.TTLMs) * time.Millisecond
	}
	if s.TimeoutMs > 0 {
		r.CallTimeout = time.Duration(s.TimeoutMs) * time.Millisecond
	}
	if s.RefreshBufferSec > 0 {
		r.RefreshBuffer = time.Duration(s.RefreshBufferSec) * time.Second
	}
	if s.LockTimeoutMs > 0 {
		r.LockTimeout = time.Duration(s.LockTimeoutMs) * time.Millisecond
	}
	return r
}
