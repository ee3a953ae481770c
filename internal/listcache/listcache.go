// Package listcache is the per-bridge TTL cache from spec §4.6: one slot per
// list kind (tools, resources, resource templates, prompts), evicted lazily
// on access and invalidated wholesale by `*/list_changed` notifications.
//
// Grounded on no direct teacher equivalent (the teacher's go-sdk-based
// client has no hand-rolled list cache); shaped like
// pkg/gateway/clientpool.go's mutex-guarded map of lazily-created entries,
// scaled down to the four list kinds this client needs.
package listcache

import (
	"encoding/json"
	"sync"
	"time"
)

// Kind identifies which list a cache slot holds.
type Kind string

const (
	KindTools             Kind = "tools"
	KindResources         Kind = "resources"
	KindResourceTemplates Kind = "resourceTemplates"
	KindPrompts           Kind = "prompts"
)

type entry struct {
	payload   json.RawMessage
	insertedAt time.Time
}

// Cache holds one entry per Kind. Per spec §4.6, all operations happen on
// the bridge's single serialized event loop, so no internal locking would
// be strictly required; a mutex is kept anyway so the cache is safe to
// expose to tests and any future concurrent caller without relitigating
// that invariant at every call site.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[Kind]entry
}

// New constructs a Cache with the given TTL (spec default: 5 minutes).
func New(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl, entries: make(map[Kind]entry)}
}

// Get returns the cached payload for kind, or ok=false on miss or expiry.
func (c *Cache) Get(kind Kind) (json.RawMessage, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[kind]
	if !ok {
		return nil, false
	}
	if time.Since(e.insertedAt) > c.ttl {
		delete(c.entries, kind)
		return nil, false
	}
	return e.payload, true
}

// Set stores payload for kind, stamped with the current time.
func (c *Cache) Set(kind Kind, payload json.RawMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[kind] = entry{payload: payload, insertedAt: time.Now()}
}

// Invalidate drops the cached entry for kind, if any.
func (c *Cache) Invalidate(kind Kind) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, kind)
}

// InvalidateAll drops every cached entry.
func (c *Cache) InvalidateAll() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[Kind]entry)
}

// KindForNotification maps a `*/list_changed` notification method name to
// the cache kind it invalidates, or "" if the method isn't recognized.
func KindForNotification(method string) Kind {
	switch method {
	case "notifications/tools/list_changed":
		return KindTools
	case "notifications/resources/list_changed":
		return KindResources
	case "notifications/prompts/list_changed":
		return KindPrompts
	default:
		return ""
	}
}
