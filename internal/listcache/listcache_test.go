package listcache

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetMissOnEmptyCache(t *testing.T) {
	c := New(time.Minute)
	_, ok := c.Get(KindTools)
	assert.False(t, ok)
}

func TestSetThenGetHits(t *testing.T) {
	c := New(time.Minute)
	payload := json.RawMessage(`[{"name":"echo"}]`)
	c.Set(KindTools, payload)

	got, ok := c.Get(KindTools)
	require.True(t, ok)
	assert.JSONEq(t, string(payload), string(got))
}

func TestEntryExpiresAfterTTL(t *testing.T) {
	c := New(10 * time.Millisecond)
	c.Set(KindPrompts, json.RawMessage(`[]`))

	time.Sleep(30 * time.Millisecond)

	_, ok := c.Get(KindPrompts)
	assert.False(t, ok)
}

func TestInvalidateDropsOnlyOneKind(t *testing.T) {
	c := New(time.Minute)
	c.Set(KindTools, json.RawMessage(`[]`))
	c.Set(KindResources, json.RawMessage(`[]`))

	c.Invalidate(KindTools)

	_, toolsOk := c.Get(KindTools)
	_, resourcesOk := c.Get(KindResources)
	assert.False(t, toolsOk)
	assert.True(t, resourcesOk)
}

func TestInvalidateAllDropsEverything(t *testing.T) {
	c := New(time.Minute)
	c.Set(KindTools, json.RawMessage(`[]`))
	c.Set(KindResources, json.RawMessage(`[]`))

	c.InvalidateAll()

	_, toolsOk := c.Get(KindTools)
	_, resourcesOk := c.Get(KindResources)
	assert.False(t, toolsOk)
	assert.False(t, resourcesOk)
}

func TestKindForNotification(t *testing.T) {
	assert.Equal(t, KindTools, KindForNotification("notifications/tools/list_changed"))
	assert.Equal(t, KindResources, KindForNotification("notifications/resources/list_changed"))
	assert.Equal(t, KindPrompts, KindForNotification("notifications/prompts/list_changed"))
	assert.Equal(t, Kind(""), KindForNotification("notifications/message"))
}
