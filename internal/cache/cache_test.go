package cache

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKey(tenant, scope, query string) Key {
	return Key{
		Tenant:           tenant,
		Scope:            scope,
		User:             "u1",
		Role:             "tech",
		Endpoint:         "search",
		Phase:            "envelope",
		QueryHash:        HashQuery(query),
		EmbeddingVersion: "v1",
	}
}

func TestCache_SetGet(t *testing.T) {
	c := New(time.Minute, 10)
	key := testKey("acme", "fleet-1", "fuel filter")

	c.Set(key, "value", nil)
	v, ok := c.Get(key)
	require.True(t, ok)
	assert.Equal(t, "value", v)

	hits, misses := c.Stats()
	assert.Equal(t, uint64(1), hits)
	assert.Equal(t, uint64(0), misses)
}

func TestCache_TTLExpiry(t *testing.T) {
	c := New(10*time.Millisecond, 10)
	key := testKey("acme", "fleet-1", "fuel filter")

	c.Set(key, "value", nil)
	time.Sleep(20 * time.Millisecond)

	_, ok := c.Get(key)
	assert.False(t, ok)
	assert.Zero(t, c.Len(), "expired entry is removed on access")
}

func TestKey_TenantDisjoint(t *testing.T) {
	// The same query under different security contexts must never share a
	// cache entry.
	base := testKey("acme", "fleet-1", "fuel filter")
	variants := []Key{
		testKey("globex", "fleet-1", "fuel filter"),
		testKey("acme", "fleet-2", "fuel filter"),
		func() Key { k := base; k.User = "u2"; return k }(),
		func() Key { k := base; k.Role = "admin"; return k }(),
		func() Key { k := base; k.Endpoint = "stream"; return k }(),
		func() Key { k := base; k.EmbeddingVersion = "v2"; return k }(),
	}

	c := New(time.Minute, 100)
	c.Set(base, "mine", nil)
	for i, k := range variants {
		assert.NotEqual(t, base.String(), k.String(), "variant %d collides", i)
		_, ok := c.Get(k)
		assert.False(t, ok, "variant %d must miss", i)
	}
}

func TestKey_SeparatorEscaping(t *testing.T) {
	// Crafted field values that render to the same bytes under a naive
	// escape must never produce equal keys.
	pairs := []struct {
		name string
		a, b Key
	}{
		{
			name: "interior separator",
			a:    Key{Tenant: "a|b", Scope: "c"},
			b:    Key{Tenant: "a", Scope: "b|c"},
		},
		{
			name: "trailing separator",
			a:    Key{User: "a|", Role: "b"},
			b:    Key{User: "a", Role: "|b"},
		},
		{
			name: "trailing escape character",
			a:    Key{User: `a\`, Role: "b"},
			b:    Key{User: "a", Role: `\b`},
		},
		{
			name: "separator run",
			a:    Key{User: "||", Role: ""},
			b:    Key{User: "|", Role: "|"},
		},
	}
	for _, tt := range pairs {
		t.Run(tt.name, func(t *testing.T) {
			assert.NotEqual(t, tt.a.String(), tt.b.String())
		})
	}
}

func TestCache_Invalidate(t *testing.T) {
	c := New(time.Minute, 100)
	c.Set(testKey("acme", "fleet-1", "q1"), 1, []string{"work_orders"})
	c.Set(testKey("acme", "fleet-1", "q2"), 2, []string{"parts"})
	c.Set(testKey("acme", "fleet-2", "q1"), 3, []string{"work_orders"})
	c.Set(testKey("globex", "fleet-1", "q1"), 4, []string{"work_orders"})

	removed := c.Invalidate("acme", "fleet-1", "work_orders")
	assert.Equal(t, 1, removed)
	assert.Equal(t, 3, c.Len())

	// Other tenants and scopes are untouched.
	_, ok := c.Get(testKey("acme", "fleet-2", "q1"))
	assert.True(t, ok)
	_, ok = c.Get(testKey("globex", "fleet-1", "q1"))
	assert.True(t, ok)
}

func TestCache_InvalidateWholeScope(t *testing.T) {
	c := New(time.Minute, 100)
	c.Set(testKey("acme", "fleet-1", "q1"), 1, []string{"work_orders"})
	c.Set(testKey("acme", "fleet-1", "q2"), 2, []string{"parts"})

	removed := c.Invalidate("acme", "fleet-1", "")
	assert.Equal(t, 2, removed)
	assert.Zero(t, c.Len())
}

func TestCache_InvalidateUntaggedEntries(t *testing.T) {
	// An entry with no object tags cannot prove it is independent of the
	// mutated object, so it goes too.
	c := New(time.Minute, 100)
	c.Set(testKey("acme", "fleet-1", "q1"), 1, nil)

	removed := c.Invalidate("acme", "fleet-1", "work_orders")
	assert.Equal(t, 1, removed)
}

func TestCache_LRUEviction(t *testing.T) {
	c := New(time.Minute, 3)
	for i := 0; i < 3; i++ {
		c.Set(testKey("acme", "fleet-1", fmt.Sprintf("q%d", i)), i, nil)
	}

	// Touch q0 and q2 so q1 becomes least recently used.
	time.Sleep(time.Millisecond)
	c.Get(testKey("acme", "fleet-1", "q0"))
	c.Get(testKey("acme", "fleet-1", "q2"))

	c.Set(testKey("acme", "fleet-1", "q3"), 3, nil)
	assert.Equal(t, 3, c.Len())

	_, ok := c.Get(testKey("acme", "fleet-1", "q1"))
	assert.False(t, ok, "least recently used entry was evicted")
	_, ok = c.Get(testKey("acme", "fleet-1", "q0"))
	assert.True(t, ok)
}

func TestHashQuery_Stable(t *testing.T) {
	assert.Equal(t, HashQuery("fuel filter"), HashQuery("fuel filter"))
	assert.NotEqual(t, HashQuery("fuel filter"), HashQuery("fuel filters"))
}
