package proxycore

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLRUCacheAddGet(t *testing.T) {
	c := newLRUCache(0)
	c.add("example.com", dnsCacheEntry{addresses: []net.IP{net.ParseIP("1.2.3.4")}, expiresAt: 100})

	entry, ok := c.get("example.com")
	require.True(t, ok, "expected entry to be present")
	require.Len(t, entry.addresses, 1)
	require.True(t, entry.addresses[0].Equal(net.ParseIP("1.2.3.4")))

	_, ok = c.get("missing.com")
	require.False(t, ok, "expected missing.com to be absent")
}

func TestLRUCacheEviction(t *testing.T) {
	c := newLRUCache(2)
	c.add("a.com", dnsCacheEntry{})
	c.add("b.com", dnsCacheEntry{})
	c.add("c.com", dnsCacheEntry{})

	require.Equal(t, 2, c.size())
	_, ok := c.get("a.com")
	require.False(t, ok, "expected a.com to have been evicted as least-recently-used")
	_, ok = c.get("b.com")
	require.True(t, ok, "expected b.com to survive eviction")
	_, ok = c.get("c.com")
	require.True(t, ok, "expected c.com to survive eviction")
}

func TestLRUCacheTouchReordersEviction(t *testing.T) {
	c := newLRUCache(2)
	c.add("a.com", dnsCacheEntry{})
	c.add("b.com", dnsCacheEntry{})
	c.get("a.com") // touch a.com, making b.com the least-recently-used
	c.add("c.com", dnsCacheEntry{})

	_, ok := c.get("b.com")
	require.False(t, ok, "expected b.com to be evicted after a.com was touched")
	_, ok = c.get("a.com")
	require.True(t, ok, "expected a.com to survive eviction")
}

func TestLRUCacheDeleteAndReset(t *testing.T) {
	c := newLRUCache(0)
	c.add("a.com", dnsCacheEntry{})
	c.delete("a.com")
	_, ok := c.get("a.com")
	require.False(t, ok, "expected a.com to be gone after delete")

	c.add("b.com", dnsCacheEntry{})
	c.add("c.com", dnsCacheEntry{})
	c.reset()
	require.Equal(t, 0, c.size())
}
