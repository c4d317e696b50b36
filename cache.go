package proxycore

import (
	"context"
	"expvar"
	"net"
	"sync"
	"time"
)

// CachedResolver wraps an upstream Resolver with a TTL + bounded-capacity
// cache and single-flight de-duplication of concurrent lookups for the
// same hostname. Directly adapted from the Cache type in
// cache.go/cache-memory.go, merged with the de-duplication behavior of
// request-dedup.go: those files split caching and dedup into two
// chainable Resolver elements operating on *dns.Msg; since this core's
// Resolver returns an address list rather than a full DNS message, the
// two concerns collapse onto one struct.
type CachedResolver struct {
	id       string
	upstream Resolver
	ttl      time.Duration
	capacity int

	mu       sync.Mutex
	lru      *lruCache
	inflight map[string]*inflightLookup

	metrics *cacheMetrics
}

type inflightLookup struct {
	done      chan struct{}
	addresses []net.IP
	err       error
}

type cacheMetrics struct {
	hit, miss *expvar.Int
	entries   *expvar.Int
}

var _ Resolver = (*CachedResolver)(nil)

// CachedResolverOptions configures a CachedResolver.
type CachedResolverOptions struct {
	// TTL applied to every successful resolution, regardless of any TTL
	// the upstream itself might carry (the core's Resolver interface
	// doesn't expose per-record TTLs, only addresses).
	TTL time.Duration
	// Capacity bounds the number of distinct hostnames cached; 0 means
	// unlimited.
	Capacity int
}

// NewCachedResolver wraps upstream with a cache per opt.
func NewCachedResolver(id string, upstream Resolver, opt CachedResolverOptions) *CachedResolver {
	if opt.TTL <= 0 {
		opt.TTL = 5 * time.Minute
	}
	return &CachedResolver{
		id:       id,
		upstream: upstream,
		ttl:      opt.TTL,
		capacity: opt.Capacity,
		lru:      newLRUCache(opt.Capacity),
		inflight: make(map[string]*inflightLookup),
		metrics: &cacheMetrics{
			hit:     getVarInt("dns_cache", id, "hit"),
			miss:    getVarInt("dns_cache", id, "miss"),
			entries: getVarInt("dns_cache", id, "entries"),
		},
	}
}

// Resolve looks up host, joining an in-flight lookup for the same host if
// one is already outstanding instead of issuing a redundant upstream
// query.
func (c *CachedResolver) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	// Literal IPs never touch the cache or upstream.
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}

	c.mu.Lock()
	if entry, ok := c.lru.get(host); ok {
		if time.Now().UnixNano() < entry.expiresAt {
			c.mu.Unlock()
			c.metrics.hit.Add(1)
			return copyAddrs(entry.addresses), nil
		}
		// Expired: treat as absent.
		c.lru.delete(host)
	}

	if lookup, ok := c.inflight[host]; ok {
		c.mu.Unlock()
		<-lookup.done
		if lookup.err != nil {
			return nil, lookup.err
		}
		return copyAddrs(lookup.addresses), nil
	}

	lookup := &inflightLookup{done: make(chan struct{})}
	c.inflight[host] = lookup
	c.mu.Unlock()

	c.metrics.miss.Add(1)
	addrs, err := c.upstream.Resolve(ctx, host)

	c.mu.Lock()
	delete(c.inflight, host)
	if err == nil {
		c.lru.add(host, dnsCacheEntry{
			addresses: addrs,
			expiresAt: time.Now().Add(c.ttl).UnixNano(),
		})
		c.metrics.entries.Set(int64(c.lru.size()))
	}
	c.mu.Unlock()

	lookup.addresses = addrs
	lookup.err = err
	close(lookup.done)

	if err != nil {
		// Failures are never cached.
		return nil, err
	}
	return copyAddrs(addrs), nil
}

func (c *CachedResolver) String() string { return c.id }

// Size returns the current number of cached hostnames.
func (c *CachedResolver) Size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.size()
}

// Flush empties the cache.
func (c *CachedResolver) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lru.reset()
}

func copyAddrs(in []net.IP) []net.IP {
	out := make([]net.IP, len(in))
	copy(out, in)
	return out
}
