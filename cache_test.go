package proxycore

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type countingResolver struct {
	id    string
	calls int32
	fn    func(host string) ([]net.IP, error)
}

func (c *countingResolver) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	atomic.AddInt32(&c.calls, 1)
	return c.fn(host)
}

func (c *countingResolver) String() string { return c.id }

func TestCachedResolverHitsCache(t *testing.T) {
	upstream := &countingResolver{id: "upstream", fn: func(host string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("127.0.0.1")}, nil
	}}
	c := NewCachedResolver("cache", upstream, CachedResolverOptions{TTL: time.Minute})

	_, err := c.Resolve(context.Background(), "test.com")
	require.NoError(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&upstream.calls))

	_, err = c.Resolve(context.Background(), "test.com")
	require.NoError(t, err)
	require.EqualValues(t, 1, atomic.LoadInt32(&upstream.calls), "expected cache hit")

	_, err = c.Resolve(context.Background(), "other.com")
	require.NoError(t, err)
	require.EqualValues(t, 2, atomic.LoadInt32(&upstream.calls), "expected a second upstream call for a different host")
}

func TestCachedResolverExpiry(t *testing.T) {
	upstream := &countingResolver{id: "upstream", fn: func(host string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("127.0.0.1")}, nil
	}}
	c := NewCachedResolver("cache", upstream, CachedResolverOptions{TTL: 10 * time.Millisecond})

	_, err := c.Resolve(context.Background(), "test.com")
	require.NoError(t, err)
	time.Sleep(30 * time.Millisecond)
	_, err = c.Resolve(context.Background(), "test.com")
	require.NoError(t, err)
	require.EqualValues(t, 2, atomic.LoadInt32(&upstream.calls), "expected expired entry to be re-fetched")
}

func TestCachedResolverFailureNotCached(t *testing.T) {
	upstream := &countingResolver{id: "upstream", fn: func(host string) ([]net.IP, error) {
		return nil, errors.New("lookup failed")
	}}
	c := NewCachedResolver("cache", upstream, CachedResolverOptions{TTL: time.Minute})

	_, err := c.Resolve(context.Background(), "test.com")
	require.Error(t, err)
	_, err = c.Resolve(context.Background(), "test.com")
	require.Error(t, err)
	require.EqualValues(t, 2, atomic.LoadInt32(&upstream.calls), "expected failures to never be cached")
}

func TestCachedResolverLiteralIPBypassesUpstream(t *testing.T) {
	upstream := &countingResolver{id: "upstream", fn: func(host string) ([]net.IP, error) {
		t.Fatal("upstream should not be called for a literal IP")
		return nil, nil
	}}
	c := NewCachedResolver("cache", upstream, CachedResolverOptions{})

	addrs, err := c.Resolve(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	require.Len(t, addrs, 1)
	require.True(t, addrs[0].Equal(net.ParseIP("10.0.0.1")))
}

func TestCachedResolverFlush(t *testing.T) {
	upstream := &countingResolver{id: "upstream", fn: func(host string) ([]net.IP, error) {
		return []net.IP{net.ParseIP("127.0.0.1")}, nil
	}}
	c := NewCachedResolver("cache", upstream, CachedResolverOptions{TTL: time.Minute})
	c.Resolve(context.Background(), "test.com")
	require.Equal(t, 1, c.Size())
	c.Flush()
	require.Equal(t, 0, c.Size())
}
