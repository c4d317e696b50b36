package proxycore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBufferPoolGetPutReuse(t *testing.T) {
	p := NewBufferPoolSized(64, 128, 256, 4)

	buf := p.Get()
	require.Len(t, buf, 128, "expected default tier size 128")
	stats := p.Stats()
	require.EqualValues(t, 1, stats.Misses, "expected 1 miss on first Get")
	require.EqualValues(t, 0, stats.Hits, "expected 0 hits on first Get")

	p.Put(buf)
	p.Get()
	stats = p.Stats()
	require.EqualValues(t, 1, stats.Hits, "expected the second Get to hit the freed buffer")
}

func TestBufferPoolTierSelection(t *testing.T) {
	p := NewBufferPoolSized(64, 128, 256, 4)

	require.Len(t, p.GetSmall(), 64, "expected small tier size 64")
	require.Len(t, p.GetLarge(), 256, "expected large tier size 256")
}

func TestBufferPoolDropsOversizedCapacity(t *testing.T) {
	p := NewBufferPoolSized(64, 128, 256, 4)
	odd := make([]byte, 100)
	p.Put(odd) // no matching tier; should be silently dropped, not panic
	stats := p.Stats()
	require.EqualValues(t, 0, stats.Hits, "expected dropped buffer not to register as a hit")
}

func TestBufferPoolCapacityBound(t *testing.T) {
	p := NewBufferPoolSized(64, 128, 256, 1)
	a := p.Get()
	b := p.Get()
	p.Put(a)
	p.Put(b) // tier capacity is 1; second Put should be dropped, not block
}
