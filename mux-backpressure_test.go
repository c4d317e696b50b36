package proxycore

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMuxBackpressurePausesAtWindow(t *testing.T) {
	bp := NewMuxBackpressure(1024)
	bp.OnDataReceived(512)
	require.False(t, bp.IsPaused(), "should not be paused below window")
	bp.OnDataReceived(512)
	require.True(t, bp.IsPaused(), "should be paused at window")
	bp.OnDataConsumed(1)
	require.False(t, bp.IsPaused(), "should resume once below window")
}

func TestMuxBackpressureSaturatesAtZero(t *testing.T) {
	bp := NewMuxBackpressure(100)
	bp.OnDataConsumed(50)
	require.EqualValues(t, 0, bp.InFlight(), "expected in-flight to saturate at 0")
}

func TestMuxBackpressureOverflowThenRecover(t *testing.T) {
	bp := NewMuxBackpressure(100)
	bp.OnDataReceived(60)
	bp.OnDataReceived(60)
	require.True(t, bp.IsPaused(), "expected paused once in-flight exceeds window")
	bp.OnDataConsumed(10)
	require.True(t, bp.IsPaused(), "still above window, should remain paused")
	bp.OnDataConsumed(50)
	require.False(t, bp.IsPaused(), "expected resumed once below window")
}
