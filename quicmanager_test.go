package proxycore

import (
	"context"
	"crypto/tls"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// TestQUICManagerDialFailure exercises the Idle -> Dialing -> Idle path:
// nothing is listening on the loopback port, so GetConnection must surface
// a DialError and leave the manager ready to retry rather than wedged.
func TestQUICManagerDialFailure(t *testing.T) {
	mgr, err := NewQUICManager(net.IPv4zero, "127.0.0.1:1", &tls.Config{InsecureSkipVerify: true}, nil, false, nil)
	require.NoError(t, err)
	defer mgr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	_, _, err = mgr.GetConnection(ctx)
	require.Error(t, err, "expected dial failure against an unreachable endpoint")
	require.IsType(t, &DialError{}, err)

	mgr.mu.Lock()
	state := mgr.state
	mgr.mu.Unlock()
	require.Equal(t, quicIdle, state, "expected manager to reset to Idle after a failed dial")
}
