package proxycore

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseAddressDomain(t *testing.T) {
	a, err := ParseAddress("Example.COM:443")
	require.NoError(t, err)
	require.True(t, a.IsDomain())
	require.False(t, a.IsIP())
	require.Equal(t, "example.com", a.Domain())
	require.EqualValues(t, 443, a.Port())
	require.Equal(t, "example.com:443", a.String())
}

func TestParseAddressIP(t *testing.T) {
	a, err := ParseAddress("192.168.1.1:8080")
	require.NoError(t, err)
	require.True(t, a.IsIP())
	require.False(t, a.IsDomain())
	require.True(t, a.IP().Equal(net.ParseIP("192.168.1.1")))
	require.Equal(t, "192.168.1.1", a.Host())
}

func TestParseAddressIPv6(t *testing.T) {
	a, err := ParseAddress("[::1]:53")
	require.NoError(t, err)
	require.True(t, a.IsIP())
	require.True(t, a.IP().Equal(net.ParseIP("::1")))
}

func TestParseAddressInvalid(t *testing.T) {
	_, err := ParseAddress("not-a-hostport")
	require.Error(t, err)
	_, err = ParseAddress("example.com:notaport")
	require.Error(t, err)
}

func TestNetworkString(t *testing.T) {
	require.Equal(t, "tcp", TCP.String())
	require.Equal(t, "udp", UDP.String())
}
