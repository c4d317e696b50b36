package proxycore

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRouteDomainSuffix(t *testing.T) {
	r, err := NewDomainRoute(0, RuleDomainSuffix, []string{"example.com"}, "proxy-a", ActionRoute)
	require.NoError(t, err)
	sess := NewSession(NewDomainAddress("api.example.com", 443), nil, "in", TCP, false)
	require.True(t, r.match(sess, matchContext{}), "expected suffix match")
	sess2 := NewSession(NewDomainAddress("example.org", 443), nil, "in", TCP, false)
	require.False(t, r.match(sess2, matchContext{}), "expected no match for unrelated domain")
}

func TestRouteDomainKeyword(t *testing.T) {
	r, err := NewDomainRoute(0, RuleDomainKeyword, []string{"google"}, "proxy-b", ActionRoute)
	require.NoError(t, err)
	sess := NewSession(NewDomainAddress("www.google.com", 443), nil, "in", TCP, false)
	require.True(t, r.match(sess, matchContext{}), "expected keyword match")
}

func TestRouteIPCIDR(t *testing.T) {
	r, err := NewIPCIDRRoute(0, []string{"10.0.0.0/8"}, "proxy-c", ActionRoute)
	require.NoError(t, err)
	sess := NewSession(NewIPAddress(mustParseIP("10.1.2.3"), 80), nil, "in", TCP, false)
	require.True(t, r.match(sess, matchContext{}), "expected cidr match")
	sess2 := NewSession(NewIPAddress(mustParseIP("192.168.1.1"), 80), nil, "in", TCP, false)
	require.False(t, r.match(sess2, matchContext{}), "expected no match outside cidr")
}

func TestRoutePortRange(t *testing.T) {
	r, err := NewPortRoute(0, []string{"8000-8100"}, "proxy-d", ActionRoute)
	require.NoError(t, err)
	sess := NewSession(NewIPAddress(mustParseIP("1.1.1.1"), 8050), nil, "in", TCP, false)
	require.True(t, r.match(sess, matchContext{}), "expected port in range to match")
	sess2 := NewSession(NewIPAddress(mustParseIP("1.1.1.1"), 9000), nil, "in", TCP, false)
	require.False(t, r.match(sess2, matchContext{}), "expected port outside range not to match")
}

func TestRouteFinalAlwaysMatches(t *testing.T) {
	r := NewFinalRoute(0, "direct", ActionDirect)
	sess := NewSession(NewDomainAddress("anything.test", 1), nil, "in", TCP, false)
	require.True(t, r.match(sess, matchContext{}), "final route must always match")
}

func TestRouteIPCIDRWithResolvedDomain(t *testing.T) {
	r, err := NewIPCIDRRoute(0, []string{"10.0.0.0/8"}, "proxy-c", ActionRoute)
	require.NoError(t, err)
	r.WithResolveStrategy(ResolvePreferV4)
	sess := NewSession(NewDomainAddress("internal.example.com", 80), nil, "in", TCP, false)

	require.False(t, r.match(sess, matchContext{}), "a domain target with no resolved IP must not match an ip-cidr rule")
	require.True(t, r.match(sess, matchContext{resolvedIP: mustParseIP("10.1.2.3")}),
		"expected the rule to match once the domain has been resolved into the cidr range")
}

func TestPickByStrategyV4Only(t *testing.T) {
	addrs := []net.IP{mustParseIP("2001:db8::1"), mustParseIP("1.2.3.4")}
	ip, ok := pickByStrategy(addrs, ResolveV4Only)
	require.True(t, ok)
	require.Equal(t, "1.2.3.4", ip.String())

	v6Only := []net.IP{mustParseIP("2001:db8::1")}
	_, ok = pickByStrategy(v6Only, ResolveV4Only)
	require.False(t, ok, "expected v4-only to report no match when only an IPv6 address was resolved")
}

func TestPickByStrategyV6Only(t *testing.T) {
	addrs := []net.IP{mustParseIP("1.2.3.4"), mustParseIP("2001:db8::1")}
	ip, ok := pickByStrategy(addrs, ResolveV6Only)
	require.True(t, ok)
	require.Equal(t, "2001:db8::1", ip.String())
}

func TestPickByStrategyPreferFallsBack(t *testing.T) {
	v6Only := []net.IP{mustParseIP("2001:db8::1")}
	ip, ok := pickByStrategy(v6Only, ResolvePreferV4)
	require.True(t, ok)
	require.Equal(t, "2001:db8::1", ip.String(), "expected prefer-v4 to fall back to the only available IPv6 address")

	v4Only := []net.IP{mustParseIP("1.2.3.4")}
	ip, ok = pickByStrategy(v4Only, ResolvePreferV6)
	require.True(t, ok)
	require.Equal(t, "1.2.3.4", ip.String(), "expected prefer-v6 to fall back to the only available IPv4 address")
}

func mustParseIP(s string) net.IP {
	ip := net.ParseIP(s)
	if ip == nil {
		panic("bad ip literal in test: " + s)
	}
	return ip
}
