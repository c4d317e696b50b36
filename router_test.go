package proxycore

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
)

func buildTestRouter(t *testing.T) *Router {
	t.Helper()
	mode := NewClashModeSwitch()
	router := NewRouter("test-router", mode, "global-outbound", "direct")

	suffixRoute, err := NewDomainRoute(0, RuleDomainSuffix, []string{"example.com"}, "proxy-a", ActionRoute)
	require.NoError(t, err)
	keywordRoute, err := NewDomainRoute(1, RuleDomainKeyword, []string{"google"}, "proxy-b", ActionRoute)
	require.NoError(t, err)
	cidrRoute, err := NewIPCIDRRoute(2, []string{"10.0.0.0/8"}, "proxy-c", ActionRoute)
	require.NoError(t, err)
	final := NewFinalRoute(3, "direct", ActionDirect)

	router.Add(suffixRoute, keywordRoute, cidrRoute, final)
	return router
}

func TestRouterFirstMatchWins(t *testing.T) {
	router := buildTestRouter(t)

	sess := NewSession(NewDomainAddress("api.example.com", 443), nil, "in", TCP, false)
	outbound, err := router.Decide(sess, nil)
	require.NoError(t, err)
	require.Equal(t, "proxy-a", outbound)
}

func TestRouterFallsThroughToFinal(t *testing.T) {
	router := buildTestRouter(t)
	sess := NewSession(NewDomainAddress("unmatched.test", 443), nil, "in", TCP, false)
	outbound, err := router.Decide(sess, nil)
	require.NoError(t, err)
	require.Equal(t, DirectOutbound, outbound)
}

func TestRouterIPCIDR(t *testing.T) {
	router := buildTestRouter(t)
	sess := NewSession(NewIPAddress(net.ParseIP("10.1.2.3"), 80), nil, "in", TCP, false)
	outbound, err := router.Decide(sess, nil)
	require.NoError(t, err)
	require.Equal(t, "proxy-c", outbound)
}

func TestRouterClashModeGlobal(t *testing.T) {
	mode := NewClashModeSwitch()
	mode.Set(ClashModeGlobal)
	router := NewRouter("test-router", mode, "global-outbound", "direct")
	router.Add(NewFinalRoute(0, "direct", ActionDirect))

	sess := NewSession(NewDomainAddress("anything.example.com", 443), nil, "in", TCP, false)
	outbound, err := router.Decide(sess, nil)
	require.NoError(t, err)
	require.Equal(t, "global-outbound", outbound, "expected global-outbound regardless of rules")
}

func TestRouterClashModeDirect(t *testing.T) {
	mode := NewClashModeSwitch()
	mode.Set(ClashModeDirect)
	router := NewRouter("test-router", mode, "global-outbound", "direct")
	router.Add(NewFinalRoute(0, "some-other-outbound", ActionRoute))

	sess := NewSession(NewDomainAddress("anything.example.com", 443), nil, "in", TCP, false)
	outbound, err := router.Decide(sess, nil)
	require.NoError(t, err)
	require.Equal(t, DirectOutbound, outbound)
}

func TestRouterSniffRequired(t *testing.T) {
	mode := NewClashModeSwitch()
	router := NewRouter("test-router", mode, "global-outbound", "direct")
	sniffed, err := NewDomainRoute(0, RuleDomainSuffix, []string{"example.com"}, "proxy-a", ActionRoute)
	require.NoError(t, err)
	sniffed.WithSniff(true)
	router.Add(sniffed, NewFinalRoute(1, "direct", ActionDirect))

	sess := NewSession(NewDomainAddress("api.example.com", 443), nil, "in", TCP, true)
	_, err = router.Decide(sess, nil)
	require.Equal(t, ErrSniffRequired, err)

	sess.SetDetectedProtocol("tls")
	outbound, err := router.Decide(sess, nil)
	require.NoError(t, err)
	require.Equal(t, "proxy-a", outbound, "expected proxy-a after sniff")
}

func TestRouterReject(t *testing.T) {
	mode := NewClashModeSwitch()
	router := NewRouter("test-router", mode, "global-outbound", "direct")
	blocked, err := NewDomainRoute(0, RuleDomainKeyword, []string{"ads"}, "", ActionReject)
	require.NoError(t, err)
	router.Add(blocked, NewFinalRoute(1, "direct", ActionDirect))

	sess := NewSession(NewDomainAddress("ads.example.com", 443), nil, "in", TCP, false)
	outbound, err := router.Decide(sess, nil)
	require.NoError(t, err)
	require.Equal(t, RejectOutbound, outbound)
}
