package proxycore

import (
	"errors"
	"expvar"
	"net"
)

// RejectOutbound is the sentinel outbound tag returned when a rule's
// action is reject.
const RejectOutbound = "reject"

// DirectOutbound is the sentinel outbound tag for the built-in direct
// connect path.
const DirectOutbound = "direct"

// ErrSniffRequired is returned by Decide when the first matching rule has
// sniff=true and the session hasn't been sniffed yet. The caller is
// expected to run the sniffer, call session.SetDetectedProtocol, and
// invoke Decide again.
var ErrSniffRequired = errors.New("route requires sniffing before it can be evaluated")

// Router holds the compiled, ordered rule list plus the process-wide
// ClashMode switch it consults before walking the rules. Grounded on the
// Router pattern found elsewhere in this family (ordered route list,
// first-match-wins, per-route hit counters), generalized from a DNS
// query/response Resolve to a Session route decision, and with
// ClashMode's short-circuit spliced in ahead of
// rule evaluation.
type Router struct {
	id      string
	routes  []*Route
	mode    *ClashModeSwitch
	global  string // outbound used when mode == Global
	def     string // outbound used when no rule matches
	metrics *routerMetrics

	geoip   *GeoIPDB
	geosite *GeositeDB
}

type routerMetrics struct {
	route     *expvar.Map
	available *expvar.Int
}

func newRouterMetrics(id string) *routerMetrics {
	return &routerMetrics{
		route:     getVarMap("router", id, "route"),
		available: getVarInt("router", id, "available"),
	}
}

// NewRouter returns a router with no rules. Add populates it. defaultOutbound
// is returned when no rule matches and no RuleFinal rule was added; it
// falls back to DirectOutbound if empty.
func NewRouter(id string, mode *ClashModeSwitch, globalOutbound, defaultOutbound string) *Router {
	if defaultOutbound == "" {
		defaultOutbound = DirectOutbound
	}
	return &Router{
		id:      id,
		mode:    mode,
		global:  globalOutbound,
		def:     defaultOutbound,
		metrics: newRouterMetrics(id),
	}
}

// SetDatabases attaches the GeoIP/Geosite lookups used by geoip/geosite
// rules. Both may be nil if the router has no such rules.
func (r *Router) SetDatabases(geoip *GeoIPDB, geosite *GeositeDB) {
	r.geoip = geoip
	r.geosite = geosite
}

// Add appends routes, evaluated in the order added. A RuleFinal route
// should be added last; any router.Add call after it is pointless since
// RuleFinal always matches.
func (r *Router) Add(routes ...*Route) {
	r.routes = append(r.routes, routes...)
	r.metrics.available.Add(int64(len(routes)))
}

// Decide implements the route(session) -> outbound_tag procedure: consult
// ClashMode, then walk rules in order, applying the first match's action.
// resolvedIP, when non-nil, is used by ip-cidr/geoip rules whose target is
// a domain that has already been resolved by the caller per the rule's
// resolve_strategy. Returns ErrSniffRequired if the first matching rule
// needs a sniff pass that hasn't happened yet; the caller should sniff
// and call Decide again.
func (r *Router) Decide(sess *Session, resolvedIP net.IP) (string, error) {
	switch r.mode.Get() {
	case ClashModeGlobal:
		return r.global, nil
	case ClashModeDirect:
		return DirectOutbound, nil
	}

	mc := matchContext{resolvedIP: resolvedIP, geoip: r.geoip, geosite: r.geosite}
	for _, rt := range r.routes {
		if !rt.match(sess, mc) {
			continue
		}
		if rt.needsSniff(sess) {
			return "", ErrSniffRequired
		}
		switch rt.action {
		case ActionReject:
			r.metrics.route.Add(RejectOutbound, 1)
			return RejectOutbound, nil
		case ActionDirect:
			r.metrics.route.Add(DirectOutbound, 1)
			return DirectOutbound, nil
		default:
			if rt.overrideAddr != nil || rt.overridePort != nil {
				sess.Override(rt.overrideAddr, rt.overridePort)
			}
			r.metrics.route.Add(rt.outbound, 1)
			return rt.outbound, nil
		}
	}
	r.metrics.route.Add(r.def, 1)
	return r.def, nil
}

// resolveStrategyFor scans the rule chain for the first ip-cidr/geoip rule
// carrying a resolve_strategy, reporting it so the caller can resolve
// sess's domain target before Decide runs. Reports ok=false if no rule in
// this router opted into resolving domains, in which case the caller
// should skip the lookup entirely rather than resolve and discard it.
func (r *Router) resolveStrategyFor(sess *Session) (ResolveStrategy, bool) {
	if !sess.Target.IsDomain() {
		return ResolveDefault, false
	}
	for _, rt := range r.routes {
		if rt.typ != RuleIPCIDR && rt.typ != RuleGeoIP {
			continue
		}
		if rt.resolveStrategy == ResolveDefault {
			continue
		}
		return rt.resolveStrategy, true
	}
	return ResolveDefault, false
}

func (r *Router) String() string { return r.id }
