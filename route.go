package proxycore

import (
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"
)

// RuleType enumerates the predicate a route evaluates against a Session.
type RuleType int

const (
	RuleDomain RuleType = iota
	RuleDomainSuffix
	RuleDomainKeyword
	RuleDomainRegex
	RuleIPCIDR
	RuleGeoIP
	RuleGeosite
	RulePort
	RuleNetwork
	RuleInboundTag
	RuleFinal
)

// RuleAction is the outcome a matching route produces.
type RuleAction int

const (
	ActionRoute RuleAction = iota
	ActionReject
	ActionDirect
)

// ResolveStrategy controls how a domain is resolved before an ip-cidr/geoip
// rule can be evaluated against it.
type ResolveStrategy int

const (
	ResolveDefault ResolveStrategy = iota
	ResolvePreferV4
	ResolvePreferV6
	ResolveV4Only
	ResolveV6Only
)

// pickByStrategy selects one address out of a resolver's answer per s.
// v4-only/v6-only drop any address outside the requested family, reporting
// ok=false if nothing of that family was returned; prefer-v4/prefer-v6 fall
// back to the other family rather than failing.
func pickByStrategy(addrs []net.IP, s ResolveStrategy) (net.IP, bool) {
	var firstV4, firstV6 net.IP
	for _, ip := range addrs {
		if ip.To4() != nil {
			if firstV4 == nil {
				firstV4 = ip
			}
		} else if firstV6 == nil {
			firstV6 = ip
		}
	}
	switch s {
	case ResolveV4Only:
		return firstV4, firstV4 != nil
	case ResolveV6Only:
		return firstV6, firstV6 != nil
	case ResolvePreferV6:
		if firstV6 != nil {
			return firstV6, true
		}
		return firstV4, firstV4 != nil
	default: // ResolveDefault, ResolvePreferV4
		if firstV4 != nil {
			return firstV4, true
		}
		return firstV6, firstV6 != nil
	}
}

// Route is one compiled entry of a Router's rule list. Only the fields
// relevant to the rule's type are populated; the others are left zero.
// Grounded on a route struct elsewhere in this family (regex/CIDR/weekday
// predicate bundle evaluated in Add-order), re-targeted from DNS
// question/class/doh matching onto Session target/network/inbound-tag
// matching.
type Route struct {
	index int // original position, for String() and tie-break diagnostics

	typ      RuleType
	domains  []string       // RuleDomain: exact match set
	suffixes *DomainTrie[bool]
	keywords []string
	regexes  []*regexp.Regexp
	cidrs    *IpPrefixTrie[bool]
	country  string // RuleGeoIP
	category string // RuleGeosite
	ports    []portRange
	network  Network
	inbound  *regexp.Regexp

	action          RuleAction
	outbound        string
	overrideAddr    *Address
	overridePort    *uint16
	sniff           bool
	resolveStrategy ResolveStrategy
}

type portRange struct{ lo, hi uint16 }

// NewDomainRoute builds a domain/domain-suffix/domain-keyword/domain-regex
// rule. values are interpreted per typ.
func NewDomainRoute(index int, typ RuleType, values []string, outbound string, action RuleAction) (*Route, error) {
	r := &Route{index: index, typ: typ, outbound: outbound, action: action}
	switch typ {
	case RuleDomain:
		for _, v := range values {
			r.domains = append(r.domains, strings.ToLower(v))
		}
	case RuleDomainSuffix:
		r.suffixes = NewDomainTrie[bool]()
		for _, v := range values {
			r.suffixes.Insert(v, true)
		}
	case RuleDomainKeyword:
		for _, v := range values {
			r.keywords = append(r.keywords, strings.ToLower(v))
		}
	case RuleDomainRegex:
		for _, v := range values {
			re, err := regexp.Compile(v)
			if err != nil {
				return nil, fmt.Errorf("route %d: compile domain-regex %q: %w", index, v, err)
			}
			r.regexes = append(r.regexes, re)
		}
	default:
		return nil, fmt.Errorf("route %d: not a domain rule type", index)
	}
	return r, nil
}

// NewIPCIDRRoute builds an ip-cidr rule from a list of CIDR strings.
func NewIPCIDRRoute(index int, cidrs []string, outbound string, action RuleAction) (*Route, error) {
	trie := NewIpPrefixTrie[bool]()
	for _, c := range cidrs {
		if err := trie.Insert(c, true); err != nil {
			return nil, fmt.Errorf("route %d: %w", index, err)
		}
	}
	return &Route{index: index, typ: RuleIPCIDR, cidrs: trie, outbound: outbound, action: action}, nil
}

// NewGeoIPRoute builds a geoip rule comparing against a single ISO country.
func NewGeoIPRoute(index int, country, outbound string, action RuleAction) *Route {
	return &Route{index: index, typ: RuleGeoIP, country: strings.ToUpper(country), outbound: outbound, action: action}
}

// NewGeositeRoute builds a geosite rule comparing against a category tag.
func NewGeositeRoute(index int, category, outbound string, action RuleAction) *Route {
	return &Route{index: index, typ: RuleGeosite, category: category, outbound: outbound, action: action}
}

// NewPortRoute builds a port rule. Each spec is either "N" or "N-M".
func NewPortRoute(index int, specs []string, outbound string, action RuleAction) (*Route, error) {
	var ranges []portRange
	for _, spec := range specs {
		lo, hi, err := parsePortRange(spec)
		if err != nil {
			return nil, fmt.Errorf("route %d: %w", index, err)
		}
		ranges = append(ranges, portRange{lo: lo, hi: hi})
	}
	return &Route{index: index, typ: RulePort, ports: ranges, outbound: outbound, action: action}, nil
}

// NewNetworkRoute builds a network (tcp/udp) rule.
func NewNetworkRoute(index int, n Network, outbound string, action RuleAction) *Route {
	return &Route{index: index, typ: RuleNetwork, network: n, outbound: outbound, action: action}
}

// NewInboundTagRoute builds an inbound-tag rule.
func NewInboundTagRoute(index int, pattern, outbound string, action RuleAction) (*Route, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("route %d: compile inbound-tag %q: %w", index, pattern, err)
	}
	return &Route{index: index, typ: RuleInboundTag, inbound: re, outbound: outbound, action: action}, nil
}

// NewFinalRoute builds the catch-all rule; it must be last in a Router's list.
func NewFinalRoute(index int, outbound string, action RuleAction) *Route {
	return &Route{index: index, typ: RuleFinal, outbound: outbound, action: action}
}

// WithOverride attaches a target override to r, applied as a Session side
// effect when r matches.
func (r *Route) WithOverride(addr *Address, port *uint16) *Route {
	r.overrideAddr = addr
	r.overridePort = port
	return r
}

// WithSniff marks r as requiring sniffing before it can be evaluated, when
// no sniff result has been recorded on the session yet.
func (r *Route) WithSniff(sniff bool) *Route {
	r.sniff = sniff
	return r
}

// WithResolveStrategy sets how a domain target is resolved before an
// ip-cidr/geoip predicate on this route can run.
func (r *Route) WithResolveStrategy(s ResolveStrategy) *Route {
	r.resolveStrategy = s
	return r
}

// matchContext carries per-decision state the route predicates read:
// the resolved IP (when available) and the caller's classification.
type matchContext struct {
	resolvedIP net.IP
	geoip      *GeoIPDB
	geosite    *GeositeDB
}

// needsSniff reports whether r requires a sniff pass that hasn't happened
// yet for sess.
func (r *Route) needsSniff(sess *Session) bool {
	return r.sniff && sess.detected.Load() == nil
}

func (r *Route) match(sess *Session, mc matchContext) bool {
	switch r.typ {
	case RuleDomain:
		if !sess.Target.IsDomain() {
			return false
		}
		host := sess.Target.Domain()
		for _, d := range r.domains {
			if host == d {
				return true
			}
		}
		return false
	case RuleDomainSuffix:
		if !sess.Target.IsDomain() {
			return false
		}
		_, ok := r.suffixes.Find(sess.Target.Domain())
		return ok
	case RuleDomainKeyword:
		if !sess.Target.IsDomain() {
			return false
		}
		host := sess.Target.Domain()
		for _, k := range r.keywords {
			if strings.Contains(host, k) {
				return true
			}
		}
		return false
	case RuleDomainRegex:
		if !sess.Target.IsDomain() {
			return false
		}
		host := sess.Target.Domain()
		for _, re := range r.regexes {
			if re.MatchString(host) {
				return true
			}
		}
		return false
	case RuleIPCIDR:
		ip := targetIP(sess, mc)
		if ip == nil {
			return false
		}
		_, ok := r.cidrs.LongestPrefixMatch(ip)
		return ok
	case RuleGeoIP:
		if mc.geoip == nil {
			return false
		}
		ip := targetIP(sess, mc)
		if ip == nil {
			return false
		}
		return mc.geoip.Country(ip) == r.country
	case RuleGeosite:
		if mc.geosite == nil || !sess.Target.IsDomain() {
			return false
		}
		return mc.geosite.HasCategory(sess.Target.Domain(), r.category)
	case RulePort:
		port := sess.Target.Port()
		for _, pr := range r.ports {
			if port >= pr.lo && port <= pr.hi {
				return true
			}
		}
		return false
	case RuleNetwork:
		return sess.Network == r.network
	case RuleInboundTag:
		return r.inbound.MatchString(sess.InboundTag)
	case RuleFinal:
		return true
	default:
		return false
	}
}

// targetIP returns the IP a route should test: the session's literal IP
// target, or a previously-resolved address carried in mc when the target
// is a domain and the route opted into resolution.
func targetIP(sess *Session, mc matchContext) net.IP {
	if sess.Target.IsIP() {
		return sess.Target.IP()
	}
	return mc.resolvedIP
}

func (r *Route) String() string {
	if r.typ == RuleFinal {
		return "(final)"
	}
	return fmt.Sprintf("(type=%d,outbound=%s,index=%d)", r.typ, r.outbound, r.index)
}

func parsePortRange(spec string) (lo, hi uint16, err error) {
	parts := strings.SplitN(spec, "-", 2)
	l, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid port %q", spec)
	}
	if len(parts) == 1 {
		return uint16(l), uint16(l), nil
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, 0, fmt.Errorf("invalid port range %q", spec)
	}
	return uint16(l), uint16(h), nil
}
