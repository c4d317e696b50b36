package proxycore

import (
	"net"
	"sync/atomic"
)

// Session is the per-flow descriptor handed from an Inbound to the
// Dispatcher. It is immutable after construction except for
// DetectedProtocol, which the sniffer is allowed to fill exactly once
// before the Router is (re-)invoked on the sniffed result, and Target,
// which Override rewrites when a matching rule carries an override.
type Session struct {
	Target      Address
	Source      net.Addr
	InboundTag  string
	Network     Network
	SniffEnabled bool

	detected atomic.Pointer[string]
}

// NewSession constructs a Session the moment a flow's target is known.
func NewSession(target Address, source net.Addr, inboundTag string, network Network, sniffEnabled bool) *Session {
	return &Session{
		Target:       target,
		Source:       source,
		InboundTag:   inboundTag,
		Network:      network,
		SniffEnabled: sniffEnabled,
	}
}

// DetectedProtocol returns the sniffed application protocol, or "" if the
// sniffer hasn't run (or found nothing) yet.
func (s *Session) DetectedProtocol() string {
	if p := s.detected.Load(); p != nil {
		return *p
	}
	return ""
}

// SetDetectedProtocol fills DetectedProtocol exactly once. Subsequent calls
// are no-ops so a second sniff pass can never overwrite the first result.
func (s *Session) SetDetectedProtocol(proto string) {
	s.detected.CompareAndSwap(nil, &proto)
}

// SourceIP extracts the source IP from Source, or nil if unset/non-IP.
func (s *Session) SourceIP() net.IP {
	if s.Source == nil {
		return nil
	}
	switch a := s.Source.(type) {
	case *net.TCPAddr:
		return a.IP
	case *net.UDPAddr:
		return a.IP
	}
	host, _, err := net.SplitHostPort(s.Source.String())
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}

// Override applies a rule's override_address/override_port onto the
// session's target, the one mutation the router is allowed to make.
func (s *Session) Override(addr *Address, port *uint16) {
	if addr != nil {
		s.Target = *addr
	}
	if port != nil {
		if s.Target.IsIP() {
			s.Target = NewIPAddress(s.Target.IP(), *port)
		} else {
			s.Target = NewDomainAddress(s.Target.Domain(), *port)
		}
	}
}
