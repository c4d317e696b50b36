package proxycore

import (
	"context"
	"net"
)

// DirectOutboundImpl connects straight to the session's target, optionally
// through an upstream SOCKS5 proxy for chaining. Adapted from
// Socks5Dialer (socks5.go): when no upstream proxy is configured this
// degrades to a plain net.Dialer, otherwise it reuses that dialer's lazy
// local-resolution-before-proxying trick.
type DirectOutboundImpl struct {
	tag      string
	dialer   net.Dialer
	upstream *Socks5Dialer // nil when not proxy-chained
}

var _ Outbound = (*DirectOutboundImpl)(nil)

// NewDirectOutbound returns a direct outbound, optionally chained through
// upstream (nil for a genuinely direct connect).
func NewDirectOutbound(tag string, localAddr net.IP, upstream *Socks5Dialer) *DirectOutboundImpl {
	d := &DirectOutboundImpl{tag: tag, upstream: upstream}
	if localAddr != nil {
		d.dialer.LocalAddr = &net.TCPAddr{IP: localAddr}
	}
	return d
}

func (d *DirectOutboundImpl) Tag() string { return d.tag }

func (d *DirectOutboundImpl) DialTCP(ctx context.Context, target Address) (net.Conn, error) {
	if d.upstream != nil {
		conn, err := d.upstream.Dial("tcp", target.String())
		if err != nil {
			return nil, &DialError{Outbound: d.tag, Target: target.String(), Err: err}
		}
		return conn, nil
	}
	conn, err := d.dialer.DialContext(ctx, "tcp", target.String())
	if err != nil {
		return nil, &DialError{Outbound: d.tag, Target: target.String(), Err: err}
	}
	return conn, nil
}

func (d *DirectOutboundImpl) DialUDP(ctx context.Context, target Address) (net.PacketConn, error) {
	var laddr *net.UDPAddr
	if d.dialer.LocalAddr != nil {
		laddr = &net.UDPAddr{IP: d.dialer.LocalAddr.(*net.TCPAddr).IP}
	}
	pc, err := net.ListenUDP("udp", laddr)
	if err != nil {
		return nil, &DialError{Outbound: d.tag, Target: target.String(), Err: err}
	}
	return pc, nil
}
