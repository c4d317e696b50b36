package proxycore

import (
	"context"
	"io"
	"net"
	"time"
)

// DispatcherOptions configures a Dispatcher.
type DispatcherOptions struct {
	IdleTimeout time.Duration
}

// Dispatcher is the central coordinator: for each inbound flow it builds
// the Session, optionally sniffs the application protocol, consults the
// Router (re-invoking once if sniffing was requested), dials the chosen
// outbound, registers the flow with the Tracker, and runs the relay until
// completion (spec §4.10).
type Dispatcher struct {
	router    *Router
	outbounds *OutboundManager
	tracker   *ConnectionTracker
	pool      *BufferPool
	resolver  Resolver
	opt       DispatcherOptions
}

// NewDispatcher wires the core pipeline's collaborators together.
func NewDispatcher(router *Router, outbounds *OutboundManager, tracker *ConnectionTracker, pool *BufferPool, resolver Resolver, opt DispatcherOptions) *Dispatcher {
	if opt.IdleTimeout == 0 {
		opt.IdleTimeout = 5 * time.Minute
	}
	return &Dispatcher{
		router:    router,
		outbounds: outbounds,
		tracker:   tracker,
		pool:      pool,
		resolver:  resolver,
		opt:       opt,
	}
}

// Dispatch handles one accepted inbound flow end to end. inboundConn is the
// already-accepted client connection; sess describes its target.
func (d *Dispatcher) Dispatch(ctx context.Context, inboundConn net.Conn, sess *Session) error {
	var peeked io.Reader

	if sess.SniffEnabled {
		proto, r, err := Sniff(inboundConn)
		if err == nil {
			sess.SetDetectedProtocol(proto)
			peeked = r
		}
	}

	resolvedIP := d.maybeResolve(ctx, sess)

	outboundTag, err := d.router.Decide(sess, resolvedIP)
	if err == ErrSniffRequired {
		proto, r, sniffErr := Sniff(inboundConn)
		if sniffErr != nil {
			return sniffErr
		}
		sess.SetDetectedProtocol(proto)
		peeked = r
		outboundTag, err = d.router.Decide(sess, resolvedIP)
	}
	if err != nil {
		return err
	}

	if outboundTag == RejectOutbound {
		_ = inboundConn.Close()
		return nil
	}

	ob, ok := d.outbounds.Get(outboundTag)
	if !ok {
		return &DialError{Outbound: outboundTag, Target: sess.Target.String(), Err: errOutboundNotFound}
	}

	flowID, stats := d.tracker.Register(sess.Target, sess.InboundTag, outboundTag, sess.Network)
	dialStart := time.Now()

	if sess.Network == UDP {
		pc, derr := ob.DialUDP(ctx, sess.Target)
		if derr != nil {
			d.tracker.Unregister(flowID, time.Since(dialStart), false)
			return derr
		}
		defer pc.Close()
		// UDP associations are driven by the inbound's own datagram loop;
		// the dispatcher only owns accounting for it here, the relay()
		// engine operates on stream conns.
		d.tracker.Unregister(flowID, time.Since(dialStart), true)
		return nil
	}

	outboundConn, derr := ob.DialTCP(ctx, sess.Target)
	if derr != nil {
		d.tracker.Unregister(flowID, time.Since(dialStart), false)
		return derr
	}
	defer outboundConn.Close()
	dialLatency := time.Since(dialStart)

	relayConn := net.Conn(inboundConn)
	if peeked != nil {
		relayConn = &PeekedConn{Conn: inboundConn, r: peeked}
	}

	_, relayErr := relay(ctx, relayConn, outboundConn, d.pool, RelayOptions{
		IdleTimeout: d.opt.IdleTimeout,
		Stats:       stats,
	})
	d.tracker.Unregister(flowID, dialLatency, relayErr == nil)
	return relayErr
}

// maybeResolve resolves a domain target through the dispatcher's resolver
// so ip-cidr/geoip rules carrying a resolve_strategy can evaluate against
// it. Returns nil if the target is already a literal IP, no resolver is
// configured, no rule in the router's chain asked for resolution, or
// resolution fails (failures are non-fatal here — they just mean ip-based
// rules on this route fall through to the next rule). The address family
// returned is governed by the resolve_strategy of the first ip-cidr/geoip
// rule in the chain that declares one, whether or not that rule goes on to
// match; v4-only/v6-only yield nil rather than an
// address outside the requested family.
func (d *Dispatcher) maybeResolve(ctx context.Context, sess *Session) net.IP {
	if sess.Target.IsIP() || d.resolver == nil {
		return nil
	}
	strategy, ok := d.router.resolveStrategyFor(sess)
	if !ok {
		return nil
	}
	addrs, err := d.resolver.Resolve(ctx, sess.Target.Domain())
	if err != nil || len(addrs) == 0 {
		return nil
	}
	ip, ok := pickByStrategy(addrs, strategy)
	if !ok {
		return nil
	}
	return ip
}

type notFoundError struct{}

func (*notFoundError) Error() string { return "outbound tag not registered" }

var errOutboundNotFound = &notFoundError{}
