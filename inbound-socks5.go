package proxycore

import (
	"context"
	"net"

	"github.com/txthinking/socks5"
)

// Inbound is the accept-loop contract every listener in this package
// implements, mirroring the Start()+String() shape of Listener (listener.go)
// but generalized from "hand a *dns.Msg to a Resolver" to "hand a Session
// to the Dispatcher".
type Inbound interface {
	Start() error
	String() string
}

// Socks5Inbound accepts SOCKS5 client connections and dispatches each CONNECT
// (and UDP ASSOCIATE) request through a Dispatcher. Reuses
// github.com/txthinking/socks5's server-side primitives the way socks5.go
// already reuses the package client-side for outbound chaining.
type Socks5Inbound struct {
	id         string
	addr       string
	server     *socks5.Server
	dispatcher *Dispatcher
	username   string
	password   string
}

var _ Inbound = (*Socks5Inbound)(nil)

// NewSocks5Inbound builds a SOCKS5 listener bound to addr ("host:port"),
// dispatching accepted flows through dispatcher. Empty username disables
// authentication.
func NewSocks5Inbound(id, addr string, dispatcher *Dispatcher, username, password string) (*Socks5Inbound, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, &ConfigError{Path: id, Err: err}
	}
	srv, err := socks5.NewClassicServer(net.JoinHostPort(host, port), host, username, password, 0, 60)
	if err != nil {
		return nil, &ConfigError{Path: id, Err: err}
	}
	return &Socks5Inbound{id: id, addr: addr, server: srv, dispatcher: dispatcher, username: username, password: password}, nil
}

func (s *Socks5Inbound) String() string { return s.id }

// Start blocks running the SOCKS5 accept loop until the server errors out.
func (s *Socks5Inbound) Start() error {
	Log.WithField("id", s.id).WithField("addr", s.addr).Info("starting socks5 inbound")
	return s.server.ListenAndServe(&socks5Handler{id: s.id, dispatcher: s.dispatcher})
}

// socks5Handler bridges txthinking/socks5's Handler callbacks into
// Session construction and Dispatcher.Dispatch.
type socks5Handler struct {
	id         string
	dispatcher *Dispatcher
}

func (h *socks5Handler) TCPHandle(srv *socks5.Server, conn *net.TCPConn, req *socks5.Request) error {
	target, err := socks5RequestAddress(req)
	if err != nil {
		return err
	}
	a := socks5.NewReply(socks5.RepSuccess, socks5.ATYPIPv4, net.IPv4zero, []byte{0, 0})
	if _, err := a.WriteTo(conn); err != nil {
		return err
	}
	sess := NewSession(target, conn.RemoteAddr(), h.id, TCP, true)
	return h.dispatcher.Dispatch(context.Background(), conn, sess)
}

func (h *socks5Handler) UDPHandle(srv *socks5.Server, addr *net.UDPAddr, d *socks5.Datagram) error {
	target, err := socks5AddressFromDatagram(d)
	if err != nil {
		return err
	}
	sess := NewSession(target, addr, h.id, UDP, false)
	outboundTag, err := h.dispatcher.router.Decide(sess, nil)
	if err != nil || outboundTag == RejectOutbound {
		return err
	}
	ob, ok := h.dispatcher.outbounds.Get(outboundTag)
	if !ok {
		return &DialError{Outbound: outboundTag, Target: target.String(), Err: errOutboundNotFound}
	}
	pc, err := ob.DialUDP(context.Background(), target)
	if err != nil {
		return err
	}
	defer pc.Close()
	if _, err := pc.WriteTo(d.Data, &net.UDPAddr{IP: target.IP(), Port: int(target.Port())}); err != nil {
		return err
	}
	buf := make([]byte, 64*1024)
	n, _, err := pc.ReadFrom(buf)
	if err != nil {
		return err
	}
	reply := socks5.NewDatagram(d.Atyp, d.DstAddr, d.DstPort, buf[:n])
	_, err = srv.UDPConn.WriteToUDP(reply.Bytes(), addr)
	return err
}

func socks5RequestAddress(req *socks5.Request) (Address, error) {
	port := uint16(req.DstPort[0])<<8 | uint16(req.DstPort[1])
	switch req.Atyp {
	case socks5.ATYPDomain:
		return NewDomainAddress(string(req.DstAddr), port), nil
	default:
		return NewIPAddress(net.IP(req.DstAddr), port), nil
	}
}

func socks5AddressFromDatagram(d *socks5.Datagram) (Address, error) {
	port := uint16(d.DstPort[0])<<8 | uint16(d.DstPort[1])
	switch d.Atyp {
	case socks5.ATYPDomain:
		return NewDomainAddress(string(d.DstAddr), port), nil
	default:
		return NewIPAddress(net.IP(d.DstAddr), port), nil
	}
}
