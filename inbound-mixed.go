package proxycore

import (
	"bufio"
	"context"
	"net"
)

// MixedInbound accepts both SOCKS5 and HTTP proxy clients on the same
// listening port, peeking the first byte to tell them apart: SOCKS5's
// handshake starts with version byte 0x05, anything else is treated as an
// HTTP request line. Generalizes Sniff's peek-and-replay approach
// (sniffer.go) from application-protocol detection on an outbound-bound
// stream to proxy-protocol detection on an inbound one.
type MixedInbound struct {
	id         string
	addr       string
	dispatcher *Dispatcher
	listener   net.Listener
	socks      *Socks5Inbound
	http       *HTTPInbound
}

var _ Inbound = (*MixedInbound)(nil)

// NewMixedInbound builds a combined SOCKS5+HTTP listener bound to addr.
func NewMixedInbound(id, addr string, dispatcher *Dispatcher, socksUsername, socksPassword string) (*MixedInbound, error) {
	socksInbound, err := NewSocks5Inbound(id+":socks5", addr, dispatcher, socksUsername, socksPassword)
	if err != nil {
		return nil, err
	}
	return &MixedInbound{
		id:         id,
		addr:       addr,
		dispatcher: dispatcher,
		socks:      socksInbound,
		http:       NewHTTPInbound(id+":http", addr, dispatcher),
	}, nil
}

func (m *MixedInbound) String() string { return m.id }

func (m *MixedInbound) Start() error {
	ln, err := net.Listen("tcp", m.addr)
	if err != nil {
		return &ConfigError{Path: m.id, Err: err}
	}
	m.listener = ln
	Log.WithField("id", m.id).WithField("addr", m.addr).Info("starting mixed inbound")
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go m.serve(conn)
	}
}

func (m *MixedInbound) serve(conn net.Conn) {
	br := bufio.NewReader(conn)
	first, err := br.Peek(1)
	if err != nil {
		conn.Close()
		return
	}

	peeked := &PeekedConn{Conn: conn, r: br}
	if first[0] == 0x05 {
		m.serveSocks5(peeked)
		return
	}
	m.serveHTTP(peeked)
}

// serveSocks5 runs a minimal inline SOCKS5 negotiation (no-auth only,
// CONNECT only) for the mixed listener's case, since txthinking/socks5's
// Server type owns its own accept loop and isn't built to take over a
// single already-accepted connection. Socks5Inbound uses that library's
// full server on its own dedicated port; this path only needs to get from
// "first byte is 0x05" to a target Address as fast as possible.
func (m *MixedInbound) serveSocks5(conn net.Conn) {
	defer func() {
		if r := recover(); r != nil {
			conn.Close()
		}
	}()

	hdr := make([]byte, 2)
	if _, err := readFull(conn, hdr); err != nil {
		conn.Close()
		return
	}
	nMethods := int(hdr[1])
	methods := make([]byte, nMethods)
	if _, err := readFull(conn, methods); err != nil {
		conn.Close()
		return
	}
	if _, err := conn.Write([]byte{0x05, 0x00}); err != nil {
		conn.Close()
		return
	}

	reqHdr := make([]byte, 4)
	if _, err := readFull(conn, reqHdr); err != nil {
		conn.Close()
		return
	}
	if reqHdr[1] != 0x01 { // only CONNECT
		conn.Write([]byte{0x05, 0x07, 0x00, 0x01, 0, 0, 0, 0, 0, 0})
		conn.Close()
		return
	}
	target, err := readSocks5Address(conn, reqHdr[3])
	if err != nil {
		conn.Close()
		return
	}
	if _, err := conn.Write([]byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0}); err != nil {
		conn.Close()
		return
	}

	sess := NewSession(target, conn.RemoteAddr(), m.id, TCP, false)
	if err := m.dispatcher.Dispatch(context.Background(), conn, sess); err != nil {
		Log.WithError(err).WithField("id", m.id).Debug("mixed inbound socks5 flow ended")
	}
}

func readFull(conn net.Conn, buf []byte) (int, error) {
	total := 0
	for total < len(buf) {
		n, err := conn.Read(buf[total:])
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

func readSocks5Address(conn net.Conn, atyp byte) (Address, error) {
	switch atyp {
	case 0x01: // IPv4
		b := make([]byte, 6)
		if _, err := readFull(conn, b); err != nil {
			return Address{}, err
		}
		port := uint16(b[4])<<8 | uint16(b[5])
		return NewIPAddress(net.IP(b[:4]), port), nil
	case 0x03: // domain
		l := make([]byte, 1)
		if _, err := readFull(conn, l); err != nil {
			return Address{}, err
		}
		b := make([]byte, int(l[0])+2)
		if _, err := readFull(conn, b); err != nil {
			return Address{}, err
		}
		port := uint16(b[len(b)-2])<<8 | uint16(b[len(b)-1])
		return NewDomainAddress(string(b[:len(b)-2]), port), nil
	case 0x04: // IPv6
		b := make([]byte, 18)
		if _, err := readFull(conn, b); err != nil {
			return Address{}, err
		}
		port := uint16(b[16])<<8 | uint16(b[17])
		return NewIPAddress(net.IP(b[:16]), port), nil
	default:
		return Address{}, &ConfigError{Path: "socks5", Err: errUnknownAddrType}
	}
}

type unknownAddrTypeError struct{}

func (*unknownAddrTypeError) Error() string { return "unknown socks5 address type" }

var errUnknownAddrType = &unknownAddrTypeError{}

func (m *MixedInbound) serveHTTP(conn net.Conn) {
	m.http.serve(conn)
}
