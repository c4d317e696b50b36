package proxycore

import (
	"context"
	"crypto/tls"
	"net"
	"sync"

	quic "github.com/quic-go/quic-go"
)

// quicManagerState is the per-endpoint lifecycle state the manager cycles
// through (spec §4.9).
type quicManagerState int

const (
	quicIdle quicManagerState = iota
	quicDialing
	quicLiveUnauthenticated
	quicLiveAuthenticated
)

// HysteriaAuthFunc performs the Hysteria2 auth handshake (POST /auth,
// success code 233) over a freshly dialed connection. Supplied by the
// outbound so the manager itself stays transport-only.
type HysteriaAuthFunc func(ctx context.Context, conn *quic.Conn) error

// QUICManager maintains at most one live QUIC connection per remote
// endpoint and amortises the handshake plus Hysteria2 auth across every
// proxy flow that dials through it. Grounded on the lazy-dial-and-cache
// connection wrapper pattern seen in doqclient.go: lazy dial via quic.Transport.Dial/
// DialEarly for 0-RTT, OpenStream-or-restart-on-failure, and a mutex
// guarding the single cached *quic.Conn — generalized here from "reopen a
// stream for one DNS query" into the fuller Idle/Dialing/
// LiveUnauthenticated/LiveAuthenticated state machine an authenticated
// transport like Hysteria2 needs.
type QUICManager struct {
	endpoint  string
	tlsConfig *tls.Config
	config    *quic.Config
	use0RTT   bool
	auth      HysteriaAuthFunc

	mu       sync.Mutex
	state    quicManagerState
	conn     *quic.Conn
	transport *quic.Transport
	udpConn  *net.UDPConn
	dialFunc func(ctx context.Context, addr net.Addr, tlsConf *tls.Config, conf *quic.Config) (*quic.Conn, error)
}

// NewQUICManager opens the local UDP socket a manager dials from and
// returns it in Idle state.
func NewQUICManager(lAddr net.IP, endpoint string, tlsConfig *tls.Config, config *quic.Config, use0RTT bool, auth HysteriaAuthFunc) (*QUICManager, error) {
	udpConn, err := net.ListenUDP("udp", &net.UDPAddr{IP: lAddr, Port: 0})
	if err != nil {
		return nil, &DialError{Outbound: "hysteria2", Target: endpoint, Err: err}
	}
	transport := &quic.Transport{Conn: udpConn}
	dialFunc := transport.Dial
	if use0RTT {
		dialFunc = transport.DialEarly
	}
	return &QUICManager{
		endpoint:  endpoint,
		tlsConfig: tlsConfig,
		config:    config,
		use0RTT:   use0RTT,
		auth:      auth,
		state:     quicIdle,
		transport: transport,
		udpConn:   udpConn,
		dialFunc:  dialFunc,
	}, nil
}

// GetConnection returns the manager's live connection, dialing as needed;
// it never runs HysteriaAuthFunc itself. isNew reports whether the
// connection has not been marked authenticated yet, so the caller must
// still authenticate it and call MarkAuthenticated before use.
func (m *QUICManager) GetConnection(ctx context.Context) (conn *quic.Conn, isNew bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != quicIdle && m.conn != nil {
		if reason := m.conn.Context().Err(); reason != nil {
			m.state = quicIdle
			m.conn = nil
		}
	}

	switch m.state {
	case quicLiveAuthenticated:
		return m.conn, false, nil
	case quicLiveUnauthenticated:
		return m.conn, true, nil
	}

	m.state = quicDialing
	rAddr, err := net.ResolveUDPAddr("udp", m.endpoint)
	if err != nil {
		m.state = quicIdle
		return nil, false, &DialError{Outbound: "hysteria2", Target: m.endpoint, Err: err}
	}
	conn, err = m.dialFunc(ctx, rAddr, m.tlsConfig, m.config)
	if err != nil {
		m.state = quicIdle
		return nil, false, &DialError{Outbound: "hysteria2", Target: m.endpoint, Err: err}
	}
	m.conn = conn
	m.state = quicLiveUnauthenticated
	return conn, true, nil
}

// MarkAuthenticated transitions a connection obtained via GetConnection
// from LiveUnauthenticated to LiveAuthenticated after the caller's auth
// handshake succeeds. A no-op if conn is no longer the manager's current
// connection (it raced a reconnect).
func (m *QUICManager) MarkAuthenticated(conn *quic.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn == conn && m.state == quicLiveUnauthenticated {
		m.state = quicLiveAuthenticated
	}
}

// OpenStream opens a new stream on the manager's current connection,
// restarting the connection once and retrying if the first attempt fails
// — mirroring a getStream/restart-on-failure pair.
func (m *QUICManager) OpenStream(ctx context.Context) (*quic.Stream, error) {
	conn, _, err := m.GetConnection(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStream()
	if err == nil {
		return stream, nil
	}

	m.mu.Lock()
	m.state = quicIdle
	m.conn = nil
	m.mu.Unlock()

	conn, _, err = m.GetConnection(ctx)
	if err != nil {
		return nil, err
	}
	return conn.OpenStream()
}

// Rebind migrates the manager onto a new local UDP socket without
// disturbing cached connection state, used after a detected network
// interface change.
func (m *QUICManager) Rebind(newSocket *net.UDPConn) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.udpConn = newSocket
	m.transport = &quic.Transport{Conn: newSocket}
	if m.use0RTT {
		m.dialFunc = m.transport.DialEarly
	} else {
		m.dialFunc = m.transport.Dial
	}
}

// Close tears down the manager's current connection and local socket.
func (m *QUICManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.conn != nil {
		_ = m.conn.CloseWithError(0, "")
	}
	return m.udpConn.Close()
}
