package proxycore

import (
	"context"
	"crypto/sha256"
	"crypto/tls"
	"encoding/hex"
	"net"
)

// TrojanOutbound dials over TLS and prefixes the stream with Trojan's
// plaintext-looking handshake: a 56-byte hex-SHA224(password), CRLF, the
// command byte 0x01 (CONNECT), a SOCKS5-style address header, CRLF, then
// the payload. The address header reuses ShadowsocksOutbound's
// target-header encoding, since Trojan uses the identical SOCKS5 address
// format.
type TrojanOutbound struct {
	tag        string
	server     string
	passwordID string // hex(sha224(password)) — Trojan actually specifies SHA224 but publishes it as a 56-char hex digest; kept as a precomputed string to avoid recomputing per dial
	tlsConfig  *tls.Config
	dialer     net.Dialer
}

var _ Outbound = (*TrojanOutbound)(nil)

// NewTrojanOutbound builds a Trojan outbound dialing server with password,
// verifying the peer certificate against serverName (empty disables SNI
// override).
func NewTrojanOutbound(tag, server, password, serverName string, insecureSkipVerify bool) *TrojanOutbound {
	sum := sha256.Sum224([]byte(password))
	return &TrojanOutbound{
		tag:        tag,
		server:     server,
		passwordID: hex.EncodeToString(sum[:]),
		tlsConfig: &tls.Config{
			ServerName:         serverName,
			InsecureSkipVerify: insecureSkipVerify,
			NextProtos:         []string{"http/1.1"},
		},
	}
}

func (t *TrojanOutbound) Tag() string { return t.tag }

func (t *TrojanOutbound) DialTCP(ctx context.Context, target Address) (net.Conn, error) {
	raw, err := t.dialer.DialContext(ctx, "tcp", t.server)
	if err != nil {
		return nil, &DialError{Outbound: t.tag, Target: target.String(), Err: err}
	}
	conn := tls.Client(raw, t.tlsConfig)
	if err := conn.HandshakeContext(ctx); err != nil {
		raw.Close()
		return nil, &DialError{Outbound: t.tag, Target: target.String(), Err: err}
	}

	header := make([]byte, 0, 64)
	header = append(header, t.passwordID...)
	header = append(header, '\r', '\n')
	header = append(header, 0x01) // CONNECT command
	header = append(header, shadowsocksTargetHeader(target)...)
	header = append(header, '\r', '\n')
	if _, err := conn.Write(header); err != nil {
		conn.Close()
		return nil, &DialError{Outbound: t.tag, Target: target.String(), Err: err}
	}
	return conn, nil
}

func (t *TrojanOutbound) DialUDP(ctx context.Context, target Address) (net.PacketConn, error) {
	// Trojan UDP associates run over the same TLS stream framed with a
	// length-prefixed SOCKS5 header per packet; the Dispatcher's stream
	// relay doesn't carry PacketConn semantics for it, so UDP outbounds
	// that need it implement their own datagram loop against DialTCP.
	return nil, &DialError{Outbound: t.tag, Target: target.String(), Err: errUDPUnsupported}
}

type udpUnsupportedError struct{}

func (*udpUnsupportedError) Error() string { return "outbound does not support UDP associate" }

var errUDPUnsupported = &udpUnsupportedError{}
