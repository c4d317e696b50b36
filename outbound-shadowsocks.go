package proxycore

import (
	"context"
	"net"

	"github.com/shadowsocks/go-shadowsocks2/core"
)

// ShadowsocksOutbound wraps a plain TCP/UDP dial with the Shadowsocks AEAD
// stream/packet cipher. Structured the same way DirectOutboundImpl dials
// and wraps a net.Conn, but with core.Cipher.StreamConn/PacketConn
// layered on top of the raw socket.
type ShadowsocksOutbound struct {
	tag    string
	server string
	cipher core.Cipher
	dialer net.Dialer
}

var _ Outbound = (*ShadowsocksOutbound)(nil)

// NewShadowsocksOutbound builds a Shadowsocks outbound dialing server
// using the named AEAD method and password.
func NewShadowsocksOutbound(tag, server, method, password string) (*ShadowsocksOutbound, error) {
	cipher, err := core.PickCipher(method, nil, password)
	if err != nil {
		return nil, &ConfigError{Path: tag, Err: err}
	}
	return &ShadowsocksOutbound{tag: tag, server: server, cipher: cipher}, nil
}

func (s *ShadowsocksOutbound) Tag() string { return s.tag }

func (s *ShadowsocksOutbound) DialTCP(ctx context.Context, target Address) (net.Conn, error) {
	conn, err := s.dialer.DialContext(ctx, "tcp", s.server)
	if err != nil {
		return nil, &DialError{Outbound: s.tag, Target: target.String(), Err: err}
	}
	conn = s.cipher.StreamConn(conn)
	if _, err := conn.Write(shadowsocksTargetHeader(target)); err != nil {
		conn.Close()
		return nil, &DialError{Outbound: s.tag, Target: target.String(), Err: err}
	}
	return conn, nil
}

func (s *ShadowsocksOutbound) DialUDP(ctx context.Context, target Address) (net.PacketConn, error) {
	pc, err := net.ListenPacket("udp", "")
	if err != nil {
		return nil, &DialError{Outbound: s.tag, Target: target.String(), Err: err}
	}
	return s.cipher.PacketConn(pc), nil
}

// shadowsocksTargetHeader builds the SOCKS5-style address header
// Shadowsocks prefixes every stream/packet with: atyp + addr + port.
func shadowsocksTargetHeader(target Address) []byte {
	port := target.Port()
	if target.IsDomain() {
		d := target.Domain()
		b := make([]byte, 0, 4+len(d))
		b = append(b, 0x03, byte(len(d)))
		b = append(b, d...)
		b = append(b, byte(port>>8), byte(port))
		return b
	}
	ip := target.IP()
	if v4 := ip.To4(); v4 != nil {
		b := make([]byte, 0, 7)
		b = append(b, 0x01)
		b = append(b, v4...)
		b = append(b, byte(port>>8), byte(port))
		return b
	}
	b := make([]byte, 0, 19)
	b = append(b, 0x04)
	b = append(b, ip.To16()...)
	b = append(b, byte(port>>8), byte(port))
	return b
}
