package proxycore

import (
	"context"
	"net"

	"github.com/shadowsocks/go-shadowsocks2/core"
)

// ShadowsocksInbound accepts Shadowsocks AEAD-encrypted streams, decodes
// the SOCKS5-style target header prefixing each connection, and dispatches
// the decrypted stream through a Dispatcher. Mirrors ShadowsocksOutbound's
// cipher usage in the opposite direction: core.Cipher.StreamConn wraps the
// raw accepted conn instead of a dialed one.
type ShadowsocksInbound struct {
	id         string
	addr       string
	cipher     core.Cipher
	dispatcher *Dispatcher
	listener   net.Listener
}

var _ Inbound = (*ShadowsocksInbound)(nil)

// NewShadowsocksInbound builds a Shadowsocks listener bound to addr using
// the named AEAD method and password.
func NewShadowsocksInbound(id, addr, method, password string, dispatcher *Dispatcher) (*ShadowsocksInbound, error) {
	cipher, err := core.PickCipher(method, nil, password)
	if err != nil {
		return nil, &ConfigError{Path: id, Err: err}
	}
	return &ShadowsocksInbound{id: id, addr: addr, cipher: cipher, dispatcher: dispatcher}, nil
}

func (s *ShadowsocksInbound) String() string { return s.id }

func (s *ShadowsocksInbound) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return &ConfigError{Path: s.id, Err: err}
	}
	s.listener = ln
	Log.WithField("id", s.id).WithField("addr", s.addr).Info("starting shadowsocks inbound")
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go s.serve(conn)
	}
}

func (s *ShadowsocksInbound) serve(raw net.Conn) {
	conn := s.cipher.StreamConn(raw)
	target, err := readSocks5TargetHeader(conn)
	if err != nil {
		conn.Close()
		return
	}
	sess := NewSession(target, raw.RemoteAddr(), s.id, TCP, false)
	if err := s.dispatcher.Dispatch(context.Background(), conn, sess); err != nil {
		Log.WithError(err).WithField("id", s.id).Debug("shadowsocks inbound flow ended")
	}
}

// readSocks5TargetHeader decodes the atyp+addr+port header
// shadowsocksTargetHeader writes, the inbound counterpart used by the
// Shadowsocks inbound.
func readSocks5TargetHeader(conn net.Conn) (Address, error) {
	atypBuf := make([]byte, 1)
	if _, err := readFull(conn, atypBuf); err != nil {
		return Address{}, err
	}
	return readSocks5Address(conn, atypBuf[0])
}
