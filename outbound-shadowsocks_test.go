package proxycore

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestShadowsocksOutboundRoundTrip(t *testing.T) {
	const method = "AES-128-GCM"
	const password = "test-password"

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	decoded := make(chan Address, 1)
	go func() {
		raw, err := ln.Accept()
		if err != nil {
			return
		}
		sinb, err := NewShadowsocksInbound("ss-in", ln.Addr().String(), method, password, nil)
		if err != nil {
			return
		}
		conn := sinb.cipher.StreamConn(raw)
		target, err := readSocks5TargetHeader(conn)
		if err != nil {
			return
		}
		decoded <- target
		io.Copy(conn, conn)
	}()

	ob, err := NewShadowsocksOutbound("ss-out", ln.Addr().String(), method, password)
	require.NoError(t, err)

	target := NewDomainAddress("example.com", 443)
	conn, err := ob.DialTCP(context.Background(), target)
	require.NoError(t, err)
	defer conn.Close()

	select {
	case got := <-decoded:
		require.Equal(t, target.String(), got.String())
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to decode target header")
	}

	conn.Write([]byte("ping"))
	buf := make([]byte, 4)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	require.Equal(t, "ping", string(buf))
}

func TestShadowsocksTargetHeaderDomainEncoding(t *testing.T) {
	target := NewDomainAddress("example.com", 8080)
	hdr := shadowsocksTargetHeader(target)
	require.EqualValues(t, 0x03, hdr[0], "expected atyp 0x03 for domain")
	require.EqualValues(t, len("example.com"), hdr[1])
}

func TestShadowsocksTargetHeaderIPv4Encoding(t *testing.T) {
	target := NewIPAddress(net.ParseIP("1.2.3.4"), 80)
	hdr := shadowsocksTargetHeader(target)
	require.EqualValues(t, 0x01, hdr[0], "expected atyp 0x01 for IPv4")
	require.Len(t, hdr, 7)
}
