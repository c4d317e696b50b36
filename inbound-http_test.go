package proxycore

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"
)

func newEchoServer(t *testing.T) net.Listener {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			c, err := ln.Accept()
			if err != nil {
				return
			}
			go io.Copy(c, c)
		}
	}()
	return ln
}

func newDirectDispatcher() *Dispatcher {
	router := NewRouter("r", NewClashModeSwitch(), "", "direct")
	router.Add(NewFinalRoute(0, "direct", ActionRoute))
	outbounds := NewOutboundManager()
	outbounds.Register(NewDirectOutbound("direct", nil, nil))
	return NewDispatcher(router, outbounds, NewConnectionTracker(), NewBufferPool(), nil, DispatcherOptions{IdleTimeout: 2 * time.Second})
}

func TestHTTPInboundConnectTunnel(t *testing.T) {
	echo := newEchoServer(t)
	defer echo.Close()

	hb := NewHTTPInbound("http-in", "127.0.0.1:0", newDirectDispatcher())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	hb.listener = ln
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go hb.serve(conn)
		}
	}()

	client, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer client.Close()

	echoAddr := echo.Addr().(*net.TCPAddr)
	req, err := http.NewRequest(http.MethodConnect, "http://"+echoAddr.String(), nil)
	require.NoError(t, err)
	req.Host = echoAddr.String()
	require.NoError(t, req.Write(client))

	br := bufio.NewReader(client)
	resp, err := http.ReadResponse(br, req)
	require.NoError(t, err)
	require.Equal(t, 200, resp.StatusCode)

	client.Write([]byte("hello"))
	buf := make([]byte, 5)
	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = io.ReadFull(client, buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf))
}

// TestHTTPInboundH2CConnectTunnel exercises the h2c prior-knowledge path:
// a client that opens the connection with the raw HTTP/2 preface instead
// of an HTTP/1.1 request line, tunneling CONNECT over an HTTP/2 stream.
func TestHTTPInboundH2CConnectTunnel(t *testing.T) {
	echo := newEchoServer(t)
	defer echo.Close()

	hb := NewHTTPInbound("http-in", "127.0.0.1:0", newDirectDispatcher())
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	hb.listener = ln
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go hb.serve(conn)
		}
	}()

	rawConn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer rawConn.Close()

	tr := &http2.Transport{AllowHTTP: true}
	cc, err := tr.NewClientConn(rawConn)
	require.NoError(t, err)

	echoAddr := echo.Addr().(*net.TCPAddr)
	pr, pw := io.Pipe()
	req, err := http.NewRequest(http.MethodConnect, "http://"+echoAddr.String(), pr)
	require.NoError(t, err)
	req.Host = echoAddr.String()

	respCh := make(chan *http.Response, 1)
	errCh := make(chan error, 1)
	go func() {
		resp, err := cc.RoundTrip(req)
		if err != nil {
			errCh <- err
			return
		}
		respCh <- resp
	}()

	var resp *http.Response
	select {
	case resp = <-respCh:
	case err := <-errCh:
		t.Fatalf("RoundTrip failed: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for CONNECT response")
	}
	require.Equal(t, http.StatusOK, resp.StatusCode)

	pw.Write([]byte("hello"))
	buf := make([]byte, 5)
	_, err = io.ReadFull(resp.Body, buf)
	require.NoError(t, err)
	require.Equal(t, "hello", string(buf))
}
