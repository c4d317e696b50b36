package proxycore

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"golang.org/x/net/http2"
)

// http2Preface is the fixed connection preface an HTTP/2 client sends
// before any frames, used here as prior-knowledge cleartext (h2c) detection:
// a client opening an h2c tunnel writes this instead of an HTTP/1.1 request
// line.
var http2Preface = []byte("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n")

// HTTPInbound accepts an HTTP forward proxy connection, handling both the
// CONNECT method (tunnel mode, used for HTTPS) and plain absolute-URI GET/
// POST/etc. requests (proxied in the clear). Only the first request on each
// accepted TCP connection is parsed, with bufio/net/http; the connection is
// then handed to the Dispatcher as a single Session for that request's
// target, and any later requests on it are relayed to that same target
// without being parsed.
type HTTPInbound struct {
	id         string
	addr       string
	dispatcher *Dispatcher
	listener   net.Listener
}

var _ Inbound = (*HTTPInbound)(nil)

// NewHTTPInbound builds an HTTP proxy listener bound to addr.
func NewHTTPInbound(id, addr string, dispatcher *Dispatcher) *HTTPInbound {
	return &HTTPInbound{id: id, addr: addr, dispatcher: dispatcher}
}

func (h *HTTPInbound) String() string { return h.id }

func (h *HTTPInbound) Start() error {
	ln, err := net.Listen("tcp", h.addr)
	if err != nil {
		return &ConfigError{Path: h.id, Err: err}
	}
	h.listener = ln
	Log.WithField("id", h.id).WithField("addr", h.addr).Info("starting http inbound")
	for {
		conn, err := ln.Accept()
		if err != nil {
			return err
		}
		go h.serve(conn)
	}
}

func (h *HTTPInbound) serve(conn net.Conn) {
	br := bufio.NewReader(conn)
	preface, err := br.Peek(len(http2Preface))
	if err == nil && bytes.Equal(preface, http2Preface) {
		h.serveH2C(&PeekedConn{Conn: conn, r: br})
		return
	}

	req, err := http.ReadRequest(br)
	if err != nil {
		conn.Close()
		return
	}

	if strings.EqualFold(req.Method, http.MethodConnect) {
		h.serveConnect(conn, req)
		return
	}
	h.servePlain(conn, br, req)
}

// serveH2C runs an h2c (HTTP/2 over cleartext, prior-knowledge) session on
// conn using golang.org/x/net/http2 directly rather than net/http's server,
// since this listener never terminates TLS and has no ALPN negotiation to
// hand off from. Only CONNECT is handled — the tunnel case this proxy
// actually needs; any other method gets a 501.
func (h *HTTPInbound) serveH2C(conn net.Conn) {
	srv := &http2.Server{}
	srv.ServeConn(conn, &http2.ServeConnOpts{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !strings.EqualFold(r.Method, http.MethodConnect) {
				w.WriteHeader(http.StatusNotImplemented)
				return
			}
			h.serveConnectH2(w, r)
		}),
	})
}

// serveConnectH2 is serveConnect's HTTP/2 counterpart: HTTP/2 has no
// Hijack, so a CONNECT tunnel is instead a long-lived stream where the
// response body written after WriteHeader(200) and the request body are
// the two halves of the tunnel, wrapped in h2ConnectConn to satisfy the
// Dispatcher's net.Conn-shaped relay.
func (h *HTTPInbound) serveConnectH2(w http.ResponseWriter, r *http.Request) {
	target, err := ParseAddress(r.Host)
	if err != nil {
		host := r.Host
		if !strings.Contains(host, ":") {
			host = host + ":443"
		}
		target, err = ParseAddress(host)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	conn := &h2ConnectConn{body: r.Body, w: w, flusher: flusher, remote: r.RemoteAddr}
	sess := NewSession(target, conn.RemoteAddr(), h.id+":h2c", TCP, false)
	if err := h.dispatcher.Dispatch(r.Context(), conn, sess); err != nil {
		Log.WithError(err).WithField("id", h.id).Debug("http/2 connect tunnel ended")
	}
}

// h2ConnectConn adapts an HTTP/2 CONNECT request's body (client->proxy) and
// its ResponseWriter (proxy->client) into a net.Conn, since HTTP/2 streams
// have no underlying socket the relay engine could reuse directly.
type h2ConnectConn struct {
	body    io.ReadCloser
	w       http.ResponseWriter
	flusher http.Flusher
	remote  string
}

func (c *h2ConnectConn) Read(p []byte) (int, error)       { return c.body.Read(p) }
func (c *h2ConnectConn) Close() error                     { return c.body.Close() }
func (c *h2ConnectConn) LocalAddr() net.Addr              { return h2ConnectAddr("") }
func (c *h2ConnectConn) SetDeadline(time.Time) error      { return nil }
func (c *h2ConnectConn) SetReadDeadline(time.Time) error  { return nil }
func (c *h2ConnectConn) SetWriteDeadline(time.Time) error { return nil }

func (c *h2ConnectConn) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	if err == nil {
		c.flusher.Flush()
	}
	return n, err
}

func (c *h2ConnectConn) RemoteAddr() net.Addr { return h2ConnectAddr(c.remote) }

// h2ConnectAddr satisfies net.Addr for the synthetic h2ConnectConn; h2
// streams carry the peer address as a string on the originating request,
// not a dialable net.Addr.
type h2ConnectAddr string

func (a h2ConnectAddr) Network() string { return "h2c" }
func (a h2ConnectAddr) String() string  { return string(a) }

// serveConnect handles the tunnel case: reply 200, then hand the raw
// bytes-in-both-directions connection to the Dispatcher, which relays it
// unmodified (the client drives its own TLS handshake through the tunnel).
func (h *HTTPInbound) serveConnect(conn net.Conn, req *http.Request) {
	target, err := ParseAddress(req.Host)
	if err != nil {
		host := req.Host
		if !strings.Contains(host, ":") {
			host = host + ":443"
		}
		target, err = ParseAddress(host)
		if err != nil {
			conn.Write([]byte("HTTP/1.1 400 Bad Request\r\n\r\n"))
			conn.Close()
			return
		}
	}
	if _, err := conn.Write([]byte("HTTP/1.1 200 Connection Established\r\n\r\n")); err != nil {
		conn.Close()
		return
	}
	sess := NewSession(target, conn.RemoteAddr(), h.id, TCP, false)
	if err := h.dispatcher.Dispatch(context.Background(), conn, sess); err != nil {
		Log.WithError(err).WithField("id", h.id).Debug("http connect tunnel ended")
	}
}

// servePlain handles a non-CONNECT absolute-URI request: the target is the
// request's own Host/port, and whatever was already buffered off the wire
// (the request line, headers, and any body prefix already read into br)
// must be replayed to the outbound ahead of the rest of the connection.
func (h *HTTPInbound) servePlain(conn net.Conn, br *bufio.Reader, req *http.Request) {
	host := req.Host
	if host == "" {
		host = req.URL.Host
	}
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, defaultHTTPPort(req.URL.Scheme))
	}
	target, err := ParseAddress(host)
	if err != nil {
		conn.Write([]byte("HTTP/1.1 400 Bad Request\r\n\r\n"))
		conn.Close()
		return
	}

	sess := NewSession(target, conn.RemoteAddr(), h.id, TCP, false)
	replay := &httpReplayConn{Conn: conn, br: br, req: req}
	if err := h.dispatcher.Dispatch(context.Background(), replay, sess); err != nil {
		Log.WithError(err).WithField("id", h.id).Debug("http proxy request ended")
	}
}

func defaultHTTPPort(scheme string) string {
	if scheme == "https" {
		return "443"
	}
	return "80"
}

// httpReplayConn replays the already-parsed request line and headers
// ahead of whatever remains buffered/unread on the underlying conn. The
// request head is re-rendered from the parsed request rather than copied:
// the request line is sent in origin form as HTTP/1.1, and header order and
// case are not preserved.
type httpReplayConn struct {
	net.Conn
	br       *bufio.Reader
	req      *http.Request
	replayed bool
	buf      []byte
	off      int
}

func (c *httpReplayConn) Read(p []byte) (int, error) {
	if !c.replayed {
		c.buf = renderRequestLine(c.req)
		c.replayed = true
	}
	if c.off < len(c.buf) {
		n := copy(p, c.buf[c.off:])
		c.off += n
		return n, nil
	}
	if c.br.Buffered() > 0 {
		return c.br.Read(p)
	}
	return c.Conn.Read(p)
}

func renderRequestLine(req *http.Request) []byte {
	var b strings.Builder
	b.WriteString(req.Method)
	b.WriteByte(' ')
	b.WriteString(req.URL.RequestURI())
	b.WriteString(" HTTP/1.1\r\n")
	if req.Host != "" {
		b.WriteString("Host: ")
		b.WriteString(req.Host)
		b.WriteString("\r\n")
	}
	for k, vs := range req.Header {
		for _, v := range vs {
			b.WriteString(k)
			b.WriteString(": ")
			b.WriteString(v)
			b.WriteString("\r\n")
		}
	}
	b.WriteString("\r\n")
	return []byte(b.String())
}
