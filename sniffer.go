package proxycore

import (
	"bufio"
	"bytes"
	"io"
	"net"
)

// sniffPeekLimit bounds how many bytes the sniffer reads before giving up
// identifying the application protocol (a TLS ClientHello or an HTTP
// request line both fit comfortably inside it).
const sniffPeekLimit = 4096

// PeekedConn layers a peeking reader over a net.Conn so the bytes already
// consumed to classify the stream (Sniff's *bufio.Reader, or any other
// reader that buffers ahead of the connection) are replayed to the first
// subsequent Read, letting the eventual outbound see the complete,
// unmutilated stream. Every inbound listener that peeks before dispatching
// a connection shares this one wrapper rather than hand-rolling its own.
type PeekedConn struct {
	net.Conn
	r io.Reader
}

func (p *PeekedConn) Read(b []byte) (int, error) {
	return p.r.Read(b)
}

// Sniff peeks at the start of r looking for a TLS record header or an
// HTTP/1.x request-line method; it does not extract the SNI or the Host
// header. It returns the detected protocol tag ("tls" or "http",
// "" if neither matched) plus a reader that replays the peeked bytes ahead
// of the rest of the stream.
func Sniff(r io.Reader) (protocol string, peeked io.Reader, err error) {
	br := bufio.NewReaderSize(r, sniffPeekLimit)
	head, err := br.Peek(sniffPeekLimit)
	if err != nil && err != io.EOF && len(head) == 0 {
		return "", br, err
	}

	if proto, ok := sniffTLS(head); ok {
		return proto, br, nil
	}
	if proto, ok := sniffHTTP(head); ok {
		return proto, br, nil
	}
	return "", br, nil
}

// sniffTLS looks for a TLS record header (handshake type 0x16, version
// 0x03 0x01 through 0x03 0x04) at the very start of the stream.
func sniffTLS(head []byte) (string, bool) {
	if len(head) < 5 {
		return "", false
	}
	if head[0] != 0x16 || head[1] != 0x03 {
		return "", false
	}
	switch head[2] {
	case 0x01, 0x02, 0x03, 0x04:
		return "tls", true
	default:
		return "", false
	}
}

// sniffHTTP looks for a recognizable HTTP/1.x request line at the start of
// the stream.
func sniffHTTP(head []byte) (string, bool) {
	methods := [][]byte{
		[]byte("GET "), []byte("POST "), []byte("PUT "), []byte("HEAD "),
		[]byte("DELETE "), []byte("OPTIONS "), []byte("CONNECT "), []byte("PATCH "),
	}
	for _, m := range methods {
		if bytes.HasPrefix(head, m) {
			return "http", true
		}
	}
	return "", false
}
