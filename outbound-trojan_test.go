package proxycore

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/hex"
	"encoding/pem"
	"io"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func generateTestTLSCert(t *testing.T) tls.Certificate {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		DNSNames:     []string{"localhost"},
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	keyDER, err := x509.MarshalECPrivateKey(key)
	require.NoError(t, err)
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})
	keyPEM := pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})
	cert, err := tls.X509KeyPair(certPEM, keyPEM)
	require.NoError(t, err)
	return cert
}

func TestTrojanOutboundHandshakeAndHeader(t *testing.T) {
	cert := generateTestTLSCert(t)
	ln, err := tls.Listen("tcp", "127.0.0.1:0", &tls.Config{Certificates: []tls.Certificate{cert}})
	require.NoError(t, err)
	defer ln.Close()

	const password = "s3cr3t"
	sum := sha256.Sum224([]byte(password))
	wantID := hex.EncodeToString(sum[:])

	gotID := make(chan string, 1)
	go func() {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, len(wantID))
		if _, err := io.ReadFull(conn, buf); err != nil {
			return
		}
		gotID <- string(buf)
		io.CopyN(io.Discard, conn, 2) // CRLF
		rest := make([]byte, 1+1+1+len("example.com")+2+2)
		io.ReadFull(conn, rest)
		conn.Write([]byte("pong"))
	}()

	ob := NewTrojanOutbound("trojan-out", ln.Addr().String(), password, "localhost", true)
	conn, err := ob.DialTCP(context.Background(), NewDomainAddress("example.com", 443))
	require.NoError(t, err)
	defer conn.Close()

	select {
	case id := <-gotID:
		require.Equal(t, wantID, id, "expected password id to match")
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for server to read the password header")
	}

	buf := make([]byte, 4)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	require.Equal(t, "pong", string(buf))
}

func TestTrojanOutboundUDPUnsupported(t *testing.T) {
	ob := NewTrojanOutbound("trojan-out", "127.0.0.1:1", "pw", "", true)
	_, err := ob.DialUDP(context.Background(), NewDomainAddress("example.com", 53))
	require.Error(t, err, "expected an error: trojan outbound does not support UDP associate")
}
