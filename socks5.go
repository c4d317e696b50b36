package proxycore

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/txthinking/socks5"
)

// Socks5Dialer is an upstream SOCKS5 client used for outbound proxy
// chaining: DirectOutbound dials through one when configured with an
// upstream proxy instead of dialing the target directly. ResolveLocal
// governs whether the *proxy's own* address is resolved locally before
// the first dial, independent of whatever the target address ends up
// being once traffic reaches the proxy.
type Socks5Dialer struct {
	*socks5.Client
	opt Socks5DialerOptions

	once sync.Once
	addr string
}

// Socks5DialerOptions configures a Socks5Dialer.
type Socks5DialerOptions struct {
	Username   string
	Password   string
	UDPTimeout time.Duration
	TCPTimeout time.Duration
	LocalAddr  net.IP

	// When the upstream SOCKS5 server itself is configured by hostname
	// rather than a literal IP, e.g. proxy.example.com:1080, this setting
	// resolves that hostname locally (via net.DefaultResolver) rather than
	// letting the first Dial hand the bare name off unresolved. Useful
	// when the outbound chain shouldn't depend on whatever DNS the SOCKS5
	// server itself would use to resolve its own listening address.
	ResolveLocal bool
}

// NewSocks5Dialer returns a dialer that proxies connections through a
// SOCKS5 server at addr.
func NewSocks5Dialer(addr string, opt Socks5DialerOptions) *Socks5Dialer {
	client, _ := socks5.NewClient(
		addr,
		opt.Username,
		opt.Password,
		int(opt.TCPTimeout.Seconds()),
		int(opt.UDPTimeout.Seconds()),
	)
	return &Socks5Dialer{Client: client, opt: opt}
}

func (d *Socks5Dialer) Dial(network string, address string) (net.Conn, error) {
	d.once.Do(func() {
		d.addr = address

		// If the upstream proxy's address uses a hostname and ResolveLocal is
		// enabled, look up the IP for it locally and use that for every dial
		// going forward, rather than handing an unresolved hostname to the
		// client library on each call.
		if d.opt.ResolveLocal {
			host, port, err := net.SplitHostPort(address)
			if err != nil {
				Log.WithError(err).Error("failed to parse socks5 proxy address")
				return
			}
			Log.WithField("addr", host).Debug("resolving upstream socks5 proxy locally")
			ip := net.ParseIP(host)
			if ip != nil {
				// Already an IP
				return
			}
			timeout := d.opt.UDPTimeout
			if timeout == 0 {
				timeout = 5 * time.Second
			}
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()
			ips, err := net.DefaultResolver.LookupIP(ctx, "ip4", host)
			if err != nil {
				Log.WithError(err).WithField("host", host).Error("failed to resolve upstream socks5 proxy locally")
				return
			}
			if len(ips) == 0 {
				Log.Error("failed to resolve upstream socks5 proxy locally, falling back to unresolved address")
				return
			}
			d.addr = net.JoinHostPort(ips[0].String(), port)
		}

	})

	if d.opt.LocalAddr != nil {
		return d.Client.DialWithLocalAddr(network, d.opt.LocalAddr.String(), d.addr, nil)
	}
	return d.Client.Dial(network, d.addr)
}
