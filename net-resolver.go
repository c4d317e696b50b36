package proxycore

import (
	"context"
	"net"
)

// SystemResolver is the plain upstream Resolver backed by the Go runtime's
// own net.Resolver. It's the default "upstream" plugged into a
// CachedResolver when no other DNS client is configured. Mirrors a
// similarly-named net-resolver.go elsewhere in this family of code, which
// went the opposite direction (wrapping a message-based resolver so it
// could stand in for net.Resolver); here we only need the system resolver
// as an upstream implementation of our own Resolver
// interface, so the packetConn/dns.Msg plumbing that made that redirection
// possible is dropped.
type SystemResolver struct {
	id       string
	resolver *net.Resolver
}

var _ Resolver = &SystemResolver{}

// NewSystemResolver returns a Resolver that defers to the system resolver.
func NewSystemResolver(id string) *SystemResolver {
	return &SystemResolver{id: id, resolver: net.DefaultResolver}
}

// Resolve looks up host via the system resolver. If host is already a
// literal IP, net.Resolver short-circuits internally; CachedResolver also
// performs its own literal-IP short-circuit before ever reaching here.
func (s *SystemResolver) Resolve(ctx context.Context, host string) ([]net.IP, error) {
	addrs, err := s.resolver.LookupIP(ctx, "ip", host)
	if err != nil {
		return nil, &ResolveError{Host: host, Err: err}
	}
	return addrs, nil
}

func (s *SystemResolver) String() string { return s.id }
