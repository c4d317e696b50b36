package proxycore

import (
	"context"
	"net"
)

// Outbound is the capability set every concrete proxy protocol implements:
// a tag for router lookups and dial operations for each transport kind.
// A closed tagged variant would also work here, but a vtable-style
// interface matches how other pluggable component families (resolvers,
// blocklists, listeners) are expressed in this codebase, and keeps each
// protocol's file self-contained.
type Outbound interface {
	Tag() string
	DialTCP(ctx context.Context, target Address) (net.Conn, error)
	DialUDP(ctx context.Context, target Address) (net.PacketConn, error)
}

// OutboundManager is a registry of outbounds keyed by tag, consulted by
// the Dispatcher once the Router has produced a decision.
type OutboundManager struct {
	byTag map[string]Outbound
}

// NewOutboundManager returns an empty manager.
func NewOutboundManager() *OutboundManager {
	return &OutboundManager{byTag: make(map[string]Outbound)}
}

// Register adds ob under its own Tag(), replacing any previous outbound
// with the same tag.
func (m *OutboundManager) Register(ob Outbound) {
	m.byTag[ob.Tag()] = ob
}

// Get looks up an outbound by tag.
func (m *OutboundManager) Get(tag string) (Outbound, bool) {
	ob, ok := m.byTag[tag]
	return ob, ok
}
