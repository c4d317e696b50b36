package main

import (
	"bufio"
	"crypto/tls"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/google/uuid"
	proxycore "github.com/roseforljh/meridian-proxy"
	utls "github.com/refraction-networking/utls"
)

// instantiateOutbound builds a proxycore.Outbound from one outbound config
// block and registers it under id, mirroring instantiateResolver's
// protocol switch in cmd/routedns/resolver.go.
func instantiateOutbound(id string, o outboundConfig, outbounds *proxycore.OutboundManager) error {
	switch o.Protocol {
	case "direct", "":
		var upstream *proxycore.Socks5Dialer
		if o.Socks5Address != "" {
			upstream = proxycore.NewSocks5Dialer(o.Socks5Address, proxycore.Socks5DialerOptions{
				Username:     o.Socks5Username,
				Password:     o.Socks5Password,
				ResolveLocal: o.Socks5ResolveLocal,
			})
		}
		var localAddr net.IP
		if o.LocalAddress != "" {
			localAddr = net.ParseIP(o.LocalAddress)
		}
		outbounds.Register(proxycore.NewDirectOutbound(id, localAddr, upstream))

	case "shadowsocks":
		ob, err := proxycore.NewShadowsocksOutbound(id, o.Server, o.Method, o.Password)
		if err != nil {
			return err
		}
		outbounds.Register(ob)

	case "trojan":
		outbounds.Register(proxycore.NewTrojanOutbound(id, o.Server, o.Password, o.ServerName, o.Insecure))

	case "vless":
		uid, err := uuid.Parse(o.UserID)
		if err != nil {
			return fmt.Errorf("vless outbound %q: invalid user-id: %w", id, err)
		}
		outbounds.Register(proxycore.NewVlessOutbound(id, o.Server, uid, o.ServerName, utls.HelloChrome_Auto))

	case "hysteria2":
		tlsConfig := &tls.Config{ServerName: o.ServerName, InsecureSkipVerify: o.Insecure}
		ob, err := proxycore.NewHysteria2Outbound(id, o.Server, o.Password, o.DownBps, o.Use0RTT, tlsConfig)
		if err != nil {
			return err
		}
		outbounds.Register(ob)

	case "masque":
		tlsConfig := &tls.Config{ServerName: o.ServerName, InsecureSkipVerify: o.Insecure}
		ob, err := proxycore.NewMasqueOutbound(id, o.Server, o.HostMask, o.PathMask, tlsConfig)
		if err != nil {
			return err
		}
		outbounds.Register(ob)

	default:
		return fmt.Errorf("unsupported outbound protocol %q", o.Protocol)
	}
	return nil
}

// instantiateInbound builds a proxycore.Inbound from one inbound config block.
func instantiateInbound(id string, i inboundConfig, dispatcher *proxycore.Dispatcher) (proxycore.Inbound, error) {
	switch i.Protocol {
	case "socks5":
		return proxycore.NewSocks5Inbound(id, i.Address, dispatcher, i.Username, i.Password)
	case "http":
		return proxycore.NewHTTPInbound(id, i.Address, dispatcher), nil
	case "mixed":
		return proxycore.NewMixedInbound(id, i.Address, dispatcher, i.Username, i.Password)
	case "shadowsocks":
		return proxycore.NewShadowsocksInbound(id, i.Address, i.Method, i.Password, dispatcher)
	default:
		return nil, fmt.Errorf("unsupported inbound protocol %q", i.Protocol)
	}
}

// instantiateRules compiles the rule list in file order and adds it to router.
func instantiateRules(router *proxycore.Router, rules []ruleConfig) error {
	for i, rc := range rules {
		action := proxycore.ActionRoute
		switch rc.Action {
		case "reject":
			action = proxycore.ActionReject
		case "direct":
			action = proxycore.ActionDirect
		}

		var r *proxycore.Route
		var err error
		switch rc.Type {
		case "domain":
			r, err = proxycore.NewDomainRoute(i, proxycore.RuleDomain, rc.Values, rc.Outbound, action)
		case "domain-suffix":
			r, err = proxycore.NewDomainRoute(i, proxycore.RuleDomainSuffix, rc.Values, rc.Outbound, action)
		case "domain-keyword":
			r, err = proxycore.NewDomainRoute(i, proxycore.RuleDomainKeyword, rc.Values, rc.Outbound, action)
		case "domain-regex":
			r, err = proxycore.NewDomainRoute(i, proxycore.RuleDomainRegex, rc.Values, rc.Outbound, action)
		case "ip-cidr":
			r, err = proxycore.NewIPCIDRRoute(i, rc.Values, rc.Outbound, action)
		case "geoip":
			r = proxycore.NewGeoIPRoute(i, firstOrEmpty(rc.Values), rc.Outbound, action)
		case "geosite":
			r = proxycore.NewGeositeRoute(i, firstOrEmpty(rc.Values), rc.Outbound, action)
		case "port":
			r, err = proxycore.NewPortRoute(i, rc.Values, rc.Outbound, action)
		case "network":
			n := proxycore.TCP
			if strings.EqualFold(firstOrEmpty(rc.Values), "udp") {
				n = proxycore.UDP
			}
			r = proxycore.NewNetworkRoute(i, n, rc.Outbound, action)
		case "inbound-tag":
			r, err = proxycore.NewInboundTagRoute(i, firstOrEmpty(rc.Values), rc.Outbound, action)
		case "final":
			r = proxycore.NewFinalRoute(i, rc.Outbound, action)
		default:
			return fmt.Errorf("rule %d: unsupported type %q", i, rc.Type)
		}
		if err != nil {
			return fmt.Errorf("rule %d: %w", i, err)
		}

		if rc.OverrideAddress != "" || rc.OverridePort != 0 {
			var addr *proxycore.Address
			if rc.OverrideAddress != "" {
				a, err := proxycore.ParseAddress(net.JoinHostPort(rc.OverrideAddress, "0"))
				if err != nil {
					return fmt.Errorf("rule %d: invalid override-address: %w", i, err)
				}
				addr = &a
			}
			var port *uint16
			if rc.OverridePort != 0 {
				p := rc.OverridePort
				port = &p
			}
			r = r.WithOverride(addr, port)
		}
		if rc.Sniff {
			r = r.WithSniff(true)
		}
		switch rc.ResolveStrategy {
		case "prefer-v4":
			r = r.WithResolveStrategy(proxycore.ResolvePreferV4)
		case "prefer-v6":
			r = r.WithResolveStrategy(proxycore.ResolvePreferV6)
		case "v4-only":
			r = r.WithResolveStrategy(proxycore.ResolveV4Only)
		case "v6-only":
			r = r.WithResolveStrategy(proxycore.ResolveV6Only)
		}

		router.Add(r)
	}
	return nil
}

func firstOrEmpty(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[0]
}

// loadGeositeDB reads a simple "category:domain" per-line text dump (one
// entry per line, blank lines and lines starting with # ignored) into a
// GeositeDB. The MaxMind MMDB format GeoIPDB reads has no analogue for
// domain-category data, so this loader defines its own minimal format
// rather than forcing geosite data through a binary format meant for IPs.
func loadGeositeDB(path string) (*proxycore.GeositeDB, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	db := proxycore.NewGeositeDB()
	byCategory := make(map[string][]string)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, ":", 2)
		if len(parts) != 2 {
			continue
		}
		category, domain := strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
		byCategory[category] = append(byCategory[category], domain)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	for category, domains := range byCategory {
		db.Load(category, domains)
	}
	return db, nil
}
