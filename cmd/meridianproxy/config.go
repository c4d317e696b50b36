package main

import (
	"bytes"
	"io"
	"os"

	"github.com/BurntSushi/toml"
)

// config mirrors the TOML shape routedns' config.go decodes into, adapted
// from "resolvers/groups/routers" onto "outbounds/inbounds/rules": flat,
// id-keyed maps BurntSushi/toml decodes directly, loaded from one or more
// files concatenated before parsing.
type config struct {
	Title       string
	ClashMode   string `toml:"clash-mode"`
	GeoIPPath   string `toml:"geoip-path"`
	GeositePath string `toml:"geosite-path"`

	Inbounds  map[string]inboundConfig
	Outbounds map[string]outboundConfig
	Rules     []ruleConfig
	Default   string // default outbound when no rule matches
	Global    string // outbound used in clash-mode=global
}

type inboundConfig struct {
	Protocol string
	Address  string
	Username string
	Password string
	Method   string // shadowsocks cipher
	Sniff    bool
}

type outboundConfig struct {
	Protocol   string
	Server     string
	Password   string
	Method     string // shadowsocks cipher
	ServerName string `toml:"server-name"`
	Insecure   bool
	DownBps    uint64 `toml:"down-bps"`
	Use0RTT    bool   `toml:"enable-0rtt"`
	UserID     string `toml:"user-id"` // vless
	HostMask   string `toml:"host-mask"`
	PathMask   string `toml:"path-mask"`

	// Proxy chaining, as in resolver.Socks5Address et al.
	Socks5Address      string `toml:"socks5-address"`
	Socks5Username     string `toml:"socks5-username"`
	Socks5Password     string `toml:"socks5-password"`
	Socks5ResolveLocal bool   `toml:"socks5-resolve-local"`
	LocalAddress       string `toml:"local-address"`
}

type ruleConfig struct {
	Type            string // domain, domain-suffix, domain-keyword, domain-regex, ip-cidr, geoip, geosite, port, network, inbound-tag, final
	Values          []string
	Outbound        string
	Action          string // route (default), reject, direct
	OverrideAddress string `toml:"override-address"`
	OverridePort    uint16 `toml:"override-port"`
	Sniff           bool
	ResolveStrategy string `toml:"resolve-strategy"`
}

// loadConfig concatenates and decodes one or more TOML files, the same
// multi-file merge loadConfig in cmd/routedns/config.go performs.
func loadConfig(files ...string) (config, error) {
	var buf bytes.Buffer
	for _, f := range files {
		b, err := os.ReadFile(f)
		if err != nil {
			return config{}, err
		}
		buf.Write(b)
		buf.WriteByte('\n')
	}
	return decodeConfig(&buf)
}

func decodeConfig(r io.Reader) (config, error) {
	var c config
	if _, err := toml.NewDecoder(r).Decode(&c); err != nil {
		return config{}, err
	}
	return c, nil
}
