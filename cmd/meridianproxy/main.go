package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/heimdalr/dag"
	proxycore "github.com/roseforljh/meridian-proxy"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

type options struct {
	logLevel uint32
	version  bool
}

var version = "dev"

func main() {
	var opt options
	cmd := &cobra.Command{
		Use:   "meridianproxy <config> [<config>..]",
		Short: "Multi-protocol proxy router",
		Long: `Multi-protocol proxy router.

Accepts SOCKS5, HTTP and Shadowsocks inbound connections, classifies each
flow against an ordered rule set (domain, ip-cidr, geoip, geosite, port,
network, inbound-tag), and dispatches it to a direct, Shadowsocks, Trojan,
VLESS, Hysteria2 or MASQUE outbound.

Configuration can be split over multiple files and provided as arguments.
`,
		Example: `  meridianproxy config.toml`,
		Args:    cobra.MinimumNArgs(0),
		RunE: func(cmd *cobra.Command, args []string) error {
			return start(opt, args)
		},
		SilenceUsage: true,
	}

	cmd.Flags().Uint32VarP(&opt.logLevel, "log-level", "l", 4, "log level; 0=Panic .. 6=Trace")
	cmd.Flags().BoolVarP(&opt.version, "version", "v", false, "Prints code version string")

	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// node satisfies dag.IDInterface so outbounds that chain through another
// outbound (proxy-chaining via socks5-address, or a future "chain" field)
// can be validated for cycles before anything is instantiated, the same
// role the DAG plays over resolvers/groups/routers in cmd/routedns/main.go.
type node struct {
	id    string
	value outboundConfig
}

var _ dag.IDInterface = node{}

func (n node) ID() string { return n.id }

var onClose []func()

func start(opt options, args []string) error {
	if opt.logLevel > 6 {
		return fmt.Errorf("invalid log level: %d", opt.logLevel)
	}
	if opt.version {
		fmt.Println("meridianproxy", version)
		os.Exit(0)
	}
	if len(args) < 1 {
		return errors.New("not enough arguments")
	}
	proxycore.Log.SetLevel(logrus.Level(opt.logLevel))

	cfg, err := loadConfig(args...)
	if err != nil {
		return err
	}

	mode := proxycore.NewClashModeSwitch()
	switch cfg.ClashMode {
	case "global":
		mode.Set(proxycore.ClashModeGlobal)
	case "direct":
		mode.Set(proxycore.ClashModeDirect)
	}

	graph := dag.NewDAG()
	for id, v := range cfg.Outbounds {
		if _, err := graph.AddVertex(node{id, v}); err != nil {
			return err
		}
	}
	for id, v := range cfg.Outbounds {
		if v.Socks5Address == "" {
			continue
		}
		if _, ok := cfg.Outbounds[v.Socks5Address]; ok {
			if err := graph.AddEdge(id, v.Socks5Address); err != nil {
				return fmt.Errorf("outbound %q: %w", id, err)
			}
		}
	}

	outbounds := proxycore.NewOutboundManager()
	for graph.GetOrder() > 0 {
		for id, v := range graph.GetLeaves() {
			n := v.(node)
			if err := instantiateOutbound(id, n.value, outbounds); err != nil {
				return fmt.Errorf("outbound %q: %w", id, err)
			}
			if err := graph.DeleteVertex(id); err != nil {
				return err
			}
		}
	}

	var geoip *proxycore.GeoIPDB
	if cfg.GeoIPPath != "" {
		geoip, err = proxycore.OpenGeoIPDB(cfg.GeoIPPath)
		if err != nil {
			return fmt.Errorf("geoip db %q: %w", cfg.GeoIPPath, err)
		}
	}
	var geosite *proxycore.GeositeDB
	if cfg.GeositePath != "" {
		geosite, err = loadGeositeDB(cfg.GeositePath)
		if err != nil {
			return fmt.Errorf("geosite db %q: %w", cfg.GeositePath, err)
		}
	}

	router := proxycore.NewRouter("router", mode, cfg.Global, cfg.Default)
	router.SetDatabases(geoip, geosite)
	if err := instantiateRules(router, cfg.Rules); err != nil {
		return err
	}

	tracker := proxycore.NewConnectionTracker()
	pool := proxycore.NewBufferPool()
	resolver := proxycore.NewCachedResolver("system", proxycore.NewSystemResolver("system"), proxycore.CachedResolverOptions{})
	dispatcher := proxycore.NewDispatcher(router, outbounds, tracker, pool, resolver, proxycore.DispatcherOptions{})

	var inbounds []proxycore.Inbound
	for id, v := range cfg.Inbounds {
		ib, err := instantiateInbound(id, v, dispatcher)
		if err != nil {
			return fmt.Errorf("inbound %q: %w", id, err)
		}
		inbounds = append(inbounds, ib)
	}

	for _, ib := range inbounds {
		go func(ib proxycore.Inbound) {
			for {
				err := ib.Start()
				proxycore.Log.WithError(err).WithField("id", ib.String()).Error("inbound failed")
				time.Sleep(time.Second)
			}
		}(ib)
	}

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)
	<-sig
	proxycore.Log.Info("stopping")
	for _, f := range onClose {
		f()
	}
	return nil
}
