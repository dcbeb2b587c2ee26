package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	actx "go.hackfix.me/openme/app/context"
	"go.hackfix.me/openme/crypto"
	"go.hackfix.me/openme/firewall"
	"go.hackfix.me/openme/firewall/iptables"
	"go.hackfix.me/openme/firewall/nftables"
	"go.hackfix.me/openme/firewall/runner"
	ftypes "go.hackfix.me/openme/firewall/types"
	"go.hackfix.me/openme/metrics"
	"go.hackfix.me/openme/server"
)

// Serve starts the openme server.
type Serve struct{}

// Run the serve command.
func (c *Serve) Run(appCtx *actx.Context, g *Globals) error {
	cfg, err := loadConfig(appCtx, g.ConfigFile)
	if err != nil {
		return err
	}

	if cfg.Debug && appCtx.LogLevel != nil {
		appCtx.LogLevel.Set(slog.LevelDebug)
	}
	logger := appCtx.Logger

	// These were checked by Validate.
	ports, _ := cfg.PortSpecs()
	fwType, _ := cfg.FirewallType()
	allowed, _ := cfg.AllowedSet()

	reg := metrics.New()

	ruleRunner := appCtx.FirewallRunner
	if ruleRunner == nil {
		ruleRunner = runner.New(runner.WithDryRun(cfg.Debug), runner.WithLogger(logger))
	}

	builder, err := newBuilder(fwType, ports, !cfg.Debug && !appCtx.SkipFirewallInit, logger)
	if err != nil {
		return err
	}

	mgr, err := firewall.NewManager(builder, ruleRunner, ports,
		firewall.WithLogger(logger), firewall.WithMetrics(reg))
	if err != nil {
		return err
	}

	tlsCfg, err := crypto.ServerTLSConfig(appCtx.FS, cfg.CertFile, cfg.KeyFile, cfg.CACertFile)
	if err != nil {
		return err
	}

	addr := net.JoinHostPort(cfg.BindAddress, strconv.Itoa(cfg.ListeningPort))
	srv, err := server.New(addr, tlsCfg, mgr,
		server.WithLogger(logger),
		server.WithMetrics(reg),
		server.WithAllowedNetworks(allowed),
		server.WithReadTimeout(cfg.ReadTimeout),
		server.WithTimeNow(appCtx.TimeNow),
	)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(appCtx.Ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.MetricsAddress != "" {
		shutdown, err := serveMetrics(cfg.MetricsAddress, reg, logger)
		if err != nil {
			return err
		}
		defer shutdown()
	}

	logger.Info("starting openme server",
		"version", appCtx.Version.Semantic, "firewall", fwType,
		"ports", portsString(ports), "dry_run", cfg.Debug)

	if err = srv.Serve(ctx); err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// newBuilder returns the rule builder for the firewall type. If initFirewall
// is set, the nftables table, set and chain are created if needed.
func newBuilder(
	fwType ftypes.FirewallType, ports []ftypes.PortSpec, initFirewall bool, logger *slog.Logger,
) (ftypes.Builder, error) {
	switch fwType {
	case ftypes.FirewallIPTables:
		return iptables.New(), nil
	case ftypes.FirewallNFTables:
		nft := nftables.New("", logger)
		if initFirewall {
			if err := nft.Init(ports); err != nil {
				return nil, fmt.Errorf("failed initializing nftables: %w", err)
			}
		}
		return nft, nil
	}

	return nil, fmt.Errorf("unsupported firewall type '%s'", fwType)
}

// serveMetrics starts an HTTP server that exposes the Prometheus metrics on
// /metrics. The returned function stops the server.
func serveMetrics(addr string, reg *metrics.Registry, logger *slog.Logger) (func(), error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed listening on metrics address %s: %w", addr, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", reg.Handler())
	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger = logger.With("component", "metrics")
	logger.Info("started metrics listener", "address", ln.Addr().String())

	done := make(chan struct{})
	go func() {
		defer close(done)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server error", "error", err.Error())
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			logger.Warn("failed shutting down metrics server", "error", err.Error())
		}
		<-done
	}, nil
}

func portsString(ports []ftypes.PortSpec) []string {
	s := make([]string, 0, len(ports))
	for _, p := range ports {
		s = append(s, p.String())
	}
	return s
}
