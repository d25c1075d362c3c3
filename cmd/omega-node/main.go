// Command omega-node runs one OMEGA node on ZeroMQ with Prometheus metrics
// and a gRPC control service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/VanDung-dev/OMEGA-Engine/api"
	"github.com/VanDung-dev/OMEGA-Engine/omega-engine/core"
	"github.com/VanDung-dev/OMEGA-Engine/omega-engine/monitoring"
	"github.com/VanDung-dev/OMEGA-Engine/omega-engine/network"
	"github.com/VanDung-dev/OMEGA-Engine/omega-engine/node"
)

// Config is the daemon config file layout.
type Config struct {
	Node    node.Config           `toml:"node"`
	Network network.NetworkConfig `toml:"network"`
	Control api.ServerConfig      `toml:"control"`
	Metrics MetricsConfig         `toml:"metrics"`
}

// MetricsConfig controls the Prometheus endpoint.
type MetricsConfig struct {
	Address string `toml:"address"`
}

func defaultConfig() Config {
	return Config{
		Node:    node.DefaultConfig(),
		Network: network.DefaultNetworkConfig(),
		Control: *api.DefaultServerConfig(),
		Metrics: MetricsConfig{Address: ":9100"},
	}
}

func loadConfig(path string) (Config, error) {
	cfg := defaultConfig()
	if path != "" {
		meta, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("load config: %w", err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return Config{}, fmt.Errorf("load config: unknown keys %v", undecoded)
		}
	}
	if err := cfg.Node.Finalize(); err != nil {
		return Config{}, err
	}
	// The network identity follows the node id unless set explicitly.
	if cfg.Node.ID != "" && cfg.Network.NodeID == network.DefaultNetworkConfig().NodeID {
		cfg.Network.NodeID = cfg.Node.ID
	}
	if cfg.Node.ID == "" {
		cfg.Node.ID = cfg.Network.NodeID
	}
	// Peers dial the advertised address; a wildcard host cannot be dialled.
	if isWildcardHost(cfg.Network.Host) && cfg.Network.Advertise == "" {
		return Config{}, fmt.Errorf("load config: network.advertise is required when host is %q", cfg.Network.Host)
	}
	return cfg, nil
}

func isWildcardHost(host string) bool {
	switch host {
	case "0.0.0.0", "::", "[::]", "*":
		return true
	}
	return false
}

func main() {
	configPath := flag.String("config", "", "path to the TOML config file")
	flag.Parse()

	logger := monitoring.InitLogger("omega-node")
	if err := run(*configPath, logger); err != nil {
		logger.Error().Err(err).Msg("omega-node stopped")
		os.Exit(1)
	}
}

func run(configPath string, logger zerolog.Logger) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics := api.NewMetrics("omega")

	netService := network.NewNetworkService(cfg.Network, logger)
	if err := netService.Start(); err != nil {
		return err
	}
	defer netService.Stop()

	n, err := node.New(cfg.Node, netService, node.WithLogger(logger), node.WithRecorder(metrics))
	if err != nil {
		return err
	}
	defer n.Close()

	auth, err := api.NewAuthenticatorFromEnv(cfg.Control.Auth)
	if err != nil {
		return err
	}
	if auth.IsEnabled() && cfg.Control.Auth.Token == "" && os.Getenv(api.EnvAuthToken) == "" {
		logger.Warn().Str("token", auth.GetToken()).Msg("generated control token")
	}

	g, ctx := errgroup.WithContext(ctx)

	if cfg.Metrics.Address != "" {
		metricsServer := api.NewMetricsServer(cfg.Metrics.Address, metrics)
		g.Go(metricsServer.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return metricsServer.Stop(shutdownCtx)
		})
	}

	if cfg.Control.Address != "" {
		control, err := api.NewServer(&cfg.Control, n,
			api.WithAuthenticator(auth),
			api.WithMetrics(metrics),
			api.WithNetwork(netService),
			api.WithServerLogger(logger),
		)
		if err != nil {
			return err
		}
		g.Go(control.Start)
		g.Go(func() error {
			<-ctx.Done()
			control.Stop()
			return nil
		})
	} else {
		// Without a control plane the daemon consumes its own inbox.
		g.Go(func() error { return receiveLoop(ctx, n, logger) })
	}

	g.Go(func() error { return refreshGauges(ctx, n, netService, metrics) })

	logger.Info().
		Str("id", n.ID()).
		Float64("omega", n.Frequency()).
		Str("control", cfg.Control.Address).
		Str("metrics", cfg.Metrics.Address).
		Msg("omega-node running")

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func receiveLoop(ctx context.Context, n *node.Node, logger zerolog.Logger) error {
	for {
		payload, err := n.Receive(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, core.ErrMalformedVector):
			continue
		case err != nil:
			return err
		case payload != nil:
			logger.Info().Int("bytes", len(payload)).Msg("payload delivered")
		}
	}
}

func refreshGauges(ctx context.Context, n *node.Node, ns *network.NetworkService, m *api.Metrics) error {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			m.UpdateWorkerPool(n.Stats().Pool)
			m.UpdatePeers(ns.GetStatus().PeerCount)
		}
	}
}
