package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/spf13/cobra"

	"github.com/nerolation/ethereum-interop-viz/internal/alerts"
	"github.com/nerolation/ethereum-interop-viz/internal/backend"
	"github.com/nerolation/ethereum-interop-viz/internal/config"
	"github.com/nerolation/ethereum-interop-viz/internal/dashboard"
	"github.com/nerolation/ethereum-interop-viz/internal/logger"
	"github.com/nerolation/ethereum-interop-viz/internal/metrics"
	"github.com/nerolation/ethereum-interop-viz/internal/poller"
	"github.com/nerolation/ethereum-interop-viz/internal/registry"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Poll the backend and serve the live dashboard",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger.Info("INIT", "Config loaded. Backend: %s, Network: %s", cfg.Backend.URL, cfg.Poller.Network)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	api := backend.NewClient(cfg.Backend.URL, cfg.Backend.TimeoutDuration())
	refresh := config.ParseDuration(cfg.Registry.RefreshInterval)

	clk := clock.New()

	networks := registry.NewNetworks(api, cfg.Registry.DefaultNetworks, cfg.Poller.Network, clk)
	clients := registry.NewClients(api, cfg.Registry.DefaultClients, clk)

	exporter := metrics.NewExporter(cfg.Dashboard.Prometheus.MetricsPrefix, api, clients)

	var dash *dashboard.Server
	p := poller.NewPoller(poller.Config{
		Interval:      cfg.Poller.IntervalDuration(),
		BatchSize:     cfg.Poller.BatchSize,
		DefaultWindow: cfg.Poller.DefaultWindow,
		MaxWindow:     cfg.Poller.MaxWindow,
	}, api, clk, exporter, broadcasterFunc(func() {
		if dash != nil {
			dash.BroadcastUpdate()
		}
	}))

	alertMgr := alerts.NewManager(cfg.Alerts, p, clients, clk)
	dash = dashboard.NewServer(cfg.Dashboard, p, networks, clients, alertMgr, exporter.Handler())

	logger.Info("INIT", "Starting slot poller...")
	p.Start(ctx, networks.Current())

	networks.Subscribe(func(c registry.NetworkChange) {
		p.SetNetwork(c.Current)
		dash.BroadcastUpdate()
	})
	clients.Subscribe(func(registry.ClientChange) {
		dash.BroadcastUpdate()
	})

	logger.Info("INIT", "Loading network and client registries...")
	networks.Start(ctx, refresh)
	clients.Start(ctx, refresh)

	dash.Start(ctx)
	alertMgr.Start(ctx)

	logger.Info("SYS", "Interop viz started... (Network: %s)", networks.Current())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case <-cmd.Context().Done():
	}

	logger.Info("SYS", "Shutting down gracefully...")
	cancel()

	time.Sleep(1 * time.Second)
	logger.Info("SYS", "Shutdown complete")
	return nil
}

type broadcasterFunc func()

func (f broadcasterFunc) BroadcastUpdate() { f() }
