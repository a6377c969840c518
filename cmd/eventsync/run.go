package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cuemby/eventsync/pkg/api"
	"github.com/cuemby/eventsync/pkg/app"
	"github.com/cuemby/eventsync/pkg/config"
	"github.com/cuemby/eventsync/pkg/events"
	"github.com/cuemby/eventsync/pkg/health"
	"github.com/cuemby/eventsync/pkg/loader"
	"github.com/cuemby/eventsync/pkg/log"
	"github.com/cuemby/eventsync/pkg/metrics"
	"github.com/cuemby/eventsync/pkg/mirror"
	"github.com/cuemby/eventsync/pkg/preload"
	"github.com/cuemby/eventsync/pkg/reconnect"
	"github.com/cuemby/eventsync/pkg/session"
	"github.com/cuemby/eventsync/pkg/storage"
	"github.com/cuemby/eventsync/pkg/telemetry"
	"github.com/cuemby/eventsync/pkg/transport"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to the event stream and keep mirrors in sync",
	Long: `Run the eventsync client until interrupted.

The client initializes the session, connects to the bus, subscribes every
mirrored subject and loads initial snapshots. Status, health and metrics are
served on --status-addr.

Examples:
  # Run against a local bus
  eventsync run --url ws://localhost:8080/bus --catalog configs/contracts.yaml

  # Run with a config file
  eventsync run -c eventsync.yaml`,
	RunE: runClient,
}

func init() {
	runCmd.Flags().String("url", "", "Websocket URL of the bus")
	runCmd.Flags().String("catalog", "", "Path to the contract catalog")
	runCmd.Flags().String("data-dir", "", "Directory for the mirror cache (empty disables it)")
	runCmd.Flags().String("status-addr", "", "Address for the status server (empty disables it)")
}

// applyRunFlags overlays explicitly set flags on cfg
func applyRunFlags(cmd *cobra.Command, cfg *config.Config) {
	if cmd.Flags().Changed("url") {
		cfg.URL, _ = cmd.Flags().GetString("url")
	}
	if cmd.Flags().Changed("data-dir") {
		cfg.DataDir, _ = cmd.Flags().GetString("data-dir")
	}
	if cmd.Flags().Changed("status-addr") {
		cfg.StatusAddr, _ = cmd.Flags().GetString("status-addr")
	}
}

func reconnectConfig(cfg *config.Config) reconnect.Config {
	return reconnect.Config{
		InitialDelay: cfg.Reconnect.InitialDelay,
		MaxDelay:     cfg.Reconnect.MaxDelay,
		Multiplier:   cfg.Reconnect.Multiplier,
		Jitter:       cfg.Reconnect.Jitter,
		MaxAttempts:  cfg.Reconnect.MaxAttempts,
	}
}

func newWebSocket(cfg *config.Config) *transport.WebSocket {
	settings := transport.DefaultWebSocketSettings()
	settings.Token = cfg.Token
	settings.Reconnect = reconnectConfig(cfg)
	return transport.NewWebSocket(settings)
}

func runClient(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyRunFlags(cmd, cfg)
	if cfg.URL == "" {
		return errors.New("no bus URL configured (--url or EVENTSYNC_URL)")
	}

	logger := log.WithComponent("main")
	metrics.SetVersion(Version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Endpoint:    cfg.Telemetry.Endpoint,
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: "eventsync",
		Version:     Version,
	})
	if err != nil {
		return err
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	index, err := loadIndex(cmd, cfg)
	if err != nil {
		metrics.UpdateComponent(metrics.ComponentCatalog, false, err.Error())
		return fmt.Errorf("failed to load contract catalog: %w", err)
	}

	var store mirror.Persister
	if cfg.DataDir != "" {
		bolt, err := storage.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open mirror cache: %w", err)
		}
		defer bolt.Close()
		store = bolt
		logger.Info().Str("path", bolt.Path()).Msg("mirror cache opened")
	}

	ws := newWebSocket(cfg)
	ws.SetValidator(index)

	monitor := health.NewMonitor(health.DefaultConfig())
	if bus, err := health.NewBusChecker(cfg.URL); err == nil {
		monitor.Add(metrics.ComponentBus, bus)
	}

	var snapshots loader.Loader
	if cfg.SnapshotURL != "" {
		snapshots = loader.NewHTTP(cfg.SnapshotURL, cfg.Token)
		probe := health.NewHTTPChecker(strings.TrimRight(cfg.SnapshotURL, "/") + "/health").WithBearer(cfg.Token)
		monitor.Add(metrics.ComponentSnapshots, probe)
	}
	monitor.Start(ctx)
	defer monitor.Stop()

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	queue := preload.NewQueue(cfg.Preload.MaxConcurrent)
	defer queue.Close()

	client, err := app.New(app.Options{
		URL:             cfg.URL,
		Scope:           cfg.Scope,
		Transport:       ws,
		Session:         session.NewJWTProvider(cfg.Token, session.WithSwitchedContext(cfg.SwitchedContext)),
		Index:           index,
		Loader:          snapshots,
		Store:           store,
		Queue:           queue,
		Events:          broker,
		DeltaBufferSize: cfg.Mirror.DeltaBufferSize,
	})
	if err != nil {
		return err
	}

	var srv *api.Server
	errCh := make(chan error, 1)
	if cfg.StatusAddr != "" {
		srv = api.NewServer(api.NewStatusServer(client, broker), cfg.Telemetry.Enabled)
		go func() {
			if err := srv.Start(cfg.StatusAddr); err != nil {
				errCh <- fmt.Errorf("status server error: %w", err)
			}
		}()
	}

	if err := client.Initialize(ctx); err != nil {
		if !errors.Is(err, reconnect.ErrReconnectExhausted) {
			return err
		}
		// offline: keep serving status until interrupted
		logger.Error().Err(err).Msg("bus unreachable, running offline")
	}

	logger.Info().Str("url", cfg.URL).Msg("eventsync is running")

	select {
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("stopping")
	}

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}
	return client.Destroy()
}
