package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/AaronLay10/EnharmonicGap/internal/api"
	"github.com/AaronLay10/EnharmonicGap/internal/config"
	"github.com/AaronLay10/EnharmonicGap/internal/events"
	"github.com/AaronLay10/EnharmonicGap/internal/metrics"
	"github.com/AaronLay10/EnharmonicGap/internal/mqtt"
	"github.com/AaronLay10/EnharmonicGap/internal/puzzle"
	"github.com/AaronLay10/EnharmonicGap/internal/telemetry"
	"github.com/AaronLay10/EnharmonicGap/internal/version"
)

const (
	mqttRetryInterval   = 5 * time.Second
	healthCheckInterval = 10 * time.Second
)

var serveBootstrapSeed int64

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the puzzle over HTTP and MQTT",
	Long: `Serve the HTTP API and, when enabled, the MQTT claim intake until
interrupted.

With --bootstrap, the given seed is initialized and the configured mint is
created with that seed as its authority before serving. This is mostly
useful with the memory storage driver.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().Int64Var(&serveBootstrapSeed, "bootstrap", -1, "Seed to initialize and authorize as mint authority on startup")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	events.SetOutput(os.Stdout)
	hostname, _ := os.Hostname()
	events.Emit("info", "system.startup", "enharmonic starting", map[string]interface{}{
		"service":  "enharmonic",
		"hostname": hostname,
		"pid":      os.Getpid(),
		"version":  version.Version,
		"storage":  cfg.Storage.Driver,
	})

	if err := api.InitAuth(); err != nil {
		return err
	}
	api.InitTLS()
	api.InitAlerts(cfg.Alerts.WebhookURL, cfg.Program.ID)
	api.SetMQTTState(false, !cfg.MQTT.Enabled)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, "enharmonic", version.Version, os.Stderr)
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(sctx); err != nil {
			log.Printf("telemetry: shutdown failed: %v", err)
		}
	}()

	rt, err := openRuntime(ctx, cfg)
	if err != nil {
		events.Emit("error", "system.error", "failed to open storage", map[string]interface{}{"error": err.Error()})
		return err
	}
	defer rt.close()

	if rt.pg != nil {
		api.SetPostgresState(true, false)
	}

	collector := metrics.New(cfg.Program.ID, api.Health{})
	engine, err := rt.engine(
		puzzle.WithObserver(collector),
		puzzle.WithObserver(api.AlertObserver{}),
	)
	if err != nil {
		return err
	}
	if serveBootstrapSeed >= 0 {
		if err := rt.bootstrap(ctx, engine, uint64(serveBootstrapSeed)); err != nil {
			return err
		}
	}
	api.SetEngineReady(true)
	api.StartAlertMonitor(ctx, time.Minute)

	server := api.NewServer(engine, rt.store, collector.Handler())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.ListenAndServe(gctx, cfg.HTTPPort())
	})
	if cfg.MQTT.Enabled {
		g.Go(func() error {
			runMQTT(gctx, cfg, engine)
			return nil
		})
	}
	if rt.pg != nil {
		g.Go(func() error {
			watchPostgres(gctx, rt.pg)
			return nil
		})
	}

	err = g.Wait()
	api.SetEngineReady(false)
	events.Emit("info", "system.shutdown", "enharmonic stopping", nil)
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// runMQTT connects to the broker, retrying until it succeeds or ctx ends,
// then tracks the connection for readiness until ctx ends.
func runMQTT(ctx context.Context, cfg *config.Config, engine *puzzle.Engine) {
	client := mqtt.NewClient(cfg.MQTT.Broker, cfg.MQTT.ClientID)
	sub := mqtt.NewClaimSubscriber(ctx, client, engine, cfg.MQTT.TopicPrefix)
	defer client.Disconnect()

	for !client.StartWithRetry(mqtt.ClaimTopic(cfg.MQTT.TopicPrefix), sub.Handler()) {
		api.SetMQTTState(false, false)
		select {
		case <-ctx.Done():
			return
		case <-time.After(mqttRetryInterval):
		}
	}

	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()
	for {
		api.SetMQTTState(client.IsConnected(), false)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

type pinger interface {
	Ping(ctx context.Context) error
}

func watchPostgres(ctx context.Context, p pinger) {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := p.Ping(pctx)
		cancel()
		if err != nil {
			log.Printf("postgres: ping failed: %v", err)
		}
		api.SetPostgresState(err == nil, false)
	}
}
