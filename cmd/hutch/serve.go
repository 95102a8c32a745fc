package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cuemby/hutch/pkg/api"
	"github.com/cuemby/hutch/pkg/auth"
	"github.com/cuemby/hutch/pkg/config"
	"github.com/cuemby/hutch/pkg/events"
	"github.com/cuemby/hutch/pkg/log"
	"github.com/cuemby/hutch/pkg/metrics"
	"github.com/cuemby/hutch/pkg/policy"
	"github.com/cuemby/hutch/pkg/proxy"
	"github.com/cuemby/hutch/pkg/runtime"
	"github.com/cuemby/hutch/pkg/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gateway",
	Long: `Start the session gateway: the REST API, the preview proxy, the
event hub, and the background reaper and crash monitor, all on one
HTTP listener.

Configuration is layered: built-in defaults, then the optional YAML
file given with --config, then HUTCH_* environment variables.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		return runServe(configPath)
	},
}

func init() {
	serveCmd.Flags().String("config", "", "Path to YAML configuration file")
}

func runServe(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	log.Init(log.Config{
		Level:      log.Level(cfg.Log.Level),
		JSONOutput: cfg.Log.JSON,
	})
	logger := log.WithComponent("serve")
	logger.Info().
		Str("version", Version).
		Str("environment", cfg.Environment).
		Msg("Starting gateway")

	metrics.SetVersion(Version)
	metrics.BuildInfo.WithLabelValues(Version, Commit).Set(1)

	if cfg.DevBypassActive() {
		logger.Warn().Msg("Development auth bypass is ACTIVE; all requests run as the dev identity")
	}

	// Policy store client. No connection to verify up front; the store
	// is poked per request and auth fails closed while it is down.
	client := policy.NewClient(cfg.Policy.BaseURL, cfg.Policy.ServiceKey, cfg.Policy.Timeout)
	metrics.RegisterComponent("policy", true, cfg.Policy.BaseURL)

	driver, err := runtime.NewDockerDriver()
	if err != nil {
		metrics.RegisterComponent("runtime", false, err.Error())
		return fmt.Errorf("failed to connect to container runtime: %w", err)
	}
	defer driver.Close()
	metrics.RegisterComponent("runtime", true, "docker")

	// Best effort: a missing network is created, a missing image is
	// pulled. Failure here only means the first session start pays the
	// cost instead.
	bootCtx := context.Background()
	if err := driver.EnsureNetwork(bootCtx, cfg.Worker.Network); err != nil {
		logger.Warn().Err(err).Str("network", cfg.Worker.Network).Msg("Failed to ensure worker network")
	}
	if err := driver.EnsureImage(bootCtx, cfg.Worker.Image); err != nil {
		logger.Warn().Err(err).Str("image", cfg.Worker.Image).Msg("Failed to pre-pull worker image")
	}

	broker := events.NewBroker()
	broker.Start()

	manager, err := session.NewManager(cfg.Session, cfg.Worker, cfg.Server.PublicURL, driver, broker)
	if err != nil {
		return fmt.Errorf("failed to create session manager: %w", err)
	}

	reaper := session.NewReaper(manager)
	reaper.Start()

	monitor := session.NewMonitor(manager, driver)
	monitor.Start()

	collector := metrics.NewCollector(manager)
	collector.Start()

	authn := auth.NewAuthenticator(client, cfg.DevBypassActive())
	mw := auth.NewMiddleware(authn, client, manager)
	hub := events.NewHub(broker, originChecker(cfg.CORS.AllowedOrigins))
	engine := proxy.NewEngine(manager.PortFor)

	server := api.NewServer(cfg, manager, mw, engine, hub)
	errCh := make(chan error, 1)
	go func() {
		if err := server.Start(); err != nil {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case err := <-errCh:
		logger.Error().Err(err).Msg("HTTP server failed")
	}

	// Drain in-flight requests first, then stop the background loops,
	// then tear down every live session so no worker containers are
	// left behind.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP server shutdown incomplete")
	}

	reaper.Stop()
	monitor.Stop()
	collector.Stop()

	drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancelDrain()
	manager.StopAll(drainCtx)

	broker.Stop()

	logger.Info().Msg("Shutdown complete")
	return nil
}

// originChecker builds the WebSocket origin check from the CORS
// allowlist. Non-browser clients send no Origin header and always pass.
func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}
