package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/eugenenazirov/siteserver/internal/application"
	"github.com/eugenenazirov/siteserver/internal/config"
	"github.com/eugenenazirov/siteserver/internal/logging"
)

var signalNotify = signal.Notify

func main() {
	kingpinApp := kingpin.New("siteserver", "Serves a built web application with resolved configuration and security headers")
	overrides := parseFlags(kingpinApp, os.Args[1:])

	cfg, err := config.Load(overrides)
	if err != nil {
		panic(fmt.Sprintf("failed to load configuration: %v", err))
	}

	logger, err := logging.New(cfg.Env)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer func() {
		_ = logger.Sync()
	}()

	app, err := application.New(cfg, logger)
	if err != nil {
		logger.Fatal("failed to initialize application", zap.Error(err))
	}

	if err := app.Start(); err != nil {
		logger.Fatal("failed to start server", zap.Error(err))
	}

	shutdown(app.Server(), cfg.ShutdownGracePeriod, logger)
}

// parseFlags maps command-line flags onto config overrides. Flags the user
// did not pass stay nil so lower-precedence sources apply.
func parseFlags(kingpinApp *kingpin.Application, args []string) *config.CLIOverrides {
	var (
		sourceMapsSet, cspSet, telemetrySet, analyzeSet bool
		rpsSet, burstSet                                bool
	)

	configFile := kingpinApp.Flag("config", "Path to YAML configuration file").String()
	port := kingpinApp.Flag("port", "HTTP port exposed by the service").String()
	outputMode := kingpinApp.Flag("output", "Build output mode").Enum(string(config.OutputDefault), string(config.OutputStandalone))
	outputDir := kingpinApp.Flag("output-dir", "Build output directory").String()
	sourceMaps := kingpinApp.Flag("sourcemaps", "Serve *.map files").IsSetByUser(&sourceMapsSet).Bool()
	csp := kingpinApp.Flag("csp", "Send a strict Content-Security-Policy").IsSetByUser(&cspSet).Bool()
	telemetry := kingpinApp.Flag("telemetry", "Expose Prometheus metrics").IsSetByUser(&telemetrySet).Bool()
	analyze := kingpinApp.Flag("analyze", "Report bundle sizes of the build output").IsSetByUser(&analyzeSet).Bool()
	rateLimitRPS := kingpinApp.Flag("rate-limit-rps", "API requests per second allowed (set 0 to disable)").IsSetByUser(&rpsSet).Float64()
	rateLimitBurst := kingpinApp.Flag("rate-limit-burst", "Burst capacity for API rate limiter (set 0 to disable)").IsSetByUser(&burstSet).Int()

	kingpin.MustParse(kingpinApp.Parse(args))

	overrides := &config.CLIOverrides{
		ConfigFile: *configFile,
	}

	if *port != "" {
		overrides.Port = port
	}
	if *outputMode != "" {
		overrides.OutputMode = outputMode
	}
	if *outputDir != "" {
		overrides.OutputDir = outputDir
	}
	if sourceMapsSet {
		overrides.SourceMaps = sourceMaps
	}
	if cspSet {
		overrides.StrictCSP = csp
	}
	if telemetrySet {
		overrides.Telemetry = telemetry
	}
	if analyzeSet {
		overrides.Analyze = analyze
	}
	if rpsSet {
		overrides.RateLimitRPS = rateLimitRPS
	}
	if burstSet {
		overrides.RateLimitBurst = rateLimitBurst
	}

	return overrides
}

func shutdown(server *http.Server, timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("forced close failed", zap.Error(closeErr))
		}
	}
}
