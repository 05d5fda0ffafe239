package application

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/eugenenazirov/siteserver/internal/analyze"
	"github.com/eugenenazirov/siteserver/internal/api"
	"github.com/eugenenazirov/siteserver/internal/config"
	"github.com/eugenenazirov/siteserver/internal/headers"
	"github.com/eugenenazirov/siteserver/internal/telemetry"
	"github.com/eugenenazirov/siteserver/internal/web"
)

// App encapsulates the application dependencies and HTTP server.
type App struct {
	cfg     config.Config
	rule    headers.Rule
	router  http.Handler
	metrics *telemetry.Metrics
	report  *analyze.Report
	handler http.Handler
	logger  *zap.Logger
	server  *http.Server
}

// Option configures optional dependencies of New.
type Option func(*options)

type options struct {
	imageOpts []web.ImageOption
}

// WithImageOptions passes options through to the image handler.
func WithImageOptions(opts ...web.ImageOption) Option {
	return func(o *options) {
		o.imageOpts = append(o.imageOpts, opts...)
	}
}

// New initializes the application with all dependencies from the provided configuration.
func New(cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	app := &App{
		cfg:    cfg,
		rule:   headers.Build(cfg.StrictCSP),
		logger: logger,
	}

	handler := api.NewHandler(cfg.Public())
	app.router = api.NewRouter(handler, logger,
		api.WithLogging(cfg.EnableRequestLogging),
		api.WithRateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
	)

	if cfg.Analyzer != nil {
		report, err := analyze.ScanDir(cfg.StaticRoot(), analyze.Options{
			TopN:       cfg.Analyzer.TopN,
			SourceMaps: cfg.SourceMaps,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to analyze build output: %w", err)
		}
		report.Log(logger)
		app.report = &report
	}

	if cfg.Telemetry != nil {
		app.metrics = telemetry.New(*cfg.Telemetry)
	}

	imageOpts := append([]web.ImageOption{web.WithSourceMaps(cfg.SourceMaps)}, o.imageOpts...)
	images := web.NewImageHandler(cfg.Images, cfg.StaticRoot(), logger, imageOpts...)
	app.handler = BuildRootHandler(app, images)
	app.server = NewServer(cfg, app.handler)

	logger.Info("configuration resolved",
		zap.String("site_url", cfg.SiteURL.String()),
		zap.String("output_mode", string(cfg.OutputMode)),
		zap.String("static_root", cfg.StaticRoot()),
		zap.Bool("sourcemaps", cfg.SourceMaps),
		zap.Bool("strict_csp", cfg.StrictCSP),
		zap.Bool("telemetry", cfg.Telemetry != nil),
		zap.Bool("analyzer", cfg.Analyzer != nil),
	)

	return app, nil
}

// BuildRootHandler routes /api/ to the API router and everything else to the
// site handlers behind the security header rule. Add-ons are mounted only
// when their configuration sections are present.
func BuildRootHandler(app *App, images http.Handler) http.Handler {
	site := http.NewServeMux()
	site.Handle("GET /_image", images)
	if app.report != nil {
		site.Handle("GET "+app.cfg.Analyzer.ReportPath, app.report.Handler())
	}
	if app.metrics != nil {
		site.Handle("GET "+app.metrics.Path(), app.metrics.Handler())
	}
	site.Handle("/", web.NewStaticHandler(app.cfg.StaticRoot(), app.cfg.SourceMaps))

	mux := http.NewServeMux()
	mux.Handle("/api/", app.router)
	mux.Handle("/", api.Wrap(headers.Middleware(app.rule, site), app.logger, app.cfg.EnableRequestLogging))

	var root http.Handler = mux
	if app.metrics != nil {
		root = app.metrics.Instrument(root)
	}
	return root
}

// NewServer creates and configures an HTTP server from the provided configuration.
func NewServer(cfg config.Config, handler http.Handler) *http.Server {
	addr := cfg.Port
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}

	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: cfg.ReadHeaderTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
	}
}

// Start starts the HTTP server in a goroutine and logs the listening address.
func (a *App) Start() error {
	go func() {
		a.logger.Info("server listening", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Fatal("server error", zap.Error(err))
		}
	}()
	return nil
}

// Server returns the HTTP server instance for shutdown handling.
func (a *App) Server() *http.Server {
	return a.server
}

// Handler returns the root HTTP handler.
func (a *App) Handler() http.Handler {
	return a.handler
}
