package config

import (
	"errors"
	"fmt"
	"math"
	"net"
	"net/url"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	defaultPort               = "8080"
	defaultOutputDir          = "dist"
	defaultRateLimitRPS       = 25.0
	defaultRateLimitBurst     = 50
	defaultTelemetryNamespace = "siteserver"
	defaultMetricsPath        = "/metrics"
	defaultReportPath         = "/_analyze"
	defaultReportTopN         = 20
)

var (
	// ErrMissingRequired indicates a required flag was not provided by any source.
	ErrMissingRequired = errors.New("required value is missing")
	// ErrInvalidValue indicates a flag was provided but could not be parsed or validated.
	ErrInvalidValue = errors.New("invalid value")
)

var metricNamespacePattern = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Environment is the deployment environment the process runs in.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvProduction  Environment = "production"
	EnvTest        Environment = "test"
)

// OutputMode selects how the build output is laid out on disk.
type OutputMode string

const (
	OutputDefault    OutputMode = "default"
	OutputStandalone OutputMode = "standalone"
)

// Config is the fully resolved runtime configuration. It is built once by Load
// and only read afterwards. Optional sections are nil when their flag is off.
type Config struct {
	Env     Environment
	SiteURL *url.URL

	Port                 string
	ShutdownGracePeriod  time.Duration
	ReadHeaderTimeout    time.Duration
	WriteTimeout         time.Duration
	IdleTimeout          time.Duration
	EnableRequestLogging bool
	RateLimitRPS         float64
	RateLimitBurst       int

	OutputMode OutputMode
	OutputDir  string
	SourceMaps bool
	StrictCSP  bool

	Images     ImagesConfig
	Standalone *StandaloneConfig
	Telemetry  *TelemetryConfig
	Analyzer   *AnalyzerConfig
}

// ImagesConfig controls the image endpoint.
type ImagesConfig struct {
	Formats         []string
	DeviceSizes     []int
	ImageSizes      []int
	RemotePatterns  []RemotePattern
	MinimumCacheTTL time.Duration
}

// RemotePattern allows remote images from a host. A leading "*." matches any
// subdomain.
type RemotePattern struct {
	Protocol string
	Hostname string
}

// StandaloneConfig is set only for the standalone output mode.
type StandaloneConfig struct {
	ServerDir   string
	PublicDir   string
	TracingRoot string
}

// TelemetryConfig is set only when telemetry is enabled.
type TelemetryConfig struct {
	Namespace   string
	MetricsPath string
}

// AnalyzerConfig is set only when bundle analysis is enabled.
type AnalyzerConfig struct {
	ReportPath string
	TopN       int
}

// StaticRoot returns the directory static assets are served from.
func (c Config) StaticRoot() string {
	if c.Standalone != nil {
		return c.Standalone.PublicDir
	}
	return c.OutputDir
}

// AllowedWidths returns every width the image endpoint accepts, device sizes first.
func (c ImagesConfig) AllowedWidths() []int {
	out := make([]int, 0, len(c.DeviceSizes)+len(c.ImageSizes))
	out = append(out, c.DeviceSizes...)
	return append(out, c.ImageSizes...)
}

// Matches reports whether the URL is allowed by the pattern.
func (p RemotePattern) Matches(u *url.URL) bool {
	if p.Protocol != "" && !strings.EqualFold(p.Protocol, u.Scheme) {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if suffix, ok := strings.CutPrefix(p.Hostname, "*."); ok {
		return strings.HasSuffix(host, "."+suffix)
	}
	return host == p.Hostname
}

// settings holds values collected from every source before validation.
type settings struct {
	env                  string
	siteURL              string
	port                 string
	outputMode           string
	outputDir            string
	sourceMaps           bool
	strictCSP            bool
	telemetry            bool
	telemetryNamespace   string
	analyze              bool
	imageRemoteHosts     []string
	rateLimitRPS         float64
	rateLimitBurst       int
	shutdownGracePeriod  time.Duration
	readHeaderTimeout    time.Duration
	writeTimeout         time.Duration
	idleTimeout          time.Duration
	enableRequestLogging bool
}

// CLIOverrides holds command-line flag overrides. Nil fields were not set.
type CLIOverrides struct {
	ConfigFile     string
	Port           *string
	OutputMode     *string
	OutputDir      *string
	SourceMaps     *bool
	StrictCSP      *bool
	Telemetry      *bool
	Analyze        *bool
	RateLimitRPS   *float64
	RateLimitBurst *int
}

// Load extracts configuration from multiple sources with precedence:
// CLI flags > Environment variables > YAML config > Defaults
func Load(overrides *CLIOverrides) (Config, error) {
	s := defaultSettings()

	if overrides != nil && overrides.ConfigFile != "" {
		yamlCfg, err := loadFromFile(overrides.ConfigFile)
		if err != nil {
			return Config{}, fmt.Errorf("load YAML config: %w", err)
		}
		if err := applyYAMLConfig(&s, yamlCfg); err != nil {
			return Config{}, fmt.Errorf("apply YAML config: %w", err)
		}
	}

	if err := applyEnvConfig(&s); err != nil {
		return Config{}, err
	}

	if overrides != nil {
		applyCLIOverrides(&s, overrides)
	}

	return resolve(s)
}

func defaultSettings() settings {
	return settings{
		port:                 defaultPort,
		outputMode:           string(OutputDefault),
		outputDir:            defaultOutputDir,
		telemetryNamespace:   defaultTelemetryNamespace,
		rateLimitRPS:         defaultRateLimitRPS,
		rateLimitBurst:       defaultRateLimitBurst,
		shutdownGracePeriod:  10 * time.Second,
		readHeaderTimeout:    5 * time.Second,
		writeTimeout:         15 * time.Second,
		idleTimeout:          60 * time.Second,
		enableRequestLogging: true,
	}
}

func applyCLIOverrides(s *settings, overrides *CLIOverrides) {
	if overrides.Port != nil && *overrides.Port != "" {
		s.port = *overrides.Port
	}
	if overrides.OutputMode != nil && *overrides.OutputMode != "" {
		s.outputMode = *overrides.OutputMode
	}
	if overrides.OutputDir != nil && *overrides.OutputDir != "" {
		s.outputDir = *overrides.OutputDir
	}
	if overrides.SourceMaps != nil {
		s.sourceMaps = *overrides.SourceMaps
	}
	if overrides.StrictCSP != nil {
		s.strictCSP = *overrides.StrictCSP
	}
	if overrides.Telemetry != nil {
		s.telemetry = *overrides.Telemetry
	}
	if overrides.Analyze != nil {
		s.analyze = *overrides.Analyze
	}
	if overrides.RateLimitRPS != nil {
		s.rateLimitRPS = *overrides.RateLimitRPS
	}
	if overrides.RateLimitBurst != nil {
		s.rateLimitBurst = *overrides.RateLimitBurst
	}
}

// resolve validates the collected settings and builds the Config field by field.
func resolve(s settings) (Config, error) {
	var cfg Config

	switch env := Environment(strings.ToLower(s.env)); env {
	case "":
		return Config{}, missing(envAppEnv)
	case EnvDevelopment, EnvProduction, EnvTest:
		cfg.Env = env
	default:
		return Config{}, invalid(envAppEnv, "%q is not one of development, production, test", s.env)
	}

	if s.siteURL == "" {
		return Config{}, missing(envSiteURL)
	}
	siteURL, err := url.Parse(s.siteURL)
	if err != nil || (siteURL.Scheme != "http" && siteURL.Scheme != "https") || siteURL.Host == "" {
		return Config{}, invalid(envSiteURL, "%q is not an absolute http(s) URL", s.siteURL)
	}
	cfg.SiteURL = siteURL

	if s.port == "" {
		return Config{}, missing(envPort)
	}
	if err := validatePort(s.port); err != nil {
		return Config{}, err
	}
	cfg.Port = s.port

	if math.IsNaN(s.rateLimitRPS) || math.IsInf(s.rateLimitRPS, 0) {
		return Config{}, invalid(envRateLimitRPS, "must be a finite number, got %v", s.rateLimitRPS)
	}
	if s.rateLimitRPS < 0 {
		return Config{}, invalid(envRateLimitRPS, "must be >= 0, got %v", s.rateLimitRPS)
	}
	if s.rateLimitBurst < 0 {
		return Config{}, invalid(envRateLimitBurst, "must be >= 0, got %d", s.rateLimitBurst)
	}
	cfg.RateLimitRPS = s.rateLimitRPS
	cfg.RateLimitBurst = s.rateLimitBurst

	cfg.ShutdownGracePeriod = s.shutdownGracePeriod
	cfg.ReadHeaderTimeout = s.readHeaderTimeout
	cfg.WriteTimeout = s.writeTimeout
	cfg.IdleTimeout = s.idleTimeout
	cfg.EnableRequestLogging = s.enableRequestLogging

	if s.outputDir == "" {
		return Config{}, missing(envOutputDir)
	}
	cfg.OutputDir = filepath.Clean(s.outputDir)
	cfg.SourceMaps = s.sourceMaps
	cfg.StrictCSP = s.strictCSP

	images, err := resolveImages(s.imageRemoteHosts)
	if err != nil {
		return Config{}, err
	}
	cfg.Images = images

	switch mode := OutputMode(strings.ToLower(s.outputMode)); mode {
	case "", OutputDefault:
		cfg.OutputMode = OutputDefault
	case OutputStandalone:
		cfg.OutputMode = OutputStandalone
		cfg.Standalone = &StandaloneConfig{
			ServerDir:   filepath.Join(cfg.OutputDir, "standalone"),
			PublicDir:   filepath.Join(cfg.OutputDir, "standalone", "public"),
			TracingRoot: cfg.OutputDir,
		}
	default:
		return Config{}, invalid(envOutputMode, "%q is not one of default, standalone", s.outputMode)
	}

	if s.telemetry {
		if !metricNamespacePattern.MatchString(s.telemetryNamespace) {
			return Config{}, invalid(envTelemetryNamespace, "%q is not a valid metric namespace", s.telemetryNamespace)
		}
		cfg.Telemetry = &TelemetryConfig{
			Namespace:   s.telemetryNamespace,
			MetricsPath: defaultMetricsPath,
		}
	}

	if s.analyze {
		cfg.Analyzer = &AnalyzerConfig{
			ReportPath: defaultReportPath,
			TopN:       defaultReportTopN,
		}
	}

	return cfg, nil
}

// validatePort accepts a bare port or a [host]:port listen address.
func validatePort(raw string) error {
	port := raw
	if strings.Contains(raw, ":") {
		_, p, err := net.SplitHostPort(raw)
		if err != nil {
			return invalid(envPort, "%q is not a host:port address", raw)
		}
		port = p
	}
	n, err := strconv.Atoi(port)
	if err != nil || n < 1 || n > 65535 {
		return invalid(envPort, "%q is not a port between 1 and 65535", raw)
	}
	return nil
}

func resolveImages(hosts []string) (ImagesConfig, error) {
	images := ImagesConfig{
		Formats:         []string{"image/avif", "image/webp"},
		DeviceSizes:     []int{640, 750, 828, 1080, 1200, 1920, 2048, 3840},
		ImageSizes:      []int{16, 32, 48, 64, 96, 128, 256, 384},
		MinimumCacheTTL: 60 * time.Second,
	}
	for _, host := range hosts {
		host = strings.ToLower(strings.TrimSpace(host))
		if host == "" {
			continue
		}
		name := strings.TrimPrefix(host, "*.")
		if name == "" || strings.ContainsAny(name, "/:*") {
			return ImagesConfig{}, invalid(envImageRemoteHosts, "%q is not a hostname pattern", host)
		}
		images.RemotePatterns = append(images.RemotePatterns, RemotePattern{
			Protocol: "https",
			Hostname: host,
		})
	}
	return images, nil
}

func missing(flag string) error {
	return fmt.Errorf("%s: %w", flag, ErrMissingRequired)
}

func invalid(flag, format string, args ...any) error {
	return fmt.Errorf("%s: %w: %s", flag, ErrInvalidValue, fmt.Sprintf(format, args...))
}
