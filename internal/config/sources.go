package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment variable names. Error messages name the offending variable.
const (
	envAppEnv             = "APP_ENV"
	envSiteURL            = "SITE_URL"
	envPort               = "PORT"
	envOutputMode         = "OUTPUT_MODE"
	envOutputDir          = "OUTPUT_DIR"
	envSourceMaps         = "SOURCEMAPS"
	envCSPEnabled         = "CSP_ENABLED"
	envTelemetryEnabled   = "TELEMETRY_ENABLED"
	envTelemetryNamespace = "TELEMETRY_NAMESPACE"
	envAnalyze            = "ANALYZE"
	envImageRemoteHosts   = "IMAGE_REMOTE_HOSTS"
	envRateLimitRPS       = "RATE_LIMIT_RPS"
	envRateLimitBurst     = "RATE_LIMIT_BURST"
)

// yamlConfig represents the YAML configuration file structure.
type yamlConfig struct {
	Env                  string        `yaml:"env"`
	SiteURL              string        `yaml:"site_url"`
	Port                 string        `yaml:"port"`
	OutputMode           string        `yaml:"output_mode"`
	OutputDir            string        `yaml:"output_dir"`
	SourceMaps           *bool         `yaml:"sourcemaps"`
	CSP                  *bool         `yaml:"csp"`
	ShutdownGracePeriod  string        `yaml:"shutdown_grace_period"`
	ReadHeaderTimeout    string        `yaml:"read_header_timeout"`
	WriteTimeout         string        `yaml:"write_timeout"`
	IdleTimeout          string        `yaml:"idle_timeout"`
	EnableRequestLogging *bool         `yaml:"enable_request_logging"`
	RateLimit            yamlRateLimit `yaml:"rate_limit"`
	Telemetry            yamlTelemetry `yaml:"telemetry"`
	Analyze              *bool         `yaml:"analyze"`
	Images               yamlImages    `yaml:"images"`
}

// yamlRateLimit represents the rate limit section in YAML.
type yamlRateLimit struct {
	RPS   *float64 `yaml:"rps"`
	Burst *int     `yaml:"burst"`
}

type yamlTelemetry struct {
	Enabled   *bool  `yaml:"enabled"`
	Namespace string `yaml:"namespace"`
}

type yamlImages struct {
	RemoteHosts []string `yaml:"remote_hosts"`
}

// loadFromFile loads configuration from a YAML file.
func loadFromFile(path string) (*yamlConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var yamlCfg yamlConfig
	if err := yaml.Unmarshal(data, &yamlCfg); err != nil {
		return nil, fmt.Errorf("parse YAML: %w", err)
	}

	return &yamlCfg, nil
}

// applyYAMLConfig copies every value present in the file onto the settings.
func applyYAMLConfig(s *settings, yamlCfg *yamlConfig) error {
	setString(&s.env, yamlCfg.Env)
	setString(&s.siteURL, yamlCfg.SiteURL)
	setString(&s.port, yamlCfg.Port)
	setString(&s.outputMode, yamlCfg.OutputMode)
	setString(&s.outputDir, yamlCfg.OutputDir)
	setString(&s.telemetryNamespace, yamlCfg.Telemetry.Namespace)
	setBool(&s.sourceMaps, yamlCfg.SourceMaps)
	setBool(&s.strictCSP, yamlCfg.CSP)
	setBool(&s.telemetry, yamlCfg.Telemetry.Enabled)
	setBool(&s.analyze, yamlCfg.Analyze)
	setBool(&s.enableRequestLogging, yamlCfg.EnableRequestLogging)

	if len(yamlCfg.Images.RemoteHosts) > 0 {
		s.imageRemoteHosts = yamlCfg.Images.RemoteHosts
	}
	if yamlCfg.RateLimit.RPS != nil {
		s.rateLimitRPS = *yamlCfg.RateLimit.RPS
	}
	if yamlCfg.RateLimit.Burst != nil {
		s.rateLimitBurst = *yamlCfg.RateLimit.Burst
	}

	durations := []struct {
		key   string
		raw   string
		field *time.Duration
	}{
		{"shutdown_grace_period", yamlCfg.ShutdownGracePeriod, &s.shutdownGracePeriod},
		{"read_header_timeout", yamlCfg.ReadHeaderTimeout, &s.readHeaderTimeout},
		{"write_timeout", yamlCfg.WriteTimeout, &s.writeTimeout},
		{"idle_timeout", yamlCfg.IdleTimeout, &s.idleTimeout},
	}
	for _, d := range durations {
		if d.raw == "" {
			continue
		}
		value, err := time.ParseDuration(d.raw)
		if err != nil || value < 0 {
			return invalid(d.key, "%q is not a duration", d.raw)
		}
		*d.field = value
	}

	return nil
}

// applyEnvConfig applies environment variable configuration. Unlike absent
// variables, malformed ones abort loading.
func applyEnvConfig(s *settings) error {
	if v, ok := lookupEnv(envAppEnv); ok {
		s.env = v
	}
	if v, ok := lookupEnv(envSiteURL); ok {
		s.siteURL = v
	}
	if v, ok := lookupEnv(envPort); ok {
		s.port = v
	}
	if v, ok := lookupEnv(envOutputMode); ok {
		s.outputMode = v
	}
	if v, ok := lookupEnv(envOutputDir); ok {
		s.outputDir = v
	}
	if v, ok := lookupEnv(envTelemetryNamespace); ok {
		s.telemetryNamespace = v
	}
	if v, ok := lookupEnv(envImageRemoteHosts); ok {
		s.imageRemoteHosts = strings.Split(v, ",")
	}

	bools := []struct {
		name  string
		field *bool
	}{
		{envSourceMaps, &s.sourceMaps},
		{envCSPEnabled, &s.strictCSP},
		{envTelemetryEnabled, &s.telemetry},
		{envAnalyze, &s.analyze},
	}
	for _, b := range bools {
		v, ok := lookupEnv(b.name)
		if !ok {
			continue
		}
		value, err := strconv.ParseBool(v)
		if err != nil {
			return invalid(b.name, "%q is not a boolean", v)
		}
		*b.field = value
	}

	if v, ok := lookupEnv(envRateLimitRPS); ok {
		value, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return invalid(envRateLimitRPS, "%q is not a number", v)
		}
		s.rateLimitRPS = value
	}
	if v, ok := lookupEnv(envRateLimitBurst); ok {
		value, err := strconv.Atoi(v)
		if err != nil {
			return invalid(envRateLimitBurst, "%q is not an integer", v)
		}
		s.rateLimitBurst = value
	}

	return nil
}

// lookupEnv treats blank variables as unset.
func lookupEnv(name string) (string, bool) {
	v := strings.TrimSpace(os.Getenv(name))
	return v, v != ""
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}
