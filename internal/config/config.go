// Package config loads patchd configuration.
//
// Values come from built-in defaults, then an optional YAML or JSON file,
// then PATCHD_* environment variables. Values that fail semantic checks do
// not abort startup: Sanitize restores the default for the offending
// section and reports a warning for the caller to log.
package config

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/fyrsmithlabs/patchd/internal/classify"
	"github.com/fyrsmithlabs/patchd/internal/security"
	"go.uber.org/zap/zapcore"
)

// Analysis providers.
const (
	ProviderNone   = "none"
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
)

// bodyLimitRe matches sizes such as "512K", "2M" or "1MB".
var bodyLimitRe = regexp.MustCompile(`(?i)^\d+(?:\.\d+)?\s?(?:[KMGTPE]B?|B?)$`)

// Config is the complete patchd configuration.
type Config struct {
	Server    ServerConfig    `koanf:"server" json:"server"`
	Analysis  AnalysisConfig  `koanf:"analysis" json:"analysis"`
	AutoFix   AutoFixConfig   `koanf:"autofix" json:"autofix"`
	Reflexion ReflexionConfig `koanf:"reflexion" json:"reflexion"`
	Logging   LoggingConfig   `koanf:"logging" json:"logging"`
	Telemetry TelemetryConfig `koanf:"telemetry" json:"telemetry"`
}

// ServerConfig holds the HTTP listener settings.
type ServerConfig struct {
	Bind            string   `koanf:"bind" json:"bind"`
	Port            int      `koanf:"port" json:"port"`
	AllowLAN        bool     `koanf:"allow_lan" json:"allow_lan"`
	AllowedLANs     []string `koanf:"allowed_lans" json:"allowed_lans"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout" json:"shutdown_timeout"`
	RateLimit       float64  `koanf:"rate_limit" json:"rate_limit"` // requests/s on /v1/*
	BodyLimit       string   `koanf:"body_limit" json:"body_limit"`
}

// Network returns the bind settings in the form security validates.
func (s ServerConfig) Network() security.Network {
	return security.Network{
		Bind:        s.Bind,
		Port:        s.Port,
		AllowLAN:    s.AllowLAN,
		AllowedLANs: s.AllowedLANs,
	}
}

// Address returns host:port for the listener.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Bind, s.Port)
}

// AnalysisConfig selects the model used by /v1/analyze.
type AnalysisConfig struct {
	Provider    string   `koanf:"provider" json:"provider"`
	Model       string   `koanf:"model" json:"model"`
	BaseURL     string   `koanf:"base_url" json:"base_url"`
	APIKey      Secret   `koanf:"api_key" json:"api_key"`
	Temperature float64  `koanf:"temperature" json:"temperature"`
	RateLimit   float64  `koanf:"rate_limit" json:"rate_limit"`
	Timeout     Duration `koanf:"timeout" json:"timeout"`
}

// AutoFixConfig controls which suggestions are marked auto-applicable.
type AutoFixConfig struct {
	Enabled   bool     `koanf:"enabled" json:"enabled"`
	Whitelist []string `koanf:"whitelist" json:"whitelist"`
}

// ReflexionConfig controls the failure feedback loop.
type ReflexionConfig struct {
	Enabled         bool   `koanf:"enabled" json:"enabled"`
	RegistryPath    string `koanf:"registry_path" json:"registry_path"`
	ReportsDir      string `koanf:"reports_dir" json:"reports_dir"`
	MaxObservations int    `koanf:"max_observations" json:"max_observations"`
	WriteReports    bool   `koanf:"write_reports" json:"write_reports"`
}

// LoggingConfig holds the logger settings exposed in the file.
type LoggingConfig struct {
	Level  string `koanf:"level" json:"level"`
	Format string `koanf:"format" json:"format"`
}

// TelemetryConfig holds OpenTelemetry exporter settings.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled" json:"enabled"`
	ServiceName string  `koanf:"service_name" json:"service_name"`
	Endpoint    string  `koanf:"endpoint" json:"endpoint"`
	Protocol    string  `koanf:"protocol" json:"protocol"`
	Insecure    bool    `koanf:"insecure" json:"insecure"`
	SampleRate  float64 `koanf:"sample_rate" json:"sample_rate"`
	Prometheus  bool    `koanf:"prometheus" json:"prometheus"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: defaultServer(),
		Analysis: AnalysisConfig{
			Provider:    ProviderNone,
			Temperature: 0.2,
			RateLimit:   2,
			Timeout:     Duration(60 * time.Second),
		},
		AutoFix: AutoFixConfig{
			Whitelist: []string{string(classify.AlreadyApplied)},
		},
		Reflexion: ReflexionConfig{
			Enabled:         true,
			RegistryPath:    ".patchd/registry.json",
			ReportsDir:      ".patchd/reports",
			MaxObservations: 500,
		},
		Logging: LoggingConfig{Level: "info", Format: "json"},
		Telemetry: TelemetryConfig{
			ServiceName: "patchd",
			Endpoint:    "localhost:4317",
			Protocol:    "grpc",
			Insecure:    true,
			SampleRate:  1.0,
			Prometheus:  true,
		},
	}
}

func defaultServer() ServerConfig {
	return ServerConfig{
		Bind:            security.DefaultBind,
		Port:            security.DefaultPort,
		ShutdownTimeout: Duration(10 * time.Second),
		RateLimit:       20,
		BodyLimit:       "2M",
	}
}

// Sanitize replaces invalid values with defaults and returns one warning
// per replacement.
func Sanitize(cfg *Config) []string {
	def := Default()
	var warnings []string
	warn := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	if err := security.ValidateNetwork(cfg.Server.Network()); err != nil {
		warn("invalid server network settings, using %s:%d: %v", def.Server.Bind, def.Server.Port, err)
		cfg.Server.Bind = def.Server.Bind
		cfg.Server.Port = def.Server.Port
		cfg.Server.AllowLAN = false
		cfg.Server.AllowedLANs = nil
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = def.Server.ShutdownTimeout
	}
	if cfg.Server.RateLimit <= 0 {
		warn("server.rate_limit must be > 0, using %v", def.Server.RateLimit)
		cfg.Server.RateLimit = def.Server.RateLimit
	}
	if !bodyLimitRe.MatchString(cfg.Server.BodyLimit) {
		if cfg.Server.BodyLimit != "" {
			warn("invalid server.body_limit %q, using %s", cfg.Server.BodyLimit, def.Server.BodyLimit)
		}
		cfg.Server.BodyLimit = def.Server.BodyLimit
	}

	switch strings.ToLower(cfg.Analysis.Provider) {
	case ProviderNone, ProviderOpenAI, ProviderOllama:
		cfg.Analysis.Provider = strings.ToLower(cfg.Analysis.Provider)
	case "":
		cfg.Analysis.Provider = ProviderNone
	default:
		warn("unknown analysis.provider %q, using %s", cfg.Analysis.Provider, ProviderNone)
		cfg.Analysis.Provider = ProviderNone
	}
	if cfg.Analysis.Temperature < 0 || cfg.Analysis.Temperature > 2 {
		warn("analysis.temperature %v not in [0,2], using %v", cfg.Analysis.Temperature, def.Analysis.Temperature)
		cfg.Analysis.Temperature = def.Analysis.Temperature
	}
	if cfg.Analysis.RateLimit <= 0 {
		warn("analysis.rate_limit must be > 0, using %v", def.Analysis.RateLimit)
		cfg.Analysis.RateLimit = def.Analysis.RateLimit
	}
	if cfg.Analysis.Timeout <= 0 {
		cfg.Analysis.Timeout = def.Analysis.Timeout
	}

	whitelist := cfg.AutoFix.Whitelist[:0:0]
	for _, c := range cfg.AutoFix.Whitelist {
		if !classify.Classification(c).Valid() {
			warn("autofix.whitelist: unknown classification %q ignored", c)
			continue
		}
		whitelist = append(whitelist, c)
	}
	cfg.AutoFix.Whitelist = whitelist

	if cfg.Reflexion.MaxObservations <= 0 {
		warn("reflexion.max_observations must be > 0, using %d", def.Reflexion.MaxObservations)
		cfg.Reflexion.MaxObservations = def.Reflexion.MaxObservations
	}
	if cfg.Reflexion.RegistryPath == "" {
		cfg.Reflexion.RegistryPath = def.Reflexion.RegistryPath
	}
	if cfg.Reflexion.ReportsDir == "" {
		cfg.Reflexion.ReportsDir = def.Reflexion.ReportsDir
	}

	if !validLevel(cfg.Logging.Level) {
		warn("invalid logging.level %q, using %s", cfg.Logging.Level, def.Logging.Level)
		cfg.Logging.Level = def.Logging.Level
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "console" {
		warn("invalid logging.format %q, using %s", cfg.Logging.Format, def.Logging.Format)
		cfg.Logging.Format = def.Logging.Format
	}

	if cfg.Telemetry.Protocol != "grpc" && cfg.Telemetry.Protocol != "http" {
		warn("invalid telemetry.protocol %q, using %s", cfg.Telemetry.Protocol, def.Telemetry.Protocol)
		cfg.Telemetry.Protocol = def.Telemetry.Protocol
	}
	if cfg.Telemetry.SampleRate < 0 || cfg.Telemetry.SampleRate > 1 {
		warn("telemetry.sample_rate %v not in [0,1], using %v", cfg.Telemetry.SampleRate, def.Telemetry.SampleRate)
		cfg.Telemetry.SampleRate = def.Telemetry.SampleRate
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = def.Telemetry.ServiceName
	}
	return warnings
}

func validLevel(level string) bool {
	if strings.EqualFold(level, "trace") {
		return true
	}
	_, err := zapcore.ParseLevel(level)
	return err == nil
}
