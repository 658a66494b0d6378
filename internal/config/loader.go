package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"github.com/MrWong99/paath/internal/align"
	"gopkg.in/yaml.v3"
)

// KnownComparers lists the comparer names wired by the application.
// Used by [Validate] to warn about unrecognised names.
var KnownComparers = []string{"local", "remote"}

// Load reads the YAML configuration file at path and returns a validated
// [Config] with defaults applied. It is a convenience wrapper around
// [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies defaults and
// validates the result. An empty document yields the default config.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if tls := cfg.Server.TLS; tls != nil && (tls.CertFile == "" || tls.KeyFile == "") {
		errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
	}

	// Aligner
	errs = append(errs, validateAligner(cfg.Aligner)...)

	// Comparers
	for i, entry := range cfg.Comparer.Chain() {
		prefix := "comparer.primary"
		if i > 0 {
			prefix = fmt.Sprintf("comparer.fallbacks[%d]", i-1)
		}
		if entry.Name == "" {
			errs = append(errs, fmt.Errorf("%s.name is required", prefix))
			continue
		}
		if entry.Name == "remote" && entry.BaseURL == "" {
			errs = append(errs, fmt.Errorf("%s.base_url is required for the remote comparer", prefix))
		}
		if entry.Timeout < 0 {
			errs = append(errs, fmt.Errorf("%s.timeout must not be negative", prefix))
		}
		if !slices.Contains(KnownComparers, entry.Name) {
			slog.Warn("unknown comparer name; it must be registered before startup",
				"name", entry.Name,
				"known", KnownComparers,
			)
		}
	}
	cb := cfg.Comparer.CircuitBreaker
	if cb.MaxFailures < 0 || cb.HalfOpenMax < 0 || cb.ResetTimeout < 0 {
		errs = append(errs, errors.New("comparer.circuit_breaker values must not be negative"))
	}

	// Bus
	if cfg.Bus.Enabled {
		if !cfg.Bus.Embedded && cfg.Bus.Servers == "" {
			errs = append(errs, errors.New("bus.servers is required unless bus.embedded is set"))
		}
		if cfg.Bus.Port < -1 || cfg.Bus.Port > 65535 {
			errs = append(errs, fmt.Errorf("bus.port %d is out of range", cfg.Bus.Port))
		}
	}

	// MCP
	if cfg.MCP.Enabled && (cfg.MCP.Path == "" || cfg.MCP.Path[0] != '/') {
		errs = append(errs, fmt.Errorf("mcp.path %q must start with /", cfg.MCP.Path))
	}

	// Telemetry
	switch cfg.Telemetry.TraceExporter {
	case "", "none", "stdout":
	case "otlp":
		if cfg.Telemetry.OTLPEndpoint == "" {
			errs = append(errs, errors.New("telemetry.otlp_endpoint is required when trace_exporter is otlp"))
		}
	default:
		errs = append(errs, fmt.Errorf("telemetry.trace_exporter %q is invalid; valid values: none, stdout, otlp", cfg.Telemetry.TraceExporter))
	}
	if r := cfg.Telemetry.SampleRatio; r < 0 || r > 1 {
		errs = append(errs, fmt.Errorf("telemetry.sample_ratio %.2f is out of range [0, 1]", r))
	}

	return errors.Join(errs...)
}

func validateAligner(a AlignerConfig) []error {
	var errs []error
	if _, err := align.ParseStrictness(a.Strictness); err != nil {
		errs = append(errs, fmt.Errorf("aligner.strictness: %w", err))
	}
	if a.Lookahead != nil && *a.Lookahead < 0 {
		errs = append(errs, fmt.Errorf("aligner.lookahead %d must not be negative", *a.Lookahead))
	}
	if a.OmissionRatio < 0 || a.OmissionRatio > 1 {
		errs = append(errs, fmt.Errorf("aligner.omission_ratio %.2f is out of range [0, 1]", a.OmissionRatio))
	}
	if a.ConsecutiveErrorThreshold < 0 {
		errs = append(errs, fmt.Errorf("aligner.consecutive_error_threshold %d must not be negative", a.ConsecutiveErrorThreshold))
	}
	if len(a.Scripts) > 0 {
		if _, err := align.ScriptTables(a.Scripts); err != nil {
			errs = append(errs, fmt.Errorf("aligner.scripts: %w", err))
		}
	}
	return errs
}

// AlignerOptions converts the aligner section into [align.Option] values.
// The section must already have passed [Validate].
func (a AlignerConfig) AlignerOptions() []align.Option {
	var opts []align.Option
	if s, err := align.ParseStrictness(a.Strictness); err == nil {
		opts = append(opts, align.WithStrictness(s))
	}
	if a.Lookahead != nil {
		opts = append(opts, align.WithLookahead(*a.Lookahead))
	}
	if a.FillerWords != nil {
		opts = append(opts, align.WithFillerWords(a.FillerWords))
	}
	if len(a.Scripts) > 0 {
		opts = append(opts, align.WithScripts(a.Scripts))
	}
	if a.OmissionRatio > 0 {
		opts = append(opts, align.WithOmissionRatio(a.OmissionRatio))
	}
	if a.ConsecutiveErrorThreshold > 0 {
		opts = append(opts, align.WithConsecutiveErrorThreshold(a.ConsecutiveErrorThreshold))
	}
	return opts
}
