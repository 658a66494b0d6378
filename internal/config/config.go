// Package config provides the configuration schema, loader, hot-reload
// watcher and comparer registry for the paath recitation service.
package config

import (
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded from a
// YAML file using [Load] or [LoadFromReader].
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Reference  ReferenceConfig  `yaml:"reference"`
	Aligner    AlignerConfig    `yaml:"aligner"`
	Recitation RecitationConfig `yaml:"recitation"`
	Comparer   ComparerConfig   `yaml:"comparer"`
	Bus        BusConfig        `yaml:"bus"`
	MCP        MCPConfig        `yaml:"mcp"`
	Telemetry  TelemetryConfig  `yaml:"telemetry"`
	History    HistoryConfig    `yaml:"history"`
}

// ServerConfig holds network and logging settings.
type ServerConfig struct {
	// ListenAddr is the TCP address the HTTP server listens on. Default ":8080".
	ListenAddr string `yaml:"listen_addr"`

	// LogLevel controls verbosity. Default "info". Hot-reloadable.
	LogLevel LogLevel `yaml:"log_level"`

	// TLS enables HTTPS when set.
	TLS *TLSConfig `yaml:"tls"`
}

// TLSConfig holds TLS certificate paths for enabling HTTPS.
type TLSConfig struct {
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// ReferenceConfig locates the reference text.
type ReferenceConfig struct {
	// Path is a UTF-8 text file, one paragraph per line. When empty or
	// unreadable the built-in text is used.
	Path string `yaml:"path"`
}

// AlignerConfig tunes word matching. All fields are optional.
type AlignerConfig struct {
	// Strictness is one of "strict", "standard", "relaxed".
	Strictness string `yaml:"strictness"`

	// Lookahead is the number of reference words searched past the cursor
	// when repairing skips. Zero disables repair; nil means the default (3).
	Lookahead *int `yaml:"lookahead"`

	// FillerWords replaces the default hesitation word list.
	FillerWords []string `yaml:"filler_words"`

	// Scripts lists the Unicode script names kept by normalization, e.g.
	// ["Gurmukhi", "Devanagari"].
	Scripts []string `yaml:"scripts"`

	// OmissionRatio is the recited/reference word ratio below which an
	// omission warning is raised. Default 0.8.
	OmissionRatio float64 `yaml:"omission_ratio"`

	// ConsecutiveErrorThreshold is the run of substitution errors that
	// raises a warning. Default 3.
	ConsecutiveErrorThreshold int `yaml:"consecutive_error_threshold"`
}

// RecitationConfig holds per-session behaviour.
type RecitationConfig struct {
	// RealtimeFeedback processes interim recognizer hypotheses as they
	// arrive. When false only final hypotheses advance the tracker.
	// Default true.
	RealtimeFeedback *bool `yaml:"realtime_feedback"`
}

// Realtime reports the effective realtime feedback setting.
func (r RecitationConfig) Realtime() bool {
	return r.RealtimeFeedback == nil || *r.RealtimeFeedback
}

// ComparerConfig selects the comparison backends. Primary is tried first,
// then each fallback in order. The local aligner is appended as the final
// fallback unless it already appears in the chain.
type ComparerConfig struct {
	Primary        ComparerEntry        `yaml:"primary"`
	Fallbacks      []ComparerEntry      `yaml:"fallbacks"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
}

// Chain returns primary followed by the fallbacks.
func (c ComparerConfig) Chain() []ComparerEntry {
	return append([]ComparerEntry{c.Primary}, c.Fallbacks...)
}

// ComparerEntry configures one comparison backend. Name selects the factory
// in the [Registry].
type ComparerEntry struct {
	// Name is "local" or "remote", or any name registered by the embedder.
	Name string `yaml:"name"`

	// BaseURL is the remote comparison service address.
	BaseURL string `yaml:"base_url"`

	// Timeout bounds a single remote request. Default 5s.
	Timeout time.Duration `yaml:"timeout"`

	// Options holds backend-specific values not covered above.
	Options map[string]any `yaml:"options"`
}

// CircuitBreakerConfig tunes the breaker placed in front of each comparer.
type CircuitBreakerConfig struct {
	MaxFailures  int           `yaml:"max_failures"`
	ResetTimeout time.Duration `yaml:"reset_timeout"`
	HalfOpenMax  int           `yaml:"half_open_max"`
}

// BusConfig configures the NATS transcript bridge.
type BusConfig struct {
	// Enabled turns the bridge on.
	Enabled bool `yaml:"enabled"`

	// Embedded starts an in-process NATS server on Host:Port instead of
	// connecting to Servers.
	Embedded bool   `yaml:"embedded"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`

	// Servers is the NATS URL list used when Embedded is false, e.g.
	// "nats://localhost:4222".
	Servers  string `yaml:"servers"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Token    string `yaml:"token"`

	// ConnectTimeout bounds the initial connection. Default 2s.
	ConnectTimeout time.Duration `yaml:"connect_timeout"`

	// SessionID, when set, restricts the bridge to transcripts of that
	// speech session.
	SessionID string `yaml:"session_id"`

	// TranscriptSubject is the subscription subject. Default "stt.text.>".
	TranscriptSubject string `yaml:"transcript_subject"`

	// ProgressSubject receives snapshot JSON. Default "recitation.progress".
	ProgressSubject string `yaml:"progress_subject"`

	// RestartSubject restarts the tracker on any message. Default
	// "recitation.restart".
	RestartSubject string `yaml:"restart_subject"`
}

// MCPConfig configures the MCP tool server.
type MCPConfig struct {
	Enabled bool `yaml:"enabled"`

	// Path is the HTTP path of the streamable endpoint. Default "/mcp".
	Path string `yaml:"path"`
}

// TelemetryConfig configures OpenTelemetry resources.
type TelemetryConfig struct {
	// ServiceName is reported in telemetry. Default "paath".
	ServiceName string `yaml:"service_name"`

	// TraceExporter is "none", "stdout" or "otlp". Default "none".
	TraceExporter string `yaml:"trace_exporter"`

	// OTLPEndpoint is the collector address used by the otlp exporter.
	OTLPEndpoint string `yaml:"otlp_endpoint"`
	OTLPInsecure bool   `yaml:"otlp_insecure"`

	// SampleRatio is the fraction of traces sampled. Zero samples all.
	SampleRatio float64 `yaml:"sample_ratio"`
}

// HistoryConfig configures the recitation history log.
type HistoryConfig struct {
	// Path is the JSON lines file finished recitations are appended to.
	// Empty disables the log.
	Path string `yaml:"path"`
}

// Defaults applied by [ApplyDefaults].
const (
	DefaultListenAddr        = ":8080"
	DefaultTranscriptSubject = "stt.text.>"
	DefaultProgressSubject   = "recitation.progress"
	DefaultRestartSubject    = "recitation.restart"
	DefaultBusHost           = "127.0.0.1"
	DefaultBusPort           = 4222
	DefaultConnectTimeout    = 2 * time.Second
	DefaultMCPPath           = "/mcp"
	DefaultServiceName       = "paath"
)

// ApplyDefaults fills zero-valued fields with their defaults.
func ApplyDefaults(cfg *Config) {
	if cfg.Server.ListenAddr == "" {
		cfg.Server.ListenAddr = DefaultListenAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = LogInfo
	}
	if cfg.Aligner.Strictness == "" {
		cfg.Aligner.Strictness = "standard"
	}
	if cfg.Comparer.Primary.Name == "" {
		cfg.Comparer.Primary.Name = "local"
	}
	if cfg.Bus.Host == "" {
		cfg.Bus.Host = DefaultBusHost
	}
	if cfg.Bus.Port == 0 {
		cfg.Bus.Port = DefaultBusPort
	}
	if cfg.Bus.ConnectTimeout <= 0 {
		cfg.Bus.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.Bus.TranscriptSubject == "" {
		cfg.Bus.TranscriptSubject = DefaultTranscriptSubject
	}
	if cfg.Bus.ProgressSubject == "" {
		cfg.Bus.ProgressSubject = DefaultProgressSubject
	}
	if cfg.Bus.RestartSubject == "" {
		cfg.Bus.RestartSubject = DefaultRestartSubject
	}
	if cfg.MCP.Path == "" {
		cfg.MCP.Path = DefaultMCPPath
	}
	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = DefaultServiceName
	}
	if cfg.Telemetry.TraceExporter == "" {
		cfg.Telemetry.TraceExporter = "none"
	}
}
