package telemetry

import (
	"fmt"
	"time"
)

// Config contains the telemetry configuration for flexhook.
type Config struct {
	// ServiceName is the name reported in traces.
	ServiceName string `yaml:"service_name" toml:"service_name"`

	// ServiceVersion is the version reported in traces.
	ServiceVersion string `yaml:"service_version" toml:"service_version"`

	// Environment specifies the deployment environment (dev, ci, prod).
	Environment string `yaml:"environment" toml:"environment"`

	Logging LoggingConfig `yaml:"logging" toml:"logging"`
	Tracing TracingConfig `yaml:"tracing" toml:"tracing"`
	Metrics MetricsConfig `yaml:"metrics" toml:"metrics"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	// Level sets the minimum log level (trace, debug, info, warn, error, fatal).
	Level string `yaml:"level" toml:"level"`

	// Format specifies the log format (console, json).
	Format string `yaml:"format" toml:"format"`

	// Output specifies where logs are written (stdout, stderr, file path).
	Output string `yaml:"output" toml:"output"`

	// EnableCaller adds file:line caller information to logs.
	EnableCaller bool `yaml:"enable_caller" toml:"enable_caller"`

	// TimeFormat specifies the timestamp format (unix, unixms, rfc3339).
	TimeFormat string `yaml:"time_format" toml:"time_format"`
}

// TracingConfig configures tracing.
type TracingConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`

	// Exporter specifies the trace exporter (otlp, stdout, none).
	Exporter string `yaml:"exporter" toml:"exporter"`

	// Endpoint is the OTLP collector endpoint, e.g. "localhost:4317".
	Endpoint string `yaml:"endpoint" toml:"endpoint"`

	// SamplingRate is the trace sampling rate (0.0 to 1.0).
	SamplingRate float64 `yaml:"sampling_rate" toml:"sampling_rate"`

	MaxExportBatchSize int           `yaml:"max_export_batch_size" toml:"max_export_batch_size"`
	ExportTimeout      time.Duration `yaml:"export_timeout" toml:"export_timeout"`

	// Headers are additional headers for the OTLP exporter.
	Headers map[string]string `yaml:"headers" toml:"headers"`

	// Insecure disables TLS for the exporter connection.
	Insecure bool `yaml:"insecure" toml:"insecure"`
}

// MetricsConfig configures metrics collection.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled" toml:"enabled"`

	// ListenAddress is the address for the metrics HTTP endpoint.
	ListenAddress string `yaml:"listen_address" toml:"listen_address"`

	// Path is the HTTP path for metrics (default: /metrics).
	Path string `yaml:"path" toml:"path"`

	// Namespace is the metrics namespace prefix.
	Namespace string `yaml:"namespace" toml:"namespace"`

	// DefaultHistogramBuckets are the apply latency buckets in seconds.
	DefaultHistogramBuckets []float64 `yaml:"buckets" toml:"buckets"`
}

// DefaultConfig returns a default telemetry configuration. Tracing and the
// metrics server are off; a CLI run is short-lived.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "flexhook",
		ServiceVersion: "dev",
		Environment:    "development",
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "console",
			Output:     "stderr",
			TimeFormat: "rfc3339",
		},
		Tracing: TracingConfig{
			Enabled:            false,
			Exporter:           "none",
			SamplingRate:       1.0,
			MaxExportBatchSize: 512,
			ExportTimeout:      10 * time.Second,
			Headers:            make(map[string]string),
			Insecure:           true,
		},
		Metrics: MetricsConfig{
			Enabled:       true,
			ListenAddress: ":9090",
			Path:          "/metrics",
			Namespace:     "flexhook",
			DefaultHistogramBuckets: []float64{
				0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0,
			},
		},
	}
}

// DevelopmentConfig returns a configuration with debug logging and stdout
// traces.
func DevelopmentConfig() *Config {
	cfg := DefaultConfig()
	cfg.Logging.Level = "debug"
	cfg.Logging.EnableCaller = true
	cfg.Tracing.Enabled = true
	cfg.Tracing.Exporter = "stdout"
	return cfg
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	if c.ServiceName == "" {
		return fmt.Errorf("service name is required")
	}

	validLevels := map[string]bool{
		"trace": true, "debug": true, "info": true,
		"warn": true, "error": true, "fatal": true,
	}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("invalid log level: %s", c.Logging.Level)
	}

	if c.Logging.Format != "console" && c.Logging.Format != "json" {
		return fmt.Errorf("invalid log format: %s (must be 'console' or 'json')", c.Logging.Format)
	}

	validExporters := map[string]bool{"otlp": true, "stdout": true, "none": true}
	if c.Tracing.Enabled && !validExporters[c.Tracing.Exporter] {
		return fmt.Errorf("invalid trace exporter: %s", c.Tracing.Exporter)
	}
	if c.Tracing.Enabled && c.Tracing.Exporter == "otlp" && c.Tracing.Endpoint == "" {
		return fmt.Errorf("otlp exporter requires an endpoint")
	}

	if c.Tracing.SamplingRate < 0 || c.Tracing.SamplingRate > 1 {
		return fmt.Errorf("trace sampling rate must be between 0 and 1, got: %f", c.Tracing.SamplingRate)
	}

	if c.Metrics.Enabled && c.Metrics.Namespace == "" {
		return fmt.Errorf("metrics namespace is required when metrics are enabled")
	}

	return nil
}
