package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/spf13/pflag"
)

// Transports understood by the evaluation client.
const (
	TransportHTTP = "http"
	TransportGRPC = "grpc"
)

// #region config

// Config holds everything the binaries need to wire an orchestrator.
type Config struct {
	DBPath      string
	Collection  string
	ServerAddr  string
	Transport   string
	OptionsPath string

	CallTimeout            time.Duration
	RequestsPerSecond      float64
	ServerSelectionTimeout time.Duration

	MetricsAddr    string
	LogLevel       string
	LogDevelopment bool
}

// Default returns the defaults overridden by any environment variables set.
func Default() Config {
	return Config{
		DBPath:                 envOr("EVALBOARD_DB", "evalboard.db"),
		Collection:             envOr("EVALBOARD_COLLECTION", "evaluations"),
		ServerAddr:             envOr("EVAL_SERVER_ADDR", "http://localhost:5000"),
		Transport:              envOr("EVAL_TRANSPORT", TransportHTTP),
		OptionsPath:            envOr("EVALBOARD_OPTIONS", ""),
		CallTimeout:            envDuration("EVALBOARD_CALL_TIMEOUT", 0),
		RequestsPerSecond:      envFloat("EVALBOARD_RPS", 0),
		ServerSelectionTimeout: envDuration("EVALBOARD_SERVER_SELECTION_TIMEOUT", 5*time.Second),
		MetricsAddr:            envOr("EVALBOARD_METRICS_ADDR", ""),
		LogLevel:               envOr("EVALBOARD_LOG_LEVEL", "info"),
		LogDevelopment:         envOr("EVALBOARD_LOG_DEV", "") == "true",
	}
}

// #endregion config

// #region flags

// AddFlags binds the config fields to fs. Current values become the flag defaults.
func (c *Config) AddFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.DBPath, "db", c.DBPath, "path to the SQLite database")
	fs.StringVar(&c.Collection, "collection", c.Collection, "collection holding evaluation records")
	fs.StringVar(&c.ServerAddr, "server", c.ServerAddr, "evaluation server address")
	fs.StringVar(&c.Transport, "transport", c.Transport, "evaluation transport (http or grpc)")
	fs.StringVar(&c.OptionsPath, "options", c.OptionsPath, "YAML or JSON options `file`; fetched from the server when empty")
	fs.DurationVar(&c.CallTimeout, "call-timeout", c.CallTimeout, "timeout for a single evaluation, 0 for none")
	fs.Float64Var(&c.RequestsPerSecond, "rps", c.RequestsPerSecond, "maximum evaluation requests per second, 0 for unlimited")
	fs.DurationVar(&c.ServerSelectionTimeout, "server-selection-timeout", c.ServerSelectionTimeout, "how long to wait for the database")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "serve Prometheus metrics on this address")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level (debug, info, warn, error)")
	fs.BoolVar(&c.LogDevelopment, "log-dev", c.LogDevelopment, "human readable console logs")
}

// #endregion flags

// #region validate

// Validate rejects configurations the binaries cannot run with.
func (c Config) Validate() error {
	switch {
	case c.DBPath == "":
		return fmt.Errorf("config: database path is required")
	case c.Collection == "":
		return fmt.Errorf("config: collection is required")
	case c.ServerAddr == "":
		return fmt.Errorf("config: server address is required")
	case c.Transport != TransportHTTP && c.Transport != TransportGRPC:
		return fmt.Errorf("config: unknown transport %q", c.Transport)
	case c.CallTimeout < 0:
		return fmt.Errorf("config: negative call timeout %s", c.CallTimeout)
	case c.ServerSelectionTimeout < 0:
		return fmt.Errorf("config: negative server selection timeout %s", c.ServerSelectionTimeout)
	case c.RequestsPerSecond < 0:
		return fmt.Errorf("config: negative request rate %g", c.RequestsPerSecond)
	}
	return nil
}

// #endregion validate

// #region helpers
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if d, err := time.ParseDuration(os.Getenv(key)); err == nil {
		return d
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if f, err := strconv.ParseFloat(os.Getenv(key), 64); err == nil {
		return f
	}
	return fallback
}

// #endregion helpers
