// Package logging provides structured logging configuration using zerolog.
//
// Components never log through the global logger directly: they receive a
// zerolog.Logger at construction. Setup configures the root logger once at
// startup and Component derives the per-package loggers from it.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// LogLevel represents the logging level.
type LogLevel string

const (
	// LevelDebug logs debug messages and above.
	LevelDebug LogLevel = "debug"

	// LevelInfo logs info messages and above.
	LevelInfo LogLevel = "info"

	// LevelWarn logs warning messages and above.
	LevelWarn LogLevel = "warn"

	// LevelError logs error messages only.
	LevelError LogLevel = "error"
)

// Config holds logger configuration.
type Config struct {
	// Level is the minimum log level to output.
	Level LogLevel

	// Pretty enables human-readable console output (default: false for JSON).
	Pretty bool

	// Output is the writer to output logs to (default: os.Stderr).
	Output io.Writer
}

// DefaultConfig returns a default logger configuration.
func DefaultConfig() Config {
	return Config{
		Level:  LevelInfo,
		Pretty: false,
		Output: os.Stderr,
	}
}

// Component names used in the "component" field.
const (
	ComponentStore       = "kvstore"
	ComponentCache       = "cache"
	ComponentQuota       = "quota"
	ComponentRateLimit   = "ratelimit"
	ComponentEnforcement = "enforcement"
	ComponentAnalysis    = "analysis"
	ComponentGuard       = "guard"
	ComponentCLI         = "quotactl"
)

// Setup configures the global zerolog logger.
func Setup(cfg Config) zerolog.Logger {
	if cfg.Output == nil {
		cfg.Output = os.Stderr
	}

	// Set global log level
	level := parseLevel(cfg.Level)
	zerolog.SetGlobalLevel(level)

	// Configure output
	var output io.Writer = cfg.Output
	if cfg.Pretty {
		output = zerolog.ConsoleWriter{Out: cfg.Output}
	}

	// Create logger with timestamp
	logger := zerolog.New(output).With().Timestamp().Logger()

	// Set as global logger
	log.Logger = logger

	return logger
}

// parseLevel converts LogLevel to zerolog.Level.
func parseLevel(level LogLevel) zerolog.Level {
	switch strings.ToLower(string(level)) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// NewLogger derives a component logger from the root logger installed by
// Setup.
func NewLogger(component string) zerolog.Logger {
	return Component(log.Logger, component)
}

// Component derives a logger tagged with component from base.
func Component(base zerolog.Logger, component string) zerolog.Logger {
	return base.With().Str("component", component).Logger()
}

// Log Level Guidelines:
//
// Debug: Detailed information for debugging
//   - Cache hit/miss, key, TTL
//   - Quota and rate limit counter values
//   - Enforcement decisions (allowed, denied and why)
//
// Info: Normal operation events
//   - Administrative actions (quota reset, bonus, cache invalidation)
//   - Server startup/shutdown
//   - Store connection established
//
// Warn: Warning conditions that don't prevent operation
//   - Store unavailable, failing open (cache miss, quota/rate allow)
//   - Connection retry attempts
//   - Undecodable cache entries
//
// Error: Error conditions requiring attention
//   - Store unreachable at startup after all retries
//   - Usage charge failed after a successful handler
//   - Configuration errors
//
// Context Fields:
//   - request_id: Correlates all lines of one protected request
//   - user_id, tier, action: Request identity
//   - identifier: Rate limit subject (user id or client address)
//   - key: Store key
//   - count, limit: Counter state
//   - limit_type: Denying layer (rate, daily-quota, monthly-quota)
//   - ttl: Cache entry TTL
