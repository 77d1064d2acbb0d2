package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/Sternrassler/scan-quota/pkg/cache"
	"github.com/cockroachdb/errors"
)

// ErrInvalidConfig marks every configuration error.
var ErrInvalidConfig = errors.New("config: invalid configuration")

// FieldError is a validation failure of one field.
type FieldError struct {
	// Field is the dotted path of the field, e.g. "redis.op_timeout".
	Field   string
	Message string

	// Cause is the underlying error, if any.
	Cause error
}

func (e FieldError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Field, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationError collects every field error of a configuration. It
// matches ErrInvalidConfig and the causes of its field errors (notably
// quota.ErrPeriodMisconfiguration).
type ValidationError struct {
	Errors []FieldError
}

func (e ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "configuration validation failed: " + e.Errors[0].Error()
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "configuration validation failed with %d errors:", len(e.Errors))
	for _, fe := range e.Errors {
		sb.WriteString("\n  - ")
		sb.WriteString(fe.Error())
	}
	return sb.String()
}

// Is reports whether target is ErrInvalidConfig or the cause of a field
// error.
func (e ValidationError) Is(target error) bool {
	if target == ErrInvalidConfig {
		return true
	}
	for _, fe := range e.Errors {
		if fe.Cause != nil && errors.Is(fe.Cause, target) {
			return true
		}
	}
	return false
}

// invalid reports a single failed field as a ValidationError.
func invalid(field string, err error) error {
	return ValidationError{Errors: []FieldError{{Field: field, Cause: err}}}
}

// Validate checks cfg and returns a ValidationError listing every problem.
func Validate(cfg *Config) error {
	var errs []FieldError
	errs = append(errs, validateRedis(&cfg.Redis)...)
	errs = append(errs, validateCache(&cfg.Cache)...)
	errs = append(errs, validateQuota(cfg)...)
	errs = append(errs, validateRateLimit(cfg)...)
	errs = append(errs, validateLog(&cfg.Log)...)
	errs = append(errs, validateServer(&cfg.Server)...)

	if len(errs) > 0 {
		return ValidationError{Errors: errs}
	}
	return nil
}

func validateRedis(r *RedisConfig) []FieldError {
	var errs []FieldError
	if len(r.Addrs) == 0 {
		errs = append(errs, FieldError{Field: "redis.addrs", Message: "at least one address is required"})
	}
	for i, addr := range r.Addrs {
		if strings.TrimSpace(addr) == "" {
			errs = append(errs, FieldError{Field: fmt.Sprintf("redis.addrs[%d]", i), Message: "address cannot be empty"})
		}
	}
	if r.DB < 0 {
		errs = append(errs, FieldError{Field: "redis.db", Message: "must not be negative"})
	}
	if strings.ContainsAny(r.KeyPrefix, "*?[]\\ \t") {
		errs = append(errs, FieldError{Field: "redis.key_prefix", Message: "must not contain glob characters or whitespace"})
	}
	if r.OpTimeout <= 0 {
		errs = append(errs, FieldError{Field: "redis.op_timeout", Message: "must be positive"})
	}
	if r.PoolSize < 0 {
		errs = append(errs, FieldError{Field: "redis.pool_size", Message: "must not be negative"})
	}
	if r.ConnectAttempts < 0 {
		errs = append(errs, FieldError{Field: "redis.connect_attempts", Message: "must not be negative"})
	}
	return errs
}

func validateCache(c *CacheConfig) []FieldError {
	var errs []FieldError
	if c.DefaultTTL <= 0 {
		errs = append(errs, FieldError{Field: "cache.default_ttl", Message: "must be positive"})
	}
	for category, ttl := range c.CategoryTTL {
		field := "cache.category_ttl." + category
		if _, err := cache.CategoryPrefix(category); err != nil {
			errs = append(errs, FieldError{Field: field, Cause: err})
		}
		if ttl <= 0 {
			errs = append(errs, FieldError{Field: field, Message: "must be positive"})
		}
	}
	for category, fields := range c.IdentityFields {
		field := "cache.identity_fields." + category
		if _, err := cache.CategoryPrefix(category); err != nil {
			errs = append(errs, FieldError{Field: field, Cause: err})
		}
		if len(fields) == 0 {
			errs = append(errs, FieldError{Field: field, Message: "at least one field is required"})
		}
	}
	if c.BookkeepingTimeout < 0 {
		errs = append(errs, FieldError{Field: "cache.bookkeeping_timeout", Message: "must not be negative"})
	}
	return errs
}

func validateQuota(cfg *Config) []FieldError {
	lc, err := cfg.LedgerConfig()
	if err != nil {
		return []FieldError{{Field: "quota", Cause: err}}
	}
	if err := lc.Validate(); err != nil {
		return []FieldError{{Field: "quota", Cause: err}}
	}
	return nil
}

func validateRateLimit(cfg *Config) []FieldError {
	if err := cfg.RateRules().Validate(); err != nil {
		return []FieldError{{Field: "ratelimit", Cause: err}}
	}
	return nil
}

func validateLog(l *LogConfig) []FieldError {
	switch strings.ToLower(l.Level) {
	case "debug", "info", "warn", "warning", "error":
		return nil
	}
	return []FieldError{{Field: "log.level", Message: fmt.Sprintf("unknown level %q", l.Level)}}
}

func validateServer(s *ServerConfig) []FieldError {
	var errs []FieldError
	if s.ListenAddress == "" {
		errs = append(errs, FieldError{Field: "server.listen_address", Message: "is required"})
	}
	if s.ShutdownTimeout.Std() < time.Second {
		errs = append(errs, FieldError{Field: "server.shutdown_timeout", Message: "must be at least 1s"})
	}
	return errs
}
