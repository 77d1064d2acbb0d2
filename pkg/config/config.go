package config

import (
	"time"

	"github.com/Sternrassler/scan-quota/pkg/analysis"
	"github.com/Sternrassler/scan-quota/pkg/cache"
	"github.com/Sternrassler/scan-quota/pkg/kvstore"
	"github.com/Sternrassler/scan-quota/pkg/logging"
	"github.com/Sternrassler/scan-quota/pkg/quota"
	"github.com/Sternrassler/scan-quota/pkg/ratelimit"
	"github.com/cockroachdb/errors"
)

// Config is the root configuration.
type Config struct {
	Redis     RedisConfig     `yaml:"redis"`
	Cache     CacheConfig     `yaml:"cache"`
	Quota     QuotaConfig     `yaml:"quota"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Log       LogConfig       `yaml:"log"`
	Server    ServerConfig    `yaml:"server"`
}

// RedisConfig configures the shared store.
type RedisConfig struct {
	// Addrs lists one standalone address or several cluster seeds.
	Addrs    []string `yaml:"addrs"`
	Username string   `yaml:"username"`
	Password string   `yaml:"password"`
	DB       int      `yaml:"db"`

	// KeyPrefix namespaces every key written by this service.
	KeyPrefix string `yaml:"key_prefix"`

	// OpTimeout bounds each store round-trip.
	OpTimeout   Duration `yaml:"op_timeout"`
	DialTimeout Duration `yaml:"dial_timeout"`
	PoolSize    int      `yaml:"pool_size"`

	// ConnectAttempts is how often startup pings the store before giving up.
	ConnectAttempts int `yaml:"connect_attempts"`
}

// CacheConfig configures the result cache.
type CacheConfig struct {
	DefaultTTL         Duration            `yaml:"default_ttl"`
	CategoryTTL        map[string]Duration `yaml:"category_ttl"`
	IdentityFields     map[string][]string `yaml:"identity_fields"`
	VolatileFields     []string            `yaml:"volatile_fields"`
	BookkeepingTimeout Duration            `yaml:"bookkeeping_timeout"`
}

// QuotaConfig configures the quota ledger. Tiers maps
// tier -> action -> window -> limit.
type QuotaConfig struct {
	DefaultTier string                                 `yaml:"default_tier"`
	Periods     map[string][]string                    `yaml:"periods"`
	Tiers       map[string]map[string]map[string]int64 `yaml:"tiers"`
}

// RuleConfig is one fixed-window rate limit.
type RuleConfig struct {
	Limit  int64    `yaml:"limit"`
	Window Duration `yaml:"window"`
}

// RateLimitConfig configures the rate limiter.
type RateLimitConfig struct {
	Default RuleConfig            `yaml:"default"`
	Actions map[string]RuleConfig `yaml:"actions"`
}

// AnalysisConfig configures the analysis invoker.
type AnalysisConfig struct {
	Timeout Duration `yaml:"timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// ServerConfig configures the operational HTTP endpoint of quotactl serve.
type ServerConfig struct {
	ListenAddress   string   `yaml:"listen_address"`
	ShutdownTimeout Duration `yaml:"shutdown_timeout"`
}

// ClientConfig returns the Redis connection settings.
func (c *Config) ClientConfig() kvstore.ClientConfig {
	cc := kvstore.DefaultClientConfig()
	cc.Addrs = c.Redis.Addrs
	cc.Username = c.Redis.Username
	cc.Password = c.Redis.Password
	cc.DB = c.Redis.DB
	if c.Redis.DialTimeout > 0 {
		cc.DialTimeout = c.Redis.DialTimeout.Std()
	}
	if c.Redis.PoolSize > 0 {
		cc.PoolSize = c.Redis.PoolSize
	}
	return cc
}

// StoreOptions returns the RedisStore options.
func (c *Config) StoreOptions() kvstore.Options {
	return kvstore.Options{
		Prefix:    c.Redis.KeyPrefix,
		OpTimeout: c.Redis.OpTimeout.Std(),
	}
}

// RetryConfig returns the startup connection retry settings.
func (c *Config) RetryConfig() kvstore.RetryConfig {
	rc := kvstore.DefaultRetryConfig()
	if c.Redis.ConnectAttempts > 0 {
		rc.MaxAttempts = c.Redis.ConnectAttempts
	}
	return rc
}

// CacheManagerConfig returns the cache manager settings.
func (c *Config) CacheManagerConfig() cache.Config {
	cc := cache.DefaultConfig()
	cc.DefaultTTL = c.Cache.DefaultTTL.Std()
	if c.Cache.BookkeepingTimeout > 0 {
		cc.BookkeepingTimeout = c.Cache.BookkeepingTimeout.Std()
	}
	if len(c.Cache.CategoryTTL) > 0 {
		cc.CategoryTTL = make(map[string]time.Duration, len(c.Cache.CategoryTTL))
		for category, ttl := range c.Cache.CategoryTTL {
			cc.CategoryTTL[category] = ttl.Std()
		}
	}
	cc.IdentityFields = c.Cache.IdentityFields
	cc.VolatileFields = c.Cache.VolatileFields
	return cc
}

// LedgerConfig converts the quota section. Unknown granularity names are
// reported as quota.ErrPeriodMisconfiguration.
func (c *Config) LedgerConfig() (quota.Config, error) {
	out := quota.Config{
		Periods:     make(quota.PeriodTable, len(c.Quota.Periods)),
		Limits:      make(quota.Limits, len(c.Quota.Tiers)),
		DefaultTier: c.Quota.DefaultTier,
	}

	for action, names := range c.Quota.Periods {
		windows := make([]quota.Granularity, 0, len(names))
		for _, name := range names {
			g, err := quota.ParseGranularity(name)
			if err != nil {
				return quota.Config{}, errors.Wrapf(err, "periods.%s", action)
			}
			windows = append(windows, g)
		}
		out.Periods[action] = windows
	}

	for tier, actions := range c.Quota.Tiers {
		tierLimits := make(map[string]quota.ActionLimits, len(actions))
		for action, windows := range actions {
			limits := make(quota.ActionLimits, len(windows))
			for name, limit := range windows {
				g, err := quota.ParseGranularity(name)
				if err != nil {
					return quota.Config{}, errors.Wrapf(err, "tiers.%s.%s", tier, action)
				}
				limits[g] = limit
			}
			tierLimits[action] = limits
		}
		out.Limits[tier] = tierLimits
	}
	return out, nil
}

// RateRules returns the rate limiter rules.
func (c *Config) RateRules() ratelimit.Rules {
	rules := ratelimit.Rules{
		Default: ratelimit.Rule{Limit: c.RateLimit.Default.Limit, Window: c.RateLimit.Default.Window.Std()},
		Actions: make(map[string]ratelimit.Rule, len(c.RateLimit.Actions)),
	}
	for action, rule := range c.RateLimit.Actions {
		rules.Actions[action] = ratelimit.Rule{Limit: rule.Limit, Window: rule.Window.Std()}
	}
	return rules
}

// InvokerConfig returns the analysis invoker settings.
func (c *Config) InvokerConfig() analysis.Config {
	return analysis.Config{Timeout: c.Analysis.Timeout.Std()}
}

// LoggingConfig returns the logger settings.
func (c *Config) LoggingConfig() logging.Config {
	lc := logging.DefaultConfig()
	lc.Level = logging.LogLevel(c.Log.Level)
	lc.Pretty = c.Log.Pretty
	return lc
}
