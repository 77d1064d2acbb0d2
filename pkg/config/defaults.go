package config

import (
	"time"

	"github.com/Sternrassler/scan-quota/pkg/cache"
	"github.com/Sternrassler/scan-quota/pkg/kvstore"
	"github.com/Sternrassler/scan-quota/pkg/quota"
	"github.com/Sternrassler/scan-quota/pkg/ratelimit"
)

// Default values for configuration fields.
const (
	DefaultRedisAddr       = "localhost:6379"
	DefaultKeyPrefix       = "scanquota"
	DefaultOpTimeout       = kvstore.DefaultOpTimeout
	DefaultDialTimeout     = 2 * time.Second
	DefaultPoolSize        = 20
	DefaultConnectAttempts = 5

	DefaultCacheTTL           = cache.DefaultTTL
	DefaultBookkeepingTimeout = time.Second

	DefaultTier = "free"

	DefaultAnalysisTimeout = 30 * time.Second

	DefaultLogLevel = "info"

	DefaultListenAddress   = "127.0.0.1:9090"
	DefaultShutdownTimeout = 10 * time.Second
)

// Default returns a complete, valid configuration with the free and
// premium tiers.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// ApplyDefaults fills unset fields. The quota section is replaced by the
// standard tiers only when it is entirely empty; an explicit tier table is
// never merged with the defaults.
func ApplyDefaults(cfg *Config) {
	if len(cfg.Redis.Addrs) == 0 {
		cfg.Redis.Addrs = []string{DefaultRedisAddr}
	}
	if cfg.Redis.KeyPrefix == "" {
		cfg.Redis.KeyPrefix = DefaultKeyPrefix
	}
	if cfg.Redis.OpTimeout == 0 {
		cfg.Redis.OpTimeout = Duration(DefaultOpTimeout)
	}
	if cfg.Redis.DialTimeout == 0 {
		cfg.Redis.DialTimeout = Duration(DefaultDialTimeout)
	}
	if cfg.Redis.PoolSize == 0 {
		cfg.Redis.PoolSize = DefaultPoolSize
	}
	if cfg.Redis.ConnectAttempts == 0 {
		cfg.Redis.ConnectAttempts = DefaultConnectAttempts
	}

	if cfg.Cache.DefaultTTL == 0 {
		cfg.Cache.DefaultTTL = Duration(DefaultCacheTTL)
	}
	if cfg.Cache.BookkeepingTimeout == 0 {
		cfg.Cache.BookkeepingTimeout = Duration(DefaultBookkeepingTimeout)
	}

	if len(cfg.Quota.Periods) == 0 && len(cfg.Quota.Tiers) == 0 {
		cfg.Quota.Periods = periodsToYAML(quota.DefaultPeriods())
		cfg.Quota.Tiers = limitsToYAML(quota.DefaultLimits())
		if cfg.Quota.DefaultTier == "" {
			cfg.Quota.DefaultTier = DefaultTier
		}
	}

	if cfg.RateLimit.Default.Limit == 0 && cfg.RateLimit.Default.Window == 0 {
		rules := ratelimit.DefaultRules()
		cfg.RateLimit.Default = RuleConfig{Limit: rules.Default.Limit, Window: Duration(rules.Default.Window)}
		if cfg.RateLimit.Actions == nil {
			cfg.RateLimit.Actions = make(map[string]RuleConfig, len(rules.Actions))
			for action, rule := range rules.Actions {
				cfg.RateLimit.Actions[action] = RuleConfig{Limit: rule.Limit, Window: Duration(rule.Window)}
			}
		}
	}

	if cfg.Analysis.Timeout == 0 {
		cfg.Analysis.Timeout = Duration(DefaultAnalysisTimeout)
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = DefaultLogLevel
	}

	if cfg.Server.ListenAddress == "" {
		cfg.Server.ListenAddress = DefaultListenAddress
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(DefaultShutdownTimeout)
	}
}

func periodsToYAML(p quota.PeriodTable) map[string][]string {
	out := make(map[string][]string, len(p))
	for action, windows := range p {
		names := make([]string, len(windows))
		for i, g := range windows {
			names[i] = string(g)
		}
		out[action] = names
	}
	return out
}

func limitsToYAML(l quota.Limits) map[string]map[string]map[string]int64 {
	out := make(map[string]map[string]map[string]int64, len(l))
	for tier, actions := range l {
		out[tier] = make(map[string]map[string]int64, len(actions))
		for action, windows := range actions {
			out[tier][action] = make(map[string]int64, len(windows))
			for g, limit := range windows {
				out[tier][action][string(g)] = limit
			}
		}
	}
	return out
}
