package config

import (
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/Sternrassler/scan-quota/pkg/quota"
	"github.com/Sternrassler/scan-quota/pkg/ratelimit"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

const sampleYAML = `
redis:
  addrs: ["redis-a:6379", "redis-b:6379"]
  key_prefix: prod
  op_timeout: 100ms
cache:
  default_ttl: 7d
  category_ttl:
    cosmetics: 1d12h
  identity_fields:
    food: [barcode]
quota:
  default_tier: free
  periods:
    ai-question: [daily, monthly]
    scan: [monthly]
  tiers:
    free:
      ai-question: {daily: 3, monthly: 60}
      scan: {monthly: 25}
    premium:
      ai-question: {daily: -1, monthly: -1}
      scan: {monthly: -1}
ratelimit:
  default: {limit: 100, window: 60s}
  actions:
    ai-question: {limit: 10, window: 1m}
log:
  level: debug
`

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, Validate(cfg))

	lc, err := cfg.LedgerConfig()
	require.NoError(t, err)
	assert.Equal(t, quota.DefaultPeriods(), lc.Periods)
	assert.Equal(t, quota.DefaultLimits(), lc.Limits)
	assert.Equal(t, "free", lc.DefaultTier)

	assert.Equal(t, ratelimit.DefaultRules(), cfg.RateRules())
	assert.Equal(t, []string{DefaultRedisAddr}, cfg.Redis.Addrs)
	assert.Equal(t, DefaultKeyPrefix, cfg.StoreOptions().Prefix)
}

func TestParse(t *testing.T) {
	cfg, err := Parse([]byte(sampleYAML))
	require.NoError(t, err)

	assert.Equal(t, []string{"redis-a:6379", "redis-b:6379"}, cfg.ClientConfig().Addrs)
	assert.Equal(t, 100*time.Millisecond, cfg.StoreOptions().OpTimeout)
	assert.Equal(t, "prod", cfg.StoreOptions().Prefix)

	cc := cfg.CacheManagerConfig()
	assert.Equal(t, 7*24*time.Hour, cc.DefaultTTL)
	assert.Equal(t, 36*time.Hour, cc.CategoryTTL["cosmetics"])
	assert.Equal(t, []string{"barcode"}, cc.IdentityFields["food"])

	lc, err := cfg.LedgerConfig()
	require.NoError(t, err)
	assert.Equal(t, []quota.Granularity{quota.Daily, quota.Monthly}, lc.Periods["ai-question"])
	assert.Equal(t, int64(3), lc.Limits["free"]["ai-question"][quota.Daily])
	assert.Equal(t, quota.Unlimited, lc.Limits["premium"]["scan"][quota.Monthly])

	rules := cfg.RateRules()
	assert.Equal(t, ratelimit.Rule{Limit: 10, Window: time.Minute}, rules.For("ai-question"))
	assert.Equal(t, ratelimit.Rule{Limit: 100, Window: time.Minute}, rules.For("scan"))

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, DefaultListenAddress, cfg.Server.ListenAddress, "defaults fill missing sections")
}

func TestParse_UnknownField(t *testing.T) {
	_, err := Parse([]byte("redis:\n  adrs: [x]\n"))
	assert.ErrorIs(t, err, ErrInvalidConfig)

	var verr ValidationError
	require.ErrorAs(t, err, &verr)
	require.Len(t, verr.Errors, 1)
	assert.Equal(t, "yaml", verr.Errors[0].Field)
	assert.Contains(t, err.Error(), "adrs")
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestValidate_PeriodMisconfiguration(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "tier names unmapped action",
			yaml: `
quota:
  periods: {scan: [monthly]}
  tiers:
    free: {scan: {monthly: 25}, search: {monthly: 5}}
`,
		},
		{
			name: "unknown granularity",
			yaml: `
quota:
  periods: {scan: [weekly]}
  tiers:
    free: {scan: {weekly: 25}}
`,
		},
		{
			name: "missing window limit",
			yaml: `
quota:
  periods: {ai-question: [daily, monthly]}
  tiers:
    free: {ai-question: {daily: 3}}
`,
		},
		{
			name: "default tier without limits",
			yaml: `
quota:
  default_tier: gold
  periods: {scan: [monthly]}
  tiers:
    free: {scan: {monthly: 25}}
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.ErrorIs(t, err, quota.ErrPeriodMisconfiguration)
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}
}

func TestValidate_CollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Redis.OpTimeout = 0
	cfg.Redis.DB = -1
	cfg.Log.Level = "verbose"
	cfg.RateLimit.Default.Limit = 0

	err := Validate(cfg)
	require.Error(t, err)

	var verr ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Len(t, verr.Errors, 4)
	assert.ErrorIs(t, err, ratelimit.ErrInvalidRule)
	assert.NotErrorIs(t, err, quota.ErrPeriodMisconfiguration)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"SCANQUOTA_REDIS_ADDR":         "r1:6379, r2:6379",
		"SCANQUOTA_REDIS_PASSWORD":     "secret",
		"SCANQUOTA_REDIS_DB":           "3",
		"SCANQUOTA_REDIS_KEY_PREFIX":   "staging",
		"SCANQUOTA_LOG_LEVEL":          "warn",
		"SCANQUOTA_CACHE_DEFAULT_TTL":  "2d",
		"SCANQUOTA_UNRELATED_VARIABLE": "ignored",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, ApplyEnv(cfg, lookup))

	assert.Equal(t, []string{"r1:6379", "r2:6379"}, cfg.Redis.Addrs)
	assert.Equal(t, "secret", cfg.Redis.Password)
	assert.Equal(t, 3, cfg.Redis.DB)
	assert.Equal(t, "staging", cfg.Redis.KeyPrefix)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 48*time.Hour, cfg.Cache.DefaultTTL.Std())

	env["SCANQUOTA_REDIS_DB"] = "three"
	err := ApplyEnv(Default(), lookup)
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.ErrorIs(t, err, strconv.ErrSyntax)
	assert.Contains(t, err.Error(), "SCANQUOTA_REDIS_DB")
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scanquota.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o600))

	t.Setenv("SCANQUOTA_REDIS_KEY_PREFIX", "fromenv")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "fromenv", cfg.Redis.KeyPrefix, "environment wins over the file")
	assert.Equal(t, "debug", cfg.Log.Level)

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestDuration_YAML(t *testing.T) {
	var v struct {
		A Duration `yaml:"a"`
		B Duration `yaml:"b"`
		C Duration `yaml:"c"`
	}
	require.NoError(t, yaml.Unmarshal([]byte("a: 7d\nb: 90\nc: 1h30m\n"), &v))
	assert.Equal(t, 7*24*time.Hour, v.A.Std())
	assert.Equal(t, 90*time.Second, v.B.Std())
	assert.Equal(t, 90*time.Minute, v.C.Std())

	assert.Error(t, yaml.Unmarshal([]byte("a: soon\n"), &v))

	out, err := yaml.Marshal(struct {
		D Duration `yaml:"d"`
	}{Duration(36 * time.Hour)})
	require.NoError(t, err)
	assert.Equal(t, "d: 1d12h\n", string(out))
}
