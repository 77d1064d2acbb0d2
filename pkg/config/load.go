package config

import (
	"bytes"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SCANQUOTA_"

// Load reads the YAML file at path, applies defaults and environment
// overrides, and validates the result. An empty path starts from the
// defaults alone.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrapf(err, "read configuration file %q", path)
		}
		if err := decode(data, cfg); err != nil {
			return nil, errors.Wrapf(err, "parse configuration file %q", path)
		}
	}

	ApplyDefaults(cfg)

	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML, applies defaults and validates, without consulting
// the environment.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := decode(data, cfg); err != nil {
		return nil, err
	}
	ApplyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(data []byte, cfg *Config) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return invalid("yaml", err)
	}
	return nil
}

// ApplyEnv applies SCANQUOTA_* overrides read through lookup:
//
//	SCANQUOTA_REDIS_ADDR          comma-separated addresses
//	SCANQUOTA_REDIS_PASSWORD
//	SCANQUOTA_REDIS_DB
//	SCANQUOTA_REDIS_KEY_PREFIX
//	SCANQUOTA_LOG_LEVEL
//	SCANQUOTA_CACHE_DEFAULT_TTL   e.g. 7d
//	SCANQUOTA_SERVER_LISTEN_ADDRESS
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	get := func(name string) (string, bool) {
		v, ok := lookup(EnvPrefix + name)
		return strings.TrimSpace(v), ok && strings.TrimSpace(v) != ""
	}

	if v, ok := get("REDIS_ADDR"); ok {
		var addrs []string
		for _, a := range strings.Split(v, ",") {
			if a = strings.TrimSpace(a); a != "" {
				addrs = append(addrs, a)
			}
		}
		cfg.Redis.Addrs = addrs
	}
	if v, ok := get("REDIS_PASSWORD"); ok {
		cfg.Redis.Password = v
	}
	if v, ok := get("REDIS_DB"); ok {
		db, err := strconv.Atoi(v)
		if err != nil {
			return invalid(EnvPrefix+"REDIS_DB", err)
		}
		cfg.Redis.DB = db
	}
	if v, ok := get("REDIS_KEY_PREFIX"); ok {
		cfg.Redis.KeyPrefix = v
	}
	if v, ok := get("LOG_LEVEL"); ok {
		cfg.Log.Level = v
	}
	if v, ok := get("CACHE_DEFAULT_TTL"); ok {
		d, err := ParseDuration(v)
		if err != nil {
			return invalid(EnvPrefix+"CACHE_DEFAULT_TTL", err)
		}
		cfg.Cache.DefaultTTL = d
	}
	if v, ok := get("SERVER_LISTEN_ADDRESS"); ok {
		cfg.Server.ListenAddress = v
	}
	return nil
}
