package kvstore

import (
	"time"

	"github.com/redis/go-redis/v9"
)

// ClientConfig holds the connection settings for the Redis deployment.
type ClientConfig struct {
	// Addrs is a single address for a standalone server or several seed
	// addresses for a cluster.
	Addrs []string

	Username string
	Password string
	DB       int

	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// PoolSize is the maximum number of socket connections per node.
	PoolSize int
}

// DefaultClientConfig returns settings for a local standalone server.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Addrs:        []string{"localhost:6379"},
		DialTimeout:  2 * time.Second,
		ReadTimeout:  500 * time.Millisecond,
		WriteTimeout: 500 * time.Millisecond,
		PoolSize:     20,
	}
}

// NewClient builds a go-redis client. More than one address yields a
// cluster client.
func NewClient(cfg ClientConfig) redis.UniversalClient {
	return redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:        cfg.Addrs,
		Username:     cfg.Username,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		PoolSize:     cfg.PoolSize,
	})
}
