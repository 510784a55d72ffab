package redis

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

var clientInstance *redis.Client

// Config Redis 配置，时长为空时使用 go-redis 默认值
type Config struct {
	Enabled  bool   `toml:"enabled" split_words:"true"`
	Addr     string `toml:"addr" split_words:"true"`
	Username string `toml:"username" split_words:"true"`
	Password string `toml:"password" split_words:"true"`
	DB       int    `toml:"db" split_words:"true"`

	PoolSize     int    `toml:"pool_size" split_words:"true"`
	MinIdleConns int    `toml:"min_idle_conns" split_words:"true"`
	DialTimeout  string `toml:"dial_timeout" split_words:"true"`
	ReadTimeout  string `toml:"read_timeout" split_words:"true"`
	WriteTimeout string `toml:"write_timeout" split_words:"true"`

	// KeyPrefix 会话镜像 key 前缀，默认 social:presence
	KeyPrefix string `toml:"key_prefix" split_words:"true"`
}

// Validate 验证配置，未启用时不检查
func (c *Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	_, err := c.Options()
	return err
}

// Options converts the section to go-redis options.
func (c *Config) Options() (*redis.Options, error) {
	if c.Addr == "" {
		return nil, errors.New("addr is required when redis is enabled")
	}
	if c.DB < 0 {
		return nil, errors.New("db must not be negative")
	}
	if c.PoolSize < 0 || c.MinIdleConns < 0 {
		return nil, errors.New("pool_size and min_idle_conns must not be negative")
	}

	opts := &redis.Options{
		Addr:         c.Addr,
		Username:     c.Username,
		Password:     c.Password,
		DB:           c.DB,
		PoolSize:     c.PoolSize,
		MinIdleConns: c.MinIdleConns,
	}

	for _, d := range []struct {
		name string
		raw  string
		dst  *time.Duration
	}{
		{"dial_timeout", c.DialTimeout, &opts.DialTimeout},
		{"read_timeout", c.ReadTimeout, &opts.ReadTimeout},
		{"write_timeout", c.WriteTimeout, &opts.WriteTimeout},
	} {
		if d.raw == "" {
			continue
		}
		v, err := time.ParseDuration(d.raw)
		if err != nil || v <= 0 {
			return nil, errors.Errorf("%s is invalid: %q", d.name, d.raw)
		}
		*d.dst = v
	}

	return opts, nil
}

// NewClient connects and pings. The caller owns the client.
func NewClient(ctx context.Context, cfg Config) (*redis.Client, error) {
	opts, err := cfg.Options()
	if err != nil {
		return nil, err
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, errors.Wrapf(err, "ping redis %s", cfg.Addr)
	}
	return client, nil
}

// Init connects the package client when redis is enabled.
func Init(cfg Config) error {
	if !cfg.Enabled {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client, err := NewClient(ctx, cfg)
	if err != nil {
		return err
	}
	clientInstance = client
	return nil
}

// Client returns the package client, nil when redis is disabled.
func Client() *redis.Client {
	return clientInstance
}

// Close closes the package client.
func Close() error {
	if clientInstance == nil {
		return nil
	}
	err := clientInstance.Close()
	clientInstance = nil
	return err
}
