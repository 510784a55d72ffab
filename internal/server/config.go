package server

import (
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"

	"github.com/Zereker/social/internal/api/ws"
	"github.com/Zereker/social/internal/domain"
	"github.com/Zereker/social/pkg/graph"
	"github.com/Zereker/social/pkg/log"
	"github.com/Zereker/social/pkg/mq"
	"github.com/Zereker/social/pkg/redis"
	"github.com/Zereker/social/pkg/relation"
)

// EnvPrefix 环境变量前缀，按 section 展开为 SOCIAL_<SECTION>_<KEY>
const EnvPrefix = "SOCIAL"

// 存储后端
const (
	BackendMemory = "memory"
	BackendSQLite = "sqlite"
	BackendNeo4j  = "neo4j"
)

// Config holds all configuration values
type Config struct {
	Server ServerConfig          `toml:"server"`
	Log    log.Config            `toml:"log"`
	Engine EngineConfig          `toml:"engine"`
	Graph  GraphConfig           `toml:"graph"`
	SQLite relation.SQLiteConfig `toml:"sqlite"`
	Neo4j  graph.Neo4jConfig     `toml:"neo4j"`
	Redis  redis.Config          `toml:"redis"`
	Kafka  mq.KafkaConfig        `toml:"kafka"`
	WS     WSConfig              `toml:"ws"`
}

// ServerConfig contains server configuration
type ServerConfig struct {
	Mode         string `toml:"mode" split_words:"true"` // http, mcp, or both
	Host         string `toml:"host" split_words:"true"`
	Port         int    `toml:"port" split_words:"true"`
	ReadTimeout  string `toml:"read_timeout" split_words:"true"`
	WriteTimeout string `toml:"write_timeout" split_words:"true"`
}

// EngineConfig 关系引擎配置
type EngineConfig struct {
	// NodeID 标识本进程写入会话镜像的记录，默认取主机名
	NodeID         string  `toml:"node_id" split_words:"true"`
	PersistTimeout string  `toml:"persist_timeout" split_words:"true"`
	RateLimit      float64 `toml:"rate_limit" split_words:"true"` // 每会话每秒入站事件数，0 不限
	RateBurst      int     `toml:"rate_burst" split_words:"true"`
}

// GraphConfig 选择关系边与用户目录的存储后端
type GraphConfig struct {
	Backend string `toml:"backend" split_words:"true"`

	// Users 启动时写入用户目录
	Users []UserSeed `toml:"users" ignored:"true"`
}

// UserSeed 预置用户资料
type UserSeed struct {
	ID      string `toml:"id"`
	Name    string `toml:"name"`
	Surname string `toml:"surname"`
	Avatar  string `toml:"avatar"`
}

// User converts the seed to a directory record.
func (u UserSeed) User() domain.User {
	return domain.User{ID: u.ID, Name: u.Name, Surname: u.Surname, Avatar: u.Avatar}
}

// WSConfig websocket 网关配置，零值取网关默认值
type WSConfig struct {
	ReadLimit    int64  `toml:"read_limit" split_words:"true"`
	SendBuffer   int    `toml:"send_buffer" split_words:"true"`
	PingInterval string `toml:"ping_interval" split_words:"true"`
	PongWait     string `toml:"pong_wait" split_words:"true"`
	WriteWait    string `toml:"write_wait" split_words:"true"`
}

// Validate checks server configuration
func (s *ServerConfig) Validate() error {
	if s.Mode == "" {
		s.Mode = "http" // default mode
	}
	switch s.Mode {
	case "http", "mcp", "both":
		// valid
	default:
		return errors.Errorf("invalid mode: %s, must be http, mcp, or both", s.Mode)
	}
	if s.Port <= 0 || s.Port > 65535 {
		return errors.New("port is required and must be between 1 and 65535")
	}
	if err := checkDuration("read_timeout", s.ReadTimeout); err != nil {
		return err
	}
	return checkDuration("write_timeout", s.WriteTimeout)
}

// Validate checks engine configuration
func (e *EngineConfig) Validate() error {
	if e.RateLimit < 0 {
		return errors.New("rate_limit must not be negative")
	}
	if e.RateBurst < 0 {
		return errors.New("rate_burst must not be negative")
	}
	return checkDuration("persist_timeout", e.PersistTimeout)
}

// Validate checks the backend selection and seeded users
func (g *GraphConfig) Validate() error {
	if g.Backend == "" {
		g.Backend = BackendMemory
	}
	switch g.Backend {
	case BackendMemory, BackendSQLite, BackendNeo4j:
	default:
		return errors.Errorf("invalid backend: %s, must be memory, sqlite, or neo4j", g.Backend)
	}

	seen := make(map[string]struct{}, len(g.Users))
	for i, u := range g.Users {
		if strings.TrimSpace(u.ID) == "" {
			return errors.Errorf("users[%d].id is required", i)
		}
		if _, ok := seen[u.ID]; ok {
			return errors.Errorf("users[%d]: duplicate id %s", i, u.ID)
		}
		seen[u.ID] = struct{}{}
	}
	return nil
}

// Validate checks websocket configuration
func (w *WSConfig) Validate() error {
	if w.ReadLimit < 0 || w.SendBuffer < 0 {
		return errors.New("read_limit and send_buffer must not be negative")
	}
	for name, v := range map[string]string{
		"ping_interval": w.PingInterval,
		"pong_wait":     w.PongWait,
		"write_wait":    w.WriteWait,
	} {
		if err := checkDuration(name, v); err != nil {
			return err
		}
	}
	return nil
}

// Gateway converts the section to ws.Config.
func (w *WSConfig) Gateway() ws.Config {
	return ws.Config{
		ReadLimit:    w.ReadLimit,
		SendBuffer:   w.SendBuffer,
		PingInterval: durationOr(w.PingInterval, 0),
		PongWait:     durationOr(w.PongWait, 0),
		WriteWait:    durationOr(w.WriteWait, 0),
	}
}

// Validate checks all configuration fields
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return errors.WithMessage(err, "server")
	}

	if err := c.Log.Validate(); err != nil {
		return errors.WithMessage(err, "log")
	}

	if err := c.Engine.Validate(); err != nil {
		return errors.WithMessage(err, "engine")
	}

	if err := c.Graph.Validate(); err != nil {
		return errors.WithMessage(err, "graph")
	}

	// 只校验选中的后端
	switch c.Graph.Backend {
	case BackendSQLite:
		if err := c.SQLite.Validate(); err != nil {
			return errors.WithMessage(err, "sqlite")
		}
	case BackendNeo4j:
		if err := c.Neo4j.Validate(); err != nil {
			return errors.WithMessage(err, "neo4j")
		}
	}

	if err := c.Redis.Validate(); err != nil {
		return errors.WithMessage(err, "redis")
	}

	if err := c.Kafka.Validate(); err != nil {
		return errors.WithMessage(err, "kafka")
	}

	if err := c.WS.Validate(); err != nil {
		return errors.WithMessage(err, "ws")
	}

	return nil
}

// applyEnv overrides every section from SOCIAL_<SECTION>_* variables.
func (c *Config) applyEnv() error {
	sections := []struct {
		name string
		spec any
	}{
		{"SERVER", &c.Server},
		{"LOG", &c.Log},
		{"ENGINE", &c.Engine},
		{"GRAPH", &c.Graph},
		{"SQLITE", &c.SQLite},
		{"NEO4J", &c.Neo4j},
		{"REDIS", &c.Redis},
		{"KAFKA", &c.Kafka},
		{"WS", &c.WS},
	}

	for _, s := range sections {
		if err := envconfig.Process(EnvPrefix+"_"+s.name, s.spec); err != nil {
			return errors.WithMessagef(err, "env %s_%s", EnvPrefix, s.name)
		}
	}
	return nil
}

// ParseConfig decodes TOML data, applies environment overrides and validates.
func ParseConfig(data []byte) (Config, error) {
	var cfg Config

	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, errors.Wrap(err, "parse config file")
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}

	if err := cfg.Validate(); err != nil {
		return cfg, errors.WithMessage(err, "validate config")
	}

	return cfg, nil
}

// LoadConfig reads and parses the configuration file
func LoadConfig(filename string) (Config, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return Config{}, errors.Wrap(err, "read config file")
	}
	return ParseConfig(data)
}

func checkDuration(name, v string) error {
	if v == "" {
		return nil
	}
	if d, err := time.ParseDuration(v); err != nil || d < 0 {
		return errors.Errorf("%s is invalid: %q", name, v)
	}
	return nil
}

// durationOr 解析已校验过的时长，空值返回 def
func durationOr(v string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(v)
	if err != nil {
		return def
	}
	return d
}
