package graph

import (
	"context"
	"regexp"
	"strings"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/pkg/errors"
)

// Package-level instance
var neo4jInstance *Neo4jStore

// Init initializes the graph package with config.
func Init(cfg Neo4jConfig) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	store, err := newStore(cfg)
	if err != nil {
		return err
	}

	neo4jInstance = store
	return nil
}

// NewStore returns the Neo4jStore instance.
func NewStore() *Neo4jStore {
	return neo4jInstance
}

// Close closes the Neo4jStore connection.
func Close(ctx context.Context) error {
	if neo4jInstance == nil {
		return nil
	}
	err := neo4jInstance.Close(ctx)
	neo4jInstance = nil
	return err
}

// Neo4jConfig holds Neo4j connection configuration
type Neo4jConfig struct {
	URI      string `toml:"uri" split_words:"true"`
	Username string `toml:"username" split_words:"true"`
	Password string `toml:"password" split_words:"true"`
	Database string `toml:"database" split_words:"true"`

	// MaxPoolSize 连接池上限，0 使用驱动默认值
	MaxPoolSize int `toml:"max_pool_size" split_words:"true"`
	// ConnectTimeout 建连与连通性校验超时，默认 10s
	ConnectTimeout string `toml:"connect_timeout" split_words:"true"`
}

// Validate checks Neo4j configuration.
func (c *Neo4jConfig) Validate() error {
	if strings.TrimSpace(c.URI) == "" {
		return errors.New("uri is required")
	}
	if strings.TrimSpace(c.Database) == "" {
		return errors.New("database is required")
	}
	if c.MaxPoolSize < 0 {
		return errors.New("max_pool_size must not be negative")
	}
	if c.ConnectTimeout != "" {
		if d, err := time.ParseDuration(c.ConnectTimeout); err != nil || d <= 0 {
			return errors.Errorf("connect_timeout is invalid: %q", c.ConnectTimeout)
		}
	}
	return nil
}

func (c *Neo4jConfig) connectTimeout() time.Duration {
	if d, err := time.ParseDuration(c.ConnectTimeout); err == nil && d > 0 {
		return d
	}
	return 10 * time.Second
}

// Neo4jStore runs Cypher against one database. Repository builds the
// relationship model on top of it.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
}

func newStore(cfg Neo4jConfig) (*Neo4jStore, error) {
	timeout := cfg.connectTimeout()

	driver, err := neo4j.NewDriverWithContext(cfg.URI,
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *neo4j.Config) {
			if cfg.MaxPoolSize > 0 {
				c.MaxConnectionPoolSize = cfg.MaxPoolSize
			}
			c.SocketConnectTimeout = timeout
		},
	)
	if err != nil {
		return nil, errors.Wrap(err, "create neo4j driver")
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, errors.Wrap(err, "verify neo4j connectivity")
	}

	return &Neo4jStore{driver: driver, database: cfg.Database}, nil
}

func (s *Neo4jStore) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: s.database,
		AccessMode:   mode,
	})
}

// ============================================================================
// 查询
// ============================================================================

// Run executes a read query in a managed transaction. Nodes and
// relationships in the result are flattened to their properties.
func (s *Neo4jStore) Run(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	rows, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, cypher, params)
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}

		rows := make([]map[string]any, 0, len(records))
		for _, record := range records {
			row := record.AsMap()
			for k, v := range row {
				row[k] = plain(v)
			}
			rows = append(rows, row)
		}
		return rows, nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "run cypher")
	}
	return rows.([]map[string]any), nil
}

// RunWrite executes one write query in a managed transaction.
func (s *Neo4jStore) RunWrite(ctx context.Context, cypher string, params map[string]any) error {
	return s.RunWriteBatch(ctx, []string{cypher}, []map[string]any{params})
}

// RunWriteBatch executes queries in order inside one transaction; either all
// of them apply or none.
func (s *Neo4jStore) RunWriteBatch(ctx context.Context, queries []string, paramsList []map[string]any) error {
	if len(queries) != len(paramsList) {
		return errors.Errorf("queries and params length mismatch: %d != %d", len(queries), len(paramsList))
	}

	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	_, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		for i, query := range queries {
			result, err := tx.Run(ctx, query, paramsList[i])
			if err != nil {
				return nil, err
			}
			if _, err := result.Consume(ctx); err != nil {
				return nil, err
			}
		}
		return nil, nil
	})
	return errors.Wrap(err, "write cypher")
}

// ============================================================================
// 节点
// ============================================================================

// MergeNode creates the node matched by matchKey or updates its properties.
func (s *Neo4jStore) MergeNode(ctx context.Context, labels []string, matchKey string, matchValue any, properties map[string]any) error {
	pattern, err := labelPattern(labels)
	if err != nil {
		return err
	}
	if !validIdent(matchKey) {
		return errors.Errorf("invalid property key %q", matchKey)
	}

	cypher := "MERGE (n" + pattern + " {" + quote(matchKey) + ": $match_value}) SET n += $props"
	return s.RunWrite(ctx, cypher, map[string]any{
		"match_value": matchValue,
		"props":       properties,
	})
}

// GetNode returns the properties of the first node with label whose key
// equals value, or nil when there is none.
func (s *Neo4jStore) GetNode(ctx context.Context, label, key string, value any) (map[string]any, error) {
	pattern, err := labelPattern([]string{label})
	if err != nil {
		return nil, err
	}
	if !validIdent(key) {
		return nil, errors.Errorf("invalid property key %q", key)
	}

	cypher := "MATCH (n" + pattern + " {" + quote(key) + ": $value}) RETURN n LIMIT 1"
	rows, err := s.Run(ctx, cypher, map[string]any{"value": value})
	if err != nil || len(rows) == 0 {
		return nil, err
	}

	node, _ := rows[0]["n"].(map[string]any)
	return node, nil
}

// Health checks Neo4j connection
func (s *Neo4jStore) Health(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// Close closes the Neo4j connection
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// ============================================================================
// 工具
// ============================================================================

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// validIdent 标签与属性名不能参数化，只接受普通标识符
func validIdent(s string) bool {
	return identRe.MatchString(s)
}

func quote(ident string) string {
	return "`" + ident + "`"
}

func labelPattern(labels []string) (string, error) {
	if len(labels) == 0 {
		return "", errors.New("at least one label is required")
	}

	var b strings.Builder
	for _, l := range labels {
		if !validIdent(l) {
			return "", errors.Errorf("invalid label %q", l)
		}
		b.WriteString(":")
		b.WriteString(quote(l))
	}
	return b.String(), nil
}

// plain converts driver graph types to property maps, recursing into lists
// and maps.
func plain(val any) any {
	switch v := val.(type) {
	case neo4j.Node:
		return v.Props
	case neo4j.Relationship:
		return v.Props
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = plain(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, item := range v {
			out[k] = plain(item)
		}
		return out
	default:
		return val
	}
}
