package graph

import (
	"context"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"

	"github.com/Zereker/social/internal/domain"
)

// ============================================================================
// 关系图模型
//   (:User {id, name, surname, avatar})
//   (:User)-[:RELATES {kind, created_at}]->(:User)   created_at 为毫秒时间戳
// ============================================================================

const (
	userLabel = "User"
	relType   = "RELATES"
)

const (
	cypherConstraint = `CREATE CONSTRAINT user_id IF NOT EXISTS FOR (u:User) REQUIRE u.id IS UNIQUE`

	cypherLoadEdges = `
		MATCH (s:User)-[r:RELATES]->(o:User)
		WHERE s.id = $id OR o.id = $id
		RETURN s.id AS subject, o.id AS object, r.kind AS kind, r.created_at AS created_at
		ORDER BY subject, object
	`

	cypherDeletePair = `
		MATCH (a:User {id: $a})-[r:RELATES]-(b:User {id: $b})
		DELETE r
	`

	cypherCreateEdge = `
		MERGE (s:User {id: $subject})
		MERGE (o:User {id: $object})
		CREATE (s)-[:RELATES {kind: $kind, created_at: $created_at}]->(o)
	`
)

// Cypher is the subset of Neo4jStore the repository needs.
type Cypher interface {
	Run(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
	RunWriteBatch(ctx context.Context, queries []string, paramsList []map[string]any) error
	MergeNode(ctx context.Context, labels []string, matchKey string, matchValue any, properties map[string]any) error
	GetNode(ctx context.Context, label, key string, value any) (map[string]any, error)
}

// Repository stores users and relationship edges in Neo4j.
type Repository struct {
	db Cypher
}

var (
	_ domain.EdgeRepository = (*Repository)(nil)
	_ domain.UserDirectory  = (*Repository)(nil)
	_ Cypher                = (*Neo4jStore)(nil)
)

// NewRepository creates a repository over db.
func NewRepository(db Cypher) *Repository {
	return &Repository{db: db}
}

// EnsureSchema creates the user id constraint.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	return r.db.RunWriteBatch(ctx, []string{cypherConstraint}, []map[string]any{nil})
}

// edgeRow 查询结果行
type edgeRow struct {
	Subject   string `mapstructure:"subject"`
	Object    string `mapstructure:"object"`
	Kind      string `mapstructure:"kind"`
	CreatedAt int64  `mapstructure:"created_at"`
}

// LoadEdges implements domain.EdgeRepository.
func (r *Repository) LoadEdges(ctx context.Context, userID string) ([]domain.Edge, error) {
	rows, err := r.db.Run(ctx, cypherLoadEdges, map[string]any{"id": userID})
	if err != nil {
		return nil, errors.WithMessagef(err, "load edges of %s", userID)
	}

	edges := make([]domain.Edge, 0, len(rows))
	for _, row := range rows {
		var er edgeRow
		if err := mapstructure.WeakDecode(row, &er); err != nil {
			return nil, errors.Wrap(err, "decode edge row")
		}
		edges = append(edges, domain.Edge{
			Subject:   er.Subject,
			Object:    er.Object,
			Kind:      domain.EdgeKind(er.Kind),
			CreatedAt: time.UnixMilli(er.CreatedAt).UTC(),
		})
	}
	return edges, nil
}

// SavePair implements domain.EdgeRepository. The pair is rewritten in one
// transaction.
func (r *Repository) SavePair(ctx context.Context, a, b string, edges []domain.Edge) error {
	queries := []string{cypherDeletePair}
	params := []map[string]any{{"a": a, "b": b}}

	for _, e := range edges {
		queries = append(queries, cypherCreateEdge)
		params = append(params, map[string]any{
			"subject":    e.Subject,
			"object":     e.Object,
			"kind":       string(e.Kind),
			"created_at": e.CreatedAt.UnixMilli(),
		})
	}

	if err := r.db.RunWriteBatch(ctx, queries, params); err != nil {
		return errors.WithMessagef(err, "save pair %s/%s", a, b)
	}
	return nil
}

// GetUser implements domain.UserDirectory.
func (r *Repository) GetUser(ctx context.Context, userID string) (domain.User, error) {
	node, err := r.db.GetNode(ctx, userLabel, "id", userID)
	if err != nil {
		return domain.User{}, errors.WithMessagef(err, "get user %s", userID)
	}
	// 只由边 MERGE 出来、没有资料的节点视为不存在
	if node == nil || node["name"] == nil {
		return domain.User{}, &domain.NotFoundError{UserID: userID}
	}

	var u domain.User
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &u,
	})
	if err != nil {
		return domain.User{}, errors.Wrap(err, "create decoder")
	}
	if err := decoder.Decode(node); err != nil {
		return domain.User{}, errors.Wrap(err, "decode user")
	}
	return u, nil
}

// PutUser creates or updates the profile of u.
func (r *Repository) PutUser(ctx context.Context, u domain.User) error {
	props := map[string]any{
		"name":    u.Name,
		"surname": u.Surname,
		"avatar":  u.Avatar,
	}
	if err := r.db.MergeNode(ctx, []string{userLabel}, "id", u.ID, props); err != nil {
		return errors.WithMessagef(err, "put user %s", u.ID)
	}
	return nil
}
