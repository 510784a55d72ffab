package relation

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/Zereker/social/internal/domain"
	"github.com/Zereker/social/pkg/relation/migrations"
)

// Package-level singleton instance.
var sqliteInstance *SQLiteStore

// Init initializes the relation package with config.
func Init(cfg SQLiteConfig) error {
	store, err := Open(context.Background(), cfg)
	if err != nil {
		return err
	}

	sqliteInstance = store
	return nil
}

// NewStore returns the SQLiteStore singleton instance.
func NewStore() *SQLiteStore {
	return sqliteInstance
}

// Close closes the SQLiteStore connection.
func Close(ctx context.Context) error {
	if sqliteInstance != nil {
		return sqliteInstance.Close(ctx)
	}
	return nil
}

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}

// Open opens the database file and applies the embedded migrations.
func Open(ctx context.Context, cfg SQLiteConfig) (*SQLiteStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if dir := filepath.Dir(filepath.Clean(cfg.Path)); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create sqlite dir")
		}
	}

	db, err := sql.Open("sqlite", cfg.DSN())
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite db")
	}
	// SQLite 单写者，串行化写入避免 SQLITE_BUSY
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "ping sqlite db")
	}
	if err := applyMigrations(ctx, db, migrations.FS); err != nil {
		_ = db.Close()
		return nil, errors.WithMessage(err, "run migrations")
	}

	return &SQLiteStore{db: db}, nil
}

// Close releases the database handle.
func (s *SQLiteStore) Close(_ context.Context) error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ============================================================================
// 关系边
// ============================================================================

// LoadEdges returns every edge where userID is the subject or the object.
func (s *SQLiteStore) LoadEdges(ctx context.Context, userID string) ([]domain.Edge, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT subject_id, object_id, kind, created_at
		 FROM edges
		 WHERE subject_id = ? OR object_id = ?
		 ORDER BY subject_id, object_id`,
		userID, userID,
	)
	if err != nil {
		return nil, errors.Wrap(err, "load edges")
	}
	defer rows.Close()

	var edges []domain.Edge
	for rows.Next() {
		var (
			e         domain.Edge
			kind      string
			createdAt int64
		)
		if err := rows.Scan(&e.Subject, &e.Object, &kind, &createdAt); err != nil {
			return nil, errors.Wrap(err, "scan edge")
		}
		e.Kind = domain.EdgeKind(kind)
		e.CreatedAt = fromMillis(createdAt)
		edges = append(edges, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate edges")
	}
	return edges, nil
}

// SavePair replaces both directions between a and b in one transaction.
func (s *SQLiteStore) SavePair(ctx context.Context, a, b string, edges []domain.Edge) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin save pair")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM edges
		 WHERE (subject_id = ? AND object_id = ?) OR (subject_id = ? AND object_id = ?)`,
		a, b, b, a,
	); err != nil {
		return errors.Wrap(err, "delete pair")
	}

	for _, e := range edges {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO edges (subject_id, object_id, kind, created_at) VALUES (?, ?, ?, ?)`,
			e.Subject, e.Object, string(e.Kind), toMillis(e.CreatedAt),
		); err != nil {
			return errors.Wrapf(err, "insert edge %s->%s", e.Subject, e.Object)
		}
	}

	return errors.Wrap(tx.Commit(), "commit save pair")
}

// ============================================================================
// 用户目录
// ============================================================================

// PutUser upserts a user profile.
func (s *SQLiteStore) PutUser(ctx context.Context, u domain.User) error {
	id := strings.TrimSpace(u.ID)
	if id == "" {
		return errors.New("user id is required")
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users (id, name, surname, avatar, updated_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET
		   name = excluded.name,
		   surname = excluded.surname,
		   avatar = excluded.avatar,
		   updated_at = excluded.updated_at`,
		id, u.Name, u.Surname, u.Avatar, toMillis(time.Now()),
	)
	return errors.Wrap(err, "put user")
}

// GetUser returns a *domain.NotFoundError for unknown ids.
func (s *SQLiteStore) GetUser(ctx context.Context, userID string) (domain.User, error) {
	var u domain.User
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, surname, avatar FROM users WHERE id = ?`, userID,
	).Scan(&u.ID, &u.Name, &u.Surname, &u.Avatar)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.User{}, &domain.NotFoundError{UserID: userID}
	}
	if err != nil {
		return domain.User{}, errors.Wrap(err, "get user")
	}
	return u, nil
}

// ============================================================================
// 会话镜像
// ============================================================================

// SaveSession upserts one live session.
func (s *SQLiteStore) SaveSession(ctx context.Context, session domain.Session) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (user_id, session_id, node_id, connected_at)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id, session_id) DO UPDATE SET
		   node_id = excluded.node_id,
		   connected_at = excluded.connected_at`,
		session.UserID, session.SessionID, session.NodeID, toMillis(session.ConnectedAt),
	)
	return errors.Wrap(err, "save session")
}

// DeleteSession removes one session; a missing session is not an error.
func (s *SQLiteStore) DeleteSession(ctx context.Context, userID, sessionID string) error {
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM sessions WHERE user_id = ? AND session_id = ?`, userID, sessionID,
	)
	return errors.Wrap(err, "delete session")
}

// LoadSessions returns every mirrored session.
func (s *SQLiteStore) LoadSessions(ctx context.Context) ([]domain.Session, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, session_id, node_id, connected_at FROM sessions ORDER BY session_id`,
	)
	if err != nil {
		return nil, errors.Wrap(err, "load sessions")
	}
	defer rows.Close()

	var sessions []domain.Session
	for rows.Next() {
		var (
			session     domain.Session
			connectedAt int64
		)
		if err := rows.Scan(&session.UserID, &session.SessionID, &session.NodeID, &connectedAt); err != nil {
			return nil, errors.Wrap(err, "scan session")
		}
		session.ConnectedAt = fromMillis(connectedAt)
		sessions = append(sessions, session)
	}
	return sessions, errors.Wrap(rows.Err(), "iterate sessions")
}
