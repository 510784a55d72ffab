package domain

import "context"

// ============================================================================
// 持久化协作者接口
// ============================================================================

// EdgeRepository persists relationship edges.
type EdgeRepository interface {
	// LoadEdges returns every edge where userID is the subject or the object.
	LoadEdges(ctx context.Context, userID string) ([]Edge, error)

	// SavePair replaces all edges between a and b (both directions) with
	// edges in a single atomic write. An empty edges slice deletes the pair.
	SavePair(ctx context.Context, a, b string, edges []Edge) error
}

// UserDirectory resolves user identities. GetUser returns a *NotFoundError
// for unknown ids.
type UserDirectory interface {
	GetUser(ctx context.Context, userID string) (User, error)
}

// SessionRepository mirrors live sessions to durable storage.
type SessionRepository interface {
	SaveSession(ctx context.Context, session Session) error
	DeleteSession(ctx context.Context, userID, sessionID string) error
	LoadSessions(ctx context.Context) ([]Session, error)
}
