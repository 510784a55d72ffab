package relation

import (
	"context"

	"github.com/Zereker/social/internal/domain"
)

// Store is a durable relationship store: edges, the user directory and the
// session mirror.
type Store interface {
	domain.EdgeRepository
	domain.UserDirectory
	domain.SessionRepository

	// PutUser creates or updates a user profile (UPSERT semantics).
	PutUser(ctx context.Context, u domain.User) error

	// Close releases resources held by the store.
	Close(ctx context.Context) error
}
