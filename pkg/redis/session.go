package redis

import (
	"context"
	"encoding/json"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/Zereker/social/internal/domain"
)

// DefaultKeyPrefix 会话镜像 key 前缀
const DefaultKeyPrefix = "social:presence"

const scanCount = 256

// SessionStore mirrors live sessions into Redis, one hash per user:
//
//	HSET social:presence:{userID} {sessionID} {json session}
type SessionStore struct {
	client redis.Cmdable
	prefix string
}

var _ domain.SessionRepository = (*SessionStore)(nil)

// NewSessionStore creates a session mirror over client.
func NewSessionStore(client redis.Cmdable, prefix string) *SessionStore {
	prefix = strings.TrimRight(strings.TrimSpace(prefix), ":")
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	return &SessionStore{client: client, prefix: prefix}
}

func (s *SessionStore) key(userID string) string {
	return s.prefix + ":" + userID
}

// SaveSession implements domain.SessionRepository.
func (s *SessionStore) SaveSession(ctx context.Context, session domain.Session) error {
	data, err := json.Marshal(session)
	if err != nil {
		return errors.Wrap(err, "marshal session")
	}
	return errors.Wrap(s.client.HSet(ctx, s.key(session.UserID), session.SessionID, data).Err(), "hset session")
}

// DeleteSession implements domain.SessionRepository. Redis removes the hash
// together with its last field.
func (s *SessionStore) DeleteSession(ctx context.Context, userID, sessionID string) error {
	return errors.Wrap(s.client.HDel(ctx, s.key(userID), sessionID).Err(), "hdel session")
}

// LoadSessions implements domain.SessionRepository.
func (s *SessionStore) LoadSessions(ctx context.Context) ([]domain.Session, error) {
	var (
		sessions []domain.Session
		cursor   uint64
	)

	for {
		keys, next, err := s.client.Scan(ctx, cursor, s.prefix+":*", scanCount).Result()
		if err != nil {
			return nil, errors.Wrap(err, "scan sessions")
		}

		for _, key := range keys {
			fields, err := s.client.HGetAll(ctx, key).Result()
			if err != nil {
				return nil, errors.Wrapf(err, "hgetall %s", key)
			}
			decoded, err := decodeSessions(fields)
			if err != nil {
				return nil, errors.WithMessage(err, key)
			}
			sessions = append(sessions, decoded...)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	sort.Slice(sessions, func(i, j int) bool { return sessions[i].SessionID < sessions[j].SessionID })
	return sessions, nil
}

// decodeSessions decodes one user hash.
func decodeSessions(fields map[string]string) ([]domain.Session, error) {
	out := make([]domain.Session, 0, len(fields))
	for field, raw := range fields {
		var session domain.Session
		if err := json.Unmarshal([]byte(raw), &session); err != nil {
			return nil, errors.Wrapf(err, "decode session %s", field)
		}
		if session.SessionID == "" {
			session.SessionID = field
		}
		out = append(out, session)
	}
	return out, nil
}
