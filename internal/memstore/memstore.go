// Package memstore provides in-process implementations of the persistence
// collaborators. It backs the "memory" graph backend and the package tests.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/Zereker/social/internal/domain"
)

// Store implements domain.EdgeRepository, domain.UserDirectory and
// domain.SessionRepository in memory.
type Store struct {
	mu       sync.RWMutex
	users    map[string]domain.User
	edges    map[[2]string]domain.Edge
	sessions map[string]map[string]domain.Session

	// FailWith, when set, is returned by every write. Tests use it to
	// simulate an unavailable backend.
	FailWith error
}

var (
	_ domain.EdgeRepository    = (*Store)(nil)
	_ domain.UserDirectory     = (*Store)(nil)
	_ domain.SessionRepository = (*Store)(nil)
)

// New creates an empty Store.
func New() *Store {
	return &Store{
		users:    make(map[string]domain.User),
		edges:    make(map[[2]string]domain.Edge),
		sessions: make(map[string]map[string]domain.Session),
	}
}

// PutUser registers u in the directory.
func (s *Store) PutUser(u domain.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

// GetUser implements domain.UserDirectory.
func (s *Store) GetUser(_ context.Context, userID string) (domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[userID]
	if !ok {
		return domain.User{}, &domain.NotFoundError{UserID: userID}
	}
	return u, nil
}

// LoadEdges implements domain.EdgeRepository.
func (s *Store) LoadEdges(_ context.Context, userID string) ([]domain.Edge, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Edge
	for key, e := range s.edges {
		if key[0] == userID || key[1] == userID {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Subject != out[j].Subject {
			return out[i].Subject < out[j].Subject
		}
		return out[i].Object < out[j].Object
	})
	return out, nil
}

// SavePair implements domain.EdgeRepository.
func (s *Store) SavePair(_ context.Context, a, b string, edges []domain.Edge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWith != nil {
		return s.FailWith
	}

	delete(s.edges, [2]string{a, b})
	delete(s.edges, [2]string{b, a})
	for _, e := range edges {
		s.edges[[2]string{e.Subject, e.Object}] = e
	}
	return nil
}

// EdgeCount returns the number of persisted edges.
func (s *Store) EdgeCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.edges)
}

// SaveSession implements domain.SessionRepository.
func (s *Store) SaveSession(_ context.Context, session domain.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWith != nil {
		return s.FailWith
	}

	set, ok := s.sessions[session.UserID]
	if !ok {
		set = make(map[string]domain.Session)
		s.sessions[session.UserID] = set
	}
	set[session.SessionID] = session
	return nil
}

// DeleteSession implements domain.SessionRepository.
func (s *Store) DeleteSession(_ context.Context, userID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.FailWith != nil {
		return s.FailWith
	}

	if set, ok := s.sessions[userID]; ok {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(s.sessions, userID)
		}
	}
	return nil
}

// LoadSessions implements domain.SessionRepository.
func (s *Store) LoadSessions(_ context.Context) ([]domain.Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Session
	for _, set := range s.sessions {
		for _, session := range set {
			out = append(out, session)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SessionID < out[j].SessionID })
	return out, nil
}
