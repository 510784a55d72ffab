package action

import (
	"sync"

	"golang.org/x/text/language"
	"golang.org/x/time/rate"
)

// Sink is the write side of one live session. Send must not block: a
// transport that cannot take the frame right away returns an error and the
// frame is dropped.
type Sink interface {
	Send(data []byte) error
	Close() error
}

// SessionOption customizes a session at connect time.
type SessionOption func(*session)

// WithLanguage sets the language of error messages sent to the session.
func WithLanguage(tag language.Tag) SessionOption {
	return func(s *session) { s.lang = tag }
}

type session struct {
	id      string
	userID  string
	sink    Sink
	lang    language.Tag
	limiter *rate.Limiter
}

// allow reports whether the session may send another inbound event.
func (s *session) allow() bool {
	return s.limiter == nil || s.limiter.Allow()
}

// hub maps session ids to their sinks.
type hub struct {
	mu       sync.RWMutex
	sessions map[string]*session
}

func newHub() *hub {
	return &hub{sessions: make(map[string]*session)}
}

func (h *hub) add(s *session) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sessions[s.id] = s
}

func (h *hub) remove(sessionID string) (*session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	s, ok := h.sessions[sessionID]
	if ok {
		delete(h.sessions, sessionID)
	}
	return s, ok
}

func (h *hub) get(sessionID string) (*session, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	s, ok := h.sessions[sessionID]
	return s, ok
}
