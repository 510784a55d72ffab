// Package presence tracks which users hold at least one live session.
//
// A user may be connected from several devices at once, so the registry
// keeps an owned set of session ids per user instead of a boolean. Adding or
// removing a session and checking the online/offline transition are
// serialized per user by a striped lock; the session table lock is only held
// for map updates, never across mirror I/O.
package presence

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/Zereker/social/internal/domain"
	"github.com/Zereker/social/pkg/log"
)

const stripes = 64

var (
	onlineUsers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "social",
		Subsystem: "presence",
		Name:      "online_users",
		Help:      "Number of users holding at least one session on this node.",
	})

	liveSessions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "social",
		Subsystem: "presence",
		Name:      "sessions",
		Help:      "Number of live sessions on this node.",
	})
)

// Options configures a Registry.
type Options struct {
	// NodeID identifies this process in the session mirror.
	NodeID string
	// PersistTimeout bounds every call into the repository. Zero means 5s.
	PersistTimeout time.Duration
	Now            func() time.Time
}

// Registry is the process-wide session table.
type Registry struct {
	repo    domain.SessionRepository
	nodeID  string
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger

	// users 串行化同一用户的变更（含镜像 I/O）
	users [stripes]sync.Mutex

	mu       sync.Mutex
	sessions map[string]map[string]domain.Session
	total    int
}

// NewRegistry creates a Registry. repo may be nil when sessions are not mirrored.
func NewRegistry(repo domain.SessionRepository, opts Options) *Registry {
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Registry{
		repo:     repo,
		nodeID:   opts.NodeID,
		timeout:  opts.PersistTimeout,
		now:      opts.Now,
		logger:   log.Logger("presence"),
		sessions: make(map[string]map[string]domain.Session),
	}
}

func (r *Registry) lockUser(userID string) *sync.Mutex {
	l := &r.users[xxhash.Sum64String(userID)%stripes]
	l.Lock()
	return l
}

// Register adds sessionID to the sessions of userID. becameOnline is true only
// for the call that moved the user from zero to one session. The session is
// mirrored before it is added; a mirror failure adds nothing.
func (r *Registry) Register(ctx context.Context, userID, sessionID string) (becameOnline bool, err error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(sessionID) == "" {
		return false, domain.NewValidationError("", "user id and session id are required")
	}

	defer r.lockUser(userID).Unlock()

	r.mu.Lock()
	_, exists := r.sessions[userID][sessionID]
	r.mu.Unlock()
	if exists {
		return false, nil
	}

	session := domain.Session{
		UserID:      userID,
		SessionID:   sessionID,
		NodeID:      r.nodeID,
		ConnectedAt: r.now(),
	}
	if r.repo != nil {
		ctx, cancel := context.WithTimeout(ctx, r.timeout)
		defer cancel()
		if err := r.repo.SaveSession(ctx, session); err != nil {
			return false, domain.NewPersistenceError("save session", err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.sessions[userID]
	if set == nil {
		set = make(map[string]domain.Session)
		r.sessions[userID] = set
		onlineUsers.Inc()
		becameOnline = true
	}
	set[sessionID] = session
	r.total++
	liveSessions.Inc()

	return becameOnline, nil
}

// Remove drops sessionID from userID. becameOffline is true only for the call
// that removed the last session. The local table is always updated; a mirror
// failure is logged and left to PurgeNode.
func (r *Registry) Remove(ctx context.Context, userID, sessionID string) (becameOffline bool) {
	defer r.lockUser(userID).Unlock()

	removed, becameOffline := r.drop(userID, sessionID)
	if removed {
		r.forget(ctx, userID, sessionID)
	}
	return becameOffline
}

func (r *Registry) drop(userID, sessionID string) (removed, becameOffline bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.sessions[userID]
	if _, ok := set[sessionID]; !ok {
		return false, false
	}

	delete(set, sessionID)
	r.total--
	liveSessions.Dec()
	if len(set) == 0 {
		delete(r.sessions, userID)
		onlineUsers.Dec()
		becameOffline = true
	}
	return true, becameOffline
}

// RemoveAll drops every session of userID and returns the removed ids.
func (r *Registry) RemoveAll(ctx context.Context, userID string) []string {
	defer r.lockUser(userID).Unlock()

	r.mu.Lock()
	set, ok := r.sessions[userID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	if ok {
		delete(r.sessions, userID)
		r.total -= len(ids)
		liveSessions.Sub(float64(len(ids)))
		onlineUsers.Dec()
	}
	r.mu.Unlock()

	if !ok {
		return nil
	}

	sort.Strings(ids)
	for _, id := range ids {
		r.forget(ctx, userID, id)
	}
	return ids
}

func (r *Registry) forget(ctx context.Context, userID, sessionID string) {
	if r.repo == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.repo.DeleteSession(ctx, userID, sessionID); err != nil {
		r.logger.Warn("delete session mirror failed", "user_id", userID, "session_id", sessionID, "error", err)
	}
}

// IsOnline reports whether userID holds at least one session.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions[userID]) > 0
}

// SessionsOf returns the session ids of userID, sorted.
func (r *Registry) SessionsOf(userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.sessions[userID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// OnlineUsers returns every online user id, sorted.
func (r *Registry) OnlineUsers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// SessionCount returns the number of live sessions.
func (r *Registry) SessionCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}

// PurgeNode removes mirrored sessions this node left behind, e.g. after a
// crash. It must run before the node accepts connections.
func (r *Registry) PurgeNode(ctx context.Context) (int, error) {
	if r.repo == nil || r.nodeID == "" {
		return 0, nil
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	sessions, err := r.repo.LoadSessions(ctx)
	if err != nil {
		return 0, domain.NewPersistenceError("load sessions", err)
	}

	purged := 0
	for _, s := range sessions {
		if s.NodeID != r.nodeID {
			continue
		}
		if err := r.repo.DeleteSession(ctx, s.UserID, s.SessionID); err != nil {
			return purged, domain.NewPersistenceError("delete session", err)
		}
		purged++
	}

	if purged > 0 {
		r.logger.Info("purged stale sessions", "node_id", r.nodeID, "count", purged)
	}
	return purged, nil
}
