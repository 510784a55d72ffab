// Package relationship holds the authoritative graph of pairwise
// relationship edges.
//
// Both directions of a pair live in one slot that is replaced atomically, so
// readers never observe half of a mutual edge. Writers on the same pair are
// serialized by a striped mutex; disjoint pairs only contend on a stripe
// collision. Edges are persisted through a domain.EdgeRepository before they
// become visible in memory.
package relationship

import (
	"context"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"golang.org/x/sync/singleflight"

	"github.com/Zereker/social/internal/domain"
	"github.com/Zereker/social/pkg/log"
)

const stripes = 256

// pairKey is the canonical (unordered) key of a pair: lo < hi.
type pairKey struct {
	lo, hi string
}

func keyOf(a, b string) pairKey {
	if a < b {
		return pairKey{lo: a, hi: b}
	}
	return pairKey{lo: b, hi: a}
}

// slot holds both directions of one pair.
type slot struct {
	fwd *domain.Edge // lo -> hi
	rev *domain.Edge // hi -> lo
}

func (s slot) view(owner string, k pairKey) Pair {
	if owner == k.lo {
		return Pair{Owner: k.lo, Peer: k.hi, Out: cloneEdge(s.fwd), In: cloneEdge(s.rev)}
	}
	return Pair{Owner: k.hi, Peer: k.lo, Out: cloneEdge(s.rev), In: cloneEdge(s.fwd)}
}

// Options configures a Store.
type Options struct {
	// PersistTimeout bounds every call into the repository. Zero means 5s.
	PersistTimeout time.Duration
	// Now overrides the clock used to stamp new edges.
	Now func() time.Time
}

// Store is the in-memory relationship graph backed by a repository.
type Store struct {
	repo    domain.EdgeRepository
	timeout time.Duration
	now     func() time.Time
	logger  *slog.Logger

	locks [stripes]sync.Mutex

	mu     sync.RWMutex
	pairs  map[pairKey]slot
	adj    map[string]map[string]struct{}
	loaded map[string]struct{}

	group singleflight.Group
}

// NewStore creates a Store on top of repo.
func NewStore(repo domain.EdgeRepository, opts Options) *Store {
	if opts.PersistTimeout <= 0 {
		opts.PersistTimeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Store{
		repo:    repo,
		timeout: opts.PersistTimeout,
		now:     opts.Now,
		logger:  log.Logger("relationship"),
		pairs:   make(map[pairKey]slot),
		adj:     make(map[string]map[string]struct{}),
		loaded:  make(map[string]struct{}),
	}
}

func (s *Store) lockFor(k pairKey) *sync.Mutex {
	return &s.locks[xxhash.Sum64String(k.lo+"\x00"+k.hi)%stripes]
}

func checkPair(a, b string) error {
	if strings.TrimSpace(a) == "" || strings.TrimSpace(b) == "" {
		return domain.NewValidationError("", "user ids must not be empty")
	}
	if a == b {
		return domain.NewValidationError("", "a user cannot have a relationship with itself")
	}
	return nil
}

// ============================================================================
// Hydration
// ============================================================================

// ensure loads the edges of userID from the repository once.
func (s *Store) ensure(ctx context.Context, userID string) error {
	s.mu.RLock()
	_, ok := s.loaded[userID]
	s.mu.RUnlock()
	if ok {
		return nil
	}

	_, err, _ := s.group.Do(userID, func() (any, error) {
		s.mu.RLock()
		_, ok := s.loaded[userID]
		s.mu.RUnlock()
		if ok {
			return nil, nil
		}

		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.timeout)
		defer cancel()

		edges, err := s.repo.LoadEdges(ctx, userID)
		if err != nil {
			return nil, domain.NewPersistenceError("load edges", err)
		}

		s.install(userID, edges)
		return nil, nil
	})
	return err
}

// install adds pairs loaded from the repository unless memory already has
// them: a pair already present was loaded through its other endpoint and
// every later write went through memory.
func (s *Store) install(userID string, edges []domain.Edge) {
	grouped := make(map[pairKey]slot)
	for _, e := range edges {
		if e.Subject == e.Object || !e.Kind.Valid() {
			s.logger.Warn("skip invalid edge", "subject", e.Subject, "object", e.Object, "kind", e.Kind)
			continue
		}
		k := keyOf(e.Subject, e.Object)
		sl := grouped[k]
		edge := e
		if e.Subject == k.lo {
			sl.fwd = &edge
		} else {
			sl.rev = &edge
		}
		grouped[k] = sl
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for k, sl := range grouped {
		if _, exists := s.pairs[k]; exists {
			continue
		}
		s.pairs[k] = sl
		s.link(k)
	}
	s.loaded[userID] = struct{}{}
}

func (s *Store) link(k pairKey) {
	for _, pair := range [2][2]string{{k.lo, k.hi}, {k.hi, k.lo}} {
		set, ok := s.adj[pair[0]]
		if !ok {
			set = make(map[string]struct{})
			s.adj[pair[0]] = set
		}
		set[pair[1]] = struct{}{}
	}
}

func (s *Store) unlink(k pairKey) {
	for _, pair := range [2][2]string{{k.lo, k.hi}, {k.hi, k.lo}} {
		if set, ok := s.adj[pair[0]]; ok {
			delete(set, pair[1])
			if len(set) == 0 {
				delete(s.adj, pair[0])
			}
		}
	}
}

// ============================================================================
// Reads
// ============================================================================

// Pair returns a consistent snapshot of both directions between a and b,
// seen from a.
func (s *Store) Pair(ctx context.Context, a, b string) (Pair, error) {
	if err := checkPair(a, b); err != nil {
		return Pair{}, err
	}
	if err := s.ensure(ctx, a); err != nil {
		return Pair{}, err
	}
	if err := s.ensure(ctx, b); err != nil {
		return Pair{}, err
	}

	k := keyOf(a, b)
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pairs[k].view(a, k), nil
}

// GetEdge returns the directed a->b edge, or nil when there is none.
func (s *Store) GetEdge(ctx context.Context, a, b string) (*domain.Edge, error) {
	p, err := s.Pair(ctx, a, b)
	if err != nil {
		return nil, err
	}
	return p.Out, nil
}

// State returns the relative state of a toward b.
func (s *Store) State(ctx context.Context, a, b string) (domain.RelationState, error) {
	p, err := s.Pair(ctx, a, b)
	if err != nil {
		return "", err
	}
	return p.State(), nil
}

// Peers returns a snapshot of every pair owner takes part in, ordered by peer id.
func (s *Store) Peers(ctx context.Context, owner string) ([]Pair, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, domain.NewValidationError("", "user id must not be empty")
	}
	if err := s.ensure(ctx, owner); err != nil {
		return nil, err
	}

	s.mu.RLock()
	out := make([]Pair, 0, len(s.adj[owner]))
	for peer := range s.adj[owner] {
		k := keyOf(owner, peer)
		out = append(out, s.pairs[k].view(owner, k))
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Peer < out[j].Peer })
	return out, nil
}

// Count returns how many of owner's pairs satisfy match.
func (s *Store) Count(ctx context.Context, owner string, match func(Pair) bool) (int, error) {
	pairs, err := s.Peers(ctx, owner)
	if err != nil {
		return 0, err
	}

	n := 0
	for _, p := range pairs {
		if match(p) {
			n++
		}
	}
	return n, nil
}

// ============================================================================
// Writes
// ============================================================================

// TransitionFunc computes the next state of a pair from its current one.
// Returning an error aborts the transition without any mutation.
type TransitionFunc func(current Pair) (Pair, error)

// CommitFunc observes a successful transition while the pair is still
// locked. Callbacks for one pair therefore run in commit order; they must not
// block or call back into Transition for the same pair.
type CommitFunc func(before, after Pair)

// Transition atomically rewrites both directions between a and b. fn sees the
// pair from a. The result is persisted before it is installed; on any error
// nothing changes. before and after are both seen from a.
func (s *Store) Transition(ctx context.Context, a, b string, fn TransitionFunc) (before, after Pair, err error) {
	return s.TransitionThen(ctx, a, b, fn, nil)
}

// TransitionThen is Transition followed by commit, run under the pair lock
// after the new state is installed. commit is skipped on error.
func (s *Store) TransitionThen(ctx context.Context, a, b string, fn TransitionFunc, commit CommitFunc) (before, after Pair, err error) {
	if err := checkPair(a, b); err != nil {
		return Pair{}, Pair{}, err
	}
	if err := s.ensure(ctx, a); err != nil {
		return Pair{}, Pair{}, err
	}
	if err := s.ensure(ctx, b); err != nil {
		return Pair{}, Pair{}, err
	}

	k := keyOf(a, b)
	lock := s.lockFor(k)
	lock.Lock()
	defer lock.Unlock()

	s.mu.RLock()
	before = s.pairs[k].view(a, k)
	s.mu.RUnlock()

	next, err := fn(before)
	if err != nil {
		return before, before, err
	}

	now := s.now()
	after = Pair{
		Owner: a,
		Peer:  b,
		Out:   stamp(before.Out, next.Out, a, b, now),
		In:    stamp(before.In, next.In, b, a, now),
	}

	if after.OutKind() == before.OutKind() && after.InKind() == before.InKind() {
		if commit != nil {
			commit(before, before)
		}
		return before, before, nil
	}

	if err := s.persist(ctx, a, b, after.Edges()); err != nil {
		return before, before, err
	}

	s.mu.Lock()
	sl := slot{fwd: cloneEdge(after.Out), rev: cloneEdge(after.In)}
	if a != k.lo {
		sl = slot{fwd: cloneEdge(after.In), rev: cloneEdge(after.Out)}
	}
	if sl.fwd == nil && sl.rev == nil {
		delete(s.pairs, k)
		s.unlink(k)
	} else {
		s.pairs[k] = sl
		s.link(k)
	}
	s.mu.Unlock()

	if commit != nil {
		commit(before, after)
	}
	return before, after, nil
}

// stamp normalizes a proposed edge: endpoints are forced, an unchanged kind
// keeps its original timestamp and a new kind is stamped with now.
func stamp(prev, next *domain.Edge, subject, object string, now time.Time) *domain.Edge {
	if next == nil || next.Kind == "" {
		return nil
	}

	e := &domain.Edge{Subject: subject, Object: object, Kind: next.Kind, CreatedAt: next.CreatedAt}
	switch {
	case prev != nil && prev.Kind == next.Kind:
		e.CreatedAt = prev.CreatedAt
	case e.CreatedAt.IsZero():
		e.CreatedAt = now
	}
	return e
}

func (s *Store) persist(ctx context.Context, a, b string, edges []domain.Edge) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if err := s.repo.SavePair(ctx, a, b, edges); err != nil {
		return domain.NewPersistenceError("save pair", err)
	}
	return nil
}

// SetEdge upserts the directed a->b edge with kind, leaving b->a untouched.
func (s *Store) SetEdge(ctx context.Context, a, b string, kind domain.EdgeKind) (*domain.Edge, error) {
	if !kind.Valid() {
		return nil, domain.NewValidationError("", "unknown edge kind %q", kind)
	}

	_, after, err := s.Transition(ctx, a, b, func(p Pair) (Pair, error) {
		return p.WithOut(kind), nil
	})
	if err != nil {
		return nil, err
	}
	return after.Out, nil
}

// ClearEdge removes the directed a->b edge.
func (s *Store) ClearEdge(ctx context.Context, a, b string) error {
	_, _, err := s.Transition(ctx, a, b, func(p Pair) (Pair, error) {
		return p.WithOut(""), nil
	})
	return err
}
