package view

import (
	"context"
	"log/slog"
	"sync"

	"github.com/Zereker/social/internal/domain"
	"github.com/Zereker/social/internal/relationship"
	"github.com/Zereker/social/pkg/log"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Presence is the part of the presence registry the factory needs.
type Presence interface {
	IsOnline(userID string) bool
}

// Member reports whether the pair (seen from the view owner) belongs to the
// stored category. A block in either direction hides the peer from every
// category except blocked.
func Member(category domain.Category, p relationship.Pair) bool {
	if category == domain.CategoryBlocked {
		return p.OutKind() == domain.EdgeBlocked
	}
	if p.Blocked() {
		return false
	}

	switch category {
	case domain.CategoryFriends, domain.CategoryOnline, domain.CategoryCommon:
		return p.Mutual()
	case domain.CategoryRequests:
		out := p.OutKind()
		return (out == domain.EdgeFollowing || out == domain.EdgeLeftInFollowers) && !p.Mutual()
	case domain.CategoryFollowers:
		return p.InKind() == domain.EdgeFollowing
	default:
		return false
	}
}

// Stored lists the categories whose views are cached between queries.
// online and common are rebuilt on every query.
var Stored = []domain.Category{
	domain.CategoryFriends,
	domain.CategoryRequests,
	domain.CategoryFollowers,
	domain.CategoryBlocked,
}

func cached(category domain.Category) bool {
	for _, c := range Stored {
		if c == category {
			return true
		}
	}
	return false
}

type viewKey struct {
	owner    string
	category domain.Category
}

// Factory creates and caches category views over the relationship store.
type Factory struct {
	store    *relationship.Store
	presence Presence
	users    domain.UserDirectory
	logger   *slog.Logger

	mu    sync.Mutex
	views map[viewKey]*View
}

// NewFactory creates a Factory.
func NewFactory(store *relationship.Store, presence Presence, users domain.UserDirectory) *Factory {
	return &Factory{
		store:    store,
		presence: presence,
		users:    users,
		logger:   log.Logger("view"),
		views:    make(map[viewKey]*View),
	}
}

// Build returns the materialized view of owner for category. peer is only
// used by the common category and names the other user.
func (f *Factory) Build(ctx context.Context, owner string, category domain.Category, peer string) (*View, error) {
	switch category {
	case domain.CategoryOnline:
		return f.materialize(ctx, New(owner, category), 0, func(p relationship.Pair) bool {
			return Member(domain.CategoryFriends, p) && f.presence.IsOnline(p.Peer)
		})

	case domain.CategoryCommon:
		return f.common(ctx, owner, peer)
	}

	if !cached(category) {
		return nil, domain.NewValidationError("", "unknown category %q", category)
	}

	key := viewKey{owner: owner, category: category}
	f.mu.Lock()
	v, ok := f.views[key]
	if !ok {
		v = New(owner, category)
		v.stale = true
		f.views[key] = v
	}
	f.mu.Unlock()

	stale, gen := v.snapshot()
	if !stale {
		return v, nil
	}
	return f.materialize(ctx, v, gen, func(p relationship.Pair) bool { return Member(category, p) })
}

func (f *Factory) common(ctx context.Context, owner, peer string) (*View, error) {
	if peer == "" {
		return nil, domain.NewValidationError("", "common friends need a peer")
	}
	if peer == owner {
		return nil, domain.NewValidationError("", "common friends need two different users")
	}

	theirs, err := f.store.Peers(ctx, peer)
	if err != nil {
		return nil, err
	}
	friendsOfPeer := make(map[string]struct{}, len(theirs))
	for _, p := range theirs {
		if Member(domain.CategoryFriends, p) {
			friendsOfPeer[p.Peer] = struct{}{}
		}
	}

	return f.materialize(ctx, New(owner, domain.CategoryCommon), 0, func(p relationship.Pair) bool {
		_, shared := friendsOfPeer[p.Peer]
		return shared && Member(domain.CategoryFriends, p)
	})
}

func (f *Factory) materialize(ctx context.Context, v *View, gen uint64, match func(relationship.Pair) bool) (*View, error) {
	pairs, err := f.store.Peers(ctx, v.owner)
	if err != nil {
		return nil, err
	}

	records := make([]domain.FriendRecord, 0, len(pairs))
	for _, p := range pairs {
		if !match(p) {
			continue
		}
		records = append(records, f.record(ctx, p))
	}

	v.replace(records, gen)
	return v, nil
}

func (f *Factory) record(ctx context.Context, p relationship.Pair) domain.FriendRecord {
	u, err := f.users.GetUser(ctx, p.Peer)
	if err != nil {
		f.logger.Debug("resolve peer failed", "peer", p.Peer, "error", err)
		u = domain.User{ID: p.Peer}
	}
	return domain.NewFriendRecord(u, p.Since())
}

// Page returns one page of owner's category view.
func (f *Factory) Page(ctx context.Context, owner string, category domain.Category, req domain.PageRequest) (domain.ViewPage, error) {
	if req.Page < 0 || req.Size < 0 {
		return domain.ViewPage{}, domain.NewValidationError("", "page and size must not be negative")
	}
	if req.Page == 0 {
		req.Page = 1
	}
	if req.Size == 0 {
		req.Size = DefaultPageSize
	}
	if req.Size > MaxPageSize {
		req.Size = MaxPageSize
	}

	v, err := f.Build(ctx, owner, category, req.Peer)
	if err != nil {
		return domain.ViewPage{}, err
	}

	// 先按页数比较再相乘，超大 page 不会溢出
	all := v.Records()
	start, end := len(all), len(all)
	if pages := (len(all) + req.Size - 1) / req.Size; req.Page-1 < pages {
		start = (req.Page - 1) * req.Size
		end = min(start+req.Size, len(all))
	}

	count := v.Count()
	return domain.ViewPage{
		Owner:    owner,
		Category: category,
		Records:  all[start:end],
		Count:    count,
		Page:     req.Page,
		Size:     req.Size,
		HasMore:  end < count,
	}, nil
}

// Counts returns the current size of every stored category of owner.
func (f *Factory) Counts(ctx context.Context, owner string) (map[domain.Category]int, error) {
	pairs, err := f.store.Peers(ctx, owner)
	if err != nil {
		return nil, err
	}

	counts := make(map[domain.Category]int, len(Stored))
	for _, c := range Stored {
		counts[c] = 0
	}
	for _, p := range pairs {
		for _, c := range Stored {
			if Member(c, p) {
				counts[c]++
			}
		}
	}
	return counts, nil
}

// Refresh recomputes the count of every cached view of users and drops
// their materialized records; they are rebuilt on the next read.
func (f *Factory) Refresh(ctx context.Context, users ...string) error {
	for _, owner := range users {
		counts, err := f.Counts(ctx, owner)
		if err != nil {
			return err
		}

		f.mu.Lock()
		for _, c := range Stored {
			if v, ok := f.views[viewKey{owner: owner, category: c}]; ok {
				v.invalidate(counts[c])
			}
		}
		f.mu.Unlock()
	}
	return nil
}

// Forget drops every cached view of owner.
func (f *Factory) Forget(owner string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, c := range Stored {
		delete(f.views, viewKey{owner: owner, category: c})
	}
}

// CachedViews returns the number of cached views.
func (f *Factory) CachedViews() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.views)
}
