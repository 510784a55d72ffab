package view

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zereker/social/internal/domain"
	"github.com/Zereker/social/internal/memstore"
	"github.com/Zereker/social/internal/relationship"
)

type fakePresence map[string]bool

func (f fakePresence) IsOnline(userID string) bool { return f[userID] }

func TestViewCapabilities(t *testing.T) {
	v := New("u1", domain.CategoryFriends)
	now := time.Now()

	v.Add(domain.FriendRecord{ID: "u2", Since: now})
	v.Add(domain.FriendRecord{ID: "u3", Since: now.Add(time.Minute)})
	assert.Equal(t, 2, v.Count())

	rec, ok := v.Find("u3")
	require.True(t, ok)
	assert.Equal(t, "u3", rec.ID)

	// 计数独立于已加载的记录
	v.SetCount(10)
	assert.Equal(t, 10, v.Count())
	assert.Equal(t, 2, v.Len())

	v.SetCount(1)
	assert.Equal(t, 2, v.Count(), "count never drops below the materialized records")

	assert.True(t, v.Remove("u2"))
	assert.False(t, v.Remove("u2"))
	assert.Equal(t, 1, v.Count())

	_, ok = v.Find("u2")
	assert.False(t, ok)
}

func TestViewRecordsOrder(t *testing.T) {
	v := New("u1", domain.CategoryFollowers)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	v.Add(domain.FriendRecord{ID: "b", Since: base})
	v.Add(domain.FriendRecord{ID: "a", Since: base})
	v.Add(domain.FriendRecord{ID: "c", Since: base.Add(time.Hour)})

	var ids []string
	for _, rec := range v.Records() {
		ids = append(ids, rec.ID)
	}
	assert.Equal(t, []string{"c", "a", "b"}, ids)
}

type fixture struct {
	ctx      context.Context
	repo     *memstore.Store
	store    *relationship.Store
	presence fakePresence
	factory  *Factory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	repo := memstore.New()
	for _, id := range []string{"u1", "u2", "u3", "u4", "u5"} {
		repo.PutUser(domain.User{ID: id, Name: "name-" + id})
	}
	store := relationship.NewStore(repo, relationship.Options{})
	presence := fakePresence{}

	return &fixture{
		ctx:      context.Background(),
		repo:     repo,
		store:    store,
		presence: presence,
		factory:  NewFactory(store, presence, repo),
	}
}

func (f *fixture) link(t *testing.T, a, b string, out, in domain.EdgeKind) {
	t.Helper()
	_, _, err := f.store.Transition(f.ctx, a, b, func(p relationship.Pair) (relationship.Pair, error) {
		return p.WithOut(out).WithIn(in), nil
	})
	require.NoError(t, err)
}

func TestFactoryCategories(t *testing.T) {
	f := newFixture(t)
	f.link(t, "u1", "u2", domain.EdgeFriend, domain.EdgeFriend)
	f.link(t, "u1", "u3", domain.EdgeFollowing, "")
	f.link(t, "u1", "u4", "", domain.EdgeFollowing)
	f.link(t, "u1", "u5", domain.EdgeBlocked, domain.EdgeFollowing)

	ids := func(category domain.Category) []string {
		page, err := f.factory.Page(f.ctx, "u1", category, domain.PageRequest{})
		require.NoError(t, err)
		out := make([]string, 0, len(page.Records))
		for _, rec := range page.Records {
			out = append(out, rec.ID)
		}
		return out
	}

	assert.Equal(t, []string{"u2"}, ids(domain.CategoryFriends))
	assert.Equal(t, []string{"u3"}, ids(domain.CategoryRequests))
	assert.Equal(t, []string{"u4"}, ids(domain.CategoryFollowers), "a blocked follower is hidden")
	assert.Equal(t, []string{"u5"}, ids(domain.CategoryBlocked))
	assert.Empty(t, ids(domain.CategoryOnline))

	f.presence["u2"] = true
	assert.Equal(t, []string{"u2"}, ids(domain.CategoryOnline))

	counts, err := f.factory.Counts(f.ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, map[domain.Category]int{
		domain.CategoryFriends:   1,
		domain.CategoryRequests:  1,
		domain.CategoryFollowers: 1,
		domain.CategoryBlocked:   1,
	}, counts)

	rec, ok := mustBuild(t, f, "u1", domain.CategoryFriends).Find("u2")
	require.True(t, ok)
	assert.Equal(t, "name-u2", rec.Name)
}

func TestFactoryBlockedByPeerHidesEverywhere(t *testing.T) {
	f := newFixture(t)
	f.link(t, "u1", "u2", domain.EdgeFollowing, domain.EdgeBlocked)

	for _, c := range Stored {
		assert.Zero(t, mustBuild(t, f, "u1", c).Count(), c)
	}
	assert.Equal(t, 1, mustBuild(t, f, "u2", domain.CategoryBlocked).Count())
}

func TestFactoryCommonFriends(t *testing.T) {
	f := newFixture(t)
	f.link(t, "u1", "u3", domain.EdgeFriend, domain.EdgeFriend)
	f.link(t, "u2", "u3", domain.EdgeFriend, domain.EdgeFriend)
	f.link(t, "u1", "u4", domain.EdgeFriend, domain.EdgeFriend)
	f.link(t, "u2", "u5", domain.EdgeFriend, domain.EdgeFriend)

	page, err := f.factory.Page(f.ctx, "u1", domain.CategoryCommon, domain.PageRequest{Peer: "u2"})
	require.NoError(t, err)
	require.Len(t, page.Records, 1)
	assert.Equal(t, "u3", page.Records[0].ID)
	assert.Equal(t, 1, page.Count)

	_, err = f.factory.Page(f.ctx, "u1", domain.CategoryCommon, domain.PageRequest{Peer: "u1"})
	assert.True(t, domain.IsValidation(err))

	_, err = f.factory.Page(f.ctx, "u1", domain.CategoryCommon, domain.PageRequest{})
	assert.True(t, domain.IsValidation(err))
}

func TestFactoryPaging(t *testing.T) {
	f := newFixture(t)
	for _, peer := range []string{"u2", "u3", "u4", "u5"} {
		f.link(t, "u1", peer, "", domain.EdgeFollowing)
	}

	tests := []struct {
		name    string
		req     domain.PageRequest
		records int
		size    int
		page    int
		hasMore bool
	}{
		{"defaults", domain.PageRequest{}, 4, DefaultPageSize, 1, false},
		{"first page", domain.PageRequest{Page: 1, Size: 3}, 3, 3, 1, true},
		{"last partial page", domain.PageRequest{Page: 2, Size: 3}, 1, 3, 2, false},
		{"exact last page", domain.PageRequest{Page: 2, Size: 2}, 2, 2, 2, false},
		{"past the end", domain.PageRequest{Page: 9, Size: 3}, 0, 3, 9, false},
		{"size clamped", domain.PageRequest{Size: 1000}, 4, MaxPageSize, 1, false},
		{"huge page", domain.PageRequest{Page: math.MaxInt / 10, Size: 20}, 0, 20, math.MaxInt / 10, false},
		{"max page", domain.PageRequest{Page: math.MaxInt, Size: MaxPageSize}, 0, MaxPageSize, math.MaxInt, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, err := f.factory.Page(f.ctx, "u1", domain.CategoryFollowers, tt.req)
			require.NoError(t, err)
			assert.Len(t, page.Records, tt.records)
			assert.Equal(t, 4, page.Count)
			assert.Equal(t, tt.size, page.Size)
			assert.Equal(t, tt.page, page.Page)
			assert.Equal(t, tt.hasMore, page.HasMore)
		})
	}

	t.Run("pages do not overlap", func(t *testing.T) {
		seen := map[string]bool{}
		for n := 1; n <= 2; n++ {
			page, err := f.factory.Page(f.ctx, "u1", domain.CategoryFollowers, domain.PageRequest{Page: n, Size: 3})
			require.NoError(t, err)
			for _, rec := range page.Records {
				assert.False(t, seen[rec.ID], rec.ID)
				seen[rec.ID] = true
			}
		}
		assert.Len(t, seen, 4)
	})

	t.Run("huge page on empty view", func(t *testing.T) {
		page, err := f.factory.Page(f.ctx, "u2", domain.CategoryFriends, domain.PageRequest{Page: math.MaxInt / 10, Size: 20})
		require.NoError(t, err)
		assert.Empty(t, page.Records)
		assert.False(t, page.HasMore)
	})

	t.Run("invalid requests", func(t *testing.T) {
		_, err := f.factory.Page(f.ctx, "u1", domain.CategoryFollowers, domain.PageRequest{Page: -1})
		assert.True(t, domain.IsValidation(err))

		_, err = f.factory.Page(f.ctx, "u1", domain.CategoryFollowers, domain.PageRequest{Size: -1})
		assert.True(t, domain.IsValidation(err))

		_, err = f.factory.Page(f.ctx, "u1", domain.Category("enemies"), domain.PageRequest{})
		assert.True(t, domain.IsValidation(err))
	})
}

func TestFactoryRefresh(t *testing.T) {
	f := newFixture(t)
	f.link(t, "u1", "u2", domain.EdgeFollowing, "")

	requests := mustBuild(t, f, "u1", domain.CategoryRequests)
	assert.Equal(t, 1, requests.Count())

	f.link(t, "u1", "u2", domain.EdgeFriend, domain.EdgeFriend)
	require.NoError(t, f.factory.Refresh(f.ctx, "u1", "u2"))

	// 刷新后计数立即更新，记录在下一次读取时重建
	assert.Equal(t, 0, requests.Count())
	assert.Equal(t, 0, requests.Len())
	assert.Equal(t, 1, mustBuild(t, f, "u1", domain.CategoryFriends).Count())

	f.factory.Forget("u1")
	assert.Equal(t, 0, f.factory.CachedViews())
}

func mustBuild(t *testing.T, f *fixture, owner string, category domain.Category) *View {
	t.Helper()
	v, err := f.factory.Build(f.ctx, owner, category, "")
	require.NoError(t, err)
	return v
}
