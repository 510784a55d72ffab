package relationship

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zereker/social/internal/domain"
	"github.com/Zereker/social/internal/memstore"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, *memstore.Store) {
	t.Helper()

	repo := memstore.New()
	clock := epoch
	store := NewStore(repo, Options{
		Now: func() time.Time {
			clock = clock.Add(time.Second)
			return clock
		},
	})
	return store, repo
}

func TestStoreEdges(t *testing.T) {
	ctx := context.Background()

	t.Run("set get clear", func(t *testing.T) {
		store, repo := newTestStore(t)

		edge, err := store.SetEdge(ctx, "u1", "u2", domain.EdgeFollowing)
		require.NoError(t, err)
		assert.Equal(t, "u1", edge.Subject)
		assert.Equal(t, "u2", edge.Object)

		got, err := store.GetEdge(ctx, "u1", "u2")
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, domain.EdgeFollowing, got.Kind)

		reverse, err := store.GetEdge(ctx, "u2", "u1")
		require.NoError(t, err)
		assert.Nil(t, reverse)
		assert.Equal(t, 1, repo.EdgeCount())

		require.NoError(t, store.ClearEdge(ctx, "u1", "u2"))
		got, err = store.GetEdge(ctx, "u1", "u2")
		require.NoError(t, err)
		assert.Nil(t, got)
		assert.Equal(t, 0, repo.EdgeCount())
	})

	t.Run("set is an idempotent upsert", func(t *testing.T) {
		store, _ := newTestStore(t)

		first, err := store.SetEdge(ctx, "u1", "u2", domain.EdgeFollowing)
		require.NoError(t, err)
		second, err := store.SetEdge(ctx, "u1", "u2", domain.EdgeFollowing)
		require.NoError(t, err)
		assert.Equal(t, first.CreatedAt, second.CreatedAt)

		third, err := store.SetEdge(ctx, "u1", "u2", domain.EdgeBlocked)
		require.NoError(t, err)
		assert.Equal(t, domain.EdgeBlocked, third.Kind)
		assert.True(t, third.CreatedAt.After(first.CreatedAt))
	})

	t.Run("self relationship is rejected", func(t *testing.T) {
		store, repo := newTestStore(t)

		_, err := store.SetEdge(ctx, "u1", "u1", domain.EdgeFollowing)
		assert.True(t, domain.IsValidation(err))

		_, err = store.GetEdge(ctx, "u1", "u1")
		assert.True(t, domain.IsValidation(err))

		_, err = store.SetEdge(ctx, "", "u1", domain.EdgeFollowing)
		assert.True(t, domain.IsValidation(err))
		assert.Equal(t, 0, repo.EdgeCount())
	})

	t.Run("unknown kind is rejected", func(t *testing.T) {
		store, _ := newTestStore(t)
		_, err := store.SetEdge(ctx, "u1", "u2", domain.EdgeKind("crush"))
		assert.True(t, domain.IsValidation(err))
	})
}

func TestStoreTransition(t *testing.T) {
	ctx := context.Background()

	t.Run("writes both directions at once", func(t *testing.T) {
		store, repo := newTestStore(t)

		before, after, err := store.Transition(ctx, "u1", "u2", func(p Pair) (Pair, error) {
			return p.WithOut(domain.EdgeFriend).WithIn(domain.EdgeFriend), nil
		})
		require.NoError(t, err)
		assert.Equal(t, domain.StateStranger, before.State())
		assert.Equal(t, domain.StateFriend, after.State())
		assert.Equal(t, 2, repo.EdgeCount())

		p, err := store.Pair(ctx, "u2", "u1")
		require.NoError(t, err)
		assert.True(t, p.Mutual())
		assert.Equal(t, "u2", p.Owner)
	})

	t.Run("fn error aborts without mutation", func(t *testing.T) {
		store, repo := newTestStore(t)
		boom := errors.New("nope")

		_, _, err := store.Transition(ctx, "u1", "u2", func(p Pair) (Pair, error) {
			return p.WithOut(domain.EdgeFollowing), boom
		})
		assert.Equal(t, boom, err)
		assert.Equal(t, 0, repo.EdgeCount())

		state, err := store.State(ctx, "u1", "u2")
		require.NoError(t, err)
		assert.Equal(t, domain.StateStranger, state)
	})

	t.Run("persistence failure applies nothing", func(t *testing.T) {
		store, repo := newTestStore(t)
		_, err := store.SetEdge(ctx, "u1", "u2", domain.EdgeFollowing)
		require.NoError(t, err)

		repo.FailWith = errors.New("connection refused")
		_, err = store.SetEdge(ctx, "u1", "u2", domain.EdgeBlocked)
		require.Error(t, err)
		assert.True(t, domain.IsPersistence(err))

		repo.FailWith = nil
		edge, err := store.GetEdge(ctx, "u1", "u2")
		require.NoError(t, err)
		assert.Equal(t, domain.EdgeFollowing, edge.Kind)
	})

	t.Run("no-op transition skips the repository", func(t *testing.T) {
		store, repo := newTestStore(t)
		repo.FailWith = errors.New("down")

		_, _, err := store.Transition(ctx, "u1", "u2", func(p Pair) (Pair, error) { return p, nil })
		assert.NoError(t, err)
	})
}

func TestStoreHydration(t *testing.T) {
	ctx := context.Background()
	repo := memstore.New()
	require.NoError(t, repo.SavePair(ctx, "u1", "u2", []domain.Edge{
		{Subject: "u1", Object: "u2", Kind: domain.EdgeFriend, CreatedAt: epoch},
		{Subject: "u2", Object: "u1", Kind: domain.EdgeFriend, CreatedAt: epoch},
	}))
	require.NoError(t, repo.SavePair(ctx, "u3", "u1", []domain.Edge{
		{Subject: "u3", Object: "u1", Kind: domain.EdgeFollowing, CreatedAt: epoch},
	}))

	store := NewStore(repo, Options{})

	peers, err := store.Peers(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, peers, 2)
	assert.Equal(t, "u2", peers[0].Peer)
	assert.Equal(t, domain.StateFriend, peers[0].State())
	assert.Equal(t, "u3", peers[1].Peer)
	assert.Equal(t, domain.StateFollower, peers[1].State())

	n, err := store.Count(ctx, "u1", Pair.Mutual)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	state, err := store.State(ctx, "u3", "u1")
	require.NoError(t, err)
	assert.Equal(t, domain.StateFollowing, state)
}

func TestPairState(t *testing.T) {
	cases := []struct {
		name string
		out  domain.EdgeKind
		in   domain.EdgeKind
		want domain.RelationState
	}{
		{"stranger", "", "", domain.StateStranger},
		{"following", domain.EdgeFollowing, "", domain.StateFollowing},
		{"follower", "", domain.EdgeFollowing, domain.StateFollower},
		{"friend", domain.EdgeFriend, domain.EdgeFriend, domain.StateFriend},
		{"declined", "", domain.EdgeLeftInFollowers, domain.StateLeftInFollowers},
		{"declined by peer", domain.EdgeLeftInFollowers, "", domain.StateFollowing},
		{"blocked", domain.EdgeBlocked, domain.EdgeFollowing, domain.StateBlocked},
		{"blocked by peer", domain.EdgeFollowing, domain.EdgeBlocked, domain.StateStranger},
		{"mutual block", domain.EdgeBlocked, domain.EdgeBlocked, domain.StateBlocked},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := Pair{Owner: "a", Peer: "b"}.WithOut(tc.out).WithIn(tc.in)
			assert.Equal(t, tc.want, p.State())
			assert.Equal(t, p, p.Reverse().Reverse())
		})
	}
}

func TestStoreConcurrentTransitions(t *testing.T) {
	ctx := context.Background()
	store, _ := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			_, _, _ = store.Transition(ctx, "u1", "u2", func(p Pair) (Pair, error) {
				if p.Mutual() {
					return p.WithOut("").WithIn(""), nil
				}
				return p.WithOut(domain.EdgeFriend).WithIn(domain.EdgeFriend), nil
			})
		}()
		go func() {
			defer wg.Done()
			p, err := store.Pair(ctx, "u2", "u1")
			if assert.NoError(t, err) {
				// 两个方向永远同时存在或同时不存在
				assert.Equal(t, p.Out == nil, p.In == nil)
			}
		}()
	}
	wg.Wait()
}

func TestTransitionThen(t *testing.T) {
	ctx := context.Background()

	t.Run("commit sees installed state", func(t *testing.T) {
		store, _ := newTestStore(t)

		var seen []domain.RelationState
		_, after, err := store.TransitionThen(ctx, "u1", "u2", func(p Pair) (Pair, error) {
			return p.WithOut(domain.EdgeFollowing), nil
		}, func(before, after Pair) {
			seen = append(seen, before.State(), after.State())
			state, err := store.State(ctx, "u1", "u2")
			assert.NoError(t, err)
			assert.Equal(t, domain.StateFollowing, state)
		})
		require.NoError(t, err)
		assert.Equal(t, domain.StateFollowing, after.State())
		assert.Equal(t, []domain.RelationState{domain.StateStranger, domain.StateFollowing}, seen)
	})

	t.Run("commit skipped on error", func(t *testing.T) {
		store, repo := newTestStore(t)
		repo.FailWith = errors.New("down")

		called := false
		_, _, err := store.TransitionThen(ctx, "u1", "u2", func(p Pair) (Pair, error) {
			return p.WithOut(domain.EdgeBlocked), nil
		}, func(Pair, Pair) { called = true })
		require.Error(t, err)
		assert.False(t, called)
	})

	t.Run("commits of one pair follow commit order", func(t *testing.T) {
		store, _ := newTestStore(t)

		var mu sync.Mutex
		var states []domain.RelationState
		toggle := func(p Pair) (Pair, error) {
			if p.Mutual() {
				return p.WithOut("").WithIn(""), nil
			}
			return p.WithOut(domain.EdgeFriend).WithIn(domain.EdgeFriend), nil
		}

		var wg sync.WaitGroup
		for i := 0; i < 100; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, err := store.TransitionThen(ctx, "u1", "u2", toggle, func(_, after Pair) {
					mu.Lock()
					states = append(states, after.State())
					mu.Unlock()
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		require.Len(t, states, 100)
		for i, s := range states {
			want := domain.StateFriend
			if i%2 == 1 {
				want = domain.StateStranger
			}
			assert.Equal(t, want, s, "commit %d", i)
		}
	})
}
