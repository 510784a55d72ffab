package action

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Zereker/social/internal/domain"
	"github.com/Zereker/social/internal/relationship"
)

func TestPlan(t *testing.T) {
	const (
		following = domain.EdgeFollowing
		friend    = domain.EdgeFriend
		blocked   = domain.EdgeBlocked
		left      = domain.EdgeLeftInFollowers
	)

	cases := []struct {
		name    string
		act     domain.FriendAction
		out, in domain.EdgeKind

		wantOut, wantIn domain.EdgeKind
		want            outcome
		conflict        bool
	}{
		{name: "follow stranger", act: domain.ActionFollow, wantOut: following, want: outcomeRequested},
		{name: "add friend is follow", act: domain.ActionAddFriend, wantOut: following, want: outcomeRequested},
		{name: "follow back", act: domain.ActionFollow, in: following, wantOut: friend, wantIn: friend, want: outcomeBefriended},
		{name: "follow back after decline", act: domain.ActionFollow, in: left, wantOut: friend, wantIn: friend, want: outcomeBefriended},
		{name: "follow twice", act: domain.ActionFollow, out: following, conflict: true},
		{name: "follow friend", act: domain.ActionFollow, out: friend, in: friend, conflict: true},

		{name: "accept", act: domain.ActionAccept, in: following, wantOut: friend, wantIn: friend, want: outcomeBefriended},
		{name: "accept declined", act: domain.ActionAccept, in: left, wantOut: friend, wantIn: friend, want: outcomeBefriended},
		{name: "accept nothing", act: domain.ActionAccept, conflict: true},
		{name: "accept own request", act: domain.ActionAccept, out: following, conflict: true},

		{name: "decline", act: domain.ActionLeftInFollowers, in: following, wantIn: left, want: outcomeDeclined},
		{name: "decline twice", act: domain.ActionLeftInFollowers, in: left, conflict: true},
		{name: "decline nothing", act: domain.ActionLeftInFollowers, conflict: true},

		{name: "unfollow", act: domain.ActionUnfollow, out: following, want: outcomeUnfollowed},
		{name: "unfollow declined", act: domain.ActionUnfollow, out: left, want: outcomeUnfollowed},
		{name: "unfollow stranger", act: domain.ActionUnfollow, conflict: true},
		{name: "unfollow friend", act: domain.ActionUnfollow, out: friend, in: friend, conflict: true},

		{name: "delete friend", act: domain.ActionDeleteFriend, out: friend, in: friend, wantIn: following, want: outcomeUnfriended},
		{name: "delete stranger", act: domain.ActionDeleteFriend, conflict: true},

		{name: "block stranger", act: domain.ActionBlock, wantOut: blocked, want: outcomeBlocked},
		{name: "block friend", act: domain.ActionBlock, out: friend, in: friend, wantOut: blocked, want: outcomeBlocked},
		{name: "block follower", act: domain.ActionBlock, in: following, wantOut: blocked, want: outcomeBlocked},
		{name: "block back", act: domain.ActionBlock, in: blocked, wantOut: blocked, wantIn: blocked, want: outcomeBlocked},
		{name: "block twice", act: domain.ActionBlock, out: blocked, conflict: true},

		{name: "unblock", act: domain.ActionUnblock, out: blocked, want: outcomeUnblocked},
		{name: "unblock keeps reverse block", act: domain.ActionUnblock, out: blocked, in: blocked, wantIn: blocked, want: outcomeUnblocked},
		{name: "unblock stranger", act: domain.ActionUnblock, conflict: true},

		{name: "follow blocker", act: domain.ActionFollow, in: blocked, conflict: true},
		{name: "accept blocker", act: domain.ActionAccept, in: blocked, conflict: true},
		{name: "decline blocker", act: domain.ActionLeftInFollowers, in: blocked, conflict: true},
		{name: "follow blocked", act: domain.ActionFollow, out: blocked, conflict: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := relationship.Pair{Owner: "a", Peer: "b"}.WithOut(tc.out).WithIn(tc.in)

			next, got, err := plan(tc.act, p)
			if tc.conflict {
				require.Error(t, err)
				assert.True(t, domain.IsConflict(err))
				assert.Equal(t, p, next)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tc.want, got, got.String())
			assert.Equal(t, tc.wantOut, next.OutKind(), "out")
			assert.Equal(t, tc.wantIn, next.InKind(), "in")
		})
	}
}

func TestPlanConflictCarriesState(t *testing.T) {
	p := relationship.Pair{Owner: "a", Peer: "b"}.WithOut(domain.EdgeFollowing)

	_, _, err := plan(domain.ActionFollow, p)
	var conflict *domain.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, domain.StateFollowing, conflict.Current)
	assert.Equal(t, domain.ActionFollow, conflict.Action)
}
