package relationship

import (
	"time"

	"github.com/Zereker/social/internal/domain"
)

// Pair is a consistent snapshot of both directions between Owner and Peer.
// Out is the Owner->Peer edge, In the Peer->Owner edge; either may be nil.
type Pair struct {
	Owner string
	Peer  string
	Out   *domain.Edge
	In    *domain.Edge
}

// OutKind returns the kind of the Owner->Peer edge, or "".
func (p Pair) OutKind() domain.EdgeKind { return domain.KindOf(p.Out) }

// InKind returns the kind of the Peer->Owner edge, or "".
func (p Pair) InKind() domain.EdgeKind { return domain.KindOf(p.In) }

// Blocked reports whether either side blocked the other.
func (p Pair) Blocked() bool {
	return p.OutKind() == domain.EdgeBlocked || p.InKind() == domain.EdgeBlocked
}

// Mutual reports a friendship written in both directions.
func (p Pair) Mutual() bool {
	return p.OutKind() == domain.EdgeFriend && p.InKind() == domain.EdgeFriend
}

// Empty reports the implicit stranger pair (no edge at all).
func (p Pair) Empty() bool { return p.Out == nil && p.In == nil }

// Since returns the timestamp that dates the relationship from the owner's side.
func (p Pair) Since() time.Time {
	switch {
	case p.Out != nil:
		return p.Out.CreatedAt
	case p.In != nil:
		return p.In.CreatedAt
	}
	return time.Time{}
}

// State derives the relative state of Owner toward Peer.
//
//	out blocked                     -> blocked
//	in blocked                      -> stranger (the blocker stays invisible)
//	both friend                     -> friend
//	out following/left_in_followers -> following
//	in following                    -> follower
//	in left_in_followers            -> left_in_followers
func (p Pair) State() domain.RelationState {
	out, in := p.OutKind(), p.InKind()
	switch {
	case out == domain.EdgeBlocked:
		return domain.StateBlocked
	case in == domain.EdgeBlocked:
		return domain.StateStranger
	case out == domain.EdgeFriend && in == domain.EdgeFriend:
		return domain.StateFriend
	case out == domain.EdgeFollowing || out == domain.EdgeLeftInFollowers:
		return domain.StateFollowing
	case in == domain.EdgeFollowing:
		return domain.StateFollower
	case in == domain.EdgeLeftInFollowers:
		return domain.StateLeftInFollowers
	default:
		return domain.StateStranger
	}
}

// Reverse returns the same snapshot seen from Peer.
func (p Pair) Reverse() Pair {
	return Pair{Owner: p.Peer, Peer: p.Owner, Out: p.In, In: p.Out}
}

// Edges lists the non-nil edges of the pair.
func (p Pair) Edges() []domain.Edge {
	out := make([]domain.Edge, 0, 2)
	if p.Out != nil {
		out = append(out, *p.Out)
	}
	if p.In != nil {
		out = append(out, *p.In)
	}
	return out
}

// WithOut returns a copy of p whose Owner->Peer edge has kind (nil when kind is "").
func (p Pair) WithOut(kind domain.EdgeKind) Pair {
	p.Out = edgeOf(p.Owner, p.Peer, kind)
	return p
}

// WithIn returns a copy of p whose Peer->Owner edge has kind (nil when kind is "").
func (p Pair) WithIn(kind domain.EdgeKind) Pair {
	p.In = edgeOf(p.Peer, p.Owner, kind)
	return p
}

func edgeOf(subject, object string, kind domain.EdgeKind) *domain.Edge {
	if kind == "" {
		return nil
	}
	return &domain.Edge{Subject: subject, Object: object, Kind: kind}
}

func cloneEdge(e *domain.Edge) *domain.Edge {
	if e == nil {
		return nil
	}
	c := *e
	return &c
}
