package action

import (
	"github.com/Zereker/social/internal/domain"
	"github.com/Zereker/social/internal/relationship"
)

// outcome 决定一次成功迁移要向双方推送哪些事件
type outcome int

const (
	outcomeRequested  outcome = iota // A 关注 B，等待 B 处理
	outcomeBefriended                // 互相关注 / 接受申请，成为好友
	outcomeDeclined                  // A 拒绝 B 的申请，B 仍保留关注
	outcomeUnfollowed                // A 取消关注
	outcomeUnfriended                // A 删除好友，B 降为 A 的粉丝
	outcomeBlocked                   // A 拉黑 B
	outcomeUnblocked                 // A 取消拉黑
)

func (o outcome) String() string {
	switch o {
	case outcomeRequested:
		return "requested"
	case outcomeBefriended:
		return "befriended"
	case outcomeDeclined:
		return "declined"
	case outcomeUnfollowed:
		return "unfollowed"
	case outcomeUnfriended:
		return "unfriended"
	case outcomeBlocked:
		return "blocked"
	case outcomeUnblocked:
		return "unblocked"
	default:
		return "unknown"
	}
}

// plan applies the relationship state machine to p, seen from the acting
// user. It is pure: the caller runs it inside the pair lock.
//
//	follow / add_friend   no A->B edge            A->B following, or both friend if B->A pending
//	accept                B->A pending            both friend
//	left_in_followers     B->A following          B->A left_in_followers
//	unfollow              A->B pending            clear A->B
//	delete_friend         mutual friend           clear A->B, B->A following
//	block                 A->B not blocked        A->B blocked, other edges cleared
//	unblock               A->B blocked            clear A->B
func plan(act domain.FriendAction, p relationship.Pair) (relationship.Pair, outcome, error) {
	out, in := p.OutKind(), p.InKind()

	conflict := func(reason string) (relationship.Pair, outcome, error) {
		return p, 0, &domain.ConflictError{Action: act, Current: p.State(), Reason: reason}
	}

	if act != domain.ActionBlock && act != domain.ActionUnblock {
		if in == domain.EdgeBlocked {
			return conflict("blocked by this user")
		}
		if out == domain.EdgeBlocked {
			return conflict("unblock this user first")
		}
	}

	pending := in == domain.EdgeFollowing || in == domain.EdgeLeftInFollowers

	switch act {
	case domain.ActionFollow, domain.ActionAddFriend:
		if out != "" {
			return conflict("already following")
		}
		if pending {
			return p.WithOut(domain.EdgeFriend).WithIn(domain.EdgeFriend), outcomeBefriended, nil
		}
		return p.WithOut(domain.EdgeFollowing), outcomeRequested, nil

	case domain.ActionAccept:
		if out != "" || !pending {
			return conflict("no pending request")
		}
		return p.WithOut(domain.EdgeFriend).WithIn(domain.EdgeFriend), outcomeBefriended, nil

	case domain.ActionLeftInFollowers:
		if out != "" || in != domain.EdgeFollowing {
			return conflict("no pending request")
		}
		return p.WithIn(domain.EdgeLeftInFollowers), outcomeDeclined, nil

	case domain.ActionUnfollow:
		if out != domain.EdgeFollowing && out != domain.EdgeLeftInFollowers {
			return conflict("not following")
		}
		return p.WithOut(""), outcomeUnfollowed, nil

	case domain.ActionDeleteFriend:
		if !p.Mutual() {
			return conflict("not friends")
		}
		return p.WithOut("").WithIn(domain.EdgeFollowing), outcomeUnfriended, nil

	case domain.ActionBlock:
		if out == domain.EdgeBlocked {
			return conflict("already blocked")
		}
		next := p.WithOut(domain.EdgeBlocked)
		if in != domain.EdgeBlocked {
			next = next.WithIn("")
		}
		return next, outcomeBlocked, nil

	case domain.ActionUnblock:
		if out != domain.EdgeBlocked {
			return conflict("not blocked")
		}
		return p.WithOut(""), outcomeUnblocked, nil

	default:
		return p, 0, domain.NewValidationError(string(act), "unknown action")
	}
}
