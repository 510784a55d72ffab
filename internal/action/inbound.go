package action

import (
	"context"
	"strings"

	"github.com/Zereker/social/internal/domain"
)

// HandleInbound validates and executes one event sent by a live session.
// Any failure is reported back to that session as SOCKET_CHANNEL_ERROR and
// returned to the caller.
func (f *Friends) HandleInbound(ctx context.Context, sessionID string, env domain.Envelope) error {
	s, ok := f.hub.get(sessionID)
	if !ok {
		return domain.NewValidationError(string(env.Action), "unknown session %q", sessionID)
	}

	var err error
	if !s.allow() {
		err = domain.ErrRateLimited
	} else {
		err = f.handle(ctx, s.userID, sessionID, env)
	}

	inboundTotal.WithLabelValues(string(env.Action), resultOf(err)).Inc()
	if err != nil {
		f.SendError(sessionID, err)
	}
	return err
}

// HandleCommand executes an event on behalf of userID without a session,
// e.g. a command consumed from the message queue. Replies go to every live
// session of the user.
func (f *Friends) HandleCommand(ctx context.Context, userID string, env domain.Envelope) error {
	if strings.TrimSpace(userID) == "" {
		return domain.NewValidationError(string(env.Action), "user id is required")
	}

	err := f.handle(ctx, userID, "", env)
	inboundTotal.WithLabelValues(string(env.Action), resultOf(err)).Inc()
	return err
}

// handle routes a validated payload to the orchestrator. Nothing reaches the
// orchestrator before the inbound schema accepted it.
func (f *Friends) handle(ctx context.Context, userID, sessionID string, env domain.Envelope) error {
	payload, err := f.schema.DecodeInbound(env.Action, env.Payload)
	if err != nil {
		return err
	}

	peer := func() (string, error) {
		to := strings.TrimSpace(env.To)
		if to == "" {
			return "", domain.NewValidationError(string(env.Action), "to: required")
		}
		return to, nil
	}

	switch req := payload.(type) {
	case *domain.FriendsRequest:
		act, ok := domain.ParseFriendAction(req.Type)
		if !ok {
			return domain.NewValidationError(string(env.Action), "type: unknown action %q", req.Type)
		}
		_, err = f.ApplyAction(ctx, userID, act, req.UserID)

	case *domain.AcceptFriendRequest:
		_, err = f.ApplyAction(ctx, userID, domain.ActionAccept, req.User.ID)

	case *domain.BlockFriendRequest:
		_, err = f.ApplyAction(ctx, userID, domain.ActionBlock, req.UserID)

	case *domain.EmptyPayload:
		switch env.Action {
		case domain.ActionAddToFriends:
			var to string
			if to, err = peer(); err == nil {
				_, err = f.ApplyAction(ctx, userID, domain.ActionAddFriend, to)
			}

		case domain.ActionUnsubscribe:
			var to string
			if to, err = peer(); err == nil {
				_, err = f.ApplyAction(ctx, userID, domain.ActionUnfollow, to)
			}

		case domain.ActionGetAllUsers:
			err = f.replyOnlineFriends(ctx, userID, sessionID)

		case domain.ActionLogOut:
			f.LogOut(ctx, userID)

		default:
			err = domain.NewValidationError(string(env.Action), "unsupported action")
		}

	default:
		err = domain.NewValidationError(string(env.Action), "unsupported action")
	}

	return err
}

func (f *Friends) replyOnlineFriends(ctx context.Context, userID, sessionID string) error {
	friends, err := f.onlineFriends(ctx, userID)
	if err != nil {
		return err
	}

	ev := domain.OutboundEvent{Action: domain.ActionGetAllUsers, Payload: domain.UsersEvent{Users: friends}}
	if sessionID == "" {
		f.sendUser(userID, ev)
	} else {
		f.sendSession(sessionID, ev)
	}
	return nil
}
