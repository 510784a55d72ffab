package action

import (
	"context"
	"strings"

	"golang.org/x/time/rate"

	"github.com/Zereker/social/internal/domain"
	"github.com/Zereker/social/internal/i18n"
)

// ============================================================================
// 会话生命周期
// ============================================================================

// OnSessionConnect registers a live session of userID. The first session of
// a user announces GET_NEW_USER to the user's online friends; every new
// session receives GET_ALL_USERS with the friends currently online.
func (f *Friends) OnSessionConnect(ctx context.Context, userID, sessionID string, sink Sink, opts ...SessionOption) error {
	userID, sessionID = strings.TrimSpace(userID), strings.TrimSpace(sessionID)
	if userID == "" || sessionID == "" || sink == nil {
		return domain.NewValidationError("", "user id, session id and sink are required")
	}

	user, err := f.users.GetUser(ctx, userID)
	if err != nil {
		return err
	}

	s := &session{id: sessionID, userID: userID, sink: sink, lang: i18n.Default()}
	for _, opt := range opts {
		opt(s)
	}
	if f.rateLimit > 0 {
		s.limiter = rate.NewLimiter(f.rateLimit, f.rateBurst)
	}

	// sink 先于 presence 注册，保证随后推送的事件能送达
	f.hub.add(s)
	becameOnline, err := f.presence.Register(ctx, userID, sessionID)
	if err != nil {
		f.hub.remove(sessionID)
		return err
	}

	friends, err := f.onlineFriends(ctx, userID)
	if err != nil {
		f.logger.Warn("load online friends failed", "user_id", userID, "error", err)
	}

	if becameOnline {
		for _, friend := range friends {
			f.sendUser(friend.ID, domain.OutboundEvent{
				Action:  domain.ActionGetNewUser,
				Payload: domain.UserEvent{User: &user},
			})
		}
		f.publishPresence(userID, true)
	}

	f.sendSession(sessionID, domain.OutboundEvent{
		Action:  domain.ActionGetAllUsers,
		Payload: domain.UsersEvent{Users: friends},
	})

	f.logger.Info("session connected", "user_id", userID, "session_id", sessionID, "online", becameOnline)
	return nil
}

// OnSessionDisconnect forgets a session. When it was the last one, the
// user's online friends receive USER_DISCONNECT and the user's cached views
// are dropped.
func (f *Friends) OnSessionDisconnect(ctx context.Context, userID, sessionID string) {
	f.hub.remove(sessionID)

	if !f.presence.Remove(ctx, userID, sessionID) {
		return
	}
	f.wentOffline(ctx, userID)
	f.logger.Info("session disconnected", "user_id", userID, "session_id", sessionID)
}

// LogOut closes every session of userID. Each session receives LOG_OUT
// before its sink is closed.
func (f *Friends) LogOut(ctx context.Context, userID string) int {
	ids := f.presence.RemoveAll(ctx, userID)
	if len(ids) == 0 {
		return 0
	}

	data, ok := f.encode(domain.OutboundEvent{Action: domain.ActionLogOut, Payload: domain.EmptyPayload{}})
	for _, id := range ids {
		s, found := f.hub.remove(id)
		if !found {
			continue
		}
		if ok {
			if err := s.sink.Send(data); err != nil {
				droppedTotal.WithLabelValues("send_failed").Inc()
			} else {
				dispatchedTotal.WithLabelValues(string(domain.ActionLogOut)).Inc()
			}
		}
		if err := s.sink.Close(); err != nil {
			f.logger.Debug("close session failed", "session_id", id, "error", err)
		}
	}

	f.wentOffline(ctx, userID)
	f.logger.Info("user logged out", "user_id", userID, "sessions", len(ids))
	return len(ids)
}

func (f *Friends) wentOffline(ctx context.Context, userID string) {
	friends, err := f.onlineFriends(ctx, userID)
	if err != nil {
		f.logger.Warn("load online friends failed", "user_id", userID, "error", err)
	}
	for _, friend := range friends {
		f.sendUser(friend.ID, domain.OutboundEvent{
			Action:  domain.ActionUserDisconnect,
			Payload: domain.UserIDEvent{UserID: userID},
		})
	}

	f.views.Forget(userID)
	f.publishPresence(userID, false)
}

// onlineFriends returns the friends of userID that are online, newest
// friendship first. It never returns nil.
func (f *Friends) onlineFriends(ctx context.Context, userID string) ([]domain.User, error) {
	users := []domain.User{}

	v, err := f.views.Build(ctx, userID, domain.CategoryOnline, "")
	if err != nil {
		return users, err
	}

	for _, rec := range v.Records() {
		if strings.TrimSpace(rec.Name) == "" {
			// 用户资料缺失，无法满足出站 schema
			continue
		}
		users = append(users, domain.User{ID: rec.ID, Name: rec.Name, Surname: rec.Surname, Avatar: rec.Avatar})
	}
	return users, nil
}

func (f *Friends) publishPresence(userID string, online bool) {
	f.publish(domain.ChangeEvent{
		Type:   domain.ChangePresence,
		Actor:  userID,
		Online: &online,
		At:     f.now(),
	})
}
