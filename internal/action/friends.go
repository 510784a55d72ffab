package action

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/time/rate"

	"github.com/Zereker/social/internal/domain"
	"github.com/Zereker/social/internal/i18n"
	"github.com/Zereker/social/internal/presence"
	"github.com/Zereker/social/internal/relationship"
	"github.com/Zereker/social/internal/schema"
	"github.com/Zereker/social/internal/view"
	"github.com/Zereker/social/pkg/log"
	"github.com/Zereker/social/pkg/mq"
)

// DefaultEventsTopic is the topic change events are published to.
const DefaultEventsTopic = "social.events"

// Options wires the collaborators of Friends.
type Options struct {
	Store    *relationship.Store
	Views    *view.Factory
	Presence *presence.Registry
	Users    domain.UserDirectory
	Schema   *schema.Registry

	// Queue receives a domain.ChangeEvent after every change. Optional.
	Queue       mq.MessageQueue
	EventsTopic string

	// RateLimit bounds inbound events per session; zero disables the limit.
	RateLimit rate.Limit
	RateBurst int

	Now func() time.Time
}

// Friends 好友关系编排器：执行关系迁移、刷新视图计数、向在线会话推送事件
type Friends struct {
	logger *slog.Logger

	store    *relationship.Store
	views    *view.Factory
	presence *presence.Registry
	users    domain.UserDirectory
	schema   *schema.Registry

	queue       mq.MessageQueue
	eventsTopic string

	rateLimit rate.Limit
	rateBurst int
	now       func() time.Time

	hub *hub
}

// NewFriends creates the orchestrator.
func NewFriends(opts Options) *Friends {
	if opts.EventsTopic == "" {
		opts.EventsTopic = DefaultEventsTopic
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Schema == nil {
		opts.Schema = schema.NewRegistry()
	}
	if opts.RateLimit > 0 && opts.RateBurst <= 0 {
		opts.RateBurst = 1
	}

	return &Friends{
		logger:      log.Logger("friends"),
		store:       opts.Store,
		views:       opts.Views,
		presence:    opts.Presence,
		users:       opts.Users,
		schema:      opts.Schema,
		queue:       opts.Queue,
		eventsTopic: opts.EventsTopic,
		rateLimit:   opts.RateLimit,
		rateBurst:   opts.RateBurst,
		now:         opts.Now,
		hub:         newHub(),
	}
}

// Result describes a successful relationship action.
type Result struct {
	Action   domain.FriendAction  `json:"action"`
	UserID   string               `json:"user_id"`
	PeerID   string               `json:"peer_id"`
	Previous domain.RelationState `json:"previous"`
	State    domain.RelationState `json:"state"`
}

// ============================================================================
// 关系操作
// ============================================================================

// ApplyAction runs act by userID against peerID. On error nothing changed.
func (f *Friends) ApplyAction(ctx context.Context, userID string, act domain.FriendAction, peerID string) (Result, error) {
	res, err := f.apply(ctx, userID, act, peerID)
	actionsTotal.WithLabelValues(string(act), resultOf(err)).Inc()
	if err != nil {
		f.logger.Info("action rejected", "user_id", userID, "peer_id", peerID, "action", act, "error", err)
		return Result{}, err
	}

	f.logger.Debug("action applied", "user_id", userID, "peer_id", peerID, "action", act,
		"previous", res.Previous, "state", res.State)
	return res, nil
}

func (f *Friends) apply(ctx context.Context, userID string, act domain.FriendAction, peerID string) (Result, error) {
	userID, peerID = strings.TrimSpace(userID), strings.TrimSpace(peerID)
	if userID == "" || peerID == "" {
		return Result{}, domain.NewValidationError(string(act), "user id and peer id are required")
	}
	parsed, ok := domain.ParseFriendAction(string(act))
	if !ok {
		return Result{}, domain.NewValidationError(string(act), "unknown action")
	}
	act = parsed
	if userID == peerID {
		return Result{}, domain.NewValidationError(string(act), "cannot target yourself")
	}

	actor, err := f.users.GetUser(ctx, userID)
	if err != nil {
		return Result{}, errors.WithMessage(err, "resolve user")
	}
	peer, err := f.users.GetUser(ctx, peerID)
	if err != nil {
		return Result{}, errors.WithMessage(err, "resolve peer")
	}

	var result outcome
	decide := func(p relationship.Pair) (relationship.Pair, error) {
		next, o, err := plan(act, p)
		result = o
		return next, err
	}
	// 在 pair 锁内刷新计数并推送，同一对用户的事件按提交顺序送达
	committed := func(_, after relationship.Pair) {
		if err := f.views.Refresh(ctx, userID, peerID); err != nil {
			f.logger.Warn("refresh views failed", "user_id", userID, "peer_id", peerID, "error", err)
		}
		f.notify(result, actor, peer, after)
	}

	before, after, err := f.store.TransitionThen(ctx, userID, peerID, decide, committed)
	if err != nil {
		return Result{}, err
	}

	f.publish(domain.ChangeEvent{
		Type:   domain.ChangeRelationship,
		Actor:  userID,
		Peer:   peerID,
		Action: act,
		State:  after.State(),
		Edges:  after.Edges(),
		At:     f.now(),
	})

	return Result{
		Action:   act,
		UserID:   userID,
		PeerID:   peerID,
		Previous: before.State(),
		State:    after.State(),
	}, nil
}

// notify fans the events of one transition out to every live session of
// both users.
func (f *Friends) notify(o outcome, actor, peer domain.User, after relationship.Pair) {
	toActor := domain.OutboundEvent{
		Action:  domain.ActionFriends,
		Payload: domain.FriendsEvent{UserID: peer.ID, Status: after.State()},
	}
	toPeerStatus := domain.OutboundEvent{
		Action:  domain.ActionFriends,
		Payload: domain.FriendsEvent{UserID: actor.ID, Status: after.Reverse().State()},
	}

	switch o {
	case outcomeRequested:
		f.sendUser(actor.ID, toActor)
		f.sendUser(peer.ID, domain.OutboundEvent{Action: domain.ActionAddToFriends, Payload: domain.UserEvent{User: &actor}})
	case outcomeBefriended:
		f.sendUser(actor.ID, toActor)
		f.sendUser(peer.ID, domain.OutboundEvent{Action: domain.ActionAcceptFriend, Payload: domain.UserEvent{User: &actor}})
	case outcomeUnfollowed:
		f.sendUser(actor.ID, toActor)
		f.sendUser(peer.ID, domain.OutboundEvent{Action: domain.ActionUnsubscribe, Payload: domain.UserIDEvent{UserID: actor.ID}})
	case outcomeUnfriended:
		f.sendUser(actor.ID, toActor)
		f.sendUser(peer.ID, toPeerStatus)
	case outcomeBlocked:
		f.sendUser(actor.ID, domain.OutboundEvent{Action: domain.ActionBlockFriend, Payload: domain.UserEvent{User: &peer}})
		f.sendUser(peer.ID, toPeerStatus)
	case outcomeDeclined, outcomeUnblocked:
		f.sendUser(actor.ID, toActor)
	}
}

// Follow 关注（发送好友申请）
func (f *Friends) Follow(ctx context.Context, userID, peerID string) (Result, error) {
	return f.ApplyAction(ctx, userID, domain.ActionFollow, peerID)
}

// AddFriend is a synonym of Follow.
func (f *Friends) AddFriend(ctx context.Context, userID, peerID string) (Result, error) {
	return f.ApplyAction(ctx, userID, domain.ActionAddFriend, peerID)
}

// Accept 接受好友申请
func (f *Friends) Accept(ctx context.Context, userID, peerID string) (Result, error) {
	return f.ApplyAction(ctx, userID, domain.ActionAccept, peerID)
}

// LeftInFollowers 拒绝申请，对方保留关注
func (f *Friends) LeftInFollowers(ctx context.Context, userID, peerID string) (Result, error) {
	return f.ApplyAction(ctx, userID, domain.ActionLeftInFollowers, peerID)
}

// Unfollow 取消关注
func (f *Friends) Unfollow(ctx context.Context, userID, peerID string) (Result, error) {
	return f.ApplyAction(ctx, userID, domain.ActionUnfollow, peerID)
}

// DeleteFriend 删除好友
func (f *Friends) DeleteFriend(ctx context.Context, userID, peerID string) (Result, error) {
	return f.ApplyAction(ctx, userID, domain.ActionDeleteFriend, peerID)
}

// Block 拉黑
func (f *Friends) Block(ctx context.Context, userID, peerID string) (Result, error) {
	return f.ApplyAction(ctx, userID, domain.ActionBlock, peerID)
}

// Unblock 取消拉黑
func (f *Friends) Unblock(ctx context.Context, userID, peerID string) (Result, error) {
	return f.ApplyAction(ctx, userID, domain.ActionUnblock, peerID)
}

// ============================================================================
// 查询
// ============================================================================

// State returns the relationship of userID toward peerID.
func (f *Friends) State(ctx context.Context, userID, peerID string) (domain.RelationState, error) {
	return f.store.State(ctx, userID, peerID)
}

// Edge returns the directed userID->peerID edge, or nil.
func (f *Friends) Edge(ctx context.Context, userID, peerID string) (*domain.Edge, error) {
	return f.store.GetEdge(ctx, userID, peerID)
}

// GetView returns one page of a category view of userID.
func (f *Friends) GetView(ctx context.Context, userID string, category domain.Category, req domain.PageRequest) (domain.ViewPage, error) {
	if strings.TrimSpace(userID) == "" {
		return domain.ViewPage{}, domain.NewValidationError("", "user id is required")
	}
	if _, ok := domain.ParseCategory(string(category)); !ok {
		return domain.ViewPage{}, domain.NewValidationError("", "unknown category %q", category)
	}
	return f.views.Page(ctx, userID, category, req)
}

// Counts returns the size of every stored category of userID.
func (f *Friends) Counts(ctx context.Context, userID string) (map[domain.Category]int, error) {
	return f.views.Counts(ctx, userID)
}

// Presence reports whether userID is online and how many sessions it holds.
func (f *Friends) Presence(userID string) (online bool, sessions int) {
	ids := f.presence.SessionsOf(userID)
	return len(ids) > 0, len(ids)
}

// ============================================================================
// 事件分发
// ============================================================================

// sendUser delivers ev to every live session of userID.
func (f *Friends) sendUser(userID string, ev domain.OutboundEvent) {
	data, ok := f.encode(ev)
	if !ok {
		return
	}
	for _, id := range f.presence.SessionsOf(userID) {
		f.write(id, ev.Action, data)
	}
}

// sendSession delivers ev to one session.
func (f *Friends) sendSession(sessionID string, ev domain.OutboundEvent) {
	data, ok := f.encode(ev)
	if !ok {
		return
	}
	f.write(sessionID, ev.Action, data)
}

// encode validates ev against its outbound schema. A violation is a defect:
// it is logged and the event is never sent.
func (f *Friends) encode(ev domain.OutboundEvent) ([]byte, bool) {
	data, err := f.schema.EncodeOutbound(ev)
	if err != nil {
		schemaViolations.WithLabelValues(string(ev.Action)).Inc()
		f.logger.Error("outbound event violates schema", "action", ev.Action, "error", err)
		return nil, false
	}
	return data, true
}

func (f *Friends) write(sessionID string, action domain.Action, data []byte) {
	s, ok := f.hub.get(sessionID)
	if !ok {
		droppedTotal.WithLabelValues("no_sink").Inc()
		return
	}
	if err := s.sink.Send(data); err != nil {
		droppedTotal.WithLabelValues("send_failed").Inc()
		f.logger.Debug("drop event", "session_id", sessionID, "action", action, "error", err)
		return
	}
	dispatchedTotal.WithLabelValues(string(action)).Inc()
}

// SendError reports err to one session as SOCKET_CHANNEL_ERROR in the
// session language. Schema violations are never reported to users.
func (f *Friends) SendError(sessionID string, err error) {
	if err == nil || domain.IsInternalSchema(err) {
		return
	}

	s, ok := f.hub.get(sessionID)
	if !ok {
		return
	}
	f.sendSession(sessionID, domain.OutboundEvent{
		Action:  domain.ActionSocketChannelError,
		Payload: domain.ErrorEvent{Message: i18n.Message(s.lang, err)},
	})
}

// publish writes a change event to the event stream.
func (f *Friends) publish(ev domain.ChangeEvent) {
	if f.queue == nil {
		return
	}

	data, err := json.Marshal(ev)
	if err != nil {
		f.logger.Error("marshal change event failed", "error", err)
		return
	}
	// 按 actor 分区，同一用户的变更保持顺序
	if keyed, ok := f.queue.(mq.KeyedPublisher); ok {
		err = keyed.PublishWithKey(f.eventsTopic, ev.Actor, data)
	} else {
		err = f.queue.Publish(f.eventsTopic, data)
	}
	if err != nil {
		f.logger.Warn("publish change event failed", "topic", f.eventsTopic, "type", ev.Type, "error", err)
	}
}

func resultOf(err error) string {
	switch {
	case err == nil:
		return resultOK
	case domain.IsValidation(err):
		return resultValidation
	case domain.IsConflict(err):
		return resultConflict
	case domain.IsNotFound(err):
		return resultNotFound
	case domain.IsPersistence(err):
		return resultPersistence
	case errors.Is(err, domain.ErrRateLimited):
		return resultLimited
	default:
		return resultError
	}
}
