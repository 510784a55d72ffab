package domain

import (
	"strings"
	"time"
)

// ============================================================================
// 关系边类型
// ============================================================================

// EdgeKind 有向关系边的类型
type EdgeKind string

const (
	EdgeFollowing       EdgeKind = "following"         // 单向关注 / 好友申请
	EdgeFriend          EdgeKind = "friend"            // 互为好友（双向都会写入）
	EdgeBlocked         EdgeKind = "blocked"           // 拉黑
	EdgeLeftInFollowers EdgeKind = "left_in_followers" // 申请被拒绝，但仍保留关注
)

// Valid reports whether k is one of the known edge kinds.
func (k EdgeKind) Valid() bool {
	switch k {
	case EdgeFollowing, EdgeFriend, EdgeBlocked, EdgeLeftInFollowers:
		return true
	default:
		return false
	}
}

// ============================================================================
// 相对关系状态（A 相对于 B）
// ============================================================================

// RelationState is the relationship of one user relative to another.
type RelationState string

const (
	StateStranger        RelationState = "stranger"
	StateFollowing       RelationState = "following"
	StateFollower        RelationState = "follower"
	StateFriend          RelationState = "friend"
	StateLeftInFollowers RelationState = "left_in_followers"
	StateBlocked         RelationState = "blocked"
)

// ============================================================================
// Edge 关系边
// ============================================================================

// Edge is a directed relationship record from Subject to Object.
type Edge struct {
	Subject   string    `json:"subject"`
	Object    string    `json:"object"`
	Kind      EdgeKind  `json:"kind"`
	CreatedAt time.Time `json:"created_at"`
}

// KindOf returns the kind of e, or the empty kind when e is nil.
func KindOf(e *Edge) EdgeKind {
	if e == nil {
		return ""
	}
	return e.Kind
}

// ============================================================================
// User 用户身份
// ============================================================================

// User carries the public fields of a user identity.
type User struct {
	ID      string `json:"id" validate:"required,nonblank"`
	Name    string `json:"name" validate:"required,nonblank"`
	Surname string `json:"surname,omitempty"`
	Avatar  string `json:"avatar,omitempty" validate:"omitempty,url"`
}

// DisplayName returns "Name Surname" without trailing spaces.
func (u User) DisplayName() string {
	return strings.TrimSpace(u.Name + " " + u.Surname)
}

// FriendRecord is the lightweight entry materialized inside a category view.
type FriendRecord struct {
	ID      string    `json:"id"`
	Name    string    `json:"name"`
	Surname string    `json:"surname,omitempty"`
	Avatar  string    `json:"avatar,omitempty"`
	Since   time.Time `json:"since"`
}

// NewFriendRecord builds a record for u whose edge was created at since.
func NewFriendRecord(u User, since time.Time) FriendRecord {
	return FriendRecord{
		ID:      u.ID,
		Name:    u.Name,
		Surname: u.Surname,
		Avatar:  u.Avatar,
		Since:   since,
	}
}

// ============================================================================
// Session 在线会话
// ============================================================================

// Session is one live connection of a user.
type Session struct {
	UserID      string    `json:"user_id"`
	SessionID   string    `json:"session_id"`
	NodeID      string    `json:"node_id"`
	ConnectedAt time.Time `json:"connected_at"`
}

// ============================================================================
// 分类视图
// ============================================================================

// Category names one of the per-user projections of the relationship graph.
type Category string

const (
	CategoryFriends   Category = "friends"
	CategoryRequests  Category = "requests"
	CategoryFollowers Category = "followers"
	CategoryBlocked   Category = "blocked"
	CategoryOnline    Category = "online"
	CategoryCommon    Category = "common"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryFriends,
	CategoryRequests,
	CategoryFollowers,
	CategoryBlocked,
	CategoryOnline,
	CategoryCommon,
}

// ParseCategory converts s into a Category.
func ParseCategory(s string) (Category, bool) {
	c := Category(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range Categories {
		if c == known {
			return c, true
		}
	}
	return "", false
}

// PageRequest selects one page of a category view.
// Peer is only used by the common-friends category.
type PageRequest struct {
	Page int    `json:"page"`
	Size int    `json:"size"`
	Peer string `json:"peer,omitempty"`
}

// ViewPage is one page of a category view together with its total count.
type ViewPage struct {
	Owner    string         `json:"owner"`
	Category Category       `json:"category"`
	Records  []FriendRecord `json:"records"`
	Count    int            `json:"count"`
	Page     int            `json:"page"`
	Size     int            `json:"size"`
	HasMore  bool           `json:"has_more"`
}

// ============================================================================
// 好友操作
// ============================================================================

// FriendAction names a relationship-mutating operation.
type FriendAction string

const (
	ActionFollow          FriendAction = "follow"
	ActionAddFriend       FriendAction = "add_friend"
	ActionAccept          FriendAction = "accept"
	ActionLeftInFollowers FriendAction = "left_in_followers"
	ActionUnfollow        FriendAction = "unfollow"
	ActionDeleteFriend    FriendAction = "delete_friend"
	ActionBlock           FriendAction = "block"
	ActionUnblock         FriendAction = "unblock"
)

// FriendActions lists every relationship-mutating operation.
var FriendActions = []FriendAction{
	ActionFollow,
	ActionAddFriend,
	ActionAccept,
	ActionLeftInFollowers,
	ActionUnfollow,
	ActionDeleteFriend,
	ActionBlock,
	ActionUnblock,
}

// ParseFriendAction converts s into a FriendAction.
func ParseFriendAction(s string) (FriendAction, bool) {
	a := FriendAction(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range FriendActions {
		if a == known {
			return a, true
		}
	}
	return "", false
}

// ============================================================================
// 事件流
// ============================================================================

const (
	ChangeRelationship = "relationship"
	ChangePresence     = "presence"
)

// ChangeEvent is published on the outbound event stream after every
// successful relationship transition or presence change.
type ChangeEvent struct {
	Type   string        `json:"type"`
	Actor  string        `json:"actor"`
	Peer   string        `json:"peer,omitempty"`
	Action FriendAction  `json:"action,omitempty"`
	State  RelationState `json:"state,omitempty"`
	Edges  []Edge        `json:"edges,omitempty"`
	Online *bool         `json:"online,omitempty"`
	At     time.Time     `json:"at"`
}
