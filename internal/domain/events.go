package domain

import "encoding/json"

// Action is a wire-level event identifier shared by clients and the server.
type Action string

const (
	ActionFriends            Action = "FRIENDS"
	ActionAddToFriends       Action = "ADD_TO_FRIENDS"
	ActionAcceptFriend       Action = "ACCEPT_FRIEND"
	ActionUnsubscribe        Action = "UNSUBSCRIBE"
	ActionBlockFriend        Action = "BLOCK_FRIEND"
	ActionGetAllUsers        Action = "GET_ALL_USERS"
	ActionGetNewUser         Action = "GET_NEW_USER"
	ActionUserDisconnect     Action = "USER_DISCONNECT"
	ActionLogOut             Action = "LOG_OUT"
	ActionSocketChannelError Action = "SOCKET_CHANNEL_ERROR"
)

// Actions lists the complete wire vocabulary.
var Actions = []Action{
	ActionFriends,
	ActionAddToFriends,
	ActionAcceptFriend,
	ActionUnsubscribe,
	ActionBlockFriend,
	ActionGetAllUsers,
	ActionGetNewUser,
	ActionUserDisconnect,
	ActionLogOut,
	ActionSocketChannelError,
}

// Envelope is the frame exchanged with clients.
// To carries the peer id for actions whose payload is empty.
type Envelope struct {
	Action  Action          `json:"action"`
	To      string          `json:"to,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// OutboundEvent is an event the engine wants delivered to one session.
type OutboundEvent struct {
	Action  Action
	Payload any
}

// ============================================================================
// Inbound payloads (client -> engine)
// ============================================================================

// EmptyPayload is the closed empty object.
type EmptyPayload struct{}

// FriendsRequest asks for any relationship action against UserID.
type FriendsRequest struct {
	UserID string `json:"userId" validate:"required,nonblank"`
	Type   string `json:"type" validate:"required,oneof=follow add_friend accept left_in_followers unfollow delete_friend block unblock"`
}

// AcceptFriendRequest accepts the pending request of User.
type AcceptFriendRequest struct {
	User *User `json:"user" validate:"required"`
}

// BlockFriendRequest blocks UserID.
type BlockFriendRequest struct {
	UserID string `json:"userId" validate:"required,nonblank"`
}

// ============================================================================
// Outbound payloads (engine -> client)
// ============================================================================

// FriendsEvent reports the new relationship state with UserID.
type FriendsEvent struct {
	UserID string        `json:"userId" validate:"required,nonblank"`
	Status RelationState `json:"status" validate:"required,oneof=stranger following follower friend left_in_followers blocked"`
}

// UserEvent carries the public fields of one user.
type UserEvent struct {
	User *User `json:"user" validate:"required"`
}

// UserIDEvent carries one user id.
type UserIDEvent struct {
	UserID string `json:"userId" validate:"required,nonblank"`
}

// UsersEvent carries a list of users.
type UsersEvent struct {
	Users []User `json:"users" validate:"required,dive"`
}

// ErrorEvent carries a human readable error message.
type ErrorEvent struct {
	Message string `json:"message" validate:"required,nonblank"`
}
