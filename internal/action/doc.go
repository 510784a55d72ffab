// Package action 实现社交关系引擎的编排层。
//
// # 架构概述
//
// Friends 是唯一入口：校验入站事件、执行关系状态机、刷新视图计数、
// 并把结果推送给双方的所有在线会话。
//
//	┌──────────────────────────────────────────────────────────────┐
//	│               transport (ws / http / mcp / kafka)            │
//	└──────────────────────────────────────────────────────────────┘
//	                            │ Envelope
//	                            ▼
//	┌──────────────────────────────────────────────────────────────┐
//	│  schema.Registry.DecodeInbound   (失败 -> ValidationError)    │
//	└──────────────────────────────────────────────────────────────┘
//	                            │
//	                            ▼
//	┌──────────────────────────────────────────────────────────────┐
//	│  Friends.ApplyAction                                          │
//	│   1. relationship.Store.Transition (按 pair 加锁，先持久化)    │
//	│   2. view.Factory.Refresh (双方计数)                           │
//	│   3. presence.Registry.SessionsOf -> schema 校验出站 -> Sink   │
//	│   4. mq 发布 ChangeEvent (social.events)                       │
//	└──────────────────────────────────────────────────────────────┘
//
// # 关系状态机
//
// 状态总是相对于操作方 A：
//
//   - stranger: 无边
//   - following: A -> B 待处理
//   - follower: B -> A 待处理
//   - friend: 双向 friend 边
//   - left_in_followers: A 拒绝了 B，B 仍关注 A
//   - blocked: A 拉黑了 B
//
// 被对方拉黑时，除 block/unblock 外的操作都返回 ConflictError。
// 任何失败都不会产生修改。
//
// # 事件
//
//	follow (pending)    A: FRIENDS        B: ADD_TO_FRIENDS
//	follow / accept     A: FRIENDS        B: ACCEPT_FRIEND
//	left_in_followers   A: FRIENDS
//	unfollow            A: FRIENDS        B: UNSUBSCRIBE
//	delete_friend       A: FRIENDS        B: FRIENDS
//	block               A: BLOCK_FRIEND   B: FRIENDS
//	unblock             A: FRIENDS
//
// 上线 (第一个会话): 在线好友收到 GET_NEW_USER，新会话收到 GET_ALL_USERS。
// 下线 (最后一个会话): 在线好友收到 USER_DISCONNECT。
//
// 推送是 fire-and-forget：修改先落库，推送失败只丢弃这一条通知。
//
// # 使用示例
//
//	friends := action.NewFriends(action.Options{
//	    Store:    store,
//	    Views:    views,
//	    Presence: registry,
//	    Users:    directory,
//	})
//
//	_ = friends.OnSessionConnect(ctx, "u1", sessionID, sink)
//	res, err := friends.Follow(ctx, "u1", "u2")
//	// res.State == domain.StateFollowing
package action
