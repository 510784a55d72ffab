package mcp

import "github.com/Zereker/social/internal/domain"

// Tool represents an MCP tool definition
type Tool struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	InputSchema InputSchema `json:"inputSchema"`
}

// InputSchema defines the JSON schema for tool input
type InputSchema struct {
	Type       string              `json:"type"`
	Properties map[string]Property `json:"properties"`
	Required   []string            `json:"required,omitempty"`
}

// Property defines a property in the schema
type Property struct {
	Type        string              `json:"type"`
	Description string              `json:"description,omitempty"`
	Enum        []string            `json:"enum,omitempty"`
	Items       *Property           `json:"items,omitempty"`
	Properties  map[string]Property `json:"properties,omitempty"`
	Default     any                 `json:"default,omitempty"`
}

func friendActionNames() []string {
	out := make([]string, 0, len(domain.FriendActions))
	for _, a := range domain.FriendActions {
		out = append(out, string(a))
	}
	return out
}

func categoryNames() []string {
	out := make([]string, 0, len(domain.Categories))
	for _, c := range domain.Categories {
		out = append(out, string(c))
	}
	return out
}

// SocialTools defines all available MCP tools for relationship operations
var SocialTools = []Tool{
	{
		Name:        "social_apply_action",
		Description: "以 user_id 的身份对 peer_id 执行关系操作（关注、接受、拒绝、取消关注、删除好友、拉黑、取消拉黑）。",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"user_id": {
					Type:        "string",
					Description: "执行操作的用户",
				},
				"action": {
					Type:        "string",
					Description: "关系操作",
					Enum:        friendActionNames(),
				},
				"peer_id": {
					Type:        "string",
					Description: "目标用户",
				},
			},
			Required: []string{"user_id", "action", "peer_id"},
		},
	},
	{
		Name:        "social_get_view",
		Description: "分页查询用户的分类视图（好友、申请、粉丝、黑名单、在线好友、共同好友）。",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"user_id": {
					Type:        "string",
					Description: "视图所属用户",
				},
				"category": {
					Type:        "string",
					Description: "视图分类",
					Enum:        categoryNames(),
				},
				"peer_id": {
					Type:        "string",
					Description: "共同好友的另一方（仅 common 需要）",
				},
				"page": {
					Type:        "integer",
					Description: "页码，从 1 开始",
					Default:     1,
				},
				"size": {
					Type:        "integer",
					Description: "每页条数",
					Default:     20,
				},
			},
			Required: []string{"user_id", "category"},
		},
	},
	{
		Name:        "social_presence",
		Description: "查询用户在线状态、会话数以及各分类计数；给出 peer_id 时同时返回双方关系。",
		InputSchema: InputSchema{
			Type: "object",
			Properties: map[string]Property{
				"user_id": {
					Type:        "string",
					Description: "用户标识",
				},
				"peer_id": {
					Type:        "string",
					Description: "可选，查询与该用户的关系",
				},
			},
			Required: []string{"user_id"},
		},
	},
}
