package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Zereker/social/internal/action"
	"github.com/Zereker/social/internal/domain"
)

// Handler handles MCP tool calls
type Handler struct {
	friends *action.Friends
}

// NewHandler creates a new MCP handler
func NewHandler(friends *action.Friends) *Handler {
	return &Handler{
		friends: friends,
	}
}

// ToolCallRequest represents an MCP tool call request
type ToolCallRequest struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// ToolCallResponse represents an MCP tool call response
type ToolCallResponse struct {
	Content []ContentBlock `json:"content"`
	IsError bool           `json:"isError,omitempty"`
}

// ContentBlock represents a content block in the response
type ContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// HandleToolCall handles an MCP tool call
func (h *Handler) HandleToolCall(ctx context.Context, req ToolCallRequest) ToolCallResponse {
	switch req.Name {
	case "social_apply_action":
		return h.handleApply(ctx, req.Arguments)
	case "social_get_view":
		return h.handleView(ctx, req.Arguments)
	case "social_presence":
		return h.handlePresence(ctx, req.Arguments)
	default:
		return errorResponse(fmt.Sprintf("unknown tool: %s", req.Name))
	}
}

// handleApply handles social_apply_action tool call
func (h *Handler) handleApply(ctx context.Context, args json.RawMessage) ToolCallResponse {
	var req struct {
		UserID string `json:"user_id"`
		Action string `json:"action"`
		PeerID string `json:"peer_id"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return errorResponse(fmt.Sprintf("invalid arguments: %v", err))
	}

	act, ok := domain.ParseFriendAction(req.Action)
	if !ok {
		return errorResponse(fmt.Sprintf("unknown action: %s", req.Action))
	}

	resp, err := h.friends.ApplyAction(ctx, req.UserID, act, req.PeerID)
	if err != nil {
		return errorResponse(fmt.Sprintf("%s failed: %v", act, err))
	}

	return successResponse(fmt.Sprintf("%s -> %s: %s（之前：%s）",
		resp.UserID, resp.PeerID, resp.State, resp.Previous))
}

// handleView handles social_get_view tool call
func (h *Handler) handleView(ctx context.Context, args json.RawMessage) ToolCallResponse {
	var req struct {
		UserID   string `json:"user_id"`
		Category string `json:"category"`
		PeerID   string `json:"peer_id"`
		Page     int    `json:"page"`
		Size     int    `json:"size"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return errorResponse(fmt.Sprintf("invalid arguments: %v", err))
	}

	page, err := h.friends.GetView(ctx, req.UserID, domain.Category(req.Category), domain.PageRequest{
		Page: req.Page,
		Size: req.Size,
		Peer: req.PeerID,
	})
	if err != nil {
		return errorResponse(fmt.Sprintf("get view failed: %v", err))
	}

	return successResponse(formatViewPage(page))
}

// handlePresence handles social_presence tool call
func (h *Handler) handlePresence(ctx context.Context, args json.RawMessage) ToolCallResponse {
	var req struct {
		UserID string `json:"user_id"`
		PeerID string `json:"peer_id"`
	}
	if err := json.Unmarshal(args, &req); err != nil {
		return errorResponse(fmt.Sprintf("invalid arguments: %v", err))
	}
	if strings.TrimSpace(req.UserID) == "" {
		return errorResponse("user_id is required")
	}

	counts, err := h.friends.Counts(ctx, req.UserID)
	if err != nil {
		return errorResponse(fmt.Sprintf("presence failed: %v", err))
	}
	online, sessions := h.friends.Presence(req.UserID)

	status := "离线"
	if online {
		status = "在线"
	}
	parts := []string{fmt.Sprintf("%s: %s（%d 个会话）", req.UserID, status, sessions)}
	for _, c := range domain.Categories {
		if n, ok := counts[c]; ok {
			parts = append(parts, fmt.Sprintf("- %s: %d", c, n))
		}
	}

	if req.PeerID != "" {
		state, err := h.friends.State(ctx, req.UserID, req.PeerID)
		if err != nil {
			return errorResponse(fmt.Sprintf("presence failed: %v", err))
		}
		parts = append(parts, fmt.Sprintf("与 %s 的关系: %s", req.PeerID, state))
	}

	return successResponse(strings.Join(parts, "\n"))
}

// formatViewPage 格式化视图分页
func formatViewPage(page domain.ViewPage) string {
	parts := []string{fmt.Sprintf("## %s / %s（共 %d，第 %d 页）", page.Owner, page.Category, page.Count, page.Page)}

	if len(page.Records) == 0 {
		parts = append(parts, "没有记录。")
		return strings.Join(parts, "\n")
	}

	for _, r := range page.Records {
		parts = append(parts, fmt.Sprintf("- %s (%s)", r.Name, r.ID))
	}
	if page.HasMore {
		parts = append(parts, "…")
	}

	return strings.Join(parts, "\n")
}

// Helper functions

func successResponse(text string) ToolCallResponse {
	return ToolCallResponse{
		Content: []ContentBlock{
			{Type: "text", Text: text},
		},
	}
}

func errorResponse(text string) ToolCallResponse {
	return ToolCallResponse{
		Content: []ContentBlock{
			{Type: "text", Text: text},
		},
		IsError: true,
	}
}
