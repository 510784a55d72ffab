package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/pkg/errors"

	"github.com/Zereker/social/internal/action"
	"github.com/Zereker/social/internal/domain"
	"github.com/Zereker/social/internal/i18n"
	"github.com/Zereker/social/pkg/log"
)

// Handler handles HTTP API requests
type Handler struct {
	logger  *slog.Logger
	friends *action.Friends
}

// NewHandler creates a new HTTP handler
func NewHandler(friends *action.Friends) *Handler {
	return &Handler{
		logger:  log.Logger("http.handler"),
		friends: friends,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// ActionRequest is the body of POST /api/v1/users/{id}/actions
type ActionRequest struct {
	Action string `json:"action"`
	PeerID string `json:"peerId"`
}

// PresenceResponse is the body of GET /api/v1/users/{id}/presence
type PresenceResponse struct {
	UserID   string                  `json:"userId"`
	Online   bool                    `json:"online"`
	Sessions int                     `json:"sessions"`
	Counts   map[domain.Category]int `json:"counts"`
}

// RelationResponse is the body of GET /api/v1/users/{id}/relations/{peer}
type RelationResponse struct {
	UserID string               `json:"userId"`
	PeerID string               `json:"peerId"`
	State  domain.RelationState `json:"state"`
	Edge   *domain.Edge         `json:"edge,omitempty"`
}

// RegisterRoutes registers all HTTP routes
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	// Relationship operations
	mux.HandleFunc("GET /api/v1/users/{id}/views/{category}", h.View)
	mux.HandleFunc("POST /api/v1/users/{id}/actions", h.Apply)
	mux.HandleFunc("GET /api/v1/users/{id}/presence", h.Presence)
	mux.HandleFunc("GET /api/v1/users/{id}/relations/{peer}", h.Relation)

	// Health check
	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /api/v1/health", h.Health)
}

// View handles GET /api/v1/users/{id}/views/{category}?page=&size=&peer=
func (h *Handler) View(w http.ResponseWriter, r *http.Request) {
	category, ok := domain.ParseCategory(r.PathValue("category"))
	if !ok {
		h.writeError(w, r, domain.NewValidationError("", "unknown category %q", r.PathValue("category")))
		return
	}

	q := r.URL.Query()
	page, err := intParam(q.Get("page"))
	if err != nil {
		h.writeError(w, r, domain.NewValidationError("", "page must be a number"))
		return
	}
	size, err := intParam(q.Get("size"))
	if err != nil {
		h.writeError(w, r, domain.NewValidationError("", "size must be a number"))
		return
	}

	resp, err := h.friends.GetView(r.Context(), r.PathValue("id"), category, domain.PageRequest{
		Page: page,
		Size: size,
		Peer: q.Get("peer"),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    resp,
	})
}

// Apply handles POST /api/v1/users/{id}/actions
func (h *Handler) Apply(w http.ResponseWriter, r *http.Request) {
	var req ActionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, domain.NewValidationError("", "invalid request body: %v", err))
		return
	}

	act, ok := domain.ParseFriendAction(req.Action)
	if !ok {
		h.writeError(w, r, domain.NewValidationError(req.Action, "unknown action"))
		return
	}

	resp, err := h.friends.ApplyAction(r.Context(), r.PathValue("id"), act, req.PeerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    resp,
	})
}

// Presence handles GET /api/v1/users/{id}/presence
func (h *Handler) Presence(w http.ResponseWriter, r *http.Request) {
	userID := r.PathValue("id")

	counts, err := h.friends.Counts(r.Context(), userID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	online, sessions := h.friends.Presence(userID)
	h.writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data: PresenceResponse{
			UserID:   userID,
			Online:   online,
			Sessions: sessions,
			Counts:   counts,
		},
	})
}

// Relation handles GET /api/v1/users/{id}/relations/{peer}
func (h *Handler) Relation(w http.ResponseWriter, r *http.Request) {
	userID, peerID := r.PathValue("id"), r.PathValue("peer")

	state, err := h.friends.State(r.Context(), userID, peerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	edge, err := h.friends.Edge(r.Context(), userID, peerID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data: RelationResponse{
			UserID: userID,
			PeerID: peerID,
			State:  state,
			Edge:   edge,
		},
	})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]string{
			"status": "healthy",
		},
	})
}

// writeJSON writes a JSON response
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError writes an error response in the language of the request
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", "path", r.URL.Path, "request_id", RequestID(r.Context()), "error", err)
	}

	h.writeJSON(w, status, Response{
		Success: false,
		Error:   i18n.Message(i18n.ResolveTag(r), err),
	})
}

// statusOf maps domain errors to HTTP status codes
func statusOf(err error) int {
	switch {
	case domain.IsValidation(err):
		return http.StatusBadRequest
	case domain.IsConflict(err):
		return http.StatusConflict
	case domain.IsNotFound(err):
		return http.StatusNotFound
	case domain.IsPersistence(err):
		return http.StatusServiceUnavailable
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}
