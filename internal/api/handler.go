package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/huyndo/notisync/internal/session"
)

// ErrorResponse represents an error in problem+json format
type ErrorResponse struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Status int    `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// ConnectionResponse reports the push-channel status for a session.
type ConnectionResponse struct {
	Status   string `json:"status"`
	Phase    string `json:"phase"`
	Attempts int    `json:"attempts"`
}

// UnreadCountResponse carries the derived unread counter.
type UnreadCountResponse struct {
	Count int `json:"count"`
}

// Sessions is the session surface the handlers need. *session.Registry
// satisfies it.
type Sessions interface {
	Acquire(ctx context.Context, identity, credential string) (*session.Session, error)
	Get(identity string) (*session.Session, bool)
	Release(identity string)
}

// Handler serves the local notification API consumed by UI clients.
type Handler struct {
	logger   *zap.Logger
	sessions Sessions
}

// NewHandler creates a new API handler
func NewHandler(logger *zap.Logger, sessions Sessions) *Handler {
	return &Handler{logger: logger, sessions: sessions}
}

// credentials pulls the recipient identity and bearer credential off the
// request. Identity comes from X-Recipient-ID; the credential from the
// Authorization header.
func credentials(r *http.Request) (identity, credential string) {
	identity = r.Header.Get("X-Recipient-ID")
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		credential = strings.TrimPrefix(auth, "Bearer ")
	}
	return identity, credential
}

// acquire resolves the caller's session, creating it on first contact.
func (h *Handler) acquire(w http.ResponseWriter, r *http.Request) *session.Session {
	identity, credential := credentials(r)
	if identity == "" || credential == "" {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Missing credentials",
			"X-Recipient-ID and a bearer Authorization header are required")
		return nil
	}

	s, err := h.sessions.Acquire(r.Context(), identity, credential)
	if err != nil {
		h.logger.Error("failed to start session",
			zap.Error(err),
			zap.String("identity", identity),
		)
		h.writeError(w, http.StatusBadGateway, "upstream_error", "Failed to load notifications", "")
		return nil
	}
	return s
}

// ListNotifications handles GET /v1/notifications
func (h *Handler) ListNotifications(w http.ResponseWriter, r *http.Request) {
	s := h.acquire(w, r)
	if s == nil {
		return
	}

	snap := s.Snapshot()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"data":   snap,
		"count":  len(snap),
		"unread": s.UnreadCount(),
	})
}

// UnreadCount handles GET /v1/notifications/unread-count
func (h *Handler) UnreadCount(w http.ResponseWriter, r *http.Request) {
	s := h.acquire(w, r)
	if s == nil {
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(UnreadCountResponse{Count: s.UnreadCount()})
}

// MarkRead handles POST /v1/notifications/{id}/read.
// Unknown or already-read ids are no-ops, not errors.
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	s := h.acquire(w, r)
	if s == nil {
		return
	}

	id, ok := h.notificationID(w, r)
	if !ok {
		return
	}

	s.MarkRead(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

// MarkAllRead handles POST /v1/notifications/read-all
func (h *Handler) MarkAllRead(w http.ResponseWriter, r *http.Request) {
	s := h.acquire(w, r)
	if s == nil {
		return
	}

	s.MarkAllRead(r.Context())
	w.WriteHeader(http.StatusNoContent)
}

// DeleteNotification handles DELETE /v1/notifications/{id}
func (h *Handler) DeleteNotification(w http.ResponseWriter, r *http.Request) {
	s := h.acquire(w, r)
	if s == nil {
		return
	}

	id, ok := h.notificationID(w, r)
	if !ok {
		return
	}

	s.Delete(r.Context(), id)
	w.WriteHeader(http.StatusNoContent)
}

// Connection handles GET /v1/connection
func (h *Handler) Connection(w http.ResponseWriter, r *http.Request) {
	s := h.acquire(w, r)
	if s == nil {
		return
	}

	phase, attempts := s.Phase()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(ConnectionResponse{
		Status:   string(s.Status()),
		Phase:    phase.String(),
		Attempts: attempts,
	})
}

// RetryConnection handles POST /v1/connection/retry - the explicit external
// action that clears a terminally failed push channel.
func (h *Handler) RetryConnection(w http.ResponseWriter, r *http.Request) {
	s := h.acquire(w, r)
	if s == nil {
		return
	}

	if err := s.Retry(r.Context()); err != nil {
		h.logger.Warn("manual retry failed", zap.Error(err))
	}

	phase, attempts := s.Phase()
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(ConnectionResponse{
		Status:   string(s.Status()),
		Phase:    phase.String(),
		Attempts: attempts,
	})
}

// Logout handles DELETE /v1/session - tears down the caller's session.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	identity, _ := credentials(r)
	if identity == "" {
		h.writeError(w, http.StatusUnauthorized, "unauthorized", "Missing credentials", "")
		return
	}
	h.sessions.Release(identity)
	w.WriteHeader(http.StatusNoContent)
}

// Health handles GET /healthz
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(map[string]string{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *Handler) notificationID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	idStr := chi.URLParam(r, "id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		h.writeError(w, http.StatusBadRequest, "invalid_request", "Invalid notification id",
			"id must be an integer")
		return 0, false
	}
	return id, true
}

// writeError writes a problem+json error response
func (h *Handler) writeError(w http.ResponseWriter, status int, errType, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{
		Type:   errType,
		Title:  title,
		Status: status,
		Detail: detail,
	})
}
