package events

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/salvemundi/attendance/pkg/database"
	"github.com/salvemundi/attendance/pkg/response"
)

// Handler handles event HTTP endpoints.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates an events handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// GetByID handles GET /events/:id.
func (h *Handler) GetByID(c *gin.Context) {
	id, err := ParseID(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	e, err := h.repo.GetByID(c.Request.Context(), id)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "event not found")
		return
	}
	if err != nil {
		h.logger.Error("get event failed", zap.Error(err), zap.Int64("event_id", id))
		response.Internal(c, "failed to load event")
		return
	}
	response.OK(c, e)
}

// OfficerRequest is the body for assigning or revoking an attendance officer.
type OfficerRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
}

// AddOfficer handles POST /events/:id/officers (admin only).
func (h *Handler) AddOfficer(c *gin.Context) {
	id, req, ok := h.officerRequest(c)
	if !ok {
		return
	}
	err := h.repo.AddAttendanceOfficer(c.Request.Context(), id, req.UserID)
	if database.IsForeignKeyViolation(err) {
		response.NotFound(c, "event or user not found")
		return
	}
	if err != nil {
		h.logger.Error("add attendance officer failed", zap.Error(err), zap.Int64("event_id", id))
		response.Internal(c, "failed to assign officer")
		return
	}
	response.Created(c, gin.H{"event_id": id, "user_id": req.UserID})
}

// RemoveOfficer handles DELETE /events/:id/officers (admin only).
func (h *Handler) RemoveOfficer(c *gin.Context) {
	id, req, ok := h.officerRequest(c)
	if !ok {
		return
	}
	if err := h.repo.RemoveAttendanceOfficer(c.Request.Context(), id, req.UserID); err != nil {
		h.logger.Error("remove attendance officer failed", zap.Error(err), zap.Int64("event_id", id))
		response.Internal(c, "failed to revoke officer")
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) officerRequest(c *gin.Context) (int64, OfficerRequest, bool) {
	var req OfficerRequest
	id, err := ParseID(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return 0, req, false
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == uuid.Nil {
		response.BadRequest(c, "user_id required")
		return 0, req, false
	}
	return id, req, true
}

// ParseID parses a positive event id from a path or query value.
func ParseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, err
	}
	if id <= 0 {
		return 0, errors.New("id must be positive")
	}
	return id, nil
}
