package committees

import (
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/salvemundi/attendance/internal/middleware"
	"github.com/salvemundi/attendance/internal/models"
	"github.com/salvemundi/attendance/pkg/database"
	"github.com/salvemundi/attendance/pkg/response"
)

// MemberRequest is the body for POST /committees/:id/members.
type MemberRequest struct {
	UserID uuid.UUID `json:"user_id" binding:"required"`
}

// Handler handles committee HTTP endpoints.
type Handler struct {
	repo   *Repository
	logger *zap.Logger
}

// NewHandler creates a committees handler.
func NewHandler(repo *Repository, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{repo: repo, logger: logger}
}

// AddMember handles POST /committees/:id/members (admin only).
func (h *Handler) AddMember(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		response.BadRequest(c, "invalid committee id")
		return
	}
	var req MemberRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "user_id required")
		return
	}
	err = h.repo.AddMember(c.Request.Context(), id, req.UserID)
	if database.IsForeignKeyViolation(err) {
		response.NotFound(c, "committee or user not found")
		return
	}
	if err != nil {
		h.logger.Error("add committee member failed", zap.Error(err), zap.Int64("committee_id", id))
		response.Internal(c, "failed to add member")
		return
	}
	response.Created(c, gin.H{"committee_id": id, "user_id": req.UserID})
}

// Mine handles GET /committees/mine: the caller's committees with normalized tokens.
func (h *Handler) Mine(c *gin.Context) {
	id, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	list, err := h.repo.ListForUser(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("list committees failed", zap.Error(err))
		response.Internal(c, "failed to list committees")
		return
	}
	if list == nil {
		list = []models.Committee{}
	}
	response.OK(c, list)
}
