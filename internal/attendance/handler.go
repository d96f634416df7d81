package attendance

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/salvemundi/attendance/internal/events"
	"github.com/salvemundi/attendance/internal/middleware"
	"github.com/salvemundi/attendance/pkg/qr"
	"github.com/salvemundi/attendance/pkg/response"
)

// MaxScanImageSize bounds uploaded scan photos (10MB).
const MaxScanImageSize = 10 << 20

// Policy answers authorization questions for the HTTP layer.
type Policy interface {
	Access
	IsAdmin(ctx context.Context, userID uuid.UUID) bool
}

// CheckInRequest is the body for POST /attendance/check-in.
type CheckInRequest struct {
	Token   string `json:"token"`
	EventID *int64 `json:"event_id"`
}

// AuthorizedResponse is returned by GET /attendance/authorized.
type AuthorizedResponse struct {
	Authorized bool `json:"authorized"`
}

// Handler handles attendance HTTP endpoints.
type Handler struct {
	svc    *Service
	policy Policy
	logger *zap.Logger
}

// NewHandler creates an attendance handler.
func NewHandler(svc *Service, policy Policy, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, policy: policy, logger: logger}
}

// CheckIn handles POST /attendance/check-in.
func (h *Handler) CheckIn(c *gin.Context) {
	var req CheckInRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	h.checkIn(c, req.Token, req.EventID)
}

// Scan handles POST /attendance/scan: a multipart "image" holding a photo of a ticket,
// with an optional "event_id" form field.
func (h *Handler) Scan(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		response.BadRequest(c, "image file required")
		return
	}
	if file.Size > MaxScanImageSize {
		response.BadRequest(c, "image too large")
		return
	}
	var eventID *int64
	if v := c.PostForm("event_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			response.BadRequest(c, "invalid event id")
			return
		}
		eventID = &id
	}
	f, err := file.Open()
	if err != nil {
		response.BadRequest(c, "unreadable image")
		return
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, MaxScanImageSize))
	if err != nil {
		response.BadRequest(c, "unreadable image")
		return
	}
	token, err := qr.Decode(data)
	if err != nil {
		response.BadRequest(c, "no QR code found in image")
		return
	}
	h.checkIn(c, token, eventID)
}

func (h *Handler) checkIn(c *gin.Context, token string, eventID *int64) {
	actor, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	res, err := h.svc.CheckIn(c.Request.Context(), actor, token, eventID)
	switch {
	case errors.Is(err, ErrInvalidToken), errors.Is(err, ErrInvalidEvent):
		response.BadRequest(c, err.Error())
	case errors.Is(err, ErrForbidden):
		response.Forbidden(c, err.Error())
	case err != nil:
		h.logger.Error("check-in failed", zap.Error(err), zap.String("actor", actor.String()))
		response.Internal(c, "check-in failed")
	default:
		c.JSON(http.StatusOK, res)
	}
}

// Authorized handles GET /attendance/authorized?userId&eventId. userId defaults to the caller;
// asking about someone else requires the admin role.
func (h *Handler) Authorized(c *gin.Context) {
	caller, ok := middleware.UserID(c)
	if !ok {
		response.Unauthorized(c, "missing user context")
		return
	}
	eventID, err := events.ParseID(c.Query("eventId"))
	if err != nil {
		response.BadRequest(c, "invalid eventId")
		return
	}
	subject := caller
	if v := c.Query("userId"); v != "" {
		if subject, err = uuid.Parse(v); err != nil {
			response.BadRequest(c, "invalid userId")
			return
		}
	}
	ctx := c.Request.Context()
	if subject != caller && !h.policy.IsAdmin(ctx, caller) {
		response.Forbidden(c, "only admins may query other users")
		return
	}
	c.JSON(http.StatusOK, AuthorizedResponse{Authorized: h.policy.Authorized(ctx, subject, eventID)})
}

// EventAttendance handles GET /events/:id/attendance.
func (h *Handler) EventAttendance(c *gin.Context) {
	eventID, err := events.ParseID(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	list, err := h.svc.Attendance(c.Request.Context(), eventID)
	if err != nil {
		h.logger.Error("attendance list failed", zap.Error(err), zap.Int64("event_id", eventID))
		response.Internal(c, "failed to load attendance")
		return
	}
	response.OK(c, list)
}

// RequireEventAccess allows the request only when the caller may record attendance for the
// event in the :id path parameter. Call after JWT.
func RequireEventAccess(access Access) gin.HandlerFunc {
	return func(c *gin.Context) {
		eventID, err := events.ParseID(c.Param("id"))
		if err != nil {
			response.BadRequest(c, "invalid event id")
			c.Abort()
			return
		}
		userID, ok := middleware.UserID(c)
		if !ok {
			response.Unauthorized(c, "missing user context")
			c.Abort()
			return
		}
		if !access.Authorized(c.Request.Context(), userID, eventID) {
			response.Forbidden(c, "not authorized for this event")
			c.Abort()
			return
		}
		c.Next()
	}
}
