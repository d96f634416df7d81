package signups

import (
	"context"
	"errors"
	"net/http"
	"net/url"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/salvemundi/attendance/internal/events"
	"github.com/salvemundi/attendance/internal/middleware"
	"github.com/salvemundi/attendance/internal/models"
	"github.com/salvemundi/attendance/pkg/response"
)

// EventLookup resolves the event a signup is for.
type EventLookup interface {
	GetByID(ctx context.Context, id int64) (*models.Event, error)
}

// TicketLookup finds a signup by its token.
type TicketLookup interface {
	GetByToken(ctx context.Context, token string) (*models.Signup, error)
}

// TicketArchive hands out URLs for archived ticket images.
type TicketArchive interface {
	TicketURL(ctx context.Context, key string) (string, error)
}

// Renderer draws a ticket QR image.
type Renderer interface {
	PNG(payload string) ([]byte, error)
}

// CreateRequest is the body for POST /events/:id/signups.
type CreateRequest struct {
	Name  string `json:"name" binding:"required,max=200"`
	Email string `json:"email" binding:"required,email"`
	Phone string `json:"phone" binding:"max=40"`
}

// CreateResponse is returned after a signup is registered.
type CreateResponse struct {
	Signup   *models.Signup `json:"signup"`
	QRToken  string         `json:"qr_token"`
	QRURL    string         `json:"qr_url"`
	Recycled bool           `json:"recycled"`
}

// Handler handles signup and ticket HTTP endpoints.
type Handler struct {
	svc      *Service
	events   EventLookup
	tickets  TicketLookup
	archive  TicketArchive
	renderer Renderer
	baseURL  string
	logger   *zap.Logger
}

// NewHandler creates a signups handler. archive may be nil when tickets are not archived.
func NewHandler(svc *Service, ev EventLookup, tickets TicketLookup, archive TicketArchive, renderer Renderer, baseURL string, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, events: ev, tickets: tickets, archive: archive, renderer: renderer, baseURL: baseURL, logger: logger}
}

// Create handles POST /events/:id/signups.
func (h *Handler) Create(c *gin.Context) {
	eventID, err := events.ParseID(c.Param("id"))
	if err != nil {
		response.BadRequest(c, "invalid event id")
		return
	}
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, "invalid request: "+err.Error())
		return
	}
	ctx := c.Request.Context()

	if _, err := h.events.GetByID(ctx, eventID); err != nil {
		if errors.Is(err, events.ErrNotFound) {
			response.NotFound(c, "event not found")
			return
		}
		h.logger.Error("load event failed", zap.Error(err), zap.Int64("event_id", eventID))
		response.Internal(c, "failed to load event")
		return
	}

	var userID *uuid.UUID
	if id, ok := middleware.UserID(c); ok {
		userID = &id
	}
	signup, recycled, err := h.svc.Create(ctx, CreateParams{
		EventID: eventID,
		UserID:  userID,
		Name:    req.Name,
		Email:   req.Email,
		Phone:   req.Phone,
	})
	if errors.Is(err, ErrInvalidInput) {
		response.BadRequest(c, err.Error())
		return
	}
	if err != nil {
		h.logger.Error("create signup failed", zap.Error(err), zap.Int64("event_id", eventID))
		response.Internal(c, "failed to create signup")
		return
	}

	token := *signup.QRToken
	status := http.StatusCreated
	if recycled {
		status = http.StatusOK
	}
	c.JSON(status, response.Body{Success: true, Data: CreateResponse{
		Signup:   signup,
		QRToken:  token,
		QRURL:    h.ticketURL(token),
		Recycled: recycled,
	}})
}

// QRImage handles GET /tickets/:token/qr.png. Knowing the token is the capability.
func (h *Handler) QRImage(c *gin.Context) {
	token := c.Param("token")
	ctx := c.Request.Context()
	signup, err := h.tickets.GetByToken(ctx, token)
	if errors.Is(err, ErrNotFound) {
		response.NotFound(c, "ticket not found")
		return
	}
	if err != nil {
		h.logger.Error("load ticket failed", zap.Error(err))
		response.Internal(c, "failed to load ticket")
		return
	}

	if h.archive != nil && signup.QRImageKey != nil {
		u, err := h.archive.TicketURL(ctx, *signup.QRImageKey)
		if err == nil {
			c.Redirect(http.StatusFound, u)
			return
		}
		h.logger.Warn("presign ticket failed, rendering inline", zap.Error(err), zap.Int64("signup_id", signup.ID))
	}

	png, err := h.renderer.PNG(token)
	if err != nil {
		h.logger.Error("render ticket failed", zap.Error(err), zap.Int64("signup_id", signup.ID))
		response.Internal(c, "failed to render ticket")
		return
	}
	c.Header("Cache-Control", "private, max-age=3600")
	c.Data(http.StatusOK, "image/png", png)
}

func (h *Handler) ticketURL(token string) string {
	return h.baseURL + "/tickets/" + url.PathEscape(token) + "/qr.png"
}
