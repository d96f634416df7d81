package signups

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/salvemundi/attendance/internal/metrics"
	"github.com/salvemundi/attendance/internal/models"
	"github.com/salvemundi/attendance/internal/tokens"
	"github.com/salvemundi/attendance/pkg/queue"
)

const maxIssueAttempts = 3

var (
	// ErrInvalidInput is returned when the participant details are unusable.
	ErrInvalidInput = errors.New("invalid signup details")
	// ErrTokenExhausted is returned when every generated token collided.
	ErrTokenExhausted = errors.New("could not assign a unique qr token")
)

// Store is the persistence the service needs.
type Store interface {
	Create(ctx context.Context, s *models.Signup) error
	FindExisting(ctx context.Context, eventID int64, userID *uuid.UUID, email string) (*models.Signup, error)
	GetByID(ctx context.Context, id int64) (*models.Signup, error)
	AssignToken(ctx context.Context, id int64, token string) error
}

// TicketQueue hands finished signups to the ticket render worker.
type TicketQueue interface {
	EnqueueTicketRender(ctx context.Context, payload queue.TicketRenderPayload) error
}

// CreateParams are the participant details of a new signup.
type CreateParams struct {
	EventID int64
	UserID  *uuid.UUID
	Name    string
	Email   string
	Phone   string
}

// Service creates signups and issues their ticket tokens.
type Service struct {
	store  Store
	tokens *tokens.Generator
	queue  TicketQueue
	logger *zap.Logger
}

// NewService creates a signup service. q may be nil when no worker runs.
func NewService(store Store, gen *tokens.Generator, q TicketQueue, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{store: store, tokens: gen, queue: q, logger: logger}
}

// Create registers a participant and issues a token. An existing signup for the same
// event and user (or guest email) is reused; recycled reports that case.
func (s *Service) Create(ctx context.Context, p CreateParams) (signup *models.Signup, recycled bool, err error) {
	p.Name = strings.TrimSpace(p.Name)
	p.Email = strings.TrimSpace(p.Email)
	p.Phone = strings.TrimSpace(p.Phone)
	if p.EventID <= 0 || p.Name == "" || p.Email == "" {
		return nil, false, ErrInvalidInput
	}

	existing, err := s.store.FindExisting(ctx, p.EventID, p.UserID, p.Email)
	switch {
	case err == nil:
		signup, recycled = existing, true
	case errors.Is(err, ErrNotFound):
		signup = &models.Signup{
			EventID:          p.EventID,
			UserID:           p.UserID,
			ParticipantName:  p.Name,
			ParticipantEmail: p.Email,
			ParticipantPhone: p.Phone,
		}
		err := s.store.Create(ctx, signup)
		if errors.Is(err, ErrDuplicateSignup) {
			// A concurrent request for the same person won the insert.
			if signup, err = s.store.FindExisting(ctx, p.EventID, p.UserID, p.Email); err != nil {
				return nil, false, fmt.Errorf("reload signup: %w", err)
			}
			recycled = true
		} else if err != nil {
			return nil, false, fmt.Errorf("create signup: %w", err)
		}
	default:
		return nil, false, fmt.Errorf("find signup: %w", err)
	}

	signup, err = s.IssueToken(ctx, signup)
	if err != nil {
		return nil, false, err
	}
	return signup, recycled, nil
}

// IssueToken assigns a token to a signup that has none and returns the signup as persisted.
// A signup that already carries a token is returned unchanged.
func (s *Service) IssueToken(ctx context.Context, signup *models.Signup) (*models.Signup, error) {
	if signup.QRToken != nil && *signup.QRToken != "" {
		return signup, nil
	}
	for attempt := 1; attempt <= maxIssueAttempts; attempt++ {
		token, err := s.tokens.Generate(signup.ID, signup.EventID)
		if err != nil {
			return nil, fmt.Errorf("generate token: %w", err)
		}
		err = s.store.AssignToken(ctx, signup.ID, token)
		switch {
		case err == nil:
			issued := *signup
			issued.QRToken = &token
			metrics.TrackTokenIssued()
			s.enqueueRender(ctx, &issued)
			return &issued, nil
		case errors.Is(err, ErrTokenTaken):
			metrics.TrackTokenCollision()
			s.logger.Warn("qr token collision, regenerating", zap.Int64("signup_id", signup.ID), zap.Int("attempt", attempt))
		case errors.Is(err, ErrTokenAlreadyIssued):
			// Another request issued first; the stored token wins.
			current, gerr := s.store.GetByID(ctx, signup.ID)
			if gerr != nil {
				return nil, fmt.Errorf("reload signup: %w", gerr)
			}
			return current, nil
		default:
			return nil, fmt.Errorf("assign token: %w", err)
		}
	}
	return nil, ErrTokenExhausted
}

func (s *Service) enqueueRender(ctx context.Context, signup *models.Signup) {
	if s.queue == nil {
		return
	}
	err := s.queue.EnqueueTicketRender(ctx, queue.TicketRenderPayload{
		SignupID: signup.ID,
		EventID:  signup.EventID,
		Token:    *signup.QRToken,
	})
	if err != nil {
		// Tickets still render on demand without the archive.
		s.logger.Warn("enqueue ticket render failed", zap.Error(err), zap.Int64("signup_id", signup.ID))
	}
}
