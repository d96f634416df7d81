package attendance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/salvemundi/attendance/internal/metrics"
	"github.com/salvemundi/attendance/internal/models"
	"github.com/salvemundi/attendance/internal/realtime"
	"github.com/salvemundi/attendance/internal/signups"
	"github.com/salvemundi/attendance/internal/tokens"
)

var (
	// ErrInvalidToken is returned for a missing or malformed token.
	ErrInvalidToken = errors.New("missing or malformed token")
	// ErrInvalidEvent is returned for a non-positive event id.
	ErrInvalidEvent = errors.New("invalid event id")
	// ErrForbidden is returned when the actor may not record attendance for the event.
	ErrForbidden = errors.New("not authorized to record attendance for this event")
)

// Reason explains why a check-in did not happen.
type Reason string

const (
	ReasonNotFound         Reason = "not_found"
	ReasonAlreadyCheckedIn Reason = "already_checked_in"
)

// Result is the outcome of a check-in attempt.
type Result struct {
	Success bool                  `json:"success"`
	Reason  Reason                `json:"reason,omitempty"`
	Signup  *models.SignupSummary `json:"signup,omitempty"`
}

// SignupStore is the signup persistence used by check-in.
type SignupStore interface {
	GetByToken(ctx context.Context, token string) (*models.Signup, error)
	MarkCheckedIn(ctx context.Context, token string, at time.Time) (*models.Signup, error)
	ListByEvent(ctx context.Context, eventID int64) ([]models.Signup, error)
	CountByEvent(ctx context.Context, eventID int64) (total, checkedIn int, err error)
}

// Access decides whether a user may record attendance for an event.
type Access interface {
	Authorized(ctx context.Context, userID uuid.UUID, eventID int64) bool
}

// Publisher pushes messages to live feeds.
type Publisher interface {
	Publish(eventID int64, event string, payload interface{})
}

// FeedCheckIn is pushed to an event's live feed after each successful check-in.
type FeedCheckIn struct {
	Signup      models.SignupSummary `json:"signup"`
	CheckedInBy uuid.UUID            `json:"checked_in_by"`
}

// Summary counts an event's signups by check-in state.
type Summary struct {
	Total        int `json:"total"`
	CheckedIn    int `json:"checked_in"`
	NotCheckedIn int `json:"not_checked_in"`
}

// EventAttendance is the attendance list of one event.
type EventAttendance struct {
	EventID int64           `json:"event_id"`
	Summary Summary         `json:"summary"`
	Signups []models.Signup `json:"signups"`
}

// Service records check-ins.
type Service struct {
	signups SignupStore
	access  Access
	feed    Publisher
	now     func() time.Time
	logger  *zap.Logger
}

// NewService creates a check-in service. feed may be nil.
func NewService(store SignupStore, access Access, feed Publisher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{signups: store, access: access, feed: feed, now: time.Now, logger: logger}
}

// CheckIn marks the signup holding token as present. When eventID is set the actor must be allowed
// for that event (ErrForbidden otherwise) and the token must belong to it. Without eventID a token
// for an event the actor may not manage is reported as not found. Unknown tokens and repeated scans
// are results, not errors; the first successful scan's timestamp is never overwritten.
func (s *Service) CheckIn(ctx context.Context, actor uuid.UUID, token string, eventID *int64) (Result, error) {
	token = strings.TrimSpace(token)
	if err := tokens.CheckFormat(token); err != nil {
		return Result{}, ErrInvalidToken
	}
	if eventID != nil {
		if *eventID <= 0 {
			return Result{}, ErrInvalidEvent
		}
		if !s.access.Authorized(ctx, actor, *eventID) {
			metrics.TrackCheckIn(metrics.OutcomeForbidden)
			return Result{}, ErrForbidden
		}
	}

	signup, err := s.signups.GetByToken(ctx, token)
	if errors.Is(err, signups.ErrNotFound) || (err == nil && eventID != nil && signup.EventID != *eventID) {
		metrics.TrackCheckIn(metrics.OutcomeNotFound)
		return Result{Reason: ReasonNotFound}, nil
	}
	if err != nil {
		metrics.TrackCheckIn(metrics.OutcomeError)
		return Result{}, fmt.Errorf("load signup: %w", err)
	}
	if eventID == nil && !s.access.Authorized(ctx, actor, signup.EventID) {
		// Answer exactly as for an unknown token so scans cannot tell which tokens exist.
		metrics.TrackCheckIn(metrics.OutcomeForbidden)
		return Result{Reason: ReasonNotFound}, nil
	}
	if signup.CheckedIn {
		return s.alreadyCheckedIn(signup), nil
	}

	updated, err := s.signups.MarkCheckedIn(ctx, token, s.now().UTC())
	if errors.Is(err, signups.ErrNotCheckedIn) {
		// Lost the race to a concurrent scan; report the winner's timestamp.
		current, gerr := s.signups.GetByToken(ctx, token)
		if errors.Is(gerr, signups.ErrNotFound) {
			metrics.TrackCheckIn(metrics.OutcomeNotFound)
			return Result{Reason: ReasonNotFound}, nil
		}
		if gerr != nil {
			metrics.TrackCheckIn(metrics.OutcomeError)
			return Result{}, fmt.Errorf("reload signup: %w", gerr)
		}
		return s.alreadyCheckedIn(current), nil
	}
	if err != nil {
		metrics.TrackCheckIn(metrics.OutcomeError)
		return Result{}, fmt.Errorf("mark checked in: %w", err)
	}

	summary := updated.Summary()
	metrics.TrackCheckIn(metrics.OutcomeCheckedIn)
	s.logger.Info("checked in",
		zap.Int64("signup_id", updated.ID),
		zap.Int64("event_id", updated.EventID),
		zap.String("actor", actor.String()),
	)
	if s.feed != nil {
		s.feed.Publish(updated.EventID, realtime.EventCheckIn, FeedCheckIn{Signup: summary, CheckedInBy: actor})
	}
	return Result{Success: true, Signup: &summary}, nil
}

func (s *Service) alreadyCheckedIn(signup *models.Signup) Result {
	metrics.TrackCheckIn(metrics.OutcomeAlreadyCheckedIn)
	summary := signup.Summary()
	return Result{Reason: ReasonAlreadyCheckedIn, Signup: &summary}
}

// Attendance returns every signup of an event with its check-in state and the totals.
func (s *Service) Attendance(ctx context.Context, eventID int64) (*EventAttendance, error) {
	list, err := s.signups.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("list signups: %w", err)
	}
	total, checkedIn, err := s.signups.CountByEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("count signups: %w", err)
	}
	if list == nil {
		list = []models.Signup{}
	}
	return &EventAttendance{
		EventID: eventID,
		Summary: Summary{Total: total, CheckedIn: checkedIn, NotCheckedIn: total - checkedIn},
		Signups: list,
	}, nil
}
