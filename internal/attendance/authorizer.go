package attendance

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/salvemundi/attendance/internal/metrics"
	"github.com/salvemundi/attendance/internal/models"
)

// UserStore looks up platform users.
type UserStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

// EventStore looks up events and their assigned attendance officers.
type EventStore interface {
	GetByID(ctx context.Context, id int64) (*models.Event, error)
	IsAttendanceOfficer(ctx context.Context, eventID int64, userID uuid.UUID) (bool, error)
}

// CommitteeStore lists a user's committees with normalized tokens.
type CommitteeStore interface {
	ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Committee, error)
}

// Authorizer decides who may record attendance for an event.
type Authorizer struct {
	users      UserStore
	events     EventStore
	committees CommitteeStore
	global     []string
	logger     *zap.Logger
}

// NewAuthorizer creates an Authorizer. Members of any committee whose token contains one of
// globalCommittees may manage attendance for every event, so "bestuur" also covers "kandidaatbestuur".
func NewAuthorizer(users UserStore, events EventStore, committees CommitteeStore, globalCommittees []string, logger *zap.Logger) *Authorizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	var global []string
	for _, c := range globalCommittees {
		if t := strings.ToLower(strings.TrimSpace(c)); t != "" {
			global = append(global, t)
		}
	}
	return &Authorizer{users: users, events: events, committees: committees, global: global, logger: logger}
}

// Authorized reports whether the user may record attendance for the event.
// Any lookup failure denies.
func (a *Authorizer) Authorized(ctx context.Context, userID uuid.UUID, eventID int64) bool {
	if userID == uuid.Nil || eventID <= 0 {
		metrics.TrackAuthorization("denied")
		return false
	}
	event, err := a.events.GetByID(ctx, eventID)
	if err != nil {
		return a.fail("load event", err, userID, eventID)
	}
	return a.AuthorizedFor(ctx, userID, event)
}

// AuthorizedFor is Authorized for an event that is already loaded.
func (a *Authorizer) AuthorizedFor(ctx context.Context, userID uuid.UUID, event *models.Event) bool {
	if userID == uuid.Nil || event == nil {
		metrics.TrackAuthorization("denied")
		return false
	}
	ok, err := a.decide(ctx, userID, event)
	if err != nil {
		return a.fail("authorization lookup", err, userID, event.ID)
	}
	if ok {
		metrics.TrackAuthorization("allowed")
	} else {
		metrics.TrackAuthorization("denied")
	}
	return ok
}

// IsAdmin reports whether the user has the admin role. Lookup failures deny.
func (a *Authorizer) IsAdmin(ctx context.Context, userID uuid.UUID) bool {
	user, err := a.users.GetByID(ctx, userID)
	if err != nil {
		a.logger.Warn("admin lookup failed", zap.Error(err), zap.String("user_id", userID.String()))
		return false
	}
	return user.Role == models.RoleAdmin
}

func (a *Authorizer) decide(ctx context.Context, userID uuid.UUID, event *models.Event) (bool, error) {
	user, err := a.users.GetByID(ctx, userID)
	if err != nil {
		return false, err
	}
	if user.Role == models.RoleAdmin {
		return true, nil
	}
	if event.OrganizerID != nil && *event.OrganizerID == userID {
		return true, nil
	}

	committees, err := a.committees.ListForUser(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, c := range committees {
		if a.isGlobal(c.Token) {
			return true, nil
		}
		if event.CommitteeID != nil && *event.CommitteeID == c.ID {
			return true, nil
		}
	}
	if event.Kind == models.EventKindPubCrawl && len(committees) > 0 {
		return true, nil
	}

	return a.events.IsAttendanceOfficer(ctx, event.ID, userID)
}

func (a *Authorizer) isGlobal(token string) bool {
	if token == "" {
		return false
	}
	for _, g := range a.global {
		if strings.Contains(token, g) {
			return true
		}
	}
	return false
}

func (a *Authorizer) fail(op string, err error, userID uuid.UUID, eventID int64) bool {
	a.logger.Warn("attendance authorization denied after failed lookup",
		zap.String("op", op),
		zap.Error(err),
		zap.String("user_id", userID.String()),
		zap.Int64("event_id", eventID),
	)
	metrics.TrackAuthorization("error")
	return false
}
