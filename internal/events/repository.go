package events

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/salvemundi/attendance/internal/models"
	"github.com/salvemundi/attendance/pkg/database"
)

// ErrNotFound is returned when no event has the requested id.
var ErrNotFound = errors.New("event not found")

// Repository handles event persistence. Events are read-only for the attendance flow.
type Repository struct {
	db database.DB
}

// NewRepository creates an events repository.
func NewRepository(db database.DB) *Repository {
	return &Repository{db: db}
}

// GetByID returns an event by ID.
func (r *Repository) GetByID(ctx context.Context, id int64) (*models.Event, error) {
	const q = `SELECT id, kind, name, starts_at, organizer_id, committee_id, created_at FROM events WHERE id = $1`
	var e models.Event
	err := r.db.QueryRow(ctx, q, id).Scan(&e.ID, &e.Kind, &e.Name, &e.StartsAt, &e.OrganizerID, &e.CommitteeID, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// IsAttendanceOfficer reports whether the user is assigned to scan tickets for the event.
func (r *Repository) IsAttendanceOfficer(ctx context.Context, eventID int64, userID uuid.UUID) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM event_attendance_officers WHERE event_id = $1 AND user_id = $2)`
	var ok bool
	if err := r.db.QueryRow(ctx, q, eventID, userID).Scan(&ok); err != nil {
		return false, err
	}
	return ok, nil
}

// AddAttendanceOfficer assigns a user to scan tickets for the event. Repeated assignment is a no-op.
func (r *Repository) AddAttendanceOfficer(ctx context.Context, eventID int64, userID uuid.UUID) error {
	const q = `INSERT INTO event_attendance_officers (event_id, user_id) VALUES ($1, $2)
		ON CONFLICT (event_id, user_id) DO NOTHING`
	_, err := r.db.Exec(ctx, q, eventID, userID)
	return err
}

// RemoveAttendanceOfficer revokes an assignment.
func (r *Repository) RemoveAttendanceOfficer(ctx context.Context, eventID int64, userID uuid.UUID) error {
	const q = `DELETE FROM event_attendance_officers WHERE event_id = $1 AND user_id = $2`
	_, err := r.db.Exec(ctx, q, eventID, userID)
	return err
}
