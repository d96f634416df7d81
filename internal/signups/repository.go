package signups

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/salvemundi/attendance/internal/models"
	"github.com/salvemundi/attendance/pkg/database"
)

var (
	// ErrNotFound is returned when no signup matches.
	ErrNotFound = errors.New("signup not found")
	// ErrTokenTaken is returned when the token is already assigned to another signup.
	ErrTokenTaken = errors.New("qr token already in use")
	// ErrTokenAlreadyIssued is returned when the signup already has a token (or does not exist).
	ErrTokenAlreadyIssued = errors.New("signup already has a qr token")
	// ErrDuplicateSignup is returned by Create when the user or guest email already signed up for the event.
	ErrDuplicateSignup = errors.New("signup already exists for event")
	// ErrNotCheckedIn is returned by MarkCheckedIn when no unconsumed signup carries the token.
	ErrNotCheckedIn = errors.New("no signup awaiting check-in for token")
)

const (
	qrTokenConstraint    = "signups_qr_token_key"
	eventUserConstraint  = "signups_event_user_key"
	guestEmailConstraint = "signups_event_guest_email_key"
)

const signupColumns = `id, event_id, user_id, participant_name, participant_email, participant_phone,
	qr_token, qr_image_key, checked_in, checked_in_at, created_at, updated_at`

// Repository handles signup persistence.
type Repository struct {
	db database.DB
}

// NewRepository creates a signups repository.
func NewRepository(db database.DB) *Repository {
	return &Repository{db: db}
}

func scanSignup(row pgx.Row) (*models.Signup, error) {
	var s models.Signup
	err := row.Scan(&s.ID, &s.EventID, &s.UserID, &s.ParticipantName, &s.ParticipantEmail, &s.ParticipantPhone,
		&s.QRToken, &s.QRImageKey, &s.CheckedIn, &s.CheckedInAt, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Create inserts a signup without a token. A second signup by the same user, or guest email,
// for one event fails with ErrDuplicateSignup.
func (r *Repository) Create(ctx context.Context, s *models.Signup) error {
	const q = `INSERT INTO signups (event_id, user_id, participant_name, participant_email, participant_phone)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, checked_in, created_at, updated_at`
	err := r.db.QueryRow(ctx, q, s.EventID, s.UserID, s.ParticipantName, s.ParticipantEmail, s.ParticipantPhone).
		Scan(&s.ID, &s.CheckedIn, &s.CreatedAt, &s.UpdatedAt)
	if database.IsUniqueViolation(err, eventUserConstraint) || database.IsUniqueViolation(err, guestEmailConstraint) {
		return ErrDuplicateSignup
	}
	return err
}

// FindExisting returns the signup for the event belonging to the user or, for guests, the email.
func (r *Repository) FindExisting(ctx context.Context, eventID int64, userID *uuid.UUID, email string) (*models.Signup, error) {
	if userID != nil {
		q := `SELECT ` + signupColumns + ` FROM signups WHERE event_id = $1 AND user_id = $2 ORDER BY id LIMIT 1`
		return scanSignup(r.db.QueryRow(ctx, q, eventID, *userID))
	}
	q := `SELECT ` + signupColumns + ` FROM signups WHERE event_id = $1 AND lower(participant_email) = $2 ORDER BY id LIMIT 1`
	return scanSignup(r.db.QueryRow(ctx, q, eventID, strings.ToLower(email)))
}

// GetByID returns a signup by ID.
func (r *Repository) GetByID(ctx context.Context, id int64) (*models.Signup, error) {
	q := `SELECT ` + signupColumns + ` FROM signups WHERE id = $1`
	return scanSignup(r.db.QueryRow(ctx, q, id))
}

// GetByToken returns the signup carrying the QR token.
func (r *Repository) GetByToken(ctx context.Context, token string) (*models.Signup, error) {
	q := `SELECT ` + signupColumns + ` FROM signups WHERE qr_token = $1`
	return scanSignup(r.db.QueryRow(ctx, q, token))
}

// AssignToken attaches a token to a signup that has none. A token is never overwritten.
func (r *Repository) AssignToken(ctx context.Context, id int64, token string) error {
	const q = `UPDATE signups SET qr_token = $2, updated_at = NOW() WHERE id = $1 AND qr_token IS NULL`
	tag, err := r.db.Exec(ctx, q, id, token)
	if database.IsUniqueViolation(err, qrTokenConstraint) {
		return ErrTokenTaken
	}
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrTokenAlreadyIssued
	}
	return nil
}

// SetQRImageKey records where the rendered ticket image was archived.
func (r *Repository) SetQRImageKey(ctx context.Context, id int64, key string) error {
	const q = `UPDATE signups SET qr_image_key = $2, updated_at = NOW() WHERE id = $1`
	_, err := r.db.Exec(ctx, q, id, key)
	return err
}

// MarkCheckedIn flips checked_in for the signup holding token in one conditional write.
// Of any number of concurrent calls for the same token exactly one succeeds; the rest get ErrNotCheckedIn.
func (r *Repository) MarkCheckedIn(ctx context.Context, token string, at time.Time) (*models.Signup, error) {
	q := `UPDATE signups SET checked_in = TRUE, checked_in_at = $2, updated_at = NOW() WHERE qr_token = $1 AND checked_in = FALSE
		RETURNING ` + signupColumns
	s, err := scanSignup(r.db.QueryRow(ctx, q, token, at))
	if errors.Is(err, ErrNotFound) {
		return nil, ErrNotCheckedIn
	}
	return s, err
}

// ListByEvent returns all signups for an event: checked-in first in arrival order, then newest signups.
func (r *Repository) ListByEvent(ctx context.Context, eventID int64) ([]models.Signup, error) {
	q := `SELECT ` + signupColumns + ` FROM signups WHERE event_id = $1 ORDER BY checked_in_at ASC NULLS LAST, created_at DESC`
	rows, err := r.db.Query(ctx, q, eventID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Signup
	for rows.Next() {
		s, err := scanSignup(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, *s)
	}
	return list, rows.Err()
}

// CountByEvent returns total signups and checked-in count for an event.
func (r *Repository) CountByEvent(ctx context.Context, eventID int64) (total, checkedIn int, err error) {
	const q = `SELECT COUNT(*), COUNT(*) FILTER (WHERE checked_in) FROM signups WHERE event_id = $1`
	err = r.db.QueryRow(ctx, q, eventID).Scan(&total, &checkedIn)
	return total, checkedIn, err
}
