package committees

import (
	"context"

	"github.com/google/uuid"

	"github.com/salvemundi/attendance/internal/models"
	"github.com/salvemundi/attendance/pkg/database"
)

// Repository handles committee and committee membership persistence.
type Repository struct {
	db database.DB
}

// NewRepository creates a committees repository.
func NewRepository(db database.DB) *Repository {
	return &Repository{db: db}
}

// ListForUser returns the committees the user belongs to, each with its canonical token.
func (r *Repository) ListForUser(ctx context.Context, userID uuid.UUID) ([]models.Committee, error) {
	const q = `SELECT c.id, c.name, c.token
		FROM committees c
		INNER JOIN committee_members cm ON cm.committee_id = c.id
		WHERE cm.user_id = $1
		ORDER BY c.name`
	rows, err := r.db.Query(ctx, q, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []models.Committee
	for rows.Next() {
		var (
			c     models.Committee
			token *string
		)
		if err := rows.Scan(&c.ID, &c.Name, &token); err != nil {
			return nil, err
		}
		c.Token = canonicalToken(token, c.Name)
		list = append(list, c)
	}
	return list, rows.Err()
}

// AddMember adds a user to a committee. Adding an existing member is a no-op.
func (r *Repository) AddMember(ctx context.Context, committeeID int64, userID uuid.UUID) error {
	const q = `INSERT INTO committee_members (committee_id, user_id) VALUES ($1, $2)
		ON CONFLICT (committee_id, user_id) DO NOTHING`
	_, err := r.db.Exec(ctx, q, committeeID, userID)
	return err
}
