package notification

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Directory resolves a user id to delivery addresses.
type Directory interface {
	Lookup(ctx context.Context, userID string) (*Contact, error)
}

// PostgresDirectory reads contact details from the users table.
type PostgresDirectory struct {
	db *sql.DB
}

// NewPostgresDirectory creates a Directory backed by the users table.
func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

// Lookup returns the contact record for one user.
func (d *PostgresDirectory) Lookup(ctx context.Context, userID string) (*Contact, error) {
	query := `SELECT id, name, email, COALESCE(push_token, '') FROM users WHERE id = $1`

	var c Contact
	err := d.db.QueryRowContext(ctx, query, userID).Scan(&c.UserID, &c.Name, &c.Email, &c.PushToken)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("no contact record for user %s", userID)
		}
		return nil, fmt.Errorf("failed to look up contact for user %s: %w", userID, err)
	}

	return &c, nil
}
