package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Repository reads user accounts from the shared users table.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Lookup returns the user's id and role tags.
func (r *Repository) Lookup(ctx context.Context, id uuid.UUID) (User, error) {
	var tags []string
	err := r.pool.QueryRow(ctx, `SELECT roles FROM users WHERE id = $1`, id).Scan(&tags)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("identity: lookup user: %w", err)
	}
	roles, err := ParseRoles(tags)
	if err != nil {
		return User{}, err
	}
	return User{ID: id, Roles: roles}, nil
}
