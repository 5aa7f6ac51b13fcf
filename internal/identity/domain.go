// Package identity provides a read-only view of user accounts.
//
// Account lifecycle belongs to the platform's user service; this service only
// needs a user's id and role tags to resolve permissions.
package identity

import (
	"context"
	"errors"

	"github.com/google/uuid"
)

// ErrUserNotFound indicates the referenced account does not exist.
var ErrUserNotFound = errors.New("identity: user not found")

// User is the minimal account projection consumed by permission resolution.
type User struct {
	ID    uuid.UUID
	Roles Roles
}

// Directory looks up user accounts.
type Directory interface {
	Lookup(ctx context.Context, id uuid.UUID) (User, error)
}
