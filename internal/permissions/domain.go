// Package permissions implements the permission core: permission groups,
// per-user additive overrides, effective-set resolution and its persisted
// cache.
package permissions

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrGroupNotFound indicates the referenced permission group does not exist.
	ErrGroupNotFound = errors.New("permissions: group not found")
	// ErrSystemGroup indicates an attempt to delete a system-protected group.
	ErrSystemGroup = errors.New("permissions: system group cannot be deleted")
	// ErrDuplicateGroup indicates a group name collision.
	ErrDuplicateGroup = errors.New("permissions: group name already exists")
)

// Group is a named bundle of permission codes assignable to users.
// Inactive groups stay assigned but contribute nothing to resolution.
// System groups may be edited but never deleted.
type Group struct {
	ID          int64
	Name        string
	Description string
	Codes       []string
	IsActive    bool
	IsSystem    bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// CreateGroupInput carries the fields of a new group.
type CreateGroupInput struct {
	Name        string
	Description string
	Codes       []string
	IsSystem    bool
}

// UpdateGroupInput is a partial update; nil fields are left unchanged.
type UpdateGroupInput struct {
	Name        *string
	Description *string
	Codes       *[]string
	IsActive    *bool
}

// Summary combines a user's resolved set with its provenance for admin display.
type Summary struct {
	UserID     uuid.UUID `json:"user_id"`
	Effective  []string  `json:"effective_permissions"`
	Groups     []Group   `json:"groups"`
	Additional []string  `json:"additional_permissions"`
}
