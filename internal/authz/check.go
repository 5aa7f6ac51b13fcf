// Package authz centralizes the allow/deny decision for permission-gated
// requests. Every transport guard delegates here; the wildcard and ROOT
// bypass rules live nowhere else.
package authz

import (
	"errors"
	"fmt"
	"strings"

	"github.com/arenarank/arenarank-permissions/internal/catalog"
	"github.com/arenarank/arenarank-permissions/internal/identity"
)

// ErrNoPermissions indicates the check ran without any resolved permission
// data. This is an upstream integration fault (resolution never happened),
// not a legitimate denial, and is alerted on rather than merely logged.
var ErrNoPermissions = errors.New("authz: no permission data available")

// InsufficientError is the denial for an authenticated, resolvable user. It
// carries what was required, never what the user already holds.
type InsufficientError struct {
	Required []string
}

func (e *InsufficientError) Error() string {
	return fmt.Sprintf("authz: insufficient permissions, required: %s", strings.Join(e.Required, ", "))
}

// Check decides whether a user holding effective may perform an action
// gated by required.
//
// Rules, in order: an empty required list means authenticated-only, allow.
// ROOT allows unconditionally. Otherwise every required code must be held
// exactly or via its module's manage wildcard; the list is a logical AND.
// A nil effective set (as opposed to an empty one) means resolution never
// ran and yields ErrNoPermissions.
func Check(required []string, roles identity.Roles, effective []string) error {
	if len(required) == 0 {
		return nil
	}
	if roles.HasRoot() {
		return nil
	}
	if effective == nil {
		return ErrNoPermissions
	}

	held := make(map[string]struct{}, len(effective))
	for _, code := range effective {
		held[code] = struct{}{}
	}

	for _, code := range required {
		if _, ok := held[code]; ok {
			continue
		}
		if module := catalog.Module(code); module != "" {
			if _, ok := held[module+":"+catalog.ManageAction]; ok {
				continue
			}
		}
		return &InsufficientError{Required: append([]string(nil), required...)}
	}
	return nil
}
