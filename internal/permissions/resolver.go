package permissions

import (
	"sort"

	"github.com/arenarank/arenarank-permissions/internal/catalog"
	"github.com/arenarank/arenarank-permissions/internal/identity"
)

// Resolve computes the effective permission set for a user.
//
// ROOT short-circuits to the full catalog. Otherwise the result is the union
// of every active assigned group's codes with the user's additional codes,
// deduplicated and sorted lexicographically. The order carries no meaning; it
// only keeps serialization and tests stable.
func Resolve(roles identity.Roles, groups []Group, additional []string) []string {
	if roles.HasRoot() {
		return catalog.All()
	}

	set := make(map[string]struct{})
	for _, group := range groups {
		if !group.IsActive {
			continue
		}
		for _, code := range group.Codes {
			set[code] = struct{}{}
		}
	}
	for _, code := range additional {
		set[code] = struct{}{}
	}

	codes := make([]string, 0, len(set))
	for code := range set {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	return codes
}
