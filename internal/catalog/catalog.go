// Package catalog is the single source of truth for permission codes.
//
// A code has the form "<module>:<action>". Every module additionally carries
// the "<module>:manage" wildcard, which satisfies any action of that module
// during authorization checks. Codes are fixed data shipped with the service;
// they are never created at runtime.
package catalog

import (
	"fmt"
	"sort"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// ManageAction is the wildcard action registered for every module.
const ManageAction = "manage"

// InvalidCodesError reports every code that failed catalog validation.
type InvalidCodesError struct {
	Codes []string
}

func (e *InvalidCodesError) Error() string {
	return fmt.Sprintf("invalid permission codes: %s", strings.Join(e.Codes, ", "))
}

// Catalog holds the registered modules and their codes.
type Catalog struct {
	codes   map[string]struct{}
	modules map[string][]string
	sorted  []string
}

// moduleActions declares the ArenaRank platform modules. The manage wildcard
// is appended automatically for each module.
var moduleActions = map[string][]string{
	"tournament":   {"create", "read", "update", "delete"},
	"match":        {"create", "read", "update", "delete", "score"},
	"team":         {"create", "read", "update", "delete"},
	"player":       {"create", "read", "update", "delete"},
	"organization": {"create", "read", "update", "delete"},
	"region":       {"create", "read", "update", "delete"},
	"rating":       {"read", "recalculate", "publish"},
	"user":         {"read", "update", "delete"},
	"group":        {"create", "read", "update", "delete", "assign"},
	"permission":   {"read", "grant", "revoke"},
}

var defaultCatalog = New(moduleActions)

// New builds a catalog from a module -> actions declaration.
func New(decl map[string][]string) *Catalog {
	c := &Catalog{
		codes:   make(map[string]struct{}),
		modules: make(map[string][]string, len(decl)),
	}
	for module, actions := range decl {
		for _, action := range append(actions, ManageAction) {
			code := module + ":" + action
			if _, ok := c.codes[code]; ok {
				continue
			}
			c.codes[code] = struct{}{}
			c.modules[module] = append(c.modules[module], code)
			c.sorted = append(c.sorted, code)
		}
		sort.Strings(c.modules[module])
	}
	sort.Strings(c.sorted)
	return c
}

// IsValid reports whether code is registered. Matching is exact and
// case-sensitive.
func (c *Catalog) IsValid(code string) bool {
	_, ok := c.codes[code]
	return ok
}

// Validate checks every code and returns an *InvalidCodesError listing all
// unknown ones, or nil when every code is registered.
func (c *Catalog) Validate(codes []string) error {
	var invalid []string
	for _, code := range codes {
		if !c.IsValid(code) {
			invalid = append(invalid, code)
		}
	}
	if len(invalid) > 0 {
		return &InvalidCodesError{Codes: invalid}
	}
	return nil
}

// All returns every registered code in lexicographic order.
func (c *Catalog) All() []string {
	out := make([]string, len(c.sorted))
	copy(out, c.sorted)
	return out
}

// ForModule returns the codes of a single module, or nil for an unknown module.
func (c *Catalog) ForModule(module string) []string {
	codes, ok := c.modules[module]
	if !ok {
		return nil
	}
	out := make([]string, len(codes))
	copy(out, codes)
	return out
}

// Modules returns the registered module names in lexicographic order.
func (c *Catalog) Modules() []string {
	out := make([]string, 0, len(c.modules))
	for module := range c.modules {
		out = append(out, module)
	}
	sort.Strings(out)
	return out
}

var titleCaser = cases.Title(language.English)

// Describe returns a human readable module name for admin listings.
func Describe(module string) string {
	return titleCaser.String(module)
}

// Module returns the module part of a code (the substring before the first
// colon), or "" when the code has no separator.
func Module(code string) string {
	module, _, ok := strings.Cut(code, ":")
	if !ok {
		return ""
	}
	return module
}

// Split breaks a code into module and action.
func Split(code string) (module, action string, ok bool) {
	return strings.Cut(code, ":")
}

// Package level helpers delegating to the shipped catalog.

// IsValid reports whether code exists in the shipped catalog.
func IsValid(code string) bool { return defaultCatalog.IsValid(code) }

// Validate validates codes against the shipped catalog.
func Validate(codes []string) error { return defaultCatalog.Validate(codes) }

// All enumerates the shipped catalog.
func All() []string { return defaultCatalog.All() }

// ForModule enumerates one module of the shipped catalog.
func ForModule(module string) []string { return defaultCatalog.ForModule(module) }

// Modules lists the shipped module names.
func Modules() []string { return defaultCatalog.Modules() }
