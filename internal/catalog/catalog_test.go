package catalog_test

import (
	"errors"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arenarank/arenarank-permissions/internal/catalog"
)

func TestIsValid(t *testing.T) {
	assert.True(t, catalog.IsValid("tournament:create"))
	assert.True(t, catalog.IsValid("match:score"))
	assert.False(t, catalog.IsValid("tournament:fly"))
	assert.False(t, catalog.IsValid("not:real"))
	assert.False(t, catalog.IsValid("tournament"))
	// Matching is case-sensitive.
	assert.False(t, catalog.IsValid("Tournament:create"))
}

func TestEveryModuleHasManageWildcard(t *testing.T) {
	for _, module := range catalog.Modules() {
		assert.True(t, catalog.IsValid(module+":"+catalog.ManageAction), "module %s", module)
	}
}

func TestAllSortedAndComplete(t *testing.T) {
	all := catalog.All()
	require.NotEmpty(t, all)
	assert.True(t, sort.StringsAreSorted(all))

	seen := make(map[string]struct{}, len(all))
	for _, code := range all {
		seen[code] = struct{}{}
	}
	for _, module := range catalog.Modules() {
		for _, code := range catalog.ForModule(module) {
			_, ok := seen[code]
			assert.True(t, ok, "code %s missing from All()", code)
		}
	}
}

func TestValidateReportsEveryInvalidCode(t *testing.T) {
	err := catalog.Validate([]string{"not:real", "tournament:create", "also:bogus"})
	require.Error(t, err)

	var invalid *catalog.InvalidCodesError
	require.True(t, errors.As(err, &invalid))
	assert.ElementsMatch(t, []string{"not:real", "also:bogus"}, invalid.Codes)

	assert.NoError(t, catalog.Validate([]string{"tournament:create", "match:read"}))
	assert.NoError(t, catalog.Validate(nil))
}

func TestForModuleUnknown(t *testing.T) {
	assert.Nil(t, catalog.ForModule("nope"))
}

func TestModuleSplit(t *testing.T) {
	assert.Equal(t, "tournament", catalog.Module("tournament:create"))
	assert.Equal(t, "", catalog.Module("tournament"))

	module, action, ok := catalog.Split("match:score")
	require.True(t, ok)
	assert.Equal(t, "match", module)
	assert.Equal(t, "score", action)
}

func TestDescribe(t *testing.T) {
	assert.Equal(t, "Tournament", catalog.Describe("tournament"))
}
