package permissions

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arenarank/arenarank-permissions/internal/catalog"
	"github.com/arenarank/arenarank-permissions/internal/identity"
)

type mockDirectory struct {
	users map[uuid.UUID]identity.User
}

func (d *mockDirectory) Lookup(ctx context.Context, id uuid.UUID) (identity.User, error) {
	user, ok := d.users[id]
	if !ok {
		return identity.User{}, identity.ErrUserNotFound
	}
	return user, nil
}

// mockState is the store content; transactions operate on a deep copy that is
// swapped in only on success, mirroring rollback semantics.
type mockState struct {
	groups      map[int64]Group
	assignments map[uuid.UUID]map[int64]struct{}
	additional  map[uuid.UUID][]string
	cached      map[uuid.UUID][]string
	hasRow      map[uuid.UUID]bool
}

func newMockState() *mockState {
	return &mockState{
		groups:      make(map[int64]Group),
		assignments: make(map[uuid.UUID]map[int64]struct{}),
		additional:  make(map[uuid.UUID][]string),
		cached:      make(map[uuid.UUID][]string),
		hasRow:      make(map[uuid.UUID]bool),
	}
}

func (s *mockState) clone() *mockState {
	out := newMockState()
	for id, g := range s.groups {
		g.Codes = append([]string(nil), g.Codes...)
		out.groups[id] = g
	}
	for userID, set := range s.assignments {
		cp := make(map[int64]struct{}, len(set))
		for id := range set {
			cp[id] = struct{}{}
		}
		out.assignments[userID] = cp
	}
	for userID, codes := range s.additional {
		out.additional[userID] = append([]string(nil), codes...)
	}
	for userID, codes := range s.cached {
		out.cached[userID] = append([]string(nil), codes...)
	}
	for userID, ok := range s.hasRow {
		out.hasRow[userID] = ok
	}
	return out
}

type mockRepository struct {
	state       *mockState
	nextGroupID int64

	failWriteCache bool
	lockedUsers    []uuid.UUID
}

func newMockRepository() *mockRepository {
	return &mockRepository{state: newMockState(), nextGroupID: 1}
}

type mockTx struct {
	state *mockState
	repo  *mockRepository
}

func (m *mockRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	staged := m.state.clone()
	if err := fn(ctx, &mockTx{state: staged, repo: m}); err != nil {
		return err
	}
	m.state = staged
	return nil
}

func (m *mockRepository) WithUserTx(ctx context.Context, userID uuid.UUID, fn func(context.Context, TxRepository) error) error {
	m.lockedUsers = append(m.lockedUsers, userID)
	return m.WithTx(ctx, fn)
}

func (m *mockRepository) ListGroups(ctx context.Context, activeOnly bool) ([]Group, error) {
	var groups []Group
	for _, g := range m.state.groups {
		if activeOnly && !g.IsActive {
			continue
		}
		groups = append(groups, g)
	}
	return groups, nil
}

func (m *mockRepository) GetGroup(ctx context.Context, id int64) (Group, error) {
	g, ok := m.state.groups[id]
	if !ok {
		return Group{}, ErrGroupNotFound
	}
	return g, nil
}

func (m *mockRepository) ListGroupsForUser(ctx context.Context, userID uuid.UUID) ([]Group, error) {
	return (&mockTx{state: m.state}).ListGroupsForUser(ctx, userID)
}

func (m *mockRepository) GetAdditional(ctx context.Context, userID uuid.UUID) ([]string, error) {
	return append([]string(nil), m.state.additional[userID]...), nil
}

func (m *mockRepository) ReadCache(ctx context.Context, userID uuid.UUID) ([]string, bool, error) {
	if !m.state.hasRow[userID] {
		return nil, false, nil
	}
	codes := m.state.cached[userID]
	if len(codes) == 0 {
		return nil, false, nil
	}
	return append([]string(nil), codes...), true, nil
}

func (m *mockRepository) ListCachedUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for id := range m.state.hasRow {
		ids = append(ids, id)
	}
	return ids, nil
}

func (t *mockTx) CreateGroup(ctx context.Context, in CreateGroupInput) (Group, error) {
	for _, g := range t.state.groups {
		if g.Name == in.Name {
			return Group{}, ErrDuplicateGroup
		}
	}
	id := t.repo.nextGroupID
	t.repo.nextGroupID++
	g := Group{
		ID:          id,
		Name:        in.Name,
		Description: in.Description,
		Codes:       append([]string(nil), in.Codes...),
		IsActive:    true,
		IsSystem:    in.IsSystem,
	}
	t.state.groups[id] = g
	return g, nil
}

func (t *mockTx) ReplaceGroup(ctx context.Context, group Group) (Group, error) {
	if _, ok := t.state.groups[group.ID]; !ok {
		return Group{}, ErrGroupNotFound
	}
	t.state.groups[group.ID] = group
	return group, nil
}

func (t *mockTx) DeleteGroup(ctx context.Context, id int64) error {
	if _, ok := t.state.groups[id]; !ok {
		return ErrGroupNotFound
	}
	delete(t.state.groups, id)
	for _, set := range t.state.assignments {
		delete(set, id)
	}
	return nil
}

func (t *mockTx) GetGroup(ctx context.Context, id int64) (Group, error) {
	g, ok := t.state.groups[id]
	if !ok {
		return Group{}, ErrGroupNotFound
	}
	return g, nil
}

func (t *mockTx) GroupAssignees(ctx context.Context, groupID int64) ([]uuid.UUID, error) {
	var ids []uuid.UUID
	for userID, set := range t.state.assignments {
		if _, ok := set[groupID]; ok {
			ids = append(ids, userID)
		}
	}
	return ids, nil
}

func (t *mockTx) AddAssignment(ctx context.Context, userID uuid.UUID, groupID int64) error {
	if t.state.assignments[userID] == nil {
		t.state.assignments[userID] = make(map[int64]struct{})
	}
	t.state.assignments[userID][groupID] = struct{}{}
	return nil
}

func (t *mockTx) RemoveAssignment(ctx context.Context, userID uuid.UUID, groupID int64) error {
	delete(t.state.assignments[userID], groupID)
	return nil
}

func (t *mockTx) ListGroupsForUser(ctx context.Context, userID uuid.UUID) ([]Group, error) {
	var groups []Group
	for groupID := range t.state.assignments[userID] {
		if g, ok := t.state.groups[groupID]; ok {
			groups = append(groups, g)
		}
	}
	return groups, nil
}

func (t *mockTx) GetAdditional(ctx context.Context, userID uuid.UUID) ([]string, error) {
	return append([]string(nil), t.state.additional[userID]...), nil
}

func (t *mockTx) SetAdditional(ctx context.Context, userID uuid.UUID, codes []string) error {
	t.state.additional[userID] = append([]string(nil), codes...)
	t.state.hasRow[userID] = true
	return nil
}

func (t *mockTx) WriteCache(ctx context.Context, userID uuid.UUID, codes []string) error {
	if t.repo != nil && t.repo.failWriteCache {
		return errors.New("write cache: storage down")
	}
	t.state.cached[userID] = append([]string(nil), codes...)
	t.state.hasRow[userID] = true
	return nil
}

type fixture struct {
	repo      *mockRepository
	directory *mockDirectory
	service   *Service
}

func newFixture() *fixture {
	repo := newMockRepository()
	directory := &mockDirectory{users: make(map[uuid.UUID]identity.User)}
	return &fixture{
		repo:      repo,
		directory: directory,
		service:   NewService(repo, directory, nil, nil),
	}
}

func (f *fixture) addUser(roles ...identity.Role) uuid.UUID {
	id := uuid.New()
	f.directory.users[id] = identity.User{ID: id, Roles: roles}
	return id
}

func (f *fixture) mustCreateGroup(t *testing.T, name string, codes ...string) Group {
	t.Helper()
	g, err := f.service.CreateGroup(context.Background(), CreateGroupInput{Name: name, Codes: codes})
	require.NoError(t, err)
	return g
}

func TestResolveUnionAcrossGroupsAndOverrides(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	userID := f.addUser(identity.RoleStaff)

	g1 := f.mustCreateGroup(t, "Tournament Staff", "tournament:create", "tournament:read")
	g2 := f.mustCreateGroup(t, "Match Staff", "tournament:read", "match:read")

	_, err := f.service.AssignGroup(ctx, userID, g1.ID)
	require.NoError(t, err)
	_, err = f.service.AssignGroup(ctx, userID, g2.ID)
	require.NoError(t, err)
	codes, err := f.service.Grant(ctx, userID, "match:score")
	require.NoError(t, err)

	assert.Equal(t, []string{"match:read", "match:score", "tournament:create", "tournament:read"}, codes)
}

func TestResolveIdempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	userID := f.addUser(identity.RoleUser)
	g := f.mustCreateGroup(t, "Readers", "tournament:read")
	_, err := f.service.AssignGroup(ctx, userID, g.ID)
	require.NoError(t, err)

	first, err := f.service.Resolve(ctx, userID)
	require.NoError(t, err)
	second, err := f.service.Resolve(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	rebuilt, err := f.service.Rebuild(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, first, rebuilt)
}

func TestResolveRootBypass(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	userID := f.addUser(identity.RoleRoot)

	codes, err := f.service.Resolve(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, catalog.All(), codes)

	// Groups and overrides change nothing for ROOT.
	g := f.mustCreateGroup(t, "Whatever", "match:read")
	_, err = f.service.AssignGroup(ctx, userID, g.ID)
	require.NoError(t, err)
	codes, err = f.service.Rebuild(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, catalog.All(), codes)
}

func TestResolveServesPersistedCacheWithoutRecompute(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	userID := f.addUser(identity.RoleUser)

	// Plant a cache row that differs from what a recompute would produce.
	f.repo.state.cached[userID] = []string{"rating:read"}
	f.repo.state.hasRow[userID] = true

	codes, err := f.service.Resolve(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, []string{"rating:read"}, codes)

	// A forced rebuild replaces the planted value.
	codes, err = f.service.Rebuild(ctx, userID)
	require.NoError(t, err)
	assert.Empty(t, codes)
}

func TestInactiveGroupExcluded(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	userID := f.addUser(identity.RoleUser)

	g1 := f.mustCreateGroup(t, "Alpha", "tournament:create", "tournament:read")
	g2 := f.mustCreateGroup(t, "Beta", "tournament:read", "match:read")
	_, err := f.service.AssignGroup(ctx, userID, g1.ID)
	require.NoError(t, err)
	_, err = f.service.AssignGroup(ctx, userID, g2.ID)
	require.NoError(t, err)

	inactive := false
	_, err = f.service.UpdateGroup(ctx, g1.ID, UpdateGroupInput{IsActive: &inactive})
	require.NoError(t, err)

	codes, err := f.service.Resolve(ctx, userID)
	require.NoError(t, err)
	// Alpha's unique code is gone; the code shared with Beta remains.
	assert.Equal(t, []string{"match:read", "tournament:read"}, codes)

	// Reactivation silently restores the contribution; the assignment was
	// never deleted.
	active := true
	_, err = f.service.UpdateGroup(ctx, g1.ID, UpdateGroupInput{IsActive: &active})
	require.NoError(t, err)
	codes, err = f.service.Resolve(ctx, userID)
	require.NoError(t, err)
	assert.Contains(t, codes, "tournament:create")
}

func TestGroupEditBroadcastsRebuildToAllAssignees(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alice := f.addUser(identity.RoleUser)
	bob := f.addUser(identity.RoleUser)

	g := f.mustCreateGroup(t, "Casters", "match:read")
	_, err := f.service.AssignGroup(ctx, alice, g.ID)
	require.NoError(t, err)
	_, err = f.service.AssignGroup(ctx, bob, g.ID)
	require.NoError(t, err)

	newCodes := []string{"match:read", "match:score"}
	_, err = f.service.UpdateGroup(ctx, g.ID, UpdateGroupInput{Codes: &newCodes})
	require.NoError(t, err)

	// Both assignees' persisted caches were rewritten before the update
	// returned; no further mutation is needed.
	assert.Equal(t, []string{"match:read", "match:score"}, f.repo.state.cached[alice])
	assert.Equal(t, []string{"match:read", "match:score"}, f.repo.state.cached[bob])
}

func TestGroupDeleteRebuildsFormerAssignees(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	userID := f.addUser(identity.RoleUser)

	g := f.mustCreateGroup(t, "Temp", "region:read")
	_, err := f.service.AssignGroup(ctx, userID, g.ID)
	require.NoError(t, err)

	require.NoError(t, f.service.DeleteGroup(ctx, g.ID))
	assert.Empty(t, f.repo.state.cached[userID])
	assert.Empty(t, f.repo.state.assignments[userID])
}

func TestSystemGroupDeleteForbidden(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	userID := f.addUser(identity.RoleUser)

	g, err := f.service.CreateGroup(ctx, CreateGroupInput{Name: "Core Admins", Codes: []string{"group:manage"}, IsSystem: true})
	require.NoError(t, err)
	_, err = f.service.AssignGroup(ctx, userID, g.ID)
	require.NoError(t, err)

	err = f.service.DeleteGroup(ctx, g.ID)
	assert.ErrorIs(t, err, ErrSystemGroup)

	// Group and assignment survive untouched.
	_, err = f.service.GetGroup(ctx, g.ID)
	assert.NoError(t, err)
	assert.Contains(t, f.repo.state.assignments[userID], g.ID)
}

func TestAssignGroupIdempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	userID := f.addUser(identity.RoleUser)
	g := f.mustCreateGroup(t, "Scorers", "match:score")

	first, err := f.service.AssignGroup(ctx, userID, g.ID)
	require.NoError(t, err)
	second, err := f.service.AssignGroup(ctx, userID, g.ID)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Len(t, f.repo.state.assignments[userID], 1)
}

func TestAssignUnknownGroup(t *testing.T) {
	f := newFixture()
	userID := f.addUser(identity.RoleUser)

	_, err := f.service.AssignGroup(context.Background(), userID, 404)
	assert.ErrorIs(t, err, ErrGroupNotFound)
}

func TestRemoveAbsentAssignmentIsNoOp(t *testing.T) {
	f := newFixture()
	userID := f.addUser(identity.RoleUser)

	codes, err := f.service.RemoveGroup(context.Background(), userID, 7)
	require.NoError(t, err)
	assert.Empty(t, codes)
}

func TestCreateGroupRejectsInvalidCodesListingAll(t *testing.T) {
	f := newFixture()

	_, err := f.service.CreateGroup(context.Background(), CreateGroupInput{
		Name:  "Broken",
		Codes: []string{"not:real", "tournament:create", "bogus:thing"},
	})
	require.Error(t, err)

	var invalid *catalog.InvalidCodesError
	require.True(t, errors.As(err, &invalid))
	assert.ElementsMatch(t, []string{"not:real", "bogus:thing"}, invalid.Codes)

	// Nothing was created.
	groups, err := f.service.ListGroups(context.Background(), false)
	require.NoError(t, err)
	assert.Empty(t, groups)
}

func TestUpdateGroupRejectsInvalidCodes(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	g := f.mustCreateGroup(t, "Valid", "team:read")

	bad := []string{"team:fly"}
	_, err := f.service.UpdateGroup(ctx, g.ID, UpdateGroupInput{Codes: &bad})
	var invalid *catalog.InvalidCodesError
	require.True(t, errors.As(err, &invalid))

	unchanged, err := f.service.GetGroup(ctx, g.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"team:read"}, unchanged.Codes)
}

func TestGrantInvalidCode(t *testing.T) {
	f := newFixture()
	userID := f.addUser(identity.RoleUser)

	_, err := f.service.Grant(context.Background(), userID, "nope:never")
	var invalid *catalog.InvalidCodesError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, []string{"nope:never"}, invalid.Codes)
}

func TestGrantIdempotent(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	userID := f.addUser(identity.RoleUser)

	first, err := f.service.Grant(ctx, userID, "player:read")
	require.NoError(t, err)
	second, err := f.service.Grant(ctx, userID, "player:read")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, []string{"player:read"}, f.repo.state.additional[userID])
}

func TestRevokeIsAdditiveOnly(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	userID := f.addUser(identity.RoleUser)

	g := f.mustCreateGroup(t, "Readers", "tournament:read")
	_, err := f.service.AssignGroup(ctx, userID, g.ID)
	require.NoError(t, err)

	// The code comes from the group, not the override, so revoking it
	// changes nothing.
	codes, err := f.service.Revoke(ctx, userID, "tournament:read")
	require.NoError(t, err)
	assert.Equal(t, []string{"tournament:read"}, codes)

	// Revoking an override-held code removes exactly that code.
	_, err = f.service.Grant(ctx, userID, "rating:read")
	require.NoError(t, err)
	codes, err = f.service.Revoke(ctx, userID, "rating:read")
	require.NoError(t, err)
	assert.Equal(t, []string{"tournament:read"}, codes)
}

func TestCacheWriteFailureRollsBackMutation(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	userID := f.addUser(identity.RoleUser)

	f.repo.failWriteCache = true
	_, err := f.service.Grant(ctx, userID, "player:read")
	require.Error(t, err)

	// The override write rolled back with the cache write.
	assert.Empty(t, f.repo.state.additional[userID])
	assert.False(t, f.repo.state.hasRow[userID])
}

func TestMutationsTakePerUserLock(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	userID := f.addUser(identity.RoleUser)

	_, err := f.service.Grant(ctx, userID, "player:read")
	require.NoError(t, err)
	_, err = f.service.Revoke(ctx, userID, "player:read")
	require.NoError(t, err)

	assert.Equal(t, []uuid.UUID{userID, userID}, f.repo.lockedUsers)
}

func TestUserSummary(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	userID := f.addUser(identity.RoleStaff)

	g := f.mustCreateGroup(t, "Staff", "tournament:read")
	_, err := f.service.AssignGroup(ctx, userID, g.ID)
	require.NoError(t, err)
	_, err = f.service.Grant(ctx, userID, "rating:read")
	require.NoError(t, err)

	summary, err := f.service.UserSummary(ctx, userID)
	require.NoError(t, err)
	assert.Equal(t, userID, summary.UserID)
	assert.Equal(t, []string{"rating:read", "tournament:read"}, summary.Effective)
	require.Len(t, summary.Groups, 1)
	assert.Equal(t, "Staff", summary.Groups[0].Name)
	assert.Equal(t, []string{"rating:read"}, summary.Additional)
}

func TestReconcileAll(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	alice := f.addUser(identity.RoleUser)
	bob := f.addUser(identity.RoleUser)

	_, err := f.service.Grant(ctx, alice, "player:read")
	require.NoError(t, err)
	_, err = f.service.Grant(ctx, bob, "team:read")
	require.NoError(t, err)

	// Simulate an out-of-band edit that left a cache stale.
	f.repo.state.cached[alice] = []string{"stale:code"}

	rebuilt, err := f.service.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, rebuilt)
	assert.Equal(t, []string{"player:read"}, f.repo.state.cached[alice])
}
