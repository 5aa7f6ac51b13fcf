package permissions

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/arenarank/arenarank-permissions/internal/catalog"
	"github.com/arenarank/arenarank-permissions/internal/identity"
	"github.com/arenarank/arenarank-permissions/internal/observability"
)

// Service orchestrates group and override mutations and owns the rebuild
// discipline: every mutation recomputes and persists the affected users'
// effective sets inside the mutation's transaction, so a successful return
// implies a fresh cache.
type Service struct {
	repo      Repository
	directory identity.Directory
	hot       *HotCache
	logger    *slog.Logger
	metrics   *observability.Metrics
}

// NewService builds a Service instance. hot may be nil.
func NewService(repo Repository, directory identity.Directory, hot *HotCache, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, directory: directory, hot: hot, logger: logger}
}

// WithMetrics attaches the metrics registry; nil is tolerated.
func (s *Service) WithMetrics(metrics *observability.Metrics) *Service {
	s.metrics = metrics
	return s
}

// Resolve returns the user's effective permission set, serving from the hot
// cache, then the persisted cache, and rebuilding from scratch on a full miss.
func (s *Service) Resolve(ctx context.Context, userID uuid.UUID) ([]string, error) {
	if codes, ok, err := s.hot.Get(ctx, userID); err == nil && ok {
		return codes, nil
	} else if err != nil {
		s.logger.Warn("hot cache read failed", slog.String("user_id", userID.String()), slog.Any("error", err))
	}

	codes, ok, err := s.repo.ReadCache(ctx, userID)
	if err != nil {
		return nil, err
	}
	if ok {
		s.primeHotCache(ctx, userID, codes)
		return codes, nil
	}

	return s.Rebuild(ctx, userID)
}

// Rebuild forces a recompute and persists the result. Idempotent: repeated
// calls over unchanged data produce an identical set.
func (s *Service) Rebuild(ctx context.Context, userID uuid.UUID) ([]string, error) {
	user, err := s.directory.Lookup(ctx, userID)
	if err != nil {
		return nil, err
	}

	var codes []string
	err = s.repo.WithUserTx(ctx, userID, func(ctx context.Context, tx TxRepository) error {
		codes, err = s.rebuildTx(ctx, tx, user)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.CountRebuild("forced")
	s.primeHotCache(ctx, userID, codes)
	return codes, nil
}

// rebuildTx recomputes one user's set and writes the persisted cache row.
// ROOT short-circuits to the full catalog without touching group or override
// state.
func (s *Service) rebuildTx(ctx context.Context, tx TxRepository, user identity.User) ([]string, error) {
	var codes []string
	if user.Roles.HasRoot() {
		codes = catalog.All()
	} else {
		groups, err := tx.ListGroupsForUser(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		additional, err := tx.GetAdditional(ctx, user.ID)
		if err != nil {
			return nil, err
		}
		codes = Resolve(user.Roles, groups, additional)
	}
	if err := tx.WriteCache(ctx, user.ID, codes); err != nil {
		return nil, err
	}
	return codes, nil
}

// Grant adds a code to the user's additive overrides. Granting a held code is
// a no-op. Returns the freshly resolved set.
func (s *Service) Grant(ctx context.Context, userID uuid.UUID, code string) ([]string, error) {
	if err := catalog.Validate([]string{code}); err != nil {
		return nil, err
	}
	return s.mutateOverride(ctx, userID, func(additional []string) []string {
		for _, have := range additional {
			if have == code {
				return additional
			}
		}
		return append(additional, code)
	})
}

// Revoke removes a code from the user's additive overrides. Revoking a code
// the user only holds through a group changes nothing; per-user revocation of
// group-granted permissions does not exist in this model.
func (s *Service) Revoke(ctx context.Context, userID uuid.UUID, code string) ([]string, error) {
	return s.mutateOverride(ctx, userID, func(additional []string) []string {
		out := additional[:0]
		for _, have := range additional {
			if have != code {
				out = append(out, have)
			}
		}
		return out
	})
}

func (s *Service) mutateOverride(ctx context.Context, userID uuid.UUID, apply func([]string) []string) ([]string, error) {
	user, err := s.directory.Lookup(ctx, userID)
	if err != nil {
		return nil, err
	}

	var codes []string
	err = s.repo.WithUserTx(ctx, userID, func(ctx context.Context, tx TxRepository) error {
		additional, err := tx.GetAdditional(ctx, userID)
		if err != nil {
			return err
		}
		if err := tx.SetAdditional(ctx, userID, apply(additional)); err != nil {
			return err
		}
		codes, err = s.rebuildTx(ctx, tx, user)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.CountRebuild("override")
	s.primeHotCache(ctx, userID, codes)
	return codes, nil
}

// AssignGroup links the user to a group. Assigning an already assigned group
// is a no-op. Returns the freshly resolved set.
func (s *Service) AssignGroup(ctx context.Context, userID uuid.UUID, groupID int64) ([]string, error) {
	user, err := s.directory.Lookup(ctx, userID)
	if err != nil {
		return nil, err
	}

	var codes []string
	err = s.repo.WithUserTx(ctx, userID, func(ctx context.Context, tx TxRepository) error {
		if _, err := tx.GetGroup(ctx, groupID); err != nil {
			return err
		}
		if err := tx.AddAssignment(ctx, userID, groupID); err != nil {
			return err
		}
		codes, err = s.rebuildTx(ctx, tx, user)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.CountRebuild("assignment")
	s.primeHotCache(ctx, userID, codes)
	return codes, nil
}

// RemoveGroup unlinks the user from a group. Removing an absent assignment is
// a no-op. Returns the freshly resolved set.
func (s *Service) RemoveGroup(ctx context.Context, userID uuid.UUID, groupID int64) ([]string, error) {
	user, err := s.directory.Lookup(ctx, userID)
	if err != nil {
		return nil, err
	}

	var codes []string
	err = s.repo.WithUserTx(ctx, userID, func(ctx context.Context, tx TxRepository) error {
		if err := tx.RemoveAssignment(ctx, userID, groupID); err != nil {
			return err
		}
		codes, err = s.rebuildTx(ctx, tx, user)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.metrics.CountRebuild("assignment")
	s.primeHotCache(ctx, userID, codes)
	return codes, nil
}

// CreateGroup validates the codes and inserts the group. New groups start
// active and unassigned, so no caches change.
func (s *Service) CreateGroup(ctx context.Context, in CreateGroupInput) (Group, error) {
	if err := catalog.Validate(in.Codes); err != nil {
		return Group{}, err
	}
	if in.Codes == nil {
		in.Codes = []string{}
	}

	var group Group
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		group, err = tx.CreateGroup(ctx, in)
		return err
	})
	if err != nil {
		return Group{}, err
	}
	return group, nil
}

// UpdateGroup applies a partial update. When the permission list or the
// active flag changes, every assignee's cache row is rewritten inside the
// same transaction: a group edit affects all of its members, not just the
// next user to be mutated.
func (s *Service) UpdateGroup(ctx context.Context, id int64, in UpdateGroupInput) (Group, error) {
	if in.Codes != nil {
		if err := catalog.Validate(*in.Codes); err != nil {
			return Group{}, err
		}
	}

	var (
		group     Group
		assignees []uuid.UUID
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.GetGroup(ctx, id)
		if err != nil {
			return err
		}

		broadcast := false
		if in.Name != nil {
			current.Name = *in.Name
		}
		if in.Description != nil {
			current.Description = *in.Description
		}
		if in.Codes != nil {
			current.Codes = *in.Codes
			broadcast = true
		}
		if in.IsActive != nil {
			if current.IsActive != *in.IsActive {
				broadcast = true
			}
			current.IsActive = *in.IsActive
		}

		group, err = tx.ReplaceGroup(ctx, current)
		if err != nil {
			return err
		}

		if !broadcast {
			return nil
		}
		assignees, err = tx.GroupAssignees(ctx, id)
		if err != nil {
			return err
		}
		return s.rebuildUsersTx(ctx, tx, assignees)
	})
	if err != nil {
		return Group{}, err
	}

	s.invalidateHotCache(ctx, assignees)
	return group, nil
}

// DeleteGroup removes a non-system group. Assignments cascade away and every
// former assignee's cache row is rewritten before commit.
func (s *Service) DeleteGroup(ctx context.Context, id int64) error {
	var assignees []uuid.UUID
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		group, err := tx.GetGroup(ctx, id)
		if err != nil {
			return err
		}
		if group.IsSystem {
			return ErrSystemGroup
		}

		assignees, err = tx.GroupAssignees(ctx, id)
		if err != nil {
			return err
		}
		if err := tx.DeleteGroup(ctx, id); err != nil {
			return err
		}
		return s.rebuildUsersTx(ctx, tx, assignees)
	})
	if err != nil {
		return err
	}

	s.invalidateHotCache(ctx, assignees)
	return nil
}

// rebuildUsersTx rewrites the cache row of every listed user.
func (s *Service) rebuildUsersTx(ctx context.Context, tx TxRepository, userIDs []uuid.UUID) error {
	for _, userID := range userIDs {
		user, err := s.directory.Lookup(ctx, userID)
		if err != nil {
			return fmt.Errorf("rebuild user %s: %w", userID, err)
		}
		if _, err := s.rebuildTx(ctx, tx, user); err != nil {
			return fmt.Errorf("rebuild user %s: %w", userID, err)
		}
		s.metrics.CountRebuild("group_edit")
	}
	return nil
}

// ListGroups returns groups ordered by name.
func (s *Service) ListGroups(ctx context.Context, activeOnly bool) ([]Group, error) {
	return s.repo.ListGroups(ctx, activeOnly)
}

// GetGroup fetches one group.
func (s *Service) GetGroup(ctx context.Context, id int64) (Group, error) {
	return s.repo.GetGroup(ctx, id)
}

// UserSummary combines the resolved set with its provenance.
func (s *Service) UserSummary(ctx context.Context, userID uuid.UUID) (Summary, error) {
	effective, err := s.Resolve(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	groups, err := s.repo.ListGroupsForUser(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	additional, err := s.repo.GetAdditional(ctx, userID)
	if err != nil {
		return Summary{}, err
	}
	if groups == nil {
		groups = []Group{}
	}
	if additional == nil {
		additional = []string{}
	}
	return Summary{UserID: userID, Effective: effective, Groups: groups, Additional: additional}, nil
}

// ReconcileAll rebuilds every user with a permission row. Safety net for
// edits made outside the API; invoked by the background worker.
func (s *Service) ReconcileAll(ctx context.Context) (int, error) {
	userIDs, err := s.repo.ListCachedUserIDs(ctx)
	if err != nil {
		return 0, err
	}
	rebuilt := 0
	for _, userID := range userIDs {
		if _, err := s.Rebuild(ctx, userID); err != nil {
			s.logger.Error("reconcile rebuild failed",
				slog.String("user_id", userID.String()), slog.Any("error", err))
			continue
		}
		rebuilt++
	}
	return rebuilt, nil
}

func (s *Service) primeHotCache(ctx context.Context, userID uuid.UUID, codes []string) {
	if err := s.hot.Set(ctx, userID, codes); err != nil {
		s.logger.Warn("hot cache write failed", slog.String("user_id", userID.String()), slog.Any("error", err))
	}
}

func (s *Service) invalidateHotCache(ctx context.Context, userIDs []uuid.UUID) {
	for _, userID := range userIDs {
		if err := s.hot.Invalidate(ctx, userID); err != nil {
			s.logger.Warn("hot cache invalidate failed", slog.String("user_id", userID.String()), slog.Any("error", err))
		}
	}
}
