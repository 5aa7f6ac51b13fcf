package permissions

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/arenarank/arenarank-permissions/internal/platform/db"
)

const uniqueViolationCode = "23505"

// Repository provides read access and transaction entry points.
type Repository interface {
	// WithUserTx runs fn in a transaction holding the per-user advisory
	// lock, serializing mutate-then-rebuild sequences for one user.
	WithUserTx(ctx context.Context, userID uuid.UUID, fn func(context.Context, TxRepository) error) error
	// WithTx runs fn in a plain transaction (group-level mutations).
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error

	ListGroups(ctx context.Context, activeOnly bool) ([]Group, error)
	GetGroup(ctx context.Context, id int64) (Group, error)
	ListGroupsForUser(ctx context.Context, userID uuid.UUID) ([]Group, error)
	GetAdditional(ctx context.Context, userID uuid.UUID) ([]string, error)
	// ReadCache returns the cached set; ok is false when no row exists or
	// the cached set is empty.
	ReadCache(ctx context.Context, userID uuid.UUID) (codes []string, ok bool, err error)
	ListCachedUserIDs(ctx context.Context) ([]uuid.UUID, error)
}

// TxRepository is the mutation surface available inside a transaction.
type TxRepository interface {
	CreateGroup(ctx context.Context, in CreateGroupInput) (Group, error)
	ReplaceGroup(ctx context.Context, group Group) (Group, error)
	DeleteGroup(ctx context.Context, id int64) error
	GetGroup(ctx context.Context, id int64) (Group, error)
	GroupAssignees(ctx context.Context, groupID int64) ([]uuid.UUID, error)

	AddAssignment(ctx context.Context, userID uuid.UUID, groupID int64) error
	RemoveAssignment(ctx context.Context, userID uuid.UUID, groupID int64) error
	ListGroupsForUser(ctx context.Context, userID uuid.UUID) ([]Group, error)

	GetAdditional(ctx context.Context, userID uuid.UUID) ([]string, error)
	SetAdditional(ctx context.Context, userID uuid.UUID, codes []string) error
	WriteCache(ctx context.Context, userID uuid.UUID, codes []string) error
}

// PGRepository is the PostgreSQL implementation.
type PGRepository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository over the shared pool.
func NewRepository(pool *pgxpool.Pool) *PGRepository {
	return &PGRepository{pool: pool}
}

type querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// txRepository scopes all queries to one transaction.
type txRepository struct {
	tx pgx.Tx
}

// WithTx implements Repository.
func (r *PGRepository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepository{tx: tx})
	})
}

// WithUserTx implements Repository. The advisory lock is transaction scoped
// and released automatically on commit or rollback.
func (r *PGRepository) WithUserTx(ctx context.Context, userID uuid.UUID, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, userLockKey(userID)); err != nil {
			return fmt.Errorf("permissions: advisory lock: %w", err)
		}
		return fn(ctx, &txRepository{tx: tx})
	})
}

func userLockKey(userID uuid.UUID) int64 {
	h := fnv.New64a()
	_, _ = h.Write(userID[:])
	return int64(h.Sum64())
}

const groupColumns = `id, name, description, codes, is_active, is_system, created_at, updated_at`

func scanGroup(row pgx.Row) (Group, error) {
	var g Group
	err := row.Scan(&g.ID, &g.Name, &g.Description, &g.Codes, &g.IsActive, &g.IsSystem, &g.CreatedAt, &g.UpdatedAt)
	return g, err
}

func collectGroups(rows pgx.Rows) ([]Group, error) {
	defer rows.Close()
	var groups []Group
	for rows.Next() {
		g, err := scanGroup(rows)
		if err != nil {
			return nil, err
		}
		groups = append(groups, g)
	}
	return groups, rows.Err()
}

func listGroups(ctx context.Context, q querier, activeOnly bool) ([]Group, error) {
	query := `SELECT ` + groupColumns + ` FROM permission_groups ORDER BY name`
	if activeOnly {
		query = `SELECT ` + groupColumns + ` FROM permission_groups WHERE is_active ORDER BY name`
	}
	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("permissions: list groups: %w", err)
	}
	return collectGroups(rows)
}

func getGroup(ctx context.Context, q querier, id int64) (Group, error) {
	g, err := scanGroup(q.QueryRow(ctx, `SELECT `+groupColumns+` FROM permission_groups WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Group{}, ErrGroupNotFound
		}
		return Group{}, fmt.Errorf("permissions: get group: %w", err)
	}
	return g, nil
}

func listGroupsForUser(ctx context.Context, q querier, userID uuid.UUID) ([]Group, error) {
	rows, err := q.Query(ctx, `
		SELECT g.id, g.name, g.description, g.codes, g.is_active, g.is_system, g.created_at, g.updated_at
		FROM permission_groups g
		JOIN user_group_assignments a ON a.group_id = g.id
		WHERE a.user_id = $1
		ORDER BY g.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("permissions: list user groups: %w", err)
	}
	return collectGroups(rows)
}

func getAdditional(ctx context.Context, q querier, userID uuid.UUID) ([]string, error) {
	var codes []string
	err := q.QueryRow(ctx, `SELECT additional_codes FROM user_permissions WHERE user_id = $1`, userID).Scan(&codes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("permissions: get additional: %w", err)
	}
	return codes, nil
}

// ListGroups implements Repository.
func (r *PGRepository) ListGroups(ctx context.Context, activeOnly bool) ([]Group, error) {
	return listGroups(ctx, r.pool, activeOnly)
}

// GetGroup implements Repository.
func (r *PGRepository) GetGroup(ctx context.Context, id int64) (Group, error) {
	return getGroup(ctx, r.pool, id)
}

// ListGroupsForUser implements Repository.
func (r *PGRepository) ListGroupsForUser(ctx context.Context, userID uuid.UUID) ([]Group, error) {
	return listGroupsForUser(ctx, r.pool, userID)
}

// GetAdditional implements Repository.
func (r *PGRepository) GetAdditional(ctx context.Context, userID uuid.UUID) ([]string, error) {
	return getAdditional(ctx, r.pool, userID)
}

// ReadCache implements Repository. An absent row and an empty cached set are
// both misses; the caller rebuilds.
func (r *PGRepository) ReadCache(ctx context.Context, userID uuid.UUID) ([]string, bool, error) {
	var codes []string
	err := r.pool.QueryRow(ctx, `SELECT cached_codes FROM user_permissions WHERE user_id = $1`, userID).Scan(&codes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("permissions: read cache: %w", err)
	}
	if len(codes) == 0 {
		return nil, false, nil
	}
	return codes, true, nil
}

// ListCachedUserIDs implements Repository; used by the reconcile sweep.
func (r *PGRepository) ListCachedUserIDs(ctx context.Context) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM user_permissions`)
	if err != nil {
		return nil, fmt.Errorf("permissions: list cached users: %w", err)
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// CreateGroup implements TxRepository.
func (t *txRepository) CreateGroup(ctx context.Context, in CreateGroupInput) (Group, error) {
	g, err := scanGroup(t.tx.QueryRow(ctx, `
		INSERT INTO permission_groups (name, description, codes, is_active, is_system)
		VALUES ($1, $2, $3, TRUE, $4)
		RETURNING `+groupColumns, in.Name, in.Description, in.Codes, in.IsSystem))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return Group{}, ErrDuplicateGroup
		}
		return Group{}, fmt.Errorf("permissions: create group: %w", err)
	}
	return g, nil
}

// ReplaceGroup implements TxRepository.
func (t *txRepository) ReplaceGroup(ctx context.Context, group Group) (Group, error) {
	g, err := scanGroup(t.tx.QueryRow(ctx, `
		UPDATE permission_groups
		SET name = $2, description = $3, codes = $4, is_active = $5, updated_at = now()
		WHERE id = $1
		RETURNING `+groupColumns, group.ID, group.Name, group.Description, group.Codes, group.IsActive))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Group{}, ErrGroupNotFound
		}
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
			return Group{}, ErrDuplicateGroup
		}
		return Group{}, fmt.Errorf("permissions: replace group: %w", err)
	}
	return g, nil
}

// DeleteGroup implements TxRepository. Assignments cascade via the foreign key.
func (t *txRepository) DeleteGroup(ctx context.Context, id int64) error {
	tag, err := t.tx.Exec(ctx, `DELETE FROM permission_groups WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("permissions: delete group: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrGroupNotFound
	}
	return nil
}

// GetGroup implements TxRepository.
func (t *txRepository) GetGroup(ctx context.Context, id int64) (Group, error) {
	return getGroup(ctx, t.tx, id)
}

// GroupAssignees implements TxRepository.
func (t *txRepository) GroupAssignees(ctx context.Context, groupID int64) ([]uuid.UUID, error) {
	rows, err := t.tx.Query(ctx, `SELECT user_id FROM user_group_assignments WHERE group_id = $1`, groupID)
	if err != nil {
		return nil, fmt.Errorf("permissions: group assignees: %w", err)
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AddAssignment implements TxRepository. Assigning twice is a no-op.
func (t *txRepository) AddAssignment(ctx context.Context, userID uuid.UUID, groupID int64) error {
	_, err := t.tx.Exec(ctx, `
		INSERT INTO user_group_assignments (user_id, group_id)
		VALUES ($1, $2)
		ON CONFLICT (user_id, group_id) DO NOTHING`, userID, groupID)
	if err != nil {
		return fmt.Errorf("permissions: add assignment: %w", err)
	}
	return nil
}

// RemoveAssignment implements TxRepository. Removing an absent assignment is
// a no-op.
func (t *txRepository) RemoveAssignment(ctx context.Context, userID uuid.UUID, groupID int64) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM user_group_assignments WHERE user_id = $1 AND group_id = $2`, userID, groupID)
	if err != nil {
		return fmt.Errorf("permissions: remove assignment: %w", err)
	}
	return nil
}

// ListGroupsForUser implements TxRepository.
func (t *txRepository) ListGroupsForUser(ctx context.Context, userID uuid.UUID) ([]Group, error) {
	return listGroupsForUser(ctx, t.tx, userID)
}

// GetAdditional implements TxRepository.
func (t *txRepository) GetAdditional(ctx context.Context, userID uuid.UUID) ([]string, error) {
	return getAdditional(ctx, t.tx, userID)
}

// SetAdditional implements TxRepository.
func (t *txRepository) SetAdditional(ctx context.Context, userID uuid.UUID, codes []string) error {
	if codes == nil {
		codes = []string{}
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO user_permissions (user_id, additional_codes, cached_codes)
		VALUES ($1, $2, '{}')
		ON CONFLICT (user_id) DO UPDATE SET additional_codes = EXCLUDED.additional_codes, updated_at = now()`,
		userID, codes)
	if err != nil {
		return fmt.Errorf("permissions: set additional: %w", err)
	}
	return nil
}

// WriteCache implements TxRepository. Upsert: the row is created on first
// resolve even when the user has no override.
func (t *txRepository) WriteCache(ctx context.Context, userID uuid.UUID, codes []string) error {
	if codes == nil {
		codes = []string{}
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO user_permissions (user_id, additional_codes, cached_codes)
		VALUES ($1, '{}', $2)
		ON CONFLICT (user_id) DO UPDATE SET cached_codes = EXCLUDED.cached_codes, updated_at = now()`,
		userID, codes)
	if err != nil {
		return fmt.Errorf("permissions: write cache: %w", err)
	}
	return nil
}
