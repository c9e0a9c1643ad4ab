package rbac

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/meridian-saas/meridian/internal/platform/db"
)

// ErrDuplicateName indicates a role or permission name already in use
// within the tenant.
var ErrDuplicateName = errors.New("rbac: name already in use")

const uniqueViolation = "23505"

// Repository provides PostgreSQL backed persistence. The pool is
// assumed to be scoped to one tenant's partition; no query here crosses
// tenants.
type Repository struct {
	pool *pgxpool.Pool
	q    dbtx
}

type dbtx interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool, q: pool}
}

// Mutate runs fn in a transaction; the invalidation issued inside fn is
// part of the same unit of work.
func (r *Repository) Mutate(ctx context.Context, fn func(MutationStore) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(&Repository{pool: r.pool, q: tx})
	})
}

const roleColumns = `id, name, description, is_system_role, state, created_at, updated_at`

func scanRole(row pgx.Row) (Role, error) {
	var role Role
	err := row.Scan(&role.ID, &role.Name, &role.Description, &role.IsSystemRole, &role.State, &role.CreatedAt, &role.UpdatedAt)
	return role, err
}

// GetRole fetches a role by id regardless of state.
func (r *Repository) GetRole(ctx context.Context, id int64) (Role, error) {
	role, err := scanRole(r.q.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, &NotFoundError{Entity: "role", IDs: []int64{id}}
		}
		return Role{}, fmt.Errorf("rbac: get role: %w", err)
	}
	return role, nil
}

// GetRoleByName fetches a non-deleted role by name.
func (r *Repository) GetRoleByName(ctx context.Context, name string) (Role, error) {
	role, err := scanRole(r.q.QueryRow(ctx, `SELECT `+roleColumns+` FROM roles WHERE name = $1 AND state <> 'deleted'`, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, &NotFoundError{Entity: "role"}
		}
		return Role{}, fmt.Errorf("rbac: get role by name: %w", err)
	}
	return role, nil
}

// ListRoles returns non-deleted roles matching the filter, by name.
func (r *Repository) ListRoles(ctx context.Context, filter RoleFilter) ([]Role, error) {
	query := `SELECT ` + roleColumns + ` FROM roles WHERE state <> 'deleted'`
	args := []any{}
	if filter.State != "" {
		args = append(args, filter.State)
		query = fmt.Sprintf(`SELECT %s FROM roles WHERE state = $%d`, roleColumns, len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		query += fmt.Sprintf(` AND (name ILIKE $%d OR description ILIKE $%d)`, len(args), len(args))
	}
	if !filter.IncludeSystem {
		query += ` AND NOT is_system_role`
	}
	query += ` ORDER BY name`

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("rbac: list roles: %w", err)
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("rbac: list roles: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rbac: list roles: %w", err)
	}
	return roles, nil
}

// RolesByIDs returns non-deleted roles among ids, in no defined order.
func (r *Repository) RolesByIDs(ctx context.Context, ids []int64) ([]Role, error) {
	rows, err := r.q.Query(ctx, `SELECT `+roleColumns+` FROM roles WHERE id = ANY($1) AND state <> 'deleted'`, ids)
	if err != nil {
		return nil, fmt.Errorf("rbac: roles by ids: %w", err)
	}
	defer rows.Close()
	var roles []Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, fmt.Errorf("rbac: roles by ids: %w", err)
		}
		roles = append(roles, role)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rbac: roles by ids: %w", err)
	}
	return roles, nil
}

const permissionColumns = `id, name, description, state, created_at, updated_at`

func scanPermission(row pgx.Row) (Permission, error) {
	var perm Permission
	err := row.Scan(&perm.ID, &perm.Name, &perm.Description, &perm.State, &perm.CreatedAt, &perm.UpdatedAt)
	return perm, err
}

// GetPermission fetches a permission by id regardless of state.
func (r *Repository) GetPermission(ctx context.Context, id int64) (Permission, error) {
	perm, err := scanPermission(r.q.QueryRow(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, &NotFoundError{Entity: "permission", IDs: []int64{id}}
		}
		return Permission{}, fmt.Errorf("rbac: get permission: %w", err)
	}
	return perm, nil
}

// ListPermissions returns non-deleted permissions matching the filter.
func (r *Repository) ListPermissions(ctx context.Context, filter PermissionFilter) ([]Permission, error) {
	query := `SELECT ` + permissionColumns + ` FROM permissions WHERE state <> 'deleted'`
	args := []any{}
	if filter.State != "" {
		args = append(args, filter.State)
		query = fmt.Sprintf(`SELECT %s FROM permissions WHERE state = $%d`, permissionColumns, len(args))
	}
	if filter.Search != "" {
		args = append(args, "%"+filter.Search+"%")
		query += fmt.Sprintf(` AND (name ILIKE $%d OR description ILIKE $%d)`, len(args), len(args))
	}
	query += ` ORDER BY name`

	rows, err := r.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("rbac: list permissions: %w", err)
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("rbac: list permissions: %w", err)
		}
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rbac: list permissions: %w", err)
	}
	return perms, nil
}

// PermissionsByIDs returns non-deleted permissions among ids.
func (r *Repository) PermissionsByIDs(ctx context.Context, ids []int64) ([]Permission, error) {
	rows, err := r.q.Query(ctx, `SELECT `+permissionColumns+` FROM permissions WHERE id = ANY($1) AND state <> 'deleted'`, ids)
	if err != nil {
		return nil, fmt.Errorf("rbac: permissions by ids: %w", err)
	}
	defer rows.Close()
	var perms []Permission
	for rows.Next() {
		perm, err := scanPermission(rows)
		if err != nil {
			return nil, fmt.Errorf("rbac: permissions by ids: %w", err)
		}
		perms = append(perms, perm)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rbac: permissions by ids: %w", err)
	}
	return perms, nil
}

// UserEffectivePermissions resolves the user's permission names in one
// query. Every hop filters on state so a revoked or deleted row at any
// level hides the permission, even when the other hops are valid.
func (r *Repository) UserEffectivePermissions(ctx context.Context, userID int64) ([]string, error) {
	rows, err := r.q.Query(ctx, `
		SELECT DISTINCT p.name
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id AND rp.state = 'active'
		JOIN roles r ON r.id = rp.role_id AND r.state = 'active'
		JOIN user_roles ur ON ur.role_id = r.id AND ur.state = 'active'
		JOIN users u ON u.id = ur.user_id AND u.is_active
		WHERE p.state = 'active' AND ur.user_id = $1
		ORDER BY p.name`, userID)
	if err != nil {
		return nil, fmt.Errorf("rbac: user effective permissions: %w", err)
	}
	defer rows.Close()
	return collectNames(rows)
}

// RoleEffectivePermissions resolves one role's permission names with
// the same hop filtering.
func (r *Repository) RoleEffectivePermissions(ctx context.Context, roleID int64) ([]string, error) {
	rows, err := r.q.Query(ctx, `
		SELECT DISTINCT p.name
		FROM permissions p
		JOIN role_permissions rp ON rp.permission_id = p.id AND rp.state = 'active'
		JOIN roles r ON r.id = rp.role_id AND r.state = 'active'
		WHERE p.state = 'active' AND rp.role_id = $1
		ORDER BY p.name`, roleID)
	if err != nil {
		return nil, fmt.Errorf("rbac: role effective permissions: %w", err)
	}
	defer rows.Close()
	return collectNames(rows)
}

// RoleEffectiveUserCount counts active users effectively holding the role.
func (r *Repository) RoleEffectiveUserCount(ctx context.Context, roleID int64) (int64, error) {
	var count int64
	err := r.q.QueryRow(ctx, `
		SELECT COUNT(DISTINCT ur.user_id)
		FROM user_roles ur
		JOIN roles r ON r.id = ur.role_id AND r.state = 'active'
		JOIN users u ON u.id = ur.user_id AND u.is_active
		WHERE ur.role_id = $1 AND ur.state = 'active'`, roleID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("rbac: role user count: %w", err)
	}
	return count, nil
}

func collectNames(rows pgx.Rows) ([]string, error) {
	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("rbac: scan permission name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rbac: collect permission names: %w", err)
	}
	return names, nil
}

// CreateRole inserts a new role.
func (r *Repository) CreateRole(ctx context.Context, name, description string, system bool) (Role, error) {
	role, err := scanRole(r.q.QueryRow(ctx, `
		INSERT INTO roles (name, description, is_system_role, state)
		VALUES ($1, $2, $3, 'active')
		RETURNING `+roleColumns, name, description, system))
	if err != nil {
		if isUniqueViolation(err) {
			return Role{}, ErrDuplicateName
		}
		return Role{}, fmt.Errorf("rbac: create role: %w", err)
	}
	return role, nil
}

// UpdateRole updates name and description of a non-deleted role.
func (r *Repository) UpdateRole(ctx context.Context, id int64, name, description string) (Role, error) {
	role, err := scanRole(r.q.QueryRow(ctx, `
		UPDATE roles SET name = $2, description = $3, updated_at = now()
		WHERE id = $1 AND state <> 'deleted'
		RETURNING `+roleColumns, id, name, description))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, &NotFoundError{Entity: "role", IDs: []int64{id}}
		}
		if isUniqueViolation(err) {
			return Role{}, ErrDuplicateName
		}
		return Role{}, fmt.Errorf("rbac: update role: %w", err)
	}
	return role, nil
}

// SetRoleState transitions a role's lifecycle state.
func (r *Repository) SetRoleState(ctx context.Context, id int64, state State) (Role, error) {
	role, err := scanRole(r.q.QueryRow(ctx, `
		UPDATE roles SET state = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+roleColumns, id, state))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Role{}, &NotFoundError{Entity: "role", IDs: []int64{id}}
		}
		return Role{}, fmt.Errorf("rbac: set role state: %w", err)
	}
	return role, nil
}

// DeleteRoleRow hard-removes a role row.
func (r *Repository) DeleteRoleRow(ctx context.Context, id int64) (int64, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM roles WHERE id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("rbac: delete role row: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CreatePermission inserts a new permission.
func (r *Repository) CreatePermission(ctx context.Context, name, description string) (Permission, error) {
	perm, err := scanPermission(r.q.QueryRow(ctx, `
		INSERT INTO permissions (name, description, state)
		VALUES ($1, $2, 'active')
		RETURNING `+permissionColumns, name, description))
	if err != nil {
		if isUniqueViolation(err) {
			return Permission{}, ErrDuplicateName
		}
		return Permission{}, fmt.Errorf("rbac: create permission: %w", err)
	}
	return perm, nil
}

// UpdatePermission updates name and description of a non-deleted permission.
func (r *Repository) UpdatePermission(ctx context.Context, id int64, name, description string) (Permission, error) {
	perm, err := scanPermission(r.q.QueryRow(ctx, `
		UPDATE permissions SET name = $2, description = $3, updated_at = now()
		WHERE id = $1 AND state <> 'deleted'
		RETURNING `+permissionColumns, id, name, description))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, &NotFoundError{Entity: "permission", IDs: []int64{id}}
		}
		if isUniqueViolation(err) {
			return Permission{}, ErrDuplicateName
		}
		return Permission{}, fmt.Errorf("rbac: update permission: %w", err)
	}
	return perm, nil
}

// SetPermissionState transitions a permission's lifecycle state.
func (r *Repository) SetPermissionState(ctx context.Context, id int64, state State) (Permission, error) {
	perm, err := scanPermission(r.q.QueryRow(ctx, `
		UPDATE permissions SET state = $2, updated_at = now()
		WHERE id = $1
		RETURNING `+permissionColumns, id, state))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Permission{}, &NotFoundError{Entity: "permission", IDs: []int64{id}}
		}
		return Permission{}, fmt.Errorf("rbac: set permission state: %w", err)
	}
	return perm, nil
}

// DeletePermissionRow hard-removes a permission row.
func (r *Repository) DeletePermissionRow(ctx context.Context, id int64) (int64, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM permissions WHERE id = $1`, id)
	if err != nil {
		return 0, fmt.Errorf("rbac: delete permission row: %w", err)
	}
	return tag.RowsAffected(), nil
}

const rolePermissionColumns = `id, role_id, permission_id, state, created_at, updated_at`

// UpsertRolePermission inserts the association or restores the existing
// row. The unique constraint on (role_id, permission_id) makes this a
// single atomic step and serializes concurrent assigns of the same pair.
func (r *Repository) UpsertRolePermission(ctx context.Context, roleID, permissionID int64) (RolePermission, error) {
	var rp RolePermission
	err := r.q.QueryRow(ctx, `
		INSERT INTO role_permissions (role_id, permission_id, state)
		VALUES ($1, $2, 'active')
		ON CONFLICT (role_id, permission_id)
		DO UPDATE SET state = 'active', updated_at = now()
		RETURNING `+rolePermissionColumns, roleID, permissionID,
	).Scan(&rp.ID, &rp.RoleID, &rp.PermissionID, &rp.State, &rp.CreatedAt, &rp.UpdatedAt)
	if err != nil {
		return RolePermission{}, fmt.Errorf("rbac: upsert role permission: %w", err)
	}
	return rp, nil
}

// RevokeRolePermissions soft-deletes the named associations, returning
// how many rows changed.
func (r *Repository) RevokeRolePermissions(ctx context.Context, roleID int64, permissionIDs []int64) (int64, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE role_permissions SET state = 'deleted', updated_at = now()
		WHERE role_id = $1 AND permission_id = ANY($2) AND state <> 'deleted'`, roleID, permissionIDs)
	if err != nil {
		return 0, fmt.Errorf("rbac: revoke role permissions: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteRolePermissionRow hard-removes one association row.
func (r *Repository) DeleteRolePermissionRow(ctx context.Context, roleID, permissionID int64) (int64, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM role_permissions WHERE role_id = $1 AND permission_id = $2`, roleID, permissionID)
	if err != nil {
		return 0, fmt.Errorf("rbac: delete role permission row: %w", err)
	}
	return tag.RowsAffected(), nil
}

const userRoleColumns = `id, user_id, role_id, state, created_at, updated_at`

// UpsertUserRole inserts the assignment or restores the existing row.
func (r *Repository) UpsertUserRole(ctx context.Context, userID, roleID int64) (UserRole, error) {
	var ur UserRole
	err := r.q.QueryRow(ctx, `
		INSERT INTO user_roles (user_id, role_id, state)
		VALUES ($1, $2, 'active')
		ON CONFLICT (user_id, role_id)
		DO UPDATE SET state = 'active', updated_at = now()
		RETURNING `+userRoleColumns, userID, roleID,
	).Scan(&ur.ID, &ur.UserID, &ur.RoleID, &ur.State, &ur.CreatedAt, &ur.UpdatedAt)
	if err != nil {
		return UserRole{}, fmt.Errorf("rbac: upsert user role: %w", err)
	}
	return ur, nil
}

// RevokeUserRoles soft-deletes the named assignments.
func (r *Repository) RevokeUserRoles(ctx context.Context, userID int64, roleIDs []int64) (int64, error) {
	tag, err := r.q.Exec(ctx, `
		UPDATE user_roles SET state = 'deleted', updated_at = now()
		WHERE user_id = $1 AND role_id = ANY($2) AND state <> 'deleted'`, userID, roleIDs)
	if err != nil {
		return 0, fmt.Errorf("rbac: revoke user roles: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteUserRoleRow hard-removes one assignment row.
func (r *Repository) DeleteUserRoleRow(ctx context.Context, userID, roleID int64) (int64, error) {
	tag, err := r.q.Exec(ctx, `DELETE FROM user_roles WHERE user_id = $1 AND role_id = $2`, userID, roleID)
	if err != nil {
		return 0, fmt.Errorf("rbac: delete user role row: %w", err)
	}
	return tag.RowsAffected(), nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
