package users

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound indicates the user does not exist in the tenant partition.
var ErrNotFound = errors.New("users: not found")

// Repository provides PostgreSQL backed identity lookups. Every query
// runs against the tenant partition the pool is scoped to.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetUser fetches a user by id.
func (r *Repository) GetUser(ctx context.Context, id int64) (User, error) {
	var user User
	err := r.pool.QueryRow(ctx,
		`SELECT id, email, is_active, is_superuser, created_at, updated_at FROM users WHERE id = $1`,
		id,
	).Scan(&user.ID, &user.Email, &user.IsActive, &user.IsSuperuser, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, fmt.Errorf("users: get user: %w", err)
	}
	return user, nil
}

// ActiveUserIDs returns the ids of all active users in the tenant.
// Used by broad cache invalidation and by cache warmup.
func (r *Repository) ActiveUserIDs(ctx context.Context) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM users WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("users: active ids: %w", err)
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("users: active ids: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("users: active ids: %w", err)
	}
	return ids, nil
}
