package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/examhall/examhall-backend/internal/apperr"
	"github.com/examhall/examhall-backend/internal/model"
)

// UserRepository handles user accounts and per-course roles.
type UserRepository struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new UserRepository.
func NewUserRepository(pool *pgxpool.Pool) *UserRepository {
	return &UserRepository{pool: pool}
}

// GetByLogin retrieves a user by login name.
func (r *UserRepository) GetByLogin(ctx context.Context, login string) (*model.User, error) {
	u := &model.User{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, login, name, email, password_hash, created_at
		 FROM users WHERE login = $1`, login,
	).Scan(&u.ID, &u.Login, &u.Name, &u.Email, &u.PasswordHash, &u.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("user")
	}
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Create inserts a user account.
func (r *UserRepository) Create(ctx context.Context, u *model.User) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO users (login, name, email, password_hash)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		u.Login, u.Name, u.Email, u.PasswordHash,
	).Scan(&u.ID, &u.CreatedAt)
}

// GetCourseRole returns the user's role in a course, or "" when the
// user has none.
func (r *UserRepository) GetCourseRole(ctx context.Context, userID, courseID int64) (model.Role, error) {
	var role model.Role
	err := r.pool.QueryRow(ctx,
		`SELECT role FROM user_course_roles WHERE user_id = $1 AND course_id = $2`,
		userID, courseID,
	).Scan(&role)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return role, nil
}

// GrantCourseRole upserts a user's role in a course.
func (r *UserRepository) GrantCourseRole(ctx context.Context, userID, courseID int64, role model.Role) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO user_course_roles (user_id, course_id, role)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (user_id, course_id) DO UPDATE SET role = EXCLUDED.role`,
		userID, courseID, role)
	return err
}
