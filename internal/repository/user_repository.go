package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/arashzm/movie-ticketing/internal/model"
	"github.com/arashzm/movie-ticketing/internal/utils"
)

// ErrEmailExists is returned when registering an email that is
// already taken.
var ErrEmailExists = errors.New("email already exists")

// UserRepo persists user accounts.
type UserRepo struct{ DB *sql.DB }

func NewUserRepo(db *sql.DB) *UserRepo { return &UserRepo{DB: db} }

// Create hashes the password and inserts the user, returning the new
// id.  Emails are stored lowercased; a duplicate maps to
// ErrEmailExists via the unique key on users.email.
func (r *UserRepo) Create(ctx context.Context, email, password, role string, cost int) (uint64, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	hash, err := utils.HashPassword(password, cost)
	if err != nil {
		return 0, err
	}
	res, err := r.DB.ExecContext(ctx,
		`INSERT INTO users (email, password_hash, role) VALUES (?,?,?)`,
		email, hash, role)
	if err != nil {
		if strings.Contains(err.Error(), "Duplicate entry") {
			return 0, ErrEmailExists
		}
		return 0, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}
	return uint64(id), nil
}

// GetByEmail returns the user with the given email, or sql.ErrNoRows.
func (r *UserRepo) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.get(ctx, `WHERE email = ?`, strings.ToLower(strings.TrimSpace(email)))
}

// GetByID returns the user with the given id, or sql.ErrNoRows.
func (r *UserRepo) GetByID(ctx context.Context, id uint64) (*model.User, error) {
	return r.get(ctx, `WHERE id = ?`, id)
}

func (r *UserRepo) get(ctx context.Context, where string, arg interface{}) (*model.User, error) {
	var u model.User
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, email, password_hash, role, is_active, created_at, updated_at FROM users `+where+` LIMIT 1`,
		arg).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.Role, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &u, nil
}
