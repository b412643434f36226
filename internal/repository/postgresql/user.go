package postgresql

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"

	"gitlab.ozon.dev/pupkingeorgij/library/internal/db"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/repository"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/storage"
)

const userColumns = "id, name, email, password_hash, role, created_at"

type UserRepo struct {
	db db.DB
}

func NewUserRepo(db db.DB) storage.UserRepository {
	return &UserRepo{db: db}
}

func (r *UserRepo) Create(ctx context.Context, user *repository.User) error {
	return r.db.Get(ctx, &user.ID, `
        INSERT INTO users (name, email, password_hash, role, created_at)
        VALUES ($1, $2, $3, $4, $5)
        RETURNING id
    `, user.Name, user.Email, user.PasswordHash, user.Role, user.CreatedAt)
}

func (r *UserRepo) GetByID(ctx context.Context, id int64) (*repository.User, error) {
	return r.getOne(ctx, "SELECT "+userColumns+" FROM users WHERE id = $1", id)
}

// GetByLogin finds a user by email or by name, case-insensitively. An email
// match wins over a name match.
func (r *UserRepo) GetByLogin(ctx context.Context, login string) (*repository.User, error) {
	return r.getOne(ctx, `
        SELECT `+userColumns+` FROM users
        WHERE lower(email) = lower($1) OR lower(name) = lower($1)
        ORDER BY (lower(email) = lower($1)) DESC, id ASC
        LIMIT 1
    `, login)
}

func (r *UserRepo) Update(ctx context.Context, user *repository.User) error {
	tag, err := r.db.Exec(ctx, `
        UPDATE users
        SET
            name = $1,
            email = $2,
            password_hash = $3,
            role = $4
        WHERE id = $5
    `, user.Name, user.Email, user.PasswordHash, user.Role, user.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrObjectNotFound
	}
	return nil
}

func (r *UserRepo) getOne(ctx context.Context, query string, arg interface{}) (*repository.User, error) {
	var user repository.User
	err := r.db.Get(ctx, &user, query, arg)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &user, nil
}
