package postgresql

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v4"

	"gitlab.ozon.dev/pupkingeorgij/library/internal/db"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/repository"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/storage"
)

type CategoryRepo struct {
	db db.DB
}

func NewCategoryRepo(db db.DB) storage.CategoryRepository {
	return &CategoryRepo{db: db}
}

func (r *CategoryRepo) List(ctx context.Context) ([]*repository.Category, error) {
	var categories []*repository.Category
	err := r.db.Select(ctx, &categories, "SELECT id, name FROM categories ORDER BY name ASC")
	return categories, err
}

func (r *CategoryRepo) GetByID(ctx context.Context, id int64) (*repository.Category, error) {
	var category repository.Category
	err := r.db.Get(ctx, &category, "SELECT id, name FROM categories WHERE id = $1", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &category, nil
}

func (r *CategoryRepo) Create(ctx context.Context, category *repository.Category) error {
	return r.db.Get(ctx, &category.ID, "INSERT INTO categories (name) VALUES ($1) RETURNING id", category.Name)
}

func (r *CategoryRepo) Update(ctx context.Context, category *repository.Category) error {
	tag, err := r.db.Exec(ctx, "UPDATE categories SET name = $1 WHERE id = $2", category.Name, category.ID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrObjectNotFound
	}
	return nil
}

func (r *CategoryRepo) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, "DELETE FROM categories WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrObjectNotFound
	}
	return nil
}

func (r *CategoryRepo) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.Get(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM categories WHERE id = $1)", id)
	return exists, err
}
