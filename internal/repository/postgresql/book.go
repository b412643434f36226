package postgresql

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	"github.com/doug-martin/goqu/v9/exp"
	"github.com/jackc/pgx/v4"

	"gitlab.ozon.dev/pupkingeorgij/library/internal/db"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/repository"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/storage"
)

var dialect = goqu.Dialect("postgres")

const bookSelect = `
        SELECT b.id, b.title, b.author, b.category_id, COALESCE(c.name, '') AS category_name,
               b.description, b.picture_url, b.quantity, b.version, b.created_at, b.updated_at
        FROM books b
        LEFT JOIN categories c ON c.id = b.category_id
`

type BookRepo struct {
	db db.DB
}

func NewBookRepo(db db.DB) storage.BookRepository {
	return &BookRepo{db: db}
}

func (r *BookRepo) GetByID(ctx context.Context, id int64) (*repository.Book, error) {
	var book repository.Book
	err := r.db.Get(ctx, &book, bookSelect+" WHERE b.id = $1", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &book, nil
}

// GetByIDTx reads the book and locks its row until the transaction ends.
func (r *BookRepo) GetByIDTx(ctx context.Context, tx db.Tx, id int64) (*repository.Book, error) {
	var book repository.Book
	err := tx.Get(ctx, &book, bookSelect+" WHERE b.id = $1 FOR UPDATE OF b", id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrObjectNotFound
		}
		return nil, err
	}
	return &book, nil
}

func (r *BookRepo) Create(ctx context.Context, book *repository.Book) error {
	book.Version = 1
	return r.db.Get(ctx, &book.ID, `
        INSERT INTO books (
            title, author, category_id, description, picture_url, quantity, version, created_at, updated_at
        ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
        RETURNING id
    `, book.Title, book.Author, book.CategoryID, book.Description, book.PictureURL, book.Quantity, book.Version, book.CreatedAt, book.UpdatedAt)
}

func (r *BookRepo) Update(ctx context.Context, book *repository.Book) error {
	return r.update(ctx, r.db, book)
}

func (r *BookRepo) UpdateTx(ctx context.Context, tx db.Tx, book *repository.Book) error {
	return r.update(ctx, tx, book)
}

// update writes the book only if its version is still the one the caller read
// and bumps book.Version on success.
func (r *BookRepo) update(ctx context.Context, exec executor, book *repository.Book) error {
	var version int64
	err := exec.Get(ctx, &version, `
        UPDATE books
        SET
            title = $1,
            author = $2,
            category_id = $3,
            description = $4,
            picture_url = $5,
            quantity = $6,
            updated_at = $7,
            version = version + 1
        WHERE id = $8 AND version = $9
        RETURNING version
    `, book.Title, book.Author, book.CategoryID, book.Description, book.PictureURL, book.Quantity, book.UpdatedAt, book.ID, book.Version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return repository.ErrOptimisticLock
		}
		return err
	}
	book.Version = version
	return nil
}

func (r *BookRepo) DeleteTx(ctx context.Context, tx db.Tx, id int64) error {
	tag, err := tx.Exec(ctx, "DELETE FROM books WHERE id = $1", id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrObjectNotFound
	}
	return nil
}

func (r *BookRepo) Exists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.Get(ctx, &exists, "SELECT EXISTS(SELECT 1 FROM books WHERE id = $1)", id)
	return exists, err
}

func (r *BookRepo) List(ctx context.Context, filter repository.BookFilter) ([]*repository.Book, error) {
	query, args, err := BuildBookListQuery(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to build book list query: %w", err)
	}

	var books []*repository.Book
	if err := r.db.Select(ctx, &books, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list books: %w", err)
	}
	return books, nil
}

func (r *BookRepo) Count(ctx context.Context, filter repository.BookFilter) (int, error) {
	query, args, err := BuildBookCountQuery(filter)
	if err != nil {
		return 0, fmt.Errorf("failed to build book count query: %w", err)
	}

	var total int
	if err := r.db.Get(ctx, &total, query, args...); err != nil {
		return 0, fmt.Errorf("failed to count books: %w", err)
	}
	return total, nil
}

func BuildBookListQuery(filter repository.BookFilter) (string, []interface{}, error) {
	ds := filteredBooks(filter).
		Select(
			goqu.I("b.id"),
			goqu.I("b.title"),
			goqu.I("b.author"),
			goqu.I("b.category_id"),
			goqu.L("COALESCE(c.name, '')").As("category_name"),
			goqu.I("b.description"),
			goqu.I("b.picture_url"),
			goqu.I("b.quantity"),
			goqu.I("b.version"),
			goqu.I("b.created_at"),
			goqu.I("b.updated_at"),
		).
		Order(bookOrder(filter.SortOrder)...)

	if filter.Limit > 0 {
		ds = ds.Limit(uint(filter.Limit))
	}
	if filter.Offset > 0 {
		ds = ds.Offset(uint(filter.Offset))
	}
	return ds.ToSQL()
}

func BuildBookCountQuery(filter repository.BookFilter) (string, []interface{}, error) {
	return filteredBooks(filter).Select(goqu.COUNT(goqu.Star())).ToSQL()
}

func filteredBooks(filter repository.BookFilter) *goqu.SelectDataset {
	var where []exp.Expression
	if filter.Title != "" {
		where = append(where, goqu.I("b.title").ILike(containsPattern(filter.Title)))
	}
	if filter.Author != "" {
		where = append(where, goqu.I("b.author").ILike(containsPattern(filter.Author)))
	}
	if filter.Category != "" {
		where = append(where, goqu.I("c.name").ILike(containsPattern(filter.Category)))
	}

	return dialect.From(goqu.T("books").As("b")).
		LeftJoin(goqu.T("categories").As("c"), goqu.On(goqu.I("c.id").Eq(goqu.I("b.category_id")))).
		Where(where...).
		Prepared(true)
}

func bookOrder(sortOrder string) []exp.OrderedExpression {
	var primary exp.OrderedExpression
	switch strings.ToLower(sortOrder) {
	case "title_desc":
		primary = goqu.I("b.title").Desc()
	case "author":
		primary = goqu.I("b.author").Asc()
	case "author_desc":
		primary = goqu.I("b.author").Desc()
	case "category":
		primary = goqu.I("c.name").Asc()
	case "category_desc":
		primary = goqu.I("c.name").Desc()
	default:
		primary = goqu.I("b.title").Asc()
	}
	return []exp.OrderedExpression{primary, goqu.I("b.id").Asc()}
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func containsPattern(s string) string {
	return "%" + likeEscaper.Replace(s) + "%"
}
