package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gitlab.ozon.dev/pupkingeorgij/library/internal/auth"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/db"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/repository"
)

// BookQuery selects a page of the catalog. Search matches titles; Category and
// Author match substrings of the category name and the author.
type BookQuery struct {
	Search    string
	Category  string
	Author    string
	SortOrder string
	Page      int
	PageSize  int
}

func (s *LibraryStorage) ListBooks(ctx context.Context, q BookQuery) (PaginatedList[Book], error) {
	page := q.Page
	if page < 1 {
		page = 1
	}
	size := q.PageSize
	if size <= 0 {
		size = UserPageSize
		if caller, ok := auth.FromContext(ctx); ok && caller.IsAdmin() {
			size = AdminPageSize
		}
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}

	filter := repository.BookFilter{
		Title:     strings.TrimSpace(q.Search),
		Author:    strings.TrimSpace(q.Author),
		Category:  strings.TrimSpace(q.Category),
		SortOrder: q.SortOrder,
	}
	total, err := s.books.Count(ctx, filter)
	if err != nil {
		return PaginatedList[Book]{}, fmt.Errorf("failed to count books: %w", err)
	}

	filter.Limit = size
	filter.Offset = (page - 1) * size
	repoBooks, err := s.books.List(ctx, filter)
	if err != nil {
		return PaginatedList[Book]{}, fmt.Errorf("failed to list books: %w", err)
	}

	books := make([]Book, len(repoBooks))
	for i, repoBook := range repoBooks {
		books[i] = *bookFromRepo(repoBook)
	}
	return NewPaginatedList(books, total, page, size), nil
}

func (s *LibraryStorage) GetBook(ctx context.Context, id int64) (*Book, error) {
	book, err := s.books.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: book %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get book: %w", err)
	}
	return bookFromRepo(book), nil
}

func (s *LibraryStorage) BookExists(ctx context.Context, id int64) (bool, error) {
	exists, err := s.books.Exists(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to check book: %w", err)
	}
	return exists, nil
}

func (s *LibraryStorage) AddBook(ctx context.Context, book Book) (*Book, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if err := s.validateBook(ctx, &book); err != nil {
		return nil, err
	}

	now := s.now()
	repoBook := bookToRepo(&book)
	repoBook.CreatedAt = now
	repoBook.UpdatedAt = now
	if err := s.books.Create(ctx, repoBook); err != nil {
		return nil, fmt.Errorf("failed to add book: %w", err)
	}
	return s.GetBook(ctx, repoBook.ID)
}

// UpdateBook replaces the book's fields. book.Version must be the version the
// caller read, otherwise ErrConflict.
func (s *LibraryStorage) UpdateBook(ctx context.Context, book Book) (*Book, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	if err := s.validateBook(ctx, &book); err != nil {
		return nil, err
	}

	repoBook := bookToRepo(&book)
	repoBook.UpdatedAt = s.now()
	if err := s.books.Update(ctx, repoBook); err != nil {
		if errors.Is(err, repository.ErrOptimisticLock) {
			exists, existsErr := s.books.Exists(ctx, book.ID)
			if existsErr == nil && !exists {
				return nil, fmt.Errorf("%w: book %d", ErrNotFound, book.ID)
			}
			return nil, asConflict(err)
		}
		if repository.IsCheckViolation(err) {
			return nil, fmt.Errorf("%w: quantity cannot be negative", ErrInvalidArgument)
		}
		return nil, fmt.Errorf("failed to update book: %w", err)
	}
	return s.GetBook(ctx, repoBook.ID)
}

// DeleteBook removes a book that no Pending or Approved order still holds.
func (s *LibraryStorage) DeleteBook(ctx context.Context, id int64) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}

	return s.inTx(ctx, func(tx db.Tx) error {
		if _, err := s.books.GetByIDTx(ctx, tx, id); err != nil {
			if errors.Is(err, repository.ErrObjectNotFound) {
				return fmt.Errorf("%w: book %d", ErrNotFound, id)
			}
			return fmt.Errorf("failed to get book: %w", err)
		}

		active, err := s.orders.CountActiveByBookTx(ctx, tx, id)
		if err != nil {
			return fmt.Errorf("failed to count active orders: %w", err)
		}
		if active > 0 {
			return fmt.Errorf("%w: book %d has %d active orders", ErrConflict, id, active)
		}

		if err := s.books.DeleteTx(ctx, tx, id); err != nil {
			return fmt.Errorf("failed to delete book: %w", err)
		}
		return nil
	})
}

func (s *LibraryStorage) validateBook(ctx context.Context, book *Book) error {
	book.Title = strings.TrimSpace(book.Title)
	book.Author = strings.TrimSpace(book.Author)
	switch {
	case book.Title == "":
		return fmt.Errorf("%w: title is required", ErrInvalidArgument)
	case book.Author == "":
		return fmt.Errorf("%w: author is required", ErrInvalidArgument)
	case book.Quantity < 0:
		return fmt.Errorf("%w: quantity cannot be negative", ErrInvalidArgument)
	}

	exists, err := s.categories.Exists(ctx, book.CategoryID)
	if err != nil {
		return fmt.Errorf("failed to check category: %w", err)
	}
	if !exists {
		return fmt.Errorf("%w: category %d does not exist", ErrInvalidArgument, book.CategoryID)
	}
	return nil
}

func (s *LibraryStorage) ListCategories(ctx context.Context) ([]Category, error) {
	repoCategories, err := s.categories.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}

	categories := make([]Category, len(repoCategories))
	for i, c := range repoCategories {
		categories[i] = Category{ID: c.ID, Name: c.Name}
	}
	return categories, nil
}

func (s *LibraryStorage) GetCategory(ctx context.Context, id int64) (*Category, error) {
	c, err := s.categories.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrObjectNotFound) {
			return nil, fmt.Errorf("%w: category %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get category: %w", err)
	}
	return &Category{ID: c.ID, Name: c.Name}, nil
}

func (s *LibraryStorage) CategoryExists(ctx context.Context, id int64) (bool, error) {
	exists, err := s.categories.Exists(ctx, id)
	if err != nil {
		return false, fmt.Errorf("failed to check category: %w", err)
	}
	return exists, nil
}

func (s *LibraryStorage) AddCategory(ctx context.Context, name string) (*Category, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidArgument)
	}

	c := &repository.Category{Name: name}
	if err := s.categories.Create(ctx, c); err != nil {
		if repository.IsUniqueViolation(err) {
			return nil, fmt.Errorf("%w: category %q", ErrAlreadyExists, name)
		}
		return nil, fmt.Errorf("failed to add category: %w", err)
	}
	return &Category{ID: c.ID, Name: c.Name}, nil
}

func (s *LibraryStorage) UpdateCategory(ctx context.Context, category Category) (*Category, error) {
	if err := requireAdmin(ctx); err != nil {
		return nil, err
	}
	category.Name = strings.TrimSpace(category.Name)
	if category.Name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidArgument)
	}

	err := s.categories.Update(ctx, &repository.Category{ID: category.ID, Name: category.Name})
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrObjectNotFound):
			return nil, fmt.Errorf("%w: category %d", ErrNotFound, category.ID)
		case repository.IsUniqueViolation(err):
			return nil, fmt.Errorf("%w: category %q", ErrAlreadyExists, category.Name)
		}
		return nil, fmt.Errorf("failed to update category: %w", err)
	}
	return &category, nil
}

// DeleteCategory fails with ErrConflict while books still belong to it.
func (s *LibraryStorage) DeleteCategory(ctx context.Context, id int64) error {
	if err := requireAdmin(ctx); err != nil {
		return err
	}

	if err := s.categories.Delete(ctx, id); err != nil {
		switch {
		case errors.Is(err, repository.ErrObjectNotFound):
			return fmt.Errorf("%w: category %d", ErrNotFound, id)
		case repository.IsForeignKeyViolation(err):
			return fmt.Errorf("%w: category %d still has books", ErrConflict, id)
		}
		return fmt.Errorf("failed to delete category: %w", err)
	}
	return nil
}
