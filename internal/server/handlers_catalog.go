package server

import (
	"net/http"
	"strconv"

	"gitlab.ozon.dev/pupkingeorgij/library/internal/storage"
)

func (s *Server) handleListBooks(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	q := storage.BookQuery{
		Search:    query.Get("search"),
		Category:  query.Get("category"),
		Author:    query.Get("author"),
		SortOrder: query.Get("sort"),
	}

	var err error
	if q.Page, err = intParam(query.Get("page")); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid page")
		return
	}
	if q.PageSize, err = intParam(query.Get("page_size")); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid page size")
		return
	}

	page, err := s.storage.ListBooks(r.Context(), q)
	if err != nil {
		s.respondStorageError(w, "listBooks", err)
		return
	}

	respondJSON(w, http.StatusOK, page)
}

func (s *Server) handleGetBook(w http.ResponseWriter, r *http.Request) {
	bookID, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid book ID")
		return
	}

	book, err := s.storage.GetBook(r.Context(), bookID)
	if err != nil {
		s.respondStorageError(w, "getBook", err)
		return
	}

	respondJSON(w, http.StatusOK, book)
}

func (s *Server) handleAddBook(w http.ResponseWriter, r *http.Request) {
	var book storage.Book
	if err := decodeBody(r, &book); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	created, err := s.storage.AddBook(r.Context(), book)
	if err != nil {
		s.respondStorageError(w, "addBook", err)
		return
	}

	respondJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateBook(w http.ResponseWriter, r *http.Request) {
	bookID, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid book ID")
		return
	}

	var book storage.Book
	if err := decodeBody(r, &book); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	book.ID = bookID

	updated, err := s.storage.UpdateBook(r.Context(), book)
	if err != nil {
		s.respondStorageError(w, "updateBook", err)
		return
	}

	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteBook(w http.ResponseWriter, r *http.Request) {
	bookID, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid book ID")
		return
	}

	if err := s.storage.DeleteBook(r.Context(), bookID); err != nil {
		s.respondStorageError(w, "deleteBook", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "Book deleted",
	})
}

func (s *Server) handleListCategories(w http.ResponseWriter, r *http.Request) {
	categories, err := s.storage.ListCategories(r.Context())
	if err != nil {
		s.respondStorageError(w, "listCategories", err)
		return
	}

	respondJSON(w, http.StatusOK, categories)
}

func (s *Server) handleGetCategory(w http.ResponseWriter, r *http.Request) {
	categoryID, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid category ID")
		return
	}

	category, err := s.storage.GetCategory(r.Context(), categoryID)
	if err != nil {
		s.respondStorageError(w, "getCategory", err)
		return
	}

	respondJSON(w, http.StatusOK, category)
}

func (s *Server) handleAddCategory(w http.ResponseWriter, r *http.Request) {
	var categoryRequest struct {
		Name string `json:"name"`
	}
	if err := decodeBody(r, &categoryRequest); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	category, err := s.storage.AddCategory(r.Context(), categoryRequest.Name)
	if err != nil {
		s.respondStorageError(w, "addCategory", err)
		return
	}

	respondJSON(w, http.StatusCreated, category)
}

func (s *Server) handleUpdateCategory(w http.ResponseWriter, r *http.Request) {
	categoryID, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid category ID")
		return
	}

	var category storage.Category
	if err := decodeBody(r, &category); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	category.ID = categoryID

	updated, err := s.storage.UpdateCategory(r.Context(), category)
	if err != nil {
		s.respondStorageError(w, "updateCategory", err)
		return
	}

	respondJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteCategory(w http.ResponseWriter, r *http.Request) {
	categoryID, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid category ID")
		return
	}

	if err := s.storage.DeleteCategory(r.Context(), categoryID); err != nil {
		s.respondStorageError(w, "deleteCategory", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "Category deleted",
	})
}

func intParam(v string) (int, error) {
	if v == "" {
		return 0, nil
	}
	return strconv.Atoi(v)
}
