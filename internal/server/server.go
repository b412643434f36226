//go:generate mockgen -source ./server.go -destination=./mocks/server.go -package=mock_server
package server

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/library/internal/auth"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/idempotency"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/metrics"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/storage"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const shutdownTimeout = 30 * time.Second

type Storage interface {
	RegisterUser(ctx context.Context, in storage.RegisterInput) (*storage.User, error)
	Authenticate(ctx context.Context, login, password string) (*storage.User, error)
	GetUser(ctx context.Context, id int64) (*storage.User, error)
	UpdateProfile(ctx context.Context, upd storage.ProfileUpdate) (*storage.User, error)

	ListBooks(ctx context.Context, q storage.BookQuery) (storage.PaginatedList[storage.Book], error)
	GetBook(ctx context.Context, id int64) (*storage.Book, error)
	AddBook(ctx context.Context, book storage.Book) (*storage.Book, error)
	UpdateBook(ctx context.Context, book storage.Book) (*storage.Book, error)
	DeleteBook(ctx context.Context, id int64) error

	ListCategories(ctx context.Context) ([]storage.Category, error)
	GetCategory(ctx context.Context, id int64) (*storage.Category, error)
	AddCategory(ctx context.Context, name string) (*storage.Category, error)
	UpdateCategory(ctx context.Context, category storage.Category) (*storage.Category, error)
	DeleteCategory(ctx context.Context, id int64) error

	CreateOrder(ctx context.Context, bookID int64, quantity int, userID int64) (*storage.Order, error)
	UpdateOrder(ctx context.Context, upd storage.OrderUpdate) (*storage.Order, error)
	DeleteOrder(ctx context.Context, orderID int64) error
	ApproveOrder(ctx context.Context, orderID int64) (*storage.Order, error)
	DenyOrder(ctx context.Context, orderID int64) (*storage.Order, error)
	ReturnOrder(ctx context.Context, orderID int64) (*storage.Order, error)
	GetOrder(ctx context.Context, orderID int64) (*storage.Order, error)
	ListOrders(ctx context.Context, status storage.OrderStatus) ([]storage.Order, error)
	ListUserOrders(ctx context.Context, userID int64) ([]storage.Order, error)
	GetOrderHistory(ctx context.Context, orderID int64) ([]storage.HistoryEntry, error)
}

type Server struct {
	storage      Storage
	idempotency  idempotency.Store
	logger       *zap.Logger
	server       *http.Server
	AuditManager *AuditManager
}

func New(storage Storage, idem idempotency.Store, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		storage:      storage,
		idempotency:  idem,
		logger:       logger,
		AuditManager: NewAuditManager(2, 5, 500*time.Millisecond, logger.Named("audit")),
	}
}

// Run serves HTTP until ctx is cancelled and then shuts the server down.
func (s *Server) Run(ctx context.Context, port string) error {
	s.server = &http.Server{
		Addr:         ":" + port,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.AuditManager.Start(context.WithoutCancel(ctx))

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("HTTP server starting", zap.String("port", port))
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.Shutdown(shutdownCtx)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")

	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}

	s.AuditManager.Shutdown(ctx)
	s.logger.Info("HTTP server shutdown completed")

	return nil
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	app := r.NewRoute().Subrouter()
	app.Use(s.auditLogMiddleware)
	app.HandleFunc("/users/register", s.handleRegister).Methods(http.MethodPost).Name("register")

	api := app.NewRoute().Subrouter()
	api.Use(s.basicAuthMiddleware)

	api.HandleFunc("/me", s.handleGetProfile).Methods(http.MethodGet).Name("getProfile")
	api.HandleFunc("/me", s.handleUpdateProfile).Methods(http.MethodPut).Name("updateProfile")

	api.HandleFunc("/books", s.handleListBooks).Methods(http.MethodGet).Name("listBooks")
	api.HandleFunc("/books", s.handleAddBook).Methods(http.MethodPost).Name("addBook")
	api.HandleFunc("/books/{id:[0-9]+}", s.handleGetBook).Methods(http.MethodGet).Name("getBook")
	api.HandleFunc("/books/{id:[0-9]+}", s.handleUpdateBook).Methods(http.MethodPut).Name("updateBook")
	api.HandleFunc("/books/{id:[0-9]+}", s.handleDeleteBook).Methods(http.MethodDelete).Name("deleteBook")

	api.HandleFunc("/categories", s.handleListCategories).Methods(http.MethodGet).Name("listCategories")
	api.HandleFunc("/categories", s.handleAddCategory).Methods(http.MethodPost).Name("addCategory")
	api.HandleFunc("/categories/{id:[0-9]+}", s.handleGetCategory).Methods(http.MethodGet).Name("getCategory")
	api.HandleFunc("/categories/{id:[0-9]+}", s.handleUpdateCategory).Methods(http.MethodPut).Name("updateCategory")
	api.HandleFunc("/categories/{id:[0-9]+}", s.handleDeleteCategory).Methods(http.MethodDelete).Name("deleteCategory")

	api.HandleFunc("/orders", s.handleCreateOrder).Methods(http.MethodPost).Name("createOrder")
	api.HandleFunc("/orders", s.handleListOrders).Methods(http.MethodGet).Name("listOrders")
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleGetOrder).Methods(http.MethodGet).Name("getOrder")
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleUpdateOrder).Methods(http.MethodPut).Name("updateOrder")
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleDeleteOrder).Methods(http.MethodDelete).Name("deleteOrder")
	api.HandleFunc("/orders/{id:[0-9]+}/approve", s.handleApproveOrder).Methods(http.MethodPost).Name("approveOrder")
	api.HandleFunc("/orders/{id:[0-9]+}/deny", s.handleDenyOrder).Methods(http.MethodPost).Name("denyOrder")
	api.HandleFunc("/orders/{id:[0-9]+}/return", s.handleReturnOrder).Methods(http.MethodPost).Name("returnOrder")
	api.HandleFunc("/orders/{id:[0-9]+}/history", s.handleOrderHistory).Methods(http.MethodGet).Name("orderHistory")
	api.HandleFunc("/cart", s.handleCart).Methods(http.MethodGet).Name("cart")

	return r
}

func (s *Server) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
			respondError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		user, err := s.storage.Authenticate(r.Context(), username, password)
		if err != nil {
			if errors.Is(err, storage.ErrInvalidCredentials) {
				w.Header().Set("WWW-Authenticate", `Basic realm="Restricted"`)
				respondError(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			s.respondStorageError(w, "authenticate", err)
			return
		}

		ctx := auth.WithCaller(r.Context(), auth.Caller{UserID: user.ID, Role: user.Role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if data != nil {
		if err := json.NewEncoder(w).Encode(data); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	}
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func statusFromError(err error) int {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrInsufficientStock),
		errors.Is(err, storage.ErrInvalidTransition),
		errors.Is(err, storage.ErrCartLimitExceeded):
		return http.StatusUnprocessableEntity
	case errors.Is(err, storage.ErrConflict), errors.Is(err, storage.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, storage.ErrInvalidArgument), errors.Is(err, storage.ErrWeakPassword):
		return http.StatusBadRequest
	case errors.Is(err, storage.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, storage.ErrInvalidCredentials):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

// respondStorageError writes the status matching a storage error. Domain
// errors carry user-facing messages; anything else is logged and hidden.
func (s *Server) respondStorageError(w http.ResponseWriter, operation string, err error) {
	status := statusFromError(err)
	if status == http.StatusInternalServerError {
		metrics.OperationErrorsTotal.WithLabelValues(operation).Inc()
		s.logger.Error("Request failed", zap.String("operation", operation), zap.Error(err))
		respondError(w, status, "Internal server error")
		return
	}
	var conflict *storage.ConflictError
	if errors.As(err, &conflict) {
		s.logger.Warn("Concurrent modification", zap.String("operation", operation), zap.NamedError("cause", conflict.Cause))
	}
	respondError(w, status, err.Error())
}

func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func decodeBody(r *http.Request, dst any) error {
	return json.NewDecoder(r.Body).Decode(dst)
}

func callerFrom(r *http.Request) auth.Caller {
	caller, _ := auth.FromContext(r.Context())
	return caller
}
