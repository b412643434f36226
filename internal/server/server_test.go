package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"gitlab.ozon.dev/pupkingeorgij/library/internal/auth"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/idempotency"
	mock_server "gitlab.ozon.dev/pupkingeorgij/library/internal/server/mocks"
	"gitlab.ozon.dev/pupkingeorgij/library/internal/storage"
)

const (
	userLogin  = "alice"
	adminLogin = "admin"
	password   = "Secret#123"
)

type testServer struct {
	server  *Server
	handler http.Handler
	storage *mock_server.MockStorage
}

func newTestServer(t *testing.T, logger *zap.Logger) *testServer {
	t.Helper()
	ctrl := gomock.NewController(t)
	mockStorage := mock_server.NewMockStorage(ctrl)

	mockStorage.EXPECT().
		Authenticate(gomock.Any(), userLogin, password).
		Return(&storage.User{ID: 7, Name: userLogin, Role: auth.RoleUser}, nil).
		AnyTimes()
	mockStorage.EXPECT().
		Authenticate(gomock.Any(), adminLogin, password).
		Return(&storage.User{ID: 1, Name: adminLogin, Role: auth.RoleAdmin}, nil).
		AnyTimes()

	srv := New(mockStorage, idempotency.NewMemoryStore(time.Hour), logger)
	srv.AuditManager.Start(context.Background())
	t.Cleanup(func() {
		srv.AuditManager.Shutdown(context.Background())
	})

	return &testServer{server: srv, handler: srv.Handler(), storage: mockStorage}
}

func (ts *testServer) do(method, path, body, login string, headers ...string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if login != "" {
		req.SetBasicAuth(login, password)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rr := httptest.NewRecorder()
	ts.handler.ServeHTTP(rr, req)
	return rr
}

func TestBasicAuthMiddleware(t *testing.T) {
	ts := newTestServer(t, nil)

	t.Run("missing credentials", func(t *testing.T) {
		rr := ts.do(http.MethodGet, "/cart", "", "")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
		assert.Equal(t, `Basic realm="Restricted"`, rr.Header().Get("WWW-Authenticate"))
	})

	t.Run("wrong password", func(t *testing.T) {
		ts.storage.EXPECT().
			Authenticate(gomock.Any(), "mallory", password).
			Return(nil, storage.ErrInvalidCredentials)

		rr := ts.do(http.MethodGet, "/cart", "", "mallory")
		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("storage failure", func(t *testing.T) {
		ts.storage.EXPECT().
			Authenticate(gomock.Any(), "bob", password).
			Return(nil, errors.New("connection refused"))

		rr := ts.do(http.MethodGet, "/cart", "", "bob")
		assert.Equal(t, http.StatusInternalServerError, rr.Code)
		assert.JSONEq(t, `{"error":"Internal server error"}`, rr.Body.String())
	})

	t.Run("caller reaches handler", func(t *testing.T) {
		ts.storage.EXPECT().
			ListUserOrders(gomock.Any(), int64(7)).
			DoAndReturn(func(ctx context.Context, userID int64) ([]storage.Order, error) {
				caller, ok := auth.FromContext(ctx)
				require.True(t, ok)
				assert.Equal(t, auth.Caller{UserID: 7, Role: auth.RoleUser}, caller)
				return []storage.Order{{ID: 3, UserID: 7, Status: storage.StatusPending}}, nil
			})

		rr := ts.do(http.MethodGet, "/cart", "", userLogin)
		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"id":3`)
	})
}

func TestHandleCreateOrder(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		setupMocks     func(m *mock_server.MockStorage)
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "successful creation",
			body: `{"book_id":5,"quantity":2}`,
			setupMocks: func(m *mock_server.MockStorage) {
				m.EXPECT().
					CreateOrder(gomock.Any(), int64(5), 2, int64(7)).
					Return(&storage.Order{ID: 42, BookID: 5, UserID: 7, Quantity: 2, Status: storage.StatusPending}, nil)
			},
			expectedStatus: http.StatusCreated,
			expectedBody:   `"id":42`,
		},
		{
			name:           "invalid body",
			body:           `{"book_id":`,
			setupMocks:     func(m *mock_server.MockStorage) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `Invalid request body`,
		},
		{
			name: "insufficient stock",
			body: `{"book_id":5,"quantity":9}`,
			setupMocks: func(m *mock_server.MockStorage) {
				m.EXPECT().
					CreateOrder(gomock.Any(), int64(5), 9, int64(7)).
					Return(nil, fmt.Errorf("%w: book 5 has 1 left", storage.ErrInsufficientStock))
			},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `insufficient stock`,
		},
		{
			name: "cart full",
			body: `{"book_id":5,"quantity":1}`,
			setupMocks: func(m *mock_server.MockStorage) {
				m.EXPECT().
					CreateOrder(gomock.Any(), int64(5), 1, int64(7)).
					Return(nil, storage.ErrCartLimitExceeded)
			},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `cart limit exceeded`,
		},
		{
			name: "unknown book",
			body: `{"book_id":404,"quantity":1}`,
			setupMocks: func(m *mock_server.MockStorage) {
				m.EXPECT().
					CreateOrder(gomock.Any(), int64(404), 1, int64(7)).
					Return(nil, fmt.Errorf("%w: book 404", storage.ErrNotFound))
			},
			expectedStatus: http.StatusNotFound,
			expectedBody:   `not found: book 404`,
		},
		{
			name: "ordering for someone else",
			body: `{"book_id":5,"quantity":1,"user_id":8}`,
			setupMocks: func(m *mock_server.MockStorage) {
				m.EXPECT().
					CreateOrder(gomock.Any(), int64(5), 1, int64(8)).
					Return(nil, storage.ErrForbidden)
			},
			expectedStatus: http.StatusForbidden,
			expectedBody:   `forbidden`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			tc.setupMocks(ts.storage)

			rr := ts.do(http.MethodPost, "/orders", tc.body, userLogin)

			assert.Equal(t, tc.expectedStatus, rr.Code)
			assert.Contains(t, rr.Body.String(), tc.expectedBody)
		})
	}
}

func TestHandleCreateOrderIdempotency(t *testing.T) {
	t.Run("replay is rejected", func(t *testing.T) {
		ts := newTestServer(t, nil)
		ts.storage.EXPECT().
			CreateOrder(gomock.Any(), int64(5), 1, int64(7)).
			Return(&storage.Order{ID: 42}, nil).
			Times(1)

		first := ts.do(http.MethodPost, "/orders", `{"book_id":5,"quantity":1}`, userLogin, idempotencyHeader, "k-1")
		second := ts.do(http.MethodPost, "/orders", `{"book_id":5,"quantity":1}`, userLogin, idempotencyHeader, "k-1")

		assert.Equal(t, http.StatusCreated, first.Code)
		assert.Equal(t, http.StatusConflict, second.Code)
		assert.JSONEq(t, `{"error":"Duplicate request"}`, second.Body.String())
	})

	t.Run("keys are scoped per user", func(t *testing.T) {
		ts := newTestServer(t, nil)
		ts.storage.EXPECT().
			CreateOrder(gomock.Any(), int64(5), 1, gomock.Any()).
			Return(&storage.Order{ID: 42}, nil).
			Times(2)

		first := ts.do(http.MethodPost, "/orders", `{"book_id":5,"quantity":1}`, userLogin, idempotencyHeader, "k-1")
		second := ts.do(http.MethodPost, "/orders", `{"book_id":5,"quantity":1}`, adminLogin, idempotencyHeader, "k-1")

		assert.Equal(t, http.StatusCreated, first.Code)
		assert.Equal(t, http.StatusCreated, second.Code)
	})

	t.Run("failed request frees the key", func(t *testing.T) {
		ts := newTestServer(t, nil)
		gomock.InOrder(
			ts.storage.EXPECT().
				CreateOrder(gomock.Any(), int64(5), 1, int64(7)).
				Return(nil, storage.ErrConflict),
			ts.storage.EXPECT().
				CreateOrder(gomock.Any(), int64(5), 1, int64(7)).
				Return(&storage.Order{ID: 42}, nil),
		)

		first := ts.do(http.MethodPost, "/orders", `{"book_id":5,"quantity":1}`, userLogin, idempotencyHeader, "k-2")
		retry := ts.do(http.MethodPost, "/orders", `{"book_id":5,"quantity":1}`, userLogin, idempotencyHeader, "k-2")

		assert.Equal(t, http.StatusConflict, first.Code)
		assert.Equal(t, http.StatusCreated, retry.Code)
	})
}

func TestHandleGetOrder(t *testing.T) {
	tests := []struct {
		name           string
		path           string
		setupMocks     func(m *mock_server.MockStorage)
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "order found",
			path: "/orders/42",
			setupMocks: func(m *mock_server.MockStorage) {
				m.EXPECT().
					GetOrder(gomock.Any(), int64(42)).
					Return(&storage.Order{ID: 42, UserID: 7, Status: storage.StatusApproved}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"status":"Approved"`,
		},
		{
			name: "order not found",
			path: "/orders/43",
			setupMocks: func(m *mock_server.MockStorage) {
				m.EXPECT().
					GetOrder(gomock.Any(), int64(43)).
					Return(nil, fmt.Errorf("%w: order 43", storage.ErrNotFound))
			},
			expectedStatus: http.StatusNotFound,
			expectedBody:   `{"error":"not found: order 43"}`,
		},
		{
			name: "order of another user",
			path: "/orders/44",
			setupMocks: func(m *mock_server.MockStorage) {
				m.EXPECT().
					GetOrder(gomock.Any(), int64(44)).
					Return(nil, storage.ErrForbidden)
			},
			expectedStatus: http.StatusForbidden,
			expectedBody:   `{"error":"forbidden"}`,
		},
		{
			name: "storage failure is hidden",
			path: "/orders/45",
			setupMocks: func(m *mock_server.MockStorage) {
				m.EXPECT().
					GetOrder(gomock.Any(), int64(45)).
					Return(nil, errors.New("pq: relation does not exist"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `{"error":"Internal server error"}`,
		},
		{
			name:           "non numeric id",
			path:           "/orders/abc",
			setupMocks:     func(m *mock_server.MockStorage) {},
			expectedStatus: http.StatusNotFound,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			tc.setupMocks(ts.storage)

			rr := ts.do(http.MethodGet, tc.path, "", userLogin)

			assert.Equal(t, tc.expectedStatus, rr.Code)
			switch {
			case tc.expectedBody == "":
			case tc.expectedStatus == http.StatusOK:
				assert.Contains(t, rr.Body.String(), tc.expectedBody)
			default:
				assert.JSONEq(t, tc.expectedBody, rr.Body.String())
			}
		})
	}
}

func TestHandleTransitions(t *testing.T) {
	pending := &storage.Order{ID: 42, UserID: 7, Status: storage.StatusPending}

	tests := []struct {
		name           string
		action         string
		setupMocks     func(m *mock_server.MockStorage)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:   "approve",
			action: "approve",
			setupMocks: func(m *mock_server.MockStorage) {
				m.EXPECT().GetOrder(gomock.Any(), int64(42)).Return(pending, nil)
				m.EXPECT().
					ApproveOrder(gomock.Any(), int64(42)).
					Return(&storage.Order{ID: 42, Status: storage.StatusApproved}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"status":"Approved"`,
		},
		{
			name:   "deny",
			action: "deny",
			setupMocks: func(m *mock_server.MockStorage) {
				m.EXPECT().GetOrder(gomock.Any(), int64(42)).Return(pending, nil)
				m.EXPECT().
					DenyOrder(gomock.Any(), int64(42)).
					Return(&storage.Order{ID: 42, Status: storage.StatusDenied}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `"status":"Denied"`,
		},
		{
			name:   "return of a pending order",
			action: "return",
			setupMocks: func(m *mock_server.MockStorage) {
				m.EXPECT().GetOrder(gomock.Any(), int64(42)).Return(pending, nil)
				m.EXPECT().
					ReturnOrder(gomock.Any(), int64(42)).
					Return(nil, fmt.Errorf("%w: Pending -> Returned", storage.ErrInvalidTransition))
			},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `invalid status transition`,
		},
		{
			name:   "concurrent change",
			action: "approve",
			setupMocks: func(m *mock_server.MockStorage) {
				m.EXPECT().GetOrder(gomock.Any(), int64(42)).Return(pending, nil)
				m.EXPECT().
					ApproveOrder(gomock.Any(), int64(42)).
					Return(nil, storage.ErrConflict)
			},
			expectedStatus: http.StatusConflict,
			expectedBody:   `refresh and retry`,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			ts := newTestServer(t, nil)
			tc.setupMocks(ts.storage)

			rr := ts.do(http.MethodPost, "/orders/42/"+tc.action, "", adminLogin)

			assert.Equal(t, tc.expectedStatus, rr.Code)
			assert.Contains(t, rr.Body.String(), tc.expectedBody)
		})
	}
}

func TestHandleUpdateOrder(t *testing.T) {
	ts := newTestServer(t, nil)
	orderDate := time.Date(2025, 3, 10, 0, 0, 0, 0, time.UTC)

	ts.storage.EXPECT().
		UpdateOrder(gomock.Any(), storage.OrderUpdate{ID: 42, Quantity: 3, OrderDate: orderDate, Version: 2}).
		Return(&storage.Order{ID: 42, Quantity: 3, Version: 3}, nil)

	rr := ts.do(http.MethodPut, "/orders/42", `{"quantity":3,"order_date":"2025-03-10T00:00:00Z","version":2}`, adminLogin)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"version":3`)
}

func TestHandleDeleteOrder(t *testing.T) {
	ts := newTestServer(t, nil)

	ts.storage.EXPECT().DeleteOrder(gomock.Any(), int64(42)).Return(nil)
	ts.storage.EXPECT().
		DeleteOrder(gomock.Any(), int64(43)).
		Return(fmt.Errorf("%w: approved orders must be returned", storage.ErrInvalidTransition))

	rr := ts.do(http.MethodDelete, "/orders/42", "", userLogin)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"message":"Order deleted"}`, rr.Body.String())

	rr = ts.do(http.MethodDelete, "/orders/43", "", userLogin)
	assert.Equal(t, http.StatusUnprocessableEntity, rr.Code)
}

func TestHandleListOrders(t *testing.T) {
	ts := newTestServer(t, nil)

	ts.storage.EXPECT().
		ListOrders(gomock.Any(), storage.StatusPending).
		Return([]storage.Order{{ID: 1, Status: storage.StatusPending}}, nil)
	ts.storage.EXPECT().
		ListOrders(gomock.Any(), storage.OrderStatus("Lost")).
		Return(nil, fmt.Errorf("%w: unknown status %q", storage.ErrInvalidArgument, "Lost"))

	rr := ts.do(http.MethodGet, "/orders?status=Pending", "", adminLogin)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"id":1`)

	rr = ts.do(http.MethodGet, "/orders?status=Lost", "", adminLogin)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestHandleOrderHistory(t *testing.T) {
	ts := newTestServer(t, nil)
	changedAt := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

	ts.storage.EXPECT().
		GetOrderHistory(gomock.Any(), int64(42)).
		Return([]storage.HistoryEntry{
			{Status: "Pending", ChangedAt: changedAt},
			{Status: "Approved", ChangedAt: changedAt.Add(time.Hour)},
		}, nil)

	rr := ts.do(http.MethodGet, "/orders/42/history", "", userLogin)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[
		{"status":"Pending","changed_at":"2025-03-10T12:00:00Z"},
		{"status":"Approved","changed_at":"2025-03-10T13:00:00Z"}
	]`, rr.Body.String())
}

func TestHandleListBooks(t *testing.T) {
	t.Run("query parameters", func(t *testing.T) {
		ts := newTestServer(t, nil)
		ts.storage.EXPECT().
			ListBooks(gomock.Any(), storage.BookQuery{
				Search:    "go",
				Category:  "Tech",
				Author:    "Pike",
				SortOrder: "title_desc",
				Page:      2,
				PageSize:  5,
			}).
			Return(storage.NewPaginatedList([]storage.Book{{ID: 9, Title: "The Go Programming Language"}}, 6, 2, 5), nil)

		rr := ts.do(http.MethodGet, "/books?search=go&category=Tech&author=Pike&sort=title_desc&page=2&page_size=5", "", userLogin)

		assert.Equal(t, http.StatusOK, rr.Code)
		body := rr.Body.String()
		assert.Contains(t, body, `"total_pages":2`)
		assert.Contains(t, body, `"has_previous_page":true`)
		assert.Contains(t, body, `"has_next_page":false`)
	})

	t.Run("invalid page", func(t *testing.T) {
		ts := newTestServer(t, nil)

		rr := ts.do(http.MethodGet, "/books?page=two", "", userLogin)

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.JSONEq(t, `{"error":"Invalid page"}`, rr.Body.String())
	})
}

func TestHandleBookAdministration(t *testing.T) {
	ts := newTestServer(t, nil)

	ts.storage.EXPECT().
		AddBook(gomock.Any(), storage.Book{Title: "Dune", Author: "Herbert", CategoryID: 1, Quantity: 3}).
		Return(&storage.Book{ID: 10, Title: "Dune", Author: "Herbert", CategoryID: 1, Quantity: 3, Version: 1}, nil)
	ts.storage.EXPECT().
		UpdateBook(gomock.Any(), storage.Book{ID: 10, Title: "Dune", Author: "Herbert", CategoryID: 1, Quantity: 4, Version: 1}).
		Return(nil, &storage.ConflictError{Cause: errors.New("could not serialize access due to concurrent update (SQLSTATE 40001)")})
	ts.storage.EXPECT().
		DeleteBook(gomock.Any(), int64(10)).
		Return(storage.ErrForbidden)

	rr := ts.do(http.MethodPost, "/books", `{"title":"Dune","author":"Herbert","category_id":1,"quantity":3}`, adminLogin)
	assert.Equal(t, http.StatusCreated, rr.Code)
	assert.Contains(t, rr.Body.String(), `"id":10`)

	rr = ts.do(http.MethodPut, "/books/10", `{"title":"Dune","author":"Herbert","category_id":1,"quantity":4,"version":1}`, adminLogin)
	assert.Equal(t, http.StatusConflict, rr.Code)
	assert.JSONEq(t, `{"error":"concurrent modification, refresh and retry"}`, rr.Body.String())
	assert.NotContains(t, rr.Body.String(), "SQLSTATE")

	rr = ts.do(http.MethodDelete, "/books/10", "", userLogin)
	assert.Equal(t, http.StatusForbidden, rr.Code)
}

func TestHandleCategories(t *testing.T) {
	ts := newTestServer(t, nil)

	ts.storage.EXPECT().
		ListCategories(gomock.Any()).
		Return([]storage.Category{{ID: 1, Name: "Fiction"}}, nil)
	ts.storage.EXPECT().
		AddCategory(gomock.Any(), "Fiction").
		Return(nil, storage.ErrAlreadyExists)
	ts.storage.EXPECT().
		UpdateCategory(gomock.Any(), storage.Category{ID: 1, Name: "Novels"}).
		Return(&storage.Category{ID: 1, Name: "Novels"}, nil)
	ts.storage.EXPECT().
		DeleteCategory(gomock.Any(), int64(1)).
		Return(storage.ErrConflict)

	rr := ts.do(http.MethodGet, "/categories", "", userLogin)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[{"id":1,"name":"Fiction"}]`, rr.Body.String())

	rr = ts.do(http.MethodPost, "/categories", `{"name":"Fiction"}`, adminLogin)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = ts.do(http.MethodPut, "/categories/1", `{"name":"Novels"}`, adminLogin)
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"id":1,"name":"Novels"}`, rr.Body.String())

	rr = ts.do(http.MethodDelete, "/categories/1", "", adminLogin)
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestHandleAccounts(t *testing.T) {
	t.Run("register without credentials", func(t *testing.T) {
		ts := newTestServer(t, nil)
		ts.storage.EXPECT().
			RegisterUser(gomock.Any(), storage.RegisterInput{Name: "carol", Email: "carol@example.com", Password: password}).
			Return(&storage.User{ID: 12, Name: "carol", Email: "carol@example.com", Role: auth.RoleUser}, nil)

		rr := ts.do(http.MethodPost, "/users/register", `{"name":"carol","email":"carol@example.com","password":"Secret#123"}`, "")

		assert.Equal(t, http.StatusCreated, rr.Code)
		assert.NotContains(t, rr.Body.String(), "password")
	})

	t.Run("weak password", func(t *testing.T) {
		ts := newTestServer(t, nil)
		ts.storage.EXPECT().
			RegisterUser(gomock.Any(), gomock.Any()).
			Return(nil, storage.ErrWeakPassword)

		rr := ts.do(http.MethodPost, "/users/register", `{"name":"carol","email":"carol@example.com","password":"123"}`, "")

		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("profile update uses the caller", func(t *testing.T) {
		ts := newTestServer(t, nil)
		ts.storage.EXPECT().
			UpdateProfile(gomock.Any(), storage.ProfileUpdate{UserID: 7, Name: "alice", Email: "alice@example.com", OldPassword: "bad"}).
			Return(nil, storage.ErrInvalidCredentials)

		rr := ts.do(http.MethodPut, "/me", `{"user_id":99,"name":"alice","email":"alice@example.com","old_password":"bad"}`, userLogin)

		assert.Equal(t, http.StatusUnauthorized, rr.Code)
	})

	t.Run("profile", func(t *testing.T) {
		ts := newTestServer(t, nil)
		ts.storage.EXPECT().
			GetUser(gomock.Any(), int64(7)).
			Return(&storage.User{ID: 7, Name: userLogin, Role: auth.RoleUser}, nil)

		rr := ts.do(http.MethodGet, "/me", "", userLogin)

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"name":"alice"`)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t, nil)

	rr := ts.do(http.MethodGet, "/metrics", "", "")

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "library_orders_created_total")
}

func TestStatusFromError(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{fmt.Errorf("%w: book 1", storage.ErrNotFound), http.StatusNotFound},
		{storage.ErrInsufficientStock, http.StatusUnprocessableEntity},
		{storage.ErrInvalidTransition, http.StatusUnprocessableEntity},
		{storage.ErrCartLimitExceeded, http.StatusUnprocessableEntity},
		{storage.ErrConflict, http.StatusConflict},
		{storage.ErrAlreadyExists, http.StatusConflict},
		{storage.ErrInvalidArgument, http.StatusBadRequest},
		{storage.ErrWeakPassword, http.StatusBadRequest},
		{storage.ErrForbidden, http.StatusForbidden},
		{storage.ErrInvalidCredentials, http.StatusUnauthorized},
		{errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tc := range tests {
		t.Run(tc.err.Error(), func(t *testing.T) {
			assert.Equal(t, tc.status, statusFromError(tc.err))
		})
	}
}

func TestAuditLog(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ts := newTestServer(t, zap.New(core))

	ts.storage.EXPECT().
		RegisterUser(gomock.Any(), gomock.Any()).
		Return(&storage.User{ID: 12, Name: "carol"}, nil)
	ts.storage.EXPECT().
		GetOrder(gomock.Any(), int64(42)).
		Return(&storage.Order{ID: 42, Status: storage.StatusPending}, nil)
	ts.storage.EXPECT().
		ApproveOrder(gomock.Any(), int64(42)).
		Return(&storage.Order{ID: 42, Status: storage.StatusApproved}, nil)

	ts.do(http.MethodPost, "/users/register", `{"name":"carol","email":"carol@example.com","password":"Secret#123"}`, "")
	ts.do(http.MethodPost, "/orders/42/approve", "", adminLogin)
	ts.server.AuditManager.Shutdown(context.Background())

	entries := map[string]map[string]any{}
	for _, logged := range logs.FilterMessage("audit").All() {
		entry, ok := logged.ContextMap()["entry"].(map[string]any)
		require.True(t, ok)
		entries[entry["handler"].(string)] = entry
	}
	require.Len(t, entries, 2)

	register := entries["register"]
	assert.Equal(t, redacted, register["request"])
	assert.EqualValues(t, http.StatusCreated, register["status_code"])

	approve := entries["approveOrder"]
	assert.Equal(t, adminLogin, approve["login"])
	assert.Equal(t, "42", approve["order_id"])
	assert.Equal(t, "Pending", approve["old_status"])
	assert.Equal(t, "Approved", approve["new_status"])
}

func TestAuditLogLargeRequest(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	ts := newTestServer(t, zap.New(core))

	name := strings.Repeat("n", 2*maxAuditBody)
	ts.storage.EXPECT().
		AddCategory(gomock.Any(), name).
		Return(&storage.Category{ID: 3, Name: name}, nil)

	rr := ts.do(http.MethodPost, "/categories", `{"name":"`+name+`"}`, adminLogin)
	assert.Equal(t, http.StatusCreated, rr.Code)

	rr = ts.do(http.MethodPost, "/categories", `{"name":"`+strings.Repeat("x", maxRequestBody)+`"}`, adminLogin)
	assert.Equal(t, http.StatusBadRequest, rr.Code)

	ts.server.AuditManager.Shutdown(context.Background())

	logged := logs.FilterMessage("audit").All()
	require.Len(t, logged, 2)
	for _, l := range logged {
		entry := l.ContextMap()["entry"].(map[string]any)
		request := entry["request"].(string)
		assert.True(t, strings.HasSuffix(request, "...(truncated)"))
		assert.LessOrEqual(t, len(request), maxAuditBody+len("...(truncated)"))
	}
}
