package server

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"gitlab.ozon.dev/pupkingeorgij/library/internal/storage"
)

const idempotencyHeader = "Idempotency-Key"

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var orderRequest struct {
		BookID   int64 `json:"book_id"`
		Quantity int   `json:"quantity"`
		UserID   int64 `json:"user_id"`
	}

	if err := decodeBody(r, &orderRequest); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	caller := callerFrom(r)
	userID := orderRequest.UserID
	if userID == 0 {
		userID = caller.UserID
	}

	var key string
	if header := r.Header.Get(idempotencyHeader); header != "" {
		key = fmt.Sprintf("%d:%s", caller.UserID, header)
		claimed, err := s.idempotency.Claim(r.Context(), key)
		if err != nil {
			s.respondStorageError(w, "idempotency", err)
			return
		}
		if !claimed {
			respondError(w, http.StatusConflict, "Duplicate request")
			return
		}
	}

	order, err := s.storage.CreateOrder(r.Context(), orderRequest.BookID, orderRequest.Quantity, userID)
	if err != nil {
		if key != "" {
			if releaseErr := s.idempotency.Release(context.WithoutCancel(r.Context()), key); releaseErr != nil {
				s.logger.Warn("Failed to release idempotency key", zap.String("key", key), zap.Error(releaseErr))
			}
		}
		s.respondStorageError(w, "createOrder", err)
		return
	}

	respondJSON(w, http.StatusCreated, order)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	order, err := s.storage.GetOrder(r.Context(), orderID)
	if err != nil {
		s.respondStorageError(w, "getOrder", err)
		return
	}

	respondJSON(w, http.StatusOK, order)
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	status := storage.OrderStatus(r.URL.Query().Get("status"))

	orders, err := s.storage.ListOrders(r.Context(), status)
	if err != nil {
		s.respondStorageError(w, "listOrders", err)
		return
	}

	respondJSON(w, http.StatusOK, orders)
}

func (s *Server) handleCart(w http.ResponseWriter, r *http.Request) {
	orders, err := s.storage.ListUserOrders(r.Context(), callerFrom(r).UserID)
	if err != nil {
		s.respondStorageError(w, "cart", err)
		return
	}

	respondJSON(w, http.StatusOK, orders)
}

func (s *Server) handleUpdateOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	var upd storage.OrderUpdate
	if err := decodeBody(r, &upd); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	upd.ID = orderID

	order, err := s.storage.UpdateOrder(r.Context(), upd)
	if err != nil {
		s.respondStorageError(w, "updateOrder", err)
		return
	}

	respondJSON(w, http.StatusOK, order)
}

func (s *Server) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	if err := s.storage.DeleteOrder(r.Context(), orderID); err != nil {
		s.respondStorageError(w, "deleteOrder", err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]string{
		"message": "Order deleted",
	})
}

func (s *Server) handleApproveOrder(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, "approveOrder", s.storage.ApproveOrder)
}

func (s *Server) handleDenyOrder(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, "denyOrder", s.storage.DenyOrder)
}

func (s *Server) handleReturnOrder(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, "returnOrder", s.storage.ReturnOrder)
}

func (s *Server) handleTransition(
	w http.ResponseWriter,
	r *http.Request,
	operation string,
	apply func(context.Context, int64) (*storage.Order, error),
) {
	orderID, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	order, err := apply(r.Context(), orderID)
	if err != nil {
		s.respondStorageError(w, operation, err)
		return
	}

	respondJSON(w, http.StatusOK, order)
}

func (s *Server) handleOrderHistory(w http.ResponseWriter, r *http.Request) {
	orderID, ok := pathID(r)
	if !ok {
		respondError(w, http.StatusBadRequest, "Invalid order ID")
		return
	}

	history, err := s.storage.GetOrderHistory(r.Context(), orderID)
	if err != nil {
		s.respondStorageError(w, "orderHistory", err)
		return
	}

	respondJSON(w, http.StatusOK, history)
}
