package server

import (
	"net/http"

	"gitlab.ozon.dev/pupkingeorgij/library/internal/storage"
)

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var in storage.RegisterInput
	if err := decodeBody(r, &in); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	user, err := s.storage.RegisterUser(r.Context(), in)
	if err != nil {
		s.respondStorageError(w, "register", err)
		return
	}

	respondJSON(w, http.StatusCreated, user)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	user, err := s.storage.GetUser(r.Context(), callerFrom(r).UserID)
	if err != nil {
		s.respondStorageError(w, "getProfile", err)
		return
	}

	respondJSON(w, http.StatusOK, user)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request) {
	var upd storage.ProfileUpdate
	if err := decodeBody(r, &upd); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	upd.UserID = callerFrom(r).UserID

	user, err := s.storage.UpdateProfile(r.Context(), upd)
	if err != nil {
		s.respondStorageError(w, "updateProfile", err)
		return
	}

	respondJSON(w, http.StatusOK, user)
}
