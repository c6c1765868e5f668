package authapi

import (
	"errors"
	"net/http"

	"authd/internal/services/passkey"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/google/uuid"
)

type passkeyLoginRequest struct {
	UserID string `json:"userId"`
}

func (s *Server) handlePasskeyBeginRegistration(w http.ResponseWriter, r *http.Request, c claims) {
	options, err := s.passkeys.BeginRegistration(r.Context(), c.UserID, c.FullName, c.Phone)
	if err != nil {
		if errors.Is(err, passkey.ErrUserNotFound) {
			respondError(w, http.StatusNotFound, "user not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	respondJSON(w, http.StatusOK, options)
}

func (s *Server) handlePasskeyCompleteRegistration(w http.ResponseWriter, r *http.Request, c claims) {
	challenge := r.URL.Query().Get("challenge")
	if challenge == "" {
		respondError(w, http.StatusBadRequest, "challenge is required")
		return
	}

	response, err := protocol.ParseCredentialCreationResponseBody(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid attestation response")
		return
	}

	if _, err := s.passkeys.CompleteRegistration(r.Context(), c.UserID, challenge, response); err != nil {
		s.respondPasskeyError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePasskeyBeginLogin(w http.ResponseWriter, r *http.Request) {
	var req passkeyLoginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	userID, err := uuid.Parse(req.UserID)
	if err != nil {
		respondError(w, http.StatusBadRequest, "userId is required")
		return
	}

	options, err := s.passkeys.BeginLogin(r.Context(), userID)
	if err != nil {
		switch {
		case errors.Is(err, passkey.ErrUserNotFound), errors.Is(err, passkey.ErrNoCredentials):
			respondError(w, http.StatusNotFound, "no registered passkeys")
		default:
			respondError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	respondJSON(w, http.StatusOK, options)
}

func (s *Server) handlePasskeyCompleteLogin(w http.ResponseWriter, r *http.Request) {
	challenge := r.URL.Query().Get("challenge")
	if challenge == "" {
		respondError(w, http.StatusBadRequest, "challenge is required")
		return
	}

	response, err := protocol.ParseCredentialRequestResponseBody(r.Body)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid assertion response")
		return
	}

	if _, err := s.passkeys.CompleteLogin(r.Context(), challenge, response); err != nil {
		s.respondPasskeyError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) respondPasskeyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, passkey.ErrChallengeConsumed):
		respondError(w, http.StatusConflict, "challenge expired or already used")
	case errors.Is(err, passkey.ErrCredentialNotFound):
		respondError(w, http.StatusNotFound, "unknown credential")
	case errors.Is(err, passkey.ErrUserNotFound):
		respondError(w, http.StatusNotFound, "user not found")
	case errors.Is(err, passkey.ErrVerificationFailed), errors.Is(err, passkey.ErrClonedCredential):
		respondError(w, http.StatusBadRequest, "ceremony verification failed")
	default:
		respondError(w, http.StatusInternalServerError, "internal server error")
	}
}
