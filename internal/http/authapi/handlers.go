package authapi

import (
	"errors"
	"net/http"

	"authd/internal/services/auth"
	"authd/internal/services/reset"
)

type registerRequest struct {
	FullName string `json:"fullName"`
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type loginRequest struct {
	Phone    string `json:"phone"`
	Password string `json:"password"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

type updateProfileRequest struct {
	FullName string `json:"fullName"`
}

type resetStartRequest struct {
	Phone string `json:"phone"`
}

type resetVerifyRequest struct {
	Phone       string `json:"phone"`
	Code        string `json:"code"`
	NewPassword string `json:"newPassword"`
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Phone == "" {
		respondError(w, http.StatusBadRequest, "phone is required")
		return
	}
	if req.Password == "" {
		respondError(w, http.StatusBadRequest, "password is required")
		return
	}
	if req.FullName == "" {
		respondError(w, http.StatusBadRequest, "fullName is required")
		return
	}

	pair, err := s.auth.Register(r.Context(), req.FullName, req.Phone, req.Password, clientIP(r))
	if err != nil {
		if errors.Is(err, auth.ErrUserAlreadyExists) {
			respondError(w, http.StatusConflict, "phone already registered")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	respondJSON(w, http.StatusOK, pair)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Phone == "" {
		respondError(w, http.StatusBadRequest, "phone is required")
		return
	}
	if req.Password == "" {
		respondError(w, http.StatusBadRequest, "password is required")
		return
	}

	pair, err := s.auth.Login(r.Context(), req.Phone, req.Password, clientIP(r))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidCredentials) {
			respondError(w, http.StatusUnauthorized, "invalid phone or password")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	respondJSON(w, http.StatusOK, pair)
}

func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		respondError(w, http.StatusBadRequest, "refreshToken is required")
		return
	}

	pair, err := s.auth.Refresh(r.Context(), req.RefreshToken, clientIP(r))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidRefreshToken) {
			respondError(w, http.StatusUnauthorized, "invalid refresh token")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	respondJSON(w, http.StatusOK, pair)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request, c claims) {
	var req refreshRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.RefreshToken == "" {
		respondError(w, http.StatusBadRequest, "refreshToken is required")
		return
	}

	if err := s.auth.Logout(r.Context(), c.UserID, req.RefreshToken); err != nil {
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleChangePassword(w http.ResponseWriter, r *http.Request, c claims) {
	var req changePasswordRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.CurrentPassword == "" {
		respondError(w, http.StatusBadRequest, "currentPassword is required")
		return
	}
	if req.NewPassword == "" {
		respondError(w, http.StatusBadRequest, "newPassword is required")
		return
	}

	if err := s.auth.ChangePassword(r.Context(), c.UserID, req.CurrentPassword, req.NewPassword); err != nil {
		switch {
		case errors.Is(err, auth.ErrInvalidCredentials):
			respondError(w, http.StatusUnauthorized, "invalid current password")
		case errors.Is(err, auth.ErrUserNotFound):
			respondError(w, http.StatusNotFound, "user not found")
		default:
			respondError(w, http.StatusInternalServerError, "internal server error")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUpdateProfile(w http.ResponseWriter, r *http.Request, c claims) {
	var req updateProfileRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.FullName == "" {
		respondError(w, http.StatusBadRequest, "fullName is required")
		return
	}

	if err := s.auth.UpdateProfile(r.Context(), c.UserID, req.FullName); err != nil {
		if errors.Is(err, auth.ErrUserNotFound) {
			respondError(w, http.StatusNotFound, "user not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResetStart(w http.ResponseWriter, r *http.Request) {
	var req resetStartRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Phone == "" {
		respondError(w, http.StatusBadRequest, "phone is required")
		return
	}

	if err := s.reset.Start(r.Context(), req.Phone); err != nil {
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleResetVerify(w http.ResponseWriter, r *http.Request) {
	var req resetVerifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Phone == "" {
		respondError(w, http.StatusBadRequest, "phone is required")
		return
	}
	if req.Code == "" {
		respondError(w, http.StatusBadRequest, "code is required")
		return
	}
	if req.NewPassword == "" {
		respondError(w, http.StatusBadRequest, "newPassword is required")
		return
	}

	if err := s.reset.Complete(r.Context(), req.Phone, req.Code, req.NewPassword); err != nil {
		if errors.Is(err, reset.ErrInvalidOrExpired) {
			respondError(w, http.StatusBadRequest, "invalid or expired code")
			return
		}
		respondError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
