package authapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"authd/internal/domain/models"
	jwtlib "authd/internal/lib/jwt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/google/uuid"
)

type Auth interface {
	Register(ctx context.Context, fullName, phone, password, clientIP string) (*models.TokenPair, error)
	Login(ctx context.Context, phone, password, clientIP string) (*models.TokenPair, error)
	Refresh(ctx context.Context, refreshToken, clientIP string) (*models.TokenPair, error)
	Logout(ctx context.Context, userID uuid.UUID, refreshToken string) error
	ChangePassword(ctx context.Context, userID uuid.UUID, currentPassword, newPassword string) error
	UpdateProfile(ctx context.Context, userID uuid.UUID, fullName string) error
}

type Passkeys interface {
	BeginRegistration(ctx context.Context, userID uuid.UUID, displayName, username string) (*protocol.CredentialCreation, error)
	CompleteRegistration(ctx context.Context, userID uuid.UUID, challenge string, response *protocol.ParsedCredentialCreationData) (*models.PasskeyCredential, error)
	BeginLogin(ctx context.Context, userID uuid.UUID) (*protocol.CredentialAssertion, error)
	CompleteLogin(ctx context.Context, challenge string, response *protocol.ParsedCredentialAssertionData) (*models.User, error)
}

type Reset interface {
	Start(ctx context.Context, phone string) error
	Complete(ctx context.Context, phone, code, newPassword string) error
}

// Server binds the HTTP API to the credential lifecycle services.
type Server struct {
	logger    *slog.Logger
	auth      Auth
	passkeys  Passkeys
	reset     Reset
	jwtSecret string
}

func NewServer(logger *slog.Logger, auth Auth, passkeys Passkeys, reset Reset, jwtSecret string) *Server {
	return &Server{
		logger:    logger,
		auth:      auth,
		passkeys:  passkeys,
		reset:     reset,
		jwtSecret: jwtSecret,
	}
}

// RegisterRoutes registers the API endpoints on the provided mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)
	mux.HandleFunc("POST /api/auth/refresh", s.handleRefresh)
	mux.HandleFunc("POST /api/auth/logout", s.requireAuth(s.handleLogout))
	mux.HandleFunc("POST /api/auth/change-password", s.requireAuth(s.handleChangePassword))
	mux.HandleFunc("PUT /api/users/profile", s.requireAuth(s.handleUpdateProfile))
	mux.HandleFunc("POST /api/auth/forgot-password/start", s.handleResetStart)
	mux.HandleFunc("POST /api/auth/forgot-password/verify", s.handleResetVerify)
	mux.HandleFunc("POST /api/passkey/attestation/options", s.requireAuth(s.handlePasskeyBeginRegistration))
	mux.HandleFunc("POST /api/passkey/attestation/verify", s.requireAuth(s.handlePasskeyCompleteRegistration))
	mux.HandleFunc("POST /api/passkey/assertion/options", s.handlePasskeyBeginLogin)
	mux.HandleFunc("POST /api/passkey/assertion/verify", s.handlePasskeyCompleteLogin)
}

// claims carries the identity of the authenticated caller, extracted from
// the bearer token.
type claims struct {
	UserID   uuid.UUID
	Phone    string
	FullName string
}

// requireAuth validates the bearer token and passes the caller's claims to
// the handler. Any failure is a bare 401: no detail about which check
// failed leaves the server.
func (s *Server) requireAuth(next func(http.ResponseWriter, *http.Request, claims)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			respondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		parsed, err := jwtlib.ParseToken(token, s.jwtSecret)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		sub, _ := parsed["sub"].(string)
		userID, err := uuid.Parse(sub)
		if err != nil {
			respondError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		phone, _ := parsed["phone"].(string)
		fullName, _ := parsed["fullname"].(string)

		next(w, r, claims{UserID: userID, Phone: phone, FullName: fullName})
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// clientIP extracts the caller's address for refresh-token audit fields.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
