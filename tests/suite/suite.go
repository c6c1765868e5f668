package suite

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"testing"
	"time"

	"authd/internal/cache/sqlitekv"
	"authd/internal/events/logbus"
	"authd/internal/http/authapi"
	jwtlib "authd/internal/lib/jwt"
	"authd/internal/services/auth"
	"authd/internal/services/passkey"
	"authd/internal/services/reset"
	"authd/internal/storage/sqlite"

	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/stretchr/testify/require"
)

const (
	JWTSecret       = "functional-test-secret"
	refreshPepper   = "functional-test-pepper"
	accessTokenTTL  = 30 * time.Minute
	refreshTokenTTL = 24 * time.Hour
)

// Suite runs the full HTTP surface against an in-memory SQLite backend.
// Reset codes are captured instead of delivered, so tests can complete the
// flow the way a real client would.
type Suite struct {
	T       *testing.T
	Server  *httptest.Server
	Storage *sqlite.Storage
	Codes   *CodeCapture
}

// CodeCapture records reset codes instead of sending them out-of-band.
type CodeCapture struct {
	mu    sync.Mutex
	codes map[string]string
}

func (c *CodeCapture) SendResetCode(_ context.Context, phone string, code string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes[phone] = code
	return nil
}

// Code returns the last code delivered to the phone.
func (c *CodeCapture) Code(phone string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	code, ok := c.codes[phone]
	return code, ok
}

// New builds the full application stack and starts a test server.
func New(t *testing.T) *Suite {
	t.Helper()

	log := slog.New(slog.DiscardHandler)

	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	schema, err := os.ReadFile("../migrations/1_init.up.sql")
	require.NoError(t, err)
	_, err = store.DB().Exec(string(schema))
	require.NoError(t, err)

	secrets := sqlitekv.New(store.DB())
	bus := logbus.New(log)
	issuer := jwtlib.NewIssuer(JWTSecret, "authd", "authd-clients", accessTokenTTL)

	verifier, err := webauthn.New(&webauthn.Config{
		RPDisplayName: "authd",
		RPID:          "localhost",
		RPOrigins:     []string{"http://localhost"},
	})
	require.NoError(t, err)

	codes := &CodeCapture{codes: make(map[string]string)}

	authService := auth.New(log, store, store, store, store, issuer, bus, refreshTokenTTL, refreshPepper)
	passkeyService := passkey.New(log, store, store, secrets, verifier, 5*time.Minute)
	resetService := reset.New(log, store, store, secrets, codes, 10*time.Minute)

	mux := http.NewServeMux()
	authapi.NewServer(log, authService, passkeyService, resetService, JWTSecret).RegisterRoutes(mux)

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &Suite{
		T:       t,
		Server:  server,
		Storage: store,
		Codes:   codes,
	}
}

// Post sends a JSON request and decodes the JSON response body, returning
// the status code. A nil out skips decoding.
func (s *Suite) Post(path string, body any, bearer string, out any) int {
	s.T.Helper()
	return s.do(http.MethodPost, path, body, bearer, out)
}

// Put sends a JSON PUT request.
func (s *Suite) Put(path string, body any, bearer string, out any) int {
	s.T.Helper()
	return s.do(http.MethodPut, path, body, bearer, out)
}

func (s *Suite) do(method, path string, body any, bearer string, out any) int {
	s.T.Helper()

	payload, err := json.Marshal(body)
	require.NoError(s.T, err)

	req, err := http.NewRequest(method, s.Server.URL+path, bytes.NewReader(payload))
	require.NoError(s.T, err)
	req.Header.Set("Content-Type", "application/json")
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := s.Server.Client().Do(req)
	require.NoError(s.T, err)
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		require.NoError(s.T, json.NewDecoder(resp.Body).Decode(out))
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}

	return resp.StatusCode
}
