package tests

import (
	"net/http"
	"testing"

	"authd/internal/domain/models"
	jwtlib "authd/internal/lib/jwt"
	"authd/tests/suite"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type account struct {
	phone    string
	fullName string
	password string
	pair     models.TokenPair
}

func registerAccount(t *testing.T, s *suite.Suite) *account {
	t.Helper()

	a := &account{
		phone:    gofakeit.Phone(),
		fullName: gofakeit.Name(),
		password: gofakeit.Password(true, true, true, true, false, 12),
	}

	status := s.Post("/api/auth/register", map[string]string{
		"fullName": a.fullName,
		"phone":    a.phone,
		"password": a.password,
	}, "", &a.pair)
	require.Equal(t, http.StatusOK, status)

	return a
}

func TestRegister_ReturnsValidTokenPair(t *testing.T) {
	s := suite.New(t)

	a := registerAccount(t, s)

	require.NotEmpty(t, a.pair.AccessToken)
	require.NotEmpty(t, a.pair.RefreshToken)
	assert.Positive(t, a.pair.ExpiresInSeconds)

	claims, err := jwtlib.ParseToken(a.pair.AccessToken, suite.JWTSecret)
	require.NoError(t, err)
	assert.Equal(t, a.phone, claims["phone"])
	assert.Equal(t, a.fullName, claims["fullname"])
	assert.NotEmpty(t, claims["sub"])
	assert.NotEmpty(t, claims["jti"])
}

func TestRegister_DuplicatePhone(t *testing.T) {
	s := suite.New(t)

	a := registerAccount(t, s)

	status := s.Post("/api/auth/register", map[string]string{
		"fullName": gofakeit.Name(),
		"phone":    a.phone,
		"password": "whatever-else",
	}, "", nil)
	assert.Equal(t, http.StatusConflict, status)
}

func TestRegister_MissingFields(t *testing.T) {
	s := suite.New(t)

	status := s.Post("/api/auth/register", map[string]string{
		"phone": gofakeit.Phone(),
	}, "", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestLogin(t *testing.T) {
	s := suite.New(t)

	a := registerAccount(t, s)

	var pair models.TokenPair
	status := s.Post("/api/auth/login", map[string]string{
		"phone":    a.phone,
		"password": a.password,
	}, "", &pair)
	require.Equal(t, http.StatusOK, status)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
}

func TestLogin_BadCredentials(t *testing.T) {
	s := suite.New(t)

	a := registerAccount(t, s)

	status := s.Post("/api/auth/login", map[string]string{
		"phone":    a.phone,
		"password": "wrong-password",
	}, "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status = s.Post("/api/auth/login", map[string]string{
		"phone":    "+70000000000",
		"password": a.password,
	}, "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestRefresh_RotatesAndRejectsReuse(t *testing.T) {
	s := suite.New(t)

	a := registerAccount(t, s)

	var next models.TokenPair
	status := s.Post("/api/auth/refresh", map[string]string{
		"refreshToken": a.pair.RefreshToken,
	}, "", &next)
	require.Equal(t, http.StatusOK, status)
	assert.NotEqual(t, a.pair.RefreshToken, next.RefreshToken)

	// the presented token was revoked by the rotation
	status = s.Post("/api/auth/refresh", map[string]string{
		"refreshToken": a.pair.RefreshToken,
	}, "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	// the successor still works
	status = s.Post("/api/auth/refresh", map[string]string{
		"refreshToken": next.RefreshToken,
	}, "", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestRefresh_UnknownToken(t *testing.T) {
	s := suite.New(t)

	status := s.Post("/api/auth/refresh", map[string]string{
		"refreshToken": "never-issued",
	}, "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestLogout(t *testing.T) {
	s := suite.New(t)

	a := registerAccount(t, s)

	status := s.Post("/api/auth/logout", map[string]string{
		"refreshToken": a.pair.RefreshToken,
	}, a.pair.AccessToken, nil)
	require.Equal(t, http.StatusNoContent, status)

	status = s.Post("/api/auth/refresh", map[string]string{
		"refreshToken": a.pair.RefreshToken,
	}, "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestLogout_RequiresBearer(t *testing.T) {
	s := suite.New(t)

	a := registerAccount(t, s)

	status := s.Post("/api/auth/logout", map[string]string{
		"refreshToken": a.pair.RefreshToken,
	}, "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status = s.Post("/api/auth/logout", map[string]string{
		"refreshToken": a.pair.RefreshToken,
	}, "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, status)
}

func TestChangePassword(t *testing.T) {
	s := suite.New(t)

	a := registerAccount(t, s)

	status := s.Post("/api/auth/change-password", map[string]string{
		"currentPassword": "wrong-password",
		"newPassword":     "brand-new-password",
	}, a.pair.AccessToken, nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status = s.Post("/api/auth/change-password", map[string]string{
		"currentPassword": a.password,
		"newPassword":     "brand-new-password",
	}, a.pair.AccessToken, nil)
	require.Equal(t, http.StatusNoContent, status)

	status = s.Post("/api/auth/login", map[string]string{
		"phone":    a.phone,
		"password": a.password,
	}, "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status = s.Post("/api/auth/login", map[string]string{
		"phone":    a.phone,
		"password": "brand-new-password",
	}, "", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestUpdateProfile(t *testing.T) {
	s := suite.New(t)

	a := registerAccount(t, s)

	status := s.Put("/api/users/profile", map[string]string{
		"fullName": "Renamed User",
	}, a.pair.AccessToken, nil)
	require.Equal(t, http.StatusNoContent, status)

	// the new name shows up in freshly minted tokens
	var pair models.TokenPair
	status = s.Post("/api/auth/login", map[string]string{
		"phone":    a.phone,
		"password": a.password,
	}, "", &pair)
	require.Equal(t, http.StatusOK, status)

	claims, err := jwtlib.ParseToken(pair.AccessToken, suite.JWTSecret)
	require.NoError(t, err)
	assert.Equal(t, "Renamed User", claims["fullname"])
}
