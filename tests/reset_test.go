package tests

import (
	"net/http"
	"testing"

	"authd/tests/suite"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPasswordReset_FullFlow(t *testing.T) {
	s := suite.New(t)

	a := registerAccount(t, s)

	status := s.Post("/api/auth/forgot-password/start", map[string]string{
		"phone": a.phone,
	}, "", nil)
	require.Equal(t, http.StatusNoContent, status)

	code, ok := s.Codes.Code(a.phone)
	require.True(t, ok)
	require.Len(t, code, 6)

	status = s.Post("/api/auth/forgot-password/verify", map[string]string{
		"phone":       a.phone,
		"code":        code,
		"newPassword": "reset-password",
	}, "", nil)
	require.Equal(t, http.StatusNoContent, status)

	status = s.Post("/api/auth/login", map[string]string{
		"phone":    a.phone,
		"password": a.password,
	}, "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status = s.Post("/api/auth/login", map[string]string{
		"phone":    a.phone,
		"password": "reset-password",
	}, "", nil)
	assert.Equal(t, http.StatusOK, status)
}

func TestPasswordReset_WrongCode(t *testing.T) {
	s := suite.New(t)

	a := registerAccount(t, s)

	status := s.Post("/api/auth/forgot-password/start", map[string]string{
		"phone": a.phone,
	}, "", nil)
	require.Equal(t, http.StatusNoContent, status)

	code, ok := s.Codes.Code(a.phone)
	require.True(t, ok)

	wrong := "000000"
	if wrong == code {
		wrong = "000001"
	}

	status = s.Post("/api/auth/forgot-password/verify", map[string]string{
		"phone":       a.phone,
		"code":        wrong,
		"newPassword": "reset-password",
	}, "", nil)
	assert.Equal(t, http.StatusBadRequest, status)

	// a failed attempt does not consume the code
	status = s.Post("/api/auth/forgot-password/verify", map[string]string{
		"phone":       a.phone,
		"code":        code,
		"newPassword": "reset-password",
	}, "", nil)
	assert.Equal(t, http.StatusNoContent, status)
}

func TestPasswordReset_CodeSingleUse(t *testing.T) {
	s := suite.New(t)

	a := registerAccount(t, s)

	status := s.Post("/api/auth/forgot-password/start", map[string]string{
		"phone": a.phone,
	}, "", nil)
	require.Equal(t, http.StatusNoContent, status)

	code, _ := s.Codes.Code(a.phone)

	status = s.Post("/api/auth/forgot-password/verify", map[string]string{
		"phone":       a.phone,
		"code":        code,
		"newPassword": "first-reset",
	}, "", nil)
	require.Equal(t, http.StatusNoContent, status)

	status = s.Post("/api/auth/forgot-password/verify", map[string]string{
		"phone":       a.phone,
		"code":        code,
		"newPassword": "second-reset",
	}, "", nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestPasswordReset_UnknownPhoneIsSilent(t *testing.T) {
	s := suite.New(t)

	status := s.Post("/api/auth/forgot-password/start", map[string]string{
		"phone": "+70000000000",
	}, "", nil)
	assert.Equal(t, http.StatusNoContent, status)

	_, ok := s.Codes.Code("+70000000000")
	assert.False(t, ok)
}
