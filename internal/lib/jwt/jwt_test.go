package jwt

import (
	"testing"
	"time"

	"authd/internal/domain/models"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func testUser() *models.User {
	return &models.User{
		ID:       uuid.New(),
		Phone:    gofakeit.Phone(),
		FullName: gofakeit.Name(),
		IsActive: true,
	}
}

func TestGenerateToken_Claims(t *testing.T) {
	user := testUser()
	issuer := NewIssuer(testSecret, "authd", "authd-clients", 30*time.Minute)

	token, jti, expiresIn, err := issuer.GenerateToken(user, nil)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.NotEmpty(t, jti)
	assert.Equal(t, int64(1800), expiresIn)

	claims, err := ParseToken(token, testSecret)
	require.NoError(t, err)

	assert.Equal(t, user.ID.String(), claims["sub"])
	assert.Equal(t, jti, claims["jti"])
	assert.Equal(t, user.Phone, claims["phone"])
	assert.Equal(t, user.FullName, claims["fullname"])
	assert.Equal(t, "authd", claims["iss"])
	assert.Equal(t, "authd-clients", claims["aud"])

	iat := int64(claims["iat"].(float64))
	exp := int64(claims["exp"].(float64))
	assert.Equal(t, int64(1800), exp-iat)
}

func TestGenerateToken_UniqueJTI(t *testing.T) {
	user := testUser()
	issuer := NewIssuer(testSecret, "authd", "authd-clients", time.Minute)

	_, jti1, _, err := issuer.GenerateToken(user, nil)
	require.NoError(t, err)
	_, jti2, _, err := issuer.GenerateToken(user, nil)
	require.NoError(t, err)

	assert.NotEqual(t, jti1, jti2)
}

func TestGenerateToken_ExtraClaims(t *testing.T) {
	user := testUser()
	issuer := NewIssuer(testSecret, "authd", "authd-clients", time.Minute)

	token, _, _, err := issuer.GenerateToken(user, map[string]any{"scope": "admin"})
	require.NoError(t, err)

	claims, err := ParseToken(token, testSecret)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims["scope"])
}

func TestParseToken_WrongSecret(t *testing.T) {
	user := testUser()
	issuer := NewIssuer(testSecret, "authd", "authd-clients", time.Minute)

	token, _, _, err := issuer.GenerateToken(user, nil)
	require.NoError(t, err)

	_, err = ParseToken(token, "another-secret")
	assert.Error(t, err)
}

func TestParseToken_Expired(t *testing.T) {
	user := testUser()
	issuer := NewIssuer(testSecret, "authd", "authd-clients", time.Minute)
	issuer.now = func() time.Time { return time.Now().Add(-2 * time.Minute) }

	token, _, _, err := issuer.GenerateToken(user, nil)
	require.NoError(t, err)

	_, err = ParseToken(token, testSecret)
	assert.Error(t, err)
}

func TestParseToken_Garbage(t *testing.T) {
	_, err := ParseToken("not.a.token", testSecret)
	assert.Error(t, err)
}
