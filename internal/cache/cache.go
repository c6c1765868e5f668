// Package cache defines the key conventions and sentinel errors for the
// ephemeral secret store. Implementations live in the mongokv and sqlitekv
// subpackages; both guarantee atomic get-and-delete per key.
package cache

import "errors"

// ErrNotFound is returned when a key is absent or its TTL has elapsed. The
// two cases are deliberately indistinguishable.
var ErrNotFound = errors.New("cache: key not found")

// PasskeyChallengeKey builds the key for a serialized ceremony record. The
// challenge is already base64url-encoded by the WebAuthn layer.
func PasskeyChallengeKey(challenge string) string {
	return "passkey-challenge:" + challenge
}

// ResetCodeKey builds the key for a pending password-reset code.
func ResetCodeKey(phone string) string {
	return "reset-code:" + phone
}

// RevokedJWTKey builds the key reserved for access-token blacklisting.
// Nothing populates or consults it yet; logout only revokes the refresh
// token, so issued access tokens stay valid until natural expiry.
func RevokedJWTKey(jti string) string {
	return "revoked-jwt:" + jti
}
