package storage

import "errors"

var (
	ErrUserAlreadyExists  = errors.New("user already exists")
	ErrUserNotFound       = errors.New("user not found")
	ErrTokenNotActive     = errors.New("refresh token not active")
	ErrCredentialNotFound = errors.New("passkey credential not found")
)
