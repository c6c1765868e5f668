package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"authd/internal/domain/models"
	"authd/internal/lib/sl"
	"authd/internal/storage"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

type Auth struct {
	logger          *slog.Logger
	userSaver       UserSaver
	userProvider    UserProvider
	userUpdater     UserUpdater
	tokenLedger     RefreshTokenLedger
	tokenIssuer     TokenIssuer
	events          EventPublisher
	refreshTokenTTL time.Duration
	refreshPepper   string
	now             func() time.Time
}

type UserSaver interface {
	SaveUser(
		ctx context.Context,
		phone string,
		fullName string,
		passHash []byte,
	) (uid uuid.UUID, err error)
}

type UserProvider interface {
	UserByPhone(
		ctx context.Context,
		phone string,
	) (user *models.User, err error)
	UserByID(
		ctx context.Context,
		userID uuid.UUID,
	) (user *models.User, err error)
}

type UserUpdater interface {
	UpdatePassword(ctx context.Context, userID uuid.UUID, passHash []byte) error
	UpdateProfile(ctx context.Context, userID uuid.UUID, fullName string) error
}

// RefreshTokenLedger owns the rotation state machine over refresh-token
// records. RotateRefreshToken must be a conditional update: it marks the
// record revoked only if it is still active and unexpired, so exactly one
// of two concurrent rotations of the same secret can succeed.
type RefreshTokenLedger interface {
	SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error
	RotateRefreshToken(ctx context.Context, oldHash, newHash string, now time.Time) (*models.RefreshToken, error)
	RevokeRefreshToken(ctx context.Context, userID uuid.UUID, tokenHash string, now time.Time) error
}

type TokenIssuer interface {
	GenerateToken(user *models.User, extra map[string]any) (token string, jti string, expiresIn int64, err error)
}

type EventPublisher interface {
	Publish(ctx context.Context, topic string, payload any)
}

var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrUserAlreadyExists   = errors.New("user already exists")
	ErrUserNotFound        = errors.New("user not found")
	ErrInvalidRefreshToken = errors.New("invalid refresh token")
)

// New returns a new instance of the Auth service.
func New(
	logger *slog.Logger,
	userSaver UserSaver,
	userProvider UserProvider,
	userUpdater UserUpdater,
	tokenLedger RefreshTokenLedger,
	tokenIssuer TokenIssuer,
	events EventPublisher,
	refreshTokenTTL time.Duration,
	refreshPepper string,
) *Auth {
	return &Auth{
		logger:          logger,
		userSaver:       userSaver,
		userProvider:    userProvider,
		userUpdater:     userUpdater,
		tokenLedger:     tokenLedger,
		tokenIssuer:     tokenIssuer,
		events:          events,
		refreshTokenTTL: refreshTokenTTL,
		refreshPepper:   refreshPepper,
		now:             time.Now,
	}
}

// Register creates a new user and returns the first token pair.
func (a *Auth) Register(
	ctx context.Context,
	fullName string,
	phone string,
	password string,
	clientIP string,
) (*models.TokenPair, error) {
	const op = "auth.Register"
	log := a.logger.With(
		slog.String("op", op),
		slog.String("phone", phone),
	)
	log.Info("register request")

	passHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		log.Error("failed to generate password hash", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	userID, err := a.userSaver.SaveUser(ctx, phone, fullName, passHash)
	if err != nil {
		if errors.Is(err, storage.ErrUserAlreadyExists) {
			log.Warn("user already exists", sl.Err(err))
			return nil, fmt.Errorf("%s: %w", op, ErrUserAlreadyExists)
		}
		log.Error("failed to save user", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	user := &models.User{
		ID:       userID,
		Phone:    phone,
		FullName: fullName,
		IsActive: true,
	}

	pair, err := a.mint(ctx, user, clientIP)
	if err != nil {
		log.Error("failed to mint token pair", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user registered", slog.String("userID", userID.String()))

	a.events.Publish(ctx, "user.registered", map[string]any{
		"id":       userID.String(),
		"phone":    phone,
		"fullname": fullName,
		"at":       a.now().UTC(),
	})

	return pair, nil
}

// Login authenticates a user by phone and password and returns a token pair.
// User-not-found, inactive account and wrong password are indistinguishable.
func (a *Auth) Login(
	ctx context.Context,
	phone string,
	password string,
	clientIP string,
) (*models.TokenPair, error) {
	const op = "auth.Login"
	log := a.logger.With(slog.String("op", op))
	log.Info("login request")

	user, err := a.userProvider.UserByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("user not found", sl.Err(err))
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
		}
		log.Error("failed to get user", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if !user.IsActive {
		log.Warn("user is not active")
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	if err := bcrypt.CompareHashAndPassword(user.PassHash, []byte(password)); err != nil {
		log.Warn("invalid password", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	pair, err := a.mint(ctx, user, clientIP)
	if err != nil {
		log.Error("failed to mint token pair", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user logged in", slog.String("userID", user.ID.String()))

	a.events.Publish(ctx, "user.loggedin", map[string]any{
		"id":    user.ID.String(),
		"phone": user.Phone,
		"at":    a.now().UTC(),
	})

	return pair, nil
}

// Refresh exchanges a valid refresh token for a new pair (rotation). The
// presented token is revoked first through a conditional update, so two
// concurrent refreshes of the same token cannot both succeed. Any miss,
// expiry or revoked state collapses into ErrInvalidRefreshToken.
func (a *Auth) Refresh(
	ctx context.Context,
	refreshToken string,
	clientIP string,
) (*models.TokenPair, error) {
	const op = "auth.Refresh"
	log := a.logger.With(slog.String("op", op))
	log.Info("refresh request")

	oldHash := a.hashRefreshToken(refreshToken)

	newRaw, err := newRefreshSecret()
	if err != nil {
		log.Error("failed to generate refresh secret", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	newHash := a.hashRefreshToken(newRaw)

	now := a.now()
	old, err := a.tokenLedger.RotateRefreshToken(ctx, oldHash, newHash, now)
	if err != nil {
		if errors.Is(err, storage.ErrTokenNotActive) {
			log.Warn("refresh token not active", sl.Err(err))
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidRefreshToken)
		}
		log.Error("failed to rotate refresh token", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	user, err := a.userProvider.UserByID(ctx, old.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("token owner not found", sl.Err(err))
			return nil, fmt.Errorf("%s: %w", op, ErrInvalidRefreshToken)
		}
		log.Error("failed to get user", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if !user.IsActive {
		log.Warn("token owner is not active")
		return nil, fmt.Errorf("%s: %w", op, ErrInvalidRefreshToken)
	}

	accessToken, jti, expiresIn, err := a.tokenIssuer.GenerateToken(user, nil)
	if err != nil {
		log.Error("failed to generate access token", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := a.tokenLedger.SaveRefreshToken(ctx, &models.RefreshToken{
		ID:          uuid.New(),
		UserID:      user.ID,
		TokenHash:   newHash,
		JwtID:       jti,
		CreatedAt:   now,
		CreatedByIP: clientIP,
		ExpiresAt:   now.Add(a.refreshTokenTTL),
	}); err != nil {
		log.Error("failed to save refresh token", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("tokens refreshed", slog.String("userID", user.ID.String()))

	return &models.TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     newRaw,
		ExpiresInSeconds: expiresIn,
	}, nil
}

// Logout revokes the user's refresh token. Revoking a token that is already
// revoked or does not exist is a silent no-op.
func (a *Auth) Logout(
	ctx context.Context,
	userID uuid.UUID,
	refreshToken string,
) error {
	const op = "auth.Logout"
	log := a.logger.With(slog.String("op", op), slog.String("userID", userID.String()))
	log.Info("logout request")

	tokenHash := a.hashRefreshToken(refreshToken)
	if err := a.tokenLedger.RevokeRefreshToken(ctx, userID, tokenHash, a.now()); err != nil {
		log.Error("failed to revoke refresh token", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("user logged out")

	return nil
}

// ChangePassword replaces the user's password after verifying the current one.
func (a *Auth) ChangePassword(
	ctx context.Context,
	userID uuid.UUID,
	currentPassword string,
	newPassword string,
) error {
	const op = "auth.ChangePassword"
	log := a.logger.With(slog.String("op", op), slog.String("userID", userID.String()))
	log.Info("change password request")

	user, err := a.userProvider.UserByID(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("user not found", sl.Err(err))
			return fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		log.Error("failed to get user", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := bcrypt.CompareHashAndPassword(user.PassHash, []byte(currentPassword)); err != nil {
		log.Warn("invalid current password", sl.Err(err))
		return fmt.Errorf("%s: %w", op, ErrInvalidCredentials)
	}

	passHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		log.Error("failed to generate password hash", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := a.userUpdater.UpdatePassword(ctx, userID, passHash); err != nil {
		log.Error("failed to update password", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("password changed")

	a.events.Publish(ctx, "user.password.changed", map[string]any{
		"id": userID.String(),
		"at": a.now().UTC(),
	})

	return nil
}

// UpdateProfile updates the user's display name.
func (a *Auth) UpdateProfile(
	ctx context.Context,
	userID uuid.UUID,
	fullName string,
) error {
	const op = "auth.UpdateProfile"
	log := a.logger.With(slog.String("op", op), slog.String("userID", userID.String()))
	log.Info("update profile request")

	if err := a.userUpdater.UpdateProfile(ctx, userID, fullName); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("user not found", sl.Err(err))
			return fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		log.Error("failed to update profile", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("profile updated")

	return nil
}

// mint issues an access token and a fresh refresh token for the user,
// persisting the new ledger record bound to the access token's jti.
func (a *Auth) mint(ctx context.Context, user *models.User, clientIP string) (*models.TokenPair, error) {
	accessToken, jti, expiresIn, err := a.tokenIssuer.GenerateToken(user, nil)
	if err != nil {
		return nil, err
	}

	rawToken, err := newRefreshSecret()
	if err != nil {
		return nil, err
	}

	now := a.now()
	if err := a.tokenLedger.SaveRefreshToken(ctx, &models.RefreshToken{
		ID:          uuid.New(),
		UserID:      user.ID,
		TokenHash:   a.hashRefreshToken(rawToken),
		JwtID:       jti,
		CreatedAt:   now,
		CreatedByIP: clientIP,
		ExpiresAt:   now.Add(a.refreshTokenTTL),
	}); err != nil {
		return nil, err
	}

	return &models.TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     rawToken,
		ExpiresInSeconds: expiresIn,
	}, nil
}

// hashRefreshToken computes SHA-256 hash of the token with pepper.
func (a *Auth) hashRefreshToken(token string) string {
	h := sha256.New()
	h.Write([]byte(token + a.refreshPepper))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

// newRefreshSecret generates a cryptographically secure random secret with
// 512 bits of entropy.
func newRefreshSecret() (string, error) {
	bytes := make([]byte, 64)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(bytes), nil
}
