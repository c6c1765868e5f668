package reset

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"authd/internal/cache"
	"authd/internal/domain/models"
	"authd/internal/lib/sl"
	"authd/internal/storage"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Flow implements the one-time-code password reset. Codes are generated
// from a cryptographically secure source, delivered out-of-band and deleted
// only after the password write succeeds, so a transient store failure
// leaves the code valid for retry.
type Flow struct {
	logger    *slog.Logger
	users     UserProvider
	passwords PasswordResetter
	codes     CodeStore
	sender    CodeSender
	codeTTL   time.Duration
}

type UserProvider interface {
	UserByPhone(ctx context.Context, phone string) (user *models.User, err error)
}

type PasswordResetter interface {
	UpdatePassword(ctx context.Context, userID uuid.UUID, passHash []byte) error
}

type CodeStore interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// CodeSender delivers the code through an out-of-band channel. The code
// must never appear in logs or responses.
type CodeSender interface {
	SendResetCode(ctx context.Context, phone string, code string) error
}

var ErrInvalidOrExpired = errors.New("invalid or expired code")

// New returns a new instance of the reset Flow.
func New(
	logger *slog.Logger,
	users UserProvider,
	passwords PasswordResetter,
	codes CodeStore,
	sender CodeSender,
	codeTTL time.Duration,
) *Flow {
	return &Flow{
		logger:    logger,
		users:     users,
		passwords: passwords,
		codes:     codes,
		sender:    sender,
		codeTTL:   codeTTL,
	}
}

// Start generates and delivers a reset code for the phone number. An
// unregistered phone returns successfully with no observable difference.
func (f *Flow) Start(ctx context.Context, phone string) error {
	const op = "reset.Start"
	log := f.logger.With(slog.String("op", op))
	log.Info("reset start request")

	if _, err := f.users.UserByPhone(ctx, phone); err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Info("reset start completed")
			return nil
		}
		log.Error("failed to get user", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	code, err := newResetCode()
	if err != nil {
		log.Error("failed to generate code", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := f.codes.Set(ctx, cache.ResetCodeKey(phone), []byte(code), f.codeTTL); err != nil {
		log.Error("failed to store code", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := f.sender.SendResetCode(ctx, phone, code); err != nil {
		log.Warn("failed to deliver reset code", sl.Err(err))
	}

	log.Info("reset start completed")

	return nil
}

// Complete verifies the code and replaces the password. Absent and
// mismatched codes are indistinguishable; the comparison is constant-time.
func (f *Flow) Complete(ctx context.Context, phone string, code string, newPassword string) error {
	const op = "reset.Complete"
	log := f.logger.With(slog.String("op", op))
	log.Info("reset complete request")

	key := cache.ResetCodeKey(phone)
	saved, err := f.codes.Get(ctx, key)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			log.Warn("no pending code")
			return fmt.Errorf("%s: %w", op, ErrInvalidOrExpired)
		}
		log.Error("failed to get code", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if subtle.ConstantTimeCompare(saved, []byte(code)) != 1 {
		log.Warn("code mismatch")
		return fmt.Errorf("%s: %w", op, ErrInvalidOrExpired)
	}

	user, err := f.users.UserByPhone(ctx, phone)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("user not found", sl.Err(err))
			return fmt.Errorf("%s: %w", op, ErrInvalidOrExpired)
		}
		log.Error("failed to get user", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	passHash, err := bcrypt.GenerateFromPassword([]byte(newPassword), bcrypt.DefaultCost)
	if err != nil {
		log.Error("failed to generate password hash", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := f.passwords.UpdatePassword(ctx, user.ID, passHash); err != nil {
		log.Error("failed to update password", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	if err := f.codes.Delete(ctx, key); err != nil {
		log.Error("failed to delete code", sl.Err(err))
		return fmt.Errorf("%s: %w", op, err)
	}

	log.Info("password reset completed", slog.String("userID", user.ID.String()))

	return nil
}

// newResetCode returns a 6-digit numeric code from a secure random source.
func newResetCode() (string, error) {
	n, err := rand.Int(rand.Reader, big.NewInt(900000))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%06d", n.Int64()+100000), nil
}
