package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"authd/internal/domain/models"
	"authd/internal/storage"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	_ "github.com/mattn/go-sqlite3"
)

type Storage struct {
	db *sql.DB
}

// New returns a new instance of the Storage.
func New(storagePath string) (*Storage, error) {
	const op = "storage.sqlite.New"
	db, err := sql.Open("sqlite3", storagePath)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return &Storage{db: db}, nil
}

// Close closes the underlying database handle.
func (s *Storage) Close() error {
	return s.db.Close()
}

// DB exposes the handle for migrations and tests.
func (s *Storage) DB() *sql.DB {
	return s.db
}

func (s *Storage) SaveUser(ctx context.Context, phone, fullName string, passHash []byte) (uuid.UUID, error) {
	const op = "storage.sqlite.SaveUser"

	id := uuid.New()
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO users (id, phone, full_name, pass_hash, is_active, created_at) VALUES (?, ?, ?, ?, 1, ?)",
		id.String(), phone, fullName, passHash, time.Now().UTC(),
	)
	if err != nil {
		var sqliteErr sqlite3.Error
		if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
			return uuid.Nil, fmt.Errorf("%s: %w", op, storage.ErrUserAlreadyExists)
		}
		return uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

func (s *Storage) UserByPhone(ctx context.Context, phone string) (*models.User, error) {
	const op = "storage.sqlite.UserByPhone"

	row := s.db.QueryRowContext(ctx,
		"SELECT id, phone, full_name, pass_hash, is_active, created_at FROM users WHERE phone = ?", phone)
	return scanUser(row, op)
}

func (s *Storage) UserByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	const op = "storage.sqlite.UserByID"

	row := s.db.QueryRowContext(ctx,
		"SELECT id, phone, full_name, pass_hash, is_active, created_at FROM users WHERE id = ?", userID.String())
	return scanUser(row, op)
}

func (s *Storage) UpdatePassword(ctx context.Context, userID uuid.UUID, passHash []byte) error {
	const op = "storage.sqlite.UpdatePassword"

	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET pass_hash = ? WHERE id = ?", passHash, userID.String())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	return nil
}

func (s *Storage) UpdateProfile(ctx context.Context, userID uuid.UUID, fullName string) error {
	const op = "storage.sqlite.UpdateProfile"

	res, err := s.db.ExecContext(ctx,
		"UPDATE users SET full_name = ? WHERE id = ?", fullName, userID.String())
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	return nil
}

func (s *Storage) SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	const op = "storage.sqlite.SaveRefreshToken"

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO refresh_tokens (id, user_id, token_hash, jwt_id, created_at, created_by_ip, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		token.ID.String(), token.UserID.String(), token.TokenHash, token.JwtID,
		token.CreatedAt.UTC(), token.CreatedByIP, token.ExpiresAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// RotateRefreshToken revokes the token only if it is still active and
// unexpired. The conditional UPDATE commits atomically, so exactly one of
// two concurrent rotations of the same secret wins; the loser sees zero
// rows affected and gets ErrTokenNotActive.
func (s *Storage) RotateRefreshToken(ctx context.Context, oldHash, newHash string, now time.Time) (*models.RefreshToken, error) {
	const op = "storage.sqlite.RotateRefreshToken"

	res, err := s.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = ?, replaced_by_hash = ?
		 WHERE token_hash = ? AND revoked_at IS NULL AND expires_at > ?`,
		now.UTC(), newHash, oldHash, now.UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if n == 0 {
		return nil, fmt.Errorf("%s: %w", op, storage.ErrTokenNotActive)
	}

	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, token_hash, jwt_id, created_at, created_by_ip, expires_at, revoked_at, replaced_by_hash
		 FROM refresh_tokens WHERE token_hash = ?`, oldHash)
	return scanRefreshToken(row, op)
}

func (s *Storage) RevokeRefreshToken(ctx context.Context, userID uuid.UUID, tokenHash string, now time.Time) error {
	const op = "storage.sqlite.RevokeRefreshToken"

	_, err := s.db.ExecContext(ctx,
		`UPDATE refresh_tokens SET revoked_at = ?
		 WHERE user_id = ? AND token_hash = ? AND revoked_at IS NULL`,
		now.UTC(), userID.String(), tokenHash,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) SavePasskeyCredential(ctx context.Context, cred *models.PasskeyCredential) error {
	const op = "storage.sqlite.SavePasskeyCredential"

	var lastUsed sql.NullTime
	if cred.LastUsedAt != nil {
		lastUsed = sql.NullTime{Time: cred.LastUsedAt.UTC(), Valid: true}
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO passkey_credentials
		 (id, user_id, credential_id, public_key, user_handle, sign_count, cred_type, aaguid, registered_at, last_used_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		cred.ID.String(), cred.UserID.String(), cred.CredentialID, cred.PublicKey, cred.UserHandle,
		cred.SignCount, cred.CredType, cred.AAGUID, cred.RegisteredAt.UTC(), lastUsed,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

func (s *Storage) PasskeyCredentials(ctx context.Context, userID uuid.UUID) ([]models.PasskeyCredential, error) {
	const op = "storage.sqlite.PasskeyCredentials"

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, user_id, credential_id, public_key, user_handle, sign_count, cred_type, aaguid, registered_at, last_used_at
		 FROM passkey_credentials WHERE user_id = ?`, userID.String())
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var creds []models.PasskeyCredential
	for rows.Next() {
		cred, err := scanPasskeyCredential(rows, op)
		if err != nil {
			return nil, err
		}
		creds = append(creds, *cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return creds, nil
}

func (s *Storage) PasskeyCredentialByID(ctx context.Context, credentialID []byte) (*models.PasskeyCredential, error) {
	const op = "storage.sqlite.PasskeyCredentialByID"

	row := s.db.QueryRowContext(ctx,
		`SELECT id, user_id, credential_id, public_key, user_handle, sign_count, cred_type, aaguid, registered_at, last_used_at
		 FROM passkey_credentials WHERE credential_id = ?`, credentialID)

	cred, err := scanPasskeyCredential(row, op)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrCredentialNotFound)
		}
		return nil, err
	}

	return cred, nil
}

func (s *Storage) UpdatePasskeyCounter(ctx context.Context, credentialID []byte, signCount uint32, lastUsedAt time.Time) error {
	const op = "storage.sqlite.UpdatePasskeyCounter"

	res, err := s.db.ExecContext(ctx,
		"UPDATE passkey_credentials SET sign_count = ?, last_used_at = ? WHERE credential_id = ?",
		signCount, lastUsedAt.UTC(), credentialID,
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrCredentialNotFound)
	}

	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner, op string) (*models.User, error) {
	var (
		id   string
		user models.User
	)
	err := row.Scan(&id, &user.Phone, &user.FullName, &user.PassHash, &user.IsActive, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	user.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &user, nil
}

func scanRefreshToken(row rowScanner, op string) (*models.RefreshToken, error) {
	var (
		id         string
		userID     string
		token      models.RefreshToken
		revokedAt  sql.NullTime
		replacedBy sql.NullString
	)
	err := row.Scan(&id, &userID, &token.TokenHash, &token.JwtID, &token.CreatedAt,
		&token.CreatedByIP, &token.ExpiresAt, &revokedAt, &replacedBy)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrTokenNotActive)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	token.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	token.UserID, err = uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if revokedAt.Valid {
		token.RevokedAt = &revokedAt.Time
	}
	if replacedBy.Valid {
		token.ReplacedByHash = &replacedBy.String
	}

	return &token, nil
}

func scanPasskeyCredential(row rowScanner, op string) (*models.PasskeyCredential, error) {
	var (
		id       string
		userID   string
		cred     models.PasskeyCredential
		lastUsed sql.NullTime
	)
	err := row.Scan(&id, &userID, &cred.CredentialID, &cred.PublicKey, &cred.UserHandle,
		&cred.SignCount, &cred.CredType, &cred.AAGUID, &cred.RegisteredAt, &lastUsed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cred.ID, err = uuid.Parse(id)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cred.UserID, err = uuid.Parse(userID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if lastUsed.Valid {
		cred.LastUsedAt = &lastUsed.Time
	}

	return &cred, nil
}
