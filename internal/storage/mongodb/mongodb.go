package mongodb

import (
	"context"
	"errors"
	"fmt"
	"time"

	"authd/internal/domain/models"
	"authd/internal/storage"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

type Storage struct {
	client   *mongo.Client
	database *mongo.Database
	users    *mongo.Collection
	tokens   *mongo.Collection
	passkeys *mongo.Collection
}

type userDoc struct {
	ID        string    `bson:"_id"`
	Phone     string    `bson:"phone"`
	FullName  string    `bson:"full_name"`
	PassHash  []byte    `bson:"pass_hash"`
	IsActive  bool      `bson:"is_active"`
	CreatedAt time.Time `bson:"created_at"`
}

type refreshTokenDoc struct {
	ID             string     `bson:"_id"`
	UserID         string     `bson:"user_id"`
	TokenHash      string     `bson:"token_hash"`
	JwtID          string     `bson:"jwt_id"`
	CreatedAt      time.Time  `bson:"created_at"`
	CreatedByIP    string     `bson:"created_by_ip"`
	ExpiresAt      time.Time  `bson:"expires_at"`
	RevokedAt      *time.Time `bson:"revoked_at,omitempty"`
	ReplacedByHash *string    `bson:"replaced_by_hash,omitempty"`
}

type passkeyDoc struct {
	ID           string     `bson:"_id"`
	UserID       string     `bson:"user_id"`
	CredentialID []byte     `bson:"credential_id"`
	PublicKey    []byte     `bson:"public_key"`
	UserHandle   []byte     `bson:"user_handle"`
	SignCount    uint32     `bson:"sign_count"`
	CredType     string     `bson:"cred_type"`
	AAGUID       []byte     `bson:"aaguid"`
	RegisteredAt time.Time  `bson:"registered_at"`
	LastUsedAt   *time.Time `bson:"last_used_at,omitempty"`
}

// New creates a new MongoDB storage instance and sets up indexes.
func New(ctx context.Context, uri, database string) (*Storage, error) {
	const op = "storage.mongodb.New"

	client, err := mongo.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("%s: connect: %w", op, err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("%s: ping: %w", op, err)
	}

	db := client.Database(database)
	s := &Storage{
		client:   client,
		database: db,
		users:    db.Collection("users"),
		tokens:   db.Collection("refresh_tokens"),
		passkeys: db.Collection("passkey_credentials"),
	}

	if err := s.EnsureIndexes(ctx); err != nil {
		return nil, fmt.Errorf("%s: indexes: %w", op, err)
	}

	return s, nil
}

// EnsureIndexes creates the unique indexes the lifecycle invariants rely on.
// Refresh tokens intentionally carry no TTL index: revoked and expired
// records stay around as the rotation audit trail.
func (s *Storage) EnsureIndexes(ctx context.Context) error {
	// users.phone unique
	_, err := s.users.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "phone", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("users.phone index: %w", err)
	}

	// refresh_tokens.token_hash unique across all tokens ever minted
	_, err = s.tokens.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "token_hash", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("refresh_tokens.token_hash index: %w", err)
	}

	// passkey_credentials.credential_id unique
	_, err = s.passkeys.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "credential_id", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return fmt.Errorf("passkey_credentials.credential_id index: %w", err)
	}

	// passkey_credentials.user_id for allow-list lookups
	_, err = s.passkeys.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "user_id", Value: 1}},
	})
	if err != nil {
		return fmt.Errorf("passkey_credentials.user_id index: %w", err)
	}

	return nil
}

// Close disconnects from MongoDB.
func (s *Storage) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Database exposes the underlying handle so the ephemeral-secret cache and
// the event bus can live in the same database.
func (s *Storage) Database() *mongo.Database {
	return s.database
}

// SaveUser saves a new user and returns the generated user ID.
func (s *Storage) SaveUser(ctx context.Context, phone, fullName string, passHash []byte) (uuid.UUID, error) {
	const op = "storage.mongodb.SaveUser"

	id := uuid.New()
	doc := userDoc{
		ID:        id.String(),
		Phone:     phone,
		FullName:  fullName,
		PassHash:  passHash,
		IsActive:  true,
		CreatedAt: time.Now(),
	}

	_, err := s.users.InsertOne(ctx, doc)
	if err != nil {
		if isDuplicateKeyError(err) {
			return uuid.Nil, fmt.Errorf("%s: %w", op, storage.ErrUserAlreadyExists)
		}
		return uuid.Nil, fmt.Errorf("%s: %w", op, err)
	}

	return id, nil
}

// UserByPhone retrieves a user by phone number.
func (s *Storage) UserByPhone(ctx context.Context, phone string) (*models.User, error) {
	const op = "storage.mongodb.UserByPhone"

	var doc userDoc
	err := s.users.FindOne(ctx, bson.D{{Key: "phone", Value: phone}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return docToUser(doc)
}

// UserByID retrieves a user by ID.
func (s *Storage) UserByID(ctx context.Context, userID uuid.UUID) (*models.User, error) {
	const op = "storage.mongodb.UserByID"

	var doc userDoc
	err := s.users.FindOne(ctx, bson.D{{Key: "_id", Value: userID.String()}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return docToUser(doc)
}

// UpdatePassword replaces the user's password hash.
func (s *Storage) UpdatePassword(ctx context.Context, userID uuid.UUID, passHash []byte) error {
	const op = "storage.mongodb.UpdatePassword"

	res, err := s.users.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: userID.String()}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "pass_hash", Value: passHash}}}},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	return nil
}

// UpdateProfile replaces the user's display name.
func (s *Storage) UpdateProfile(ctx context.Context, userID uuid.UUID, fullName string) error {
	const op = "storage.mongodb.UpdateProfile"

	res, err := s.users.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: userID.String()}},
		bson.D{{Key: "$set", Value: bson.D{{Key: "full_name", Value: fullName}}}},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrUserNotFound)
	}

	return nil
}

// SaveRefreshToken stores a new refresh token record.
func (s *Storage) SaveRefreshToken(ctx context.Context, token *models.RefreshToken) error {
	const op = "storage.mongodb.SaveRefreshToken"

	doc := refreshTokenDoc{
		ID:             token.ID.String(),
		UserID:         token.UserID.String(),
		TokenHash:      token.TokenHash,
		JwtID:          token.JwtID,
		CreatedAt:      token.CreatedAt,
		CreatedByIP:    token.CreatedByIP,
		ExpiresAt:      token.ExpiresAt,
		RevokedAt:      token.RevokedAt,
		ReplacedByHash: token.ReplacedByHash,
	}

	_, err := s.tokens.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// RotateRefreshToken marks the token revoked only if it is still active and
// unexpired, recording its successor hash. The conditional update makes
// concurrent rotations of the same secret single-winner: the filter matches
// at most once, so the loser observes ErrTokenNotActive.
func (s *Storage) RotateRefreshToken(ctx context.Context, oldHash, newHash string, now time.Time) (*models.RefreshToken, error) {
	const op = "storage.mongodb.RotateRefreshToken"

	filter := bson.D{
		{Key: "token_hash", Value: oldHash},
		{Key: "revoked_at", Value: nil},
		{Key: "expires_at", Value: bson.D{{Key: "$gt", Value: now}}},
	}
	update := bson.D{
		{Key: "$set", Value: bson.D{
			{Key: "revoked_at", Value: now},
			{Key: "replaced_by_hash", Value: newHash},
		}},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.Before)

	var doc refreshTokenDoc
	err := s.tokens.FindOneAndUpdate(ctx, filter, update, opts).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrTokenNotActive)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return docToRefreshToken(doc)
}

// RevokeRefreshToken marks the user's token revoked. Revoking a token that
// is already revoked or does not exist is a no-op.
func (s *Storage) RevokeRefreshToken(ctx context.Context, userID uuid.UUID, tokenHash string, now time.Time) error {
	const op = "storage.mongodb.RevokeRefreshToken"

	_, err := s.tokens.UpdateOne(ctx,
		bson.D{
			{Key: "user_id", Value: userID.String()},
			{Key: "token_hash", Value: tokenHash},
			{Key: "revoked_at", Value: nil},
		},
		bson.D{{Key: "$set", Value: bson.D{{Key: "revoked_at", Value: now}}}},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// SavePasskeyCredential stores a newly registered credential.
func (s *Storage) SavePasskeyCredential(ctx context.Context, cred *models.PasskeyCredential) error {
	const op = "storage.mongodb.SavePasskeyCredential"

	doc := passkeyDoc{
		ID:           cred.ID.String(),
		UserID:       cred.UserID.String(),
		CredentialID: cred.CredentialID,
		PublicKey:    cred.PublicKey,
		UserHandle:   cred.UserHandle,
		SignCount:    cred.SignCount,
		CredType:     cred.CredType,
		AAGUID:       cred.AAGUID,
		RegisteredAt: cred.RegisteredAt,
		LastUsedAt:   cred.LastUsedAt,
	}

	_, err := s.passkeys.InsertOne(ctx, doc)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}

	return nil
}

// PasskeyCredentials retrieves all credentials registered by a user.
func (s *Storage) PasskeyCredentials(ctx context.Context, userID uuid.UUID) ([]models.PasskeyCredential, error) {
	const op = "storage.mongodb.PasskeyCredentials"

	cursor, err := s.passkeys.Find(ctx, bson.D{{Key: "user_id", Value: userID.String()}})
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	var docs []passkeyDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	creds := make([]models.PasskeyCredential, 0, len(docs))
	for _, doc := range docs {
		cred, err := docToPasskeyCredential(doc)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", op, err)
		}
		creds = append(creds, *cred)
	}

	return creds, nil
}

// PasskeyCredentialByID retrieves a credential by its raw authenticator ID.
func (s *Storage) PasskeyCredentialByID(ctx context.Context, credentialID []byte) (*models.PasskeyCredential, error) {
	const op = "storage.mongodb.PasskeyCredentialByID"

	var doc passkeyDoc
	err := s.passkeys.FindOne(ctx, bson.D{{Key: "credential_id", Value: credentialID}}).Decode(&doc)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, fmt.Errorf("%s: %w", op, storage.ErrCredentialNotFound)
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cred, err := docToPasskeyCredential(doc)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return cred, nil
}

// UpdatePasskeyCounter persists the authenticator's new sign counter and
// last-used time after a successful assertion.
func (s *Storage) UpdatePasskeyCounter(ctx context.Context, credentialID []byte, signCount uint32, lastUsedAt time.Time) error {
	const op = "storage.mongodb.UpdatePasskeyCounter"

	res, err := s.passkeys.UpdateOne(ctx,
		bson.D{{Key: "credential_id", Value: credentialID}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "sign_count", Value: signCount},
			{Key: "last_used_at", Value: lastUsedAt},
		}}},
	)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", op, storage.ErrCredentialNotFound)
	}

	return nil
}

func docToUser(doc userDoc) (*models.User, error) {
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, err
	}
	return &models.User{
		ID:        id,
		Phone:     doc.Phone,
		FullName:  doc.FullName,
		PassHash:  doc.PassHash,
		IsActive:  doc.IsActive,
		CreatedAt: doc.CreatedAt,
	}, nil
}

func docToRefreshToken(doc refreshTokenDoc) (*models.RefreshToken, error) {
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, err
	}
	userID, err := uuid.Parse(doc.UserID)
	if err != nil {
		return nil, err
	}
	return &models.RefreshToken{
		ID:             id,
		UserID:         userID,
		TokenHash:      doc.TokenHash,
		JwtID:          doc.JwtID,
		CreatedAt:      doc.CreatedAt,
		CreatedByIP:    doc.CreatedByIP,
		ExpiresAt:      doc.ExpiresAt,
		RevokedAt:      doc.RevokedAt,
		ReplacedByHash: doc.ReplacedByHash,
	}, nil
}

func docToPasskeyCredential(doc passkeyDoc) (*models.PasskeyCredential, error) {
	id, err := uuid.Parse(doc.ID)
	if err != nil {
		return nil, err
	}
	userID, err := uuid.Parse(doc.UserID)
	if err != nil {
		return nil, err
	}
	return &models.PasskeyCredential{
		ID:           id,
		UserID:       userID,
		CredentialID: doc.CredentialID,
		PublicKey:    doc.PublicKey,
		UserHandle:   doc.UserHandle,
		SignCount:    doc.SignCount,
		CredType:     doc.CredType,
		AAGUID:       doc.AAGUID,
		RegisteredAt: doc.RegisteredAt,
		LastUsedAt:   doc.LastUsedAt,
	}, nil
}

// isDuplicateKeyError checks if the error is a MongoDB duplicate key error (code 11000).
func isDuplicateKeyError(err error) bool {
	var we mongo.WriteException
	if errors.As(err, &we) {
		for _, e := range we.WriteErrors {
			if e.Code == 11000 {
				return true
			}
		}
	}
	return false
}
