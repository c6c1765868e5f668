package passkey

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"authd/internal/cache"
	"authd/internal/domain/models"
	"authd/internal/lib/sl"
	"authd/internal/storage"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"
)

// Engine runs the two-phase registration and authentication ceremonies.
// Each Begin persists a single-use challenge record in the ephemeral store;
// each Complete consumes it atomically, so a challenge can never validate
// twice.
type Engine struct {
	logger       *slog.Logger
	userProvider UserProvider
	credentials  CredentialStore
	challenges   ChallengeStore
	verifier     Verifier
	challengeTTL time.Duration
	now          func() time.Time
}

type UserProvider interface {
	UserByID(ctx context.Context, userID uuid.UUID) (*models.User, error)
}

type CredentialStore interface {
	SavePasskeyCredential(ctx context.Context, cred *models.PasskeyCredential) error
	PasskeyCredentials(ctx context.Context, userID uuid.UUID) ([]models.PasskeyCredential, error)
	PasskeyCredentialByID(ctx context.Context, credentialID []byte) (*models.PasskeyCredential, error)
	UpdatePasskeyCounter(ctx context.Context, credentialID []byte, signCount uint32, lastUsedAt time.Time) error
}

// ChallengeStore is the ephemeral secret store. GetDel must be atomic per
// key: of two concurrent completions of one challenge, only one may see the
// record.
type ChallengeStore interface {
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	GetDel(ctx context.Context, key string) ([]byte, error)
}

// Verifier performs the WebAuthn cryptographic checks. *webauthn.WebAuthn
// satisfies it directly.
type Verifier interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
}

var (
	ErrUserNotFound       = errors.New("user not found")
	ErrChallengeConsumed  = errors.New("challenge expired or already consumed")
	ErrCredentialNotFound = errors.New("unknown credential")
	ErrNoCredentials      = errors.New("no registered passkeys")
	ErrVerificationFailed = errors.New("ceremony verification failed")
	ErrClonedCredential   = errors.New("sign counter did not increase")
)

const (
	kindRegistration = "registration"
	kindLogin        = "login"
)

// challengeRecord is the serialized ceremony state stored under the
// challenge key between Begin and Complete.
type challengeRecord struct {
	Kind    string               `json:"kind"`
	UserID  uuid.UUID            `json:"user_id"`
	Session webauthn.SessionData `json:"session"`
}

// New returns a new instance of the ceremony Engine.
func New(
	logger *slog.Logger,
	userProvider UserProvider,
	credentials CredentialStore,
	challenges ChallengeStore,
	verifier Verifier,
	challengeTTL time.Duration,
) *Engine {
	return &Engine{
		logger:       logger,
		userProvider: userProvider,
		credentials:  credentials,
		challenges:   challenges,
		verifier:     verifier,
		challengeTTL: challengeTTL,
		now:          time.Now,
	}
}

// BeginRegistration generates creation options for a new passkey, excluding
// the user's already-registered authenticators, and stores the ceremony
// state under the challenge key.
func (e *Engine) BeginRegistration(
	ctx context.Context,
	userID uuid.UUID,
	displayName string,
	username string,
) (*protocol.CredentialCreation, error) {
	const op = "passkey.BeginRegistration"
	log := e.logger.With(slog.String("op", op), slog.String("userID", userID.String()))
	log.Info("begin registration ceremony")

	cu, err := e.loadCeremonyUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("user not found", sl.Err(err))
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		log.Error("failed to load user", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	cu.displayName = displayName
	cu.username = username

	opts := []webauthn.RegistrationOption{
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			AuthenticatorAttachment: protocol.CrossPlatform,
			UserVerification:        protocol.VerificationPreferred,
		}),
		webauthn.WithConveyancePreference(protocol.PreferNoAttestation),
	}
	if len(cu.credentials) > 0 {
		opts = append(opts, webauthn.WithExclusions(webauthn.Credentials(cu.credentials).CredentialDescriptors()))
	}

	creation, session, err := e.verifier.BeginRegistration(cu, opts...)
	if err != nil {
		log.Error("failed to begin registration", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := e.storeChallenge(ctx, kindRegistration, userID, session); err != nil {
		log.Error("failed to store challenge", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return creation, nil
}

// CompleteRegistration consumes the challenge record, verifies the
// attestation response and persists the new credential. A missing challenge
// key means the ceremony expired or was already consumed; the two are
// indistinguishable. No credential is persisted on verifier failure.
func (e *Engine) CompleteRegistration(
	ctx context.Context,
	userID uuid.UUID,
	challenge string,
	response *protocol.ParsedCredentialCreationData,
) (*models.PasskeyCredential, error) {
	const op = "passkey.CompleteRegistration"
	log := e.logger.With(slog.String("op", op), slog.String("userID", userID.String()))
	log.Info("complete registration ceremony")

	record, err := e.consumeChallenge(ctx, kindRegistration, challenge)
	if err != nil {
		log.Warn("challenge not consumable", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if record.UserID != userID {
		log.Warn("challenge bound to another user")
		return nil, fmt.Errorf("%s: %w", op, ErrChallengeConsumed)
	}

	cu, err := e.loadCeremonyUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		log.Error("failed to load user", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	credential, err := e.verifier.CreateCredential(cu, record.Session, response)
	if err != nil {
		log.Warn("attestation rejected", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, ErrVerificationFailed)
	}

	cred := &models.PasskeyCredential{
		ID:           uuid.New(),
		UserID:       userID,
		CredentialID: credential.ID,
		PublicKey:    credential.PublicKey,
		UserHandle:   cu.WebAuthnID(),
		SignCount:    credential.Authenticator.SignCount,
		CredType:     string(protocol.PublicKeyCredentialType),
		AAGUID:       credential.Authenticator.AAGUID,
		RegisteredAt: e.now(),
	}
	if err := e.credentials.SavePasskeyCredential(ctx, cred); err != nil {
		log.Error("failed to save credential", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("passkey registered")

	return cred, nil
}

// BeginLogin generates assertion options allow-listed to the user's
// registered credentials and stores the ceremony state.
func (e *Engine) BeginLogin(
	ctx context.Context,
	userID uuid.UUID,
) (*protocol.CredentialAssertion, error) {
	const op = "passkey.BeginLogin"
	log := e.logger.With(slog.String("op", op), slog.String("userID", userID.String()))
	log.Info("begin login ceremony")

	cu, err := e.loadCeremonyUser(ctx, userID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			log.Warn("user not found", sl.Err(err))
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		log.Error("failed to load user", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if len(cu.credentials) == 0 {
		log.Warn("user has no passkeys")
		return nil, fmt.Errorf("%s: %w", op, ErrNoCredentials)
	}

	assertion, session, err := e.verifier.BeginLogin(
		cu,
		webauthn.WithUserVerification(protocol.VerificationPreferred),
	)
	if err != nil {
		log.Error("failed to begin login", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	if err := e.storeChallenge(ctx, kindLogin, userID, session); err != nil {
		log.Error("failed to store challenge", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return assertion, nil
}

// CompleteLogin consumes the challenge record, resolves the credential by
// the raw identifier in the response and verifies the assertion. A sign
// counter that fails to increase past a nonzero stored value indicates a
// cloned authenticator and is rejected. On success the new counter and
// last-used time are persisted.
func (e *Engine) CompleteLogin(
	ctx context.Context,
	challenge string,
	response *protocol.ParsedCredentialAssertionData,
) (*models.User, error) {
	const op = "passkey.CompleteLogin"
	log := e.logger.With(slog.String("op", op))
	log.Info("complete login ceremony")

	record, err := e.consumeChallenge(ctx, kindLogin, challenge)
	if err != nil {
		log.Warn("challenge not consumable", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	stored, err := e.credentials.PasskeyCredentialByID(ctx, response.RawID)
	if err != nil {
		if errors.Is(err, storage.ErrCredentialNotFound) {
			log.Warn("credential not found", sl.Err(err))
			return nil, fmt.Errorf("%s: %w", op, ErrCredentialNotFound)
		}
		log.Error("failed to get credential", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	cu, err := e.loadCeremonyUser(ctx, stored.UserID)
	if err != nil {
		if errors.Is(err, storage.ErrUserNotFound) {
			return nil, fmt.Errorf("%s: %w", op, ErrUserNotFound)
		}
		log.Error("failed to load user", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	validated, err := e.verifier.ValidateLogin(cu, record.Session, response)
	if err != nil {
		log.Warn("assertion rejected", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, ErrVerificationFailed)
	}
	if validated.Authenticator.CloneWarning {
		log.Warn("possible cloned authenticator",
			slog.Uint64("storedCount", uint64(stored.SignCount)),
			slog.Uint64("newCount", uint64(validated.Authenticator.SignCount)),
		)
		return nil, fmt.Errorf("%s: %w", op, ErrClonedCredential)
	}

	if err := e.credentials.UpdatePasskeyCounter(ctx, stored.CredentialID, validated.Authenticator.SignCount, e.now()); err != nil {
		log.Error("failed to update sign counter", sl.Err(err))
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	log.Info("passkey login verified", slog.String("userID", stored.UserID.String()))

	return cu.user, nil
}

// storeChallenge persists the ceremony state keyed by the session challenge,
// which go-webauthn already encodes as base64url.
func (e *Engine) storeChallenge(ctx context.Context, kind string, userID uuid.UUID, session *webauthn.SessionData) error {
	payload, err := json.Marshal(challengeRecord{
		Kind:    kind,
		UserID:  userID,
		Session: *session,
	})
	if err != nil {
		return err
	}
	return e.challenges.Set(ctx, cache.PasskeyChallengeKey(session.Challenge), payload, e.challengeTTL)
}

// consumeChallenge atomically fetches and deletes the record. Expired,
// missing, consumed and wrong-kind records all report the same error.
func (e *Engine) consumeChallenge(ctx context.Context, kind string, challenge string) (*challengeRecord, error) {
	payload, err := e.challenges.GetDel(ctx, cache.PasskeyChallengeKey(challenge))
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return nil, ErrChallengeConsumed
		}
		return nil, err
	}

	var record challengeRecord
	if err := json.Unmarshal(payload, &record); err != nil {
		return nil, err
	}
	if record.Kind != kind {
		return nil, ErrChallengeConsumed
	}
	return &record, nil
}

// ceremonyUser adapts a stored user and credentials to webauthn.User.
type ceremonyUser struct {
	user        *models.User
	displayName string
	username    string
	credentials []webauthn.Credential
}

func (u *ceremonyUser) WebAuthnID() []byte {
	return []byte(u.user.ID.String())
}

func (u *ceremonyUser) WebAuthnName() string {
	if u.username != "" {
		return u.username
	}
	return u.user.Phone
}

func (u *ceremonyUser) WebAuthnDisplayName() string {
	if u.displayName != "" {
		return u.displayName
	}
	return u.user.FullName
}

func (u *ceremonyUser) WebAuthnIcon() string {
	return ""
}

func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	return u.credentials
}

func (e *Engine) loadCeremonyUser(ctx context.Context, userID uuid.UUID) (*ceremonyUser, error) {
	user, err := e.userProvider.UserByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	records, err := e.credentials.PasskeyCredentials(ctx, userID)
	if err != nil {
		return nil, err
	}

	credentials := make([]webauthn.Credential, 0, len(records))
	for _, record := range records {
		credentials = append(credentials, webauthn.Credential{
			ID:        record.CredentialID,
			PublicKey: record.PublicKey,
			Authenticator: webauthn.Authenticator{
				AAGUID:    record.AAGUID,
				SignCount: record.SignCount,
			},
		})
	}

	return &ceremonyUser{user: user, credentials: credentials}, nil
}
