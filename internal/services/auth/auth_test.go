package auth

import (
	"context"
	"log/slog"
	"sync"
	"testing"
	"time"

	"authd/internal/domain/models"
	"authd/internal/storage"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type fakeUserStore struct {
	mu      sync.Mutex
	byID    map[uuid.UUID]*models.User
	byPhone map[string]uuid.UUID
}

func newFakeUserStore() *fakeUserStore {
	return &fakeUserStore{
		byID:    make(map[uuid.UUID]*models.User),
		byPhone: make(map[string]uuid.UUID),
	}
}

func (s *fakeUserStore) SaveUser(_ context.Context, phone, fullName string, passHash []byte) (uuid.UUID, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.byPhone[phone]; ok {
		return uuid.Nil, storage.ErrUserAlreadyExists
	}

	id := uuid.New()
	s.byID[id] = &models.User{
		ID:        id,
		Phone:     phone,
		FullName:  fullName,
		PassHash:  passHash,
		IsActive:  true,
		CreatedAt: time.Now(),
	}
	s.byPhone[phone] = id

	return id, nil
}

func (s *fakeUserStore) UserByPhone(_ context.Context, phone string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byPhone[phone]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	u := *s.byID[id]
	return &u, nil
}

func (s *fakeUserStore) UserByID(_ context.Context, userID uuid.UUID) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return nil, storage.ErrUserNotFound
	}
	c := *u
	return &c, nil
}

func (s *fakeUserStore) UpdatePassword(_ context.Context, userID uuid.UUID, passHash []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return storage.ErrUserNotFound
	}
	u.PassHash = passHash
	return nil
}

func (s *fakeUserStore) UpdateProfile(_ context.Context, userID uuid.UUID, fullName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.byID[userID]
	if !ok {
		return storage.ErrUserNotFound
	}
	u.FullName = fullName
	return nil
}

func (s *fakeUserStore) deactivate(userID uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID[userID].IsActive = false
}

// fakeTokenLedger mirrors the conditional-update rotation contract: revoking
// succeeds only against a record that is still active and unexpired, under a
// single lock, so concurrent rotations race exactly like they do against the
// real storage.
type fakeTokenLedger struct {
	mu     sync.Mutex
	byHash map[string]*models.RefreshToken
}

func newFakeTokenLedger() *fakeTokenLedger {
	return &fakeTokenLedger{byHash: make(map[string]*models.RefreshToken)}
}

func (l *fakeTokenLedger) SaveRefreshToken(_ context.Context, token *models.RefreshToken) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	c := *token
	l.byHash[token.TokenHash] = &c
	return nil
}

func (l *fakeTokenLedger) RotateRefreshToken(_ context.Context, oldHash, newHash string, now time.Time) (*models.RefreshToken, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.byHash[oldHash]
	if !ok || record.IsRevoked() || record.IsExpired(now) {
		return nil, storage.ErrTokenNotActive
	}

	before := *record
	revokedAt := now
	record.RevokedAt = &revokedAt
	record.ReplacedByHash = &newHash

	return &before, nil
}

func (l *fakeTokenLedger) RevokeRefreshToken(_ context.Context, userID uuid.UUID, tokenHash string, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.byHash[tokenHash]
	if !ok || record.UserID != userID || record.IsRevoked() {
		return nil
	}
	revokedAt := now
	record.RevokedAt = &revokedAt
	return nil
}

func (l *fakeTokenLedger) get(hash string) *models.RefreshToken {
	l.mu.Lock()
	defer l.mu.Unlock()

	record, ok := l.byHash[hash]
	if !ok {
		return nil
	}
	c := *record
	return &c
}

type fakeIssuer struct {
	mu    sync.Mutex
	count int
}

func (i *fakeIssuer) GenerateToken(user *models.User, _ map[string]any) (string, string, int64, error) {
	i.mu.Lock()
	i.count++
	i.mu.Unlock()
	return "access-token-" + user.ID.String(), uuid.NewString(), 1800, nil
}

type capturedEvent struct {
	Topic   string
	Payload any
}

type captureBus struct {
	mu     sync.Mutex
	events []capturedEvent
}

func (b *captureBus) Publish(_ context.Context, topic string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, capturedEvent{Topic: topic, Payload: payload})
}

func (b *captureBus) topics() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]string, 0, len(b.events))
	for _, e := range b.events {
		out = append(out, e.Topic)
	}
	return out
}

type fixture struct {
	auth   *Auth
	users  *fakeUserStore
	ledger *fakeTokenLedger
	bus    *captureBus
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	users := newFakeUserStore()
	ledger := newFakeTokenLedger()
	bus := &captureBus{}

	a := New(
		slog.New(slog.DiscardHandler),
		users,
		users,
		users,
		ledger,
		&fakeIssuer{},
		bus,
		24*time.Hour,
		"test-pepper",
	)

	return &fixture{auth: a, users: users, ledger: ledger, bus: bus}
}

func (f *fixture) register(t *testing.T) (*models.User, *models.TokenPair, string) {
	t.Helper()

	phone := gofakeit.Phone()
	password := gofakeit.Password(true, true, true, true, false, 12)

	pair, err := f.auth.Register(context.Background(), gofakeit.Name(), phone, password, "127.0.0.1")
	require.NoError(t, err)

	user, err := f.users.UserByPhone(context.Background(), phone)
	require.NoError(t, err)

	return user, pair, password
}

func TestRegister_HappyPath(t *testing.T) {
	f := newFixture(t)

	user, pair, password := f.register(t)

	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)
	assert.Equal(t, int64(1800), pair.ExpiresInSeconds)
	assert.True(t, user.IsActive)
	assert.NoError(t, bcrypt.CompareHashAndPassword(user.PassHash, []byte(password)))

	record := f.ledger.get(f.auth.hashRefreshToken(pair.RefreshToken))
	require.NotNil(t, record)
	assert.Equal(t, user.ID, record.UserID)
	assert.False(t, record.IsRevoked())

	assert.Contains(t, f.bus.topics(), "user.registered")
}

func TestRegister_DuplicatePhone(t *testing.T) {
	f := newFixture(t)

	user, _, _ := f.register(t)

	_, err := f.auth.Register(context.Background(), gofakeit.Name(), user.Phone, "password1", "127.0.0.1")
	assert.ErrorIs(t, err, ErrUserAlreadyExists)
}

func TestLogin_HappyPath(t *testing.T) {
	f := newFixture(t)

	user, _, password := f.register(t)

	pair, err := f.auth.Login(context.Background(), user.Phone, password, "127.0.0.1")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotEmpty(t, pair.RefreshToken)

	assert.Contains(t, f.bus.topics(), "user.loggedin")
}

func TestLogin_FailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)

	user, _, password := f.register(t)

	_, err := f.auth.Login(context.Background(), user.Phone, "wrong-password", "127.0.0.1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.auth.Login(context.Background(), "+70000000000", "whatever", "127.0.0.1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	f.users.deactivate(user.ID)

	_, err = f.auth.Login(context.Background(), user.Phone, password, "127.0.0.1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRefresh_RotatesToken(t *testing.T) {
	f := newFixture(t)

	user, pair, _ := f.register(t)

	next, err := f.auth.Refresh(context.Background(), pair.RefreshToken, "127.0.0.1")
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, next.RefreshToken)

	oldHash := f.auth.hashRefreshToken(pair.RefreshToken)
	newHash := f.auth.hashRefreshToken(next.RefreshToken)

	old := f.ledger.get(oldHash)
	require.NotNil(t, old)
	assert.True(t, old.IsRevoked())
	require.NotNil(t, old.ReplacedByHash)
	assert.Equal(t, newHash, *old.ReplacedByHash)

	fresh := f.ledger.get(newHash)
	require.NotNil(t, fresh)
	assert.Equal(t, user.ID, fresh.UserID)
	assert.False(t, fresh.IsRevoked())
}

func TestRefresh_ReuseRejected(t *testing.T) {
	f := newFixture(t)

	_, pair, _ := f.register(t)

	_, err := f.auth.Refresh(context.Background(), pair.RefreshToken, "127.0.0.1")
	require.NoError(t, err)

	_, err = f.auth.Refresh(context.Background(), pair.RefreshToken, "127.0.0.1")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRefresh_SingleWinner(t *testing.T) {
	f := newFixture(t)

	_, pair, _ := f.register(t)

	const attempts = 16

	var wg sync.WaitGroup
	results := make(chan error, attempts)

	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.auth.Refresh(context.Background(), pair.RefreshToken, "127.0.0.1")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var wins, losses int
	for err := range results {
		if err == nil {
			wins++
			continue
		}
		assert.ErrorIs(t, err, ErrInvalidRefreshToken)
		losses++
	}

	assert.Equal(t, 1, wins)
	assert.Equal(t, attempts-1, losses)
}

func TestRefresh_ExpiredToken(t *testing.T) {
	f := newFixture(t)

	_, pair, _ := f.register(t)

	f.auth.now = func() time.Time { return time.Now().Add(25 * time.Hour) }

	_, err := f.auth.Refresh(context.Background(), pair.RefreshToken, "127.0.0.1")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRefresh_UnknownToken(t *testing.T) {
	f := newFixture(t)

	_, err := f.auth.Refresh(context.Background(), "never-issued", "127.0.0.1")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestRefresh_InactiveOwner(t *testing.T) {
	f := newFixture(t)

	user, pair, _ := f.register(t)
	f.users.deactivate(user.ID)

	_, err := f.auth.Refresh(context.Background(), pair.RefreshToken, "127.0.0.1")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestLogout_RevokesToken(t *testing.T) {
	f := newFixture(t)

	user, pair, _ := f.register(t)

	require.NoError(t, f.auth.Logout(context.Background(), user.ID, pair.RefreshToken))

	_, err := f.auth.Refresh(context.Background(), pair.RefreshToken, "127.0.0.1")
	assert.ErrorIs(t, err, ErrInvalidRefreshToken)
}

func TestLogout_UnknownTokenIsNoOp(t *testing.T) {
	f := newFixture(t)

	user, _, _ := f.register(t)

	assert.NoError(t, f.auth.Logout(context.Background(), user.ID, "never-issued"))
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)

	user, _, password := f.register(t)

	err := f.auth.ChangePassword(context.Background(), user.ID, "wrong-password", "new-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	require.NoError(t, f.auth.ChangePassword(context.Background(), user.ID, password, "new-password"))

	_, err = f.auth.Login(context.Background(), user.Phone, password, "127.0.0.1")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = f.auth.Login(context.Background(), user.Phone, "new-password", "127.0.0.1")
	assert.NoError(t, err)

	assert.Contains(t, f.bus.topics(), "user.password.changed")
}

func TestChangePassword_UnknownUser(t *testing.T) {
	f := newFixture(t)

	err := f.auth.ChangePassword(context.Background(), uuid.New(), "a", "b")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestUpdateProfile(t *testing.T) {
	f := newFixture(t)

	user, _, _ := f.register(t)

	require.NoError(t, f.auth.UpdateProfile(context.Background(), user.ID, "New Name"))

	updated, err := f.users.UserByID(context.Background(), user.ID)
	require.NoError(t, err)
	assert.Equal(t, "New Name", updated.FullName)

	err = f.auth.UpdateProfile(context.Background(), uuid.New(), "Whoever")
	assert.ErrorIs(t, err, ErrUserNotFound)
}
