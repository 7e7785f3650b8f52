package service

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/user-auth-service/internal/config"
	"github.com/iliyamo/user-auth-service/internal/model"
	q "github.com/iliyamo/user-auth-service/internal/queue"
	"github.com/iliyamo/user-auth-service/internal/repository"
	"github.com/iliyamo/user-auth-service/internal/utils"
)

type memUsers struct {
	mu   sync.Mutex
	byID map[string]model.Identity
	fail error
}

func newMemUsers() *memUsers { return &memUsers{byID: map[string]model.Identity{}} }

func (m *memUsers) Create(_ context.Context, u *model.Identity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return m.fail
	}
	for _, existing := range m.byID {
		if existing.Username == u.Username || existing.Email == u.Email {
			return repository.ErrConflict
		}
	}
	u.ID = uuid.NewString()
	u.CreatedAt = time.Now().UTC()
	u.UpdatedAt = u.CreatedAt
	m.byID[u.ID] = *u
	return nil
}

func (m *memUsers) GetByID(_ context.Context, id string) (model.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return model.Identity{}, m.fail
	}
	u, ok := m.byID[id]
	if !ok {
		return model.Identity{}, repository.ErrNotFound
	}
	return u, nil
}

func (m *memUsers) GetByUsernameOrEmail(_ context.Context, identifier string) (model.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return model.Identity{}, m.fail
	}
	for _, u := range m.byID {
		if u.Username == identifier || u.Email == identifier {
			return u, nil
		}
	}
	return model.Identity{}, repository.ErrNotFound
}

func (m *memUsers) ExistsByUsernameOrEmail(_ context.Context, username, email string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fail != nil {
		return false, m.fail
	}
	for _, u := range m.byID {
		if u.Username == username || u.Email == email {
			return true, nil
		}
	}
	return false, nil
}

func (m *memUsers) UpdatePasswordHash(_ context.Context, id, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.byID[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.PasswordHash = hash
	m.byID[id] = u
	return nil
}

func (m *memUsers) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
}

// memSessions stores digests the same way the real registries do.
type memSessions struct {
	mu   sync.Mutex
	live map[string]string
}

func newMemSessions() *memSessions { return &memSessions{live: map[string]string{}} }

func (m *memSessions) Store(_ context.Context, id, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.live[id] = utils.HashRefreshRaw(token)
	return nil
}

func (m *memSessions) Clear(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.live, id)
	return nil
}

func (m *memSessions) Matches(_ context.Context, id, candidate string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.live[id]
	return ok && h == utils.HashRefreshRaw(candidate), nil
}

func (m *memSessions) Rotate(_ context.Context, id, presented, next string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := m.live[id]
	if !ok || h != utils.HashRefreshRaw(presented) {
		return false, nil
	}
	m.live[id] = utils.HashRefreshRaw(next)
	return true, nil
}

func (m *memSessions) has(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live[id]
	return ok
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []q.SessionEvent
}

func (p *recordingPublisher) Publish(_ context.Context, ev q.SessionEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.Type)
	}
	return out
}

type fixture struct {
	svc      *AuthService
	users    *memUsers
	sessions *memSessions
	events   *recordingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cfg := config.AuthConfig{
		AccessSecret:  "access-secret",
		AccessTTL:     15 * time.Minute,
		RefreshSecret: "refresh-secret",
		RefreshTTL:    240 * time.Hour,
		HashCost:      4,
	}
	hasher, err := utils.NewHasher(cfg.HashCost)
	require.NoError(t, err)
	issuer, err := utils.NewTokenIssuer(cfg, nil)
	require.NoError(t, err)

	f := &fixture{users: newMemUsers(), sessions: newMemSessions(), events: &recordingPublisher{}}
	f.svc = NewAuthService(Deps{
		Users:        f.users,
		Sessions:     f.sessions,
		Hasher:       hasher,
		Issuer:       issuer,
		Verifier:     utils.NewTokenVerifier(cfg, nil),
		Events:       f.events,
		StoreTimeout: time.Second,
	})
	return f
}

func (f *fixture) registerAlice(t *testing.T) model.IdentityView {
	t.Helper()
	v, err := f.svc.Register(context.Background(), RegisterInput{
		Username: "alice",
		Email:    "alice@x.com",
		Password: "s3cretpw",
		FullName: "Alice Liddell",
	})
	require.NoError(t, err)
	return v
}

func TestRegister_NormalizesAndHidesSecrets(t *testing.T) {
	f := newFixture(t)
	v, err := f.svc.Register(context.Background(), RegisterInput{
		Username: "  Alice ",
		Email:    "Alice@X.com",
		Password: "s3cretpw",
		FullName: "Alice Liddell",
	})
	require.NoError(t, err)
	assert.Equal(t, "alice", v.Username)
	assert.Equal(t, "alice@x.com", v.Email)
	assert.NotEmpty(t, v.ID)

	stored, err := f.users.GetByID(context.Background(), v.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "s3cretpw", stored.PasswordHash)
	assert.True(t, strings.HasPrefix(stored.PasswordHash, "$2"))
	assert.False(t, f.sessions.has(v.ID), "registration must not open a session")
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t)
	cases := map[string]RegisterInput{
		"short username": {Username: "al", Email: "a@x.com", Password: "s3cretpw", FullName: "Al"},
		"bad email":      {Username: "alice", Email: "not-an-email", Password: "s3cretpw", FullName: "Alice"},
		"short password": {Username: "alice", Email: "a@x.com", Password: "123", FullName: "Alice"},
		"short name":     {Username: "alice", Email: "a@x.com", Password: "s3cretpw", FullName: "A"},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := f.svc.Register(context.Background(), in)
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrValidation)
			assert.Equal(t, http.StatusBadRequest, HTTPStatus(err))
		})
	}
}

func TestRegister_Conflict(t *testing.T) {
	f := newFixture(t)
	f.registerAlice(t)

	_, err := f.svc.Register(context.Background(), RegisterInput{
		Username: "alice", Email: "other@x.com", Password: "s3cretpw", FullName: "Other",
	})
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, http.StatusConflict, HTTPStatus(err))
}

func TestLogin_ByUsernameAndEmail(t *testing.T) {
	f := newFixture(t)
	alice := f.registerAlice(t)

	for _, id := range []string{"alice", "ALICE@x.com"} {
		res, err := f.svc.Login(context.Background(), id, "s3cretpw")
		require.NoError(t, err, id)
		assert.Equal(t, alice.ID, res.User.ID)
		assert.NotEmpty(t, res.Tokens.AccessToken)
		assert.NotEmpty(t, res.Tokens.RefreshToken)

		ok, err := f.sessions.Matches(context.Background(), alice.ID, res.Tokens.RefreshToken)
		require.NoError(t, err)
		assert.True(t, ok)
	}
}

func TestLogin_FailuresShareMessage(t *testing.T) {
	f := newFixture(t)
	f.registerAlice(t)

	_, wrongPw := f.svc.Login(context.Background(), "alice", "nope-nope")
	_, unknown := f.svc.Login(context.Background(), "bob", "s3cretpw")

	assert.ErrorIs(t, wrongPw, ErrInvalidCredentials)
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(wrongPw))
	assert.ErrorIs(t, unknown, ErrNotFound)
	assert.Equal(t, http.StatusNotFound, HTTPStatus(unknown))
	assert.Equal(t, PublicMessage(wrongPw), PublicMessage(unknown))
}

func TestLogin_ReplacesPreviousSession(t *testing.T) {
	f := newFixture(t)
	f.registerAlice(t)
	ctx := context.Background()

	first, err := f.svc.Login(ctx, "alice", "s3cretpw")
	require.NoError(t, err)
	_, err = f.svc.Login(ctx, "alice", "s3cretpw")
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, first.Tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrSessionRevoked)
}

func TestRefresh_RotatesOnce(t *testing.T) {
	f := newFixture(t)
	alice := f.registerAlice(t)
	ctx := context.Background()

	login, err := f.svc.Login(ctx, "alice", "s3cretpw")
	require.NoError(t, err)

	next, err := f.svc.Refresh(ctx, login.Tokens.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, login.Tokens.RefreshToken, next.Tokens.RefreshToken)
	assert.Equal(t, alice.ID, next.User.ID)

	_, err = f.svc.Refresh(ctx, login.Tokens.RefreshToken)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrSessionRevoked)
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(err))

	// replay terminates the session, so the rotated token is dead too
	_, err = f.svc.Refresh(ctx, next.Tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrSessionRevoked)
	assert.Contains(t, f.events.types(), q.EventReuseDetected)
}

func TestRefresh_ConcurrentSingleWinner(t *testing.T) {
	f := newFixture(t)
	f.registerAlice(t)
	ctx := context.Background()

	login, err := f.svc.Login(ctx, "alice", "s3cretpw")
	require.NoError(t, err)

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		success int
		revoked int
	)
	start := make(chan struct{})
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := f.svc.Refresh(ctx, login.Tokens.RefreshToken)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				success++
			case errors.Is(err, ErrSessionRevoked):
				revoked++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Equal(t, workers-1, revoked)
}

func TestRefresh_RejectsBadTokens(t *testing.T) {
	f := newFixture(t)
	f.registerAlice(t)
	ctx := context.Background()

	login, err := f.svc.Login(ctx, "alice", "s3cretpw")
	require.NoError(t, err)

	_, err = f.svc.Refresh(ctx, "")
	assert.ErrorIs(t, err, ErrMissingToken)
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(err))

	_, err = f.svc.Refresh(ctx, "garbage")
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.ErrorIs(t, err, utils.ErrTokenInvalid)

	_, err = f.svc.Refresh(ctx, login.Tokens.AccessToken)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.ErrorIs(t, err, utils.ErrTokenTypeMismatch)

	// a failed verification leaves the live session intact
	_, err = f.svc.Refresh(ctx, login.Tokens.RefreshToken)
	assert.NoError(t, err)
}

func TestRefresh_DeletedIdentity(t *testing.T) {
	f := newFixture(t)
	alice := f.registerAlice(t)
	ctx := context.Background()

	login, err := f.svc.Login(ctx, "alice", "s3cretpw")
	require.NoError(t, err)
	f.users.remove(alice.ID)

	_, err = f.svc.Refresh(ctx, login.Tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrUnauthorized)
	assert.Equal(t, "identity no longer exists", PublicMessage(err))
}

func TestLogout_RevokesAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	alice := f.registerAlice(t)
	ctx := context.Background()

	login, err := f.svc.Login(ctx, "alice", "s3cretpw")
	require.NoError(t, err)

	require.NoError(t, f.svc.Logout(ctx, alice.ID))
	require.NoError(t, f.svc.Logout(ctx, alice.ID))

	_, err = f.svc.Refresh(ctx, login.Tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrSessionRevoked)
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	alice := f.registerAlice(t)
	ctx := context.Background()

	login, err := f.svc.Login(ctx, "alice", "s3cretpw")
	require.NoError(t, err)

	err = f.svc.ChangePassword(ctx, alice.ID, "wrong-old", "brandnew")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	assert.Equal(t, "invalid old password", PublicMessage(err))

	err = f.svc.ChangePassword(ctx, alice.ID, "s3cretpw", "abc")
	assert.ErrorIs(t, err, ErrValidation)

	require.NoError(t, f.svc.ChangePassword(ctx, alice.ID, "s3cretpw", "brandnew"))

	_, err = f.svc.Login(ctx, "alice", "s3cretpw")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.svc.Login(ctx, "alice", "brandnew")
	assert.NoError(t, err)

	_, err = f.svc.Refresh(ctx, login.Tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrSessionRevoked)
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)
	alice := f.registerAlice(t)
	ctx := context.Background()

	login, err := f.svc.Login(ctx, "alice", "s3cretpw")
	require.NoError(t, err)

	v, err := f.svc.Authenticate(ctx, login.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, v.ID)

	_, err = f.svc.Authenticate(ctx, login.Tokens.RefreshToken)
	assert.ErrorIs(t, err, utils.ErrTokenTypeMismatch)
	assert.Equal(t, http.StatusUnauthorized, HTTPStatus(err))

	_, err = f.svc.Authenticate(ctx, "")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestStoreFailureIsUnavailable(t *testing.T) {
	f := newFixture(t)
	f.registerAlice(t)
	f.users.fail = errors.New("connection refused")

	_, err := f.svc.Login(context.Background(), "alice", "s3cretpw")
	assert.ErrorIs(t, err, ErrUnavailable)
	assert.Equal(t, http.StatusInternalServerError, HTTPStatus(err))
	assert.Equal(t, "internal error", PublicMessage(err))
}

func TestEndToEndSessionLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	alice := f.registerAlice(t)

	login, err := f.svc.Login(ctx, "alice", "s3cretpw")
	require.NoError(t, err)
	r1, err := f.svc.Refresh(ctx, login.Tokens.RefreshToken)
	require.NoError(t, err)
	r2, err := f.svc.Refresh(ctx, r1.Tokens.RefreshToken)
	require.NoError(t, err)

	v, err := f.svc.Authenticate(ctx, r2.Tokens.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, alice.ID, v.ID)

	require.NoError(t, f.svc.Logout(ctx, alice.ID))
	_, err = f.svc.Refresh(ctx, r2.Tokens.RefreshToken)
	assert.ErrorIs(t, err, ErrSessionRevoked)

	assert.Equal(t, []string{
		q.EventLogin,
		q.EventRefreshed,
		q.EventRefreshed,
		q.EventLogout,
		q.EventReuseDetected,
	}, f.events.types())
}
