// Package service holds the authentication use cases: registration, login,
// refresh-token rotation, logout, password change and access token checks.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/iliyamo/user-auth-service/internal/metrics"
	"github.com/iliyamo/user-auth-service/internal/model"
	q "github.com/iliyamo/user-auth-service/internal/queue"
	"github.com/iliyamo/user-auth-service/internal/repository"
	"github.com/iliyamo/user-auth-service/internal/utils"
)

// UserStore is the external identity store.  The auth core reads identities
// and writes only the password hash.
type UserStore interface {
	Create(ctx context.Context, u *model.Identity) error
	GetByID(ctx context.Context, id string) (model.Identity, error)
	GetByUsernameOrEmail(ctx context.Context, identifier string) (model.Identity, error)
	ExistsByUsernameOrEmail(ctx context.Context, username, email string) (bool, error)
	UpdatePasswordHash(ctx context.Context, id, hash string) error
}

// SessionRegistry tracks the single live refresh token of each identity.
// Rotate is the only compare-and-swap: it replaces the stored token with
// next only while it still equals presented.
type SessionRegistry interface {
	Store(ctx context.Context, identityID, refreshToken string) error
	Clear(ctx context.Context, identityID string) error
	Matches(ctx context.Context, identityID, candidate string) (bool, error)
	Rotate(ctx context.Context, identityID, presented, next string) (bool, error)
}

// Deps bundles AuthService collaborators.
type Deps struct {
	Users        UserStore
	Sessions     SessionRegistry
	Hasher       *utils.Hasher
	Issuer       *utils.TokenIssuer
	Verifier     *utils.TokenVerifier
	Events       EventPublisher
	Metrics      *metrics.Auth
	Logger       *zap.Logger
	StoreTimeout time.Duration
}

// AuthService orchestrates the credential and session flows.
type AuthService struct {
	users        UserStore
	sessions     SessionRegistry
	hasher       *utils.Hasher
	issuer       *utils.TokenIssuer
	verifier     *utils.TokenVerifier
	events       EventPublisher
	metrics      *metrics.Auth
	log          *zap.Logger
	storeTimeout time.Duration
}

// NewAuthService panics if a required dependency is missing.
func NewAuthService(d Deps) *AuthService {
	if d.Users == nil || d.Sessions == nil || d.Hasher == nil || d.Issuer == nil || d.Verifier == nil {
		panic("nil dependency passed to NewAuthService")
	}
	if d.Events == nil {
		d.Events = NopPublisher{}
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.StoreTimeout <= 0 {
		d.StoreTimeout = 3 * time.Second
	}
	return &AuthService{
		users:        d.Users,
		sessions:     d.Sessions,
		hasher:       d.Hasher,
		issuer:       d.Issuer,
		verifier:     d.Verifier,
		events:       d.Events,
		metrics:      d.Metrics,
		log:          d.Logger,
		storeTimeout: d.StoreTimeout,
	}
}

// RegisterInput is the registration request after binding.
type RegisterInput struct {
	Username string
	Email    string
	Password string
	FullName string
	Avatar   string
}

// LoginResult is returned by Login and Refresh.
type LoginResult struct {
	User   model.IdentityView
	Tokens model.TokenPair
}

const invalidCredentials = "invalid credentials"

// Register validates the input, hashes the password and creates the identity.
// It does not open a session.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (model.IdentityView, error) {
	in.Username = normalize(in.Username)
	in.Email = normalize(in.Email)
	in.FullName = strings.TrimSpace(in.FullName)
	if err := validateRegistration(in); err != nil {
		return model.IdentityView{}, err
	}

	exists, err := withStore(ctx, s, func(ctx context.Context) (bool, error) {
		return s.users.ExistsByUsernameOrEmail(ctx, in.Username, in.Email)
	})
	if err != nil {
		return model.IdentityView{}, unavailable("check existing identity", err)
	}
	if exists {
		return model.IdentityView{}, newError(ErrConflict, "user with email or username already exists", nil)
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return model.IdentityView{}, newError(utils.ErrHashing, "", err)
	}

	u := &model.Identity{
		Username:     in.Username,
		Email:        in.Email,
		FullName:     in.FullName,
		Avatar:       in.Avatar,
		PasswordHash: hash,
	}
	if _, err := withStore(ctx, s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.users.Create(ctx, u)
	}); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			return model.IdentityView{}, newError(ErrConflict, "user with email or username already exists", err)
		}
		return model.IdentityView{}, unavailable("create identity", err)
	}

	s.log.Info("identity registered", zap.String("user_id", u.ID), zap.String("username", u.Username))
	return u.View(), nil
}

// Login checks identifier (username or email) and password and opens a new
// session, replacing any previous one.
func (s *AuthService) Login(ctx context.Context, identifier, password string) (LoginResult, error) {
	identifier = normalize(identifier)
	if identifier == "" || password == "" {
		return LoginResult{}, newError(ErrValidation, "username or email and password are required", nil)
	}

	u, err := withStore(ctx, s, func(ctx context.Context) (model.Identity, error) {
		return s.users.GetByUsernameOrEmail(ctx, identifier)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.metrics.Login(metrics.OutcomeFailure)
			return LoginResult{}, newError(ErrNotFound, invalidCredentials, err)
		}
		return LoginResult{}, unavailable("load identity", err)
	}

	ok, err := s.hasher.Verify(password, u.PasswordHash)
	if err != nil {
		return LoginResult{}, newError(utils.ErrHashing, "", err)
	}
	if !ok {
		s.metrics.Login(metrics.OutcomeFailure)
		return LoginResult{}, newError(ErrInvalidCredentials, invalidCredentials, nil)
	}

	pair, err := s.issuer.IssuePair(u.Claims())
	if err != nil {
		return LoginResult{}, newError(utils.ErrTokenSigning, "", err)
	}
	if _, err := withStore(ctx, s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.sessions.Store(ctx, u.ID, pair.RefreshToken)
	}); err != nil {
		return LoginResult{}, unavailable("store session", err)
	}

	s.metrics.Login(metrics.OutcomeSuccess)
	s.emit(ctx, q.EventLogin, u, "")
	return LoginResult{User: u.View(), Tokens: pair}, nil
}

// Refresh redeems a refresh token for a new pair.  A token can be redeemed
// once: any later use, including a concurrent one, fails with
// ErrSessionRevoked and terminates the session.
func (s *AuthService) Refresh(ctx context.Context, presented string) (LoginResult, error) {
	presented = strings.TrimSpace(presented)
	if presented == "" {
		return LoginResult{}, newError(ErrMissingToken, "refresh token is required", nil)
	}

	claims, err := s.verifier.Verify(presented, utils.TokenRefresh)
	if err != nil {
		s.metrics.Refresh(metrics.OutcomeRejected)
		return LoginResult{}, newError(ErrUnauthorized, "invalid or expired refresh token", err)
	}

	u, err := withStore(ctx, s, func(ctx context.Context) (model.Identity, error) {
		return s.users.GetByID(ctx, claims.UserID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			s.metrics.Refresh(metrics.OutcomeRejected)
			return LoginResult{}, newError(ErrUnauthorized, "identity no longer exists", err)
		}
		return LoginResult{}, unavailable("load identity", err)
	}

	live, err := withStore(ctx, s, func(ctx context.Context) (bool, error) {
		return s.sessions.Matches(ctx, u.ID, presented)
	})
	if err != nil {
		return LoginResult{}, unavailable("match session", err)
	}
	if !live {
		return LoginResult{}, s.revoke(ctx, u, "token does not match live session")
	}

	pair, err := s.issuer.IssuePair(u.Claims())
	if err != nil {
		return LoginResult{}, newError(utils.ErrTokenSigning, "", err)
	}
	// Matches above is a fast path; Rotate is what makes redemption single-use
	// when two requests race with the same token.
	rotated, err := withStore(ctx, s, func(ctx context.Context) (bool, error) {
		return s.sessions.Rotate(ctx, u.ID, presented, pair.RefreshToken)
	})
	if err != nil {
		return LoginResult{}, unavailable("rotate session", err)
	}
	if !rotated {
		return LoginResult{}, s.revoke(ctx, u, "lost rotation race")
	}

	s.metrics.Refresh(metrics.OutcomeSuccess)
	s.emit(ctx, q.EventRefreshed, u, "")
	return LoginResult{User: u.View(), Tokens: pair}, nil
}

// revoke ends the session after a refresh token was replayed.
func (s *AuthService) revoke(ctx context.Context, u model.Identity, reason string) error {
	s.metrics.Refresh(metrics.OutcomeReuse)
	s.log.Warn("refresh token reuse detected", zap.String("user_id", u.ID), zap.String("reason", reason))
	if _, err := withStore(ctx, s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.sessions.Clear(ctx, u.ID)
	}); err != nil {
		s.log.Error("clear session after reuse", zap.String("user_id", u.ID), zap.Error(err))
	}
	s.emit(ctx, q.EventReuseDetected, u, reason)
	return newError(ErrSessionRevoked, "refresh token reused or already rotated", nil)
}

// Logout clears the stored refresh token.  Calling it again is not an error.
func (s *AuthService) Logout(ctx context.Context, identityID string) error {
	if _, err := withStore(ctx, s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.sessions.Clear(ctx, identityID)
	}); err != nil {
		return unavailable("clear session", err)
	}
	s.metrics.Logout()
	s.emit(ctx, q.EventLogout, model.Identity{ID: identityID}, "")
	return nil
}

// ChangePassword verifies the old password and stores a hash of the new one.
// The live refresh token is cleared as well, so a stolen refresh token does
// not outlive the password it was obtained with.
func (s *AuthService) ChangePassword(ctx context.Context, identityID, oldPassword, newPassword string) error {
	if oldPassword == "" || newPassword == "" {
		return newError(ErrValidation, "old and new password are required", nil)
	}
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	u, err := withStore(ctx, s, func(ctx context.Context) (model.Identity, error) {
		return s.users.GetByID(ctx, identityID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return newError(ErrUnauthorized, "identity no longer exists", err)
		}
		return unavailable("load identity", err)
	}

	ok, err := s.hasher.Verify(oldPassword, u.PasswordHash)
	if err != nil {
		return newError(utils.ErrHashing, "", err)
	}
	if !ok {
		return newError(ErrInvalidCredentials, "invalid old password", nil)
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return newError(utils.ErrHashing, "", err)
	}
	if _, err := withStore(ctx, s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.users.UpdatePasswordHash(ctx, u.ID, hash)
	}); err != nil {
		return unavailable("update password", err)
	}
	if _, err := withStore(ctx, s, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, s.sessions.Clear(ctx, u.ID)
	}); err != nil {
		return unavailable("clear session", err)
	}

	s.emit(ctx, q.EventPasswordChanged, u, "")
	return nil
}

// Authenticate verifies an access token and resolves the identity it names.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (model.IdentityView, error) {
	if strings.TrimSpace(accessToken) == "" {
		return model.IdentityView{}, newError(ErrUnauthorized, "missing token", ErrMissingToken)
	}
	claims, err := s.verifier.Verify(accessToken, utils.TokenAccess)
	if err != nil {
		return model.IdentityView{}, newError(ErrUnauthorized, "invalid or expired token", err)
	}
	u, err := withStore(ctx, s, func(ctx context.Context) (model.Identity, error) {
		return s.users.GetByID(ctx, claims.UserID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.IdentityView{}, newError(ErrUnauthorized, "identity no longer exists", err)
		}
		return model.IdentityView{}, unavailable("load identity", err)
	}
	return u.View(), nil
}

// CurrentUser returns the public view of identityID.
func (s *AuthService) CurrentUser(ctx context.Context, identityID string) (model.IdentityView, error) {
	u, err := withStore(ctx, s, func(ctx context.Context) (model.Identity, error) {
		return s.users.GetByID(ctx, identityID)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return model.IdentityView{}, newError(ErrNotFound, "user not found", err)
		}
		return model.IdentityView{}, unavailable("load identity", err)
	}
	return u.View(), nil
}

func (s *AuthService) emit(ctx context.Context, typ string, u model.Identity, reason string) {
	ev := q.SessionEvent{
		Type:       typ,
		UserID:     u.ID,
		Username:   u.Username,
		Reason:     reason,
		OccurredAt: time.Now().UTC().Format(time.RFC3339),
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.storeTimeout)
	defer cancel()
	if err := s.events.Publish(ctx, ev); err != nil {
		s.log.Warn("publish session event", zap.String("type", typ), zap.Error(err))
	}
}

// withStore runs fn with the store timeout applied.
func withStore[T any](ctx context.Context, s *AuthService, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, s.storeTimeout)
	defer cancel()
	return fn(ctx)
}

func unavailable(op string, err error) error {
	return newError(ErrUnavailable, "", fmt.Errorf("%s: %w", op, err))
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func validateRegistration(in RegisterInput) error {
	switch {
	case len(in.FullName) < 2:
		return newError(ErrValidation, "full name must be at least 2 characters long", nil)
	case len(in.Username) < 3:
		return newError(ErrValidation, "username must be at least 3 characters long", nil)
	case !validEmail(in.Email):
		return newError(ErrValidation, "please enter a valid email address", nil)
	}
	return validatePassword(in.Password)
}

func validatePassword(pw string) error {
	if len(pw) < 6 {
		return newError(ErrValidation, "password must be at least 6 characters long", nil)
	}
	if len(pw) > 72 {
		return newError(ErrValidation, "password must be at most 72 bytes long", nil)
	}
	return nil
}

func validEmail(s string) bool {
	addr, err := mail.ParseAddress(s)
	return err == nil && addr.Address == s && strings.Contains(s, ".")
}
