package utils // package utils provides the password hasher and the token issuer/verifier

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5" // JWT library for creating and parsing signed tokens
	"github.com/google/uuid"       // random token ids

	"github.com/iliyamo/user-auth-service/internal/config"
	"github.com/iliyamo/user-auth-service/internal/model"
)

// TokenType tells access and refresh tokens apart.  Each type is signed with
// its own secret and also carries the type in the "typ" claim.
type TokenType string

const (
	TokenAccess  TokenType = "access"
	TokenRefresh TokenType = "refresh"
)

// TokenClaims is the payload of every token.  Refresh tokens only fill
// UserID; the display fields stay empty and are omitted from the JSON.
type TokenClaims struct {
	model.Claims
	Type TokenType `json:"typ"`
	jwt.RegisteredClaims
}

// Clock returns the current time.  It is injectable so tests can pin expiry.
type Clock func() time.Time

func systemClock() time.Time { return time.Now().UTC() }

// TokenIssuer signs access and refresh tokens.
type TokenIssuer struct {
	cfg config.AuthConfig
	now Clock
}

// NewTokenIssuer validates that both secrets are configured.  A missing secret
// is a configuration error, so it is reported here rather than per request.
func NewTokenIssuer(cfg config.AuthConfig, now Clock) (*TokenIssuer, error) {
	if cfg.AccessSecret == "" || cfg.RefreshSecret == "" {
		return nil, fmt.Errorf("%w: missing secret", ErrTokenSigning)
	}
	if now == nil {
		now = systemClock
	}
	return &TokenIssuer{cfg: cfg, now: now}, nil
}

// IssueAccessToken builds and signs an HS256 JWT with the identity snapshot.
func (i *TokenIssuer) IssueAccessToken(c model.Claims) (string, time.Time, error) {
	return i.sign(TokenClaims{Claims: c, Type: TokenAccess}, i.cfg.AccessSecret, i.cfg.AccessTTL)
}

// IssueRefreshToken signs a token that carries only the identity id.
func (i *TokenIssuer) IssueRefreshToken(c model.Claims) (string, time.Time, error) {
	return i.sign(TokenClaims{Claims: model.Claims{UserID: c.UserID}, Type: TokenRefresh}, i.cfg.RefreshSecret, i.cfg.RefreshTTL)
}

// IssuePair mints a fresh access/refresh pair for the same identity.
func (i *TokenIssuer) IssuePair(c model.Claims) (model.TokenPair, error) {
	access, accessExp, err := i.IssueAccessToken(c)
	if err != nil {
		return model.TokenPair{}, err
	}
	refresh, refreshExp, err := i.IssueRefreshToken(c)
	if err != nil {
		return model.TokenPair{}, err
	}
	return model.TokenPair{
		AccessToken:      access,
		RefreshToken:     refresh,
		AccessExpiresAt:  accessExp,
		RefreshExpiresAt: refreshExp,
	}, nil
}

func (i *TokenIssuer) sign(claims TokenClaims, secret string, ttl time.Duration) (string, time.Time, error) {
	if secret == "" {
		return "", time.Time{}, fmt.Errorf("%w: missing %s secret", ErrTokenSigning, claims.Type)
	}
	now := i.now()
	exp := now.Add(ttl)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		ID:        uuid.NewString(), // two tokens minted in the same second must still differ
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(exp),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrTokenSigning, err)
	}
	return signed, exp, nil
}

// TokenVerifier checks signature, type and expiry of presented tokens.
type TokenVerifier struct {
	cfg config.AuthConfig
	now Clock
}

// NewTokenVerifier returns a verifier for the configured secrets.
func NewTokenVerifier(cfg config.AuthConfig, now Clock) *TokenVerifier {
	if now == nil {
		now = systemClock
	}
	return &TokenVerifier{cfg: cfg, now: now}
}

// Verify parses token as typ and returns its claims.  It fails with
// ErrTokenExpired, ErrTokenInvalid or ErrTokenTypeMismatch.
func (v *TokenVerifier) Verify(token string, typ TokenType) (*TokenClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrTokenInvalid)
	}

	// The typ claim is read before any signature check so that a refresh
	// token presented as an access token is reported as a type confusion.
	var peek TokenClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &peek); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if peek.Type != "" && peek.Type != typ {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrTokenTypeMismatch, peek.Type, typ)
	}

	claims, err := v.parse(token, v.secretFor(typ))
	if err == nil {
		if claims.UserID == "" {
			return nil, fmt.Errorf("%w: missing id claim", ErrTokenInvalid)
		}
		return claims, nil
	}

	switch {
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		// A token signed with the other type's secret is a type confusion,
		// not random corruption.
		if _, otherErr := v.parse(token, v.secretFor(other(typ))); otherErr == nil ||
			!errors.Is(otherErr, jwt.ErrTokenSignatureInvalid) {
			return nil, fmt.Errorf("%w: signed as %s", ErrTokenTypeMismatch, other(typ))
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	case errors.Is(err, jwt.ErrTokenExpired):
		return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
	default:
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
}

func (v *TokenVerifier) parse(token, secret string) (*TokenClaims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(v.now),
	)
	claims := &TokenClaims{}
	tok, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return []byte(secret), nil
	})
	if err != nil {
		return nil, err
	}
	if !tok.Valid {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

func (v *TokenVerifier) secretFor(typ TokenType) string {
	if typ == TokenRefresh {
		return v.cfg.RefreshSecret
	}
	return v.cfg.AccessSecret
}

func other(typ TokenType) TokenType {
	if typ == TokenRefresh {
		return TokenAccess
	}
	return TokenRefresh
}
