package middleware // reusable HTTP middleware: access token gate, identity helpers, request logging

import (
	"context"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/user-auth-service/internal/metrics"
	"github.com/iliyamo/user-auth-service/internal/model"
	"github.com/iliyamo/user-auth-service/internal/service"
)

// AccessCookie is the cookie that carries the access token.
const AccessCookie = "accessToken"

// IdentityResolver turns a raw access token into the identity it names.
// *service.AuthService satisfies it.
type IdentityResolver interface {
	Authenticate(ctx context.Context, accessToken string) (model.IdentityView, error)
}

// RequestAuthenticator is the access token gate in front of protected routes.
type RequestAuthenticator struct {
	resolver IdentityResolver
	metrics  *metrics.Auth
	log      *zap.Logger
}

func NewRequestAuthenticator(r IdentityResolver, m *metrics.Auth, log *zap.Logger) *RequestAuthenticator {
	if log == nil {
		log = zap.NewNop()
	}
	return &RequestAuthenticator{resolver: r, metrics: m, log: log}
}

// Authenticate extracts the access token from req and resolves it.  The
// accessToken cookie wins over an Authorization: Bearer header.
func (a *RequestAuthenticator) Authenticate(req *http.Request) (model.IdentityView, error) {
	return a.resolver.Authenticate(req.Context(), TokenFromRequest(req))
}

// TokenFromRequest returns the access token carried by req, or "".
func TokenFromRequest(req *http.Request) string {
	if ck, err := req.Cookie(AccessCookie); err == nil && strings.TrimSpace(ck.Value) != "" {
		return strings.TrimSpace(ck.Value)
	}
	auth := req.Header.Get(echo.HeaderAuthorization)
	if len(auth) > len("Bearer ") && strings.EqualFold(auth[:len("Bearer ")], "Bearer ") {
		return strings.TrimSpace(auth[len("Bearer "):])
	}
	return ""
}

// Middleware rejects unauthenticated requests with a JSON error and otherwise
// stores the identity for CurrentIdentity.
func (a *RequestAuthenticator) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			view, err := a.Authenticate(c.Request())
			if err != nil {
				status := service.HTTPStatus(err)
				a.metrics.Request(metrics.OutcomeRejected)
				// the verifier's reason goes to the log only
				a.log.Debug("request rejected",
					zap.String("path", c.Path()),
					zap.Int("status", status),
					zap.Error(err))
				return c.JSON(status, echo.Map{"error": service.PublicMessage(err)})
			}
			a.metrics.Request(metrics.OutcomeSuccess)
			setIdentity(c, view)
			return next(c)
		}
	}
}
