package middleware

import (
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/user-auth-service/internal/model"
)

const identityKey = "identity"

func setIdentity(c echo.Context, v model.IdentityView) {
	c.Set(identityKey, v)
}

// CurrentIdentity returns the identity attached by RequestAuthenticator.
// ok is false on routes that are not behind the gate.
func CurrentIdentity(c echo.Context) (model.IdentityView, bool) {
	v, ok := c.Get(identityKey).(model.IdentityView)
	return v, ok
}
