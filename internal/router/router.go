package router // package router wires HTTP routes and their middleware

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/user-auth-service/internal/handler"
	"github.com/iliyamo/user-auth-service/internal/middleware"
)

// RegisterRoutes registers the unauthenticated operational routes: the
// health check and the Prometheus scrape endpoint.
func RegisterRoutes(e *echo.Echo, health echo.HandlerFunc, metrics http.Handler) {
	e.GET("/healthz", health)
	e.GET("/metrics", echo.WrapHandler(metrics))
}

// RegisterAuth registers the /auth routes.  Register, login and
// refresh-token work without a session; the rest sit behind the access
// token gate.
func RegisterAuth(e *echo.Echo, a *handler.AuthHandler, gate *middleware.RequestAuthenticator) {
	g := e.Group("/auth")
	g.POST("/register", a.Register)
	g.POST("/login", a.Login)
	// Rotates the refresh token; a replayed token ends the session.
	g.POST("/refresh-token", a.Refresh)

	protected := g.Group("", gate.Middleware())
	protected.POST("/logout", a.Logout)
	protected.POST("/change-password", a.ChangePassword)
	protected.GET("/me", a.Me)
}
