package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/iliyamo/user-auth-service/internal/middleware"
	"github.com/iliyamo/user-auth-service/internal/model"
	"github.com/iliyamo/user-auth-service/internal/service"
)

// RefreshCookie is the cookie that carries the refresh token.
const RefreshCookie = "refreshToken"

// AuthService is the subset of *service.AuthService the handlers call.
type AuthService interface {
	Register(ctx context.Context, in service.RegisterInput) (model.IdentityView, error)
	Login(ctx context.Context, identifier, password string) (service.LoginResult, error)
	Refresh(ctx context.Context, presented string) (service.LoginResult, error)
	Logout(ctx context.Context, identityID string) error
	ChangePassword(ctx context.Context, identityID, oldPassword, newPassword string) error
	CurrentUser(ctx context.Context, identityID string) (model.IdentityView, error)
}

// CookieConfig controls the session cookies.  Secure and HttpOnly are always on.
type CookieConfig struct {
	Domain     string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	svc     AuthService
	cookies CookieConfig
	log     *zap.Logger
}

func NewAuthHandler(svc AuthService, cookies CookieConfig, log *zap.Logger) *AuthHandler {
	if svc == nil {
		panic("nil service passed to NewAuthHandler")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &AuthHandler{svc: svc, cookies: cookies, log: log}
}

// ----- DTOs -----

type registerReq struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	FullName string `json:"fullName"`
	Avatar   string `json:"avatar"`
}

type loginReq struct {
	Identifier string `json:"identifier"`
	Username   string `json:"username"`
	Email      string `json:"email"`
	Password   string `json:"password"`
}

type refreshReq struct {
	RefreshToken string `json:"refreshToken"`
}

type changePasswordReq struct {
	OldPassword string `json:"oldPassword"`
	NewPassword string `json:"newPassword"`
}

type authResp struct {
	User         model.IdentityView `json:"user"`
	AccessToken  string             `json:"accessToken"`
	RefreshToken string             `json:"refreshToken"`
}

// Register creates an identity.  The client logs in separately.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	u, err := h.svc.Register(c.Request().Context(), service.RegisterInput{
		Username: req.Username,
		Email:    req.Email,
		Password: req.Password,
		FullName: req.FullName,
		Avatar:   req.Avatar,
	})
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusCreated, echo.Map{"user": u, "message": "user registered successfully"})
}

// Login verifies credentials and opens a session.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	identifier := firstNonEmpty(req.Identifier, req.Username, req.Email)
	res, err := h.svc.Login(c.Request().Context(), identifier, req.Password)
	if err != nil {
		return h.fail(c, err)
	}
	h.setSessionCookies(c, res.Tokens)
	return c.JSON(http.StatusOK, authResp{
		User:         res.User,
		AccessToken:  res.Tokens.AccessToken,
		RefreshToken: res.Tokens.RefreshToken,
	})
}

// Refresh rotates the refresh token taken from the cookie or, failing
// that, the body.
func (h *AuthHandler) Refresh(c echo.Context) error {
	presented := ""
	if ck, err := c.Cookie(RefreshCookie); err == nil {
		presented = strings.TrimSpace(ck.Value)
	}
	if presented == "" {
		var req refreshReq
		_ = c.Bind(&req) // an unreadable body just means no token
		presented = req.RefreshToken
	}
	res, err := h.svc.Refresh(c.Request().Context(), presented)
	if err != nil {
		if service.HTTPStatus(err) == http.StatusUnauthorized {
			h.clearSessionCookies(c)
		}
		return h.fail(c, err)
	}
	h.setSessionCookies(c, res.Tokens)
	return c.JSON(http.StatusOK, echo.Map{
		"accessToken":  res.Tokens.AccessToken,
		"refreshToken": res.Tokens.RefreshToken,
	})
}

// Logout ends the session of the authenticated identity.
func (h *AuthHandler) Logout(c echo.Context) error {
	id, ok := middleware.CurrentIdentity(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	if err := h.svc.Logout(c.Request().Context(), id.ID); err != nil {
		return h.fail(c, err)
	}
	h.clearSessionCookies(c)
	return c.JSON(http.StatusOK, echo.Map{"message": "user logged out"})
}

// ChangePassword replaces the password of the authenticated identity.
// The session is ended, so the cookies are cleared as well.
func (h *AuthHandler) ChangePassword(c echo.Context) error {
	id, ok := middleware.CurrentIdentity(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var req changePasswordReq
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid body"})
	}
	if err := h.svc.ChangePassword(c.Request().Context(), id.ID, req.OldPassword, req.NewPassword); err != nil {
		return h.fail(c, err)
	}
	h.clearSessionCookies(c)
	return c.JSON(http.StatusOK, echo.Map{"message": "password changed successfully"})
}

// Me returns the authenticated identity, read fresh from the store.
func (h *AuthHandler) Me(c echo.Context) error {
	id, ok := middleware.CurrentIdentity(c)
	if !ok {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	u, err := h.svc.CurrentUser(c.Request().Context(), id.ID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, echo.Map{"user": u})
}

// fail logs the full error chain and answers with the safe message only.
func (h *AuthHandler) fail(c echo.Context, err error) error {
	status := service.HTTPStatus(err)
	fields := []zap.Field{zap.String("path", c.Path()), zap.Int("status", status), zap.Error(err)}
	if status >= http.StatusInternalServerError {
		h.log.Error("auth request failed", fields...)
	} else {
		h.log.Debug("auth request rejected", fields...)
	}
	return c.JSON(status, echo.Map{"error": service.PublicMessage(err)})
}

func (h *AuthHandler) setSessionCookies(c echo.Context, p model.TokenPair) {
	c.SetCookie(h.cookie(middleware.AccessCookie, p.AccessToken, h.cookies.AccessTTL))
	c.SetCookie(h.cookie(RefreshCookie, p.RefreshToken, h.cookies.RefreshTTL))
}

func (h *AuthHandler) clearSessionCookies(c echo.Context) {
	for _, name := range []string{middleware.AccessCookie, RefreshCookie} {
		ck := h.cookie(name, "", 0)
		ck.MaxAge = -1
		ck.Expires = time.Unix(0, 0)
		c.SetCookie(ck)
	}
}

func (h *AuthHandler) cookie(name, value string, ttl time.Duration) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   h.cookies.Domain,
		MaxAge:   int(ttl / time.Second),
		HttpOnly: true,
		Secure:   true,
		SameSite: http.SameSiteLaxMode,
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
