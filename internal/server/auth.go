package server

import (
	"errors"
	"net/http"
	"net/mail"
	"strings"

	"github.com/labstack/echo/v4"
	"golang.org/x/crypto/bcrypt"

	"github.com/mohammad-safakhou/thesisgrey/internal/runtime"
	"github.com/mohammad-safakhou/thesisgrey/internal/store"
	"github.com/mohammad-safakhou/thesisgrey/internal/validate"
)

const minPasswordLength = 8

type AuthHandler struct {
	Store  *store.Store
	Secret []byte
	Secure bool
}

func (a *AuthHandler) Register(g *echo.Group) {
	g.POST("/signup", a.signup)
	g.POST("/login", a.login)
	g.POST("/logout", a.logout)
}

// Signup
//
//	@Summary		User signup
//	@Description	Create a new user account
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		AuthSignupRequest	true	"Signup payload"
//	@Success		201		{object}	IDResponse
//	@Failure		400		{object}	ValidationErrorResponse
//	@Failure		409		{object}	HTTPError
//	@Router			/api/auth/signup [post]
func (a *AuthHandler) signup(c echo.Context) error {
	var req AuthSignupRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	errs := validate.Errors{}
	email := strings.TrimSpace(req.Email)
	if _, err := mail.ParseAddress(email); err != nil || !strings.Contains(email, "@") {
		errs.Add("email", "must be a valid email address")
	}
	if len(req.Password) < minPasswordLength {
		errs.Add("password", "must be at least 8 characters")
	}
	if len(req.DisplayName) > 100 {
		errs.Add("display_name", "must be at most 100 characters")
	}
	if err := errs.Err(); err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	id, err := a.Store.CreateUser(c.Request().Context(), email, string(hash), strings.TrimSpace(req.DisplayName))
	if err != nil {
		if store.IsUniqueViolation(err) {
			return echo.NewHTTPError(http.StatusConflict, "email already exists")
		}
		return err
	}
	return c.JSON(http.StatusCreated, IDResponse{ID: id})
}

// Login
//
//	@Summary		Login
//	@Description	Returns JWT in cookie and body; supports Bearer flows
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			payload	body		AuthLoginRequest	true	"Login payload"
//	@Success		200		{object}	TokenResponse
//	@Failure		401		{object}	HTTPError
//	@Router			/api/auth/login [post]
func (a *AuthHandler) login(c echo.Context) error {
	var req AuthLoginRequest
	if err := bind(c, &req); err != nil {
		return err
	}
	if len(req.Password) < minPasswordLength {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	u, err := a.Store.GetUserByEmail(c.Request().Context(), req.Email)
	if errors.Is(err, store.ErrNotFound) {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	if err != nil {
		return err
	}
	if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)) != nil {
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid credentials")
	}
	var scopes []string
	if u.IsAdmin {
		scopes = append(scopes, runtime.ScopeAdmin)
	}
	signed, err := runtime.SignJWT(u.ID, a.Secret, runtime.TokenTTL, scopes...)
	if err != nil {
		return err
	}
	c.SetCookie(&http.Cookie{
		Name:     runtime.AuthCookie,
		Value:    signed,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   a.Secure,
		MaxAge:   int(runtime.TokenTTL.Seconds()),
	})
	// also return token for Bearer flows
	c.Response().Header().Set(echo.HeaderAuthorization, "Bearer "+signed)
	return c.JSON(http.StatusOK, TokenResponse{Token: signed})
}

// Logout
//
//	@Summary	Logout
//	@Tags		auth
//	@Success	204
//	@Router		/api/auth/logout [post]
func (a *AuthHandler) logout(c echo.Context) error {
	c.SetCookie(&http.Cookie{Name: runtime.AuthCookie, Value: "", Path: "/", MaxAge: -1, HttpOnly: true})
	return c.NoContent(http.StatusNoContent)
}

func (a *AuthHandler) me(c echo.Context) error {
	u, err := a.Store.GetUserByID(c.Request().Context(), userID(c))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, MeResponse{UserID: u.ID, Email: u.Email, DisplayName: u.DisplayName, IsAdmin: u.IsAdmin, CreatedAt: u.CreatedAt})
}
