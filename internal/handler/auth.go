package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/chama-backend/internal/identity"
	"github.com/iliyamo/chama-backend/internal/middleware"
	"github.com/iliyamo/chama-backend/internal/model"
	"github.com/iliyamo/chama-backend/internal/repository"
	"github.com/iliyamo/chama-backend/internal/service"
)

// AuthOptions carries the URLs and cookie policy the auth endpoints need.
type AuthOptions struct {
	FrontendURL   string
	PublicBaseURL string
	Cookies       CookiePolicy
}

// AuthHandler bundles dependencies for auth endpoints.
type AuthHandler struct {
	IdP         identity.Provider
	Sessions    Sessions
	Profiles    ProfileStore
	OAuthTokens OAuthTokenStore
	States      identity.StateStore
	Opts        AuthOptions
	Log         zerolog.Logger
}

func NewAuthHandler(idp identity.Provider, sessions Sessions, profiles ProfileStore, oauth OAuthTokenStore,
	states identity.StateStore, opts AuthOptions, log zerolog.Logger) *AuthHandler {
	if idp == nil || sessions == nil || profiles == nil || oauth == nil || states == nil {
		panic("nil dependency passed to NewAuthHandler")
	}
	return &AuthHandler{IdP: idp, Sessions: sessions, Profiles: profiles, OAuthTokens: oauth,
		States: states, Opts: opts, Log: log}
}

// ----- DTOs -----

type registerReq struct {
	Email       string  `json:"email" validate:"required,email"`
	Password    string  `json:"password" validate:"required,min=8,max=100"`
	DisplayName *string `json:"display_name" validate:"omitempty,max=100"`
	PhoneNumber *string `json:"phone_number" validate:"omitempty,max=20"`
}

type loginReq struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

type refreshReq struct {
	RefreshToken string `json:"refresh_token"`
}

type authResp struct {
	UserID       string  `json:"user_id"`
	Email        string  `json:"email"`
	DisplayName  *string `json:"display_name"`
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	TokenType    string  `json:"token_type"`
	ExpiresIn    int     `json:"expires_in"`
}

type meResp struct {
	UserID      string  `json:"user_id"`
	Email       string  `json:"email"`
	DisplayName *string `json:"display_name"`
	PhoneNumber *string `json:"phone_number"`
}

// issue mints a token pair, sets the cookies and writes the auth response.
func (h *AuthHandler) issue(c echo.Context, userID, email string, displayName *string) error {
	ctx, cancel := reqCtx(c)
	defer cancel()

	pair, err := h.Sessions.IssuePair(ctx, userID, email)
	if err != nil {
		return err
	}
	ttl := h.Sessions.AccessTTL()
	h.Opts.Cookies.setSession(c, pair, ttl)
	return c.JSON(http.StatusOK, authResp{
		UserID:       userID,
		Email:        email,
		DisplayName:  displayName,
		AccessToken:  pair.Access.Token,
		RefreshToken: pair.Refresh.Token,
		TokenType:    "bearer",
		ExpiresIn:    int(ttl.Seconds()),
	})
}

// Register creates the account at the identity provider, then the local
// profile, then a session.
func (h *AuthHandler) Register(c echo.Context) error {
	var req registerReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	ctx, cancel := reqCtx(c)
	defer cancel()

	meta := map[string]any{}
	if req.DisplayName != nil {
		meta["display_name"] = *req.DisplayName
	}
	user, err := h.IdP.SignUp(ctx, req.Email, req.Password, meta)
	if err != nil {
		return mapError(err)
	}
	prof, err := h.Profiles.Create(ctx, user.ID, req.DisplayName, req.PhoneNumber)
	if errors.Is(err, repository.ErrProfileExists) {
		return detail(http.StatusBadRequest, identity.ErrUserExists.Error())
	}
	if err != nil {
		return err
	}
	return h.issue(c, user.ID, req.Email, prof.DisplayName)
}

// Login checks the password with the identity provider.  A user that
// signed up elsewhere gets an empty profile on first login.
func (h *AuthHandler) Login(c echo.Context) error {
	var req loginReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))

	ctx, cancel := reqCtx(c)
	defer cancel()

	sess, err := h.IdP.SignIn(ctx, req.Email, req.Password)
	if err != nil {
		return mapError(err)
	}
	prof, err := h.profileFor(c, sess.User.ID, nil, nil)
	if err != nil {
		return err
	}
	return h.issue(c, sess.User.ID, req.Email, prof.DisplayName)
}

func (h *AuthHandler) profileFor(c echo.Context, userID string, name, phone *string) (model.Profile, error) {
	ctx, cancel := reqCtx(c)
	defer cancel()
	p, err := h.Profiles.GetByUserID(ctx, userID)
	if errors.Is(err, repository.ErrProfileNotFound) {
		return h.Profiles.Upsert(ctx, userID, name, phone)
	}
	return p, err
}

// refreshToken reads the token from the JSON body, then the cookie.
func refreshToken(c echo.Context) string {
	var req refreshReq
	if c.Request().ContentLength != 0 {
		_ = c.Bind(&req)
	}
	if req.RefreshToken != "" {
		return req.RefreshToken
	}
	if ck, err := c.Cookie(middleware.RefreshCookie); err == nil {
		return ck.Value
	}
	return ""
}

// Refresh exchanges a live refresh token for a new pair; the old token is
// revoked as part of persisting the new one.
func (h *AuthHandler) Refresh(c echo.Context) error {
	tok := refreshToken(c)
	if tok == "" {
		return detail(http.StatusUnauthorized, "Invalid refresh token")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	claims, err := h.Sessions.ValidateRefreshToken(ctx, tok)
	if err != nil {
		return detail(http.StatusUnauthorized, "Invalid refresh token")
	}
	var name *string
	if p, err := h.Profiles.GetByUserID(ctx, claims.Subject); err == nil {
		name = p.DisplayName
	} else if !errors.Is(err, repository.ErrNotFound) {
		return err
	}
	return h.issue(c, claims.Subject, claims.Email, name)
}

// Logout revokes the refresh token, when one is supplied, and clears the
// cookies.  Revocation is best effort.
func (h *AuthHandler) Logout(c echo.Context) error {
	if tok := refreshToken(c); tok != "" {
		ctx, cancel := reqCtx(c)
		defer cancel()
		h.Sessions.RevokeRefreshToken(ctx, tok)
	}
	h.Opts.Cookies.clearSession(c)
	return c.JSON(http.StatusOK, echo.Map{"message": "Successfully logged out"})
}

// Me returns the caller resolved by RequireUser.
func (h *AuthHandler) Me(c echo.Context) error {
	u, err := mustUser(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, meResp{
		UserID:      u.UserID,
		Email:       u.Email,
		DisplayName: u.Profile.DisplayName,
		PhoneNumber: u.Profile.PhoneNumber,
	})
}

// VerifyToken reports the claims of an access or refresh token taken from
// the cookie or the Authorization header.
func (h *AuthHandler) VerifyToken(c echo.Context) error {
	tok := middleware.AccessToken(c)
	if tok == "" {
		return mapError(service.ErrNoToken)
	}
	claims, err := h.Sessions.VerifyToken(tok)
	if err != nil {
		c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
		return detail(http.StatusUnauthorized, "Invalid token")
	}
	var exp int64
	if claims.ExpiresAt != nil {
		exp = claims.ExpiresAt.Unix()
	}
	return c.JSON(http.StatusOK, echo.Map{
		"valid":      true,
		"user_id":    claims.Subject,
		"email":      claims.Email,
		"expires_at": exp,
	})
}
