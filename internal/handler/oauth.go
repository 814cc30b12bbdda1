package handler

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/iliyamo/chama-backend/internal/identity"
	"github.com/iliyamo/chama-backend/internal/middleware"
	"github.com/iliyamo/chama-backend/internal/model"
	"github.com/iliyamo/chama-backend/internal/repository"
)

// OAuthURL starts a PKCE sign-in.  The verifier is kept under a fresh state
// value which the identity provider echoes back through redirect_to.
func (h *AuthHandler) OAuthURL(c echo.Context) error {
	provider := strings.ToLower(c.Param("provider"))
	if !identity.SupportedProviders[provider] {
		return detail(http.StatusBadRequest, "Unsupported OAuth provider: "+provider)
	}
	verifier, err := identity.NewCodeVerifier()
	if err != nil {
		return err
	}
	state := uuid.NewString()

	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.States.Save(ctx, state, verifier); err != nil {
		return err
	}

	q := url.Values{}
	q.Set("provider", provider)
	q.Set("state", state)
	redirectTo := h.Opts.PublicBaseURL + "/api/v1/auth/oauth/callback?" + q.Encode()

	authURL, err := h.IdP.AuthorizeURL(provider, redirectTo, identity.CodeChallenge(verifier))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"url": authURL, "state": state})
}

func (h *AuthHandler) loginRedirect(c echo.Context, reason string) error {
	return c.Redirect(http.StatusFound, h.Opts.FrontendURL+"/login?error="+url.QueryEscape(reason))
}

// Callback finishes the browser flow.  Every failure ends on the frontend
// login page with an error code; the reason is only logged.
func (h *AuthHandler) Callback(c echo.Context) error {
	if e := c.QueryParam("error"); e != "" {
		return h.loginRedirect(c, e)
	}
	code := c.QueryParam("code")
	if code == "" {
		return h.loginRedirect(c, "no_code")
	}
	provider := strings.ToLower(c.QueryParam("provider"))
	log := h.Log.With().Str("provider", provider).Logger()

	ctx, cancel := reqCtx(c)
	defer cancel()

	verifier, err := h.States.Take(ctx, c.QueryParam("state"))
	if err != nil {
		log.Warn().Err(err).Msg("oauth callback state")
		return h.loginRedirect(c, "callback_failed")
	}
	sess, err := h.IdP.ExchangeCode(ctx, code, verifier)
	if err != nil {
		log.Warn().Err(err).Msg("oauth code exchange")
		return h.loginRedirect(c, "callback_failed")
	}
	if provider == "" {
		provider = sess.User.Provider
	}

	if err := h.completeOAuth(c, sess, provider); err != nil {
		log.Error().Err(err).Str("user_id", sess.User.ID).Msg("oauth callback")
		return h.loginRedirect(c, "callback_failed")
	}
	pair, err := h.Sessions.IssuePair(ctx, sess.User.ID, sess.User.Email)
	if err != nil {
		log.Error().Err(err).Str("user_id", sess.User.ID).Msg("issue session")
		return h.loginRedirect(c, "callback_failed")
	}
	h.Opts.Cookies.setSession(c, pair, h.Sessions.AccessTTL())
	return c.Redirect(http.StatusFound, h.Opts.FrontendURL+"/oauth-callback?provider="+url.QueryEscape(provider))
}

// completeOAuth upserts the profile from provider metadata and stores the
// provider token pair when one came back.
func (h *AuthHandler) completeOAuth(c echo.Context, sess identity.Session, provider string) error {
	ctx, cancel := reqCtx(c)
	defer cancel()

	if _, err := h.Profiles.Upsert(ctx, sess.User.ID, strPtr(sess.User.DisplayName()), strPtr(sess.User.Phone)); err != nil {
		return err
	}
	if sess.ProviderToken != "" && provider != "" {
		tok := model.OAuthToken{
			UserID:       sess.User.ID,
			Provider:     provider,
			AccessToken:  sess.ProviderToken,
			RefreshToken: strPtr(sess.ProviderRefreshToken),
		}
		if sess.ExpiresIn > 0 {
			exp := time.Now().UTC().Add(time.Duration(sess.ExpiresIn) * time.Second)
			tok.ExpiresAt = &exp
		}
		return h.OAuthTokens.Upsert(ctx, tok)
	}
	return nil
}

// Exchange trades an identity-provider access token (sent as bearer) for
// this service's own session.  Used by clients that ran the OAuth flow
// themselves.
func (h *AuthHandler) Exchange(c echo.Context) error {
	tok := middleware.BearerToken(c)
	if tok == "" {
		return detail(http.StatusUnauthorized, "Missing provider access token")
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	user, err := h.IdP.UserFromToken(ctx, tok)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidToken) {
			return detail(http.StatusUnauthorized, "Invalid provider access token")
		}
		return mapError(err)
	}
	prof, err := h.Profiles.Upsert(ctx, user.ID, strPtr(user.DisplayName()), strPtr(user.Phone))
	if err != nil {
		return err
	}
	return h.issue(c, user.ID, user.Email, prof.DisplayName)
}

func (h *AuthHandler) GetOAuthToken(c echo.Context) error {
	u, err := mustUser(c)
	if err != nil {
		return err
	}
	provider := strings.ToLower(c.Param("provider"))
	ctx, cancel := reqCtx(c)
	defer cancel()

	t, err := h.OAuthTokens.Get(ctx, u.UserID, provider)
	if errors.Is(err, repository.ErrNotFound) {
		return detail(http.StatusNotFound, "No "+provider+" token found for user")
	}
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{
		"provider":      t.Provider,
		"access_token":  t.AccessToken,
		"refresh_token": t.RefreshToken,
		"expires_at":    t.ExpiresAt,
		"is_expired":    t.IsExpired(time.Now()),
	})
}

func (h *AuthHandler) DeleteOAuthToken(c echo.Context) error {
	u, err := mustUser(c)
	if err != nil {
		return err
	}
	provider := strings.ToLower(c.Param("provider"))
	ctx, cancel := reqCtx(c)
	defer cancel()

	if err := h.OAuthTokens.Delete(ctx, u.UserID, provider); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return detail(http.StatusNotFound, "No "+provider+" token found for user")
		}
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": provider + " token revoked successfully"})
}

type resetPasswordReq struct {
	Email string `json:"email" validate:"required,email"`
}

type updatePasswordReq struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required,min=8,max=100"`
}

type verifyEmailReq struct {
	Token string `json:"token" validate:"required"`
}

// ResetPassword asks the identity provider to mail a reset link pointing at
// the frontend.
func (h *AuthHandler) ResetPassword(c echo.Context) error {
	var req resetPasswordReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.IdP.ResetPassword(ctx, strings.ToLower(req.Email), h.Opts.FrontendURL+"/reset-password"); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Password reset email sent"})
}

func (h *AuthHandler) UpdatePassword(c echo.Context) error {
	var req updatePasswordReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.IdP.UpdatePassword(ctx, req.Token, req.NewPassword); err != nil {
		if errors.Is(err, identity.ErrInvalidToken) {
			return detail(http.StatusBadRequest, "Invalid or expired reset token")
		}
		return mapError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Password updated successfully"})
}

func (h *AuthHandler) VerifyEmail(c echo.Context) error {
	var req verifyEmailReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	user, err := h.IdP.VerifyEmail(ctx, req.Token)
	if err != nil {
		if errors.Is(err, identity.ErrInvalidToken) {
			return detail(http.StatusBadRequest, "Invalid or expired verification token")
		}
		return mapError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Email verified successfully", "user_id": user.ID})
}
