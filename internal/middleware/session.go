package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/chama-backend/internal/model"
	"github.com/iliyamo/chama-backend/internal/repository"
	"github.com/iliyamo/chama-backend/internal/service"
)

// Cookie names carrying the session tokens.
const (
	AccessCookie  = "access_token"
	RefreshCookie = "refresh_token"
)

const currentUserKey = "current_user"

// UserResolver turns an access token into the calling user.
// *service.TokenService satisfies it.
type UserResolver interface {
	CurrentUser(ctx context.Context, token string) (model.CurrentUser, error)
	LookupUser(ctx context.Context, token string) service.Lookup
}

// AccessToken reads the access token from its cookie, falling back to an
// "Authorization: Bearer" header.
func AccessToken(c echo.Context) string {
	if ck, err := c.Cookie(AccessCookie); err == nil && ck.Value != "" {
		return ck.Value
	}
	return BearerToken(c)
}

// BearerToken returns the raw bearer credential or "".
func BearerToken(c echo.Context) string {
	auth := c.Request().Header.Get(echo.HeaderAuthorization)
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return ""
}

// CurrentUser returns the user stored by OptionalUser or RequireUser.
func CurrentUser(c echo.Context) (model.CurrentUser, bool) {
	u, ok := c.Get(currentUserKey).(model.CurrentUser)
	return u, ok
}

func setUser(c echo.Context, u model.CurrentUser) {
	c.Set(currentUserKey, u)
	c.Set("user_id", u.UserID)
}

// OptionalUser resolves the caller when a token is present and leaves the
// request anonymous otherwise.  Only infrastructure failures abort.
func OptionalUser(r UserResolver, log zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			tok := AccessToken(c)
			if tok == "" {
				return next(c)
			}
			res := r.LookupUser(c.Request().Context(), tok)
			switch res.State {
			case service.UserFound:
				setUser(c, res.User)
			case service.LookupFailed:
				log.Error().Err(res.Err).Msg("optional user lookup failed")
				return echo.NewHTTPError(http.StatusInternalServerError, "Internal server error")
			}
			return next(c)
		}
	}
}

// RequireUser rejects the request unless it carries a valid access token
// belonging to a user with a profile.
func RequireUser(r UserResolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if _, ok := CurrentUser(c); ok {
				return next(c)
			}
			u, err := r.CurrentUser(c.Request().Context(), AccessToken(c))
			switch {
			case err == nil:
				setUser(c, u)
				return next(c)
			case errors.Is(err, service.ErrNoToken):
				return unauthorized(c, service.ErrNoToken.Error())
			case errors.Is(err, service.ErrUnauthorized):
				return unauthorized(c, "Could not validate credentials")
			case errors.Is(err, repository.ErrProfileNotFound):
				return echo.NewHTTPError(http.StatusNotFound, "User profile not found")
			default:
				return err
			}
		}
	}
}

func unauthorized(c echo.Context, detail string) error {
	c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
	return echo.NewHTTPError(http.StatusUnauthorized, detail)
}
