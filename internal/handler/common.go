package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/chama-backend/internal/middleware"
	"github.com/iliyamo/chama-backend/internal/model"
	"github.com/iliyamo/chama-backend/internal/queue"
	"github.com/iliyamo/chama-backend/internal/repository"
	"github.com/iliyamo/chama-backend/internal/service"
)

const requestTimeout = 5 * time.Second

// chainTimeout is longer: node calls include gas estimation and receipt
// lookups.
const chainTimeout = 20 * time.Second

func reqCtx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), requestTimeout)
}

// CookiePolicy decides the session cookie attributes.
type CookiePolicy struct {
	Secure   bool
	SameSite http.SameSite
}

// CookiePolicyFor returns Secure + SameSite=None in production and
// SameSite=Lax otherwise.
func CookiePolicyFor(production bool) CookiePolicy {
	if production {
		return CookiePolicy{Secure: true, SameSite: http.SameSiteNoneMode}
	}
	return CookiePolicy{SameSite: http.SameSiteLaxMode}
}

func (p CookiePolicy) set(c echo.Context, name, value string, maxAge time.Duration) {
	c.SetCookie(&http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: true,
		Secure:   p.Secure,
		SameSite: p.SameSite,
	})
}

func (p CookiePolicy) setSession(c echo.Context, pair service.TokenPair, accessTTL time.Duration) {
	p.set(c, middleware.AccessCookie, pair.Access.Token, accessTTL)
	p.set(c, middleware.RefreshCookie, pair.Refresh.Token, service.RefreshTTL)
}

func (p CookiePolicy) clearSession(c echo.Context) {
	for _, name := range []string{middleware.AccessCookie, middleware.RefreshCookie} {
		c.SetCookie(&http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			MaxAge:   -1,
			Expires:  time.Unix(0, 0),
			HttpOnly: true,
			Secure:   p.Secure,
			SameSite: p.SameSite,
		})
	}
}

// mustUser returns the caller resolved by middleware.RequireUser.
func mustUser(c echo.Context) (model.CurrentUser, error) {
	u, ok := middleware.CurrentUser(c)
	if !ok {
		return model.CurrentUser{}, detail(http.StatusUnauthorized, service.ErrNoToken.Error())
	}
	return u, nil
}

// listParams reads skip, limit, sort_by and sort_order.  Out of range
// values are a 400, matching the documented bounds.
func listParams(c echo.Context, defSort, defOrder string) (repository.ListParams, error) {
	p := repository.ListParams{Skip: 0, Limit: repository.DefaultLimit, SortBy: defSort, SortOrder: defOrder}
	if v := c.QueryParam("skip"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return p, detail(http.StatusBadRequest, "skip must be >= 0")
		}
		p.Skip = n
	}
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > repository.MaxLimit {
			return p, detail(http.StatusBadRequest, "limit must be between 1 and 100")
		}
		p.Limit = n
	}
	if v := c.QueryParam("sort_by"); v != "" {
		p.SortBy = v
	}
	if v := c.QueryParam("sort_order"); v != "" {
		if v != "asc" && v != "desc" {
			return p, detail(http.StatusBadRequest, "sort_order must be asc or desc")
		}
		p.SortOrder = v
	}
	return p, nil
}

func checkSort(p repository.ListParams, allowed ...string) error {
	for _, a := range allowed {
		if p.SortBy == a {
			return nil
		}
	}
	return detail(http.StatusBadRequest, "invalid sort_by")
}

func parseTimeParam(c echo.Context, name string) (*time.Time, error) {
	v := c.QueryParam(name)
	if v == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, v); err == nil {
			return &t, nil
		}
	}
	return nil, detail(http.StatusBadRequest, name+" must be an ISO-8601 date")
}

// notifier publishes best effort; failures are only logged.
type notifier struct {
	events Events
	log    zerolog.Logger
}

func (n notifier) notify(ctx context.Context, evs ...queue.NotificationEvent) {
	if n.events == nil || len(evs) == 0 {
		return
	}
	// detached so a finished request does not cancel the publish
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
	defer cancel()
	if err := n.events.Publish(pubCtx, evs...); err != nil {
		n.log.Warn().Err(err).Int("events", len(evs)).Msg("notification publish failed")
	}
}

// sameWallet reports whether a stored wallet matches the one a client
// supplied.  A member without a stored wallet matches nothing.
func sameWallet(stored *string, supplied string) bool {
	return stored != nil && *stored != "" && strings.EqualFold(*stored, supplied)
}

func strPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
