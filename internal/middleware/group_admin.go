package middleware

import (
	"context"
	"net/http"

	"github.com/labstack/echo/v4"
)

// GroupAccess answers the two questions RequireGroupAdmin asks.
type GroupAccess interface {
	GroupExists(ctx context.Context, groupID string) (bool, error)
	IsAdmin(ctx context.Context, groupID, userID string) (bool, error)
}

// RequireGroupAdmin aborts with 404 when the group named by the path
// parameter does not exist and 403 when the caller is not one of its
// admins.  It must run after RequireUser.
func RequireGroupAdmin(access GroupAccess, param string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			u, ok := CurrentUser(c)
			if !ok {
				return unauthorized(c, "Not authenticated - no token found")
			}
			groupID := c.Param(param)
			ctx := c.Request().Context()

			exists, err := access.GroupExists(ctx, groupID)
			if err != nil {
				return err
			}
			if !exists {
				return echo.NewHTTPError(http.StatusNotFound, "Group not found")
			}
			admin, err := access.IsAdmin(ctx, groupID, u.UserID)
			if err != nil {
				return err
			}
			if !admin {
				return echo.NewHTTPError(http.StatusForbidden, "Only group admins can perform this action")
			}
			return next(c)
		}
	}
}
