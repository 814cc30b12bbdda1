package middleware

import "github.com/labstack/echo/v4"

// currentUserID keys rate-limit buckets.  Requests without a resolved
// session share the "anon" bucket for their IP.
func currentUserID(c echo.Context) string {
	if u, ok := CurrentUser(c); ok && u.UserID != "" {
		return u.UserID
	}
	if s, ok := c.Get("user_id").(string); ok && s != "" {
		return s
	}
	return "anon"
}
