package handler

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
)

type NotificationHandler struct {
	Notifications NotificationStore
}

func NewNotificationHandler(store NotificationStore) *NotificationHandler {
	return &NotificationHandler{Notifications: store}
}

// List returns the caller's notifications, newest first.  ?unread=true
// keeps only unread ones.
func (h *NotificationHandler) List(c echo.Context) error {
	u, err := mustUser(c)
	if err != nil {
		return err
	}
	p, err := listParams(c, "created_at", "desc")
	if err != nil {
		return err
	}
	unread := false
	if v := c.QueryParam("unread"); v != "" {
		if unread, err = strconv.ParseBool(v); err != nil {
			return detail(http.StatusBadRequest, "unread must be true or false")
		}
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	out, err := h.Notifications.ListForUser(ctx, u.UserID, unread, p)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *NotificationHandler) MarkRead(c echo.Context) error {
	u, err := mustUser(c)
	if err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.Notifications.MarkRead(ctx, u.UserID, c.Param("id")); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Notification marked as read"})
}
