package handler

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/chama-backend/internal/model"
	"github.com/iliyamo/chama-backend/internal/repository"
)

type adminAddReq struct {
	UserID string `json:"user_id" validate:"required,max=64"`
}

// AddAdmin grants admin rights to another user.  RequireGroupAdmin runs
// first.
func (h *GroupHandler) AddAdmin(c echo.Context) error {
	u, err := mustUser(c)
	if err != nil {
		return err
	}
	var req adminAddReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	if _, err := h.Profiles.GetByUserID(ctx, req.UserID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return detail(http.StatusNotFound, "User not found")
		}
		return err
	}
	a := model.Admin{GroupID: c.Param("id"), UserID: req.UserID, AssignedBy: &u.UserID}
	if err := h.Admins.Add(ctx, &a); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, a)
}

func (h *GroupHandler) ListAdmins(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	id := c.Param("id")
	if _, err := h.Groups.GetByID(ctx, id); err != nil {
		return mapError(err)
	}
	admins, err := h.Admins.ListByGroup(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, admins)
}

func (h *GroupHandler) RemoveAdmin(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.Admins.Remove(ctx, c.Param("id"), c.Param("admin_id")); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Admin removed successfully"})
}
