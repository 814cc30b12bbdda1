package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/chama-backend/internal/model"
)

type ProfileHandler struct {
	Profiles ProfileStore
}

func NewProfileHandler(profiles ProfileStore) *ProfileHandler {
	return &ProfileHandler{Profiles: profiles}
}

type profileUpdateReq struct {
	DisplayName *string `json:"display_name" validate:"omitempty,max=100"`
	Bio         *string `json:"bio" validate:"omitempty,max=500"`
	AvatarURL   *string `json:"avatar_url" validate:"omitempty,url,max=500"`
	PhoneNumber *string `json:"phone_number" validate:"omitempty,max=20"`
	Location    *string `json:"location" validate:"omitempty,max=100"`
}

// Me returns the caller's profile as loaded by RequireUser.
func (h *ProfileHandler) Me(c echo.Context) error {
	u, err := mustUser(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, u.Profile)
}

func (h *ProfileHandler) UpdateMe(c echo.Context) error {
	u, err := mustUser(c)
	if err != nil {
		return err
	}
	var req profileUpdateReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	p, err := h.Profiles.Update(ctx, u.UserID, model.ProfileUpdate{
		DisplayName: req.DisplayName,
		Bio:         req.Bio,
		AvatarURL:   req.AvatarURL,
		PhoneNumber: req.PhoneNumber,
		Location:    req.Location,
	})
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, p)
}

func (h *ProfileHandler) Get(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	p, err := h.Profiles.GetByUserID(ctx, c.Param("user_id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, p)
}
