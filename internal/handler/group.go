package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/chama-backend/internal/chain"
	"github.com/iliyamo/chama-backend/internal/model"
	"github.com/iliyamo/chama-backend/internal/queue"
	"github.com/iliyamo/chama-backend/internal/repository"
)

// GroupHandler serves groups, their members and admins, and the
// blockchain-assisted group lifecycle.
type GroupHandler struct {
	Groups   GroupStore
	Members  MemberStore
	Admins   AdminStore
	Profiles ProfileStore
	Chain    Chain // nil when the bridge is disabled
	notifier
}

func NewGroupHandler(groups GroupStore, members MemberStore, admins AdminStore, profiles ProfileStore,
	bridge Chain, events Events, log zerolog.Logger) *GroupHandler {
	return &GroupHandler{Groups: groups, Members: members, Admins: admins, Profiles: profiles,
		Chain: bridge, notifier: notifier{events: events, log: log}}
}

type groupCreateReq struct {
	Name                     string     `json:"name" validate:"required,min=1,max=255"`
	Description              *string    `json:"description" validate:"omitempty,max=2000"`
	ContributionAmount       float64    `json:"contribution_amount" validate:"required,gt=0"`
	ContributionFrequency    string     `json:"contribution_frequency" validate:"omitempty,max=50"`
	MaxMembers               int        `json:"max_members" validate:"required,min=3,max=100"`
	StartDate                *time.Time `json:"start_date"`
	EndDate                  *time.Time `json:"end_date"`
	ApprovalRequired         *bool      `json:"approval_required"`
	EmergencyWithdrawAllowed bool       `json:"emergency_withdraw_allowed"`
}

func (r groupCreateReq) group(creator string) model.Group {
	g := model.Group{
		Name:                     r.Name,
		Description:              r.Description,
		ContributionAmount:       r.ContributionAmount,
		ContributionFrequency:    r.ContributionFrequency,
		MaxMembers:               r.MaxMembers,
		EndDate:                  r.EndDate,
		CreatedBy:                creator,
		ApprovalRequired:         true,
		EmergencyWithdrawAllowed: r.EmergencyWithdrawAllowed,
	}
	if g.ContributionFrequency == "" {
		g.ContributionFrequency = "weekly"
	}
	if r.ApprovalRequired != nil {
		g.ApprovalRequired = *r.ApprovalRequired
	}
	if r.StartDate != nil {
		g.StartDate = r.StartDate.UTC()
	} else {
		g.StartDate = time.Now().UTC()
	}
	return g
}

type groupUpdateReq struct {
	Name                     *string    `json:"name" validate:"omitempty,min=1,max=255"`
	Description              *string    `json:"description" validate:"omitempty,max=2000"`
	ContributionAmount       *float64   `json:"contribution_amount" validate:"omitempty,gt=0"`
	ContributionFrequency    *string    `json:"contribution_frequency" validate:"omitempty,max=50"`
	MaxMembers               *int       `json:"max_members" validate:"omitempty,min=3,max=100"`
	StartDate                *time.Time `json:"start_date"`
	EndDate                  *time.Time `json:"end_date"`
	Status                   *string    `json:"status" validate:"omitempty,oneof=active inactive completed"`
	ApprovalRequired         *bool      `json:"approval_required"`
	EmergencyWithdrawAllowed *bool      `json:"emergency_withdraw_allowed"`
}

func (h *GroupHandler) Create(c echo.Context) error {
	u, err := mustUser(c)
	if err != nil {
		return err
	}
	var req groupCreateReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	g := req.group(u.UserID)
	if err := h.Groups.Create(ctx, &g); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusCreated, g)
}

func (h *GroupHandler) List(c echo.Context) error {
	p, err := listParams(c, "created_at", "desc")
	if err != nil {
		return err
	}
	if err := checkSort(p, "created_at", "name", "start_date", "contribution_amount"); err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	groups, err := h.Groups.List(ctx, repository.GroupFilter{
		ListParams: p,
		Status:     c.QueryParam("status"),
		Search:     c.QueryParam("search"),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, groups)
}

// Get returns the group with its members and admins.
func (h *GroupHandler) Get(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()

	id := c.Param("id")
	g, err := h.Groups.GetByID(ctx, id)
	if err != nil {
		return mapError(err)
	}
	members, err := h.Members.ListByGroup(ctx, id)
	if err != nil {
		return err
	}
	admins, err := h.Admins.ListByGroup(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, model.GroupDetail{Group: g, Members: members, Admins: admins})
}

// Update is admin only; RequireGroupAdmin runs first.
func (h *GroupHandler) Update(c echo.Context) error {
	var req groupUpdateReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	id := c.Param("id")
	g, err := h.Groups.Update(ctx, id, model.GroupUpdate{
		Name:                     req.Name,
		Description:              req.Description,
		ContributionAmount:       req.ContributionAmount,
		ContributionFrequency:    req.ContributionFrequency,
		MaxMembers:               req.MaxMembers,
		StartDate:                req.StartDate,
		EndDate:                  req.EndDate,
		Status:                   req.Status,
		ApprovalRequired:         req.ApprovalRequired,
		EmergencyWithdrawAllowed: req.EmergencyWithdrawAllowed,
	})
	if err != nil {
		return mapError(err)
	}
	h.notifyMembers(ctx, g, model.NotifyGroupUpdate, "Group updated", g.Name+" settings were updated")
	return c.JSON(http.StatusOK, g)
}

func (h *GroupHandler) Delete(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.Groups.Delete(ctx, c.Param("id")); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Group deleted successfully"})
}

// ListForUser returns the groups where the user is an active member.
func (h *GroupHandler) ListForUser(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	groups, err := h.Groups.ListForUser(ctx, c.Param("user_id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, groups)
}

// notifyMembers fans an event out to every active member of g.
func (h *GroupHandler) notifyMembers(ctx context.Context, g model.Group, typ, title, msg string) {
	if h.events == nil {
		return
	}
	members, err := h.Members.ListByGroup(ctx, g.ID)
	if err != nil {
		h.log.Warn().Err(err).Str("group_id", g.ID).Msg("list members for notification")
		return
	}
	evs := make([]queue.NotificationEvent, 0, len(members))
	for _, m := range members {
		if m.Status != model.MemberActive {
			continue
		}
		evs = append(evs, queue.NotificationEvent{
			UserID: m.UserID, GroupID: g.ID, Type: typ, Title: title, Message: msg,
		})
	}
	h.notify(ctx, evs...)
}

// chainCtx bounds a request that talks to the node.
func chainCtx(c echo.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.Request().Context(), chainTimeout)
}

func (h *GroupHandler) bridge() (Chain, error) {
	if h.Chain == nil {
		return nil, chain.ErrDisabled
	}
	return h.Chain, nil
}
