package handler

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/chama-backend/internal/chain"
	"github.com/iliyamo/chama-backend/internal/model"
	"github.com/iliyamo/chama-backend/internal/queue"
	"github.com/iliyamo/chama-backend/internal/repository"
)

type memberAddReq struct {
	UserID        string `json:"user_id" validate:"omitempty,max=64"`
	WalletAddress string `json:"wallet_address" validate:"omitempty,wallet"`
}

type memberStatusReq struct {
	Status string `json:"status" validate:"required,oneof=active inactive pending"`
}

type joinTxReq struct {
	WalletAddress string `json:"wallet_address" validate:"required,wallet"`
}

type confirmJoinReq struct {
	TxHash        string `json:"tx_hash" validate:"required"`
	WalletAddress string `json:"wallet_address" validate:"required,wallet"`
}

// joinResponse is returned when membership needs an on-chain signature.
type joinResponse struct {
	RequiresSignature bool             `json:"requires_signature"`
	Member            model.Member     `json:"member"`
	Transaction       chain.UnsignedTx `json:"transaction"`
	EstimatedGas      uint64           `json:"estimated_gas"`
	Message           string           `json:"message"`
}

// AddMember adds user_id (default: the caller) to the group.  Adding
// someone else requires group admin rights.  Groups backed by a contract
// get a pending member and an unsigned join transaction.
func (h *GroupHandler) AddMember(c echo.Context) error {
	u, err := mustUser(c)
	if err != nil {
		return err
	}
	var req memberAddReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	target := strings.TrimSpace(req.UserID)
	if target == "" {
		target = u.UserID
	}

	ctx, cancel := chainCtx(c)
	defer cancel()

	g, err := h.Groups.GetByID(ctx, c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	if target != u.UserID {
		ok, err := h.Admins.IsAdmin(ctx, g.ID, u.UserID)
		if err != nil {
			return err
		}
		if !ok {
			return detail(http.StatusForbidden, "Only group admins can perform this action")
		}
	}
	if _, err := h.Profiles.GetByUserID(ctx, target); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return detail(http.StatusNotFound, "User not found")
		}
		return err
	}
	return h.join(ctx, c, g, target, req.WalletAddress)
}

// JoinTransaction is AddMember for the caller of an on-chain group.
func (h *GroupHandler) JoinTransaction(c echo.Context) error {
	u, err := mustUser(c)
	if err != nil {
		return err
	}
	var req joinTxReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	ctx, cancel := chainCtx(c)
	defer cancel()

	g, err := h.Groups.GetByID(ctx, c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	if !g.OnChain() {
		return detail(http.StatusBadRequest, "Group is not deployed on the blockchain")
	}
	return h.join(ctx, c, g, u.UserID, req.WalletAddress)
}

func (h *GroupHandler) join(ctx context.Context, c echo.Context, g model.Group, userID, wallet string) error {
	m := model.Member{GroupID: g.ID, UserID: userID, WalletAddress: strPtr(wallet)}
	if !g.OnChain() {
		m.Status = model.MemberActive
		if err := h.Members.Add(ctx, &m, g.MaxMembers); err != nil {
			return mapError(err)
		}
		h.notify(ctx, queue.NotificationEvent{
			UserID: userID, GroupID: g.ID, Type: model.NotifyGroupUpdate,
			Title: "Joined group", Message: "You are now a member of " + g.Name,
		})
		return c.JSON(http.StatusCreated, m)
	}

	bridge, err := h.bridge()
	if err != nil {
		return mapError(err)
	}
	if wallet == "" {
		return detail(http.StatusBadRequest, "wallet_address is required to join a blockchain group")
	}
	m.Status = model.MemberPending
	if err := h.Members.Add(ctx, &m, g.MaxMembers); err != nil {
		return mapError(err)
	}
	prepared, err := bridge.PrepareJoin(ctx, *g.ContractAddress, wallet)
	if err != nil {
		// without a transaction the pending row could never be confirmed
		if rmErr := h.Members.Remove(context.WithoutCancel(ctx), g.ID, m.ID); rmErr != nil {
			h.log.Error().Err(rmErr).Str("member_id", m.ID).Msg("remove pending member")
		}
		return mapError(err)
	}
	return c.JSON(http.StatusOK, joinResponse{
		RequiresSignature: true,
		Member:            m,
		Transaction:       prepared.Transaction,
		EstimatedGas:      prepared.EstimatedGas,
		Message:           prepared.Message,
	})
}

// ConfirmMember verifies the caller's signed join transaction and
// activates their pending membership.
func (h *GroupHandler) ConfirmMember(c echo.Context) error {
	u, err := mustUser(c)
	if err != nil {
		return err
	}
	var req confirmJoinReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	bridge, err := h.bridge()
	if err != nil {
		return mapError(err)
	}
	ctx, cancel := chainCtx(c)
	defer cancel()

	g, err := h.Groups.GetByID(ctx, c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	if !g.OnChain() {
		return detail(http.StatusBadRequest, "Group is not deployed on the blockchain")
	}
	m, err := h.Members.GetByGroupAndUser(ctx, g.ID, u.UserID)
	if err != nil {
		return mapError(err)
	}
	if m.Status == model.MemberActive {
		return detail(http.StatusBadRequest, "Membership is already active")
	}
	// the join must come from the wallet registered when the row was created
	if !sameWallet(m.WalletAddress, req.WalletAddress) {
		return detail(http.StatusBadRequest, "Wallet address does not match the pending membership")
	}
	v, err := bridge.VerifyJoin(ctx, req.TxHash, *g.ContractAddress, *m.WalletAddress)
	if err != nil {
		return mapError(err)
	}
	if err := h.Members.Activate(ctx, m.ID, strings.ToLower(*m.WalletAddress), strings.ToLower(v.TxHash)); err != nil {
		return mapError(err)
	}
	m, err = h.Members.GetByMemberID(ctx, m.ID)
	if err != nil {
		return err
	}
	h.notify(ctx, queue.NotificationEvent{
		UserID: u.UserID, GroupID: g.ID, Type: model.NotifyGroupUpdate,
		Title: "Membership confirmed", Message: "Your membership in " + g.Name + " is confirmed on-chain",
	})
	return c.JSON(http.StatusOK, echo.Map{"member": m, "verification": v})
}

func (h *GroupHandler) ListMembers(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	id := c.Param("id")
	if _, err := h.Groups.GetByID(ctx, id); err != nil {
		return mapError(err)
	}
	members, err := h.Members.ListByGroup(ctx, id)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, members)
}

func (h *GroupHandler) UpdateMemberStatus(c echo.Context) error {
	var req memberStatusReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()
	m, err := h.Members.UpdateStatus(ctx, c.Param("id"), c.Param("member_id"), req.Status)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, m)
}

func (h *GroupHandler) RemoveMember(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	if err := h.Members.Remove(ctx, c.Param("id"), c.Param("member_id")); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Member removed successfully"})
}
