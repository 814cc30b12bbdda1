package handler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/iliyamo/chama-backend/internal/chain"
	"github.com/iliyamo/chama-backend/internal/model"
	"github.com/iliyamo/chama-backend/internal/queue"
	"github.com/iliyamo/chama-backend/internal/repository"
)

type ContributionHandler struct {
	Contributions ContributionStore
	Groups        GroupStore
	Members       MemberStore
	Admins        AdminStore
	Chain         Chain
	notifier
	now func() time.Time
}

func NewContributionHandler(contribs ContributionStore, groups GroupStore, members MemberStore, admins AdminStore,
	bridge Chain, events Events, log zerolog.Logger) *ContributionHandler {
	return &ContributionHandler{Contributions: contribs, Groups: groups, Members: members, Admins: admins,
		Chain: bridge, notifier: notifier{events: events, log: log}, now: time.Now}
}

type contributionCreateReq struct {
	GroupID  string    `json:"group_id" validate:"required"`
	MemberID string    `json:"member_id" validate:"required"`
	Amount   float64   `json:"amount" validate:"required,gt=0"`
	DueDate  time.Time `json:"due_date" validate:"required"`
	Notes    *string   `json:"notes" validate:"omitempty,max=1000"`
}

type contributionUpdateReq struct {
	Amount          *float64   `json:"amount" validate:"omitempty,gt=0"`
	DueDate         *time.Time `json:"due_date"`
	PaidDate        *time.Time `json:"paid_date"`
	Status          *string    `json:"status" validate:"omitempty,oneof=pending completed overdue"`
	TransactionHash *string    `json:"transaction_hash" validate:"omitempty,max=66"`
	Notes           *string    `json:"notes" validate:"omitempty,max=1000"`
}

type payReq struct {
	TransactionHash *string `json:"transaction_hash" validate:"omitempty,max=66"`
}

type preparePaymentReq struct {
	WalletAddress string `json:"wallet_address" validate:"required,wallet"`
}

type confirmPaymentReq struct {
	TxHash        string `json:"tx_hash" validate:"required"`
	WalletAddress string `json:"wallet_address" validate:"required,wallet"`
}

var contributionSorts = []string{"due_date", "amount", "created_at", "status"}

func (h *ContributionHandler) Create(c echo.Context) error {
	var req contributionCreateReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	g, err := h.Groups.GetByID(ctx, req.GroupID)
	if err != nil {
		return mapError(err)
	}
	m, err := h.Members.GetByID(ctx, g.ID, req.MemberID)
	if errors.Is(err, repository.ErrNotFound) {
		return detail(http.StatusNotFound, "Member not found in this group")
	}
	if err != nil {
		return err
	}

	ct := model.Contribution{
		GroupID:  g.ID,
		MemberID: m.ID,
		Amount:   req.Amount,
		DueDate:  req.DueDate.UTC(),
		Status:   model.ContributionPending,
		Notes:    req.Notes,
	}
	if err := h.Contributions.Create(ctx, &ct); err != nil {
		return mapError(err)
	}
	h.notify(ctx, queue.NotificationEvent{
		UserID: m.UserID, GroupID: g.ID, Type: model.NotifyContributionDue,
		Title: "Contribution due",
		Message: fmt.Sprintf("A contribution of %.2f to %s is due on %s",
			ct.Amount, g.Name, ct.DueDate.Format("2006-01-02")),
	})
	return c.JSON(http.StatusCreated, ct)
}

func (h *ContributionHandler) List(c echo.Context) error {
	p, err := listParams(c, "due_date", "asc")
	if err != nil {
		return err
	}
	if err := checkSort(p, contributionSorts...); err != nil {
		return err
	}
	from, err := parseTimeParam(c, "due_date_from")
	if err != nil {
		return err
	}
	to, err := parseTimeParam(c, "due_date_to")
	if err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	out, err := h.Contributions.List(ctx, repository.ContributionFilter{
		ListParams:  p,
		Status:      c.QueryParam("status"),
		GroupID:     c.QueryParam("group_id"),
		MemberID:    c.QueryParam("member_id"),
		DueDateFrom: from,
		DueDateTo:   to,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *ContributionHandler) Get(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	ct, err := h.Contributions.GetByID(ctx, c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, ct)
}

// requireAdmin loads the contribution and checks the caller administers
// its group.
func (h *ContributionHandler) requireAdmin(ctx context.Context, c echo.Context) (model.Contribution, error) {
	u, err := mustUser(c)
	if err != nil {
		return model.Contribution{}, err
	}
	ct, err := h.Contributions.GetByID(ctx, c.Param("id"))
	if err != nil {
		return ct, mapError(err)
	}
	ok, err := h.Admins.IsAdmin(ctx, ct.GroupID, u.UserID)
	if err != nil {
		return ct, err
	}
	if !ok {
		return ct, detail(http.StatusForbidden, "Only group admins can perform this action")
	}
	return ct, nil
}

// Update applies a partial update.  The status follows the paid and due
// dates unless set explicitly.
func (h *ContributionHandler) Update(c echo.Context) error {
	var req contributionUpdateReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	ct, err := h.requireAdmin(ctx, c)
	if err != nil {
		return err
	}
	wasPaid := ct.Status == model.ContributionCompleted
	ct.Apply(model.ContributionUpdate{
		Amount:          req.Amount,
		DueDate:         req.DueDate,
		PaidDate:        req.PaidDate,
		Status:          req.Status,
		TransactionHash: req.TransactionHash,
		Notes:           req.Notes,
	}, h.now().UTC())
	if err := h.Contributions.Save(ctx, &ct); err != nil {
		return mapError(err)
	}
	if !wasPaid && ct.Status == model.ContributionCompleted {
		h.paid(ctx, ct)
	}
	return c.JSON(http.StatusOK, ct)
}

func (h *ContributionHandler) Delete(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()

	ct, err := h.requireAdmin(ctx, c)
	if err != nil {
		return err
	}
	if err := h.Contributions.Delete(ctx, ct.ID); err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Contribution deleted successfully"})
}

// Pay records an off-chain payment.
func (h *ContributionHandler) Pay(c echo.Context) error {
	var req payReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	ct, err := h.Contributions.GetByID(ctx, c.Param("id"))
	if err != nil {
		return mapError(err)
	}
	if ct.Status == model.ContributionCompleted {
		return detail(http.StatusBadRequest, "Contribution is already paid")
	}
	now := h.now().UTC()
	ct.Apply(model.ContributionUpdate{PaidDate: &now, TransactionHash: req.TransactionHash}, now)
	if err := h.Contributions.Save(ctx, &ct); err != nil {
		return mapError(err)
	}
	h.paid(ctx, ct)
	return c.JSON(http.StatusOK, ct)
}

func (h *ContributionHandler) paid(ctx context.Context, ct model.Contribution) {
	m, err := h.Members.GetByMemberID(ctx, ct.MemberID)
	if err != nil {
		h.log.Warn().Err(err).Str("contribution_id", ct.ID).Msg("load member for notification")
		return
	}
	h.notify(ctx, queue.NotificationEvent{
		UserID: m.UserID, GroupID: ct.GroupID, Type: model.NotifyPaymentReceived,
		Title:   "Payment received",
		Message: fmt.Sprintf("Your contribution of %.2f was recorded", ct.Amount),
	})
}

func (h *ContributionHandler) ListByGroup(c echo.Context) error {
	p, err := listParams(c, "due_date", "asc")
	if err != nil {
		return err
	}
	if err := checkSort(p, "due_date", "amount", "created_at"); err != nil {
		return err
	}
	ctx, cancel := reqCtx(c)
	defer cancel()

	groupID := c.Param("group_id")
	if _, err := h.Groups.GetByID(ctx, groupID); err != nil {
		return mapError(err)
	}
	out, err := h.Contributions.List(ctx, repository.ContributionFilter{
		ListParams: p,
		GroupID:    groupID,
		Status:     c.QueryParam("status"),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

func (h *ContributionHandler) Summary(c echo.Context) error {
	ctx, cancel := reqCtx(c)
	defer cancel()

	groupID := c.Param("group_id")
	if _, err := h.Groups.GetByID(ctx, groupID); err != nil {
		return mapError(err)
	}
	s, err := h.Contributions.Summary(ctx, groupID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, s)
}

func (h *ContributionHandler) ListByUser(c echo.Context) error {
	return h.listByUser(c, false)
}

func (h *ContributionHandler) Overdue(c echo.Context) error {
	return h.listByUser(c, true)
}

func (h *ContributionHandler) listByUser(c echo.Context, overdueOnly bool) error {
	ctx, cancel := reqCtx(c)
	defer cancel()
	out, err := h.Contributions.ListByUser(ctx, c.Param("user_id"), overdueOnly, h.now())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, out)
}

// paymentTarget is what an on-chain payment is checked against.
type paymentTarget struct {
	bridge   Chain
	ct       model.Contribution
	contract string
	wallet   string // the contributing member's wallet
}

// onChainTarget resolves the contract a contribution is paid into and
// requires wallet to be the contributing member's registered wallet.
func (h *ContributionHandler) onChainTarget(ctx context.Context, c echo.Context, wallet string) (paymentTarget, error) {
	if h.Chain == nil {
		return paymentTarget{}, mapError(chain.ErrDisabled)
	}
	ct, err := h.Contributions.GetByID(ctx, c.Param("id"))
	if err != nil {
		return paymentTarget{}, mapError(err)
	}
	if ct.Status == model.ContributionCompleted {
		return paymentTarget{}, detail(http.StatusBadRequest, "Contribution is already paid")
	}
	g, err := h.Groups.GetByID(ctx, ct.GroupID)
	if err != nil {
		return paymentTarget{}, mapError(err)
	}
	if !g.OnChain() {
		return paymentTarget{}, detail(http.StatusBadRequest, "Group is not deployed on the blockchain")
	}
	m, err := h.Members.GetByMemberID(ctx, ct.MemberID)
	if err != nil {
		return paymentTarget{}, mapError(err)
	}
	if !sameWallet(m.WalletAddress, wallet) {
		return paymentTarget{}, detail(http.StatusBadRequest, "Wallet address does not match the contributing member")
	}
	return paymentTarget{bridge: h.Chain, ct: ct, contract: *g.ContractAddress, wallet: *m.WalletAddress}, nil
}

// PreparePayment returns an unsigned contribute() transaction carrying the
// contribution amount in wei.
func (h *ContributionHandler) PreparePayment(c echo.Context) error {
	var req preparePaymentReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	ctx, cancel := chainCtx(c)
	defer cancel()

	t, err := h.onChainTarget(ctx, c, req.WalletAddress)
	if err != nil {
		return err
	}
	wei := chain.ToWei(t.ct.Amount)
	prepared, err := t.bridge.PrepareContribute(ctx, t.contract, t.wallet, wei)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"contribution_id": t.ct.ID,
		"amount":          t.ct.Amount,
		"amount_wei":      wei.String(),
		"transaction":     prepared.Transaction,
		"estimated_gas":   prepared.EstimatedGas,
		"message":         prepared.Message,
	})
}

// ConfirmPayment verifies the signed contribute() transaction and marks the
// contribution completed.
func (h *ContributionHandler) ConfirmPayment(c echo.Context) error {
	var req confirmPaymentReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	ctx, cancel := chainCtx(c)
	defer cancel()

	t, err := h.onChainTarget(ctx, c, req.WalletAddress)
	if err != nil {
		return err
	}
	v, err := t.bridge.VerifyContribution(ctx, req.TxHash, t.contract, t.wallet, chain.ToWei(t.ct.Amount))
	if err != nil {
		return mapError(err)
	}
	ct := t.ct
	now := h.now().UTC()
	hash := strings.ToLower(v.TxHash)
	ct.Apply(model.ContributionUpdate{PaidDate: &now, TransactionHash: &hash}, now)
	if err := h.Contributions.Save(ctx, &ct); err != nil {
		return mapError(err)
	}
	h.paid(ctx, ct)
	return c.JSON(http.StatusOK, echo.Map{"contribution": ct, "verification": v})
}
