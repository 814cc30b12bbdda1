package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/iliyamo/chama-backend/internal/chain"
)

type prepareGroupReq struct {
	groupCreateReq
	WalletAddress string `json:"wallet_address" validate:"required,wallet"`
}

type createWithTxReq struct {
	groupCreateReq
	WalletAddress string `json:"wallet_address" validate:"required,wallet"`
	TxHash        string `json:"tx_hash" validate:"required"`
}

type txHashReq struct {
	TxHash string `json:"tx_hash" validate:"required"`
}

func (r groupCreateReq) params() chain.GroupParams {
	approval := true
	if r.ApprovalRequired != nil {
		approval = *r.ApprovalRequired
	}
	return chain.GroupParams{
		Name:               r.Name,
		ContributionAmount: r.ContributionAmount,
		MaxMembers:         r.MaxMembers,
		StartDate:          r.StartDate,
		EndDate:            r.EndDate,
		Frequency:          r.ContributionFrequency,
		ApprovalRequired:   approval,
	}
}

// PrepareCreate returns an unsigned factory createGroup transaction for the
// caller's wallet.
func (h *GroupHandler) PrepareCreate(c echo.Context) error {
	if _, err := mustUser(c); err != nil {
		return err
	}
	var req prepareGroupReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	bridge, err := h.bridge()
	if err != nil {
		return mapError(err)
	}
	ctx, cancel := chainCtx(c)
	defer cancel()

	prepared, err := bridge.PrepareCreateGroup(ctx, req.params(), req.WalletAddress)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, prepared)
}

// CreateWithTransaction stores a group whose factory transaction the
// client already signed and sent.  The transaction must have succeeded,
// come from the wallet, target the factory and emit GroupCreated.
func (h *GroupHandler) CreateWithTransaction(c echo.Context) error {
	u, err := mustUser(c)
	if err != nil {
		return err
	}
	var req createWithTxReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	bridge, err := h.bridge()
	if err != nil {
		return mapError(err)
	}
	ctx, cancel := chainCtx(c)
	defer cancel()

	v, err := bridge.VerifyGroupCreation(ctx, req.TxHash, req.WalletAddress)
	if err != nil {
		return mapError(err)
	}

	g := req.group(u.UserID)
	block := int64(v.BlockNumber)
	g.ContractAddress = strPtr(strings.ToLower(v.GroupAddress))
	g.CreationTxHash = strPtr(strings.ToLower(v.TxHash))
	g.CreatorWallet = strPtr(strings.ToLower(req.WalletAddress))
	g.CreationBlockNumber = &block
	g.BlockchainVerified = true
	if err := h.Groups.Create(ctx, &g); err != nil {
		return mapError(err)
	}
	h.log.Info().Str("group_id", g.ID).Str("contract", v.GroupAddress).Uint64("block", v.BlockNumber).
		Msg("on-chain group stored")
	return c.JSON(http.StatusCreated, echo.Map{"group": g, "verification": v})
}

// VerifyTransaction reports the receipt status of any transaction.
func (h *GroupHandler) VerifyTransaction(c echo.Context) error {
	var req txHashReq
	if err := bindValid(c, &req); err != nil {
		return err
	}
	bridge, err := h.bridge()
	if err != nil {
		return mapError(err)
	}
	ctx, cancel := chainCtx(c)
	defer cancel()

	st, err := bridge.TransactionStatus(ctx, req.TxHash)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, st)
}

// BlockchainStatus compares the stored group with its contract.
func (h *GroupHandler) BlockchainStatus(c echo.Context) error {
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
	st, err := bridge.GroupState(ctx, *g.ContractAddress)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{
		"group_id":            g.ID,
		"blockchain_verified": g.BlockchainVerified,
		"creation_tx_hash":    g.CreationTxHash,
		"onchain":             st,
	})
}

// BlockchainHandler serves read-only chain information.
type BlockchainHandler struct {
	Chain Chain
}

func NewBlockchainHandler(bridge Chain) *BlockchainHandler {
	return &BlockchainHandler{Chain: bridge}
}

func (h *BlockchainHandler) Network(c echo.Context) error {
	if h.Chain == nil {
		return mapError(chain.ErrDisabled)
	}
	ctx, cancel := chainCtx(c)
	defer cancel()

	info, err := h.Chain.Network(ctx)
	if err != nil {
		return mapError(err)
	}
	count, err := h.Chain.GroupCount(ctx)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"network": info, "group_count": count})
}

// Groups lists contract addresses deployed by the factory, optionally only
// those created by ?creator=.
func (h *BlockchainHandler) Groups(c echo.Context) error {
	if h.Chain == nil {
		return mapError(chain.ErrDisabled)
	}
	creator := c.QueryParam("creator")
	if creator != "" && !chain.ValidAddress(creator) {
		return mapError(chain.ErrInvalidAddress)
	}
	ctx, cancel := chainCtx(c)
	defer cancel()

	groups, err := h.Chain.FactoryGroups(ctx, creator)
	if err != nil {
		return mapError(err)
	}
	return c.JSON(http.StatusOK, echo.Map{"factory": h.Chain.FactoryAddress(), "groups": groups})
}
