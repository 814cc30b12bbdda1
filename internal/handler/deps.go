package handler

import (
	"context"
	"math/big"
	"time"

	"github.com/iliyamo/chama-backend/internal/chain"
	"github.com/iliyamo/chama-backend/internal/model"
	"github.com/iliyamo/chama-backend/internal/queue"
	"github.com/iliyamo/chama-backend/internal/repository"
	"github.com/iliyamo/chama-backend/internal/service"
	"github.com/iliyamo/chama-backend/internal/utils"
)

// Sessions issues and checks the service's own tokens.
// *service.TokenService satisfies it.
type Sessions interface {
	AccessTTL() time.Duration
	IssuePair(ctx context.Context, userID, email string) (service.TokenPair, error)
	ValidateRefreshToken(ctx context.Context, token string) (utils.Claims, error)
	RevokeRefreshToken(ctx context.Context, token string)
	VerifyToken(token string) (utils.Claims, error)
}

type ProfileStore interface {
	GetByUserID(ctx context.Context, userID string) (model.Profile, error)
	Create(ctx context.Context, userID string, displayName, phone *string) (model.Profile, error)
	Upsert(ctx context.Context, userID string, displayName, phone *string) (model.Profile, error)
	Update(ctx context.Context, userID string, u model.ProfileUpdate) (model.Profile, error)
}

type OAuthTokenStore interface {
	Upsert(ctx context.Context, t model.OAuthToken) error
	Get(ctx context.Context, userID, provider string) (model.OAuthToken, error)
	Delete(ctx context.Context, userID, provider string) error
}

type GroupStore interface {
	Create(ctx context.Context, g *model.Group) error
	GetByID(ctx context.Context, id string) (model.Group, error)
	List(ctx context.Context, f repository.GroupFilter) ([]model.GroupSummary, error)
	ListForUser(ctx context.Context, userID string) ([]model.GroupSummary, error)
	Update(ctx context.Context, id string, u model.GroupUpdate) (model.Group, error)
	Delete(ctx context.Context, id string) error
}

type MemberStore interface {
	Add(ctx context.Context, m *model.Member, maxMembers int) error
	GetByID(ctx context.Context, groupID, memberID string) (model.Member, error)
	GetByMemberID(ctx context.Context, memberID string) (model.Member, error)
	GetByGroupAndUser(ctx context.Context, groupID, userID string) (model.Member, error)
	ListByGroup(ctx context.Context, groupID string) ([]model.Member, error)
	UpdateStatus(ctx context.Context, groupID, memberID, status string) (model.Member, error)
	Activate(ctx context.Context, memberID, wallet, txHash string) error
	Remove(ctx context.Context, groupID, memberID string) error
}

type AdminStore interface {
	IsAdmin(ctx context.Context, groupID, userID string) (bool, error)
	Add(ctx context.Context, a *model.Admin) error
	ListByGroup(ctx context.Context, groupID string) ([]model.Admin, error)
	Remove(ctx context.Context, groupID, adminID string) error
}

type ContributionStore interface {
	Create(ctx context.Context, c *model.Contribution) error
	GetByID(ctx context.Context, id string) (model.Contribution, error)
	List(ctx context.Context, f repository.ContributionFilter) ([]model.Contribution, error)
	ListByUser(ctx context.Context, userID string, overdueOnly bool, now time.Time) ([]model.Contribution, error)
	Save(ctx context.Context, c *model.Contribution) error
	Delete(ctx context.Context, id string) error
	Summary(ctx context.Context, groupID string) (model.ContributionSummary, error)
}

type NotificationStore interface {
	ListForUser(ctx context.Context, userID string, unreadOnly bool, p repository.ListParams) ([]model.Notification, error)
	MarkRead(ctx context.Context, userID, id string) error
}

// Chain is the blockchain bridge as seen by the handlers.  A nil Chain
// means the integration is disabled.  *chain.Bridge satisfies it.
type Chain interface {
	FactoryAddress() string
	PrepareCreateGroup(ctx context.Context, p chain.GroupParams, creator string) (chain.PreparedTx, error)
	PrepareJoin(ctx context.Context, group, user string) (chain.PreparedTx, error)
	PrepareContribute(ctx context.Context, group, user string, amountWei *big.Int) (chain.PreparedTx, error)
	VerifyGroupCreation(ctx context.Context, txHash, creator string) (chain.Verification, error)
	VerifyJoin(ctx context.Context, txHash, group, user string) (chain.Verification, error)
	VerifyContribution(ctx context.Context, txHash, group, user string, expectedWei *big.Int) (chain.Verification, error)
	TransactionStatus(ctx context.Context, txHash string) (chain.TxStatus, error)
	GroupState(ctx context.Context, group string) (chain.GroupState, error)
	Network(ctx context.Context) (chain.NetworkInfo, error)
	FactoryGroups(ctx context.Context, creator string) ([]string, error)
	GroupCount(ctx context.Context) (uint64, error)
}

// Events publishes notification events.  *queue.Publisher satisfies it,
// including a nil one.
type Events interface {
	Publish(ctx context.Context, events ...queue.NotificationEvent) error
}
