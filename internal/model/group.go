package model

import "time"

// Group statuses.
const (
	GroupActive    = "active"
	GroupInactive  = "inactive"
	GroupCompleted = "completed"
)

// Group mirrors a row of the `chama_groups` table.  The contract fields are
// only set for groups created through the blockchain bridge.
type Group struct {
	ID                       string     `json:"id"`
	Name                     string     `json:"name"`
	Description              *string    `json:"description"`
	ContributionAmount       float64    `json:"contribution_amount"`
	ContributionFrequency    string     `json:"contribution_frequency"`
	MaxMembers               int        `json:"max_members"`
	StartDate                time.Time  `json:"start_date"`
	EndDate                  *time.Time `json:"end_date"`
	Status                   string     `json:"status"`
	CreatedBy                string     `json:"created_by"`
	ApprovalRequired         bool       `json:"approval_required"`
	EmergencyWithdrawAllowed bool       `json:"emergency_withdraw_allowed"`
	ContractAddress          *string    `json:"contract_address"`
	CreationTxHash           *string    `json:"creation_tx_hash"`
	CreationBlockNumber      *int64     `json:"creation_block_number"`
	BlockchainVerified       bool       `json:"blockchain_verified"`
	CreatedAt                time.Time  `json:"created_at"`
	UpdatedAt                time.Time  `json:"updated_at"`

	// CreatorWallet is stored on the creator's membership row when the
	// group is created, not on the group itself.
	CreatorWallet *string `json:"-"`
}

// OnChain reports whether the group is backed by a deployed contract.
func (g Group) OnChain() bool { return g.ContractAddress != nil && *g.ContractAddress != "" }

// GroupSummary is a list item: the group plus its active member count.
type GroupSummary struct {
	Group
	MemberCount int `json:"member_count"`
}

// GroupDetail is a group with its members and admins.
type GroupDetail struct {
	Group
	Members []Member `json:"members"`
	Admins  []Admin  `json:"admins"`
}

// GroupUpdate carries a partial update; nil fields are left unchanged.
type GroupUpdate struct {
	Name                     *string
	Description              *string
	ContributionAmount       *float64
	ContributionFrequency    *string
	MaxMembers               *int
	StartDate                *time.Time
	EndDate                  *time.Time
	Status                   *string
	ApprovalRequired         *bool
	EmergencyWithdrawAllowed *bool
}
