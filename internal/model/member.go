package model

import "time"

// Member statuses.
const (
	MemberActive   = "active"
	MemberInactive = "inactive"
	MemberPending  = "pending"
)

// Member mirrors a row of the `group_members` table.  Pending members are
// waiting for their on-chain join transaction to be confirmed.
type Member struct {
	ID            string     `json:"id"`
	GroupID       string     `json:"group_id"`
	UserID        string     `json:"user_id"`
	Status        string     `json:"status"`
	WalletAddress *string    `json:"wallet_address"`
	JoinTxHash    *string    `json:"join_tx_hash"`
	JoinedAt      time.Time  `json:"joined_at"`
	LeftAt        *time.Time `json:"left_at"`
}

// Admin mirrors a row of the `group_admins` table.
type Admin struct {
	ID         string    `json:"id"`
	GroupID    string    `json:"group_id"`
	UserID     string    `json:"user_id"`
	AssignedBy *string   `json:"assigned_by"`
	AssignedAt time.Time `json:"assigned_at"`
}
