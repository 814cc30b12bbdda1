package model

import "time"

// Contribution statuses.
const (
	ContributionPending   = "pending"
	ContributionCompleted = "completed"
	ContributionOverdue   = "overdue"
)

// Contribution mirrors a row of the `contributions` table.
type Contribution struct {
	ID              string     `json:"id"`
	GroupID         string     `json:"group_id"`
	MemberID        string     `json:"member_id"`
	Amount          float64    `json:"amount"`
	DueDate         time.Time  `json:"due_date"`
	PaidDate        *time.Time `json:"paid_date"`
	Status          string     `json:"status"`
	TransactionHash *string    `json:"transaction_hash"`
	Notes           *string    `json:"notes"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// ContributionUpdate carries a partial update; nil fields are left unchanged.
type ContributionUpdate struct {
	Amount          *float64
	DueDate         *time.Time
	PaidDate        *time.Time
	Status          *string
	TransactionHash *string
	Notes           *string
}

// Apply merges u into c and derives the status: a paid date completes the
// contribution, a past due date without payment makes it overdue.  An
// explicit status in u wins over the derived one.
func (c *Contribution) Apply(u ContributionUpdate, now time.Time) {
	if u.Amount != nil {
		c.Amount = *u.Amount
	}
	if u.DueDate != nil {
		c.DueDate = *u.DueDate
	}
	if u.PaidDate != nil {
		c.PaidDate = u.PaidDate
	}
	if u.TransactionHash != nil {
		// a blank hash clears the column
		c.TransactionHash = u.TransactionHash
		if *u.TransactionHash == "" {
			c.TransactionHash = nil
		}
	}
	if u.Notes != nil {
		c.Notes = u.Notes
	}

	switch {
	case u.Status != nil:
		c.Status = *u.Status
	case u.PaidDate != nil:
		c.Status = ContributionCompleted
	case u.DueDate != nil && c.PaidDate == nil && c.DueDate.Before(now):
		c.Status = ContributionOverdue
	}
}

// ContributionSummary aggregates a group's contributions.
type ContributionSummary struct {
	GroupID            string  `json:"group_id"`
	TotalContributions int     `json:"total_contributions"`
	TotalAmount        float64 `json:"total_amount"`
	PaidAmount         float64 `json:"paid_amount"`
	PendingCount       int     `json:"pending_count"`
	OverdueCount       int     `json:"overdue_count"`
	CompletedCount     int     `json:"completed_count"`
	CompletionRate     float64 `json:"completion_rate"`
}
