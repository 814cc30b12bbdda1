package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/chama-backend/internal/model"
)

const contributionColumns = `c.id, c.group_id, c.member_id, c.amount, c.due_date, c.paid_date, c.status,
	c.transaction_hash, c.notes, c.created_at, c.updated_at`

var contributionSortColumns = map[string]string{
	"due_date":   "c.due_date",
	"amount":     "c.amount",
	"created_at": "c.created_at",
	"status":     "c.status",
}

// ContributionFilter narrows ContributionRepo.List.  Zero values mean "any".
type ContributionFilter struct {
	ListParams
	Status      string
	GroupID     string
	MemberID    string
	DueDateFrom *time.Time
	DueDateTo   *time.Time
}

type ContributionRepo struct{ DB *sql.DB }

func NewContributionRepo(db *sql.DB) *ContributionRepo { return &ContributionRepo{DB: db} }

func contributionDest(c *model.Contribution) []any {
	return []any{&c.ID, &c.GroupID, &c.MemberID, &c.Amount, &c.DueDate, &c.PaidDate, &c.Status,
		&c.TransactionHash, &c.Notes, &c.CreatedAt, &c.UpdatedAt}
}

func (r *ContributionRepo) Create(ctx context.Context, c *model.Contribution) error {
	now := time.Now().UTC()
	c.ID = uuid.NewString()
	if c.Status == "" {
		c.Status = model.ContributionPending
	}
	c.CreatedAt, c.UpdatedAt = now, now
	_, err := r.DB.ExecContext(ctx,
		`INSERT INTO contributions (id, group_id, member_id, amount, due_date, paid_date, status,
		   transaction_hash, notes, created_at, updated_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		c.ID, c.GroupID, c.MemberID, c.Amount, c.DueDate, c.PaidDate, c.Status,
		c.TransactionHash, c.Notes, now, now)
	return err
}

func (r *ContributionRepo) GetByID(ctx context.Context, id string) (model.Contribution, error) {
	var c model.Contribution
	err := r.DB.QueryRowContext(ctx,
		"SELECT "+contributionColumns+" FROM contributions c WHERE c.id = ? LIMIT 1", id).Scan(contributionDest(&c)...)
	if errors.Is(err, sql.ErrNoRows) {
		return c, ErrContributionNotFound
	}
	return c, err
}

func (r *ContributionRepo) List(ctx context.Context, f ContributionFilter) ([]model.Contribution, error) {
	q := "SELECT " + contributionColumns + " FROM contributions c WHERE 1=1"
	var args []any
	if f.Status != "" {
		q += " AND c.status = ?"
		args = append(args, f.Status)
	}
	if f.GroupID != "" {
		q += " AND c.group_id = ?"
		args = append(args, f.GroupID)
	}
	if f.MemberID != "" {
		q += " AND c.member_id = ?"
		args = append(args, f.MemberID)
	}
	if f.DueDateFrom != nil {
		q += " AND c.due_date >= ?"
		args = append(args, *f.DueDateFrom)
	}
	if f.DueDateTo != nil {
		q += " AND c.due_date <= ?"
		args = append(args, *f.DueDateTo)
	}
	q += f.orderBy(contributionSortColumns, "due_date", "asc")
	page, pageArgs := f.page()
	return r.query(ctx, q+page, append(args, pageArgs...)...)
}

// ListByUser returns the contributions of every membership held by userID.
// With overdueOnly it keeps rows that are marked overdue or still pending
// past their due date.
func (r *ContributionRepo) ListByUser(ctx context.Context, userID string, overdueOnly bool, now time.Time) ([]model.Contribution, error) {
	q := "SELECT " + contributionColumns + ` FROM contributions c
		JOIN group_members m ON m.id = c.member_id
		WHERE m.user_id = ?`
	args := []any{userID}
	if overdueOnly {
		q += " AND (c.status = 'overdue' OR (c.status = 'pending' AND c.due_date < ?))"
		args = append(args, now.UTC())
	}
	return r.query(ctx, q+" ORDER BY c.due_date DESC", args...)
}

func (r *ContributionRepo) query(ctx context.Context, q string, args ...any) ([]model.Contribution, error) {
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Contribution{}
	for rows.Next() {
		var c model.Contribution
		if err := rows.Scan(contributionDest(&c)...); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Save writes every mutable column of c.
func (r *ContributionRepo) Save(ctx context.Context, c *model.Contribution) error {
	c.UpdatedAt = time.Now().UTC()
	res, err := r.DB.ExecContext(ctx,
		`UPDATE contributions
		    SET amount = ?, due_date = ?, paid_date = ?, status = ?, transaction_hash = ?, notes = ?, updated_at = ?
		  WHERE id = ?`,
		c.Amount, c.DueDate, c.PaidDate, c.Status, c.TransactionHash, c.Notes, c.UpdatedAt, c.ID)
	if isDuplicate(err) {
		return ErrTxHashUsed
	}
	if err != nil {
		return err
	}
	return affectedOr(res, ErrContributionNotFound)
}

func (r *ContributionRepo) Delete(ctx context.Context, id string) error {
	res, err := r.DB.ExecContext(ctx, "DELETE FROM contributions WHERE id = ?", id)
	if err != nil {
		return err
	}
	return affectedOr(res, ErrContributionNotFound)
}

// Summary aggregates a group's contributions.
func (r *ContributionRepo) Summary(ctx context.Context, groupID string) (model.ContributionSummary, error) {
	s := model.ContributionSummary{GroupID: groupID}
	err := r.DB.QueryRowContext(ctx,
		`SELECT COUNT(*),
		        COALESCE(SUM(amount), 0),
		        COALESCE(SUM(CASE WHEN status = 'completed' THEN amount ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = 'pending' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = 'overdue' THEN 1 ELSE 0 END), 0),
		        COALESCE(SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END), 0)
		   FROM contributions WHERE group_id = ?`, groupID).
		Scan(&s.TotalContributions, &s.TotalAmount, &s.PaidAmount, &s.PendingCount, &s.OverdueCount, &s.CompletedCount)
	if err != nil {
		return s, err
	}
	if s.TotalContributions > 0 {
		s.CompletionRate = float64(s.CompletedCount) / float64(s.TotalContributions) * 100
	}
	return s, nil
}
