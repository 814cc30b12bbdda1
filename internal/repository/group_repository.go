package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/chama-backend/internal/model"
)

const groupColumns = `g.id, g.name, g.description, g.contribution_amount, g.contribution_frequency,
	g.max_members, g.start_date, g.end_date, g.status, g.created_by, g.approval_required,
	g.emergency_withdraw_allowed, g.contract_address, g.creation_tx_hash, g.creation_block_number,
	g.blockchain_verified, g.created_at, g.updated_at`

const activeMemberCount = `(SELECT COUNT(*) FROM group_members m WHERE m.group_id = g.id AND m.status = 'active')`

var groupSortColumns = map[string]string{
	"created_at":          "g.created_at",
	"name":                "g.name",
	"start_date":          "g.start_date",
	"contribution_amount": "g.contribution_amount",
}

// GroupFilter narrows GroupRepo.List.
type GroupFilter struct {
	ListParams
	Status string
	Search string
}

type GroupRepo struct{ DB *sql.DB }

func NewGroupRepo(db *sql.DB) *GroupRepo { return &GroupRepo{DB: db} }

func groupDest(g *model.Group) []any {
	return []any{&g.ID, &g.Name, &g.Description, &g.ContributionAmount, &g.ContributionFrequency,
		&g.MaxMembers, &g.StartDate, &g.EndDate, &g.Status, &g.CreatedBy, &g.ApprovalRequired,
		&g.EmergencyWithdrawAllowed, &g.ContractAddress, &g.CreationTxHash, &g.CreationBlockNumber,
		&g.BlockchainVerified, &g.CreatedAt, &g.UpdatedAt}
}

// Create inserts the group together with the creator's admin row and active
// membership, which carries g.CreatorWallet when set.  g.ID, g.Status and timestamps are filled in.
func (r *GroupRepo) Create(ctx context.Context, g *model.Group) error {
	now := time.Now().UTC()
	g.ID = uuid.NewString()
	if g.Status == "" {
		g.Status = model.GroupActive
	}
	if g.ContributionFrequency == "" {
		g.ContributionFrequency = "weekly"
	}
	g.CreatedAt, g.UpdatedAt = now, now

	return withTx(ctx, r.DB, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO chama_groups (id, name, description, contribution_amount, contribution_frequency,
			   max_members, start_date, end_date, status, created_by, approval_required,
			   emergency_withdraw_allowed, contract_address, creation_tx_hash, creation_block_number,
			   blockchain_verified, created_at, updated_at)
			 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
			g.ID, g.Name, g.Description, g.ContributionAmount, g.ContributionFrequency,
			g.MaxMembers, g.StartDate, g.EndDate, g.Status, g.CreatedBy, g.ApprovalRequired,
			g.EmergencyWithdrawAllowed, g.ContractAddress, g.CreationTxHash, g.CreationBlockNumber,
			g.BlockchainVerified, now, now); err != nil {
			if isDuplicate(err) {
				return ErrTxHashUsed
			}
			return err
		}
		if _, err := tx.ExecContext(ctx,
			"INSERT INTO group_admins (id, group_id, user_id, assigned_by, assigned_at) VALUES (?,?,?,?,?)",
			uuid.NewString(), g.ID, g.CreatedBy, g.CreatedBy, now); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO group_members (id, group_id, user_id, status, wallet_address, joined_at) VALUES (?,?,?,?,?,?)",
			uuid.NewString(), g.ID, g.CreatedBy, model.MemberActive, g.CreatorWallet, now)
		return err
	})
}

func (r *GroupRepo) GetByID(ctx context.Context, id string) (model.Group, error) {
	var g model.Group
	err := r.DB.QueryRowContext(ctx,
		"SELECT "+groupColumns+" FROM chama_groups g WHERE g.id = ? LIMIT 1", id).Scan(groupDest(&g)...)
	if errors.Is(err, sql.ErrNoRows) {
		return g, ErrGroupNotFound
	}
	return g, err
}

// List returns groups matching f with their active member counts.
func (r *GroupRepo) List(ctx context.Context, f GroupFilter) ([]model.GroupSummary, error) {
	q := "SELECT " + groupColumns + ", " + activeMemberCount + " AS member_count FROM chama_groups g WHERE 1=1"
	var args []any
	if f.Status != "" {
		q += " AND g.status = ?"
		args = append(args, f.Status)
	}
	if s := strings.TrimSpace(f.Search); s != "" {
		q += " AND g.name LIKE ?"
		args = append(args, "%"+s+"%")
	}
	q += f.orderBy(groupSortColumns, "created_at", "desc")
	page, pageArgs := f.page()
	return r.querySummaries(ctx, q+page, append(args, pageArgs...)...)
}

// ListForUser returns the groups in which userID is an active member.
func (r *GroupRepo) ListForUser(ctx context.Context, userID string) ([]model.GroupSummary, error) {
	return r.querySummaries(ctx,
		"SELECT "+groupColumns+", "+activeMemberCount+` AS member_count
		   FROM chama_groups g
		   JOIN group_members gm ON gm.group_id = g.id
		  WHERE gm.user_id = ? AND gm.status = 'active'
		  ORDER BY g.created_at DESC`, userID)
}

func (r *GroupRepo) querySummaries(ctx context.Context, q string, args ...any) ([]model.GroupSummary, error) {
	rows, err := r.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.GroupSummary{}
	for rows.Next() {
		var s model.GroupSummary
		if err := rows.Scan(append(groupDest(&s.Group), &s.MemberCount)...); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Update applies the non-nil fields of u.
func (r *GroupRepo) Update(ctx context.Context, id string, u model.GroupUpdate) (model.Group, error) {
	var (
		sets []string
		args []any
	)
	set := func(col string, v any) {
		sets = append(sets, col+" = ?")
		args = append(args, v)
	}
	if u.Name != nil {
		set("name", *u.Name)
	}
	if u.Description != nil {
		set("description", *u.Description)
	}
	if u.ContributionAmount != nil {
		set("contribution_amount", *u.ContributionAmount)
	}
	if u.ContributionFrequency != nil {
		set("contribution_frequency", *u.ContributionFrequency)
	}
	if u.MaxMembers != nil {
		set("max_members", *u.MaxMembers)
	}
	if u.StartDate != nil {
		set("start_date", *u.StartDate)
	}
	if u.EndDate != nil {
		set("end_date", *u.EndDate)
	}
	if u.Status != nil {
		set("status", *u.Status)
	}
	if u.ApprovalRequired != nil {
		set("approval_required", *u.ApprovalRequired)
	}
	if u.EmergencyWithdrawAllowed != nil {
		set("emergency_withdraw_allowed", *u.EmergencyWithdrawAllowed)
	}
	if len(sets) > 0 {
		args = append(args, id)
		if _, err := r.DB.ExecContext(ctx,
			"UPDATE chama_groups SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...); err != nil {
			return model.Group{}, err
		}
	}
	return r.GetByID(ctx, id)
}

// Delete removes the group and everything that references it.
func (r *GroupRepo) Delete(ctx context.Context, id string) error {
	return withTx(ctx, r.DB, func(tx *sql.Tx) error {
		for _, q := range []string{
			"DELETE FROM contributions WHERE group_id = ?",
			"DELETE FROM notifications WHERE group_id = ?",
			"DELETE FROM group_members WHERE group_id = ?",
			"DELETE FROM group_admins WHERE group_id = ?",
		} {
			if _, err := tx.ExecContext(ctx, q, id); err != nil {
				return err
			}
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM chama_groups WHERE id = ?", id)
		if err != nil {
			return err
		}
		return affectedOr(res, ErrGroupNotFound)
	})
}
