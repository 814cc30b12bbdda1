package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/iliyamo/chama-backend/internal/model"
)

const memberColumns = "id, group_id, user_id, status, wallet_address, join_tx_hash, joined_at, left_at"

type MemberRepo struct{ DB *sql.DB }

func NewMemberRepo(db *sql.DB) *MemberRepo { return &MemberRepo{DB: db} }

func memberDest(m *model.Member) []any {
	return []any{&m.ID, &m.GroupID, &m.UserID, &m.Status, &m.WalletAddress, &m.JoinTxHash, &m.JoinedAt, &m.LeftAt}
}

// Add inserts m after checking, under a row lock on the group's active
// members, that the user is not yet a member and the group has room.
func (r *MemberRepo) Add(ctx context.Context, m *model.Member, maxMembers int) error {
	m.ID = uuid.NewString()
	m.JoinedAt = time.Now().UTC()
	if m.Status == "" {
		m.Status = model.MemberActive
	}
	return withTx(ctx, r.DB, func(tx *sql.Tx) error {
		var existing int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM group_members WHERE group_id = ? AND user_id = ?",
			m.GroupID, m.UserID).Scan(&existing); err != nil {
			return err
		}
		if existing > 0 {
			return ErrAlreadyMember
		}
		var active int
		if err := tx.QueryRowContext(ctx,
			"SELECT COUNT(*) FROM group_members WHERE group_id = ? AND status = 'active' FOR UPDATE",
			m.GroupID).Scan(&active); err != nil {
			return err
		}
		if active >= maxMembers {
			return ErrGroupFull
		}
		_, err := tx.ExecContext(ctx,
			"INSERT INTO group_members (id, group_id, user_id, status, wallet_address, joined_at) VALUES (?,?,?,?,?,?)",
			m.ID, m.GroupID, m.UserID, m.Status, m.WalletAddress, m.JoinedAt)
		if isDuplicate(err) {
			return ErrAlreadyMember
		}
		return err
	})
}

func (r *MemberRepo) get(ctx context.Context, where string, args ...any) (model.Member, error) {
	var m model.Member
	err := r.DB.QueryRowContext(ctx,
		"SELECT "+memberColumns+" FROM group_members WHERE "+where+" LIMIT 1", args...).Scan(memberDest(&m)...)
	if errors.Is(err, sql.ErrNoRows) {
		return m, ErrMemberNotFound
	}
	return m, err
}

// GetByID returns the member only if it belongs to groupID.
func (r *MemberRepo) GetByID(ctx context.Context, groupID, memberID string) (model.Member, error) {
	return r.get(ctx, "id = ? AND group_id = ?", memberID, groupID)
}

// GetByMemberID looks a member up without scoping it to a group.
func (r *MemberRepo) GetByMemberID(ctx context.Context, memberID string) (model.Member, error) {
	return r.get(ctx, "id = ?", memberID)
}

func (r *MemberRepo) GetByGroupAndUser(ctx context.Context, groupID, userID string) (model.Member, error) {
	return r.get(ctx, "group_id = ? AND user_id = ?", groupID, userID)
}

func (r *MemberRepo) ListByGroup(ctx context.Context, groupID string) ([]model.Member, error) {
	rows, err := r.DB.QueryContext(ctx,
		"SELECT "+memberColumns+" FROM group_members WHERE group_id = ? ORDER BY joined_at", groupID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []model.Member{}
	for rows.Next() {
		var m model.Member
		if err := rows.Scan(memberDest(&m)...); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *MemberRepo) CountActive(ctx context.Context, groupID string) (int, error) {
	var n int
	err := r.DB.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM group_members WHERE group_id = ? AND status = 'active'", groupID).Scan(&n)
	return n, err
}

// UpdateStatus changes a member's status; leaving (inactive) stamps left_at.
func (r *MemberRepo) UpdateStatus(ctx context.Context, groupID, memberID, status string) (model.Member, error) {
	var leftAt any
	if status == model.MemberInactive {
		leftAt = time.Now().UTC()
	}
	if _, err := r.DB.ExecContext(ctx,
		"UPDATE group_members SET status = ?, left_at = ? WHERE id = ? AND group_id = ?",
		status, leftAt, memberID, groupID); err != nil {
		return model.Member{}, err
	}
	return r.GetByID(ctx, groupID, memberID)
}

// Activate confirms a pending on-chain membership.
func (r *MemberRepo) Activate(ctx context.Context, memberID, wallet, txHash string) error {
	res, err := r.DB.ExecContext(ctx,
		"UPDATE group_members SET status = 'active', wallet_address = ?, join_tx_hash = ? WHERE id = ?",
		wallet, txHash, memberID)
	if isDuplicate(err) {
		return ErrTxHashUsed
	}
	if err != nil {
		return err
	}
	return affectedOr(res, ErrMemberNotFound)
}

// Remove deletes the membership.  A member with contributions on record
// cannot be removed; deactivate them instead.
func (r *MemberRepo) Remove(ctx context.Context, groupID, memberID string) error {
	res, err := r.DB.ExecContext(ctx,
		"DELETE FROM group_members WHERE id = ? AND group_id = ?", memberID, groupID)
	if isReferenced(err) {
		return ErrMemberHasPayments
	}
	if err != nil {
		return err
	}
	return affectedOr(res, ErrMemberNotFound)
}
