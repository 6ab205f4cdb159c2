package postgres

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// MembershipRepository はテナントへの所属を確認する
type MembershipRepository struct{ db *sqlx.DB }

func NewMembershipRepository(db *sqlx.DB) *MembershipRepository {
	return &MembershipRepository{db: db}
}

func (r *MembershipRepository) IsMember(ctx context.Context, tenantID, userID string) (bool, error) {
	var found bool
	query := `SELECT EXISTS (SELECT 1 FROM tenant_members WHERE tenant_id = $1 AND user_id = $2)`
	if err := r.db.GetContext(ctx, &found, query, tenantID, userID); err != nil {
		return false, fmt.Errorf("テナント所属の確認に失敗: %w", err)
	}
	return found, nil
}

// AddMember はテナントに利用者を登録する。登録済みなら何もしない
func (r *MembershipRepository) AddMember(ctx context.Context, tenantID, userID string) error {
	query := `INSERT INTO tenant_members (tenant_id, user_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, tenantID, userID); err != nil {
		return fmt.Errorf("テナント所属の登録に失敗: %w", err)
	}
	return nil
}
