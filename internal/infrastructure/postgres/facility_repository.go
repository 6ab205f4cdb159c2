package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/sanosuguru/go-facility-reservation/internal/domain/facility"
)

type facilityRow struct {
	ID        string    `db:"id"`
	TenantID  string    `db:"tenant_id"`
	Name      string    `db:"name"`
	Type      string    `db:"type"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

type slotRow struct {
	ID         string    `db:"id"`
	FacilityID string    `db:"facility_id"`
	TenantID   string    `db:"tenant_id"`
	Label      string    `db:"label"`
	CreatedAt  time.Time `db:"created_at"`
}

// FacilityRepository は施設カタログの参照と、管理用の登録を行う
type FacilityRepository struct{ db *sqlx.DB }

func NewFacilityRepository(db *sqlx.DB) *FacilityRepository {
	return &FacilityRepository{db: db}
}

func (r *FacilityRepository) GetByID(ctx context.Context, tenantID, id string) (*facility.Facility, error) {
	var row facilityRow
	query := `SELECT id, tenant_id, name, type, created_at, updated_at FROM facilities WHERE tenant_id = $1 AND id = $2`
	if err := r.db.GetContext(ctx, &row, query, tenantID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, facility.ErrFacilityNotFound
		}
		return nil, fmt.Errorf("施設取得に失敗: %w", err)
	}
	return &facility.Facility{
		ID: row.ID, TenantID: row.TenantID, Name: row.Name, Type: facility.Type(row.Type),
		CreatedAt: row.CreatedAt, UpdatedAt: row.UpdatedAt,
	}, nil
}

func (r *FacilityRepository) GetSlot(ctx context.Context, tenantID, facilityID, slotID string) (*facility.Slot, error) {
	var row slotRow
	query := `SELECT id, facility_id, tenant_id, label, created_at FROM facility_slots WHERE tenant_id = $1 AND facility_id = $2 AND id = $3`
	if err := r.db.GetContext(ctx, &row, query, tenantID, facilityID, slotID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, facility.ErrSlotNotFound
		}
		return nil, fmt.Errorf("区画取得に失敗: %w", err)
	}
	return &facility.Slot{
		ID: row.ID, FacilityID: row.FacilityID, TenantID: row.TenantID, Label: row.Label, CreatedAt: row.CreatedAt,
	}, nil
}

// Create は施設を登録する。ID は呼び出し側が決める
func (r *FacilityRepository) Create(ctx context.Context, f *facility.Facility) error {
	if err := f.Validate(); err != nil {
		return err
	}
	query := `INSERT INTO facilities (id, tenant_id, name, type, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tenant_id, id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, f.ID, f.TenantID, f.Name, string(f.Type), f.CreatedAt, f.UpdatedAt); err != nil {
		return fmt.Errorf("施設登録に失敗: %w", err)
	}
	return nil
}

// CreateSlot は駐車場の区画を登録する
func (r *FacilityRepository) CreateSlot(ctx context.Context, s *facility.Slot) error {
	query := `INSERT INTO facility_slots (id, facility_id, tenant_id, label, created_at) VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tenant_id, facility_id, id) DO NOTHING`
	if _, err := r.db.ExecContext(ctx, query, s.ID, s.FacilityID, s.TenantID, s.Label, s.CreatedAt); err != nil {
		return fmt.Errorf("区画登録に失敗: %w", err)
	}
	return nil
}

var _ facility.Catalog = (*FacilityRepository)(nil)
