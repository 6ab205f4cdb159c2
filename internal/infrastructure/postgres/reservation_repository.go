package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sanosuguru/go-facility-reservation/internal/domain/reservation"
	"github.com/sanosuguru/go-facility-reservation/internal/domain/transaction"
)

type reservationRow struct {
	ID               string         `db:"id"`
	TenantID         string         `db:"tenant_id"`
	FacilityID       string         `db:"facility_id"`
	SlotID           sql.NullString `db:"slot_id"`
	UserID           string         `db:"user_id"`
	StartAt          time.Time      `db:"start_at"`
	EndAt            time.Time      `db:"end_at"`
	Status           string         `db:"status"`
	Purpose          string         `db:"purpose"`
	ParticipantCount sql.NullInt64  `db:"participant_count"`
	Metadata         []byte         `db:"metadata"`
	CanceledAt       *time.Time     `db:"canceled_at"`
	CreatedAt        time.Time      `db:"created_at"`
	UpdatedAt        time.Time      `db:"updated_at"`
}

const reservationColumns = `id, tenant_id, facility_id, slot_id, user_id, start_at, end_at, status, purpose, participant_count, metadata, canceled_at, created_at, updated_at`

type ReservationRepository struct{ db *sqlx.DB }

func NewReservationRepository(db *sqlx.DB) *ReservationRepository {
	return &ReservationRepository{db: db}
}

func (r *ReservationRepository) Create(ctx context.Context, tx transaction.Tx, res *reservation.Reservation) error {
	sqlTx, err := requireTx(tx)
	if err != nil {
		return err
	}
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	metadata, err := encodeMetadata(res.Metadata)
	if err != nil {
		return err
	}
	var participants sql.NullInt64
	if res.ParticipantCount != nil {
		participants = sql.NullInt64{Int64: int64(*res.ParticipantCount), Valid: true}
	}
	query := `INSERT INTO reservations (id, tenant_id, facility_id, slot_id, user_id, start_at, end_at, status, purpose, participant_count, metadata, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`
	if _, err := sqlTx.ExecContext(ctx, query,
		res.ID, res.TenantID, res.FacilityID, nullString(res.SlotID), res.UserID,
		res.Window.Start, res.Window.End, string(res.Status), res.Purpose, participants, metadata,
		res.CreatedAt, res.UpdatedAt,
	); err != nil {
		switch pqCode(err) {
		case codeExclusionViolation:
			return reservation.ErrReservationConflict
		case codeSerializationFailure, codeDeadlockDetected:
			return transaction.ErrSerializationFailure
		}
		return fmt.Errorf("予約作成に失敗: %w", err)
	}
	return nil
}

func (r *ReservationRepository) GetByID(ctx context.Context, tenantID, id string) (*reservation.Reservation, error) {
	var row reservationRow
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE tenant_id = $1 AND id = $2`
	if err := r.db.GetContext(ctx, &row, query, tenantID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, reservation.ErrReservationNotFound
		}
		return nil, fmt.Errorf("予約取得に失敗: %w", err)
	}
	return row.toEntity()
}

func (r *ReservationRepository) GetByIDForUpdate(ctx context.Context, tx transaction.Tx, tenantID, id string) (*reservation.Reservation, error) {
	sqlTx, err := requireTx(tx)
	if err != nil {
		return nil, err
	}
	var row reservationRow
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE tenant_id = $1 AND id = $2 FOR UPDATE`
	if err := sqlTx.GetContext(ctx, &row, query, tenantID, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, reservation.ErrReservationNotFound
		}
		return nil, fmt.Errorf("予約取得（FOR UPDATE）に失敗: %w", translateTxError(err))
	}
	return row.toEntity()
}

// UpdateStatus は status = from を条件に更新する。0件なら先に別の更新が入っている
func (r *ReservationRepository) UpdateStatus(ctx context.Context, tx transaction.Tx, res *reservation.Reservation, from reservation.Status) error {
	sqlTx, err := requireTx(tx)
	if err != nil {
		return err
	}
	query := `UPDATE reservations SET status = $1, canceled_at = $2, updated_at = $3 WHERE tenant_id = $4 AND id = $5 AND status = $6`
	result, err := sqlTx.ExecContext(ctx, query, string(res.Status), res.CanceledAt, res.UpdatedAt, res.TenantID, res.ID, string(from))
	if err != nil {
		return fmt.Errorf("予約更新に失敗: %w", translateTxError(err))
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return reservation.ErrAlreadyCanceled
	}
	return nil
}

// LockResource はトランザクション終了まで保持されるアドバイザリロックを取得する
func (r *ReservationRepository) LockResource(ctx context.Context, tx transaction.Tx, key string) error {
	sqlTx, err := requireTx(tx)
	if err != nil {
		return err
	}
	if _, err := sqlTx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtextextended($1, 0))`, key); err != nil {
		return fmt.Errorf("資源ロックの取得に失敗: %w", translateTxError(err))
	}
	return nil
}

func (r *ReservationRepository) HasOverlap(ctx context.Context, tx transaction.Tx, q reservation.OverlapQuery) (bool, error) {
	sqlTx, err := requireTx(tx)
	if err != nil {
		return false, err
	}
	query := `SELECT EXISTS (
		SELECT 1 FROM reservations
		WHERE tenant_id = $1 AND facility_id = $2
		  AND ($3::text IS NULL OR slot_id = $3)
		  AND status IN ('pending', 'confirmed')
		  AND start_at < $5 AND end_at > $4
	)`
	var found bool
	if err := sqlTx.GetContext(ctx, &found, query, q.TenantID, q.FacilityID, nullString(q.SlotID), q.Window.Start, q.Window.End); err != nil {
		return false, fmt.Errorf("重複予約の確認に失敗: %w", translateTxError(err))
	}
	return found, nil
}

func (r *ReservationRepository) FindActiveByUser(ctx context.Context, tenantID, userID, facilityID string, window reservation.TimeWindow) ([]*reservation.Reservation, error) {
	var rows []reservationRow
	query := `SELECT ` + reservationColumns + ` FROM reservations
		WHERE tenant_id = $1 AND user_id = $2 AND facility_id = $3
		  AND status IN ('pending', 'confirmed')
		  AND start_at < $5 AND end_at > $4
		ORDER BY start_at, id`
	if err := r.db.SelectContext(ctx, &rows, query, tenantID, userID, facilityID, window.Start, window.End); err != nil {
		return nil, fmt.Errorf("有効な予約の取得に失敗: %w", err)
	}
	return toEntities(rows)
}

func (r *ReservationRepository) ListByUser(ctx context.Context, tenantID, userID string, limit, offset int) ([]*reservation.Reservation, error) {
	var rows []reservationRow
	query := `SELECT ` + reservationColumns + ` FROM reservations WHERE tenant_id = $1 AND user_id = $2 ORDER BY created_at DESC, id LIMIT $3 OFFSET $4`
	if err := r.db.SelectContext(ctx, &rows, query, tenantID, userID, limit, offset); err != nil {
		return nil, fmt.Errorf("予約一覧取得に失敗: %w", err)
	}
	return toEntities(rows)
}

func (r *ReservationRepository) CountActiveByStatus(ctx context.Context) (map[reservation.Status]int, error) {
	var rows []struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	query := `SELECT status, COUNT(*) AS count FROM reservations WHERE status IN ('pending', 'confirmed') GROUP BY status`
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("有効な予約数の集計に失敗: %w", err)
	}
	counts := make(map[reservation.Status]int, len(rows))
	for _, row := range rows {
		counts[reservation.Status(row.Status)] = row.Count
	}
	return counts, nil
}

func (row *reservationRow) toEntity() (*reservation.Reservation, error) {
	res := &reservation.Reservation{
		ID:         row.ID,
		TenantID:   row.TenantID,
		FacilityID: row.FacilityID,
		UserID:     row.UserID,
		Window:     reservation.TimeWindow{Start: row.StartAt, End: row.EndAt},
		Status:     reservation.Status(row.Status),
		Purpose:    row.Purpose,
		CanceledAt: row.CanceledAt,
		CreatedAt:  row.CreatedAt,
		UpdatedAt:  row.UpdatedAt,
	}
	if row.SlotID.Valid {
		slot := row.SlotID.String
		res.SlotID = &slot
	}
	if row.ParticipantCount.Valid {
		n := int(row.ParticipantCount.Int64)
		res.ParticipantCount = &n
	}
	if len(row.Metadata) > 0 {
		if err := json.Unmarshal(row.Metadata, &res.Metadata); err != nil {
			return nil, fmt.Errorf("予約メタデータの読み込みに失敗: %w", err)
		}
		if len(res.Metadata) == 0 {
			res.Metadata = nil
		}
	}
	return res, nil
}

func toEntities(rows []reservationRow) ([]*reservation.Reservation, error) {
	result := make([]*reservation.Reservation, 0, len(rows))
	for i := range rows {
		res, err := rows[i].toEntity()
		if err != nil {
			return nil, err
		}
		result = append(result, res)
	}
	return result, nil
}

func encodeMetadata(m map[string]string) ([]byte, error) {
	if len(m) == 0 {
		return []byte("{}"), nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("予約メタデータのシリアライズに失敗: %w", err)
	}
	return b, nil
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}

var _ reservation.Repository = (*ReservationRepository)(nil)
