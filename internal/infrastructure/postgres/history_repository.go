package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/sanosuguru/go-facility-reservation/internal/domain/reservation"
)

type historyRow struct {
	ID            string         `db:"id"`
	TenantID      string         `db:"tenant_id"`
	ReservationID string         `db:"reservation_id"`
	FacilityID    string         `db:"facility_id"`
	SlotID        sql.NullString `db:"slot_id"`
	SubjectUserID string         `db:"subject_user_id"`
	ActorUserID   string         `db:"actor_user_id"`
	EventType     string         `db:"event_type"`
	FromStatus    sql.NullString `db:"from_status"`
	ToStatus      string         `db:"to_status"`
	OccurredAt    time.Time      `db:"occurred_at"`
	Note          string         `db:"note"`
}

func (row *historyRow) toEntity() *reservation.HistoryEvent {
	e := &reservation.HistoryEvent{
		ID:            row.ID,
		TenantID:      row.TenantID,
		ReservationID: row.ReservationID,
		FacilityID:    row.FacilityID,
		SubjectUserID: row.SubjectUserID,
		ActorUserID:   row.ActorUserID,
		EventType:     reservation.HistoryEventType(row.EventType),
		ToStatus:      reservation.Status(row.ToStatus),
		OccurredAt:    row.OccurredAt,
		Note:          row.Note,
	}
	if row.SlotID.Valid {
		slot := row.SlotID.String
		e.SlotID = &slot
	}
	if row.FromStatus.Valid {
		from := reservation.Status(row.FromStatus.String)
		e.FromStatus = &from
	}
	return e
}

// HistoryRepository は予約履歴テーブル（追記専用）への書き込みと参照を行う
// 書き込みは予約のトランザクションとは独立して行う
type HistoryRepository struct{ db *sqlx.DB }

func NewHistoryRepository(db *sqlx.DB) *HistoryRepository {
	return &HistoryRepository{db: db}
}

func (r *HistoryRepository) Append(ctx context.Context, e *reservation.HistoryEvent) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	var from sql.NullString
	if e.FromStatus != nil {
		from = sql.NullString{String: string(*e.FromStatus), Valid: true}
	}
	query := `INSERT INTO reservation_history (id, tenant_id, reservation_id, facility_id, slot_id, subject_user_id, actor_user_id, event_type, from_status, to_status, occurred_at, note) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	if _, err := r.db.ExecContext(ctx, query,
		e.ID, e.TenantID, e.ReservationID, e.FacilityID, nullString(e.SlotID),
		e.SubjectUserID, e.ActorUserID, string(e.EventType), from, string(e.ToStatus),
		e.OccurredAt, e.Note,
	); err != nil {
		return fmt.Errorf("予約履歴の追記に失敗: %w", err)
	}
	return nil
}

func (r *HistoryRepository) ListByReservation(ctx context.Context, tenantID, reservationID string) ([]*reservation.HistoryEvent, error) {
	var rows []historyRow
	query := `SELECT id, tenant_id, reservation_id, facility_id, slot_id, subject_user_id, actor_user_id, event_type, from_status, to_status, occurred_at, note
		FROM reservation_history WHERE tenant_id = $1 AND reservation_id = $2 ORDER BY occurred_at, seq`
	if err := r.db.SelectContext(ctx, &rows, query, tenantID, reservationID); err != nil {
		return nil, fmt.Errorf("予約履歴の取得に失敗: %w", err)
	}
	result := make([]*reservation.HistoryEvent, len(rows))
	for i := range rows {
		result[i] = rows[i].toEntity()
	}
	return result, nil
}

var _ reservation.HistoryRepository = (*HistoryRepository)(nil)
