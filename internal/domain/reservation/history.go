package reservation

import "time"

// HistoryEventType は予約履歴イベントの種類
type HistoryEventType string

const (
	HistoryCreated      HistoryEventType = "created"
	HistoryUserCanceled HistoryEventType = "user_canceled"
	HistoryConfirmed    HistoryEventType = "confirmed"
)

// HistoryEvent は予約の状態変化を記録する追記専用の監査レコード
type HistoryEvent struct {
	ID            string
	TenantID      string
	ReservationID string
	FacilityID    string
	SlotID        *string
	SubjectUserID string
	ActorUserID   string
	EventType     HistoryEventType
	FromStatus    *Status
	ToStatus      Status
	OccurredAt    time.Time
	Note          string
}

// NewHistoryEvent は予約の現在状態から履歴イベントを組み立てる
// from が nil の場合は作成イベントを表す
func NewHistoryEvent(r *Reservation, actorID string, eventType HistoryEventType, from *Status, occurredAt time.Time) *HistoryEvent {
	return &HistoryEvent{
		TenantID:      r.TenantID,
		ReservationID: r.ID,
		FacilityID:    r.FacilityID,
		SlotID:        r.SlotID,
		SubjectUserID: r.UserID,
		ActorUserID:   actorID,
		EventType:     eventType,
		FromStatus:    from,
		ToStatus:      r.Status,
		OccurredAt:    occurredAt,
	}
}
