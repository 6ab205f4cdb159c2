package reservation

import "time"

// LifecycleEventType は外部通知向けイベントの種類（ルーティングキーとしても使う）
type LifecycleEventType string

const (
	LifecycleCreated   LifecycleEventType = "reservation.created"
	LifecycleConfirmed LifecycleEventType = "reservation.confirmed"
	LifecycleCanceled  LifecycleEventType = "reservation.canceled"
)

// LifecycleEvent は通知サービスが購読する予約の状態変化の通知
type LifecycleEvent struct {
	Type          LifecycleEventType `json:"type"`
	TenantID      string             `json:"tenant_id"`
	ReservationID string             `json:"reservation_id"`
	FacilityID    string             `json:"facility_id"`
	SlotID        *string            `json:"slot_id,omitempty"`
	UserID        string             `json:"user_id"`
	ActorUserID   string             `json:"actor_user_id"`
	Status        Status             `json:"status"`
	StartAt       time.Time          `json:"start_at"`
	EndAt         time.Time          `json:"end_at"`
	OccurredAt    time.Time          `json:"occurred_at"`
}

// NewLifecycleEvent は予約から通知イベントを作成する
func NewLifecycleEvent(t LifecycleEventType, r *Reservation, actorID string, occurredAt time.Time) LifecycleEvent {
	return LifecycleEvent{
		Type:          t,
		TenantID:      r.TenantID,
		ReservationID: r.ID,
		FacilityID:    r.FacilityID,
		SlotID:        r.SlotID,
		UserID:        r.UserID,
		ActorUserID:   actorID,
		Status:        r.Status,
		StartAt:       r.Window.Start,
		EndAt:         r.Window.End,
		OccurredAt:    occurredAt,
	}
}
