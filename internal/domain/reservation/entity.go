package reservation

import (
	"time"
)

// Status は予約の状態を表す
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCanceled  Status = "canceled"
)

// メタデータのキー（駐車場予約の車両情報）
const (
	MetadataVehicleNumber = "vehicle_number"
	MetadataVehicleModel  = "vehicle_model"
)

// IsActive は占有中（pending または confirmed）の状態かを返す
func (s Status) IsActive() bool {
	return s == StatusPending || s == StatusConfirmed
}

// Reservation は施設予約エンティティを表す
// 作成後に変わるのは状態のみで、時間帯や施設の変更はキャンセルと再作成で表現する
type Reservation struct {
	ID               string
	TenantID         string
	FacilityID       string
	SlotID           *string
	UserID           string
	Window           TimeWindow
	Status           Status
	Purpose          string
	ParticipantCount *int
	Metadata         map[string]string
	CanceledAt       *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// NewReservation は pending 状態の新しい予約を作成する
func NewReservation(tenantID, userID, facilityID string, slotID *string, window TimeWindow) *Reservation {
	now := time.Now()
	return &Reservation{
		TenantID:   tenantID,
		FacilityID: facilityID,
		SlotID:     slotID,
		UserID:     userID,
		Window:     window,
		Status:     StatusPending,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
}

// StartAt は利用開始時刻を返す
func (r *Reservation) StartAt() time.Time { return r.Window.Start }

// EndAt は利用終了時刻を返す（この時刻は含まない）
func (r *Reservation) EndAt() time.Time { return r.Window.End }

// IsActive は予約が施設を占有しているかを返す
func (r *Reservation) IsActive() bool {
	return r.Status.IsActive()
}

// IsOwnedBy は指定ユーザーの予約かを返す
func (r *Reservation) IsOwnedBy(userID string) bool {
	return r.UserID == userID
}

// Cancel は利用者本人によるキャンセルを行う
// 判定順は 所有者 → 状態 → 開始時刻
func (r *Reservation) Cancel(actorID string, now time.Time) error {
	if !r.IsOwnedBy(actorID) {
		return ErrForbidden
	}
	if r.Status == StatusCanceled {
		return ErrAlreadyCanceled
	}
	if !r.Status.IsActive() {
		return ErrCannotCancel
	}
	if !now.Before(r.Window.Start) {
		return ErrTooLateToCancel
	}
	r.Status = StatusCanceled
	r.CanceledAt = &now
	r.UpdatedAt = now
	return nil
}

// Confirm は承認により予約を確定する（外部の承認処理からのみ呼ばれる）
func (r *Reservation) Confirm(now time.Time) error {
	if r.Status != StatusPending {
		return ErrReservationNotPending
	}
	r.Status = StatusConfirmed
	r.UpdatedAt = now
	return nil
}

// SetVehicle は車両情報をメタデータに格納する。空の値は格納しない
func (r *Reservation) SetVehicle(number, model string) {
	if number == "" && model == "" {
		return
	}
	if r.Metadata == nil {
		r.Metadata = make(map[string]string)
	}
	if number != "" {
		r.Metadata[MetadataVehicleNumber] = number
	}
	if model != "" {
		r.Metadata[MetadataVehicleModel] = model
	}
}

// ResourceKey は競合判定の単位（テナント・施設・区画）を表すキーを返す
// 区画のない施設は施設全体が単位になる
func (r *Reservation) ResourceKey() string {
	return ResourceKey(r.TenantID, r.FacilityID, r.SlotID)
}

// ResourceKey はロックやキャッシュで使う資源キーを組み立てる
func ResourceKey(tenantID, facilityID string, slotID *string) string {
	slot := "*"
	if slotID != nil {
		slot = *slotID
	}
	return tenantID + ":" + facilityID + ":" + slot
}

// Validate は予約の検証を行う
func (r *Reservation) Validate() error {
	if r.TenantID == "" {
		return ErrTenantIDRequired
	}
	if r.UserID == "" {
		return ErrUserIDRequired
	}
	if r.FacilityID == "" {
		return ErrFacilityIDRequired
	}
	if err := r.Window.Validate(); err != nil {
		return err
	}
	if r.ParticipantCount != nil && *r.ParticipantCount < 1 {
		return ErrInvalidParticipantCount
	}
	return nil
}
