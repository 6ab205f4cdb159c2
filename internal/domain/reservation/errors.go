package reservation

import "errors"

// Reservation ドメインのエラー定義
var (
	ErrReservationNotFound     = errors.New("予約が見つかりません")
	ErrReservationConflict     = errors.New("指定の時間帯は既に予約されています")
	ErrForbidden               = errors.New("この予約を操作する権限がありません")
	ErrAlreadyCanceled         = errors.New("予約は既にキャンセルされています")
	ErrCannotCancel            = errors.New("この状態の予約はキャンセルできません")
	ErrTooLateToCancel         = errors.New("利用開始後の予約はキャンセルできません")
	ErrReservationNotPending   = errors.New("予約は保留中ではありません")
	ErrTenantIDRequired        = errors.New("テナントIDは必須です")
	ErrUserIDRequired          = errors.New("ユーザーIDは必須です")
	ErrFacilityIDRequired      = errors.New("施設IDは必須です")
	ErrSlotRequired            = errors.New("駐車場の予約には区画の指定が必要です")
	ErrSlotNotAllowed          = errors.New("この施設は区画を指定できません")
	ErrInvalidTimeWindow       = errors.New("終了時刻は開始時刻より後である必要があります")
	ErrInvalidDate             = errors.New("日付の形式が不正です（YYYY-MM-DD）")
	ErrInvalidClock            = errors.New("時刻の形式が不正です（HH:MM）")
	ErrInvalidParticipantCount = errors.New("利用人数は1以上である必要があります")
)

// IsValidationError は入力不備に分類されるエラーかを返す
func IsValidationError(err error) bool {
	for _, target := range []error{
		ErrTenantIDRequired, ErrUserIDRequired, ErrFacilityIDRequired,
		ErrSlotRequired, ErrSlotNotAllowed, ErrInvalidTimeWindow,
		ErrInvalidDate, ErrInvalidClock, ErrInvalidParticipantCount,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
