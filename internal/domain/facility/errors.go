package facility

import "errors"

// Facility ドメインのエラー定義
var (
	ErrFacilityNotFound     = errors.New("施設が見つかりません")
	ErrSlotNotFound         = errors.New("区画が見つかりません")
	ErrTenantIDRequired     = errors.New("テナントIDは必須です")
	ErrFacilityNameRequired = errors.New("施設名は必須です")
	ErrInvalidFacilityType  = errors.New("施設種別が不正です")
)
