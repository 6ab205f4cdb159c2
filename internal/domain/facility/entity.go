package facility

import "time"

// Type は施設の種別を表す
type Type string

const (
	TypeRoom    Type = "room"
	TypeParking Type = "parking"
)

// Facility は予約可能な施設（集会室・駐車場）を表す
// 施設カタログが所有し、予約側からは参照のみ
type Facility struct {
	ID        string
	TenantID  string
	Name      string
	Type      Type
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Slot は駐車場の区画を表す（部屋には区画がない）
type Slot struct {
	ID         string
	FacilityID string
	TenantID   string
	Label      string
	CreatedAt  time.Time
}

// NewFacility は新しい施設を作成する
func NewFacility(tenantID, name string, t Type) *Facility {
	now := time.Now()
	return &Facility{
		TenantID:  tenantID,
		Name:      name,
		Type:      t,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// NewSlot は新しい区画を作成する
func NewSlot(tenantID, facilityID, label string) *Slot {
	return &Slot{
		TenantID:   tenantID,
		FacilityID: facilityID,
		Label:      label,
		CreatedAt:  time.Now(),
	}
}

// RequiresSlot は予約時に区画指定が必要かを返す
func (f *Facility) RequiresSlot() bool {
	return f.Type == TypeParking
}

// IsValid は既知の種別かを返す
func (t Type) IsValid() bool {
	return t == TypeRoom || t == TypeParking
}

// Validate は施設の検証を行う
func (f *Facility) Validate() error {
	if f.TenantID == "" {
		return ErrTenantIDRequired
	}
	if f.Name == "" {
		return ErrFacilityNameRequired
	}
	if !f.Type.IsValid() {
		return ErrInvalidFacilityType
	}
	return nil
}
