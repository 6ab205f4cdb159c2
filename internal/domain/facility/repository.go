package facility

import "context"

// Catalog は施設カタログの参照インターフェース
// いずれもテナントで絞り込み、別テナントの施設は見つからない扱いにする
type Catalog interface {
	// GetByID はテナント内の施設を取得する
	GetByID(ctx context.Context, tenantID, id string) (*Facility, error)

	// GetSlot は施設に属する区画を取得する
	GetSlot(ctx context.Context, tenantID, facilityID, slotID string) (*Slot, error)
}
