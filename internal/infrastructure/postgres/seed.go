package postgres

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/sanosuguru/go-facility-reservation/internal/domain/facility"
)

// SeedDemo は開発環境向けに集会室1つと区画付きの駐車場1つを登録する
// 施設IDはメモリストアのデモデータと揃えている
func SeedDemo(ctx context.Context, db *sqlx.DB, tenantID string, userIDs ...string) error {
	facilities := NewFacilityRepository(db)
	members := NewMembershipRepository(db)

	room := facility.NewFacility(tenantID, "集会室A", facility.TypeRoom)
	room.ID = "room-a"
	if err := facilities.Create(ctx, room); err != nil {
		return err
	}
	parking := facility.NewFacility(tenantID, "第1駐車場", facility.TypeParking)
	parking.ID = "parking-1"
	if err := facilities.Create(ctx, parking); err != nil {
		return err
	}
	for _, label := range []string{"P1", "P2"} {
		slot := facility.NewSlot(tenantID, parking.ID, label+"番")
		slot.ID = label
		if err := facilities.CreateSlot(ctx, slot); err != nil {
			return err
		}
	}
	for _, userID := range userIDs {
		if err := members.AddMember(ctx, tenantID, userID); err != nil {
			return err
		}
	}
	return nil
}
