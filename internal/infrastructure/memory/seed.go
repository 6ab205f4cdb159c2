package memory

import (
	"github.com/sanosuguru/go-facility-reservation/internal/domain/facility"
)

// デモ用の固定ID
const (
	DemoRoomID    = "room-a"
	DemoParkingID = "parking-1"
)

// SeedDemo はメモリストア起動時の動作確認用データを登録する
// 集会室1つと区画 P1, P2 を持つ駐車場1つ、および所属ユーザー
func (s *Store) SeedDemo(tenantID string, userIDs ...string) {
	room := facility.NewFacility(tenantID, "集会室A", facility.TypeRoom)
	room.ID = DemoRoomID
	s.AddFacility(room)

	parking := facility.NewFacility(tenantID, "第1駐車場", facility.TypeParking)
	parking.ID = DemoParkingID
	s.AddFacility(parking)
	for _, label := range []string{"P1", "P2"} {
		slot := facility.NewSlot(tenantID, DemoParkingID, label)
		slot.ID = label
		s.AddSlot(slot)
	}

	for _, u := range userIDs {
		s.AddMember(tenantID, u)
	}
}
