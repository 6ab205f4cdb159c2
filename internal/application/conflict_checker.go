package application

import (
	"context"
	"fmt"

	"github.com/sanosuguru/go-facility-reservation/internal/domain/facility"
	"github.com/sanosuguru/go-facility-reservation/internal/domain/reservation"
	"github.com/sanosuguru/go-facility-reservation/internal/domain/transaction"
)

// ConflictQuery は競合判定の入力
type ConflictQuery struct {
	TenantID string
	Facility *facility.Facility
	SlotID   *string
	Window   reservation.TimeWindow
}

// ConflictChecker は施設（駐車場は区画）単位で有効な予約との重なりを判定する
type ConflictChecker struct {
	repo reservation.Repository
}

func NewConflictChecker(repo reservation.Repository) *ConflictChecker {
	return &ConflictChecker{repo: repo}
}

// HasConflict は有効な予約（pending / confirmed）と [start, end) が重なるかを返す
// 集会室は施設全体、駐車場は同じ区画だけを対象にする
func (c *ConflictChecker) HasConflict(ctx context.Context, tx transaction.Tx, q ConflictQuery) (bool, error) {
	if err := q.Window.Validate(); err != nil {
		return false, err
	}
	oq := reservation.OverlapQuery{
		TenantID:   q.TenantID,
		FacilityID: q.Facility.ID,
		Window:     q.Window,
	}
	if q.Facility.RequiresSlot() {
		if q.SlotID == nil || *q.SlotID == "" {
			return false, reservation.ErrSlotRequired
		}
		oq.SlotID = q.SlotID
	}
	found, err := c.repo.HasOverlap(ctx, tx, oq)
	if err != nil {
		return false, fmt.Errorf("競合確認に失敗: %w", err)
	}
	return found, nil
}
