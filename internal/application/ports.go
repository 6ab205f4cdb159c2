package application

import (
	"context"

	"github.com/sanosuguru/go-facility-reservation/internal/domain/reservation"
)

// EventPublisher は予約の作成・キャンセル通知を外部へ送り出す
// 送信は非同期で、失敗が予約処理の結果に影響してはならない
type EventPublisher interface {
	Publish(ctx context.Context, event reservation.LifecycleEvent)
}

// ApprovalHook は作成直後の予約を外部の承認処理へ引き渡す
// pending → confirmed の遷移は承認側の責務で、既定では何もしない
type ApprovalHook interface {
	Submitted(ctx context.Context, r *reservation.Reservation)
}

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, reservation.LifecycleEvent) {}

// NoopApprovalHook は承認フローを持たない構成で使う
type NoopApprovalHook struct{}

func (NoopApprovalHook) Submitted(context.Context, *reservation.Reservation) {}
