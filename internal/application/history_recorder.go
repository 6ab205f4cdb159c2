package application

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-facility-reservation/internal/domain/reservation"
	"github.com/sanosuguru/go-facility-reservation/internal/pkg/logger"
	"github.com/sanosuguru/go-facility-reservation/internal/pkg/metrics"
)

const defaultAuditTimeout = 3 * time.Second

// HistoryRecorder は予約履歴を追記する
// 書き込みの失敗はログに残すだけで呼び出し元には返さない
type HistoryRecorder struct {
	repo    reservation.HistoryRepository
	timeout time.Duration
	metrics *metrics.Metrics
}

func NewHistoryRecorder(repo reservation.HistoryRepository, timeout time.Duration, m *metrics.Metrics) *HistoryRecorder {
	if timeout <= 0 {
		timeout = defaultAuditTimeout
	}
	return &HistoryRecorder{repo: repo, timeout: timeout, metrics: m}
}

// Record は履歴を1件追記する
// リクエストのキャンセルに巻き込まれないよう、親のキャンセルは引き継がずに独自のタイムアウトを使う
func (h *HistoryRecorder) Record(ctx context.Context, event *reservation.HistoryEvent) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), h.timeout)
	defer cancel()

	if err := h.repo.Append(ctx, event); err != nil {
		logger.Warn("予約履歴の記録に失敗",
			zap.String("reservation_id", event.ReservationID),
			zap.String("event_type", string(event.EventType)),
			zap.Error(err),
		)
		if h.metrics != nil {
			h.metrics.AuditWriteFailures.Inc()
		}
	}
}

// List は予約の履歴を発生順に返す
func (h *HistoryRecorder) List(ctx context.Context, tenantID, reservationID string) ([]*reservation.HistoryEvent, error) {
	return h.repo.ListByReservation(ctx, tenantID, reservationID)
}
