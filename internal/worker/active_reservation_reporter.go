package worker

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-facility-reservation/internal/domain/reservation"
	"github.com/sanosuguru/go-facility-reservation/internal/pkg/logger"
	"github.com/sanosuguru/go-facility-reservation/internal/pkg/metrics"
)

// ActiveReservationCounter は有効な予約数を状態ごとに集計する
type ActiveReservationCounter interface {
	CountActiveByStatus(ctx context.Context) (map[reservation.Status]int, error)
}

// ActiveReservationReporter は有効な予約数を定期的にゲージへ反映するワーカー
type ActiveReservationReporter struct {
	counter  ActiveReservationCounter
	metrics  *metrics.Metrics
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewActiveReservationReporter は新しいレポーターを作成
func NewActiveReservationReporter(counter ActiveReservationCounter, m *metrics.Metrics, interval time.Duration) *ActiveReservationReporter {
	return &ActiveReservationReporter{
		counter:  counter,
		metrics:  m,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start はレポーターを開始。起動直後に1回集計する
func (r *ActiveReservationReporter) Start(ctx context.Context) {
	logger.Info("有効予約数レポーター開始", zap.Duration("interval", r.interval))

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	defer close(r.doneCh)

	r.report(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Info("有効予約数レポーター停止（コンテキストキャンセル）")
			return
		case <-r.stopCh:
			logger.Info("有効予約数レポーター停止（シグナル受信）")
			return
		case <-ticker.C:
			r.report(ctx)
		}
	}
}

// Stop はレポーターを停止
func (r *ActiveReservationReporter) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *ActiveReservationReporter) report(ctx context.Context) {
	counts, err := r.counter.CountActiveByStatus(ctx)
	if err != nil {
		logger.Error("有効予約数の集計に失敗", zap.Error(err))
		return
	}
	for _, status := range []reservation.Status{reservation.StatusPending, reservation.StatusConfirmed} {
		r.metrics.ActiveReservations.WithLabelValues(string(status)).Set(float64(counts[status]))
	}
	logger.Get().Debug("有効予約数を更新",
		zap.Int("pending", counts[reservation.StatusPending]),
		zap.Int("confirmed", counts[reservation.StatusConfirmed]),
	)
}
