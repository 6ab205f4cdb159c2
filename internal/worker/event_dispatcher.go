package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-facility-reservation/internal/domain/reservation"
	"github.com/sanosuguru/go-facility-reservation/internal/pkg/logger"
	"github.com/sanosuguru/go-facility-reservation/internal/pkg/metrics"
)

// EventSink は予約イベントの配信先（メッセージブローカー等）
type EventSink interface {
	Send(ctx context.Context, event reservation.LifecycleEvent) error
}

// EventDispatcher は予約イベントをキューに積み、別のゴルーチンで配信する
// 予約処理はキューへの投入だけを行い、配信の成否を待たない
type EventDispatcher struct {
	sink    EventSink
	queue   chan reservation.LifecycleEvent
	timeout time.Duration
	metrics *metrics.Metrics

	// mu は停止判定とキューへの投入を不可分にする
	mu      sync.Mutex
	stopped bool

	stopCh chan struct{}
	doneCh chan struct{}
	once   sync.Once
}

// NewEventDispatcher は新しいディスパッチャーを作成
func NewEventDispatcher(sink EventSink, buffer int, timeout time.Duration, m *metrics.Metrics) *EventDispatcher {
	if buffer < 1 {
		buffer = 1
	}
	return &EventDispatcher{
		sink:    sink,
		queue:   make(chan reservation.LifecycleEvent, buffer),
		timeout: timeout,
		metrics: m,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}
}

// Publish はイベントをキューに積む。キューが満杯か停止後の場合は破棄する
func (d *EventDispatcher) Publish(ctx context.Context, event reservation.LifecycleEvent) {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		d.drop(event, "停止後")
		return
	}
	select {
	case d.queue <- event:
		d.mu.Unlock()
	default:
		d.mu.Unlock()
		d.drop(event, "キュー満杯")
	}
}

// Start は配信ループを開始。停止時はキューに残ったイベントを配信してから終了する
func (d *EventDispatcher) Start(ctx context.Context) {
	logger.Info("予約イベント配信開始", zap.Int("buffer", cap(d.queue)))
	defer close(d.doneCh)

	for {
		select {
		case <-ctx.Done():
			d.drain()
			logger.Info("予約イベント配信停止（コンテキストキャンセル）")
			return
		case <-d.stopCh:
			d.drain()
			logger.Info("予約イベント配信停止（シグナル受信）")
			return
		case event := <-d.queue:
			d.deliver(event)
		}
	}
}

// Stop は配信ループを停止し、終了を待つ
func (d *EventDispatcher) Stop() {
	d.once.Do(func() {
		d.markStopped()
		close(d.stopCh)
	})
	<-d.doneCh
}

func (d *EventDispatcher) markStopped() {
	d.mu.Lock()
	d.stopped = true
	d.mu.Unlock()
}

// drain は停止を確定させてから残りを配信する。以降の Publish はキューに積まれない
func (d *EventDispatcher) drain() {
	d.markStopped()
	for {
		select {
		case event := <-d.queue:
			d.deliver(event)
		default:
			return
		}
	}
}

// deliver は1件配信する。停止処理中でも配信できるよう親のcontextは使わない
func (d *EventDispatcher) deliver(event reservation.LifecycleEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	if err := d.sink.Send(ctx, event); err != nil {
		logger.Warn("予約イベントの配信に失敗",
			zap.String("type", string(event.Type)),
			zap.String("reservation_id", event.ReservationID),
			zap.Error(err),
		)
		d.count(event, "failed")
		return
	}
	d.count(event, "published")
}

func (d *EventDispatcher) drop(event reservation.LifecycleEvent, reason string) {
	logger.Warn("予約イベントを破棄",
		zap.String("reason", reason),
		zap.String("type", string(event.Type)),
		zap.String("reservation_id", event.ReservationID),
	)
	d.count(event, "dropped")
}

func (d *EventDispatcher) count(event reservation.LifecycleEvent, result string) {
	if d.metrics == nil {
		return
	}
	d.metrics.LifecycleEventsTotal.WithLabelValues(string(event.Type), result).Inc()
}

// LogSink はブローカー未設定時に使う配信先。イベントをログに出すだけ
type LogSink struct{}

func (LogSink) Send(_ context.Context, event reservation.LifecycleEvent) error {
	logger.Info("予約イベント",
		zap.String("type", string(event.Type)),
		zap.String("tenant_id", event.TenantID),
		zap.String("reservation_id", event.ReservationID),
	)
	return nil
}
