package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanosuguru/go-facility-reservation/internal/domain/reservation"
	"github.com/sanosuguru/go-facility-reservation/internal/pkg/metrics"
)

// fakeSink は受け取ったイベントを記録する
type fakeSink struct {
	mu     sync.Mutex
	events []reservation.LifecycleEvent
	err    error
	block  chan struct{}
}

func (s *fakeSink) Send(ctx context.Context, e reservation.LifecycleEvent) error {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, e)
	return nil
}

func (s *fakeSink) received() []reservation.LifecycleEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]reservation.LifecycleEvent(nil), s.events...)
}

func lifecycleEvent(id string) reservation.LifecycleEvent {
	return reservation.LifecycleEvent{Type: reservation.LifecycleCreated, TenantID: "t1", ReservationID: id}
}

func TestEventDispatcher_DeliversEvents(t *testing.T) {
	sink := &fakeSink{}
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	d := NewEventDispatcher(sink, 8, time.Second, m)

	go d.Start(context.Background())
	d.Publish(context.Background(), lifecycleEvent("res-1"))
	d.Publish(context.Background(), lifecycleEvent("res-2"))

	require.Eventually(t, func() bool { return len(sink.received()) == 2 }, time.Second, 5*time.Millisecond)
	d.Stop()

	got := sink.received()
	assert.Equal(t, "res-1", got[0].ReservationID)
	assert.Equal(t, "res-2", got[1].ReservationID)
	assert.Equal(t, float64(2), testutil.ToFloat64(m.LifecycleEventsTotal.WithLabelValues("reservation.created", "published")))
}

func TestEventDispatcher_DropsWhenFull(t *testing.T) {
	sink := &fakeSink{}
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	// 配信ループを起動しないのでキューは空かない
	d := NewEventDispatcher(sink, 1, time.Second, m)

	d.Publish(context.Background(), lifecycleEvent("res-1"))
	d.Publish(context.Background(), lifecycleEvent("res-2"))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.LifecycleEventsTotal.WithLabelValues("reservation.created", "dropped")))
	assert.Len(t, d.queue, 1)
}

func TestEventDispatcher_SinkFailureIsCounted(t *testing.T) {
	sink := &fakeSink{err: errors.New("broker unavailable")}
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	d := NewEventDispatcher(sink, 4, time.Second, m)

	d.deliver(lifecycleEvent("res-1"))

	assert.Equal(t, float64(1), testutil.ToFloat64(m.LifecycleEventsTotal.WithLabelValues("reservation.created", "failed")))
}

func TestEventDispatcher_StopDrainsQueue(t *testing.T) {
	block := make(chan struct{})
	sink := &fakeSink{block: block}
	d := NewEventDispatcher(sink, 8, time.Second, nil)

	go d.Start(context.Background())
	for _, id := range []string{"res-1", "res-2", "res-3"} {
		d.Publish(context.Background(), lifecycleEvent(id))
	}
	close(block)
	d.Stop()

	assert.Len(t, sink.received(), 3)

	// 停止後のイベントは破棄される
	d.Publish(context.Background(), lifecycleEvent("res-4"))
	assert.Len(t, sink.received(), 3)
}

func TestEventDispatcher_PublishDuringStopIsAccounted(t *testing.T) {
	sink := &fakeSink{}
	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	d := NewEventDispatcher(sink, 1024, time.Second, m)
	go d.Start(context.Background())

	const publishers, perPublisher = 16, 50
	var wg sync.WaitGroup
	for p := 0; p < publishers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perPublisher; i++ {
				d.Publish(context.Background(), lifecycleEvent("res"))
			}
		}()
	}
	time.Sleep(time.Millisecond)
	d.Stop()
	wg.Wait()

	// 停止と投入が交差しても、配信か破棄のどちらかに必ず数えられる
	published := testutil.ToFloat64(m.LifecycleEventsTotal.WithLabelValues("reservation.created", "published"))
	dropped := testutil.ToFloat64(m.LifecycleEventsTotal.WithLabelValues("reservation.created", "dropped"))
	assert.Equal(t, float64(publishers*perPublisher), published+dropped)
	assert.Len(t, sink.received(), int(published))
}

func TestLogSink(t *testing.T) {
	assert.NoError(t, LogSink{}.Send(context.Background(), lifecycleEvent("res-1")))
}
