package application

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanosuguru/go-facility-reservation/internal/domain/reservation"
	redisinfra "github.com/sanosuguru/go-facility-reservation/internal/infrastructure/redis"
)

// slowHistory は履歴の書き込みに時間がかかる監査ストア
type slowHistory struct {
	reservation.HistoryRepository
	delay time.Duration
}

func (h *slowHistory) Append(ctx context.Context, e *reservation.HistoryEvent) error {
	time.Sleep(h.delay)
	return h.HistoryRepository.Append(ctx, e)
}

// hookedRepository は当日照会のDB読み取り直後に任意の処理を差し込む
type hookedRepository struct {
	reservation.Repository
	once        sync.Once
	afterLookup func()
}

func (r *hookedRepository) FindActiveByUser(ctx context.Context, tenantID, userID, facilityID string, window reservation.TimeWindow) ([]*reservation.Reservation, error) {
	found, err := r.Repository.FindActiveByUser(ctx, tenantID, userID, facilityID, window)
	if r.afterLookup != nil {
		r.once.Do(r.afterLookup)
	}
	return found, err
}

// withRedis は miniredis による分散ロックと当日照会キャッシュを有効にしたサービスに差し替える
func (e *scenarioEnv) withRedis(t *testing.T, repo reservation.Repository, history reservation.HistoryRepository) {
	t.Helper()
	mr := miniredis.RunT(t)
	client, err := redisinfra.NewClient(&redisinfra.Config{Host: mr.Host(), Port: mr.Port()})
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	e.service = NewReservationService(
		e.store, repo, e.store.Catalog(),
		NewHistoryRecorder(history, 3*time.Second, nil),
		WithLocation(tokyo),
		WithClock(e.clock.Now),
		WithLockManager(redisinfra.NewLockManager(client)),
		WithDayLookupCache(redisinfra.NewDayLookupCache(client), 30*time.Second),
	)
}

// TestScenario_LockedRoomNonOverlapping は同じ施設への重ならない予約が同時に来ても両方成功することを確認する
func TestScenario_LockedRoomNonOverlapping(t *testing.T) {
	env := setupScenario(t)
	env.withRedis(t, env.store.Reservations(), &slowHistory{HistoryRepository: env.store.History(), delay: time.Second})

	var (
		wg         sync.WaitGroup
		errA, errB error
		resA, resB *reservation.Reservation
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		resA, errA = env.book("T1", "A", "R1", nil, "2025-06-01", "09:00", "10:00")
	}()
	go func() {
		defer wg.Done()
		time.Sleep(50 * time.Millisecond)
		resB, errB = env.book("T1", "B", "R1", nil, "2025-06-01", "13:00", "14:00")
	}()
	wg.Wait()

	require.NoError(t, errA)
	require.NoError(t, errB, "重ならない予約は競合にならない")
	assert.NotEqual(t, resA.ID, resB.ID)

	// 重なる予約は引き続き競合になる
	_, err := env.book("T1", "C", "R1", nil, "2025-06-01", "09:30", "10:30")
	assert.ErrorIs(t, err, reservation.ErrReservationConflict)
}

// TestScenario_DayLookupCacheRace は照会と作成が交差しても「該当なし」がキャッシュに残らないことを確認する
func TestScenario_DayLookupCacheRace(t *testing.T) {
	env := setupScenario(t)
	ctx := context.Background()

	var created *reservation.Reservation
	repo := &hookedRepository{Repository: env.store.Reservations()}
	env.withRedis(t, repo, env.store.History())
	repo.afterLookup = func() {
		// 照会がDBを読んだ後、キャッシュに保存する前に同じ利用者の予約が確定する
		var err error
		created, err = env.book("T1", "U", "R1", nil, "2025-06-01", "10:00", "11:00")
		require.NoError(t, err)
	}

	first, err := env.service.FindActiveForUserOnDate(ctx, "T1", "U", "R1", "2025-06-01")
	require.NoError(t, err)
	assert.Nil(t, first, "読み取り時点では予約なし")
	require.NotNil(t, created)

	second, err := env.service.FindActiveForUserOnDate(ctx, "T1", "U", "R1", "2025-06-01")
	require.NoError(t, err)
	require.NotNil(t, second, "古い「該当なし」が返ってはならない")
	assert.Equal(t, created.ID, second.ID)

	// 以降はキャッシュから同じ結果が返る
	third, err := env.service.FindActiveForUserOnDate(ctx, "T1", "U", "R1", "2025-06-01")
	require.NoError(t, err)
	require.NotNil(t, third)
	assert.Equal(t, created.ID, third.ID)
}

// TestScenario_ConfirmRefreshesDayLookup は承認で確定した予約が当日照会にすぐ反映されることを確認する
func TestScenario_ConfirmRefreshesDayLookup(t *testing.T) {
	env := setupScenario(t)
	ctx := context.Background()
	env.withRedis(t, env.store.Reservations(), env.store.History())

	res, err := env.book("T1", "U", "R1", nil, "2025-06-01", "10:00", "11:00")
	require.NoError(t, err)

	cached, err := env.service.FindActiveForUserOnDate(ctx, "T1", "U", "R1", "2025-06-01")
	require.NoError(t, err)
	require.NotNil(t, cached)
	assert.Equal(t, reservation.StatusPending, cached.Status)

	_, err = env.service.ConfirmReservation(ctx, "T1", "approver", res.ID)
	require.NoError(t, err)

	got, err := env.service.FindActiveForUserOnDate(ctx, "T1", "U", "R1", "2025-06-01")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, reservation.StatusConfirmed, got.Status)
}
