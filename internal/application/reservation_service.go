package application

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sanosuguru/go-facility-reservation/internal/domain/facility"
	"github.com/sanosuguru/go-facility-reservation/internal/domain/reservation"
	"github.com/sanosuguru/go-facility-reservation/internal/domain/transaction"
	redisinfra "github.com/sanosuguru/go-facility-reservation/internal/infrastructure/redis"
	"github.com/sanosuguru/go-facility-reservation/internal/pkg/logger"
	"github.com/sanosuguru/go-facility-reservation/internal/pkg/metrics"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// ReservationService は予約の作成・キャンセル・照会を扱う
type ReservationService struct {
	txManager transaction.Manager
	repo      reservation.Repository
	catalog   facility.Catalog
	checker   *ConflictChecker
	recorder  *HistoryRecorder

	lockManager    redisinfra.LockManagerInterface
	lockTTL        time.Duration
	lockRetries    int
	lockRetryDelay time.Duration

	dayCache    redisinfra.DayLookupCacheInterface
	dayCacheTTL time.Duration

	publisher        EventPublisher
	approval         ApprovalHook
	metrics          *metrics.Metrics
	loc              *time.Location
	now              func() time.Time
	serializeRetries int
}

// Option は ReservationService の任意設定
type Option func(*ReservationService)

// WithLockManager は作成時の分散ロックを有効にする
func WithLockManager(lm redisinfra.LockManagerInterface) Option {
	return func(s *ReservationService) { s.lockManager = lm }
}

// WithLockSettings は分散ロックのTTLとリトライ設定を変更する
func WithLockSettings(ttl time.Duration, retries int, retryDelay time.Duration) Option {
	return func(s *ReservationService) {
		s.lockTTL = ttl
		s.lockRetries = retries
		s.lockRetryDelay = retryDelay
	}
}

// WithDayLookupCache は当日予約照会のキャッシュを有効にする
func WithDayLookupCache(c redisinfra.DayLookupCacheInterface, ttl time.Duration) Option {
	return func(s *ReservationService) {
		s.dayCache = c
		s.dayCacheTTL = ttl
	}
}

func WithPublisher(p EventPublisher) Option {
	return func(s *ReservationService) { s.publisher = p }
}

func WithApprovalHook(h ApprovalHook) Option {
	return func(s *ReservationService) { s.approval = h }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *ReservationService) { s.metrics = m }
}

// WithLocation は壁時計入力を解釈するタイムゾーンを設定する
func WithLocation(loc *time.Location) Option {
	return func(s *ReservationService) { s.loc = loc }
}

// WithClock は現在時刻の取得元を差し替える（テスト用）
func WithClock(now func() time.Time) Option {
	return func(s *ReservationService) { s.now = now }
}

// WithSerializeRetries は直列化失敗時の再試行回数を設定する
func WithSerializeRetries(n int) Option {
	return func(s *ReservationService) { s.serializeRetries = n }
}

func NewReservationService(
	txManager transaction.Manager,
	repo reservation.Repository,
	catalog facility.Catalog,
	recorder *HistoryRecorder,
	opts ...Option,
) *ReservationService {
	s := &ReservationService{
		txManager:        txManager,
		repo:             repo,
		catalog:          catalog,
		checker:          NewConflictChecker(repo),
		recorder:         recorder,
		lockTTL:          10 * time.Second,
		lockRetries:      3,
		lockRetryDelay:   100 * time.Millisecond,
		dayCacheTTL:      30 * time.Second,
		publisher:        noopPublisher{},
		approval:         NoopApprovalHook{},
		loc:              time.UTC,
		now:              time.Now,
		serializeRetries: 3,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Location は壁時計の変換に使うタイムゾーンを返す
func (s *ReservationService) Location() *time.Location {
	return s.loc
}

// CreateReservationInput は予約作成の入力
// 日付と時刻はテナントの現地時刻で解釈する
type CreateReservationInput struct {
	TenantID         string
	UserID           string
	FacilityID       string
	SlotID           *string
	Date             string
	StartTime        string
	EndTime          string
	Purpose          string
	ParticipantCount *int
	VehicleNumber    string
	VehicleModel     string
	Metadata         map[string]string
}

// CreateReservation は予約を pending で作成する
// 分散ロック → 直列化可能トランザクション → 資源キーのDBロック → 競合確認 → 登録 の順に進める
func (s *ReservationService) CreateReservation(ctx context.Context, input CreateReservationInput) (*reservation.Reservation, error) {
	res, fac, err := s.buildReservation(ctx, input)
	if err != nil {
		s.countCreate(err)
		return nil, err
	}

	key := res.ResourceKey()
	release, err := s.acquireLock(ctx, key)
	if err != nil {
		s.countCreate(err)
		return nil, err
	}

	err = s.inTx(ctx, func(tx transaction.Tx) error {
		if err := s.repo.LockResource(ctx, tx, key); err != nil {
			return err
		}
		conflict, err := s.checker.HasConflict(ctx, tx, ConflictQuery{
			TenantID: res.TenantID,
			Facility: fac,
			SlotID:   res.SlotID,
			Window:   res.Window,
		})
		if err != nil {
			return err
		}
		if conflict {
			return reservation.ErrReservationConflict
		}
		return s.repo.Create(ctx, tx, res)
	})
	// 後続の履歴記録や通知の間は他の予約処理を待たせない
	release()
	if err != nil {
		s.countCreate(err)
		return nil, err
	}
	s.countCreate(nil)

	// ここから先はコミット済み。失敗しても作成結果は変えない
	s.recorder.Record(ctx, reservation.NewHistoryEvent(res, input.UserID, reservation.HistoryCreated, nil, res.CreatedAt))
	s.invalidateDayLookup(ctx, res)
	s.publisher.Publish(ctx, reservation.NewLifecycleEvent(reservation.LifecycleCreated, res, input.UserID, res.CreatedAt))
	s.approval.Submitted(ctx, res)

	logger.FromContext(ctx).Info("予約を作成しました",
		zap.String("tenant_id", res.TenantID),
		zap.String("reservation_id", res.ID),
		zap.String("facility_id", res.FacilityID),
	)
	return res, nil
}

// buildReservation は入力を検証し、登録前の予約エンティティを組み立てる
func (s *ReservationService) buildReservation(ctx context.Context, input CreateReservationInput) (*reservation.Reservation, *facility.Facility, error) {
	switch {
	case input.TenantID == "":
		return nil, nil, reservation.ErrTenantIDRequired
	case input.UserID == "":
		return nil, nil, reservation.ErrUserIDRequired
	case input.FacilityID == "":
		return nil, nil, reservation.ErrFacilityIDRequired
	}

	window, err := reservation.ParseWallClock(input.Date, input.StartTime, input.EndTime, s.loc)
	if err != nil {
		return nil, nil, err
	}

	fac, err := s.catalog.GetByID(ctx, input.TenantID, input.FacilityID)
	if err != nil {
		return nil, nil, wrapCatalogError("施設取得に失敗", err)
	}

	slotID := normalizeSlotID(input.SlotID)
	if fac.RequiresSlot() {
		if slotID == nil {
			return nil, nil, reservation.ErrSlotRequired
		}
		if _, err := s.catalog.GetSlot(ctx, input.TenantID, fac.ID, *slotID); err != nil {
			return nil, nil, wrapCatalogError("区画取得に失敗", err)
		}
	} else if slotID != nil {
		return nil, nil, reservation.ErrSlotNotAllowed
	}

	res := reservation.NewReservation(input.TenantID, input.UserID, fac.ID, slotID, window)
	now := s.now()
	res.CreatedAt = now
	res.UpdatedAt = now
	res.Purpose = strings.TrimSpace(input.Purpose)
	for k, v := range input.Metadata {
		if res.Metadata == nil {
			res.Metadata = make(map[string]string, len(input.Metadata))
		}
		res.Metadata[k] = v
	}
	if fac.RequiresSlot() {
		res.SetVehicle(strings.TrimSpace(input.VehicleNumber), strings.TrimSpace(input.VehicleModel))
	} else {
		res.ParticipantCount = input.ParticipantCount
	}
	if err := res.Validate(); err != nil {
		return nil, nil, err
	}
	return res, fac, nil
}

// CancelReservation は利用者本人による予約のキャンセルを行う
// 行ロックで読み込んだ状態を条件に更新するため、二重キャンセルは一方だけが成功する
func (s *ReservationService) CancelReservation(ctx context.Context, tenantID, userID, id string) (*reservation.Reservation, error) {
	var (
		canceled *reservation.Reservation
		prior    reservation.Status
		now      time.Time
	)
	err := s.inTx(ctx, func(tx transaction.Tx) error {
		res, err := s.repo.GetByIDForUpdate(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		prior = res.Status
		now = s.now()
		if err := res.Cancel(userID, now); err != nil {
			return err
		}
		if err := s.repo.UpdateStatus(ctx, tx, res, prior); err != nil {
			return err
		}
		canceled = res
		return nil
	})
	if err != nil {
		s.countCancel(err)
		return nil, err
	}
	s.countCancel(nil)

	from := prior
	s.recorder.Record(ctx, reservation.NewHistoryEvent(canceled, userID, reservation.HistoryUserCanceled, &from, now))
	s.invalidateDayLookup(ctx, canceled)
	s.publisher.Publish(ctx, reservation.NewLifecycleEvent(reservation.LifecycleCanceled, canceled, userID, now))

	logger.FromContext(ctx).Info("予約をキャンセルしました",
		zap.String("tenant_id", tenantID),
		zap.String("reservation_id", id),
		zap.String("from_status", string(prior)),
	)
	return canceled, nil
}

// ConfirmReservation は外部の承認処理から呼ばれ、pending の予約を confirmed にする
// 作成・キャンセルと同じく履歴の記録と当日照会キャッシュの無効化を行う
func (s *ReservationService) ConfirmReservation(ctx context.Context, tenantID, approverID, id string) (*reservation.Reservation, error) {
	var (
		confirmed *reservation.Reservation
		now       time.Time
	)
	err := s.inTx(ctx, func(tx transaction.Tx) error {
		res, err := s.repo.GetByIDForUpdate(ctx, tx, tenantID, id)
		if err != nil {
			return err
		}
		now = s.now()
		if err := res.Confirm(now); err != nil {
			return err
		}
		if err := s.repo.UpdateStatus(ctx, tx, res, reservation.StatusPending); err != nil {
			if errors.Is(err, reservation.ErrAlreadyCanceled) {
				return reservation.ErrReservationNotPending
			}
			return err
		}
		confirmed = res
		return nil
	})
	if err != nil {
		return nil, err
	}

	from := reservation.StatusPending
	s.recorder.Record(ctx, reservation.NewHistoryEvent(confirmed, approverID, reservation.HistoryConfirmed, &from, now))
	s.invalidateDayLookup(ctx, confirmed)
	s.publisher.Publish(ctx, reservation.NewLifecycleEvent(reservation.LifecycleConfirmed, confirmed, approverID, now))

	logger.FromContext(ctx).Info("予約を確定しました",
		zap.String("tenant_id", tenantID),
		zap.String("reservation_id", id),
		zap.String("approver_id", approverID),
	)
	return confirmed, nil
}

// GetReservation は本人の予約を取得する
func (s *ReservationService) GetReservation(ctx context.Context, tenantID, userID, id string) (*reservation.Reservation, error) {
	res, err := s.repo.GetByID(ctx, tenantID, id)
	if err != nil {
		return nil, err
	}
	if !res.IsOwnedBy(userID) {
		return nil, reservation.ErrForbidden
	}
	return res, nil
}

// GetHistory は本人の予約の履歴を発生順に返す
func (s *ReservationService) GetHistory(ctx context.Context, tenantID, userID, id string) ([]*reservation.HistoryEvent, error) {
	if _, err := s.GetReservation(ctx, tenantID, userID, id); err != nil {
		return nil, err
	}
	events, err := s.recorder.List(ctx, tenantID, id)
	if err != nil {
		return nil, fmt.Errorf("予約履歴の取得に失敗: %w", err)
	}
	return events, nil
}

// ListUserReservations はテナント内の本人の予約一覧を返す
func (s *ReservationService) ListUserReservations(ctx context.Context, tenantID, userID string, limit, offset int) ([]*reservation.Reservation, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	if limit > maxListLimit {
		limit = maxListLimit
	}
	if offset < 0 {
		offset = 0
	}
	return s.repo.ListByUser(ctx, tenantID, userID, limit, offset)
}

// FindActiveForUserOnDate は date（YYYY-MM-DD）を現地の暦日として FindActiveForUserOnDay を呼ぶ
func (s *ReservationService) FindActiveForUserOnDate(ctx context.Context, tenantID, userID, facilityID, date string) (*reservation.Reservation, error) {
	day, err := time.ParseInLocation(reservation.DateLayout, date, s.loc)
	if err != nil {
		return nil, reservation.ErrInvalidDate
	}
	return s.FindActiveForUserOnDay(ctx, tenantID, userID, facilityID, day)
}

// FindActiveForUserOnDay は本人の有効な予約のうち、day の暦日と重なるものを返す
// 該当がなければ (nil, nil)
func (s *ReservationService) FindActiveForUserOnDay(ctx context.Context, tenantID, userID, facilityID string, day time.Time) (*reservation.Reservation, error) {
	if _, err := s.catalog.GetByID(ctx, tenantID, facilityID); err != nil {
		return nil, wrapCatalogError("施設取得に失敗", err)
	}

	window := reservation.DayWindow(day, s.loc)
	dayKey := window.Start.Format(reservation.DateLayout)

	// 世代はDBを読む前に取得する。照会中に作成・キャンセルが入れば保存されない
	var (
		gen       int64
		cacheable bool
	)
	if s.dayCache != nil {
		cached, err := s.dayCache.Get(ctx, tenantID, userID, facilityID, dayKey)
		if err == nil {
			return cached, nil
		}
		if !errors.Is(err, redisinfra.ErrCacheMiss) {
			logger.Warn("当日予約キャッシュの取得に失敗", zap.Error(err))
		}
		gen, err = s.dayCache.Generation(ctx, tenantID, userID, facilityID)
		if err != nil {
			logger.Warn("当日予約キャッシュの世代取得に失敗", zap.Error(err))
		} else {
			cacheable = true
		}
	}

	found, err := s.repo.FindActiveByUser(ctx, tenantID, userID, facilityID, window)
	if err != nil {
		return nil, fmt.Errorf("予約の検索に失敗: %w", err)
	}
	var res *reservation.Reservation
	if len(found) > 0 {
		res = found[0]
	}

	if cacheable {
		err := s.dayCache.Set(ctx, tenantID, userID, facilityID, dayKey, gen, res, s.dayCacheTTL)
		switch {
		case err == nil:
		case errors.Is(err, redisinfra.ErrStaleGeneration):
			logger.Debug("照会中に予約が更新されたためキャッシュしない", zap.String("day", dayKey))
		default:
			logger.Warn("当日予約キャッシュの保存に失敗", zap.Error(err))
		}
	}
	return res, nil
}

// CountActiveByStatus は有効な予約数を状態ごとに返す
func (s *ReservationService) CountActiveByStatus(ctx context.Context) (map[reservation.Status]int, error) {
	return s.repo.CountActiveByStatus(ctx)
}

// inTx は fn をトランザクション内で実行する
// 直列化に失敗した場合は serializeRetries 回までやり直す
func (s *ReservationService) inTx(ctx context.Context, fn func(tx transaction.Tx) error) error {
	attempts := s.serializeRetries
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		err = s.runTx(ctx, fn)
		if !errors.Is(err, transaction.ErrSerializationFailure) {
			return err
		}
		logger.Debug("直列化に失敗したため再試行", zap.Int("attempt", i+1))
	}
	return fmt.Errorf("トランザクションの再試行回数を超えました: %w", err)
}

func (s *ReservationService) runTx(ctx context.Context, fn func(tx transaction.Tx) error) (err error) {
	tx, err := s.txManager.Begin(ctx)
	if err != nil {
		return fmt.Errorf("トランザクション開始に失敗: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(tx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("コミットに失敗: %w", err)
	}
	return nil
}

// acquireLock は資源キーの分散ロックを取得し、解放関数を返す
// 取得できない場合（他の処理が保持中、Redis障害）はDB側のロックだけで続行する
// DBロックは待機するため、重ならない予約が競合として拒否されることはない
func (s *ReservationService) acquireLock(ctx context.Context, key string) (func(), error) {
	if s.lockManager == nil {
		return func() {}, nil
	}

	start := time.Now()
	lock, err := s.lockManager.AcquireLockWithRetry(ctx, "reservation:"+key, s.lockTTL, s.lockRetries, s.lockRetryDelay)
	s.observeLock("acquire", err, start)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, redisinfra.ErrLockNotAcquired) {
			logger.FromContext(ctx).Info("分散ロックが保持中のためDBロックで待機",
				zap.String("key", key),
			)
		} else {
			logger.Warn("分散ロックを取得できないためDBロックのみで続行",
				zap.String("key", key),
				zap.Error(err),
			)
		}
		return func() {}, nil
	}

	return func() {
		start := time.Now()
		err := lock.Release(context.WithoutCancel(ctx))
		s.observeLock("release", err, start)
		if err != nil {
			logger.Warn("分散ロックの解放に失敗", zap.String("key", key), zap.Error(err))
		}
	}, nil
}

func (s *ReservationService) invalidateDayLookup(ctx context.Context, res *reservation.Reservation) {
	if s.dayCache == nil {
		return
	}
	if err := s.dayCache.Invalidate(context.WithoutCancel(ctx), res.TenantID, res.UserID, res.FacilityID); err != nil {
		logger.ForReservation(ctx, res.TenantID, res.ID).Warn("当日予約キャッシュの無効化に失敗", zap.Error(err))
	}
}

func (s *ReservationService) observeLock(op string, err error, start time.Time) {
	if s.metrics == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failed"
	}
	s.metrics.DistributedLockDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
}

func (s *ReservationService) countCreate(err error) {
	if s.metrics == nil {
		return
	}
	var status string
	switch {
	case err == nil:
		status = "success"
	case errors.Is(err, reservation.ErrReservationConflict):
		status = "conflict"
	case reservation.IsValidationError(err):
		status = "validation_error"
	case errors.Is(err, facility.ErrFacilityNotFound), errors.Is(err, facility.ErrSlotNotFound):
		status = "not_found"
	default:
		status = "error"
	}
	s.metrics.ReservationsTotal.WithLabelValues(status).Inc()
}

func (s *ReservationService) countCancel(err error) {
	if s.metrics == nil {
		return
	}
	var status string
	switch {
	case err == nil:
		status = "success"
	case errors.Is(err, reservation.ErrForbidden):
		status = "forbidden"
	case errors.Is(err, reservation.ErrAlreadyCanceled):
		status = "already_canceled"
	case errors.Is(err, reservation.ErrCannotCancel):
		status = "cannot_cancel"
	case errors.Is(err, reservation.ErrTooLateToCancel):
		status = "too_late"
	case errors.Is(err, reservation.ErrReservationNotFound):
		status = "not_found"
	default:
		status = "error"
	}
	s.metrics.CancellationsTotal.WithLabelValues(status).Inc()
}

// wrapCatalogError はカタログの未検出エラーはそのまま返し、それ以外は文脈を付けて包む
func wrapCatalogError(msg string, err error) error {
	if errors.Is(err, facility.ErrFacilityNotFound) || errors.Is(err, facility.ErrSlotNotFound) {
		return err
	}
	return fmt.Errorf("%s: %w", msg, err)
}

func normalizeSlotID(slotID *string) *string {
	if slotID == nil {
		return nil
	}
	v := strings.TrimSpace(*slotID)
	if v == "" {
		return nil
	}
	return &v
}
