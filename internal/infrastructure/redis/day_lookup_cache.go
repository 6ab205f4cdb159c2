package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sanosuguru/go-facility-reservation/internal/domain/reservation"
)

var (
	ErrCacheMiss = errors.New("キャッシュが見つかりません")
	// ErrStaleGeneration は照会中に無効化が入ったため保存しなかったことを表す
	ErrStaleGeneration = errors.New("キャッシュの世代が古いため保存しません")
)

const (
	// noneMarker は「該当なし」を表すキャッシュ値
	noneMarker = "none"
	// generationTTL は世代キーの保持期間。結果のTTLより十分長くする
	generationTTL = 24 * time.Hour
)

// DayLookupCacheInterface は利用者ごとの当日予約照会キャッシュ
type DayLookupCacheInterface interface {
	// Get はキャッシュ済みの結果を返す。該当なしがキャッシュされている場合は (nil, nil)
	Get(ctx context.Context, tenantID, userID, facilityID, day string) (*reservation.Reservation, error)
	// Generation は現在の世代を返す。DBを読む前に取得し、Set に渡す
	Generation(ctx context.Context, tenantID, userID, facilityID string) (int64, error)
	// Set は世代が gen のままの場合に限り保存する。変わっていれば ErrStaleGeneration
	Set(ctx context.Context, tenantID, userID, facilityID, day string, gen int64, r *reservation.Reservation, ttl time.Duration) error
	// Invalidate は世代を進めて利用者・施設の全日付分を無効化する
	Invalidate(ctx context.Context, tenantID, userID, facilityID string) error
}

type cachedReservation struct {
	ID               string            `json:"id"`
	TenantID         string            `json:"tenant_id"`
	FacilityID       string            `json:"facility_id"`
	SlotID           *string           `json:"slot_id,omitempty"`
	UserID           string            `json:"user_id"`
	StartAt          time.Time         `json:"start_at"`
	EndAt            time.Time         `json:"end_at"`
	Status           string            `json:"status"`
	Purpose          string            `json:"purpose,omitempty"`
	ParticipantCount *int              `json:"participant_count,omitempty"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	CreatedAt        time.Time         `json:"created_at"`
	UpdatedAt        time.Time         `json:"updated_at"`
}

// DayLookupCache は DayLookupCacheInterface の Redis 実装
// キー1つ（テナント・利用者・施設）のハッシュに日付ごとの結果を持つ
// 世代キーを WATCH して保存するため、照会と無効化が交差しても古い結果は残らない
type DayLookupCache struct {
	client *redis.Client
}

// NewDayLookupCache は新しいDayLookupCacheインスタンスを作成する
func NewDayLookupCache(client *redis.Client) *DayLookupCache {
	return &DayLookupCache{client: client}
}

func (c *DayLookupCache) Get(ctx context.Context, tenantID, userID, facilityID, day string) (*reservation.Reservation, error) {
	val, err := c.client.HGet(ctx, c.key(tenantID, userID, facilityID), day).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("キャッシュ取得に失敗: %w", err)
	}
	if val == noneMarker {
		return nil, nil
	}
	var cr cachedReservation
	if err := json.Unmarshal([]byte(val), &cr); err != nil {
		return nil, ErrCacheMiss
	}
	return cr.toEntity(), nil
}

func (c *DayLookupCache) Generation(ctx context.Context, tenantID, userID, facilityID string) (int64, error) {
	gen, err := c.client.Get(ctx, c.generationKey(tenantID, userID, facilityID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		return 0, fmt.Errorf("キャッシュ世代の取得に失敗: %w", err)
	}
	return gen, nil
}

func (c *DayLookupCache) Set(ctx context.Context, tenantID, userID, facilityID, day string, gen int64, r *reservation.Reservation, ttl time.Duration) error {
	val := noneMarker
	if r != nil {
		b, err := json.Marshal(fromEntity(r))
		if err != nil {
			return fmt.Errorf("キャッシュ値の変換に失敗: %w", err)
		}
		val = string(b)
	}
	key := c.key(tenantID, userID, facilityID)
	genKey := c.generationKey(tenantID, userID, facilityID)
	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if cur != gen {
			return ErrStaleGeneration
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, day, val)
			pipe.Expire(ctx, key, ttl)
			return nil
		})
		return err
	}, genKey)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrStaleGeneration), errors.Is(err, redis.TxFailedErr):
		return ErrStaleGeneration
	default:
		return fmt.Errorf("キャッシュ保存に失敗: %w", err)
	}
}

func (c *DayLookupCache) Invalidate(ctx context.Context, tenantID, userID, facilityID string) error {
	genKey := c.generationKey(tenantID, userID, facilityID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
		pipe.Del(ctx, c.key(tenantID, userID, facilityID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("キャッシュ無効化に失敗: %w", err)
	}
	return nil
}

func (c *DayLookupCache) key(tenantID, userID, facilityID string) string {
	return fmt.Sprintf("reservations:day:%s:%s:%s", tenantID, userID, facilityID)
}

func (c *DayLookupCache) generationKey(tenantID, userID, facilityID string) string {
	return c.key(tenantID, userID, facilityID) + ":gen"
}

func fromEntity(r *reservation.Reservation) cachedReservation {
	return cachedReservation{
		ID: r.ID, TenantID: r.TenantID, FacilityID: r.FacilityID, SlotID: r.SlotID,
		UserID: r.UserID, StartAt: r.Window.Start, EndAt: r.Window.End,
		Status: string(r.Status), Purpose: r.Purpose, ParticipantCount: r.ParticipantCount,
		Metadata: r.Metadata, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

func (cr cachedReservation) toEntity() *reservation.Reservation {
	return &reservation.Reservation{
		ID: cr.ID, TenantID: cr.TenantID, FacilityID: cr.FacilityID, SlotID: cr.SlotID,
		UserID: cr.UserID, Window: reservation.TimeWindow{Start: cr.StartAt, End: cr.EndAt},
		Status: reservation.Status(cr.Status), Purpose: cr.Purpose, ParticipantCount: cr.ParticipantCount,
		Metadata: cr.Metadata, CreatedAt: cr.CreatedAt, UpdatedAt: cr.UpdatedAt,
	}
}

var _ DayLookupCacheInterface = (*DayLookupCache)(nil)
