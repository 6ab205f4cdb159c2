package reservation

import (
	"context"

	"github.com/sanosuguru/go-facility-reservation/internal/domain/transaction"
)

// OverlapQuery は競合判定の条件
// SlotID が nil の場合は施設全体を対象にする
type OverlapQuery struct {
	TenantID   string
	FacilityID string
	SlotID     *string
	Window     TimeWindow
}

// Repository は予約リポジトリのインターフェース
type Repository interface {
	// Create は新しい予約を作成する（トランザクション必須）
	Create(ctx context.Context, tx transaction.Tx, reservation *Reservation) error

	// GetByID はテナント内の予約を取得する
	GetByID(ctx context.Context, tenantID, id string) (*Reservation, error)

	// GetByIDForUpdate は行ロックを取得して予約を読み込む（トランザクション必須）
	GetByIDForUpdate(ctx context.Context, tx transaction.Tx, tenantID, id string) (*Reservation, error)

	// UpdateStatus は状態が from のままの場合に限り状態を更新する（トランザクション必須）
	// 既に別の更新が入っていた場合は ErrAlreadyCanceled を返す
	UpdateStatus(ctx context.Context, tx transaction.Tx, reservation *Reservation, from Status) error

	// LockResource はトランザクション終了まで資源キー単位の排他ロックを取得する
	LockResource(ctx context.Context, tx transaction.Tx, key string) error

	// HasOverlap は有効な予約のうち時間帯が重なるものがあるかを返す
	HasOverlap(ctx context.Context, tx transaction.Tx, q OverlapQuery) (bool, error)

	// FindActiveByUser は利用者の有効な予約のうち時間帯が重なるものを開始時刻順に返す
	FindActiveByUser(ctx context.Context, tenantID, userID, facilityID string, window TimeWindow) ([]*Reservation, error)

	// ListByUser は利用者の予約一覧を新しい順に返す
	ListByUser(ctx context.Context, tenantID, userID string, limit, offset int) ([]*Reservation, error)

	// CountActiveByStatus は有効な予約数を状態ごとに集計する
	CountActiveByStatus(ctx context.Context) (map[Status]int, error)
}

// HistoryRepository は予約履歴（追記専用）のインターフェース
type HistoryRepository interface {
	// Append は履歴を1件追記する
	Append(ctx context.Context, event *HistoryEvent) error

	// ListByReservation は予約の履歴を発生順に返す
	ListByReservation(ctx context.Context, tenantID, reservationID string) ([]*HistoryEvent, error)
}
