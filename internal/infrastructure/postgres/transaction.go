package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/sanosuguru/go-facility-reservation/internal/domain/transaction"
)

// PostgreSQLのエラーコード
const (
	codeUniqueViolation      = "23505"
	codeExclusionViolation   = "23P01"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
)

// TxWrapper は sqlx.Tx を transaction.Tx インターフェースでラップする
type TxWrapper struct {
	*sqlx.Tx
}

// Commit はトランザクションをコミットする
// 直列化失敗は呼び出し側が再試行できるよう ErrSerializationFailure に変換する
func (t *TxWrapper) Commit() error {
	return translateTxError(t.Tx.Commit())
}

// Rollback はトランザクションをロールバックする
func (t *TxWrapper) Rollback() error {
	err := t.Tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}

// TxManager は sqlx.DB を使用したトランザクションマネージャー
// すべてのトランザクションを SERIALIZABLE で開始する
type TxManager struct {
	db *sqlx.DB
}

// NewTxManager は新しい TxManager を作成する
func NewTxManager(db *sqlx.DB) *TxManager {
	return &TxManager{db: db}
}

// Begin は新しいトランザクションを開始する
func (m *TxManager) Begin(ctx context.Context) (transaction.Tx, error) {
	tx, err := m.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return nil, err
	}
	return &TxWrapper{Tx: tx}, nil
}

// UnwrapTx は transaction.Tx から sqlx.Tx を取り出す
// リポジトリ実装で使用する
func UnwrapTx(tx transaction.Tx) *sqlx.Tx {
	if wrapper, ok := tx.(*TxWrapper); ok {
		return wrapper.Tx
	}
	return nil
}

var errNoTx = errors.New("PostgreSQLのトランザクションが必要です")

func requireTx(tx transaction.Tx) (*sqlx.Tx, error) {
	sqlTx := UnwrapTx(tx)
	if sqlTx == nil {
		return nil, errNoTx
	}
	return sqlTx, nil
}

// translateTxError は再試行すべきエラーを ErrSerializationFailure に変換する
func translateTxError(err error) error {
	if err == nil {
		return nil
	}
	if pqCode(err) == codeSerializationFailure || pqCode(err) == codeDeadlockDetected {
		return transaction.ErrSerializationFailure
	}
	return err
}

func pqCode(err error) pq.ErrorCode {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code
	}
	return ""
}
