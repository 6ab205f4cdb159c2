package transaction

import (
	"context"
	"errors"
)

// ErrSerializationFailure は直列化可能分離レベルでの競合を表す
// 呼び出し側はトランザクション全体をやり直す
var ErrSerializationFailure = errors.New("トランザクションの直列化に失敗しました")

// Tx はトランザクションを表すインターフェース
// ドメイン層がインフラ層（sqlx等）に依存しないようにするための抽象化
type Tx interface {
	// Commit はトランザクションをコミットする
	Commit() error
	// Rollback はトランザクションをロールバックする
	Rollback() error
}

// Manager はトランザクションを管理するインターフェース
type Manager interface {
	// Begin は新しいトランザクションを開始する
	Begin(ctx context.Context) (Tx, error)
}
