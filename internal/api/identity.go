package api

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

const identityKey = "identity"

// Identity は認証済みの呼び出し元（テナントと利用者）
type Identity struct {
	TenantID string
	UserID   string
}

// SetIdentity は認証ミドルウェアが解決した呼び出し元をコンテキストに格納する
func SetIdentity(c echo.Context, id Identity) {
	c.Set(identityKey, id)
}

// IdentityFrom は呼び出し元を取り出す。未認証の場合は unauthorized を返す
func IdentityFrom(c echo.Context) (Identity, error) {
	id, ok := c.Get(identityKey).(Identity)
	if !ok || id.TenantID == "" || id.UserID == "" {
		return Identity{}, NewError(http.StatusUnauthorized, CodeUnauthorized, "認証が必要です")
	}
	return id, nil
}
