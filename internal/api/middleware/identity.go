package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-facility-reservation/internal/api"
	"github.com/sanosuguru/go-facility-reservation/internal/pkg/logger"
)

// Claims はアクセストークンのクレーム。sub が利用者ID
type Claims struct {
	TenantID string `json:"tenant_id"`
	jwt.RegisteredClaims
}

// MembershipChecker はテナントへの所属を確認する
type MembershipChecker interface {
	IsMember(ctx context.Context, tenantID, userID string) (bool, error)
}

// Rejection は本人確認に失敗した理由
type Rejection struct {
	Kind    string
	Status  int
	Message string
}

// Resolution は本人確認の結果。Resolved か Rejected のどちらか一方だけを保持する
type Resolution struct {
	identity  api.Identity
	rejection *Rejection
}

func Resolved(id api.Identity) Resolution {
	return Resolution{identity: id}
}

func Rejected(kind string, status int, message string) Resolution {
	return Resolution{rejection: &Rejection{Kind: kind, Status: status, Message: message}}
}

// Match は結果に応じてどちらか一方の関数を呼ぶ
func (r Resolution) Match(onResolved func(api.Identity) error, onRejected func(Rejection) error) error {
	if r.rejection != nil {
		return onRejected(*r.rejection)
	}
	return onResolved(r.identity)
}

// IdentityResolver はBearerトークンから呼び出し元を解決する
type IdentityResolver struct {
	secret  []byte
	issuer  string
	members MembershipChecker
}

// NewIdentityResolver を作成する。members が nil の場合は所属確認を行わない
func NewIdentityResolver(secret, issuer string, members MembershipChecker) *IdentityResolver {
	return &IdentityResolver{secret: []byte(secret), issuer: issuer, members: members}
}

// Resolve は Authorization ヘッダーの値を検証する
func (r *IdentityResolver) Resolve(ctx context.Context, authorization string) Resolution {
	raw, ok := strings.CutPrefix(authorization, "Bearer ")
	if !ok || strings.TrimSpace(raw) == "" {
		return Rejected(api.CodeUnauthorized, http.StatusUnauthorized, "認証が必要です")
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if r.issuer != "" {
		opts = append(opts, jwt.WithIssuer(r.issuer))
	}
	var claims Claims
	if _, err := jwt.ParseWithClaims(strings.TrimSpace(raw), &claims, func(*jwt.Token) (interface{}, error) {
		return r.secret, nil
	}, opts...); err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Rejected(api.CodeUnauthorized, http.StatusUnauthorized, "トークンの有効期限が切れています")
		}
		return Rejected(api.CodeUnauthorized, http.StatusUnauthorized, "トークンが不正です")
	}
	if claims.Subject == "" || claims.TenantID == "" {
		return Rejected(api.CodeUnauthorized, http.StatusUnauthorized, "トークンにテナントまたは利用者がありません")
	}

	if r.members != nil {
		member, err := r.members.IsMember(ctx, claims.TenantID, claims.Subject)
		if err != nil {
			logger.Error("テナント所属の確認に失敗",
				zap.String("tenant_id", claims.TenantID),
				zap.String("user_id", claims.Subject),
				zap.Error(err),
			)
			return Rejected(api.CodeServerError, http.StatusInternalServerError, "内部サーバーエラー")
		}
		if !member {
			return Rejected(api.CodeForbidden, http.StatusForbidden, "このテナントに所属していません")
		}
	}
	return Resolved(api.Identity{TenantID: claims.TenantID, UserID: claims.Subject})
}

// Issue はトークンを発行する（開発環境とテスト用）
func (r *IdentityResolver) Issue(tenantID, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		TenantID: tenantID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    r.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
}

// Identity は呼び出し元を解決してコンテキストに格納するミドルウェア
// 解決できなければ後続を呼ばずにエラーを返す
func Identity(resolver *IdentityResolver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			return resolver.Resolve(req.Context(), req.Header.Get(echo.HeaderAuthorization)).Match(
				func(id api.Identity) error {
					api.SetIdentity(c, id)
					l := logger.FromContext(req.Context()).With(
						zap.String("tenant_id", id.TenantID),
						zap.String("user_id", id.UserID),
					)
					c.SetRequest(req.WithContext(logger.WithContext(req.Context(), l)))
					return next(c)
				},
				func(rej Rejection) error {
					return api.NewError(rej.Status, rej.Kind, rej.Message)
				},
			)
		}
	}
}
