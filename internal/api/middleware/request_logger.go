package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-facility-reservation/internal/pkg/logger"
)

// RequestLogger はリクエストの構造化ログを出力するミドルウェア
// リクエストIDを付けたロガーをコンテキストに入れ、後続の処理でも同じIDで出力できるようにする
func RequestLogger() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			req := c.Request()
			res := c.Response()

			requestID := req.Header.Get(echo.HeaderXRequestID)
			if requestID == "" {
				requestID = res.Header().Get(echo.HeaderXRequestID)
			}
			reqLogger := logger.Get().With(zap.String("request_id", requestID))
			c.SetRequest(req.WithContext(logger.WithContext(req.Context(), reqLogger)))

			err := next(c)
			if err != nil {
				// ステータスを確定させるため先にエラーハンドラーを通す
				c.Error(err)
			}

			// 認証ミドルウェアが利用者情報を付けたロガーを優先する
			l := logger.FromContext(c.Request().Context())
			fields := []zap.Field{
				zap.String("method", req.Method),
				zap.String("path", req.URL.Path),
				zap.String("query", req.URL.RawQuery),
				zap.Int("status", res.Status),
				zap.Int64("size", res.Size),
				zap.Duration("latency", time.Since(start)),
				zap.String("remote_ip", c.RealIP()),
				zap.String("user_agent", req.UserAgent()),
			}

			switch {
			case res.Status >= 500:
				if err != nil {
					fields = append(fields, zap.Error(err))
				}
				l.Error("server error", fields...)
			case res.Status >= 400:
				l.Warn("client error", fields...)
			default:
				l.Info("request completed", fields...)
			}
			return nil
		}
	}
}
