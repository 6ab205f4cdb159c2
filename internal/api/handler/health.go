package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/sanosuguru/go-facility-reservation/internal/pkg/logger"
)

const healthCheckTimeout = 2 * time.Second

// HealthCheck は依存先1つ分の疎通確認
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// HealthHandler はヘルスチェックハンドラー
type HealthHandler struct {
	checks []HealthCheck
}

// NewHealthHandler はHealthHandlerを作成する
func NewHealthHandler(checks ...HealthCheck) *HealthHandler {
	return &HealthHandler{checks: checks}
}

// HealthResponse はヘルスチェックのレスポンス
type HealthResponse struct {
	Status    string            `json:"status"`
	Timestamp string            `json:"timestamp"`
	Checks    map[string]string `json:"checks,omitempty"`
}

// Check はヘルスチェックを行う
// @Summary ヘルスチェック
// @Description データベース等の依存先への疎通を確認する
// @Tags health
// @Produce json
// @Success 200 {object} HealthResponse
// @Failure 503 {object} HealthResponse
// @Router /health [get]
func (h *HealthHandler) Check(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), healthCheckTimeout)
	defer cancel()

	resp := HealthResponse{Status: "ok", Timestamp: time.Now().Format(time.RFC3339)}
	status := http.StatusOK
	if len(h.checks) > 0 {
		resp.Checks = make(map[string]string, len(h.checks))
	}
	for _, hc := range h.checks {
		if err := hc.Check(ctx); err != nil {
			logger.Warn("ヘルスチェック失敗", zap.String("dependency", hc.Name), zap.Error(err))
			resp.Checks[hc.Name] = "unavailable"
			resp.Status = "unavailable"
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[hc.Name] = "ok"
	}
	return c.JSON(status, resp)
}
