package router

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sanosuguru/go-facility-reservation/internal/api"
	"github.com/sanosuguru/go-facility-reservation/internal/api/handler"
	"github.com/sanosuguru/go-facility-reservation/internal/api/middleware"
	"github.com/sanosuguru/go-facility-reservation/internal/config"
	"github.com/sanosuguru/go-facility-reservation/internal/pkg/metrics"
)

// Deps はHTTPサーバーの組み立てに必要な依存
type Deps struct {
	Reservations handler.ReservationServiceInterface
	Resolver     *middleware.IdentityResolver
	Metrics      *metrics.Metrics
	MetricsAuth  config.MetricsConfig
	HealthChecks []handler.HealthCheck
}

// New はルートとミドルウェアを登録したEchoを返す
func New(d Deps) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Validator = api.NewValidator()
	e.HTTPErrorHandler = api.CustomHTTPErrorHandler

	middleware.SetupMiddleware(e)
	if d.Metrics != nil {
		e.Use(middleware.PrometheusMiddleware(d.Metrics))
	}

	e.GET("/health", handler.NewHealthHandler(d.HealthChecks...).Check)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()), middleware.MetricsBasicAuth(d.MetricsAuth))

	v1 := e.Group("/api/v1", middleware.Identity(d.Resolver))
	handler.NewReservationHandler(d.Reservations).RegisterRoutes(v1)

	return e
}
