package e2e

import (
	"bytes"
	"encoding/json"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/sanosuguru/go-facility-reservation/internal/api/middleware"
	"github.com/sanosuguru/go-facility-reservation/internal/api/router"
	"github.com/sanosuguru/go-facility-reservation/internal/application"
	"github.com/sanosuguru/go-facility-reservation/internal/infrastructure/memory"
	"github.com/sanosuguru/go-facility-reservation/internal/pkg/metrics"
)

const (
	testTenant = "tenant-e2e"
	testSecret = "e2e-secret"
)

// テスト中の「現在時刻」。2026-06-01 08:00 JST
var testNow = time.Date(2026, 6, 1, 8, 0, 0, 0, time.FixedZone("JST", 9*60*60))

// TestServer はE2Eテスト用のサーバー
// ストレージはメモリストアのため外部サービスなしで動作する
type TestServer struct {
	Echo     *echo.Echo
	Store    *memory.Store
	Service  *application.ReservationService
	Resolver *middleware.IdentityResolver
}

// NewTestServer は本番と同じルーティングでテスト用サーバーを組み立てる
func NewTestServer(t *testing.T) *TestServer {
	t.Helper()

	store := memory.NewStore()
	store.SeedDemo(testTenant, "alice", "bob")

	loc, err := time.LoadLocation("Asia/Tokyo")
	require.NoError(t, err)

	m := metrics.NewWithRegistry(prometheus.NewRegistry())
	recorder := application.NewHistoryRecorder(store.History(), time.Second, m)
	service := application.NewReservationService(store, store.Reservations(), store.Catalog(), recorder,
		application.WithMetrics(m),
		application.WithLocation(loc),
		application.WithClock(func() time.Time { return testNow }),
	)

	resolver := middleware.NewIdentityResolver(testSecret, "", store)
	e := router.New(router.Deps{
		Reservations: service,
		Resolver:     resolver,
		Metrics:      m,
	})

	return &TestServer{Echo: e, Store: store, Service: service, Resolver: resolver}
}

// token は指定ユーザーのアクセストークンを発行する
func (s *TestServer) token(t *testing.T, userID string) string {
	t.Helper()
	tok, err := s.Resolver.Issue(testTenant, userID, time.Hour)
	require.NoError(t, err)
	return tok
}

// do は userID として API を呼び出す。userID が空なら認証ヘッダーを付けない
func (s *TestServer) do(t *testing.T, method, path, userID string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if userID != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+s.token(t, userID))
	}
	rec := httptest.NewRecorder()
	s.Echo.ServeHTTP(rec, req)
	return rec
}

// decode はレスポンスボディを v に読み込む
func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

// errorCode はエラーレスポンスの code を返す
func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
		Code  string `json:"code"`
	}
	decode(t, rec, &body)
	require.NotEmpty(t, body.Error)
	return body.Code
}

func assertStatus(t *testing.T, want int, rec *httptest.ResponseRecorder) {
	t.Helper()
	require.Equal(t, want, rec.Code, "body: %s", rec.Body.String())
}
