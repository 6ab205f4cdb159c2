package e2e

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sanosuguru/go-facility-reservation/internal/api/handler"
	"github.com/sanosuguru/go-facility-reservation/internal/api/middleware"
	"github.com/sanosuguru/go-facility-reservation/internal/infrastructure/memory"
)

func roomRequest(date, start, end string) handler.CreateReservationRequest {
	return handler.CreateReservationRequest{
		FacilityID: memory.DemoRoomID,
		Date:       date,
		StartTime:  start,
		EndTime:    end,
		Purpose:    "自治会定例",
	}
}

func parkingRequest(slot, date, start, end string) handler.CreateReservationRequest {
	return handler.CreateReservationRequest{
		FacilityID:    memory.DemoParkingID,
		SlotID:        &slot,
		Date:          date,
		StartTime:     start,
		EndTime:       end,
		VehicleNumber: "品川 300 あ 12-34",
	}
}

// createOK は予約を作成し、201 を確認してレスポンスを返す
func (s *TestServer) createOK(t *testing.T, userID string, req handler.CreateReservationRequest) handler.ReservationResponse {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/reservations", userID, req)
	assertStatus(t, http.StatusCreated, rec)
	var resp handler.ReservationResponse
	decode(t, rec, &resp)
	return resp
}

func TestE2E_RoomReservationFlow(t *testing.T) {
	ts := NewTestServer(t)

	var first handler.ReservationResponse

	t.Run("集会室を予約できる", func(t *testing.T) {
		first = ts.createOK(t, "alice", roomRequest("2026-06-01", "10:00", "11:00"))
		assert.NotEmpty(t, first.ID)
		assert.Equal(t, "pending", first.Status)
		assert.Equal(t, "2026-06-01", first.Date)
		assert.Equal(t, "10:00", first.StartTime)
		assert.Equal(t, "11:00", first.EndTime)
		assert.Nil(t, first.SlotID)
		assert.Equal(t, "自治会定例", first.Purpose)
	})

	t.Run("重なる時間帯は他の利用者でも予約できない", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/v1/reservations", "bob", roomRequest("2026-06-01", "10:30", "11:30"))
		assertStatus(t, http.StatusConflict, rec)
		assert.Equal(t, "reservation_conflict", errorCode(t, rec))
	})

	t.Run("終了時刻ちょうどから始まる予約はできる", func(t *testing.T) {
		resp := ts.createOK(t, "bob", roomRequest("2026-06-01", "11:00", "12:00"))
		assert.Equal(t, "11:00", resp.StartTime)
	})

	t.Run("開始時刻ちょうどに終わる予約はできる", func(t *testing.T) {
		ts.createOK(t, "bob", roomRequest("2026-06-01", "09:00", "10:00"))
	})

	t.Run("取得できる", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/v1/reservations/"+first.ID, "alice", nil)
		assertStatus(t, http.StatusOK, rec)
		var resp handler.ReservationResponse
		decode(t, rec, &resp)
		assert.Equal(t, first.ID, resp.ID)
	})

	t.Run("他人の予約は取得できない", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/v1/reservations/"+first.ID, "bob", nil)
		assertStatus(t, http.StatusForbidden, rec)
		assert.Equal(t, "forbidden", errorCode(t, rec))
	})

	t.Run("一覧に自分の予約だけが含まれる", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/v1/reservations", "alice", nil)
		assertStatus(t, http.StatusOK, rec)
		var list []handler.ReservationResponse
		decode(t, rec, &list)
		require.Len(t, list, 1)
		assert.Equal(t, first.ID, list[0].ID)
	})
}

func TestE2E_EndOfDay(t *testing.T) {
	ts := NewTestServer(t)

	t.Run("24:00 終了で予約できる", func(t *testing.T) {
		resp := ts.createOK(t, "alice", roomRequest("2026-06-02", "23:00", "24:00"))
		assert.Equal(t, "2026-06-02", resp.Date)
		assert.Equal(t, "24:00", resp.EndTime)
	})

	t.Run("翌日 00:00 開始は重ならない", func(t *testing.T) {
		ts.createOK(t, "bob", roomRequest("2026-06-03", "00:00", "01:00"))
	})

	t.Run("終了が開始以前なら入力エラー", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/v1/reservations", "alice", roomRequest("2026-06-04", "12:00", "12:00"))
		assertStatus(t, http.StatusBadRequest, rec)
		assert.Equal(t, "validation_error", errorCode(t, rec))
	})

	t.Run("時刻の形式が不正なら入力エラー", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/v1/reservations", "alice", roomRequest("2026-06-04", "9時", "10:00"))
		assertStatus(t, http.StatusBadRequest, rec)
		assert.Equal(t, "validation_error", errorCode(t, rec))
	})
}

func TestE2E_ParkingSlots(t *testing.T) {
	ts := NewTestServer(t)

	t.Run("別の区画は同じ時間帯でも予約できる", func(t *testing.T) {
		p1 := ts.createOK(t, "alice", parkingRequest("P1", "2026-06-01", "09:00", "18:00"))
		p2 := ts.createOK(t, "bob", parkingRequest("P2", "2026-06-01", "09:00", "18:00"))
		require.NotNil(t, p1.SlotID)
		require.NotNil(t, p2.SlotID)
		assert.Equal(t, "P1", *p1.SlotID)
		assert.Equal(t, "P2", *p2.SlotID)
		assert.Equal(t, "品川 300 あ 12-34", p1.VehicleNumber)
	})

	t.Run("同じ区画の重なる時間帯は予約できない", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/v1/reservations", "bob", parkingRequest("P1", "2026-06-01", "17:00", "19:00"))
		assertStatus(t, http.StatusConflict, rec)
		assert.Equal(t, "reservation_conflict", errorCode(t, rec))
	})

	t.Run("区画の指定がなければ入力エラー", func(t *testing.T) {
		req := parkingRequest("", "2026-06-01", "09:00", "10:00")
		req.SlotID = nil
		rec := ts.do(t, http.MethodPost, "/api/v1/reservations", "alice", req)
		assertStatus(t, http.StatusBadRequest, rec)
		assert.Equal(t, "validation_error", errorCode(t, rec))
	})

	t.Run("存在しない区画は入力エラー", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/v1/reservations", "alice", parkingRequest("P9", "2026-06-01", "09:00", "10:00"))
		assertStatus(t, http.StatusBadRequest, rec)
		assert.Equal(t, "validation_error", errorCode(t, rec))
	})

	t.Run("集会室に区画は指定できない", func(t *testing.T) {
		req := roomRequest("2026-06-01", "09:00", "10:00")
		slot := "P1"
		req.SlotID = &slot
		rec := ts.do(t, http.MethodPost, "/api/v1/reservations", "alice", req)
		assertStatus(t, http.StatusBadRequest, rec)
		assert.Equal(t, "validation_error", errorCode(t, rec))
	})

	t.Run("存在しない施設は404", func(t *testing.T) {
		req := roomRequest("2026-06-01", "09:00", "10:00")
		req.FacilityID = "no-such-room"
		rec := ts.do(t, http.MethodPost, "/api/v1/reservations", "alice", req)
		assertStatus(t, http.StatusNotFound, rec)
		assert.Equal(t, "facility_not_found", errorCode(t, rec))
	})
}

func TestE2E_FindForDay(t *testing.T) {
	ts := NewTestServer(t)
	path := "/api/v1/reservations/day?facility_id=" + memory.DemoParkingID + "&date=2026-06-01"

	findForDay := func(t *testing.T, userID, path string) handler.DayReservationResponse {
		t.Helper()
		rec := ts.do(t, http.MethodGet, path, userID, nil)
		assertStatus(t, http.StatusOK, rec)
		require.Contains(t, rec.Body.String(), `"reservation"`)
		var resp handler.DayReservationResponse
		decode(t, rec, &resp)
		return resp
	}

	t.Run("予約がなければ null を返す", func(t *testing.T) {
		resp := findForDay(t, "alice", path)
		assert.Nil(t, resp.Reservation)
	})

	created := ts.createOK(t, "alice", parkingRequest("P2", "2026-06-01", "13:00", "15:00"))

	t.Run("当日の自分の予約を返す", func(t *testing.T) {
		resp := findForDay(t, "alice", path)
		require.NotNil(t, resp.Reservation)
		assert.Equal(t, created.ID, resp.Reservation.ID)
	})

	t.Run("他の利用者には見えない", func(t *testing.T) {
		resp := findForDay(t, "bob", path)
		assert.Nil(t, resp.Reservation)
	})

	t.Run("別の日には見えない", func(t *testing.T) {
		resp := findForDay(t, "alice", "/api/v1/reservations/day?facility_id="+memory.DemoParkingID+"&date=2026-06-02")
		assert.Nil(t, resp.Reservation)
	})

	t.Run("キャンセル後は見えない", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/v1/reservations/"+created.ID+"/cancel", "alice", nil)
		assertStatus(t, http.StatusOK, rec)

		resp := findForDay(t, "alice", path)
		assert.Nil(t, resp.Reservation)
	})

	t.Run("日付がなければ入力エラー", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/v1/reservations/day?facility_id="+memory.DemoParkingID, "alice", nil)
		assertStatus(t, http.StatusBadRequest, rec)
		assert.Equal(t, "validation_error", errorCode(t, rec))
	})
}

func TestE2E_CancelFlow(t *testing.T) {
	ts := NewTestServer(t)
	res := ts.createOK(t, "alice", roomRequest("2026-06-01", "14:00", "16:00"))
	cancelPath := "/api/v1/reservations/" + res.ID + "/cancel"

	t.Run("他人はキャンセルできない", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, cancelPath, "bob", nil)
		assertStatus(t, http.StatusForbidden, rec)
		assert.Equal(t, "forbidden", errorCode(t, rec))
	})

	t.Run("本人はキャンセルできる", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, cancelPath, "alice", nil)
		assertStatus(t, http.StatusOK, rec)
		var resp handler.ReservationResponse
		decode(t, rec, &resp)
		assert.Equal(t, "canceled", resp.Status)
		assert.NotNil(t, resp.CanceledAt)
	})

	t.Run("二度目のキャンセルは already_canceled", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, cancelPath, "alice", nil)
		assertStatus(t, http.StatusConflict, rec)
		assert.Equal(t, "already_canceled", errorCode(t, rec))
	})

	t.Run("キャンセルした時間帯は再び予約できる", func(t *testing.T) {
		ts.createOK(t, "bob", roomRequest("2026-06-01", "14:00", "16:00"))
	})

	t.Run("履歴に作成とキャンセルが順に残る", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/v1/reservations/"+res.ID+"/history", "alice", nil)
		assertStatus(t, http.StatusOK, rec)
		var events []handler.HistoryEventResponse
		decode(t, rec, &events)
		require.Len(t, events, 2)

		assert.Equal(t, "created", events[0].EventType)
		assert.Nil(t, events[0].FromStatus)
		assert.Equal(t, "pending", events[0].ToStatus)

		assert.Equal(t, "user_canceled", events[1].EventType)
		require.NotNil(t, events[1].FromStatus)
		assert.Equal(t, "pending", *events[1].FromStatus)
		assert.Equal(t, "canceled", events[1].ToStatus)
		assert.Equal(t, "alice", events[1].ActorUserID)
	})

	t.Run("他人は履歴を見られない", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/v1/reservations/"+res.ID+"/history", "bob", nil)
		assertStatus(t, http.StatusForbidden, rec)
	})

	t.Run("存在しない予約は404", func(t *testing.T) {
		rec := ts.do(t, http.MethodPost, "/api/v1/reservations/no-such-id/cancel", "alice", nil)
		assertStatus(t, http.StatusNotFound, rec)
		assert.Equal(t, "reservation_not_found", errorCode(t, rec))
	})
}

func TestE2E_CancelConfirmedAndStarted(t *testing.T) {
	ts := NewTestServer(t)

	t.Run("確定済みの予約もキャンセルできる", func(t *testing.T) {
		res := ts.createOK(t, "alice", roomRequest("2026-06-05", "10:00", "11:00"))
		_, err := ts.Service.ConfirmReservation(context.Background(), testTenant, "approver", res.ID)
		require.NoError(t, err)

		rec := ts.do(t, http.MethodPost, "/api/v1/reservations/"+res.ID+"/cancel", "alice", nil)
		assertStatus(t, http.StatusOK, rec)
	})

	t.Run("開始時刻を過ぎた予約は too_late_to_cancel", func(t *testing.T) {
		res := ts.createOK(t, "alice", roomRequest("2026-05-31", "10:00", "11:00"))

		rec := ts.do(t, http.MethodPost, "/api/v1/reservations/"+res.ID+"/cancel", "alice", nil)
		assertStatus(t, http.StatusConflict, rec)
		assert.Equal(t, "too_late_to_cancel", errorCode(t, rec))
	})

	t.Run("開始時刻ちょうども too_late_to_cancel", func(t *testing.T) {
		res := ts.createOK(t, "alice", roomRequest("2026-06-01", "08:00", "09:00"))

		rec := ts.do(t, http.MethodPost, "/api/v1/reservations/"+res.ID+"/cancel", "alice", nil)
		assertStatus(t, http.StatusConflict, rec)
		assert.Equal(t, "too_late_to_cancel", errorCode(t, rec))
	})
}

func TestE2E_Authentication(t *testing.T) {
	ts := NewTestServer(t)

	t.Run("トークンなしは401", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/v1/reservations", "", nil)
		assertStatus(t, http.StatusUnauthorized, rec)
		assert.Equal(t, "unauthorized", errorCode(t, rec))
	})

	t.Run("テナントに所属していない利用者は403", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/api/v1/reservations", "mallory", nil)
		assertStatus(t, http.StatusForbidden, rec)
		assert.Equal(t, "forbidden", errorCode(t, rec))
	})

	t.Run("別の鍵で署名されたトークンは401", func(t *testing.T) {
		other := middleware.NewIdentityResolver("other-secret", "", nil)
		tok, err := other.Issue(testTenant, "alice", time.Hour)
		require.NoError(t, err)

		req := httptest.NewRequest(http.MethodGet, "/api/v1/reservations", nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+tok)
		rec := httptest.NewRecorder()
		ts.Echo.ServeHTTP(rec, req)
		assertStatus(t, http.StatusUnauthorized, rec)
	})

	t.Run("ヘルスチェックは認証不要", func(t *testing.T) {
		rec := ts.do(t, http.MethodGet, "/health", "", nil)
		assertStatus(t, http.StatusOK, rec)
	})
}

func TestE2E_ConcurrentReservations(t *testing.T) {
	ts := NewTestServer(t)

	const attempts = 10
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
		codes   = map[int]int{}
	)
	for i := 0; i < attempts; i++ {
		user := "alice"
		if i%2 == 1 {
			user = "bob"
		}
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			rec := ts.do(t, http.MethodPost, "/api/v1/reservations", user, roomRequest("2026-06-10", "10:00", "12:00"))
			mu.Lock()
			defer mu.Unlock()
			codes[rec.Code]++
			if rec.Code == http.StatusCreated {
				created++
			}
		}(user)
	}
	wg.Wait()

	assert.Equal(t, 1, created, "同じ時間帯の予約は1件だけ成功する: %v", codes)
	assert.Equal(t, attempts-1, codes[http.StatusConflict])
}
