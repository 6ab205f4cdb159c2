package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/sanosuguru/go-facility-reservation/internal/api"
	"github.com/sanosuguru/go-facility-reservation/internal/application"
	"github.com/sanosuguru/go-facility-reservation/internal/domain/reservation"
)

type ReservationHandler struct {
	service ReservationServiceInterface
}

func NewReservationHandler(s ReservationServiceInterface) *ReservationHandler {
	return &ReservationHandler{service: s}
}

// CreateReservationRequest は予約作成のリクエスト
// 日付と時刻はテナントの現地時刻。終了時刻は "24:00" も指定できる
type CreateReservationRequest struct {
	FacilityID       string  `json:"facility_id" validate:"required" example:"room-a"`
	SlotID           *string `json:"slot_id,omitempty" example:"P1"`
	Date             string  `json:"date" validate:"required,datetime=2006-01-02" example:"2026-06-01"`
	StartTime        string  `json:"start_time" validate:"required,clock" example:"10:00"`
	EndTime          string  `json:"end_time" validate:"required,clock" example:"11:00"`
	Purpose          string  `json:"purpose,omitempty" validate:"max=200" example:"自治会定例"`
	ParticipantCount *int    `json:"participant_count,omitempty" validate:"omitempty,min=1,max=1000" example:"12"`
	VehicleNumber    string  `json:"vehicle_number,omitempty" validate:"max=32" example:"品川 300 あ 12-34"`
	VehicleModel     string  `json:"vehicle_model,omitempty" validate:"max=64" example:"プリウス"`
}

// DayQuery は当日の自分の予約照会の条件
type DayQuery struct {
	FacilityID string `query:"facility_id" validate:"required"`
	Date       string `query:"date" validate:"required,datetime=2006-01-02"`
}

// ReservationResponse は予約を現地時刻の壁時計表記で返す
type ReservationResponse struct {
	ID               string     `json:"id" example:"550e8400-e29b-41d4-a716-446655440000"`
	FacilityID       string     `json:"facility_id" example:"parking-1"`
	SlotID           *string    `json:"slot_id" example:"P1"`
	UserID           string     `json:"user_id" example:"user-123"`
	Date             string     `json:"date" example:"2026-06-01"`
	StartTime        string     `json:"start_time" example:"09:00"`
	EndTime          string     `json:"end_time" example:"10:00"`
	StartAt          time.Time  `json:"start_at"`
	EndAt            time.Time  `json:"end_at"`
	Status           string     `json:"status" example:"pending"`
	Purpose          string     `json:"purpose"`
	ParticipantCount *int       `json:"participant_count"`
	VehicleNumber    string     `json:"vehicle_number,omitempty"`
	VehicleModel     string     `json:"vehicle_model,omitempty"`
	CanceledAt       *time.Time `json:"canceled_at,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
}

// DayReservationResponse は該当なしの場合も reservation を null で明示する
type DayReservationResponse struct {
	Reservation *ReservationResponse `json:"reservation"`
}

// HistoryEventResponse は予約履歴の1件
type HistoryEventResponse struct {
	ID          string    `json:"id"`
	EventType   string    `json:"event_type" example:"user_canceled"`
	FromStatus  *string   `json:"from_status"`
	ToStatus    string    `json:"to_status"`
	ActorUserID string    `json:"actor_user_id"`
	OccurredAt  time.Time `json:"occurred_at"`
	Note        string    `json:"note,omitempty"`
}

func (h *ReservationHandler) toReservationResponse(r *reservation.Reservation) ReservationResponse {
	date, start, end := reservation.FormatWallClock(r.Window, h.service.Location())
	return ReservationResponse{
		ID:               r.ID,
		FacilityID:       r.FacilityID,
		SlotID:           r.SlotID,
		UserID:           r.UserID,
		Date:             date,
		StartTime:        start,
		EndTime:          end,
		StartAt:          r.Window.Start,
		EndAt:            r.Window.End,
		Status:           string(r.Status),
		Purpose:          r.Purpose,
		ParticipantCount: r.ParticipantCount,
		VehicleNumber:    r.Metadata[reservation.MetadataVehicleNumber],
		VehicleModel:     r.Metadata[reservation.MetadataVehicleModel],
		CanceledAt:       r.CanceledAt,
		CreatedAt:        r.CreatedAt,
	}
}

func toHistoryEventResponse(e *reservation.HistoryEvent) HistoryEventResponse {
	resp := HistoryEventResponse{
		ID:          e.ID,
		EventType:   string(e.EventType),
		ToStatus:    string(e.ToStatus),
		ActorUserID: e.ActorUserID,
		OccurredAt:  e.OccurredAt,
		Note:        e.Note,
	}
	if e.FromStatus != nil {
		from := string(*e.FromStatus)
		resp.FromStatus = &from
	}
	return resp
}

func invalidRequest() error {
	return api.NewError(http.StatusBadRequest, api.CodeValidation, "リクエストの形式が不正です")
}

// Create godoc
// @Summary 施設を予約
// @Description 集会室または駐車場の区画を pending で予約します
// @Tags reservations
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body CreateReservationRequest true "予約情報"
// @Success 201 {object} ReservationResponse
// @Failure 400 {object} api.ErrorResponse "validation_error"
// @Failure 404 {object} api.ErrorResponse "facility_not_found"
// @Failure 409 {object} api.ErrorResponse "reservation_conflict"
// @Router /reservations [post]
func (h *ReservationHandler) Create(c echo.Context) error {
	id, err := api.IdentityFrom(c)
	if err != nil {
		return err
	}
	var req CreateReservationRequest
	if err := c.Bind(&req); err != nil {
		return invalidRequest()
	}
	if err := c.Validate(&req); err != nil {
		return err
	}
	r, err := h.service.CreateReservation(c.Request().Context(), application.CreateReservationInput{
		TenantID:         id.TenantID,
		UserID:           id.UserID,
		FacilityID:       req.FacilityID,
		SlotID:           req.SlotID,
		Date:             req.Date,
		StartTime:        req.StartTime,
		EndTime:          req.EndTime,
		Purpose:          req.Purpose,
		ParticipantCount: req.ParticipantCount,
		VehicleNumber:    req.VehicleNumber,
		VehicleModel:     req.VehicleModel,
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, h.toReservationResponse(r))
}

// Cancel godoc
// @Summary 予約をキャンセル
// @Description 利用開始前の自分の予約をキャンセルします
// @Tags reservations
// @Produce json
// @Security BearerAuth
// @Param id path string true "予約ID"
// @Success 200 {object} ReservationResponse
// @Failure 403 {object} api.ErrorResponse "forbidden"
// @Failure 404 {object} api.ErrorResponse "reservation_not_found"
// @Failure 409 {object} api.ErrorResponse "already_canceled / cannot_cancel / too_late_to_cancel"
// @Router /reservations/{id}/cancel [post]
func (h *ReservationHandler) Cancel(c echo.Context) error {
	id, err := api.IdentityFrom(c)
	if err != nil {
		return err
	}
	r, err := h.service.CancelReservation(c.Request().Context(), id.TenantID, id.UserID, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.toReservationResponse(r))
}

// FindForDay godoc
// @Summary 指定日の自分の予約を取得
// @Description 指定施設・指定日の自分の有効な予約を返します。なければ reservation は null
// @Tags reservations
// @Produce json
// @Security BearerAuth
// @Param facility_id query string true "施設ID"
// @Param date query string true "日付（YYYY-MM-DD）"
// @Success 200 {object} DayReservationResponse
// @Failure 400 {object} api.ErrorResponse "validation_error"
// @Failure 404 {object} api.ErrorResponse "facility_not_found"
// @Router /reservations/day [get]
func (h *ReservationHandler) FindForDay(c echo.Context) error {
	id, err := api.IdentityFrom(c)
	if err != nil {
		return err
	}
	var q DayQuery
	if err := c.Bind(&q); err != nil {
		return invalidRequest()
	}
	if err := c.Validate(&q); err != nil {
		return err
	}
	r, err := h.service.FindActiveForUserOnDate(c.Request().Context(), id.TenantID, id.UserID, q.FacilityID, q.Date)
	if err != nil {
		return err
	}
	resp := DayReservationResponse{}
	if r != nil {
		rr := h.toReservationResponse(r)
		resp.Reservation = &rr
	}
	return c.JSON(http.StatusOK, resp)
}

// GetByID godoc
// @Summary 予約を取得
// @Tags reservations
// @Produce json
// @Security BearerAuth
// @Param id path string true "予約ID"
// @Success 200 {object} ReservationResponse
// @Failure 403 {object} api.ErrorResponse
// @Failure 404 {object} api.ErrorResponse
// @Router /reservations/{id} [get]
func (h *ReservationHandler) GetByID(c echo.Context) error {
	id, err := api.IdentityFrom(c)
	if err != nil {
		return err
	}
	r, err := h.service.GetReservation(c.Request().Context(), id.TenantID, id.UserID, c.Param("id"))
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, h.toReservationResponse(r))
}

// History godoc
// @Summary 予約の履歴を取得
// @Tags reservations
// @Produce json
// @Security BearerAuth
// @Param id path string true "予約ID"
// @Success 200 {array} HistoryEventResponse
// @Router /reservations/{id}/history [get]
func (h *ReservationHandler) History(c echo.Context) error {
	id, err := api.IdentityFrom(c)
	if err != nil {
		return err
	}
	events, err := h.service.GetHistory(c.Request().Context(), id.TenantID, id.UserID, c.Param("id"))
	if err != nil {
		return err
	}
	resp := make([]HistoryEventResponse, len(events))
	for i, e := range events {
		resp[i] = toHistoryEventResponse(e)
	}
	return c.JSON(http.StatusOK, resp)
}

// List godoc
// @Summary 自分の予約一覧を取得
// @Tags reservations
// @Produce json
// @Security BearerAuth
// @Param limit query int false "取得件数" default(20)
// @Param offset query int false "オフセット" default(0)
// @Success 200 {array} ReservationResponse
// @Router /reservations [get]
func (h *ReservationHandler) List(c echo.Context) error {
	id, err := api.IdentityFrom(c)
	if err != nil {
		return err
	}
	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))
	reservations, err := h.service.ListUserReservations(c.Request().Context(), id.TenantID, id.UserID, limit, offset)
	if err != nil {
		return err
	}
	resp := make([]ReservationResponse, len(reservations))
	for i, r := range reservations {
		resp[i] = h.toReservationResponse(r)
	}
	return c.JSON(http.StatusOK, resp)
}

// RegisterRoutes は予約APIのルートを登録する
func (h *ReservationHandler) RegisterRoutes(g *echo.Group) {
	g.POST("/reservations", h.Create)
	g.GET("/reservations", h.List)
	g.GET("/reservations/day", h.FindForDay)
	g.GET("/reservations/:id", h.GetByID)
	g.GET("/reservations/:id/history", h.History)
	g.POST("/reservations/:id/cancel", h.Cancel)
}
