package handler

import (
	"context"
	"time"

	"github.com/sanosuguru/go-facility-reservation/internal/application"
	"github.com/sanosuguru/go-facility-reservation/internal/domain/reservation"
)

// ReservationServiceInterface は予約サービスのインターフェース
type ReservationServiceInterface interface {
	CreateReservation(ctx context.Context, input application.CreateReservationInput) (*reservation.Reservation, error)
	CancelReservation(ctx context.Context, tenantID, userID, id string) (*reservation.Reservation, error)
	GetReservation(ctx context.Context, tenantID, userID, id string) (*reservation.Reservation, error)
	GetHistory(ctx context.Context, tenantID, userID, id string) ([]*reservation.HistoryEvent, error)
	ListUserReservations(ctx context.Context, tenantID, userID string, limit, offset int) ([]*reservation.Reservation, error)
	FindActiveForUserOnDate(ctx context.Context, tenantID, userID, facilityID, date string) (*reservation.Reservation, error)
	Location() *time.Location
}
