package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"room-reserve/internal/domain"
	"room-reserve/internal/repository"
)

var (
	// ErrPermissionDenied indicates the actor's role does not allow the operation.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrMalformedTime indicates a start or end time that does not match domain.TimeLayout.
	ErrMalformedTime = errors.New("malformed time")
	// ErrInvalidTimeRange indicates an end time at or before the start time.
	ErrInvalidTimeRange = errors.New("end time must be after start time")
)

// ReceiptGenerator produces the scannable receipt artifact for a reservation
// and returns the path stored on the record.
type ReceiptGenerator interface {
	Generate(ctx context.Context, id int64, username string, start time.Time) (string, error)
}

// ReservationService coordinates reservation level operations backed by repositories.
type ReservationService interface {
	Create(ctx context.Context, actor domain.Actor, startStr, endStr string) (*domain.Reservation, error)
	List(ctx context.Context, actor domain.Actor) ([]domain.Reservation, error)
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
}

type reservationService struct {
	reservations repository.ReservationRepository
	receipts     ReceiptGenerator
	location     *time.Location
}

func NewReservationService(reservations repository.ReservationRepository, receipts ReceiptGenerator, location *time.Location) ReservationService {
	if location == nil {
		location = time.UTC
	}
	return &reservationService{
		reservations: reservations,
		receipts:     receipts,
		location:     location,
	}
}

func (s *reservationService) Create(ctx context.Context, actor domain.Actor, startStr, endStr string) (*domain.Reservation, error) {
	if actor.Role != domain.RoleStudent {
		return nil, ErrPermissionDenied
	}

	start, err := time.ParseInLocation(domain.TimeLayout, startStr, s.location)
	if err != nil {
		return nil, fmt.Errorf("%w: start_time %q", ErrMalformedTime, startStr)
	}
	end, err := time.ParseInLocation(domain.TimeLayout, endStr, s.location)
	if err != nil {
		return nil, fmt.Errorf("%w: end_time %q", ErrMalformedTime, endStr)
	}
	if !end.After(start) {
		return nil, ErrInvalidTimeRange
	}

	res := &domain.Reservation{
		UserID:    actor.ID,
		Username:  actor.Username,
		StartTime: start,
		EndTime:   end,
		Status:    domain.ReservationStatusConfirmed,
	}

	err = s.reservations.CreateWithReceipt(ctx, res, func(id int64) (string, error) {
		return s.receipts.Generate(ctx, id, actor.Username, start)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *reservationService) List(ctx context.Context, actor domain.Actor) ([]domain.Reservation, error) {
	if actor.Role == domain.RoleAdmin {
		return s.reservations.List(ctx)
	}
	return s.reservations.ListByUser(ctx, actor.ID)
}

func (s *reservationService) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	return s.reservations.ExpireDue(ctx, now.In(s.location))
}
