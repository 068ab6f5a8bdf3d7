package repository

import (
	"context"
	"time"

	"room-reserve/internal/domain"
)

// ReceiptFunc produces the receipt artifact for a freshly inserted
// reservation and returns the path stored on the record. It runs inside
// the creating transaction so a failed receipt rolls the insert back.
type ReceiptFunc func(id int64) (string, error)

// ReservationRepository exposes persistence operations for Reservation records.
type ReservationRepository interface {
	Init(ctx context.Context) error
	CreateWithReceipt(ctx context.Context, res *domain.Reservation, receipt ReceiptFunc) error
	Get(ctx context.Context, id int64) (*domain.Reservation, error)
	List(ctx context.Context) ([]domain.Reservation, error)
	ListByUser(ctx context.Context, userID int64) ([]domain.Reservation, error)
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
}
