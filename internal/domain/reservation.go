package domain

import "time"

// TimeLayout is the wire format for reservation start and end times.
const TimeLayout = "2006-01-02T15:04:05"

type ReservationStatus string

const (
	ReservationStatusConfirmed ReservationStatus = "Confirmed"
	ReservationStatusExpired   ReservationStatus = "Expired"
)

// Reservation represents a booked time slot tracked by the system.
// Status moves one way: Confirmed to Expired, and Expired is terminal.
type Reservation struct {
	ID          int64
	UserID      int64
	Username    string
	StartTime   time.Time
	EndTime     time.Time
	Status      ReservationStatus
	ReceiptPath string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}
