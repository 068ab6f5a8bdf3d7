package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"room-reserve/internal/domain"
	"room-reserve/internal/repository"
)

const createReservationsTable = `
CREATE TABLE IF NOT EXISTS reservations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL,
	start_time DATETIME NOT NULL,
	end_time DATETIME NOT NULL,
	status TEXT NOT NULL DEFAULT 'Confirmed',
	receipt_path TEXT NULL,
	created_at DATETIME NOT NULL,
	updated_at DATETIME NOT NULL,
	FOREIGN KEY(user_id) REFERENCES users(id)
);
CREATE INDEX IF NOT EXISTS idx_reservations_user_id ON reservations(user_id);
CREATE INDEX IF NOT EXISTS idx_reservations_status ON reservations(status);
`

const selectReservation = `
SELECT r.id, r.user_id, u.username, r.start_time, r.end_time, r.status, r.receipt_path, r.created_at, r.updated_at
FROM reservations r
JOIN users u ON u.id = r.user_id
`

type ReservationRepository struct {
	db *sql.DB
}

func NewReservationRepository(db *sql.DB) repository.ReservationRepository {
	return &ReservationRepository{db: db}
}

func (r *ReservationRepository) Init(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, createReservationsTable); err != nil {
		return fmt.Errorf("create reservations table: %w", err)
	}
	return nil
}

// CreateWithReceipt inserts the reservation and runs the receipt callback
// inside one transaction. A receipt failure rolls the insert back, so a
// Confirmed row never lands without its receipt path.
func (r *ReservationRepository) CreateWithReceipt(ctx context.Context, res *domain.Reservation, receipt repository.ReceiptFunc) error {
	now := time.Now().UTC()
	res.CreatedAt = now
	res.UpdatedAt = now
	if res.Status == "" {
		res.Status = domain.ReservationStatusConfirmed
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() // safe no-op on commit

	result, err := tx.ExecContext(ctx, `
INSERT INTO reservations (user_id, start_time, end_time, status, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?)`,
		res.UserID,
		res.StartTime,
		res.EndTime,
		string(res.Status),
		res.CreatedAt,
		res.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert reservation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("reservation last insert id: %w", err)
	}
	res.ID = id

	if receipt != nil {
		path, err := receipt(id)
		if err != nil {
			return fmt.Errorf("generate receipt: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
UPDATE reservations SET receipt_path = ?, updated_at = ? WHERE id = ?`,
			path, time.Now().UTC(), id,
		); err != nil {
			return fmt.Errorf("store receipt path: %w", err)
		}
		res.ReceiptPath = path
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

func (r *ReservationRepository) Get(ctx context.Context, id int64) (*domain.Reservation, error) {
	row := r.db.QueryRowContext(ctx, selectReservation+`WHERE r.id = ?`, id)
	res, err := scanReservation(row)
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (r *ReservationRepository) List(ctx context.Context) ([]domain.Reservation, error) {
	return r.queryReservations(ctx, selectReservation+`ORDER BY r.id ASC`)
}

func (r *ReservationRepository) ListByUser(ctx context.Context, userID int64) ([]domain.Reservation, error) {
	return r.queryReservations(ctx, selectReservation+`WHERE r.user_id = ? ORDER BY r.id ASC`, userID)
}

// ExpireDue flips every Confirmed reservation whose end time has passed.
// One statement, so a sweep pass is atomic and re-running it is a no-op.
func (r *ReservationRepository) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
UPDATE reservations
SET status = ?, updated_at = ?
WHERE status = ? AND end_time < ?`,
		string(domain.ReservationStatusExpired),
		time.Now().UTC(),
		string(domain.ReservationStatusConfirmed),
		now,
	)
	if err != nil {
		return 0, fmt.Errorf("expire reservations: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expire rows affected: %w", err)
	}
	return affected, nil
}

func (r *ReservationRepository) queryReservations(ctx context.Context, query string, args ...any) ([]domain.Reservation, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query reservations: %w", err)
	}
	defer rows.Close()

	var reservations []domain.Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		reservations = append(reservations, *res)
	}
	return reservations, rows.Err()
}

func scanReservation(row interface {
	Scan(dest ...any) error
}) (*domain.Reservation, error) {
	var (
		res         domain.Reservation
		status      string
		receiptPath sql.NullString
	)
	if err := row.Scan(
		&res.ID,
		&res.UserID,
		&res.Username,
		&res.StartTime,
		&res.EndTime,
		&status,
		&receiptPath,
		&res.CreatedAt,
		&res.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("reservation not found")
		}
		return nil, fmt.Errorf("scan reservation: %w", err)
	}
	res.Status = domain.ReservationStatus(status)
	res.ReceiptPath = receiptPath.String
	return &res, nil
}
