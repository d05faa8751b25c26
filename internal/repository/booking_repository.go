// This file contains data access logic for bookings.  A booking row
// carries the two independent status columns (payment_status and
// booking_status); the seat labels live in booking_seats ordered by
// position so the list round-trips exactly as the user selected it.
package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/arashzm/movie-ticketing/internal/model"
)

// BookingRepo manages persistence for bookings and booking_seats.
type BookingRepo struct {
	db *sql.DB
}

// NewBookingRepo constructs a BookingRepo with the given DB handle.
func NewBookingRepo(db *sql.DB) *BookingRepo {
	return &BookingRepo{db: db}
}

// DB exposes the underlying sql.DB for callers that need to span a
// transaction across repositories.
func (r *BookingRepo) DB() *sql.DB {
	return r.db
}

const bookingColumns = `id, user_id, movie_id, show_id, amount, payment_status, booking_status,
	order_id, payment_id, signature, cancelled_at, created_at, updated_at`

func scanBooking(row *sql.Row) (*model.Booking, error) {
	var b model.Booking
	var paymentID, signature sql.NullString
	var cancelledAt sql.NullTime
	err := row.Scan(&b.ID, &b.UserID, &b.MovieID, &b.ShowID, &b.Amount, &b.PaymentStatus, &b.BookingStatus,
		&b.OrderID, &paymentID, &signature, &cancelledAt, &b.CreatedAt, &b.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrBookingNotFound
	}
	if err != nil {
		return nil, err
	}
	b.PaymentID = paymentID.String
	b.Signature = signature.String
	if cancelledAt.Valid {
		t := cancelledAt.Time
		b.CancelledAt = &t
	}
	return &b, nil
}

// Create persists a new booking together with its seat list in one
// transaction.  The booking must already carry the gateway order id;
// a booking is never created when order creation failed.  On success
// the generated ID is assigned back to the struct.
func (r *BookingRepo) Create(ctx context.Context, b *model.Booking) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO bookings (user_id, movie_id, show_id, amount, payment_status, booking_status, order_id)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.UserID, b.MovieID, b.ShowID, b.Amount, model.PaymentPending, model.BookingActive, b.OrderID)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	b.ID = uint64(id)
	b.PaymentStatus = model.PaymentPending
	b.BookingStatus = model.BookingActive
	if len(b.Seats) > 0 {
		q := `INSERT INTO booking_seats (booking_id, position, seat_label) VALUES `
		args := make([]interface{}, 0, len(b.Seats)*3)
		for i, s := range b.Seats {
			if i > 0 {
				q += ","
			}
			q += "(?, ?, ?)"
			args = append(args, b.ID, i, s)
		}
		if _, err := tx.ExecContext(ctx, q, args...); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	committed = true
	return nil
}

func (r *BookingRepo) seats(ctx context.Context, q interface {
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
}, bookingID uint64) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		`SELECT seat_label FROM booking_seats WHERE booking_id = ? ORDER BY position`, bookingID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var seats []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		seats = append(seats, s)
	}
	return seats, rows.Err()
}

// GetByID retrieves a booking with its seat list.  It returns
// ErrBookingNotFound when no row matches.
func (r *BookingRepo) GetByID(ctx context.Context, id uint64) (*model.Booking, error) {
	b, err := scanBooking(r.db.QueryRowContext(ctx, `SELECT `+bookingColumns+` FROM bookings WHERE id = ?`, id))
	if err != nil {
		return nil, err
	}
	if b.Seats, err = r.seats(ctx, r.db, id); err != nil {
		return nil, err
	}
	return b, nil
}

// GetTx retrieves a booking with its seat list inside a transaction.
// With forUpdate=true the booking row stays locked until the
// transaction ends, which keeps concurrent verify or cancel calls
// from acting on the same booking twice.
func (r *BookingRepo) GetTx(ctx context.Context, tx *sql.Tx, id uint64, forUpdate bool) (*model.Booking, error) {
	q := `SELECT ` + bookingColumns + ` FROM bookings WHERE id = ?`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	b, err := scanBooking(tx.QueryRowContext(ctx, q, id))
	if err != nil {
		return nil, err
	}
	if b.Seats, err = r.seats(ctx, tx, id); err != nil {
		return nil, err
	}
	return b, nil
}

// MarkPaidTx records a verified payment: payment_status moves to
// paid and the gateway identifiers are stored.  The caller promotes
// the seats in the same transaction.  The condition on the current
// status means a late verify can never resurrect a booking that
// already settled as failed or refunded; paid and failed are
// reachable from pending only.
func (r *BookingRepo) MarkPaidTx(ctx context.Context, tx *sql.Tx, id uint64, paymentID, signature string) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE bookings SET payment_status = ?, payment_id = ?, signature = ? WHERE id = ? AND payment_status = ?`,
		model.PaymentPaid, paymentID, signature, id, model.PaymentPending)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotPending
	}
	return nil
}

// MarkFailedTx moves payment_status to failed.  The condition on the
// current status keeps a late failure callback from clobbering a
// booking that was verified in the meantime.
func (r *BookingRepo) MarkFailedTx(ctx context.Context, tx *sql.Tx, id uint64) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE bookings SET payment_status = ? WHERE id = ? AND payment_status = ?`,
		model.PaymentFailed, id, model.PaymentPending)
	return err
}

// CancelTx finalizes a user cancellation: booking_status becomes
// cancelled, payment_status becomes refunded and the cancellation
// time is recorded.  Refund settlement itself happens on the gateway
// side.
func (r *BookingRepo) CancelTx(ctx context.Context, tx *sql.Tx, id uint64, at time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE bookings SET booking_status = ?, payment_status = ?, cancelled_at = ? WHERE id = ?`,
		model.BookingCancelled, model.PaymentRefunded, at.UTC(), id)
	return err
}

// MarkExpired moves booking_status to expired.  The conditional
// update only touches rows that are still active so the sweeper can
// never overwrite a cancellation that raced it.
func (r *BookingRepo) MarkExpired(ctx context.Context, id uint64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE bookings SET booking_status = ? WHERE id = ? AND booking_status = ?`,
		model.BookingExpired, id, model.BookingActive)
	return err
}

// ListPaidActive returns all bookings with payment_status=paid and
// booking_status=active, the only rows the showtime expiry sweep may
// act on.  Seat lists are not loaded; the sweep never touches seat
// inventory.
func (r *BookingRepo) ListPaidActive(ctx context.Context) ([]model.Booking, error) {
	return r.list(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE payment_status = ? AND booking_status = ?`,
		false, model.PaymentPaid, model.BookingActive)
}

// ListPendingBefore returns bookings still pending whose creation
// time is before the cutoff.  Their seat lists are loaded so the
// sweeper can release any locks that are still standing.
func (r *BookingRepo) ListPendingBefore(ctx context.Context, cutoff time.Time) ([]model.Booking, error) {
	return r.list(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE payment_status = ? AND created_at < ?`,
		true, model.PaymentPending, cutoff.UTC())
}

// MarkFailedStalePending fails a booking only if it is still pending.
// Returns whether a row was updated, so the sweeper can tell a swept
// booking from one that got verified concurrently.
func (r *BookingRepo) MarkFailedStalePending(ctx context.Context, id uint64) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE bookings SET payment_status = ? WHERE id = ? AND payment_status = ?`,
		model.PaymentFailed, id, model.PaymentPending)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	return n > 0, err
}

// ListPaidByUser returns the user's paid bookings, newest first,
// with seat lists.  Failed and pending attempts are hidden from the
// my-bookings view.
func (r *BookingRepo) ListPaidByUser(ctx context.Context, userID uint64) ([]model.Booking, error) {
	return r.list(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE user_id = ? AND payment_status = ? ORDER BY created_at DESC`,
		true, userID, model.PaymentPaid)
}

func (r *BookingRepo) list(ctx context.Context, q string, withSeats bool, args ...interface{}) ([]model.Booking, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []model.Booking
	for rows.Next() {
		var b model.Booking
		var paymentID, signature sql.NullString
		var cancelledAt sql.NullTime
		if err := rows.Scan(&b.ID, &b.UserID, &b.MovieID, &b.ShowID, &b.Amount, &b.PaymentStatus, &b.BookingStatus,
			&b.OrderID, &paymentID, &signature, &cancelledAt, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, err
		}
		b.PaymentID = paymentID.String
		b.Signature = signature.String
		if cancelledAt.Valid {
			t := cancelledAt.Time
			b.CancelledAt = &t
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if withSeats {
		for i := range out {
			if out[i].Seats, err = r.seats(ctx, r.db, out[i].ID); err != nil {
				return nil, err
			}
		}
	}
	return out, nil
}
