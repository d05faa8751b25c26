// This file contains data access logic for shows and their seat
// inventory.  A show's seat state lives in three tables: show_prices
// (row letter to price), show_booked_seats (sold seats) and
// show_seat_locks (temporary per-user holds).  Every read-check-write
// sequence on a show's seat state must run inside a transaction that
// first takes the show row lock via GetTx(..., forUpdate=true); that
// lock serializes lock, booking and promotion operations per show
// while leaving unrelated shows untouched.
package repository

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/arashzm/movie-ticketing/internal/model"
)

// ShowRepo manages persistence for shows and their seat state.
type ShowRepo struct {
	db *sql.DB
}

// NewShowRepo constructs a ShowRepo with the given DB handle.
func NewShowRepo(db *sql.DB) *ShowRepo {
	return &ShowRepo{db: db}
}

// DB exposes the underlying sql.DB.  It allows callers to begin
// transactions spanning multiple repositories.
func (r *ShowRepo) DB() *sql.DB {
	return r.db
}

const showColumns = `id, movie_id, theatre_id, screen_number, show_date, show_time, language, format, created_at, updated_at`

func scanShow(row *sql.Row) (*model.Show, error) {
	var s model.Show
	err := row.Scan(&s.ID, &s.MovieID, &s.TheatreID, &s.ScreenNumber, &s.Date, &s.Time,
		&s.Language, &s.Format, &s.CreatedAt, &s.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrShowNotFound
	}
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// Get retrieves the shows row by ID without seat state or prices.
// It returns ErrShowNotFound if there is no matching row.
func (r *ShowRepo) Get(ctx context.Context, id uint64) (*model.Show, error) {
	const q = `SELECT ` + showColumns + ` FROM shows WHERE id = ?`
	return scanShow(r.db.QueryRowContext(ctx, q, id))
}

// GetTx retrieves the shows row inside the given transaction.  When
// forUpdate is true the row is locked until the transaction ends,
// which serializes all concurrent seat-state mutation for this show.
func (r *ShowRepo) GetTx(ctx context.Context, tx *sql.Tx, id uint64, forUpdate bool) (*model.Show, error) {
	q := `SELECT ` + showColumns + ` FROM shows WHERE id = ?`
	if forUpdate {
		q += ` FOR UPDATE`
	}
	return scanShow(tx.QueryRowContext(ctx, q, id))
}

// PriceMapTx loads the row-letter to price mapping for a show.
func (r *ShowRepo) PriceMapTx(ctx context.Context, tx *sql.Tx, showID uint64) (map[string]int64, error) {
	rows, err := tx.QueryContext(ctx, `SELECT row_label, price FROM show_prices WHERE show_id = ?`, showID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	prices := make(map[string]int64)
	for rows.Next() {
		var row string
		var price int64
		if err := rows.Scan(&row, &price); err != nil {
			return nil, err
		}
		prices[row] = price
	}
	return prices, rows.Err()
}

// BookedSeatsTx loads the sold seat labels for a show.
func (r *ShowRepo) BookedSeatsTx(ctx context.Context, tx *sql.Tx, showID uint64) ([]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT seat_label FROM show_booked_seats WHERE show_id = ? ORDER BY seat_label`, showID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	seats := []string{}
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		seats = append(seats, s)
	}
	return seats, rows.Err()
}

// LocksTx loads the active lock records for a show.  Callers are
// expected to have expired stale locks first via ExpireLocksTx, so
// every returned record is treated as live.
func (r *ShowRepo) LocksTx(ctx context.Context, tx *sql.Tx, showID uint64) ([]model.SeatLock, error) {
	rows, err := tx.QueryContext(ctx,
		`SELECT seat_label, user_id, locked_at FROM show_seat_locks WHERE show_id = ? ORDER BY locked_at, seat_label`, showID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	locks := []model.SeatLock{}
	for rows.Next() {
		var l model.SeatLock
		if err := rows.Scan(&l.SeatID, &l.UserID, &l.LockedAt); err != nil {
			return nil, err
		}
		locks = append(locks, l)
	}
	return locks, rows.Err()
}

// ExpireLocksTx removes all lock records for a show whose locked_at
// timestamp is strictly before the given cutoff.  Every read of seat
// state calls this first, which makes stale locks self-healing even
// between scheduled sweeper runs.  It returns the number of removed
// records.
func (r *ShowRepo) ExpireLocksTx(ctx context.Context, tx *sql.Tx, showID uint64, before time.Time) (int64, error) {
	res, err := tx.ExecContext(ctx,
		`DELETE FROM show_seat_locks WHERE show_id = ? AND locked_at < ?`, showID, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PurgeExpiredLocks removes stale lock records across all shows.  It
// backs the scheduled sweep; the per-show opportunistic sweep runs
// through ExpireLocksTx instead.
func (r *ShowRepo) PurgeExpiredLocks(ctx context.Context, before time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM show_seat_locks WHERE locked_at < ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteLocksByUserTx removes every lock the user holds on the show.
// lockSeats calls this before inserting the fresh selection so that
// a user holds at most one lock-set per show (last selection wins).
func (r *ShowRepo) DeleteLocksByUserTx(ctx context.Context, tx *sql.Tx, showID, userID uint64) error {
	_, err := tx.ExecContext(ctx,
		`DELETE FROM show_seat_locks WHERE show_id = ? AND user_id = ?`, showID, userID)
	return err
}

// DeleteLocksBySeatsTx removes lock records matching the given seat
// labels regardless of holder.  Used when promoting locks to booked
// seats and when releasing locks after a failed payment.  Missing
// seats are not an error.
func (r *ShowRepo) DeleteLocksBySeatsTx(ctx context.Context, tx *sql.Tx, showID uint64, seats []string) error {
	if len(seats) == 0 {
		return nil
	}
	q := `DELETE FROM show_seat_locks WHERE show_id = ? AND seat_label IN (` + placeholders(len(seats)) + `)`
	args := make([]interface{}, 0, len(seats)+1)
	args = append(args, showID)
	for _, s := range seats {
		args = append(args, s)
	}
	_, err := tx.ExecContext(ctx, q, args...)
	return err
}

// DeleteLocksBySeats is the non-transactional variant used by the
// scheduled sweeper when releasing locks of stale pending bookings.
func (r *ShowRepo) DeleteLocksBySeats(ctx context.Context, showID uint64, seats []string) error {
	if len(seats) == 0 {
		return nil
	}
	q := `DELETE FROM show_seat_locks WHERE show_id = ? AND seat_label IN (` + placeholders(len(seats)) + `)`
	args := make([]interface{}, 0, len(seats)+1)
	args = append(args, showID)
	for _, s := range seats {
		args = append(args, s)
	}
	_, err := r.db.ExecContext(ctx, q, args...)
	return err
}

// InsertLocksTx inserts one lock record per seat with the given
// timestamp.  Callers must have validated availability under the
// show row lock in the same transaction.
func (r *ShowRepo) InsertLocksTx(ctx context.Context, tx *sql.Tx, showID, userID uint64, seats []string, lockedAt time.Time) error {
	if len(seats) == 0 {
		return nil
	}
	q := `INSERT INTO show_seat_locks (show_id, seat_label, user_id, locked_at) VALUES `
	args := make([]interface{}, 0, len(seats)*4)
	for i, s := range seats {
		if i > 0 {
			q += ","
		}
		q += "(?, ?, ?, ?)"
		args = append(args, showID, s, userID, lockedAt.UTC())
	}
	_, err := tx.ExecContext(ctx, q, args...)
	return err
}

// AddBookedSeatsTx marks the given seats as permanently sold.  The
// insert ignores duplicates so that re-running a verified payment
// does not double-count seats.
func (r *ShowRepo) AddBookedSeatsTx(ctx context.Context, tx *sql.Tx, showID uint64, seats []string) error {
	if len(seats) == 0 {
		return nil
	}
	q := `INSERT IGNORE INTO show_booked_seats (show_id, seat_label) VALUES `
	args := make([]interface{}, 0, len(seats)*2)
	for i, s := range seats {
		if i > 0 {
			q += ","
		}
		q += "(?, ?)"
		args = append(args, showID, s)
	}
	_, err := tx.ExecContext(ctx, q, args...)
	return err
}

// RemoveBookedSeatsTx returns the given seats to inventory.  Used by
// cancellation to make the seats sellable again.
func (r *ShowRepo) RemoveBookedSeatsTx(ctx context.Context, tx *sql.Tx, showID uint64, seats []string) error {
	if len(seats) == 0 {
		return nil
	}
	q := `DELETE FROM show_booked_seats WHERE show_id = ? AND seat_label IN (` + placeholders(len(seats)) + `)`
	args := make([]interface{}, 0, len(seats)+1)
	args = append(args, showID)
	for _, s := range seats {
		args = append(args, s)
	}
	_, err := tx.ExecContext(ctx, q, args...)
	return err
}

// Theatre loads a theatre row by ID.  Theatres are maintained by the
// external catalogue; only name and city are read here for listings
// and tickets.
func (r *ShowRepo) Theatre(ctx context.Context, id uint64) (*model.Theatre, error) {
	var t model.Theatre
	err := r.db.QueryRowContext(ctx,
		`SELECT id, name, city FROM theatres WHERE id = ?`, id).Scan(&t.ID, &t.Name, &t.City)
	if err == sql.ErrNoRows {
		return nil, sql.ErrNoRows
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// ShowListing is a row of the shows-by-movie view: one show with its
// theatre and current seat occupancy counts.
type ShowListing struct {
	ShowID      uint64
	TheatreID   uint64
	TheatreName string
	Date        string
	Time        string
	Language    string
	Format      string
	BookedCount int
	LockedCount int
}

// ListByMovieAndDate returns all shows of a movie on a calendar day,
// optionally filtered by city, with booked and locked seat counts.
// Counts include stale locks; callers that need exact availability
// should subtract after a sweep, the listing is advisory only.
func (r *ShowRepo) ListByMovieAndDate(ctx context.Context, movieID int64, city, date string) ([]ShowListing, error) {
	q := `SELECT s.id, s.theatre_id, t.name, s.show_date, s.show_time, s.language, s.format,
	             (SELECT COUNT(*) FROM show_booked_seats b WHERE b.show_id = s.id),
	             (SELECT COUNT(*) FROM show_seat_locks l WHERE l.show_id = s.id)
	      FROM shows s JOIN theatres t ON t.id = s.theatre_id
	      WHERE s.movie_id = ? AND s.show_date = ?`
	args := []interface{}{movieID, date}
	if city != "" {
		q += ` AND t.city = ?`
		args = append(args, city)
	}
	q += ` ORDER BY t.name, s.show_time`
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ShowListing
	for rows.Next() {
		var l ShowListing
		if err := rows.Scan(&l.ShowID, &l.TheatreID, &l.TheatreName, &l.Date, &l.Time,
			&l.Language, &l.Format, &l.BookedCount, &l.LockedCount); err != nil {
			return nil, err
		}
		out = append(out, l)
	}
	return out, rows.Err()
}

// placeholders returns n comma-separated "?" markers for IN clauses.
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	return strings.Repeat("?,", n-1) + "?"
}
