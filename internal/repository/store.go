package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/arashzm/movie-ticketing/internal/model"
)

// Store bundles the show and booking repositories behind the single
// transactional surface the booking lifecycle needs.  Handlers hold
// the Unit interface rather than *sql.Tx, so the lifecycle logic can
// be exercised against fakes the same way the sweeper is.
type Store struct {
	shows    *ShowRepo
	bookings *BookingRepo
}

func NewStore(shows *ShowRepo, bookings *BookingRepo) *Store {
	if shows == nil || bookings == nil {
		panic("nil repository passed to NewStore")
	}
	return &Store{shows: shows, bookings: bookings}
}

// Unit is one unit of work over a show's seat state and its
// bookings.  LockShow must be called first: it takes the show row
// lock that serializes every seat-state mutation for that show, and
// the lock holds until Commit or Rollback.
type Unit interface {
	LockShow(ctx context.Context, showID uint64) (*model.Show, error)
	ExpireLocks(ctx context.Context, showID uint64, before time.Time) error
	Locks(ctx context.Context, showID uint64) ([]model.SeatLock, error)
	PriceMap(ctx context.Context, showID uint64) (map[string]int64, error)
	BookingForUpdate(ctx context.Context, id uint64) (*model.Booking, error)
	MarkPaid(ctx context.Context, id uint64, paymentID, signature string) error
	MarkFailed(ctx context.Context, id uint64) error
	Cancel(ctx context.Context, id uint64, at time.Time) error
	AddBookedSeats(ctx context.Context, showID uint64, seats []string) error
	RemoveBookedSeats(ctx context.Context, showID uint64, seats []string) error
	DeleteLocksBySeats(ctx context.Context, showID uint64, seats []string) error
	Commit() error
	Rollback() error
}

// Begin opens a unit of work.
func (s *Store) Begin(ctx context.Context) (Unit, error) {
	tx, err := s.shows.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &unit{tx: tx, s: s}, nil
}

// Non-transactional reads and writes used outside the seat-state
// critical section.

func (s *Store) GetShow(ctx context.Context, id uint64) (*model.Show, error) {
	return s.shows.Get(ctx, id)
}

func (s *Store) Theatre(ctx context.Context, id uint64) (*model.Theatre, error) {
	return s.shows.Theatre(ctx, id)
}

func (s *Store) GetBooking(ctx context.Context, id uint64) (*model.Booking, error) {
	return s.bookings.GetByID(ctx, id)
}

func (s *Store) CreateBooking(ctx context.Context, b *model.Booking) error {
	return s.bookings.Create(ctx, b)
}

func (s *Store) ListPaidBookings(ctx context.Context, userID uint64) ([]model.Booking, error) {
	return s.bookings.ListPaidByUser(ctx, userID)
}

type unit struct {
	tx *sql.Tx
	s  *Store
}

func (u *unit) LockShow(ctx context.Context, showID uint64) (*model.Show, error) {
	return u.s.shows.GetTx(ctx, u.tx, showID, true)
}

func (u *unit) ExpireLocks(ctx context.Context, showID uint64, before time.Time) error {
	_, err := u.s.shows.ExpireLocksTx(ctx, u.tx, showID, before)
	return err
}

func (u *unit) Locks(ctx context.Context, showID uint64) ([]model.SeatLock, error) {
	return u.s.shows.LocksTx(ctx, u.tx, showID)
}

func (u *unit) PriceMap(ctx context.Context, showID uint64) (map[string]int64, error) {
	return u.s.shows.PriceMapTx(ctx, u.tx, showID)
}

func (u *unit) BookingForUpdate(ctx context.Context, id uint64) (*model.Booking, error) {
	return u.s.bookings.GetTx(ctx, u.tx, id, true)
}

func (u *unit) MarkPaid(ctx context.Context, id uint64, paymentID, signature string) error {
	return u.s.bookings.MarkPaidTx(ctx, u.tx, id, paymentID, signature)
}

func (u *unit) MarkFailed(ctx context.Context, id uint64) error {
	return u.s.bookings.MarkFailedTx(ctx, u.tx, id)
}

func (u *unit) Cancel(ctx context.Context, id uint64, at time.Time) error {
	return u.s.bookings.CancelTx(ctx, u.tx, id, at)
}

func (u *unit) AddBookedSeats(ctx context.Context, showID uint64, seats []string) error {
	return u.s.shows.AddBookedSeatsTx(ctx, u.tx, showID, seats)
}

func (u *unit) RemoveBookedSeats(ctx context.Context, showID uint64, seats []string) error {
	return u.s.shows.RemoveBookedSeatsTx(ctx, u.tx, showID, seats)
}

func (u *unit) DeleteLocksBySeats(ctx context.Context, showID uint64, seats []string) error {
	return u.s.shows.DeleteLocksBySeatsTx(ctx, u.tx, showID, seats)
}

func (u *unit) Commit() error   { return u.tx.Commit() }
func (u *unit) Rollback() error { return u.tx.Rollback() }
