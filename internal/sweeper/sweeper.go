// Package sweeper runs the scheduled background pass that finalizes
// bookings past their showtime, fails pending bookings whose payment
// never arrived, and purges expired seat locks.  Handlers already
// sweep locks opportunistically on every seat read; this loop is the
// backstop for shows nobody is looking at.
package sweeper

import (
	"context"
	"log"
	"time"

	"github.com/arashzm/movie-ticketing/internal/model"
)

// BookingSource is the slice of booking storage the sweeper needs.
type BookingSource interface {
	ListPaidActive(ctx context.Context) ([]model.Booking, error)
	ListPendingBefore(ctx context.Context, cutoff time.Time) ([]model.Booking, error)
	MarkExpired(ctx context.Context, id uint64) error
	MarkFailedStalePending(ctx context.Context, id uint64) (bool, error)
}

// ShowSource is the slice of show storage the sweeper needs.
type ShowSource interface {
	Get(ctx context.Context, id uint64) (*model.Show, error)
	DeleteLocksBySeats(ctx context.Context, showID uint64, seats []string) error
	PurgeExpiredLocks(ctx context.Context, before time.Time) (int64, error)
}

// Sweeper drives the periodic maintenance pass.
type Sweeper struct {
	Bookings BookingSource
	Shows    ShowSource

	LockTTL    time.Duration // seat lock lifetime
	Grace      time.Duration // post-showtime grace before a paid booking expires
	PendingTTL time.Duration // max age of an unpaid booking
	Interval   time.Duration // pass period

	// Location resolves show date+time strings; defaults to time.Local.
	Location *time.Location
}

func New(bookings BookingSource, shows ShowSource, lockTTL, grace, pendingTTL, interval time.Duration) *Sweeper {
	if bookings == nil || shows == nil {
		panic("nil source passed to sweeper.New")
	}
	return &Sweeper{
		Bookings:   bookings,
		Shows:      shows,
		LockTTL:    lockTTL,
		Grace:      grace,
		PendingTTL: pendingTTL,
		Interval:   interval,
		Location:   time.Local,
	}
}

// Run executes a pass immediately, then on every tick until ctx is
// cancelled.  Pass failures are logged, never fatal.
func (s *Sweeper) Run(ctx context.Context) {
	s.RunOnce(ctx, time.Now())
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.RunOnce(ctx, time.Now())
		}
	}
}

// RunOnce performs one maintenance pass as of now.  Each item is
// handled independently so one bad row cannot stall the rest.
func (s *Sweeper) RunOnce(ctx context.Context, now time.Time) {
	s.expireConcluded(ctx, now)
	s.failStalePending(ctx, now)
	if n, err := s.Shows.PurgeExpiredLocks(ctx, now.Add(-s.LockTTL)); err != nil {
		log.Printf("sweeper: purge expired locks: %v", err)
	} else if n > 0 {
		log.Printf("sweeper: purged %d expired seat locks", n)
	}
}

// expireConcluded moves paid, still-active bookings whose show ended
// (showtime plus grace) to expired.  Seats stay in the booked set:
// the show is over, there is nothing to resell.
func (s *Sweeper) expireConcluded(ctx context.Context, now time.Time) {
	bookings, err := s.Bookings.ListPaidActive(ctx)
	if err != nil {
		log.Printf("sweeper: list paid active bookings: %v", err)
		return
	}
	for i := range bookings {
		b := &bookings[i]
		show, err := s.Shows.Get(ctx, b.ShowID)
		if err != nil {
			log.Printf("sweeper: load show %d for booking %d: %v", b.ShowID, b.ID, err)
			continue
		}
		showtime, err := show.Showtime(s.loc())
		if err != nil {
			log.Printf("sweeper: parse showtime of show %d: %v", show.ID, err)
			continue
		}
		if now.Before(showtime.Add(s.Grace)) {
			continue
		}
		if err := s.Bookings.MarkExpired(ctx, b.ID); err != nil {
			log.Printf("sweeper: expire booking %d: %v", b.ID, err)
			continue
		}
		log.Printf("sweeper: booking %d expired (show %d ended)", b.ID, b.ShowID)
	}
}

// failStalePending fails pending bookings older than PendingTTL and
// releases any seat locks they still hold.  The conditional update in
// MarkFailedStalePending makes the pass safe against a payment
// verification racing in between list and update.
func (s *Sweeper) failStalePending(ctx context.Context, now time.Time) {
	bookings, err := s.Bookings.ListPendingBefore(ctx, now.Add(-s.PendingTTL))
	if err != nil {
		log.Printf("sweeper: list stale pending bookings: %v", err)
		return
	}
	for i := range bookings {
		b := &bookings[i]
		changed, err := s.Bookings.MarkFailedStalePending(ctx, b.ID)
		if err != nil {
			log.Printf("sweeper: fail stale booking %d: %v", b.ID, err)
			continue
		}
		if !changed {
			// Paid (or already failed) since we listed it.
			continue
		}
		if err := s.Shows.DeleteLocksBySeats(ctx, b.ShowID, b.Seats); err != nil {
			log.Printf("sweeper: release locks of booking %d: %v", b.ID, err)
			continue
		}
		log.Printf("sweeper: booking %d failed (payment never completed)", b.ID)
	}
}

func (s *Sweeper) loc() *time.Location {
	if s.Location != nil {
		return s.Location
	}
	return time.Local
}
