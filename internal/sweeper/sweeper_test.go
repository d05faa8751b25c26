package sweeper

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arashzm/movie-ticketing/internal/model"
)

type fakeBookings struct {
	paidActive    []model.Booking
	stalePending  []model.Booking
	expired       []uint64
	failed        []uint64
	failedChanged map[uint64]bool

	listPaidErr error
	expireErr   map[uint64]error
}

func (f *fakeBookings) ListPaidActive(context.Context) ([]model.Booking, error) {
	return f.paidActive, f.listPaidErr
}

func (f *fakeBookings) ListPendingBefore(context.Context, time.Time) ([]model.Booking, error) {
	return f.stalePending, nil
}

func (f *fakeBookings) MarkExpired(_ context.Context, id uint64) error {
	if err := f.expireErr[id]; err != nil {
		return err
	}
	f.expired = append(f.expired, id)
	return nil
}

func (f *fakeBookings) MarkFailedStalePending(_ context.Context, id uint64) (bool, error) {
	if f.failedChanged != nil {
		if changed, ok := f.failedChanged[id]; ok && !changed {
			return false, nil
		}
	}
	f.failed = append(f.failed, id)
	return true, nil
}

type fakeShows struct {
	shows         map[uint64]*model.Show
	releasedLocks map[uint64][]string
	purged        int
	bookedSeats   map[uint64][]string
}

func (f *fakeShows) Get(_ context.Context, id uint64) (*model.Show, error) {
	s, ok := f.shows[id]
	if !ok {
		return nil, errors.New("show not found")
	}
	return s, nil
}

func (f *fakeShows) DeleteLocksBySeats(_ context.Context, showID uint64, seats []string) error {
	if f.releasedLocks == nil {
		f.releasedLocks = map[uint64][]string{}
	}
	f.releasedLocks[showID] = append(f.releasedLocks[showID], seats...)
	return nil
}

func (f *fakeShows) PurgeExpiredLocks(context.Context, time.Time) (int64, error) {
	f.purged++
	return 0, nil
}

func showAt(id uint64, start time.Time) *model.Show {
	return &model.Show{
		ID:   id,
		Date: start.Format("2006-01-02"),
		Time: start.Format("15:04"),
	}
}

func newTestSweeper(b *fakeBookings, s *fakeShows) *Sweeper {
	sw := New(b, s, 5*time.Minute, 15*time.Minute, 30*time.Minute, time.Minute)
	sw.Location = time.UTC
	return sw
}

func TestRunOnceExpiresConcludedBookings(t *testing.T) {
	now := time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC)
	shows := &fakeShows{
		shows: map[uint64]*model.Show{
			1: showAt(1, now.Add(-2*time.Hour)),     // long over
			2: showAt(2, now.Add(-10*time.Minute)),  // within grace
			3: showAt(3, now.Add(time.Hour)),        // future
		},
		bookedSeats: map[uint64][]string{1: {"A1", "A2"}},
	}
	bookings := &fakeBookings{
		paidActive: []model.Booking{
			{ID: 11, ShowID: 1, Seats: []string{"A1", "A2"}, PaymentStatus: model.PaymentPaid, BookingStatus: model.BookingActive},
			{ID: 12, ShowID: 2, Seats: []string{"B1"}, PaymentStatus: model.PaymentPaid, BookingStatus: model.BookingActive},
			{ID: 13, ShowID: 3, Seats: []string{"C1"}, PaymentStatus: model.PaymentPaid, BookingStatus: model.BookingActive},
		},
	}

	newTestSweeper(bookings, shows).RunOnce(context.Background(), now)

	assert.Equal(t, []uint64{11}, bookings.expired)
	// Expiry is bookkeeping only; the show is over and its booked
	// seats are never released.
	assert.Equal(t, []string{"A1", "A2"}, shows.bookedSeats[1])
	assert.Empty(t, shows.releasedLocks)
}

func TestRunOnceFailsStalePendingAndReleasesLocks(t *testing.T) {
	now := time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC)
	shows := &fakeShows{shows: map[uint64]*model.Show{5: showAt(5, now.Add(time.Hour))}}
	bookings := &fakeBookings{
		stalePending: []model.Booking{
			{ID: 21, ShowID: 5, Seats: []string{"D1", "D2"}, PaymentStatus: model.PaymentPending},
		},
	}

	newTestSweeper(bookings, shows).RunOnce(context.Background(), now)

	assert.Equal(t, []uint64{21}, bookings.failed)
	assert.Equal(t, []string{"D1", "D2"}, shows.releasedLocks[5])
}

func TestRunOnceSkipsPendingThatJustGotPaid(t *testing.T) {
	now := time.Now().UTC()
	shows := &fakeShows{shows: map[uint64]*model.Show{5: showAt(5, now.Add(time.Hour))}}
	bookings := &fakeBookings{
		stalePending: []model.Booking{
			{ID: 31, ShowID: 5, Seats: []string{"E1"}},
		},
		// Conditional update reports no change: a verify won the race.
		failedChanged: map[uint64]bool{31: false},
	}

	newTestSweeper(bookings, shows).RunOnce(context.Background(), now)

	assert.Empty(t, bookings.failed)
	assert.Empty(t, shows.releasedLocks)
}

func TestRunOnceIsolatesPerItemFailures(t *testing.T) {
	now := time.Date(2026, 3, 1, 21, 0, 0, 0, time.UTC)
	shows := &fakeShows{
		shows: map[uint64]*model.Show{
			1: showAt(1, now.Add(-2*time.Hour)),
			2: showAt(2, now.Add(-3*time.Hour)),
		},
	}
	bookings := &fakeBookings{
		paidActive: []model.Booking{
			{ID: 41, ShowID: 9, Seats: []string{"A1"}}, // unknown show
			{ID: 42, ShowID: 1, Seats: []string{"A2"}},
			{ID: 43, ShowID: 2, Seats: []string{"A3"}},
		},
		expireErr: map[uint64]error{42: errors.New("deadlock")},
	}

	newTestSweeper(bookings, shows).RunOnce(context.Background(), now)

	// 41 fails on show load, 42 on the update; 43 still expires.
	assert.Equal(t, []uint64{43}, bookings.expired)
}

func TestRunOnceAlwaysPurgesLocks(t *testing.T) {
	shows := &fakeShows{shows: map[uint64]*model.Show{}}
	bookings := &fakeBookings{listPaidErr: errors.New("db down")}

	newTestSweeper(bookings, shows).RunOnce(context.Background(), time.Now())

	assert.Equal(t, 1, shows.purged)
}

func TestRunStopsOnContextCancel(t *testing.T) {
	shows := &fakeShows{shows: map[uint64]*model.Show{}}
	bookings := &fakeBookings{}
	sw := newTestSweeper(bookings, shows)
	sw.Interval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sw.Run(ctx)
		close(done)
	}()
	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancel")
	}
	require.GreaterOrEqual(t, shows.purged, 2) // initial pass plus ticks
}
