package model

import (
	"fmt"
	"time"
)

// Show represents one scheduled screening of a movie on a specific
// screen of a theatre.  The seat inventory is tracked directly on
// the show: a set of permanently booked seat labels and a list of
// short-lived per-user seat locks.  A seat label may appear in at
// most one of the two sets at any instant, and a seat may carry at
// most one active lock.
//
// Fields:
//  ID           – primary key identifier.
//  MovieID      – external movie catalogue identifier.
//  TheatreID    – theatre where the screening takes place.
//  ScreenNumber – screen within the theatre.
//  Date         – calendar day of the screening ("2006-01-02").
//  Time         – local clock time of the screening ("15:04").
//  Language     – audio language tag.
//  Format       – presentation format (2D, 3D).
//  PriceMap     – seat-row letter to price, e.g. {"A": 200, "C": 250}.
//  BookedSeats  – labels of permanently sold seats ("A1").
//  LockedSeats  – active time-bounded holds, newest last.
//  CreatedAt    – creation timestamp.
//  UpdatedAt    – last update timestamp.
type Show struct {
	ID           uint64           // shows.id
	MovieID      int64            // shows.movie_id
	TheatreID    uint64           // shows.theatre_id
	ScreenNumber int              // shows.screen_number
	Date         string           // shows.show_date
	Time         string           // shows.show_time
	Language     string           // shows.language
	Format       string           // shows.format
	PriceMap     map[string]int64 // show_prices rows keyed by row label
	BookedSeats  []string         // show_booked_seats rows
	LockedSeats  []SeatLock       // show_seat_locks rows
	CreatedAt    time.Time        // shows.created_at
	UpdatedAt    time.Time        // shows.updated_at
}

// SeatLock is a temporary, single-user hold on one seat of a show.
// Locks are not independently addressable; they exist only as part
// of a show's seat state and expire once their age exceeds the
// configured lock timeout.
type SeatLock struct {
	SeatID   string    `json:"seatId"`   // seat label, e.g. "C8"
	UserID   uint64    `json:"userId"`   // holder of the lock
	LockedAt time.Time `json:"lockedAt"` // creation time used for expiry
}

// Showtime combines the show's date and time fields into a single
// timestamp in the given location.  It returns an error when either
// field does not match the stored format.
func (s *Show) Showtime(loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation("2006-01-02 15:04", s.Date+" "+s.Time, loc)
	if err != nil {
		return time.Time{}, fmt.Errorf("show %d: bad showtime %q %q: %w", s.ID, s.Date, s.Time, err)
	}
	return t, nil
}
