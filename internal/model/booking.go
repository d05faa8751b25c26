package model

import "time"

// Payment status values for a booking.  A booking starts out
// pending and moves to paid or failed exactly once; cancellation
// stamps refunded regardless of how the payment stood, so the user
// always sees a cancelled booking as refunded.
const (
	PaymentPending  = "pending"
	PaymentPaid     = "paid"
	PaymentFailed   = "failed"
	PaymentRefunded = "refunded"
)

// Booking lifecycle status values, independent of payment.  Both
// cancelled and expired are terminal.
const (
	BookingActive    = "active"
	BookingCancelled = "cancelled"
	BookingExpired   = "expired"
)

// Booking records a purchase attempt for a set of seats on a show.
// The seat list is immutable once the booking is created.  Seats are
// only reflected in the show's booked set after the payment has been
// verified; until then they are merely locked.
//
// Fields:
//  ID            – primary key identifier.
//  UserID        – user who made the booking.
//  MovieID       – external movie catalogue identifier.
//  ShowID        – show being booked.
//  Seats         – ordered seat labels, fixed at creation.
//  Amount        – total price computed from the show's price map.
//  PaymentStatus – pending | paid | failed | refunded.
//  BookingStatus – active | cancelled | expired.
//  OrderID       – payment gateway order identifier.
//  PaymentID     – payment gateway payment identifier (set on verify).
//  Signature     – gateway signature accepted during verification.
//  CancelledAt   – when the booking was cancelled (nil otherwise).
//  CreatedAt     – creation timestamp.
//  UpdatedAt     – last update timestamp.
type Booking struct {
	ID            uint64     // bookings.id
	UserID        uint64     // bookings.user_id
	MovieID       int64      // bookings.movie_id
	ShowID        uint64     // bookings.show_id
	Seats         []string   // booking_seats rows, ordered by position
	Amount        int64      // bookings.amount
	PaymentStatus string     // bookings.payment_status
	BookingStatus string     // bookings.booking_status
	OrderID       string     // bookings.order_id
	PaymentID     string     // bookings.payment_id
	Signature     string     // bookings.signature
	CancelledAt   *time.Time // bookings.cancelled_at (nullable)
	CreatedAt     time.Time  // bookings.created_at
	UpdatedAt     time.Time  // bookings.updated_at
}

// Theatre is a venue that hosts shows.  Screens and seat layouts
// are managed by an external catalogue service; only the fields
// needed for show listings and tickets are stored here.
type Theatre struct {
	ID   uint64 // theatres.id
	Name string // theatres.name
	City string // theatres.city
}
