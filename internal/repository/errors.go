// Package repository defines error types that are reused across
// multiple repositories.  These sentinel values allow handlers to
// distinguish failure scenarios with errors.Is instead of matching
// on driver-specific errors.
package repository

import "errors"

// ErrShowNotFound indicates that a show was not located in the DB.
var ErrShowNotFound = errors.New("show not found")

// ErrBookingNotFound indicates that a booking was not located in
// the DB.  The payment-failed callback deliberately swallows this
// and answers 200 to stay idempotent against gateway retries.
var ErrBookingNotFound = errors.New("booking not found")

// ErrNotPending indicates that a payment-status transition expected
// the booking to still be pending, but it had already settled as
// paid, failed or refunded.
var ErrNotPending = errors.New("booking payment is not pending")
