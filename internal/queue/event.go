package queue

// BookingConfirmedEvent is the payload published to the
// booking.confirmed queue once a payment has been verified and the
// seats promoted.  Amount is in display currency units.
type BookingConfirmedEvent struct {
	BookingID   uint64   `json:"booking_id"`
	UserID      uint64   `json:"user_id"`
	MovieID     int64    `json:"movie_id"`
	ShowID      uint64   `json:"show_id"`
	Seats       []string `json:"seats"`
	Amount      int64    `json:"amount"`
	OrderID     string   `json:"order_id"`
	ConfirmedAt string   `json:"confirmed_at"` // RFC3339
}
