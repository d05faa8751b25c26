package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/arashzm/movie-ticketing/internal/cache"
	"github.com/arashzm/movie-ticketing/internal/config"
	"github.com/arashzm/movie-ticketing/internal/model"
	"github.com/arashzm/movie-ticketing/internal/payment"
	"github.com/arashzm/movie-ticketing/internal/pricing"
	"github.com/arashzm/movie-ticketing/internal/queue"
	"github.com/arashzm/movie-ticketing/internal/repository"
	"github.com/arashzm/movie-ticketing/internal/seat"
	queue_publisher "github.com/arashzm/movie-ticketing/internal/service"
)

// myBookingsTTL bounds how long the cached my-bookings view may be
// served; mutations invalidate the key eagerly anyway.
const myBookingsTTL = 10 * time.Minute

// bookingStore is the persistence surface of the booking lifecycle.
// *repository.Store implements it; tests substitute a fake, the same
// pattern the sweeper uses for its sources.
type bookingStore interface {
	Begin(ctx context.Context) (repository.Unit, error)
	GetShow(ctx context.Context, id uint64) (*model.Show, error)
	Theatre(ctx context.Context, id uint64) (*model.Theatre, error)
	GetBooking(ctx context.Context, id uint64) (*model.Booking, error)
	CreateBooking(ctx context.Context, b *model.Booking) error
	ListPaidBookings(ctx context.Context, userID uint64) ([]model.Booking, error)
}

// eventPublisher sends the booking-confirmed event after a verified
// payment.  Publishing is fire-and-forget.
type eventPublisher func(ctx context.Context, ev queue.BookingConfirmedEvent) error

// BookingHandler implements the booking lifecycle: creation against
// held seats, payment verification with seat promotion, best-effort
// failure release and user cancellation.  All seat-state mutation
// happens inside a unit of work that holds the show row lock, the
// same serialization the lock endpoints use, so no two requests can
// both see a seat as free and sell it twice.
type BookingHandler struct {
	Cfg     config.Config
	Store   bookingStore
	Gateway payment.OrderCreator
	Cache   cache.Store
	Publish eventPublisher
}

func NewBookingHandler(cfg config.Config, store bookingStore, gw payment.OrderCreator, cacheStore cache.Store) *BookingHandler {
	if store == nil || gw == nil || cacheStore == nil {
		panic("nil dependency passed to NewBookingHandler")
	}
	return &BookingHandler{Cfg: cfg, Store: store, Gateway: gw, Cache: cacheStore, Publish: queue_publisher.PublishBookingConfirmed}
}

// CreateBooking handles POST /v1/bookings/create.  It re-validates
// that every requested seat is currently locked by the caller (after
// sweeping expired locks), computes the amount from the show's price
// map, opens a gateway order and persists a pending booking.  No
// booking row is written when order creation fails.
func (h *BookingHandler) CreateBooking(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	var body struct {
		MovieID int64    `json:"movieId"`
		ShowID  uint64   `json:"showId"`
		Seats   []string `json:"seats"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	seats := seat.Normalize(body.Seats)
	if body.MovieID == 0 || body.ShowID == 0 || len(seats) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "missing booking details"})
	}

	ctx := c.Request().Context()
	u, err := h.Store.Begin(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to start transaction"})
	}
	committed := false
	defer func() {
		if !committed {
			_ = u.Rollback()
		}
	}()
	if _, err := u.LockShow(ctx, body.ShowID); err != nil {
		if errors.Is(err, repository.ErrShowNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "ShowNotFound", "message": "show not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if err := u.ExpireLocks(ctx, body.ShowID, time.Now().Add(-h.Cfg.SeatLockTTL)); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to cleanup expired locks"})
	}
	locks, err := u.Locks(ctx, body.ShowID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load locks"})
	}
	held := seat.HeldBy(locks, userID)
	for _, s := range seats {
		if _, ok := held[s]; !ok {
			return c.JSON(http.StatusConflict, echo.Map{"error": "LockExpiredOrMissing", "message": "seats are no longer locked"})
		}
	}
	prices, err := u.PriceMap(ctx, body.ShowID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load prices"})
	}
	if err := u.Commit(); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to commit transaction"})
	}
	committed = true

	amount, err := pricing.Amount(prices, seats)
	if err != nil {
		if errors.Is(err, pricing.ErrInvalidSeat) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "InvalidSeat", "message": err.Error()})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to compute amount"})
	}

	order, err := h.Gateway.CreateOrder(ctx, amount, fmt.Sprintf("rcpt_%d", time.Now().UnixMilli()))
	if err != nil {
		log.Printf("booking: gateway order create failed: %v", err)
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "booking failed"})
	}

	booking := &model.Booking{
		UserID:  userID,
		MovieID: body.MovieID,
		ShowID:  body.ShowID,
		Seats:   seats,
		Amount:  amount,
		OrderID: order.ID,
	}
	if err := h.Store.CreateBooking(ctx, booking); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "booking failed"})
	}
	h.Cache.Del(ctx, cache.UserBookingsKey(userID))

	return c.JSON(http.StatusOK, echo.Map{
		"bookingId": booking.ID,
		"orderId":   order.ID,
		"amount":    amount,
		"key":       h.Cfg.PaymentKeyID,
	})
}

// verifiable reports whether a booking may still move to paid.
// Payment status transitions are pending→{paid,failed}→refunded
// only: once a booking settled as failed (locks already released) or
// refunded (cancelled), a late verify must not resurrect it — its
// seats may have been re-locked or re-sold in the meantime.
func verifiable(b *model.Booking) bool {
	return b.PaymentStatus == model.PaymentPending && b.BookingStatus == model.BookingActive
}

// VerifyPayment handles POST /v1/bookings/verify.  The gateway
// signature is recomputed server-side before anything else; a
// mismatch is rejected and logged, client-asserted success is never
// trusted.  On a valid first verification the booking is marked paid
// and its seats are promoted from locked to booked in one unit of
// work under the show row lock.  Repeat calls with the same payload
// are answered idempotently; a booking that already settled as
// failed or refunded is rejected without touching seat state.
func (h *BookingHandler) VerifyPayment(c echo.Context) error {
	var body struct {
		BookingID        uint64 `json:"bookingId"`
		GatewayOrderID   string `json:"gatewayOrderId"`
		GatewayPaymentID string `json:"gatewayPaymentId"`
		GatewaySignature string `json:"gatewaySignature"`
	}
	if err := c.Bind(&body); err != nil || body.BookingID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	if err := payment.VerifySignature(body.GatewayOrderID, body.GatewayPaymentID, body.GatewaySignature, h.Cfg.PaymentKeySecret); err != nil {
		log.Printf("booking: signature mismatch for booking %d order %q", body.BookingID, body.GatewayOrderID)
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "InvalidSignature", "message": "invalid signature"})
	}

	ctx := c.Request().Context()
	booking, err := h.Store.GetBooking(ctx, body.BookingID)
	if err != nil {
		if errors.Is(err, repository.ErrBookingNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "payment verification failed"})
	}
	// A signature over a different order must not confirm this
	// booking even though it is cryptographically valid.
	if booking.OrderID != body.GatewayOrderID {
		log.Printf("booking: order mismatch for booking %d: got %q want %q", booking.ID, body.GatewayOrderID, booking.OrderID)
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "InvalidSignature", "message": "invalid signature"})
	}
	if booking.PaymentStatus == model.PaymentPaid {
		return c.JSON(http.StatusOK, echo.Map{"message": "already verified"})
	}
	if !verifiable(booking) {
		return c.JSON(http.StatusConflict, echo.Map{"error": "AlreadyFinalized", "message": "booking already settled"})
	}

	u, err := h.Store.Begin(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to start transaction"})
	}
	committed := false
	defer func() {
		if !committed {
			_ = u.Rollback()
		}
	}()
	// Show row lock first, then the booking row: the same order every
	// write path uses, so verification cannot deadlock with lock or
	// cancel operations.
	if _, err := u.LockShow(ctx, booking.ShowID); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "payment verification failed"})
	}
	locked, err := u.BookingForUpdate(ctx, booking.ID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "payment verification failed"})
	}
	if locked.PaymentStatus == model.PaymentPaid {
		// Lost the race with a concurrent verify; nothing to redo.
		return c.JSON(http.StatusOK, echo.Map{"message": "already verified"})
	}
	if !verifiable(locked) {
		// Settled between the optimistic read and the row lock.
		return c.JSON(http.StatusConflict, echo.Map{"error": "AlreadyFinalized", "message": "booking already settled"})
	}
	if err := u.MarkPaid(ctx, booking.ID, body.GatewayPaymentID, body.GatewaySignature); err != nil {
		if errors.Is(err, repository.ErrNotPending) {
			return c.JSON(http.StatusConflict, echo.Map{"error": "AlreadyFinalized", "message": "booking already settled"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "payment verification failed"})
	}
	// Promote: the booking's seats become permanently booked and
	// their lock records disappear as one logical unit.
	if err := u.AddBookedSeats(ctx, booking.ShowID, booking.Seats); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "payment verification failed"})
	}
	if err := u.DeleteLocksBySeats(ctx, booking.ShowID, booking.Seats); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "payment verification failed"})
	}
	if err := u.Commit(); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to commit transaction"})
	}
	committed = true

	h.Cache.Del(ctx, cache.UserBookingsKey(booking.UserID))
	go func(ev queue.BookingConfirmedEvent) {
		pubCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = h.Publish(pubCtx, ev)
	}(queue.BookingConfirmedEvent{
		BookingID:   booking.ID,
		UserID:      booking.UserID,
		MovieID:     booking.MovieID,
		ShowID:      booking.ShowID,
		Seats:       booking.Seats,
		Amount:      booking.Amount,
		OrderID:     booking.OrderID,
		ConfirmedAt: time.Now().UTC().Format(time.RFC3339),
	})

	return c.JSON(http.StatusOK, echo.Map{"message": "payment verified & booking confirmed"})
}

// PaymentFailed handles POST /v1/bookings/failed.  It is a
// best-effort callback: the booking is marked failed and its seat
// locks are released so others can select the seats again.  An
// unknown booking id is answered 200 to stay idempotent against
// retries and to avoid leaking which bookings exist.
func (h *BookingHandler) PaymentFailed(c echo.Context) error {
	var body struct {
		BookingID uint64 `json:"bookingId"`
	}
	if err := c.Bind(&body); err != nil || body.BookingID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	ctx := c.Request().Context()
	booking, err := h.Store.GetBooking(ctx, body.BookingID)
	if err != nil {
		if errors.Is(err, repository.ErrBookingNotFound) {
			return c.NoContent(http.StatusOK)
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "payment failed handler error"})
	}

	u, err := h.Store.Begin(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to start transaction"})
	}
	committed := false
	defer func() {
		if !committed {
			_ = u.Rollback()
		}
	}()
	if _, err := u.LockShow(ctx, booking.ShowID); err != nil && !errors.Is(err, repository.ErrShowNotFound) {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "payment failed handler error"})
	}
	if err := u.MarkFailed(ctx, booking.ID); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "payment failed handler error"})
	}
	if err := u.DeleteLocksBySeats(ctx, booking.ShowID, booking.Seats); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "payment failed handler error"})
	}
	if err := u.Commit(); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to commit transaction"})
	}
	committed = true
	h.Cache.Del(ctx, cache.UserBookingsKey(booking.UserID))
	return c.NoContent(http.StatusOK)
}

// CancelBooking handles POST /v1/bookings/:bookingId/cancel.  Only
// the owner may cancel, only while the booking is still active, and
// only up to the configured cutoff before showtime.  Cancellation
// marks the payment refunded and returns the seats to inventory;
// refund settlement itself is the gateway's job.
func (h *BookingHandler) CancelBooking(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	bookingID, ok := parseID(c, "bookingId")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	ctx := c.Request().Context()
	peek, err := h.Store.GetBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrBookingNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "cancellation failed"})
	}
	if peek.UserID != userID {
		// Do not reveal other users' bookings.
		return c.JSON(http.StatusNotFound, echo.Map{"error": "booking not found"})
	}

	u, err := h.Store.Begin(ctx)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to start transaction"})
	}
	committed := false
	defer func() {
		if !committed {
			_ = u.Rollback()
		}
	}()
	show, err := u.LockShow(ctx, peek.ShowID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "cancellation failed"})
	}
	booking, err := u.BookingForUpdate(ctx, bookingID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "cancellation failed"})
	}
	if booking.BookingStatus != model.BookingActive {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "AlreadyFinalized", "message": "booking already cancelled or expired"})
	}
	showtime, err := show.Showtime(time.Local)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "cancellation failed"})
	}
	if time.Until(showtime) <= h.Cfg.CancelCutoff {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "CancellationWindowClosed", "message": "too close to showtime to cancel"})
	}
	now := time.Now()
	if err := u.Cancel(ctx, bookingID, now); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "cancellation failed"})
	}
	// Paid seats were promoted into the booked set; release them for
	// resale.  Pending bookings never had booked seats.
	if booking.PaymentStatus == model.PaymentPaid {
		if err := u.RemoveBookedSeats(ctx, booking.ShowID, booking.Seats); err != nil {
			return c.JSON(http.StatusInternalServerError, echo.Map{"error": "cancellation failed"})
		}
	}
	if err := u.Commit(); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to commit transaction"})
	}
	committed = true
	h.Cache.Del(ctx, cache.UserBookingsKey(userID))
	return c.JSON(http.StatusOK, echo.Map{"message": "booking cancelled", "cancelledAt": now.UTC().Format(time.RFC3339)})
}

type bookingView struct {
	BookingID     uint64   `json:"bookingId"`
	MovieID       int64    `json:"movieId"`
	Seats         []string `json:"seats"`
	Amount        int64    `json:"amount"`
	BookingStatus string   `json:"bookingStatus"`
	Show          struct {
		Date    string `json:"date"`
		Time    string `json:"time"`
		Theatre string `json:"theatre"`
		Screen  int    `json:"screen"`
	} `json:"show"`
}

func (h *BookingHandler) view(ctx context.Context, b *model.Booking) (bookingView, error) {
	v := bookingView{
		BookingID:     b.ID,
		MovieID:       b.MovieID,
		Seats:         b.Seats,
		Amount:        b.Amount,
		BookingStatus: b.BookingStatus,
	}
	show, err := h.Store.GetShow(ctx, b.ShowID)
	if err != nil {
		return v, err
	}
	v.Show.Date = show.Date
	v.Show.Time = show.Time
	v.Show.Screen = show.ScreenNumber
	if t, err := h.Store.Theatre(ctx, show.TheatreID); err == nil {
		v.Show.Theatre = t.Name
	}
	return v, nil
}

// MyBookings handles GET /v1/my-bookings.  Only paid bookings are
// listed, newest first.  The rendered view is cached per user and
// invalidated by every mutating booking operation.
func (h *BookingHandler) MyBookings(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	ctx := c.Request().Context()
	key := cache.UserBookingsKey(userID)
	if bs, ok := h.Cache.Get(ctx, key); ok {
		return c.JSONBlob(http.StatusOK, bs)
	}
	bookings, err := h.Store.ListPaidBookings(ctx, userID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to fetch bookings"})
	}
	views := make([]bookingView, 0, len(bookings))
	for i := range bookings {
		v, err := h.view(ctx, &bookings[i])
		if err != nil {
			// A missing show must not take down the whole listing.
			log.Printf("booking: load view for booking %d failed: %v", bookings[i].ID, err)
			continue
		}
		views = append(views, v)
	}
	payload, err := json.Marshal(views)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to fetch bookings"})
	}
	h.Cache.Set(ctx, key, payload, myBookingsTTL)
	return c.JSONBlob(http.StatusOK, payload)
}

// GetTicket handles GET /v1/bookings/:bookingId/ticket.  Tickets
// exist only for the owner's paid bookings; anything else is a 404.
func (h *BookingHandler) GetTicket(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	bookingID, ok := parseID(c, "bookingId")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid booking id"})
	}
	ctx := c.Request().Context()
	booking, err := h.Store.GetBooking(ctx, bookingID)
	if err != nil {
		if errors.Is(err, repository.ErrBookingNotFound) {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "ticket not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load ticket"})
	}
	if booking.UserID != userID || booking.PaymentStatus != model.PaymentPaid {
		return c.JSON(http.StatusNotFound, echo.Map{"error": "ticket not found"})
	}
	v, err := h.view(ctx, booking)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load ticket"})
	}
	return c.JSON(http.StatusOK, v)
}
