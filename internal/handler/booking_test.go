package handler

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arashzm/movie-ticketing/internal/cache"
	"github.com/arashzm/movie-ticketing/internal/config"
	"github.com/arashzm/movie-ticketing/internal/model"
	"github.com/arashzm/movie-ticketing/internal/payment"
	"github.com/arashzm/movie-ticketing/internal/queue"
	"github.com/arashzm/movie-ticketing/internal/repository"
)

const testKeySecret = "test_secret"

func sign(orderID, paymentID string) string {
	mac := hmac.New(sha256.New, []byte(testKeySecret))
	mac.Write([]byte(orderID + "|" + paymentID))
	return hex.EncodeToString(mac.Sum(nil))
}

// fakeUnit records every seat-state mutation instead of touching a
// database, mirroring how the sweeper tests fake their sources.
type fakeUnit struct {
	show    *model.Show
	showErr error
	booking *model.Booking
	locks   []model.SeatLock
	prices  map[string]int64

	markPaid     []uint64
	markFailed   []uint64
	cancelled    []uint64
	seatsBooked  []string
	seatsFreed   []string
	locksDeleted []string
	committed    bool
	rolledBack   bool
}

func (f *fakeUnit) LockShow(context.Context, uint64) (*model.Show, error) {
	return f.show, f.showErr
}

func (f *fakeUnit) ExpireLocks(context.Context, uint64, time.Time) error { return nil }

func (f *fakeUnit) Locks(context.Context, uint64) ([]model.SeatLock, error) {
	return f.locks, nil
}

func (f *fakeUnit) PriceMap(context.Context, uint64) (map[string]int64, error) {
	return f.prices, nil
}

func (f *fakeUnit) BookingForUpdate(context.Context, uint64) (*model.Booking, error) {
	if f.booking == nil {
		return nil, repository.ErrBookingNotFound
	}
	return f.booking, nil
}

func (f *fakeUnit) MarkPaid(_ context.Context, id uint64, paymentID, signature string) error {
	if f.booking != nil && f.booking.PaymentStatus != model.PaymentPending {
		return repository.ErrNotPending
	}
	f.markPaid = append(f.markPaid, id)
	return nil
}

func (f *fakeUnit) MarkFailed(_ context.Context, id uint64) error {
	f.markFailed = append(f.markFailed, id)
	return nil
}

func (f *fakeUnit) Cancel(_ context.Context, id uint64, _ time.Time) error {
	f.cancelled = append(f.cancelled, id)
	return nil
}

func (f *fakeUnit) AddBookedSeats(_ context.Context, _ uint64, seats []string) error {
	f.seatsBooked = append(f.seatsBooked, seats...)
	return nil
}

func (f *fakeUnit) RemoveBookedSeats(_ context.Context, _ uint64, seats []string) error {
	f.seatsFreed = append(f.seatsFreed, seats...)
	return nil
}

func (f *fakeUnit) DeleteLocksBySeats(_ context.Context, _ uint64, seats []string) error {
	f.locksDeleted = append(f.locksDeleted, seats...)
	return nil
}

func (f *fakeUnit) Commit() error   { f.committed = true; return nil }
func (f *fakeUnit) Rollback() error { f.rolledBack = true; return nil }

type fakeBookingStore struct {
	unit     *fakeUnit
	begun    int
	show     *model.Show
	theatre  *model.Theatre
	bookings map[uint64]*model.Booking
	created  []*model.Booking
	paid     []model.Booking
}

func (f *fakeBookingStore) Begin(context.Context) (repository.Unit, error) {
	f.begun++
	return f.unit, nil
}

func (f *fakeBookingStore) GetShow(context.Context, uint64) (*model.Show, error) {
	if f.show == nil {
		return nil, repository.ErrShowNotFound
	}
	return f.show, nil
}

func (f *fakeBookingStore) Theatre(context.Context, uint64) (*model.Theatre, error) {
	if f.theatre == nil {
		return nil, errors.New("theatre not found")
	}
	return f.theatre, nil
}

func (f *fakeBookingStore) GetBooking(_ context.Context, id uint64) (*model.Booking, error) {
	b, ok := f.bookings[id]
	if !ok {
		return nil, repository.ErrBookingNotFound
	}
	return b, nil
}

func (f *fakeBookingStore) CreateBooking(_ context.Context, b *model.Booking) error {
	b.ID = uint64(len(f.created) + 100)
	f.created = append(f.created, b)
	return nil
}

func (f *fakeBookingStore) ListPaidBookings(context.Context, uint64) ([]model.Booking, error) {
	return f.paid, nil
}

type fakeGateway struct {
	amounts []int64
	err     error
}

func (f *fakeGateway) CreateOrder(_ context.Context, amount int64, _ string) (payment.Order, error) {
	if f.err != nil {
		return payment.Order{}, f.err
	}
	f.amounts = append(f.amounts, amount)
	return payment.Order{ID: "order_new", Amount: amount * 100, Currency: "INR"}, nil
}

func newTestBookingHandler(store *fakeBookingStore, gw *fakeGateway) (*BookingHandler, chan queue.BookingConfirmedEvent) {
	published := make(chan queue.BookingConfirmedEvent, 1)
	h := &BookingHandler{
		Cfg: config.Config{
			PaymentKeyID:     "key_test",
			PaymentKeySecret: testKeySecret,
			SeatLockTTL:      5 * time.Minute,
			CancelCutoff:     time.Hour,
		},
		Store:   store,
		Gateway: gw,
		Cache:   cache.NewMemory(),
		Publish: func(_ context.Context, ev queue.BookingConfirmedEvent) error {
			published <- ev
			return nil
		},
	}
	return h, published
}

func postJSON(t *testing.T, path string, body any, userID uint64) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(string(payload)))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	c := echo.New().NewContext(req, rec)
	if userID != 0 {
		c.Set("user_id", userID)
	}
	return c, rec
}

func pendingBooking() *model.Booking {
	return &model.Booking{
		ID:            7,
		UserID:        3,
		MovieID:       42,
		ShowID:        5,
		Seats:         []string{"A1", "A2"},
		Amount:        400,
		PaymentStatus: model.PaymentPending,
		BookingStatus: model.BookingActive,
		OrderID:       "order_1",
	}
}

func TestVerifyPaymentConfirmsBooking(t *testing.T) {
	b := pendingBooking()
	unit := &fakeUnit{show: &model.Show{ID: 5}, booking: b}
	store := &fakeBookingStore{unit: unit, bookings: map[uint64]*model.Booking{7: b}}
	h, published := newTestBookingHandler(store, &fakeGateway{})

	c, rec := postJSON(t, "/v1/bookings/verify", map[string]any{
		"bookingId":        7,
		"gatewayOrderId":   "order_1",
		"gatewayPaymentId": "pay_1",
		"gatewaySignature": sign("order_1", "pay_1"),
	}, 0)
	require.NoError(t, h.VerifyPayment(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []uint64{7}, unit.markPaid)
	assert.Equal(t, []string{"A1", "A2"}, unit.seatsBooked)
	assert.Equal(t, []string{"A1", "A2"}, unit.locksDeleted)
	assert.True(t, unit.committed)

	select {
	case ev := <-published:
		assert.Equal(t, uint64(7), ev.BookingID)
		assert.Equal(t, []string{"A1", "A2"}, ev.Seats)
	case <-time.After(time.Second):
		t.Fatal("confirmed event was not published")
	}
}

func TestVerifyPaymentSecondCallIsNoOp(t *testing.T) {
	b := pendingBooking()
	b.PaymentStatus = model.PaymentPaid
	unit := &fakeUnit{show: &model.Show{ID: 5}, booking: b}
	store := &fakeBookingStore{unit: unit, bookings: map[uint64]*model.Booking{7: b}}
	h, _ := newTestBookingHandler(store, &fakeGateway{})

	c, rec := postJSON(t, "/v1/bookings/verify", map[string]any{
		"bookingId":        7,
		"gatewayOrderId":   "order_1",
		"gatewayPaymentId": "pay_1",
		"gatewaySignature": sign("order_1", "pay_1"),
	}, 0)
	require.NoError(t, h.VerifyPayment(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "already verified")
	// Nothing to redo: no transaction, no seat promotion.
	assert.Zero(t, store.begun)
	assert.Empty(t, unit.markPaid)
	assert.Empty(t, unit.seatsBooked)
}

func TestVerifyPaymentRejectsSettledBooking(t *testing.T) {
	cases := []struct {
		name          string
		paymentStatus string
		bookingStatus string
	}{
		{"failed payment", model.PaymentFailed, model.BookingActive},
		{"refunded after cancel", model.PaymentRefunded, model.BookingCancelled},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := pendingBooking()
			b.PaymentStatus = tc.paymentStatus
			b.BookingStatus = tc.bookingStatus
			// Another user re-locked one of the seats after the
			// booking settled; a late verify must not disturb it.
			unit := &fakeUnit{
				show:    &model.Show{ID: 5},
				booking: b,
				locks:   []model.SeatLock{{SeatID: "A1", UserID: 9, LockedAt: time.Now()}},
			}
			store := &fakeBookingStore{unit: unit, bookings: map[uint64]*model.Booking{7: b}}
			h, _ := newTestBookingHandler(store, &fakeGateway{})

			c, rec := postJSON(t, "/v1/bookings/verify", map[string]any{
				"bookingId":        7,
				"gatewayOrderId":   "order_1",
				"gatewayPaymentId": "pay_1",
				"gatewaySignature": sign("order_1", "pay_1"),
			}, 0)
			require.NoError(t, h.VerifyPayment(c))

			assert.Equal(t, http.StatusConflict, rec.Code)
			assert.Contains(t, rec.Body.String(), "AlreadyFinalized")
			assert.Empty(t, unit.markPaid)
			assert.Empty(t, unit.seatsBooked)
			assert.Empty(t, unit.locksDeleted)
			assert.False(t, unit.committed)
		})
	}
}

func TestVerifyPaymentRejectsBookingSettledUnderRowLock(t *testing.T) {
	// The optimistic read sees pending, but by the time the row lock
	// is taken a failure callback has settled the booking.
	stale := pendingBooking()
	settled := pendingBooking()
	settled.PaymentStatus = model.PaymentFailed
	unit := &fakeUnit{show: &model.Show{ID: 5}, booking: settled}
	store := &fakeBookingStore{unit: unit, bookings: map[uint64]*model.Booking{7: stale}}
	h, _ := newTestBookingHandler(store, &fakeGateway{})

	c, rec := postJSON(t, "/v1/bookings/verify", map[string]any{
		"bookingId":        7,
		"gatewayOrderId":   "order_1",
		"gatewayPaymentId": "pay_1",
		"gatewaySignature": sign("order_1", "pay_1"),
	}, 0)
	require.NoError(t, h.VerifyPayment(c))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Empty(t, unit.markPaid)
	assert.Empty(t, unit.seatsBooked)
	assert.True(t, unit.rolledBack)
}

func TestVerifyPaymentRejectsBadSignature(t *testing.T) {
	store := &fakeBookingStore{unit: &fakeUnit{}, bookings: map[uint64]*model.Booking{}}
	h, _ := newTestBookingHandler(store, &fakeGateway{})

	c, rec := postJSON(t, "/v1/bookings/verify", map[string]any{
		"bookingId":        7,
		"gatewayOrderId":   "order_1",
		"gatewayPaymentId": "pay_1",
		"gatewaySignature": "deadbeef",
	}, 0)
	require.NoError(t, h.VerifyPayment(c))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "InvalidSignature")
	assert.Zero(t, store.begun)
}

func TestVerifyPaymentRejectsForeignOrderSignature(t *testing.T) {
	b := pendingBooking()
	store := &fakeBookingStore{unit: &fakeUnit{}, bookings: map[uint64]*model.Booking{7: b}}
	h, _ := newTestBookingHandler(store, &fakeGateway{})

	// Valid signature, but over a different order than this booking's.
	c, rec := postJSON(t, "/v1/bookings/verify", map[string]any{
		"bookingId":        7,
		"gatewayOrderId":   "order_other",
		"gatewayPaymentId": "pay_1",
		"gatewaySignature": sign("order_other", "pay_1"),
	}, 0)
	require.NoError(t, h.VerifyPayment(c))

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Zero(t, store.begun)
}

func TestPaymentFailedReleasesLocks(t *testing.T) {
	b := pendingBooking()
	unit := &fakeUnit{show: &model.Show{ID: 5}}
	store := &fakeBookingStore{unit: unit, bookings: map[uint64]*model.Booking{7: b}}
	h, _ := newTestBookingHandler(store, &fakeGateway{})

	c, rec := postJSON(t, "/v1/bookings/failed", map[string]any{"bookingId": 7}, 0)
	require.NoError(t, h.PaymentFailed(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []uint64{7}, unit.markFailed)
	assert.Equal(t, []string{"A1", "A2"}, unit.locksDeleted)
	assert.True(t, unit.committed)
}

func TestPaymentFailedUnknownBookingIsIdempotent(t *testing.T) {
	store := &fakeBookingStore{unit: &fakeUnit{}, bookings: map[uint64]*model.Booking{}}
	h, _ := newTestBookingHandler(store, &fakeGateway{})

	c, rec := postJSON(t, "/v1/bookings/failed", map[string]any{"bookingId": 999}, 0)
	require.NoError(t, h.PaymentFailed(c))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, store.begun)
}

func TestCreateBookingRequiresHeldLocks(t *testing.T) {
	unit := &fakeUnit{
		show:   &model.Show{ID: 5},
		locks:  []model.SeatLock{{SeatID: "A1", UserID: 9, LockedAt: time.Now()}},
		prices: map[string]int64{"A": 200},
	}
	store := &fakeBookingStore{unit: unit}
	gw := &fakeGateway{}
	h, _ := newTestBookingHandler(store, gw)

	c, rec := postJSON(t, "/v1/bookings/create", map[string]any{
		"movieId": 42, "showId": 5, "seats": []string{"A1"},
	}, 3)
	require.NoError(t, h.CreateBooking(c))

	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Contains(t, rec.Body.String(), "LockExpiredOrMissing")
	assert.Empty(t, gw.amounts)
	assert.Empty(t, store.created)
	assert.True(t, unit.rolledBack)
}

func TestCreateBookingOpensOrderAndPersists(t *testing.T) {
	now := time.Now()
	unit := &fakeUnit{
		show: &model.Show{ID: 5},
		locks: []model.SeatLock{
			{SeatID: "A1", UserID: 3, LockedAt: now},
			{SeatID: "A2", UserID: 3, LockedAt: now},
		},
		prices: map[string]int64{"A": 200},
	}
	store := &fakeBookingStore{unit: unit}
	gw := &fakeGateway{}
	h, _ := newTestBookingHandler(store, gw)

	c, rec := postJSON(t, "/v1/bookings/create", map[string]any{
		"movieId": 42, "showId": 5, "seats": []string{"A1", "A2"},
	}, 3)
	require.NoError(t, h.CreateBooking(c))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []int64{400}, gw.amounts)
	require.Len(t, store.created, 1)
	b := store.created[0]
	assert.Equal(t, uint64(3), b.UserID)
	assert.Equal(t, []string{"A1", "A2"}, b.Seats)
	assert.Equal(t, int64(400), b.Amount)
	assert.Equal(t, "order_new", b.OrderID)
	assert.Contains(t, rec.Body.String(), "order_new")
}

func TestCreateBookingNoRowOnGatewayFailure(t *testing.T) {
	unit := &fakeUnit{
		show:   &model.Show{ID: 5},
		locks:  []model.SeatLock{{SeatID: "A1", UserID: 3, LockedAt: time.Now()}},
		prices: map[string]int64{"A": 200},
	}
	store := &fakeBookingStore{unit: unit}
	h, _ := newTestBookingHandler(store, &fakeGateway{err: errors.New("gateway down")})

	c, rec := postJSON(t, "/v1/bookings/create", map[string]any{
		"movieId": 42, "showId": 5, "seats": []string{"A1"},
	}, 3)
	require.NoError(t, h.CreateBooking(c))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, store.created)
}
