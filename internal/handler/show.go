package handler

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/arashzm/movie-ticketing/internal/repository"
	"github.com/arashzm/movie-ticketing/internal/seat"
)

// ShowHandler serves show details, seat maps and the seat lock
// endpoint.  Every handler that reads or mutates seat state runs
// inside a transaction that holds the show row lock and sweeps
// expired locks first, so no caller ever observes a stale hold.
type ShowHandler struct {
	Shows       *repository.ShowRepo
	SeatLockTTL time.Duration
}

func NewShowHandler(shows *repository.ShowRepo, lockTTL time.Duration) *ShowHandler {
	if shows == nil {
		panic("nil repository passed to NewShowHandler")
	}
	return &ShowHandler{Shows: shows, SeatLockTTL: lockTTL}
}

// GetShow handles GET /v1/shows/:id.  It returns show details
// including the row price map so clients can render checkout totals.
func (h *ShowHandler) GetShow(c echo.Context) error {
	showID, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid show id"})
	}
	ctx := c.Request().Context()
	tx, err := h.Shows.DB().BeginTx(ctx, nil)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to start transaction"})
	}
	defer func() { _ = tx.Rollback() }()

	s, err := h.Shows.GetTx(ctx, tx, showID, false)
	if err != nil {
		if err == repository.ErrShowNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "show not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	prices, err := h.Shows.PriceMapTx(ctx, tx, showID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if err := tx.Commit(); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to commit transaction"})
	}
	return c.JSON(http.StatusOK, echo.Map{
		"showId":       s.ID,
		"movieId":      s.MovieID,
		"screenNumber": s.ScreenNumber,
		"date":         s.Date,
		"time":         s.Time,
		"language":     s.Language,
		"format":       s.Format,
		"priceMap":     prices,
	})
}

// GetShowSeats handles GET /v1/shows/:id/seats.  It sweeps expired
// locks for the show, then returns the booked seat labels and the
// remaining active locks.
func (h *ShowHandler) GetShowSeats(c echo.Context) error {
	showID, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid show id"})
	}
	ctx := c.Request().Context()
	tx, err := h.Shows.DB().BeginTx(ctx, nil)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to start transaction"})
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	// Take the show row lock before the sweep so the read cannot
	// interleave with a concurrent lock or promotion.
	if _, err := h.Shows.GetTx(ctx, tx, showID, true); err != nil {
		if err == repository.ErrShowNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "show not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if _, err := h.Shows.ExpireLocksTx(ctx, tx, showID, time.Now().Add(-h.SeatLockTTL)); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to cleanup expired locks"})
	}
	booked, err := h.Shows.BookedSeatsTx(ctx, tx, showID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load seats"})
	}
	locks, err := h.Shows.LocksTx(ctx, tx, showID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to load seats"})
	}
	if err := tx.Commit(); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to commit transaction"})
	}
	committed = true
	return c.JSON(http.StatusOK, echo.Map{
		"bookedSeats": booked,
		"lockedSeats": locks,
	})
}

// LockSeats handles POST /v1/shows/:id/lock-seats.  The request body
// carries a "seats" array of labels.  All-or-nothing: if any seat is
// sold it answers 409 SeatUnavailable; if any seat is held by
// another user it answers 409 SeatLockedByOther.  On success the
// user's previous locks on this show are replaced by the new
// selection (last selection wins), each stamped with the current
// time.
func (h *ShowHandler) LockSeats(c echo.Context) error {
	userID, err := getUserID(c)
	if err != nil {
		return c.JSON(http.StatusUnauthorized, echo.Map{"error": "unauthorized"})
	}
	showID, ok := parseID(c, "id")
	if !ok {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid show id"})
	}
	var body struct {
		Seats []string `json:"seats"`
	}
	if err := c.Bind(&body); err != nil {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid request body"})
	}
	seats := seat.Normalize(body.Seats)
	if len(seats) == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "no seats selected"})
	}

	ctx := c.Request().Context()
	tx, err := h.Shows.DB().BeginTx(ctx, nil)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to start transaction"})
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()
	if _, err := h.Shows.GetTx(ctx, tx, showID, true); err != nil {
		if err == repository.ErrShowNotFound {
			return c.JSON(http.StatusNotFound, echo.Map{"error": "show not found"})
		}
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "database error"})
	}
	if _, err := h.Shows.ExpireLocksTx(ctx, tx, showID, time.Now().Add(-h.SeatLockTTL)); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to cleanup expired locks"})
	}
	booked, err := h.Shows.BookedSeatsTx(ctx, tx, showID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to check seat availability"})
	}
	locks, err := h.Shows.LocksTx(ctx, tx, showID)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to check seat availability"})
	}
	switch err := seat.CheckAvailable(booked, locks, userID, seats); err {
	case nil:
	case seat.ErrSeatUnavailable:
		return c.JSON(http.StatusConflict, echo.Map{"error": "SeatUnavailable", "message": "seat already booked"})
	case seat.ErrSeatLockedByOther:
		return c.JSON(http.StatusConflict, echo.Map{"error": "SeatLockedByOther", "message": "seat temporarily locked"})
	default:
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to check seat availability"})
	}
	// Replace the user's previous selection before inserting the new
	// locks; calling lock-seats twice with the same set is idempotent.
	if err := h.Shows.DeleteLocksByUserTx(ctx, tx, showID, userID); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to lock seats"})
	}
	if err := h.Shows.InsertLocksTx(ctx, tx, showID, userID, seats, time.Now()); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to lock seats"})
	}
	if err := tx.Commit(); err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to commit transaction"})
	}
	committed = true
	return c.JSON(http.StatusOK, echo.Map{"message": "seats locked successfully"})
}

// ListShowsByMovie handles GET /v1/movies/:movieId/shows.  It groups
// a movie's shows for a given day by theatre, including occupancy
// counts.  Shows whose start time has already passed today are
// omitted.
func (h *ShowHandler) ListShowsByMovie(c echo.Context) error {
	movieID, err := strconv.ParseInt(c.Param("movieId"), 10, 64)
	if err != nil || movieID == 0 {
		return c.JSON(http.StatusBadRequest, echo.Map{"error": "invalid movie id"})
	}
	date := c.QueryParam("date")
	if date == "" {
		date = time.Now().Format("2006-01-02")
	}
	city := c.QueryParam("city")

	listings, err := h.Shows.ListByMovieAndDate(c.Request().Context(), movieID, city, date)
	if err != nil {
		return c.JSON(http.StatusInternalServerError, echo.Map{"error": "failed to fetch shows"})
	}

	type showSummary struct {
		ShowID   uint64 `json:"showId"`
		Time     string `json:"time"`
		Language string `json:"language"`
		Format   string `json:"format"`
		Booked   int    `json:"bookedSeats"`
		Locked   int    `json:"lockedSeats"`
	}
	type theatreGroup struct {
		TheatreID   uint64        `json:"theatreId"`
		TheatreName string        `json:"theatreName"`
		Shows       []showSummary `json:"shows"`
	}

	now := time.Now()
	today := now.Format("2006-01-02")
	groups := []theatreGroup{}
	index := map[uint64]int{}
	for _, l := range listings {
		if l.Date == today {
			if st, err := time.ParseInLocation("2006-01-02 15:04", l.Date+" "+l.Time, time.Local); err == nil && !st.After(now) {
				continue
			}
		}
		i, ok := index[l.TheatreID]
		if !ok {
			i = len(groups)
			index[l.TheatreID] = i
			groups = append(groups, theatreGroup{TheatreID: l.TheatreID, TheatreName: l.TheatreName})
		}
		groups[i].Shows = append(groups[i].Shows, showSummary{
			ShowID:   l.ShowID,
			Time:     l.Time,
			Language: l.Language,
			Format:   l.Format,
			Booked:   l.BookedCount,
			Locked:   l.LockedCount,
		})
	}
	return c.JSON(http.StatusOK, groups)
}
