// Package seat contains the pure seat-label and lock-conflict logic
// shared by the lock manager and the booking flow.  It operates on
// in-memory snapshots of a show's seat state; persistence and
// serialization are the repository layer's concern.
package seat

import (
	"errors"
	"strings"

	"github.com/arashzm/movie-ticketing/internal/model"
)

// ErrSeatUnavailable indicates that at least one requested seat has
// already been sold for the show.
var ErrSeatUnavailable = errors.New("seat already booked")

// ErrSeatLockedByOther indicates that at least one requested seat is
// currently held by a different user whose lock has not expired.
var ErrSeatLockedByOther = errors.New("seat temporarily locked by another user")

// Row returns the row portion of a seat label: its leading
// alphabetic characters.  "A12" yields "A", "AA3" yields "AA".  An
// empty string is returned when the label does not start with a
// letter.
func Row(label string) string {
	i := 0
	for i < len(label) {
		ch := label[i]
		if (ch < 'A' || ch > 'Z') && (ch < 'a' || ch > 'z') {
			break
		}
		i++
	}
	return strings.ToUpper(label[:i])
}

// Normalize trims, upper-cases and de-duplicates seat labels while
// preserving the caller's order.  Empty entries are dropped.
func Normalize(labels []string) []string {
	out := make([]string, 0, len(labels))
	seen := make(map[string]struct{}, len(labels))
	for _, l := range labels {
		l = strings.ToUpper(strings.TrimSpace(l))
		if l == "" {
			continue
		}
		if _, ok := seen[l]; ok {
			continue
		}
		seen[l] = struct{}{}
		out = append(out, l)
	}
	return out
}

// CheckAvailable validates a lock request against the show's current
// seat state.  It returns ErrSeatUnavailable when any requested seat
// is already booked and ErrSeatLockedByOther when any requested seat
// carries an active lock owned by a different user.  Locks held by
// the requesting user do not conflict; a new selection supersedes
// the old one.
func CheckAvailable(booked []string, locks []model.SeatLock, userID uint64, seats []string) error {
	sold := make(map[string]struct{}, len(booked))
	for _, b := range booked {
		sold[b] = struct{}{}
	}
	for _, s := range seats {
		if _, ok := sold[s]; ok {
			return ErrSeatUnavailable
		}
	}
	held := make(map[string]uint64, len(locks))
	for _, l := range locks {
		held[l.SeatID] = l.UserID
	}
	for _, s := range seats {
		if owner, ok := held[s]; ok && owner != userID {
			return ErrSeatLockedByOther
		}
	}
	return nil
}

// HeldBy returns the set of seat labels from locks owned by the given
// user.  The booking flow uses it to re-validate that every seat of a
// booking request is still locked by the requesting user.
func HeldBy(locks []model.SeatLock, userID uint64) map[string]struct{} {
	out := make(map[string]struct{})
	for _, l := range locks {
		if l.UserID == userID {
			out[l.SeatID] = struct{}{}
		}
	}
	return out
}
