// Package pricing resolves seat labels to prices using a show's
// row-keyed price map.
package pricing

import (
	"errors"
	"fmt"

	"github.com/arashzm/movie-ticketing/internal/seat"
)

// ErrInvalidSeat indicates that a seat's row has no entry in the
// show's price map.  Such seats must not be sold; a missing price is
// a configuration error, not a free seat.
var ErrInvalidSeat = errors.New("no price configured for seat row")

// Amount sums the per-row prices for the given seat labels.  The row
// of each seat is its leading alphabetic prefix ("A1" → "A").  It is
// a pure function of the price map and the seat list and always
// produces the same total for the same inputs.
func Amount(priceMap map[string]int64, seats []string) (int64, error) {
	var total int64
	for _, s := range seats {
		row := seat.Row(s)
		price, ok := priceMap[row]
		if !ok || row == "" {
			return 0, fmt.Errorf("seat %q: %w", s, ErrInvalidSeat)
		}
		total += price
	}
	return total, nil
}
