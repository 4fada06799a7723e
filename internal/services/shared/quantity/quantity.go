// Package quantity implements the checked arithmetic every reducer applies to
// counted resources: additions never wrap and subtractions never go below
// zero.
package quantity

import (
	"math"
	"strconv"

	apperrors "github.com/Aedius/royaumes/internal/platform/errors"
)

// Add returns current+delta, or a WRONG_QUANTITY error when the sum overflows.
func Add(current, delta uint64) (uint64, error) {
	if current > math.MaxUint64-delta {
		return current, wrong("cannot add", current, delta)
	}
	return current + delta, nil
}

// Sub returns current-delta, or a WRONG_QUANTITY error when delta exceeds
// current.
func Sub(current, delta uint64) (uint64, error) {
	if delta > current {
		return current, wrong("cannot remove", current, delta)
	}
	return current - delta, nil
}

func wrong(verb string, current, delta uint64) error {
	q := strconv.FormatUint(delta, 10)
	c := strconv.FormatUint(current, 10)
	return apperrors.WithMetadata(apperrors.CodeWrongQuantity, verb+" "+q+" with "+c,
		map[string]string{"Quantity": q, "Current": c})
}
