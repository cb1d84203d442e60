// Package pagination implements the limit/offset contract shared by every
// listing endpoint.
package pagination

import (
	"strconv"

	"github.com/cassiomorais/ticketing/internal/domain/errors"
)

// DefaultMaxLimit applies when no maximum is configured.
const DefaultMaxLimit = 100

// Params is a validated limit/offset pair.
type Params struct {
	Limit  int
	Offset int
}

// Parse validates the requested bounds. A missing limit defaults to maxLimit,
// a limit above maxLimit is clamped, a missing offset defaults to zero.
// limit < 1 and offset < 0 are rejected rather than clamped.
func Parse(limit, offset *int, maxLimit int) (Params, error) {
	if maxLimit < 1 {
		maxLimit = DefaultMaxLimit
	}

	p := Params{Limit: maxLimit}
	if limit != nil {
		if *limit < 1 {
			return Params{}, errors.NewValidationError("limit", "must be at least 1")
		}
		p.Limit = min(*limit, maxLimit)
	}
	if offset != nil {
		if *offset < 0 {
			return Params{}, errors.NewValidationError("offset", "cannot be negative")
		}
		p.Offset = *offset
	}
	return p, nil
}

// ParseQuery is Parse for raw query-string values; empty strings mean "absent".
func ParseQuery(limit, offset string, maxLimit int) (Params, error) {
	l, err := parseOptionalInt("limit", limit)
	if err != nil {
		return Params{}, err
	}
	o, err := parseOptionalInt("offset", offset)
	if err != nil {
		return Params{}, err
	}
	return Parse(l, o, maxLimit)
}

func parseOptionalInt(field, raw string) (*int, error) {
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return nil, errors.NewValidationError(field, "must be an integer")
	}
	return &v, nil
}

// Page is one slice of a listing.
type Page[T any] struct {
	Items      []T  `json:"items"`
	TotalItems int  `json:"totalItems"`
	Limit      int  `json:"limit"`
	Offset     int  `json:"offset"`
	HasMore    bool `json:"hasMore"`
}

// NewPage assembles a page; HasMore is offset+limit < totalItems, evaluated
// without overflowing for offsets near math.MaxInt.
func NewPage[T any](items []T, totalItems int, p Params) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{
		Items:      items,
		TotalItems: totalItems,
		Limit:      p.Limit,
		Offset:     p.Offset,
		HasMore:    p.Offset < totalItems-p.Limit,
	}
}

// MapPage converts the items of a page while keeping its bounds.
func MapPage[T, U any](p Page[T], fn func(T) U) Page[U] {
	out := make([]U, 0, len(p.Items))
	for _, it := range p.Items {
		out = append(out, fn(it))
	}
	return Page[U]{
		Items:      out,
		TotalItems: p.TotalItems,
		Limit:      p.Limit,
		Offset:     p.Offset,
		HasMore:    p.HasMore,
	}
}
