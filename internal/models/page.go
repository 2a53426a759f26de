package models

import "math"

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// PageRequest selects a zero-based page of a listing
type PageRequest struct {
	Number int
	Size   int
}

// Normalize clamps the request to sane bounds
func (p PageRequest) Normalize() PageRequest {
	if p.Number < 0 {
		p.Number = 0
	}
	if p.Size <= 0 {
		p.Size = DefaultPageSize
	}
	if p.Size > MaxPageSize {
		p.Size = MaxPageSize
	}
	// keep Offset from overflowing
	if p.Number > math.MaxInt32/p.Size {
		p.Number = math.MaxInt32 / p.Size
	}
	return p
}

// Offset returns the number of rows to skip
func (p PageRequest) Offset() int {
	return p.Number * p.Size
}

// Page is one page of a listing
type Page[T any] struct {
	Items  []T   `json:"items"`
	Number int   `json:"page"`
	Size   int   `json:"size"`
	Total  int64 `json:"total"`
}

// MapPage converts the items of a page, stopping on the first error
func MapPage[T, U any](p Page[T], fn func(T) (U, error)) (Page[U], error) {
	out := Page[U]{Items: make([]U, 0, len(p.Items)), Number: p.Number, Size: p.Size, Total: p.Total}
	for _, item := range p.Items {
		u, err := fn(item)
		if err != nil {
			return Page[U]{}, err
		}
		out.Items = append(out.Items, u)
	}
	return out, nil
}
