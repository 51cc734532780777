package models

import "math"

const (
	DefaultPageSize = 10
	MaxPageSize     = 100
)

// Page is the list envelope returned by every list endpoint.
type Page[T any] struct {
	Count    int64   `json:"count"`
	Next     *string `json:"next"`
	Previous *string `json:"previous"`
	Results  []T     `json:"results"`
}

// PageRequest is a normalized page/page_size pair.
type PageRequest struct {
	Page     int
	PageSize int
}

// NewPageRequest clamps page and size into range.
func NewPageRequest(page, size int) PageRequest {
	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = DefaultPageSize
	}
	if size > MaxPageSize {
		size = MaxPageSize
	}
	// page*size must fit in an int so offsets and next links cannot wrap
	if maxPage := math.MaxInt / size; page > maxPage {
		page = maxPage
	}
	return PageRequest{Page: page, PageSize: size}
}

// Offset returns the number of rows to skip.
func (p PageRequest) Offset() int {
	return (p.Page - 1) * p.PageSize
}

// Window returns the half-open [start, end) slice bounds for a result of total items.
func (p PageRequest) Window(total int) (int, int) {
	start := p.Offset()
	if start < 0 {
		start = 0
	}
	if start > total {
		start = total
	}
	end := start + p.PageSize
	if end > total {
		end = total
	}
	return start, end
}
