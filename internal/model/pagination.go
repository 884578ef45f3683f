package model

import "math"

const (
	DefaultPageLimit = 20
	MaxPageLimit     = 100
)

// ClampPage normalizes page/limit query values. Page is 1-indexed; limit is
// clamped to [1, MaxPageLimit] and zero means DefaultPageLimit. Pages too large
// to address are pinned to the last addressable page, which is always empty.
func ClampPage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	switch {
	case limit == 0:
		limit = DefaultPageLimit
	case limit < 1:
		limit = 1
	case limit > MaxPageLimit:
		limit = MaxPageLimit
	}
	// page*limit must stay representable.
	if last := math.MaxInt / limit; page > last {
		page = last
	}
	return page, limit
}

// Offset is the number of rows to skip for the page.
func (p Pagination) Offset() int {
	return (p.Page - 1) * p.Limit
}

// NewPagination computes page metadata for total records. page and limit
// should already be clamped.
func NewPagination(page, limit, total int) Pagination {
	pages := 0
	if total > 0 {
		pages = (total + limit - 1) / limit
	}
	return Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: pages,
		HasMore:    page*limit < total,
	}
}
