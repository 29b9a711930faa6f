// Package pagination reads page/limit query parameters and applies them
// either to SQL (through Offset) or to an already loaded slice of threads.
package pagination

import (
	"net/url"
	"strconv"
)

// Params is one page request. Page is 1-based; Offset is derived from Page
// and Limit.
type Params struct {
	Page   int32  `json:"page"`
	Limit  int32  `json:"limit"`
	Offset int32  `json:"-"`
	Sort   string `json:"sort"`
}

const (
	// MaxLimit caps the page size a client can ask for.
	MaxLimit int32 = 100
	// DefaultPage is used when the query has no usable page.
	DefaultPage int32 = 1
	// DefaultLimit is used when the query has no usable limit.
	DefaultLimit int32 = 25

	SortNewest = "newest"
	SortOldest = "oldest"
)

func offset(page, limit int32) int32 {
	if page < 1 {
		page = 1
	}
	return (page - 1) * limit
}

func validSort(sort string) bool {
	return sort == SortNewest || sort == SortOldest
}

// Option adjusts the defaults before the query is read.
type Option func(*Params)

// WithDefaultLimit sets the page size used when the query does not give
// one. Non-positive values are ignored.
func WithDefaultLimit(limit int32) Option {
	return func(p *Params) {
		if limit > 0 {
			p.Limit = limit
		}
	}
}

// WithDefaultSort sets the order used when the query does not give one.
func WithDefaultSort(sort string) Option {
	return func(p *Params) {
		if validSort(sort) {
			p.Sort = sort
		}
	}
}

// FromQuery extracts page, limit and sort from q. Invalid values fall back
// to the defaults and limit is capped at MaxLimit.
func FromQuery(q url.Values, opts ...Option) Params {
	params := Params{Page: DefaultPage, Limit: DefaultLimit, Sort: SortNewest}
	for _, opt := range opts {
		opt(&params)
	}

	if raw := q.Get("page"); raw != "" {
		if val, err := strconv.ParseInt(raw, 10, 32); err == nil && val > 0 {
			params.Page = int32(val)
		}
	}
	if raw := q.Get("limit"); raw != "" {
		if val, err := strconv.ParseInt(raw, 10, 32); err == nil && val > 0 {
			params.Limit = int32(val)
		}
	}
	if params.Limit > MaxLimit {
		params.Limit = MaxLimit
	}
	params.Offset = offset(params.Page, params.Limit)

	if raw := q.Get("sort"); validSort(raw) {
		params.Sort = raw
	}
	return params
}

// HasNext reports whether items remain after the page ending at
// offset+limit.
func HasNext(offset, limit, total int32) bool {
	return offset+limit < total
}

// Page is one page of results with enough metadata for a client to ask
// for the next one.
type Page[T any] struct {
	Items   []T   `json:"items"`
	Page    int32 `json:"page"`
	Limit   int32 `json:"limit"`
	Total   int32 `json:"total"`
	HasNext bool  `json:"hasNext"`
}

// NewPage wraps items fetched for params out of total.
func NewPage[T any](items []T, params Params, total int32) Page[T] {
	if items == nil {
		items = []T{}
	}
	return Page[T]{
		Items:   items,
		Page:    params.Page,
		Limit:   params.Limit,
		Total:   total,
		HasNext: HasNext(params.Offset, params.Limit, total),
	}
}

// Slice pages an in-memory list.
func Slice[T any](all []T, params Params) Page[T] {
	total := int32(len(all))
	start := params.Offset
	if start > total {
		start = total
	}
	end := start + params.Limit
	if end > total {
		end = total
	}
	return NewPage(all[start:end], params, total)
}
