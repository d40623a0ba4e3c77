package pagination

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultPageSize is used when the client omits page_size.
	DefaultPageSize = 50
	// DefaultMaxPageSize caps page_size.
	DefaultMaxPageSize = 200
)

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid page_size")
	ErrInvalidPageToken = errors.New("pagination: invalid page_token")
)

// Params are the paging inputs of a list request.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
}

// Options bound the accepted page size.
type Options struct {
	DefaultPageSize int
	MaxPageSize     int
}

// Parse reads page_size and page_token from the query string. Oversized pages are clamped.
func Parse(values url.Values, opts Options) (Params, error) {
	maxPageSize := opts.MaxPageSize
	if maxPageSize <= 0 {
		maxPageSize = DefaultMaxPageSize
	}
	pageSize := opts.DefaultPageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	pageSize = min(pageSize, maxPageSize)

	if raw := strings.TrimSpace(values.Get("page_size")); raw != "" {
		value, err := strconv.Atoi(raw)
		if err != nil {
			return Params{}, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
		}
		if value <= 0 {
			return Params{}, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
		}
		pageSize = min(value, maxPageSize)
	}

	params := Params{PageSize: pageSize}
	if raw := strings.TrimSpace(values.Get("page_token")); raw != "" {
		cursor, err := DecodeToken(raw)
		if err != nil {
			return Params{}, err
		}
		params.PageToken = raw
		params.Cursor = cursor
	}
	return params, nil
}
