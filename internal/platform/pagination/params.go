// Package pagination parses list query parameters (pageSize, pageToken, filter) and slices
// in-memory result sets accordingly.
package pagination

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

const (
	// DefaultMaxPageSize caps pageSize.
	DefaultMaxPageSize = 500

	maxFilterValueLength = 128
)

// Operator is a filter comparison accepted in the query string.
type Operator string

const (
	OperatorEqual    Operator = "=="
	OperatorNotEqual Operator = "!="
)

// Filter is one field predicate, written as filter=field==value.
type Filter struct {
	Field string
	Op    Operator
	Value string
}

// Matches applies the predicate to the field's value.
func (f Filter) Matches(value string) bool {
	equal := strings.EqualFold(strings.TrimSpace(value), f.Value)
	if f.Op == OperatorNotEqual {
		return !equal
	}
	return equal
}

// Params bundles the parsed list parameters. A zero PageSize means the whole result set.
type Params struct {
	PageSize  int
	PageToken string
	Cursor    Cursor
	Filters   []Filter
}

// Paged reports whether the caller asked for a page rather than the whole list.
func (p Params) Paged() bool {
	return p.PageSize > 0 || p.PageToken != ""
}

// Options control Parse for one endpoint.
type Options struct {
	// DefaultPageSize applies when pageToken is present without pageSize.
	DefaultPageSize     int
	MaxPageSize         int
	AllowedFilterFields []string
}

var (
	ErrInvalidPageSize  = errors.New("pagination: invalid pageSize")
	ErrInvalidFilter    = errors.New("pagination: invalid filter")
	ErrInvalidPageToken = errors.New("pagination: invalid pageToken")
)

// FromRequest parses the supported query parameters from the request.
func FromRequest(r *http.Request, opts Options) (Params, error) {
	if r == nil {
		return Params{}, errors.New("pagination: nil request")
	}
	return Parse(r.URL.Query(), opts)
}

// Parse consumes the query values and returns the normalised Params.
func Parse(values url.Values, opts Options) (Params, error) {
	if values == nil {
		values = url.Values{}
	}

	pageSize, err := parsePageSize(values.Get("pageSize"), opts)
	if err != nil {
		return Params{}, err
	}
	params := Params{PageSize: pageSize}

	if rawToken := strings.TrimSpace(values.Get("pageToken")); rawToken != "" {
		cursor, err := DecodeToken(rawToken)
		if err != nil {
			return Params{}, err
		}
		params.PageToken = rawToken
		params.Cursor = cursor
		if params.PageSize == 0 {
			params.PageSize = clampPageSize(opts.DefaultPageSize, opts)
		}
	}

	filters, err := parseFilters(values["filter"], opts.AllowedFilterFields)
	if err != nil {
		return Params{}, err
	}
	params.Filters = filters
	return params, nil
}

// Page returns the slice of items selected by params and the token for the next page, if any.
func Page[T any](items []T, params Params) ([]T, string, error) {
	if !params.Paged() {
		return items, "", nil
	}
	size := params.PageSize
	if size <= 0 {
		size = DefaultMaxPageSize
	}
	start := params.Cursor.Offset
	if start >= len(items) {
		return []T{}, "", nil
	}
	end := start + size
	if end >= len(items) {
		return items[start:], "", nil
	}
	next, err := EncodeToken(Cursor{Offset: end})
	if err != nil {
		return nil, "", err
	}
	return items[start:end], next, nil
}

func parsePageSize(raw string, opts Options) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: must be an integer", ErrInvalidPageSize)
	}
	if value <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidPageSize)
	}
	return clampPageSize(value, opts), nil
}

func clampPageSize(value int, opts Options) int {
	maxPageSize := opts.MaxPageSize
	if maxPageSize <= 0 {
		maxPageSize = DefaultMaxPageSize
	}
	if value <= 0 || value > maxPageSize {
		return maxPageSize
	}
	return value
}

func parseFilters(values []string, allowed []string) ([]Filter, error) {
	if len(values) == 0 {
		return nil, nil
	}
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, field := range allowed {
		allowedSet[field] = struct{}{}
	}

	filters := make([]Filter, 0, len(values))
	for _, raw := range values {
		for _, part := range strings.Split(raw, ",") {
			part = strings.TrimSpace(part)
			if part == "" {
				continue
			}
			filter, err := parseSingleFilter(part)
			if err != nil {
				return nil, err
			}
			if _, ok := allowedSet[filter.Field]; !ok {
				return nil, fmt.Errorf("%w: field %q is not filterable", ErrInvalidFilter, filter.Field)
			}
			filters = append(filters, filter)
		}
	}
	return filters, nil
}

func parseSingleFilter(raw string) (Filter, error) {
	for _, op := range []Operator{OperatorNotEqual, OperatorEqual} {
		field, value, found := strings.Cut(raw, string(op))
		if !found {
			continue
		}
		field = strings.TrimSpace(field)
		value = strings.TrimSpace(value)
		if field == "" || value == "" {
			return Filter{}, fmt.Errorf("%w: %q needs a field and a value", ErrInvalidFilter, raw)
		}
		if len(value) > maxFilterValueLength {
			return Filter{}, fmt.Errorf("%w: value too long", ErrInvalidFilter)
		}
		return Filter{Field: field, Op: op, Value: value}, nil
	}
	return Filter{}, fmt.Errorf("%w: %q has no == or != operator", ErrInvalidFilter, raw)
}
