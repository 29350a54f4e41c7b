package upstream

import (
	"fmt"
	"net/url"
	"reflect"
	"strings"
)

// Describes a single call against the upstream API
type Descriptor struct {
	Method string
	Path   string // already interpolated, e.g. "/positions/DIAAAAB"
	Body   any
	Query  Query
}

// Query parameters for an upstream call. Unset values are left out of the
// encoded string entirely.
type Query map[string]any

// Encodes the query with sorted keys, skipping nil, empty strings, nil
// pointers and empty slices. String slices are joined with commas.
func (q Query) Encode() string {
	if len(q) == 0 {
		return ""
	}

	values := url.Values{}
	for key, raw := range q {
		if v, ok := scalar(raw); ok {
			values.Set(key, v)
		}
	}

	return values.Encode()
}

func scalar(raw any) (string, bool) {
	if raw == nil {
		return "", false
	}

	switch v := raw.(type) {
	case string:
		return v, v != ""
	case []string:
		parts := make([]string, 0, len(v))
		for _, p := range v {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		return strings.Join(parts, ","), len(parts) > 0
	}

	rv := reflect.ValueOf(raw)
	if rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return "", false
		}
		return scalar(rv.Elem().Interface())
	}

	if s, ok := raw.(fmt.Stringer); ok {
		str := s.String()
		return str, str != ""
	}

	return fmt.Sprint(raw), true
}

// Returns the path with the encoded query appended, if any
func (d Descriptor) Target() string {
	if encoded := d.Query.Encode(); encoded != "" {
		return d.Path + "?" + encoded
	}
	return d.Path
}
