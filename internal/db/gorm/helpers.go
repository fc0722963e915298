// Package gorm provides GORM-based run history storage for smallmerge.
package gorm

import (
	"net/http"
	"strconv"
)

// MaxLimit caps list queries.
const MaxLimit = 500

// ParseLimitParam parses the "limit" query parameter from an HTTP request.
// Returns defaultLimit if the parameter is missing or invalid, and MaxLimit at most.
func ParseLimitParam(r *http.Request, defaultLimit int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			if parsed > MaxLimit {
				return MaxLimit
			}
			return parsed
		}
	}
	return defaultLimit
}
