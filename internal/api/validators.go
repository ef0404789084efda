package api

import (
	"net/http"
	"strconv"
)

const (
	defaultIconSize = 64
	minIconSize     = 16
	maxIconSize     = 512
)

// parseIconSize parses the requested icon edge length.
// ok is false when a size is given but out of range.
func parseIconSize(r *http.Request) (size int, ok bool) {
	s := r.URL.Query().Get("size")
	if s == "" {
		return defaultIconSize, true
	}
	parsed, err := strconv.Atoi(s)
	if err != nil || parsed < minIconSize || parsed > maxIconSize {
		return 0, false
	}
	return parsed, true
}
