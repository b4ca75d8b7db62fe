package utils

// DefaultString returns s, or def when s is empty.
func DefaultString(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// NormalizeLimit bounds a top-N limit: zero means the default of 10, anything
// above 100 is clamped to 100.
func NormalizeLimit(limit uint64) uint64 {
	if limit == 0 {
		return 10
	}
	if limit > 100 {
		return 100
	}
	return limit
}
