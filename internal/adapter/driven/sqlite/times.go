package sqlite

import (
	"fmt"
	"time"
)

// formatTime renders a timestamp for storage. All timestamps are stored as
// UTC RFC3339Nano strings so lexicographic ordering matches time ordering.
func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// parseTime parses a stored timestamp. It accepts RFC3339(Nano) and the
// "YYYY-MM-DD HH:MM:SS" form SQLite produces for CURRENT_TIMESTAMP defaults.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02 15:04:05", s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}
