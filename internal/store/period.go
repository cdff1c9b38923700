package store

import (
	"fmt"
	"strings"
	"time"
)

// Periods lists the accepted reporting periods.
var Periods = []string{"today", "week", "month", "year"}

// PeriodStart returns the first snapshot date included in period,
// counted back from now in UTC. An empty period means today.
func PeriodStart(period string, now time.Time) (string, error) {
	today := now.UTC().Truncate(24 * time.Hour)
	var days int
	switch strings.ToLower(strings.TrimSpace(period)) {
	case "", "today":
		days = 0
	case "week":
		days = 7
	case "month":
		days = 30
	case "year":
		days = 365
	default:
		return "", fmt.Errorf("unknown period %q (want %s)", period, strings.Join(Periods, ", "))
	}
	return today.AddDate(0, 0, -days).Format(DateLayout), nil
}
