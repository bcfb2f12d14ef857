package billing

import (
	"math"
	"time"
)

// Fee computes the parking fee for a stay. Billable time is rounded up to
// whole hours with a minimum of one hour, so a few minutes still cost a
// full hour.
func Fee(entryTime, now time.Time, ratePerHour float64) float64 {
	elapsed := now.Sub(entryTime)
	if elapsed < 0 {
		elapsed = 0
	}

	hours := math.Ceil(elapsed.Hours())
	if hours < 1 {
		hours = 1
	}

	return hours * ratePerHour
}

// BillableHours exposes the rounded duration used by Fee.
func BillableHours(entryTime, now time.Time) int {
	elapsed := now.Sub(entryTime)
	if elapsed < 0 {
		elapsed = 0
	}
	hours := int(math.Ceil(elapsed.Hours()))
	if hours < 1 {
		hours = 1
	}
	return hours
}
