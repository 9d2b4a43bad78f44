// Package calendar classifies business days per asset class, used by the
// repository's gap-detection pass and the validator's gap classifier.
package calendar

import "time"

// AssetClass identifies which business-day rule applies to a symbol.
type AssetClass string

const (
	AssetStock  AssetClass = "stock"
	AssetETF    AssetClass = "etf"
	AssetCrypto AssetClass = "crypto"
)

// IsBusinessDay reports whether t is a trading day for class. Stocks and
// ETFs exclude Saturday and Sunday; crypto markets trade every day.
func IsBusinessDay(class AssetClass, t time.Time) bool {
	if class == AssetCrypto {
		return true
	}
	switch t.UTC().Weekday() {
	case time.Saturday, time.Sunday:
		return false
	default:
		return true
	}
}

// BusinessDaysInRange returns every business day for class in [start, end]
// inclusive, truncated to midnight UTC.
func BusinessDaysInRange(class AssetClass, start, end time.Time) []time.Time {
	start = start.UTC().Truncate(24 * time.Hour)
	end = end.UTC().Truncate(24 * time.Hour)

	var days []time.Time
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if IsBusinessDay(class, d) {
			days = append(days, d)
		}
	}
	return days
}

// CalendarDaysBetween returns the number of whole calendar days between two
// timestamps, used by the validator's gap classifier to distinguish a
// Friday→Monday weekend from a genuine multi-day gap.
func CalendarDaysBetween(earlier, later time.Time) int {
	e := earlier.UTC().Truncate(24 * time.Hour)
	l := later.UTC().Truncate(24 * time.Hour)
	return int(l.Sub(e).Hours() / 24)
}

// IsWeekendBridge reports whether earlier falls on a Friday and later on the
// following Monday (a 1-business-day gap spanning 2-3 calendar days).
func IsWeekendBridge(earlier, later time.Time) bool {
	days := CalendarDaysBetween(earlier, later)
	if days < 2 || days > 3 {
		return false
	}
	return earlier.UTC().Weekday() == time.Friday && later.UTC().Weekday() == time.Monday
}
