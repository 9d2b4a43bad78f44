// Package validator applies OHLCV quality rules to a raw candle sequence.
// It performs no I/O: given a sequence it returns the same-length,
// same-order sequence annotated with validation attributes.
package validator

import (
	"math"
	"sort"

	"marketwarehouse/internal/calendar"
)

const (
	hardCheckWeight   = 1.0 / 6.0
	maxPercentMove    = 5.0 // 500%
	gapPenalty        = 0.2
	volumeAnomalyPen  = 0.1
	volumeAnomalyLow  = 0.5
	volumeAnomalyHigh = 10.0
	gapModerateLow    = 0.02
	gapLargeLow       = 0.05
	gapExtremeLow     = 0.10
)

// Validate runs the six hard OHLCV checks and the gap/volume anomaly
// detectors over candles, in the order given. It trusts the caller to have
// supplied candles in ascending timestamp order (the Upstream Client
// guarantees this); it does not re-sort.
func Validate(candles []RawCandle) []ValidatedCandle {
	out := make([]ValidatedCandle, len(candles))
	median := medianVolume(candles)
	seen := make(map[int64]struct{}, len(candles))

	var prev *RawCandle
	for i, c := range candles {
		vc := ValidatedCandle{RawCandle: c}

		passed, notes := hardChecks(c)
		if _, dup := seen[c.Timestamp.Unix()]; dup {
			passed = 0
			notes = append(notes, "duplicate timestamp")
		} else {
			seen[c.Timestamp.Unix()] = struct{}{}
		}

		score := passed * hardCheckWeight

		if prev != nil {
			if significant, note := classifyGap(*prev, c); significant {
				vc.GapDetected = true
				score -= gapPenalty
				notes = append(notes, note)
			}
		}

		if median > 0 {
			ratio := float64(c.Volume) / median
			if ratio < volumeAnomalyLow || ratio > volumeAnomalyHigh {
				vc.VolumeAnomaly = true
				score -= volumeAnomalyPen
				notes = append(notes, "volume anomaly: ratio to batch median out of [0.5, 10] band")
			}
		}

		vc.Validated = passed == 6
		vc.QualityScore = clip01(score)
		vc.ValidationNotes = notes
		out[i] = vc

		prevCopy := c
		prev = &prevCopy
	}

	return out
}

// hardChecks runs the six independent OHLCV checks and returns how many
// passed plus a note for each failure.
func hardChecks(c RawCandle) (passed float64, notes []string) {
	if c.High >= c.Low {
		passed++
	} else {
		notes = append(notes, "High below Low")
	}

	if c.High >= math.Max(c.Open, c.Close) {
		passed++
	} else {
		notes = append(notes, "High below max(Open,Close)")
	}

	if c.Low <= math.Min(c.Open, c.Close) {
		passed++
	} else {
		notes = append(notes, "Low above min(Open,Close)")
	}

	if c.Open > 0 && c.High > 0 && c.Low > 0 && c.Close > 0 {
		passed++
	} else {
		notes = append(notes, "non-positive OHLC value")
	}

	if c.Volume >= 0 {
		passed++
	} else {
		notes = append(notes, "negative volume")
	}

	if c.Open != 0 {
		move := math.Abs(c.Close-c.Open) / c.Open
		if move <= maxPercentMove {
			passed++
		} else {
			notes = append(notes, "close vs open move exceeds 500%")
		}
	} else {
		notes = append(notes, "open is zero, cannot compute percent move")
	}

	return passed, notes
}

// classifyGap decides whether the gap between prev and cur is a significant
// calendar/price gap, per spec.md §4.3's banding rules.
func classifyGap(prev, cur RawCandle) (significant bool, note string) {
	if calendar.IsWeekendBridge(prev.Timestamp, cur.Timestamp) {
		return false, ""
	}

	calendarDays := calendar.CalendarDaysBetween(prev.Timestamp, cur.Timestamp)
	if calendarDays >= 3 {
		return false, ""
	}

	if prev.Close == 0 {
		return false, ""
	}
	pct := math.Abs(cur.Open-prev.Close) / prev.Close

	switch {
	case pct < gapModerateLow:
		return false, ""
	case pct < gapLargeLow:
		return true, "moderate gap (possible dividend/corporate event)"
	case pct < gapExtremeLow:
		return true, "large gap (possible split or major event)"
	default:
		return true, "extreme gap (possible data corruption)"
	}
}

func medianVolume(candles []RawCandle) float64 {
	if len(candles) == 0 {
		return 0
	}
	volumes := make([]int64, len(candles))
	for i, c := range candles {
		volumes[i] = c.Volume
	}
	sort.Slice(volumes, func(i, j int) bool { return volumes[i] < volumes[j] })

	n := len(volumes)
	if n%2 == 1 {
		return float64(volumes[n/2])
	}
	return float64(volumes[n/2-1]+volumes[n/2]) / 2.0
}

func clip01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
