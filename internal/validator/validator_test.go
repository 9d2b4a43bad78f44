package validator

import (
	"testing"
	"time"
)

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	ts, err := time.Parse("2006-01-02", s)
	if err != nil {
		t.Fatalf("parse %s: %v", s, err)
	}
	return ts
}

func TestValidate_CleanBatch(t *testing.T) {
	candles := []RawCandle{
		{Symbol: "AAPL", Timestamp: mustParse(t, "2024-01-02"), Open: 100, High: 102, Low: 99, Close: 101, Volume: 1000},
		{Symbol: "AAPL", Timestamp: mustParse(t, "2024-01-03"), Open: 101, High: 103, Low: 100, Close: 102, Volume: 1100},
		{Symbol: "AAPL", Timestamp: mustParse(t, "2024-01-04"), Open: 102, High: 104, Low: 101, Close: 103, Volume: 900},
		{Symbol: "AAPL", Timestamp: mustParse(t, "2024-01-05"), Open: 103, High: 105, Low: 102, Close: 104, Volume: 1050},
	}

	out := Validate(candles)
	if len(out) != len(candles) {
		t.Fatalf("expected %d results, got %d", len(candles), len(out))
	}
	for i, vc := range out {
		if !vc.Validated {
			t.Errorf("candle %d: expected validated, notes=%v", i, vc.ValidationNotes)
		}
		if vc.QualityScore != 1.0 {
			t.Errorf("candle %d: expected score 1.0, got %f", i, vc.QualityScore)
		}
		if vc.GapDetected {
			t.Errorf("candle %d: unexpected gap detected", i)
		}
	}
}

func TestValidate_CorruptionCandle(t *testing.T) {
	candles := []RawCandle{
		{Symbol: "X", Timestamp: mustParse(t, "2024-01-02"), Open: 100, High: 90, Low: 80, Close: 95, Volume: 1000},
	}

	out := Validate(candles)
	vc := out[0]
	if vc.Validated {
		t.Error("expected validated=false")
	}
	if want := 5.0 / 6.0; !floatNear(vc.QualityScore, want) {
		t.Errorf("expected score %f, got %f", want, vc.QualityScore)
	}
}

func TestValidate_StockSplitGap(t *testing.T) {
	// 300 -> 280 is a 6.67% gap, inside the 5-10% "large gap" band.
	candles := []RawCandle{
		{Symbol: "X", Timestamp: mustParse(t, "2024-01-01"), Open: 295, High: 305, Low: 285, Close: 300, Volume: 1000}, // Monday
		{Symbol: "X", Timestamp: mustParse(t, "2024-01-02"), Open: 280, High: 290, Low: 275, Close: 285, Volume: 1000}, // Tuesday
	}

	out := Validate(candles)
	second := out[1]
	if !second.GapDetected {
		t.Fatal("expected gap_detected=true")
	}
	if want := 1.0 - gapPenalty; !floatNear(second.QualityScore, want) {
		t.Errorf("expected score %f, got %f", want, second.QualityScore)
	}
	found := false
	for _, n := range second.ValidationNotes {
		if n == "large gap (possible split or major event)" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected split-gap note, got %v", second.ValidationNotes)
	}
}

func TestValidate_ExtremeGap(t *testing.T) {
	candles := []RawCandle{
		{Symbol: "X", Timestamp: mustParse(t, "2024-01-01"), Open: 295, High: 305, Low: 285, Close: 300, Volume: 1000}, // Monday
		{Symbol: "X", Timestamp: mustParse(t, "2024-01-02"), Open: 150, High: 160, Low: 145, Close: 155, Volume: 1000}, // Tuesday, 50% gap
	}
	out := Validate(candles)
	if !out[1].GapDetected {
		t.Fatal("expected gap_detected=true")
	}
	found := false
	for _, n := range out[1].ValidationNotes {
		if n == "extreme gap (possible data corruption)" {
			found = true
		}
	}
	if !found {
		t.Errorf("expected extreme-gap note, got %v", out[1].ValidationNotes)
	}
}

func TestValidate_FridayMondayGapNotSignificant(t *testing.T) {
	candles := []RawCandle{
		{Symbol: "X", Timestamp: mustParse(t, "2024-01-05"), Open: 100, High: 105, Low: 95, Close: 100, Volume: 1000}, // Friday
		{Symbol: "X", Timestamp: mustParse(t, "2024-01-08"), Open: 150, High: 155, Low: 145, Close: 150, Volume: 1000}, // Monday, 50% gap
	}

	out := Validate(candles)
	if out[1].GapDetected {
		t.Error("expected Friday->Monday gap to not be significant regardless of size")
	}
}

func TestValidate_TuesdayWednesdayGap(t *testing.T) {
	candles := []RawCandle{
		{Symbol: "X", Timestamp: mustParse(t, "2024-01-02"), Open: 100, High: 105, Low: 95, Close: 100, Volume: 1000},
		{Symbol: "X", Timestamp: mustParse(t, "2024-01-03"), Open: 103, High: 108, Low: 98, Close: 103, Volume: 1000},
	}

	out := Validate(candles)
	if !out[1].GapDetected {
		t.Fatal("expected 3% gap to be significant")
	}
	if want := 1.0 - gapPenalty; !floatNear(out[1].QualityScore, want) {
		t.Errorf("expected score %f, got %f", want, out[1].QualityScore)
	}
}

func TestValidate_SingleCandle_NoGapNoAnomaly(t *testing.T) {
	candles := []RawCandle{
		{Symbol: "X", Timestamp: mustParse(t, "2024-01-02"), Open: 100, High: 105, Low: 95, Close: 100, Volume: 1000},
	}
	out := Validate(candles)
	if out[0].GapDetected || out[0].VolumeAnomaly {
		t.Error("expected no gap and no volume anomaly for a single candle")
	}
	if out[0].QualityScore != 1.0 {
		t.Errorf("expected score 1.0, got %f", out[0].QualityScore)
	}
}

func TestValidate_FlatCandlePasses(t *testing.T) {
	candles := []RawCandle{
		{Symbol: "X", Timestamp: mustParse(t, "2024-01-02"), Open: 100, High: 100, Low: 100, Close: 100, Volume: 500},
	}
	out := Validate(candles)
	if !out[0].Validated {
		t.Errorf("expected flat candle to validate, notes=%v", out[0].ValidationNotes)
	}
}

func TestValidate_ExactlyFiveHundredPercentMove(t *testing.T) {
	candles := []RawCandle{
		{Symbol: "X", Timestamp: mustParse(t, "2024-01-02"), Open: 10, High: 60, Low: 10, Close: 60, Volume: 500},
	}
	out := Validate(candles)
	if !out[0].Validated {
		t.Errorf("expected exactly 500%% move to pass (<=500%%), notes=%v", out[0].ValidationNotes)
	}
}

func TestValidate_OverFiveHundredPercentMove(t *testing.T) {
	candles := []RawCandle{
		{Symbol: "X", Timestamp: mustParse(t, "2024-01-02"), Open: 10, High: 60.01, Low: 10, Close: 60.01, Volume: 500},
	}
	out := Validate(candles)
	if out[0].Validated {
		t.Error("expected over-500% move to fail")
	}
}

func TestValidate_VolumeAnomaly(t *testing.T) {
	candles := []RawCandle{
		{Symbol: "X", Timestamp: mustParse(t, "2024-01-01"), Open: 100, High: 101, Low: 99, Close: 100, Volume: 1000},
		{Symbol: "X", Timestamp: mustParse(t, "2024-01-02"), Open: 100, High: 101, Low: 99, Close: 100, Volume: 1000},
		{Symbol: "X", Timestamp: mustParse(t, "2024-01-03"), Open: 100, High: 101, Low: 99, Close: 100, Volume: 50000},
	}
	out := Validate(candles)
	if !out[2].VolumeAnomaly {
		t.Error("expected high-volume candle to be flagged anomalous")
	}
}

func TestValidate_DuplicateTimestampRejected(t *testing.T) {
	ts := mustParse(t, "2024-01-02")
	candles := []RawCandle{
		{Symbol: "X", Timestamp: ts, Open: 100, High: 101, Low: 99, Close: 100, Volume: 1000},
		{Symbol: "X", Timestamp: ts, Open: 100, High: 101, Low: 99, Close: 100, Volume: 1000},
	}
	out := Validate(candles)
	if out[0].Validated != true {
		t.Error("expected first occurrence to validate")
	}
	if out[1].Validated {
		t.Error("expected duplicate timestamp occurrence to fail validation")
	}
}

func TestValidate_PreservesLengthAndOrder(t *testing.T) {
	candles := []RawCandle{
		{Symbol: "X", Timestamp: mustParse(t, "2024-01-01"), Open: 1, High: 2, Low: 1, Close: 1, Volume: 1},
		{Symbol: "X", Timestamp: mustParse(t, "2024-01-02"), Open: 2, High: 3, Low: 2, Close: 2, Volume: 2},
		{Symbol: "X", Timestamp: mustParse(t, "2024-01-03"), Open: 3, High: 4, Low: 3, Close: 3, Volume: 3},
	}
	out := Validate(candles)
	if len(out) != len(candles) {
		t.Fatalf("expected len %d, got %d", len(candles), len(out))
	}
	for i, vc := range out {
		if !vc.Timestamp.Equal(candles[i].Timestamp) {
			t.Errorf("index %d: order not preserved", i)
		}
	}
}

func floatNear(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-9
}
