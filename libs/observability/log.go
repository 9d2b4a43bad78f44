package observability

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"
)

var logger = log.New(os.Stdout, "", 0)

func LogEvent(ctx context.Context, level string, event string, fields map[string]any) {
	payload := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339),
		"level": level,
		"event": event,
	}

	info := RunInfoFromContext(ctx)
	if info.JobID != "" {
		payload["job_id"] = info.JobID
	}
	if info.UnitID != "" {
		payload["unit_id"] = info.UnitID
	}
	if info.Symbol != "" {
		payload["symbol"] = info.Symbol
	}

	for key, value := range normalizeFields(fields) {
		payload[key] = value
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		logger.Printf("{\"level\":\"error\",\"event\":\"log_marshal_failed\",\"error\":%q}", err.Error())
		return
	}
	logger.Print(string(raw))
}

// LogUpstreamCall records one upstream provider call outcome. Every call
// made by the upstream client emits exactly one of these (spec §4.8).
func LogUpstreamCall(ctx context.Context, provider, endpoint string, duration time.Duration, err error) {
	fields := map[string]any{
		"provider":   provider,
		"endpoint":   endpoint,
		"latency_ms": duration.Milliseconds(),
		"success":    err == nil,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	LogEvent(ctx, "info", "upstream_call", fields)
}

// LogUnitTransition records a work-unit status transition.
func LogUnitTransition(ctx context.Context, symbol, timeframe, status string, err error) {
	fields := map[string]any{
		"symbol":    symbol,
		"timeframe": timeframe,
		"status":    status,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	LogEvent(ctx, "info", "unit_transition", fields)
}

// LogSymbolStatus records a tracked symbol's backfill_status transition.
func LogSymbolStatus(ctx context.Context, symbol, status string, err error) {
	fields := map[string]any{
		"symbol": symbol,
		"status": status,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	LogEvent(ctx, "info", "symbol_status", fields)
}

// LogAlert records an alert-threshold crossing.
func LogAlert(ctx context.Context, rule string, fields map[string]any) {
	merged := map[string]any{"rule": rule}
	for k, v := range fields {
		merged[k] = v
	}
	LogEvent(ctx, "warn", "alert", merged)
}

func normalizeFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for key, value := range fields {
		switch key {
		case "input", "payload", "request", "response":
			out[key] = RedactValue(value)
			continue
		}
		if isSensitiveKey(key) {
			out[key] = redactedValue
			continue
		}
		if err, ok := value.(error); ok {
			out[key] = err.Error()
			continue
		}
		out[key] = value
	}
	return out
}
