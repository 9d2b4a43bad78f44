package observability

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// NewJobID generates a unique identifier for a backfill job.
func NewJobID() string {
	return newID("job")
}

// NewUnitID generates a unique identifier for a single (symbol, timeframe,
// date-range) work unit within a backfill job.
func NewUnitID() string {
	return newID("unit")
}

func newID(prefix string) string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%s_%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s_%d_%s", prefix, time.Now().UnixNano(), hex.EncodeToString(buf))
}
