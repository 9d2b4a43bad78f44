// Package jobrequest reads a backfill job submission manifest from a file
// or stdin (spec.md §6's "Job submission" interface, exposed here as a CLI
// entrypoint since the HTTP API is out of scope). Adapted from the
// platform's libs/ingest.ReadPayload/OpenInput pattern: JSON object first,
// falling back to a bare array when the manifest omits the wrapper.
package jobrequest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// Manifest is the on-disk/stdin shape of a job submission (spec.md §6).
// Symbols and Timeframes are optional; an empty Symbols list means "all
// active symbols" and an empty Timeframes list means each symbol's
// configured timeframes.
type Manifest struct {
	Symbols    []string `json:"symbols,omitempty"`
	Timeframes []string `json:"timeframes,omitempty"`
	Start      string   `json:"start"`
	End        string   `json:"end"`
}

// ErrEmptyManifest means the input file or stdin stream had no content.
var ErrEmptyManifest = errors.New("jobrequest: manifest is empty")

// Read parses a job submission manifest from path, or from stdin when path
// is empty. It accepts either a single JSON object or (for symmetry with
// the platform's array-of-observations fallback) a non-empty bare array, of
// which only the first object is used.
func Read(path string) (Manifest, error) {
	var manifest Manifest

	reader, err := OpenInput(path)
	if err != nil {
		return manifest, err
	}
	defer reader.Close()

	raw, err := io.ReadAll(reader)
	if err != nil {
		return manifest, err
	}
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return manifest, ErrEmptyManifest
	}

	if err := json.Unmarshal(raw, &manifest); err == nil && manifest.Start != "" {
		return manifest, nil
	}

	var manifests []Manifest
	if err := json.Unmarshal(raw, &manifests); err != nil {
		return manifest, fmt.Errorf("jobrequest: parse manifest: %w", err)
	}
	if len(manifests) == 0 {
		return manifest, ErrEmptyManifest
	}
	return manifests[0], nil
}

// OpenInput opens path for reading, or stdin when path is empty.
func OpenInput(path string) (io.ReadCloser, error) {
	if path == "" {
		return io.NopCloser(os.Stdin), nil
	}
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	return file, nil
}

// DateRange parses the manifest's Start/End ISO dates (spec.md §6: "ISO
// dates"). The end date is treated as inclusive through end-of-day UTC.
func (m Manifest) DateRange() (start, end time.Time, err error) {
	start, err = time.Parse("2006-01-02", m.Start)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("jobrequest: invalid start date %q: %w", m.Start, err)
	}
	end, err = time.Parse("2006-01-02", m.End)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("jobrequest: invalid end date %q: %w", m.End, err)
	}
	end = end.Add(23*time.Hour + 59*time.Minute + 59*time.Second)
	return start.UTC(), end.UTC(), nil
}
