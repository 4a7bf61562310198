// Package sink implements the sink stage (spec §4.5): publishing processed
// Datapoints upstream or logging them locally, plus the independent raw
// passthrough worker.
package sink

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/srg/patchstation/internal/model"
)

// appendDatapointRow appends one row for dp to {root}/{patch}.csv,
// creating the file on first write. Grounded on
// original_source/Basestation/SaveLocally.py's LocalLogger, whose
// csv.DictWriter(fieldnames=[mac_address]) writes a single column per
// row and never a header — "no special input_data structure," per that
// module's own docstring. Matched here with a single JSON-encoded cell
// per row and no header line (spec §6).
func appendDatapointRow(root string, patch model.PatchID, dp model.Datapoint) error {
	path := filepath.Join(root, string(patch)+".csv")
	return withCSVWriter(path, func(w *csv.Writer) error {
		return w.Write(datapointRow(dp))
	})
}

// appendRawRow appends one row for a raw sample to {root}/{patch}.csv,
// same single-column, no-header convention as appendDatapointRow — the
// raw variant only differs by living under a separate root directory.
func appendRawRow(root string, patch model.PatchID, s model.RawSample) error {
	path := filepath.Join(root, string(patch)+".csv")
	return withCSVWriter(path, func(w *csv.Writer) error {
		return w.Write(rawRow(s))
	})
}

// datapointRow serializes dp to a single JSON cell. A pass-through record
// (dp.Raw != nil) is serialized as its wrapped RawSample alone, matching
// telemetryPayload's verbatim handling rather than nesting it inside an
// otherwise-zeroed Datapoint.
func datapointRow(dp model.Datapoint) []string {
	var v any = dp
	if dp.Raw != nil {
		v = dp.Raw
	}
	b, err := json.Marshal(v)
	if err != nil {
		b = []byte(fmt.Sprintf("%+v", v))
	}
	return []string{string(b)}
}

func rawRow(s model.RawSample) []string {
	b, err := json.Marshal(s)
	if err != nil {
		b = []byte(fmt.Sprintf("%+v", s))
	}
	return []string{string(b)}
}

// withCSVWriter opens path for append (creating it and its parent
// directory), runs write, and flushes. No header is ever written — spec
// §6's on-disk backup format is single-column with no header row.
func withCSVWriter(path string, write func(w *csv.Writer) error) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating log directory for %q: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening %q: %w", path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := write(w); err != nil {
		return fmt.Errorf("writing row to %q: %w", path, err)
	}
	w.Flush()
	return w.Error()
}
