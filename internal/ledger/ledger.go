// =============================================================================
// Supplier Reconciler - Rejection Ledger
// =============================================================================
//
// The ledger is a workbook listing every rejected submission, one row per
// file name:
//
//   File name | Message | NIP | Operation | Timestamp
//
// Both the reconciler ("Excel update") and intake staging ("Outlook") append
// to the same ledger, so the format and the dedup rule live here only.
//
// DEDUP RULE:
//   Existing and new entries are combined and ordered by timestamp, newest
//   first. For each file name only the first (most recent) entry is kept.
//   On equal timestamps a newly appended entry beats a stored one, and a
//   later Append beats an earlier one. Entries whose timestamp cannot be
//   parsed sort last.
//
// PERSISTENCE:
//   Persist writes a temporary workbook next to the ledger and renames it
//   over the old one.
//
// =============================================================================

package ledger

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/supplier-reconciler/internal/types"
	"github.com/ginjaninja78/supplier-reconciler/pkg/utils"
)

// Source tags of the two writers.
const (
	SourceReconciler = "Excel update"
	SourceIntake     = "Outlook"
)

// SheetName is the sheet the ledger is written to.
const SheetName = "Invalid"

// TimestampLayout is how timestamps are written.
const TimestampLayout = "2006-01-02 15:04:05"

// Header is the first row of the ledger sheet.
var Header = []string{"File name", "Message", "NIP", "Operation", "Timestamp"}

// Entry is one rejected submission.
type Entry struct {
	// FileName is the submission stem, without extension.
	FileName string

	// Reason is the rejection token.
	Reason types.Reason

	// NIP is the canonical identifier, "" when none was recovered.
	NIP string

	// Source names the writer: SourceReconciler or SourceIntake.
	Source string

	// Timestamp is when the rejection happened. The zero value means the
	// stored timestamp could not be parsed.
	Timestamp time.Time
}

// =============================================================================
// LEDGER
// =============================================================================

// Ledger collects the rejections of one run and merges them into the
// workbook at path.
type Ledger struct {
	path    string
	pending []Entry
}

// New creates a Ledger backed by the workbook at path.
func New(path string) *Ledger {
	return &Ledger{path: path}
}

// Path returns the ledger workbook location.
func (l *Ledger) Path() string { return l.path }

// Append records a rejection in memory.
func (l *Ledger) Append(e Entry) {
	l.pending = append(l.pending, e)
}

// Pending returns a copy of the entries appended since the last Persist.
func (l *Ledger) Pending() []Entry {
	return slices.Clone(l.pending)
}

// Persist merges pending entries into the stored ledger and writes the
// deduplicated result. A missing ledger is created. With nothing pending
// Persist does nothing and returns 0.
//
// RETURNS:
//   - The number of entries stored after the merge.
//   - An error if the ledger could not be read or written. Pending entries
//     are kept on error so a retry does not lose them.
func (l *Ledger) Persist() (int, error) {
	if len(l.pending) == 0 {
		return 0, nil
	}

	existing, err := Load(l.path)
	if err != nil {
		return 0, err
	}

	// Newest appends first, then the stored entries; the stable sort in
	// Dedup keeps this order among equal timestamps.
	combined := make([]Entry, 0, len(l.pending)+len(existing))
	for i := len(l.pending) - 1; i >= 0; i-- {
		combined = append(combined, l.pending[i])
	}
	combined = append(combined, existing...)

	entries := Dedup(combined)
	if err := write(l.path, entries); err != nil {
		return 0, err
	}

	l.pending = nil
	return len(entries), nil
}

// =============================================================================
// DEDUP
// =============================================================================

// Dedup orders entries newest first and keeps the first entry of each file
// name. Entries with a zero timestamp sort after all others. The sort is
// stable, so the input order decides ties.
func Dedup(entries []Entry) []Entry {
	sorted := slices.Clone(entries)
	slices.SortStableFunc(sorted, func(a, b Entry) int {
		switch {
		case a.Timestamp.IsZero() && b.Timestamp.IsZero():
			return 0
		case a.Timestamp.IsZero():
			return 1
		case b.Timestamp.IsZero():
			return -1
		}
		return b.Timestamp.Compare(a.Timestamp)
	})

	seen := make(map[string]bool, len(sorted))
	out := sorted[:0]
	for _, e := range sorted {
		if seen[e.FileName] {
			continue
		}
		seen[e.FileName] = true
		out = append(out, e)
	}
	return out
}

// =============================================================================
// STORAGE
// =============================================================================

// Load reads the ledger workbook at path. A missing file yields no entries
// and no error. Columns are matched by header name; "Source" is accepted for
// the Operation column and "Execution time" for the Timestamp column.
func Load(path string) ([]Entry, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}

	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	sheet := sheets[0]
	if slices.Contains(sheets, SheetName) {
		sheet = SheetName
	}

	rows, err := f.GetRows(sheet, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read ledger: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil
	}

	cols := headerIndex(rows[0])
	var entries []Entry
	for _, row := range rows[1:] {
		e := Entry{
			FileName:  cellAt(row, cols["file name"]),
			Reason:    types.Reason(cellAt(row, cols["message"])),
			NIP:       cellAt(row, cols["nip"]),
			Source:    cellAt(row, cols["operation"]),
			Timestamp: parseTimestamp(cellAt(row, cols["timestamp"])),
		}
		if e.FileName == "" {
			continue
		}
		entries = append(entries, e)
	}

	return entries, nil
}

// write saves entries as a fresh workbook and swaps it in for path.
func write(path string, entries []Entry) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return err
	}

	header := make([]any, len(Header))
	for i, h := range Header {
		header[i] = h
	}
	if err := f.SetSheetRow(SheetName, "A1", &header); err != nil {
		return fmt.Errorf("failed to write ledger header: %w", err)
	}
	if style, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}}); err == nil {
		_ = f.SetRowStyle(SheetName, 1, 1, style)
	}
	_ = f.SetColWidth(SheetName, "A", "A", 40)
	_ = f.SetColWidth(SheetName, "B", "B", 30)
	_ = f.SetColWidth(SheetName, "C", "E", 20)

	for i, e := range entries {
		ts := ""
		if !e.Timestamp.IsZero() {
			ts = e.Timestamp.Format(TimestampLayout)
		}
		row := []any{e.FileName, string(e.Reason), e.NIP, e.Source, ts}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := f.SetSheetRow(SheetName, cell, &row); err != nil {
			return fmt.Errorf("failed to write ledger row %d: %w", i+2, err)
		}
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create ledger directory: %w", err)
	}

	tmp := filepath.Join(dir, fmt.Sprintf(".%s-%s%s", utils.StemOf(path), uuid.NewString(), filepath.Ext(path)))
	if err := f.SaveAs(tmp); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write ledger: %w", err)
	}
	if err := utils.AtomicReplace(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace ledger: %w", err)
	}

	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// legacyHeaders maps older header names to their current column.
var legacyHeaders = map[string]string{
	"source":         "operation",
	"execution time": "timestamp",
}

// headerIndex maps lower-cased header names to column indexes. Missing
// columns map to -1.
func headerIndex(header []string) map[string]int {
	cols := map[string]int{"file name": -1, "message": -1, "nip": -1, "operation": -1, "timestamp": -1}
	for i, h := range header {
		key := strings.ToLower(strings.TrimSpace(h))
		if current, ok := legacyHeaders[key]; ok {
			key = current
		}
		if _, ok := cols[key]; ok {
			cols[key] = i
		}
	}
	return cols
}

func cellAt(row []string, i int) string {
	if i < 0 || i >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[i])
}

// parseTimestamp accepts the written layout, RFC 3339, a bare date and an
// Excel date serial. Anything else yields the zero time.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{TimestampLayout, time.RFC3339, "2006-01-02"} {
		if t, err := time.ParseInLocation(layout, s, time.Local); err == nil {
			return t
		}
	}
	if serial, err := strconv.ParseFloat(s, 64); err == nil {
		if t, err := excelize.ExcelDateToTime(serial, false); err == nil {
			t = t.Round(time.Second)
			return time.Date(t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.Local)
		}
	}
	return time.Time{}
}
