// =============================================================================
// Supplier Reconciler - Master Workbook
// =============================================================================
//
// The master workbook is the central dataset the reconciler writes into. It
// holds two logical tables:
//
//   Indicator table   (data1)  one row per supplier, a wide block of marks
//                              plus a provenance column naming the file that
//                              last wrote the row
//   Descriptive table (data2)  one row per supplier, name/contact/address
//
// Rows of the two tables are NOT aligned; each table is indexed by NIP on its
// own.
//
// OWNERSHIP:
//   A Workbook is opened once per run, mutated only by the reconciler and
//   saved once at the end. Save writes a temporary file next to the master
//   and renames it over the original, so a crash leaves the pre-run file.
//
// =============================================================================

package master

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/supplier-reconciler/internal/config"
	"github.com/ginjaninja78/supplier-reconciler/pkg/utils"
)

// =============================================================================
// WORKBOOK
// =============================================================================

// Workbook is the in-memory master dataset for one run.
type Workbook struct {
	path   string
	file   *excelize.File
	layout config.Layout
}

// Indices holds the NIP-to-row index of each table.
type Indices struct {
	Indicator   Index
	Descriptive Index
}

// Open loads the master workbook. Macros and formatting are kept in memory
// and written back by Save.
func Open(path string, layout config.Layout) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open master workbook: %w", err)
	}

	wb := &Workbook{path: path, file: f, layout: layout}
	for _, sheet := range []string{layout.Master.IndicatorSheet, layout.Master.DescriptiveSheet} {
		if idx, _ := f.GetSheetIndex(sheet); idx < 0 {
			f.Close()
			return nil, fmt.Errorf("master workbook has no sheet %q", sheet)
		}
	}

	return wb, nil
}

// New wraps an already opened workbook. Save writes to path.
func New(f *excelize.File, path string, layout config.Layout) *Workbook {
	return &Workbook{path: path, file: f, layout: layout}
}

// File exposes the underlying workbook.
func (w *Workbook) File() *excelize.File { return w.file }

// Layout returns the layout the workbook was opened with.
func (w *Workbook) Layout() config.Layout { return w.layout }

// Path returns the location Save writes to.
func (w *Workbook) Path() string { return w.path }

// Indices builds the NIP index of both tables.
func (w *Workbook) Indices() (Indices, error) {
	m := w.layout.Master

	indicator, err := BuildIndex(w.file, m.IndicatorSheet, m.IndicatorIDColumn, m.IndicatorStartRow)
	if err != nil {
		return Indices{}, fmt.Errorf("failed to index %s: %w", m.IndicatorSheet, err)
	}
	descriptive, err := BuildIndex(w.file, m.DescriptiveSheet, m.DescriptiveIDColumn, m.DescriptiveStartRow)
	if err != nil {
		return Indices{}, fmt.Errorf("failed to index %s: %w", m.DescriptiveSheet, err)
	}

	return Indices{Indicator: indicator, Descriptive: descriptive}, nil
}

// =============================================================================
// CELL ACCESS
// =============================================================================

// Provenance returns the file name recorded on an Indicator table row.
func (w *Workbook) Provenance(row int) (string, error) {
	cell, err := excelize.CoordinatesToCellName(w.layout.Master.ProvenanceColumn, row)
	if err != nil {
		return "", err
	}
	return w.file.GetCellValue(w.layout.Master.IndicatorSheet, cell)
}

// SetProvenance records the file name that wrote an Indicator table row.
func (w *Workbook) SetProvenance(row int, stem string) error {
	cell, err := excelize.CoordinatesToCellName(w.layout.Master.ProvenanceColumn, row)
	if err != nil {
		return err
	}
	return w.file.SetCellValue(w.layout.Master.IndicatorSheet, cell, stem)
}

// SetMark writes the mark token into a 1-based column of an Indicator table
// row.
func (w *Workbook) SetMark(col, row int) error {
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return w.file.SetCellValue(w.layout.Master.IndicatorSheet, cell, w.layout.MarkToken)
}

// ClearIndicators empties the whole mark block of an Indicator table row,
// including columns no submission item maps to.
func (w *Workbook) ClearIndicators(row int) error {
	first, last := w.layout.IndicatorBlock()
	for col := first; col <= last; col++ {
		cell, err := excelize.CoordinatesToCellName(col, row)
		if err != nil {
			return err
		}
		if err := w.file.SetCellValue(w.layout.Master.IndicatorSheet, cell, nil); err != nil {
			return fmt.Errorf("clear %s: %w", cell, err)
		}
	}
	return nil
}

// SetDescriptive writes one value into a Descriptive table row. column is a
// column letter.
func (w *Workbook) SetDescriptive(column string, row int, value any) error {
	col, err := excelize.ColumnNameToNumber(column)
	if err != nil {
		return err
	}
	cell, err := excelize.CoordinatesToCellName(col, row)
	if err != nil {
		return err
	}
	return w.file.SetCellValue(w.layout.Master.DescriptiveSheet, cell, value)
}

// IndicatorValues returns the mark block of an Indicator table row, one
// entry per column.
func (w *Workbook) IndicatorValues(row int) ([]string, error) {
	first, last := w.layout.IndicatorBlock()
	values := make([]string, 0, last-first+1)
	for col := first; col <= last; col++ {
		cell, err := excelize.CoordinatesToCellName(col, row)
		if err != nil {
			return nil, err
		}
		v, err := w.file.GetCellValue(w.layout.Master.IndicatorSheet, cell)
		if err != nil {
			return nil, err
		}
		values = append(values, v)
	}
	return values, nil
}

// =============================================================================
// PERSISTENCE
// =============================================================================

// Save writes the workbook back to its path via a temporary file in the same
// directory followed by a rename, so readers never see a half-written file.
func (w *Workbook) Save() error {
	dir := filepath.Dir(w.path)
	ext := filepath.Ext(w.path)

	// excelize picks the content type from the extension, so the temporary
	// file must keep it (.xlsm stays macro-enabled).
	tmp := filepath.Join(dir, fmt.Sprintf(".%s-%s%s", utils.StemOf(w.path), uuid.NewString(), ext))

	if err := w.file.SaveAs(tmp); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to write master workbook: %w", err)
	}
	if err := utils.AtomicReplace(tmp, w.path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("failed to replace master workbook: %w", err)
	}

	// SaveAs re-pointed the file at the temporary name.
	w.file.Path = w.path
	return nil
}

// Close releases the workbook.
func (w *Workbook) Close() error {
	if w.file == nil {
		return nil
	}
	err := w.file.Close()
	w.file = nil
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
