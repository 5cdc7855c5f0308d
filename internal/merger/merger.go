// =============================================================================
// Supplier Reconciler - Row Merger
// =============================================================================
//
// This module writes one validated submission into its two master rows.
//
// MERGE STEPS (Indicator row I, Descriptive row D):
//   1. If I already carries a provenance file name, clear I's whole indicator
//      block. Resubmissions with fewer marks leave no stale marks behind.
//   2. For every set mark (category c, item idx) write the mark token at
//      column base + c + idx*len(categories). Unset marks are not written.
//   3. Copy the mapped descriptive fields onto D.
//   4. Record the submission's file stem as I's provenance.
//
// Merging the same submission twice yields the same cells.
//
// ERROR HANDLING:
//   Any failed cell write stops the merge and is returned as a *FaultError.
//   There is no rollback; the rows may be partially written and the caller
//   must surface the fault.
//
// =============================================================================

package merger

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/supplier-reconciler/internal/config"
	"github.com/ginjaninja78/supplier-reconciler/internal/master"
	"github.com/ginjaninja78/supplier-reconciler/internal/types"
	"github.com/ginjaninja78/supplier-reconciler/internal/xlsxparser"
)

// =============================================================================
// FAULT
// =============================================================================

// FaultError is an unexpected failure while writing a submission into the
// master workbook. It is distinct from a validation rejection.
type FaultError struct {
	// File is the submission file name.
	File string

	// Cell is the master cell being written, e.g. "data1!Y3", if known.
	Cell string

	// Err is the underlying cause.
	Err error
}

func (e *FaultError) Error() string {
	if e.Cell != "" {
		return fmt.Sprintf("merge %s: %s: %v", e.File, e.Cell, e.Err)
	}
	return fmt.Sprintf("merge %s: %v", e.File, e.Err)
}

func (e *FaultError) Unwrap() error { return e.Err }

// =============================================================================
// MERGER
// =============================================================================

// Report describes what a merge did.
type Report struct {
	// PreviousFile is the provenance found on the Indicator row before the
	// merge, "" for a fresh row.
	PreviousFile string

	// Marks is the number of mark tokens written.
	Marks int

	// Fields is the number of descriptive values copied.
	Fields int
}

// Overwritten reports whether the merge replaced an earlier submission.
func (r Report) Overwritten() bool { return r.PreviousFile != "" }

// Merger writes submissions into a master workbook.
type Merger struct {
	layout config.Layout
}

// NewMerger creates a new Merger.
func NewMerger(layout config.Layout) *Merger {
	return &Merger{layout: layout}
}

// Merge writes sub into the rows of target.
//
// PARAMETERS:
//   - wb: The master workbook, mutated in memory.
//   - target: The rows returned by the validator.
//   - sub: A submission that passed validation.
//
// RETURNS:
//   - A Report of the merge.
//   - A *FaultError if any cell could not be written.
func (m *Merger) Merge(wb *master.Workbook, target types.Target, sub *xlsxparser.Submission) (Report, error) {
	var report Report
	ms := m.layout.Master

	previous, err := wb.Provenance(target.IndicatorRow)
	if err != nil {
		return report, m.fault(sub, ms.IndicatorSheet, ms.ProvenanceColumn, target.IndicatorRow, err)
	}
	report.PreviousFile = previous

	if previous != "" {
		if err := wb.ClearIndicators(target.IndicatorRow); err != nil {
			return report, &FaultError{File: sub.FileName, Err: fmt.Errorf("clear indicator block: %w", err)}
		}
	}

	for idx, item := range sub.Items {
		if idx >= m.layout.MaxItems {
			break
		}
		for c, mark := range item.Marks {
			if c >= len(m.layout.Categories) || !m.layout.IsMark(mark.Value) {
				continue
			}
			col := m.layout.IndicatorColumn(c, idx)
			if err := wb.SetMark(col, target.IndicatorRow); err != nil {
				return report, m.fault(sub, ms.IndicatorSheet, col, target.IndicatorRow, err)
			}
			report.Marks++
		}
	}

	for _, field := range m.layout.Fields {
		if err := wb.SetDescriptive(field.Destination, target.DescriptiveRow, sub.Fields[field.Source]); err != nil {
			return report, &FaultError{
				File: sub.FileName,
				Cell: fmt.Sprintf("%s!%s%d", ms.DescriptiveSheet, field.Destination, target.DescriptiveRow),
				Err:  err,
			}
		}
		report.Fields++
	}

	if err := wb.SetProvenance(target.IndicatorRow, sub.Stem); err != nil {
		return report, m.fault(sub, ms.IndicatorSheet, ms.ProvenanceColumn, target.IndicatorRow, err)
	}

	return report, nil
}

// fault builds a FaultError naming a cell by sheet and 1-based coordinates.
func (m *Merger) fault(sub *xlsxparser.Submission, sheet string, col, row int, err error) *FaultError {
	cell, nameErr := excelize.CoordinatesToCellName(col, row)
	if nameErr != nil {
		cell = fmt.Sprintf("R%dC%d", row, col)
	}
	return &FaultError{File: sub.FileName, Cell: sheet + "!" + cell, Err: err}
}
