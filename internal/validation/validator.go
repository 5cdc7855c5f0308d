// =============================================================================
// Supplier Reconciler - Validation Engine
// =============================================================================
//
// This module decides whether a submission may be merged into the master
// workbook and, if so, which rows it merges into.
//
// VALIDATION STRATEGY:
//   Checks run in a fixed order and the first failing check wins:
//   1. Structure:   identity sheet, then indicator sheet
//   2. Identifier:  the NIP cell must contain at least one digit
//   3. Grid:        at least one mark, and no mark on an unavailable category
//   4. Resolution:  the NIP must be on both master tables
//
// ERROR HANDLING:
//   - A failed check is a *types.Rejection, not an error. The reconciler
//     records it in the ledger and moves the file to the invalid area.
//   - The validator only reads; it never touches the submission or the
//     master workbook.
//
// =============================================================================

package validation

import (
	"strconv"

	"github.com/ginjaninja78/supplier-reconciler/internal/config"
	"github.com/ginjaninja78/supplier-reconciler/internal/master"
	"github.com/ginjaninja78/supplier-reconciler/internal/types"
	"github.com/ginjaninja78/supplier-reconciler/internal/xlsxparser"
)

// =============================================================================
// VALIDATOR
// =============================================================================

// Validator checks submissions against one master workbook's indices.
type Validator struct {
	layout  config.Layout
	indices master.Indices
}

// NewValidator creates a new Validator.
func NewValidator(layout config.Layout, indices master.Indices) *Validator {
	return &Validator{layout: layout, indices: indices}
}

// Validate runs every check in order.
//
// RETURNS:
//   - The resolved Target and nil when the submission may be merged.
//   - A zero Target and the Rejection of the first failing check otherwise.
//     Rejection.NIP carries the canonical NIP once one was recovered.
func (v *Validator) Validate(sub *xlsxparser.Submission) (types.Target, *types.Rejection) {
	if rej := v.checkStructure(sub); rej != nil {
		return types.Target{}, rej
	}

	if sub.NIP == "" {
		return types.Target{}, types.Reject(types.ReasonInvalidIdentifier, "",
			"no digits in "+v.layout.IdentitySheet+"!"+v.layout.IdentifierCell)
	}

	if rej := v.checkGrid(sub); rej != nil {
		return types.Target{}, rej
	}

	return v.resolve(sub.NIP)
}

// checkStructure reports the first missing sheet, identity sheet first.
func (v *Validator) checkStructure(sub *xlsxparser.Submission) *types.Rejection {
	if !sub.HasIdentitySheet {
		return types.Reject(types.ReasonMissingSheet, "", "no sheet "+v.layout.IdentitySheet)
	}
	if !sub.HasIndicatorSheet {
		// The NIP is readable at this point; keep it for the ledger.
		return types.Reject(types.ReasonMissingSheet, sub.NIP, "no sheet "+v.layout.IndicatorSheet)
	}
	return nil
}

// checkGrid applies the two grid conditions. no-selection is reported
// before mark-on-unavailable-category when both hold.
func (v *Validator) checkGrid(sub *xlsxparser.Submission) *types.Rejection {
	g := CheckGrid(sub.Items, v.layout)
	switch {
	case g.NoSelection:
		return types.Reject(types.ReasonNoSelection, sub.NIP, "")
	case g.MarkOnUnavailable:
		return types.Reject(types.ReasonMarkOnUnavailable, sub.NIP, g.FirstUnavailableCell)
	}
	return nil
}

// resolve looks the NIP up on both master tables.
func (v *Validator) resolve(canonical string) (types.Target, *types.Rejection) {
	indicatorRow, okIndicator := v.indices.Indicator.Lookup(canonical)
	descriptiveRow, okDescriptive := v.indices.Descriptive.Lookup(canonical)

	switch {
	case !okIndicator && !okDescriptive:
		return types.Target{}, types.Reject(types.ReasonNotFound, canonical, "not on either master table")
	case !okIndicator:
		return types.Target{}, types.Reject(types.ReasonNotFound, canonical,
			"not on "+v.layout.Master.IndicatorSheet)
	case !okDescriptive:
		return types.Target{}, types.Reject(types.ReasonNotFound, canonical,
			"not on "+v.layout.Master.DescriptiveSheet)
	}

	return types.Target{
		NIP:            canonical,
		IndicatorRow:   indicatorRow,
		DescriptiveRow: descriptiveRow,
	}, nil
}

// =============================================================================
// GRID CHECK
// =============================================================================

// GridResult is the outcome of CheckGrid.
type GridResult struct {
	// NoSelection is true when no mark is set anywhere in the grid.
	NoSelection bool

	// MarkOnUnavailable is true when any set mark sits on a category whose
	// label is the unavailable placeholder.
	MarkOnUnavailable bool

	// FirstUnavailableCell names the first offending mark cell, e.g.
	// "offer!F12", for the log.
	FirstUnavailableCell string

	// Marked is the number of set marks.
	Marked int
}

// CheckGrid evaluates both grid conditions over every item. The scan never
// stops early, so a valid mark elsewhere does not hide a mark on an
// unavailable category.
func CheckGrid(items []xlsxparser.Item, layout config.Layout) GridResult {
	var r GridResult
	for idx, item := range items {
		if idx >= layout.MaxItems {
			break
		}
		for c, mark := range item.Marks {
			if !layout.IsMark(mark.Value) {
				continue
			}
			r.Marked++
			if layout.IsUnavailable(mark.Label) && !r.MarkOnUnavailable {
				r.MarkOnUnavailable = true
				if c < len(layout.Categories) {
					r.FirstUnavailableCell = layout.IndicatorSheet + "!" +
						layout.Categories[c].MarkColumn + strconv.Itoa(item.Row)
				}
			}
		}
	}
	r.NoSelection = r.Marked == 0
	return r
}
