// =============================================================================
// Supplier Reconciler - Shared Types
// =============================================================================
//
// This package contains shared types used across multiple modules to avoid
// import cycles. Types defined here are used by:
//   - validation  (produces Target or Rejection)
//   - merger      (consumes Target)
//   - ledger      (records Rejection reasons)
//   - reconciler  (routes files by outcome)
//   - intake      (records intake-side reasons)
//
// =============================================================================

package types

import "fmt"

// =============================================================================
// RESOLUTION TARGET
// =============================================================================

// Target is the pair of master rows a submission resolved to. The two tables
// are correlated by NIP, not by row number, so each row is resolved on its
// own index.
type Target struct {
	// NIP is the canonical identifier both rows were found under.
	NIP string

	// IndicatorRow is the 1-based row on the Indicator table.
	IndicatorRow int

	// DescriptiveRow is the 1-based row on the Descriptive table.
	DescriptiveRow int
}

// =============================================================================
// REJECTION REASONS
// =============================================================================

// Reason is a stable, greppable token naming why a file was rejected. It is
// written to the log and to the rejection ledger.
type Reason string

const (
	// ReasonMissingSheet: the identity sheet or the indicator sheet is absent
	// (or the workbook cannot be opened at all).
	ReasonMissingSheet Reason = "missing-required-sheet"

	// ReasonInvalidIdentifier: the NIP cell contains no digits.
	ReasonInvalidIdentifier Reason = "invalid-identifier"

	// ReasonNoSelection: not a single category is marked.
	ReasonNoSelection Reason = "no-selection"

	// ReasonMarkOnUnavailable: a mark was placed on a category labelled "-".
	ReasonMarkOnUnavailable Reason = "mark-on-unavailable-category"

	// ReasonNotFound: the NIP is missing from one or both master tables.
	ReasonNotFound Reason = "identifier-not-found"

	// ReasonMergeFault: the submission passed validation but writing it into
	// the master workbook failed.
	ReasonMergeFault Reason = "merge-fault"

	// ReasonMultipleAttachments: one message carried more than one form.
	ReasonMultipleAttachments Reason = "multiple-attachments"

	// ReasonUnparseable: an attachment could not be read as a workbook.
	ReasonUnparseable Reason = "unparseable-attachment"
)

// String implements fmt.Stringer.
func (r Reason) String() string { return string(r) }

// =============================================================================
// REJECTION
// =============================================================================

// Rejection is the terminal outcome of a submission that must not be merged.
type Rejection struct {
	// Reason is the ledger/log token.
	Reason Reason

	// NIP is the canonical identifier if one was recovered, "" otherwise.
	NIP string

	// Detail adds context for the log, e.g. the name of the missing sheet.
	Detail string
}

// Error implements the error interface so a Rejection can travel through
// error-returning code paths when that is convenient.
func (r *Rejection) Error() string {
	if r.Detail != "" {
		return fmt.Sprintf("%s: %s", r.Reason, r.Detail)
	}
	return string(r.Reason)
}

// Reject builds a Rejection.
func Reject(reason Reason, nip, detail string) *Rejection {
	return &Rejection{Reason: reason, NIP: nip, Detail: detail}
}
