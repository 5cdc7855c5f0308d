// =============================================================================
// Supplier Reconciler - Workbook Layout
// =============================================================================
//
// The layout describes WHERE every logical field lives, both in a supplier
// submission and in the master workbook. Index building, validation and
// merging all read positions from here instead of computing column letters
// at their call sites.
//
// SUBMISSION WORKBOOK (defaults):
//
//   Sheet "DATA"   C1..C21  descriptive fields, C7 is the NIP
//   Sheet "offer"  one item per row starting at row 3, three categories:
//
//   | C (label) | D (mark) | E (label) | F (mark) | G (label) | H (mark) |
//   |-----------|----------|-----------|----------|-----------|----------|
//   | Transport | x        | -         |          | Storage   |          |
//
//   A label of "-" means the category is not offered to this supplier.
//
// MASTER WORKBOOK (defaults):
//
//   Sheet "data1"  Indicator table. NIP in column F from row 3, marks in a
//                  780-column block starting at column 25 (Y), provenance
//                  (source file name) in column 805.
//   Sheet "data2"  Descriptive table. NIP in column H from row 3.
//
// The three categories are interleaved column-wise per item:
//
//   column = base + category + item * len(categories)
//
// =============================================================================

package config

import (
	"fmt"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/cases"
)

// =============================================================================
// LAYOUT STRUCTURES
// =============================================================================

// Layout is the complete positional schema shared by every component.
type Layout struct {
	// IdentitySheet holds the NIP and the descriptive fields of a submission.
	IdentitySheet string `yaml:"identity_sheet"`

	// IndicatorSheet holds the grid of offered categories and marks.
	IndicatorSheet string `yaml:"indicator_sheet"`

	// IdentifierCell is the cell on IdentitySheet holding the raw NIP.
	IdentifierCell string `yaml:"identifier_cell"`

	// NameCell is the cell on IdentitySheet holding the supplier name. Intake
	// uses it to name staged files.
	NameCell string `yaml:"name_cell"`

	// ItemStartRow is the first grid row (1-based) on IndicatorSheet.
	ItemStartRow int `yaml:"item_start_row"`

	// MaxItems bounds the number of grid rows read, validated and merged.
	MaxItems int `yaml:"max_items"`

	// Categories lists the (label, mark) column pairs of the grid.
	Categories []Category `yaml:"categories"`

	// MarkToken is the value that selects a category ("x").
	MarkToken string `yaml:"mark_token"`

	// UnavailableLabel is the placeholder label of a category that is not
	// offered to the supplier ("-").
	UnavailableLabel string `yaml:"unavailable_label"`

	// Master describes the two tables of the master workbook.
	Master MasterLayout `yaml:"master"`

	// Fields maps submission cells to Descriptive table columns.
	Fields []FieldMapping `yaml:"fields"`
}

// Category is one (label, mark) column pair of the indicator grid.
type Category struct {
	LabelColumn string `yaml:"label_column"`
	MarkColumn  string `yaml:"mark_column"`
}

// MasterLayout describes the Indicator and Descriptive tables.
type MasterLayout struct {
	IndicatorSheet    string `yaml:"indicator_sheet"`
	IndicatorIDColumn string `yaml:"indicator_id_column"`
	IndicatorStartRow int    `yaml:"indicator_start_row"`

	// IndicatorBaseColumn is the 1-based number of the first mark column.
	IndicatorBaseColumn int `yaml:"indicator_base_column"`

	// IndicatorWidth is the number of columns in the mark block. The whole
	// block is cleared when a row is overwritten.
	IndicatorWidth int `yaml:"indicator_width"`

	// ProvenanceColumn is the 1-based column holding the name of the file
	// that last wrote the row.
	ProvenanceColumn int `yaml:"provenance_column"`

	DescriptiveSheet    string `yaml:"descriptive_sheet"`
	DescriptiveIDColumn string `yaml:"descriptive_id_column"`
	DescriptiveStartRow int    `yaml:"descriptive_start_row"`
}

// FieldMapping copies one submission cell into one Descriptive table column.
type FieldMapping struct {
	// Source is a cell reference on the identity sheet, e.g. "C1".
	Source string `yaml:"source"`

	// Destination is a column letter on the Descriptive table, e.g. "B".
	Destination string `yaml:"destination"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// DefaultLayout returns the layout of the supplier form and master workbook
// currently in use.
func DefaultLayout() Layout {
	return Layout{
		IdentitySheet:  "DATA",
		IndicatorSheet: "offer",
		IdentifierCell: "C7",
		NameCell:       "C1",
		ItemStartRow:   3,
		MaxItems:       190,
		Categories: []Category{
			{LabelColumn: "C", MarkColumn: "D"},
			{LabelColumn: "E", MarkColumn: "F"},
			{LabelColumn: "G", MarkColumn: "H"},
		},
		MarkToken:        "x",
		UnavailableLabel: "-",
		Master: MasterLayout{
			IndicatorSheet:      "data1",
			IndicatorIDColumn:   "F",
			IndicatorStartRow:   3,
			IndicatorBaseColumn: 25,
			IndicatorWidth:      780,
			ProvenanceColumn:    805,
			DescriptiveSheet:    "data2",
			DescriptiveIDColumn: "H",
			DescriptiveStartRow: 3,
		},
		Fields: defaultFields(),
	}
}

// defaultFields maps C1..C21 (except C7, the NIP) to the Descriptive table.
// Columns A, H, J, K and L of the Descriptive table are prefilled and never
// written.
func defaultFields() []FieldMapping {
	dest := map[int]string{
		1: "B", 2: "C", 3: "D", 4: "E", 5: "F", 6: "G",
		8: "I", 9: "M",
		10: "N", 11: "O", 12: "P", 13: "Q", 14: "R", 15: "S",
		16: "T", 17: "U", 18: "V", 19: "W", 20: "X", 21: "Y",
	}

	fields := make([]FieldMapping, 0, len(dest))
	for row := 1; row <= 21; row++ {
		col, ok := dest[row]
		if !ok {
			continue
		}
		fields = append(fields, FieldMapping{
			Source:      fmt.Sprintf("C%d", row),
			Destination: col,
		})
	}
	return fields
}

// =============================================================================
// DERIVED POSITIONS
// =============================================================================

// IndicatorColumn returns the 1-based master column of the mark for the given
// category (0-based) and item (0-based).
func (l Layout) IndicatorColumn(category, item int) int {
	return l.Master.IndicatorBaseColumn + category + item*len(l.Categories)
}

// IndicatorBlock returns the first and last 1-based columns of the mark block.
func (l Layout) IndicatorBlock() (first, last int) {
	first = l.Master.IndicatorBaseColumn
	return first, first + l.Master.IndicatorWidth - 1
}

// IsMark reports whether a raw grid value selects its category. The value is
// compared trimmed and case-insensitively.
func (l Layout) IsMark(value string) bool {
	return foldEqual(strings.TrimSpace(value), l.MarkToken)
}

// IsUnavailable reports whether a category label is the "not offered"
// placeholder.
func (l Layout) IsUnavailable(label string) bool {
	return strings.TrimSpace(label) == l.UnavailableLabel
}

// =============================================================================
// VALIDATION
// =============================================================================

// Validate checks that the layout is self-consistent.
func (l Layout) Validate() error {
	if l.IdentitySheet == "" || l.IndicatorSheet == "" {
		return fmt.Errorf("layout: submission sheet names must be set")
	}
	if l.IdentitySheet == l.IndicatorSheet {
		return fmt.Errorf("layout: identity and indicator sheets must differ")
	}
	if _, _, err := excelize.CellNameToCoordinates(l.IdentifierCell); err != nil {
		return fmt.Errorf("layout: identifier_cell: %w", err)
	}
	if _, _, err := excelize.CellNameToCoordinates(l.NameCell); err != nil {
		return fmt.Errorf("layout: name_cell: %w", err)
	}
	if l.ItemStartRow < 1 {
		return fmt.Errorf("layout: item_start_row must be >= 1")
	}
	if l.MaxItems < 1 {
		return fmt.Errorf("layout: max_items must be >= 1")
	}
	if len(l.Categories) == 0 {
		return fmt.Errorf("layout: at least one category is required")
	}
	for i, c := range l.Categories {
		if _, err := excelize.ColumnNameToNumber(c.LabelColumn); err != nil {
			return fmt.Errorf("layout: category %d label_column: %w", i, err)
		}
		if _, err := excelize.ColumnNameToNumber(c.MarkColumn); err != nil {
			return fmt.Errorf("layout: category %d mark_column: %w", i, err)
		}
	}
	if strings.TrimSpace(l.MarkToken) == "" {
		return fmt.Errorf("layout: mark_token must be set")
	}

	m := l.Master
	if m.IndicatorSheet == "" || m.DescriptiveSheet == "" {
		return fmt.Errorf("layout: master sheet names must be set")
	}
	for name, col := range map[string]string{
		"indicator_id_column":   m.IndicatorIDColumn,
		"descriptive_id_column": m.DescriptiveIDColumn,
	} {
		if _, err := excelize.ColumnNameToNumber(col); err != nil {
			return fmt.Errorf("layout: %s: %w", name, err)
		}
	}
	if m.IndicatorStartRow < 1 || m.DescriptiveStartRow < 1 {
		return fmt.Errorf("layout: master start rows must be >= 1")
	}
	if m.IndicatorBaseColumn < 1 || m.IndicatorWidth < 1 {
		return fmt.Errorf("layout: indicator block must have a positive base and width")
	}

	// Every mark the merger can write must land inside the cleared block.
	first, last := l.IndicatorBlock()
	if maxCol := l.IndicatorColumn(len(l.Categories)-1, l.MaxItems-1); maxCol > last {
		return fmt.Errorf("layout: %d items x %d categories overflow the indicator block (column %d > %d)",
			l.MaxItems, len(l.Categories), maxCol, last)
	}
	if m.ProvenanceColumn >= first && m.ProvenanceColumn <= last {
		return fmt.Errorf("layout: provenance_column %d lies inside the indicator block", m.ProvenanceColumn)
	}
	if m.ProvenanceColumn > excelize.MaxColumns || last > excelize.MaxColumns {
		return fmt.Errorf("layout: column out of range")
	}

	for _, f := range l.Fields {
		if _, _, err := excelize.CellNameToCoordinates(f.Source); err != nil {
			return fmt.Errorf("layout: field source %q: %w", f.Source, err)
		}
		if _, err := excelize.ColumnNameToNumber(f.Destination); err != nil {
			return fmt.Errorf("layout: field destination %q: %w", f.Destination, err)
		}
		if strings.EqualFold(f.Destination, m.DescriptiveIDColumn) {
			return fmt.Errorf("layout: field %s would overwrite the NIP column %s", f.Source, f.Destination)
		}
	}

	return nil
}

// foldEqual compares two strings under Unicode case folding. A Caser keeps
// state, so a fresh one is taken per call.
func foldEqual(a, b string) bool {
	return cases.Fold().String(a) == cases.Fold().String(b)
}
