// =============================================================================
// Supplier Reconciler - Submission Parser
// =============================================================================
//
// This module reads a supplier submission workbook into memory. It does NOT
// decide whether the submission is acceptable; it only records what is there
// (which sheets exist, the NIP, the indicator grid, the descriptive fields)
// so that the validator can apply its checks in order.
//
// SUBMISSION STRUCTURE (default layout, see config/layout.go):
//
//   DATA sheet:  C1..C21 descriptive fields, C7 = NIP
//   offer sheet: rows 3..192, three (label, mark) column pairs C/D, E/F, G/H
//
// CUSTOMIZATION:
//   - Sheet names, cells and grid columns all come from config.Layout.
//
// =============================================================================

package xlsxparser

import (
	"fmt"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/supplier-reconciler/internal/config"
	"github.com/ginjaninja78/supplier-reconciler/internal/nip"
)

// =============================================================================
// SUBMISSION STRUCTURE
// =============================================================================

// Submission is one supplier workbook as read from disk.
type Submission struct {
	// Path is the location the workbook was read from.
	Path string

	// FileName is the base name including extension, e.g. "Acme_cat_01-02-2025.xlsx".
	FileName string

	// Stem is FileName without extension and surrounding whitespace. It is
	// the provenance value and the ledger file name.
	Stem string

	// HasIdentitySheet / HasIndicatorSheet record sheet presence.
	HasIdentitySheet  bool
	HasIndicatorSheet bool

	// RawNIP is the identifier cell as read; NIP is its canonical form.
	RawNIP string
	NIP    string

	// Name is the supplier name cell, used by intake for file naming.
	Name string

	// Items is the indicator grid, bounded to Layout.MaxItems rows.
	Items []Item

	// Fields holds the descriptive values keyed by source cell ("C1").
	// Values keep their spreadsheet type: float64 for numbers, bool for
	// booleans, string otherwise, nil for empty cells.
	Fields map[string]any
}

// Item is one row of the indicator grid.
type Item struct {
	// Row is the 1-based sheet row.
	Row int

	// Marks holds one entry per configured category, in layout order.
	Marks []Mark
}

// Mark is one (label, mark) cell pair.
type Mark struct {
	Label string
	Value string
}

// =============================================================================
// PARSER FUNCTIONS
// =============================================================================

// Load opens a submission workbook and reads it according to the layout.
//
// PARAMETERS:
//   - path: The path to the .xlsx submission.
//   - layout: Where the identifier, grid and fields live.
//
// RETURNS:
//   - The Submission. A missing sheet is NOT an error; it is recorded on the
//     Submission for the validator.
//   - An error if the file cannot be opened as a workbook or a present sheet
//     cannot be read.
func Load(path string, layout config.Layout) (*Submission, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open submission: %w", err)
	}
	defer f.Close()

	return Read(f, path, layout)
}

// Read extracts a Submission from an already opened workbook.
func Read(f *excelize.File, path string, layout config.Layout) (*Submission, error) {
	fileName := filepath.Base(path)
	sub := &Submission{
		Path:     path,
		FileName: fileName,
		Stem:     Stem(fileName),
		Fields:   make(map[string]any, len(layout.Fields)),
	}

	sheets := f.GetSheetList()
	sub.HasIdentitySheet = slices.Contains(sheets, layout.IdentitySheet)
	sub.HasIndicatorSheet = slices.Contains(sheets, layout.IndicatorSheet)

	if sub.HasIdentitySheet {
		if err := readIdentity(f, layout, sub); err != nil {
			return nil, err
		}
	}

	if sub.HasIndicatorSheet {
		items, err := readGrid(f, layout)
		if err != nil {
			return nil, err
		}
		sub.Items = items
	}

	return sub, nil
}

// readIdentity reads the NIP, the supplier name and the descriptive fields.
func readIdentity(f *excelize.File, layout config.Layout, sub *Submission) error {
	sheet := layout.IdentitySheet

	// Raw value: a NIP stored as a number must not pick up thousands
	// separators or scientific notation from the cell's number format.
	raw, err := f.GetCellValue(sheet, layout.IdentifierCell, excelize.Options{RawCellValue: true})
	if err != nil {
		return fmt.Errorf("failed to read %s!%s: %w", sheet, layout.IdentifierCell, err)
	}
	sub.RawNIP = raw
	sub.NIP = nip.Normalize(raw)

	name, err := f.GetCellValue(sheet, layout.NameCell)
	if err != nil {
		return fmt.Errorf("failed to read %s!%s: %w", sheet, layout.NameCell, err)
	}
	sub.Name = strings.TrimSpace(name)

	for _, field := range layout.Fields {
		v, err := typedCellValue(f, sheet, field.Source)
		if err != nil {
			return fmt.Errorf("failed to read %s!%s: %w", sheet, field.Source, err)
		}
		sub.Fields[field.Source] = v
	}

	return nil
}

// readGrid reads the indicator grid rows from ItemStartRow, at most MaxItems
// of them. Rows past the end of the sheet are not materialised.
func readGrid(f *excelize.File, layout config.Layout) ([]Item, error) {
	rows, err := f.GetRows(layout.IndicatorSheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows of %s: %w", layout.IndicatorSheet, err)
	}

	// Column letters resolved once; Validate has already checked them.
	type pair struct{ label, mark int }
	cols := make([]pair, len(layout.Categories))
	for i, c := range layout.Categories {
		l, err := excelize.ColumnNameToNumber(c.LabelColumn)
		if err != nil {
			return nil, err
		}
		m, err := excelize.ColumnNameToNumber(c.MarkColumn)
		if err != nil {
			return nil, err
		}
		cols[i] = pair{label: l - 1, mark: m - 1}
	}

	var items []Item
	for idx := 0; idx < layout.MaxItems; idx++ {
		rowIndex := layout.ItemStartRow - 1 + idx
		if rowIndex >= len(rows) {
			break
		}
		row := rows[rowIndex]

		item := Item{Row: rowIndex + 1, Marks: make([]Mark, len(cols))}
		for i, c := range cols {
			item.Marks[i] = Mark{
				Label: getCell(row, c.label),
				Value: getCell(row, c.mark),
			}
		}
		items = append(items, item)
	}

	return items, nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// getCell safely returns a cell of a GetRows row; short rows yield "".
func getCell(row []string, index int) string {
	if index < len(row) {
		return row[index]
	}
	return ""
}

// typedCellValue returns a cell value with its spreadsheet type preserved so
// that numbers copied into the master workbook stay numbers.
func typedCellValue(f *excelize.File, sheet, cell string) (any, error) {
	raw, err := f.GetCellValue(sheet, cell, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}

	cellType, err := f.GetCellType(sheet, cell)
	if err != nil {
		return nil, err
	}

	switch cellType {
	case excelize.CellTypeBool:
		return raw == "1" || strings.EqualFold(raw, "true"), nil
	case excelize.CellTypeUnset, excelize.CellTypeNumber:
		if n, err := strconv.ParseFloat(raw, 64); err == nil {
			return n, nil
		}
	}

	// Strings, dates and formulas are copied as displayed.
	return f.GetCellValue(sheet, cell)
}

// Stem returns a file name without its extension, trimmed of whitespace.
func Stem(fileName string) string {
	base := filepath.Base(fileName)
	return strings.TrimSpace(strings.TrimSuffix(base, filepath.Ext(base)))
}

// HasSheets reports whether the workbook at path contains every named sheet.
// It is a cheap probe used by intake to recognise supplier forms.
func HasSheets(path string, names ...string) (bool, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	for _, name := range names {
		if !slices.Contains(sheets, name) {
			return false, nil
		}
	}
	return true, nil
}
