package master

import (
	"fmt"

	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/supplier-reconciler/internal/nip"
)

// textNumFmt is the built-in "@" (Text) number format.
const textNumFmt = 49

// Index maps a canonical NIP to its 1-based row.
type Index map[string]int

// Lookup returns the row of a canonical NIP.
func (i Index) Lookup(canonical string) (int, bool) {
	row, ok := i[canonical]
	return row, ok
}

// BuildIndex scans column of sheet from startRow to the last used row and
// maps every canonical NIP to its row.
//
// Rows whose NIP has no digits are skipped. When two rows share a canonical
// NIP the later row wins.
//
// Each visited identifier cell is switched to the Text number format before
// it is read, so that a NIP stored as a number is not reformatted (lost
// leading zeros, scientific notation) when the workbook is saved again. The
// rest of the cell's style (font, fill, borders, alignment) is kept.
func BuildIndex(f *excelize.File, sheet, column string, startRow int) (Index, error) {
	colNum, err := excelize.ColumnNameToNumber(column)
	if err != nil {
		return nil, err
	}

	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read rows: %w", err)
	}
	lastRow := len(rows)

	textStyles := make(map[int]int)

	index := make(Index)
	for row := startRow; row <= lastRow; row++ {
		cell, err := excelize.CoordinatesToCellName(colNum, row)
		if err != nil {
			return nil, err
		}
		if err := setTextFormat(f, sheet, cell, textStyles); err != nil {
			return nil, fmt.Errorf("failed to format %s: %w", cell, err)
		}

		raw, err := f.GetCellValue(sheet, cell)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", cell, err)
		}
		if canonical := nip.Normalize(raw); nip.Valid(canonical) {
			index[canonical] = row
		}
	}

	return index, nil
}

// setTextFormat gives cell a copy of its current style with the Text number
// format. textStyles maps original style IDs to their Text copies so each
// distinct style is copied once.
func setTextFormat(f *excelize.File, sheet, cell string, textStyles map[int]int) error {
	current, err := f.GetCellStyle(sheet, cell)
	if err != nil {
		return err
	}

	text, ok := textStyles[current]
	if !ok {
		style, err := f.GetStyle(current)
		if err != nil {
			return err
		}
		if style.NumFmt == textNumFmt && style.CustomNumFmt == nil {
			text = current
		} else {
			style.NumFmt = textNumFmt
			style.CustomNumFmt = nil
			if text, err = f.NewStyle(style); err != nil {
				return err
			}
		}
		textStyles[current] = text
	}

	if text == current {
		return nil
	}
	return f.SetCellStyle(sheet, cell, cell, text)
}
