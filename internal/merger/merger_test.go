package merger

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/supplier-reconciler/internal/config"
	"github.com/ginjaninja78/supplier-reconciler/internal/master"
	"github.com/ginjaninja78/supplier-reconciler/internal/types"
	"github.com/ginjaninja78/supplier-reconciler/internal/xlsxparser"
)

var target = types.Target{NIP: "111", IndicatorRow: 3, DescriptiveRow: 4}

// newWorkbook returns an in-memory master with NIP 111 on both tables and
// prefilled Descriptive columns that the merge must not touch.
func newWorkbook(t *testing.T) *master.Workbook {
	t.Helper()
	layout := config.DefaultLayout()

	f := excelize.NewFile()
	t.Cleanup(func() { f.Close() })
	require.NoError(t, f.SetSheetName("Sheet1", "data1"))
	_, err := f.NewSheet("data2")
	require.NoError(t, err)

	require.NoError(t, f.SetCellValue("data1", "F3", "111"))
	for _, cell := range []string{"A4", "H4", "J4", "K4", "L4"} {
		require.NoError(t, f.SetCellValue("data2", cell, "keep-"+cell))
	}
	require.NoError(t, f.SetCellValue("data2", "B4", "old name"))

	return master.New(f, filepath.Join(t.TempDir(), "master.xlsx"), layout)
}

// submission builds a submission marking category 0 on the given 0-based items.
func submission(stem string, items ...int) *xlsxparser.Submission {
	layout := config.DefaultLayout()
	sub := &xlsxparser.Submission{
		FileName:          stem + ".xlsx",
		Stem:              stem,
		HasIdentitySheet:  true,
		HasIndicatorSheet: true,
		NIP:               "111",
		Fields:            map[string]any{},
	}
	maxIdx := 0
	for _, i := range items {
		if i > maxIdx {
			maxIdx = i
		}
	}
	for idx := 0; idx <= maxIdx; idx++ {
		it := xlsxparser.Item{Row: layout.ItemStartRow + idx}
		for range layout.Categories {
			it.Marks = append(it.Marks, xlsxparser.Mark{Label: "Cat"})
		}
		sub.Items = append(sub.Items, it)
	}
	for _, i := range items {
		sub.Items[i].Marks[0].Value = "x"
	}
	for _, f := range layout.Fields {
		sub.Fields[f.Source] = "v-" + f.Source
	}
	sub.Fields["C8"] = float64(42)
	return sub
}

func cell(t *testing.T, wb *master.Workbook, sheet string, col, row int) string {
	t.Helper()
	name, err := excelize.CoordinatesToCellName(col, row)
	require.NoError(t, err)
	v, err := wb.File().GetCellValue(sheet, name)
	require.NoError(t, err)
	return v
}

func TestMergeFreshRow(t *testing.T) {
	wb := newWorkbook(t)
	sub := submission("A", 0)
	sub.Items[0].Marks[2].Value = " X "

	report, err := NewMerger(wb.Layout()).Merge(wb, target, sub)
	require.NoError(t, err)

	assert.False(t, report.Overwritten())
	assert.Equal(t, 2, report.Marks)
	assert.Equal(t, 20, report.Fields)

	// Category 0 and 2 of item 0 map to columns 25 and 27.
	assert.Equal(t, "x", cell(t, wb, "data1", 25, 3))
	assert.Equal(t, "", cell(t, wb, "data1", 26, 3))
	assert.Equal(t, "x", cell(t, wb, "data1", 27, 3))
	assert.Equal(t, "A", cell(t, wb, "data1", 805, 3))
}

func TestMergeInterleavesCategories(t *testing.T) {
	wb := newWorkbook(t)
	sub := submission("A")
	sub.Items[0].Marks[0].Value = ""
	sub.Items = append(sub.Items, xlsxparser.Item{Row: 4, Marks: []xlsxparser.Mark{
		{Label: "a"}, {Label: "b", Value: "x"}, {Label: "c"},
	}})

	_, err := NewMerger(wb.Layout()).Merge(wb, target, sub)
	require.NoError(t, err)

	// Item 1, category 1: 25 + 1 + 1*3.
	assert.Equal(t, "x", cell(t, wb, "data1", 29, 3))
}

func TestMergeCopiesMappedFieldsOnly(t *testing.T) {
	wb := newWorkbook(t)

	_, err := NewMerger(wb.Layout()).Merge(wb, target, submission("A", 0))
	require.NoError(t, err)

	f := wb.File()
	get := func(c string) string {
		v, err := f.GetCellValue("data2", c)
		require.NoError(t, err)
		return v
	}

	assert.Equal(t, "v-C1", get("B4"))
	assert.Equal(t, "v-C6", get("G4"))
	assert.Equal(t, "42", get("I4"))
	assert.Equal(t, "v-C9", get("M4"))
	assert.Equal(t, "v-C10", get("N4"))
	assert.Equal(t, "v-C21", get("Y4"))

	for _, c := range []string{"A4", "H4", "J4", "K4", "L4"} {
		assert.Equal(t, "keep-"+c, get(c), c)
	}

	cellType, err := f.GetCellType("data2", "I4")
	require.NoError(t, err)
	assert.NotEqual(t, excelize.CellTypeSharedString, cellType)
}

func TestMergeIsIdempotent(t *testing.T) {
	wb := newWorkbook(t)
	m := NewMerger(wb.Layout())
	sub := submission("A", 0, 5, 189)

	_, err := m.Merge(wb, target, sub)
	require.NoError(t, err)
	first, err := wb.IndicatorValues(3)
	require.NoError(t, err)

	report, err := m.Merge(wb, target, sub)
	require.NoError(t, err)
	second, err := wb.IndicatorValues(3)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, "A", report.PreviousFile)
	assert.Equal(t, "x", second[189*3])
}

func TestMergeOverwriteClearsStaleMarks(t *testing.T) {
	wb := newWorkbook(t)
	m := NewMerger(wb.Layout())

	_, err := m.Merge(wb, target, submission("S1", 0, 1))
	require.NoError(t, err)

	// A mark outside any submitted item must be cleared as well.
	require.NoError(t, wb.SetMark(804, 3))

	report, err := m.Merge(wb, target, submission("S2", 2))
	require.NoError(t, err)
	assert.True(t, report.Overwritten())
	assert.Equal(t, "S1", report.PreviousFile)

	values, err := wb.IndicatorValues(3)
	require.NoError(t, err)
	assert.Equal(t, "", values[0])
	assert.Equal(t, "", values[3])
	assert.Equal(t, "x", values[6])
	assert.Equal(t, "", values[len(values)-1])
	assert.Equal(t, "S2", cell(t, wb, "data1", 805, 3))
}

func TestMergeFault(t *testing.T) {
	wb := newWorkbook(t)

	_, err := NewMerger(wb.Layout()).Merge(wb, types.Target{IndicatorRow: 0, DescriptiveRow: 4}, submission("A", 0))
	require.Error(t, err)

	var fault *FaultError
	require.True(t, errors.As(err, &fault))
	assert.Equal(t, "A.xlsx", fault.File)
	assert.Contains(t, fault.Cell, "data1!")
	assert.NotNil(t, errors.Unwrap(err))
}

func TestFaultErrorMessage(t *testing.T) {
	cause := errors.New("boom")
	assert.Equal(t, "merge A.xlsx: data1!Y3: boom", (&FaultError{File: "A.xlsx", Cell: "data1!Y3", Err: cause}).Error())
	assert.Equal(t, "merge A.xlsx: boom", (&FaultError{File: "A.xlsx", Err: cause}).Error())
	assert.ErrorIs(t, &FaultError{Err: cause}, cause)
}
