package xlsxparser

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/supplier-reconciler/internal/config"
)

// newForm writes a submission workbook with the given sheets. The default
// "Sheet1" is renamed to the first sheet.
func newForm(t *testing.T, name string, sheets map[string]map[string]any) string {
	t.Helper()

	f := excelize.NewFile()
	defer f.Close()

	first := true
	for sheet, cells := range sheets {
		if first {
			require.NoError(t, f.SetSheetName("Sheet1", sheet))
			first = false
		} else {
			_, err := f.NewSheet(sheet)
			require.NoError(t, err)
		}
		for cell, v := range cells {
			require.NoError(t, f.SetCellValue(sheet, cell, v))
		}
	}
	if first {
		// Keep a placeholder sheet; a workbook cannot be empty.
		require.NoError(t, f.SetSheetName("Sheet1", "Other"))
	}

	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, f.SaveAs(path))
	return path
}

func TestLoadFullSubmission(t *testing.T) {
	path := newForm(t, " Acme_cat_01-02-2025 .xlsx", map[string]map[string]any{
		"DATA": {
			"C1": "Acme Sp. z o.o.",
			"C2": "Warszawa",
			"C7": "PL 123-456-78-90",
			"C8": 42,
		},
		"offer": {
			"C3": "Transport", "D3": "x",
			"E3": "-",
			"G3": "Storage", "H3": " X ",
			"C4": "Customs",
		},
	})

	sub, err := Load(path, config.DefaultLayout())
	require.NoError(t, err)

	assert.True(t, sub.HasIdentitySheet)
	assert.True(t, sub.HasIndicatorSheet)
	assert.Equal(t, "Acme_cat_01-02-2025", sub.Stem)
	assert.Equal(t, "PL 123-456-78-90", sub.RawNIP)
	assert.Equal(t, "1234567890", sub.NIP)
	assert.Equal(t, "Acme Sp. z o.o.", sub.Name)

	assert.Equal(t, "Acme Sp. z o.o.", sub.Fields["C1"])
	assert.Equal(t, float64(42), sub.Fields["C8"])
	assert.Nil(t, sub.Fields["C21"])
	assert.NotContains(t, sub.Fields, "C7")

	require.Len(t, sub.Items, 2)
	assert.Equal(t, 3, sub.Items[0].Row)
	assert.Equal(t, Mark{Label: "Transport", Value: "x"}, sub.Items[0].Marks[0])
	assert.Equal(t, Mark{Label: "-", Value: ""}, sub.Items[0].Marks[1])
	assert.Equal(t, Mark{Label: "Storage", Value: " X "}, sub.Items[0].Marks[2])
	assert.Equal(t, "Customs", sub.Items[1].Marks[0].Label)
}

func TestLoadNumericNIPKeepsDigits(t *testing.T) {
	path := newForm(t, "n.xlsx", map[string]map[string]any{
		"DATA":  {"C7": 5260250995},
		"offer": {"D3": "x"},
	})

	sub, err := Load(path, config.DefaultLayout())
	require.NoError(t, err)
	assert.Equal(t, "5260250995", sub.NIP)
}

func TestLoadMissingSheetsIsNotAnError(t *testing.T) {
	path := newForm(t, "only-data.xlsx", map[string]map[string]any{
		"DATA": {"C7": "111"},
	})

	sub, err := Load(path, config.DefaultLayout())
	require.NoError(t, err)
	assert.True(t, sub.HasIdentitySheet)
	assert.False(t, sub.HasIndicatorSheet)
	assert.Empty(t, sub.Items)
	assert.Equal(t, "111", sub.NIP)
}

func TestLoadGridIsBounded(t *testing.T) {
	cells := map[string]any{}
	for row := 3; row < 3+10; row++ {
		cells["C"+itoa(row)] = "Cat"
		cells["D"+itoa(row)] = "x"
	}
	path := newForm(t, "bounded.xlsx", map[string]map[string]any{
		"DATA":  {"C7": "1"},
		"offer": cells,
	})

	layout := config.DefaultLayout()
	layout.MaxItems = 4

	sub, err := Load(path, layout)
	require.NoError(t, err)
	assert.Len(t, sub.Items, 4)
}

func TestLoadNotAWorkbook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.xlsx")
	require.NoError(t, writeBytes(path, []byte("not a zip")))

	_, err := Load(path, config.DefaultLayout())
	assert.Error(t, err)
}

func TestHasSheets(t *testing.T) {
	path := newForm(t, "form.xlsx", map[string]map[string]any{
		"DATA":  {},
		"offer": {},
	})

	ok, err := HasSheets(path, "DATA", "offer")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = HasSheets(path, "DATA", "categories")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStem(t *testing.T) {
	assert.Equal(t, "A", Stem("A.xlsx"))
	assert.Equal(t, "A", Stem("/x/y/ A .xlsx"))
	assert.Equal(t, "a.b", Stem("a.b.xlsx"))
}
