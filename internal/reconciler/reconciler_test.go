package reconciler

import (
	"bytes"
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/supplier-reconciler/internal/config"
	"github.com/ginjaninja78/supplier-reconciler/internal/ledger"
	"github.com/ginjaninja78/supplier-reconciler/internal/types"
	"github.com/ginjaninja78/supplier-reconciler/pkg/utils"
)

var runTime = time.Date(2025, 3, 1, 10, 0, 0, 0, time.Local)

// env is a processing location with a master workbook holding NIPs 111 and
// 222 on both tables.
type env struct {
	cfg *config.MainConfig
	log *bytes.Buffer
}

func newEnv(t *testing.T) *env {
	t.Helper()
	root := t.TempDir()
	masterPath := filepath.Join(root, "master.xlsx")

	f := excelize.NewFile()
	require.NoError(t, f.SetSheetName("Sheet1", "data1"))
	_, err := f.NewSheet("data2")
	require.NoError(t, err)
	require.NoError(t, f.SetCellValue("data1", "F3", "111"))
	require.NoError(t, f.SetCellValue("data1", "F4", "222"))
	require.NoError(t, f.SetCellValue("data2", "H3", "222"))
	require.NoError(t, f.SetCellValue("data2", "H4", "111"))
	require.NoError(t, f.SaveAs(masterPath))
	require.NoError(t, f.Close())

	cfg := config.Default()
	cfg.ApplyOverrides(config.Overrides{ProcessingLocation: root, SupplierFile: masterPath})
	require.NoError(t, cfg.Validate())
	require.NoError(t, os.MkdirAll(cfg.ToProcessDir(), 0755))

	return &env{cfg: cfg, log: &bytes.Buffer{}}
}

// submit writes a submission into To_process. marks are offer sheet cells
// set to "x".
func (e *env) submit(t *testing.T, name, nip string, marks ...string) string {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	require.NoError(t, f.SetSheetName("Sheet1", "DATA"))
	require.NoError(t, f.SetCellValue("DATA", "C1", "Supplier "+name))
	require.NoError(t, f.SetCellValue("DATA", "C7", nip))
	_, err := f.NewSheet("offer")
	require.NoError(t, err)
	for _, c := range []string{"C3", "E3", "G3", "C4", "E4", "G4"} {
		require.NoError(t, f.SetCellValue("offer", c, "Service"))
	}
	for _, cell := range marks {
		require.NoError(t, f.SetCellValue("offer", cell, "x"))
	}

	path := filepath.Join(e.cfg.ToProcessDir(), name)
	require.NoError(t, f.SaveAs(path))
	return path
}

func (e *env) run(t *testing.T, opts ...Option) (*Summary, error) {
	t.Helper()
	logger := zerolog.New(e.log)
	opts = append([]Option{WithLogger(&logger), WithClock(func() time.Time { return runTime })}, opts...)
	return New(e.cfg, opts...).Run(context.Background())
}

func (e *env) masterCell(t *testing.T, sheet, cell string) string {
	t.Helper()
	f, err := excelize.OpenFile(e.cfg.SupplierFile)
	require.NoError(t, err)
	defer f.Close()
	v, err := f.GetCellValue(sheet, cell)
	require.NoError(t, err)
	return v
}

func (e *env) indicatorRow(t *testing.T, row int) []string {
	t.Helper()
	f, err := excelize.OpenFile(e.cfg.SupplierFile)
	require.NoError(t, err)
	defer f.Close()

	var values []string
	for col := 25; col <= 804; col++ {
		cell, _ := excelize.CoordinatesToCellName(col, row)
		v, err := f.GetCellValue("data1", cell)
		require.NoError(t, err)
		values = append(values, v)
	}
	return values
}

func countMarks(values []string) int {
	n := 0
	for _, v := range values {
		if v == "x" {
			n++
		}
	}
	return n
}

func TestRunEndToEnd(t *testing.T) {
	e := newEnv(t)
	e.submit(t, "A.xlsx", "111", "D3")
	require.NoError(t, os.WriteFile(filepath.Join(e.cfg.ToProcessDir(), "A.msg"), []byte("msg"), 0644))
	e.submit(t, "B.xlsx", "222")
	require.NoError(t, os.WriteFile(filepath.Join(e.cfg.ToProcessDir(), "B.msg"), []byte("msg"), 0644))

	summary, err := e.run(t)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Invalid)
	assert.Zero(t, summary.Faults)
	assert.NoError(t, summary.LedgerErr)
	assert.NotEmpty(t, summary.RunID)

	// A merged.
	assert.FileExists(t, filepath.Join(e.cfg.ProcessedDir(), "A.xlsx"))
	assert.FileExists(t, filepath.Join(e.cfg.ProcessedMsgDir(), "A.msg"))
	assert.Equal(t, "A", e.masterCell(t, "data1", "ADY3"))
	assert.Equal(t, 1, countMarks(e.indicatorRow(t, 3)))
	assert.Equal(t, "x", e.masterCell(t, "data1", "Y3"))
	assert.Equal(t, "Supplier A.xlsx", e.masterCell(t, "data2", "B4"))

	// B rejected.
	assert.FileExists(t, filepath.Join(e.cfg.InvalidDir(), "B.xlsx"))
	assert.FileExists(t, filepath.Join(e.cfg.InvalidDir(), "B.msg"))

	entries, err := ledger.Load(e.cfg.LedgerFile)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "B", entries[0].FileName)
	assert.Equal(t, types.ReasonNoSelection, entries[0].Reason)
	assert.Equal(t, "222", entries[0].NIP)
	assert.Equal(t, ledger.SourceReconciler, entries[0].Source)
	assert.True(t, runTime.Equal(entries[0].Timestamp))

	// Intake drained, lock released.
	files, err := os.ReadDir(e.cfg.ToProcessDir())
	require.NoError(t, err)
	assert.Empty(t, files)
	assert.NoFileExists(t, utils.LockPath(e.cfg.SupplierFile))

	assert.Contains(t, e.log.String(), `"outcome":"merged"`)
	assert.Contains(t, e.log.String(), `"reason":"no-selection"`)
}

func TestRunOverwritesEarlierSubmission(t *testing.T) {
	e := newEnv(t)
	e.submit(t, "S1.xlsx", "111", "D3", "F3", "D4")
	_, err := e.run(t)
	require.NoError(t, err)
	assert.Equal(t, 3, countMarks(e.indicatorRow(t, 3)))

	e.submit(t, "S2.xlsx", "111", "H4")
	summary, err := e.run(t)
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Overwritten)
	assert.Equal(t, "S1", summary.Outcomes[0].PreviousFile)

	values := e.indicatorRow(t, 3)
	assert.Equal(t, 1, countMarks(values))
	// Item 1, category 2: offset 2 + 1*3.
	assert.Equal(t, "x", values[5])
	assert.Equal(t, "S2", e.masterCell(t, "data1", "ADY3"))
	assert.Contains(t, e.log.String(), "row-overwritten")
}

func TestRunRejections(t *testing.T) {
	e := newEnv(t)
	e.submit(t, "unknown.xlsx", "999", "D3")
	e.submit(t, "noid.xlsx", "n/a", "D3")
	require.NoError(t, os.WriteFile(filepath.Join(e.cfg.ToProcessDir(), "broken.xlsx"), []byte("not a zip"), 0644))

	summary, err := e.run(t)
	require.NoError(t, err)
	assert.Equal(t, 3, summary.Invalid)
	assert.Zero(t, summary.Processed)

	reasons := map[string]types.Reason{}
	for _, o := range summary.Outcomes {
		reasons[o.FileName] = o.Reason
		assert.Equal(t, OutcomeRejected, o.Outcome)
	}
	assert.Equal(t, types.ReasonNotFound, reasons["unknown.xlsx"])
	assert.Equal(t, types.ReasonInvalidIdentifier, reasons["noid.xlsx"])
	assert.Equal(t, types.ReasonMissingSheet, reasons["broken.xlsx"])

	entries, err := ledger.Load(e.cfg.LedgerFile)
	require.NoError(t, err)
	assert.Len(t, entries, 3)
}

func TestRunDryRun(t *testing.T) {
	e := newEnv(t)
	a := e.submit(t, "A.xlsx", "111", "D3")
	b := e.submit(t, "B.xlsx", "222")
	before, err := os.ReadFile(e.cfg.SupplierFile)
	require.NoError(t, err)

	summary, err := e.run(t, WithDryRun(true))
	require.NoError(t, err)
	assert.True(t, summary.DryRun)
	assert.Equal(t, 1, summary.Processed)
	assert.Equal(t, 1, summary.Invalid)

	assert.FileExists(t, a)
	assert.FileExists(t, b)
	assert.NoFileExists(t, e.cfg.LedgerFile)
	after, err := os.ReadFile(e.cfg.SupplierFile)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestRunMasterLocked(t *testing.T) {
	e := newEnv(t)
	a := e.submit(t, "A.xlsx", "111", "D3")

	lock, err := utils.CheckExclusive(e.cfg.SupplierFile)
	require.NoError(t, err)
	defer lock.Release()

	summary, err := e.run(t)
	assert.Nil(t, summary)
	assert.True(t, errors.Is(err, ErrMasterLocked))
	assert.FileExists(t, a)
}

func TestRunTakesOverLockOfExitedRun(t *testing.T) {
	e := newEnv(t)
	e.submit(t, "A.xlsx", "111", "D3")

	cmd := exec.Command(os.Args[0], "-test.run=^$")
	require.NoError(t, cmd.Run())
	lockPath := utils.LockPath(e.cfg.SupplierFile)
	require.NoError(t, os.WriteFile(lockPath, []byte(strconv.Itoa(cmd.Process.Pid)+"\n"), 0644))

	summary, err := e.run(t)
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Processed)
	assert.NoFileExists(t, lockPath)
}

func TestRunMasterUnreadable(t *testing.T) {
	e := newEnv(t)
	a := e.submit(t, "A.xlsx", "111", "D3")
	require.NoError(t, os.WriteFile(e.cfg.SupplierFile, []byte("garbage"), 0644))

	_, err := e.run(t)
	assert.True(t, errors.Is(err, ErrMasterUnreadable))
	assert.FileExists(t, a)
	assert.NoFileExists(t, utils.LockPath(e.cfg.SupplierFile))
}

func TestRunMasterMissing(t *testing.T) {
	e := newEnv(t)
	require.NoError(t, os.Remove(e.cfg.SupplierFile))

	_, err := e.run(t)
	assert.True(t, errors.Is(err, ErrMasterUnreadable))
}

func TestRunCancelled(t *testing.T) {
	e := newEnv(t)
	a := e.submit(t, "A.xlsx", "111", "D3")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	logger := zerolog.Nop()
	summary, err := New(e.cfg, WithLogger(&logger)).Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, summary)
	assert.Empty(t, summary.Outcomes)
	assert.FileExists(t, a)
}

func TestRunEmptyIntake(t *testing.T) {
	e := newEnv(t)

	summary, err := e.run(t)
	require.NoError(t, err)
	assert.Zero(t, summary.Processed)
	assert.Zero(t, summary.Invalid)
	assert.NoFileExists(t, e.cfg.LedgerFile)
	assert.Contains(t, e.log.String(), "No invalid entries to save")
}
