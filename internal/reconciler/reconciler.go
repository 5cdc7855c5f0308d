// =============================================================================
// Supplier Reconciler - Batch Orchestrator
// =============================================================================
//
// This module runs one reconciliation pass over the intake folder.
//
// RECONCILIATION PIPELINE:
//   1. Take exclusive access to the master workbook (fatal if held)
//   2. Open the master workbook and index both tables by NIP (fatal if not)
//   3. For every submission in To_process, in listing order:
//        load -> validate -> reject (ledger + Invalid_files)
//                         -> merge  (Processed, or Invalid_files on a fault)
//   4. Save the master workbook once, atomically
//   5. Merge the run's rejections into the ledger once
//
// Files are handled one at a time; each is validated, merged or rejected and
// moved before the next one is opened. A crash before step 4 leaves the
// master workbook as it was before the run.
//
// ERROR HANDLING:
//   - Fatal precondition failures return ErrMasterLocked or
//     ErrMasterUnreadable before any file is touched.
//   - Rejections and merge faults are per file; the batch always continues.
//   - A failed master save returns ErrMasterSave. File moves already made
//     are not undone.
//   - A failed ledger write is logged and reported on the Summary only.
//
// =============================================================================

package reconciler

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ginjaninja78/supplier-reconciler/internal/config"
	"github.com/ginjaninja78/supplier-reconciler/internal/ledger"
	"github.com/ginjaninja78/supplier-reconciler/internal/logging"
	"github.com/ginjaninja78/supplier-reconciler/internal/master"
	"github.com/ginjaninja78/supplier-reconciler/internal/merger"
	"github.com/ginjaninja78/supplier-reconciler/internal/types"
	"github.com/ginjaninja78/supplier-reconciler/internal/validation"
	"github.com/ginjaninja78/supplier-reconciler/internal/xlsxparser"
	"github.com/ginjaninja78/supplier-reconciler/pkg/utils"
)

// Fatal run errors. Run wraps them with the underlying cause.
var (
	ErrMasterLocked     = errors.New("master workbook is in use")
	ErrMasterUnreadable = errors.New("master workbook cannot be read")
	ErrMasterSave       = errors.New("master workbook could not be saved")
)

// Outcome tokens written to the log field "outcome".
const (
	OutcomeMerged   = "merged"
	OutcomeRejected = "rejected"
	OutcomeFault    = "merge-fault"
)

// =============================================================================
// RESULT STRUCTURES
// =============================================================================

// FileResult is the outcome of one submission.
type FileResult struct {
	// FileName is the submission file name, e.g. "A.xlsx".
	FileName string

	// Outcome is OutcomeMerged, OutcomeRejected or OutcomeFault.
	Outcome string

	// Reason is set for rejections and faults.
	Reason types.Reason

	// NIP is the canonical identifier, if one was recovered.
	NIP string

	// PreviousFile is the provenance replaced by a merge.
	PreviousFile string

	// Destination is where the file was moved; "" in a dry run or when the
	// move failed.
	Destination string

	// Err is the merge fault or the move error, if any.
	Err error
}

// Summary reports a whole run.
type Summary struct {
	// RunID tags every log line of the run.
	RunID string

	// Started is when the run began. It is also the ledger timestamp of the
	// run's rejections.
	Started time.Time

	// Processed counts merged submissions.
	Processed int

	// Invalid counts rejected submissions, merge faults included.
	Invalid int

	// Faults counts merge faults.
	Faults int

	// Overwritten counts merges that replaced an earlier submission.
	Overwritten int

	// Elapsed is the wall time of the run.
	Elapsed time.Duration

	// Outcomes lists every submission in processing order.
	Outcomes []FileResult

	// LedgerEntries is the number of entries in the ledger after the run.
	LedgerEntries int

	// LedgerErr is set when the ledger could not be written.
	LedgerErr error

	// DryRun is true when nothing was moved or saved.
	DryRun bool
}

// =============================================================================
// RECONCILER
// =============================================================================

// Reconciler runs reconciliation passes for one configuration.
type Reconciler struct {
	cfg    *config.MainConfig
	dryRun bool
	logger *zerolog.Logger
	now    func() time.Time
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithDryRun validates and merges in memory without moving files or saving
// the master workbook and the ledger.
func WithDryRun(dryRun bool) Option {
	return func(r *Reconciler) { r.dryRun = dryRun }
}

// WithLogger sets the event logger. By default the logger is taken from the
// context passed to Run.
func WithLogger(logger *zerolog.Logger) Option {
	return func(r *Reconciler) { r.logger = logger }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(r *Reconciler) { r.now = now }
}

// New creates a Reconciler. cfg must already be validated.
func New(cfg *config.MainConfig, opts ...Option) *Reconciler {
	r := &Reconciler{cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// =============================================================================
// MAIN PROCESSING FUNCTION
// =============================================================================

// Run drains the intake folder once.
//
// Cancelling ctx stops the drain before the next file; the files already
// handled are still saved to the master workbook and the ledger, and Run
// returns the Summary together with ctx.Err().
func (r *Reconciler) Run(ctx context.Context) (*Summary, error) {
	started := r.now()
	summary := &Summary{
		RunID:   uuid.NewString(),
		Started: started,
		DryRun:  r.dryRun,
	}

	base := r.logger
	if base == nil {
		base = logging.FromContext(ctx)
	}
	log := base.With().Str("run_id", summary.RunID).Logger()

	log.Info().
		Str("master", r.cfg.SupplierFile).
		Bool("dry_run", r.dryRun).
		Msg("Started processing files from " + r.cfg.Folders.ToProcess)

	// =========================================================================
	// STEP 1: EXCLUSIVE ACCESS
	// =========================================================================

	lock, err := utils.CheckExclusive(r.cfg.SupplierFile)
	if err != nil {
		if errors.Is(err, utils.ErrLocked) {
			log.Error().Err(err).Msg("Please close the master supplier file")
			return nil, fmt.Errorf("%w: %v", ErrMasterLocked, err)
		}
		log.Error().Err(err).Msg("Master supplier file is not accessible")
		return nil, fmt.Errorf("%w: %v", ErrMasterUnreadable, err)
	}
	lockPath := lock.Path()
	defer func() {
		if err := lock.Release(); err != nil {
			log.Warn().Err(err).Str("lock", lockPath).Msg("Failed to remove lock file")
		}
	}()

	// =========================================================================
	// STEP 2: MASTER WORKBOOK
	// =========================================================================

	layout := r.cfg.Layout
	wb, err := master.Open(r.cfg.SupplierFile, layout)
	if err != nil {
		log.Error().Err(err).Msg("Unexpected error opening the master supplier file")
		return nil, fmt.Errorf("%w: %v", ErrMasterUnreadable, err)
	}
	defer wb.Close()

	indices, err := wb.Indices()
	if err != nil {
		log.Error().Err(err).Msg("Failed to index the master supplier file")
		return nil, fmt.Errorf("%w: %v", ErrMasterUnreadable, err)
	}
	log.Debug().
		Int("indicator_rows", len(indices.Indicator)).
		Int("descriptive_rows", len(indices.Descriptive)).
		Msg("Indexed master workbook")

	// =========================================================================
	// STEP 3: DRAIN THE INTAKE FOLDER
	// =========================================================================

	fm := utils.NewFileManager(
		r.cfg.ToProcessDir(),
		r.cfg.ProcessedDir(),
		r.cfg.ProcessedMsgDir(),
		r.cfg.InvalidDir(),
		r.cfg.CompanionExtension,
	)
	if !r.dryRun {
		if err := fm.EnsureDirectories(); err != nil {
			return nil, err
		}
	}

	files, err := fm.DiscoverSubmissions(r.cfg.SubmissionExtension)
	if err != nil {
		return nil, err
	}

	b := &batch{
		Reconciler: r,
		log:        log,
		fm:         fm,
		wb:         wb,
		validator:  validation.NewValidator(layout, indices),
		merger:     merger.NewMerger(layout),
		ledger:     ledger.New(r.cfg.LedgerFile),
		timestamp:  started.Truncate(time.Second),
	}

	var cancelled error
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			cancelled = err
			log.Warn().Err(err).Msg("Run cancelled; remaining files stay in " + r.cfg.Folders.ToProcess)
			break
		}
		summary.add(b.process(path))
	}

	// =========================================================================
	// STEP 4 + 5: PERSIST
	// =========================================================================

	var saveErr error
	if r.dryRun {
		log.Info().Msg("Dry run: master workbook and ledger left untouched")
	} else {
		if err := wb.Save(); err != nil {
			log.Error().Err(err).Msg("Failed to save the master supplier file")
			saveErr = fmt.Errorf("%w: %v", ErrMasterSave, err)
		} else {
			log.Info().Str("master", r.cfg.SupplierFile).Msg("Master supplier file updated")
		}

		n, err := b.ledger.Persist()
		switch {
		case err != nil:
			summary.LedgerErr = err
			log.Error().Err(err).Str("ledger", r.cfg.LedgerFile).Msg("Error saving the invalid files ledger")
		case n > 0:
			summary.LedgerEntries = n
			log.Info().Str("ledger", r.cfg.LedgerFile).Int("entries", n).Msg("Saved invalid files ledger and removed duplicates")
		default:
			log.Info().Msg("No invalid entries to save")
		}
	}

	summary.Elapsed = r.now().Sub(started)
	log.Info().
		Int("processed", summary.Processed).
		Int("invalid", summary.Invalid).
		Int("faults", summary.Faults).
		Int("overwritten", summary.Overwritten).
		Str("elapsed", fmt.Sprintf("%.2fs", summary.Elapsed.Seconds())).
		Msg("Processing complete")

	if saveErr != nil {
		return summary, saveErr
	}
	return summary, cancelled
}

// add records one file outcome.
func (s *Summary) add(res FileResult) {
	s.Outcomes = append(s.Outcomes, res)
	switch res.Outcome {
	case OutcomeMerged:
		s.Processed++
		if res.PreviousFile != "" {
			s.Overwritten++
		}
	case OutcomeFault:
		s.Faults++
		s.Invalid++
	default:
		s.Invalid++
	}
}

// =============================================================================
// PER-FILE PROCESSING
// =============================================================================

// batch holds the state shared by the files of one run.
type batch struct {
	*Reconciler
	log       zerolog.Logger
	fm        *utils.FileManager
	wb        *master.Workbook
	validator *validation.Validator
	merger    *merger.Merger
	ledger    *ledger.Ledger
	timestamp time.Time
}

// process validates and merges or rejects one submission, then moves it.
func (b *batch) process(path string) FileResult {
	fileName := filepath.Base(path)
	log := b.log.With().Str("file", fileName).Logger()

	sub, err := xlsxparser.Load(path, b.cfg.Layout)
	if err != nil {
		// An unreadable workbook has no readable identity sheet either.
		return b.reject(log, path, types.Reject(types.ReasonMissingSheet, "", err.Error()))
	}

	target, rej := b.validator.Validate(sub)
	if rej != nil {
		return b.reject(log, path, rej)
	}

	report, err := b.merger.Merge(b.wb, target, sub)
	if err != nil {
		return b.fault(log, path, sub.NIP, err)
	}

	res := FileResult{
		FileName:     fileName,
		Outcome:      OutcomeMerged,
		NIP:          target.NIP,
		PreviousFile: report.PreviousFile,
	}
	if report.Overwritten() {
		log.Info().
			Str("outcome", "row-overwritten").
			Int("row", target.IndicatorRow).
			Str("previous", report.PreviousFile).
			Msgf("Row %d was overwritten (previously: %s)", target.IndicatorRow, report.PreviousFile)
	}

	res.Destination, res.Err = b.move(log, path, b.fm.MoveToProcessed)
	log.Info().
		Str("outcome", OutcomeMerged).
		Str("nip", target.NIP).
		Int("indicator_row", target.IndicatorRow).
		Int("descriptive_row", target.DescriptiveRow).
		Int("marks", report.Marks).
		Msg("Successfully processed and saved to the master file")
	return res
}

// reject records a rejection in the ledger and moves the file to the
// invalid area.
func (b *batch) reject(log zerolog.Logger, path string, rej *types.Rejection) FileResult {
	fileName := filepath.Base(path)
	b.ledger.Append(ledger.Entry{
		FileName:  xlsxparser.Stem(fileName),
		Reason:    rej.Reason,
		NIP:       rej.NIP,
		Source:    ledger.SourceReconciler,
		Timestamp: b.timestamp,
	})

	res := FileResult{FileName: fileName, Outcome: OutcomeRejected, Reason: rej.Reason, NIP: rej.NIP}
	res.Destination, res.Err = b.move(log, path, b.fm.MoveToInvalid)

	ev := log.Warn().
		Str("outcome", OutcomeRejected).
		Str("reason", string(rej.Reason)).
		Str("nip", rej.NIP)
	if rej.Detail != "" {
		ev = ev.Str("detail", rej.Detail)
	}
	ev.Msg("Rejected")
	return res
}

// fault handles an unexpected merge failure like a rejection with reason
// merge-fault, keeping the cause on the result.
func (b *batch) fault(log zerolog.Logger, path, nip string, err error) FileResult {
	fileName := filepath.Base(path)
	b.ledger.Append(ledger.Entry{
		FileName:  xlsxparser.Stem(fileName),
		Reason:    types.ReasonMergeFault,
		NIP:       nip,
		Source:    ledger.SourceReconciler,
		Timestamp: b.timestamp,
	})

	ev := log.Error().Err(err).Str("outcome", OutcomeFault).Str("reason", string(types.ReasonMergeFault)).Str("nip", nip)
	var fe *merger.FaultError
	if errors.As(err, &fe) && fe.Cell != "" {
		ev = ev.Str("cell", fe.Cell)
	}
	ev.Msg("Unexpected error while merging; master rows may be partially written")

	res := FileResult{FileName: fileName, Outcome: OutcomeFault, Reason: types.ReasonMergeFault, NIP: nip, Err: err}
	dest, moveErr := b.move(log, path, b.fm.MoveToInvalid)
	res.Destination = dest
	if moveErr != nil {
		res.Err = errors.Join(err, moveErr)
	}
	return res
}

// move routes a file unless this is a dry run. A failed move is logged; the
// file then stays in the intake folder for the next run.
func (b *batch) move(log zerolog.Logger, path string, to func(string) (string, error)) (string, error) {
	if b.dryRun {
		return "", nil
	}
	dest, err := to(path)
	if err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			log.Error().Err(err).Msg("Failed to move file; it stays in " + b.cfg.Folders.ToProcess)
		} else {
			log.Error().Err(err).Msg("Failed to move companion file")
		}
		return dest, err
	}
	log.Debug().Str("to", dest).Msg("Moved file")
	return dest, nil
}
