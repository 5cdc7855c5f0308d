// =============================================================================
// Supplier Reconciler - Intake Staging
// =============================================================================
//
// Staging is the file side of mail intake. A mail client (not part of this
// module) saves the attachments of one message plus the message itself, and
// hands them to Stage. Stage decides where each attachment goes:
//
//   no supplier form        -> nothing staged, attachments left in place
//   exactly one form        -> To_process/<name>_cat_<dd-mm-yyyy>.xlsx
//                              companion -> To_process/<same stem>.msg
//   more than one form      -> Invalid_files/<sender>_multiple[_n].xlsx
//                              one ledger entry "multiple-attachments" each
//                              companion -> Invalid_files/<sender>_multiple.msg
//   workbook not readable   -> Invalid_files/<sender>_unparseable[_n].xlsx
//                              ledger entry "unparseable-attachment"
//
// A supplier form is a workbook holding both the identity and the indicator
// sheet. <name> is the supplier name cell of the form, with diacritics
// stripped and characters that are unsafe in file names replaced.
//
// Ledger entries are appended to the Ledger passed in; the caller persists
// it once all messages are staged.
//
// =============================================================================

package intake

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
	"unicode"

	"github.com/rs/zerolog"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"

	"github.com/ginjaninja78/supplier-reconciler/internal/config"
	"github.com/ginjaninja78/supplier-reconciler/internal/ledger"
	"github.com/ginjaninja78/supplier-reconciler/internal/types"
	"github.com/ginjaninja78/supplier-reconciler/internal/xlsxparser"
	"github.com/ginjaninja78/supplier-reconciler/pkg/utils"
)

// DateLayout is the date suffix format of staged file names.
const DateLayout = "02-01-2006"

// workbookExts are the attachment extensions probed for a supplier form.
var workbookExts = []string{".xlsx", ".xlsm"}

// =============================================================================
// INPUT / OUTPUT
// =============================================================================

// Message is one saved mail message.
type Message struct {
	// Sender is the display name of the sender. It names invalid files.
	Sender string

	// Received is when the message arrived. Its date names staged files.
	Received time.Time

	// Attachments are paths of the saved attachments.
	Attachments []string

	// Companion is the path of the saved message file, "" if none.
	Companion string
}

// Result reports where the attachments of one message went.
type Result struct {
	// Staged lists files moved into To_process, companion included.
	Staged []string

	// Invalid lists files moved into Invalid_files, companion included.
	Invalid []string

	// Ignored lists attachments that are not supplier forms. They are left
	// where they were.
	Ignored []string

	// Entries are the ledger entries appended for this message.
	Entries []ledger.Entry
}

// =============================================================================
// STAGER
// =============================================================================

// Stager routes saved attachments into the processing folders.
type Stager struct {
	toProcess string
	invalid   string
	layout    config.Layout
	ledger    *ledger.Ledger
	log       zerolog.Logger
	now       func() time.Time
}

// NewStager creates a Stager for the folders of cfg. Rejections are appended
// to l.
func NewStager(cfg *config.MainConfig, l *ledger.Ledger, logger zerolog.Logger) *Stager {
	return &Stager{
		toProcess: cfg.ToProcessDir(),
		invalid:   cfg.InvalidDir(),
		layout:    cfg.Layout,
		ledger:    l,
		log:       logger,
		now:       time.Now,
	}
}

// Stage routes the attachments of one message.
//
// RETURNS:
//   - The Result. Attachments that are not forms are never moved.
//   - An error if a destination folder cannot be created or a file cannot be
//     moved. Files moved before the error stay moved and are listed.
func (s *Stager) Stage(msg Message) (Result, error) {
	var res Result
	log := s.log.With().Str("sender", msg.Sender).Logger()

	for _, dir := range []string{s.toProcess, s.invalid} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return res, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	var forms, broken []string
	for _, path := range msg.Attachments {
		if !isWorkbook(path) {
			res.Ignored = append(res.Ignored, path)
			continue
		}
		ok, err := xlsxparser.HasSheets(path, s.layout.IdentitySheet, s.layout.IndicatorSheet)
		switch {
		case err != nil:
			log.Debug().Err(err).Str("file", filepath.Base(path)).Msg("Attachment is not a readable workbook")
			broken = append(broken, path)
		case ok:
			forms = append(forms, path)
		default:
			res.Ignored = append(res.Ignored, path)
		}
	}

	timestamp := s.now().Truncate(time.Second)
	sender := SafeName(msg.Sender)
	if sender == "" {
		sender = "unknown"
	}

	for _, path := range broken {
		if err := s.reject(&res, path, sender+"_unparseable", types.ReasonUnparseable, "", timestamp); err != nil {
			return res, err
		}
	}

	switch {
	case len(forms) == 1:
		if err := s.stage(&res, forms[0], msg); err != nil {
			return res, err
		}
		log.Info().Str("file", filepath.Base(res.Staged[0])).Msg("Moved to To_process")

	case len(forms) > 1:
		base := sender + "_multiple"
		for _, path := range forms {
			if err := s.reject(&res, path, base, types.ReasonMultipleAttachments, s.formNIP(path), timestamp); err != nil {
				return res, err
			}
		}
		if msg.Companion != "" {
			dest, err := s.moveUnique(msg.Companion, s.invalid, base+filepath.Ext(msg.Companion))
			if err != nil {
				return res, err
			}
			res.Invalid = append(res.Invalid, dest)
		}
		log.Warn().
			Int("forms", len(forms)).
			Str("reason", string(types.ReasonMultipleAttachments)).
			Msg("More than one supplier form in one message")
	}

	if len(forms) == 0 && len(broken) == 0 {
		log.Debug().Int("attachments", len(msg.Attachments)).Msg("No supplier form in message")
	}
	return res, nil
}

// stage moves the single form of a message into To_process under the
// supplier's name, with the companion next to it.
func (s *Stager) stage(res *Result, path string, msg Message) error {
	name := "no_name"
	if sub, err := xlsxparser.Load(path, s.layout); err == nil {
		if n := SafeName(sub.Name); n != "" {
			name = n
		}
	}

	received := msg.Received
	if received.IsZero() {
		received = s.now()
	}
	fileName := fmt.Sprintf("%s_cat_%s%s", name, received.Format(DateLayout), filepath.Ext(path))

	dest, err := s.moveUnique(path, s.toProcess, fileName)
	if err != nil {
		return err
	}
	res.Staged = append(res.Staged, dest)

	if msg.Companion != "" {
		companion := utils.StemOf(dest) + filepath.Ext(msg.Companion)
		cdest, err := s.moveUnique(msg.Companion, s.toProcess, companion)
		if err != nil {
			return err
		}
		res.Staged = append(res.Staged, cdest)
	}
	return nil
}

// reject moves an attachment into Invalid_files as base[_n] and appends a
// ledger entry under the new stem.
func (s *Stager) reject(res *Result, path, base string, reason types.Reason, nip string, ts time.Time) error {
	dest, err := s.moveUnique(path, s.invalid, base+strings.ToLower(filepath.Ext(path)))
	if err != nil {
		return err
	}
	res.Invalid = append(res.Invalid, dest)

	entry := ledger.Entry{
		FileName:  utils.StemOf(dest),
		Reason:    reason,
		NIP:       nip,
		Source:    ledger.SourceIntake,
		Timestamp: ts,
	}
	res.Entries = append(res.Entries, entry)
	if s.ledger != nil {
		s.ledger.Append(entry)
	}

	s.log.Warn().
		Str("file", filepath.Base(dest)).
		Str("reason", string(reason)).
		Str("nip", nip).
		Msg("Moved to Invalid_files")
	return nil
}

// formNIP reads the canonical NIP of a form, "" if it cannot be read.
func (s *Stager) formNIP(path string) string {
	sub, err := xlsxparser.Load(path, s.layout)
	if err != nil {
		return ""
	}
	return sub.NIP
}

func (s *Stager) moveUnique(src, dir, name string) (string, error) {
	dest := filepath.Join(dir, utils.UniqueFileName(dir, name))
	if err := utils.MoveFile(src, dest); err != nil {
		return "", fmt.Errorf("failed to move %s: %w", filepath.Base(src), err)
	}
	return dest, nil
}

// =============================================================================
// FILE NAMES
// =============================================================================

var stripMarks = transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)

// Letters that carry no combining mark under NFD.
var letterFold = strings.NewReplacer("ł", "l", "Ł", "L", "ø", "o", "Ø", "O", "đ", "d", "Đ", "D", "ß", "ss")

// SafeName turns a free-text name into a file name stem: diacritics are
// stripped, characters that are not allowed in Windows file names become
// "_", and surrounding spaces and dots are trimmed.
//
// EXAMPLE:
//   SafeName("Łódź Transport: S.A.") -> "Lodz Transport_ S.A"
func SafeName(s string) string {
	folded, _, err := transform.String(stripMarks, letterFold.Replace(s))
	if err != nil {
		folded = s
	}

	var b strings.Builder
	b.Grow(len(folded))
	for _, r := range folded {
		switch {
		case r < 0x20 || r == 0x7f:
			b.WriteRune('_')
		case strings.ContainsRune(`<>:"/\|?*`, r):
			b.WriteRune('_')
		default:
			b.WriteRune(r)
		}
	}
	return strings.Trim(b.String(), " .")
}

func isWorkbook(path string) bool {
	return slices.Contains(workbookExts, strings.ToLower(filepath.Ext(path)))
}
