// =============================================================================
// Supplier Reconciler - File Manager Utility
// =============================================================================
//
// This module provides the filesystem side of a reconciliation run:
//   - Folder layout creation
//   - Submission discovery in the intake folder
//   - Routing a submission and its companion message to Processed/Invalid
//   - Exclusive access to the master workbook
//   - Atomic replacement of a file by a fully written temporary file
//
// ROUTING STRATEGY:
//   - Merged submissions go to Processed, their companion to Processed_msg
//   - Rejected submissions and their companion go to Invalid_files
//   - A file already present under the same name at the destination is
//     replaced; the ledger is keyed by file name as well
//   - A missing companion is not an error
//
// =============================================================================

package utils

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// =============================================================================
// FILE MANAGER
// =============================================================================

// FileManager handles file operations for the reconciler.
type FileManager struct {
	// ToProcessDir is where submissions wait for the next run.
	ToProcessDir string

	// ProcessedDir receives merged submissions.
	ProcessedDir string

	// ProcessedMsgDir receives companion files of merged submissions.
	ProcessedMsgDir string

	// InvalidDir receives rejected submissions and their companions.
	InvalidDir string

	// CompanionExt is the extension of the message saved next to each
	// submission, e.g. ".msg".
	CompanionExt string
}

// NewFileManager creates a new FileManager with the specified directories.
func NewFileManager(toProcessDir, processedDir, processedMsgDir, invalidDir, companionExt string) *FileManager {
	return &FileManager{
		ToProcessDir:    toProcessDir,
		ProcessedDir:    processedDir,
		ProcessedMsgDir: processedMsgDir,
		InvalidDir:      invalidDir,
		CompanionExt:    companionExt,
	}
}

// =============================================================================
// DIRECTORY MANAGEMENT
// =============================================================================

// EnsureDirectories creates all required directories if they don't exist.
func (fm *FileManager) EnsureDirectories() error {
	dirs := []string{
		fm.ToProcessDir,
		fm.ProcessedDir,
		fm.ProcessedMsgDir,
		fm.InvalidDir,
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return nil
}

// =============================================================================
// FILE DISCOVERY
// =============================================================================

// DiscoverSubmissions lists the files of the intake folder with the given
// extension, in directory listing order.
//
// The extension match is case-insensitive and exact, so ".xlsx" does not pick
// up ".xlsm" files. Directories, hidden files and Office owner files
// ("~$name.xlsx") are skipped.
func (fm *FileManager) DiscoverSubmissions(extension string) ([]string, error) {
	entries, err := os.ReadDir(fm.ToProcessDir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan intake directory: %w", err)
	}

	var result []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || strings.HasPrefix(name, "~$") {
			continue
		}
		if !strings.EqualFold(filepath.Ext(name), extension) {
			continue
		}
		result = append(result, filepath.Join(fm.ToProcessDir, name))
	}

	return result, nil
}

// =============================================================================
// FILE ROUTING
// =============================================================================

// MoveToProcessed moves a merged submission to Processed and its companion
// to Processed_msg. It returns the new location of the submission.
func (fm *FileManager) MoveToProcessed(path string) (string, error) {
	return fm.MoveWithCompanion(path, fm.ProcessedDir, fm.ProcessedMsgDir)
}

// MoveToInvalid moves a rejected submission and its companion to
// Invalid_files. It returns the new location of the submission.
func (fm *FileManager) MoveToInvalid(path string) (string, error) {
	return fm.MoveWithCompanion(path, fm.InvalidDir, fm.InvalidDir)
}

// MoveWithCompanion moves path into destDir and the same-stem companion file,
// when one exists next to it, into companionDir.
func (fm *FileManager) MoveWithCompanion(path, destDir, companionDir string) (string, error) {
	dest := filepath.Join(destDir, filepath.Base(path))
	if err := MoveFile(path, dest); err != nil {
		return "", err
	}

	if fm.CompanionExt == "" {
		return dest, nil
	}
	companion := CompanionPath(path, fm.CompanionExt)
	if !FileExists(companion) {
		return dest, nil
	}
	if err := MoveFile(companion, filepath.Join(companionDir, filepath.Base(companion))); err != nil {
		return dest, fmt.Errorf("failed to move companion: %w", err)
	}

	return dest, nil
}

// CompanionPath returns the path of the file that shares path's stem and has
// the companion extension.
func CompanionPath(path, companionExt string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + companionExt
}

// MoveFile renames src to dst, replacing dst. When rename fails (e.g.
// cross-device) the file is copied and the source removed.
func MoveFile(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	if err := os.Rename(src, dst); err != nil {
		if _, statErr := os.Stat(src); statErr != nil {
			return fmt.Errorf("failed to move %s: %w", filepath.Base(src), err)
		}
		if err := copyFile(src, dst); err != nil {
			return fmt.Errorf("failed to copy %s: %w", filepath.Base(src), err)
		}
		if err := os.Remove(src); err != nil {
			return fmt.Errorf("failed to remove original file: %w", err)
		}
	}

	return nil
}

// =============================================================================
// FILE NAMING
// =============================================================================

// UniqueFileName returns the first of name, name_1, name_2... (extension
// kept) that does not exist in dir.
//
// EXAMPLE:
//   dir holds "Acme_cat_01-02-2025.xlsx"
//   UniqueFileName(dir, "Acme_cat_01-02-2025.xlsx") -> "Acme_cat_01-02-2025_1.xlsx"
func UniqueFileName(dir, name string) string {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)

	candidate := name
	for n := 1; FileExists(filepath.Join(dir, candidate)); n++ {
		candidate = stem + "_" + strconv.Itoa(n) + ext
	}
	return candidate
}

// StemOf returns the base name of path without its extension.
func StemOf(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

// =============================================================================
// EXCLUSIVE ACCESS
// =============================================================================

// ErrLocked reports that another process holds a file.
var ErrLocked = errors.New("file is in use")

// Lock is held for the duration of a run on the master workbook.
type Lock struct {
	path string
}

// Path returns the location of the lock file.
func (l *Lock) Path() string { return l.path }

// Release removes the lock file. It is safe to call more than once.
func (l *Lock) Release() error {
	if l == nil || l.path == "" {
		return nil
	}
	err := os.Remove(l.path)
	l.path = ""
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// LockPath returns the lock file used for path: "~$<name>.lock" next to it.
func LockPath(path string) string {
	return filepath.Join(filepath.Dir(path), "~$"+filepath.Base(path)+".lock")
}

// CheckExclusive verifies that nothing else holds the file at path and takes
// a lock on it.
//
// Two probes are used. Renaming the file onto itself fails on Windows while
// a spreadsheet application has it open. Creating the lock file exclusively
// fails while another reconciler run holds it. Both failures wrap ErrLocked.
//
// The lock file records the owner's PID. A lock left by a process that no
// longer exists (a run that was killed or lost power) is removed and taken
// over.
func CheckExclusive(path string) (*Lock, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}

	if err := os.Rename(path, path); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrLocked, filepath.Base(path), err)
	}

	lockPath := LockPath(path)
	for attempt := 0; ; attempt++ {
		f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
		if err == nil {
			fmt.Fprintf(f, "%d\n", os.Getpid())
			if err := f.Close(); err != nil {
				_ = os.Remove(lockPath)
				return nil, fmt.Errorf("failed to write lock file: %w", err)
			}
			return &Lock{path: lockPath}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("failed to create lock file: %w", err)
		}

		if attempt > 0 || !staleLock(lockPath) {
			return nil, fmt.Errorf("%w: %s is held by another run (lock file %s)", ErrLocked, filepath.Base(path), lockPath)
		}
		if err := os.Remove(lockPath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to remove stale lock file %s: %w", lockPath, err)
		}
	}
}

// staleLock reports whether the lock file names a process that is no longer
// running. A lock without a readable PID is not stale.
func staleLock(lockPath string) bool {
	data, err := os.ReadFile(lockPath)
	if err != nil {
		return false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return false
	}
	return !processAlive(pid)
}

// =============================================================================
// ATOMIC REPLACE
// =============================================================================

// AtomicReplace moves a fully written temporary file over dest. The
// temporary file is fsynced first and must live in dest's directory.
func AtomicReplace(tmpPath, dest string) error {
	f, err := os.OpenFile(tmpPath, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	if err := osReplace(tmpPath, dest); err != nil {
		return err
	}
	// Best effort: persist the rename itself.
	_ = syncDir(filepath.Dir(dest))
	return nil
}

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

// copyFile copies a file from src to dst.
func copyFile(src, dst string) error {
	sourceFile, err := os.Open(src)
	if err != nil {
		return err
	}
	defer sourceFile.Close()

	destFile, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer destFile.Close()

	_, err = io.Copy(destFile, sourceFile)
	if err != nil {
		return err
	}

	return destFile.Sync()
}

// FileExists checks if a file exists.
func FileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}
