package invoice

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// trashDirName is the hidden per-invoice holding area for soft-deleted
// attachments.
const trashDirName = ".trash"

// Storage defines the interface for per-invoice folder operations under a
// single storage root. The filesystem is the source of truth for
// attachments; the record store only indexes metadata.
type Storage interface {
	// SaveTemp writes an upload to a uniquely named temporary file in the
	// root and returns its path.
	SaveTemp(filename string, data []byte) (string, error)

	// RemoveTemp deletes a temporary file. Already-gone files are fine;
	// promotion into an invoice folder consumes the temp file.
	RemoveTemp(path string)

	// CreateDir atomically creates an invoice directory, failing with
	// ErrFolderCollision if it already exists.
	CreateDir(name string) error

	// RemoveDir recursively removes an invoice directory, trash included.
	RemoveDir(name string) error

	// PromoteTemp moves a temporary file into an invoice directory under
	// its final name.
	PromoteTemp(tempPath, dir, name string) error

	// WriteNote writes a plain-text file into an invoice directory.
	WriteNote(dir, name, contents string) error

	// ListFiles returns an invoice directory's non-trashed filenames,
	// sorted. A missing directory yields an empty list: an orphan record is
	// treated as a record with no attachments.
	ListFiles(dir string) ([]string, error)

	// ReadFile returns an attachment's bytes.
	ReadFile(dir, name string) ([]byte, error)

	// Trash soft-deletes an attachment into the invoice's trash, returning
	// the trash entry name. Canonical artifacts are refused with
	// ErrProtectedArtifact.
	Trash(dir, name string) (string, error)

	// Restore moves a trash entry back under the desired filename,
	// returning the name actually used (a timestamp suffix is appended on
	// conflict).
	Restore(dir, trashName, filename string) (string, error)

	// Clear removes everything under the storage root, preserving the root
	// itself.
	Clear() error
}

// TimeSource provides the current time.
type TimeSource interface {
	Now() time.Time
}

// defaultTimeSource provides the current time.
type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

// LocalStorage implements the Storage interface using the local filesystem.
type LocalStorage struct {
	basePath   string
	timeSource TimeSource
}

// NewLocalStorage creates a new LocalStorage instance rooted at basePath.
func NewLocalStorage(basePath string) (*LocalStorage, error) {
	return NewLocalStorageWithDeps(basePath, &defaultTimeSource{})
}

// NewLocalStorageWithDeps creates a LocalStorage with a custom time source
// for testing deterministic trash names.
func NewLocalStorageWithDeps(basePath string, timeSource TimeSource) (*LocalStorage, error) {
	if err := os.MkdirAll(basePath, 0755); err != nil {
		return nil, fmt.Errorf("creating storage root: %w", err)
	}
	return &LocalStorage{basePath: basePath, timeSource: timeSource}, nil
}

// SaveTemp writes an upload to a random-suffixed temp file so concurrent
// uploads of same-named files never collide.
func (l *LocalStorage) SaveTemp(filename string, data []byte) (string, error) {
	name := fmt.Sprintf("temp_%s_%s", uuid.NewString()[:8], filepath.Base(filename))
	path := filepath.Join(l.basePath, name)
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", fmt.Errorf("writing temp file: %w", err)
	}
	return path, nil
}

// RemoveTemp deletes a temporary file, tolerating it being gone already.
func (l *LocalStorage) RemoveTemp(path string) {
	if path == "" {
		return
	}
	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("Failed to remove temp file", "path", path, "error", err)
	}
}

// CreateDir creates an invoice directory. os.Mkdir is the atomic
// create-if-absent: an existing directory means this invoice (or a same-named
// one) was already processed, even if the record store was cleared since.
func (l *LocalStorage) CreateDir(name string) error {
	err := os.Mkdir(filepath.Join(l.basePath, name), 0755)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return fmt.Errorf("%s: %w", name, ErrFolderCollision)
		}
		return fmt.Errorf("creating invoice directory: %w", err)
	}
	return nil
}

// RemoveDir recursively removes an invoice directory tree.
func (l *LocalStorage) RemoveDir(name string) error {
	if err := os.RemoveAll(filepath.Join(l.basePath, name)); err != nil {
		return fmt.Errorf("removing invoice directory: %w", err)
	}
	return nil
}

// PromoteTemp moves a temp file into an invoice directory.
func (l *LocalStorage) PromoteTemp(tempPath, dir, name string) error {
	if err := os.Rename(tempPath, filepath.Join(l.basePath, dir, name)); err != nil {
		return fmt.Errorf("moving upload into invoice directory: %w", err)
	}
	return nil
}

// WriteNote writes a plain-text metadata file into an invoice directory.
func (l *LocalStorage) WriteNote(dir, name, contents string) error {
	if err := os.WriteFile(filepath.Join(l.basePath, dir, name), []byte(contents), 0644); err != nil {
		return fmt.Errorf("writing note: %w", err)
	}
	return nil
}

// ListFiles returns the non-trashed filenames of an invoice directory.
func (l *LocalStorage) ListFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(l.basePath, dir))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("listing invoice directory: %w", err)
	}
	files := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Name() == trashDirName {
			continue
		}
		files = append(files, e.Name())
	}
	sort.Strings(files)
	return files, nil
}

// ReadFile returns an attachment's bytes.
func (l *LocalStorage) ReadFile(dir, name string) ([]byte, error) {
	data, err := os.ReadFile(filepath.Join(l.basePath, dir, name))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return nil, fmt.Errorf("reading attachment: %w", err)
	}
	return data, nil
}

// Trash moves an attachment into the invoice's hidden trash directory. The
// timestamp prefix keeps trash entries unique and chronologically sortable.
func (l *LocalStorage) Trash(dir, name string) (string, error) {
	if strings.HasPrefix(name, ArtifactPrefix) {
		return "", fmt.Errorf("%s: %w", name, ErrProtectedArtifact)
	}

	target := filepath.Join(l.basePath, dir, name)
	if _, err := os.Stat(target); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%s: %w", name, ErrNotFound)
		}
		return "", fmt.Errorf("checking attachment: %w", err)
	}

	trashDir := filepath.Join(l.basePath, dir, trashDirName)
	if err := os.MkdirAll(trashDir, 0755); err != nil {
		return "", fmt.Errorf("creating trash directory: %w", err)
	}

	trashName := fmt.Sprintf("%d_%s", l.timeSource.Now().Unix(), name)
	if err := os.Rename(target, filepath.Join(trashDir, trashName)); err != nil {
		return "", fmt.Errorf("moving attachment to trash: %w", err)
	}
	return trashName, nil
}

// Restore moves a trash entry back into the invoice directory. An existing
// file under the desired name is never overwritten; the restored file gets a
// timestamp suffix before its extension instead.
func (l *LocalStorage) Restore(dir, trashName, filename string) (string, error) {
	trashPath := filepath.Join(l.basePath, dir, trashDirName, trashName)
	if _, err := os.Stat(trashPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("trash entry %s: %w", trashName, ErrNotFound)
		}
		return "", fmt.Errorf("checking trash entry: %w", err)
	}

	dstPath := filepath.Join(l.basePath, dir, filename)
	if _, err := os.Stat(dstPath); err == nil {
		ext := filepath.Ext(filename)
		base := strings.TrimSuffix(filename, ext)
		filename = fmt.Sprintf("%s_%d%s", base, l.timeSource.Now().Unix(), ext)
		dstPath = filepath.Join(l.basePath, dir, filename)
	}

	if err := os.Rename(trashPath, dstPath); err != nil {
		return "", fmt.Errorf("restoring attachment: %w", err)
	}
	return filename, nil
}

// Clear empties the storage root without removing the root itself.
func (l *LocalStorage) Clear() error {
	entries, err := os.ReadDir(l.basePath)
	if err != nil {
		return fmt.Errorf("listing storage root: %w", err)
	}
	for _, e := range entries {
		if err := os.RemoveAll(filepath.Join(l.basePath, e.Name())); err != nil {
			return fmt.Errorf("clearing storage: %w", err)
		}
	}
	return nil
}
