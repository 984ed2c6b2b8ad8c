package archive

import (
	"archive/zip"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	// Nesting and size bounds guard against zip-bomb style inputs. The
	// upstream feed nests at most two levels deep in practice.
	DefaultMaxDepth          = 10
	DefaultMaxExtractedBytes = 1 << 30 // 1 GiB per request
	archiveExtension         = ".zip"
)

// Expander recursively unpacks nested zip archives into a flat tree of
// source files, deleting each nested archive after it has been extracted.
type Expander struct {
	logger   *logrus.Logger
	maxDepth int
	maxBytes int64
}

func NewExpander(logger *logrus.Logger) *Expander {
	return &Expander{
		logger:   logger,
		maxDepth: DefaultMaxDepth,
		maxBytes: DefaultMaxExtractedBytes,
	}
}

// ExtractAll extracts the archive at archivePath into destDir, then walks
// the extracted tree expanding any nested archives it finds. A corrupt
// nested archive is logged and skipped; only a failure of the top-level
// archive is an error.
func (e *Expander) ExtractAll(archivePath, destDir string) error {
	budget := e.maxBytes
	if err := e.extractZip(archivePath, destDir, &budget); err != nil {
		return fmt.Errorf("failed to extract %s: %w", archivePath, err)
	}
	e.expandNested(destDir, 1, &budget)
	return nil
}

// expandNested finds nested archives under dir, extracts each into a
// sibling directory named after the archive, removes the archive file, and
// recurses into the freshly extracted tree.
func (e *Expander) expandNested(dir string, depth int, budget *int64) {
	if depth > e.maxDepth {
		e.logger.WithFields(logrus.Fields{
			"dir":   dir,
			"depth": depth,
		}).Warn("Archive nesting limit reached, not expanding further")
		return
	}

	var nested []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.EqualFold(filepath.Ext(path), archiveExtension) {
			nested = append(nested, path)
		}
		return nil
	})
	if err != nil {
		e.logger.WithError(err).WithField("dir", dir).Warn("Failed to scan for nested archives")
		return
	}
	sort.Strings(nested)

	for _, zipPath := range nested {
		target := strings.TrimSuffix(zipPath, filepath.Ext(zipPath))
		if err := e.extractZip(zipPath, target, budget); err != nil {
			e.logger.WithError(err).WithField("archive", zipPath).Warn("Skipping unreadable nested archive")
			continue
		}
		if err := os.Remove(zipPath); err != nil {
			e.logger.WithError(err).WithField("archive", zipPath).Warn("Failed to remove nested archive after extraction")
		}
		e.expandNested(target, depth+1, budget)
	}
}

// extractZip unpacks a single zip file into destDir, creating it if absent.
// Every entry is path-checked against destDir and counted against the
// remaining decompressed-byte budget.
func (e *Expander) extractZip(zipPath, destDir string, budget *int64) error {
	reader, err := zip.OpenReader(zipPath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer reader.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("failed to create destination directory: %w", err)
	}

	for _, file := range reader.File {
		if err := e.extractEntry(file, destDir, budget); err != nil {
			return err
		}
	}
	return nil
}

func (e *Expander) extractEntry(file *zip.File, destDir string, budget *int64) error {
	target := filepath.Join(destDir, filepath.Clean(file.Name))
	if !strings.HasPrefix(target, filepath.Clean(destDir)+string(os.PathSeparator)) {
		return fmt.Errorf("entry %q escapes extraction directory", file.Name)
	}

	if file.FileInfo().IsDir() {
		return os.MkdirAll(target, 0o755)
	}
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return fmt.Errorf("failed to create directory for %s: %w", file.Name, err)
	}

	src, err := file.Open()
	if err != nil {
		return fmt.Errorf("failed to open entry %s: %w", file.Name, err)
	}
	defer src.Close()

	dst, err := os.Create(target)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}
	defer dst.Close()

	written, err := io.Copy(dst, io.LimitReader(src, *budget+1))
	if err != nil {
		return fmt.Errorf("failed to extract %s: %w", file.Name, err)
	}
	*budget -= written
	if *budget < 0 {
		return fmt.Errorf("decompressed size limit exceeded at %s", file.Name)
	}
	return nil
}
