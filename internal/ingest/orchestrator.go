package ingest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"salecollect/server/internal/archive"
	"salecollect/server/internal/dataset"
	"salecollect/server/internal/models"
	"salecollect/server/internal/parsing"
)

const dataFileSuffix = ".DAT"

// Request-level rejection classes. The API layer maps these to HTTP
// statuses; everything else surfaces as an internal error.
var (
	ErrBadRequest          = errors.New("bad request")
	ErrNoDataFound         = errors.New("no data found to parse")
	ErrPayloadTooLarge     = errors.New("file too large")
	ErrInsufficientStorage = errors.New("insufficient disk space")
)

// Options carries per-request ingestion parameters.
type Options struct {
	DatasetID        string
	DeduplicateSales bool
}

// Orchestrator drives one ingestion request end to end: acquire the input,
// expand archives, discover .DAT files, parse them, and assemble the
// dataset. Each request owns its own scratch directory, removed on every
// exit path.
type Orchestrator struct {
	logger      *logrus.Logger
	expander    *archive.Expander
	parser      *parsing.FileParser
	assembler   *dataset.Assembler
	httpClient  *http.Client
	maxBytes    int64
	workers     int
	scratchRoot string
}

func NewOrchestrator(logger *logrus.Logger, maxArchiveSize int64, parseWorkers int) *Orchestrator {
	if parseWorkers < 1 {
		parseWorkers = 1
	}
	return &Orchestrator{
		logger:      logger,
		expander:    archive.NewExpander(logger),
		parser:      parsing.NewFileParser(logger),
		assembler:   dataset.NewAssembler(),
		httpClient:  &http.Client{Timeout: 5 * time.Minute},
		maxBytes:    maxArchiveSize,
		workers:     parseWorkers,
		scratchRoot: os.TempDir(),
	}
}

// IngestDirectory parses all .DAT files in the immediate subdirectories of
// dirPath. This is the trusted local mode: no archive expansion and no
// scratch space involved.
func (o *Orchestrator) IngestDirectory(ctx context.Context, dirPath string, opts Options) (*models.Dataset, error) {
	if dirPath == "" {
		return nil, fmt.Errorf("%w: no path provided", ErrBadRequest)
	}
	info, err := os.Stat(dirPath)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: provided path is not a directory", ErrBadRequest)
	}

	files, err := discoverInSubdirectories(dirPath)
	if err != nil {
		return nil, fmt.Errorf("failed to list directory %s: %w", dirPath, err)
	}
	return o.parseAndAssemble(ctx, files, opts)
}

// IngestUpload writes the uploaded archive stream to scratch space, expands
// it, and parses the result. declaredSize is the size reported by the
// client; the ceiling is also enforced while copying.
func (o *Orchestrator) IngestUpload(ctx context.Context, upload io.Reader, declaredSize int64, opts Options) (*models.Dataset, error) {
	if declaredSize > o.maxBytes {
		return nil, fmt.Errorf("%w: declared size %d exceeds limit %d", ErrPayloadTooLarge, declaredSize, o.maxBytes)
	}

	scratch, cleanup, err := o.newScratchDir()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if err := o.checkDiskSpace(scratch, declaredSize); err != nil {
		return nil, err
	}

	zipPath := filepath.Join(scratch, "input.zip")
	if err := o.writeBounded(zipPath, upload); err != nil {
		return nil, err
	}
	return o.ingestArchive(ctx, zipPath, scratch, opts)
}

// IngestURL downloads the archive at url into scratch space, expands it,
// and parses the result.
func (o *Orchestrator) IngestURL(ctx context.Context, url string, opts Options) (*models.Dataset, error) {
	if url == "" {
		return nil, fmt.Errorf("%w: no url provided", ErrBadRequest)
	}

	scratch, cleanup, err := o.newScratchDir()
	if err != nil {
		return nil, err
	}
	defer cleanup()

	zipPath := filepath.Join(scratch, "input.zip")
	if err := o.downloadArchive(ctx, url, zipPath); err != nil {
		return nil, err
	}
	return o.ingestArchive(ctx, zipPath, scratch, opts)
}

// ingestArchive expands an on-disk archive and parses every .DAT file in
// the expanded tree, wherever it sits.
func (o *Orchestrator) ingestArchive(ctx context.Context, zipPath, scratch string, opts Options) (*models.Dataset, error) {
	extractDir := filepath.Join(scratch, "extracted")
	if err := o.expander.ExtractAll(zipPath, extractDir); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrBadRequest, err)
	}

	files, err := discoverRecursive(extractDir)
	if err != nil {
		return nil, fmt.Errorf("failed to scan extracted tree: %w", err)
	}
	return o.parseAndAssemble(ctx, files, opts)
}

// parseAndAssemble parses the discovered files and wraps the events into a
// dataset. Files arrive sorted by full path; events are concatenated in
// that order regardless of which worker finished first.
func (o *Orchestrator) parseAndAssemble(ctx context.Context, files []string, opts Options) (*models.Dataset, error) {
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no %s files found", ErrNoDataFound, dataFileSuffix)
	}
	o.logger.WithField("files", len(files)).Info("Parsing discovered data files")

	events := o.parseAll(ctx, files)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ds := o.assembler.Assemble(events, dataset.Options{
		DatasetID:        opts.DatasetID,
		DeduplicateSales: opts.DeduplicateSales,
	})
	if ds == nil {
		return nil, fmt.Errorf("%w: files contained no valid sale records", ErrNoDataFound)
	}
	o.logger.WithField("events", len(ds.Events)).Info("Assembled dataset")
	return ds, nil
}

// parseAll runs the file parser across files with a bounded worker pool.
// Results are merged by file index so the final order matches the sorted
// discovery order, not completion order.
func (o *Orchestrator) parseAll(ctx context.Context, files []string) []models.Event {
	results := make([][]models.Event, len(files))
	sem := make(chan struct{}, o.workers)
	var wg sync.WaitGroup

	for i, path := range files {
		if ctx.Err() != nil {
			break
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, path string) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = o.parser.ParseFile(path)
		}(i, path)
	}
	wg.Wait()

	var events []models.Event
	for _, batch := range results {
		events = append(events, batch...)
	}
	return events
}

// newScratchDir creates a unique per-request scratch directory and returns
// a cleanup func that must run on every exit path.
func (o *Orchestrator) newScratchDir() (string, func(), error) {
	scratch, err := os.MkdirTemp(o.scratchRoot, "salecollect-"+uuid.NewString())
	if err != nil {
		return "", nil, fmt.Errorf("failed to create scratch directory: %w", err)
	}
	cleanup := func() {
		if err := os.RemoveAll(scratch); err != nil {
			o.logger.WithError(err).WithField("dir", scratch).Warn("Failed to remove scratch directory")
		}
	}
	return scratch, cleanup, nil
}

// writeBounded streams r into path, failing with ErrPayloadTooLarge once
// more than the configured ceiling has been read.
func (o *Orchestrator) writeBounded(path string, r io.Reader) error {
	out, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer out.Close()

	written, err := io.Copy(out, io.LimitReader(r, o.maxBytes+1))
	if err != nil {
		return fmt.Errorf("failed to write upload to scratch: %w", err)
	}
	if written > o.maxBytes {
		return fmt.Errorf("%w: upload exceeds limit %d", ErrPayloadTooLarge, o.maxBytes)
	}
	return nil
}

func (o *Orchestrator) checkDiskSpace(dir string, need int64) error {
	if need <= 0 {
		need = o.maxBytes
	}
	ok, err := hasEnoughDiskSpace(dir, need)
	if err != nil {
		o.logger.WithError(err).Warn("Could not determine free disk space")
		return nil
	}
	if !ok {
		return fmt.Errorf("%w: need %d bytes free", ErrInsufficientStorage, need)
	}
	return nil
}

// discoverInSubdirectories lists .DAT files in the immediate subdirectories
// of root, sorted by full path. Files sitting directly in root are ignored,
// matching the published layout of the bulk feed (one folder per period).
func discoverInSubdirectories(root string) ([]string, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var files []string
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		sub := filepath.Join(root, entry.Name())
		children, err := os.ReadDir(sub)
		if err != nil {
			continue
		}
		for _, child := range children {
			if !child.IsDir() && strings.HasSuffix(child.Name(), dataFileSuffix) {
				files = append(files, filepath.Join(sub, child.Name()))
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

// discoverRecursive finds .DAT files anywhere under root, sorted by full
// path. Directory listing order is filesystem-dependent; sorting keeps the
// final event order deterministic.
func discoverRecursive(root string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), dataFileSuffix) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}
