package ingest

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
)

// downloadArchive streams the archive at url to destPath. A declared
// Content-Length above the ceiling is rejected before the body is read;
// when the length is not declared the copy aborts once the ceiling is
// crossed mid-stream.
func (o *Orchestrator) downloadArchive(ctx context.Context, url, destPath string) error {
	o.logger.WithField("url", url).Info("Downloading archive")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("%w: invalid url: %s", ErrBadRequest, err)
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to download %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: download returned status %d", ErrBadRequest, resp.StatusCode)
	}
	if resp.ContentLength > o.maxBytes {
		return fmt.Errorf("%w: declared size %d exceeds limit %d", ErrPayloadTooLarge, resp.ContentLength, o.maxBytes)
	}
	if err := o.checkDiskSpace(filepath.Dir(destPath), resp.ContentLength); err != nil {
		return err
	}

	if err := o.writeBounded(destPath, resp.Body); err != nil {
		// Drop the partial file so the ceiling rejection leaves nothing behind.
		os.Remove(destPath)
		return err
	}

	if info, err := os.Stat(destPath); err == nil {
		o.logger.WithField("bytes", info.Size()).Info("Archive downloaded")
	}
	return nil
}
