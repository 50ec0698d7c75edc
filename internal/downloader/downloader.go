// Package downloader streams resolved media URLs to local files.
package downloader

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"igfetch/pkg/errors"
	"igfetch/pkg/instagram"
	"igfetch/pkg/logger"
	"igfetch/pkg/media"
	"igfetch/pkg/metrics"
	"igfetch/pkg/retry"
)

// Fetcher downloads extracted media refs into a local directory.
type Fetcher struct {
	client  *instagram.Client
	metrics *metrics.Collector
	logger  logger.Logger
	retrier *retry.HTTPRetrier
}

// NewFetcher creates a fetcher on top of client.
func NewFetcher(client *instagram.Client, collector *metrics.Collector, log logger.Logger) *Fetcher {
	if log == nil {
		log = logger.GetLogger()
	}
	return &Fetcher{client: client, metrics: collector, logger: log}
}

// WithRetrier makes transient failures on a single item retry before
// the item is declared failed.
func (f *Fetcher) WithRetrier(r *retry.HTTPRetrier) *Fetcher {
	f.retrier = r
	return f
}

// Fetch downloads the refs in order into outputDir, naming files
// instagram_{shortcode}_{n}.{ext}. The first failing item aborts the
// remaining list; files already written for earlier items are left in
// place, only the failing item's partial file is removed.
func (f *Fetcher) Fetch(ctx context.Context, shortcode string, refs []media.Ref, outputDir string) ([]media.Item, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, errors.Wrap(errors.ErrorTypeDownloadFailed, "creating output directory", err)
	}

	var items []media.Item
	for i, ref := range refs {
		path := filepath.Join(outputDir, fmt.Sprintf("instagram_%s_%d.%s", shortcode, i+1, extensionFor(ref)))

		if err := f.fetchWithRetry(ctx, ref, path); err != nil {
			f.recordOutcome("failure")
			return items, errors.Wrap(errors.ErrorTypeDownloadFailed,
				fmt.Sprintf("downloading media item %d of %d", i+1, len(refs)), err)
		}
		f.recordOutcome("success")

		items = append(items, media.Item{
			Path:     path,
			Type:     ref.Type,
			Duration: ref.Duration,
		})
	}

	return items, nil
}

func (f *Fetcher) fetchWithRetry(ctx context.Context, ref media.Ref, path string) error {
	if f.retrier == nil {
		return f.fetchOne(ctx, ref, path)
	}
	return f.retrier.DoWithErrorType(func() error {
		return f.fetchOne(ctx, ref, path)
	})
}

func (f *Fetcher) fetchOne(ctx context.Context, ref media.Ref, path string) error {
	body, contentType, err := f.client.Download(ctx, ref.URL)
	if err != nil {
		return err
	}
	defer body.Close()

	// The CDN is not always accurate about content types, so a
	// mismatch is only worth a warning.
	f.checkContentType(ref, contentType)

	file, err := os.Create(path)
	if err != nil {
		return err
	}

	written, copyErr := io.Copy(file, body)
	closeErr := file.Close()

	if copyErr != nil {
		os.Remove(path)
		return copyErr
	}
	if closeErr != nil {
		os.Remove(path)
		return closeErr
	}
	if written == 0 {
		os.Remove(path)
		return errors.New(errors.ErrorTypeEmptyMedia, "downloaded zero bytes")
	}

	f.logger.DebugWithFields("media item downloaded", map[string]interface{}{
		"path":  path,
		"bytes": written,
		"type":  string(ref.Type),
	})
	return nil
}

func (f *Fetcher) checkContentType(ref media.Ref, contentType string) {
	ct := strings.ToLower(contentType)
	if ct == "" {
		return
	}
	mismatch := (ref.Type == media.TypeVideo && !strings.Contains(ct, "video")) ||
		(ref.Type == media.TypePhoto && !strings.Contains(ct, "image"))
	if mismatch {
		f.logger.WarnWithFields("content type does not match expected media type", map[string]interface{}{
			"expected":     string(ref.Type),
			"content_type": contentType,
		})
	}
}

func (f *Fetcher) recordOutcome(outcome string) {
	if f.metrics != nil {
		f.metrics.RecordDownload(outcome)
	}
}

// extensionFor guesses the local file extension for a ref. Videos are
// always mp4; photos keep a recognized extension from the URL path and
// default to jpg.
func extensionFor(ref media.Ref) string {
	if ref.Type == media.TypeVideo {
		return "mp4"
	}

	if parsed, err := url.Parse(ref.URL); err == nil {
		path := strings.ToLower(parsed.Path)
		switch {
		case strings.HasSuffix(path, ".png"):
			return "png"
		case strings.HasSuffix(path, ".webp"):
			return "webp"
		}
	}
	return "jpg"
}
