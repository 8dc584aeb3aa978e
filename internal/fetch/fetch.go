package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog/log"

	"reelsmith/internal/job"
	"reelsmith/internal/telemetry"
)

const (
	DefaultImageExt = ".jpg"
	DefaultAudioExt = ".mp3"
	DefaultVideoExt = ".mp4"

	defaultTimeout             = 60 * time.Second
	filePerm       os.FileMode = 0o640
)

var safeExt = regexp.MustCompile(`^\.[a-z0-9]{1,5}$`)

// DownloadError reports a failed or interrupted remote fetch. A partially
// written destination file may remain on disk.
type DownloadError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *DownloadError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("download %s: http %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("download %s: %v", e.URL, e.Err)
}

func (e *DownloadError) Unwrap() error { return e.Err }

func (e *DownloadError) Code() string { return job.CodeDownloadFailed }

// Fetcher streams remote resources into local files.
type Fetcher struct {
	client  *http.Client
	timeout time.Duration
}

// New returns a fetcher whose every request is bounded by timeout.
func New(timeout time.Duration) *Fetcher {
	return NewWithClient(&http.Client{}, timeout)
}

// NewWithClient allows tests and callers to supply their own transport.
func NewWithClient(client *http.Client, timeout time.Duration) *Fetcher {
	if client == nil {
		client = &http.Client{}
	}
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Fetcher{client: client, timeout: timeout}
}

// Fetch downloads rawURL into dir/baseName<ext>, where ext comes from the URL
// path or falls back to defaultExt, and returns the local path. No retry.
func (f *Fetcher) Fetch(ctx context.Context, rawURL, dir, baseName, defaultExt string) (string, error) {
	trimmed := strings.TrimSpace(rawURL)
	dest := filepath.Join(dir, baseName+ExtensionFor(trimmed, defaultExt))

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, trimmed, nil)
	if err != nil {
		return dest, f.fail(&DownloadError{URL: trimmed, Err: err})
	}
	httpResponse, err := f.client.Do(req)
	if err != nil {
		log.Warn().Str("url", trimmed).Err(err).Msg("http request failed")
		return dest, f.fail(&DownloadError{URL: trimmed, Err: err})
	}
	defer func() { _ = httpResponse.Body.Close() }()

	if httpResponse.StatusCode < 200 || httpResponse.StatusCode >= 300 {
		log.Warn().Str("url", trimmed).Int("status", httpResponse.StatusCode).Msg("unexpected status code")
		return dest, f.fail(&DownloadError{URL: trimmed, StatusCode: httpResponse.StatusCode})
	}

	outputFile, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, filePerm) //nolint:gosec // dest is built from a workspace path and sanitized extension
	if err != nil {
		return dest, f.fail(&DownloadError{URL: trimmed, Err: fmt.Errorf("create file: %w", err)})
	}
	written, copyErr := io.Copy(outputFile, httpResponse.Body)
	closeErr := outputFile.Close()
	telemetry.DownloadedBytes.Add(float64(written))
	if copyErr != nil {
		log.Warn().Str("url", trimmed).Str("written", humanize.Bytes(uint64(written))).Err(copyErr).Msg("download interrupted")
		return dest, f.fail(&DownloadError{URL: trimmed, Err: copyErr})
	}
	if closeErr != nil {
		return dest, f.fail(&DownloadError{URL: trimmed, Err: fmt.Errorf("close file: %w", closeErr)})
	}

	log.Debug().Str("url", trimmed).Str("path", dest).Str("size", humanize.Bytes(uint64(written))).Msg("asset downloaded")
	return dest, nil
}

func (f *Fetcher) fail(err *DownloadError) error {
	telemetry.DownloadFailures.Inc()
	return err
}

// ExtensionFor derives a lowercase file extension from the URL path, ignoring
// the query string. Anything that is not a short alphanumeric extension is
// replaced by defaultExt so remote input never shapes local paths.
func ExtensionFor(rawURL, defaultExt string) string {
	p := rawURL
	if parsed, err := url.Parse(rawURL); err == nil {
		p = parsed.Path
	} else if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	ext := strings.ToLower(path.Ext(p))
	if !safeExt.MatchString(ext) {
		return defaultExt
	}
	return ext
}
