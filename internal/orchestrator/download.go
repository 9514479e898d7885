package orchestrator

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"fetcharr/internal/assets"
	"fetcharr/internal/logging"
	"fetcharr/internal/services"
)

// maxDownloadBytes caps a single asset download. Artwork beyond this is
// rejected rather than buffered.
const maxDownloadBytes = 32 << 20

const tempPattern = "fetcharr-dl-*"

// Download is a fetched and analyzed asset, ready for the candidate store.
type Download struct {
	Data           []byte
	MimeType       string
	Width          int
	Height         int
	ContentHash    string
	PerceptualHash uint64
}

// Downloader fetches asset bytes over HTTP or from local file URLs, spilling
// through a temp file so partial downloads never linger in memory or on disk.
type Downloader struct {
	client  *http.Client
	tempDir string
	timeout time.Duration
	logger  *slog.Logger
}

// NewDownloader builds a downloader writing temp files under tempDir.
func NewDownloader(tempDir string, timeout time.Duration, logger *slog.Logger) *Downloader {
	if timeout <= 0 {
		timeout = 8 * time.Second
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Downloader{
		client:  &http.Client{Timeout: timeout},
		tempDir: tempDir,
		timeout: timeout,
		logger:  logger.With(logging.String(logging.FieldComponent, "downloader")),
	}
}

// FetchImage downloads one asset, verifies it decodes as an image, and
// computes its dimensions, content hash, and perceptual hash. The temp file
// is removed on every path out.
func (d *Downloader) FetchImage(ctx context.Context, url string) (*Download, error) {
	data, err := d.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "", "analyze", fmt.Sprintf("decode image from %s", url), err)
	}

	// Full decode only for the perceptual hash; a corrupt body that decodes
	// its header but not its pixels is still excluded here.
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "", "analyze", fmt.Sprintf("decode image body from %s", url), err)
	}

	return &Download{
		Data:           data,
		MimeType:       http.DetectContentType(data),
		Width:          cfg.Width,
		Height:         cfg.Height,
		ContentHash:    assets.HashBytes(data),
		PerceptualHash: assets.AverageHash(img),
	}, nil
}

func (d *Downloader) fetch(ctx context.Context, url string) ([]byte, error) {
	if path, ok := strings.CutPrefix(url, "file://"); ok {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, services.Wrap(services.ErrNotFound, "", "download", path, err)
			}
			return nil, services.Wrap(services.ErrTransient, "", "download", path, err)
		}
		if len(data) > maxDownloadBytes {
			return nil, services.Wrap(services.ErrValidation, "", "download", fmt.Sprintf("%s exceeds size limit", path), nil)
		}
		return data, nil
	}

	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, services.Wrap(services.ErrValidation, "", "download", url, err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "", "download", url, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, services.Wrap(services.ErrNotFound, "", "download", url, nil)
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, services.Wrap(services.ErrRateLimited, "", "download", url, nil)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, services.Wrap(services.ErrAuth, "", "download", url, nil)
	case resp.StatusCode != http.StatusOK:
		return nil, services.Wrap(services.ErrTransient, "", "download", fmt.Sprintf("%s returned %d", url, resp.StatusCode), nil)
	}

	tmp, err := os.CreateTemp(d.tempDir, tempPattern)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "", "download", "create temp file", err)
	}
	tmpPath := tmp.Name()
	defer func() {
		_ = tmp.Close()
		_ = os.Remove(tmpPath)
	}()

	written, err := io.Copy(tmp, io.LimitReader(resp.Body, maxDownloadBytes+1))
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "", "download", url, err)
	}
	if written > maxDownloadBytes {
		return nil, services.Wrap(services.ErrValidation, "", "download", fmt.Sprintf("%s exceeds size limit", url), nil)
	}

	if _, err := tmp.Seek(0, io.SeekStart); err != nil {
		return nil, services.Wrap(services.ErrTransient, "", "download", "rewind temp file", err)
	}
	data, err := io.ReadAll(tmp)
	if err != nil {
		return nil, services.Wrap(services.ErrTransient, "", "download", "read temp file", err)
	}
	return data, nil
}

// SweepTemp removes leftover download temp files older than maxAge. Run
// periodically so a crash mid-download never leaks disk space for good.
func (d *Downloader) SweepTemp(maxAge time.Duration) int {
	matches, err := filepath.Glob(filepath.Join(d.tempDir, tempPattern))
	if err != nil {
		return 0
	}
	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err == nil {
				removed++
			}
		}
	}
	if removed > 0 {
		d.logger.Debug("swept stale temp files", logging.Int("removed", removed))
	}
	return removed
}
