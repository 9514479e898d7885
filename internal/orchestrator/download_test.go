package orchestrator

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"fetcharr/internal/services"
)

func TestFetchImageFromFileURL(t *testing.T) {
	dir := t.TempDir()
	url := writePNG(t, dir, "poster.png", 24, 36)
	d := NewDownloader(t.TempDir(), time.Second, nil)

	download, err := d.FetchImage(context.Background(), url)
	if err != nil {
		t.Fatalf("FetchImage: %v", err)
	}
	if download.Width != 24 || download.Height != 36 {
		t.Fatalf("dimensions %dx%d", download.Width, download.Height)
	}
	if download.ContentHash == "" {
		t.Fatal("missing content hash")
	}
	if download.MimeType != "image/png" {
		t.Fatalf("mime = %s", download.MimeType)
	}
}

func TestFetchImageMissingFile(t *testing.T) {
	d := NewDownloader(t.TempDir(), time.Second, nil)
	_, err := d.FetchImage(context.Background(), "file:///nope/missing.png")
	if !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("expected not-found, got %v", err)
	}
}

func TestFetchImageOverHTTP(t *testing.T) {
	dir := t.TempDir()
	url := writePNG(t, dir, "poster.png", 16, 24)
	data, err := os.ReadFile(strings.TrimPrefix(url, "file://"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/poster.png":
			w.Header().Set("Content-Type", "image/png")
			_, _ = w.Write(data)
		case "/missing.png":
			http.NotFound(w, r)
		case "/limited.png":
			w.WriteHeader(http.StatusTooManyRequests)
		case "/private.png":
			w.WriteHeader(http.StatusForbidden)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	d := NewDownloader(t.TempDir(), 2*time.Second, nil)
	ctx := context.Background()

	download, err := d.FetchImage(ctx, server.URL+"/poster.png")
	if err != nil {
		t.Fatalf("FetchImage: %v", err)
	}
	if download.Width != 16 || download.Height != 24 {
		t.Fatalf("dimensions %dx%d", download.Width, download.Height)
	}

	if _, err := d.FetchImage(ctx, server.URL+"/missing.png"); !errors.Is(err, services.ErrNotFound) {
		t.Fatalf("404: %v", err)
	}
	if _, err := d.FetchImage(ctx, server.URL+"/limited.png"); !errors.Is(err, services.ErrRateLimited) {
		t.Fatalf("429: %v", err)
	}
	if _, err := d.FetchImage(ctx, server.URL+"/private.png"); !errors.Is(err, services.ErrAuth) {
		t.Fatalf("403: %v", err)
	}
	if _, err := d.FetchImage(ctx, server.URL+"/boom.png"); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("500: %v", err)
	}
}

func TestFetchImageRejectsNonImage(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "notes.txt")
	if err := os.WriteFile(path, []byte("plain text"), 0o644); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	d := NewDownloader(t.TempDir(), time.Second, nil)
	_, err := d.FetchImage(context.Background(), "file://"+path)
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestFetchImageLeavesNoTempFiles(t *testing.T) {
	dir := t.TempDir()
	url := writePNG(t, dir, "poster.png", 16, 24)
	data, err := os.ReadFile(strings.TrimPrefix(url, "file://"))
	if err != nil {
		t.Fatalf("read fixture: %v", err)
	}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(data)
	}))
	defer server.Close()

	tempDir := t.TempDir()
	d := NewDownloader(tempDir, 2*time.Second, nil)
	if _, err := d.FetchImage(context.Background(), server.URL+"/poster.png"); err != nil {
		t.Fatalf("FetchImage: %v", err)
	}

	leftovers, err := filepath.Glob(filepath.Join(tempDir, tempPattern))
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(leftovers) != 0 {
		t.Fatalf("temp files left behind: %v", leftovers)
	}
}

func TestSweepTempRemovesOnlyStaleFiles(t *testing.T) {
	tempDir := t.TempDir()
	d := NewDownloader(tempDir, time.Second, nil)

	stale := filepath.Join(tempDir, "fetcharr-dl-stale")
	fresh := filepath.Join(tempDir, "fetcharr-dl-fresh")
	unrelated := filepath.Join(tempDir, "keep.txt")
	for _, path := range []string{stale, fresh, unrelated} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatalf("write %s: %v", path, err)
		}
	}
	old := time.Now().Add(-2 * time.Hour)
	if err := os.Chtimes(stale, old, old); err != nil {
		t.Fatalf("chtimes: %v", err)
	}

	removed := d.SweepTemp(time.Hour)
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, err := os.Stat(stale); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("stale file survived")
	}
	if _, err := os.Stat(fresh); err != nil {
		t.Fatal("fresh file removed")
	}
	if _, err := os.Stat(unrelated); err != nil {
		t.Fatal("unrelated file removed")
	}
}
