package local

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"fetcharr/internal/providers"
	"fetcharr/internal/services"
)

func newProvider(t *testing.T, dir string) providers.Provider {
	t.Helper()
	p, err := NewConstructor(dir)(providers.ProviderConfig{})
	if err != nil {
		t.Fatalf("construct: %v", err)
	}
	return p
}

func writeSidecar(t *testing.T, dir string, parts ...string) string {
	t.Helper()
	path := filepath.Join(append([]string{dir}, parts...)...)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte("image bytes"), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}

func TestConstructorRequiresDirectory(t *testing.T) {
	_, err := NewConstructor("")(providers.ProviderConfig{})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestGetAssetsFindsSidecarFiles(t *testing.T) {
	dir := t.TempDir()
	poster := writeSidecar(t, dir, "movie", "42", "poster.jpg")
	writeSidecar(t, dir, "movie", "42", "backdrop.png")

	p := newProvider(t, dir)
	refs, err := p.GetAssets(context.Background(), providers.AssetRequest{
		EntityType:  providers.EntityMovie,
		ExternalIDs: map[string]string{Name: "42"},
		AssetTypes:  []providers.AssetType{providers.AssetPoster, providers.AssetBackdrop, providers.AssetLogo},
	})
	if err != nil {
		t.Fatalf("GetAssets: %v", err)
	}
	if len(refs) != 2 {
		t.Fatalf("refs = %+v", refs)
	}
	if refs[0].AssetType != providers.AssetPoster || refs[0].URL != "file://"+poster {
		t.Fatalf("poster ref = %+v", refs[0])
	}
	for _, ref := range refs {
		if ref.Provider != Name {
			t.Fatalf("provider = %s", ref.Provider)
		}
		if !strings.HasPrefix(ref.URL, "file://") {
			t.Fatalf("url = %s", ref.URL)
		}
	}
}

func TestGetAssetsWithoutSidecarsIsEmpty(t *testing.T) {
	p := newProvider(t, t.TempDir())
	refs, err := p.GetAssets(context.Background(), providers.AssetRequest{
		EntityType:  providers.EntityMovie,
		ExternalIDs: map[string]string{Name: "42"},
		AssetTypes:  []providers.AssetType{providers.AssetPoster},
	})
	if err != nil {
		t.Fatalf("GetAssets: %v", err)
	}
	if len(refs) != 0 {
		t.Fatalf("refs = %+v", refs)
	}
}

func TestGetAssetsRejectsBadEntityID(t *testing.T) {
	p := newProvider(t, t.TempDir())
	ctx := context.Background()

	_, err := p.GetAssets(ctx, providers.AssetRequest{
		EntityType: providers.EntityMovie,
		AssetTypes: []providers.AssetType{providers.AssetPoster},
	})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("missing id: %v", err)
	}

	_, err = p.GetAssets(ctx, providers.AssetRequest{
		EntityType:  providers.EntityMovie,
		ExternalIDs: map[string]string{Name: "../../etc"},
		AssetTypes:  []providers.AssetType{providers.AssetPoster},
	})
	if !errors.Is(err, services.ErrValidation) {
		t.Fatalf("non-numeric id: %v", err)
	}
}

func TestUnsupportedOperations(t *testing.T) {
	p := newProvider(t, t.TempDir())
	ctx := context.Background()

	if _, err := p.GetMetadata(ctx, providers.MetadataRequest{}); !errors.Is(err, services.ErrNotSupported) {
		t.Fatalf("GetMetadata: %v", err)
	}
	if _, err := p.Search(ctx, providers.SearchRequest{}); !errors.Is(err, services.ErrNotSupported) {
		t.Fatalf("Search: %v", err)
	}
}

func TestTestConnection(t *testing.T) {
	dir := t.TempDir()
	if err := newProvider(t, dir).TestConnection(context.Background()); err != nil {
		t.Fatalf("TestConnection: %v", err)
	}

	missing := newProvider(t, filepath.Join(dir, "nope"))
	if err := missing.TestConnection(context.Background()); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("missing dir: %v", err)
	}

	file := writeSidecar(t, dir, "plain.jpg")
	notDir := newProvider(t, file)
	if err := notDir.TestConnection(context.Background()); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("not a directory: %v", err)
	}
}
