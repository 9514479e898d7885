package assets_test

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"sync"
	"testing"

	"fetcharr/internal/assets"
	"fetcharr/internal/providers"
	"fetcharr/internal/services"
	"fetcharr/internal/testsupport"
)

func newCandidate(assetType, provider, url string, width, height int, score float64) *assets.Candidate {
	return &assets.Candidate{
		EntityType: "movie",
		EntityID:   42,
		AssetType:  assetType,
		Provider:   provider,
		URL:        url,
		Width:      width,
		Height:     height,
		Language:   "en",
		Score:      score,
	}
}

func mustUpsert(t *testing.T, store *assets.Store, c *assets.Candidate) int64 {
	t.Helper()
	id, err := store.UpsertCandidate(context.Background(), c)
	if err != nil {
		t.Fatalf("UpsertCandidate: %v", err)
	}
	return id
}

func TestUpsertCandidatePreservesCurationFlags(t *testing.T) {
	store := testsupport.MustOpenLibrary(t, testsupport.NewConfig(t))
	ctx := context.Background()

	c := newCandidate("poster", "tmdb", "https://img.example/p1.jpg", 1000, 1500, 80)
	id := mustUpsert(t, store, c)

	if _, err := store.Select(ctx, id); err != nil {
		t.Fatalf("Select: %v", err)
	}

	// A re-fetch updates dimensions and score but keeps the selection.
	refreshed := newCandidate("poster", "tmdb", "https://img.example/p1.jpg", 2000, 3000, 85)
	refreshedID := mustUpsert(t, store, refreshed)
	if refreshedID != id {
		t.Fatalf("upsert created a new row: %d != %d", refreshedID, id)
	}

	got, err := store.GetCandidate(ctx, id)
	if err != nil {
		t.Fatalf("GetCandidate: %v", err)
	}
	if !got.IsSelected {
		t.Fatal("re-fetch cleared the selection flag")
	}
	if got.Width != 2000 || got.Score != 85 {
		t.Fatalf("re-fetch did not update fields: %+v", got)
	}
}

func TestSelectIsExclusivePerAssetType(t *testing.T) {
	store := testsupport.MustOpenLibrary(t, testsupport.NewConfig(t))
	ctx := context.Background()

	first := mustUpsert(t, store, newCandidate("poster", "tmdb", "https://img.example/a.jpg", 1000, 1500, 90))
	second := mustUpsert(t, store, newCandidate("poster", "fanart", "https://img.example/b.jpg", 1000, 1500, 75))

	if _, err := store.Select(ctx, first); err != nil {
		t.Fatalf("Select first: %v", err)
	}
	if _, err := store.Select(ctx, second); err != nil {
		t.Fatalf("Select second: %v", err)
	}

	candidates, err := store.ListCandidates(ctx, "movie", 42, "poster")
	if err != nil {
		t.Fatalf("ListCandidates: %v", err)
	}
	selected := 0
	for _, c := range candidates {
		if c.IsSelected {
			selected++
			if c.ID != second {
				t.Fatalf("wrong candidate selected: %d", c.ID)
			}
		}
	}
	if selected != 1 {
		t.Fatalf("%d rows selected, want exactly 1", selected)
	}
}

func TestSelectRejectsBlockedCandidate(t *testing.T) {
	store := testsupport.MustOpenLibrary(t, testsupport.NewConfig(t))
	ctx := context.Background()

	id := mustUpsert(t, store, newCandidate("poster", "tmdb", "https://img.example/a.jpg", 1000, 1500, 90))
	if _, err := store.Block(ctx, id); err != nil {
		t.Fatalf("Block: %v", err)
	}
	if _, err := store.Select(ctx, id); !errors.Is(err, services.ErrValidation) {
		t.Fatalf("selecting a blocked candidate: %v", err)
	}
}

func TestBlockSelectedPromotesNextBest(t *testing.T) {
	store := testsupport.MustOpenLibrary(t, testsupport.NewConfig(t))
	ctx := context.Background()

	best := mustUpsert(t, store, newCandidate("poster", "tmdb", "https://img.example/a.jpg", 2000, 3000, 90))
	middle := mustUpsert(t, store, newCandidate("poster", "fanart", "https://img.example/b.jpg", 1000, 1500, 75))
	mustUpsert(t, store, newCandidate("poster", "local", "https://img.example/c.jpg", 500, 750, 60))

	if _, err := store.Select(ctx, best); err != nil {
		t.Fatalf("Select: %v", err)
	}

	promoted, err := store.Block(ctx, best)
	if err != nil {
		t.Fatalf("Block: %v", err)
	}
	if promoted == nil || promoted.ID != middle {
		t.Fatalf("promoted = %+v, want candidate %d", promoted, middle)
	}

	current, err := store.SelectedCandidate(ctx, "movie", 42, "poster")
	if err != nil {
		t.Fatalf("SelectedCandidate: %v", err)
	}
	if current == nil || current.ID != middle {
		t.Fatalf("selected after block = %+v", current)
	}

	blocked, err := store.GetCandidate(ctx, best)
	if err != nil {
		t.Fatalf("GetCandidate: %v", err)
	}
	if !blocked.IsBlocked || blocked.IsSelected {
		t.Fatalf("blocked row state: %+v", blocked)
	}
}

func TestBlockUnselectedLeavesSelectionAlone(t *testing.T) {
	store := testsupport.MustOpenLibrary(t, testsupport.NewConfig(t))
	ctx := context.Background()

	best := mustUpsert(t, store, newCandidate("poster", "tmdb", "https://img.example/a.jpg", 2000, 3000, 90))
	other := mustUpsert(t, store, newCandidate("poster", "fanart", "https://img.example/b.jpg", 1000, 1500, 75))

	if _, err := store.Select(ctx, best); err != nil {
		t.Fatalf("Select: %v", err)
	}
	promoted, err := store.Block(ctx, other)
	if err != nil {
		t.Fatalf("Block: %v", err)
	}
	if promoted != nil {
		t.Fatalf("blocking an unselected row promoted %+v", promoted)
	}

	current, err := store.SelectedCandidate(ctx, "movie", 42, "poster")
	if err != nil || current == nil || current.ID != best {
		t.Fatalf("selection disturbed: %+v err=%v", current, err)
	}
}

func TestEnsureSelectionPromotesBestUnblocked(t *testing.T) {
	store := testsupport.MustOpenLibrary(t, testsupport.NewConfig(t))
	ctx := context.Background()

	best := mustUpsert(t, store, newCandidate("poster", "tmdb", "https://img.example/a.jpg", 2000, 3000, 90))
	second := mustUpsert(t, store, newCandidate("poster", "fanart", "https://img.example/b.jpg", 1000, 1500, 75))

	if _, err := store.Block(ctx, best); err != nil {
		t.Fatalf("Block: %v", err)
	}

	promoted, err := store.EnsureSelection(ctx, "movie", 42, "poster")
	if err != nil {
		t.Fatalf("EnsureSelection: %v", err)
	}
	if promoted == nil || promoted.ID != second {
		t.Fatalf("promoted = %+v, want %d", promoted, second)
	}

	// A second call is a no-op while a selection exists.
	again, err := store.EnsureSelection(ctx, "movie", 42, "poster")
	if err != nil {
		t.Fatalf("EnsureSelection again: %v", err)
	}
	if again != nil {
		t.Fatalf("EnsureSelection changed an existing selection: %+v", again)
	}
}

func TestStoreBytesDeduplicatesContent(t *testing.T) {
	store := testsupport.MustOpenLibrary(t, testsupport.NewConfig(t))
	ctx := context.Background()

	data := []byte("identical poster bytes")
	first, err := store.StoreBytes(ctx, data, "image/jpeg")
	if err != nil {
		t.Fatalf("StoreBytes: %v", err)
	}
	if first.ReferenceCount != 1 {
		t.Fatalf("reference_count = %d, want 1", first.ReferenceCount)
	}

	second, err := store.StoreBytes(ctx, data, "image/jpeg")
	if err != nil {
		t.Fatalf("StoreBytes duplicate: %v", err)
	}
	if second.ContentHash != first.ContentHash {
		t.Fatal("identical content produced different hashes")
	}
	if second.ReferenceCount != 2 {
		t.Fatalf("reference_count = %d, want 2", second.ReferenceCount)
	}
	if second.FilePath != first.FilePath {
		t.Fatal("duplicate store wrote a second file")
	}

	count, _, err := store.CacheStats(ctx)
	if err != nil {
		t.Fatalf("CacheStats: %v", err)
	}
	if count != 1 {
		t.Fatalf("cache rows = %d, want 1", count)
	}

	stored, err := os.ReadFile(first.FilePath)
	if err != nil {
		t.Fatalf("read cache file: %v", err)
	}
	if string(stored) != string(data) {
		t.Fatal("cache file content mismatch")
	}
}

func TestReleaseRemovesAtZeroReferences(t *testing.T) {
	store := testsupport.MustOpenLibrary(t, testsupport.NewConfig(t))
	ctx := context.Background()

	data := []byte("short-lived artwork")
	asset, err := store.StoreBytes(ctx, data, "image/png")
	if err != nil {
		t.Fatalf("StoreBytes: %v", err)
	}
	if _, err := store.StoreBytes(ctx, data, "image/png"); err != nil {
		t.Fatalf("StoreBytes duplicate: %v", err)
	}

	if err := store.Release(ctx, asset.ContentHash); err != nil {
		t.Fatalf("Release: %v", err)
	}
	remaining, err := store.GetCacheAsset(ctx, asset.ContentHash)
	if err != nil {
		t.Fatalf("GetCacheAsset: %v", err)
	}
	if remaining == nil || remaining.ReferenceCount != 1 {
		t.Fatalf("after first release: %+v", remaining)
	}

	if err := store.Release(ctx, asset.ContentHash); err != nil {
		t.Fatalf("final Release: %v", err)
	}
	remaining, err = store.GetCacheAsset(ctx, asset.ContentHash)
	if err != nil {
		t.Fatalf("GetCacheAsset: %v", err)
	}
	if remaining != nil {
		t.Fatalf("row survived final release: %+v", remaining)
	}
	if _, err := os.Stat(asset.FilePath); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("cache file survived final release: %v", err)
	}
}

func TestAverageHashSeparatesDistinctImages(t *testing.T) {
	gradient := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			gradient.SetGray(x, y, color.Gray{Y: uint8(x * 4)})
		}
	}
	inverse := image.NewGray(image.Rect(0, 0, 64, 64))
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			inverse.SetGray(x, y, color.Gray{Y: uint8(255 - x*4)})
		}
	}

	a := assets.AverageHash(gradient)
	b := assets.AverageHash(inverse)
	if assets.HashDistance(a, a) != 0 {
		t.Fatal("identical image should have distance 0")
	}
	if d := assets.HashDistance(a, b); d < 16 {
		t.Fatalf("distinct images only %d bits apart", d)
	}

	// A resized copy of the same image stays close.
	small := image.NewGray(image.Rect(0, 0, 32, 32))
	for y := 0; y < 32; y++ {
		for x := 0; x < 32; x++ {
			small.SetGray(x, y, color.Gray{Y: uint8(x * 8)})
		}
	}
	if d := assets.HashDistance(a, assets.AverageHash(small)); d > 8 {
		t.Fatalf("resized copy %d bits apart, want <= 8", d)
	}
}

func TestRefreshLogRoundTrip(t *testing.T) {
	store := testsupport.MustOpenLibrary(t, testsupport.NewConfig(t))
	ctx := context.Background()

	last, err := store.LastChecked(ctx, "movie", 42)
	if err != nil {
		t.Fatalf("LastChecked: %v", err)
	}
	if !last.IsZero() {
		t.Fatalf("LastChecked before any touch = %v", last)
	}

	if err := store.TouchRefresh(ctx, "movie", 42, "tmdb", false); err != nil {
		t.Fatalf("TouchRefresh: %v", err)
	}
	if err := store.TouchRefresh(ctx, "movie", 42, "fanart", true); err != nil {
		t.Fatalf("TouchRefresh: %v", err)
	}

	last, err = store.LastChecked(ctx, "movie", 42)
	if err != nil {
		t.Fatalf("LastChecked: %v", err)
	}
	if last.IsZero() {
		t.Fatal("LastChecked still zero after touches")
	}

	flagged, err := store.EntitiesNeedingRefresh(ctx, 10)
	if err != nil {
		t.Fatalf("EntitiesNeedingRefresh: %v", err)
	}
	if len(flagged) != 1 || flagged[0].Provider != "fanart" {
		t.Fatalf("flagged = %+v", flagged)
	}
}

func TestProviderConfigRoundTrip(t *testing.T) {
	store := testsupport.MustOpenLibrary(t, testsupport.NewConfig(t))
	ctx := context.Background()

	missing, err := store.GetProviderConfig(ctx, "tmdb")
	if err != nil {
		t.Fatalf("GetProviderConfig: %v", err)
	}
	if missing != nil {
		t.Fatalf("unexpected config: %+v", missing)
	}

	cfg := &providers.ProviderConfig{
		Name:              "tmdb",
		Enabled:           true,
		APIKey:            "secret",
		EnabledAssetTypes: []providers.AssetType{providers.AssetPoster, providers.AssetBackdrop},
	}
	if err := store.SaveProviderConfig(ctx, cfg); err != nil {
		t.Fatalf("SaveProviderConfig: %v", err)
	}

	loaded, err := store.GetProviderConfig(ctx, "tmdb")
	if err != nil {
		t.Fatalf("GetProviderConfig: %v", err)
	}
	if loaded == nil || !loaded.Enabled || loaded.APIKey != "secret" {
		t.Fatalf("loaded = %+v", loaded)
	}
	if len(loaded.EnabledAssetTypes) != 2 {
		t.Fatalf("asset types = %v", loaded.EnabledAssetTypes)
	}

	if err := store.RecordProviderTest(ctx, "tmdb", "ok"); err != nil {
		t.Fatalf("RecordProviderTest: %v", err)
	}
	loaded, err = store.GetProviderConfig(ctx, "tmdb")
	if err != nil || loaded == nil {
		t.Fatalf("GetProviderConfig after test: %+v err=%v", loaded, err)
	}
	if loaded.LastTestStatus != "ok" {
		t.Fatalf("LastTestStatus = %q", loaded.LastTestStatus)
	}
}

func TestConcurrentWritersShareTheDatabase(t *testing.T) {
	store := testsupport.MustOpenLibrary(t, testsupport.NewConfig(t))
	ctx := context.Background()

	const writers = 8
	var wg sync.WaitGroup
	start := make(chan struct{})
	errs := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			<-start
			c := newCandidate("poster", "tmdb", fmt.Sprintf("https://img.example/%d.jpg", n), 1000, 1500, float64(n))
			if _, err := store.UpsertCandidate(ctx, c); err != nil {
				errs <- err
			}
		}(i)
	}
	close(start)
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("concurrent upsert: %v", err)
	}

	candidates, err := store.ListCandidates(ctx, "movie", 42, "poster")
	if err != nil {
		t.Fatalf("ListCandidates: %v", err)
	}
	if len(candidates) != writers {
		t.Fatalf("stored %d candidates, want %d", len(candidates), writers)
	}
}

func TestUpsertReleasesReplacedContent(t *testing.T) {
	store := testsupport.MustOpenLibrary(t, testsupport.NewConfig(t))
	ctx := context.Background()

	first, err := store.StoreBytes(ctx, []byte("first poster bytes"), "image/png")
	if err != nil {
		t.Fatalf("StoreBytes: %v", err)
	}
	c := newCandidate("poster", "tmdb", "https://img.example/p.jpg", 1000, 1500, 80)
	c.ContentHash = first.ContentHash
	id := mustUpsert(t, store, c)

	second, err := store.StoreBytes(ctx, []byte("second poster bytes"), "image/png")
	if err != nil {
		t.Fatalf("StoreBytes: %v", err)
	}
	refetch := newCandidate("poster", "tmdb", "https://img.example/p.jpg", 1200, 1800, 85)
	refetch.ContentHash = second.ContentHash
	if got := mustUpsert(t, store, refetch); got != id {
		t.Fatalf("upsert created a new row: %d != %d", got, id)
	}

	// The old content lost its only reference.
	if asset, err := store.GetCacheAsset(ctx, first.ContentHash); err != nil || asset != nil {
		t.Fatalf("replaced content still cached: %+v err=%v", asset, err)
	}
	if _, err := os.Stat(first.FilePath); !errors.Is(err, os.ErrNotExist) {
		t.Fatal("replaced cache file survived")
	}

	kept, err := store.GetCacheAsset(ctx, second.ContentHash)
	if err != nil {
		t.Fatalf("GetCacheAsset: %v", err)
	}
	if kept == nil || kept.ReferenceCount != 1 {
		t.Fatalf("kept asset = %+v", kept)
	}

	// A re-fetch with unchanged content keeps its reference.
	same := newCandidate("poster", "tmdb", "https://img.example/p.jpg", 1200, 1800, 86)
	same.ContentHash = second.ContentHash
	mustUpsert(t, store, same)
	kept, err = store.GetCacheAsset(ctx, second.ContentHash)
	if err != nil || kept == nil || kept.ReferenceCount != 1 {
		t.Fatalf("unchanged re-fetch altered cache: %+v err=%v", kept, err)
	}
}

func TestNearDuplicatesFindsCloseHashes(t *testing.T) {
	store := testsupport.MustOpenLibrary(t, testsupport.NewConfig(t))
	ctx := context.Background()

	base := newCandidate("poster", "tmdb", "https://img.example/a.jpg", 1000, 1500, 90)
	base.PerceptualHash = 0xF0F0F0F0F0F0F0F0
	mustUpsert(t, store, base)

	far := newCandidate("poster", "fanart", "https://img.example/b.jpg", 1000, 1500, 75)
	far.PerceptualHash = 0x0F0F0F0F0F0F0F0F
	mustUpsert(t, store, far)

	matches, err := store.NearDuplicates(ctx, "movie", 42, "poster", 0xF0F0F0F0F0F0F0F1, 4)
	if err != nil {
		t.Fatalf("NearDuplicates: %v", err)
	}
	if len(matches) != 1 || matches[0].URL != base.URL {
		t.Fatalf("matches = %+v", matches)
	}
}
