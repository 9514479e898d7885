package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"fetcharr/internal/assets"
	"fetcharr/internal/config"
	"fetcharr/internal/decision"
	"fetcharr/internal/logging"
	"fetcharr/internal/providers"
	"fetcharr/internal/ratelimit"
	"fetcharr/internal/services"
)

// Request describes one enrichment run for a single entity.
type Request struct {
	EntityType  providers.EntityType
	EntityID    int64
	ExternalIDs map[string]string
	Fields      []providers.MetadataField
	AssetTypes  []providers.AssetType
	Class       ratelimit.Class
}

// Result summarizes what an enrichment run produced.
type Result struct {
	Metadata   map[providers.MetadataField]string
	Sources    map[providers.MetadataField]string
	Candidates int
	Selected   map[providers.AssetType]*assets.Candidate
}

var defaultFields = []providers.MetadataField{
	providers.FieldTitle,
	providers.FieldOverview,
	providers.FieldYear,
	providers.FieldGenres,
	providers.FieldRating,
	providers.FieldRuntime,
	providers.FieldStudio,
}

var defaultAssetTypes = []providers.AssetType{
	providers.AssetPoster,
	providers.AssetBackdrop,
	providers.AssetBanner,
	providers.AssetLogo,
	providers.AssetThumb,
}

// Orchestrator coordinates metadata waterfalls and concurrent asset fetches
// across the provider registry. Provider failures are isolated here: a broken
// provider costs its own results, never the run.
type Orchestrator struct {
	registry   *providers.Registry
	store      *assets.Store
	scorer     *Scorer
	downloader *Downloader
	cfg        config.Fetch
	logger     *slog.Logger
}

// New builds an orchestrator over the given registry and candidate store.
func New(registry *providers.Registry, store *assets.Store, scorer *Scorer, downloader *Downloader, cfg config.Fetch, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Orchestrator{
		registry:   registry,
		store:      store,
		scorer:     scorer,
		downloader: downloader,
		cfg:        cfg,
		logger:     logger.With(logging.String(logging.FieldComponent, "orchestrator")),
	}
}

// Enrich runs the full pipeline for one entity: metadata waterfall, asset
// fan-out, candidate scoring and storage, and selection. The refresh log is
// stamped for every provider that answered.
func (o *Orchestrator) Enrich(ctx context.Context, req Request) (*Result, error) {
	if len(req.Fields) == 0 {
		req.Fields = defaultFields
	}
	if len(req.AssetTypes) == 0 {
		req.AssetTypes = defaultAssetTypes
	}
	if req.Class == "" {
		req.Class = ratelimit.ClassBackground
	}

	result := &Result{
		Metadata: make(map[providers.MetadataField]string),
		Sources:  make(map[providers.MetadataField]string),
		Selected: make(map[providers.AssetType]*assets.Candidate),
	}

	consulted := make(map[string]bool)
	o.fetchMetadata(ctx, req, result, consulted)

	if err := o.fetchAssets(ctx, req, result, consulted); err != nil {
		return result, err
	}

	for name := range consulted {
		if err := o.store.TouchRefresh(ctx, string(req.EntityType), req.EntityID, name, false); err != nil {
			o.logger.Warn("refresh log update failed",
				logging.String(logging.FieldProvider, name),
				logging.Error(err))
		}
	}

	return result, nil
}

// fetchMetadata resolves each requested field through a strict waterfall:
// providers are tried in priority order and the first non-empty value wins.
// One metadata call per provider is shared across all fields.
func (o *Orchestrator) fetchMetadata(ctx context.Context, req Request, result *Result, consulted map[string]bool) {
	type fetch struct {
		meta *providers.Metadata
		err  error
	}
	memo := make(map[string]*fetch)

	metaReq := providers.MetadataRequest{
		EntityType:  req.EntityType,
		ExternalIDs: req.ExternalIDs,
		Fields:      req.Fields,
	}

	for _, field := range req.Fields {
		for _, name := range o.providerOrderFor(field) {
			client, err := o.registry.Client(ctx, name)
			if err != nil {
				continue
			}
			caps := client.Capabilities()
			if !caps.SupportsEntity(req.EntityType) || !caps.SupportsField(field) {
				continue
			}
			if client.IsOpen() {
				o.logger.Debug("skipping provider with open circuit",
					logging.String(logging.FieldProvider, name))
				continue
			}

			f, ok := memo[name]
			if !ok {
				meta, err := client.GetMetadata(ctx, req.Class, metaReq)
				f = &fetch{meta: meta, err: err}
				memo[name] = f
				if err == nil {
					consulted[name] = true
				} else if !errors.Is(err, services.ErrNotSupported) {
					o.logger.Warn("metadata fetch failed",
						logging.String(logging.FieldProvider, name),
						logging.Error(err))
				}
			}
			if f.err != nil || f.meta == nil {
				continue
			}
			if value := f.meta.Fields[field]; value != "" {
				result.Metadata[field] = value
				result.Sources[field] = name
				break
			}
		}
		// Exhausted waterfall leaves the field unset; that is not an error.
	}
}

// fetchAssets queries every capable provider concurrently and merges all
// non-error responses, then downloads and analyzes each announced candidate
// with bounded parallelism. Per-candidate failures exclude only that
// candidate.
func (o *Orchestrator) fetchAssets(ctx context.Context, req Request, result *Result, consulted map[string]bool) error {
	concurrency := o.cfg.AssetConcurrency
	if concurrency <= 0 {
		concurrency = 10
	}
	sem := make(chan struct{}, concurrency)

	weights := make(map[string]float64)
	var (
		mu   sync.Mutex
		refs []providers.AssetRef
		wg   sync.WaitGroup
	)

	for _, client := range o.registry.Clients(ctx) {
		caps := client.Capabilities()
		if !caps.SupportsEntity(req.EntityType) {
			continue
		}
		wanted := intersectAssetTypes(req.AssetTypes, caps)
		if len(wanted) == 0 {
			continue
		}
		if client.IsOpen() {
			o.logger.Debug("skipping provider with open circuit",
				logging.String(logging.FieldProvider, client.Name()))
			continue
		}
		weights[client.Name()] = caps.PriorityWeight

		wg.Add(1)
		go func(client *providers.Client, wanted []providers.AssetType) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			assetReq := providers.AssetRequest{
				EntityType:  req.EntityType,
				ExternalIDs: req.ExternalIDs,
				AssetTypes:  wanted,
			}
			found, err := client.GetAssets(ctx, req.Class, assetReq)
			if err != nil {
				if !errors.Is(err, services.ErrNotSupported) {
					o.logger.Warn("asset fetch failed",
						logging.String(logging.FieldProvider, client.Name()),
						logging.Error(err))
				}
				return
			}
			mu.Lock()
			refs = append(refs, found...)
			consulted[client.Name()] = true
			mu.Unlock()
		}(client, wanted)
	}
	wg.Wait()

	var stored int64
	var storeMu sync.Mutex
	for _, ref := range refs {
		wg.Add(1)
		go func(ref providers.AssetRef) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()

			if err := o.processCandidate(ctx, req, ref, weights[ref.Provider]); err != nil {
				o.logger.Debug("candidate excluded",
					logging.String(logging.FieldProvider, ref.Provider),
					logging.String("url", ref.URL),
					logging.Error(err))
				return
			}
			storeMu.Lock()
			stored++
			storeMu.Unlock()
		}(ref)
	}
	wg.Wait()
	result.Candidates = int(stored)

	for _, assetType := range req.AssetTypes {
		selected, err := o.store.EnsureSelection(ctx, string(req.EntityType), req.EntityID, string(assetType))
		if err != nil {
			return err
		}
		if selected != nil {
			result.Selected[assetType] = selected
		} else if current, err := o.store.SelectedCandidate(ctx, string(req.EntityType), req.EntityID, string(assetType)); err == nil && current != nil {
			result.Selected[assetType] = current
		}
	}
	return nil
}

// processCandidate downloads, analyzes, caches, and stores one announced
// asset.
func (o *Orchestrator) processCandidate(ctx context.Context, req Request, ref providers.AssetRef, providerWeight float64) error {
	download, err := o.downloader.FetchImage(ctx, ref.URL)
	if err != nil {
		return err
	}

	// Provider-claimed dimensions are replaced by what the bytes actually
	// decode to.
	ref.Width = download.Width
	ref.Height = download.Height

	cached, err := o.store.StoreBytes(ctx, download.Data, download.MimeType)
	if err != nil {
		return err
	}

	candidate := &assets.Candidate{
		EntityType:     string(req.EntityType),
		EntityID:       req.EntityID,
		AssetType:      string(ref.AssetType),
		Provider:       ref.Provider,
		URL:            ref.URL,
		Width:          download.Width,
		Height:         download.Height,
		Language:       ref.Language,
		VoteAverage:    ref.VoteAverage,
		VoteCount:      ref.VoteCount,
		Score:          o.scorer.Score(ref, providerWeight),
		ContentHash:    cached.ContentHash,
		PerceptualHash: download.PerceptualHash,
	}
	_, err = o.store.UpsertCandidate(ctx, candidate)
	return err
}

// QueryChanges satisfies the decision service's change detection hook. The
// first provider able to answer wins; providers without change feeds are
// passed over.
func (o *Orchestrator) QueryChanges(ctx context.Context, entity decision.Entity, since time.Time) (bool, []string, error) {
	req := providers.ChangesRequest{
		EntityType:  providers.EntityType(entity.Type),
		ExternalIDs: entity.ExternalIDs,
		Since:       since.UTC().Format(time.RFC3339),
	}
	for _, name := range o.providerOrder() {
		client, err := o.registry.Client(ctx, name)
		if err != nil {
			continue
		}
		if !client.Capabilities().SupportsEntity(req.EntityType) || client.IsOpen() {
			continue
		}
		changes, err := client.GetChanges(ctx, ratelimit.ClassBackground, req)
		if err != nil {
			if errors.Is(err, services.ErrNotSupported) {
				continue
			}
			return false, nil, err
		}
		return changes.Changed, changes.ChangedFields, nil
	}
	return false, nil, services.Wrap(services.ErrNotSupported, "", "changes", "no provider offers change detection", nil)
}

func (o *Orchestrator) providerOrderFor(field providers.MetadataField) []string {
	if order, ok := o.cfg.FieldPriorities[string(field)]; ok && len(order) > 0 {
		return order
	}
	return o.providerOrder()
}

func (o *Orchestrator) providerOrder() []string {
	if len(o.cfg.ProviderOrder) > 0 {
		return o.cfg.ProviderOrder
	}
	return o.registry.Names()
}

func intersectAssetTypes(requested []providers.AssetType, caps providers.Capabilities) []providers.AssetType {
	var out []providers.AssetType
	for _, t := range requested {
		if caps.SupportsAsset(t) {
			out = append(out, t)
		}
	}
	return out
}
