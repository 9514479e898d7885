package providers

import (
	"context"

	"fetcharr/internal/services"
)

// SearchRequest asks a provider to resolve a title to its own identifier
// space.
type SearchRequest struct {
	EntityType EntityType
	Title      string
	Year       int
}

// SearchResult is one match from a provider search.
type SearchResult struct {
	Provider   string
	ExternalID string
	Title      string
	Year       int
	Confidence float64
}

// MetadataRequest fetches metadata for a known entity.
type MetadataRequest struct {
	EntityType  EntityType
	ExternalIDs map[string]string
	Fields      []MetadataField
}

// Metadata holds the fields a provider returned. Absent fields are simply
// missing from the map; an empty string counts as absent during waterfall
// resolution.
type Metadata struct {
	Provider string
	Fields   map[MetadataField]string
}

// AssetRequest fetches artwork candidates for a known entity.
type AssetRequest struct {
	EntityType  EntityType
	ExternalIDs map[string]string
	AssetTypes  []AssetType
}

// AssetRef is a single downloadable artwork option announced by a provider.
// Dimensions and votes are the provider's claims; the orchestrator verifies
// dimensions after download.
type AssetRef struct {
	Provider    string
	AssetType   AssetType
	URL         string
	Width       int
	Height      int
	Language    string
	VoteAverage float64
	VoteCount   int
}

// ChangesRequest asks whether an entity changed upstream since a given time.
type ChangesRequest struct {
	EntityType  EntityType
	ExternalIDs map[string]string
	Since       string
}

// ChangeSet reports upstream changes since the requested time.
type ChangeSet struct {
	Changed       bool
	ChangedFields []string
}

// Provider is the contract every metadata/artwork source satisfies.
// Capabilities is mandatory; the remaining operations are optional and must
// return services.ErrNotSupported when unimplemented, which the orchestrator
// treats as "this provider cannot help here" rather than a failure. Embed
// Unsupported to get that behavior for free.
type Provider interface {
	Capabilities() Capabilities
	Search(ctx context.Context, req SearchRequest) ([]SearchResult, error)
	GetMetadata(ctx context.Context, req MetadataRequest) (*Metadata, error)
	GetAssets(ctx context.Context, req AssetRequest) ([]AssetRef, error)
	GetChanges(ctx context.Context, req ChangesRequest) (*ChangeSet, error)
	TestConnection(ctx context.Context) error
}

// Unsupported implements every optional Provider operation with a
// services.ErrNotSupported failure. Concrete providers embed it and override
// only what they actually support.
type Unsupported struct{}

func (Unsupported) Search(context.Context, SearchRequest) ([]SearchResult, error) {
	return nil, services.Wrap(services.ErrNotSupported, "", "search", "", nil)
}

func (Unsupported) GetMetadata(context.Context, MetadataRequest) (*Metadata, error) {
	return nil, services.Wrap(services.ErrNotSupported, "", "metadata", "", nil)
}

func (Unsupported) GetAssets(context.Context, AssetRequest) ([]AssetRef, error) {
	return nil, services.Wrap(services.ErrNotSupported, "", "assets", "", nil)
}

func (Unsupported) GetChanges(context.Context, ChangesRequest) (*ChangeSet, error) {
	return nil, services.Wrap(services.ErrNotSupported, "", "changes", "", nil)
}

func (Unsupported) TestConnection(context.Context) error {
	return services.Wrap(services.ErrNotSupported, "", "test connection", "", nil)
}
