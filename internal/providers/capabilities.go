package providers

// EntityType identifies the kind of library entity a provider can serve.
type EntityType string

const (
	EntityMovie  EntityType = "movie"
	EntitySeries EntityType = "series"
	EntityMusic  EntityType = "music"
)

// AssetType identifies an artwork category.
type AssetType string

const (
	AssetPoster   AssetType = "poster"
	AssetBackdrop AssetType = "backdrop"
	AssetBanner   AssetType = "banner"
	AssetLogo     AssetType = "logo"
	AssetThumb    AssetType = "thumb"
)

// MetadataField names a single enrichable metadata attribute.
type MetadataField string

const (
	FieldTitle    MetadataField = "title"
	FieldOverview MetadataField = "overview"
	FieldYear     MetadataField = "year"
	FieldGenres   MetadataField = "genres"
	FieldRating   MetadataField = "rating"
	FieldRuntime  MetadataField = "runtime"
	FieldStudio   MetadataField = "studio"
)

// Capabilities declares what a provider can do. It is established once when
// the provider is constructed and never changes for the life of the instance.
type Capabilities struct {
	Name           string
	EntityTypes    []EntityType
	AssetTypes     []AssetType
	MetadataFields []MetadataField
	RequiresAuth   bool

	// RequestsPerSecond and BurstCapacity size the per-provider rate
	// limiter. Zero values fall back to the daemon defaults.
	RequestsPerSecond int
	BurstCapacity     int

	// PriorityWeight feeds candidate scoring; higher means the provider's
	// assets are preferred when other factors tie.
	PriorityWeight float64
}

// SupportsEntity reports whether the provider handles the given entity type.
func (c Capabilities) SupportsEntity(entity EntityType) bool {
	for _, e := range c.EntityTypes {
		if e == entity {
			return true
		}
	}
	return false
}

// SupportsAsset reports whether the provider serves the given asset type.
func (c Capabilities) SupportsAsset(asset AssetType) bool {
	for _, a := range c.AssetTypes {
		if a == asset {
			return true
		}
	}
	return false
}

// SupportsField reports whether the provider can supply the metadata field.
func (c Capabilities) SupportsField(field MetadataField) bool {
	for _, f := range c.MetadataFields {
		if f == field {
			return true
		}
	}
	return false
}
