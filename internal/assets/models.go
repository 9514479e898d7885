package assets

import "time"

// Candidate is one provider-sourced artwork option for an entity. Blocked
// rows are kept as an audit trail and excluded from selection.
type Candidate struct {
	ID             int64
	EntityType     string
	EntityID       int64
	AssetType      string
	Provider       string
	URL            string
	Width          int
	Height         int
	Language       string
	VoteAverage    float64
	VoteCount      int
	Score          float64
	ContentHash    string
	PerceptualHash uint64
	IsSelected     bool
	IsBlocked      bool
	LastRefreshed  time.Time
}

// Area returns the pixel area used for tie-breaking.
func (c *Candidate) Area() int {
	return c.Width * c.Height
}

// CacheAsset is one content-addressed blob on disk. A row exists per unique
// byte sequence; reference_count tracks how many candidates point at it.
type CacheAsset struct {
	ContentHash    string
	FilePath       string
	FileSize       int64
	MimeType       string
	ReferenceCount int
	CreatedAt      time.Time
}

// RefreshEntry records when a provider was last consulted for an entity.
type RefreshEntry struct {
	EntityType   string
	EntityID     int64
	Provider     string
	LastChecked  time.Time
	NeedsRefresh bool
}
