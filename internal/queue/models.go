package queue

import (
	"encoding/json"
	"strings"
	"time"
)

// Status represents the lifecycle of a job.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusRetrying   Status = "retrying"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

var allStatuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusRetrying,
	StatusCompleted,
	StatusFailed,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// JobType identifies the handler a job is dispatched to.
type JobType string

const (
	TypeEnrichMovie  JobType = "enrich_movie"
	TypeEnrichSeries JobType = "enrich_series"
	TypeEnrichMusic  JobType = "enrich_music"
	TypeRefreshCheck JobType = "refresh_check"
)

var knownJobTypes = map[JobType]struct{}{
	TypeEnrichMovie:  {},
	TypeEnrichSeries: {},
	TypeEnrichMusic:  {},
	TypeRefreshCheck: {},
}

// KnownJobType reports whether the job type has a registered meaning.
func KnownJobType(t JobType) bool {
	_, ok := knownJobTypes[t]
	return ok
}

// Payload is the schema every enrichment job payload must satisfy.
type Payload struct {
	EntityType  string            `json:"entity_type"`
	EntityID    int64             `json:"entity_id"`
	Title       string            `json:"title,omitempty"`
	ExternalIDs map[string]string `json:"external_ids,omitempty"`
	AssetTypes  []string          `json:"asset_types,omitempty"`
	Source      string            `json:"source,omitempty"`
}

// Job represents a queued unit of enrichment work. Owned exclusively by the
// queue store; status moves only through its transition operations.
type Job struct {
	ID            string
	Type          JobType
	Priority      int
	Payload       json.RawMessage
	Status        Status
	RetryCount    int
	ErrorMessage  string
	CreatedAt     time.Time
	UpdatedAt     time.Time
	StartedAt     *time.Time
	NextAttemptAt *time.Time
	LastHeartbeat *time.Time
}

// DecodePayload unmarshals the job payload into the standard schema.
func (j *Job) DecodePayload() (Payload, error) {
	var p Payload
	err := json.Unmarshal(j.Payload, &p)
	return p, err
}

// HistoryEntry is the immutable archive record of a terminal job.
type HistoryEntry struct {
	ID           string
	Type         JobType
	Priority     int
	Payload      json.RawMessage
	Status       Status
	RetryCount   int
	ErrorMessage string
	Result       string
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  time.Time
	DurationMS   int64
}

// HealthSummary describes aggregated queue counts per lifecycle state.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Retrying   int
	Failed     int
	Completed  int
}

// DatabaseHealth captures diagnostic information about the queue database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	TableExists      bool
	IntegrityCheck   bool
	TotalJobs        int
	Error            string
}
