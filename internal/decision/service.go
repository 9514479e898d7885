// Package decision implements the enrichment gate: given an entity's scrape
// history and optional upstream change detection, it decides whether a job
// should actually hit the providers. Every decision carries a reason string
// recorded in logs and job results for auditability.
package decision

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"fetcharr/internal/logging"
)

// Reason strings returned with every decision. These are contractual; the
// exact text lands in job history and API responses.
const (
	ReasonNoExternalID          = "no_external_id"
	ReasonNeverScraped          = "never_scraped"
	ReasonDataStale             = "data_stale_%d_days"
	ReasonNoChanges             = "no_changes_since_last_scrape"
	ReasonChangesDetected       = "changes_detected"
	ReasonChangeDetectionFailed = "change_detection_failed"
	ReasonDataAged              = "data_aged_%d_days"
	ReasonDataFresh             = "data_fresh"
	ReasonErrorCheckingStatus   = "error_checking_status"
)

// Entity identifies one library item to gate.
type Entity struct {
	Type        string
	ID          int64
	ExternalIDs map[string]string
}

// Decision is the gate outcome.
type Decision struct {
	Enrich        bool
	Reason        string
	ChangedFields []string
}

// RefreshLog exposes the scrape history the gate consults.
type RefreshLog interface {
	LastChecked(ctx context.Context, entityType string, entityID int64) (time.Time, error)
}

// ChangeQuerier asks upstream providers whether an entity changed since a
// given time. nil means change detection is unavailable.
type ChangeQuerier interface {
	QueryChanges(ctx context.Context, entity Entity, since time.Time) (changed bool, fields []string, err error)
}

// Config holds the gate's day thresholds and detection switch.
type Config struct {
	StaleDataThresholdDays int
	ForceRescrapeAfterDays int
	ChangeDetection        bool
}

// Service evaluates the enrichment rules. The rules bias toward enriching:
// any failure while deciding results in an enrich, never a silent skip.
type Service struct {
	refresh RefreshLog
	changes ChangeQuerier
	cfg     Config
	logger  *slog.Logger

	now func() time.Time
}

// NewService builds the gate. changes may be nil to disable detection.
func NewService(refresh RefreshLog, changes ChangeQuerier, cfg Config, logger *slog.Logger) *Service {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Service{
		refresh: refresh,
		changes: changes,
		cfg:     cfg,
		logger:  logger.With(logging.String(logging.FieldComponent, "decision")),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetClock overrides the service clock. Test hook.
func (s *Service) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// ShouldEnrich applies the decision rules in order:
//
//  1. no external identifier: enrich, change detection is impossible
//  2. never scraped: enrich
//  3. at or past the force-rescrape age: enrich unconditionally
//  4. fresh and detection enabled: ask upstream; skip only on a clean
//     "no changes" answer, enrich on changes or on a failed query
//  5. aged past the stale threshold but below force: enrich
//  6. any internal error: enrich
//
// Only rule 4's clean answer and fresh data without detection produce skips.
func (s *Service) ShouldEnrich(ctx context.Context, entity Entity) Decision {
	decision := s.evaluate(ctx, entity)
	s.logger.Debug("enrichment decision",
		logging.String(logging.FieldEntityType, entity.Type),
		logging.Int64(logging.FieldEntityID, entity.ID),
		logging.Bool("enrich", decision.Enrich),
		logging.String("reason", decision.Reason))
	return decision
}

func (s *Service) evaluate(ctx context.Context, entity Entity) Decision {
	if len(entity.ExternalIDs) == 0 {
		return Decision{Enrich: true, Reason: ReasonNoExternalID}
	}

	lastChecked, err := s.refresh.LastChecked(ctx, entity.Type, entity.ID)
	if err != nil {
		s.logger.Warn("refresh log lookup failed",
			logging.String(logging.FieldEntityType, entity.Type),
			logging.Int64(logging.FieldEntityID, entity.ID),
			logging.Error(err))
		return Decision{Enrich: true, Reason: ReasonErrorCheckingStatus}
	}
	if lastChecked.IsZero() {
		return Decision{Enrich: true, Reason: ReasonNeverScraped}
	}

	ageDays := int(s.now().Sub(lastChecked).Hours() / 24)
	if ageDays < 0 {
		ageDays = 0
	}

	if s.cfg.ForceRescrapeAfterDays > 0 && ageDays >= s.cfg.ForceRescrapeAfterDays {
		return Decision{Enrich: true, Reason: fmt.Sprintf(ReasonDataStale, ageDays)}
	}

	if ageDays < s.cfg.StaleDataThresholdDays {
		if !s.cfg.ChangeDetection || s.changes == nil {
			return Decision{Enrich: false, Reason: ReasonDataFresh}
		}
		changed, fields, err := s.changes.QueryChanges(ctx, entity, lastChecked)
		if err != nil {
			return Decision{Enrich: true, Reason: ReasonChangeDetectionFailed}
		}
		if !changed {
			return Decision{Enrich: false, Reason: ReasonNoChanges}
		}
		return Decision{Enrich: true, Reason: ReasonChangesDetected, ChangedFields: fields}
	}

	return Decision{Enrich: true, Reason: fmt.Sprintf(ReasonDataAged, ageDays)}
}
