package workers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"fetcharr/internal/assets"
	"fetcharr/internal/decision"
	"fetcharr/internal/logging"
	"fetcharr/internal/orchestrator"
	"fetcharr/internal/providers"
	"fetcharr/internal/queue"
	"fetcharr/internal/ratelimit"
	"fetcharr/internal/services"
)

// entityTypeFor maps enrichment job types to the entity type they carry.
var entityTypeFor = map[queue.JobType]providers.EntityType{
	queue.TypeEnrichMovie:  providers.EntityMovie,
	queue.TypeEnrichSeries: providers.EntitySeries,
	queue.TypeEnrichMusic:  providers.EntityMusic,
}

// jobTypeFor maps entity types back to the job type that enriches them.
var jobTypeFor = map[string]queue.JobType{
	string(providers.EntityMovie):  queue.TypeEnrichMovie,
	string(providers.EntitySeries): queue.TypeEnrichSeries,
	string(providers.EntityMusic):  queue.TypeEnrichMusic,
}

// EnrichHandler gates a job through the decision service and runs the fetch
// pipeline when the gate says enrich. A skip is a successful completion with
// the gate's reason as the result.
func EnrichHandler(gate *decision.Service, orch *orchestrator.Orchestrator, logger *slog.Logger) HandlerFunc {
	if logger == nil {
		logger = logging.NewNop()
	}
	return func(ctx context.Context, job *queue.Job) (string, error) {
		payload, err := job.DecodePayload()
		if err != nil {
			return "", services.Wrap(services.ErrValidation, "", "enrich", "decode payload", err)
		}

		entityType, ok := entityTypeFor[job.Type]
		if !ok {
			return "", services.Wrap(services.ErrValidation, "", "enrich", fmt.Sprintf("job type %q is not an enrichment type", job.Type), nil)
		}

		entity := decision.Entity{
			Type:        payload.EntityType,
			ID:          payload.EntityID,
			ExternalIDs: payload.ExternalIDs,
		}
		d := gate.ShouldEnrich(ctx, entity)
		if !d.Enrich {
			return fmt.Sprintf("skipped: %s", d.Reason), nil
		}

		assetTypes := make([]providers.AssetType, 0, len(payload.AssetTypes))
		for _, t := range payload.AssetTypes {
			assetTypes = append(assetTypes, providers.AssetType(t))
		}

		result, err := orch.Enrich(ctx, orchestrator.Request{
			EntityType:  entityType,
			EntityID:    payload.EntityID,
			ExternalIDs: payload.ExternalIDs,
			AssetTypes:  assetTypes,
			Class:       classForSource(payload.Source),
		})
		if err != nil {
			return "", err
		}

		logger.Info("entity enriched",
			logging.String(logging.FieldEntityType, payload.EntityType),
			logging.Int64(logging.FieldEntityID, payload.EntityID),
			logging.String("reason", d.Reason),
			logging.Int("metadata_fields", len(result.Metadata)),
			logging.Int("candidates", result.Candidates))

		return fmt.Sprintf("enriched: reason=%s metadata_fields=%d candidates=%d selected=%d",
			d.Reason, len(result.Metadata), result.Candidates, len(result.Selected)), nil
	}
}

// RefreshHandler walks the refresh log and enqueues enrichment jobs for
// entities flagged as needing a refresh. Runs as a low-priority background
// job, typically on a schedule.
func RefreshHandler(store *assets.Store, queueStore *queue.Store, logger *slog.Logger) HandlerFunc {
	if logger == nil {
		logger = logging.NewNop()
	}
	return func(ctx context.Context, job *queue.Job) (string, error) {
		entries, err := store.EntitiesNeedingRefresh(ctx, 200)
		if err != nil {
			return "", services.Wrap(services.ErrDatabase, "", "refresh check", "list entities", err)
		}

		seen := make(map[string]bool)
		enqueued := 0
		for _, entry := range entries {
			key := fmt.Sprintf("%s/%d", entry.EntityType, entry.EntityID)
			if seen[key] {
				continue
			}
			seen[key] = true

			jobType, ok := jobTypeFor[entry.EntityType]
			if !ok {
				logger.Warn("refresh log entry with unknown entity type",
					logging.String(logging.FieldEntityType, entry.EntityType))
				continue
			}

			payload, err := json.Marshal(queue.Payload{
				EntityType: entry.EntityType,
				EntityID:   entry.EntityID,
				Source:     "refresh",
			})
			if err != nil {
				return "", fmt.Errorf("marshal refresh payload: %w", err)
			}

			// Background refreshes queue behind interactive work.
			if _, err := queueStore.Enqueue(ctx, jobType, payload, 50); err != nil {
				logger.Warn("refresh enqueue failed",
					logging.String(logging.FieldEntityType, entry.EntityType),
					logging.Int64(logging.FieldEntityID, entry.EntityID),
					logging.Error(err))
				continue
			}
			enqueued++
		}

		return fmt.Sprintf("refresh check: flagged=%d enqueued=%d", len(entries), enqueued), nil
	}
}

// classForSource maps a job's origin to a rate limit priority class.
func classForSource(source string) ratelimit.Class {
	switch source {
	case "webhook":
		return ratelimit.ClassWebhook
	case "user", "cli", "api":
		return ratelimit.ClassUser
	default:
		return ratelimit.ClassBackground
	}
}
