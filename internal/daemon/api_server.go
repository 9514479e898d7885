package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"fetcharr/internal/assets"
	"fetcharr/internal/config"
	"fetcharr/internal/logging"
	"fetcharr/internal/queue"
	"fetcharr/internal/services"
)

type apiServer struct {
	bind   string
	logger *slog.Logger
	daemon *Daemon

	listener net.Listener
	server   *http.Server
}

func newAPIServer(cfg *config.Config, d *Daemon, logger *slog.Logger) (*apiServer, error) {
	bind := strings.TrimSpace(cfg.Paths.APIBind)
	if bind == "" {
		return nil, nil
	}

	srv := &apiServer{
		bind:   bind,
		logger: logger.With(logging.String(logging.FieldComponent, "api")),
		daemon: d,
	}

	token := cfg.Paths.APIToken
	mux := http.NewServeMux()
	mux.HandleFunc("/api/status", authMiddleware(token, srv.handleStatus))
	mux.HandleFunc("/api/jobs", authMiddleware(token, srv.handleJobs))
	mux.HandleFunc("/api/jobs/", authMiddleware(token, srv.handleJob))
	mux.HandleFunc("/api/candidates", authMiddleware(token, srv.handleCandidates))
	mux.HandleFunc("/api/candidates/", authMiddleware(token, srv.handleCandidateAction))
	mux.HandleFunc("/api/webhook", authMiddleware(token, srv.handleWebhook))

	srv.server = &http.Server{
		Handler:           requestIDMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv, nil
}

// requestIDMiddleware tags each request context so downstream log lines
// correlate with the API call that triggered them.
func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(services.WithRequestID(r.Context(), id)))
	})
}

func (s *apiServer) start() error {
	if s == nil {
		return nil
	}
	listener, err := net.Listen("tcp", s.bind)
	if err != nil {
		return fmt.Errorf("api listen: %w", err)
	}
	s.listener = listener

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server error", logging.Error(err))
			s.daemon.notifyError(err, "api server")
		}
	}()

	s.logger.Info("api server listening", logging.String("bind", s.bind))
	return nil
}

func (s *apiServer) stop() {
	if s == nil || s.server == nil {
		return
	}
	if err := s.server.Close(); err != nil {
		s.logger.Warn("api server close failed", logging.Error(err))
	}
}

type jobJSON struct {
	ID           string `json:"id"`
	Type         string `json:"type"`
	Priority     int    `json:"priority"`
	Status       string `json:"status"`
	RetryCount   int    `json:"retry_count"`
	ErrorMessage string `json:"error_message,omitempty"`
	CreatedAt    string `json:"created_at"`
	StartedAt    string `json:"started_at,omitempty"`
}

func toJobJSON(job *queue.Job) jobJSON {
	out := jobJSON{
		ID:           job.ID,
		Type:         string(job.Type),
		Priority:     job.Priority,
		Status:       string(job.Status),
		RetryCount:   job.RetryCount,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt.Format(time.RFC3339),
	}
	if job.StartedAt != nil {
		out.StartedAt = job.StartedAt.Format(time.RFC3339)
	}
	return out
}

type candidateJSON struct {
	ID          int64   `json:"id"`
	EntityType  string  `json:"entity_type"`
	EntityID    int64   `json:"entity_id"`
	AssetType   string  `json:"asset_type"`
	Provider    string  `json:"provider"`
	URL         string  `json:"url"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Language    string  `json:"language,omitempty"`
	VoteAverage float64 `json:"vote_average"`
	VoteCount   int     `json:"vote_count"`
	Score       float64 `json:"score"`
	IsSelected  bool    `json:"is_selected"`
	IsBlocked   bool    `json:"is_blocked"`
}

func toCandidateJSON(c *assets.Candidate) candidateJSON {
	return candidateJSON{
		ID:          c.ID,
		EntityType:  c.EntityType,
		EntityID:    c.EntityID,
		AssetType:   c.AssetType,
		Provider:    c.Provider,
		URL:         c.URL,
		Width:       c.Width,
		Height:      c.Height,
		Language:    c.Language,
		VoteAverage: c.VoteAverage,
		VoteCount:   c.VoteCount,
		Score:       c.Score,
		IsSelected:  c.IsSelected,
		IsBlocked:   c.IsBlocked,
	}
}

func (s *apiServer) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	status, err := s.daemon.Status(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, status)
}

type enqueueRequest struct {
	Type        string            `json:"type"`
	Priority    int               `json:"priority"`
	EntityType  string            `json:"entity_type"`
	EntityID    int64             `json:"entity_id"`
	Title       string            `json:"title,omitempty"`
	ExternalIDs map[string]string `json:"external_ids,omitempty"`
	AssetTypes  []string          `json:"asset_types,omitempty"`
	Source      string            `json:"source,omitempty"`
}

func (s *apiServer) handleJobs(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		jobs, err := s.daemon.queue.List(r.Context())
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out := make([]jobJSON, 0, len(jobs))
		for _, job := range jobs {
			out = append(out, toJobJSON(job))
		}
		writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
	case http.MethodPost:
		var req enqueueRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.Source == "" {
			req.Source = "api"
		}
		job, err := s.enqueue(r, req)
		if err != nil {
			if errors.Is(err, services.ErrValidation) {
				writeError(w, http.StatusBadRequest, err.Error())
			} else {
				writeError(w, http.StatusInternalServerError, err.Error())
			}
			return
		}
		writeJSON(w, http.StatusCreated, toJobJSON(job))
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *apiServer) enqueue(r *http.Request, req enqueueRequest) (*queue.Job, error) {
	payload, err := json.Marshal(queue.Payload{
		EntityType:  req.EntityType,
		EntityID:    req.EntityID,
		Title:       req.Title,
		ExternalIDs: req.ExternalIDs,
		AssetTypes:  req.AssetTypes,
		Source:      req.Source,
	})
	if err != nil {
		return nil, err
	}
	return s.daemon.queue.Enqueue(r.Context(), queue.JobType(req.Type), payload, req.Priority)
}

func (s *apiServer) handleJob(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}

	job, err := s.daemon.queue.GetByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if job != nil {
		writeJSON(w, http.StatusOK, toJobJSON(job))
		return
	}

	// Terminal jobs live in history.
	entry, err := s.daemon.queue.HistoryByID(r.Context(), id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"id":            entry.ID,
		"type":          string(entry.Type),
		"priority":      entry.Priority,
		"status":        string(entry.Status),
		"retry_count":   entry.RetryCount,
		"error_message": entry.ErrorMessage,
		"result":        entry.Result,
		"created_at":    entry.CreatedAt.Format(time.RFC3339),
		"completed_at":  entry.CompletedAt.Format(time.RFC3339),
		"duration_ms":   entry.DurationMS,
	})
}

func (s *apiServer) handleCandidates(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query()
	entityType := q.Get("entity_type")
	entityID, err := strconv.ParseInt(q.Get("entity_id"), 10, 64)
	if entityType == "" || err != nil {
		writeError(w, http.StatusBadRequest, "entity_type and entity_id are required")
		return
	}

	var candidates []*assets.Candidate
	if assetType := q.Get("asset_type"); assetType != "" {
		candidates, err = s.daemon.library.ListCandidates(r.Context(), entityType, entityID, assetType)
	} else {
		candidates, err = s.daemon.library.ListEntityCandidates(r.Context(), entityType, entityID)
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	out := make([]candidateJSON, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, toCandidateJSON(c))
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": out})
}

func (s *apiServer) handleCandidateAction(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/candidates/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid candidate id")
		return
	}

	switch parts[1] {
	case "select":
		selected, err := s.daemon.library.Select(r.Context(), id)
		if err != nil {
			writeCandidateError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"selected": toCandidateJSON(selected)})
	case "block":
		promoted, err := s.daemon.library.Block(r.Context(), id)
		if err != nil {
			writeCandidateError(w, err)
			return
		}
		resp := map[string]any{"blocked": id}
		if promoted != nil {
			resp["selected"] = toCandidateJSON(promoted)
		}
		writeJSON(w, http.StatusOK, resp)
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

type webhookEvent struct {
	EventType   string            `json:"event_type"`
	EntityType  string            `json:"entity_type"`
	EntityID    int64             `json:"entity_id"`
	Title       string            `json:"title,omitempty"`
	ExternalIDs map[string]string `json:"external_ids,omitempty"`
	AssetTypes  []string          `json:"asset_types,omitempty"`
}

var webhookJobTypes = map[string]queue.JobType{
	"movie":  queue.TypeEnrichMovie,
	"series": queue.TypeEnrichSeries,
	"music":  queue.TypeEnrichMusic,
}

// handleWebhook normalizes an external tool's event into an enqueue. Webhook
// work carries an urgent priority so it jumps ahead of background refreshes.
func (s *apiServer) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	var event webhookEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	jobType, ok := webhookJobTypes[event.EntityType]
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unsupported entity type %q", event.EntityType))
		return
	}

	job, err := s.enqueue(r, enqueueRequest{
		Type:        string(jobType),
		Priority:    5,
		EntityType:  event.EntityType,
		EntityID:    event.EntityID,
		Title:       event.Title,
		ExternalIDs: event.ExternalIDs,
		AssetTypes:  event.AssetTypes,
		Source:      "webhook",
	})
	if err != nil {
		if errors.Is(err, services.ErrValidation) {
			writeError(w, http.StatusBadRequest, err.Error())
		} else {
			writeError(w, http.StatusInternalServerError, err.Error())
		}
		return
	}

	s.logger.Info("webhook accepted",
		logging.String(logging.FieldEventType, event.EventType),
		logging.String(logging.FieldJobID, job.ID))
	writeJSON(w, http.StatusAccepted, toJobJSON(job))
}

func writeCandidateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, services.ErrValidation):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
