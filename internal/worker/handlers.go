package worker

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog/log"

	"github.com/thebtf/smallmerge/internal/consolidation"
	"github.com/thebtf/smallmerge/internal/db/gorm"
	"github.com/thebtf/smallmerge/internal/runner"
	"github.com/thebtf/smallmerge/internal/worker/sse"
	"github.com/thebtf/smallmerge/pkg/models"
)

const (
	defaultRunsLimit  = 20
	defaultCollection = "api"
	maxRequestBody    = 16 << 20
)

// MergeRequest is the body of POST /api/merge.
type MergeRequest struct {
	Name                string          `json:"name"`
	Families            []models.Family `json:"families"`
	SimilarityThreshold *float64        `json:"similarity_threshold,omitempty"`
	MinimumOutputSize   *int            `json:"minimum_output_size,omitempty"`
}

// options applies the request's overrides to defaults.
func (req *MergeRequest) options(defaults consolidation.Options) (consolidation.Options, error) {
	opts := defaults
	if req.SimilarityThreshold != nil {
		t := *req.SimilarityThreshold
		if t <= 0 || t > 1 {
			return opts, fmt.Errorf("similarity_threshold must be in (0, 1], got %v", t)
		}
		opts.SimilarityThreshold = t
	}
	if req.MinimumOutputSize != nil {
		if *req.MinimumOutputSize < 0 {
			return opts, fmt.Errorf("minimum_output_size must not be negative, got %d", *req.MinimumOutputSize)
		}
		opts.MinimumOutputSize = *req.MinimumOutputSize
	}
	return opts, nil
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := "starting"
	if s.ready.Load() {
		status = "ready"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  status,
		"version": s.version,
		"uptime":  time.Since(s.startTime).Round(time.Second).String(),
	})
}

func (s *Service) handleVersion(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Service) handleReady(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		writeError(w, http.StatusServiceUnavailable, "service not ready")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Service) handleMerge(w http.ResponseWriter, r *http.Request) {
	var req MergeRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	opts, err := req.options(s.mergeOptions())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Name == "" {
		req.Name = defaultCollection
	}

	report, err := s.runner.RunOne(r.Context(), opts, runner.Job{Name: req.Name, Families: req.Families})
	if err != nil {
		log.Error().Err(err).Str("collection", req.Name).Msg("Merge failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (s *Service) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"metrics":     s.runner.Metrics().Snapshot(),
		"options":     s.mergeOptions(),
		"sse_clients": s.sseBroadcaster.ClientCount(),
	})
}

func (s *Service) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := gorm.ParseLimitParam(r, defaultRunsLimit)

	runs, err := s.runs.ListRuns(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []gorm.MergeRun{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "limit": limit})
}

func (s *Service) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.runs.GetRun(r.Context(), chi.URLParam(r, "id"))
	if errors.Is(err, gorm.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Service) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := s.runs.DeleteRun(r.Context(), id)
	if errors.Is(err, gorm.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.sseBroadcaster.Publish(sse.EventRunDeleted, map[string]string{"run_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
