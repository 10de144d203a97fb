package api

import (
	"context"
	"log/slog"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/phrazzld/bulkgen/internal/api/shared"
	"github.com/phrazzld/bulkgen/internal/config"
	"github.com/phrazzld/bulkgen/internal/domain"
	"github.com/phrazzld/bulkgen/internal/platform/logger"
)

// JobService is the part of the scheduler the HTTP layer drives.
type JobService interface {
	Submit(ctx context.Context, cfg domain.JobConfig) (*domain.Job, error)
	Cancel(ctx context.Context, id uuid.UUID) (*domain.Job, error)
	Get(ctx context.Context, id uuid.UUID) (*domain.Job, []domain.JobItem, error)
	List(ctx context.Context) ([]*domain.Job, error)
	Delete(ctx context.Context, id uuid.UUID) error
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	jobs      JobService
	defaults  config.BulkConfig
	validator *validator.Validate
	logger    *slog.Logger
}

// NewJobHandler creates a new JobHandler
func NewJobHandler(jobs JobService, defaults config.BulkConfig, logger *slog.Logger) *JobHandler {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return &JobHandler{
		jobs:      jobs,
		defaults:  defaults,
		validator: v,
		logger:    logger.With("component", "job_handler"),
	}
}

// CreateJob handles POST /api/jobs. The job runs in the background, so the
// response is 202 Accepted as soon as the job and its queue are persisted.
func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContextOrDefault(r.Context(), h.logger)

	var req CreateJobRequest
	if err := shared.DecodeJSON(r, &req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, "Invalid request format", err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		shared.RespondWithErrorAndLog(w, r, http.StatusBadRequest, SanitizeValidationError(err), err)
		return
	}

	job, err := h.jobs.Submit(r.Context(), req.ToConfig(h.defaults))
	if err != nil {
		HandleAPIError(w, r, err, "Failed to create job")
		return
	}

	subject, _ := shared.SubjectFromContext(r.Context())
	log.Info("job accepted",
		"job_id", job.ID,
		"category", job.Category,
		"total", job.Total,
		"subject", subject)

	shared.RespondWithJSON(w, r, http.StatusAccepted, CreateJobResponse{
		JobID:    job.ID,
		Total:    job.Total,
		Category: job.Category,
	})
}

// ListJobs handles GET /api/jobs and returns pending and running jobs.
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobs.List(r.Context())
	if err != nil {
		HandleAPIError(w, r, err, "Failed to list jobs")
		return
	}
	if jobs == nil {
		jobs = []*domain.Job{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, JobListResponse{Jobs: jobs})
}

// GetJob handles GET /api/jobs/{id}.
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	id, ok := handlePathUUID(w, r, "id")
	if !ok {
		return
	}

	job, items, err := h.jobs.Get(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to get job")
		return
	}
	if items == nil {
		items = []domain.JobItem{}
	}
	shared.RespondWithJSON(w, r, http.StatusOK, JobDetailResponse{Job: job, Items: items})
}

// CancelJob handles POST /api/jobs/{id}/cancel. The worker observes the
// cancellation at its next item boundary.
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	id, ok := handlePathUUID(w, r, "id")
	if !ok {
		return
	}

	job, err := h.jobs.Cancel(r.Context(), id)
	if err != nil {
		HandleAPIError(w, r, err, "Failed to cancel job")
		return
	}

	logger.FromContextOrDefault(r.Context(), h.logger).Info("job cancel requested", "job_id", id)
	shared.RespondWithJSON(w, r, http.StatusAccepted, CancelJobResponse{JobID: job.ID, Status: job.Status})
}

// DeleteJob handles DELETE /api/jobs/{id}. Only finished jobs can be deleted.
func (h *JobHandler) DeleteJob(w http.ResponseWriter, r *http.Request) {
	id, ok := handlePathUUID(w, r, "id")
	if !ok {
		return
	}

	if err := h.jobs.Delete(r.Context(), id); err != nil {
		HandleAPIError(w, r, err, "Failed to delete job")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
