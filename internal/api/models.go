package api

import (
	"github.com/google/uuid"
	"github.com/phrazzld/bulkgen/internal/config"
	"github.com/phrazzld/bulkgen/internal/domain"
)

// ItemRequest is one requested unit of work.
type ItemRequest struct {
	Name        string `json:"name"                   validate:"required,max=500"`
	ExternalRef *int64 `json:"external_ref,omitempty" validate:"omitempty,gte=0"`
}

// CreateJobRequest defines the payload for POST /api/jobs. Omitted batching
// settings fall back to the configured defaults.
type CreateJobRequest struct {
	Category              string        `json:"category"                           validate:"required"`
	Items                 []ItemRequest `json:"items"                              validate:"required,min=1,dive"`
	BatchSize             *int          `json:"batch_size,omitempty"               validate:"omitempty,gte=1"`
	DelayBetweenBatchesMS *int64        `json:"delay_between_batches_ms,omitempty" validate:"omitempty,gte=0"`
	DelayBetweenItemsMS   *int64        `json:"delay_between_items_ms,omitempty"   validate:"omitempty,gte=0"`
	Status                string        `json:"status,omitempty"                   validate:"omitempty,oneof=draft published"`
	SkipExisting          *bool         `json:"skip_existing,omitempty"`
	MaxRetries            *int          `json:"max_retries,omitempty"              validate:"omitempty,gte=1,lte=10"`
}

// ToConfig builds the job configuration, filling omitted fields from defaults.
func (r CreateJobRequest) ToConfig(defaults config.BulkConfig) domain.JobConfig {
	cfg := domain.JobConfig{
		Category:              domain.Category(r.Category),
		Items:                 make([]domain.Item, len(r.Items)),
		BatchSize:             defaults.DefaultBatchSize,
		DelayBetweenBatchesMS: defaults.DefaultDelayBetweenBatchesMS,
		DelayBetweenItemsMS:   defaults.DefaultDelayBetweenItemsMS,
		Status:                domain.PublishStatusDraft,
		SkipExisting:          true,
		MaxRetries:            defaults.DefaultMaxRetries,
	}
	for i, item := range r.Items {
		cfg.Items[i] = domain.Item{Name: item.Name, ExternalRef: item.ExternalRef}
	}
	if r.BatchSize != nil {
		cfg.BatchSize = *r.BatchSize
	}
	if r.DelayBetweenBatchesMS != nil {
		cfg.DelayBetweenBatchesMS = *r.DelayBetweenBatchesMS
	}
	if r.DelayBetweenItemsMS != nil {
		cfg.DelayBetweenItemsMS = *r.DelayBetweenItemsMS
	}
	if r.Status != "" {
		cfg.Status = domain.PublishStatus(r.Status)
	}
	if r.SkipExisting != nil {
		cfg.SkipExisting = *r.SkipExisting
	}
	if r.MaxRetries != nil {
		cfg.MaxRetries = *r.MaxRetries
	}
	return cfg
}

// CreateJobResponse is returned once a job is accepted.
type CreateJobResponse struct {
	JobID    uuid.UUID       `json:"job_id"`
	Total    int             `json:"total"`
	Category domain.Category `json:"category"`
}

// JobListResponse lists the pending and running jobs.
type JobListResponse struct {
	Jobs []*domain.Job `json:"jobs"`
}

// JobDetailResponse is a job with its queue in submitted order.
type JobDetailResponse struct {
	Job   *domain.Job      `json:"job"`
	Items []domain.JobItem `json:"items"`
}

// CancelJobResponse acknowledges a cancellation request.
type CancelJobResponse struct {
	JobID  uuid.UUID        `json:"job_id"`
	Status domain.JobStatus `json:"status"`
}
