package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Category selects the producer that turns an item into a review
type Category string

// Supported categories
const (
	CategoryGame     Category = "game"
	CategoryMovie    Category = "movie"
	CategorySeries   Category = "series"
	CategoryHardware Category = "hardware"
	CategoryProduct  Category = "product"
)

// Categories lists every supported category in a stable order.
func Categories() []Category {
	return []Category{CategoryGame, CategoryMovie, CategorySeries, CategoryHardware, CategoryProduct}
}

// IsValid reports whether c is a supported category.
func (c Category) IsValid() bool {
	for _, known := range Categories() {
		if c == known {
			return true
		}
	}
	return false
}

// PublishStatus is the status produced reviews are created with
type PublishStatus string

// Possible publish statuses
const (
	PublishStatusDraft     PublishStatus = "draft"
	PublishStatusPublished PublishStatus = "published"
)

// IsValid reports whether s is a known publish status.
func (s PublishStatus) IsValid() bool {
	return s == PublishStatusDraft || s == PublishStatusPublished
}

// JobConfigVersion is the current layout version of persisted job configs.
const JobConfigVersion = 1

// Item is one unit of requested work as submitted.
type Item struct {
	Name        string `json:"name"`
	ExternalRef *int64 `json:"external_ref,omitempty"`
}

// JobConfig is everything needed to replay a job from scratch: the full
// ordered item list and all batching parameters. It is persisted verbatim and
// tagged with its category so it can be decoded without guessing.
type JobConfig struct {
	Version  int      `json:"version"`
	Category Category `json:"category"`
	Items    []Item   `json:"items"`

	BatchSize             int   `json:"batch_size"`
	DelayBetweenBatchesMS int64 `json:"delay_between_batches_ms"`
	DelayBetweenItemsMS   int64 `json:"delay_between_items_ms"`

	Status       PublishStatus `json:"status"`
	SkipExisting bool          `json:"skip_existing"`
	MaxRetries   int           `json:"max_retries"`
}

// DelayBetweenBatches returns the pause between two consecutive batches.
func (c JobConfig) DelayBetweenBatches() time.Duration {
	return time.Duration(c.DelayBetweenBatchesMS) * time.Millisecond
}

// DelayBetweenItems returns the pause between two items of the same batch.
func (c JobConfig) DelayBetweenItems() time.Duration {
	return time.Duration(c.DelayBetweenItemsMS) * time.Millisecond
}

// TotalBatches returns ceil(len(items) / batch size).
func (c JobConfig) TotalBatches() int {
	if c.BatchSize <= 0 {
		return 0
	}
	return (len(c.Items) + c.BatchSize - 1) / c.BatchSize
}

// Batches partitions the items into consecutive slices of at most BatchSize,
// preserving submitted order.
func (c JobConfig) Batches() [][]Item {
	if c.BatchSize <= 0 {
		return nil
	}
	batches := make([][]Item, 0, c.TotalBatches())
	for start := 0; start < len(c.Items); start += c.BatchSize {
		end := start + c.BatchSize
		if end > len(c.Items) {
			end = len(c.Items)
		}
		batches = append(batches, c.Items[start:end])
	}
	return batches
}

// Validate checks the configuration, including the precondition that item
// names are unique within a job.
func (c JobConfig) Validate() error {
	if !c.Category.IsValid() {
		return NewValidationError("category", fmt.Sprintf("%q is not supported", c.Category), ErrUnknownCategory)
	}
	if len(c.Items) == 0 {
		return NewValidationError("items", "cannot be empty", nil)
	}
	if c.BatchSize <= 0 {
		return NewValidationError("batch_size", "must be positive", nil)
	}
	if c.DelayBetweenBatchesMS < 0 || c.DelayBetweenItemsMS < 0 {
		return NewValidationError("delay", "cannot be negative", nil)
	}
	if !c.Status.IsValid() {
		return NewValidationError("status", fmt.Sprintf("%q is not a publish status", c.Status), nil)
	}
	if c.MaxRetries <= 0 {
		return NewValidationError("max_retries", "must be positive", nil)
	}

	seen := make(map[string]struct{}, len(c.Items))
	for i, item := range c.Items {
		if strings.TrimSpace(item.Name) == "" {
			return NewValidationError(fmt.Sprintf("items[%d].name", i), "cannot be empty", nil)
		}
		if _, dup := seen[item.Name]; dup {
			return NewValidationError(fmt.Sprintf("items[%d].name", i),
				fmt.Sprintf("%q appears more than once", item.Name), ErrDuplicateItemName)
		}
		seen[item.Name] = struct{}{}
	}
	return nil
}

// MarshalConfig encodes a job config for storage, stamping the current version.
func MarshalConfig(c JobConfig) ([]byte, error) {
	c.Version = JobConfigVersion
	return json.Marshal(c)
}

// UnmarshalConfig decodes a stored job config. Configs written before
// versioning carry version 0 and share the version 1 layout.
func UnmarshalConfig(data []byte) (JobConfig, error) {
	var c JobConfig
	if err := json.Unmarshal(data, &c); err != nil {
		return JobConfig{}, fmt.Errorf("failed to decode job config: %w", err)
	}
	if c.Version > JobConfigVersion {
		return JobConfig{}, fmt.Errorf("unsupported job config version %d", c.Version)
	}
	return c, nil
}
