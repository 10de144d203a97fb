package domain

import (
	"errors"
	"strings"
	"time"
	"unicode"

	"github.com/google/uuid"
)

// Common validation errors for Review
var (
	ErrEmptyReviewTitle = errors.New("review title cannot be empty")
	ErrEmptyReviewBody  = errors.New("review body cannot be empty")
)

// Review is a generated piece of content produced for one item.
type Review struct {
	ID          uuid.UUID     `json:"id"`
	Category    Category      `json:"category"`
	Title       string        `json:"title"`
	Slug        string        `json:"slug"`
	Summary     string        `json:"summary"`
	Body        string        `json:"body"`
	Rating      float64       `json:"rating"`
	ExternalRef *int64        `json:"external_ref,omitempty"`
	Status      PublishStatus `json:"status"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// NewReview creates a review with a fresh ID and a slug derived from the
// category and title.
func NewReview(category Category, title, summary, body string, rating float64,
	externalRef *int64, status PublishStatus) (*Review, error) {
	now := time.Now().UTC()
	r := &Review{
		ID:          uuid.New(),
		Category:    category,
		Title:       strings.TrimSpace(title),
		Slug:        ReviewSlug(category, title),
		Summary:     summary,
		Body:        body,
		Rating:      rating,
		ExternalRef: externalRef,
		Status:      status,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return r, nil
}

// Validate checks if the Review has valid data.
func (r *Review) Validate() error {
	if r.ID == uuid.Nil {
		return NewValidationError("id", "cannot be empty", ErrInvalidID)
	}
	if r.Title == "" {
		return ErrEmptyReviewTitle
	}
	if r.Body == "" {
		return ErrEmptyReviewBody
	}
	if !r.Category.IsValid() {
		return ErrUnknownCategory
	}
	if !r.Status.IsValid() {
		return NewValidationError("status", "is not a publish status", nil)
	}
	return nil
}

// ReviewSlug derives the URL slug for an item's review. Two items with the
// same category and name map to the same slug, which is what makes
// skip-existing lookups possible.
func ReviewSlug(category Category, name string) string {
	var b strings.Builder
	b.WriteString(string(category))
	b.WriteByte('-')

	dash := true
	for _, r := range strings.ToLower(strings.TrimSpace(name)) {
		switch {
		case unicode.IsLetter(r) && r < unicode.MaxASCII, unicode.IsDigit(r) && r < unicode.MaxASCII:
			b.WriteRune(r)
			dash = false
		case !dash:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimRight(b.String(), "-")
}
