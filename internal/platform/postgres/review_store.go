package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/phrazzld/bulkgen/internal/domain"
	"github.com/phrazzld/bulkgen/internal/platform/logger"
	"github.com/phrazzld/bulkgen/internal/store"
)

// PostgresReviewStore implements the store.ReviewStore interface
// using a PostgreSQL database as the storage backend.
type PostgresReviewStore struct {
	db store.DBTX
}

// NewPostgresReviewStore creates a new PostgreSQL implementation of the ReviewStore interface.
// It accepts a database connection or transaction that should be initialized and managed by the caller.
func NewPostgresReviewStore(db store.DBTX) *PostgresReviewStore {
	return &PostgresReviewStore{db: db}
}

// Ensure PostgresReviewStore implements store.ReviewStore interface
var _ store.ReviewStore = (*PostgresReviewStore)(nil)

// Create implements store.ReviewStore.Create
func (s *PostgresReviewStore) Create(ctx context.Context, review *domain.Review) error {
	if err := review.Validate(); err != nil {
		return fmt.Errorf("%w: %v", store.ErrInvalidEntity, err)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reviews (id, category, title, slug, summary, body, rating, external_ref, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		review.ID, review.Category, review.Title, review.Slug, review.Summary, review.Body,
		review.Rating, review.ExternalRef, review.Status, review.CreatedAt, review.UpdatedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return fmt.Errorf("%w: slug %q", store.ErrReviewExists, review.Slug)
		}
		logger.FromContext(ctx).Error("failed to insert review",
			slog.String("slug", review.Slug),
			slog.String("error", err.Error()))
		return MapError(err, store.ErrReviewNotFound)
	}
	return nil
}

// GetBySlug implements store.ReviewStore.GetBySlug
func (s *PostgresReviewStore) GetBySlug(ctx context.Context, slug string) (*domain.Review, error) {
	var (
		r   domain.Review
		ref sql.NullInt64
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, category, title, slug, summary, body, rating, external_ref, status, created_at, updated_at
		FROM reviews WHERE slug = $1`, slug).
		Scan(&r.ID, &r.Category, &r.Title, &r.Slug, &r.Summary, &r.Body, &r.Rating,
			&ref, &r.Status, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, MapError(err, store.ErrReviewNotFound)
	}
	if ref.Valid {
		r.ExternalRef = &ref.Int64
	}
	return &r, nil
}

// ExistsBySlug implements store.ReviewStore.ExistsBySlug
func (s *PostgresReviewStore) ExistsBySlug(ctx context.Context, slug string) (bool, error) {
	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS (SELECT 1 FROM reviews WHERE slug = $1)`, slug).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check review: %w", err)
	}
	return exists, nil
}
