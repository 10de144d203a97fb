package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/phrazzld/bulkgen/internal/domain"
	"github.com/phrazzld/bulkgen/internal/store"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	jobColumnNames = []string{"id", "category", "status", "total", "processed", "successful",
		"failed", "skipped", "current_batch", "total_batches", "start_time",
		"estimated_time_remaining", "completed_at", "config", "errors", "reviews",
		"lease_owner", "lease_expires_at", "created_at", "updated_at"}
	itemColumnNames = []string{"job_id", "name", "position", "external_ref", "status",
		"error", "review_id", "created_at", "updated_at"}

	fixedNow = time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
)

func newMockJobStore(t *testing.T) (*PostgresJobStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := NewPostgresJobStore(db)
	s.now = func() time.Time { return fixedNow }
	return s, mock
}

func testJob(t *testing.T, names ...string) *domain.Job {
	t.Helper()
	items := make([]domain.Item, 0, len(names))
	for _, n := range names {
		items = append(items, domain.Item{Name: n})
	}
	job, err := domain.NewJob(domain.JobConfig{
		Category:   domain.CategoryGame,
		Items:      items,
		BatchSize:  2,
		Status:     domain.PublishStatusDraft,
		MaxRetries: 3,
	}, fixedNow.Add(-10*time.Second))
	require.NoError(t, err)
	return job
}

func jobRow(t *testing.T, job *domain.Job) []driver.Value {
	t.Helper()
	cfg, err := domain.MarshalConfig(job.Config)
	require.NoError(t, err)
	errs, reviews, err := encodeResults(job)
	require.NoError(t, err)
	return []driver.Value{job.ID.String(), string(job.Category), string(job.Status),
		job.Total, job.Processed, job.Successful, job.Failed, job.Skipped,
		job.CurrentBatch, job.TotalBatches, job.StartTime, nil, nil,
		cfg, errs, reviews, nil, nil, job.CreatedAt, job.UpdatedAt}
}

func TestPostgresJobStore_CreateJob(t *testing.T) {
	s, mock := newMockJobStore(t)
	job := testJob(t, "Doom", "Quake")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO jobs")).
		WithArgs(job.ID, job.Category, job.Status, 2, 0, 0, 0, 0, 0, 1,
			sqlmock.AnyArg(), nil, nil, sqlmock.AnyArg(), []byte("[]"), []byte("[]"),
			nil, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO job_items"))
	prep.ExpectExec().
		WithArgs(job.ID, "Doom", 0, nil, domain.ItemStatusPending, nil, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	prep.ExpectExec().
		WithArgs(job.ID, "Quake", 1, nil, domain.ItemStatusPending, nil, nil, sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.CreateJob(context.Background(), job)

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJobStore_CreateJob_Duplicate(t *testing.T) {
	s, mock := newMockJobStore(t)
	job := testJob(t, "Doom")

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO jobs")).
		WillReturnError(&pgconn.PgError{Code: uniqueViolationCode, ConstraintName: "jobs_pkey"})
	mock.ExpectRollback()

	err := s.CreateJob(context.Background(), job)

	assert.ErrorIs(t, err, store.ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJobStore_CreateJob_InvalidJob(t *testing.T) {
	s, mock := newMockJobStore(t)
	job := testJob(t, "Doom")
	job.Processed = 5

	err := s.CreateJob(context.Background(), job)

	assert.ErrorIs(t, err, store.ErrInvalidEntity)
	assert.NoError(t, mock.ExpectationsWereMet(), "no statement should reach the database")
}

func TestPostgresJobStore_GetJob(t *testing.T) {
	s, mock := newMockJobStore(t)
	job := testJob(t, "Doom", "Quake")
	ref := int64(42)

	mock.ExpectQuery(regexp.QuoteMeta("FROM jobs WHERE id = $1")).
		WithArgs(job.ID).
		WillReturnRows(sqlmock.NewRows(jobColumnNames).AddRow(jobRow(t, job)...))
	mock.ExpectQuery(regexp.QuoteMeta("FROM job_items WHERE job_id = $1 ORDER BY position")).
		WithArgs(job.ID).
		WillReturnRows(sqlmock.NewRows(itemColumnNames).
			AddRow(job.ID.String(), "Doom", 0, ref, "completed", nil, "rv-1", fixedNow, fixedNow).
			AddRow(job.ID.String(), "Quake", 1, nil, "pending", nil, nil, fixedNow, fixedNow))

	got, items, err := s.GetJob(context.Background(), job.ID)

	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, domain.CategoryGame, got.Category)
	assert.Equal(t, 2, got.Total)
	assert.Equal(t, []string{"Doom", "Quake"}, []string{got.Config.Items[0].Name, got.Config.Items[1].Name})
	assert.Empty(t, got.Errors)
	assert.Nil(t, got.EstimatedTimeRemaining)

	require.Len(t, items, 2)
	assert.Equal(t, domain.ItemStatusCompleted, items[0].Status)
	require.NotNil(t, items[0].ExternalRef)
	assert.Equal(t, int64(42), *items[0].ExternalRef)
	require.NotNil(t, items[0].ReviewID)
	assert.Equal(t, "rv-1", *items[0].ReviewID)
	assert.Nil(t, items[1].ReviewID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJobStore_GetJob_NotFound(t *testing.T) {
	s, mock := newMockJobStore(t)
	id := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta("FROM jobs WHERE id = $1")).
		WithArgs(id).
		WillReturnRows(sqlmock.NewRows(jobColumnNames))

	_, _, err := s.GetJob(context.Background(), id)

	assert.ErrorIs(t, err, store.ErrJobNotFound)
	assert.True(t, store.IsNotFoundError(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJobStore_UpdateJob(t *testing.T) {
	s, mock := newMockJobStore(t)
	job := testJob(t, "Doom", "Quake", "Myst")
	job.Status = domain.JobStatusRunning

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM jobs WHERE id = $1 FOR UPDATE")).
		WithArgs(job.ID).
		WillReturnRows(sqlmock.NewRows(jobColumnNames).AddRow(jobRow(t, job)...))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs")).
		WithArgs(job.ID, domain.JobStatusRunning, 1, 1, 0, 0, 0, int64(20), nil,
			[]byte("[]"), sqlmock.AnyArg(), fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	update := domain.Counts(1, 0, 0)
	update.AppendReviews = []domain.ReviewRef{{ID: "rv-1", Title: "Doom", Slug: "game-doom"}}
	got, err := s.UpdateJob(context.Background(), job.ID, update)

	require.NoError(t, err)
	assert.Equal(t, 1, got.Processed)
	assert.Equal(t, 1, got.Successful)
	require.NotNil(t, got.EstimatedTimeRemaining)
	assert.Equal(t, int64(20), *got.EstimatedTimeRemaining, "10s for one item leaves two items at 10s each")
	require.Len(t, got.Reviews, 1)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJobStore_UpdateJob_TerminalStampsCompletion(t *testing.T) {
	s, mock := newMockJobStore(t)
	job := testJob(t, "Doom")
	job.Status = domain.JobStatusRunning

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows(jobColumnNames).AddRow(jobRow(t, job)...))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE jobs")).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	got, err := s.UpdateJob(context.Background(), job.ID, domain.StatusUpdate(domain.JobStatusCancelled))

	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusCancelled, got.Status)
	require.NotNil(t, got.CompletedAt)
	assert.Equal(t, fixedNow, *got.CompletedAt)
	assert.Nil(t, got.EstimatedTimeRemaining)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJobStore_UpdateJob_InvalidTransition(t *testing.T) {
	s, mock := newMockJobStore(t)
	job := testJob(t, "Doom")
	job.Status = domain.JobStatusCompleted

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows(jobColumnNames).AddRow(jobRow(t, job)...))
	mock.ExpectRollback()

	_, err := s.UpdateJob(context.Background(), job.ID, domain.StatusUpdate(domain.JobStatusRunning))

	assert.ErrorIs(t, err, store.ErrInvalidTransition)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJobStore_UpdateQueueItem(t *testing.T) {
	s, mock := newMockJobStore(t)
	jobID := uuid.New()
	completed := domain.ItemStatusCompleted
	reviewID := "rv-9"

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FROM job_items WHERE job_id = $1 AND name = $2 FOR UPDATE")).
		WithArgs(jobID, "Doom").
		WillReturnRows(sqlmock.NewRows(itemColumnNames).
			AddRow(jobID.String(), "Doom", 0, nil, "processing", nil, nil, fixedNow, fixedNow))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE job_items")).
		WithArgs(jobID, "Doom", completed, nil, reviewID, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.UpdateQueueItem(context.Background(), jobID, "Doom",
		domain.ItemUpdate{Status: &completed, ReviewID: &reviewID})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJobStore_UpdateQueueItem_Errors(t *testing.T) {
	jobID := uuid.New()
	pending := domain.ItemStatusPending

	t.Run("missing item", func(t *testing.T) {
		s, mock := newMockJobStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("FROM job_items")).
			WillReturnRows(sqlmock.NewRows(itemColumnNames))
		mock.ExpectRollback()

		err := s.UpdateQueueItem(context.Background(), jobID, "Nope", domain.ItemUpdate{Status: &pending})

		assert.ErrorIs(t, err, store.ErrJobItemNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("backwards transition", func(t *testing.T) {
		s, mock := newMockJobStore(t)
		mock.ExpectBegin()
		mock.ExpectQuery(regexp.QuoteMeta("FROM job_items")).
			WillReturnRows(sqlmock.NewRows(itemColumnNames).
				AddRow(jobID.String(), "Doom", 0, nil, "completed", nil, nil, fixedNow, fixedNow))
		mock.ExpectRollback()

		err := s.UpdateQueueItem(context.Background(), jobID, "Doom", domain.ItemUpdate{Status: &pending})

		assert.ErrorIs(t, err, store.ErrInvalidTransition)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresJobStore_AddToQueue(t *testing.T) {
	s, mock := newMockJobStore(t)
	jobID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id FROM jobs WHERE id = $1 FOR UPDATE")).
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(jobID.String()))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(position) + 1, 0)")).
		WithArgs(jobID).
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(3))
	prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO job_items"))
	prep.ExpectExec().
		WithArgs(jobID, "Myst", 3, nil, domain.ItemStatusPending, nil, nil, fixedNow, fixedNow).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := s.AddToQueue(context.Background(), jobID, []domain.Item{{Name: "Myst"}})

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJobStore_AddToQueue_DuplicateName(t *testing.T) {
	s, mock := newMockJobStore(t)
	jobID := uuid.New()

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("FOR UPDATE")).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(jobID.String()))
	mock.ExpectQuery(regexp.QuoteMeta("COALESCE")).
		WillReturnRows(sqlmock.NewRows([]string{"next"}).AddRow(1))
	prep := mock.ExpectPrepare(regexp.QuoteMeta("INSERT INTO job_items"))
	prep.ExpectExec().
		WillReturnError(&pgconn.PgError{Code: uniqueViolationCode, ConstraintName: "job_items_pkey"})
	mock.ExpectRollback()

	err := s.AddToQueue(context.Background(), jobID, []domain.Item{{Name: "Doom"}})

	assert.ErrorIs(t, err, store.ErrDuplicate)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJobStore_ListRunningJobs(t *testing.T) {
	s, mock := newMockJobStore(t)
	first := testJob(t, "Doom")
	second := testJob(t, "Quake")
	second.Status = domain.JobStatusRunning

	mock.ExpectQuery(regexp.QuoteMeta("WHERE status IN ($1, $2) ORDER BY created_at")).
		WithArgs(domain.JobStatusPending, domain.JobStatusRunning).
		WillReturnRows(sqlmock.NewRows(jobColumnNames).
			AddRow(jobRow(t, first)...).
			AddRow(jobRow(t, second)...))

	jobs, err := s.ListRunningJobs(context.Background())

	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, first.ID, jobs[0].ID)
	assert.Equal(t, domain.JobStatusRunning, jobs[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJobStore_DeleteJob(t *testing.T) {
	t.Run("deleted", func(t *testing.T) {
		s, mock := newMockJobStore(t)
		id := uuid.New()
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM jobs WHERE id = $1")).
			WithArgs(id).
			WillReturnResult(sqlmock.NewResult(0, 1))

		assert.NoError(t, s.DeleteJob(context.Background(), id))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("not found", func(t *testing.T) {
		s, mock := newMockJobStore(t)
		mock.ExpectExec(regexp.QuoteMeta("DELETE FROM jobs")).
			WillReturnResult(sqlmock.NewResult(0, 0))

		err := s.DeleteJob(context.Background(), uuid.New())

		assert.ErrorIs(t, err, store.ErrJobNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresJobStore_CleanupOldJobs(t *testing.T) {
	s, mock := newMockJobStore(t)

	mock.ExpectExec(regexp.QuoteMeta("COALESCE(completed_at, updated_at) < $3")).
		WithArgs(domain.JobStatusCompleted, domain.JobStatusFailed, fixedNow.Add(-time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.CleanupOldJobs(context.Background(), time.Hour)

	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresJobStore_ClaimJob(t *testing.T) {
	id := uuid.New()

	t.Run("claimed", func(t *testing.T) {
		s, mock := newMockJobStore(t)
		mock.ExpectExec(regexp.QuoteMeta("SET lease_owner = $2, lease_expires_at = $3")).
			WithArgs(id, "node-a", fixedNow.Add(time.Minute), fixedNow).
			WillReturnResult(sqlmock.NewResult(0, 1))

		ok, err := s.ClaimJob(context.Background(), id, "node-a", time.Minute)

		require.NoError(t, err)
		assert.True(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("held elsewhere", func(t *testing.T) {
		s, mock := newMockJobStore(t)
		mock.ExpectExec(regexp.QuoteMeta("SET lease_owner")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
			WithArgs(id).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

		ok, err := s.ClaimJob(context.Background(), id, "node-a", time.Minute)

		require.NoError(t, err)
		assert.False(t, ok)
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("missing job", func(t *testing.T) {
		s, mock := newMockJobStore(t)
		mock.ExpectExec(regexp.QuoteMeta("SET lease_owner")).
			WillReturnResult(sqlmock.NewResult(0, 0))
		mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS")).
			WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(false))

		_, err := s.ClaimJob(context.Background(), id, "node-a", time.Minute)

		assert.ErrorIs(t, err, store.ErrJobNotFound)
		assert.NoError(t, mock.ExpectationsWereMet())
	})
}

func TestPostgresJobStore_ReleaseJob(t *testing.T) {
	s, mock := newMockJobStore(t)
	id := uuid.New()

	mock.ExpectExec(regexp.QuoteMeta("WHERE id = $1 AND lease_owner = $2")).
		WithArgs(id, "node-a").
		WillReturnResult(sqlmock.NewResult(0, 0))

	assert.NoError(t, s.ReleaseJob(context.Background(), id, "node-a"))

	mock.ExpectExec(regexp.QuoteMeta("SET lease_owner = NULL")).
		WillReturnError(sql.ErrConnDone)
	err := s.ReleaseJob(context.Background(), id, "node-a")
	assert.True(t, errors.Is(err, sql.ErrConnDone))
	assert.NoError(t, mock.ExpectationsWereMet())
}
