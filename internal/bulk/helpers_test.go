package bulk

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/phrazzld/bulkgen/internal/domain"
	"github.com/phrazzld/bulkgen/internal/events"
	"github.com/phrazzld/bulkgen/internal/store"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// scriptedProducer records every call and delegates to fn.
type scriptedProducer struct {
	mu    sync.Mutex
	calls []string
	fn    func(ctx context.Context, item domain.Item) (ProduceResult, error)
}

func newScriptedProducer(fn func(ctx context.Context, item domain.Item) (ProduceResult, error)) *scriptedProducer {
	return &scriptedProducer{fn: fn}
}

func succeedAll() *scriptedProducer {
	return newScriptedProducer(func(ctx context.Context, item domain.Item) (ProduceResult, error) {
		return ProduceResult{ReviewID: "review-" + item.Name, Title: item.Name, Slug: "game-" + item.Name}, nil
	})
}

func (p *scriptedProducer) Produce(ctx context.Context, item domain.Item, opts ProduceOptions) (ProduceResult, error) {
	p.mu.Lock()
	p.calls = append(p.calls, item.Name)
	p.mu.Unlock()
	return p.fn(ctx, item)
}

func (p *scriptedProducer) Calls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.calls...)
}

func (p *scriptedProducer) CallCount(name string) int {
	n := 0
	for _, c := range p.Calls() {
		if c == name {
			n++
		}
	}
	return n
}

// sleepRecorder replaces real sleeping in tests.
type sleepRecorder struct {
	mu    sync.Mutex
	slept []time.Duration
}

func (r *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	r.slept = append(r.slept, d)
	r.mu.Unlock()
	return ctx.Err()
}

func (r *sleepRecorder) Slept() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.slept...)
}

// recordingHandler collects emitted events.
type recordingHandler struct {
	mu     sync.Mutex
	events []*events.JobEvent
}

func (h *recordingHandler) HandleEvent(ctx context.Context, ev *events.JobEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, ev)
	return nil
}

func (h *recordingHandler) Types() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.events))
	for _, ev := range h.events {
		out = append(out, ev.Type)
	}
	return out
}

type testHarness struct {
	store     *MockJobStore
	scheduler *Scheduler
	sleeps    *sleepRecorder
	events    *recordingHandler
}

func newHarness(t *testing.T, st *MockJobStore, producer Producer, mutate ...func(*Config)) *testHarness {
	t.Helper()

	registry := NewRegistry()
	registry.Register(domain.CategoryGame, producer, rate.Inf, 1)

	emitter := events.NewInMemoryEventEmitter(discardLogger())
	handler := &recordingHandler{}
	emitter.RegisterHandler(handler)

	cfg := Config{
		RetryBaseDelay: time.Millisecond,
		Owner:          "test-owner-" + uuid.NewString(),
		LeaseTTL:       time.Minute,
		JobRetention:   time.Hour,
	}
	for _, m := range mutate {
		m(&cfg)
	}

	s := NewScheduler(st, registry, emitter, cfg, discardLogger())
	sleeps := &sleepRecorder{}
	s.sleep = sleeps.sleep

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Stop(ctx)
	})

	return &testHarness{store: st, scheduler: s, sleeps: sleeps, events: handler}
}

func gameConfig(batchSize, maxRetries int, names ...string) domain.JobConfig {
	items := make([]domain.Item, 0, len(names))
	for _, n := range names {
		items = append(items, domain.Item{Name: n})
	}
	return domain.JobConfig{
		Category:   domain.CategoryGame,
		Items:      items,
		BatchSize:  batchSize,
		Status:     domain.PublishStatusDraft,
		MaxRetries: maxRetries,
	}
}

// stageJob stores a job as an interrupted process would have left it. statuses
// gives the item status per name; missing names are pending.
func stageJob(
	t *testing.T,
	st *MockJobStore,
	cfg domain.JobConfig,
	statuses map[string]domain.ItemStatus,
) *domain.Job {
	t.Helper()

	job, err := domain.NewJob(cfg, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	job.Status = domain.JobStatusRunning
	job.CurrentBatch = 1

	rows := domain.NewJobItems(job.ID, cfg.Items, 0, time.Now())
	for i := range rows {
		if s, ok := statuses[rows[i].Name]; ok {
			rows[i].Status = s
			switch s {
			case domain.ItemStatusCompleted:
				job.Successful++
			case domain.ItemStatusFailed:
				job.Failed++
			case domain.ItemStatusSkipped:
				job.Skipped++
			}
		}
	}
	job.Processed = job.Successful + job.Failed + job.Skipped
	require.NoError(t, job.Validate())

	st.Put(job, rows)
	return job
}

func itemStatuses(t *testing.T, st store.JobStore, id uuid.UUID) map[string]domain.ItemStatus {
	t.Helper()
	_, items, err := st.GetJob(context.Background(), id)
	require.NoError(t, err)
	out := make(map[string]domain.ItemStatus, len(items))
	for _, it := range items {
		out[it.Name] = it.Status
	}
	return out
}
