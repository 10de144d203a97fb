package bulk

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/phrazzld/bulkgen/internal/domain"
	"golang.org/x/time/rate"
)

// ErrInvalidItem marks a Producer error caused by the item itself (bad input,
// failed validation). Such errors are terminal and never retried.
var ErrInvalidItem = errors.New("invalid item")

// ErrNoOutput is recorded when a Producer reports success without an output id.
var ErrNoOutput = errors.New("producer returned no output")

// ProduceOptions are passed unchanged to every Producer call of a job.
type ProduceOptions struct {
	Status       domain.PublishStatus
	SkipExisting bool
}

// ProduceResult describes the output created for one item.
type ProduceResult struct {
	ReviewID string
	Title    string
	Slug     string
}

// Producer turns one item into one output.
//
// A Producer must be idempotent when SkipExisting is set: if the output already
// exists it returns an error wrapping domain.ErrAlreadyExists. Errors wrapping
// ErrInvalidItem are terminal. Any other error is treated as transient.
type Producer interface {
	Produce(ctx context.Context, item domain.Item, opts ProduceOptions) (ProduceResult, error)
}

// ProducerFunc adapts an ordinary function to the Producer interface.
type ProducerFunc func(ctx context.Context, item domain.Item, opts ProduceOptions) (ProduceResult, error)

// Produce calls f.
func (f ProducerFunc) Produce(ctx context.Context, item domain.Item, opts ProduceOptions) (ProduceResult, error) {
	return f(ctx, item, opts)
}

// Outcome is the classification of one Producer call.
type Outcome int

// Possible outcomes
const (
	OutcomeSuccess Outcome = iota
	OutcomeTransient
	OutcomeAlreadyExists
	OutcomeInvalid
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTransient:
		return "transient"
	case OutcomeAlreadyExists:
		return "already_exists"
	case OutcomeInvalid:
		return "invalid"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Retryable reports whether another attempt may succeed.
func (o Outcome) Retryable() bool {
	return o == OutcomeTransient
}

// Classify maps a Producer error onto an Outcome.
func Classify(err error) Outcome {
	var verr *domain.ValidationError
	switch {
	case err == nil:
		return OutcomeSuccess
	case errors.Is(err, domain.ErrAlreadyExists):
		return OutcomeAlreadyExists
	case errors.Is(err, ErrInvalidItem), errors.Is(err, domain.ErrValidation), errors.As(err, &verr):
		return OutcomeInvalid
	default:
		return OutcomeTransient
	}
}

// Registry maps each category to its Producer. Calls made through the
// registry share one rate limiter per category, so concurrent jobs of the same
// category stay within the upstream quota together.
type Registry struct {
	mu        sync.RWMutex
	producers map[domain.Category]*limitedProducer
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{producers: make(map[domain.Category]*limitedProducer)}
}

// Register installs p for category. limit is the sustained call rate; a limit
// of rate.Inf disables limiting. Registering a category twice replaces the
// previous Producer.
func (r *Registry) Register(category domain.Category, p Producer, limit rate.Limit, burst int) {
	if burst < 1 {
		burst = 1
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.producers[category] = &limitedProducer{
		producer: p,
		limiter:  rate.NewLimiter(limit, burst),
	}
}

// Lookup returns the rate-limited Producer for category.
// Returns domain.ErrUnknownCategory if none is registered.
func (r *Registry) Lookup(category domain.Category) (Producer, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.producers[category]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownCategory, category)
	}
	return p, nil
}

// Categories lists the registered categories in sorted order.
func (r *Registry) Categories() []domain.Category {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.Category, 0, len(r.producers))
	for c := range r.producers {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type limitedProducer struct {
	producer Producer
	limiter  *rate.Limiter
}

func (p *limitedProducer) Produce(ctx context.Context, item domain.Item, opts ProduceOptions) (ProduceResult, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return ProduceResult{}, fmt.Errorf("rate limiter: %w", err)
	}
	return p.producer.Produce(ctx, item, opts)
}
