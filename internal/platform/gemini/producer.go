package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/phrazzld/bulkgen/internal/bulk"
	"github.com/phrazzld/bulkgen/internal/config"
	"github.com/phrazzld/bulkgen/internal/domain"
	"github.com/phrazzld/bulkgen/internal/platform/logger"
	"github.com/phrazzld/bulkgen/internal/store"
	"google.golang.org/genai"
)

// maxRating is the top of the rating scale requested in the prompts.
const maxRating = 10

// ContentGenerator is the part of the Gemini client the producer uses.
// *genai.Models satisfies it.
type ContentGenerator interface {
	GenerateContent(
		ctx context.Context,
		model string,
		contents []*genai.Content,
		config *genai.GenerateContentConfig,
	) (*genai.GenerateContentResponse, error)
}

// Producer turns an item of one category into a stored review.
type Producer struct {
	category domain.Category
	model    string
	timeout  time.Duration
	client   ContentGenerator
	tmpl     *template.Template
	reviews  store.ReviewStore
}

var _ bulk.Producer = (*Producer)(nil)

// NewProducer creates a Producer for category.
func NewProducer(
	category domain.Category,
	client ContentGenerator,
	tmpl *template.Template,
	reviews store.ReviewStore,
	cfg config.LLMConfig,
) (*Producer, error) {
	if !category.IsValid() {
		return nil, fmt.Errorf("%w: %q", domain.ErrUnknownCategory, category)
	}
	if client == nil || tmpl == nil || reviews == nil {
		return nil, fmt.Errorf("%w: client, template and review store are required", ErrInvalidConfig)
	}
	if cfg.ModelName == "" {
		return nil, fmt.Errorf("%w: model name cannot be empty", ErrInvalidConfig)
	}
	return &Producer{
		category: category,
		model:    cfg.ModelName,
		timeout:  time.Duration(cfg.RequestTimeoutSeconds) * time.Second,
		client:   client,
		tmpl:     tmpl,
		reviews:  reviews,
	}, nil
}

// NewClient creates a Gemini API client from the LLM configuration.
func NewClient(ctx context.Context, cfg config.LLMConfig) (*genai.Client, error) {
	if cfg.GeminiAPIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key cannot be empty", ErrInvalidConfig)
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", ErrInvalidConfig, err)
	}
	return client, nil
}

// NewProducers builds one Producer per supported category sharing client.
func NewProducers(
	client ContentGenerator,
	reviews store.ReviewStore,
	cfg config.LLMConfig,
) (map[domain.Category]*Producer, error) {
	templates, err := LoadTemplates(cfg.PromptTemplateDir)
	if err != nil {
		return nil, err
	}
	producers := make(map[domain.Category]*Producer, len(templates))
	for category, tmpl := range templates {
		p, err := NewProducer(category, client, tmpl, reviews, cfg)
		if err != nil {
			return nil, err
		}
		producers[category] = p
	}
	return producers, nil
}

// Produce implements bulk.Producer.
func (p *Producer) Produce(ctx context.Context, item domain.Item, opts bulk.ProduceOptions) (bulk.ProduceResult, error) {
	log := logger.FromContext(ctx).With(
		slog.String("category", string(p.category)),
		slog.String("item", item.Name))

	if strings.TrimSpace(item.Name) == "" {
		return bulk.ProduceResult{}, fmt.Errorf("%w: item name is empty", bulk.ErrInvalidItem)
	}

	slug := domain.ReviewSlug(p.category, item.Name)
	exists, err := p.reviews.ExistsBySlug(ctx, slug)
	if err != nil {
		return bulk.ProduceResult{}, fmt.Errorf("failed to look up review %s: %w", slug, err)
	}
	if exists {
		log.DebugContext(ctx, "review exists",
			slog.String("slug", slug),
			slog.Bool("skip_existing", opts.SkipExisting))
		return bulk.ProduceResult{}, existingReview(slug, opts)
	}

	prompt, err := p.createPrompt(item)
	if err != nil {
		return bulk.ProduceResult{}, err
	}

	answer, err := p.generate(ctx, prompt)
	if err != nil {
		log.WarnContext(ctx, "gemini call failed", slog.String("error", err.Error()))
		return bulk.ProduceResult{}, err
	}

	review, err := domain.NewReview(p.category, item.Name, answer.Summary, answer.Body,
		answer.Rating, item.ExternalRef, opts.Status)
	if err != nil {
		return bulk.ProduceResult{}, fmt.Errorf("%w: %w", bulk.ErrInvalidItem, err)
	}

	if err := p.reviews.Create(ctx, review); err != nil {
		if errors.Is(err, store.ErrReviewExists) {
			return bulk.ProduceResult{}, existingReview(slug, opts)
		}
		return bulk.ProduceResult{}, fmt.Errorf("failed to save review %s: %w", slug, err)
	}

	log.InfoContext(ctx, "review created",
		slog.String("review_id", review.ID.String()),
		slog.String("slug", review.Slug))
	return bulk.ProduceResult{
		ReviewID: review.ID.String(),
		Title:    review.Title,
		Slug:     review.Slug,
	}, nil
}

// existingReview is a benign skip when the job asked to skip existing
// reviews and a terminal item failure otherwise.
func existingReview(slug string, opts bulk.ProduceOptions) error {
	if opts.SkipExisting {
		return fmt.Errorf("%w: review %s", domain.ErrAlreadyExists, slug)
	}
	return fmt.Errorf("%w: %s", ErrReviewConflict, slug)
}

func (p *Producer) createPrompt(item domain.Item) (string, error) {
	data := promptData{Name: item.Name, Category: string(p.category)}
	if item.ExternalRef != nil {
		data.ExternalRef = *item.ExternalRef
	}
	var buf bytes.Buffer
	if err := p.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to execute prompt template: %w", err)
	}
	return buf.String(), nil
}

// generate makes a single model call. Retrying is left to the caller.
func (p *Producer) generate(ctx context.Context, prompt string) (*ResponseSchema, error) {
	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	contents := []*genai.Content{{Role: "user", Parts: []*genai.Part{{Text: prompt}}}}
	resp, err := p.client.GenerateContent(ctx, p.model, contents, &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
	})
	if err != nil {
		return nil, fmt.Errorf("gemini request failed: %w", err)
	}

	text, err := responseText(resp)
	if err != nil {
		return nil, err
	}

	var answer ResponseSchema
	if err := json.Unmarshal([]byte(stripFence(text)), &answer); err != nil {
		return nil, fmt.Errorf("%w: failed to parse JSON response: %v", ErrInvalidResponse, err)
	}
	if strings.TrimSpace(answer.Body) == "" {
		return nil, fmt.Errorf("%w: review body is empty", ErrInvalidResponse)
	}
	if answer.Rating < 0 || answer.Rating > maxRating {
		return nil, fmt.Errorf("%w: rating %.1f out of range", ErrInvalidResponse, answer.Rating)
	}
	return &answer, nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no content generated", ErrInvalidResponse)
	}
	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", ErrContentBlocked
	}
	if candidate.Content == nil {
		return "", fmt.Errorf("%w: empty content in response", ErrInvalidResponse)
	}
	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			b.WriteString(part.Text)
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: empty content in response", ErrInvalidResponse)
	}
	return b.String(), nil
}

// stripFence removes a markdown code fence some models wrap JSON in.
func stripFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}
