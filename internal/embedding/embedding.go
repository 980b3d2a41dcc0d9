package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"robot-rag/internal/config"
	"robot-rag/internal/helper"
	"robot-rag/internal/models"
)

var ErrEmptyEmbedding = errors.New("provider returned an empty embedding")

// Result is the outcome of one embedding call. On failure Vector holds the
// single-element placeholder and Err the cause.
type Result struct {
	Vector models.Vector
	Err    error
}

func (r Result) OK() bool {
	return r.Err == nil
}

// Embedder turns text into vectors through an external provider. Calls are
// bounded by a timeout and never return provider errors to the caller
// directly; they are reported through Result.
type Embedder struct {
	embedder    embeddings.Embedder
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
	workers     int
}

type Option func(*Embedder)

func WithTimeout(d time.Duration) Option {
	return func(e *Embedder) {
		if d > 0 {
			e.timeout = d
		}
	}
}

// WithRetry allows up to attempts calls per text, doubling backoff between them.
func WithRetry(attempts int, backoff time.Duration) Option {
	return func(e *Embedder) {
		if attempts > 0 {
			e.maxAttempts = attempts
		}
		if backoff > 0 {
			e.backoff = backoff
		}
	}
}

// WithWorkers sets how many chunks EmbedChunks embeds concurrently.
func WithWorkers(n int) Option {
	return func(e *Embedder) {
		if n > 0 {
			e.workers = n
		}
	}
}

func New(embedder embeddings.Embedder, opts ...Option) *Embedder {
	e := &Embedder{
		embedder:    embedder,
		timeout:     60 * time.Second,
		maxAttempts: 1,
		backoff:     500 * time.Millisecond,
		workers:     4,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// NewFromConfig builds the provider client named by cfg.Provider
// ("openai" or "ollama") and wraps it.
func NewFromConfig(cfg *config.LLMConfig) (*Embedder, error) {
	var (
		client embeddings.Embedder
		err    error
	)
	switch cfg.Provider {
	case "ollama":
		client, err = NewOllamaEmbedder(cfg)
	case "openai", "":
		client, err = NewOpenAIEmbedder(cfg)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
	if err != nil {
		return nil, err
	}
	return New(client,
		WithTimeout(cfg.Timeout()),
		WithRetry(cfg.MaxAttempts, cfg.Backoff()),
		WithWorkers(cfg.Workers),
	), nil
}

// NewOpenAIEmbedder creates an embedder for an OpenAI-compatible endpoint.
func NewOpenAIEmbedder(cfg *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	log.Debug().Interface("config", map[string]string{
		"base_url":        cfg.BaseURL,
		"embedding_model": cfg.Model,
	}).Msg("Creating OpenAI embedder")

	llm, err := openai.New(
		openai.WithBaseURL(cfg.BaseURL),
		openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		openai.WithEmbeddingModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("initializing embedding client: %w", err)
	}
	return embeddings.NewEmbedder(llm)
}

// NewOllamaEmbedder creates an embedder for a local Ollama server.
func NewOllamaEmbedder(cfg *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	log.Debug().Interface("config", map[string]string{
		"base_url":        cfg.BaseURL,
		"embedding_model": cfg.Model,
	}).Msg("Creating Ollama embedder")

	llm, err := ollama.New(
		ollama.WithServerURL(cfg.BaseURL),
		ollama.WithModel(cfg.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("initializing embedding client: %w", err)
	}
	return embeddings.NewEmbedder(llm)
}

// Embed converts text into a vector. Failures, timeouts included, are
// logged and returned as a Result carrying the placeholder vector.
func (e *Embedder) Embed(ctx context.Context, text string) Result {
	var vector []float32
	err := helper.RetryWithBackoff(ctx, func() error {
		callCtx, cancel := context.WithTimeout(ctx, e.timeout)
		defer cancel()

		v, err := e.embedder.EmbedQuery(callCtx, text)
		if err != nil {
			return err
		}
		if len(v) == 0 {
			return ErrEmptyEmbedding
		}
		vector = v
		return nil
	}, e.maxAttempts, e.backoff)

	if err != nil {
		log.Error().Err(err).Int("text_length", len(text)).Msg("Error creating embedding")
		return Result{Vector: models.FailedVector(), Err: err}
	}
	return Result{Vector: vector}
}

// EmbedChunks embeds every chunk through a bounded worker pool. The returned
// slice keeps the input order; failed chunks get the placeholder vector and
// EmbedFailed set. It also returns the number of failures.
func (e *Embedder) EmbedChunks(ctx context.Context, chunks []models.Chunk) ([]models.Chunk, int) {
	if len(chunks) == 0 {
		log.Info().Msg("No chunks to embed")
		return nil, 0
	}

	out := make([]models.Chunk, len(chunks))
	copy(out, chunks)

	embedOne := func(i int) {
		res := e.Embed(ctx, out[i].Content)
		out[i].Embedding = res.Vector
		out[i].EmbedFailed = !res.OK()
	}

	pool, err := ants.NewPool(e.workers)
	if err != nil {
		log.Warn().Err(err).Msg("Error creating embedding pool, embedding sequentially")
		for i := range out {
			embedOne(i)
		}
		return out, countFailed(out)
	}
	defer pool.Release()

	var wg sync.WaitGroup
	for i := range out {
		i := i
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			embedOne(i)
		}); err != nil {
			wg.Done()
			embedOne(i)
		}
	}
	wg.Wait()

	return out, countFailed(out)
}

func countFailed(chunks []models.Chunk) int {
	n := 0
	for _, c := range chunks {
		if c.EmbedFailed {
			n++
		}
	}
	return n
}
