package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

// Client converts text into fixed-dimension float vectors. Implementations
// wrap heterogeneous backends (hosted HTTP APIs, managed cloud inference,
// a local inference server) behind one contract: Dimension and ModelID are
// stable for the life of the instance, and every vector returned has exactly
// Dimension elements.
type Client interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	// EmbedBatch returns one vector per input, same order and length.
	// Blank entries are substituted with a placeholder before hitting the
	// provider and post-processed to zero vectors, so they never break
	// ordering or dimension. A failing item fails the whole batch.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
	ModelID() string
	Close() error
}

// GenerationError reports a runtime embedding failure with enough context
// for operators to diagnose. Construction-time configuration problems are
// plain errors from the factory and never wrapped in this type.
type GenerationError struct {
	Provider string
	Model    string
	Err      error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("%s embedding generation failed (model=%s): %v", e.Provider, e.Model, e.Err)
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

type Factory func(args interface{}) (Client, error)

var registry = map[string]Factory{}

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registry[key] = factory
}

func New(name string, args interface{}) (Client, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, fmt.Errorf("embedding.provider is required")
	}
	factory := registry[key]
	if factory == nil {
		return nil, fmt.Errorf("unsupported embedding provider: %s", name)
	}
	return factory(args)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("embedding provider config is required")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode embedding provider config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode embedding provider config: %w", err)
	}
	return nil
}

// blankPlaceholder keeps provider input well-formed when a batch entry is
// blank; the corresponding output is replaced with a zero vector.
const blankPlaceholder = "[no content]"

// fanOutBatch embeds independent items over a bounded worker pool and joins
// them all before returning. Blank entries short-circuit to zero vectors.
func fanOutBatch(ctx context.Context, texts []string, parallelism, dimension int, embed func(context.Context, string) ([]float32, error)) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	results := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(parallelism)
	for i, text := range texts {
		g.Go(func() error {
			if strings.TrimSpace(text) == "" {
				results[i] = make([]float32, dimension)
				return nil
			}
			vec, err := embed(gctx, text)
			if err != nil {
				return err
			}
			results[i] = vec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
