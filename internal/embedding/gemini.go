package embedding

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

const geminiParallelism = 4

type geminiConfig struct {
	APIKey    string `json:"api_key"`
	ModelID   string `json:"model_id"`
	Dimension int    `json:"dimension"`
	TaskType  string `json:"task_type"`
}

type geminiClient struct {
	client   *genai.Client
	modelID  string
	dim      int
	taskType string
}

func newGeminiClient(args interface{}) (Client, error) {
	cfg := &geminiConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("gemini api_key is required")
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		return nil, fmt.Errorf("gemini model_id is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("gemini dimension must be positive, got %d", cfg.Dimension)
	}
	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  strings.TrimSpace(cfg.APIKey),
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("init gemini client: %w", err)
	}
	taskType := cfg.TaskType
	if taskType == "" {
		taskType = "RETRIEVAL_DOCUMENT"
	}
	return &geminiClient{
		client:   client,
		modelID:  strings.TrimSpace(cfg.ModelID),
		dim:      cfg.Dimension,
		taskType: taskType,
	}, nil
}

func (c *geminiClient) Embed(ctx context.Context, text string) ([]float32, error) {
	// Blank text policy: zero vector.
	if strings.TrimSpace(text) == "" {
		return make([]float32, c.dim), nil
	}
	dim := int32(c.dim)
	resp, err := c.client.Models.EmbedContent(
		ctx,
		c.modelID,
		[]*genai.Content{{Parts: []*genai.Part{{Text: text}}}},
		&genai.EmbedContentConfig{
			TaskType:             c.taskType,
			OutputDimensionality: &dim,
		},
	)
	if err != nil {
		return nil, c.wrapErr(err)
	}
	if len(resp.Embeddings) == 0 {
		return nil, c.wrapErr(fmt.Errorf("no embedding values returned"))
	}
	values := resp.Embeddings[0].Values
	if len(values) != c.dim {
		return nil, c.wrapErr(fmt.Errorf("vector length %d does not match configured dimension %d", len(values), c.dim))
	}
	return values, nil
}

func (c *geminiClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return fanOutBatch(ctx, texts, geminiParallelism, c.dim, c.Embed)
}

func (c *geminiClient) wrapErr(err error) error {
	return &GenerationError{Provider: "gemini", Model: c.modelID, Err: err}
}

func (c *geminiClient) Dimension() int {
	return c.dim
}

func (c *geminiClient) ModelID() string {
	return c.modelID
}

func (c *geminiClient) Close() error {
	return nil
}

func init() {
	Register("gemini", newGeminiClient)
}
