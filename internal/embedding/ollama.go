package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	defaultOllamaEndpoint = "http://localhost:11434"
	ollamaParallelism     = 4
)

type ollamaConfig struct {
	Endpoint       string `json:"endpoint"`
	ModelID        string `json:"model_id"`
	Dimension      int    `json:"dimension"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// ollamaClient embeds through a local inference server. This is the
// self-hosted backend: no credentials, model weights live on the box.
type ollamaClient struct {
	client   *http.Client
	endpoint string
	modelID  string
	dim      int
}

func newOllamaClient(args interface{}) (Client, error) {
	cfg := &ollamaConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		return nil, fmt.Errorf("ollama model_id is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("ollama dimension must be positive, got %d", cfg.Dimension)
	}
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	if endpoint == "" {
		endpoint = defaultOllamaEndpoint
	}
	timeout := 60 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}
	return &ollamaClient{
		client:   &http.Client{Timeout: timeout},
		endpoint: endpoint,
		modelID:  strings.TrimSpace(cfg.ModelID),
		dim:      cfg.Dimension,
	}, nil
}

type ollamaEmbedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type ollamaEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (c *ollamaClient) Embed(ctx context.Context, text string) ([]float32, error) {
	// Blank text policy: zero vector.
	if strings.TrimSpace(text) == "" {
		return make([]float32, c.dim), nil
	}
	body, err := json.Marshal(ollamaEmbedRequest{Model: c.modelID, Prompt: text})
	if err != nil {
		return nil, c.wrapErr(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, c.wrapErr(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.wrapErr(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, c.wrapErr(fmt.Errorf("status %s: %s", resp.Status, strings.TrimSpace(string(raw))))
	}
	var out ollamaEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, c.wrapErr(fmt.Errorf("malformed response: %w", err))
	}
	if len(out.Embedding) != c.dim {
		return nil, c.wrapErr(fmt.Errorf("vector length %d does not match configured dimension %d", len(out.Embedding), c.dim))
	}
	return out.Embedding, nil
}

func (c *ollamaClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return fanOutBatch(ctx, texts, ollamaParallelism, c.dim, c.Embed)
}

func (c *ollamaClient) wrapErr(err error) error {
	return &GenerationError{Provider: "ollama", Model: c.modelID, Err: err}
}

func (c *ollamaClient) Dimension() int {
	return c.dim
}

func (c *ollamaClient) ModelID() string {
	return c.modelID
}

func (c *ollamaClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func init() {
	Register("ollama", newOllamaClient)
}
