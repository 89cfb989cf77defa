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

const defaultOpenAIEndpoint = "https://api.openai.com/v1/embeddings"

type openAIConfig struct {
	APIKey         string `json:"api_key"`
	ModelID        string `json:"model_id"`
	Dimension      int    `json:"dimension"`
	Endpoint       string `json:"endpoint"`
	DeploymentName string `json:"deployment_name"`
	APIVersion     string `json:"api_version"`
	TimeoutSeconds int    `json:"timeout_seconds"`
}

// openAIClient speaks the OpenAI embeddings API, including Azure-style
// deployments. Azure is selected when both an endpoint and a deployment name
// are configured; a deployment without an API version is rejected up front.
type openAIClient struct {
	client   *http.Client
	apiKey   string
	modelID  string
	dim      int
	endpoint string
	isAzure  bool
}

func newOpenAIClient(args interface{}) (Client, error) {
	cfg := &openAIConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("openai api_key is required")
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		return nil, fmt.Errorf("openai model_id is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("openai dimension must be positive, got %d", cfg.Dimension)
	}

	hasEndpoint := strings.TrimSpace(cfg.Endpoint) != ""
	hasDeployment := strings.TrimSpace(cfg.DeploymentName) != ""
	if hasDeployment && !hasEndpoint {
		return nil, fmt.Errorf("openai deployment_name requires an endpoint")
	}
	isAzure := hasEndpoint && hasDeployment
	if isAzure && strings.TrimSpace(cfg.APIVersion) == "" {
		return nil, fmt.Errorf("openai api_version is required for azure deployments")
	}

	timeout := 30 * time.Second
	if cfg.TimeoutSeconds > 0 {
		timeout = time.Duration(cfg.TimeoutSeconds) * time.Second
	}

	return &openAIClient{
		client:   &http.Client{Timeout: timeout},
		apiKey:   strings.TrimSpace(cfg.APIKey),
		modelID:  strings.TrimSpace(cfg.ModelID),
		dim:      cfg.Dimension,
		endpoint: resolveOpenAIEndpoint(cfg),
		isAzure:  isAzure,
	}, nil
}

func resolveOpenAIEndpoint(cfg *openAIConfig) string {
	endpoint := strings.TrimRight(strings.TrimSpace(cfg.Endpoint), "/")
	deployment := strings.TrimSpace(cfg.DeploymentName)
	if endpoint != "" && deployment != "" {
		return fmt.Sprintf("%s/openai/deployments/%s/embeddings?api-version=%s", endpoint, deployment, cfg.APIVersion)
	}
	if endpoint != "" {
		return endpoint + "/embeddings"
	}
	return defaultOpenAIEndpoint
}

type openAIEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type openAIEmbedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

func (c *openAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	// Single-item policy: blank text is rejected rather than embedded.
	if strings.TrimSpace(text) == "" {
		return nil, c.wrapErr(fmt.Errorf("input text must not be blank"))
	}
	vecs, err := c.request(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

func (c *openAIClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	inputs := make([]string, len(texts))
	blank := make([]bool, len(texts))
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			inputs[i] = blankPlaceholder
			blank[i] = true
		} else {
			inputs[i] = t
		}
	}
	vecs, err := c.request(ctx, inputs)
	if err != nil {
		return nil, err
	}
	for i := range vecs {
		if blank[i] {
			vecs[i] = make([]float32, c.dim)
		}
	}
	return vecs, nil
}

func (c *openAIClient) request(ctx context.Context, inputs []string) ([][]float32, error) {
	body, err := json.Marshal(openAIEmbedRequest{Model: c.modelID, Input: inputs})
	if err != nil {
		return nil, c.wrapErr(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, c.wrapErr(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.isAzure {
		req.Header.Set("api-key", c.apiKey)
	} else {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, c.wrapErr(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return nil, c.wrapErr(fmt.Errorf("status %s: %s", resp.Status, extractErrMessage(raw)))
	}

	var out openAIEmbedResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, c.wrapErr(fmt.Errorf("malformed response: %w", err))
	}
	if len(out.Data) != len(inputs) {
		return nil, c.wrapErr(fmt.Errorf("response has %d embeddings for %d inputs", len(out.Data), len(inputs)))
	}

	vecs := make([][]float32, len(inputs))
	for _, item := range out.Data {
		if item.Index < 0 || item.Index >= len(inputs) {
			return nil, c.wrapErr(fmt.Errorf("response index %d out of range", item.Index))
		}
		if len(item.Embedding) != c.dim {
			return nil, c.wrapErr(fmt.Errorf("vector length %d does not match configured dimension %d", len(item.Embedding), c.dim))
		}
		vecs[item.Index] = item.Embedding
	}
	for i, v := range vecs {
		if v == nil {
			return nil, c.wrapErr(fmt.Errorf("response is missing embedding for input %d", i))
		}
	}
	return vecs, nil
}

func extractErrMessage(raw []byte) string {
	var out openAIEmbedResponse
	if err := json.Unmarshal(raw, &out); err == nil && out.Error != nil && out.Error.Message != "" {
		return out.Error.Message
	}
	return strings.TrimSpace(string(raw))
}

func (c *openAIClient) wrapErr(err error) error {
	return &GenerationError{Provider: "openai", Model: c.modelID, Err: err}
}

func (c *openAIClient) Dimension() int {
	return c.dim
}

func (c *openAIClient) ModelID() string {
	return c.modelID
}

func (c *openAIClient) Close() error {
	c.client.CloseIdleConnections()
	return nil
}

func init() {
	Register("openai", newOpenAIClient)
}
