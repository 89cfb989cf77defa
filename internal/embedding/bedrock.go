package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
)

const bedrockParallelism = 8

type bedrockConfig struct {
	ModelID         string `json:"model_id"`
	Dimension       int    `json:"dimension"`
	Region          string `json:"region"`
	AccessKeyID     string `json:"access_key_id"`
	SecretAccessKey string `json:"secret_access_key"`
}

// bedrockClient embeds through the AWS managed inference API. Batch requests
// fan out to a bounded pool since the invoke API is single-text.
type bedrockClient struct {
	runtime *bedrockruntime.Client
	modelID string
	dim     int
}

func newBedrockClient(args interface{}) (Client, error) {
	cfg := &bedrockConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(cfg.ModelID) == "" {
		return nil, fmt.Errorf("bedrock model_id is required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("bedrock dimension must be positive, got %d", cfg.Dimension)
	}
	if strings.TrimSpace(cfg.Region) == "" {
		return nil, fmt.Errorf("bedrock region is required")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
	}
	if cfg.AccessKeyID != "" || cfg.SecretAccessKey != "" {
		if cfg.AccessKeyID == "" || cfg.SecretAccessKey == "" {
			return nil, fmt.Errorf("bedrock access_key_id and secret_access_key must be set together")
		}
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	return &bedrockClient{
		runtime: bedrockruntime.NewFromConfig(awsCfg),
		modelID: strings.TrimSpace(cfg.ModelID),
		dim:     cfg.Dimension,
	}, nil
}

type bedrockEmbedRequest struct {
	InputText  string `json:"inputText"`
	Dimensions int    `json:"dimensions"`
}

type bedrockEmbedResponse struct {
	Embedding []float32 `json:"embedding"`
}

func (c *bedrockClient) Embed(ctx context.Context, text string) ([]float32, error) {
	// Blank text policy: zero vector, the invoke API rejects empty input.
	if strings.TrimSpace(text) == "" {
		return make([]float32, c.dim), nil
	}
	body, err := json.Marshal(bedrockEmbedRequest{InputText: text, Dimensions: c.dim})
	if err != nil {
		return nil, c.wrapErr(err)
	}
	out, err := c.runtime.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(c.modelID),
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
		Body:        body,
	})
	if err != nil {
		return nil, c.wrapErr(err)
	}
	var resp bedrockEmbedResponse
	if err := json.Unmarshal(out.Body, &resp); err != nil {
		return nil, c.wrapErr(fmt.Errorf("malformed response: %w", err))
	}
	if len(resp.Embedding) != c.dim {
		return nil, c.wrapErr(fmt.Errorf("vector length %d does not match configured dimension %d", len(resp.Embedding), c.dim))
	}
	return resp.Embedding, nil
}

func (c *bedrockClient) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return fanOutBatch(ctx, texts, bedrockParallelism, c.dim, c.Embed)
}

func (c *bedrockClient) wrapErr(err error) error {
	return &GenerationError{Provider: "bedrock", Model: c.modelID, Err: err}
}

func (c *bedrockClient) Dimension() int {
	return c.dim
}

func (c *bedrockClient) ModelID() string {
	return c.modelID
}

func (c *bedrockClient) Close() error {
	return nil
}

func init() {
	Register("bedrock", newBedrockClient)
}
