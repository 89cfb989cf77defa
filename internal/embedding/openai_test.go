package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewOpenAIClientValidation(t *testing.T) {
	tests := []struct {
		name string
		cfg  map[string]interface{}
		ok   bool
	}{
		{
			name: "valid minimal",
			cfg:  map[string]interface{}{"api_key": "k", "model_id": "text-embedding-3-small", "dimension": 1536},
			ok:   true,
		},
		{
			name: "missing api key",
			cfg:  map[string]interface{}{"model_id": "m", "dimension": 8},
		},
		{
			name: "missing model",
			cfg:  map[string]interface{}{"api_key": "k", "dimension": 8},
		},
		{
			name: "zero dimension",
			cfg:  map[string]interface{}{"api_key": "k", "model_id": "m"},
		},
		{
			name: "negative dimension",
			cfg:  map[string]interface{}{"api_key": "k", "model_id": "m", "dimension": -1},
		},
		{
			name: "deployment without endpoint",
			cfg:  map[string]interface{}{"api_key": "k", "model_id": "m", "dimension": 8, "deployment_name": "dep"},
		},
		{
			name: "azure deployment without api version",
			cfg:  map[string]interface{}{"api_key": "k", "model_id": "m", "dimension": 8, "endpoint": "https://res.openai.azure.com", "deployment_name": "dep"},
		},
		{
			name: "azure fully specified",
			cfg:  map[string]interface{}{"api_key": "k", "model_id": "m", "dimension": 8, "endpoint": "https://res.openai.azure.com", "deployment_name": "dep", "api_version": "2024-02-01"},
			ok:   true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New("openai", tt.cfg)
			if tt.ok {
				require.NoError(t, err)
				require.NotNil(t, c)
			} else {
				require.Error(t, err)
			}
		})
	}
}

func TestResolveOpenAIEndpoint(t *testing.T) {
	tests := []struct {
		name string
		cfg  openAIConfig
		want string
	}{
		{
			name: "public default",
			cfg:  openAIConfig{},
			want: "https://api.openai.com/v1/embeddings",
		},
		{
			name: "custom endpoint",
			cfg:  openAIConfig{Endpoint: "https://proxy.example.com/v1/"},
			want: "https://proxy.example.com/v1/embeddings",
		},
		{
			name: "azure deployment",
			cfg:  openAIConfig{Endpoint: "https://res.openai.azure.com/", DeploymentName: "embed", APIVersion: "2024-02-01"},
			want: "https://res.openai.azure.com/openai/deployments/embed/embeddings?api-version=2024-02-01",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, resolveOpenAIEndpoint(&tt.cfg))
		})
	}
}

func newOpenAITestServer(t *testing.T, dim int) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req openAIEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		type item struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		}
		data := make([]item, len(req.Input))
		for i := range req.Input {
			vec := make([]float32, dim)
			vec[0] = float32(len(req.Input[i]))
			data[i] = item{Index: i, Embedding: vec}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"data": data})
	}))
}

func TestOpenAIEmbed(t *testing.T) {
	srv := newOpenAITestServer(t, 8)
	defer srv.Close()

	c, err := New("openai", map[string]interface{}{
		"api_key": "k", "model_id": "m", "dimension": 8, "endpoint": srv.URL,
	})
	require.NoError(t, err)

	vec, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	require.Len(t, vec, 8)
	require.Equal(t, 8, c.Dimension())
	require.Equal(t, "m", c.ModelID())
}

func TestOpenAIEmbedRejectsBlank(t *testing.T) {
	c, err := New("openai", map[string]interface{}{"api_key": "k", "model_id": "m", "dimension": 8})
	require.NoError(t, err)
	_, err = c.Embed(context.Background(), "   ")
	require.Error(t, err)
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	require.Equal(t, "openai", genErr.Provider)
	require.Equal(t, "m", genErr.Model)
}

func TestOpenAIEmbedBatchBlankEntriesBecomeZeroVectors(t *testing.T) {
	srv := newOpenAITestServer(t, 4)
	defer srv.Close()

	c, err := New("openai", map[string]interface{}{
		"api_key": "k", "model_id": "m", "dimension": 4, "endpoint": srv.URL,
	})
	require.NoError(t, err)

	vecs, err := c.EmbedBatch(context.Background(), []string{"first", "", "third"})
	require.NoError(t, err)
	require.Len(t, vecs, 3)
	for _, v := range vecs {
		require.Len(t, v, 4)
	}
	require.Equal(t, make([]float32, 4), vecs[1])
	require.NotEqual(t, make([]float32, 4), vecs[0])
}

func TestOpenAIEmbedDimensionMismatchFromProvider(t *testing.T) {
	srv := newOpenAITestServer(t, 5)
	defer srv.Close()

	c, err := New("openai", map[string]interface{}{
		"api_key": "k", "model_id": "m", "dimension": 8, "endpoint": srv.URL,
	})
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "hello")
	require.Error(t, err)
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
}

func TestOpenAIEmbedProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"error":{"message":"rate limited"}}`))
	}))
	defer srv.Close()

	c, err := New("openai", map[string]interface{}{
		"api_key": "k", "model_id": "m", "dimension": 8, "endpoint": srv.URL,
	})
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "hello")
	require.Error(t, err)
	require.Contains(t, err.Error(), "rate limited")
}
