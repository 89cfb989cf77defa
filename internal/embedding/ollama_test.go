package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewOllamaClientValidation(t *testing.T) {
	_, err := New("ollama", map[string]interface{}{"dimension": 8})
	require.Error(t, err)

	_, err = New("ollama", map[string]interface{}{"model_id": "nomic-embed-text"})
	require.Error(t, err)

	c, err := New("ollama", map[string]interface{}{"model_id": "nomic-embed-text", "dimension": 768})
	require.NoError(t, err)
	require.Equal(t, 768, c.Dimension())
	require.Equal(t, "nomic-embed-text", c.ModelID())
}

func TestOllamaEmbed(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/embeddings", r.URL.Path)
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "nomic-embed-text", req.Model)
		_ = json.NewEncoder(w).Encode(ollamaEmbedResponse{Embedding: []float32{1, 2, 3, 4}})
	}))
	defer srv.Close()

	c, err := New("ollama", map[string]interface{}{
		"model_id": "nomic-embed-text", "dimension": 4, "endpoint": srv.URL,
	})
	require.NoError(t, err)

	vec, err := c.Embed(context.Background(), "hello")
	require.NoError(t, err)
	require.Equal(t, []float32{1, 2, 3, 4}, vec)
}

func TestOllamaEmbedBlankIsZeroVector(t *testing.T) {
	c, err := New("ollama", map[string]interface{}{"model_id": "m", "dimension": 3})
	require.NoError(t, err)
	vec, err := c.Embed(context.Background(), "")
	require.NoError(t, err)
	require.Equal(t, make([]float32, 3), vec)
}

func TestOllamaEmbedServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c, err := New("ollama", map[string]interface{}{
		"model_id": "missing", "dimension": 4, "endpoint": srv.URL,
	})
	require.NoError(t, err)

	_, err = c.Embed(context.Background(), "hello")
	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
	require.Equal(t, "ollama", genErr.Provider)
}

func TestNewBedrockClientValidation(t *testing.T) {
	_, err := New("bedrock", map[string]interface{}{"dimension": 8, "region": "us-east-1"})
	require.Error(t, err)

	_, err = New("bedrock", map[string]interface{}{"model_id": "amazon.titan-embed-text-v2:0", "region": "us-east-1"})
	require.Error(t, err)

	_, err = New("bedrock", map[string]interface{}{"model_id": "amazon.titan-embed-text-v2:0", "dimension": 512})
	require.Error(t, err)

	_, err = New("bedrock", map[string]interface{}{
		"model_id": "amazon.titan-embed-text-v2:0", "dimension": 512, "region": "us-east-1",
		"access_key_id": "only-half",
	})
	require.Error(t, err)
}

func TestNewGeminiClientValidation(t *testing.T) {
	_, err := New("gemini", map[string]interface{}{"model_id": "gemini-embedding-001", "dimension": 768})
	require.Error(t, err)

	_, err = New("gemini", map[string]interface{}{"api_key": "k", "dimension": 768})
	require.Error(t, err)

	_, err = New("gemini", map[string]interface{}{"api_key": "k", "model_id": "gemini-embedding-001"})
	require.Error(t, err)
}
