// Package embeddings provides vector embedding generation via Ollama.
package embeddings

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/nugget/nova-agent/internal/httpkit"
)

// ErrEmbedding wraps any failure to produce an embedding. Callers that
// degrade gracefully (store a fact without a vector, skip semantic
// ranking) match on this.
var ErrEmbedding = errors.New("embeddings: generation failed")

// Encoder is the interface the fact index depends on. *Client
// satisfies it; tests substitute deterministic encoders.
type Encoder interface {
	Encode(ctx context.Context, text string) ([]float32, error)
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// Client generates embeddings using Ollama's embedding API.
type Client struct {
	baseURL string
	model   string
	client  *http.Client
}

// Config for embedding client.
type Config struct {
	BaseURL string // Ollama base URL (e.g., "http://localhost:11434")
	Model   string // Embedding model (e.g., "nomic-embed-text")
}

// New creates an embedding client.
func New(cfg Config) *Client {
	if cfg.Model == "" {
		cfg.Model = "nomic-embed-text"
	}
	return &Client{
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		client: httpkit.NewClient(
			httpkit.WithTimeout(30 * time.Second),
		),
	}
}

// embedRequest is the Ollama embedding API request.
type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

// embedResponse is the Ollama embedding API response.
type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Encode creates an embedding for the given text.
func (c *Client) Encode(ctx context.Context, text string) ([]float32, error) {
	req := embedRequest{
		Model:  c.model,
		Prompt: text,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("%w: marshal request: %v", ErrEmbedding, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", ErrEmbedding, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("%w: ollama returned status %d: %s", ErrEmbedding, resp.StatusCode, errBody)
	}

	var embedResp embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&embedResp); err != nil {
		return nil, fmt.Errorf("%w: decode response: %v", ErrEmbedding, err)
	}

	return embedResp.Embedding, nil
}

// EncodeBatch creates embeddings for multiple texts.
func (c *Client) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	results := make([][]float32, len(texts))
	for i, text := range texts {
		emb, err := c.Encode(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		results[i] = emb
	}
	return results, nil
}

// CosineSimilarity computes cosine similarity between two vectors.
// Mismatched lengths and zero-magnitude vectors score 0.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}

	var dotProduct, normA, normB float32
	for i := range a {
		dotProduct += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (float32(math.Sqrt(float64(normA))) * float32(math.Sqrt(float64(normB))))
}
