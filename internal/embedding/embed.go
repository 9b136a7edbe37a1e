// Package embedding implements Stratum's embedding adapter (C6): a
// deterministic, CPU-only text-to-vector client backed by a local
// MiniLM-class model server reachable over HTTP.
package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// Dimension is the fixed embedding width the rest of the system assumes
// (§3.2, §6.5). A mismatch fails loudly rather than silently truncating
// or padding.
const Dimension = 384

// MaxBatchSize bounds how many texts are sent to the model server in a
// single logical batch (§5 resource policy: embedding mini-batches ≤ 64
// texts).
const MaxBatchSize = 64

// Embedder turns text into fixed-length vectors. Implementations must be
// deterministic for identical input and must not block past ctx.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Client is an HTTP-based Embedder speaking the Ollama-style
// /api/embeddings protocol, pointed at a local CPU-only MiniLM server.
type Client struct {
	baseURL string
	model   string
	http    *http.Client
}

// NewClient builds an embedding client against a server at baseURL
// serving the named model.
func NewClient(baseURL, model string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	return &Client{baseURL: baseURL, model: model, http: httpClient}
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// Embed computes an embedding per text. Callers are responsible for
// chunking into batches of at most MaxBatchSize (§5); see Batches.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		vec, err := c.embedOne(ctx, text)
		if err != nil {
			return nil, fmt.Errorf("embedding: text %d: %w", i, err)
		}
		if len(vec) != Dimension {
			return nil, fmt.Errorf("embedding: text %d: got dimension %d, want %d", i, len(vec), Dimension)
		}
		out[i] = vec
	}
	return out, nil
}

func (c *Client) embedOne(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: c.model, Prompt: text})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	vec := make([]float32, len(result.Embedding))
	for i, v := range result.Embedding {
		vec[i] = float32(v)
	}
	return vec, nil
}

// Batches splits texts into chunks of at most MaxBatchSize, preserving
// order.
func Batches(texts []string) [][]string {
	if len(texts) == 0 {
		return nil
	}
	var batches [][]string
	for len(texts) > 0 {
		n := MaxBatchSize
		if n > len(texts) {
			n = len(texts)
		}
		batches = append(batches, texts[:n])
		texts = texts[n:]
	}
	return batches
}
