// Package llm implements Stratum's chat completion adapter (C6): a
// pluggable client over a hosted or locally-run model server, used by the
// RAG engine to turn assembled prompts into answers.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Provider names the §6.6 LLM_PROVIDER variants.
type Provider string

const (
	ProviderHosted Provider = "hosted"
	ProviderLocal  Provider = "local"
)

// callTimeout bounds a single chat call end to end (§4.6).
const callTimeout = 30 * time.Second

// Message is one turn in a chat completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Response is the result of a chat call.
type Response struct {
	Text      string
	LatencyMS int64
	Provider  Provider
}

// ChatClient completes a conversation given a system prompt and prior
// turns. Implementations retry once on 5xx, surface 4xx verbatim, and
// apply a 30s timeout (§4.6).
type ChatClient interface {
	Chat(ctx context.Context, system string, messages []Message, maxTokens int, temperature float64) (Response, error)
}

// StatusError carries an upstream HTTP status so callers can distinguish
// permanent client errors (4xx) from retryable server errors (5xx).
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("llm: status %d: %s", e.Status, e.Body)
}

// Client is an HTTP-based ChatClient speaking a minimal OpenAI-compatible
// chat/completions protocol, usable against either a hosted API (with a
// bearer API key) or a locally-running server (no auth).
type Client struct {
	provider Provider
	baseURL  string
	apiKey   string
	model    string
	http     *http.Client
}

// NewClient builds a ChatClient. apiKey may be empty for local providers.
func NewClient(provider Provider, baseURL, apiKey, model string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: callTimeout}
	}
	return &Client{provider: provider, baseURL: baseURL, apiKey: apiKey, model: model, http: httpClient}
}

type chatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	MaxTokens   int       `json:"max_tokens"`
	Temperature float64   `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
}

// Chat performs one chat completion, retrying once on a 5xx response
// before giving up (§4.6).
func (c *Client) Chat(ctx context.Context, system string, messages []Message, maxTokens int, temperature float64) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	all := make([]Message, 0, len(messages)+1)
	if system != "" {
		all = append(all, Message{Role: "system", Content: system})
	}
	all = append(all, messages...)

	start := time.Now()
	text, err := c.call(ctx, all, maxTokens, temperature)
	if err != nil {
		if statusErr, ok := err.(*StatusError); ok && statusErr.Status >= 500 {
			text, err = c.call(ctx, all, maxTokens, temperature)
		}
	}
	if err != nil {
		return Response{}, err
	}
	return Response{
		Text:      text,
		LatencyMS: time.Since(start).Milliseconds(),
		Provider:  c.provider,
	}, nil
}

func (c *Client) call(ctx context.Context, messages []Message, maxTokens int, temperature float64) (string, error) {
	body, err := json.Marshal(chatRequest{
		Model:       c.model,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	})
	if err != nil {
		return "", err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("llm: request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", &StatusError{Status: resp.StatusCode, Body: string(b)}
	}

	var decoded chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return "", fmt.Errorf("llm: decode: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("llm: empty response")
	}
	return decoded.Choices[0].Message.Content, nil
}
