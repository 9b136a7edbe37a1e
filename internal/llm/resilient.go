package llm

import (
	"context"

	"github.com/stratumhq/stratum/internal/resilience"
)

// ResilientClient wraps a ChatClient with a circuit breaker so repeated
// provider failures stop hammering an unhealthy endpoint and fail fast
// instead (§4.6, §4.7 step 6 fallback path).
type ResilientClient struct {
	inner   ChatClient
	breaker *resilience.Breaker
}

// NewResilientClient wraps inner with the given breaker options.
func NewResilientClient(inner ChatClient, opts resilience.BreakerOpts) *ResilientClient {
	return &ResilientClient{inner: inner, breaker: resilience.NewBreaker(opts)}
}

// Chat implements ChatClient, routing the call through the breaker.
func (r *ResilientClient) Chat(ctx context.Context, system string, messages []Message, maxTokens int, temperature float64) (Response, error) {
	var resp Response
	err := r.breaker.Call(ctx, func(ctx context.Context) error {
		var callErr error
		resp, callErr = r.inner.Chat(ctx, system, messages, maxTokens, temperature)
		return callErr
	})
	return resp, err
}
