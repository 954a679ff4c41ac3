package llmclient

import (
	"context"

	"github.com/sony/gobreaker"
)

// BreakerClient wraps a Client in a circuit breaker, grounded on the
// other_examples WhatsApp message-service's gobreaker integration
// around its outbound API calls. A provider that keeps failing trips
// the breaker open, returning immediately for a cooldown window
// instead of tying up callers on calls already known to be failing;
// FallbackClient then moves on to the next configured provider.
type BreakerClient struct {
	Client
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerClient wraps client behind a circuit breaker named name.
func NewBreakerClient(name string, client Client) *BreakerClient {
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 3 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.6
		},
	}
	return &BreakerClient{Client: client, breaker: gobreaker.NewCircuitBreaker(settings)}
}

func (b *BreakerClient) Stream(ctx context.Context, system []PromptBlock, history []Message) (<-chan StreamChunk, error) {
	ch, err := b.breaker.Execute(func() (any, error) {
		return b.Client.Stream(ctx, system, history)
	})
	if err != nil {
		return nil, err
	}
	return ch.(<-chan StreamChunk), nil
}

func (b *BreakerClient) Complete(ctx context.Context, system []PromptBlock) (string, *Usage, error) {
	type result struct {
		text  string
		usage *Usage
	}
	r, err := b.breaker.Execute(func() (any, error) {
		text, usage, err := b.Client.Complete(ctx, system)
		if err != nil {
			return nil, err
		}
		return result{text: text, usage: usage}, nil
	})
	if err != nil {
		return "", nil, err
	}
	res := r.(result)
	return res.text, res.usage, nil
}
