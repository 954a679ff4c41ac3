// Package llmclient defines the gateway's LLM provider contract and a
// multi-provider fallback wrapper. FromConfig selects each provider by
// name from a fixed set (anthropic, openai).
package llmclient

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"
)

// PromptBlock is one piece of the system/context prompt. Cacheable
// blocks are passed opaquely to whichever provider can exploit
// prompt caching (Anthropic); providers that cannot are expected to
// ignore the flag.
type PromptBlock struct {
	Text      string
	Cacheable bool
}

// Usage separates token accounting into the four categories the
// response generator logs per date key.
type Usage struct {
	InputTokens      int
	OutputTokens     int
	CacheReadTokens  int
	CacheWriteTokens int
}

// StreamChunk is one incremental piece of a streamed response. Usage
// is only populated on the final chunk.
type StreamChunk struct {
	Delta string
	Done  bool
	Usage *Usage
	Err   error
}

// Client is the provider-agnostic interface the response generator
// drives. Complete is a separate, non-streaming call for callers (like
// the classifier) that only need the final text.
type Client interface {
	Stream(ctx context.Context, system []PromptBlock, history []Message) (<-chan StreamChunk, error)
	Complete(ctx context.Context, system []PromptBlock) (string, *Usage, error)
	IsTransientError(err error) bool
}

// Role distinguishes user/assistant turns passed to Stream.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of conversation history passed to Stream.
type Message struct {
	Role Role
	Text string
}

// FallbackClient tries each Client in order, making up to MaxRetries
// attempts in total on transient errors before falling through to the next
// provider, grounded on the teacher's FallbackClient (now generalized
// to the Stream/Complete interface rather than a single StreamChat
// method).
type FallbackClient struct {
	Clients    []Client
	MaxRetries int
	RetryDelay time.Duration
}

func (f *FallbackClient) Stream(ctx context.Context, system []PromptBlock, history []Message) (<-chan StreamChunk, error) {
	var lastErr error
	for i, client := range f.Clients {
		ch, err := f.attempt(ctx, i, client, func() (<-chan StreamChunk, error) {
			return client.Stream(ctx, system, history)
		})
		if err == nil {
			return ch, nil
		}
		lastErr = err
	}
	return nil, errors.Wrap(lastErr, "all fallback providers failed")
}

func (f *FallbackClient) Complete(ctx context.Context, system []PromptBlock) (string, *Usage, error) {
	var lastErr error
	for i, client := range f.Clients {
		maxRetries := f.maxRetries()
		for retry := 1; retry <= maxRetries; retry++ {
			if retry > 1 {
				select {
				case <-ctx.Done():
					return "", nil, ctx.Err()
				case <-time.After(time.Duration(retry-1) * f.RetryDelay):
				}
			}
			text, usage, err := client.Complete(ctx, system)
			if err == nil {
				return text, usage, nil
			}
			lastErr = err
			if !client.IsTransientError(err) || retry == maxRetries {
				slog.Warn("llm provider failed", "provider_index", i, "error", err)
				break
			}
		}
	}
	return "", nil, errors.Wrap(lastErr, "all fallback providers failed")
}

func (f *FallbackClient) maxRetries() int {
	if f.MaxRetries <= 0 {
		return 1
	}
	return f.MaxRetries
}

func (f *FallbackClient) attempt(ctx context.Context, index int, client Client, call func() (<-chan StreamChunk, error)) (<-chan StreamChunk, error) {
	maxRetries := f.maxRetries()
	var lastErr error
	for retry := 1; retry <= maxRetries; retry++ {
		if retry > 1 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(retry-1) * f.RetryDelay):
			}
		}
		ch, err := call()
		if err == nil {
			return ch, nil
		}
		lastErr = err
		if !client.IsTransientError(err) || retry == maxRetries {
			slog.Warn("llm provider failed", "provider_index", index, "error", err)
			break
		}
	}
	return nil, lastErr
}

func (f *FallbackClient) IsTransientError(error) bool {
	return false
}
