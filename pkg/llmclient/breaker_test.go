package llmclient

import (
	"context"
	"testing"

	"github.com/pkg/errors"
	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/require"
)

type fakeStreamClient struct {
	err error
}

func (f *fakeStreamClient) Stream(context.Context, []PromptBlock, []Message) (<-chan StreamChunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan StreamChunk, 1)
	ch <- StreamChunk{Delta: "hi", Done: true, Usage: &Usage{OutputTokens: 1}}
	close(ch)
	return ch, nil
}

func (f *fakeStreamClient) Complete(context.Context, []PromptBlock) (string, *Usage, error) {
	if f.err != nil {
		return "", nil, f.err
	}
	return "hi", &Usage{OutputTokens: 1}, nil
}

func (f *fakeStreamClient) IsTransientError(error) bool { return true }

func TestBreakerClientPassesThroughOnSuccess(t *testing.T) {
	c := NewBreakerClient("test", &fakeStreamClient{})
	ch, err := c.Stream(context.Background(), nil, nil)
	require.NoError(t, err)
	chunk := <-ch
	require.Equal(t, "hi", chunk.Delta)
}

func TestBreakerClientTripsAfterRepeatedFailures(t *testing.T) {
	inner := &fakeStreamClient{err: errors.New("provider down")}
	c := NewBreakerClient("test", inner)

	for i := 0; i < 3; i++ {
		_, _, err := c.Complete(context.Background(), nil)
		require.Error(t, err)
	}

	_, _, err := c.Complete(context.Background(), nil)
	require.ErrorIs(t, err, gobreaker.ErrOpenState, "breaker should short-circuit once tripped")
}
