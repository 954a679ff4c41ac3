package generator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"relay/pkg/assembler"
	"relay/pkg/classifier"
	"relay/pkg/domain"
	"relay/pkg/kv/kvtest"
	"relay/pkg/llmclient"
)

var assertErr = errors.New("boom")

func todayKey() string {
	return time.Now().Format("2006-01-02")
}

type fakeClient struct {
	chunks      []llmclient.StreamChunk
	err         error
	completeText string
	completeUsage *llmclient.Usage
	completeErr  error
	completeSystem []llmclient.PromptBlock
}

func (f *fakeClient) Stream(context.Context, []llmclient.PromptBlock, []llmclient.Message) (<-chan llmclient.StreamChunk, error) {
	if f.err != nil {
		return nil, f.err
	}
	ch := make(chan llmclient.StreamChunk, len(f.chunks))
	for _, c := range f.chunks {
		ch <- c
	}
	close(ch)
	return ch, nil
}

func (f *fakeClient) Complete(_ context.Context, system []llmclient.PromptBlock) (string, *llmclient.Usage, error) {
	f.completeSystem = system
	if f.completeErr != nil {
		return "", nil, f.completeErr
	}
	return f.completeText, f.completeUsage, nil
}

func (f *fakeClient) IsTransientError(error) bool { return false }

func TestGeneratePhaticCallsLLMWithPersonaAndRecordsUsage(t *testing.T) {
	kvStore := kvtest.New()
	client := &fakeClient{completeText: "Sounds good!", completeUsage: &llmclient.Usage{InputTokens: 20, OutputTokens: 4}}
	g := New(client, kvStore)

	reply, err := g.Generate(context.Background(), classifier.ClassPhatic, "thanks", assembler.Context{
		Persona: domain.Persona{SystemPrompt: "be warm", Tone: "casual"},
	})
	require.NoError(t, err)
	require.Equal(t, "Sounds good!", reply)
	require.NotEmpty(t, client.completeSystem)
	require.Equal(t, "be warm", client.completeSystem[0].Text)

	stats := kvStore.TokenStats(todayKey())
	require.Equal(t, int64(20), stats["input"])
	require.Equal(t, int64(4), stats["output"])
}

func TestGeneratePhaticPropagatesError(t *testing.T) {
	g := New(&fakeClient{completeErr: assertErr}, kvtest.New())
	_, err := g.Generate(context.Background(), classifier.ClassPhatic, "thanks", assembler.Context{})
	require.Error(t, err)
}

func TestGenerateSubstantiveStreamsAndRecordsUsage(t *testing.T) {
	kvStore := kvtest.New()
	client := &fakeClient{chunks: []llmclient.StreamChunk{
		{Delta: "Hel"},
		{Delta: "lo!", Done: true, Usage: &llmclient.Usage{InputTokens: 10, OutputTokens: 3}},
	}}
	g := New(client, kvStore)

	reply, err := g.Generate(context.Background(), classifier.ClassSubstantive, "how are you", assembler.Context{
		Persona:     domain.Persona{SystemPrompt: "be warm"},
		DisplayName: "Sam",
	})
	require.NoError(t, err)
	require.Equal(t, "Hello!", reply)

	stats := kvStore.TokenStats(todayKey())
	require.Equal(t, int64(10), stats["input"])
	require.Equal(t, int64(3), stats["output"])
}

func TestGenerateSubstantivePropagatesStreamChunkError(t *testing.T) {
	kvStore := kvtest.New()
	client := &fakeClient{chunks: []llmclient.StreamChunk{{Err: assertErr}}}
	g := New(client, kvStore)

	_, err := g.Generate(context.Background(), classifier.ClassSubstantive, "hi", assembler.Context{})
	require.Error(t, err)
}

func TestGenerateSubstantivePropagatesStreamSetupError(t *testing.T) {
	kvStore := kvtest.New()
	client := &fakeClient{err: assertErr}
	g := New(client, kvStore)

	_, err := g.Generate(context.Background(), classifier.ClassSubstantive, "hi", assembler.Context{})
	require.Error(t, err)
}
