package classifier

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"relay/pkg/llmclient"
)

func TestFastPathHeuristics(t *testing.T) {
	cases := []struct {
		name string
		text string
		want Class
	}{
		{"empty", "", ClassPhatic},
		{"whitespace only", "   ", ClassPhatic},
		{"question mark forces substantive", "ok?", ClassSubstantive},
		{"ack token", "thanks", ClassPhatic},
		{"ack token mixed case", "THANKS", ClassPhatic},
		{"emoji only", "👍🎉", ClassPhatic},
		{"emoji too long", "👍 👍 👍 👍 👍 👍", ClassSubstantive},
		{"short non-interrogative", "see you", ClassPhatic},
		{"interrogative head", "can you help me move this weekend", ClassSubstantive},
		{"long statement", "I was thinking about what you said earlier and I disagree", ClassSubstantive},
	}

	c := New(nil)
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, c.Classify(context.Background(), tc.text))
		})
	}
}

type fakeLLMClient struct {
	reply string
	err   error
}

func (f *fakeLLMClient) Stream(context.Context, []llmclient.PromptBlock, []llmclient.Message) (<-chan llmclient.StreamChunk, error) {
	panic("not used by classifier")
}

func (f *fakeLLMClient) Complete(context.Context, []llmclient.PromptBlock) (string, *llmclient.Usage, error) {
	return f.reply, nil, f.err
}

func (f *fakeLLMClient) IsTransientError(error) bool { return false }

func TestLLMFallbackUsedWhenFastPathInconclusive(t *testing.T) {
	// "remember when we went hiking together" has more than two words,
	// no question mark, and no interrogative head, so it falls through
	// to the LLM tier.
	text := "remember when we went hiking together"
	_, ok := fastPath(text)
	require.False(t, ok, "test text must actually reach the LLM fallback")

	c := New(&fakeLLMClient{reply: "phatic"})
	require.Equal(t, ClassPhatic, c.Classify(context.Background(), text))

	c = New(&fakeLLMClient{reply: "substantive"})
	require.Equal(t, ClassSubstantive, c.Classify(context.Background(), text))
}

func TestLLMErrorDefaultsToSubstantive(t *testing.T) {
	text := "remember when we went hiking together"
	c := New(&fakeLLMClient{err: errors.New("provider unavailable")})
	require.Equal(t, ClassSubstantive, c.Classify(context.Background(), text))
}
