package llmclient

import (
	"context"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/pkg/errors"
)

// OpenAIClient implements Client against an OpenAI-compatible chat
// completions API. It does not exploit prompt caching (no such
// control exists on this API), so Cacheable is a no-op here — the
// generator's opaque cache flag is only meaningful on the Anthropic
// provider.
type OpenAIClient struct {
	client openai.Client
	model  openai.ChatModel
}

func NewOpenAIClient(apiKey, baseURL, model string) *OpenAIClient {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &OpenAIClient{client: openai.NewClient(opts...), model: model}
}

func (c *OpenAIClient) chatMessages(system []PromptBlock, history []Message) []openai.ChatCompletionMessageParamUnion {
	var sb strings.Builder
	for _, b := range system {
		sb.WriteString(b.Text)
		sb.WriteString("\n")
	}
	msgs := []openai.ChatCompletionMessageParamUnion{openai.SystemMessage(sb.String())}
	for _, m := range history {
		if m.Role == RoleAssistant {
			msgs = append(msgs, openai.AssistantMessage(m.Text))
		} else {
			msgs = append(msgs, openai.UserMessage(m.Text))
		}
	}
	return msgs
}

func (c *OpenAIClient) Stream(ctx context.Context, system []PromptBlock, history []Message) (<-chan StreamChunk, error) {
	out := make(chan StreamChunk, 32)
	stream := c.client.Chat.Completions.NewStreaming(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: c.chatMessages(system, history),
	})

	go func() {
		defer close(out)
		var usage Usage
		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) > 0 {
				if delta := chunk.Choices[0].Delta.Content; delta != "" {
					out <- StreamChunk{Delta: delta}
				}
			}
			if chunk.Usage.TotalTokens > 0 {
				usage.InputTokens = int(chunk.Usage.PromptTokens)
				usage.OutputTokens = int(chunk.Usage.CompletionTokens)
			}
		}
		if err := stream.Err(); err != nil {
			out <- StreamChunk{Err: errors.Wrap(err, "openai stream")}
			return
		}
		out <- StreamChunk{Done: true, Usage: &usage}
	}()
	return out, nil
}

func (c *OpenAIClient) Complete(ctx context.Context, system []PromptBlock) (string, *Usage, error) {
	resp, err := c.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: c.chatMessages(system, nil),
	})
	if err != nil {
		return "", nil, errors.Wrap(err, "openai completion")
	}
	if len(resp.Choices) == 0 {
		return "", nil, errors.New("openai completion returned no choices")
	}
	return resp.Choices[0].Message.Content, &Usage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}, nil
}

func (c *OpenAIClient) IsTransientError(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}
