package llmclient

import (
	"context"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/pkg/errors"
)

// AnthropicClient implements Client against the Anthropic Messages
// API, using native cache_control blocks for PromptBlocks marked
// Cacheable — the concrete mechanism behind the generator's
// opaque "cacheable" flag.
type AnthropicClient struct {
	client anthropic.Client
	model  anthropic.Model
}

func NewAnthropicClient(apiKey, model string) *AnthropicClient {
	return &AnthropicClient{
		client: anthropic.NewClient(option.WithAPIKey(apiKey)),
		model:  anthropic.Model(model),
	}
}

func (c *AnthropicClient) systemBlocks(system []PromptBlock) []anthropic.TextBlockParam {
	blocks := make([]anthropic.TextBlockParam, 0, len(system))
	for _, b := range system {
		block := anthropic.TextBlockParam{Text: b.Text}
		if b.Cacheable {
			block.CacheControl = anthropic.NewCacheControlEphemeralParam()
		}
		blocks = append(blocks, block)
	}
	return blocks
}

func (c *AnthropicClient) messageParams(history []Message) []anthropic.MessageParam {
	out := make([]anthropic.MessageParam, 0, len(history))
	for _, m := range history {
		switch m.Role {
		case RoleAssistant:
			out = append(out, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Text)))
		default:
			out = append(out, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Text)))
		}
	}
	return out
}

func (c *AnthropicClient) Stream(ctx context.Context, system []PromptBlock, history []Message) (<-chan StreamChunk, error) {
	out := make(chan StreamChunk, 32)
	stream := c.client.Messages.NewStreaming(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 4096,
		System:    c.systemBlocks(system),
		Messages:  c.messageParams(history),
	})

	go func() {
		defer close(out)
		var message anthropic.Message
		for stream.Next() {
			event := stream.Current()
			if err := message.Accumulate(event); err != nil {
				out <- StreamChunk{Err: errors.Wrap(err, "accumulating anthropic stream")}
				return
			}
			if delta, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
				if delta.Delta.Text != "" {
					out <- StreamChunk{Delta: delta.Delta.Text}
				}
			}
		}
		if err := stream.Err(); err != nil {
			out <- StreamChunk{Err: errors.Wrap(err, "anthropic stream")}
			return
		}
		out <- StreamChunk{
			Done: true,
			Usage: &Usage{
				InputTokens:      int(message.Usage.InputTokens),
				OutputTokens:     int(message.Usage.OutputTokens),
				CacheReadTokens:  int(message.Usage.CacheReadInputTokens),
				CacheWriteTokens: int(message.Usage.CacheCreationInputTokens),
			},
		}
	}()
	return out, nil
}

func (c *AnthropicClient) Complete(ctx context.Context, system []PromptBlock) (string, *Usage, error) {
	resp, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     c.model,
		MaxTokens: 256,
		System:    c.systemBlocks(system),
		Messages:  []anthropic.MessageParam{anthropic.NewUserMessage(anthropic.NewTextBlock(""))},
	})
	if err != nil {
		return "", nil, errors.Wrap(err, "anthropic completion")
	}
	var sb strings.Builder
	for _, block := range resp.Content {
		if text, ok := block.AsAny().(anthropic.TextBlock); ok {
			sb.WriteString(text.Text)
		}
	}
	return sb.String(), &Usage{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}, nil
}

func (c *AnthropicClient) IsTransientError(err error) bool {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode == 429 || apiErr.StatusCode >= 500
	}
	return false
}
