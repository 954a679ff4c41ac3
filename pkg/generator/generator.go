// Package generator turns assembled context into a response: a
// short, low-effort reply for phatic messages, and a persona- and
// history-aware LLM-driven reply for substantive ones, tracking
// token usage by category as it goes.
package generator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"relay/pkg/assembler"
	"relay/pkg/classifier"
	"relay/pkg/kv"
	"relay/pkg/llmclient"
)

// Generator produces the outgoing text for a classified message.
type Generator struct {
	client llmclient.Client
	kv     kv.Store
}

func New(client llmclient.Client, kvStore kv.Store) *Generator {
	return &Generator{client: client, kv: kvStore}
}

// Generate returns the response text for msg, given its class and
// assembled context.
func (g *Generator) Generate(ctx context.Context, class classifier.Class, text string, assembled assembler.Context) (string, error) {
	if class == classifier.ClassPhatic {
		return g.generatePhatic(ctx, assembled)
	}
	return g.generateSubstantive(ctx, text, assembled)
}

// generatePhatic asks the model for a short, low-effort acknowledgment
// to a purely conversational message. It still calls out to the LLM —
// with the persona's style guide but no conversation history, since a
// one-line ack needs no context — so it still costs (and records)
// real tokens rather than faking a free reply.
func (g *Generator) generatePhatic(ctx context.Context, assembled assembler.Context) (string, error) {
	system := g.buildPhaticSystemPrompt(assembled)
	reply, usage, err := g.client.Complete(ctx, system)
	if err != nil {
		return "", err
	}
	if usage != nil {
		g.recordUsage(ctx, usage)
	}
	return strings.TrimSpace(reply), nil
}

func (g *Generator) generateSubstantive(ctx context.Context, text string, assembled assembler.Context) (string, error) {
	system := g.buildSystemPrompt(assembled)
	history := make([]llmclient.Message, 0, len(assembled.History)+1)
	for _, m := range assembled.History {
		role := llmclient.RoleUser
		if m.Role == "assistant" {
			role = llmclient.RoleAssistant
		}
		history = append(history, llmclient.Message{Role: role, Text: m.Text})
	}
	history = append(history, llmclient.Message{Role: llmclient.RoleUser, Text: text})

	chunks, err := g.client.Stream(ctx, system, history)
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	var usage *llmclient.Usage
	for chunk := range chunks {
		if chunk.Err != nil {
			return "", chunk.Err
		}
		sb.WriteString(chunk.Delta)
		if chunk.Done {
			usage = chunk.Usage
		}
	}

	if usage != nil {
		g.recordUsage(ctx, usage)
	}
	return sb.String(), nil
}

// buildSystemPrompt assembles the multi-block system prompt in a
// fixed order: a role preamble, the persona style guide, graph/contact
// recall, the style summary, who's on the other end, and a closing
// guideline. The persona, graph recall, and style summary rarely
// change between turns with the same contact, so they're marked
// cacheable; the display name and closing instruction aren't.
func (g *Generator) buildSystemPrompt(assembled assembler.Context) []llmclient.PromptBlock {
	blocks := []llmclient.PromptBlock{
		{Text: rolePreamble, Cacheable: true},
		{Text: assembled.Persona.SystemPrompt, Cacheable: true},
	}
	if assembled.Persona.Tone != "" {
		blocks = append(blocks, llmclient.PromptBlock{Text: "Tone: " + assembled.Persona.Tone, Cacheable: true})
	}
	if assembled.GraphContext != "" {
		blocks = append(blocks, llmclient.PromptBlock{Text: assembled.GraphContext, Cacheable: true})
	}
	if assembled.StyleDescriptor != "" {
		blocks = append(blocks, llmclient.PromptBlock{Text: assembled.StyleDescriptor, Cacheable: true})
	}
	if assembled.DisplayName != "" {
		blocks = append(blocks, llmclient.PromptBlock{Text: fmt.Sprintf("You are speaking with %s.", assembled.DisplayName)})
	}
	blocks = append(blocks, llmclient.PromptBlock{Text: responseGuidelines})
	return blocks
}

// buildPhaticSystemPrompt is the phatic-path variant: persona and
// style only, no graph recall, no display name, no history — just
// enough to keep the one-liner in character.
func (g *Generator) buildPhaticSystemPrompt(assembled assembler.Context) []llmclient.PromptBlock {
	blocks := []llmclient.PromptBlock{
		{Text: assembled.Persona.SystemPrompt, Cacheable: true},
	}
	if assembled.Persona.Tone != "" {
		blocks = append(blocks, llmclient.PromptBlock{Text: "Tone: " + assembled.Persona.Tone, Cacheable: true})
	}
	if assembled.StyleDescriptor != "" {
		blocks = append(blocks, llmclient.PromptBlock{Text: assembled.StyleDescriptor, Cacheable: true})
	}
	blocks = append(blocks, llmclient.PromptBlock{Text: phaticGuideline})
	return blocks
}

const rolePreamble = "You are responding on the operator's behalf over a personal messaging channel. Stay in character as the operator; never mention that replies are automated."

const responseGuidelines = "Reply naturally in the operator's own voice, matching their usual style. Keep the reply focused on what was actually asked — no filler, no repeating these instructions."

const phaticGuideline = "The incoming message is purely conversational filler (a thanks, an ok, an emoji). Reply with a single short, natural acknowledgment — a few words at most, no questions, no new topics."

func (g *Generator) recordUsage(ctx context.Context, usage *llmclient.Usage) {
	dateKey := time.Now().Format("2006-01-02")
	for kind, n := range map[string]int64{
		"input":       int64(usage.InputTokens),
		"output":      int64(usage.OutputTokens),
		"cache_read":  int64(usage.CacheReadTokens),
		"cache_write": int64(usage.CacheWriteTokens),
	} {
		if n == 0 {
			continue
		}
		if err := g.kv.IncrTokenStats(ctx, dateKey, kind, n); err != nil {
			slog.Warn("failed to record token stats", "kind", kind, "error", err)
		}
	}
}
