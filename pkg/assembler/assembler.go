// Package assembler builds the context a response generator needs:
// persona, style descriptor, bounded history, and contact info, each
// retrieved independently and fail-soft — a failure in one retrieval
// never blocks the others or the response itself.
package assembler

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"relay/pkg/domain"
	"relay/pkg/kv"
	"relay/pkg/mem"
	"relay/pkg/style"
)

// Context is the assembled material the response generator consumes.
type Context struct {
	Persona         domain.Persona
	StyleDescriptor string
	History         []domain.ConversationMessage
	DisplayName     string
	GraphContext    string
}

// hardFallbackPersona is the last-resort persona used when neither an
// explicit PersonaID, an applicable-to match, nor the configured
// default persona resolves — so Generate always has a system prompt
// to work from, even on a totally fresh install with no personas
// configured yet.
var hardFallbackPersona = domain.Persona{
	ID:           "fallback",
	Relationship: domain.RelationshipUnknown,
	SystemPrompt: "You are a helpful, friendly assistant replying on the operator's behalf. Keep responses natural, concise, and polite.",
}

// Assembler fans out the four retrievals in parallel.
type Assembler struct {
	mem               mem.Store
	kv                kv.Store
	historyMaxLen     int
	historyTTL        time.Duration
	styleCacheTTL     time.Duration
	defaultPersona    domain.Persona
}

func New(memStore mem.Store, kvStore kv.Store, historyMaxLen int, historyTTL, styleCacheTTL time.Duration, defaultPersona domain.Persona) *Assembler {
	return &Assembler{
		mem: memStore, kv: kvStore,
		historyMaxLen: historyMaxLen, historyTTL: historyTTL, styleCacheTTL: styleCacheTTL,
		defaultPersona: defaultPersona,
	}
}

// Assemble runs the four-way fan-out described by the core: persona
// selection, style-profile cache read-through, bounded history, and
// graph-context retrieval; the display name is copied from approved.
// An override relationship type (from a
// high-confidence relationship signal) takes precedence over the
// contact's stored relationship for persona selection only.
func (a *Assembler) Assemble(ctx context.Context, approved domain.ApprovedContact, overrideRelationship domain.RelationshipType) Context {
	result := Context{Persona: a.defaultPersona, DisplayName: approved.DisplayName}

	g, gctx := errgroup.WithContext(ctx)

	relationship := approved.Relationship
	if overrideRelationship != "" {
		relationship = overrideRelationship
	}

	g.Go(func() error {
		result.Persona = a.resolvePersona(gctx, approved, relationship)
		return nil
	})

	g.Go(func() error {
		if cached, ok, err := a.kv.GetStyleCache(gctx, approved.Contact); err == nil && ok {
			result.StyleDescriptor = cached
			return nil
		}
		profile, err := a.mem.GetStyleProfile(gctx, approved.Contact)
		if err != nil {
			slog.Warn("style profile retrieval failed", "error", err)
			return nil
		}
		// Fewer than 10 samples isn't enough to trust the fingerprint
		// yet; fall back to no style guidance rather than shape
		// replies around a handful of messages.
		if profile == nil || profile.SampleCount < 10 {
			return nil
		}
		descriptor := style.FormatDescriptor(*profile)
		result.StyleDescriptor = descriptor
		if err := a.kv.SetStyleCache(gctx, approved.Contact, descriptor, a.styleCacheTTL); err != nil {
			slog.Warn("style cache write failed", "error", err)
		}
		return nil
	})

	g.Go(func() error {
		history, err := a.kv.GetHistory(gctx, approved.Contact)
		if err != nil {
			slog.Warn("history retrieval failed", "error", err)
			return nil
		}
		if len(history) > a.historyMaxLen {
			history = history[len(history)-a.historyMaxLen:]
		}
		result.History = history
		return nil
	})

	g.Go(func() error {
		graphCtx, err := a.mem.GetContext(gctx, approved.Contact)
		if err != nil {
			slog.Warn("graph context retrieval failed", "error", err)
			return nil
		}
		if graphCtx == nil {
			return nil
		}
		result.GraphContext = formatGraphContext(*graphCtx)
		return nil
	})

	_ = g.Wait() // every goroutine above swallows its own error; Wait only joins them

	return result
}

// resolvePersona runs the four-step persona fallback: an explicit
// per-contact PersonaID override, then the persona whose ApplicableTo
// set contains relationship, then the configured default persona,
// then a hard-coded fallback so a reply is always possible.
func (a *Assembler) resolvePersona(ctx context.Context, approved domain.ApprovedContact, relationship domain.RelationshipType) domain.Persona {
	if approved.PersonaID != "" {
		persona, err := a.mem.GetPersonaByID(ctx, approved.PersonaID)
		if err != nil {
			slog.Warn("explicit persona lookup failed, falling back", "personaId", approved.PersonaID, "error", err)
		} else if persona != nil {
			return *persona
		}
	}

	persona, err := a.mem.GetPersona(ctx, relationship)
	if err != nil {
		slog.Warn("persona retrieval failed, falling back", "relationship", relationship, "error", err)
	} else if persona != nil {
		return *persona
	}

	if a.defaultPersona.SystemPrompt != "" {
		return a.defaultPersona
	}
	return hardFallbackPersona
}

// formatGraphContext renders the graph/contact-info recall into the
// free-text block the generator's system prompt embeds.
func formatGraphContext(g domain.GraphContext) string {
	var sb strings.Builder
	sb.WriteString("Known context about this contact:")
	if len(g.RelatedPeople) > 0 {
		sb.WriteString("\n- Related people: ")
		sb.WriteString(strings.Join(g.RelatedPeople, ", "))
	}
	if len(g.Topics) > 0 {
		sb.WriteString("\n- Topics discussed before: ")
		sb.WriteString(strings.Join(g.Topics, ", "))
	}
	if len(g.Events) > 0 {
		sb.WriteString("\n- Relevant events: ")
		sb.WriteString(strings.Join(g.Events, ", "))
	}
	if len(g.RelatedPeople) == 0 && len(g.Topics) == 0 && len(g.Events) == 0 {
		return ""
	}
	return sb.String()
}
