// Package classifier decides whether an inbound message is "phatic"
// (a greeting, acknowledgement, or other low-content exchange) or
// "substantive" (worth a full context-assembled response), using a
// fast heuristic path before ever calling the LLM.
package classifier

import (
	"context"
	"strings"
	"unicode"

	"relay/pkg/llmclient"
)

// Class is the classifier's verdict.
type Class string

const (
	ClassPhatic      Class = "phatic"
	ClassSubstantive Class = "substantive"
)

var ackTokens = map[string]struct{}{
	"ok": {}, "okay": {}, "k": {}, "kk": {}, "yes": {}, "yep": {}, "yup": {},
	"no": {}, "nope": {}, "sure": {}, "thanks": {}, "thank you": {}, "thx": {},
	"ty": {}, "np": {}, "cool": {}, "nice": {}, "lol": {}, "haha": {}, "lmao": {},
	"got it": {}, "alright": {}, "bet": {},
}

// Classifier runs the fast-path heuristics described in the core
// spec and falls back to the small LLM tier only when they are
// inconclusive.
type Classifier struct {
	small llmclient.Client
}

func New(small llmclient.Client) *Classifier {
	return &Classifier{small: small}
}

// Classify returns the message's class. It never returns an error for
// the fast path; the LLM fallback's error, if any, is treated as
// substantive (the conservative default — a misclassified phatic
// message costs a slightly wasted response, a misclassified
// substantive message costs a missed one).
func (c *Classifier) Classify(ctx context.Context, text string) Class {
	if class, ok := fastPath(text); ok {
		return class
	}
	if c.small == nil {
		return ClassSubstantive
	}
	class, err := c.llmClassify(ctx, text)
	if err != nil {
		return ClassSubstantive
	}
	return class
}

func fastPath(text string) (Class, bool) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return ClassPhatic, true
	}
	if strings.ContainsRune(trimmed, '?') {
		return ClassSubstantive, true
	}
	if isEmojiOnly(trimmed) && len([]rune(trimmed)) <= 10 {
		return ClassPhatic, true
	}
	lower := strings.ToLower(trimmed)
	if _, ok := ackTokens[lower]; ok {
		return ClassPhatic, true
	}
	words := strings.Fields(trimmed)
	if len(words) <= 2 && !hasInterrogativeHead(lower) {
		return ClassPhatic, true
	}
	return "", false
}

var interrogativeHeads = []string{"who", "what", "when", "where", "why", "how", "which", "can", "could", "would", "should", "is", "are", "do", "does", "did"}

func hasInterrogativeHead(lower string) bool {
	words := strings.Fields(lower)
	if len(words) == 0 {
		return false
	}
	head := words[0]
	for _, h := range interrogativeHeads {
		if head == h {
			return true
		}
	}
	return false
}

func isEmojiOnly(s string) bool {
	found := false
	for _, r := range s {
		if unicode.IsSpace(r) {
			continue
		}
		if !isEmojiRune(r) {
			return false
		}
		found = true
	}
	return found
}

func isEmojiRune(r rune) bool {
	switch {
	case r >= 0x1F300 && r <= 0x1FAFF:
		return true
	case r >= 0x2600 && r <= 0x27BF:
		return true
	case r >= 0x2190 && r <= 0x21FF:
		return true
	case r == 0x2764 || r == 0xFE0F:
		return true
	}
	return false
}

func (c *Classifier) llmClassify(ctx context.Context, text string) (Class, error) {
	prompt := []llmclient.PromptBlock{
		{Text: "Classify the following message as exactly one word, 'phatic' or 'substantive'. phatic means a greeting, small talk, or acknowledgement with no information need. Reply with one word only."},
		{Text: text},
	}
	reply, _, err := c.small.Complete(ctx, prompt)
	if err != nil {
		return "", err
	}
	if strings.Contains(strings.ToLower(reply), "phatic") {
		return ClassPhatic, nil
	}
	return ClassSubstantive, nil
}
