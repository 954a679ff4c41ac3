// Package style maintains and formats per-contact writing-style
// profiles, and the background accumulator that updates them from
// observed outgoing messages.
package style

import (
	"fmt"
	"strings"
	"unicode"

	"relay/pkg/domain"
)

// Sample is one outgoing message's measured style features, as
// extracted by Analyze.
type Sample struct {
	Length              int
	EmojiCount          int
	HasGreeting         bool
	HasSignoff          bool
	HasBullets          bool
	HasExclamation      bool
	HasEllipsis         bool
	MissingEndingPeriod bool
	PunctuationRatio    float64
	Greeting            string
	SignOff             string
}

const (
	maxSampledPhrases  = 5
	renderedPhraseCap  = 3
	shortMessageLen    = 50
	longMessageLen     = 100
	lowEmojiFreq       = 0.2
	highEmojiFreq      = 0.8
	casualFormality    = 0.3
	formalFormality    = 0.7
	exclamationNoteMin = 0.3
)

var greetings = []string{"hi", "hello", "hey", "good morning", "good evening", "morning", "evening"}
var signoffs = []string{"bye", "talk soon", "take care", "see you", "later", "cheers", "best"}

// Analyze extracts style features from a single outgoing message.
func Analyze(text string) Sample {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	s := Sample{Length: len([]rune(text))}

	for _, g := range greetings {
		if strings.HasPrefix(lower, g) {
			s.HasGreeting = true
			s.Greeting = firstClause(trimmed)
			break
		}
	}
	for _, g := range signoffs {
		if strings.Contains(lower, g) {
			s.HasSignoff = true
			s.SignOff = lastClause(trimmed)
			break
		}
	}
	s.HasBullets = strings.Contains(text, "\n-") || strings.Contains(text, "\n*") || strings.Contains(text, "\n•")
	s.HasExclamation = strings.Contains(text, "!")
	s.HasEllipsis = strings.Contains(text, "...") || strings.Contains(text, "…")
	s.MissingEndingPeriod = trimmed != "" && !strings.HasSuffix(trimmed, ".") && !strings.HasSuffix(trimmed, "!") && !strings.HasSuffix(trimmed, "?") && !strings.HasSuffix(trimmed, "…")

	punct := 0
	total := 0
	for _, r := range text {
		if unicode.IsPunct(r) {
			punct++
		}
		if !unicode.IsSpace(r) {
			total++
		}
		if isEmojiRune(r) {
			s.EmojiCount++
		}
	}
	if total > 0 {
		s.PunctuationRatio = float64(punct) / float64(total)
	}
	return s
}

// firstClause returns a short leading slice of text, used to capture
// the actual greeting phrase rather than just a boolean.
func firstClause(text string) string {
	for _, sep := range []string{",", ".", "!", "\n"} {
		if i := strings.Index(text, sep); i > 0 && i < 30 {
			return strings.TrimSpace(text[:i])
		}
	}
	runes := []rune(text)
	if len(runes) > 30 {
		return strings.TrimSpace(string(runes[:30]))
	}
	return text
}

// lastClause returns a short trailing slice of text, used to capture
// the actual sign-off phrase rather than just a boolean.
func lastClause(text string) string {
	runes := []rune(text)
	if len(runes) > 30 {
		return strings.TrimSpace(string(runes[len(runes)-30:]))
	}
	return text
}

func isEmojiRune(r rune) bool {
	return (r >= 0x1F300 && r <= 0x1FAFF) || (r >= 0x2600 && r <= 0x27BF) || r == 0x2764 || r == 0xFE0F
}

// FormatDescriptor renders a StyleProfile as a short natural-language
// instruction block the generator can slot into the system prompt.
func FormatDescriptor(p domain.StyleProfile) string {
	if p.SampleCount == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Match this contact's communication style: ")

	switch {
	case p.AvgMessageLength < shortMessageLen:
		b.WriteString("keep replies short, a sentence or two. ")
	case p.AvgMessageLength < longMessageLen:
		b.WriteString("moderate length replies. ")
	default:
		b.WriteString("longer, more detailed replies are welcome. ")
	}

	if p.EmojiFrequency > highEmojiFreq {
		b.WriteString("Use emoji occasionally. ")
	} else if p.EmojiFrequency < lowEmojiFreq {
		b.WriteString("Avoid emoji. ")
	}

	switch {
	case p.Formality > formalFormality:
		b.WriteString("Use a formal register. ")
	case p.Formality < casualFormality:
		b.WriteString("Use a casual, relaxed register. ")
	}

	if p.UsesGreetings {
		if len(p.GreetingStyle) > 0 {
			b.WriteString("Open with a brief greeting, e.g. ")
			b.WriteString(joinSample(p.GreetingStyle))
			b.WriteString(". ")
		} else {
			b.WriteString("Open with a brief greeting. ")
		}
	}
	if p.UsesSignoffs {
		if len(p.SignOffStyle) > 0 {
			b.WriteString("Close with a brief sign-off, e.g. ")
			b.WriteString(joinSample(p.SignOffStyle))
			b.WriteString(". ")
		} else {
			b.WriteString("Close with a brief sign-off. ")
		}
	}
	if p.PreferredBullets {
		b.WriteString("Prefer bullet points for multi-part answers. ")
	}
	if p.UsesEllipsis {
		b.WriteString("Trailing off with an ellipsis now and then is in character. ")
	}
	if p.ExclamationFrequency > exclamationNoteMin {
		b.WriteString("Don't be afraid of an exclamation point. ")
	}
	if p.MissingEndingPeriod {
		b.WriteString("Dropping the final period is fine. ")
	}
	return strings.TrimSpace(b.String())
}

// joinSample renders up to renderedPhraseCap sampled phrases.
func joinSample(phrases []string) string {
	n := len(phrases)
	if n > renderedPhraseCap {
		n = renderedPhraseCap
	}
	quoted := make([]string, n)
	for i := 0; i < n; i++ {
		quoted[i] = fmt.Sprintf("%q", phrases[i])
	}
	return strings.Join(quoted, ", ")
}

// ApplySample folds one observed Sample into the running profile,
// incrementing PendingChangeCount whenever the sample meaningfully
// shifts an averaged dimension (used by the accumulator's flush gate).
func ApplySample(p *domain.StyleProfile, s Sample) {
	n := float64(p.SampleCount)
	newAvgLen := runningAverage(p.AvgMessageLength, n, float64(s.Length))
	emoji := 0.0
	if s.Length > 0 {
		emoji = float64(s.EmojiCount) / float64(s.Length)
	}
	newEmojiFreq := runningAverage(p.EmojiFrequency, n, emoji)
	newFormality := runningAverage(p.Formality, n, formalityScore(s))
	exclamation := 0.0
	if s.HasExclamation {
		exclamation = 1.0
	}
	newExclamationFreq := runningAverage(p.ExclamationFrequency, n, exclamation)

	if changed(p.AvgMessageLength, newAvgLen) || changed(p.EmojiFrequency, newEmojiFreq) || changed(p.Formality, newFormality) {
		p.PendingChangeCount++
	}
	if s.HasGreeting != p.UsesGreetings || s.HasSignoff != p.UsesSignoffs || s.HasBullets != p.PreferredBullets {
		p.PendingChangeCount++
	}

	p.AvgMessageLength = newAvgLen
	p.EmojiFrequency = newEmojiFreq
	p.Formality = newFormality
	p.ExclamationFrequency = newExclamationFreq
	p.UsesGreetings = majorityVote(p.UsesGreetings, p.SampleCount, s.HasGreeting)
	p.UsesSignoffs = majorityVote(p.UsesSignoffs, p.SampleCount, s.HasSignoff)
	p.PreferredBullets = majorityVote(p.PreferredBullets, p.SampleCount, s.HasBullets)
	p.UsesEllipsis = majorityVote(p.UsesEllipsis, p.SampleCount, s.HasEllipsis)
	p.MissingEndingPeriod = majorityVote(p.MissingEndingPeriod, p.SampleCount, s.MissingEndingPeriod)

	if s.Greeting != "" {
		p.GreetingStyle = appendSampled(p.GreetingStyle, s.Greeting)
	}
	if s.SignOff != "" {
		p.SignOffStyle = appendSampled(p.SignOffStyle, s.SignOff)
	}

	p.SampleCount++
}

// appendSampled appends phrase to samples, capping at maxSampledPhrases
// by dropping the oldest once full — a rolling window of recent
// phrasing rather than a permanently frozen first handful.
func appendSampled(samples []string, phrase string) []string {
	for _, existing := range samples {
		if existing == phrase {
			return samples
		}
	}
	samples = append(samples, phrase)
	if len(samples) > maxSampledPhrases {
		samples = samples[len(samples)-maxSampledPhrases:]
	}
	return samples
}

func runningAverage(avg, n, value float64) float64 {
	return (avg*n + value) / (n + 1)
}

func changed(before, after float64) bool {
	if before == 0 {
		return after != 0
	}
	delta := (after - before) / before
	if delta < 0 {
		delta = -delta
	}
	return delta > 0.15
}

func majorityVote(current bool, n int, sample bool) bool {
	if n == 0 {
		return sample
	}
	// No vote counts are kept: the latest sample always wins, so a
	// single disagreeing sample flips the existing belief.
	if current == sample {
		return current
	}
	return sample
}

func formalityScore(s Sample) float64 {
	score := s.PunctuationRatio
	if s.HasGreeting {
		score += 0.1
	}
	if score > 1 {
		score = 1
	}
	return score
}

// Describe is a debugging helper that renders a profile's key fields
// on one line.
func Describe(p domain.StyleProfile) string {
	return fmt.Sprintf("len=%.0f emoji=%.2f formal=%.2f samples=%d pending=%d",
		p.AvgMessageLength, p.EmojiFrequency, p.Formality, p.SampleCount, p.PendingChangeCount)
}
