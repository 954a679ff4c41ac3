// Package relationship extracts relationship-signal observations from
// inbound message text and accumulates them per contact into a
// decayed relationship-type score, used to pick the right persona.
package relationship

import (
	"regexp"
	"time"

	"relay/pkg/domain"
)

var patterns = []struct {
	kind       domain.RelationshipSignalKind
	re         *regexp.Regexp
	confidence float64
}{
	{domain.SignalFamilyTerm, regexp.MustCompile(`(?i)\b(mom|dad|mum|mother|father|sis|bro|grandma|grandpa|auntie|uncle)\b`), 0.7},
	{domain.SignalAffection, regexp.MustCompile(`(?i)\b(love you|miss you|xoxo)\b|❤️|😘|🥰`), 0.6},
	{domain.SignalFormalAddress, regexp.MustCompile(`(?i)\b(dear sir|dear madam|to whom it may concern)\b`), 0.92},
	{domain.SignalSharedHistory, regexp.MustCompile(`(?i)\b(remember when|back in the day|like old times|since we were kids)\b`), 0.5},
	{domain.SignalRomanticTerm, regexp.MustCompile(`(?i)\b(babe|my love|honey|can'?t wait to see you tonight)\b`), 0.8},
	{domain.SignalManagerTerm, regexp.MustCompile(`(?i)\b(my manager|my boss|your direct report|performance review)\b`), 0.65},
	{domain.SignalClientTerm, regexp.MustCompile(`(?i)\b(invoice|proposal|our contract|statement of work|deliverables?)\b`), 0.55},
	{domain.SignalColleagueTerm, regexp.MustCompile(`(?i)\b(standup|sprint|teammate|coworker|colleague)\b`), 0.5},
}

// Extract scans text for every known relationship-signal pattern and
// returns one RelationshipSignal per match kind.
func Extract(contact domain.ContactID, text string) []domain.RelationshipSignal {
	var out []domain.RelationshipSignal
	now := time.Now()
	for _, p := range patterns {
		if p.re.MatchString(text) {
			out = append(out, domain.RelationshipSignal{
				Contact:    contact,
				Kind:       p.kind,
				Confidence: p.confidence,
				DetectedAt: now,
			})
		}
	}
	return out
}

// signalRelationshipHint maps a signal kind to the relationship type
// it evidences, for the high-confidence single-request override.
var signalRelationshipHint = map[domain.RelationshipSignalKind]domain.RelationshipType{
	domain.SignalFamilyTerm:    domain.RelationshipFamily,
	domain.SignalAffection:     domain.RelationshipFriend,
	domain.SignalFormalAddress: domain.RelationshipAcquaintance,
	domain.SignalSharedHistory: domain.RelationshipFriend,
	domain.SignalRomanticTerm:  domain.RelationshipRomanticPartner,
	domain.SignalManagerTerm:   domain.RelationshipManager,
	domain.SignalClientTerm:    domain.RelationshipClient,
	domain.SignalColleagueTerm: domain.RelationshipColleague,
}

// HighConfidenceOverride returns the relationship type to use for
// this single response, if any detected signal clears the 0.9
// confidence bar the core requires for an inline override.
func HighConfidenceOverride(signals []domain.RelationshipSignal) (domain.RelationshipType, bool) {
	for _, s := range signals {
		if s.Confidence >= 0.9 {
			if rel, ok := signalRelationshipHint[s.Kind]; ok {
				return rel, true
			}
		}
	}
	return "", false
}
