package domain

import (
	"fmt"
	"strings"
)

// AllocationVerdict is the closed result of ValidateAllocation.
type AllocationVerdict string

const (
	AllocationOK      AllocationVerdict = "ok"
	AllocationWarning AllocationVerdict = "warning"
	AllocationError   AllocationVerdict = "error"
)

// AllocationResult carries the verdict plus the sum it was computed
// from, for display and for the explicit-override path.
type AllocationResult struct {
	Verdict AllocationVerdict
	Sum     int
}

// ValidateAllocation sums TimeAllocationPct across problems and
// classifies the result: green (ok) if the sum is in [95,105], yellow
// (warning) if in [90,94] or [106,110], red (error) otherwise.
func ValidateAllocation(problems []Problem) AllocationResult {
	sum := 0
	for _, p := range problems {
		sum += p.TimeAllocationPct
	}
	switch {
	case sum >= 95 && sum <= 105:
		return AllocationResult{Verdict: AllocationOK, Sum: sum}
	case (sum >= 90 && sum <= 94) || (sum >= 106 && sum <= 110):
		return AllocationResult{Verdict: AllocationWarning, Sum: sum}
	default:
		return AllocationResult{Verdict: AllocationError, Sum: sum}
	}
}

// ValidatePersonaFields checks the bounded free-text fields of a
// Persona, returning a ValidationFailure naming the offending field or
// nil.
func ValidatePersonaFields(p Persona) error {
	type bound struct {
		name     string
		value    string
		min, max int
	}
	bounds := []bound{
		{"name", p.Name, 1, 50},
		{"background", p.Background, 10, 300},
		{"communication_style", p.CommunicationStyle, 10, 200},
		{"signature_phrase", p.SignaturePhrase, 0, 100},
	}
	for _, b := range bounds {
		n := len(b.value)
		if n < b.min || n > b.max {
			return ValidationFailure(b.name, fmt.Errorf("length %d out of range [%d,%d]", n, b.min, b.max))
		}
	}
	return nil
}

// betTransitions is the closed adjacency list of legal bet status
// moves. open is the only state with graceful exits (correct, wrong,
// expired); expired permits the same two outcomes retroactively.
// correct and wrong are terminal.
var betTransitions = map[BetStatus]map[BetStatus]bool{
	BetOpen:    {BetCorrect: true, BetWrong: true, BetExpired: true},
	BetExpired: {BetCorrect: true, BetWrong: true},
}

// ValidateBetTransition reports whether moving a bet from current to
// target is legal.
func ValidateBetTransition(current, target BetStatus) error {
	if allowed, ok := betTransitions[current]; ok && allowed[target] {
		return nil
	}
	return ValidationFailure("bet_transition", fmt.Errorf("%s -> %s not permitted", current, target))
}

// ValidateProblemDeletion refuses a deletion that would drop the
// portfolio below its minimum size.
func ValidateProblemDeletion(currentCount int) error {
	if currentCount-1 < 3 {
		return ErrMinimumProblemsViolation
	}
	return nil
}

// vagueQualifiers is the fixed, extensible closed list of generic
// qualifiers that count toward a vague verdict.
var vagueQualifiers = []string{
	"stuff", "things", "helped", "a lot", "various", "some",
	"improve", "kind of", "sort of",
}

// timelineMarkers, stakeholderMarkers, and outcomeMarkers are crude
// lexical signals that an answer names a when/who/result, enough to
// pull it out of the vague bucket even if it also uses a generic
// qualifier.
var timelineMarkers = []string{
	"today", "yesterday", "monday", "tuesday", "wednesday", "thursday",
	"friday", "this week", "last week", "this morning", "this afternoon",
	"at ", "on ", "by ",
}

var stakeholderMarkers = []string{
	"with ", "for ", "told ", "asked ", "manager", "director", "vp",
	"ceo", "client", "customer", "team", "@",
}

var outcomeMarkers = []string{
	"shipped", "closed", "signed", "approved", "launched", "fixed",
	"resolved", "merged", "deployed", "%", "$",
}

// VaguenessVerdict is the closed result of ClassifyVagueness.
type VaguenessVerdict string

const (
	Concrete VaguenessVerdict = "concrete"
	Vague    VaguenessVerdict = "vague"
)

// ClassifyVagueness returns Vague iff all three hold: no named instance
// (heuristically approximated by the absence of capitalized proper-noun-
// shaped tokens), the text contains a generic qualifier from the fixed
// closed list, and the text lacks any timeline, stakeholder, or
// observable-outcome marker. The heuristic is the primary signal; the AI
// Adapter may be consulted as a confirmatory second pass.
func ClassifyVagueness(answer string) VaguenessVerdict {
	lower := strings.ToLower(answer)

	hasQualifier := false
	for _, q := range vagueQualifiers {
		if strings.Contains(lower, q) {
			hasQualifier = true
			break
		}
	}
	if !hasQualifier {
		return Concrete
	}

	if hasNamedInstance(answer) {
		return Concrete
	}

	if containsAny(lower, timelineMarkers) || containsAny(lower, stakeholderMarkers) || containsAny(lower, outcomeMarkers) {
		return Concrete
	}

	return Vague
}

// hasNamedInstance looks for a capitalized word that is not sentence-
// initial and is not the pronoun "I", a rough but cheap proxy for a
// named project, meeting, decision, deliverable, or person.
func hasNamedInstance(answer string) bool {
	fields := strings.Fields(answer)
	for i, w := range fields {
		if i == 0 {
			continue
		}
		r := []rune(strings.TrimFunc(w, func(r rune) bool {
			return !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z'))
		}))
		if len(r) == 0 {
			continue
		}
		if s := string(r); s == "I" || strings.HasPrefix(s, "I'") {
			continue
		}
		if r[0] >= 'A' && r[0] <= 'Z' {
			return true
		}
	}
	return false
}

// containsAny reports whether any needle occurs in haystack. A needle
// that starts with a letter only counts where it begins a word, so
// "at " does not match inside "that ".
func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		for from := 0; ; {
			i := strings.Index(haystack[from:], n)
			if i < 0 {
				break
			}
			i += from
			if n[0] < 'a' || n[0] > 'z' || i == 0 || haystack[i-1] < 'a' || haystack[i-1] > 'z' {
				return true
			}
			from = i + 1
		}
	}
	return false
}

// defaultEvidenceStrength maps an EvidenceType to its baseline strength.
var defaultEvidenceStrength = map[EvidenceType]EvidenceStrength{
	EvidenceDecision: StrengthStrong,
	EvidenceArtifact: StrengthStrong,
	EvidenceCalendar: StrengthWeak,
	EvidenceProxy:    StrengthMedium,
	EvidenceNone:     StrengthNone,
}

// DefaultEvidenceStrength returns the baseline strength for an evidence
// type before any validator adjustment.
func DefaultEvidenceStrength(t EvidenceType) EvidenceStrength {
	return defaultEvidenceStrength[t]
}

// strengthRank orders strengths so AdjustEvidenceStrength can enforce
// "never stronger, only weaker".
var strengthRank = map[EvidenceStrength]int{
	StrengthStrong: 3,
	StrengthMedium: 2,
	StrengthWeak:   1,
	StrengthNone:   0,
}

// AdjustEvidenceStrength returns proposed if it is no stronger than
// current, otherwise it returns current unchanged. The validator is
// never permitted to strengthen an evidence item's recorded strength.
func AdjustEvidenceStrength(current, proposed EvidenceStrength) EvidenceStrength {
	if strengthRank[proposed] <= strengthRank[current] {
		return proposed
	}
	return current
}
