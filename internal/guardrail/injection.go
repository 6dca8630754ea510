package guardrail

import (
	"strings"
	"sync"

	ahocorasick "github.com/cloudflare/ahocorasick"
)

// DefaultInjectionPhrases are matched against lower-cased, whitespace
// collapsed input.
var DefaultInjectionPhrases = []string{
	"ignore previous instructions",
	"ignore all previous",
	"ignore the previous instructions",
	"ignore your instructions",
	"ignore the above",
	"disregard the above",
	"disregard previous instructions",
	"disregard all prior",
	"forget your instructions",
	"forget all previous",
	"you are now",
	"pretend you are",
	"act as if you have no restrictions",
	"system prompt",
	"reveal your prompt",
	"developer mode",
	"jailbreak",
	"ignorez les instructions précédentes",
	"ignore les instructions précédentes",
	"ignorez toutes les instructions",
	"oubliez vos instructions",
	"oublie tes instructions",
	"ne tenez pas compte des instructions",
	"vous êtes maintenant",
	"tu es maintenant",
	"invite système",
	"prompt système",
}

// InjectionDetector flags prompt-injection attempts by phrase matching.
type InjectionDetector struct {
	mu      sync.Mutex // Matcher.Match keeps per-call state in the trie
	matcher *ahocorasick.Matcher
	phrases []string
}

// NewInjectionDetector builds the automaton. nil phrases means the defaults.
func NewInjectionDetector(phrases []string) *InjectionDetector {
	if phrases == nil {
		phrases = DefaultInjectionPhrases
	}
	d := &InjectionDetector{phrases: make([]string, 0, len(phrases))}
	for _, p := range phrases {
		if p = normalizeText(p); p != "" {
			d.phrases = append(d.phrases, p)
		}
	}
	if len(d.phrases) > 0 {
		d.matcher = ahocorasick.NewStringMatcher(d.phrases)
	}
	return d
}

// Detect returns the first configured phrase found in text.
func (d *InjectionDetector) Detect(text string) (phrase string, ok bool) {
	if d.matcher == nil {
		return "", false
	}
	norm := normalizeText(text)
	if norm == "" {
		return "", false
	}

	d.mu.Lock()
	hits := d.matcher.Match([]byte(norm))
	d.mu.Unlock()

	if len(hits) == 0 {
		return "", false
	}
	first := hits[0]
	for _, h := range hits[1:] {
		if h < first {
			first = h
		}
	}
	return d.phrases[first], true
}

var apostrophes = strings.NewReplacer("’", "'", "‘", "'", "`", "'")

// normalizeText lower-cases, unifies apostrophes and collapses whitespace.
func normalizeText(s string) string {
	s = apostrophes.Replace(strings.ToLower(s))
	return strings.Join(strings.Fields(s), " ")
}
