package guardrail

import (
	"context"
	"sync"

	ahocorasick "github.com/cloudflare/ahocorasick"
)

// Verdict is the result of moderating one text. Severity is in [0, 1].
type Verdict struct {
	Category string
	Severity float64
	Flagged  bool
}

type Moderator interface {
	Moderate(ctx context.Context, text string) (Verdict, error)
}

// Term is one lexicon entry.
type Term struct {
	Phrase   string
	Category string
	Weight   float64
}

// DefaultLexicon targets content an official tax assistant must never emit.
// Entries are phrases rather than single words to keep tax answers clear of
// false positives.
var DefaultLexicon = []Term{
	{"kill yourself", "self_harm", 1.0},
	{"you should die", "self_harm", 0.9},
	{"end your life", "self_harm", 0.9},
	{"tue-toi", "self_harm", 1.0},
	{"suicide-toi", "self_harm", 1.0},
	{"i will kill you", "violence", 1.0},
	{"how to make a bomb", "violence", 1.0},
	{"build a weapon", "violence", 0.8},
	{"je vais te tuer", "violence", 1.0},
	{"fabriquer une bombe", "violence", 1.0},
	{"inferior race", "hate", 0.9},
	{"race inférieure", "hate", 0.9},
	// illegal terms match the how-to form only; warnings must pass
	{"how to hide income from the cra", "illegal", 0.85},
	{"how to evade tax", "illegal", 0.85},
	{"how to launder money", "illegal", 0.85},
	{"how to make fake receipts", "illegal", 0.85},
	{"comment frauder le fisc", "illegal", 0.85},
	{"comment blanchir de l'argent", "illegal", 0.85},
	{"comment faire de fausses factures", "illegal", 0.85},
	{"explicit sexual", "sexual", 0.9},
}

// LexiconModerator scores text by the heaviest lexicon term it contains.
type LexiconModerator struct {
	threshold float64

	mu      sync.Mutex
	matcher *ahocorasick.Matcher
	terms   []Term
}

// NewLexiconModerator flags texts whose severity reaches threshold. nil terms
// means DefaultLexicon.
func NewLexiconModerator(threshold float64, terms []Term) *LexiconModerator {
	if terms == nil {
		terms = DefaultLexicon
	}
	m := &LexiconModerator{threshold: threshold}
	keys := make([]string, 0, len(terms))
	for _, t := range terms {
		p := normalizeText(t.Phrase)
		if p == "" {
			continue
		}
		t.Phrase = p
		m.terms = append(m.terms, t)
		keys = append(keys, p)
	}
	if len(keys) > 0 {
		m.matcher = ahocorasick.NewStringMatcher(keys)
	}
	return m
}

func (m *LexiconModerator) Moderate(ctx context.Context, text string) (Verdict, error) {
	if err := ctx.Err(); err != nil {
		return Verdict{}, err
	}
	if m.matcher == nil {
		return Verdict{}, nil
	}

	m.mu.Lock()
	hits := m.matcher.Match([]byte(normalizeText(text)))
	m.mu.Unlock()

	var v Verdict
	best := -1
	for _, h := range hits {
		t := m.terms[h]
		// ties go to the earlier lexicon entry
		if best < 0 || t.Weight > v.Severity || (t.Weight == v.Severity && h < best) {
			best = h
			v.Severity = t.Weight
			v.Category = t.Category
		}
	}
	v.Flagged = v.Severity > 0 && v.Severity >= m.threshold
	return v, nil
}

var _ Moderator = (*LexiconModerator)(nil)
