// Package lang detects whether text or a page is English or French.
package lang

import (
	"net/url"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	English = "en"
	French  = "fr"
)

var frenchPatterns = compile(
	`\b(je|tu|il|elle|nous|vous|ils|elles)\b`,
	`\b(le|la|les|un|une|des)\b`,
	`\b(est|sont|avoir|être|fait)\b`,
	`\b(pour|avec|dans|sur|sous)\b`,
	`\b(comment|pourquoi|quand|où|qui|quoi)\b`,
	`\b(impôt|impôts|crédit|déclaration|revenu)\b`,
	`\b(merci|bonjour|salut|s'il vous plaît)\b`,
	`\bqu[e']`,
	`[àâäéèêëïîôùûüç]`,
)

var englishPatterns = compile(
	`\b(i|you|he|she|we|they)\b`,
	`\b(the|a|an)\b`,
	`\b(is|are|was|were|have|has)\b`,
	`\b(for|with|in|on|at)\b`,
	`\b(how|why|when|where|who|what)\b`,
	`\b(tax|taxes|credit|return|income)\b`,
	`\b(thank|hello|please)\b`,
)

// RE2's \b only knows ASCII word characters, so "où" or "être" would never
// match. \b is rewritten to a letter-aware boundary that consumes one
// non-word rune; score pads the text and resumes on that rune so adjacent
// words still count.
const boundary = `[^\p{L}\p{N}_]`

func compile(patterns ...string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		if strings.HasPrefix(p, `\b`) {
			p = boundary + p[2:]
		}
		if strings.HasSuffix(p, `\b`) {
			p = p[:len(p)-2] + boundary
		}
		out = append(out, regexp.MustCompile(`(?i)`+p))
	}
	return out
}

func score(text string, patterns []*regexp.Regexp) int {
	text = " " + text + " "
	n := 0
	for _, re := range patterns {
		for off := 0; off < len(text); {
			loc := re.FindStringIndex(text[off:])
			if loc == nil {
				break
			}
			n++
			start, next := off+loc[0], off+loc[1]
			if r, size := utf8.DecodeLastRuneInString(text[start:next]); !isWordRune(r) && next-size > start {
				next -= size
			}
			off = max(next, off+1)
		}
	}
	return n
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// Detect classifies text as English or French. ok is false when neither
// language produced a single signal, in which case the caller should fall
// back to what it already knows.
//
// French needs a score above 80% of the English score to win, since short
// French messages share many tokens with English ones.
func Detect(text string) (code string, ok bool) {
	text = strings.ToLower(strings.TrimSpace(text))
	if text == "" {
		return English, false
	}
	fr := score(text, frenchPatterns)
	en := score(text, englishPatterns)
	if fr == 0 && en == 0 {
		return English, false
	}
	if float64(fr) > float64(en)*0.8 {
		return French, true
	}
	return English, true
}

// FromURL reads the language segment of a Canada.ca style path.
func FromURL(raw string) (string, bool) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", false
	}
	p := strings.ToLower(u.Path) + "/"
	switch {
	case strings.Contains(p, "/fr/"):
		return French, true
	case strings.Contains(p, "/en/"):
		return English, true
	}
	return "", false
}

// Normalize turns an HTML lang attribute such as "fr-CA" into "fr".
func Normalize(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if i := strings.IndexAny(code, "-_"); i > 0 {
		code = code[:i]
	}
	return code
}

// Other returns the first supported language different from code.
func Other(code string, supported []string) (string, bool) {
	for _, s := range supported {
		if s != code {
			return s, true
		}
	}
	return "", false
}

func Supported(code string, supported []string) bool {
	for _, s := range supported {
		if s == code {
			return true
		}
	}
	return false
}
