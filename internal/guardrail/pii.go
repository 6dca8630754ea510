// Package guardrail holds the safety checks run around generation: PII
// redaction and injection screening on input, moderation on output.
package guardrail

import (
	"regexp"
	"strings"
)

const (
	PIIEmail      = "EMAIL"
	PIICard       = "CARD"
	PIIPhone      = "PHONE"
	PIISIN        = "SIN"
	PIIPostalCode = "POSTAL_CODE"
)

type piiRule struct {
	kind  string
	re    *regexp.Regexp
	check func(match string) bool
}

// Order matters: cards before phones, phones before SINs, so a longer
// number is never half-redacted by a shorter pattern.
var piiRules = []piiRule{
	{kind: PIIEmail, re: regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`)},
	{kind: PIICard, re: regexp.MustCompile(`\b\d(?:[ \-]?\d){12,18}\b`), check: luhn},
	{kind: PIIPhone, re: regexp.MustCompile(`(?:\+?1[ .\-]?)?(?:\(\d{3}\)|\b\d{3})[ .\-]?\d{3}[ .\-]?\d{4}\b`)},
	{kind: PIISIN, re: regexp.MustCompile(`\b\d{3}[ \-]?\d{3}[ \-]?\d{3}\b`)},
	{kind: PIIPostalCode, re: regexp.MustCompile(`(?i)\b[ABCEGHJ-NPRSTVXY]\d[ABCEGHJ-NPRSTV-Z][ \-]?\d[ABCEGHJ-NPRSTV-Z]\d\b`)},
}

// RedactPII replaces personal data in text with [REDACTED_<KIND>] markers and
// returns the kinds it found, in rule order, without duplicates.
func RedactPII(text string) (string, []string) {
	var kinds []string
	for _, rule := range piiRules {
		found := false
		text = rule.re.ReplaceAllStringFunc(text, func(m string) string {
			if rule.check != nil && !rule.check(m) {
				return m
			}
			found = true
			return "[REDACTED_" + rule.kind + "]"
		})
		if found {
			kinds = append(kinds, rule.kind)
		}
	}
	return text, kinds
}

// luhn validates the check digit of a card number, ignoring separators.
func luhn(s string) bool {
	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if len(digits) < 13 {
		return false
	}
	sum := 0
	double := false
	for i := len(digits) - 1; i >= 0; i-- {
		d := int(digits[i] - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
	}
	return sum%10 == 0
}
