// Package privacy scrubs analysis text before it is persisted.
package privacy

import (
	"regexp"
	"strings"
)

// Redacted replaces every secret removed by RedactKeys.
const Redacted = "[REDACTED]"

var (
	// privateTagRegex matches <private>...</private> tags.
	privateTagRegex = regexp.MustCompile(`(?s)<private>.*?</private>`)

	// keyRegexes match provider API keys that can leak into a pasted analysis.
	// Each starts at a word boundary so words like "risk-adjusted" are left alone.
	keyRegexes = []*regexp.Regexp{
		regexp.MustCompile(`\bsk-ant-[A-Za-z0-9_\-]{20,}`),
		regexp.MustCompile(`\bsk-or-v1-[A-Za-z0-9]{20,}`),
		regexp.MustCompile(`\bsk-(?:proj-)?[A-Za-z0-9_\-]{20,}`),
		regexp.MustCompile(`\bAIza[0-9A-Za-z_\-]{35}`),
		regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9._\-]{20,}`),
	}
)

// StripPrivateTags removes all <private>...</private> content from text.
func StripPrivateTags(text string) string {
	return privateTagRegex.ReplaceAllString(text, "")
}

// RedactKeys replaces API keys and bearer credentials with Redacted.
func RedactKeys(text string) string {
	for _, re := range keyRegexes {
		text = re.ReplaceAllString(text, Redacted)
	}
	return text
}

// Redact strips private spans and redacts keys, leaving all other text byte for byte.
func Redact(text string) string {
	return RedactKeys(StripPrivateTags(text))
}

// Clean redacts text and trims surrounding whitespace. Used for raw LLM output.
func Clean(text string) string {
	return strings.TrimSpace(Redact(text))
}
