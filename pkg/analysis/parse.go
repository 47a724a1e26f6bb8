// Package analysis extracts the rating and confidence markers from LLM chart analyses.
package analysis

import (
	"regexp"
	"strings"

	"github.com/thebtf/chartsense/pkg/models"
)

var (
	// ratingRegex matches "Rating: Bullish", "**Sentiment**: bearish", "- Bias - Neutral".
	ratingRegex = regexp.MustCompile(`(?im)^[\s*#>\-\d.]*(?:overall\s+)?(?:rating|sentiment|bias|signal)\**\s*[:\-]\s*\**\s*(bullish|bearish|neutral)\b`)

	// actionRegex matches the "Action: BUY/SELL/HOLD" line our prompt asks for.
	actionRegex = regexp.MustCompile(`(?im)^[\s*#>\-\d.]*action\**\s*[:\-]\s*\**\s*(buy|sell|hold)\b`)

	// confidenceRegex matches "Confidence: High" and "5. **Confidence Level**: low".
	confidenceRegex = regexp.MustCompile(`(?im)^[\s*#>\-\d.]*confidence(?:\s+level)?\**\s*[:\-]\s*\**\s*(high|medium|low)\b`)

	// bareMarkerRegex matches a line holding only a rating, e.g. "[BULLISH]".
	bareMarkerRegex = regexp.MustCompile(`(?i)^[\s\[*#]*(bullish|bearish|neutral)[\s\]*.!]*$`)
)

// Parsed is the structured form of an analysis response.
type Parsed struct {
	Rating     models.Rating
	Confidence models.Confidence
	Body       string
}

// Parse extracts rating and confidence from text and strips the leading marker lines.
// Missing markers fall back to Neutral and Medium.
func Parse(text string) Parsed {
	text = strings.ReplaceAll(text, "\r\n", "\n")

	return Parsed{
		Rating:     ExtractRating(text),
		Confidence: ExtractConfidence(text),
		Body:       StripMarkers(text),
	}
}

// ExtractRating returns the first rating marker found in text.
// An explicit rating wins over an action line.
func ExtractRating(text string) models.Rating {
	if m := ratingRegex.FindStringSubmatch(text); m != nil {
		return models.ParseRating(m[1])
	}
	for _, line := range strings.Split(text, "\n") {
		if m := bareMarkerRegex.FindStringSubmatch(line); m != nil {
			return models.ParseRating(m[1])
		}
	}
	if m := actionRegex.FindStringSubmatch(text); m != nil {
		return models.ParseRating(m[1])
	}
	return models.RatingNeutral
}

// ExtractConfidence returns the first confidence marker found in text.
func ExtractConfidence(text string) models.Confidence {
	if m := confidenceRegex.FindStringSubmatch(text); m != nil {
		return models.ParseConfidence(m[1])
	}
	return models.ConfidenceMedium
}

// StripMarkers removes rating and confidence marker lines from the top of text.
// Markers further down are part of the analysis and are kept.
func StripMarkers(text string) string {
	lines := strings.Split(text, "\n")

	i := 0
	for ; i < len(lines); i++ {
		line := lines[i]
		if strings.TrimSpace(line) == "" {
			continue
		}
		if !isMarkerLine(line) {
			break
		}
	}

	return strings.TrimSpace(strings.Join(lines[i:], "\n"))
}

func isMarkerLine(line string) bool {
	return ratingRegex.MatchString(line) ||
		confidenceRegex.MatchString(line) ||
		bareMarkerRegex.MatchString(line)
}
