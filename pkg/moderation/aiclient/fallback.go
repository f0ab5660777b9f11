package aiclient

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/aegis-moderation/aegis/pkg/moderation"
)

// The free-text fallback recovers a decision from prose when the model
// ignored the JSON instruction. Precision is secondary to never failing: it
// always produces an outcome, defaulting to approve so a flaky model cannot
// silently suppress legitimate comments.

const (
	fallbackDefaultConfidence  = 0.7
	fallbackHighSpamConfidence = 0.95
)

var (
	// Explicit "decision: spam" style labels.
	labelPattern = regexp.MustCompile(`(?i)\b(?:decision|classification|verdict|label|outcome)\s*[:=]\s*"?(approve|reject|spam)\b`)

	// JSON-ish fragments inside prose, e.g. a half-formed `"decision": "spam"`.
	quotedPattern = regexp.MustCompile(`(?i)"(?:decision|classification|label|outcome)"\s*:\s*"(approve|reject|spam)"`)

	confidencePattern = regexp.MustCompile(`(?i)\bconfidence\b[^0-9]{0,12}([01](?:\.\d+)?|\.\d+)`)

	linkPattern     = regexp.MustCompile(`(?i)\bhttps?://\S+|\bwww\.\S+`)
	shoutingPattern = regexp.MustCompile(`[!?]{3,}`)
)

var promoPhrases = []string{
	"check out my",
	"visit my site",
	"visit my website",
	"click here",
	"buy now",
	"limited time offer",
	"limited time",
	"best prices",
	"discount code",
	"earn money",
	"work from home",
}

var spamWords = []string{
	"spam",
	"promotional",
	"advertisement",
	"advertising",
	"solicitation",
	"self-promotion",
}

var harmfulWords = []string{
	"abusive",
	"offensive",
	"harassment",
	"harassing",
	"hateful",
	"hate speech",
	"toxic",
	"threatening",
	"harmful",
	"inappropriate",
	"reject",
}

var approvalWords = []string{
	"legitimate",
	"genuine",
	"harmless",
	"appropriate",
	"acceptable",
	"constructive",
	"on-topic",
	"approve",
}

// ParseFreeText extracts a moderation outcome and confidence from
// unstructured model output.
func ParseFreeText(text string) (moderation.Outcome, float64) {
	lower := strings.ToLower(text)

	confidence, hasConfidence := extractConfidence(text)
	if !hasConfidence {
		confidence = fallbackDefaultConfidence
	}

	// Explicit labels first: the model named its decision, just not in JSON.
	if m := quotedPattern.FindStringSubmatch(text); m != nil {
		return moderation.Outcome(strings.ToLower(m[1])), confidence
	}
	if m := labelPattern.FindStringSubmatch(text); m != nil {
		return moderation.Outcome(strings.ToLower(m[1])), confidence
	}

	// Keyword presence. Spam and harm vocabulary win over approval words so
	// a sentence like "this is not legitimate, it is spam" lands on spam.
	if containsAny(lower, spamWords) {
		return moderation.OutcomeSpam, confidence
	}
	if containsAny(lower, harmfulWords) {
		return moderation.OutcomeReject, confidence
	}
	if containsAny(lower, approvalWords) {
		return moderation.OutcomeApprove, confidence
	}

	// Longer unstructured text: look for the content itself rather than a
	// verdict about it. Promotional phrasing combined with a link is the
	// highest-confidence spam marker this parser knows.
	hasLink := linkPattern.MatchString(text)
	hasPromo := containsAny(lower, promoPhrases)
	switch {
	case hasLink && hasPromo:
		if !hasConfidence {
			confidence = fallbackHighSpamConfidence
		}
		return moderation.OutcomeSpam, confidence
	case hasLink || hasPromo:
		return moderation.OutcomeSpam, confidence
	case shoutingPattern.MatchString(text):
		// Repeated punctuation is a weak spam signal.
		return moderation.OutcomeSpam, confidence
	}

	return moderation.OutcomeApprove, confidence
}

// extractConfidence pulls a confidence value out of prose like
// "confidence: 0.85" or "with 0.9 confidence".
func extractConfidence(text string) (float64, bool) {
	m := confidencePattern.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}
