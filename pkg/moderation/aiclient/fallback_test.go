package aiclient

import (
	"testing"

	"github.com/aegis-moderation/aegis/pkg/moderation"
)

func TestParseFreeText(t *testing.T) {
	tests := []struct {
		name           string
		text           string
		wantOutcome    moderation.Outcome
		wantConfidence float64
	}{
		{
			name:           "explicit label",
			text:           "Decision: spam. The comment is clearly promotional.",
			wantOutcome:    moderation.OutcomeSpam,
			wantConfidence: 0.7,
		},
		{
			name:           "explicit label with equals",
			text:           "verdict = reject",
			wantOutcome:    moderation.OutcomeReject,
			wantConfidence: 0.7,
		},
		{
			name:           "quoted json fragment",
			text:           `I think the answer is "decision": "approve" but I am not sure about the format`,
			wantOutcome:    moderation.OutcomeApprove,
			wantConfidence: 0.7,
		},
		{
			name:           "label with extracted confidence",
			text:           "Classification: spam\nConfidence: 0.85",
			wantOutcome:    moderation.OutcomeSpam,
			wantConfidence: 0.85,
		},
		{
			name:           "spam keyword",
			text:           "This looks like promotional content trying to sell something.",
			wantOutcome:    moderation.OutcomeSpam,
			wantConfidence: 0.7,
		},
		{
			name:           "harmful keyword",
			text:           "The comment is abusive towards the author.",
			wantOutcome:    moderation.OutcomeReject,
			wantConfidence: 0.7,
		},
		{
			name:           "approval keyword",
			text:           "This is a genuine question about the article.",
			wantOutcome:    moderation.OutcomeApprove,
			wantConfidence: 0.7,
		},
		{
			name:           "spam beats approval vocabulary",
			text:           "Not a legitimate comment, this is spam.",
			wantOutcome:    moderation.OutcomeSpam,
			wantConfidence: 0.7,
		},
		{
			name:           "promo phrase plus link gets high confidence",
			text:           "Great post! Check out my site at https://example-deals.test/offers for more.",
			wantOutcome:    moderation.OutcomeSpam,
			wantConfidence: 0.95,
		},
		{
			name:           "bare link",
			text:           "More info at www.example.test/page",
			wantOutcome:    moderation.OutcomeSpam,
			wantConfidence: 0.7,
		},
		{
			name:           "repeated punctuation",
			text:           "AMAZING DEAL!!!!! you will not believe it",
			wantOutcome:    moderation.OutcomeSpam,
			wantConfidence: 0.7,
		},
		{
			name:           "nothing matches defaults to approve",
			text:           "Thanks for the detailed write-up, it helped me a lot.",
			wantOutcome:    moderation.OutcomeApprove,
			wantConfidence: 0.7,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outcome, confidence := ParseFreeText(tt.text)
			if outcome != tt.wantOutcome {
				t.Errorf("outcome = %s, want %s", outcome, tt.wantOutcome)
			}
			if confidence != tt.wantConfidence {
				t.Errorf("confidence = %v, want %v", confidence, tt.wantConfidence)
			}
		})
	}
}

func TestParseFreeText_SpamWithLinkMeetsThreshold(t *testing.T) {
	outcome, confidence := ParseFreeText("check out my site https://spam.example.test")
	if outcome != moderation.OutcomeSpam {
		t.Fatalf("outcome = %s, want spam", outcome)
	}
	if confidence < 0.7 {
		t.Errorf("confidence = %v, want >= 0.7", confidence)
	}
}

func TestExtractConfidence(t *testing.T) {
	tests := []struct {
		text string
		want float64
		ok   bool
	}{
		{"confidence: 0.9", 0.9, true},
		{"Confidence = 0.45", 0.45, true},
		{"with a confidence of .8", 0.8, true},
		{"confidence: 1", 1, true},
		{"no number here", 0, false},
	}
	for _, tt := range tests {
		got, ok := extractConfidence(tt.text)
		if ok != tt.ok || got != tt.want {
			t.Errorf("extractConfidence(%q) = %v, %v; want %v, %v", tt.text, got, ok, tt.want, tt.ok)
		}
	}
}
