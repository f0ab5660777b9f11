// Package aiclient calls the external classification API and normalizes its
// responses into moderation decisions. It hides per-model request quirks
// behind a capability table and never lets a malformed response escape as
// anything but a typed classification error.
package aiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	agerrors "github.com/aegis-moderation/aegis/pkg/errors"
	"github.com/aegis-moderation/aegis/pkg/logging"
	"github.com/aegis-moderation/aegis/pkg/moderation"
)

const (
	defaultTimeout          = 30 * time.Second
	defaultReasoningTimeout = 2 * time.Minute
	defaultMaxOutputTokens  = 500
	defaultTemperature      = 0.2

	clampedConfidence = 0.5
)

// Config holds the classification client settings.
type Config struct {
	// BaseURL is the API root, e.g. https://api.openai.com.
	BaseURL string
	// APIKey is the bearer credential.
	APIKey string
	// Model selects the classification model and, via the capability table,
	// the request shape.
	Model string
	// ReasoningEffort is the effort level for reasoning-capable models
	// (low/medium/high). Ignored for chat-shaped models.
	ReasoningEffort string
	// MaxOutputTokens bounds the completion size.
	MaxOutputTokens int
	// Temperature is the sampling temperature for chat-shaped models. Models
	// with a pinned temperature override it silently.
	Temperature float64
	// Timeout bounds chat-shaped requests.
	Timeout time.Duration
	// ReasoningTimeout bounds reasoning-shaped requests, which run longer.
	ReasoningTimeout time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.BaseURL == "" {
		out.BaseURL = "https://api.openai.com"
	}
	out.BaseURL = strings.TrimRight(out.BaseURL, "/")
	if out.MaxOutputTokens <= 0 {
		out.MaxOutputTokens = defaultMaxOutputTokens
	}
	if out.Temperature == 0 {
		out.Temperature = defaultTemperature
	}
	if out.Timeout <= 0 {
		out.Timeout = defaultTimeout
	}
	if out.ReasoningTimeout <= 0 {
		out.ReasoningTimeout = defaultReasoningTimeout
	}
	return out
}

// Result is a validated classification outcome.
type Result struct {
	Outcome    moderation.Outcome
	Confidence float64
	Reasoning  string
	Model      string

	// ParameterNotes records silent request adjustments, e.g. a pinned
	// temperature substitution.
	ParameterNotes string

	// UsedFallback is true when the free-text parser produced the outcome.
	UsedFallback bool

	ProcessingTime time.Duration
}

// Client is the classification API client. It performs no stored-state
// mutation; its only side effect is the outbound HTTP call.
type Client struct {
	cfg        Config
	caps       Capabilities
	httpClient *http.Client
	log        logging.Logger
}

// New creates a classification client. The HTTP timeout is left to the
// per-request context so reasoning models can get their longer bound.
func New(cfg Config, log logging.Logger) *Client {
	if log == nil {
		log = logging.NewNopLogger()
	}
	resolved := cfg.withDefaults()
	return &Client{
		cfg:        resolved,
		caps:       CapabilitiesFor(resolved.Model),
		httpClient: &http.Client{},
		log:        log.With(logging.F("component", "aiclient"), logging.F("model", resolved.Model)),
	}
}

// structuredResponse is the JSON payload the model is instructed to produce.
type structuredResponse struct {
	Decision   string   `json:"decision"`
	Confidence *float64 `json:"confidence"`
	Reasoning  string   `json:"reasoning"`
}

// Classify sends one comment to the classification API and returns a
// validated result. All failures come back as *agerrors.ClassificationError.
func (c *Client) Classify(ctx context.Context, comment *moderation.Comment, documentTitle string) (*Result, error) {
	if c.cfg.APIKey == "" {
		return nil, agerrors.NewClassificationError(agerrors.ErrMissingCredential, c.cfg.Model, "no API key configured")
	}

	start := time.Now()
	prompt := BuildPrompt(comment, documentTitle)

	var (
		text  string
		notes string
		err   error
	)
	if c.caps.Reasoning {
		text, notes, err = c.completeReasoning(ctx, prompt)
	} else {
		text, notes, err = c.completeChat(ctx, prompt)
	}
	elapsed := time.Since(start)
	if err != nil {
		ce := agerrors.ClassifyError(err, c.cfg.Model)
		ce.Duration = elapsed
		return nil, ce
	}

	result, perr := c.parseText(text)
	if perr != nil {
		perr.Duration = elapsed
		return nil, perr
	}

	result.Model = c.cfg.Model
	result.ParameterNotes = notes
	result.ProcessingTime = elapsed

	c.log.Debug("classification complete",
		logging.CommentID(comment.ID),
		logging.F("outcome", string(result.Outcome)),
		logging.F("confidence", result.Confidence),
		logging.F("fallback", result.UsedFallback),
		logging.F("duration", elapsed))

	return result, nil
}

// parseText turns raw model output into a validated Result: structured decode
// first, free-text fallback second, typed failure last.
func (c *Client) parseText(text string) (*Result, *agerrors.ClassificationError) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil, agerrors.NewClassificationError(agerrors.ErrEmptyResponse, c.cfg.Model, "model returned empty output")
	}

	structured, structuredErr := parseStructured(trimmed)
	if structuredErr == nil {
		outcome := moderation.Outcome(strings.ToLower(strings.TrimSpace(structured.Decision)))
		if !outcome.IsModelOutcome() {
			ce := agerrors.NewClassificationError(agerrors.ErrInvalidDecision, c.cfg.Model,
				fmt.Sprintf("model returned decision %q", structured.Decision))
			ce.RawText = trimmed
			return nil, ce
		}
		return &Result{
			Outcome:    outcome,
			Confidence: clampConfidence(*structured.Confidence),
			Reasoning:  structured.Reasoning,
		}, nil
	}

	outcome, confidence := ParseFreeText(trimmed)
	if !outcome.IsModelOutcome() {
		// ParseFreeText only emits model outcomes; this is a belt check.
		ce := agerrors.NewClassificationError(agerrors.ErrInvalidAIResponse, c.cfg.Model, "could not recover a decision from output")
		ce.RawText = trimmed
		ce.StructuredErr = structuredErr
		return nil, ce
	}
	return &Result{
		Outcome:      outcome,
		Confidence:   clampConfidence(confidence),
		Reasoning:    summarizeForReasoning(trimmed),
		UsedFallback: true,
	}, nil
}

// parseStructured decodes the required {decision, confidence, reasoning}
// payload, tolerating a markdown code fence around it.
func parseStructured(text string) (*structuredResponse, error) {
	cleaned := strings.TrimSpace(text)
	cleaned = strings.TrimPrefix(cleaned, "```json")
	cleaned = strings.TrimPrefix(cleaned, "```")
	cleaned = strings.TrimSuffix(cleaned, "```")
	cleaned = strings.TrimSpace(cleaned)

	var parsed structuredResponse
	if err := json.Unmarshal([]byte(cleaned), &parsed); err != nil {
		return nil, fmt.Errorf("decode structured response: %w", err)
	}
	if strings.TrimSpace(parsed.Decision) == "" {
		return nil, fmt.Errorf("structured response missing decision key")
	}
	if parsed.Confidence == nil {
		return nil, fmt.Errorf("structured response missing confidence key")
	}
	return &parsed, nil
}

// clampConfidence maps out-of-range confidence to 0.5 instead of rejecting
// the whole classification.
func clampConfidence(v float64) float64 {
	if v < 0 || v > 1 {
		return clampedConfidence
	}
	return v
}

// summarizeForReasoning keeps a bounded slice of the raw text as the
// reasoning field when the fallback parser was used.
func summarizeForReasoning(text string) string {
	const maxLen = 300
	flat := strings.Join(strings.Fields(text), " ")
	if len(flat) > maxLen {
		return flat[:maxLen] + "..."
	}
	return flat
}

// ---- chat shape ----

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type responseFormat struct {
	Type string `json:"type"`
}

// chatRequest is built as a map so the output-size parameter can carry
// whichever wire name the model family expects.
func (c *Client) chatRequestBody(prompt string) (body []byte, notes string, err error) {
	req := map[string]interface{}{
		"model": c.cfg.Model,
		"messages": []chatMessage{
			{Role: "system", Content: systemInstructions},
			{Role: "user", Content: prompt},
		},
		c.caps.TokenParam: c.cfg.MaxOutputTokens,
	}

	temperature := c.cfg.Temperature
	if c.caps.FixedTemperature != nil && temperature != *c.caps.FixedTemperature {
		notes = fmt.Sprintf("temperature %.2f substituted with model-fixed %.2f", temperature, *c.caps.FixedTemperature)
		temperature = *c.caps.FixedTemperature
	}
	req["temperature"] = temperature

	if c.caps.JSONMode {
		req["response_format"] = responseFormat{Type: "json_object"}
	}

	body, err = json.Marshal(req)
	return body, notes, err
}

type chatChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
}

func (c *Client) completeChat(ctx context.Context, prompt string) (string, string, error) {
	body, notes, err := c.chatRequestBody(prompt)
	if err != nil {
		return "", "", agerrors.NewClassificationError(agerrors.ErrProcessingError, c.cfg.Model,
			fmt.Sprintf("marshal request: %v", err))
	}

	respBody, err := c.post(ctx, "/v1/chat/completions", body, c.cfg.Timeout)
	if err != nil {
		return "", "", err
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		ce := agerrors.NewClassificationError(agerrors.ErrInvalidEnvelope, c.cfg.Model,
			fmt.Sprintf("decode response envelope: %v", err))
		ce.RawText = string(respBody)
		return "", "", ce
	}
	if len(parsed.Choices) == 0 {
		ce := agerrors.NewClassificationError(agerrors.ErrInvalidEnvelope, c.cfg.Model, "response has no choices")
		ce.RawText = string(respBody)
		return "", "", ce
	}

	choice := parsed.Choices[0]
	if choice.FinishReason == "length" {
		ce := agerrors.NewClassificationError(agerrors.ErrTruncatedOutput, c.cfg.Model,
			"output hit the length limit before completing")
		ce.RawText = choice.Message.Content
		return "", "", ce
	}
	if strings.TrimSpace(choice.Message.Content) == "" {
		return "", "", agerrors.NewClassificationError(agerrors.ErrEmptyResponse, c.cfg.Model, "completion content is empty")
	}

	return choice.Message.Content, notes, nil
}

// ---- reasoning shape ----

type reasoningInput struct {
	Type    string `json:"type"`
	Role    string `json:"role"`
	Content string `json:"content"`
}

type reasoningSpec struct {
	Effort string `json:"effort"`
}

type reasoningRequest struct {
	Model     string           `json:"model"`
	Input     []reasoningInput `json:"input"`
	Reasoning reasoningSpec    `json:"reasoning"`
}

type reasoningBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type reasoningOutput struct {
	Type    string           `json:"type"`
	Content []reasoningBlock `json:"content"`
}

type reasoningResponse struct {
	Output []reasoningOutput `json:"output"`
}

func (c *Client) completeReasoning(ctx context.Context, prompt string) (string, string, error) {
	var notes string
	if c.caps.FixedTemperature != nil && c.cfg.Temperature != *c.caps.FixedTemperature {
		notes = fmt.Sprintf("temperature %.2f ignored: reasoning request carries effort %s instead",
			c.cfg.Temperature, normalizeEffort(c.cfg.ReasoningEffort))
	}

	req := reasoningRequest{
		Model: c.cfg.Model,
		Input: []reasoningInput{
			{Type: "message", Role: "user", Content: systemInstructions + "\n\n" + prompt},
		},
		Reasoning: reasoningSpec{Effort: normalizeEffort(c.cfg.ReasoningEffort)},
	}
	body, err := json.Marshal(req)
	if err != nil {
		return "", "", agerrors.NewClassificationError(agerrors.ErrProcessingError, c.cfg.Model,
			fmt.Sprintf("marshal request: %v", err))
	}

	respBody, err := c.post(ctx, "/v1/responses", body, c.cfg.ReasoningTimeout)
	if err != nil {
		return "", "", err
	}

	var parsed reasoningResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		ce := agerrors.NewClassificationError(agerrors.ErrInvalidEnvelope, c.cfg.Model,
			fmt.Sprintf("decode response envelope: %v", err))
		ce.RawText = string(respBody)
		return "", "", ce
	}

	var b strings.Builder
	for _, out := range parsed.Output {
		if out.Type != "message" {
			continue
		}
		for _, block := range out.Content {
			if block.Type == "output_text" {
				b.WriteString(block.Text)
			}
		}
	}
	text := b.String()
	if strings.TrimSpace(text) == "" {
		ce := agerrors.NewClassificationError(agerrors.ErrEmptyResponse, c.cfg.Model,
			"reasoning response carried no output_text blocks")
		ce.RawText = string(respBody)
		return "", "", ce
	}

	return text, notes, nil
}

// ---- transport ----

// apiErrorEnvelope is the API's own error body, surfaced verbatim when
// present so operators see quota/auth messages instead of bare status codes.
type apiErrorEnvelope struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

func (c *Client) post(ctx context.Context, path string, body []byte, timeout time.Duration) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, agerrors.NewClassificationError(agerrors.ErrProcessingError, c.cfg.Model,
			fmt.Sprintf("create request: %v", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, agerrors.ClassifyError(err, c.cfg.Model)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		ce := agerrors.NewClassificationError(agerrors.ErrConnectionFailed, c.cfg.Model,
			fmt.Sprintf("read response: %v", err))
		ce.Cause = err
		return nil, ce
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		ce := agerrors.NewClassificationError(agerrors.ErrAPIError, c.cfg.Model, apiErrorMessage(resp.StatusCode, respBody))
		ce.RawText = string(respBody)
		return nil, ce
	}

	return respBody, nil
}

func apiErrorMessage(status int, body []byte) string {
	var envelope apiErrorEnvelope
	if err := json.Unmarshal(body, &envelope); err == nil && envelope.Error.Message != "" {
		return fmt.Sprintf("API returned %d: %s", status, envelope.Error.Message)
	}
	return fmt.Sprintf("API returned %d", status)
}

// TestConnection checks API reachability and credential validity via the
// models-listing endpoint.
func (c *Client) TestConnection(ctx context.Context) error {
	if c.cfg.APIKey == "" {
		return agerrors.NewClassificationError(agerrors.ErrMissingCredential, c.cfg.Model, "no API key configured")
	}

	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+"/v1/models", nil)
	if err != nil {
		return agerrors.NewClassificationError(agerrors.ErrProcessingError, c.cfg.Model,
			fmt.Sprintf("create request: %v", err))
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return agerrors.ClassifyError(err, c.cfg.Model)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		ce := agerrors.NewClassificationError(agerrors.ErrAPIError, c.cfg.Model, apiErrorMessage(resp.StatusCode, body))
		ce.RawText = string(body)
		return ce
	}
	return nil
}
