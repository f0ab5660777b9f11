package aiclient

import "strings"

// Capabilities describes how a model family wants its requests shaped. The
// quirks live in one table instead of scattered allow-list checks so adding a
// model family touches exactly one place.
type Capabilities struct {
	// Reasoning routes the model to the reasoning request shape: an input
	// block list plus a graduated effort level instead of temperature.
	Reasoning bool

	// TokenParam is the wire name of the output-size parameter. Newer model
	// families renamed max_tokens to max_completion_tokens.
	TokenParam string

	// JSONMode reports whether the model honors response_format json_object.
	JSONMode bool

	// FixedTemperature is non-nil for models that reject any temperature
	// other than their fixed value. The client substitutes it silently and
	// records the substitution in the result's parameter notes.
	FixedTemperature *float64
}

const (
	tokenParamLegacy     = "max_tokens"
	tokenParamCompletion = "max_completion_tokens"
)

// ReasoningEffort levels accepted by reasoning-capable models.
const (
	EffortLow    = "low"
	EffortMedium = "medium"
	EffortHigh   = "high"
)

func fixed(t float64) *float64 { return &t }

// capabilityEntry maps a model-name substring to its capabilities. Entries
// are checked in order; the first match wins, so more specific substrings
// come first.
type capabilityEntry struct {
	match string
	caps  Capabilities
}

var capabilityTable = []capabilityEntry{
	// Reasoning-capable families. These only accept their default sampling
	// temperature, so it is pinned rather than rejected.
	{"gpt-5", Capabilities{Reasoning: true, TokenParam: tokenParamCompletion, JSONMode: true, FixedTemperature: fixed(1.0)}},
	{"o4", Capabilities{Reasoning: true, TokenParam: tokenParamCompletion, JSONMode: true, FixedTemperature: fixed(1.0)}},
	{"o3", Capabilities{Reasoning: true, TokenParam: tokenParamCompletion, JSONMode: true, FixedTemperature: fixed(1.0)}},
	{"o1", Capabilities{Reasoning: true, TokenParam: tokenParamCompletion, JSONMode: false, FixedTemperature: fixed(1.0)}},

	// Chat families with the renamed size parameter and JSON mode.
	{"gpt-4.1", Capabilities{TokenParam: tokenParamCompletion, JSONMode: true}},
	{"gpt-4o", Capabilities{TokenParam: tokenParamCompletion, JSONMode: true}},

	// Legacy chat families.
	{"gpt-4-turbo", Capabilities{TokenParam: tokenParamLegacy, JSONMode: true}},
	{"gpt-4", Capabilities{TokenParam: tokenParamLegacy, JSONMode: false}},
	{"gpt-3.5-turbo", Capabilities{TokenParam: tokenParamLegacy, JSONMode: true}},
}

// defaultCapabilities covers unknown models: conventional chat shape, legacy
// size parameter, no structured-output toggle.
var defaultCapabilities = Capabilities{
	TokenParam: tokenParamLegacy,
	JSONMode:   false,
}

// CapabilitiesFor returns the capability descriptor for the given model name,
// matched by substring against the table.
func CapabilitiesFor(model string) Capabilities {
	lower := strings.ToLower(model)
	for _, entry := range capabilityTable {
		if strings.Contains(lower, entry.match) {
			return entry.caps
		}
	}
	return defaultCapabilities
}

// normalizeEffort returns a valid reasoning effort level, defaulting to
// medium for unknown values.
func normalizeEffort(effort string) string {
	switch strings.ToLower(strings.TrimSpace(effort)) {
	case EffortLow:
		return EffortLow
	case EffortHigh:
		return EffortHigh
	default:
		return EffortMedium
	}
}
