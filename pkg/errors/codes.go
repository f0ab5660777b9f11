package errors

// ErrorCodeInfo contains metadata about an error code.
type ErrorCodeInfo struct {
	Code            ErrorCode
	Retryable       bool
	Description     string
	SuggestedAction string
}

// ErrorCodeRegistry maps error codes to their metadata.
//
// "Retryable" here means the comment stays pending and will be picked up by
// the next sweep; it does not mean the pipeline retries inline. Non-retryable
// codes are also left pending but usually need an operator to look at the
// diagnostics first.
var ErrorCodeRegistry = map[ErrorCode]ErrorCodeInfo{
	ErrConnectionFailed: {
		Code:            ErrConnectionFailed,
		Retryable:       true,
		Description:     "Could not reach the classification API (transport error or timeout)",
		SuggestedAction: "Check connectivity and endpoint config: aegis health",
	},
	ErrAPIError: {
		Code:            ErrAPIError,
		Retryable:       true,
		Description:     "Classification API returned a non-2xx response (auth, quota, rate limit)",
		SuggestedAction: "Inspect the API's error message in the audit log; verify key and quota",
	},
	ErrEmptyResponse: {
		Code:            ErrEmptyResponse,
		Retryable:       true,
		Description:     "Classification API returned an empty completion",
		SuggestedAction: "Retry via sweep, or raise max output tokens in config",
	},
	ErrTruncatedOutput: {
		Code:            ErrTruncatedOutput,
		Retryable:       true,
		Description:     "Model output was cut off by the length limit before a decision was produced",
		SuggestedAction: "Raise max_output_tokens in config and reprocess: aegis process",
	},
	ErrInvalidAIResponse: {
		Code:            ErrInvalidAIResponse,
		Retryable:       true,
		Description:     "Model output could not be parsed, even by the free-text fallback",
		SuggestedAction: "Inspect raw output in the audit log; consider a different model",
	},
	ErrInvalidDecision: {
		Code:            ErrInvalidDecision,
		Retryable:       true,
		Description:     "Model returned a decision outside approve/reject/spam",
		SuggestedAction: "Inspect raw output in the audit log; tighten the prompt or switch model",
	},
	ErrInvalidEnvelope: {
		Code:            ErrInvalidEnvelope,
		Retryable:       true,
		Description:     "API response body did not match the expected envelope",
		SuggestedAction: "Verify api_base_url points at a compatible API: aegis health",
	},
	ErrMissingCredential: {
		Code:            ErrMissingCredential,
		Retryable:       false,
		Description:     "No API key configured; moderation was not attempted",
		SuggestedAction: "Store a key: aegis auth set-key",
	},
	ErrProcessingError: {
		Code:            ErrProcessingError,
		Retryable:       false,
		Description:     "Unclassified processing error",
		SuggestedAction: "Check the audit log: aegis decisions audit",
	},
}

// IsRetryable returns true if the given error code represents a transient,
// retryable failure.
func IsRetryable(code ErrorCode) bool {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Retryable
	}
	return false
}

// GetSuggestedAction returns the suggested action for the given error code.
func GetSuggestedAction(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.SuggestedAction
	}
	return "Check the audit log: aegis decisions audit"
}

// GetDescription returns the human-readable description for the given error code.
func GetDescription(code ErrorCode) string {
	if info, ok := ErrorCodeRegistry[code]; ok {
		return info.Description
	}
	return "Unknown error"
}
