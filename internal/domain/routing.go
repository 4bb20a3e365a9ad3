package domain

// ConfidenceLevel is the tier the router assigns to a bot answer.
type ConfidenceLevel string

const (
	ConfidenceHigh   ConfidenceLevel = "high"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceLow    ConfidenceLevel = "low"
	// ConfidenceNone marks turns that carry no tier (condition mismatches).
	ConfidenceNone ConfidenceLevel = ""
)

// ResponseType is the router's classification of an incoming query.
type ResponseType string

const (
	ResponseDirectAnswer      ResponseType = "direct_answer"
	ResponseClarification     ResponseType = "clarification"
	ResponseConditionMismatch ResponseType = "condition_mismatch"
	ResponseLLMFallback       ResponseType = "llm_fallback"
)
