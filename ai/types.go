package ai

// Request describes one completion call.
//
// Temperature and MaxTokens are forwarded to the model exactly as
// given. Extraction callers pin Temperature to 0 so repeated attempts
// of the same request stay comparable.
type Request struct {
	// System is the system prompt. May be empty.
	System string

	// Prompt is the user message.
	Prompt string

	// Temperature is the sampling temperature, typically 0 for extraction.
	Temperature float64

	// MaxTokens caps the response length. 0 means provider default.
	MaxTokens int

	// JSONMode requests a JSON-only response from providers that
	// support constrained output.
	JSONMode bool
}
