package ports

import "context"

// ChatTurn is one message of a completion request.
type ChatTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is sent to an OpenAI-compatible endpoint.
type CompletionRequest struct {
	Model       string
	Messages    []ChatTurn
	Temperature float64
	MaxTokens   int
}

// Completer calls the upstream model. Errors wrap domain.ErrUpstreamTimeout
// or domain.ErrUpstreamUnavailable.
type Completer interface {
	Complete(ctx context.Context, req CompletionRequest) (string, error)
	Models(ctx context.Context) ([]string, error)
}

// SpeechSynthesizer converts text to audio.
type SpeechSynthesizer interface {
	Enabled() bool
	Synthesize(ctx context.Context, text, voiceID string) ([]byte, error)
}
