package llm

import "context"

// Client represents any model provider.
type Client interface {
	// Complete sends messages and returns a response (non-streaming).
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error)

	// Model returns the model identifier.
	Model() string
}

// StreamingClient is implemented by providers with native incremental output.
type StreamingClient interface {
	Client

	// StreamComplete sends messages and invokes callbacks as content arrives.
	// The returned response carries the full concatenated content.
	StreamComplete(ctx context.Context, req CompletionRequest, callbacks StreamCallbacks) (*CompletionResponse, error)
}

// CompletionRequest contains all parameters for a model completion.
type CompletionRequest struct {
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// CompletionResponse is the model's response.
type CompletionResponse struct {
	Content    string     `json:"content"`
	StopReason string     `json:"stop_reason"`
	Usage      TokenUsage `json:"usage"`
}

// TokenUsage tracks token consumption.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Message represents a conversation message. Images, when present, attach to
// the message as vision input.
type Message struct {
	Role    string            `json:"role"`
	Content string            `json:"content"`
	Images  []ImageAttachment `json:"images,omitempty"`
}

// ImageAttachment is raw image bytes plus mime type for vision requests.
type ImageAttachment struct {
	Data     []byte `json:"-"`
	MimeType string `json:"mime_type"`
}

// ContentDelta is one incremental fragment of streamed output.
type ContentDelta struct {
	Delta string
	Final bool
}

// StreamCallbacks receives streaming notifications. Nil callbacks are skipped.
type StreamCallbacks struct {
	OnContentDelta func(ContentDelta)
}
