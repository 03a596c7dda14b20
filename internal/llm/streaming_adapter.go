package llm

import "context"

// streamingAdapter wraps a Client that lacks native streaming support and
// synthesizes StreamCallbacks by invoking Complete.
type streamingAdapter struct {
	base Client
}

var _ StreamingClient = (*streamingAdapter)(nil)

// EnsureStreaming guarantees the returned client implements StreamingClient
// by wrapping non-streaming implementations with a fallback adapter.
func EnsureStreaming(client Client) StreamingClient {
	if client == nil {
		return nil
	}
	if streaming, ok := client.(StreamingClient); ok {
		return streaming
	}
	return &streamingAdapter{base: client}
}

func (a *streamingAdapter) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	return a.base.Complete(ctx, req)
}

func (a *streamingAdapter) Model() string {
	return a.base.Model()
}

func (a *streamingAdapter) StreamComplete(ctx context.Context, req CompletionRequest, callbacks StreamCallbacks) (*CompletionResponse, error) {
	resp, err := a.base.Complete(ctx, req)
	if err != nil {
		return nil, err
	}

	if callbacks.OnContentDelta != nil {
		if resp != nil && resp.Content != "" {
			callbacks.OnContentDelta(ContentDelta{Delta: resp.Content})
		}
		callbacks.OnContentDelta(ContentDelta{Final: true})
	}

	return resp, nil
}
