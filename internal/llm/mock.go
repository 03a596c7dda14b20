package llm

import (
	"context"
	"fmt"
	"sync"
)

// MockClient implements StreamingClient for tests. Responses are consumed in
// FIFO order; when the queue empties the last response repeats. A RespondFunc
// takes precedence over the queue.
type MockClient struct {
	mu        sync.Mutex
	ModelName string
	Responses []string
	Errs      []error

	// RespondFunc, when set, computes every response from the request.
	RespondFunc func(req CompletionRequest) (string, error)

	// Requests records every request received, in order.
	Requests []CompletionRequest

	cursor int
}

var _ StreamingClient = (*MockClient)(nil)

// NewMockClient builds a mock that replies with the given responses in order.
func NewMockClient(responses ...string) *MockClient {
	return &MockClient{ModelName: "mock-model", Responses: responses}
}

// NewMockClientError builds a mock whose every call fails with err.
func NewMockClientError(err error) *MockClient {
	return &MockClient{ModelName: "mock-model", RespondFunc: func(CompletionRequest) (string, error) {
		return "", err
	}}
}

func (m *MockClient) Model() string {
	if m.ModelName == "" {
		return "mock-model"
	}
	return m.ModelName
}

func (m *MockClient) next(req CompletionRequest) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Requests = append(m.Requests, req)

	if m.RespondFunc != nil {
		return m.RespondFunc(req)
	}

	idx := m.cursor
	if idx < len(m.Errs) && m.Errs[idx] != nil {
		m.cursor++
		return "", m.Errs[idx]
	}
	if len(m.Responses) == 0 {
		return "", fmt.Errorf("mock client has no responses configured")
	}
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	m.cursor++
	return m.Responses[idx], nil
}

// CallCount reports how many requests were received.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Requests)
}

func (m *MockClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content, err := m.next(req)
	if err != nil {
		return nil, err
	}
	return &CompletionResponse{Content: content, StopReason: "stop"}, nil
}

func (m *MockClient) StreamComplete(ctx context.Context, req CompletionRequest, callbacks StreamCallbacks) (*CompletionResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	content, err := m.next(req)
	if err != nil {
		return nil, err
	}

	// Split into small chunks so consumers exercise real fragment handling.
	if callbacks.OnContentDelta != nil {
		runes := []rune(content)
		const chunkSize = 8
		for i := 0; i < len(runes); i += chunkSize {
			end := i + chunkSize
			if end > len(runes) {
				end = len(runes)
			}
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			default:
			}
			callbacks.OnContentDelta(ContentDelta{Delta: string(runes[i:end])})
		}
		callbacks.OnContentDelta(ContentDelta{Final: true})
	}

	return &CompletionResponse{Content: content, StopReason: "stop"}, nil
}
