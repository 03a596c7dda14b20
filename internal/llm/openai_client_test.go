package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"biotutor/internal/config"
	tutorerrors "biotutor/internal/errors"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewOpenAIClient(config.ModelConfig{
		Model:   "test-model",
		APIKey:  "test-key",
		BaseURL: server.URL,
		Timeout: 5,
	})
	require.NoError(t, err)
	return client
}

func TestOpenAIClientRequiresModel(t *testing.T) {
	_, err := NewOpenAIClient(config.ModelConfig{})
	assert.Error(t, err)
}

func TestOpenAICompleteParsesResponse(t *testing.T) {
	var gotAuth string
	var gotBody map[string]any

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{
			"choices": [{"message": {"content": "答案是B"}, "finish_reason": "stop"}],
			"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
		}`)
	})

	resp, err := client.Complete(context.Background(), CompletionRequest{
		Messages:    []Message{{Role: "user", Content: "题目"}},
		Temperature: 0.3,
		MaxTokens:   100,
	})
	require.NoError(t, err)

	assert.Equal(t, "答案是B", resp.Content)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "test-model", gotBody["model"])
	assert.Equal(t, false, gotBody["stream"])
}

func TestOpenAICompleteConvertsImages(t *testing.T) {
	var gotBody map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		fmt.Fprint(w, `{"choices": [{"message": {"content": "题目文本"}, "finish_reason": "stop"}]}`)
	})

	_, err := client.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{
			Role:    "user",
			Content: "提取题目",
			Images:  []ImageAttachment{{Data: []byte{1, 2, 3}, MimeType: "image/png"}},
		}},
	})
	require.NoError(t, err)

	messages := gotBody["messages"].([]any)
	parts := messages[0].(map[string]any)["content"].([]any)
	require.Len(t, parts, 2)
	imagePart := parts[1].(map[string]any)
	assert.Equal(t, "image_url", imagePart["type"])
	url := imagePart["image_url"].(map[string]any)["url"].(string)
	assert.Contains(t, url, "data:image/png;base64,")
}

func TestOpenAIErrorMapping(t *testing.T) {
	tests := []struct {
		status    int
		wantKind  tutorerrors.Kind
		transient bool
	}{
		{http.StatusUnauthorized, tutorerrors.KindModelAuthFailure, false},
		{http.StatusForbidden, tutorerrors.KindModelAuthFailure, false},
		{http.StatusTooManyRequests, tutorerrors.KindModelRateLimited, true},
		{http.StatusGatewayTimeout, tutorerrors.KindModelTimeout, true},
		{http.StatusInternalServerError, tutorerrors.KindTransientConnection, true},
		{http.StatusBadRequest, tutorerrors.KindInternal, false},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				fmt.Fprint(w, `{"error": {"message": "boom"}}`)
			})

			_, err := client.Complete(context.Background(), CompletionRequest{
				Messages: []Message{{Role: "user", Content: "hi"}},
			})
			require.Error(t, err)
			assert.Equal(t, tt.wantKind, tutorerrors.KindOf(err))
			assert.Equal(t, tt.transient, tutorerrors.IsTransient(err))
		})
	}
}

func TestOpenAIRateLimitCarriesRetryAfter(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "12")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	_, err := client.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)

	var transient *tutorerrors.TransientError
	require.ErrorAs(t, err, &transient)
	assert.Equal(t, 12, transient.RetryAfter)
}

func TestOpenAIStreamComplete(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"choices\": [{\"delta\": {\"content\": \"光合\"}}]}\n\n")
		fmt.Fprint(w, "data: {\"choices\": [{\"delta\": {\"content\": \"作用\"}, \"finish_reason\": \"stop\"}]}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	})

	streaming, ok := client.(StreamingClient)
	require.True(t, ok)

	var deltas []string
	sawFinal := false
	resp, err := streaming.StreamComplete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "user", Content: "问"}},
	}, StreamCallbacks{OnContentDelta: func(d ContentDelta) {
		if d.Final {
			sawFinal = true
			return
		}
		deltas = append(deltas, d.Delta)
	}})
	require.NoError(t, err)

	assert.Equal(t, "光合作用", resp.Content)
	assert.Equal(t, "stop", resp.StopReason)
	assert.Equal(t, []string{"光合", "作用"}, deltas)
	assert.True(t, sawFinal)
}

func TestOpenAICompleteBodyLevelError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error": {"type": "invalid_request_error", "message": "rate limit exceeded"}}`)
	})

	_, err := client.Complete(context.Background(), CompletionRequest{
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.Error(t, err)
	assert.Equal(t, tutorerrors.KindModelRateLimited, tutorerrors.KindOf(err))
}
