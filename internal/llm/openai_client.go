package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"biotutor/internal/config"
	tutorerrors "biotutor/internal/errors"
	"biotutor/internal/logging"
)

// openaiClient speaks the OpenAI-compatible chat completions API.
type openaiClient struct {
	model      string
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     logging.Logger
}

var _ StreamingClient = (*openaiClient)(nil)

// NewOpenAIClient constructs a client from one model endpoint configuration.
func NewOpenAIClient(cfg config.ModelConfig) (Client, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("model name required")
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}

	timeout := 120 * time.Second
	if cfg.Timeout > 0 {
		timeout = time.Duration(cfg.Timeout) * time.Second
	}

	return &openaiClient{
		model:      cfg.Model,
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		logger:     logging.NewComponentLogger("llm.openai"),
	}, nil
}

func (c *openaiClient) Model() string {
	return c.model
}

func (c *openaiClient) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	respBody, err := c.doRequest(ctx, req, false)
	if err != nil {
		return nil, err
	}
	defer func() { _ = respBody.Close() }()

	raw, err := io.ReadAll(respBody)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	var oaiResp struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
		Usage struct {
			PromptTokens     int `json:"prompt_tokens"`
			CompletionTokens int `json:"completion_tokens"`
			TotalTokens      int `json:"total_tokens"`
		} `json:"usage"`
		Error *struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &oaiResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	if oaiResp.Error != nil {
		return nil, tutorerrors.ClassifyModelCall(fmt.Errorf("api error: %s", oaiResp.Error.Message))
	}
	if len(oaiResp.Choices) == 0 {
		return nil, fmt.Errorf("empty choices in response")
	}

	return &CompletionResponse{
		Content:    oaiResp.Choices[0].Message.Content,
		StopReason: oaiResp.Choices[0].FinishReason,
		Usage: TokenUsage{
			PromptTokens:     oaiResp.Usage.PromptTokens,
			CompletionTokens: oaiResp.Usage.CompletionTokens,
			TotalTokens:      oaiResp.Usage.TotalTokens,
		},
	}, nil
}

func (c *openaiClient) StreamComplete(ctx context.Context, req CompletionRequest, callbacks StreamCallbacks) (*CompletionResponse, error) {
	respBody, err := c.doRequest(ctx, req, true)
	if err != nil {
		return nil, err
	}
	defer func() { _ = respBody.Close() }()

	var full strings.Builder
	stopReason := ""
	usage := TokenUsage{}

	scanner := bufio.NewScanner(respBody)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			break
		}

		var chunk struct {
			Choices []struct {
				Delta struct {
					Content string `json:"content"`
				} `json:"delta"`
				FinishReason string `json:"finish_reason"`
			} `json:"choices"`
			Usage *struct {
				PromptTokens     int `json:"prompt_tokens"`
				CompletionTokens int `json:"completion_tokens"`
				TotalTokens      int `json:"total_tokens"`
			} `json:"usage"`
		}
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			c.logger.Debug("Skipping malformed stream chunk: %v", err)
			continue
		}
		if chunk.Usage != nil {
			usage = TokenUsage{
				PromptTokens:     chunk.Usage.PromptTokens,
				CompletionTokens: chunk.Usage.CompletionTokens,
				TotalTokens:      chunk.Usage.TotalTokens,
			}
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			full.WriteString(choice.Delta.Content)
			if callbacks.OnContentDelta != nil {
				callbacks.OnContentDelta(ContentDelta{Delta: choice.Delta.Content})
			}
		}
		if choice.FinishReason != "" {
			stopReason = choice.FinishReason
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, tutorerrors.ClassifyModelCall(fmt.Errorf("read stream: %w", err))
	}

	if callbacks.OnContentDelta != nil {
		callbacks.OnContentDelta(ContentDelta{Final: true})
	}

	return &CompletionResponse{
		Content:    full.String(),
		StopReason: stopReason,
		Usage:      usage,
	}, nil
}

func (c *openaiClient) doRequest(ctx context.Context, req CompletionRequest, stream bool) (io.ReadCloser, error) {
	oaiReq := map[string]any{
		"model":    c.model,
		"messages": c.convertMessages(req.Messages),
		"stream":   stream,
	}
	if req.Temperature > 0 {
		oaiReq["temperature"] = req.Temperature
	}
	if req.MaxTokens > 0 {
		oaiReq["max_tokens"] = req.MaxTokens
	}

	body, err := json.Marshal(oaiReq)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	c.logger.Debug("POST %s model=%s stream=%v", endpoint, c.model, stream)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, tutorerrors.ClassifyModelCall(err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		_ = resp.Body.Close()
		return nil, mapHTTPError(resp.StatusCode, raw, resp.Header)
	}

	return resp.Body, nil
}

// convertMessages renders messages into OpenAI wire format. Messages carrying
// images become multi-part content with data-URI image parts.
func (c *openaiClient) convertMessages(messages []Message) []map[string]any {
	out := make([]map[string]any, 0, len(messages))
	for _, msg := range messages {
		if len(msg.Images) == 0 {
			out = append(out, map[string]any{
				"role":    msg.Role,
				"content": msg.Content,
			})
			continue
		}

		parts := make([]map[string]any, 0, len(msg.Images)+1)
		if msg.Content != "" {
			parts = append(parts, map[string]any{
				"type": "text",
				"text": msg.Content,
			})
		}
		for _, img := range msg.Images {
			uri := fmt.Sprintf("data:%s;base64,%s", img.MimeType, base64.StdEncoding.EncodeToString(img.Data))
			parts = append(parts, map[string]any{
				"type":      "image_url",
				"image_url": map[string]any{"url": uri},
			})
		}
		out = append(out, map[string]any{
			"role":    msg.Role,
			"content": parts,
		})
	}
	return out
}

func mapHTTPError(statusCode int, body []byte, header http.Header) error {
	detail := strings.TrimSpace(string(body))
	base := fmt.Errorf("api error %d: %s", statusCode, detail)

	switch {
	case statusCode == http.StatusUnauthorized || statusCode == http.StatusForbidden:
		return tutorerrors.Wrap(tutorerrors.KindModelAuthFailure, base, "")
	case statusCode == http.StatusTooManyRequests:
		retryAfter := 0
		if v := header.Get("Retry-After"); v != "" {
			if n, err := strconv.Atoi(v); err == nil {
				retryAfter = n
			}
		}
		return &tutorerrors.TransientError{
			Kind:       tutorerrors.KindModelRateLimited,
			Err:        base,
			StatusCode: statusCode,
			RetryAfter: retryAfter,
			Message:    tutorerrors.FriendlyMessage(tutorerrors.KindModelRateLimited),
		}
	case statusCode == http.StatusRequestTimeout || statusCode == http.StatusGatewayTimeout:
		return tutorerrors.Wrap(tutorerrors.KindModelTimeout, base, "")
	case statusCode >= 500:
		return tutorerrors.Wrap(tutorerrors.KindTransientConnection, base, "")
	default:
		return tutorerrors.Wrap(tutorerrors.KindInternal, base, "")
	}
}
