package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind classifies failures for HTTP rendering and user-facing messaging.
type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindInvalidInput
	KindModelAuthFailure
	KindModelRateLimited
	KindModelTimeout
	KindTransientConnection
	KindExtractionParseFailure
)

func (k Kind) String() string {
	switch k {
	case KindNotFound:
		return "not_found"
	case KindInvalidInput:
		return "invalid_input"
	case KindModelAuthFailure:
		return "model_auth_failure"
	case KindModelRateLimited:
		return "model_rate_limited"
	case KindModelTimeout:
		return "model_timeout"
	case KindTransientConnection:
		return "transient_connection"
	case KindExtractionParseFailure:
		return "extraction_parse_failure"
	default:
		return "internal_error"
	}
}

// transient reports whether errors of this kind are eligible for automatic retry.
func (k Kind) transient() bool {
	switch k {
	case KindModelRateLimited, KindModelTimeout, KindTransientConnection:
		return true
	default:
		return false
	}
}

// Wrap builds the appropriate wrapper for kind. Transient kinds produce a
// TransientError so the retry machinery picks them up.
func Wrap(kind Kind, err error, message string) error {
	if message == "" {
		message = FriendlyMessage(kind)
	}
	if kind.transient() {
		return &TransientError{Kind: kind, Err: err, Message: message}
	}
	return &PermanentError{Kind: kind, Err: err, Message: message}
}

// NotFound builds a permanent not-found error for a named entity.
func NotFound(entity, id string) error {
	return &PermanentError{
		Kind:       KindNotFound,
		Err:        fmt.Errorf("%s %q not found", entity, id),
		StatusCode: http.StatusNotFound,
		Message:    FriendlyMessage(KindNotFound),
	}
}

// InvalidInput builds a permanent client error with the given message.
func InvalidInput(message string) error {
	return &PermanentError{
		Kind:       KindInvalidInput,
		Err:        errors.New(message),
		StatusCode: http.StatusBadRequest,
		Message:    message,
	}
}

// KindOf extracts the Kind from an error, defaulting to KindInternal.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}

	var transientErr *TransientError
	if errors.As(err, &transientErr) {
		return transientErr.Kind
	}

	var permanentErr *PermanentError
	if errors.As(err, &permanentErr) {
		return permanentErr.Kind
	}

	return KindInternal
}

// HTTPStatus maps a Kind to the status code the HTTP surface should return.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindModelAuthFailure:
		return http.StatusUnauthorized
	case KindModelRateLimited:
		return http.StatusTooManyRequests
	case KindModelTimeout:
		return http.StatusGatewayTimeout
	case KindTransientConnection:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// FriendlyMessage returns a short, non-technical message for a Kind. Technical
// detail stays in the wrapped error for logs, never in the user-facing text.
func FriendlyMessage(kind Kind) string {
	switch kind {
	case KindNotFound:
		return "会话不存在或已过期，请重新开始。"
	case KindInvalidInput:
		return "请求内容有误，请检查后重试。"
	case KindModelAuthFailure:
		return "模型服务认证失败，请检查 API Key 配置。"
	case KindModelRateLimited:
		return "模型服务请求过于频繁，请稍后重试。"
	case KindModelTimeout:
		return "模型服务响应超时，请稍后重试。"
	case KindTransientConnection:
		return "网络连接异常，请稍后重试。"
	case KindExtractionParseFailure:
		return "未能从图片中识别出题目内容，请换一张更清晰的图片。"
	default:
		return "服务内部出现问题，请稍后重试。"
	}
}

// ClassifyModelCall inspects a model-call failure and wraps it with the most
// specific kind that its message reveals. Auth failures stay permanent so the
// retry loop does not repeat a credential that cannot succeed.
func ClassifyModelCall(err error) error {
	if err == nil {
		return nil
	}

	var transientErr *TransientError
	var permanentErr *PermanentError
	if errors.As(err, &transientErr) || errors.As(err, &permanentErr) {
		return err
	}

	lower := strings.ToLower(err.Error())
	switch {
	case strings.Contains(lower, "unauthorized") || strings.Contains(lower, "401") ||
		strings.Contains(lower, "forbidden") || strings.Contains(lower, "403") ||
		strings.Contains(lower, "invalid api key"):
		return Wrap(KindModelAuthFailure, err, "")
	case strings.Contains(lower, "rate limit") || strings.Contains(lower, "429"):
		return Wrap(KindModelRateLimited, err, "")
	case strings.Contains(lower, "timeout") || strings.Contains(lower, "deadline exceeded"):
		return Wrap(KindModelTimeout, err, "")
	case isNetworkError(err) || isSyscallError(err):
		return Wrap(KindTransientConnection, err, "")
	default:
		return Wrap(KindInternal, err, "")
	}
}
