package util

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/url"

	"levelup/pkg/circuitbreaker"
)

// StatusCoder 带 HTTP 状态码的错误
type StatusCoder interface {
	StatusCode() int
}

// ClassifyError 把远端调用错误归类，用于日志字段和指标标签。
// Returns: (isRetryable, errorType)。这里只是提示，调用方不会自动重试。
func ClassifyError(err error) (bool, string) {
	if err == nil {
		return false, ""
	}

	if errors.Is(err, circuitbreaker.ErrCircuitBreakerOpen) {
		return true, "circuit_open"
	}

	// Context
	if errors.Is(err, context.DeadlineExceeded) {
		return true, "timeout"
	}
	if errors.Is(err, context.Canceled) {
		return false, "canceled"
	}

	// JSON decode errors - 不可重试（数据格式错误）
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		return false, "decode_error"
	}
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		return false, "decode_error"
	}

	// HTTP 状态码：5xx 可重试，4xx 不可重试
	var sc StatusCoder
	if errors.As(err, &sc) {
		if sc.StatusCode() >= 500 {
			return true, "server_error"
		}
		return false, "client_error"
	}

	// Network errors - 可重试
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true, "timeout"
		}
		return true, "network_error"
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return true, "timeout"
		}
		return true, "network_error"
	}

	// 默认：未知错误，保守处理 - 不重试
	return false, "unknown"
}

// ErrorClass 只返回错误类别
func ErrorClass(err error) string {
	_, class := ClassifyError(err)
	return class
}
