// Package response HTTP 响应辅助：统一的 JSON 输出、错误体和请求 ID 透传。
package response

import (
	"encoding/json"
	"net/http"
	"strings"

	apperrors "github.com/plazmica10/fitness-center/pkg/errors"
)

// RequestIDFromRequest reads the propagated request ID header, if any.
func RequestIDFromRequest(r *http.Request) string {
	if r == nil {
		return ""
	}
	id := strings.TrimSpace(r.Header.Get("X-Request-ID"))
	if id == "" {
		id = strings.TrimSpace(r.Header.Get("X-Request-Id"))
	}
	return id
}

// WriteJSON writes payload as JSON with the given status code.
func WriteJSON(w http.ResponseWriter, status int, payload interface{}) {
	encode(w, status, payload)
}

// WriteError 输出结构化错误体，HTTP 状态由错误码决定。
func WriteError(w http.ResponseWriter, r *http.Request, err *apperrors.Error) {
	if w == nil || err == nil {
		return
	}
	body := *err
	if id := RequestIDFromRequest(r); id != "" {
		body.RequestID = id
	}
	encode(w, body.HTTPStatus(), &body)
}

// WriteErrorCode is WriteError for a code and message without a prebuilt error.
func WriteErrorCode(w http.ResponseWriter, r *http.Request, code apperrors.Code, message string) {
	WriteError(w, r, apperrors.New(code, message))
}

// WriteStatusError 指定 HTTP 状态输出错误体，用于 405 这类与错误码默认映射不同的场景。
func WriteStatusError(w http.ResponseWriter, r *http.Request, status int, code apperrors.Code, message string) {
	if w == nil {
		return
	}
	body := *apperrors.New(code, message)
	if id := RequestIDFromRequest(r); id != "" {
		body.RequestID = id
	}
	encode(w, status, &body)
}

func encode(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
