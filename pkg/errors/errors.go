// Package errors 定义统一错误码
package errors

import (
	"fmt"
	"net/http"
)

// Code 错误码
type Code string

// 错误码定义
const (
	// 通用错误
	CodeOK           Code = "OK"
	CodeUnknown      Code = "UNKNOWN"
	CodeInvalidParam Code = "INVALID_PARAM"
	CodeNotFound     Code = "NOT_FOUND"
	CodeInternal     Code = "INTERNAL"
	CodeUnavailable  Code = "UNAVAILABLE"
	CodeTimeout      Code = "TIMEOUT"

	// 课程与预约
	CodeClassNotFound       Code = "CLASS_NOT_FOUND"
	CodeClassEnded          Code = "CLASS_ENDED"
	CodeClassFull           Code = "CLASS_FULL"
	CodeDuplicateBooking    Code = "DUPLICATE_BOOKING"
	CodeScheduleConflict    Code = "SCHEDULE_CONFLICT"
	CodeRoomNotFound        Code = "ROOM_NOT_FOUND"
	CodeTrainerNotFound     Code = "TRAINER_NOT_FOUND"
	CodeTransactionNotFound Code = "TRANSACTION_NOT_FOUND"

	// 资金
	CodeInsufficientBalance Code = "INSUFFICIENT_BALANCE"
	CodeMemberNotFound      Code = "MEMBER_NOT_FOUND"
	CodeLedgerUnavailable   Code = "LEDGER_UNAVAILABLE"

	// 持久化与补偿
	CodeRecordStoreError   Code = "RECORD_STORE_ERROR"
	CodeCompensationFailed Code = "COMPENSATION_FAILED"
)

// Error 业务错误
type Error struct {
	Code      Code   `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable"`
	RequestID string `json:"requestId,omitempty"`
}

func (e *Error) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// New 创建错误
func New(code Code, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Retryable: isRetryable(code),
	}
}

// Newf 创建格式化错误
func Newf(code Code, format string, args ...interface{}) *Error {
	return New(code, fmt.Sprintf(format, args...))
}

// WithRequestID 添加请求 ID
func (e *Error) WithRequestID(requestID string) *Error {
	e.RequestID = requestID
	return e
}

// HTTPStatus 返回对应的 HTTP 状态码
func (e *Error) HTTPStatus() int {
	return httpStatus(e.Code)
}

// isRetryable 判断是否可重试
func isRetryable(code Code) bool {
	switch code {
	case CodeTimeout, CodeUnavailable, CodeLedgerUnavailable:
		return true
	default:
		return false
	}
}

// httpStatus 错误码对应的 HTTP 状态码
func httpStatus(code Code) int {
	switch code {
	case CodeOK:
		return http.StatusOK
	case CodeInvalidParam:
		return http.StatusBadRequest
	case CodeInsufficientBalance:
		return http.StatusPaymentRequired
	case CodeNotFound, CodeClassNotFound, CodeRoomNotFound,
		CodeTrainerNotFound, CodeTransactionNotFound, CodeMemberNotFound:
		return http.StatusNotFound
	case CodeDuplicateBooking, CodeScheduleConflict:
		return http.StatusConflict
	case CodeClassEnded, CodeClassFull:
		return http.StatusUnprocessableEntity
	case CodeInternal, CodeUnknown, CodeRecordStoreError, CodeCompensationFailed:
		return http.StatusInternalServerError
	case CodeUnavailable, CodeLedgerUnavailable:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

// 预定义错误
var (
	ErrInvalidParam        = New(CodeInvalidParam, "invalid parameter")
	ErrNotFound            = New(CodeNotFound, "not found")
	ErrClassNotFound       = New(CodeClassNotFound, "class not found")
	ErrClassEnded          = New(CodeClassEnded, "class already ended")
	ErrClassFull           = New(CodeClassFull, "class is full")
	ErrDuplicateBooking    = New(CodeDuplicateBooking, "member already booked this class")
	ErrInsufficientBalance = New(CodeInsufficientBalance, "insufficient balance")
	ErrLedgerUnavailable   = New(CodeLedgerUnavailable, "ledger service unavailable")
	ErrTransactionNotFound = New(CodeTransactionNotFound, "transaction not found")
)
