package validate

import (
	stderrors "errors"
	"net/mail"
	"regexp"
	"strings"

	apperrors "github.com/plazmica10/fitness-center/pkg/errors"
)

var (
	uuidRe              = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	emailSimpleStrictRe = regexp.MustCompile(`^[A-Za-z0-9.!#$%&'*+/=?^_` + "`" + `{|}~-]+@[A-Za-z0-9-]+(\.[A-Za-z0-9-]+)+$`)
)

// UUID 校验 UUID 格式的资源 ID
func UUID(field, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return apperrors.Newf(apperrors.CodeInvalidParam, "%s is required", field)
	}
	if !uuidRe.MatchString(value) {
		return apperrors.Newf(apperrors.CodeInvalidParam, "invalid %s: %q (expected UUID)", field, value)
	}
	return nil
}

// AmountCents 校验金额（整数分，必须 > 0）
func AmountCents(amount int64) error {
	if amount <= 0 {
		return apperrors.Newf(apperrors.CodeInvalidParam, "invalid amount: %d (must be > 0 cents)", amount)
	}
	return nil
}

// Capacity 校验课程容量（0 表示不限容量）
func Capacity(capacity int) error {
	if capacity < 0 {
		return apperrors.Newf(apperrors.CodeInvalidParam, "invalid capacity: %d (must be >= 0)", capacity)
	}
	return nil
}

// TimeRange 校验时间区间（Unix 毫秒，半开区间 [start, end)）
func TimeRange(startMs, endMs int64) error {
	if startMs <= 0 || endMs <= 0 {
		return apperrors.New(apperrors.CodeInvalidParam, "startTime and endTime are required")
	}
	if startMs >= endMs {
		return apperrors.Newf(apperrors.CodeInvalidParam, "invalid time range: start %d >= end %d", startMs, endMs)
	}
	return nil
}

// Email 校验邮箱格式
func Email(email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return apperrors.New(apperrors.CodeInvalidParam, "email is required")
	}
	if len(email) > 254 || strings.ContainsAny(email, " \t\r\n") {
		return apperrors.Newf(apperrors.CodeInvalidParam, "invalid email: %q", email)
	}
	if _, err := mail.ParseAddress(email); err != nil || !emailSimpleStrictRe.MatchString(email) {
		return apperrors.Newf(apperrors.CodeInvalidParam, "invalid email: %q", email)
	}
	return nil
}

type ValidationError struct {
	Field   string
	Code    apperrors.Code
	Message string
}

type Validator struct {
	errors []ValidationError
}

func New() *Validator {
	return &Validator{}
}

func (v *Validator) add(field string, err error) *Validator {
	if err == nil {
		return v
	}
	var ce *apperrors.Error
	if ok := stderrors.As(err, &ce); ok && ce != nil {
		v.errors = append(v.errors, ValidationError{Field: field, Code: ce.Code, Message: ce.Message})
		return v
	}
	v.errors = append(v.errors, ValidationError{Field: field, Code: apperrors.CodeInvalidParam, Message: err.Error()})
	return v
}

func (v *Validator) UUID(field, value string) *Validator {
	return v.add(field, UUID(field, value))
}

func (v *Validator) AmountCents(field string, value int64) *Validator {
	return v.add(field, AmountCents(value))
}

func (v *Validator) Capacity(field string, value int) *Validator {
	return v.add(field, Capacity(value))
}

func (v *Validator) TimeRange(field string, startMs, endMs int64) *Validator {
	return v.add(field, TimeRange(startMs, endMs))
}

func (v *Validator) Email(field, value string) *Validator {
	return v.add(field, Email(value))
}

func (v *Validator) Required(field, value string) *Validator {
	if strings.TrimSpace(value) == "" {
		return v.add(field, apperrors.Newf(apperrors.CodeInvalidParam, "%s is required", field))
	}
	return v
}

func (v *Validator) Errors() []ValidationError {
	out := make([]ValidationError, len(v.errors))
	copy(out, v.errors)
	return out
}

func (v *Validator) HasErrors() bool {
	return len(v.errors) > 0
}

func (v *Validator) FirstError() *ValidationError {
	if len(v.errors) == 0 {
		return nil
	}
	return &v.errors[0]
}
