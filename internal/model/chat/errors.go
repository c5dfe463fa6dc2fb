package chat

import (
	"errors"
	"fmt"
)

// ValidationError 表示必填字段缺失或格式不合法。
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Reason
	}
	return fmt.Sprintf("%s %s", e.Field, e.Reason)
}

// InferenceError 表示模型调用失败或返回了不可用的结果。
type InferenceError struct {
	Err error
}

func (e *InferenceError) Error() string {
	if e.Err == nil {
		return "inference failed"
	}
	return "inference failed: " + e.Err.Error()
}

func (e *InferenceError) Unwrap() error { return e.Err }

// MalformedRequestError 表示请求体无法解析为预期结构。
type MalformedRequestError struct {
	Err error
}

func (e *MalformedRequestError) Error() string {
	if e.Err == nil {
		return "malformed request"
	}
	return "malformed request: " + e.Err.Error()
}

func (e *MalformedRequestError) Unwrap() error { return e.Err }

// IsValidation reports whether err carries a ValidationError.
func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// IsInference reports whether err carries an InferenceError.
func IsInference(err error) bool {
	var target *InferenceError
	return errors.As(err, &target)
}

// IsMalformed reports whether err carries a MalformedRequestError.
func IsMalformed(err error) bool {
	var target *MalformedRequestError
	return errors.As(err, &target)
}
