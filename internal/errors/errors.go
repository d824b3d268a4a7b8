package errors

import (
	stdErrors "errors"
	"fmt"
	"maps"
	"sync"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，用于告警和审计。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

const (
	CodeUnknown               Code = "UNKNOWN"
	CodeInvalidArgument       Code = "INVALID_ARGUMENT"
	CodeNotFound              Code = "NOT_FOUND"
	CodeConflict              Code = "CONFLICT"
	CodeUnauthenticated       Code = "UNAUTHENTICATED"
	CodeInitializationFailure Code = "INITIALIZATION_FAILURE"
	CodeStorageFailure        Code = "STORAGE_FAILURE"
	CodeModelFailure          Code = "MODEL_FAILURE"
	CodeTimeout               Code = "TIMEOUT"
)

// Attributes 为错误码提供默认行为。
// Recoverable 的错误以文本形式交还给模型，其余错误中止当前对话。
type Attributes struct {
	Message     string
	Severity    Severity
	Recoverable bool
	Alert       bool
}

var (
	registryMu sync.RWMutex
	registry   = map[Code]Attributes{}
)

func init() {
	Register(CodeUnknown, Attributes{Message: "unknown error", Severity: SeverityCritical, Alert: true})
	Register(CodeInvalidArgument, Attributes{Message: "invalid argument", Severity: SeverityInfo, Recoverable: true})
	Register(CodeNotFound, Attributes{Message: "resource not found", Severity: SeverityInfo})
	Register(CodeConflict, Attributes{Message: "resource conflict", Severity: SeverityWarning})
	Register(CodeUnauthenticated, Attributes{Message: "authentication required", Severity: SeverityInfo, Recoverable: true})
	Register(CodeInitializationFailure, Attributes{Message: "service not initialized", Severity: SeverityWarning, Alert: true})
	Register(CodeStorageFailure, Attributes{Message: "storage failure", Severity: SeverityCritical, Alert: true})
	Register(CodeModelFailure, Attributes{Message: "language model failure", Severity: SeverityWarning, Alert: true})
	Register(CodeTimeout, Attributes{Message: "operation timed out", Severity: SeverityWarning, Alert: true})
}

// Register 允许业务模块在初始化阶段注册错误码。
func Register(code Code, attr Attributes) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[code] = attr
}

// attributesOf 返回错误码对应的属性，未注册时回落到 UNKNOWN。
func attributesOf(code Code) Attributes {
	registryMu.RLock()
	defer registryMu.RUnlock()
	if attr, ok := registry[code]; ok {
		return attr
	}
	return registry[CodeUnknown]
}

// Error 是系统内统一的错误类型。
type Error struct {
	code     Code
	message  string
	cause    error
	metadata map[string]string
	alert    *bool
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// WithAlert 覆盖错误码默认的告警行为。
func WithAlert(alert bool) Option {
	return func(e *Error) {
		e.alert = &alert
	}
}

// New 创建错误，message 为空时使用注册的默认信息。
func New(code Code, message string, opts ...Option) *Error {
	if message == "" {
		message = attributesOf(code).Message
	}
	e := &Error{code: code, message: message}
	for _, opt := range opts {
		if opt != nil {
			opt(e)
		}
	}
	return e
}

// Wrap 在已有错误外包裹统一错误类型。
func Wrap(code Code, cause error, message string, opts ...Option) *Error {
	e := New(code, message, opts...)
	e.cause = cause
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 按错误码比较，哨兵错误因此不必是同一实例。
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if e == nil || !ok || t == nil {
		return false
	}
	return e.code == t.code
}

// Code 返回错误码。
func (e *Error) Code() Code {
	if e == nil {
		return CodeUnknown
	}
	return e.code
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	return maps.Clone(e.metadata)
}

// From 尝试从 error 链中取出统一错误类型。
func From(err error) (*Error, bool) {
	var target *Error
	if err == nil || !stdErrors.As(err, &target) {
		return nil, false
	}
	return target, true
}

// CodeOf 返回错误对应的错误码，非统一错误返回 UNKNOWN。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.code
	}
	return CodeUnknown
}

// Render 返回交给模型或终端用户的文本，只包含错误信息而不暴露内部原因。
func Render(err error) string {
	if err == nil {
		return ""
	}
	if e, ok := From(err); ok {
		return e.message
	}
	return err.Error()
}

// Recoverable 判断错误能否作为文本交还给模型。
func Recoverable(err error) bool {
	if e, ok := From(err); ok {
		return attributesOf(e.code).Recoverable
	}
	return false
}

// ShouldAlert 判断是否需要触发告警。
func ShouldAlert(err error) bool {
	e, ok := From(err)
	if !ok {
		return false
	}
	if e.alert != nil {
		return *e.alert
	}
	return attributesOf(e.code).Alert
}

// SeverityOf 返回错误严重程度。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return attributesOf(e.code).Severity
	}
	return attributesOf(CodeUnknown).Severity
}
