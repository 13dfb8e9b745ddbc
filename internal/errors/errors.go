package errors

import (
	stdErrors "errors"
	"fmt"
	"log/slog"
)

// Code 表示系统内的统一错误码。
type Code string

// Severity 描述错误的严重程度，决定日志级别与是否告警。
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// attributes 为错误码提供默认行为。
type attributes struct {
	Message   string
	Severity  Severity
	Retryable bool
	Alert     bool
}

const (
	CodeUnknown         Code = "UNKNOWN"
	CodeInvalidArgument Code = "INVALID_ARGUMENT"
	// CodeReadFailure 对应链上读取失败，缓存保持原值并在下一个 TTL 窗口重试。
	CodeReadFailure Code = "READ_FAILURE"
	// CodeWriteFailure 对应交易构建、签名或广播失败，下一个 tick 自动重试。
	CodeWriteFailure Code = "WRITE_FAILURE"
	// CodeTxReverted 表示交易已上链但执行失败。
	CodeTxReverted Code = "TX_REVERTED"
	CodeTimeout    Code = "TIMEOUT"
	// CodeConfigFailure 表示启动阶段无法解析地址、密钥或配置，进程立即退出。
	CodeConfigFailure Code = "CONFIG_FAILURE"
	// CodePolicyBlock 表示阈值已满足但前置条件不满足，并非错误。
	CodePolicyBlock  Code = "POLICY_BLOCK"
	CodeSinkFailure  Code = "SINK_FAILURE"
	CodeStoreFailure Code = "STORE_FAILURE"
)

var registry = map[Code]attributes{
	CodeUnknown: {
		Message:   "unknown error",
		Severity:  SeverityCritical,
		Retryable: false,
		Alert:     true,
	},
	CodeInvalidArgument: {
		Message:   "invalid argument",
		Severity:  SeverityInfo,
		Retryable: false,
		Alert:     false,
	},
	CodeReadFailure: {
		Message:   "chain read failed",
		Severity:  SeverityWarning,
		Retryable: true,
		Alert:     false,
	},
	CodeWriteFailure: {
		Message:   "transaction submission failed",
		Severity:  SeverityWarning,
		Retryable: true,
		Alert:     true,
	},
	CodeTxReverted: {
		Message:   "transaction reverted",
		Severity:  SeverityWarning,
		Retryable: true,
		Alert:     true,
	},
	CodeTimeout: {
		Message:   "operation timed out",
		Severity:  SeverityWarning,
		Retryable: true,
		Alert:     true,
	},
	CodeConfigFailure: {
		Message:   "invalid configuration",
		Severity:  SeverityCritical,
		Retryable: false,
		Alert:     true,
	},
	CodePolicyBlock: {
		Message:   "action blocked by policy",
		Severity:  SeverityInfo,
		Retryable: false,
		Alert:     false,
	},
	CodeSinkFailure: {
		Message:   "notification sink failure",
		Severity:  SeverityWarning,
		Retryable: true,
		Alert:     false,
	},
	CodeStoreFailure: {
		Message:   "snapshot store failure",
		Severity:  SeverityWarning,
		Retryable: true,
		Alert:     false,
	},
}

// attributesOf 返回错误码对应的属性。若未注册则返回 UNKNOWN 的属性。
func attributesOf(code Code) attributes {
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
}

// Option 定义可选配置。
type Option func(*Error)

// WithMetadata 附加额外信息，例如账户地址或类别。
func WithMetadata(key, value string) Option {
	return func(e *Error) {
		if e.metadata == nil {
			e.metadata = make(map[string]string)
		}
		e.metadata[key] = value
	}
}

// New 创建一个新的错误实例。
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

// Error 实现 error 接口。
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("[%s] %s", e.code, e.message)
}

// Unwrap 实现 errors.Unwrap。
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is 允许通过 errors.Is 判断是否相同错误码。
func (e *Error) Is(target error) bool {
	if e == nil || target == nil {
		return false
	}
	t, ok := target.(*Error)
	if !ok {
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

// Message 返回错误信息。
func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

// Metadata 返回附加信息的副本。
func (e *Error) Metadata() map[string]string {
	if e == nil || len(e.metadata) == 0 {
		return nil
	}
	clone := make(map[string]string, len(e.metadata))
	for k, v := range e.metadata {
		clone[k] = v
	}
	return clone
}

// Retryable 判断是否可重试。
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	return attributesOf(e.code).Retryable
}

// ShouldAlert 判断是否需要告警。
func (e *Error) ShouldAlert() bool {
	if e == nil {
		return false
	}
	return attributesOf(e.code).Alert
}

// Severity 返回错误严重程度。
func (e *Error) Severity() Severity {
	if e == nil {
		return SeverityInfo
	}
	return attributesOf(e.code).Severity
}

// From 尝试从 error 中解析统一错误类型。
func From(err error) (*Error, bool) {
	if err == nil {
		return nil, false
	}
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf 返回错误对应的错误码。
func CodeOf(err error) Code {
	if e, ok := From(err); ok {
		return e.Code()
	}
	return CodeUnknown
}

// Is 判断任意 error 链中是否存在指定错误码。
func Is(err error, code Code) bool {
	return CodeOf(err) == code
}

// RetryableError 判断任意 error 是否可重试。
func RetryableError(err error) bool {
	if e, ok := From(err); ok {
		return e.Retryable()
	}
	return false
}

// ShouldAlert 判断是否需要触发告警。
func ShouldAlert(err error) bool {
	if e, ok := From(err); ok {
		return e.ShouldAlert()
	}
	return false
}

// SeverityOf 返回错误严重程度。
func SeverityOf(err error) Severity {
	if e, ok := From(err); ok {
		return e.Severity()
	}
	return attributesOf(CodeUnknown).Severity
}

// LogLevel 把错误严重程度映射为 slog 日志级别。
func LogLevel(err error) slog.Level {
	switch SeverityOf(err) {
	case SeverityInfo:
		return slog.LevelInfo
	case SeverityWarning:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
