package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrCode represents an error code
type ErrCode string

const (
	ErrCodeAuth        ErrCode = "AUTH_ERROR"
	ErrCodeRateLimited ErrCode = "RATE_LIMITED"
	ErrCodeAPI         ErrCode = "API_ERROR"
	ErrCodeTimeout     ErrCode = "TIMEOUT"
	ErrCodeConfig      ErrCode = "CONFIG_ERROR"
	ErrCodeSink        ErrCode = "SINK_ERROR"
	ErrCodeNotFound    ErrCode = "NOT_FOUND"
	ErrCodeBadRequest  ErrCode = "BAD_REQUEST"
	ErrCodeInternal    ErrCode = "INTERNAL_ERROR"
)

// AppError represents an application error
type AppError struct {
	Code    ErrCode
	Message string
	Err     error

	// StatusCode and Path are set for errors produced by a GitHub API call.
	StatusCode int
	Path       string
}

func (e *AppError) Error() string {
	msg := e.Message
	if e.StatusCode != 0 {
		msg = fmt.Sprintf("%s [%d %s]", msg, e.StatusCode, e.Path)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Code, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, msg)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAuthError creates a credential error. Auth errors abort the whole run.
func NewAuthError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeAuth,
		Message: message,
		Err:     err,
	}
}

// NewRateLimitedError creates a new rate limited error
func NewRateLimitedError(message string, path string) *AppError {
	return &AppError{
		Code:       ErrCodeRateLimited,
		Message:    message,
		StatusCode: 429,
		Path:       path,
	}
}

// NewAPIError creates an error for a non-retryable GitHub response
func NewAPIError(status int, path, message string, err error) *AppError {
	return &AppError{
		Code:       ErrCodeAPI,
		Message:    message,
		Err:        err,
		StatusCode: status,
		Path:       path,
	}
}

// NewTimeoutError creates a new timeout error
func NewTimeoutError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeTimeout,
		Message: message,
		Err:     err,
	}
}

// NewConfigError creates a new configuration error
func NewConfigError(field, message string) *AppError {
	return &AppError{
		Code:    ErrCodeConfig,
		Message: fmt.Sprintf("%s: %s", field, message),
	}
}

// NewSinkError creates a new result sink error
func NewSinkError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeSink,
		Message: message,
		Err:     err,
	}
}

// NewNotFoundError creates a new not found error
func NewNotFoundError(resource string) *AppError {
	return &AppError{
		Code:    ErrCodeNotFound,
		Message: fmt.Sprintf("%s not found", resource),
	}
}

// NewInternalError creates a new internal error
func NewInternalError(message string, err error) *AppError {
	return &AppError{
		Code:    ErrCodeInternal,
		Message: message,
		Err:     err,
	}
}

// NewBadRequestError creates a new bad request error
func NewBadRequestError(message string) *AppError {
	return &AppError{
		Code:    ErrCodeBadRequest,
		Message: message,
	}
}

// CodeOf returns the code of the first AppError in err's chain, or INTERNAL_ERROR.
func CodeOf(err error) ErrCode {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrCodeInternal
}

func hasCode(err error, code ErrCode) bool {
	var appErr *AppError
	for err != nil {
		if !stderrors.As(err, &appErr) {
			return false
		}
		if appErr.Code == code {
			return true
		}
		err = appErr.Err
	}
	return false
}

// IsAuth checks if the error is a credential error
func IsAuth(err error) bool {
	return hasCode(err, ErrCodeAuth)
}

// IsRateLimited checks if the error is a rate limited error
func IsRateLimited(err error) bool {
	return hasCode(err, ErrCodeRateLimited)
}

// IsAPI checks if the error is a GitHub API error
func IsAPI(err error) bool {
	return hasCode(err, ErrCodeAPI)
}

// IsTimeout checks if the error is a timeout error
func IsTimeout(err error) bool {
	return hasCode(err, ErrCodeTimeout)
}

// IsConfig checks if the error is a configuration error
func IsConfig(err error) bool {
	return hasCode(err, ErrCodeConfig)
}

// IsSink checks if the error is a result sink error
func IsSink(err error) bool {
	return hasCode(err, ErrCodeSink)
}

// IsNotFound checks if the error is a not found error
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsFatal reports whether err must abort the whole run rather than a single repository.
func IsFatal(err error) bool {
	return IsAuth(err) || IsConfig(err)
}

// StatusOf returns the HTTP status carried by an API error, or 0.
func StatusOf(err error) int {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.StatusCode
	}
	return 0
}
