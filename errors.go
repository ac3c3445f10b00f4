package formulaengine

import "fmt"

// AppErrorCode is the library-contract error code, distinct from the
// in-cell ErrKind: it classifies failures of the host-facing API
// (addWorkbook, addTable, addNamedExpression, ...) rather than formula
// evaluation outcomes.
type AppErrorCode uint8

const (
	CodeOK AppErrorCode = iota
	CodeUnknown
	CodeInvalidArgument
	CodeNotFound
	CodeAlreadyExists
	CodeResourceExhausted
	CodeFailedPrecondition
	CodeOutOfRange
	CodeUnimplemented
	CodeInternal
)

func (c AppErrorCode) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeInvalidArgument:
		return "INVALID_ARGUMENT"
	case CodeNotFound:
		return "NOT_FOUND"
	case CodeAlreadyExists:
		return "ALREADY_EXISTS"
	case CodeResourceExhausted:
		return "RESOURCE_EXHAUSTED"
	case CodeFailedPrecondition:
		return "FAILED_PRECONDITION"
	case CodeOutOfRange:
		return "OUT_OF_RANGE"
	case CodeUnimplemented:
		return "UNIMPLEMENTED"
	case CodeInternal:
		return "INTERNAL"
	default:
		return "UNKNOWN"
	}
}

// AppError is the error type returned across the Engine's public API
// boundary. It never appears inside a cell; EngineError is the in-cell
// counterpart.
type AppError struct {
	Code    AppErrorCode
	Message string
	Cause   error
}

func NewAppError(code AppErrorCode, message string) *AppError {
	return &AppError{Code: code, Message: message}
}

func wrapAppError(code AppErrorCode, cause error) *AppError {
	return &AppError{Code: code, Message: cause.Error(), Cause: cause}
}

func (e *AppError) Error() string {
	if e.Message == "" {
		return e.Code.String()
	}
	return fmt.Sprintf("%s: %s", e.Code.String(), e.Message)
}

func (e *AppError) Unwrap() error { return e.Cause }
