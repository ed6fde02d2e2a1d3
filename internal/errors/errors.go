package errors

import (
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

type Code codes.Code

const (
	CodeInvalidArgument = Code(codes.InvalidArgument)
	// CodeInvalidOperation marks a call that is valid in shape but not allowed in the current state,
	// e.g. answering in a finished game.
	CodeInvalidOperation = Code(codes.FailedPrecondition)
	CodeNotFound         = Code(codes.NotFound)
	CodeAlreadyExists    = Code(codes.AlreadyExists)
	CodeInternal         = Code(codes.Internal)
	CodeUnauthenticated  = Code(codes.Unauthenticated)
)

var code2http = map[Code]int{
	CodeInvalidArgument:  http.StatusBadRequest,
	CodeInvalidOperation: http.StatusConflict,
	CodeNotFound:         http.StatusNotFound,
	CodeAlreadyExists:    http.StatusConflict,
	CodeInternal:         http.StatusInternalServerError,
	CodeUnauthenticated:  http.StatusUnauthorized,
}

type Error struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	err     error
}

func New(code Code, opts ...Option) *Error {
	e := &Error{
		Code:    code,
		Message: codes.Code(code).String(),
	}

	for _, opt := range opts {
		opt.apply(e)
	}

	return e
}

// InvalidArgument is a shorthand for New(CodeInvalidArgument, WithMessagef(format, args...)).
func InvalidArgument(format string, args ...any) *Error {
	return New(CodeInvalidArgument, WithMessagef(format, args...))
}

// InvalidOperation is a shorthand for New(CodeInvalidOperation, WithMessagef(format, args...)).
func InvalidOperation(format string, args ...any) *Error {
	return New(CodeInvalidOperation, WithMessagef(format, args...))
}

// NotFound is a shorthand for New(CodeNotFound, WithMessagef(format, args...)).
func NotFound(format string, args ...any) *Error {
	return New(CodeNotFound, WithMessagef(format, args...))
}

func (e *Error) Error() string {
	s := fmt.Sprintf("code: %d, message: %s", e.Code, e.Message)
	if e.err != nil {
		s += fmt.Sprintf(", err: %s", e.err)
	}

	return s
}

func (e *Error) Unwrap() error {
	return e.err
}

func (e *Error) GRPCStatus() *status.Status {
	return status.New(codes.Code(e.Code), e.Message)
}

func (e *Error) HTTPStatusCode() int {
	if c, ok := code2http[e.Code]; ok {
		return c
	}

	return http.StatusInternalServerError
}

// Convert returns err as *Error, wrapping anything unknown as CodeInternal.
func Convert(err error) *Error {
	var e *Error
	if !errors.As(err, &e) {
		return Internal(err)
	}

	return e
}

// CodeOf reports the code carried by err. A nil error has no code and reports false.
func CodeOf(err error) (Code, bool) {
	if err == nil {
		return 0, false
	}

	return Convert(err).Code, true
}

// HasCode reports whether err carries the given code anywhere in its chain.
func HasCode(err error, code Code) bool {
	c, ok := CodeOf(err)
	return ok && c == code
}

func Internal(err error) *Error {
	return New(CodeInternal, WithCause(err))
}

type Option interface {
	apply(*Error)
}

type optionFunc func(*Error)

func (f optionFunc) apply(e *Error) {
	f(e)
}

func WithCause(err error) Option {
	return optionFunc(func(e *Error) {
		e.err = err
	})
}

func WithMessagef(format string, args ...any) Option {
	return optionFunc(func(e *Error) {
		e.Message = fmt.Sprintf(format, args...)
	})
}
