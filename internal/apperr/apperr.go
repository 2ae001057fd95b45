// Package apperr defines the typed failures returned by the negotiation core.
package apperr

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeNotFound         Code = "NOT_FOUND"
	CodeForbidden        Code = "FORBIDDEN"
	CodeInvalidState     Code = "INVALID_STATE"
	CodeAlreadyReserved  Code = "ALREADY_RESERVED"
	CodeInvalidOffer     Code = "INVALID_OFFER"
	CodeOfferInvalidated Code = "OFFER_INVALIDATED"
	CodeSelfDealing      Code = "SELF_DEALING"
	CodeStorageFailure   Code = "STORAGE_FAILURE"
	CodeValidation       Code = "VALIDATION_ERROR"
	CodeUnauthorized     Code = "UNAUTHORIZED"
	CodeConflict         Code = "CONFLICT"
	CodeRateLimited      Code = "RATE_LIMITED"
	CodeInternal         Code = "INTERNAL_ERROR"
)

// Retry tells a caller what to do after a failure.
type Retry string

const (
	// RetryNever marks failures that stay invalid no matter how often they are repeated.
	RetryNever Retry = "never"
	// RetryLater marks transient failures; the same call may succeed later.
	RetryLater Retry = "later"
	// RetryRefetch marks failures caused by data that changed; re-read before retrying.
	RetryRefetch Retry = "refetch"
)

type Metadata struct {
	HTTPStatus    int
	Retry         Retry
	PublicMessage string
}

var metadataByCode = map[Code]Metadata{
	CodeNotFound:         {HTTPStatus: http.StatusNotFound, Retry: RetryNever, PublicMessage: "resource not found"},
	CodeForbidden:        {HTTPStatus: http.StatusForbidden, Retry: RetryNever, PublicMessage: "access denied"},
	CodeInvalidState:     {HTTPStatus: http.StatusConflict, Retry: RetryNever, PublicMessage: "action not valid for current status"},
	CodeAlreadyReserved:  {HTTPStatus: http.StatusConflict, Retry: RetryRefetch, PublicMessage: "item already has a pending negotiation"},
	CodeInvalidOffer:     {HTTPStatus: http.StatusUnprocessableEntity, Retry: RetryRefetch, PublicMessage: "offered item cannot be used"},
	CodeOfferInvalidated: {HTTPStatus: http.StatusConflict, Retry: RetryRefetch, PublicMessage: "offered item changed owner"},
	CodeSelfDealing:      {HTTPStatus: http.StatusUnprocessableEntity, Retry: RetryNever, PublicMessage: "cannot negotiate for your own item"},
	CodeStorageFailure:   {HTTPStatus: http.StatusServiceUnavailable, Retry: RetryLater, PublicMessage: "storage unavailable"},
	CodeValidation:       {HTTPStatus: http.StatusBadRequest, Retry: RetryNever, PublicMessage: "validation failed"},
	CodeUnauthorized:     {HTTPStatus: http.StatusUnauthorized, Retry: RetryNever, PublicMessage: "authentication required"},
	CodeConflict:         {HTTPStatus: http.StatusConflict, Retry: RetryNever, PublicMessage: "conflict detected"},
	CodeRateLimited:      {HTTPStatus: http.StatusTooManyRequests, Retry: RetryLater, PublicMessage: "rate limit exceeded"},
	CodeInternal:         {HTTPStatus: http.StatusInternalServerError, Retry: RetryLater, PublicMessage: "internal server error"},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Newf(code Code, format string, args ...any) *Error {
	return &Error{code: code, message: fmt.Sprintf(format, args...)}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.code, e.message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var target *Error
	if stdErrors.As(err, &target) {
		return target, true
	}
	return nil, false
}

// CodeOf returns the code of err, or CodeInternal when err is untyped.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	if e, ok := As(err); ok {
		return e.Code()
	}
	return CodeInternal
}

func Is(err error, code Code) bool {
	return err != nil && CodeOf(err) == code
}
