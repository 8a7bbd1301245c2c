package errors

import (
	"errors"
	"net/http"
	"strings"
)

type ErrCode string

const (
	ErrCodeNotFound       ErrCode = "NotFound"
	ErrCodeServiceFailure ErrCode = "ServiceFailure"
	ErrCodeBadInput       ErrCode = "BadRequest"
	ErrCodeOversized      ErrCode = "Oversized"
	// client side
	ErrCodeCapabilityUnavailable ErrCode = "CapabilityUnavailable"
	ErrCodePermissionDenied      ErrCode = "PermissionDenied"
	ErrCodeInvalidState          ErrCode = "InvalidState"
	ErrCodeUploadFailure         ErrCode = "UploadFailure"
	ErrCodeListingFailure        ErrCode = "ListingFailure"
)

type Err struct {
	Code  ErrCode
	msg   string
	cause error
}

func (e *Err) Error() string {
	return e.msg
}

// Trace returns the chain of error messages leading to e, one cause per line
func (e *Err) Trace() string {
	b := &strings.Builder{}
	b.WriteString(e.msg)
	depth := 1
	for err := errors.Unwrap(e); err != nil; err = errors.Unwrap(err) {
		b.WriteString("\n")
		b.WriteString(strings.Repeat("\t", depth))
		b.WriteString("Caused by: ")
		b.WriteString(err.Error())
		depth++
	}
	return b.String()
}

func (e *Err) Unwrap() error {
	return e.cause
}

func (e *Err) WithCause(c error) *Err {
	e.cause = c
	return e
}

func (e *Err) WithMsg(m string) *Err {
	e.msg = m
	return e
}

// prefer NewXxx(msg).WithCause(cause) over NewXxx(msg, cause) since the latter's signature has less
// readability - user needs to look up docs to know the 2nd param is for cause
func newErr(c ErrCode, m string) *Err {
	return &Err{Code: c, msg: m}
}

func NewServiceFailure(m string) *Err { return newErr(ErrCodeServiceFailure, m) }

func NewNotFound(m string) *Err { return newErr(ErrCodeNotFound, m) }

func NewBadInput(m string) *Err { return newErr(ErrCodeBadInput, m) }

func NewOversized() *Err { return newErr(ErrCodeOversized, "data oversized") }

func NewCapabilityUnavailable(m string) *Err { return newErr(ErrCodeCapabilityUnavailable, m) }

func NewPermissionDenied(m string) *Err { return newErr(ErrCodePermissionDenied, m) }

func NewInvalidState(m string) *Err { return newErr(ErrCodeInvalidState, m) }

func NewUploadFailure(m string) *Err { return newErr(ErrCodeUploadFailure, m) }

func NewListingFailure(m string) *Err { return newErr(ErrCodeListingFailure, m) }

// HasCode reports whether any *Err in err's chain carries code c
func HasCode(err error, c ErrCode) bool {
	for err != nil {
		if e, ok := err.(*Err); ok && e.Code == c {
			return true
		}
		err = errors.Unwrap(err)
	}
	return false
}

// StatusCode returns the http response status code associated with the Err value
func (e *Err) StatusCode() int {
	switch e.Code {
	case ErrCodeNotFound:
		return http.StatusNotFound
	case ErrCodeBadInput:
		return http.StatusBadRequest
	case ErrCodeOversized:
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}
