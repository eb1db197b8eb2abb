// Package apperrors defines the structured error codes returned by the
// scheduling API and their HTTP status mapping.
package apperrors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of application error. Codes are part of the
// public API contract and appear verbatim in error responses.
type Code string

const (
	CodeUnauthorized         Code = "UNAUTHORIZED"
	CodeValidation           Code = "VALIDATION_ERROR"
	CodeAccessDenied         Code = "ACCESS_DENIED"
	CodeNotFound             Code = "NOT_FOUND"
	CodeDoctorNotFound       Code = "DOCTOR_NOT_FOUND"
	CodePatientNotFound      Code = "PATIENT_NOT_FOUND"
	CodeAppointmentConflict  Code = "APPOINTMENT_CONFLICT"
	CodeInvalidTransition    Code = "INVALID_TRANSITION"
	CodeCreation             Code = "CREATION_ERROR"
	CodeInternal             Code = "INTERNAL_ERROR"
	CodeAuthExpired          Code = "AUTH_EXPIRED"
	CodeCalendarNotConnected Code = "CALENDAR_NOT_CONNECTED"
	CodeExternal             Code = "EXTERNAL_ERROR"
)

// Error is an application error carrying a stable code, a human readable
// message, optional structured details and an optional wrapped cause.
type Error struct {
	Code    Code
	Message string
	Details any
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// WithDetails returns a copy of e carrying the given details payload.
func (e *Error) WithDetails(details any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap creates an error with the given code and message wrapping err.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

func Unauthorized(message string) *Error { return New(CodeUnauthorized, message) }

func Validation(message string) *Error { return New(CodeValidation, message) }

func Validationf(format string, args ...any) *Error {
	return New(CodeValidation, fmt.Sprintf(format, args...))
}

func AccessDenied(message string) *Error { return New(CodeAccessDenied, message) }

func NotFound(message string) *Error { return New(CodeNotFound, message) }

func DoctorNotFound() *Error { return New(CodeDoctorNotFound, "doctor not found in clinic") }

func PatientNotFound() *Error { return New(CodePatientNotFound, "patient not found in clinic") }

func Conflict(message string) *Error { return New(CodeAppointmentConflict, message) }

func InvalidTransition(from, to string) *Error {
	return New(CodeInvalidTransition, fmt.Sprintf("cannot transition appointment from %s to %s", from, to))
}

func Creation(err error) *Error { return Wrap(CodeCreation, "failed to create appointment", err) }

func Internal(err error) *Error { return Wrap(CodeInternal, "internal error", err) }

func AuthExpired(message string, err error) *Error { return Wrap(CodeAuthExpired, message, err) }

// As extracts an *Error from the chain of err.
func As(err error) (*Error, bool) {
	var ae *Error
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}

// CodeOf returns the code of the first *Error in err's chain, or
// CodeInternal when there is none.
func CodeOf(err error) Code {
	if ae, ok := As(err); ok {
		return ae.Code
	}
	return CodeInternal
}

// Is reports whether err carries the given code.
func Is(err error, code Code) bool {
	if err == nil {
		return false
	}
	ae, ok := As(err)
	return ok && ae.Code == code
}

// HTTPStatus maps a code to its HTTP status.
func HTTPStatus(code Code) int {
	switch code {
	case CodeUnauthorized, CodeAuthExpired:
		return http.StatusUnauthorized
	case CodeValidation:
		return http.StatusBadRequest
	case CodeAccessDenied:
		return http.StatusForbidden
	case CodeNotFound, CodeDoctorNotFound, CodePatientNotFound, CodeCalendarNotConnected:
		return http.StatusNotFound
	case CodeAppointmentConflict, CodeInvalidTransition:
		return http.StatusConflict
	case CodeExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// Response is the JSON envelope for error responses.
type Response struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ToResponse converts err into a response envelope and HTTP status.
// Internal causes are never exposed in the message.
func ToResponse(err error) (int, Response) {
	ae, ok := As(err)
	if !ok {
		return http.StatusInternalServerError, Response{Code: CodeInternal, Message: "internal error"}
	}
	return HTTPStatus(ae.Code), Response{Code: ae.Code, Message: ae.Message, Details: ae.Details}
}
