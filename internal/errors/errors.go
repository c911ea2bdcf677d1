// Package errors provides structured error handling with machine-readable codes.
package errors

import (
	"errors"
	"net/http"
)

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Distribution errors
	CodeDistributionTitleEmpty        Code = "DISTRIBUTION_TITLE_EMPTY"
	CodeDistributionContentEmpty      Code = "DISTRIBUTION_CONTENT_EMPTY"
	CodeDistributionTrustRangeInvalid Code = "DISTRIBUTION_TRUST_RANGE_INVALID"

	// Claim errors
	CodeClaimEmptyDistributionID Code = "CLAIM_EMPTY_DISTRIBUTION_ID"
	CodeClaimInvalidItemIndex    Code = "CLAIM_INVALID_ITEM_INDEX"

	// Session errors
	CodeSessionTokenEmpty Code = "SESSION_TOKEN_EMPTY"

	// Storage errors
	CodeNotFound      Code = "NOT_FOUND"
	CodeAlreadyExists Code = "ALREADY_EXISTS"
)

// Error is the domain error type with structured metadata.
type Error struct {
	Code    Code   // Machine-readable error code
	Message string // Internal message (for logs)
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// Is reports whether target matches this error by code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates a simple domain error with a code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:    code,
		Message: message,
	}
}

// CodeOf extracts the error code from an error chain, or CodeUnknown.
func CodeOf(err error) Code {
	var domainErr *Error
	if errors.As(err, &domainErr) {
		return domainErr.Code
	}
	return CodeUnknown
}

// HTTPStatus maps an error chain to the HTTP status surfaced to browsers.
func HTTPStatus(err error) int {
	switch CodeOf(err) {
	case CodeNotFound:
		return http.StatusNotFound
	case CodeAlreadyExists:
		return http.StatusConflict
	case CodeDistributionTitleEmpty,
		CodeDistributionContentEmpty,
		CodeDistributionTrustRangeInvalid,
		CodeClaimEmptyDistributionID,
		CodeClaimInvalidItemIndex,
		CodeSessionTokenEmpty:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
