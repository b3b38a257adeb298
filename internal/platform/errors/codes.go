// Package errors provides structured, coded errors for request boundaries.
package errors

import "net/http"

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Submission shape errors
	CodeShapeInvalid      Code = "SHAPE_INVALID"
	CodeProjectIDRequired Code = "PROJECT_ID_REQUIRED"
	CodeUserIDRequired    Code = "USER_ID_REQUIRED"
	CodeBatchEmpty        Code = "BATCH_EMPTY"
	CodeBatchTooLarge     Code = "BATCH_TOO_LARGE"

	// Storage errors
	CodeNotFound Code = "NOT_FOUND"

	// Internal errors
	CodeInternal Code = "INTERNAL"
)

// HTTPStatus maps domain codes to HTTP status codes.
func (c Code) HTTPStatus() int {
	switch c {
	case CodeShapeInvalid,
		CodeProjectIDRequired,
		CodeUserIDRequired,
		CodeBatchEmpty:
		return http.StatusBadRequest

	case CodeBatchTooLarge:
		return http.StatusRequestEntityTooLarge

	case CodeNotFound:
		return http.StatusNotFound

	default:
		return http.StatusInternalServerError
	}
}
