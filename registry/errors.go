package registry

import goa "goa.design/goa/v3/pkg"

// Error names surfaced on the wire, mirroring the conventions the rest of
// the fabric uses for service errors (see plugin.ValidationIssues).
const (
	errNameNotFound           = "not_found"
	errNameValidation         = "validation_error"
	errNameServiceUnavailable = "service_unavailable"
)

// MakeNotFound wraps err as a non-retryable not-found service error.
func MakeNotFound(err error) error {
	return goa.NewServiceError(err, errNameNotFound, false, false, false)
}

// MakeValidationError wraps err as a non-retryable validation service error.
func MakeValidationError(err error) error {
	return goa.NewServiceError(err, errNameValidation, false, false, false)
}

// MakeServiceUnavailable wraps err as a temporary service error eligible for retry.
func MakeServiceUnavailable(err error) error {
	return goa.NewServiceError(err, errNameServiceUnavailable, true, true, false)
}
